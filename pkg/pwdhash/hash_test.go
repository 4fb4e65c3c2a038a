package pwdhash

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHashRoundtrip(t *testing.T) {
	h := HashPassword("hunter22")
	require.True(t, VerifyHash("hunter22", h))
	require.False(t, VerifyHash("hunter23", h))
	require.False(t, VerifyHash("", h))
}

func TestHashIsSalted(t *testing.T) {
	h1 := HashPassword("same-password")
	h2 := HashPassword("same-password")
	require.NotEqual(t, h1, h2)
	require.True(t, VerifyHash("same-password", h1))
	require.True(t, VerifyHash("same-password", h2))
}

func TestVerifyMalformed(t *testing.T) {
	require.False(t, VerifyHash("x", nil))
	require.False(t, VerifyHash("x", []byte{1, 2, 3}))
	require.False(t, VerifyHashBase64("x", "!!! not base64 !!!"))
	require.False(t, VerifyHashBase64("x", ""))
}

func TestHashBase64(t *testing.T) {
	b64 := HashPasswordBase64("secret1")
	require.True(t, VerifyHashBase64("secret1", b64))
	require.False(t, VerifyHashBase64("secret2", b64))
}
