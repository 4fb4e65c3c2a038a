package rando

import (
	"crypto/rand"
	"encoding/base64"
)

func StrongRandomBytes(nbytes int) []byte {
	buf := make([]byte, nbytes)
	if n, _ := rand.Read(buf[:]); n != nbytes {
		panic("Unable to read from crypto/rand")
	}
	return buf
}

// StrongRandomURLSafe returns the URL-safe base64 encoding (no padding) of
// nbytes of random data, suitable for use inside cookies.
func StrongRandomURLSafe(nbytes int) string {
	return base64.RawURLEncoding.EncodeToString(StrongRandomBytes(nbytes))
}
