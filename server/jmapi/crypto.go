package jmapi

import (
	"crypto/aes"
	"crypto/md5"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
)

// The upstream app API authenticates each request with an MD5 token derived
// from the request timestamp, and encrypts response payloads with AES-ECB
// under a key derived from the same timestamp.
const (
	tokenSecret   = "18comicAPP"
	payloadSecret = "185Hcomic3PAPP7R"
)

func md5Hex(s string) string {
	sum := md5.Sum([]byte(s))
	return hex.EncodeToString(sum[:])
}

// requestToken is the value of the "token" header for a request stamped ts.
func requestToken(ts int64) string {
	return md5Hex(fmt.Sprintf("%d%s", ts, tokenSecret))
}

// payloadKey is the 32-byte AES key for a response to a request stamped ts.
// The key bytes are the lowercase hex digest itself, not its decoding.
func payloadKey(ts int64) []byte {
	return []byte(md5Hex(fmt.Sprintf("%d%s", ts, payloadSecret)))
}

// decodePayload decrypts the base64 "data" field of a response envelope.
func decodePayload(encoded string, ts int64) ([]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("payload is not base64: %w", err)
	}
	block, err := aes.NewCipher(payloadKey(ts))
	if err != nil {
		return nil, err
	}
	bs := block.BlockSize()
	if len(raw) == 0 || len(raw)%bs != 0 {
		return nil, errors.New("payload length is not a block multiple")
	}
	plain := make([]byte, len(raw))
	for i := 0; i < len(raw); i += bs {
		block.Decrypt(plain[i:i+bs], raw[i:i+bs])
	}
	return stripPKCS7(plain, bs)
}

func stripPKCS7(b []byte, blockSize int) ([]byte, error) {
	n := int(b[len(b)-1])
	if n < 1 || n > blockSize || n > len(b) {
		return nil, errors.New("bad payload padding")
	}
	for _, c := range b[len(b)-n:] {
		if int(c) != n {
			return nil, errors.New("bad payload padding")
		}
	}
	return b[:len(b)-n], nil
}
