package vault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/cyclopcam/logs"
)

// ErrSecretStoreUnavailable means the current platform offers no mechanism
// for protecting stored secrets. We fail closed: no plaintext fallback.
var ErrSecretStoreUnavailable = errors.New("Secure credential store not available on this platform")

// Cryptor protects credential blobs at rest. The concrete implementation is
// chosen at startup by platform probe: DPAPI on Windows, an owner-readable
// keyfile with AES-256-GCM elsewhere, and a fail-closed variant when neither
// can be provisioned.
type Cryptor interface {
	Encrypt(plain []byte) ([]byte, error)
	Decrypt(encrypted []byte) ([]byte, error)
}

// NewCryptor probes the platform and returns the best available Cryptor.
// The returned Cryptor is never nil; if no store can be provisioned, it is
// one whose operations fail with ErrSecretStoreUnavailable.
func NewCryptor(log logs.Log, keyPath string) Cryptor {
	return newPlatformCryptor(log, keyPath)
}

type unavailableCryptor struct{}

func (unavailableCryptor) Encrypt(plain []byte) ([]byte, error) {
	return nil, ErrSecretStoreUnavailable
}

func (unavailableCryptor) Decrypt(encrypted []byte) ([]byte, error) {
	return nil, ErrSecretStoreUnavailable
}

const gcmNonceSize = 12

// keyfileCryptor encrypts with AES-256-GCM under a random key held in a
// file readable only by the OS user running the server. The blob layout is
// nonce followed by ciphertext+tag.
type keyfileCryptor struct {
	key []byte
}

func newKeyfileCryptor(log logs.Log, keyPath string) Cryptor {
	key, err := loadOrCreateKey(keyPath)
	if err != nil {
		log.Errorf("Secret store unavailable (%v): %v", keyPath, err)
		return unavailableCryptor{}
	}
	return &keyfileCryptor{key: key}
}

func loadOrCreateKey(keyPath string) ([]byte, error) {
	if raw, err := os.ReadFile(keyPath); err == nil {
		if len(raw) != 32 {
			return nil, fmt.Errorf("key file is %v bytes, expected 32", len(raw))
		}
		return raw, nil
	}
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(keyPath), 0700); err != nil {
		return nil, err
	}
	if err := os.WriteFile(keyPath, key, 0600); err != nil {
		return nil, err
	}
	return key, nil
}

func (c *keyfileCryptor) Encrypt(plain []byte) ([]byte, error) {
	block, err := aes.NewCipher(c.key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, gcmNonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}
	return append(nonce, gcm.Seal(nil, nonce, plain, nil)...), nil
}

func (c *keyfileCryptor) Decrypt(encrypted []byte) ([]byte, error) {
	if len(encrypted) < gcmNonceSize {
		return nil, errors.New("encrypted blob too short")
	}
	block, err := aes.NewCipher(c.key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	return gcm.Open(nil, encrypted[:gcmNonceSize], encrypted[gcmNonceSize:], nil)
}
