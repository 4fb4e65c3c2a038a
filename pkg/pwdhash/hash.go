package pwdhash

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"

	"golang.org/x/crypto/pbkdf2"
)

// Our hash is 1 byte of version, followed by 16 bytes of salt, followed by 32 bytes of PBKDF2-SHA256.

const hashVersion1 = 1
const saltSizeV1 = 16
const keySizeV1 = 32
const iterationsV1 = 200000
const hashLenV1 = 1 + saltSizeV1 + keySizeV1

// Returns a saltSizeV1 salt
func createSalt() []byte {
	s := [saltSizeV1]byte{}
	if n, _ := rand.Read(s[:]); n != saltSizeV1 {
		panic("Error creating password salt")
	}
	return s[:]
}

// Returns a hashLenV1 byte key
func hashPasswordWithSalt(salt []byte, password string) []byte {
	dk := pbkdf2.Key([]byte(password), salt, iterationsV1, keySizeV1, sha256.New)
	final := [hashLenV1]byte{}
	final[0] = hashVersion1
	copy(final[1:1+saltSizeV1], salt)
	copy(final[1+saltSizeV1:1+saltSizeV1+keySizeV1], dk)
	return final[:]
}

// Create a random salt, and return fully baked hash, of length hashLenV1
func HashPassword(password string) []byte {
	return hashPasswordWithSalt(createSalt(), password)
}

// Return base64 encoding of HashPassword
func HashPasswordBase64(password string) string {
	return base64.RawStdEncoding.EncodeToString(HashPassword(password))
}

// Returns true if a plaintext password matches a stored hash
func VerifyHash(password string, hash []byte) bool {
	if len(hash) != hashLenV1 || hash[0] != hashVersion1 {
		return false
	}
	salt := hash[1 : 1+saltSizeV1]
	dk := pbkdf2.Key([]byte(password), salt, iterationsV1, keySizeV1, sha256.New)
	return subtle.ConstantTimeCompare(dk, hash[1+saltSizeV1:1+saltSizeV1+keySizeV1]) == 1
}

// Returns true if a plaintext password matches a stored hash, in base64
func VerifyHashBase64(password string, hashb64 string) bool {
	raw, _ := base64.RawStdEncoding.DecodeString(hashb64)
	return VerifyHash(password, raw)
}
