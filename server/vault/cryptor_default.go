//go:build !windows

package vault

import "github.com/cyclopcam/logs"

func newPlatformCryptor(log logs.Log, keyPath string) Cryptor {
	return newKeyfileCryptor(log, keyPath)
}
