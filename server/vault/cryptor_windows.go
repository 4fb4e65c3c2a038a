//go:build windows

package vault

import (
	"unsafe"

	"github.com/cyclopcam/logs"
	"golang.org/x/sys/windows"
)

// On Windows we use DPAPI, which ties the blob to the OS user account, so
// there is no key material of our own to manage.
func newPlatformCryptor(log logs.Log, keyPath string) Cryptor {
	return dpapiCryptor{}
}

type dpapiCryptor struct{}

func (dpapiCryptor) Encrypt(plain []byte) ([]byte, error) {
	in := toBlob(plain)
	out := windows.DataBlob{}
	if err := windows.CryptProtectData(&in, nil, nil, 0, nil, 0, &out); err != nil {
		return nil, err
	}
	defer windows.LocalFree(windows.Handle(unsafe.Pointer(out.Data)))
	return copyBlob(&out), nil
}

func (dpapiCryptor) Decrypt(encrypted []byte) ([]byte, error) {
	in := toBlob(encrypted)
	out := windows.DataBlob{}
	if err := windows.CryptUnprotectData(&in, nil, nil, 0, nil, 0, &out); err != nil {
		return nil, err
	}
	defer windows.LocalFree(windows.Handle(unsafe.Pointer(out.Data)))
	return copyBlob(&out), nil
}

func toBlob(data []byte) windows.DataBlob {
	blob := windows.DataBlob{Size: uint32(len(data))}
	if len(data) != 0 {
		blob.Data = &data[0]
	}
	return blob
}

func copyBlob(blob *windows.DataBlob) []byte {
	return append([]byte{}, unsafe.Slice(blob.Data, blob.Size)...)
}
