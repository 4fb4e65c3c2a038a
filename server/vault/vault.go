// Package vault stores the remote-service credentials of each site user:
// multiple named remote accounts per user, passwords encrypted at rest,
// and an active-account pointer that selects which account an identity is
// bound to.
package vault

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/Tom6814/JM-Aura/server/identity"
	"github.com/cyclopcam/logs"
)

var (
	ErrAccountNotFound   = errors.New("Account not found")
	ErrMissingCredential = errors.New("Missing username or password")
)

type Account struct {
	Username    string `json:"username"`
	IsActive    bool   `json:"isActive"`
	HasPassword bool   `json:"hasPassword"`
}

type AccountList struct {
	Active   string    `json:"active"`
	Accounts []Account `json:"accounts"`
}

type accountRecord struct {
	PasswordEnc string `json:"password_enc"` // base64 of Cryptor output
}

type userBucket struct {
	Active   string                   `json:"active"`
	Accounts map[string]accountRecord `json:"accounts"`
}

type vaultFile struct {
	V     int                   `json:"v"`
	Users map[string]userBucket `json:"users"`
}

// legacy (v1) single-account-per-user shape
type legacyBucket struct {
	JmUsername  string `json:"jm_username"`
	PasswordEnc string `json:"password_enc"`
}

type Vault struct {
	log     logs.Log
	path    string
	cryptor Cryptor
	lock    sync.Mutex
}

func New(log logs.Log, path string, cryptor Cryptor) *Vault {
	return &Vault{
		log:     log,
		path:    path,
		cryptor: cryptor,
	}
}

func userKey(user string) string {
	u := strings.TrimSpace(user)
	if u == "" {
		return identity.Anonymous
	}
	return u
}

// load reads the store, migrating the legacy single-account format if the
// version tag says so. Corruption and migration failure both degrade to an
// empty store rather than an error.
func (v *Vault) load() vaultFile {
	empty := vaultFile{V: 2, Users: map[string]userBucket{}}
	raw, err := os.ReadFile(v.path)
	if err != nil {
		return empty
	}
	probe := struct {
		V int `json:"v"`
	}{}
	if err := json.Unmarshal(raw, &probe); err != nil {
		v.log.Warnf("Credential store %v unreadable, starting empty", v.path)
		return empty
	}
	if probe.V != 2 {
		f := v.migrateLegacy(raw)
		// Write the migrated shape right away so the migration runs once,
		// not on every load until some other mutation saves. A failed
		// migration yields no users and leaves the legacy file untouched.
		if len(f.Users) != 0 {
			if err := v.save(f); err != nil {
				v.log.Warnf("Failed to persist migrated credential store: %v", err)
			}
		}
		return f
	}
	f := vaultFile{}
	if err := json.Unmarshal(raw, &f); err != nil || f.Users == nil {
		v.log.Warnf("Credential store %v unreadable, starting empty", v.path)
		return empty
	}
	f.V = 2
	return f
}

// migrateLegacy transforms the v1 shape (one account per user) into v2.
// The legacy account becomes the sole entry and the active one. Runs only
// when a non-v2 file is loaded, so it is a no-op once a v2 file is written.
func (v *Vault) migrateLegacy(raw []byte) vaultFile {
	out := vaultFile{V: 2, Users: map[string]userBucket{}}
	legacy := struct {
		Users map[string]legacyBucket `json:"users"`
	}{}
	if err := json.Unmarshal(raw, &legacy); err != nil {
		v.log.Warnf("Legacy credential store migration failed, starting empty")
		return out
	}
	for user, b := range legacy.Users {
		nb := userBucket{Accounts: map[string]accountRecord{}}
		ju := strings.TrimSpace(b.JmUsername)
		if ju != "" {
			nb.Accounts[ju] = accountRecord{PasswordEnc: b.PasswordEnc}
			nb.Active = ju
		}
		out.Users[user] = nb
	}
	v.log.Infof("Migrated legacy credential store (%v users)", len(out.Users))
	return out
}

func (v *Vault) save(f vaultFile) error {
	f.V = 2
	raw, err := json.Marshal(&f)
	if err != nil {
		return err
	}
	os.MkdirAll(filepath.Dir(v.path), 0700)
	return os.WriteFile(v.path, raw, 0600)
}

func bucket(f *vaultFile, user string) userBucket {
	b, ok := f.Users[userKey(user)]
	if !ok || b.Accounts == nil {
		b.Accounts = map[string]accountRecord{}
	}
	return b
}

func sortedAccountNames(b userBucket) []string {
	names := make([]string, 0, len(b.Accounts))
	for name := range b.Accounts {
		if strings.TrimSpace(name) != "" {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// ListAccounts reports the user's stored remote accounts and which is active.
func (v *Vault) ListAccounts(user string) AccountList {
	v.lock.Lock()
	f := v.load()
	v.lock.Unlock()
	b := bucket(&f, user)
	out := AccountList{Active: b.Active, Accounts: []Account{}}
	for _, name := range sortedAccountNames(b) {
		rec := b.Accounts[name]
		out.Accounts = append(out.Accounts, Account{
			Username:    name,
			IsActive:    name == b.Active,
			HasPassword: strings.TrimSpace(rec.PasswordEnc) != "",
		})
	}
	return out
}

// SetCredentials encrypts and stores the password for one remote account,
// and makes that account the active one. Plaintext never touches disk.
func (v *Vault) SetCredentials(user, remoteUsername, password string) error {
	ju := strings.TrimSpace(remoteUsername)
	if ju == "" || password == "" {
		return ErrMissingCredential
	}
	enc, err := v.cryptor.Encrypt([]byte(password))
	if err != nil {
		return err
	}
	v.lock.Lock()
	defer v.lock.Unlock()
	f := v.load()
	b := bucket(&f, user)
	b.Accounts[ju] = accountRecord{PasswordEnc: base64.StdEncoding.EncodeToString(enc)}
	b.Active = ju
	f.Users[userKey(user)] = b
	return v.save(f)
}

// GetCredentials resolves a stored (username, password) pair: the explicit
// account if given, else the active one, else an arbitrary stored one.
// Returns empty strings when nothing is resolvable or decryption fails;
// "nothing to return" is not an error.
func (v *Vault) GetCredentials(user, remoteUsername string) (string, string) {
	v.lock.Lock()
	f := v.load()
	v.lock.Unlock()
	b := bucket(&f, user)
	ju := strings.TrimSpace(remoteUsername)
	if ju == "" {
		ju = b.Active
	}
	if ju == "" {
		if names := sortedAccountNames(b); len(names) != 0 {
			ju = names[0]
		}
	}
	if ju == "" {
		return "", ""
	}
	rec, ok := b.Accounts[ju]
	if !ok || strings.TrimSpace(rec.PasswordEnc) == "" {
		return "", ""
	}
	enc, err := base64.StdEncoding.DecodeString(rec.PasswordEnc)
	if err != nil {
		return "", ""
	}
	plain, err := v.cryptor.Decrypt(enc)
	if err != nil {
		return "", ""
	}
	return ju, string(plain)
}

// ActiveUsername returns the active remote account name, or "".
func (v *Vault) ActiveUsername(user string) string {
	v.lock.Lock()
	f := v.load()
	v.lock.Unlock()
	return bucket(&f, user).Active
}

// HasCredentials reports whether a password is retrievable for the user's
// active (or only) account.
func (v *Vault) HasCredentials(user string) bool {
	u, p := v.GetCredentials(user, "")
	return u != "" && p != ""
}

// SetActive switches the active account.
func (v *Vault) SetActive(user, remoteUsername string) error {
	ju := strings.TrimSpace(remoteUsername)
	if ju == "" {
		return ErrMissingCredential
	}
	v.lock.Lock()
	defer v.lock.Unlock()
	f := v.load()
	b := bucket(&f, user)
	if _, ok := b.Accounts[ju]; !ok {
		return ErrAccountNotFound
	}
	b.Active = ju
	f.Users[userKey(user)] = b
	return v.save(f)
}

// RemoveAccount deletes one stored account. If it was active, the active
// pointer moves to an arbitrary remaining account, or clears.
func (v *Vault) RemoveAccount(user, remoteUsername string) error {
	ju := strings.TrimSpace(remoteUsername)
	if ju == "" {
		return ErrMissingCredential
	}
	v.lock.Lock()
	defer v.lock.Unlock()
	f := v.load()
	b := bucket(&f, user)
	delete(b.Accounts, ju)
	if b.Active == ju {
		b.Active = ""
		if names := sortedAccountNames(b); len(names) != 0 {
			b.Active = names[0]
		}
	}
	f.Users[userKey(user)] = b
	return v.save(f)
}

// ClearAll removes every stored account of the user.
func (v *Vault) ClearAll(user string) error {
	v.lock.Lock()
	defer v.lock.Unlock()
	f := v.load()
	f.Users[userKey(user)] = userBucket{Accounts: map[string]accountRecord{}}
	return v.save(f)
}
