package auth

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/Tom6814/JM-Aura/pkg/pwdhash"
)

type userRecord struct {
	Password  string `json:"password"` // base64 of pwdhash blob (version + salt + key)
	IsAdmin   bool   `json:"isAdmin"`
	CreatedAt int64  `json:"createdAt"`
}

type userFile struct {
	V     int                   `json:"v"`
	Users map[string]userRecord `json:"users"`
}

// loadUsers reads the user store. A missing or corrupt file yields an empty
// store; storage read failures are never surfaced to callers.
func (a *AuthServer) loadUsers() userFile {
	empty := userFile{V: 1, Users: map[string]userRecord{}}
	raw, err := os.ReadFile(a.usersPath)
	if err != nil {
		return empty
	}
	f := userFile{}
	if err := json.Unmarshal(raw, &f); err != nil || f.Users == nil {
		a.log.Warnf("Site user store %v unreadable, starting empty", a.usersPath)
		return empty
	}
	f.V = 1
	return f
}

func (a *AuthServer) saveUsers(f userFile) error {
	os.MkdirAll(filepath.Dir(a.usersPath), 0777)
	raw, err := json.Marshal(&f)
	if err != nil {
		return err
	}
	return os.WriteFile(a.usersPath, raw, 0600)
}

// CreateUser registers a new site user. The password is stored as a salted
// key-stretching hash, never as plaintext.
func (a *AuthServer) CreateUser(username, password string, admin bool) error {
	u := NormalizeUsername(username)
	if u == "" || len(password) < 6 {
		return ErrInvalidInput
	}
	a.usersLock.Lock()
	defer a.usersLock.Unlock()
	f := a.loadUsers()
	if _, exists := f.Users[u]; exists {
		return ErrAlreadyExists
	}
	f.Users[u] = userRecord{
		Password:  pwdhash.HashPasswordBase64(password),
		IsAdmin:   admin,
		CreatedAt: time.Now().Unix(),
	}
	return a.saveUsers(f)
}

// VerifyUser returns true if the password matches the stored hash.
// Malformed stored records verify false rather than erroring.
func (a *AuthServer) VerifyUser(username, password string) bool {
	u := NormalizeUsername(username)
	if u == "" || password == "" {
		return false
	}
	a.usersLock.Lock()
	f := a.loadUsers()
	a.usersLock.Unlock()
	rec, ok := f.Users[u]
	if !ok {
		return false
	}
	return pwdhash.VerifyHashBase64(password, rec.Password)
}

func (a *AuthServer) IsAdmin(username string) bool {
	u := NormalizeUsername(username)
	if u == "" {
		return false
	}
	a.usersLock.Lock()
	f := a.loadUsers()
	a.usersLock.Unlock()
	rec, ok := f.Users[u]
	return ok && rec.IsAdmin
}

func (a *AuthServer) HasAnyUser() bool {
	a.usersLock.Lock()
	f := a.loadUsers()
	a.usersLock.Unlock()
	return len(f.Users) != 0
}
