package auth

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/Tom6814/JM-Aura/pkg/rando"
)

// SessionTTL is how long a site login lasts.
const SessionTTL = 7 * 24 * time.Hour

type sessionRecord struct {
	User      string `json:"u"`
	ExpiresAt int64  `json:"exp"` // unix seconds
}

type sessionFile struct {
	V        int                      `json:"v"`
	Sessions map[string]sessionRecord `json:"sessions"`
}

// loadSessions reads the session store once at startup, dropping entries
// that have already expired or are malformed.
func (a *AuthServer) loadSessions() map[string]sessionRecord {
	out := map[string]sessionRecord{}
	raw, err := os.ReadFile(a.sessionsPath)
	if err != nil {
		return out
	}
	f := sessionFile{}
	if err := json.Unmarshal(raw, &f); err != nil || f.Sessions == nil {
		a.log.Warnf("Session store %v unreadable, starting empty", a.sessionsPath)
		return out
	}
	now := time.Now().Unix()
	for token, rec := range f.Sessions {
		if token == "" || len(token) > 256 {
			continue
		}
		if NormalizeUsername(rec.User) == "" {
			continue
		}
		if rec.ExpiresAt != 0 && rec.ExpiresAt <= now {
			continue
		}
		out[token] = rec
	}
	return out
}

// persistSessions is best-effort: a failure to write the session cache must
// not fail a login or a lookup.
func (a *AuthServer) persistSessions() {
	f := sessionFile{V: 1, Sessions: a.sessions}
	raw, err := json.Marshal(&f)
	if err == nil {
		os.MkdirAll(filepath.Dir(a.sessionsPath), 0777)
		err = os.WriteFile(a.sessionsPath, raw, 0600)
	}
	if err != nil {
		a.log.Warnf("Failed to persist sessions: %v", err)
	}
}

// CreateSession issues a new session token for a user.
func (a *AuthServer) CreateSession(username string) (string, error) {
	u := NormalizeUsername(username)
	if u == "" {
		return "", ErrInvalidInput
	}
	token := rando.StrongRandomURLSafe(32)
	a.sessionsLock.Lock()
	defer a.sessionsLock.Unlock()
	a.sessions[token] = sessionRecord{
		User:      u,
		ExpiresAt: time.Now().Add(SessionTTL).Unix(),
	}
	a.persistSessions()
	return token, nil
}

// SessionUser resolves a session token to a username, or "". Expired
// sessions are evicted on lookup and the store re-persisted.
func (a *AuthServer) SessionUser(token string) string {
	if token == "" {
		return ""
	}
	a.sessionsLock.Lock()
	defer a.sessionsLock.Unlock()
	rec, ok := a.sessions[token]
	if !ok {
		return ""
	}
	if rec.ExpiresAt != 0 && time.Now().Unix() > rec.ExpiresAt {
		delete(a.sessions, token)
		a.persistSessions()
		return ""
	}
	return NormalizeUsername(rec.User)
}

func (a *AuthServer) ClearSession(token string) {
	if token == "" {
		return
	}
	a.sessionsLock.Lock()
	defer a.sessionsLock.Unlock()
	if _, ok := a.sessions[token]; ok {
		delete(a.sessions, token)
		a.persistSessions()
	}
}
