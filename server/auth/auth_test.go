package auth

import (
	"net/http"
	"path/filepath"
	"testing"
	"time"

	"github.com/cyclopcam/logs"
	"github.com/stretchr/testify/require"
)

func createTestAuth(t *testing.T) *AuthServer {
	dir := t.TempDir()
	return NewAuthServer(logs.NewTestingLog(t), filepath.Join(dir, "site_users.json"), filepath.Join(dir, "site_sessions.json"))
}

func TestNormalizeUsername(t *testing.T) {
	require.Equal(t, "alice", NormalizeUsername(" alice "))
	require.Equal(t, "a-b_c.d@e", NormalizeUsername("a-b_c.d@e"))
	require.Equal(t, "", NormalizeUsername(""))
	require.Equal(t, "", NormalizeUsername("has space"))
	require.Equal(t, "", NormalizeUsername("semi;colon"))
	long := make([]byte, 65)
	for i := range long {
		long[i] = 'a'
	}
	require.Equal(t, "", NormalizeUsername(string(long)))
}

func TestCreateAndVerifyUser(t *testing.T) {
	a := createTestAuth(t)
	require.False(t, a.HasAnyUser())
	require.NoError(t, a.CreateUser("alice", "secret1", true))
	require.True(t, a.HasAnyUser())
	require.True(t, a.IsAdmin("alice"))

	require.True(t, a.VerifyUser("alice", "secret1"))
	require.False(t, a.VerifyUser("alice", "secret2"))
	require.False(t, a.VerifyUser("alice", ""))
	require.False(t, a.VerifyUser("bob", "secret1"))

	require.ErrorIs(t, a.CreateUser("alice", "another1", false), ErrAlreadyExists)
	require.ErrorIs(t, a.CreateUser("bad name", "secret1", false), ErrInvalidInput)
	require.ErrorIs(t, a.CreateUser("bob", "short", false), ErrInvalidInput)

	require.NoError(t, a.CreateUser("bob", "secret2", false))
	require.False(t, a.IsAdmin("bob"))
}

func TestUserStoreSurvivesReload(t *testing.T) {
	dir := t.TempDir()
	users := filepath.Join(dir, "u.json")
	sessions := filepath.Join(dir, "s.json")
	a := NewAuthServer(logs.NewTestingLog(t), users, sessions)
	require.NoError(t, a.CreateUser("alice", "secret1", true))

	b := NewAuthServer(logs.NewTestingLog(t), users, sessions)
	require.True(t, b.VerifyUser("alice", "secret1"))
	require.True(t, b.IsAdmin("alice"))
}

func TestSessionLifecycle(t *testing.T) {
	a := createTestAuth(t)
	require.NoError(t, a.CreateUser("alice", "secret1", false))

	token, err := a.CreateSession("alice")
	require.NoError(t, err)
	require.NotEmpty(t, token)
	require.Equal(t, "alice", a.SessionUser(token))

	a.ClearSession(token)
	require.Equal(t, "", a.SessionUser(token))

	_, err = a.CreateSession("not a valid name")
	require.ErrorIs(t, err, ErrInvalidInput)
}

func TestSessionExpiry(t *testing.T) {
	a := createTestAuth(t)
	token, err := a.CreateSession("alice")
	require.NoError(t, err)

	// Just inside the TTL
	a.sessionsLock.Lock()
	rec := a.sessions[token]
	rec.ExpiresAt = time.Now().Add(2 * time.Second).Unix()
	a.sessions[token] = rec
	a.sessionsLock.Unlock()
	require.Equal(t, "alice", a.SessionUser(token))

	// Just past the TTL: evicted on lookup
	a.sessionsLock.Lock()
	rec = a.sessions[token]
	rec.ExpiresAt = time.Now().Add(-1 * time.Second).Unix()
	a.sessions[token] = rec
	a.sessionsLock.Unlock()
	require.Equal(t, "", a.SessionUser(token))

	a.sessionsLock.Lock()
	_, stillThere := a.sessions[token]
	a.sessionsLock.Unlock()
	require.False(t, stillThere)
}

func TestSessionsReloadFiltersExpired(t *testing.T) {
	dir := t.TempDir()
	users := filepath.Join(dir, "u.json")
	sessions := filepath.Join(dir, "s.json")
	a := NewAuthServer(logs.NewTestingLog(t), users, sessions)
	live, err := a.CreateSession("alice")
	require.NoError(t, err)
	dead, err := a.CreateSession("bob")
	require.NoError(t, err)
	a.sessionsLock.Lock()
	rec := a.sessions[dead]
	rec.ExpiresAt = time.Now().Add(-time.Hour).Unix()
	a.sessions[dead] = rec
	a.persistSessions()
	a.sessionsLock.Unlock()

	b := NewAuthServer(logs.NewTestingLog(t), users, sessions)
	require.Equal(t, "alice", b.SessionUser(live))
	require.Equal(t, "", b.SessionUser(dead))
}

func requestWithCookie(name, value string) *http.Request {
	r, _ := http.NewRequest("GET", "/api/library/summary", nil)
	if name != "" {
		r.AddCookie(&http.Cookie{Name: name, Value: value})
	}
	return r
}

func TestGuestIDValidation(t *testing.T) {
	a := createTestAuth(t)
	require.Equal(t, "", a.GuestID(requestWithCookie("", "")))
	require.Equal(t, "abc_123", a.GuestID(requestWithCookie(GuestCookie, "abc_123")))
	require.Equal(t, "", a.GuestID(requestWithCookie(GuestCookie, "bad id")))

	gid := NewGuestID()
	require.NotEmpty(t, gid)
	require.NotContains(t, gid, "-")
	require.Equal(t, gid, a.GuestID(requestWithCookie(GuestCookie, gid)))
}

func TestEffectiveIdentity(t *testing.T) {
	a := createTestAuth(t)
	require.NoError(t, a.CreateUser("alice", "secret1", false))
	token, err := a.CreateSession("alice")
	require.NoError(t, err)

	// Authenticated session wins
	id, isAuth, newGid := a.EffectiveIdentity(requestWithCookie(SessionCookie, token))
	require.Equal(t, "alice", id)
	require.True(t, isAuth)
	require.Equal(t, "", newGid)

	// Existing guest cookie
	id, isAuth, newGid = a.EffectiveIdentity(requestWithCookie(GuestCookie, "guest123"))
	require.Equal(t, "g:guest123", id)
	require.False(t, isAuth)
	require.Equal(t, "", newGid)

	// Nothing: a fresh guest id is minted and reported
	id, isAuth, newGid = a.EffectiveIdentity(requestWithCookie("", ""))
	require.False(t, isAuth)
	require.NotEmpty(t, newGid)
	require.Equal(t, "g:"+newGid, id)
}

func TestAllowPath(t *testing.T) {
	require.True(t, AllowPath("/"))
	require.True(t, AllowPath("/index.html"))
	require.True(t, AllowPath("/api/ping"))
	require.True(t, AllowPath("/api/site/login"))
	require.True(t, AllowPath("/api/site/register"))
	require.False(t, AllowPath("/api/library/summary"))
	require.False(t, AllowPath("/api/favorites"))
}
