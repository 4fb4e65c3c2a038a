// Package auth implements site-local authentication: the user store, the
// session store, and guest identities. The remote content service has its
// own accounts, handled by the vault and jmapi packages; nothing in here
// talks to the network.
package auth

import (
	"errors"
	"net/http"
	"strings"
	"sync"

	"github.com/Tom6814/JM-Aura/pkg/rando"
	"github.com/Tom6814/JM-Aura/server/identity"
	"github.com/cyclopcam/logs"
)

const SessionCookie = "jm_aura_sid"
const GuestCookie = "jm_aura_gid"

var (
	ErrInvalidInput  = errors.New("Invalid username or password")
	ErrAlreadyExists = errors.New("User already exists")
)

type AuthServer struct {
	log          logs.Log
	usersPath    string
	sessionsPath string

	usersLock    sync.Mutex
	sessionsLock sync.Mutex
	sessions     map[string]sessionRecord
}

func NewAuthServer(log logs.Log, usersPath, sessionsPath string) *AuthServer {
	a := &AuthServer{
		log:          log,
		usersPath:    usersPath,
		sessionsPath: sessionsPath,
	}
	a.sessions = a.loadSessions()
	return a
}

// NormalizeUsername returns the canonical form of a site username, or ""
// if the username is not acceptable (too long, or characters outside
// [A-Za-z0-9-_.@]).
func NormalizeUsername(username string) string {
	s := strings.TrimSpace(username)
	if s == "" || len(s) > 64 {
		return ""
	}
	for _, ch := range s {
		switch {
		case ch >= 'a' && ch <= 'z', ch >= 'A' && ch <= 'Z', ch >= '0' && ch <= '9':
		case ch == '-' || ch == '_' || ch == '.' || ch == '@':
		default:
			return ""
		}
	}
	return s
}

// CurrentUser resolves the authenticated site user from the session cookie,
// or "" if the request carries no valid session.
func (a *AuthServer) CurrentUser(r *http.Request) string {
	cookie, _ := r.Cookie(SessionCookie)
	if cookie == nil {
		return ""
	}
	return a.SessionUser(cookie.Value)
}

// GuestID returns the validated guest id from the request's guest cookie,
// or "" if absent or malformed.
func (a *AuthServer) GuestID(r *http.Request) string {
	cookie, _ := r.Cookie(GuestCookie)
	if cookie == nil {
		return ""
	}
	v := strings.TrimSpace(cookie.Value)
	if v == "" || len(v) > 128 {
		return ""
	}
	for _, ch := range v {
		switch {
		case ch >= 'a' && ch <= 'z', ch >= 'A' && ch <= 'Z', ch >= '0' && ch <= '9':
		case ch == '-' || ch == '_':
		default:
			return ""
		}
	}
	return v
}

func NewGuestID() string {
	return strings.ReplaceAll(rando.StrongRandomURLSafe(18), "-", "_")
}

// EffectiveIdentity resolves the acting identity of a request.
// An authenticated session wins; otherwise an existing guest cookie is used;
// otherwise a fresh guest id is minted and returned as newGuestID, and the
// caller must persist it as a cookie on the response.
func (a *AuthServer) EffectiveIdentity(r *http.Request) (id string, isAuthenticated bool, newGuestID string) {
	if u := a.CurrentUser(r); u != "" {
		return u, true, ""
	}
	if gid := a.GuestID(r); gid != "" {
		return identity.GuestPrefix + gid, false, ""
	}
	gid := NewGuestID()
	return identity.GuestPrefix + gid, false, gid
}

// AllowPath reports whether a path is served without identity resolution.
// This is a declarative allow-list, not business logic: anything outside
// /api/ is static content, and the site-auth + bootstrap endpoints must be
// reachable before an identity exists.
func AllowPath(path string) bool {
	if !strings.HasPrefix(path, "/api/") {
		return true
	}
	if strings.HasPrefix(path, "/api/site/") {
		return true
	}
	if strings.HasPrefix(path, "/api/ping") {
		return true
	}
	return false
}
