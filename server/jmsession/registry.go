// Package jmsession owns the outbound HTTP sessions to the remote content
// service, one per identity key. Each identity gets its own connection-pooled
// client and cookie jar; jars are persisted per identity so a bound account
// stays logged in across restarts. Guests get sessions too, but their
// cookies are never written to disk.
package jmsession

import (
	"crypto/tls"
	"encoding/json"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/Tom6814/JM-Aura/server/identity"
	"github.com/cyclopcam/logs"
)

const maxPoolConns = 50

// Handle is the live outbound session of one identity. It is created lazily
// and cached for the process lifetime; identity cardinality is bounded by
// registered users times bound accounts, so we never evict.
type Handle struct {
	Client *http.Client
}

type Registry struct {
	log         logs.Log
	cookieDir   string
	legacyPath  string
	baseURL     *url.URL
	insecureTLS bool

	lock     sync.Mutex
	sessions map[string]*Handle
}

func NewRegistry(log logs.Log, cookieDir, legacyPath, baseURL string, insecureTLS bool) (*Registry, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, err
	}
	return &Registry{
		log:         log,
		cookieDir:   cookieDir,
		legacyPath:  legacyPath,
		baseURL:     u,
		insecureTLS: insecureTLS,
		sessions:    map[string]*Handle{},
	}, nil
}

func (r *Registry) cookieFilePath(identityKey string) string {
	return filepath.Join(r.cookieDir, identity.Sanitize(identityKey)+".json")
}

func newJar() *cookiejar.Jar {
	jar, err := cookiejar.New(nil)
	if err != nil {
		// cookiejar.New never fails with a nil options struct
		panic(err)
	}
	return jar
}

// Get returns the session handle for an identity key, constructing it (and
// loading any persisted cookie jar) on first use. Two calls with the same
// key return the same handle.
func (r *Registry) Get(identityKey string) *Handle {
	key := identity.Sanitize(identityKey)
	r.lock.Lock()
	defer r.lock.Unlock()
	if h, ok := r.sessions[key]; ok {
		return h
	}
	h := &Handle{
		Client: &http.Client{
			Jar: newJar(),
			Transport: &http.Transport{
				MaxIdleConns:        maxPoolConns,
				MaxIdleConnsPerHost: maxPoolConns,
				TLSClientConfig:     &tls.Config{InsecureSkipVerify: r.insecureTLS},
			},
			Timeout: 30 * time.Second,
		},
	}
	r.sessions[key] = h
	r.loadCookies(identityKey, h)
	return h
}

type cookieFile struct {
	V       int               `json:"v"`
	Cookies map[string]string `json:"cookies"`
}

// loadCookies fills the handle's jar from the identity's persisted file.
// A missing or unreadable file just means a fresh session.
func (r *Registry) loadCookies(identityKey string, h *Handle) {
	if identity.IsGuest(identityKey) {
		return
	}
	raw, err := os.ReadFile(r.cookieFilePath(identityKey))
	if err != nil {
		return
	}
	f := cookieFile{}
	if err := json.Unmarshal(raw, &f); err != nil || f.Cookies == nil {
		return
	}
	r.setJarFromMap(h, f.Cookies)
}

// setJarFromMap writes cookies into the handle's existing jar. The Jar field
// itself is never reassigned: a concurrent request for the same identity may
// be reading it, and cookiejar.Jar is safe for concurrent mutation while the
// field is not.
func (r *Registry) setJarFromMap(h *Handle, m map[string]string) {
	cookies := make([]*http.Cookie, 0, len(m))
	for name, value := range m {
		cookies = append(cookies, &http.Cookie{Name: name, Value: value, Path: "/"})
	}
	h.Client.Jar.SetCookies(r.baseURL, cookies)
}

// CookieMap returns the identity's current cookies for the remote service.
func (r *Registry) CookieMap(identityKey string) map[string]string {
	h := r.Get(identityKey)
	out := map[string]string{}
	for _, c := range h.Client.Jar.Cookies(r.baseURL) {
		out[c.Name] = c.Value
	}
	return out
}

// Persist writes the identity's cookie jar to disk. Guests are skipped, and
// write failures are swallowed: failing to cache cookies must never fail
// the response that triggered the save.
func (r *Registry) Persist(identityKey string) {
	if identity.IsGuest(identityKey) {
		return
	}
	m := r.CookieMap(identityKey)
	f := cookieFile{V: 1, Cookies: m}
	raw, err := json.Marshal(&f)
	if err == nil {
		os.MkdirAll(r.cookieDir, 0777)
		err = os.WriteFile(r.cookieFilePath(identityKey), raw, 0600)
	}
	if err != nil {
		r.log.Warnf("Failed to persist cookies for %v: %v", identity.Sanitize(identityKey), err)
	}
}

// Clear empties the in-memory jar and removes the persisted file. The jar is
// emptied in place (MaxAge < 0 deletes a cookie from the jar) rather than
// swapped out, for the same reason as setJarFromMap.
func (r *Registry) Clear(identityKey string) {
	h := r.Get(identityKey)
	expired := []*http.Cookie{}
	for _, c := range h.Client.Jar.Cookies(r.baseURL) {
		expired = append(expired, &http.Cookie{Name: c.Name, Path: "/", MaxAge: -1})
	}
	h.Client.Jar.SetCookies(r.baseURL, expired)
	if err := os.Remove(r.cookieFilePath(identityKey)); err != nil && !os.IsNotExist(err) {
		r.log.Warnf("Failed to remove cookie file for %v: %v", identity.Sanitize(identityKey), err)
	}
}

// MigrateLegacy copies the pre-multi-tenant single cookie file into a user's
// jar, but only if that user has no jar of their own yet. Returns whether a
// migration happened. Best effort all the way: any failure just means no
// migration.
func (r *Registry) MigrateLegacy(identityKey string) bool {
	if r.legacyPath == "" || identityKey == "" || identity.IsGuest(identityKey) {
		return false
	}
	if _, err := os.Stat(r.legacyPath); err != nil {
		return false
	}
	if _, err := os.Stat(r.cookieFilePath(identityKey)); err == nil {
		return false
	}
	raw, err := os.ReadFile(r.legacyPath)
	if err != nil {
		return false
	}
	f := cookieFile{}
	if err := json.Unmarshal(raw, &f); err != nil || len(f.Cookies) == 0 {
		// Legacy files predate the version tag; accept a bare name->value map too
		bare := map[string]string{}
		if err2 := json.Unmarshal(raw, &bare); err2 != nil || len(bare) == 0 {
			return false
		}
		f.Cookies = bare
	}
	h := r.Get(identityKey)
	r.setJarFromMap(h, f.Cookies)
	r.Persist(identityKey)
	return true
}
