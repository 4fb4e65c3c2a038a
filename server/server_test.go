package server

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/Tom6814/JM-Aura/server/auth"
	"github.com/cyclopcam/logs"
	"github.com/stretchr/testify/require"
)

// testClient wraps a cookie-keeping HTTP client against an in-process server.
type testClient struct {
	t    *testing.T
	base string
	http *http.Client
}

func createTestServer(t *testing.T, upstream http.Handler) (*Server, *httptest.Server) {
	if upstream == nil {
		upstream = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "no upstream in this test", http.StatusUnauthorized)
		})
	}
	up := httptest.NewServer(upstream)
	t.Cleanup(up.Close)

	cfg := Config{DataDir: t.TempDir()}
	cfg.applyDefaults()
	cfg.JM.APIBase = up.URL
	s, err := newServerWithLog(logs.NewTestingLog(t), cfg)
	require.NoError(t, err)
	front := httptest.NewServer(s.httpRouter)
	t.Cleanup(front.Close)
	return s, front
}

func createTestClientFor(t *testing.T, front *httptest.Server) *testClient {
	jar, err := cookiejar.New(nil)
	require.NoError(t, err)
	return &testClient{t: t, base: front.URL, http: &http.Client{Jar: jar}}
}

func (c *testClient) do(method, path string, body any) (*http.Response, []byte) {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(c.t, err)
		reader = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, c.base+path, reader)
	require.NoError(c.t, err)
	resp, err := c.http.Do(req)
	require.NoError(c.t, err)
	defer resp.Body.Close()
	respBody, err := io.ReadAll(resp.Body)
	require.NoError(c.t, err)
	return resp, respBody
}

func (c *testClient) doOK(method, path string, body any, out any) {
	resp, respBody := c.do(method, path, body)
	require.Equal(c.t, http.StatusOK, resp.StatusCode, "%v %v: %v", method, path, string(respBody))
	if out != nil {
		require.NoError(c.t, json.Unmarshal(respBody, out))
	}
}

func TestSiteBootstrapAndAuth(t *testing.T) {
	_, front := createTestServer(t, nil)
	c := createTestClientFor(t, front)

	status := struct {
		HasUsers bool `json:"hasUsers"`
	}{}
	c.doOK("GET", "/api/site/status", nil, &status)
	require.False(t, status.HasUsers)

	// First registration bootstraps the admin
	reg := struct {
		Username string `json:"username"`
		IsAdmin  bool   `json:"isAdmin"`
	}{}
	c.doOK("POST", "/api/site/register", map[string]string{"username": "alice", "password": "hunter22"}, &reg)
	require.Equal(t, "alice", reg.Username)
	require.True(t, reg.IsAdmin)

	c.doOK("GET", "/api/site/status", nil, &status)
	require.True(t, status.HasUsers)

	// Registration stays open, but only the first user gets admin
	cBob := createTestClientFor(t, front)
	cBob.doOK("POST", "/api/site/register", map[string]string{"username": "bob2", "password": "secret2"}, &reg)
	require.Equal(t, "bob2", reg.Username)
	require.False(t, reg.IsAdmin)

	// Taken usernames are rejected
	resp, _ := c.do("POST", "/api/site/register", map[string]string{"username": "alice", "password": "hunter22"})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	me := struct {
		IsAuthenticated bool   `json:"isAuthenticated"`
		Username        string `json:"username"`
		IsAdmin         bool   `json:"isAdmin"`
	}{}
	c.doOK("GET", "/api/site/me", nil, &me)
	require.True(t, me.IsAuthenticated)
	require.Equal(t, "alice", me.Username)
	require.True(t, me.IsAdmin)

	// Admin creates a second user, who can then log in
	c.doOK("POST", "/api/site/admin/users", map[string]any{"username": "bob", "password": "hunter23", "isAdmin": false}, nil)

	c2 := createTestClientFor(t, front)
	resp, body := c2.do("POST", "/api/site/login", map[string]string{"username": "bob", "password": "wrong"})
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	require.Contains(t, string(body), "Login failed")

	c2.doOK("POST", "/api/site/login", map[string]string{"username": "bob", "password": "hunter23"}, nil)
	c2.doOK("GET", "/api/site/me", nil, &me)
	require.Equal(t, "bob", me.Username)
	require.False(t, me.IsAdmin)

	// Non-admin cannot create users
	resp, _ = c2.do("POST", "/api/site/admin/users", map[string]any{"username": "eve", "password": "hunter24"})
	require.Equal(t, http.StatusForbidden, resp.StatusCode)

	// Logout invalidates the session
	c2.doOK("POST", "/api/site/logout", nil, nil)
	c2.doOK("GET", "/api/site/me", nil, &me)
	require.False(t, me.IsAuthenticated)
}

func TestGuestIdentityMinting(t *testing.T) {
	_, front := createTestServer(t, nil)
	c := createTestClientFor(t, front)

	// The upstream rejects us, but the guest cookie is minted regardless:
	// the identity exists before the upstream call.
	resp, _ := c.do("GET", "/api/favorites", nil)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	var gid string
	for _, cookie := range c.http.Jar.Cookies(mustParseURL(t, front.URL)) {
		if cookie.Name == auth.GuestCookie {
			gid = cookie.Value
		}
	}
	require.NotEmpty(t, gid)

	// A second request keeps the same guest id
	resp2, _ := c.do("GET", "/api/favorites", nil)
	require.Equal(t, http.StatusUnauthorized, resp2.StatusCode)
	for _, cookie := range c.http.Jar.Cookies(mustParseURL(t, front.URL)) {
		if cookie.Name == auth.GuestCookie {
			require.Equal(t, gid, cookie.Value)
		}
	}

	// Guests cannot reach protected surfaces
	resp3, _ := c.do("GET", "/api/library/summary", nil)
	require.Equal(t, http.StatusUnauthorized, resp3.StatusCode)
}

func TestLibraryEndpoints(t *testing.T) {
	_, front := createTestServer(t, nil)
	c := createTestClientFor(t, front)
	c.doOK("POST", "/api/site/register", map[string]string{"username": "alice", "password": "hunter22"}, nil)

	folder := struct {
		ID   int64  `json:"id"`
		Name string `json:"name"`
	}{}
	c.doOK("POST", "/api/library/folders/create", map[string]string{"name": "reading"}, &folder)
	require.Equal(t, "reading", folder.Name)
	require.NotZero(t, folder.ID)

	c.doOK("POST", "/api/library/folders/toggle", map[string]any{"folder_id": folder.ID, "album_id": "101", "present": true}, nil)
	c.doOK("POST", "/api/library/folders/toggle", map[string]any{"folder_id": folder.ID, "album_id": "202", "present": true}, nil)

	folders := []struct {
		ID    int64  `json:"id"`
		Name  string `json:"name"`
		Count int    `json:"count"`
	}{}
	c.doOK("GET", "/api/library/folders", nil, &folders)
	require.Len(t, folders, 1)
	require.Equal(t, 2, folders[0].Count)

	c.doOK("POST", "/api/library/history", map[string]any{"album_id": "101", "album_title": "First", "timestamp": 1700000000000}, nil)
	history := []struct {
		AlbumID string `json:"album_id"`
	}{}
	c.doOK("GET", "/api/library/history", nil, &history)
	require.Len(t, history, 1)
	require.Equal(t, "101", history[0].AlbumID)

	note := struct {
		AlbumID string   `json:"album_id"`
		Tags    []string `json:"tags"`
		Note    string   `json:"note"`
	}{}
	c.doOK("POST", "/api/library/note", map[string]any{"album_id": "101", "tags": []string{"good", "good"}, "note": "worth a reread"}, &note)
	require.Equal(t, []string{"good"}, note.Tags)
	require.Equal(t, "worth a reread", note.Note)

	// Tags-only patch leaves the note text alone
	c.doOK("POST", "/api/library/note", map[string]any{"album_id": "101", "tags": []string{"great"}}, &note)
	require.Equal(t, []string{"great"}, note.Tags)
	require.Equal(t, "worth a reread", note.Note)

	summary := struct {
		History []struct {
			AlbumID string `json:"album_id"`
		} `json:"history"`
		Folders []struct {
			Name string `json:"name"`
		} `json:"folders"`
	}{}
	c.doOK("GET", "/api/library/summary", nil, &summary)
	require.Len(t, summary.History, 1)
	require.Len(t, summary.Folders, 1)

	profile := struct {
		Theme    map[string]any `json:"theme"`
		Features map[string]any `json:"features"`
	}{}
	c.doOK("POST", "/api/site/profile", map[string]any{"theme": map[string]any{"dark": true, "color": "yuuka"}}, &profile)
	require.Equal(t, true, profile.Theme["dark"])
	require.Equal(t, "yuuka", profile.Theme["color"])
}

func TestAccountVaultEndpoints(t *testing.T) {
	_, front := createTestServer(t, nil)
	c := createTestClientFor(t, front)
	c.doOK("POST", "/api/site/register", map[string]string{"username": "alice", "password": "hunter22"}, nil)

	binding := struct {
		HasSession     bool   `json:"hasSession"`
		HasCredentials bool   `json:"hasCredentials"`
		Active         string `json:"active"`
	}{}
	c.doOK("GET", "/api/jm/binding", nil, &binding)
	require.False(t, binding.HasSession)
	require.False(t, binding.HasCredentials)

	accounts := struct {
		Active   string `json:"active"`
		Accounts []struct {
			Username string `json:"username"`
		} `json:"accounts"`
	}{}
	c.doOK("POST", "/api/jm/accounts", map[string]string{"username": "remote1", "password": "pw1"}, &accounts)
	require.Equal(t, "remote1", accounts.Active)
	c.doOK("POST", "/api/jm/accounts", map[string]string{"username": "remote2", "password": "pw2"}, &accounts)
	require.Len(t, accounts.Accounts, 2)

	// Missing password is rejected
	resp, _ := c.do("POST", "/api/jm/accounts", map[string]string{"username": "remote3"})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	// Switching to an unknown account is a 404
	resp, _ = c.do("POST", "/api/jm/accounts/switch", map[string]string{"username": "nosuch"})
	require.Equal(t, http.StatusNotFound, resp.StatusCode)

	c.doOK("POST", "/api/jm/accounts/remove", map[string]string{"username": "remote2"}, &accounts)
	require.Len(t, accounts.Accounts, 1)
	require.Equal(t, "remote1", accounts.Active)

	c.doOK("POST", "/api/jm/unbind", map[string]any{"purgeLibrary": true}, nil)
	c.doOK("GET", "/api/jm/binding", nil, &binding)
	require.False(t, binding.HasCredentials)
	require.Empty(t, binding.Active)
}

func mustParseURL(t *testing.T, raw string) *url.URL {
	u, err := url.Parse(raw)
	require.NoError(t, err)
	return u
}

func TestPing(t *testing.T) {
	_, front := createTestServer(t, nil)
	c := createTestClientFor(t, front)
	out := struct {
		Greeting string `json:"greeting"`
	}{}
	c.doOK("GET", "/api/ping", nil, &out)
	require.Equal(t, "pong", out.Greeting)
}
