// Package jmapi is a client for the 18comic-style app API, routed through
// the per-identity session registry so that every identity keeps its own
// upstream login cookies.
package jmapi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/Tom6814/JM-Aura/server/identity"
	"github.com/Tom6814/JM-Aura/server/jmsession"
	"github.com/cyclopcam/logs"
)

const androidUA = "Mozilla/5.0 (Linux; Android 7.1.2; DT1901A Build/N2G47O; wv) AppleWebKit/537.36 (KHTML, like Gecko) Version/4.0 Chrome/86.0.4240.198 Mobile Safari/537.36"

// RenameVariant selects which of the two upstream rename calls to issue.
// Some upstream versions accept "rename", others "edit".
type RenameVariant string

const (
	RenamePrimary   RenameVariant = "rename"
	RenameSecondary RenameVariant = "edit"
)

type Client struct {
	log        logs.Log
	sessions   *jmsession.Registry
	apiBase    string
	appVersion string
	headerVer  string
}

func NewClient(log logs.Log, sessions *jmsession.Registry, apiBase, appVersion, headerVer string) *Client {
	return &Client{
		log:        log,
		sessions:   sessions,
		apiBase:    strings.TrimRight(apiBase, "/"),
		appVersion: appVersion,
		headerVer:  headerVer,
	}
}

// flexString decodes a JSON field that the upstream emits sometimes as a
// string and sometimes as a number.
type flexString string

func (f *flexString) UnmarshalJSON(b []byte) error {
	if len(b) != 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = flexString(s)
		return nil
	}
	*f = flexString(strings.Trim(string(b), " \t\n"))
	if *f == "null" {
		*f = ""
	}
	return nil
}

func (f flexString) Int() int {
	n, _ := strconv.Atoi(string(f))
	return n
}

type envelope struct {
	Code     int        `json:"code"`
	ErrorMsg string     `json:"errorMsg"`
	Data     flexString `json:"data"`
}

// do issues one signed request as the given identity and returns the
// decrypted payload bytes (JSON, usually).
// resolveKey prefers the explicit identity key, falling back to the ambient
// one carried on the request context.
func resolveKey(ctx context.Context, identityKey string) string {
	if identityKey != "" {
		return identityKey
	}
	return identity.Key(ctx)
}

func (c *Client) do(ctx context.Context, identityKey, method, path string, query url.Values, form url.Values) (json.RawMessage, error) {
	identityKey = resolveKey(ctx, identityKey)
	ts := time.Now().Unix()
	u := c.apiBase + path
	if len(query) != 0 {
		u += "?" + query.Encode()
	}
	var body io.Reader
	if method == http.MethodPost {
		body = strings.NewReader(form.Encode())
	}
	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("token", requestToken(ts))
	req.Header.Set("tokenparam", fmt.Sprintf("%d,%s", ts, c.headerVer))
	req.Header.Set("user-agent", androidUA)
	req.Header.Set("accept-encoding", "gzip")
	if c.appVersion != "" {
		req.Header.Set("version", c.appVersion)
	}
	if method == http.MethodPost {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}

	resp, err := c.sessions.Get(identityKey).Client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if sentinel := classifyStatus(resp.StatusCode); sentinel != nil {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, &APIError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(msg)), Err: sentinel}
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	env := envelope{}
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("jmapi: unexpected response shape: %w", err)
	}
	if env.Code != 200 {
		// Auth expiry arrives as HTTP 200 with code 401 in the envelope
		sentinel := classifyStatus(env.Code)
		if sentinel == nil {
			sentinel = ErrRejected
		}
		return nil, &APIError{StatusCode: env.Code, Message: env.ErrorMsg, Err: sentinel}
	}
	if env.Data == "" {
		return json.RawMessage("{}"), nil
	}
	plain, err := decodePayload(string(env.Data), ts)
	if err != nil {
		return nil, fmt.Errorf("jmapi: payload decode: %w", err)
	}
	if !json.Valid(plain) {
		// Some calls answer with a bare message string
		quoted, _ := json.Marshal(string(plain))
		return json.RawMessage(quoted), nil
	}
	return json.RawMessage(plain), nil
}

// LoginResult is the upstream profile payload returned by a login.
type LoginResult struct {
	UID string
	Raw json.RawMessage
}

// Login authenticates the identity against the upstream and persists the
// resulting session cookies.
func (c *Client) Login(ctx context.Context, identityKey, username, password string) (*LoginResult, error) {
	identityKey = resolveKey(ctx, identityKey)
	form := url.Values{}
	form.Set("username", username)
	form.Set("password", password)
	raw, err := c.do(ctx, identityKey, http.MethodPost, "/login", nil, form)
	if err != nil {
		return nil, err
	}
	c.sessions.Persist(identityKey)
	return &LoginResult{UID: extractUID(raw), Raw: raw}, nil
}

// extractUID digs the user id out of the profile payload. Different upstream
// versions nest it differently.
func extractUID(raw json.RawMessage) string {
	var top map[string]json.RawMessage
	if json.Unmarshal(raw, &top) != nil {
		return ""
	}
	pick := func(m map[string]json.RawMessage) string {
		for _, k := range []string{"uid", "user_id", "id"} {
			var v flexString
			if b, ok := m[k]; ok && json.Unmarshal(b, &v) == nil && v != "" {
				return string(v)
			}
		}
		return ""
	}
	if uid := pick(top); uid != "" {
		return uid
	}
	for _, k := range []string{"user", "userinfo", "profile", "member"} {
		var sub map[string]json.RawMessage
		if b, ok := top[k]; ok && json.Unmarshal(b, &sub) == nil {
			if uid := pick(sub); uid != "" {
				return uid
			}
		}
	}
	return ""
}

type Folder struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type Album struct {
	ID     string `json:"album_id"`
	Name   string `json:"name"`
	Author string `json:"author"`
}

// FavoritesPage is one page of an identity's upstream favorites, plus the
// folder list the upstream attaches to every favorites response.
type FavoritesPage struct {
	Albums  []Album  `json:"content"`
	Folders []Folder `json:"folders"`
	Total   int      `json:"total"`
	Pages   int      `json:"pages"`
}

type rawFavorites struct {
	List []struct {
		ID     flexString `json:"id"`
		Name   flexString `json:"name"`
		Author flexString `json:"author"`
	} `json:"list"`
	FolderList []struct {
		FID  flexString `json:"FID"`
		Name flexString `json:"name"`
	} `json:"folder_list"`
	Total flexString `json:"total"`
	Count flexString `json:"count"`
}

// ListFavorites fetches one page of favorites, newest first.
// folderID "0" means the unfiled root.
func (c *Client) ListFavorites(ctx context.Context, identityKey string, page int, folderID string) (*FavoritesPage, error) {
	if folderID == "" {
		folderID = "0"
	}
	q := url.Values{}
	q.Set("page", strconv.Itoa(page))
	q.Set("folder_id", folderID)
	q.Set("o", "mr")
	raw, err := c.do(ctx, identityKey, http.MethodGet, "/favorite", q, nil)
	if err != nil {
		return nil, err
	}
	rf := rawFavorites{}
	if err := json.Unmarshal(raw, &rf); err != nil {
		return nil, fmt.Errorf("jmapi: favorites decode: %w", err)
	}
	out := &FavoritesPage{
		Albums:  []Album{},
		Folders: []Folder{},
		Total:   rf.Total.Int(),
	}
	for _, a := range rf.List {
		if a.ID != "" {
			out.Albums = append(out.Albums, Album{ID: string(a.ID), Name: string(a.Name), Author: string(a.Author)})
		}
	}
	for _, f := range rf.FolderList {
		if f.FID != "" {
			out.Folders = append(out.Folders, Folder{ID: string(f.FID), Name: string(f.Name)})
		}
	}
	perPage := rf.Count.Int()
	if perPage <= 0 {
		perPage = 20
	}
	out.Pages = (out.Total + perPage - 1) / perPage
	if out.Pages < 1 {
		out.Pages = 1
	}
	return out, nil
}

// CreateFolder creates a favorites folder. The upstream applies folder
// mutations asynchronously; callers verify by polling the folder list.
func (c *Client) CreateFolder(ctx context.Context, identityKey, name string) (json.RawMessage, error) {
	form := url.Values{}
	form.Set("folder_name", name)
	form.Set("type", "add")
	return c.do(ctx, identityKey, http.MethodPost, "/favorite_folder", nil, form)
}

func (c *Client) DeleteFolder(ctx context.Context, identityKey, folderID string) (json.RawMessage, error) {
	form := url.Values{}
	form.Set("folder_id", folderID)
	form.Set("type", "del")
	return c.do(ctx, identityKey, http.MethodPost, "/favorite_folder", nil, form)
}

func (c *Client) RenameFolder(ctx context.Context, identityKey, folderID, name string, variant RenameVariant) (json.RawMessage, error) {
	form := url.Values{}
	form.Set("folder_id", folderID)
	form.Set("folder_name", name)
	form.Set("type", string(variant))
	return c.do(ctx, identityKey, http.MethodPost, "/favorite_folder", nil, form)
}

// MoveFavorite files an already-favorited album into a folder.
func (c *Client) MoveFavorite(ctx context.Context, identityKey, albumID, folderID string) (json.RawMessage, error) {
	form := url.Values{}
	form.Set("folder_id", folderID)
	form.Set("type", "move")
	form.Set("aid", albumID)
	return c.do(ctx, identityKey, http.MethodPost, "/favorite_folder", nil, form)
}

// ToggleFavorite adds the album to favorites, or removes it if already
// present. The upstream exposes a single toggle call.
func (c *Client) ToggleFavorite(ctx context.Context, identityKey, albumID string) (json.RawMessage, error) {
	form := url.Values{}
	form.Set("aid", albumID)
	return c.do(ctx, identityKey, http.MethodPost, "/favorite", nil, form)
}

// StatusFailed reports whether a mutation payload carries an explicit
// {"status":"fail"} marker.
func StatusFailed(raw json.RawMessage) bool {
	v := struct {
		Status string `json:"status"`
	}{}
	if json.Unmarshal(raw, &v) != nil {
		return false
	}
	return strings.EqualFold(v.Status, "fail")
}
