package jmapi

import (
	"context"
	"crypto/aes"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"testing"
	"time"

	"github.com/Tom6814/JM-Aura/server/identity"
	"github.com/Tom6814/JM-Aura/server/jmsession"
	"github.com/cyclopcam/logs"
	"github.com/stretchr/testify/require"
)

// encodePayload is the inverse of decodePayload, for building test fixtures.
func encodePayload(t *testing.T, plain []byte, ts int64) string {
	block, err := aes.NewCipher(payloadKey(ts))
	require.NoError(t, err)
	bs := block.BlockSize()
	pad := bs - len(plain)%bs
	padded := append(append([]byte{}, plain...), make([]byte, pad)...)
	for i := len(plain); i < len(padded); i++ {
		padded[i] = byte(pad)
	}
	enc := make([]byte, len(padded))
	for i := 0; i < len(padded); i += bs {
		block.Encrypt(enc[i:i+bs], padded[i:i+bs])
	}
	return base64.StdEncoding.EncodeToString(enc)
}

func TestPayloadRoundtrip(t *testing.T) {
	ts := time.Now().Unix()
	plain := []byte(`{"list":[],"total":"0"}`)
	enc := encodePayload(t, plain, ts)
	dec, err := decodePayload(enc, ts)
	require.NoError(t, err)
	require.Equal(t, plain, dec)

	// Wrong timestamp means wrong key, which shows up as bad padding
	_, err = decodePayload(enc, ts+1)
	require.Error(t, err)
}

func TestRequestToken(t *testing.T) {
	// md5("1" + "18comicAPP")
	require.Equal(t, "647f0ae9ac9d00efb9dbb52d39859978", requestToken(1))
	require.Len(t, payloadKey(1), 32)
}

func createTestClient(t *testing.T, handler http.Handler) (*Client, *httptest.Server) {
	ts := httptest.NewServer(handler)
	t.Cleanup(ts.Close)
	dir := t.TempDir()
	log := logs.NewTestingLog(t)
	reg, err := jmsession.NewRegistry(log, filepath.Join(dir, "cookies"), filepath.Join(dir, "cookies.json"), ts.URL, false)
	require.NoError(t, err)
	return NewClient(log, reg, ts.URL, "1.8.0", "1.8.0"), ts
}

func favoritesFixture(t *testing.T, ts int64) string {
	payload := map[string]any{
		"list": []map[string]any{
			{"id": 111, "name": "First", "author": "a1"},
			{"id": "222", "name": "Second", "author": "a2"},
		},
		"folder_list": []map[string]any{
			{"FID": "7", "name": "keep"},
		},
		"total": "41",
		"count": 20,
	}
	raw, err := json.Marshal(payload)
	require.NoError(t, err)
	env, err := json.Marshal(map[string]any{"code": 200, "data": encodePayload(t, raw, ts)})
	require.NoError(t, err)
	return string(env)
}

func TestListFavorites(t *testing.T) {
	var gotQuery url.Values
	var gotToken, gotTokenParam string
	c, _ := createTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.Query()
		gotToken = r.Header.Get("token")
		gotTokenParam = r.Header.Get("tokenparam")
		w.Write([]byte(favoritesFixture(t, time.Now().Unix())))
	}))

	page, err := c.ListFavorites(context.Background(), "alice#jm#ju", 2, "")
	require.NoError(t, err)
	require.Equal(t, 41, page.Total)
	require.Equal(t, 3, page.Pages)
	require.Len(t, page.Albums, 2)
	require.Equal(t, "111", page.Albums[0].ID)
	require.Equal(t, "222", page.Albums[1].ID)
	require.Len(t, page.Folders, 1)
	require.Equal(t, Folder{ID: "7", Name: "keep"}, page.Folders[0])

	require.Equal(t, "2", gotQuery.Get("page"))
	require.Equal(t, "0", gotQuery.Get("folder_id"))
	require.Equal(t, "mr", gotQuery.Get("o"))
	require.NotEmpty(t, gotToken)
	require.Contains(t, gotTokenParam, ",1.8.0")
}

func TestUnauthorizedClassification(t *testing.T) {
	c, _ := createTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "session expired", http.StatusUnauthorized)
	}))
	_, err := c.ListFavorites(context.Background(), "alice", 1, "0")
	require.ErrorIs(t, err, ErrUnauthorized)
	apiErr := &APIError{}
	require.ErrorAs(t, err, &apiErr)
	require.Equal(t, http.StatusUnauthorized, apiErr.StatusCode)
}

func TestEnvelopeRejection(t *testing.T) {
	// Auth expiry is an HTTP 200 whose envelope carries code 401
	c, _ := createTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"code":401,"errorMsg":"請先登入"}`))
	}))
	_, err := c.ListFavorites(context.Background(), "alice", 1, "0")
	require.ErrorIs(t, err, ErrUnauthorized)
	require.Contains(t, err.Error(), "請先登入")

	c2, _ := createTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"code":422,"errorMsg":"名稱重複"}`))
	}))
	_, err = c2.CreateFolder(context.Background(), "alice", "dup")
	require.ErrorIs(t, err, ErrRejected)
	require.Contains(t, err.Error(), "名稱重複")
}

func TestFolderMutationForms(t *testing.T) {
	var gotForm url.Values
	c, _ := createTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		gotForm = r.PostForm
		ts := time.Now().Unix()
		env, _ := json.Marshal(map[string]any{"code": 200, "data": encodePayload(t, []byte(`{"status":"ok"}`), ts)})
		w.Write(env)
	}))
	ctx := context.Background()

	_, err := c.CreateFolder(ctx, "alice", "new folder")
	require.NoError(t, err)
	require.Equal(t, "add", gotForm.Get("type"))
	require.Equal(t, "new folder", gotForm.Get("folder_name"))

	_, err = c.DeleteFolder(ctx, "alice", "9")
	require.NoError(t, err)
	require.Equal(t, "del", gotForm.Get("type"))
	require.Equal(t, "9", gotForm.Get("folder_id"))

	_, err = c.MoveFavorite(ctx, "alice", "123", "9")
	require.NoError(t, err)
	require.Equal(t, "move", gotForm.Get("type"))
	require.Equal(t, "123", gotForm.Get("aid"))

	_, err = c.RenameFolder(ctx, "alice", "9", "renamed", RenameSecondary)
	require.NoError(t, err)
	require.Equal(t, "edit", gotForm.Get("type"))
	require.Equal(t, "renamed", gotForm.Get("folder_name"))
}

func TestStatusFailed(t *testing.T) {
	require.True(t, StatusFailed(json.RawMessage(`{"status":"FAIL","msg":"no"}`)))
	require.False(t, StatusFailed(json.RawMessage(`{"status":"ok"}`)))
	require.False(t, StatusFailed(json.RawMessage(`"just a string"`)))
}

func TestAmbientIdentityKey(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.SetCookie(w, &http.Cookie{Name: "AVS", Value: "ambient-session"})
		now := time.Now().Unix()
		env, _ := json.Marshal(map[string]any{"code": 200, "data": encodePayload(t, []byte(`{"uid":7}`), now)})
		w.Write(env)
	}))
	t.Cleanup(ts.Close)

	dir := t.TempDir()
	log := logs.NewTestingLog(t)
	reg, err := jmsession.NewRegistry(log, filepath.Join(dir, "cookies"), "", ts.URL, false)
	require.NoError(t, err)
	c := NewClient(log, reg, ts.URL, "1.8.0", "1.8.0")

	// No explicit key: the client falls back to the identity carried on the
	// context, and the cookies land in that identity's jar
	ctx := identity.WithKey(context.Background(), "carol#jm#ju")
	_, err = c.Login(ctx, "", "ju", "pw")
	require.NoError(t, err)
	require.Equal(t, "ambient-session", reg.CookieMap("carol#jm#ju")["AVS"])

	// An explicit key always wins over the ambient one
	_, err = c.Login(identity.WithKey(context.Background(), "ambient"), "explicit#jm#ju", "ju", "pw")
	require.NoError(t, err)
	require.Equal(t, "ambient-session", reg.CookieMap("explicit#jm#ju")["AVS"])
	require.Empty(t, reg.CookieMap("ambient"))
}

func TestLoginExtractsUIDAndPersistsCookies(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		require.Equal(t, "ju", r.PostForm.Get("username"))
		http.SetCookie(w, &http.Cookie{Name: "AVS", Value: "serverside"})
		now := time.Now().Unix()
		env, _ := json.Marshal(map[string]any{"code": 200, "data": encodePayload(t, []byte(`{"user":{"uid":42}}`), now)})
		w.Write(env)
	}))
	t.Cleanup(ts.Close)

	dir := t.TempDir()
	log := logs.NewTestingLog(t)
	reg, err := jmsession.NewRegistry(log, filepath.Join(dir, "cookies"), filepath.Join(dir, "cookies.json"), ts.URL, false)
	require.NoError(t, err)
	c := NewClient(log, reg, ts.URL, "1.8.0", "1.8.0")

	res, err := c.Login(context.Background(), "alice#jm#ju", "ju", "pw")
	require.NoError(t, err)
	require.Equal(t, "42", res.UID)

	// Cookies survived into a fresh registry backed by the same directory
	reg2, err := jmsession.NewRegistry(log, filepath.Join(dir, "cookies"), filepath.Join(dir, "cookies.json"), ts.URL, false)
	require.NoError(t, err)
	require.Equal(t, "serverside", reg2.CookieMap("alice#jm#ju")["AVS"])
}
