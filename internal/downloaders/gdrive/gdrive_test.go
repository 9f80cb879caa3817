package gdrive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"github.com/tanq16/danzod/internal/events"
	"github.com/tanq16/danzod/internal/manager"
	"github.com/tanq16/danzod/internal/plugin"
	"github.com/tanq16/danzod/internal/store"
)

var driveFiles = map[string]struct {
	item    driveItem
	content string
}{
	"abc":   {driveItem{ID: "abc", Name: "report.pdf", Size: "11", MimeType: "application/pdf"}, "hello drive"},
	"fold":  {driveItem{ID: "fold", Name: "Photos", MimeType: folderMimeType}, ""},
	"img1":  {driveItem{ID: "img1", Name: "a.jpg", Size: "3", MimeType: "image/jpeg"}, "aaa"},
	"img2":  {driveItem{ID: "img2", Name: "b.jpg", Size: "4", MimeType: "image/jpeg"}, "bbbb"},
	"doc":   {driveItem{ID: "doc", Name: "Notes", MimeType: "application/vnd.google-apps.document"}, ""},
	"inner": {driveItem{ID: "inner", Name: "Nested", MimeType: folderMimeType}, ""},
}

// driveServer mimics the v3 files endpoints. authorized decides whether a
// request carries valid credentials.
func driveServer(t *testing.T, authorized func(r *http.Request) bool) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/files", func(w http.ResponseWriter, r *http.Request) {
		if !authorized(r) {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		assert.Contains(t, r.URL.Query().Get("q"), "'fold' in parents")
		page := folderPage{Files: []driveItem{driveFiles["img1"].item, driveFiles["doc"].item}, NextPageToken: "p2"}
		if r.URL.Query().Get("pageToken") == "p2" {
			page = folderPage{Files: []driveItem{driveFiles["inner"].item, driveFiles["img2"].item}}
		}
		json.NewEncoder(w).Encode(page)
	})
	mux.HandleFunc("/files/", func(w http.ResponseWriter, r *http.Request) {
		if !authorized(r) {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		entry, ok := driveFiles[strings.TrimPrefix(r.URL.Path, "/files/")]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		if r.URL.Query().Get("alt") == "media" {
			http.ServeContent(w, r, entry.item.Name, time.Time{}, strings.NewReader(entry.content))
			return
		}
		json.NewEncoder(w).Encode(entry.item)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func withKey(r *http.Request) bool {
	return r.URL.Query().Get("key") == "AIzaTEST"
}

func newDownloader(t *testing.T, link string, env plugin.Env, apiBase string) (*Downloader, *manager.File) {
	t.Helper()
	mgr := manager.New(store.NewMemoryStore(), events.NewBus(), manager.Options{})
	pkg, err := mgr.AddPackage(store.PackageRow{Name: "drive", Queue: true})
	require.NoError(t, err)
	ids, err := mgr.AddLinks(pkg.ID, []manager.Link{{URL: link, Plugin: Name}})
	require.NoError(t, err)
	f, err := mgr.GetFile(ids[0])
	require.NoError(t, err)
	p, err := New(f, env)
	require.NoError(t, err)
	d := p.(*Downloader)
	d.apiBase = apiBase
	return d, f
}

func TestExtractFileID(t *testing.T) {
	cases := map[string]string{
		"https://drive.google.com/file/d/1AbC_x/view?usp=sharing": "1AbC_x",
		"https://drive.google.com/open?id=1XyZ":                   "1XyZ",
		"https://drive.google.com/drive/folders/0Fold":            "0Fold",
		"https://drive.google.com/drive/u/1/folders/0Fold":        "0Fold",
		"https://drive.google.com/uc?export=download&id=77":       "77",
	}
	for link, want := range cases {
		got, err := extractFileID(link)
		require.NoError(t, err, link)
		assert.Equal(t, want, got, link)
	}
	_, err := extractFileID("https://drive.google.com/drive/my-drive")
	assert.Error(t, err)
}

func TestNewRequiresAuth(t *testing.T) {
	mgr := manager.New(store.NewMemoryStore(), events.NewBus(), manager.Options{})
	pkg, err := mgr.AddPackage(store.PackageRow{Name: "drive", Queue: true})
	require.NoError(t, err)
	ids, err := mgr.AddLinks(pkg.ID, []manager.Link{{URL: "https://drive.google.com/file/d/abc/view", Plugin: Name}})
	require.NoError(t, err)
	f, err := mgr.GetFile(ids[0])
	require.NoError(t, err)
	_, err = New(f, plugin.Env{})
	assert.Error(t, err)
}

func TestDownloadFileWithAPIKey(t *testing.T) {
	srv := driveServer(t, withKey)
	dir := t.TempDir()
	d, f := newDownloader(t, "https://drive.google.com/file/d/abc/view", plugin.Env{DownloadDir: dir, DriveAPIKey: "AIzaTEST"}, srv.URL)

	require.NoError(t, d.Process(context.Background(), f))
	assert.Equal(t, "report.pdf", f.Name())
	assert.Equal(t, int64(11), f.Size())
	got, err := os.ReadFile(filepath.Join(dir, "report.pdf"))
	require.NoError(t, err)
	assert.Equal(t, "hello drive", string(got))
}

func TestDownloadFolderSkipsNativeDocs(t *testing.T) {
	srv := driveServer(t, withKey)
	dir := t.TempDir()
	d, f := newDownloader(t, "https://drive.google.com/drive/folders/fold", plugin.Env{DownloadDir: dir, DriveAPIKey: "AIzaTEST"}, srv.URL)

	require.NoError(t, d.Process(context.Background(), f))
	assert.Equal(t, "Photos", f.Name())
	assert.Equal(t, int64(7), f.Size())
	entries, err := os.ReadDir(filepath.Join(dir, "Photos"))
	require.NoError(t, err)
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	assert.Equal(t, []string{"a.jpg", "b.jpg"}, names)
	assert.Equal(t, int64(0), d.Transfer().BytesLeft())
}

func TestDownloadRejectsNativeDocument(t *testing.T) {
	srv := driveServer(t, withKey)
	d, f := newDownloader(t, "https://drive.google.com/open?id=doc", plugin.Env{DownloadDir: t.TempDir(), DriveAPIKey: "AIzaTEST"}, srv.URL)
	err := d.Process(context.Background(), f)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "native Google document")
}

func TestWrongKeyFails(t *testing.T) {
	srv := driveServer(t, withKey)
	d, f := newDownloader(t, "https://drive.google.com/file/d/abc/view", plugin.Env{DownloadDir: t.TempDir(), DriveAPIKey: "AIzaWRONG"}, srv.URL)
	err := d.Process(context.Background(), f)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 403")
}

// oauthFixture writes client credentials whose token endpoint is served by
// srv and returns their paths.
func oauthFixture(t *testing.T, tokenURL string) (string, string) {
	t.Helper()
	dir := t.TempDir()
	creds := fmt.Sprintf(`{"installed":{"client_id":"cid","client_secret":"secret","redirect_uris":["http://localhost"],"auth_uri":"https://accounts.google.com/o/oauth2/auth","token_uri":%q}}`, tokenURL)
	credsFile := filepath.Join(dir, "credentials.json")
	require.NoError(t, os.WriteFile(credsFile, []byte(creds), 0600))
	return credsFile, filepath.Join(dir, "tokens", "token.json")
}

func tokenEndpoint(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"access_token":"fresh","token_type":"Bearer","refresh_token":"r1","expires_in":3600}`)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestDownloadWithCachedToken(t *testing.T) {
	srv := driveServer(t, func(r *http.Request) bool {
		return r.Header.Get("Authorization") == "Bearer cached" && r.URL.Query().Get("key") == ""
	})
	credsFile, tokenFile := oauthFixture(t, "http://127.0.0.1:1/token")
	require.NoError(t, saveToken(tokenFile, &oauth2.Token{AccessToken: "cached", TokenType: "Bearer", Expiry: time.Now().Add(time.Hour)}))

	dir := t.TempDir()
	env := plugin.Env{DownloadDir: dir, DriveCredentials: credsFile, DriveTokenFile: tokenFile}
	d, f := newDownloader(t, "https://drive.google.com/file/d/abc/view", env, srv.URL)
	require.NoError(t, d.Process(context.Background(), f))
	got, err := os.ReadFile(filepath.Join(dir, "report.pdf"))
	require.NoError(t, err)
	assert.Equal(t, "hello drive", string(got))
}

func TestAccessTokenRefreshesExpired(t *testing.T) {
	tokens := tokenEndpoint(t)
	credsFile, tokenFile := oauthFixture(t, tokens.URL)
	require.NoError(t, saveToken(tokenFile, &oauth2.Token{AccessToken: "old", RefreshToken: "r0", Expiry: time.Now().Add(-time.Hour)}))

	got, err := accessToken(context.Background(), credsFile, tokenFile)
	require.NoError(t, err)
	assert.Equal(t, "fresh", got)
	saved, err := tokenFromFile(tokenFile)
	require.NoError(t, err)
	assert.Equal(t, "fresh", saved.AccessToken)
}

func TestAccessTokenWithoutCache(t *testing.T) {
	credsFile, tokenFile := oauthFixture(t, "http://127.0.0.1:1/token")
	_, err := accessToken(context.Background(), credsFile, tokenFile)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "gdrive-auth")
}

func TestAuthorizeCachesToken(t *testing.T) {
	tokens := tokenEndpoint(t)
	credsFile, tokenFile := oauthFixture(t, tokens.URL)
	var out bytes.Buffer
	require.NoError(t, Authorize(context.Background(), credsFile, tokenFile, strings.NewReader("code-123\n"), &out))
	assert.Contains(t, out.String(), "access_type=offline")
	saved, err := tokenFromFile(tokenFile)
	require.NoError(t, err)
	assert.Equal(t, "fresh", saved.AccessToken)
	assert.Equal(t, "r1", saved.RefreshToken)
}

func TestInfoDetectsDriveLinks(t *testing.T) {
	reg := plugin.NewRegistry()
	require.NoError(t, reg.Register(Info(), New))
	_, ok := reg.Detect("https://drive.google.com/file/d/abc/view")
	assert.True(t, ok)
	_, ok = reg.Detect("https://docs.google.com/document/d/abc")
	assert.False(t, ok)
}
