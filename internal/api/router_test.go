package api

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adityalohuni/snapfile/internal/admin"
	"github.com/adityalohuni/snapfile/internal/adminclient"
	"github.com/adityalohuni/snapfile/internal/capture"
	"github.com/adityalohuni/snapfile/internal/fetch/fetchtest"
	"github.com/adityalohuni/snapfile/internal/page"
	"github.com/adityalohuni/snapfile/internal/service"
	"github.com/adityalohuni/snapfile/internal/session"
	"github.com/adityalohuni/snapfile/internal/wsbridge"
)

const (
	apiToken   = "api-secret"
	adminToken = "admin-secret"
)

type fixture struct {
	srv *httptest.Server
	svc *service.Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	tr := fetchtest.New(map[string]fetchtest.Resource{
		"https://a.test/": fetchtest.HTML(`<html><head><title>Front</title><link rel="stylesheet" href="s.css"></head>` +
			`<body><h1>News</h1><a href="/more">More</a><img src="p.png"></body></html>`),
		"https://a.test/s.css": fetchtest.CSS(`h1{color:red}`),
		"https://a.test/p.png": fetchtest.PNG("p"),
	})
	bridge := wsbridge.NewBridge(wsbridge.Options{})
	svc := service.New(service.Options{
		Capturer: capture.New(capture.Options{Transport: tr, Channel: bridge}),
	})
	handler := NewRouter(Config{
		Service: svc,
		Bridge:  bridge,
		Admin: &admin.Handlers{
			StartedAt:  time.Now(),
			Sessions:   svc.Registry(),
			Store:      svc.Store(),
			Bridge:     bridge,
			ConfigPath: filepath.Join(t.TempDir(), "config.toml"),
		},
		APIToken:   apiToken,
		AdminToken: adminToken,
	})
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return &fixture{srv: srv, svc: svc}
}

func (f *fixture) do(t *testing.T, method, path, token string, body any, header http.Header) *http.Response {
	t.Helper()
	var rd io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, f.srv.URL+path, rd)
	require.NoError(t, err)
	for k, v := range header {
		req.Header[k] = v
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestCaptureEndpoints(t *testing.T) {
	f := newFixture(t)

	resp := f.do(t, http.MethodPost, "/api/captures", apiToken, CaptureRequest{URL: "https://a.test/"}, nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var archive page.Archive
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&archive))
	assert.Equal(t, "Front", archive.Title)
	require.NotNil(t, archive.Stats)

	resp = f.do(t, http.MethodGet, "/api/captures/"+archive.ID, apiToken, nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Type"), "text/html")
	html, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(html), "color:red")
	assert.Contains(t, string(html), "data:image/png;base64,")

	resp = f.do(t, http.MethodGet, "/api/captures/"+archive.ID+"/summary?maxLinks=5", apiToken, nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var sum page.Summary
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&sum))
	assert.Equal(t, "Front", sum.Title)
	require.Len(t, sum.Links, 1)
	assert.Equal(t, "https://a.test/more", sum.Links[0].Href)

	resp = f.do(t, http.MethodGet, "/api/captures", apiToken, nil, nil)
	var list []page.Archive
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&list))
	require.Len(t, list, 1)
	assert.Equal(t, archive.ID, list[0].ID)
}

func TestCaptureErrors(t *testing.T) {
	f := newFixture(t)

	resp := f.do(t, http.MethodPost, "/api/captures", "", CaptureRequest{URL: "https://a.test/"}, nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = f.do(t, http.MethodPost, "/api/captures", apiToken, CaptureRequest{}, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = f.do(t, http.MethodPost, "/api/captures", apiToken, CaptureRequest{URL: "https://a.test/", Rendered: true}, nil)
	assert.Equal(t, http.StatusNotImplemented, resp.StatusCode)

	resp = f.do(t, http.MethodPost, "/api/captures", apiToken, CaptureRequest{URL: "https://gone.test/"}, nil)
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)

	resp = f.do(t, http.MethodGet, "/api/captures/nope", apiToken, nil, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp = f.do(t, http.MethodGet, "/api/captures/nope/summary", apiToken, nil, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestCaptureStream(t *testing.T) {
	f := newFixture(t)

	resp := f.do(t, http.MethodPost, "/api/captures", apiToken, CaptureRequest{URL: "https://a.test/"},
		http.Header{"Accept": {ndjson}})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var (
		types []capture.EventType
		last  StreamLine
	)
	sc := bufio.NewScanner(resp.Body)
	for sc.Scan() {
		var line StreamLine
		require.NoError(t, json.Unmarshal(sc.Bytes(), &line))
		if line.Event != nil {
			types = append(types, line.Event.Type)
		}
		last = line
	}
	require.NoError(t, sc.Err())
	require.NotEmpty(t, types)
	assert.Equal(t, capture.PageLoading, types[0])
	assert.Equal(t, capture.PageEnded, types[len(types)-1])
	assert.Contains(t, types, capture.ResourceLoaded)
	require.NotNil(t, last.Archive)
	assert.Empty(t, last.Error)
	assert.Equal(t, "Front", last.Archive.Title)
}

func TestAdminThroughClient(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	resp := f.do(t, http.MethodPost, "/api/captures", apiToken, CaptureRequest{URL: "https://a.test/"}, nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	client := adminclient.New(f.srv.URL, adminToken, nil)
	status, err := client.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, status.Sessions)
	assert.Equal(t, 1, status.Archives)
	assert.Zero(t, status.Running)

	jobs, err := client.ListSessions(ctx)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, session.StateDone, jobs[0].State)
	assert.True(t, strings.HasPrefix(jobs[0].Client, "http "))

	archives, err := client.ListArchives(ctx)
	require.NoError(t, err)
	require.Len(t, archives, 1)

	peers, err := client.ListPeers(ctx)
	require.NoError(t, err)
	assert.Empty(t, peers)
	assert.Error(t, client.DisconnectPeer(ctx, "nobody"))

	cfg, err := client.GetConfig(ctx)
	require.NoError(t, err)
	cfg.Browser = "chromium"
	cfg.Path = ""
	saved, err := client.PutConfig(ctx, cfg)
	require.NoError(t, err)
	assert.Equal(t, "chromium", saved.Browser)

	_, err = adminclient.New(f.srv.URL, apiToken, nil).Status(ctx)
	assert.Error(t, err)
}

func TestAdminUI(t *testing.T) {
	f := newFixture(t)
	resp := f.do(t, http.MethodGet, "/admin/ui", adminToken, nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "No archives yet.")
}
