//go:build integration

package browser

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adityalohuni/snapfile/internal/capture"
	"github.com/adityalohuni/snapfile/internal/config"
	"github.com/adityalohuni/snapfile/internal/fetch"
)

func TestCaptureRenderedTab(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprint(w, `<!DOCTYPE html><html><head><title>Live</title></head><body>`+
			`<div id="out"></div><canvas id="c" width="4" height="4"></canvas>`+
			`<iframe src="/frame"></iframe>`+
			`<script>document.getElementById("out").textContent = "rendered";`+
			`document.getElementById("c").getContext("2d").fillRect(0, 0, 4, 4);</script>`+
			`</body></html>`)
	})
	mux.HandleFunc("/frame", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprint(w, `<html><body><p>framed</p></body></html>`)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	b, err := Launch(Config{Stealth: true})
	require.NoError(t, err)
	defer b.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	tab, err := b.Open(ctx, srv.URL+"/")
	require.NoError(t, err)
	defer tab.Close()

	c := capture.New(capture.Options{Transport: fetch.New(fetch.Config{}), FrameTimeout: 5 * time.Second})
	opts := config.Default()
	opts.RemoveScripts = true
	res, err := c.Capture(ctx, capture.Request{URL: srv.URL + "/", Window: tab, Options: opts})
	require.NoError(t, err)

	assert.Equal(t, "Live", res.Title)
	assert.Contains(t, res.Content, "rendered")
	assert.Contains(t, res.Content, "framed")
	assert.Contains(t, res.Content, "data:image/png;base64,")
	assert.NotContains(t, res.Content, "<script")
}
