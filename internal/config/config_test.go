package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeriveChildLeavesParentUntouched(t *testing.T) {
	parent := Default()
	parent.URL = "https://example.com/"

	child := DeriveChild(parent, WithURL("https://example.com/frame.html"))

	assert.False(t, child.InsertSingleFileComment)
	assert.False(t, child.InsertFaviconLink)
	assert.Equal(t, "https://example.com/frame.html", child.URL)
	assert.Equal(t, parent.CompressHTML, child.CompressHTML)

	assert.True(t, parent.InsertSingleFileComment)
	assert.True(t, parent.InsertFaviconLink)
	assert.Equal(t, "https://example.com/", parent.URL)
}

func TestDeriveChildOverridesApplyAfterPreset(t *testing.T) {
	child := DeriveChild(Default(), func(o *Options) { o.InsertFaviconLink = true })
	assert.True(t, child.InsertFaviconLink)
}

func TestMaxResourceBytes(t *testing.T) {
	opts := Default()
	assert.Zero(t, opts.MaxResourceBytes())

	opts.MaxResourceSizeEnabled = true
	opts.MaxResourceSize = 2
	assert.Equal(t, int64(2*1024*1024), opts.MaxResourceBytes())
}

func TestLoadOrCreateWritesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")

	settings, err := LoadOrCreate(path)
	require.NoError(t, err)

	assert.Equal(t, path, settings.Path)
	assert.Equal(t, defaultDaemonAddr, settings.DaemonAddr)
	assert.NotEmpty(t, settings.APIToken)
	assert.NotEmpty(t, settings.AdminToken)
	assert.Equal(t, "http://127.0.0.1:9199", settings.AdminBaseURL)
	assert.Equal(t, 500*time.Millisecond, settings.FrameTimeout)
	assert.Equal(t, BrowserStatic, settings.Browser)
	assert.Equal(t, *Default(), settings.Capture)

	_, err = os.Stat(path)
	require.NoError(t, err)

	again, err := LoadOrCreate(path)
	require.NoError(t, err)
	assert.Equal(t, settings.APIToken, again.APIToken)
}

func TestLoadOrCreateKeepsPartialCaptureDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	body := "[capture]\nbrowser = \"chromium\"\n\n[capture.defaults]\ncompress_html = false\n"
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	settings, err := LoadOrCreate(path)
	require.NoError(t, err)

	assert.Equal(t, BrowserChromium, settings.Browser)
	assert.False(t, settings.Capture.CompressHTML)
	assert.True(t, settings.Capture.RemoveScripts)
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	settings, err := LoadOrCreate(path)
	require.NoError(t, err)

	settings.DaemonAddr = "127.0.0.1:9300"
	settings.Capture.LazyLoadImages = true
	settings.FrameTimeout = time.Second

	saved, err := Save(settings)
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:9300", saved.DaemonAddr)
	assert.True(t, saved.Capture.LazyLoadImages)
	assert.Equal(t, time.Second, saved.FrameTimeout)
}

func TestLoadOrCreateRejectsUnknownBrowser(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte("[capture]\nbrowser = \"netscape\"\n"), 0o600))

	_, err := LoadOrCreate(path)
	require.Error(t, err)
}

func TestDeriveAdminBaseURL(t *testing.T) {
	cases := map[string]string{
		":9199":          "http://127.0.0.1:9199",
		"0.0.0.0:8080":   "http://127.0.0.1:8080",
		"http://host:1/": "http://host:1",
		"snap.local":     "http://snap.local:9199",
		"10.0.0.2:9000":  "http://10.0.0.2:9000",
	}
	for in, want := range cases {
		assert.Equal(t, want, deriveAdminBaseURL(in), in)
	}
}
