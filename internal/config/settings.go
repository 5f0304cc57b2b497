package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/google/uuid"
)

const (
	defaultDaemonAddr      = ":9199"
	defaultSessionMaxIdle  = 30 * time.Minute
	defaultRefreshInterval = 2 * time.Second
	defaultFrameTimeout    = 500 * time.Millisecond
	defaultFrameMaxWait    = 10 * time.Second
	defaultBrowser         = BrowserStatic
	defaultConfigDirName   = "snapfile"
	defaultConfigFileName  = "config.toml"
)

const (
	BrowserStatic   = "static"
	BrowserChromium = "chromium"
)

type Settings struct {
	Path               string
	DaemonAddr         string
	APIToken           string
	AdminToken         string
	SessionMaxIdle     time.Duration
	AdminBaseURL       string
	TUIRefreshInterval time.Duration

	Browser      string
	Stealth      bool
	UserAgent    string
	FrameTimeout time.Duration
	FrameMaxWait time.Duration
	Capture      Options
}

type fileConfig struct {
	Daemon  daemonConfig  `toml:"daemon"`
	Auth    authConfig    `toml:"auth"`
	TUI     tuiConfig     `toml:"tui"`
	Capture captureConfig `toml:"capture"`
}

type daemonConfig struct {
	Addr           string `toml:"addr"`
	SessionMaxIdle string `toml:"session_max_idle"`
}

type authConfig struct {
	APIToken   string `toml:"api_token"`
	AdminToken string `toml:"admin_token"`
}

type tuiConfig struct {
	AdminBaseURL    string `toml:"admin_base_url"`
	RefreshInterval string `toml:"refresh_interval"`
}

type captureConfig struct {
	Browser      string  `toml:"browser"`
	Stealth      bool    `toml:"stealth"`
	UserAgent    string  `toml:"user_agent"`
	FrameTimeout string  `toml:"frame_timeout"`
	FrameMaxWait string  `toml:"frame_max_wait"`
	Defaults     Options `toml:"defaults"`
}

func LoadOrCreate(path string) (Settings, error) {
	if path == "" {
		var err error
		path, err = DefaultPath()
		if err != nil {
			return Settings{}, err
		}
	}

	cfg := defaultFileConfig()
	exists := false
	if _, err := os.Stat(path); err == nil {
		exists = true
		// capture defaults are decoded in place so absent keys keep their defaults
		onDisk := fileConfig{Capture: captureConfig{Defaults: cfg.Capture.Defaults}}
		if _, err := toml.DecodeFile(path, &onDisk); err != nil {
			return Settings{}, fmt.Errorf("decode config %s: %w", path, err)
		}
		mergeFileConfig(&cfg, onDisk)
	} else if !errors.Is(err, os.ErrNotExist) {
		return Settings{}, fmt.Errorf("stat config %s: %w", path, err)
	}

	changed := false
	if strings.TrimSpace(cfg.Auth.APIToken) == "" {
		cfg.Auth.APIToken = randomToken()
		changed = true
	}
	if strings.TrimSpace(cfg.Auth.AdminToken) == "" {
		cfg.Auth.AdminToken = randomToken()
		changed = true
	}
	if strings.TrimSpace(cfg.TUI.AdminBaseURL) == "" {
		cfg.TUI.AdminBaseURL = deriveAdminBaseURL(cfg.Daemon.Addr)
		changed = true
	}

	if !exists || changed {
		if err := writeConfig(path, cfg); err != nil {
			return Settings{}, err
		}
	}

	return toSettings(path, cfg)
}

// Save writes settings to disk and returns the normalized values loaded back
// from the config file (including defaults and generated tokens when needed).
func Save(settings Settings) (Settings, error) {
	path := strings.TrimSpace(settings.Path)
	if path == "" {
		var err error
		path, err = DefaultPath()
		if err != nil {
			return Settings{}, err
		}
	}

	cfg := fileConfig{
		Daemon: daemonConfig{
			Addr:           settings.DaemonAddr,
			SessionMaxIdle: durationOr(settings.SessionMaxIdle, defaultSessionMaxIdle),
		},
		Auth: authConfig{
			APIToken:   settings.APIToken,
			AdminToken: settings.AdminToken,
		},
		TUI: tuiConfig{
			AdminBaseURL:    settings.AdminBaseURL,
			RefreshInterval: durationOr(settings.TUIRefreshInterval, defaultRefreshInterval),
		},
		Capture: captureConfig{
			Browser:      settings.Browser,
			Stealth:      settings.Stealth,
			UserAgent:    settings.UserAgent,
			FrameTimeout: durationOr(settings.FrameTimeout, defaultFrameTimeout),
			FrameMaxWait: durationOr(settings.FrameMaxWait, defaultFrameMaxWait),
			Defaults:     settings.Capture,
		},
	}

	if err := writeConfig(path, cfg); err != nil {
		return Settings{}, err
	}
	return LoadOrCreate(path)
}

// CaptureOptions returns a fresh copy of the configured capture defaults.
func (s Settings) CaptureOptions() *Options {
	opts := s.Capture
	return &opts
}

func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home dir: %w", err)
	}
	return filepath.Join(home, ".config", defaultConfigDirName, defaultConfigFileName), nil
}

func defaultFileConfig() fileConfig {
	return fileConfig{
		Daemon: daemonConfig{
			Addr:           defaultDaemonAddr,
			SessionMaxIdle: defaultSessionMaxIdle.String(),
		},
		TUI: tuiConfig{
			RefreshInterval: defaultRefreshInterval.String(),
		},
		Capture: captureConfig{
			Browser:      defaultBrowser,
			FrameTimeout: defaultFrameTimeout.String(),
			FrameMaxWait: defaultFrameMaxWait.String(),
			Defaults:     *Default(),
		},
	}
}

// mergeFileConfig overlays the non-blank string fields of src onto dst.
// Booleans and capture defaults are taken from src as decoded.
func mergeFileConfig(dst *fileConfig, src fileConfig) {
	fields := []struct {
		dst *string
		src string
	}{
		{&dst.Daemon.Addr, src.Daemon.Addr},
		{&dst.Daemon.SessionMaxIdle, src.Daemon.SessionMaxIdle},
		{&dst.Auth.APIToken, src.Auth.APIToken},
		{&dst.Auth.AdminToken, src.Auth.AdminToken},
		{&dst.TUI.AdminBaseURL, src.TUI.AdminBaseURL},
		{&dst.TUI.RefreshInterval, src.TUI.RefreshInterval},
		{&dst.Capture.Browser, src.Capture.Browser},
		{&dst.Capture.UserAgent, src.Capture.UserAgent},
		{&dst.Capture.FrameTimeout, src.Capture.FrameTimeout},
		{&dst.Capture.FrameMaxWait, src.Capture.FrameMaxWait},
	}
	for _, f := range fields {
		if v := strings.TrimSpace(f.src); v != "" {
			*f.dst = v
		}
	}
	dst.Capture.Stealth = src.Capture.Stealth
	dst.Capture.Defaults = src.Capture.Defaults
}

func toSettings(path string, cfg fileConfig) (Settings, error) {
	switch cfg.Capture.Browser {
	case BrowserStatic, BrowserChromium:
	default:
		return Settings{}, fmt.Errorf("invalid capture.browser %q: want %s or %s", cfg.Capture.Browser, BrowserStatic, BrowserChromium)
	}
	s := Settings{
		Path:         path,
		DaemonAddr:   cfg.Daemon.Addr,
		APIToken:     cfg.Auth.APIToken,
		AdminToken:   cfg.Auth.AdminToken,
		AdminBaseURL: cfg.TUI.AdminBaseURL,
		Browser:      cfg.Capture.Browser,
		Stealth:      cfg.Capture.Stealth,
		UserAgent:    cfg.Capture.UserAgent,
		Capture:      cfg.Capture.Defaults,
	}
	durations := []struct {
		key string
		raw string
		dst *time.Duration
	}{
		{"daemon.session_max_idle", cfg.Daemon.SessionMaxIdle, &s.SessionMaxIdle},
		{"tui.refresh_interval", cfg.TUI.RefreshInterval, &s.TUIRefreshInterval},
		{"capture.frame_timeout", cfg.Capture.FrameTimeout, &s.FrameTimeout},
		{"capture.frame_max_wait", cfg.Capture.FrameMaxWait, &s.FrameMaxWait},
	}
	for _, d := range durations {
		v, err := time.ParseDuration(d.raw)
		if err != nil {
			return Settings{}, fmt.Errorf("invalid %s duration: %w", d.key, err)
		}
		*d.dst = v
	}
	return s, nil
}

func writeConfig(path string, cfg fileConfig) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("open config file: %w", err)
	}
	defer file.Close()

	if _, err := file.WriteString("# snapfile config for snapfile, snapfiled and snapfiled-tui\n\n"); err != nil {
		return fmt.Errorf("write config header: %w", err)
	}
	if err := toml.NewEncoder(file).Encode(cfg); err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	return nil
}

func deriveAdminBaseURL(addr string) string {
	host := strings.TrimSpace(addr)
	if host == "" {
		host = defaultDaemonAddr
	}
	if strings.Contains(host, "://") {
		return strings.TrimRight(host, "/")
	}
	if strings.HasPrefix(host, ":") {
		return "http://127.0.0.1" + host
	}
	h, p, err := net.SplitHostPort(host)
	if err == nil {
		if h == "" || h == "0.0.0.0" || h == "::" || h == "[::]" {
			h = "127.0.0.1"
		}
		return "http://" + net.JoinHostPort(h, p)
	}
	if strings.Contains(host, ":") {
		return "http://" + host
	}
	return "http://" + net.JoinHostPort(host, "9199")
}

func durationOr(d, fallback time.Duration) string {
	if d <= 0 {
		d = fallback
	}
	return d.String()
}

func randomToken() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}
