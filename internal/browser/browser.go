// Package browser drives a Chromium instance over the DevTools protocol so
// that pages can be captured after their scripts have run. Tabs and their
// frames are exposed as frametree windows.
package browser

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"
	"go.uber.org/zap"

	"github.com/adityalohuni/snapfile/internal/livepage"
)

var ErrClosed = errors.New("browser: closed")

const (
	defaultNavigationTimeout = 30 * time.Second
	defaultMaxFrameDepth     = 8
)

type Config struct {
	// RemoteURL is the DevTools WebSocket URL of a running browser. A local
	// headless Chromium is launched when empty.
	RemoteURL string
	Headful   bool
	// Stealth patches new tabs against common automation checks.
	Stealth           bool
	UserAgent         string
	NavigationTimeout time.Duration
	MaxFrameDepth     int
	Logger            *zap.Logger
}

func (c *Config) defaults() {
	if c.NavigationTimeout <= 0 {
		c.NavigationTimeout = defaultNavigationTimeout
	}
	if c.MaxFrameDepth <= 0 {
		c.MaxFrameDepth = defaultMaxFrameDepth
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
}

type Browser struct {
	cfg    Config
	loader *livepage.Loader

	mu     sync.Mutex
	rod    *rod.Browser
	lnch   *launcher.Launcher
	closed bool
}

// Launch starts a local browser or connects to cfg.RemoteURL.
func Launch(cfg Config) (*Browser, error) {
	cfg.defaults()
	log := cfg.Logger

	wsURL := cfg.RemoteURL
	var l *launcher.Launcher
	if wsURL == "" {
		l = launcher.New().
			Headless(!cfg.Headful).
			Set("disable-blink-features", "AutomationControlled")
		u, err := l.Launch()
		if err != nil {
			return nil, fmt.Errorf("browser: launch: %w", err)
		}
		wsURL = u
		log.Info("launched local chromium", zap.String("url", wsURL), zap.Bool("headful", cfg.Headful))
	} else {
		log.Info("connecting to remote browser", zap.String("url", wsURL))
	}

	r := rod.New().ControlURL(wsURL)
	if err := r.Connect(); err != nil {
		if l != nil {
			l.Cleanup()
		}
		return nil, fmt.Errorf("browser: connect: %w", err)
	}
	return &Browser{
		cfg:    cfg,
		loader: livepage.NewLoader(livepage.Options{Logger: log.Named("snapshot")}),
		rod:    r,
		lnch:   l,
	}, nil
}

// Open navigates a new tab to url and waits for its load event.
func (b *Browser) Open(ctx context.Context, url string) (*Tab, error) {
	b.mu.Lock()
	r, closed := b.rod, b.closed
	b.mu.Unlock()
	if closed {
		return nil, ErrClosed
	}

	var (
		page *rod.Page
		err  error
	)
	if b.cfg.Stealth {
		page, err = stealth.Page(r)
	} else {
		page, err = r.Page(proto.TargetCreateTarget{URL: ""})
	}
	if err != nil {
		return nil, fmt.Errorf("browser: create tab: %w", err)
	}
	if b.cfg.UserAgent != "" {
		if err := page.SetUserAgent(&proto.NetworkSetUserAgentOverride{UserAgent: b.cfg.UserAgent}); err != nil {
			b.cfg.Logger.Warn("user agent override failed", zap.Error(err))
		}
	}

	navCtx, cancel := context.WithTimeout(ctx, b.cfg.NavigationTimeout)
	defer cancel()
	if err := page.Context(navCtx).Navigate(url); err != nil {
		_ = page.Close()
		return nil, fmt.Errorf("browser: navigate %s: %w", url, err)
	}
	if err := page.Context(navCtx).WaitLoad(); err != nil {
		b.cfg.Logger.Warn("wait load", zap.String("url", url), zap.Error(err))
	}
	return &Tab{page: page, browser: b, owned: true}, nil
}

func (b *Browser) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	var err error
	if b.rod != nil {
		err = b.rod.Close()
	}
	if b.lnch != nil {
		b.lnch.Cleanup()
	}
	return err
}
