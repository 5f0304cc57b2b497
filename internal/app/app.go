// Package app assembles the capture stack from settings for the snapfile
// binaries.
package app

import (
	"fmt"
	"net/http"
	"path/filepath"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/adityalohuni/snapfile/internal/browser"
	"github.com/adityalohuni/snapfile/internal/capture"
	"github.com/adityalohuni/snapfile/internal/config"
	"github.com/adityalohuni/snapfile/internal/fetch"
	"github.com/adityalohuni/snapfile/internal/page"
	"github.com/adityalohuni/snapfile/internal/service"
	"github.com/adityalohuni/snapfile/internal/wsbridge"
)

type App struct {
	Settings config.Settings
	Bridge   *wsbridge.Bridge
	Store    *page.Store
	Service  *service.Service
	Logger   *zap.Logger
}

// NewLogger builds the production logger, at debug level when debug is set.
func NewLogger(debug bool) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	if debug {
		cfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	}
	logger, err := cfg.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	return logger, nil
}

// ArchiveDir is where archives live for the settings file at configPath.
func ArchiveDir(configPath string) string {
	return filepath.Join(filepath.Dir(configPath), "archives")
}

// New wires the bridge, transport, capturer, store and service. storeDir
// keeps archives in memory when empty.
func New(settings config.Settings, storeDir string, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	bridge := wsbridge.NewBridge(wsbridge.Options{
		CheckOrigin: func(*http.Request) bool { return true },
		Logger:      logger.Named("wsbridge"),
	})
	capturer := capture.New(capture.Options{
		Transport: fetch.New(fetch.Config{
			UserAgent: settings.UserAgent,
			Logger:    logger.Named("fetch"),
		}),
		Channel:      bridge,
		FrameTimeout: settings.FrameTimeout,
		FrameMaxWait: settings.FrameMaxWait,
		Logger:       logger.Named("capture"),
	})
	store, err := page.NewStore(storeDir)
	if err != nil {
		return nil, err
	}

	chromium := settings.Browser == config.BrowserChromium
	opts := service.Options{
		Capturer: capturer,
		Store:    store,
		Defaults: settings.CaptureOptions(),
		Rendered: chromium,
		Logger:   logger.Named("service"),
	}
	if chromium {
		opts.Browser = BrowserFactory(settings, logger)
	}
	return &App{
		Settings: settings,
		Bridge:   bridge,
		Store:    store,
		Service:  service.New(opts),
		Logger:   logger,
	}, nil
}

func BrowserFactory(settings config.Settings, logger *zap.Logger) service.BrowserFactory {
	return func() (*browser.Browser, error) {
		return browser.Launch(browser.Config{
			Stealth:   settings.Stealth,
			UserAgent: settings.UserAgent,
			Logger:    logger.Named("browser"),
		})
	}
}

func (a *App) Close() error {
	return a.Service.Close()
}
