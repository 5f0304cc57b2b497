// Package service ties capture sessions to their bookkeeping: it runs a
// capture, records its progress in the session registry and stores the
// resulting archive.
package service

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/adityalohuni/snapfile/internal/browser"
	"github.com/adityalohuni/snapfile/internal/capture"
	"github.com/adityalohuni/snapfile/internal/config"
	"github.com/adityalohuni/snapfile/internal/page"
	"github.com/adityalohuni/snapfile/internal/session"
)

var ErrNoBrowser = errors.New("service: no browser configured")

// BrowserFactory starts a browser on first use.
type BrowserFactory func() (*browser.Browser, error)

type Options struct {
	Capturer *capture.Capturer
	Store    *page.Store
	Registry *session.Registry
	// Defaults applies when a request carries no options.
	Defaults *config.Options
	// Browser renders pages before capture when set and a request asks
	// for it.
	Browser BrowserFactory
	// Rendered makes every capture go through the browser.
	Rendered bool
	Logger   *zap.Logger
}

type Service struct {
	opts Options

	browserOnce sync.Once
	browser     *browser.Browser
	browserErr  error
}

type Request struct {
	URL string
	// Content replaces fetching URL when set.
	Content  string
	Options  *config.Options
	Rendered bool
	Client   string
	Progress func(capture.Event)
}

func New(opts Options) *Service {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Capturer == nil {
		opts.Capturer = capture.New(capture.Options{Logger: opts.Logger.Named("capture")})
	}
	if opts.Registry == nil {
		opts.Registry = session.NewRegistry()
	}
	if opts.Store == nil {
		opts.Store, _ = page.NewStore("")
	}
	if opts.Defaults == nil {
		opts.Defaults = config.Default()
	}
	return &Service{opts: opts}
}

func (s *Service) Store() *page.Store          { return s.opts.Store }
func (s *Service) Registry() *session.Registry { return s.opts.Registry }

// Capture runs one capture and stores its archive.
func (s *Service) Capture(ctx context.Context, req Request) (page.Archive, error) {
	jobID := s.opts.Registry.Start(req.URL, req.Client)
	archive, err := s.capture(ctx, jobID, req)
	s.opts.Registry.Finish(jobID, archive.ID, err)
	if err != nil {
		s.opts.Logger.Warn("capture failed", zap.String("job", jobID), zap.String("url", req.URL), zap.Error(err))
		return page.Archive{}, err
	}
	return archive, nil
}

func (s *Service) capture(ctx context.Context, jobID string, req Request) (page.Archive, error) {
	opts := req.Options
	if opts == nil {
		opts = s.opts.Defaults
	}
	creq := capture.Request{
		URL:     req.URL,
		Content: req.Content,
		Options: opts,
		Progress: func(e capture.Event) {
			s.opts.Registry.Progress(jobID, e)
			if req.Progress != nil {
				req.Progress(e)
			}
		},
	}
	if (req.Rendered || s.opts.Rendered) && req.Content == "" {
		b, err := s.startBrowser()
		if err != nil {
			return page.Archive{}, err
		}
		tab, err := b.Open(ctx, req.URL)
		if err != nil {
			return page.Archive{}, err
		}
		defer tab.Close()
		creq.Window = tab
	}

	res, err := s.opts.Capturer.Capture(ctx, creq)
	if err != nil {
		return page.Archive{}, err
	}
	archive, err := s.opts.Store.Put(page.Archive{
		SessionID: res.SessionID,
		URL:       res.URL,
		Title:     res.Title,
		Frames:    res.Frames,
		Stats:     res.Stats,
	}, res.Content)
	if err != nil {
		return page.Archive{}, fmt.Errorf("store archive: %w", err)
	}
	return archive, nil
}

func (s *Service) startBrowser() (*browser.Browser, error) {
	if s.opts.Browser == nil {
		return nil, ErrNoBrowser
	}
	s.browserOnce.Do(func() {
		s.browser, s.browserErr = s.opts.Browser()
	})
	return s.browser, s.browserErr
}

// Close releases the browser if one was started.
func (s *Service) Close() error {
	if s.browser != nil {
		return s.browser.Close()
	}
	return nil
}
