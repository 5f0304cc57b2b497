// Package capture runs capture sessions end to end: frame collection,
// the root document pipeline and the final serialization.
package capture

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/adityalohuni/snapfile/internal/batch"
	"github.com/adityalohuni/snapfile/internal/config"
	"github.com/adityalohuni/snapfile/internal/fetch"
	"github.com/adityalohuni/snapfile/internal/frametree"
	"github.com/adityalohuni/snapfile/internal/livepage"
	"github.com/adityalohuni/snapfile/internal/pipeline"
	"github.com/adityalohuni/snapfile/internal/protocol"
)

var ErrNoURL = errors.New("capture: url is required")

type EventType string

const (
	PageLoading           EventType = "page-loading"
	PageLoaded            EventType = "page-loaded"
	ResourcesInitializing EventType = "resources-initializing"
	ResourcesInitialized  EventType = "resources-initialized"
	ResourceLoaded        EventType = "resource-loaded"
	PageEnded             EventType = "page-ended"
)

type Event struct {
	Type        EventType `json:"type"`
	SessionID   int64     `json:"sessionId"`
	PageURL     string    `json:"pageURL"`
	Index       int       `json:"index,omitempty"`
	Max         int       `json:"max,omitempty"`
	ResourceURL string    `json:"resourceURL,omitempty"`
}

type Request struct {
	URL string
	// Content is used instead of fetching URL when set.
	Content string
	// Window, when set, is the already loaded top-level context to capture
	// (for instance a browser tab); URL is then only used for resolution.
	Window   frametree.Window
	Options  *config.Options
	Progress func(Event)
}

type Result struct {
	SessionID int64           `json:"sessionId"`
	URL       string          `json:"url"`
	Title     string          `json:"title"`
	Content   string          `json:"-"`
	Stats     *pipeline.Stats `json:"stats,omitempty"`
	Frames    int             `json:"frames"`
	Duration  time.Duration   `json:"duration"`
}

type Options struct {
	Transport fetch.Transport
	// Channel reaches isolated frames; an in-process bus when nil.
	Channel      frametree.Channel
	FrameTimeout time.Duration
	FrameMaxWait time.Duration
	// Concurrency bounds parallel resource fetches per session.
	Concurrency int
	Logger      *zap.Logger
	Now         func() time.Time
}

// Capturer owns the process-wide session counter. It is safe for
// concurrent use; each Capture call is an independent session.
type Capturer struct {
	opts       Options
	loader     *livepage.Loader
	aggregator *frametree.Aggregator
	sessions   atomic.Int64
}

func New(opts Options) *Capturer {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Transport == nil {
		opts.Transport = fetch.New(fetch.Config{Logger: opts.Logger})
	}
	if opts.Channel == nil {
		opts.Channel = frametree.NewBus()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Capturer{
		opts: opts,
		loader: livepage.NewLoader(livepage.Options{
			Transport: opts.Transport,
			Channel:   opts.Channel,
			Logger:    opts.Logger.Named("livepage"),
		}),
		aggregator: frametree.New(frametree.Options{
			Channel: opts.Channel,
			Timeout: opts.FrameTimeout,
			MaxWait: opts.FrameMaxWait,
			Logger:  opts.Logger.Named("frametree"),
		}),
	}
}

// Channel is where isolated contexts must serve their frametree agents.
func (c *Capturer) Channel() frametree.Channel {
	return c.opts.Channel
}

// Capture produces the self-contained artifact of req. Only a failure to
// load or serialize the top-level document is returned as an error.
func (c *Capturer) Capture(ctx context.Context, req Request) (*Result, error) {
	if req.URL == "" {
		return nil, ErrNoURL
	}
	start := c.opts.Now()
	sid := c.sessions.Add(1)
	opts := config.Default()
	if req.Options != nil {
		copied := *req.Options
		opts = &copied
	}
	opts.URL = req.URL
	logger := c.opts.Logger.With(zap.Int64("session", sid), zap.String("url", req.URL))
	emit := func(e Event) {
		e.SessionID = sid
		e.PageURL = req.URL
		if req.Progress != nil {
			req.Progress(e)
		}
	}

	emit(Event{Type: PageLoading})
	root := req.Window
	if root == nil {
		page, err := c.loader.Open(ctx, req.URL, req.Content)
		if err != nil {
			return nil, fmt.Errorf("capture: %w", err)
		}
		root = page
	}

	var frames []protocol.FrameData
	if !opts.RemoveFrames {
		var err error
		frames, err = c.aggregator.Collect(ctx, root, sid, opts)
		if err != nil {
			return nil, fmt.Errorf("capture: collect frames: %w", err)
		}
	}
	snap, err := root.Snapshot(ctx, sid, opts)
	if err != nil {
		return nil, fmt.Errorf("capture: snapshot: %w", err)
	}
	url := req.URL
	if snap.BaseURI != "" && req.Window != nil {
		url = snap.BaseURI
	}

	session := &pipeline.Session{
		ID:          sid,
		Batch:       batch.New(c.opts.Transport, batch.Options{Logger: logger.Named("batch")}),
		Concurrency: c.opts.Concurrency,
		Logger:      logger,
		Now:         c.opts.Now,
	}
	p := pipeline.New(session, opts, pipeline.Input{
		URL:                 url,
		Content:             snap.Content,
		CanvasData:          snap.CanvasData,
		EmptyStyleRulesText: snap.EmptyStyleRulesText,
		Frames:              frames,
	})
	if err := p.Load(ctx); err != nil {
		return nil, fmt.Errorf("capture: %w", err)
	}
	emit(Event{Type: PageLoaded})

	emit(Event{Type: ResourcesInitializing})
	if err := p.Initialize(ctx); err != nil {
		return nil, fmt.Errorf("capture: initialize: %w", err)
	}
	emit(Event{Type: ResourcesInitialized, Max: p.RegisteredResources()})

	err = p.Prepare(ctx, func(bp batch.Progress) {
		emit(Event{Type: ResourceLoaded, Index: bp.Index, Max: bp.Max, ResourceURL: bp.URL})
	})
	if err != nil {
		return nil, fmt.Errorf("capture: prepare: %w", err)
	}

	data, err := p.PageData()
	if err != nil {
		return nil, fmt.Errorf("capture: serialize: %w", err)
	}
	emit(Event{Type: PageEnded})

	res := &Result{
		SessionID: sid,
		URL:       req.URL,
		Title:     data.Title,
		Content:   data.Content,
		Stats:     data.Stats,
		Frames:    len(frames),
		Duration:  c.opts.Now().Sub(start),
	}
	logger.Info("capture complete",
		zap.String("title", res.Title),
		zap.Int("bytes", len(res.Content)),
		zap.Int("frames", res.Frames),
		zap.Duration("duration", res.Duration))
	return res, nil
}
