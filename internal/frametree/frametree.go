// Package frametree collects a snapshot of every nested browsing context of
// a page. Contexts the aggregator can reach directly are walked in place;
// isolated ones are asked over a Channel and answer with InitResponse
// messages. Every frame ends up processed: with content, or without it when
// it could not be reached or did not answer in time.
package frametree

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/adityalohuni/snapfile/internal/config"
	"github.com/adityalohuni/snapfile/internal/dom"
	"github.com/adityalohuni/snapfile/internal/protocol"
)

const (
	DefaultAddress = "top"
	DefaultTimeout = 500 * time.Millisecond
)

// Window is a browsing context whose document can be inspected.
type Window interface {
	// Frames lists the frame elements of the document in document order.
	Frames(ctx context.Context) ([]Frame, error)
	// Snapshot pre-processes and serializes the document. It is called after
	// the frames have been tagged.
	Snapshot(ctx context.Context, sessionID int64, opts *config.Options) (protocol.FrameData, error)
}

// Frame is a frame element inside a Window.
type Frame interface {
	// Tag stamps the element with the window id attribute.
	Tag(attr, windowID string) error
	// Open resolves the frame's content window.
	Open(ctx context.Context) (Target, error)
}

// Target is either a Window reachable in place or the channel address of an
// isolated context serving an Agent.
type Target struct {
	Window  Window
	Address string
}

type Options struct {
	Channel Channel
	// Address is the base address the aggregator listens on.
	Address string
	// Timeout bounds the wait for each isolated frame.
	Timeout time.Duration
	// MaxWait bounds the whole collection; 0 disables the guard.
	MaxWait time.Duration
	Logger  *zap.Logger
}

func (o Options) withDefaults() Options {
	if o.Address == "" {
		o.Address = DefaultAddress
	}
	if o.Timeout <= 0 {
		o.Timeout = DefaultTimeout
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	return o
}

type sink interface {
	submit(ctx context.Context, frames ...protocol.FrameData)
}

type tableSink struct{ t *table }

func (s tableSink) submit(_ context.Context, frames ...protocol.FrameData) {
	s.t.submit(frames...)
}

// replySink forwards entries to the aggregating context.
type replySink struct {
	channel  Channel
	to       string
	windowID string
	sid      int64
	logger   *zap.Logger
}

func (s replySink) submit(ctx context.Context, frames ...protocol.FrameData) {
	msg, err := protocol.Encode(protocol.InitResponse{WindowID: s.windowID, SessionID: s.sid, Frames: frames})
	if err != nil {
		s.logger.Error("encode init response", zap.Error(err))
		return
	}
	if err := s.channel.Post(ctx, s.to, msg); err != nil {
		s.logger.Debug("reply dropped", zap.String("to", s.to), zap.Error(err))
	}
}

type timerSet struct {
	mu      sync.Mutex
	timers  []*time.Timer
	stopped bool
}

func (ts *timerSet) after(d time.Duration, fn func()) {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	if ts.stopped {
		return
	}
	ts.timers = append(ts.timers, time.AfterFunc(d, fn))
}

func (ts *timerSet) stop() {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	ts.stopped = true
	for _, t := range ts.timers {
		t.Stop()
	}
	ts.timers = nil
}

// walker runs the discovery of one session from one context.
type walker struct {
	channel Channel
	replyTo string
	timeout time.Duration
	logger  *zap.Logger
	sid     int64
	opts    *config.Options
	sink    sink
	timers  *timerSet
}

// visit tags the frames of win, optionally snapshots win itself, submits
// the registrations and the snapshot as one batch and then handles every
// child.
func (w *walker) visit(ctx context.Context, win Window, id string, self bool) {
	frames, err := win.Frames(ctx)
	if err != nil {
		w.logger.Debug("list frames", zap.String("window", id), zap.Error(err))
		frames = nil
	}

	attr := dom.WindowIDAttr(w.sid)
	ids := make([]string, len(frames))
	batch := make([]protocol.FrameData, 0, len(frames)+1)
	for i, f := range frames {
		ids[i] = protocol.ChildID(id, i)
		if err := f.Tag(attr, ids[i]); err != nil {
			w.logger.Debug("tag frame", zap.String("window", ids[i]), zap.Error(err))
		}
		batch = append(batch, protocol.FrameData{WindowID: ids[i]})
	}

	if self {
		fd, err := win.Snapshot(ctx, w.sid, w.opts)
		if err != nil {
			w.logger.Warn("snapshot frame", zap.String("window", id), zap.Error(err))
			fd = protocol.FrameData{}
		}
		fd.WindowID = id
		fd.Processed = true
		fd.Timeout = false
		batch = append(batch, fd)
	}

	if len(batch) > 0 {
		w.sink.submit(ctx, batch...)
	}
	for i, f := range frames {
		if ctx.Err() != nil {
			return
		}
		w.process(ctx, f, ids[i])
	}
}

func (w *walker) process(ctx context.Context, f Frame, id string) {
	target, err := f.Open(ctx)
	if err != nil {
		w.logger.Debug("frame unreachable", zap.String("window", id), zap.Error(err))
		w.sink.submit(ctx, protocol.FrameData{WindowID: id, Processed: true})
		return
	}
	if target.Window != nil {
		w.visit(ctx, target.Window, id, true)
		return
	}

	msg, err := protocol.Encode(protocol.InitRequest{
		WindowID:  id,
		SessionID: w.sid,
		ReplyTo:   w.replyTo,
		Options:   w.opts,
	})
	if err != nil {
		w.logger.Error("encode init request", zap.Error(err))
		w.sink.submit(ctx, protocol.FrameData{WindowID: id, Processed: true})
		return
	}
	w.timers.after(w.timeout, func() {
		w.sink.submit(ctx, protocol.FrameData{WindowID: id, Processed: true, Timeout: true})
	})
	if err := w.channel.Post(ctx, target.Address, msg); err != nil {
		w.logger.Debug("post init request", zap.String("window", id), zap.String("to", target.Address), zap.Error(err))
		w.sink.submit(ctx, protocol.FrameData{WindowID: id, Processed: true})
	}
}
