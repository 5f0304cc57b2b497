package frametree

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/adityalohuni/snapfile/internal/protocol"
)

// Agent answers init requests on behalf of an isolated context.
type Agent struct {
	window  Window
	address string
	opts    Options
}

func NewAgent(window Window, address string, opts Options) *Agent {
	opts = opts.withDefaults()
	if opts.Channel == nil {
		opts.Channel = NewBus()
	}
	return &Agent{window: window, address: address, opts: opts}
}

func (a *Agent) Address() string {
	return a.address
}

// Start subscribes before returning and serves in the background until ctx
// is done.
func (a *Agent) Start(ctx context.Context) {
	inbox, unsubscribe := a.opts.Channel.Listen(a.address)
	go func() {
		_ = a.serve(ctx, inbox, unsubscribe)
	}()
}

// Serve blocks until ctx is done.
func (a *Agent) Serve(ctx context.Context) error {
	inbox, unsubscribe := a.opts.Channel.Listen(a.address)
	return a.serve(ctx, inbox, unsubscribe)
}

func (a *Agent) serve(ctx context.Context, inbox <-chan string, unsubscribe func()) error {
	timers := &timerSet{}
	defer unsubscribe()
	defer timers.stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case raw, ok := <-inbox:
			if !ok {
				return nil
			}
			msg, err := protocol.Decode(raw)
			if err != nil {
				if !errors.Is(err, protocol.ErrUnrelated) {
					a.opts.Logger.Warn("malformed frame message", zap.String("address", a.address), zap.Error(err))
				}
				continue
			}
			req, ok := msg.(protocol.InitRequest)
			if !ok {
				continue
			}
			a.handle(ctx, req, timers)
		}
	}
}

func (a *Agent) handle(ctx context.Context, req protocol.InitRequest, timers *timerSet) {
	logger := a.opts.Logger.With(zap.Int64("session", req.SessionID), zap.String("window", req.WindowID))
	logger.Debug("init request")
	w := &walker{
		channel: a.opts.Channel,
		replyTo: req.ReplyTo,
		timeout: a.opts.Timeout,
		logger:  logger,
		sid:     req.SessionID,
		opts:    req.Options,
		sink: replySink{
			channel:  a.opts.Channel,
			to:       req.ReplyTo,
			windowID: req.WindowID,
			sid:      req.SessionID,
			logger:   logger,
		},
		timers: timers,
	}
	w.visit(ctx, a.window, req.WindowID, true)
}
