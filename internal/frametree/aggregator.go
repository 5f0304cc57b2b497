package frametree

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/adityalohuni/snapfile/internal/config"
	"github.com/adityalohuni/snapfile/internal/protocol"
)

// Aggregator runs in the top-level context and gathers the frame entries of
// one session at a time per Collect call.
type Aggregator struct {
	opts Options
}

func New(opts Options) *Aggregator {
	opts = opts.withDefaults()
	if opts.Channel == nil {
		opts.Channel = NewBus()
	}
	return &Aggregator{opts: opts}
}

// Channel is the channel isolated contexts must serve Agents on.
func (a *Aggregator) Channel() Channel {
	return a.opts.Channel
}

func (a *Aggregator) replyAddress(sid int64) string {
	return fmt.Sprintf("%s/%d", a.opts.Address, sid)
}

// Collect walks the frames of root and returns one entry per nested
// context, deepest first. It returns once every entry is processed, the
// MaxWait guard fires, or ctx is done.
func (a *Aggregator) Collect(ctx context.Context, root Window, sid int64, opts *config.Options) ([]protocol.FrameData, error) {
	ctx, cancel := context.WithCancel(ctx)
	logger := a.opts.Logger.With(zap.Int64("session", sid))

	var guard <-chan time.Time
	if a.opts.MaxWait > 0 {
		tm := time.NewTimer(a.opts.MaxWait)
		defer tm.Stop()
		guard = tm.C
	}

	t := newTable()
	replyTo := a.replyAddress(sid)
	inbox, unsubscribe := a.opts.Channel.Listen(replyTo)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		a.receive(ctx, inbox, sid, t, logger)
	}()

	w := &walker{
		channel: a.opts.Channel,
		replyTo: replyTo,
		timeout: a.opts.Timeout,
		logger:  logger,
		sid:     sid,
		opts:    opts,
		sink:    tableSink{t},
		timers:  &timerSet{},
	}
	defer func() {
		w.timers.stop()
		cancel()
		wg.Wait()
		unsubscribe()
	}()

	w.visit(ctx, root, protocol.RootWindowID, false)
	t.seal()

	select {
	case <-t.done:
	case <-guard:
		logger.Warn("frame collection exceeded max wait", zap.Duration("max_wait", a.opts.MaxWait))
		t.expire()
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	frames := t.result()
	logger.Debug("frames collected", zap.Int("count", len(frames)))
	return frames, nil
}

func (a *Aggregator) receive(ctx context.Context, inbox <-chan string, sid int64, t *table, logger *zap.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case raw, ok := <-inbox:
			if !ok {
				return
			}
			msg, err := protocol.Decode(raw)
			if err != nil {
				if !errors.Is(err, protocol.ErrUnrelated) {
					logger.Warn("malformed frame message", zap.Error(err))
				}
				continue
			}
			resp, ok := msg.(protocol.InitResponse)
			if !ok || resp.SessionID != sid {
				continue
			}
			t.submit(resp.Frames...)
		}
	}
}
