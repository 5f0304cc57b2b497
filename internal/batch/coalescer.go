// Package batch coalesces resource requests by URL so that each distinct
// URL is fetched once per capture session.
package batch

import (
	"context"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/adityalohuni/snapfile/internal/fetch"
)

// Progress describes one completed fetch of a drain pass. Index counts
// completions from 1 to Max in completion order.
type Progress struct {
	Index int
	Max   int
	URL   string
	Err   error
}

// Limits is passed through to the transport.
type Limits struct {
	MaxBytes int64
	// Concurrency bounds in-flight fetches; 0 means unbounded.
	Concurrency int
}

// Summary reports what a drain pass did.
type Summary struct {
	Total  int
	Failed int
}

// Future is the eventual embeddable payload of a registered URL.
type Future struct {
	done    chan struct{}
	payload string
	err     error
}

func newFuture() *Future {
	return &Future{done: make(chan struct{})}
}

func (f *Future) resolve(payload string, err error) {
	f.payload = payload
	f.err = err
	close(f.done)
}

// Wait blocks until the URL's fetch completed or ctx is done.
func (f *Future) Wait(ctx context.Context) (string, error) {
	select {
	case <-f.done:
		return f.payload, f.err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// Done is closed once the outcome is available.
func (f *Future) Done() <-chan struct{} {
	return f.done
}

type pending struct {
	waiters []*Future
}

// Coalescer owns the pending-request table of one capture session.
// Register may be called from many goroutines; Drain passes are serialized.
type Coalescer struct {
	transport fetch.Transport
	logger    *zap.Logger

	mu       sync.Mutex
	requests map[string]*pending
	order    []string

	drainMu sync.Mutex

	textMu sync.Mutex
	texts  map[string]textResult
	flight singleflight.Group
}

type textResult struct {
	text string
	err  error
}

type Options struct {
	Logger *zap.Logger
}

func New(transport fetch.Transport, opts Options) *Coalescer {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Coalescer{
		transport: transport,
		logger:    logger,
		requests:  make(map[string]*pending),
		texts:     make(map[string]textResult),
	}
}

// Register attaches a waiter for url and returns immediately. A URL
// registered after a drain pass started is only fetched by a later pass.
func (c *Coalescer) Register(url string) *Future {
	f := newFuture()
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.requests[url]
	if !ok {
		p = &pending{}
		c.requests[url] = p
		c.order = append(c.order, url)
	}
	p.waiters = append(p.waiters, f)
	return f
}

// Pending is the number of distinct URLs awaiting a drain.
func (c *Coalescer) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.requests)
}

// Drain fetches every URL registered so far, once each and in parallel.
// For each completion progress is called once, then every waiter of that
// URL receives the same outcome and the entry is discarded. Fetch failures
// are delivered to waiters, never returned; the error is only ctx's.
func (c *Coalescer) Drain(ctx context.Context, progress func(Progress), limits Limits) (Summary, error) {
	c.drainMu.Lock()
	defer c.drainMu.Unlock()

	c.mu.Lock()
	urls := c.order
	c.order = nil
	c.mu.Unlock()

	summary := Summary{Total: len(urls)}
	if len(urls) == 0 {
		return summary, nil
	}

	var (
		progressMu sync.Mutex
		index      int
	)
	g, gctx := errgroup.WithContext(ctx)
	if limits.Concurrency > 0 {
		g.SetLimit(limits.Concurrency)
	}
	for _, url := range urls {
		g.Go(func() error {
			payload, err := fetch.DataURI(gctx, c.transport, url, limits.MaxBytes)
			if err != nil {
				c.logger.Debug("resource fetch failed", zap.String("url", url), zap.Error(err))
			}

			progressMu.Lock()
			index++
			if err != nil {
				summary.Failed++
			}
			if progress != nil {
				progress(Progress{Index: index, Max: len(urls), URL: url, Err: err})
			}
			progressMu.Unlock()

			c.mu.Lock()
			p := c.requests[url]
			delete(c.requests, url)
			c.mu.Unlock()
			if p != nil {
				for _, w := range p.waiters {
					w.resolve(payload, err)
				}
			}
			return nil
		})
	}
	_ = g.Wait()
	return summary, ctx.Err()
}

// Text fetches url as decoded text. Concurrent and later calls for the same
// url share the first outcome; an outcome cut short by ctx is not kept.
func (c *Coalescer) Text(ctx context.Context, url string, maxBytes int64) (string, error) {
	if r, ok := c.cachedText(url); ok {
		return r.text, r.err
	}
	v, err, _ := c.flight.Do(url, func() (any, error) {
		if r, ok := c.cachedText(url); ok {
			return r.text, r.err
		}
		text, err := fetch.Text(ctx, c.transport, url, maxBytes)
		if ctx.Err() == nil {
			c.textMu.Lock()
			c.texts[url] = textResult{text: text, err: err}
			c.textMu.Unlock()
		}
		if err != nil {
			c.logger.Debug("text fetch failed", zap.String("url", url), zap.Error(err))
		}
		return text, err
	})
	text, _ := v.(string)
	return text, err
}

func (c *Coalescer) cachedText(url string) (textResult, bool) {
	c.textMu.Lock()
	defer c.textMu.Unlock()
	r, ok := c.texts[url]
	return r, ok
}
