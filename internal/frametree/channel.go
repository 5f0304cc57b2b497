package frametree

import (
	"context"
	"errors"
	"sync"
)

// ErrUnreachable is returned by Post when nothing listens on the address.
var ErrUnreachable = errors.New("frametree: no context listening on address")

// Channel is the cross-context messaging capability: text messages sent to
// an address are delivered to every listener of that address.
type Channel interface {
	Post(ctx context.Context, to, msg string) error
	// Listen subscribes to an address. The returned function unsubscribes
	// and must be called once the listener is done.
	Listen(addr string) (<-chan string, func())
}

type subscriber struct {
	ch   chan string
	done chan struct{}
	once sync.Once
}

// Bus is an in-process Channel. Messages to one listener arrive in the
// order they were posted.
type Bus struct {
	mu     sync.RWMutex
	subs   map[string]map[*subscriber]struct{}
	buffer int
}

func NewBus() *Bus {
	return &Bus{subs: make(map[string]map[*subscriber]struct{}), buffer: 32}
}

func (b *Bus) Listen(addr string) (<-chan string, func()) {
	sub := &subscriber{ch: make(chan string, b.buffer), done: make(chan struct{})}
	b.mu.Lock()
	if b.subs[addr] == nil {
		b.subs[addr] = make(map[*subscriber]struct{})
	}
	b.subs[addr][sub] = struct{}{}
	b.mu.Unlock()

	return sub.ch, func() {
		sub.once.Do(func() {
			b.mu.Lock()
			delete(b.subs[addr], sub)
			if len(b.subs[addr]) == 0 {
				delete(b.subs, addr)
			}
			b.mu.Unlock()
			close(sub.done)
		})
	}
}

// Post blocks until every current listener of to has accepted msg, a
// listener unsubscribes, or ctx is done.
func (b *Bus) Post(ctx context.Context, to, msg string) error {
	b.mu.RLock()
	subs := make([]*subscriber, 0, len(b.subs[to]))
	for s := range b.subs[to] {
		subs = append(subs, s)
	}
	b.mu.RUnlock()
	if len(subs) == 0 {
		return ErrUnreachable
	}
	for _, s := range subs {
		select {
		case s.ch <- msg:
		case <-s.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}
