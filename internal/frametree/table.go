package frametree

import (
	"sort"
	"sync"

	"github.com/adityalohuni/snapfile/internal/protocol"
)

// table is the per-session completion table of the aggregating context.
// Entries are keyed by window id and advance only by message arrival or
// timeout expiry.
type table struct {
	mu      sync.Mutex
	entries map[string]*protocol.FrameData
	order   []string
	walked  bool
	closed  bool
	done    chan struct{}
}

func newTable() *table {
	return &table{entries: make(map[string]*protocol.FrameData), done: make(chan struct{})}
}

// submit applies a batch of entries atomically. Registrations (Processed
// unset) only create missing entries. A timeout only completes an entry
// that has not reported. Content replaces a pending or timed-out entry and
// the first content wins.
func (t *table) submit(batch ...protocol.FrameData) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}
	for _, fd := range batch {
		cur, ok := t.entries[fd.WindowID]
		if !ok {
			entry := fd
			t.entries[fd.WindowID] = &entry
			t.order = append(t.order, fd.WindowID)
			continue
		}
		switch {
		case !fd.Processed:
		case fd.Timeout:
			if !cur.Processed {
				*cur = fd
			}
		case !cur.Processed || cur.Timeout:
			*cur = fd
		}
	}
	t.checkLocked()
}

// seal marks the local discovery walk as finished; completion is only
// possible afterwards.
func (t *table) seal() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.walked = true
	t.checkLocked()
}

func (t *table) checkLocked() {
	if t.closed || !t.walked {
		return
	}
	for _, e := range t.entries {
		if !e.Processed {
			return
		}
	}
	t.closed = true
	close(t.done)
}

// expire completes every pending entry as timed out.
func (t *table) expire() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, e := range t.entries {
		if !e.Processed {
			e.Processed = true
			e.Timeout = true
		}
	}
	t.walked = true
	t.checkLocked()
}

// result lists the entries deepest first, in registration order among
// entries of the same depth.
func (t *table) result() []protocol.FrameData {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]protocol.FrameData, 0, len(t.order))
	for _, id := range t.order {
		out = append(out, *t.entries[id])
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Depth() > out[j].Depth()
	})
	return out
}
