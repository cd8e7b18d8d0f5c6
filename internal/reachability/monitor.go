// internal/reachability/monitor.go
package reachability

import (
	"context"
	"sync"
	"sync/atomic"
)

// Monitor reports whether a device's address is present on the network
// or bus. It says nothing about whether a connection is open.
type Monitor interface {
	// Watch delivers the current value, then every change, until ctx ends.
	// Slow readers only ever miss intermediate values, never the latest.
	Watch(ctx context.Context) <-chan bool

	Reachable() bool
}

// hub fans one boolean out to many watchers.
type hub struct {
	cur atomic.Bool

	mu   sync.Mutex
	subs map[chan bool]struct{}
}

func (h *hub) Reachable() bool { return h.cur.Load() }

func (h *hub) Watch(ctx context.Context) <-chan bool {
	ch := make(chan bool, 1)

	h.mu.Lock()
	if h.subs == nil {
		h.subs = make(map[chan bool]struct{})
	}
	h.subs[ch] = struct{}{}
	ch <- h.cur.Load()
	h.mu.Unlock()

	go func() {
		<-ctx.Done()
		h.mu.Lock()
		delete(h.subs, ch)
		close(ch)
		h.mu.Unlock()
	}()
	return ch
}

// set stores v and notifies watchers on change.
func (h *hub) set(v bool) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.cur.Swap(v) == v {
		return false
	}
	for ch := range h.subs {
		select {
		case <-ch: // drop the stale value
		default:
		}
		ch <- v
	}
	return true
}

// Static is a monitor that never changes.
type Static struct{ hub }

func NewStatic(reachable bool) *Static {
	s := &Static{}
	s.cur.Store(reachable)
	return s
}

// Manual is a monitor driven by its owner (tests, host-fed presence).
type Manual struct{ hub }

func NewManual(reachable bool) *Manual {
	m := &Manual{}
	m.cur.Store(reachable)
	return m
}

// Set changes the value and reports whether it changed.
func (m *Manual) Set(reachable bool) bool { return m.set(reachable) }
