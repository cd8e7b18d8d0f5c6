// internal/poller/scheduler.go
package poller

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Subscriber is one device fed by a scheduler.
type Subscriber interface {
	ID() string

	// Ready reports whether the device is Reachable right now.
	Ready() bool

	// Cycle runs one full update cycle. It may block on I/O.
	Cycle(ctx context.Context)
}

type slot struct {
	sub  Subscriber
	busy atomic.Bool
}

// Scheduler is one shared tick source for one cadence class.
// Each tick fans out a cycle to every ready subscriber.
// No overlap per subscriber: a tick is a no-op for one still mid-cycle.
type Scheduler struct {
	name     string
	interval time.Duration
	log      *zap.Logger

	mu     sync.Mutex
	subs   map[string]*slot
	parent context.Context
	stop   context.CancelFunc

	wg sync.WaitGroup

	// OnSkip observes ticks skipped because a cycle was still running.
	OnSkip func(id string)
}

// NewScheduler creates an idle scheduler.
func NewScheduler(name string, interval time.Duration, log *zap.Logger) *Scheduler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Scheduler{
		name:     name,
		interval: interval,
		log:      log.With(zap.String("cadence", name)),
		subs:     make(map[string]*slot),
	}
}

func (s *Scheduler) Name() string            { return s.name }
func (s *Scheduler) Interval() time.Duration { return s.interval }

// Register adds a subscriber. Duplicate ids are rejected.
func (s *Scheduler) Register(sub Subscriber) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, dup := s.subs[sub.ID()]; dup {
		return fmt.Errorf("poller: %s already registered with %s", sub.ID(), s.name)
	}
	s.subs[sub.ID()] = &slot{sub: sub}
	s.startLocked()
	return nil
}

// Unregister removes a subscriber. The ticker stops with the last one.
// A cycle already running is not interrupted here; cancel its context.
func (s *Scheduler) Unregister(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.subs[id]; !ok {
		return false
	}
	delete(s.subs, id)
	if len(s.subs) == 0 && s.stop != nil {
		s.stop()
		s.stop = nil
		s.log.Debug("ticker stopped, no subscribers")
	}
	return true
}

// Len returns the number of subscribers.
func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subs)
}

// Running reports whether the ticker is active.
func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stop != nil
}

// Start attaches the scheduler to ctx. The ticker itself only runs
// while there is at least one subscriber.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.parent = ctx
	s.startLocked()
}

func (s *Scheduler) startLocked() {
	if s.parent == nil || s.stop != nil || len(s.subs) == 0 || s.parent.Err() != nil {
		return
	}
	parent := s.parent
	ctx, cancel := context.WithCancel(parent)
	s.stop = cancel

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.run(ctx, parent)
	}()
	s.log.Debug("ticker started", zap.Duration("interval", s.interval))
}

// run ticks until ctx ends. Cycles inherit parent, not ctx, so stopping
// the ticker does not abort cycles in flight.
func (s *Scheduler) run(ctx, parent context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Tick(parent)
		}
	}
}

// Tick issues one cycle to every ready, idle subscriber and returns how
// many cycles it started. Cycles run concurrently; Tick does not wait.
func (s *Scheduler) Tick(ctx context.Context) int {
	started := 0
	for _, sl := range s.slots() {
		if s.launch(ctx, sl, nil) {
			started++
		}
	}
	return started
}

// Sync is Tick, but returns only once the cycles it started are done.
func (s *Scheduler) Sync(ctx context.Context) int {
	var wg sync.WaitGroup
	started := 0
	for _, sl := range s.slots() {
		wg.Add(1)
		if s.launch(ctx, sl, wg.Done) {
			started++
		} else {
			wg.Done()
		}
	}
	wg.Wait()
	return started
}

func (s *Scheduler) slots() []*slot {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := make([]string, 0, len(s.subs))
	for id := range s.subs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	out := make([]*slot, 0, len(ids))
	for _, id := range ids {
		out = append(out, s.subs[id])
	}
	return out
}

// Kick starts an immediate cycle for one subscriber, e.g. right after it
// became reachable. Same no-overlap rule as Tick.
func (s *Scheduler) Kick(ctx context.Context, id string) bool {
	s.mu.Lock()
	sl, ok := s.subs[id]
	s.mu.Unlock()
	if !ok {
		return false
	}
	return s.launch(ctx, sl, nil)
}

// launch starts one cycle; done, if set, runs after the cycle returns.
func (s *Scheduler) launch(ctx context.Context, sl *slot, done func()) bool {
	if !sl.sub.Ready() {
		return false
	}
	if !sl.busy.CompareAndSwap(false, true) {
		s.log.Debug("cycle still running, tick skipped", zap.String("device", sl.sub.ID()))
		if s.OnSkip != nil {
			s.OnSkip(sl.sub.ID())
		}
		return false
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if done != nil {
			defer done()
		}
		defer sl.busy.Store(false)
		sl.sub.Cycle(ctx)
	}()
	return true
}

// Wait blocks until the ticker and every running cycle have returned.
func (s *Scheduler) Wait() {
	s.wg.Wait()
}

// Stop stops the ticker. Registered subscribers are kept.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if s.stop != nil {
		s.stop()
		s.stop = nil
	}
	s.parent = nil
	s.mu.Unlock()
}
