// internal/action/tracker.go
package action

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/tamzrod/chargerlink/internal/codec"
	"github.com/tamzrod/chargerlink/internal/fault"
)

// DefaultTimeout bounds a pending action when the request names none.
const DefaultTimeout = 10 * time.Second

// Notifier receives exactly one completion per correlation id.
type Notifier interface {
	ActionCompleted(correlationID string, success bool, kind fault.Kind)
}

// Request is one outbound write awaiting its outcome.
type Request struct {
	DeviceID string
	Signal   string
	Expected codec.Value
	Timeout  time.Duration
}

// Ticket is the caller's handle on a pending action.
type Ticket struct {
	ID       string
	DeviceID string
	Signal   string
	Expected codec.Value
	Deadline time.Time

	done chan struct{}
	err  error
}

// Done is closed once the action is resolved.
func (t *Ticket) Done() <-chan struct{} { return t.done }

// Err is the outcome. Valid only after Done is closed.
func (t *Ticket) Err() error {
	select {
	case <-t.done:
		return t.err
	default:
		return nil
	}
}

// Wait blocks until resolution or ctx end.
// Giving up on the wait does not resolve the action.
func (t *Ticket) Wait(ctx context.Context) error {
	select {
	case <-t.done:
		return t.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

type entry struct {
	ticket *Ticket
	timer  *time.Timer
}

// Options configures a Tracker.
type Options struct {
	Notifier Notifier
	Logger   *zap.Logger
	Timeout  time.Duration

	// OnSuccess runs before the host is notified of a successful action,
	// e.g. to store the expected value.
	OnSuccess func(t *Ticket)

	// OnResolve observes every resolution (metrics hook).
	OnResolve func(kind fault.Kind)
}

// Tracker is the correlation table of in-flight writes.
// Every submitted ticket is resolved exactly once: by the write outcome,
// by its deadline, or by cancellation of its device.
type Tracker struct {
	opts Options
	log  *zap.Logger

	mu      sync.Mutex
	pending map[string]*entry
	closed  bool
}

func NewTracker(opts Options) *Tracker {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	return &Tracker{
		opts:    opts,
		log:     opts.Logger,
		pending: make(map[string]*entry),
	}
}

// Submit registers a pending action and arms its deadline.
func (t *Tracker) Submit(req Request) *Ticket {
	timeout := req.Timeout
	if timeout <= 0 {
		timeout = t.opts.Timeout
	}

	tk := &Ticket{
		ID:       uuid.NewString(),
		DeviceID: req.DeviceID,
		Signal:   req.Signal,
		Expected: req.Expected,
		Deadline: time.Now().Add(timeout),
		done:     make(chan struct{}),
	}

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		tk.err = fmt.Errorf("%w: tracker closed", fault.ErrCancelled)
		close(tk.done)
		t.finish(tk)
		return tk
	}
	e := &entry{ticket: tk}
	t.pending[tk.ID] = e
	e.timer = time.AfterFunc(timeout, func() {
		t.Resolve(tk.ID, fmt.Errorf("%w: no outcome within %s", fault.ErrTimeout, timeout))
	})
	t.mu.Unlock()

	t.log.Debug("action submitted",
		zap.String("id", tk.ID),
		zap.String("device", tk.DeviceID),
		zap.String("signal", tk.Signal),
		zap.Stringer("expected", tk.Expected),
	)
	return tk
}

// Resolve completes a pending action. A nil error is success.
// Idempotent: resolving an unknown or already-resolved id has no effect
// beyond a warning, and returns false.
func (t *Tracker) Resolve(id string, err error) bool {
	t.mu.Lock()
	e, ok := t.pending[id]
	if ok {
		delete(t.pending, id)
	}
	t.mu.Unlock()

	if !ok {
		t.log.Warn("unexpected action resolution", zap.String("id", id), zap.Error(err))
		return false
	}

	e.timer.Stop()
	e.ticket.err = err
	close(e.ticket.done)
	t.finish(e.ticket)
	return true
}

func (t *Tracker) finish(tk *Ticket) {
	kind := fault.KindOf(tk.err)
	if tk.err == nil && t.opts.OnSuccess != nil {
		t.opts.OnSuccess(tk)
	}

	lvl := t.log.Info
	if tk.err != nil {
		lvl = t.log.Warn
	}
	lvl("action completed",
		zap.String("id", tk.ID),
		zap.String("device", tk.DeviceID),
		zap.String("signal", tk.Signal),
		zap.Bool("success", tk.err == nil),
		zap.Stringer("kind", kind),
		zap.Error(tk.err),
	)

	if t.opts.OnResolve != nil {
		t.opts.OnResolve(kind)
	}
	if t.opts.Notifier != nil {
		t.opts.Notifier.ActionCompleted(tk.ID, tk.err == nil, kind)
	}
}

// CancelDevice resolves every pending action of a device as cancelled.
func (t *Tracker) CancelDevice(deviceID string) int {
	t.mu.Lock()
	var ids []string
	for id, e := range t.pending {
		if e.ticket.DeviceID == deviceID {
			ids = append(ids, id)
		}
	}
	t.mu.Unlock()

	n := 0
	for _, id := range ids {
		if t.Resolve(id, fmt.Errorf("%w: device %s removed", fault.ErrCancelled, deviceID)) {
			n++
		}
	}
	return n
}

// Close cancels everything pending and rejects further submissions.
func (t *Tracker) Close() {
	t.mu.Lock()
	t.closed = true
	ids := make([]string, 0, len(t.pending))
	for id := range t.pending {
		ids = append(ids, id)
	}
	t.mu.Unlock()

	for _, id := range ids {
		t.Resolve(id, fmt.Errorf("%w: shutting down", fault.ErrCancelled))
	}
}

// Len returns the number of pending actions.
func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.pending)
}

// Pending returns the pending ids of one device.
func (t *Tracker) Pending(deviceID string) []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	var out []string
	for id, e := range t.pending {
		if e.ticket.DeviceID == deviceID {
			out = append(out, id)
		}
	}
	return out
}
