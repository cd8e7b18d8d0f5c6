// internal/supervisor/supervisor.go
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/tamzrod/chargerlink/internal/codec"
	"github.com/tamzrod/chargerlink/internal/fault"
	"github.com/tamzrod/chargerlink/internal/reachability"
	"github.com/tamzrod/chargerlink/internal/state"
	"github.com/tamzrod/chargerlink/internal/status"
	"github.com/tamzrod/chargerlink/internal/transport"
)

// Defaults.
const (
	DefaultMaxFailures    = 3
	DefaultRequestTimeout = 5 * time.Second
)

// Config is the per-device supervision policy.
type Config struct {
	DeviceID string

	// MaxFailures consecutive timeouts demote Reachable -> Unreachable.
	MaxFailures int

	// RequestTimeout bounds one Do call.
	RequestTimeout time.Duration

	// LiveSignals are zeroed on entering Unreachable.
	LiveSignals []string

	// Backoff spaces reconnect attempts while the address is present.
	// It restarts only once the device has answered a request.
	Backoff reachability.BackoffConfig

	// Verify runs one request after the link opens and before the device
	// counts as Reachable. A slave on a shared bus opens with the bus
	// whether or not it is powered, so only an answer proves it there.
	// A hardware rejection is an answer. nil skips verification.
	Verify func(ctx context.Context, conn transport.Conn) error
}

// Hooks observe link transitions. Called outside all locks.
type Hooks struct {
	OnChange func(from, to status.Link)
}

// Supervisor owns the link lifecycle of one device.
//
// Reconnects are driven by the presence monitor, never by blind polling:
// an attempt is made on the monitor's present edge, or after a demotion
// while the monitor still reports the address present.
type Supervisor struct {
	cfg      Config
	conn     transport.Conn
	store    *state.Store
	presence reachability.Monitor
	hooks    Hooks
	log      *zap.Logger
	backoff  *reachability.Backoff
	now      func() time.Time

	// ctx ends at teardown; every request and connect attempt inherits it.
	ctx    context.Context
	cancel context.CancelFunc

	// reqMu serializes this device's own requests.
	reqMu sync.Mutex

	mu        sync.Mutex
	snap      status.Snapshot
	reconnect *time.Timer
	closed    bool
}

// New creates a Disconnected supervisor. presence may be nil (always present).
func New(cfg Config, conn transport.Conn, store *state.Store, presence reachability.Monitor, hooks Hooks, log *zap.Logger) *Supervisor {
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = DefaultMaxFailures
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = DefaultRequestTimeout
	}
	if presence == nil {
		presence = reachability.NewStatic(true)
	}
	if log == nil {
		log = zap.NewNop()
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Supervisor{
		cfg:      cfg,
		conn:     conn,
		store:    store,
		presence: presence,
		hooks:    hooks,
		log:      log.With(zap.String("device", cfg.DeviceID)),
		backoff:  reachability.NewBackoff(cfg.Backoff),
		now:      time.Now,
		ctx:      ctx,
		cancel:   cancel,
	}
}

func (s *Supervisor) ID() string { return s.cfg.DeviceID }

// State returns the current link state.
func (s *Supervisor) State() status.Link {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snap.Link
}

// Snapshot returns a copy of the link health.
func (s *Supervisor) Snapshot() status.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snap
}

// Reachable reports whether requests may be issued.
func (s *Supervisor) Reachable() bool { return s.State() == status.Reachable }

// Done is closed by Teardown.
func (s *Supervisor) Done() <-chan struct{} { return s.ctx.Done() }

// ---- lifecycle ----

// Connect makes one connection attempt.
// A no-op while Connecting or Reachable.
func (s *Supervisor) Connect(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return fmt.Errorf("%w: supervisor torn down", fault.ErrCancelled)
	}
	if s.snap.Link == status.Connecting || s.snap.Link == status.Reachable {
		s.mu.Unlock()
		return nil
	}
	from := s.setLocked(status.Connecting)
	s.mu.Unlock()
	s.changed(from, status.Connecting)

	cctx, cancel := s.merge(ctx)
	err := s.conn.Connect(cctx)
	verified := false
	if err == nil && s.cfg.Verify != nil {
		err = s.verify(cctx)
		verified = err == nil
	}
	cancel()

	if s.ctx.Err() != nil {
		// torn down while connecting; the link must not outlive it
		if cerr := s.conn.Close(); cerr != nil {
			s.log.Debug("close failed", zap.Error(cerr))
		}
		return fmt.Errorf("%w: supervisor torn down", fault.ErrCancelled)
	}

	if err != nil {
		s.log.Info("connect failed", zap.Error(err))
		s.mu.Lock()
		s.snap.Observe(err, s.now())
		s.mu.Unlock()
		s.enter(status.Unreachable)
		return err
	}

	s.mu.Lock()
	if verified {
		s.backoff.Reset()
	}
	s.snap.Observe(nil, s.now())
	s.stopReconnectLocked()
	s.mu.Unlock()
	s.enter(status.Reachable)
	return nil
}

// verify proves the device answers, serialized with its requests.
func (s *Supervisor) verify(ctx context.Context) error {
	s.reqMu.Lock()
	defer s.reqMu.Unlock()

	vctx, cancel := context.WithTimeout(ctx, s.cfg.RequestTimeout)
	defer cancel()

	err := s.cfg.Verify(vctx, s.conn)
	if errors.Is(err, fault.ErrHardwareRejected) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("no answer after connect: %w", err)
	}
	return nil
}

// OnReachability feeds one presence monitor value.
func (s *Supervisor) OnReachability(ctx context.Context, present bool) {
	if !present {
		s.mu.Lock()
		s.stopReconnectLocked()
		s.mu.Unlock()

		if s.State() == status.Reachable {
			s.log.Info("address gone")
			s.demote(fmt.Errorf("%w: presence monitor reports absent", fault.ErrLinkLost))
		}
		return
	}

	switch s.State() {
	case status.Disconnected, status.Unreachable:
		if s.isClosed() {
			return
		}
		_ = s.Connect(ctx)
	}
}

// Teardown is terminal: in-flight requests are cancelled, the connection
// is closed and the state returns to Disconnected. Returns once no
// request of this supervisor is in flight.
func (s *Supervisor) Teardown() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.stopReconnectLocked()
	s.mu.Unlock()

	s.cancel()

	s.reqMu.Lock()
	if err := s.conn.Close(); err != nil {
		s.log.Debug("close failed", zap.Error(err))
	}
	s.reqMu.Unlock()

	s.enter(status.Disconnected)
}

// ---- requests ----

// Do runs one request against the device, serialized with this device's
// other requests and bounded by RequestTimeout. The outcome feeds
// reachability: timeouts are strikes, a lost link demotes at once and a
// hardware rejection proves the device alive.
func (s *Supervisor) Do(ctx context.Context, fn func(ctx context.Context, conn transport.Conn) error) error {
	if !s.Reachable() {
		return s.unavailable()
	}

	s.reqMu.Lock()
	defer s.reqMu.Unlock()

	// state may have changed while queued
	if !s.Reachable() {
		return s.unavailable()
	}

	rctx, cancel := s.merge(ctx)
	defer cancel()
	rctx, cancelT := context.WithTimeout(rctx, s.cfg.RequestTimeout)
	defer cancelT()

	err := fn(rctx, s.conn)

	if s.ctx.Err() != nil {
		return fmt.Errorf("%w: device %s torn down", fault.ErrCancelled, s.cfg.DeviceID)
	}
	if err != nil && ctx.Err() != nil {
		// caller gave up; not the device's fault
		return fmt.Errorf("%w: %w", fault.ErrCancelled, err)
	}

	s.record(err)
	return err
}

func (s *Supervisor) unavailable() error {
	if s.isClosed() {
		return fmt.Errorf("%w: device %s torn down", fault.ErrCancelled, s.cfg.DeviceID)
	}
	return fmt.Errorf("%w: device %s is %s", fault.ErrHardwareUnavailable, s.cfg.DeviceID, s.State())
}

func (s *Supervisor) record(err error) {
	s.mu.Lock()
	s.snap.Observe(err, s.now())

	switch {
	case err == nil:
		s.backoff.Reset()
		s.mu.Unlock()
		return

	case fault.IsStrike(err):
		s.snap.Failures++
		n := s.snap.Failures
		s.mu.Unlock()

		s.log.Debug("request timed out", zap.Int("failures", n), zap.Int("max", s.cfg.MaxFailures), zap.Error(err))
		if n >= s.cfg.MaxFailures {
			s.demote(err)
		}

	case errors.Is(err, fault.ErrLinkLost), errors.Is(err, fault.ErrTransportUnavailable):
		s.mu.Unlock()
		s.demote(err)

	case errors.Is(err, fault.ErrHardwareRejected):
		s.snap.Failures = 0
		s.snap.LastSeen = s.now()
		s.backoff.Reset()
		s.mu.Unlock()

	default:
		s.mu.Unlock()
	}
}

// ---- transitions ----

func (s *Supervisor) demote(cause error) {
	s.mu.Lock()
	if s.snap.Link != status.Reachable {
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	s.log.Warn("device unreachable", zap.Error(cause))
	s.enter(status.Unreachable)
}

// enter applies a transition and its side effects.
func (s *Supervisor) enter(to status.Link) {
	s.mu.Lock()
	from := s.snap.Link
	if from == to || !status.CanTransition(from, to) {
		s.mu.Unlock()
		return
	}
	s.setLocked(to)
	if to == status.Unreachable && !s.closed && s.presence.Reachable() {
		s.scheduleReconnectLocked()
	}
	s.mu.Unlock()

	switch to {
	case status.Reachable:
		s.log.Info("device reachable")
		s.store.Set(state.Connected, codec.Bool(true))

	case status.Unreachable, status.Disconnected:
		s.store.ZeroLive(s.cfg.LiveSignals)
		s.store.Set(state.Connected, codec.Bool(false))
	}

	s.changed(from, to)
}

func (s *Supervisor) setLocked(to status.Link) status.Link {
	from := s.snap.Link
	s.snap.Link = to
	if to == status.Reachable {
		s.snap.Failures = 0
		s.snap.SecondsUnreachable = 0
	}
	return from
}

func (s *Supervisor) changed(from, to status.Link) {
	if s.hooks.OnChange != nil && from != to {
		s.hooks.OnChange(from, to)
	}
}

func (s *Supervisor) scheduleReconnectLocked() {
	if s.reconnect != nil {
		return
	}
	d := s.backoff.Next()
	s.log.Debug("reconnect scheduled", zap.Duration("in", d), zap.Int("attempt", s.backoff.Attempts()))

	s.reconnect = time.AfterFunc(d, func() {
		s.mu.Lock()
		s.reconnect = nil
		s.mu.Unlock()

		if !s.presence.Reachable() {
			// wait for the monitor's next present edge
			return
		}
		_ = s.Connect(s.ctx)
	})
}

func (s *Supervisor) stopReconnectLocked() {
	if s.reconnect != nil {
		s.reconnect.Stop()
		s.reconnect = nil
	}
}

// TickStatus advances the seconds-unreachable counter. Called at 1 Hz.
func (s *Supervisor) TickStatus() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snap.Tick()
}

func (s *Supervisor) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// merge derives a context that also ends at teardown.
func (s *Supervisor) merge(ctx context.Context) (context.Context, context.CancelFunc) {
	mctx, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(s.ctx, cancel)
	return mctx, func() {
		stop()
		cancel()
	}
}
