// internal/engine/engine.go
package engine

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/tamzrod/chargerlink/internal/action"
	"github.com/tamzrod/chargerlink/internal/discovery"
	"github.com/tamzrod/chargerlink/internal/fault"
	"github.com/tamzrod/chargerlink/internal/host"
	"github.com/tamzrod/chargerlink/internal/metrics"
	"github.com/tamzrod/chargerlink/internal/poller"
	"github.com/tamzrod/chargerlink/internal/quirk"
	"github.com/tamzrod/chargerlink/internal/reachability"
	"github.com/tamzrod/chargerlink/internal/state"
	"github.com/tamzrod/chargerlink/internal/status"
	"github.com/tamzrod/chargerlink/internal/supervisor"
	"github.com/tamzrod/chargerlink/internal/transport"
	"github.com/tamzrod/chargerlink/internal/vendors"
)

// DeviceConfig is one configured charger.
type DeviceConfig struct {
	ID         string
	Class      string
	Descriptor transport.Descriptor
	Settings   vendor.Settings
}

// Options wires an Engine.
type Options struct {
	Registry *vendor.Registry
	Dialer   transport.Dialer

	// Buses are the serial masters, for presence probes and RTU sweeps.
	Buses map[string]vendor.BusProber

	Notifier host.Notifier
	Metrics  *metrics.Collector
	Log      *zap.Logger

	MaxFailures    int
	RequestTimeout time.Duration
	ActionTimeout  time.Duration
	Backoff        reachability.BackoffConfig
	ProbeInterval  time.Duration

	DiscoveryWindow   time.Duration
	PerAddressTimeout time.Duration
	DiscoveryHosts    []string

	// Presence builds a device's presence monitor. nil probes the
	// device's address (TCP dial, or bus open for RTU).
	Presence func(cfg DeviceConfig) reachability.Monitor
}

// Engine owns every configured device and is the host's control surface.
type Engine struct {
	opts      Options
	log       *zap.Logger
	notify    host.Notifier
	metrics   *metrics.Collector
	tracker   *action.Tracker
	discovery *discovery.Service

	// base outlives Add calls; devices derive their lifetime from it.
	base   context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.RWMutex
	devices map[string]*device
	scheds  map[time.Duration]*poller.Scheduler
	running context.Context
	closed  bool
}

var _ host.Control = (*Engine)(nil)

func New(opts Options) (*Engine, error) {
	if opts.Registry == nil {
		return nil, fmt.Errorf("engine: registry required")
	}
	if opts.Dialer == nil {
		return nil, fmt.Errorf("engine: dialer required")
	}
	if opts.Log == nil {
		opts.Log = zap.NewNop()
	}
	if opts.Notifier == nil {
		opts.Notifier = host.Fanout{}
	}

	ctx, cancel := context.WithCancel(context.Background())
	e := &Engine{
		opts:    opts,
		log:     opts.Log,
		notify:  opts.Notifier,
		metrics: opts.Metrics,
		base:    ctx,
		cancel:  cancel,
		devices: make(map[string]*device),
		scheds:  make(map[time.Duration]*poller.Scheduler),
	}

	e.tracker = action.NewTracker(action.Options{
		Notifier:  opts.Notifier,
		Logger:    opts.Log.Named("action"),
		Timeout:   opts.ActionTimeout,
		OnSuccess: e.actionSucceeded,
		OnResolve: e.metrics.ActionResolved,
	})

	e.discovery = discovery.NewService(e.known, opts.Log.Named("discovery"))
	deps := vendor.DiscoveryDeps{
		Dialer:            opts.Dialer,
		Buses:             opts.Buses,
		Window:            opts.DiscoveryWindow,
		PerAddressTimeout: opts.PerAddressTimeout,
		Hosts:             opts.DiscoveryHosts,
		Log:               opts.Log.Named("discovery"),
	}
	for class, m := range opts.Registry.Methods(deps) {
		e.discovery.Register(class, m)
	}
	return e, nil
}

// ---- devices ----

// Add creates a device and starts supervising it. Adding an id that
// already exists tears the old device down first.
func (e *Engine) Add(ctx context.Context, cfg DeviceConfig) error {
	if cfg.ID == "" {
		return fmt.Errorf("%w: device id required", fault.ErrInvalidValue)
	}
	a, ok := e.opts.Registry.Adapter(cfg.Class)
	if !ok {
		return fmt.Errorf("%w: no adapter for class %q", fault.ErrInvalidValue, cfg.Class)
	}

	e.mu.RLock()
	_, exists := e.devices[cfg.ID]
	e.mu.RUnlock()
	if exists {
		e.log.Info("reconfiguring device", zap.String("device", cfg.ID))
		if err := e.Remove(cfg.ID); err != nil {
			return err
		}
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %v", fault.ErrCancelled, err)
	}

	updates, setup, err := a.Setup(cfg.Settings)
	if err != nil {
		return fmt.Errorf("device %s: %w", cfg.ID, err)
	}
	conn, err := e.opts.Dialer.Dial(cfg.Descriptor)
	if err != nil {
		return fmt.Errorf("device %s: %w", cfg.ID, err)
	}
	p, err := poller.New(poller.Config{DeviceID: cfg.ID, Reads: a.ReadPlan()}, conn)
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("device %s: %w", cfg.ID, err)
	}

	log := e.log.With(zap.String("device", cfg.ID), zap.String("class", cfg.Class))
	store := state.NewStore(cfg.ID, e.notify)
	store.Apply(updates...)

	filter := quirk.New(log.Named("quirk"), a.Quirks()...)
	filter.OnReject(e.metrics.QuirkRejected)

	dctx, cancel := context.WithCancel(e.base)
	d := &device{
		id:       cfg.ID,
		cfg:      cfg,
		identity: cfg.Descriptor.Identity(a.Name()),
		adapter:  a,
		store:    store,
		filter:   filter,
		poller:   p,
		presence: e.presence(cfg),
		setup:    setup,
		log:      log,
		metrics:  e.metrics,
		ctx:      dctx,
		cancel:   cancel,
	}
	d.sup = supervisor.New(supervisor.Config{
		DeviceID:       cfg.ID,
		MaxFailures:    e.opts.MaxFailures,
		RequestTimeout: e.opts.RequestTimeout,
		LiveSignals:    a.LiveSignals(),
		Backoff:        e.opts.Backoff,
		Verify:         func(ctx context.Context, _ transport.Conn) error { return p.Verify(ctx) },
	}, conn, store, d.presence, supervisor.Hooks{
		OnChange: func(from, to status.Link) { e.linkChanged(d, from, to) },
	}, log.Named("supervisor"))

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		cancel()
		_ = conn.Close()
		return fmt.Errorf("%w: engine closed", fault.ErrCancelled)
	}
	if _, dup := e.devices[cfg.ID]; dup {
		e.mu.Unlock()
		cancel()
		_ = conn.Close()
		return fmt.Errorf("%w: device %s added concurrently", fault.ErrInvalidValue, cfg.ID)
	}
	d.sched = e.schedulerLocked(a.Cadence())
	e.devices[cfg.ID] = d
	e.mu.Unlock()

	if err := d.sched.Register(d); err != nil {
		e.mu.Lock()
		delete(e.devices, cfg.ID)
		e.mu.Unlock()
		cancel()
		_ = conn.Close()
		return err
	}

	e.spawn(d.watch)
	log.Info("device added", zap.Stringer("descriptor", cfg.Descriptor))
	return nil
}

// Remove tears a device down. Its pending actions resolve as cancelled.
func (e *Engine) Remove(id string) error {
	e.mu.Lock()
	d, ok := e.devices[id]
	delete(e.devices, id)
	e.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", fault.ErrUnknownDevice, id)
	}

	d.sched.Unregister(id)
	n := e.tracker.CancelDevice(id)
	d.cancel()
	d.sup.Teardown()
	e.metrics.Forget(id)

	d.log.Info("device removed", zap.Int("cancelled_actions", n))
	return nil
}

func (e *Engine) lookup(id string) (*device, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	d, ok := e.devices[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", fault.ErrUnknownDevice, id)
	}
	return d, nil
}

// Devices lists configured device ids.
func (e *Engine) Devices() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]string, 0, len(e.devices))
	for id := range e.devices {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// DeviceInfo is a point-in-time view of one device.
type DeviceInfo struct {
	ID         string
	Class      string
	Identity   string
	Descriptor transport.Descriptor
	Status     status.Snapshot
	State      map[string]state.Entry
	Pending    []string
}

func (e *Engine) Device(id string) (DeviceInfo, error) {
	d, err := e.lookup(id)
	if err != nil {
		return DeviceInfo{}, err
	}
	return DeviceInfo{
		ID:         d.id,
		Class:      d.cfg.Class,
		Identity:   d.identity,
		Descriptor: d.cfg.Descriptor,
		Status:     d.sup.Snapshot(),
		State:      d.store.Snapshot(),
		Pending:    e.tracker.Pending(id),
	}, nil
}

// Pending returns the correlation ids still awaiting an outcome.
func (e *Engine) Pending(id string) []string { return e.tracker.Pending(id) }

func (e *Engine) presence(cfg DeviceConfig) reachability.Monitor {
	if e.opts.Presence != nil {
		return e.opts.Presence(cfg)
	}
	pc := reachability.ProbeConfig{
		Name:     cfg.ID,
		Interval: e.opts.ProbeInterval,
		Backoff:  e.opts.Backoff,
	}
	log := e.log.Named("presence")
	switch cfg.Descriptor.Kind {
	case transport.KindTCP:
		return reachability.NewProbeMonitor(reachability.TCPProbe(cfg.Descriptor.Address()), pc, log)
	case transport.KindRTU:
		if b, ok := e.opts.Buses[cfg.Descriptor.Bus]; ok {
			return reachability.NewProbeMonitor(b.Check, pc, log)
		}
	}
	return reachability.NewStatic(true)
}

// ---- link events ----

func (e *Engine) linkChanged(d *device, from, to status.Link) {
	e.metrics.LinkChanged(d.id, from, to)

	switch {
	case to == status.Reachable:
		e.notify.ReachabilityChanged(d.id, true)
		e.spawn(func() { e.reachable(d) })
	case from == status.Reachable:
		e.notify.ReachabilityChanged(d.id, false)
	}
	e.publishStatus(d)
}

// reachable issues the setup writes, then an immediate update cycle.
func (e *Engine) reachable(d *device) {
	if len(d.setup) > 0 {
		if err := d.write(d.ctx, d.setup); err != nil {
			d.log.Warn("setup writes failed", zap.Error(err))
		}
	}

	e.mu.RLock()
	ctx := e.running
	e.mu.RUnlock()
	if ctx != nil {
		d.sched.Kick(ctx, d.id)
	}
}

func (e *Engine) publishStatus(d *device) {
	if p, ok := e.notify.(host.StatusPublisher); ok {
		p.PublishStatus(d.id, d.sup.Snapshot())
	}
}

// ---- discovery ----

// Discover runs the discovery method of a device class.
func (e *Engine) Discover(ctx context.Context, class string) discovery.Report {
	rep := e.discovery.Discover(ctx, class)
	e.metrics.Discovery(class, rep.Outcome)
	return rep
}

// DiscoveryClasses lists classes that can be discovered.
func (e *Engine) DiscoveryClasses() []string {
	out := e.discovery.Classes()
	sort.Strings(out)
	return out
}

func (e *Engine) known(r discovery.Result) (string, bool) {
	id := r.Identity()
	e.mu.RLock()
	defer e.mu.RUnlock()
	for _, d := range e.devices {
		if d.identity == id {
			return d.id, true
		}
	}
	return "", false
}

// ---- run loop ----

// schedulerLocked returns the shared scheduler of a cadence.
func (e *Engine) schedulerLocked(cadence time.Duration) *poller.Scheduler {
	if s, ok := e.scheds[cadence]; ok {
		return s
	}
	s := poller.NewScheduler(cadence.String(), cadence, e.log.Named("poller"))
	s.OnSkip = e.metrics.CycleSkipped
	if e.running != nil {
		s.Start(e.running)
	}
	e.scheds[cadence] = s
	return s
}

func (e *Engine) schedulers() []*poller.Scheduler {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]*poller.Scheduler, 0, len(e.scheds))
	for _, s := range e.scheds {
		out = append(out, s)
	}
	return out
}

// PollNow runs one update cycle on every reachable device and waits for
// them. Returns the number of cycles run.
func (e *Engine) PollNow(ctx context.Context) int {
	n := 0
	for _, s := range e.schedulers() {
		n += s.Sync(ctx)
	}
	return n
}

// Run polls every device on its cadence and ticks link status at 1 Hz
// until ctx ends.
func (e *Engine) Run(ctx context.Context) error {
	e.mu.Lock()
	if e.running != nil {
		e.mu.Unlock()
		return fmt.Errorf("engine: already running")
	}
	if e.closed {
		e.mu.Unlock()
		return fmt.Errorf("%w: engine closed", fault.ErrCancelled)
	}
	e.running = ctx
	for _, s := range e.scheds {
		s.Start(ctx)
	}
	e.mu.Unlock()

	e.log.Info("engine running", zap.Int("devices", len(e.Devices())))

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			e.stop()
			return nil
		case <-ticker.C:
			e.tickStatus()
		}
	}
}

func (e *Engine) tickStatus() {
	e.mu.RLock()
	ds := make([]*device, 0, len(e.devices))
	for _, d := range e.devices {
		ds = append(ds, d)
	}
	e.mu.RUnlock()

	for _, d := range ds {
		if d.sup.TickStatus() {
			e.publishStatus(d)
		}
	}
}

func (e *Engine) stop() {
	e.mu.Lock()
	e.running = nil
	scheds := make([]*poller.Scheduler, 0, len(e.scheds))
	for _, s := range e.scheds {
		s.Stop()
		scheds = append(scheds, s)
	}
	e.mu.Unlock()

	for _, s := range scheds {
		s.Wait()
	}
}

// Close removes every device and resolves every pending action.
func (e *Engine) Close() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	ids := make([]string, 0, len(e.devices))
	for id := range e.devices {
		ids = append(ids, id)
	}
	e.mu.Unlock()

	for _, id := range ids {
		_ = e.Remove(id)
	}
	e.tracker.Close()
	e.stop()
	e.cancel()
	e.wg.Wait()
}

// spawn runs fn in a goroutine Close waits for.
func (e *Engine) spawn(fn func()) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		return false
	}
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		fn()
	}()
	return true
}
