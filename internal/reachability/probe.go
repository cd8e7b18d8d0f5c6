// internal/reachability/probe.go
package reachability

import (
	"context"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ProbeFunc checks presence once. nil means present.
type ProbeFunc func(ctx context.Context) error

// ProbeMonitor polls a ProbeFunc. While present it probes every interval;
// while absent it backs off between probes.
type ProbeMonitor struct {
	hub

	name     string
	probe    ProbeFunc
	interval time.Duration
	timeout  time.Duration
	backoff  *Backoff
	log      *zap.Logger

	once sync.Once
}

// ProbeConfig configures a ProbeMonitor.
type ProbeConfig struct {
	Name     string
	Interval time.Duration
	Timeout  time.Duration
	Backoff  BackoffConfig
}

func NewProbeMonitor(probe ProbeFunc, cfg ProbeConfig, log *zap.Logger) *ProbeMonitor {
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 10 * time.Second
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 2 * time.Second
	}
	if cfg.Backoff.Max <= 0 {
		cfg.Backoff.Max = cfg.Interval * 6
	}
	return &ProbeMonitor{
		name:     cfg.Name,
		probe:    probe,
		interval: cfg.Interval,
		timeout:  cfg.Timeout,
		backoff:  NewBackoff(cfg.Backoff),
		log:      log.With(zap.String("monitor", cfg.Name)),
	}
}

// Start runs the probe loop until ctx ends. Idempotent.
func (m *ProbeMonitor) Start(ctx context.Context) {
	m.once.Do(func() {
		go m.run(ctx)
	})
}

// Watch starts the loop on first use.
func (m *ProbeMonitor) Watch(ctx context.Context) <-chan bool {
	m.Start(ctx)
	return m.hub.Watch(ctx)
}

func (m *ProbeMonitor) run(ctx context.Context) {
	for {
		wait := m.ProbeOnce(ctx)

		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return
		case <-t.C:
		}
	}
}

// ProbeOnce runs one probe, updates the value and returns the delay
// until the next probe.
func (m *ProbeMonitor) ProbeOnce(ctx context.Context) time.Duration {
	pctx, cancel := context.WithTimeout(ctx, m.timeout)
	err := m.probe(pctx)
	cancel()

	if err == nil {
		m.backoff.Reset()
		if m.set(true) {
			m.log.Info("address present")
		}
		return m.interval
	}

	if m.set(false) {
		m.log.Info("address absent", zap.Error(err))
	}
	return m.backoff.Next()
}

// TCPProbe is present when a TCP connection to addr can be opened.
func TCPProbe(addr string) ProbeFunc {
	return func(ctx context.Context) error {
		var d net.Dialer
		conn, err := d.DialContext(ctx, "tcp", addr)
		if err != nil {
			return err
		}
		return conn.Close()
	}
}
