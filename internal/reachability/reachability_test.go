// internal/reachability/reachability_test.go
package reachability

import (
	"context"
	"errors"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestBackoffSequence(t *testing.T) {
	b := NewBackoff(BackoffConfig{Initial: time.Second, Max: 4 * time.Second, Multiplier: 2, Jitter: 0})

	assert.Equal(t, time.Second, b.Next())
	assert.Equal(t, 2*time.Second, b.Next())
	assert.Equal(t, 4*time.Second, b.Next())
	assert.Equal(t, 4*time.Second, b.Next(), "capped")
	assert.Equal(t, 4, b.Attempts())

	b.Reset()
	assert.Equal(t, time.Second, b.Current())
	assert.Equal(t, 0, b.Attempts())
}

func TestBackoffJitterBounded(t *testing.T) {
	b := NewBackoff(BackoffConfig{Initial: time.Second, Jitter: 0.25})
	for i := 0; i < 50; i++ {
		b.Reset()
		d := b.Next()
		assert.GreaterOrEqual(t, d, time.Second)
		assert.LessOrEqual(t, d, 1250*time.Millisecond)
	}
}

func TestManualWatch(t *testing.T) {
	m := NewManual(false)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch := m.Watch(ctx)
	assert.False(t, <-ch, "current value first")

	assert.True(t, m.Set(true))
	assert.False(t, m.Set(true), "no change")
	assert.True(t, <-ch)

	// a slow reader only sees the latest value
	m.Set(false)
	m.Set(true)
	m.Set(false)
	assert.False(t, <-ch)
	assert.False(t, m.Reachable())

	cancel()
	require.Eventually(t, func() bool {
		_, open := <-ch
		return !open
	}, time.Second, time.Millisecond)
}

func TestStatic(t *testing.T) {
	s := NewStatic(true)
	assert.True(t, s.Reachable())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	assert.True(t, <-s.Watch(ctx))
}

func TestProbeMonitorEdges(t *testing.T) {
	var present atomic.Bool
	probe := func(context.Context) error {
		if present.Load() {
			return nil
		}
		return errors.New("absent")
	}

	m := NewProbeMonitor(probe, ProbeConfig{
		Name:     "t",
		Interval: time.Hour,
		Backoff:  BackoffConfig{Initial: time.Second, Max: time.Minute, Jitter: 0},
	}, zaptest.NewLogger(t))

	ctx := context.Background()
	assert.Equal(t, time.Second, m.ProbeOnce(ctx))
	assert.Equal(t, 2*time.Second, m.ProbeOnce(ctx), "backs off while absent")
	assert.False(t, m.Reachable())

	present.Store(true)
	assert.Equal(t, time.Hour, m.ProbeOnce(ctx))
	assert.True(t, m.Reachable())

	present.Store(false)
	assert.Equal(t, time.Second, m.ProbeOnce(ctx), "backoff reset after presence")
}

func TestTCPProbe(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()

	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			_ = c.Close()
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	assert.NoError(t, TCPProbe(addr)(ctx))

	require.NoError(t, ln.Close())
	assert.Error(t, TCPProbe(addr)(ctx))
}
