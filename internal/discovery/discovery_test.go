// internal/discovery/discovery_test.go
package discovery

import (
	"bytes"
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/tamzrod/chargerlink/internal/fault"
	"github.com/tamzrod/chargerlink/internal/transport"
)

// ---- fake framing: "PING" probe, "HELLO <serial>" reply ----

type testFraming struct{}

func (testFraming) Probe() []byte { return []byte("PING") }

func (testFraming) Parse(from net.Addr, b []byte) (Result, bool) {
	if !bytes.HasPrefix(b, []byte("HELLO ")) {
		return Result{}, false
	}
	host, _, _ := net.SplitHostPort(from.String())
	serial := string(b[6:])
	return Result{
		Descriptor: transport.Descriptor{Kind: transport.KindUDP, Host: host, Port: 9522, Serial: serial},
		Vendor:     "test",
		Serial:     serial,
	}, true
}

// responder answers every probe with the given replies.
func responder(t *testing.T, replies ...string) string {
	t.Helper()
	pc, err := net.ListenPacket("udp4", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = pc.Close() })

	go func() {
		buf := make([]byte, 64)
		for {
			n, from, err := pc.ReadFrom(buf)
			if err != nil {
				return
			}
			if string(buf[:n]) != "PING" {
				continue
			}
			for _, r := range replies {
				_, _ = pc.WriteTo([]byte(r), from)
			}
		}
	}()
	return pc.LocalAddr().String()
}

func TestBroadcast_CollectsAndDedupes(t *testing.T) {
	addr := responder(t, "HELLO 42", "garbage", "HELLO 42", "HELLO 43")

	b := &Broadcast{Addr: addr, Window: 200 * time.Millisecond, Framing: testFraming{}, Log: zaptest.NewLogger(t)}
	rep := b.Discover(context.Background())

	require.Equal(t, Completed, rep.Outcome)
	require.NoError(t, rep.Err)
	require.Len(t, rep.Results, 2)
	assert.Equal(t, "42", rep.Results[0].Serial)
	assert.Equal(t, "43", rep.Results[1].Serial)
}

func TestBroadcast_UnicastTargets(t *testing.T) {
	group := responder(t)
	direct := responder(t, "HELLO 44")
	other := responder(t, "HELLO 45")

	b := &Broadcast{
		Addr:    group,
		Unicast: []string{direct, "10.0.0.1", other},
		Window:  200 * time.Millisecond,
		Framing: testFraming{},
		Log:     zaptest.NewLogger(t),
	}
	rep := b.Discover(context.Background())

	require.Equal(t, Completed, rep.Outcome)
	require.Len(t, rep.Results, 2)
	serials := []string{rep.Results[0].Serial, rep.Results[1].Serial}
	assert.ElementsMatch(t, []string{"44", "45"}, serials)
}

func TestBroadcast_ZeroRepliesIsCompleted(t *testing.T) {
	addr := responder(t)

	b := &Broadcast{Addr: addr, Window: 50 * time.Millisecond, Framing: testFraming{}}
	rep := b.Discover(context.Background())

	assert.Equal(t, Completed, rep.Outcome)
	assert.Empty(t, rep.Results)
	assert.NoError(t, rep.Err)
}

func TestBroadcast_NoTransport(t *testing.T) {
	b := &Broadcast{
		Addr:    "127.0.0.1:9522",
		Window:  50 * time.Millisecond,
		Framing: testFraming{},
		Listen:  func() (net.PacketConn, error) { return nil, errors.New("network is unreachable") },
	}
	rep := b.Discover(context.Background())

	assert.Equal(t, TransportUnavailable, rep.Outcome)
	assert.ErrorIs(t, rep.Err, fault.ErrTransportUnavailable)
	assert.Empty(t, rep.Results)
}

func TestBroadcast_Cancelled(t *testing.T) {
	addr := responder(t)
	ctx, cancel := context.WithCancel(context.Background())

	b := &Broadcast{Addr: addr, Window: time.Minute, Framing: testFraming{}}
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	rep := b.Discover(ctx)
	assert.Equal(t, Cancelled, rep.Outcome)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestSweep(t *testing.T) {
	probe := func(_ context.Context, d transport.Descriptor) (Result, bool, error) {
		switch d.Slave {
		case 5, 7:
			return Result{Vendor: "schrack", Firmware: "1.0"}, true, nil
		default:
			return Result{}, false, fault.ErrTimeout
		}
	}

	s := &Sweep{Candidates: SlaveRange("bus0", 1, 10), Probe: probe, PerAddressTimeout: 10 * time.Millisecond, Parallel: 1}
	rep := s.Discover(context.Background())

	require.Equal(t, Completed, rep.Outcome)
	require.Len(t, rep.Results, 2)
	assert.Equal(t, uint8(5), rep.Results[0].Descriptor.Slave)
	assert.Equal(t, uint8(7), rep.Results[1].Descriptor.Slave)
	assert.Equal(t, "bus0", rep.Results[0].Descriptor.Bus)
}

func TestSweep_ParallelKeepsOrder(t *testing.T) {
	probe := func(_ context.Context, d transport.Descriptor) (Result, bool, error) {
		time.Sleep(time.Duration(20-d.Slave) * time.Millisecond)
		return Result{Vendor: "x"}, d.Slave%2 == 0, nil
	}
	s := &Sweep{Candidates: SlaveRange("bus0", 1, 12), Probe: probe, Parallel: 6}
	rep := s.Discover(context.Background())

	require.Equal(t, Completed, rep.Outcome)
	require.Len(t, rep.Results, 6)
	for i, r := range rep.Results {
		assert.Equal(t, uint8(2*(i+1)), r.Descriptor.Slave)
	}
}

func TestSweep_NoMaster(t *testing.T) {
	called := false
	s := &Sweep{
		Candidates: SlaveRange("bus0", 1, 254),
		Probe: func(context.Context, transport.Descriptor) (Result, bool, error) {
			called = true
			return Result{}, false, nil
		},
		Available: func(context.Context) error { return errors.New("no such device") },
	}
	rep := s.Discover(context.Background())

	assert.Equal(t, TransportUnavailable, rep.Outcome)
	assert.False(t, called)
}

func TestSweep_TransportLostMidway(t *testing.T) {
	s := &Sweep{
		Candidates: SlaveRange("bus0", 1, 20),
		Probe: func(_ context.Context, d transport.Descriptor) (Result, bool, error) {
			if d.Slave == 3 {
				return Result{}, false, fault.ErrTransportUnavailable
			}
			return Result{}, false, nil
		},
	}
	rep := s.Discover(context.Background())
	assert.Equal(t, TransportUnavailable, rep.Outcome)
	assert.ErrorIs(t, rep.Err, fault.ErrTransportUnavailable)
}

func TestSlaveRange(t *testing.T) {
	assert.Len(t, SlaveRange("b", 1, 254), 254)
	assert.Nil(t, SlaveRange("b", 5, 4))
}

func TestService(t *testing.T) {
	existing := transport.Descriptor{Kind: transport.KindRTU, Bus: "bus0", Slave: 5}
	known := func(r Result) (string, bool) {
		if r.Identity() == existing.Identity("schrack") {
			return "garage", true
		}
		return "", false
	}

	svc := NewService(known, zaptest.NewLogger(t))
	svc.Register("schrack", MethodFunc(func(context.Context) Report {
		return Report{Outcome: Completed, Results: []Result{
			{Descriptor: existing, Vendor: "schrack"},
			{Descriptor: existing, Vendor: "schrack"},
			{Descriptor: transport.Descriptor{Kind: transport.KindRTU, Bus: "bus0", Slave: 6}, Vendor: "schrack"},
		}}
	}))

	rep := svc.Discover(context.Background(), "schrack")
	require.Equal(t, Completed, rep.Outcome)
	require.Len(t, rep.Results, 2)
	assert.Equal(t, "garage", rep.Results[0].ExistingID)
	assert.Empty(t, rep.Results[1].ExistingID)

	rep = svc.Discover(context.Background(), "unknown")
	assert.Equal(t, TransportUnavailable, rep.Outcome)
	assert.Error(t, rep.Err)
}
