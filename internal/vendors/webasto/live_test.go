// internal/vendors/webasto/live_test.go
package webasto

import (
	"context"
	"net"
	"testing"

	"github.com/enbility/zeroconf/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/tamzrod/chargerlink/internal/codec"
	"github.com/tamzrod/chargerlink/internal/discovery"
	"github.com/tamzrod/chargerlink/internal/fault"
	"github.com/tamzrod/chargerlink/internal/poller"
	"github.com/tamzrod/chargerlink/internal/state"
	"github.com/tamzrod/chargerlink/internal/transport"
	"github.com/tamzrod/chargerlink/internal/vendors"
)

// hold sets a holding register run.
func (w words) hold(addr uint16, v ...uint16) {
	w[[2]uint16{uint16(codec.FCHolding), addr}] = v
}

func applyLive(t *testing.T, w words) *state.Store {
	t.Helper()
	out, errs := liveRegisters.DecodeAll(w.source)
	require.Empty(t, errs)
	s := state.NewStore("l1", nil)
	s.Apply(NewLive().Translate(out, s)...)
	return s
}

func TestLiveRegistry(t *testing.T) {
	require.NoError(t, poller.ValidateCoverage(livePlan, liveReadSignals))
	for _, b := range livePlan {
		assert.Equal(t, codec.FCHolding, b.FC, "the Live has no input registers")
	}

	r := vendor.NewRegistry()
	require.NoError(t, r.Register(New()))
	require.NoError(t, r.Register(NewLive()))
	assert.Equal(t, []string{LiveClass, Class}, r.Classes())
}

func TestLiveTranslateCharging(t *testing.T) {
	w := words{}
	w.hold(1000, chargerCharging)
	w.hold(1004, cableLocked)
	w.hold(1006, 0)
	w.hold(1008, 16)
	w.hold(1010, 16)
	w.hold(1012, 0)
	w.hold(1020, 0, 7360)
	w.hold(1036, 0, 12500)
	w.hold(1100, 32)
	w.hold(1502, 1800)
	w.hold(1508, 0, 600)

	s := applyLive(t, w)

	v, _ := s.Get(state.ChargePointState)
	assert.Equal(t, codec.Enum(chargerCharging, "charging"), v)
	v, _ = s.Get(state.Charging)
	assert.Equal(t, codec.Bool(true), v)
	v, _ = s.Get(state.PluggedIn)
	assert.Equal(t, codec.Bool(true), v)
	v, _ = s.Get(state.CurrentPhaseA)
	assert.Equal(t, codec.Float(16), v)
	v, _ = s.Get(state.CurrentPower)
	assert.Equal(t, codec.Float(7360), v)
	v, _ = s.Get(state.TotalEnergy)
	assert.Equal(t, codec.Float(12.5), v)
	v, _ = s.Get(state.SessionEnergy)
	assert.Equal(t, codec.Float(1.8), v)
	v, _ = s.Get(state.SessionTime)
	assert.Equal(t, codec.Int(600), v)
	v, _ = s.Get(state.PhaseCount)
	assert.Equal(t, codec.Int(2), v)
	v, _ = s.Get(state.Error)
	assert.Equal(t, codec.String(""), v)

	_, max := s.Bounds(state.MaxChargingCurrent)
	require.NotNil(t, max)
	assert.Equal(t, 32.0, *max)
}

func TestLiveTranslateCableWithoutVehicle(t *testing.T) {
	w := words{}
	w.hold(1000, chargerNoVehicle)
	w.hold(1004, 1)

	s := applyLive(t, w)
	v, _ := s.Get(state.PluggedIn)
	assert.Equal(t, codec.Bool(false), v)
	v, _ = s.Get(state.Charging)
	assert.Equal(t, codec.Bool(false), v)
}

func TestLiveUnreachableClearsChargePointState(t *testing.T) {
	w := words{}
	w.hold(1000, chargerCharging)
	s := applyLive(t, w)

	s.ZeroLive(NewLive().LiveSignals())
	v, _ := s.Get(state.ChargePointState)
	assert.Equal(t, codec.NoReading(), v)
	assert.NotEqual(t, codec.Enum(chargerNoVehicle, "no_vehicle"), v)
}

func TestLiveEncodePower(t *testing.T) {
	a := NewLive()
	s := state.NewStore("l1", nil)
	s.Set(state.MaxChargingCurrent, codec.Int(13))

	p, err := a.EncodePower(true, s, vendor.ActionOptions{TriggeredByUser: true})
	require.NoError(t, err)
	require.Len(t, p.Steps, 1)
	assert.Equal(t, uint16(5004), p.Steps[0].Address)
	assert.Equal(t, []uint16{13}, p.Steps[0].Values)
	assert.Equal(t, codec.Bool(true), p.Expected)

	p, err = a.EncodePower(true, nil, vendor.ActionOptions{})
	require.NoError(t, err)
	assert.Equal(t, []uint16{LiveDefaultMinCurrent}, p.Steps[0].Values)

	p, err = a.EncodePower(false, s, vendor.ActionOptions{})
	require.NoError(t, err)
	assert.Equal(t, []uint16{0}, p.Steps[0].Values)
	assert.Equal(t, codec.Bool(false), p.Expected)
}

func TestLiveEncodeMaxCurrent(t *testing.T) {
	a := NewLive()
	s := state.NewStore("l1", nil)

	p, err := a.EncodeMaxCurrent(10, s)
	require.NoError(t, err)
	assert.True(t, p.Local(), "paused: a write would resume charging")
	assert.Equal(t, []state.Update{state.Set(state.MaxChargingCurrent, codec.Int(10))}, p.Updates)

	s.Set(state.Power, codec.Bool(true))
	p, err = a.EncodeMaxCurrent(10, s)
	require.NoError(t, err)
	require.Len(t, p.Steps, 1)
	assert.Equal(t, []uint16{10}, p.Steps[0].Values)

	_, err = a.EncodeMaxCurrent(-2, s)
	assert.ErrorIs(t, err, fault.ErrInvalidValue)
}

type holdingConn struct {
	fakeConn
}

func (c *holdingConn) ReadHoldingRegisters(_ context.Context, addr, qty uint16) ([]uint16, error) {
	if addr != 1000 || qty != 1 {
		return nil, fault.ErrHardwareRejected
	}
	return []uint16{c.state}, nil
}

func (c *holdingConn) ReadInputRegisters(context.Context, uint16, uint16) ([]uint16, error) {
	return nil, fault.ErrHardwareRejected
}

type connDialer map[string]transport.Conn

func (d connDialer) Dial(desc transport.Descriptor) (transport.Conn, error) {
	return d[desc.Host], nil
}

func TestLiveDiscoveryVerifiesHoldingRegister(t *testing.T) {
	e := &zeroconf.ServiceEntry{}
	e.Instance = "webasto-live"
	e.AddrIPv4 = []net.IP{net.ParseIP("192.168.1.30")}
	r, ok := liveCandidate(e)
	require.True(t, ok)
	assert.Equal(t, "Webasto Live", r.Model)

	live := &holdingConn{fakeConn{state: chargerChargingPaused}}
	next := &fakeConn{state: chargerChargingPaused}
	d := connDialer{"10.0.0.1": live, "10.0.0.2": next}
	log := zaptest.NewLogger(t)
	cand := func(host string) discovery.Result {
		return discovery.Result{Descriptor: transport.Descriptor{Kind: transport.KindTCP, Host: host, Port: 502}}
	}

	_, ok = verify(context.Background(), d, cand("10.0.0.1"), codec.FCHolding, log)
	assert.True(t, ok)
	_, ok = verify(context.Background(), d, cand("10.0.0.2"), codec.FCHolding, log)
	assert.False(t, ok, "a Next does not answer the Live register family")
	_, ok = verify(context.Background(), d, cand("10.0.0.1"), codec.FCInput, log)
	assert.False(t, ok)
}
