// internal/state/store_test.go
package state

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tamzrod/chargerlink/internal/codec"
)

type event struct {
	signal string
	value  codec.Value
}

type recorder struct {
	events []event
	bounds []string
}

func (r *recorder) StateChanged(_, signal string, v codec.Value) {
	r.events = append(r.events, event{signal, v})
}

func (r *recorder) BoundsChanged(_, signal string, _, _ *float64) {
	r.bounds = append(r.bounds, signal)
}

func TestSetNotifiesOnlyOnChange(t *testing.T) {
	rec := &recorder{}
	s := NewStore("d1", rec)

	assert.True(t, s.Set(Charging, codec.Bool(true)))
	assert.False(t, s.Set(Charging, codec.Bool(true)))
	assert.True(t, s.Set(Charging, codec.Bool(false)))

	require.Len(t, rec.events, 2)
	assert.Equal(t, codec.Bool(false), rec.events[1].value)
}

func TestApplyReadingsSkipsInvalid(t *testing.T) {
	s := NewStore("d1", nil)
	s.Set(MaxChargingCurrent, codec.Int(16))

	n := s.ApplyReadings([]codec.RegisterValue{
		{Name: MaxChargingCurrent, Value: codec.Int(0), Valid: false},
		{Name: TotalEnergy, Value: codec.Float(12.5), Valid: true},
	})
	assert.Equal(t, 1, n)

	v, _ := s.Get(MaxChargingCurrent)
	assert.Equal(t, codec.Int(16), v, "invalid reading must not overwrite")
}

func TestZeroLiveKeepsEnergy(t *testing.T) {
	s := NewStore("d1", nil)
	s.Apply(
		Set(CurrentPower, codec.Float(7400)),
		Set(CurrentPhaseA, codec.Float(10.5)),
		Set(Charging, codec.Bool(true)),
		Set(ChargePointState, codec.Enum(0, "idle")),
		Set(TotalEnergy, codec.Float(1234.5)),
	)

	s.ZeroLive(LiveSignals)

	p, _ := s.Get(CurrentPower)
	assert.Equal(t, codec.Float(0), p)
	a, _ := s.Get(CurrentPhaseA)
	assert.Equal(t, codec.Float(0), a)
	c, _ := s.Get(Charging)
	assert.Equal(t, codec.Bool(false), c)
	cp, _ := s.Get(ChargePointState)
	assert.Equal(t, codec.NoReading(), cp)
	assert.NotEqual(t, codec.Unknown(0), cp, "no reading is not a decoded code 0")

	e, _ := s.Get(TotalEnergy)
	assert.Equal(t, codec.Float(1234.5), e)

	_, ok := s.Get(PowerPhaseB)
	assert.False(t, ok, "unset signals stay unset")
}

func TestBounds(t *testing.T) {
	rec := &recorder{}
	s := NewStore("d1", rec)

	s.SetMin(MaxChargingCurrent, 6)
	s.SetMax(MaxChargingCurrent, 32)
	s.SetMax(MaxChargingCurrent, 32)

	min, max := s.Bounds(MaxChargingCurrent)
	require.NotNil(t, min)
	require.NotNil(t, max)
	assert.Equal(t, 6.0, *min)
	assert.Equal(t, 32.0, *max)
	assert.Equal(t, []string{MaxChargingCurrent, MaxChargingCurrent}, rec.bounds)
	assert.Empty(t, rec.events)
}

func TestApplyOrder(t *testing.T) {
	rec := &recorder{}
	s := NewStore("d1", rec)

	s.Apply(Set(Power, codec.Bool(true)), Set(Power, codec.Bool(false)))

	require.Len(t, rec.events, 2)
	assert.Equal(t, codec.Bool(true), rec.events[0].value)
	assert.Equal(t, codec.Bool(false), rec.events[1].value)
	v, _ := s.Get(Power)
	assert.Equal(t, codec.Bool(false), v)
}
