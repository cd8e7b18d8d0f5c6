// internal/quirk/quirk_test.go
package quirk

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap/zaptest"

	"github.com/tamzrod/chargerlink/internal/codec"
)

type mapReader map[string]codec.Value

func (m mapReader) Get(s string) (codec.Value, bool) {
	v, ok := m[s]
	return v, ok
}

func TestMinCurrentGlitch(t *testing.T) {
	f := New(zaptest.NewLogger(t), Above("min_current", 32))

	for a := int64(0); a <= 32; a++ {
		assert.True(t, f.Accept("min_current", codec.Int(a), nil), "accept %d", a)
	}
	for _, a := range []int64{33, 34, 100, 65535} {
		assert.False(t, f.Accept("min_current", codec.Int(a), nil), "reject %d", a)
	}
}

func TestZeroAndRange(t *testing.T) {
	f := New(nil,
		Zero("max_current"),
		OutsideRange("cp_signal", 65, 68),
		UnknownEnum("charge_state"),
	)

	assert.False(t, f.Accept("max_current", codec.Int(0), nil))
	assert.True(t, f.Accept("max_current", codec.Int(16), nil))

	assert.False(t, f.Accept("cp_signal", codec.Int(64), nil))
	assert.True(t, f.Accept("cp_signal", codec.Int(66), nil))
	assert.False(t, f.Accept("cp_signal", codec.Int(69), nil))

	assert.False(t, f.Accept("charge_state", codec.Unknown(9), nil))
	assert.True(t, f.Accept("charge_state", codec.Enum(1, "charging"), nil))

	// signals without rules always pass
	assert.True(t, f.Accept("total_energy", codec.Int(0), nil))
}

func TestApplyMarksInvalid(t *testing.T) {
	var rejected []string
	f := New(nil, Above("min_current", 32))
	f.OnReject(func(signal, _ string) { rejected = append(rejected, signal) })

	in := []codec.RegisterValue{
		{Name: "min_current", Value: codec.Int(40), Valid: true},
		{Name: "min_current", Value: codec.Int(6), Valid: true},
		{Name: "other", Value: codec.Int(40), Valid: true},
	}
	out := f.Apply(in, mapReader{})

	assert.False(t, out[0].Valid)
	assert.True(t, out[1].Valid)
	assert.True(t, out[2].Valid)
	assert.Equal(t, []string{"min_current"}, rejected)
}

func TestRuleMaySeeState(t *testing.T) {
	// setpoint readings are only trusted while charging is enabled
	r := Rule{
		Signal: "setpoint",
		Reason: "charging disabled",
		Reject: func(_ codec.Value, cur Reader) bool {
			v, ok := cur.Get("enabled")
			return ok && !v.Bool
		},
	}
	f := New(nil, r)

	assert.False(t, f.Accept("setpoint", codec.Int(10), mapReader{"enabled": codec.Bool(false)}))
	assert.True(t, f.Accept("setpoint", codec.Int(10), mapReader{"enabled": codec.Bool(true)}))
}
