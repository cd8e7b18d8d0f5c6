// internal/status/status_test.go
package status

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/goburrow/modbus"
	"github.com/stretchr/testify/assert"
)

func TestErrorCode(t *testing.T) {
	assert.Equal(t, uint16(0), ErrorCode(nil))
	assert.Equal(t, uint16(1), ErrorCode(errors.New("x")))

	me := &modbus.ModbusError{FunctionCode: 0x83, ExceptionCode: modbus.ExceptionCodeIllegalDataAddress}
	assert.Equal(t, uint16(2), ErrorCode(fmt.Errorf("read: %w", me)))
}

func TestObserve(t *testing.T) {
	var s Snapshot
	now := time.Unix(1000, 0)

	assert.True(t, s.Observe(errors.New("x"), now))
	assert.False(t, s.Observe(errors.New("y"), now), "same code is not a change")

	s.Failures = 2
	assert.True(t, s.Observe(nil, now))
	assert.Equal(t, now, s.LastSeen)
	assert.Zero(t, s.Failures)
	assert.Zero(t, s.LastErrorCode)
}

func TestTick(t *testing.T) {
	s := Snapshot{Link: Unreachable, SecondsUnreachable: MaxSeconds - 1}
	assert.True(t, s.Tick())
	assert.False(t, s.Tick(), "saturates")

	s.Link = Reachable
	assert.True(t, s.Tick())
	assert.Zero(t, s.SecondsUnreachable)
}

func TestTransitions(t *testing.T) {
	assert.True(t, CanTransition(Disconnected, Connecting))
	assert.True(t, CanTransition(Connecting, Reachable))
	assert.True(t, CanTransition(Reachable, Unreachable))
	assert.True(t, CanTransition(Unreachable, Connecting))
	assert.True(t, CanTransition(Reachable, Disconnected))
	assert.False(t, CanTransition(Disconnected, Reachable))
	assert.False(t, CanTransition(Unreachable, Reachable))
}

func TestEncode(t *testing.T) {
	b := Encode(Snapshot{Link: Unreachable, Failures: 3, LastErrorCode: 1})
	assert.JSONEq(t, `{"link":"unreachable","failures":3,"last_error_code":1,"seconds_unreachable":0}`, string(b))
}
