// internal/status/snapshot.go
package status

import (
	"errors"
	"time"

	"github.com/goburrow/modbus"
)

// Snapshot is the link health of one device at one instant.
// Plain data: copy freely.
type Snapshot struct {
	Link     Link
	Failures int
	LastSeen time.Time

	// LastErrorCode is 0 while healthy; otherwise best-effort (Modbus
	// exception code, or 1 for anything opaque).
	LastErrorCode uint16

	// SecondsUnreachable counts up once per second while not Reachable.
	SecondsUnreachable uint16
}

// Observe folds one request outcome into the snapshot.
// Returns true if anything changed.
func (s *Snapshot) Observe(err error, now time.Time) bool {
	if err == nil {
		changed := s.LastErrorCode != 0 || s.Failures != 0
		s.LastSeen = now
		s.LastErrorCode = 0
		s.Failures = 0
		return changed
	}

	code := ErrorCode(err)
	if s.LastErrorCode != code {
		s.LastErrorCode = code
		return true
	}
	return false
}

// Tick advances SecondsUnreachable by one while not Reachable.
func (s *Snapshot) Tick() bool {
	if s.Link == Reachable {
		if s.SecondsUnreachable != 0 {
			s.SecondsUnreachable = 0
			return true
		}
		return false
	}
	if s.Link == Disconnected || s.SecondsUnreachable >= MaxSeconds {
		return false
	}
	s.SecondsUnreachable++
	return true
}

// ErrorCode extracts a best-effort uint16 code from an error.
// If the error does not expose a code, returns 1 (generic error).
func ErrorCode(err error) uint16 {
	if err == nil {
		return 0
	}

	var me *modbus.ModbusError
	if errors.As(err, &me) {
		return uint16(me.ExceptionCode)
	}

	type coderA interface{ Code() uint16 }
	type coderB interface{ ErrorCode() uint16 }

	var a coderA
	if errors.As(err, &a) {
		return a.Code()
	}
	var b coderB
	if errors.As(err, &b) {
		return b.ErrorCode()
	}

	return 1
}
