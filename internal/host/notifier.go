// internal/host/notifier.go
package host

import (
	"context"

	"go.uber.org/zap"

	"github.com/tamzrod/chargerlink/internal/codec"
	"github.com/tamzrod/chargerlink/internal/fault"
	"github.com/tamzrod/chargerlink/internal/status"
	"github.com/tamzrod/chargerlink/internal/vendors"
)

// Notifier is the host platform's view of the engine.
// Methods are called from engine goroutines and must not block for long.
type Notifier interface {
	StateChanged(deviceID, signal string, v codec.Value)
	ReachabilityChanged(deviceID string, reachable bool)
	ActionCompleted(correlationID string, success bool, kind fault.Kind)
}

// BoundsNotifier is optionally implemented to receive min/max changes.
type BoundsNotifier interface {
	BoundsChanged(deviceID, signal string, min, max *float64)
}

// StatusPublisher is optionally implemented to receive link health snapshots.
type StatusPublisher interface {
	PublishStatus(deviceID string, snap status.Snapshot)
}

// Control is the control surface the host drives.
// Both calls return a correlation id or fail immediately.
type Control interface {
	SetPower(ctx context.Context, deviceID string, on bool, opts vendor.ActionOptions) (string, error)
	SetMaxCurrent(ctx context.Context, deviceID string, amps float64) (string, error)
}

// ---- log notifier ----

// LogNotifier logs every notification.
type LogNotifier struct {
	Log *zap.Logger
}

func (n LogNotifier) StateChanged(deviceID, signal string, v codec.Value) {
	n.Log.Debug("state changed",
		zap.String("device", deviceID),
		zap.String("signal", signal),
		zap.Stringer("value", v),
	)
}

func (n LogNotifier) ReachabilityChanged(deviceID string, reachable bool) {
	n.Log.Info("reachability changed",
		zap.String("device", deviceID),
		zap.Bool("reachable", reachable),
	)
}

func (n LogNotifier) ActionCompleted(correlationID string, success bool, kind fault.Kind) {
	n.Log.Info("action completed",
		zap.String("correlation_id", correlationID),
		zap.Bool("success", success),
		zap.Stringer("error", kind),
	)
}

// ---- fanout ----

// Fanout forwards every notification to each member in order.
type Fanout []Notifier

func (f Fanout) StateChanged(deviceID, signal string, v codec.Value) {
	for _, n := range f {
		n.StateChanged(deviceID, signal, v)
	}
}

func (f Fanout) ReachabilityChanged(deviceID string, reachable bool) {
	for _, n := range f {
		n.ReachabilityChanged(deviceID, reachable)
	}
}

func (f Fanout) ActionCompleted(correlationID string, success bool, kind fault.Kind) {
	for _, n := range f {
		n.ActionCompleted(correlationID, success, kind)
	}
}

func (f Fanout) BoundsChanged(deviceID, signal string, min, max *float64) {
	for _, n := range f {
		if b, ok := n.(BoundsNotifier); ok {
			b.BoundsChanged(deviceID, signal, min, max)
		}
	}
}

func (f Fanout) PublishStatus(deviceID string, snap status.Snapshot) {
	for _, n := range f {
		if p, ok := n.(StatusPublisher); ok {
			p.PublishStatus(deviceID, snap)
		}
	}
}
