// internal/status/link.go
package status

// Link is the connection state of one device.
//
//	Disconnected -> Connecting -> Reachable -> Unreachable -> Connecting
//	Reachable/Unreachable -> Disconnected (teardown, terminal)
type Link uint8

const (
	Disconnected Link = iota
	Connecting
	Reachable
	Unreachable
)

func (l Link) String() string {
	switch l {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Reachable:
		return "reachable"
	case Unreachable:
		return "unreachable"
	default:
		return "unknown"
	}
}

// CanTransition reports whether from -> to is a legal edge.
func CanTransition(from, to Link) bool {
	switch to {
	case Connecting:
		return from == Disconnected || from == Unreachable
	case Reachable:
		return from == Connecting
	case Unreachable:
		return from == Reachable || from == Connecting
	case Disconnected:
		return from != Disconnected
	default:
		return false
	}
}

// MaxSeconds caps SecondsUnreachable.
const MaxSeconds uint16 = 65535
