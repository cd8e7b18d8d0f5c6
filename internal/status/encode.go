// internal/status/encode.go
package status

import (
	"encoding/json"
	"time"
)

type wire struct {
	Link               string `json:"link"`
	Failures           int    `json:"failures"`
	LastSeen           string `json:"last_seen,omitempty"`
	LastErrorCode      uint16 `json:"last_error_code"`
	SecondsUnreachable uint16 `json:"seconds_unreachable"`
}

// Encode converts a Snapshot into the JSON status document published to the host.
// No IO. No side effects.
func Encode(s Snapshot) []byte {
	w := wire{
		Link:               s.Link.String(),
		Failures:           s.Failures,
		LastErrorCode:      s.LastErrorCode,
		SecondsUnreachable: s.SecondsUnreachable,
	}
	if !s.LastSeen.IsZero() {
		w.LastSeen = s.LastSeen.UTC().Format(time.RFC3339)
	}
	b, _ := json.Marshal(w)
	return b
}
