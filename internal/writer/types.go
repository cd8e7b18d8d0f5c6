// internal/writer/types.go
package writer

import (
	"github.com/tamzrod/chargerlink/internal/codec"
)

// Step is one register write of a sequence.
type Step struct {
	Name    string // signal name, for logs
	Address uint16
	Values  []uint16
}

// Sequence is an ordered list of sub-writes.
// Only the final step's outcome is reported; every failure is logged.
type Sequence []Step

// Assign is one signal value to encode into a Step.
type Assign struct {
	Signal string
	Value  codec.Value
}
