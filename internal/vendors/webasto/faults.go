// internal/vendors/webasto/faults.go
package webasto

import (
	_ "embed"
	"fmt"

	"gopkg.in/yaml.v3"
)

//go:embed faults.yaml
var faultsYAML []byte

// FaultTable maps raw EVSE error codes to display text.
type FaultTable struct {
	Faults map[uint16]string `yaml:"faults"`
}

// ParseFaults loads a fault table. Code 0 is reserved for "no error".
func ParseFaults(b []byte) (*FaultTable, error) {
	var t FaultTable
	if err := yaml.Unmarshal(b, &t); err != nil {
		return nil, fmt.Errorf("webasto: fault table: %w", err)
	}
	if _, ok := t.Faults[0]; ok {
		return nil, fmt.Errorf("webasto: fault table: code 0 is reserved")
	}
	return &t, nil
}

// Text returns the display text of a raw code; "" for no error.
func (t *FaultTable) Text(code uint16) string {
	if code == 0 {
		return ""
	}
	if s, ok := t.Faults[code]; ok {
		return s
	}
	return fmt.Sprintf("Unknown error code %d", code)
}

var defaultFaults = mustFaults(faultsYAML)

func mustFaults(b []byte) *FaultTable {
	t, err := ParseFaults(b)
	if err != nil {
		panic(err)
	}
	return t
}
