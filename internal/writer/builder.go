// internal/writer/builder.go
package writer

import (
	"fmt"

	"github.com/tamzrod/chargerlink/internal/codec"
)

// Build encodes assignments into a Sequence, in order.
// Any encode failure rejects the whole sequence before anything is sent.
func Build(m *codec.Map, assigns ...Assign) (Sequence, error) {
	seq := make(Sequence, 0, len(assigns))
	for _, a := range assigns {
		addr, words, err := m.Encode(a.Signal, a.Value)
		if err != nil {
			return nil, fmt.Errorf("writer: %s: %w", a.Signal, err)
		}
		seq = append(seq, Step{Name: a.Signal, Address: addr, Values: words})
	}
	return seq, nil
}

// MustBuild is Build for sequences made of constants.
func MustBuild(m *codec.Map, assigns ...Assign) Sequence {
	seq, err := Build(m, assigns...)
	if err != nil {
		panic(err)
	}
	return seq
}
