// internal/poller/builder.go
package poller

import (
	"fmt"
	"sort"

	"github.com/tamzrod/chargerlink/internal/codec"
)

// maxGap is how many unused registers may be read to join two ranges.
const maxGap = 8

// maxQuantity is the Modbus limit for one register read.
const maxQuantity = 125

// Coalesce builds a read plan covering every signal, joining neighbours
// per function code. A multi-word signal is never split across blocks.
func Coalesce(signals []codec.Signal) []ReadBlock {
	byFC := map[uint8][]codec.Signal{}
	for _, s := range signals {
		byFC[s.FC] = append(byFC[s.FC], s)
	}

	fcs := make([]int, 0, len(byFC))
	for fc := range byFC {
		fcs = append(fcs, int(fc))
	}
	sort.Ints(fcs)

	var out []ReadBlock
	for _, fc := range fcs {
		group := byFC[uint8(fc)]
		sort.Slice(group, func(i, j int) bool { return group[i].Address < group[j].Address })

		var cur *ReadBlock
		for _, s := range group {
			end := uint32(s.Address) + uint32(s.Words())
			if cur != nil {
				gap := int64(s.Address) - int64(cur.End())
				span := end - uint32(cur.Address)
				if gap <= maxGap && span <= maxQuantity {
					if end > cur.End() {
						cur.Quantity = uint16(span)
					}
					continue
				}
				out = append(out, *cur)
			}
			cur = &ReadBlock{FC: s.FC, Address: s.Address, Quantity: s.Words()}
		}
		if cur != nil {
			out = append(out, *cur)
		}
	}
	return out
}

// ValidateCoverage checks that each signal lies wholly inside one block.
// A signal split across two reads could decode torn values.
func ValidateCoverage(blocks []ReadBlock, signals []codec.Signal) error {
	for _, s := range signals {
		covered := false
		for _, b := range blocks {
			if b.Covers(s.FC, s.Address, s.Words()) {
				covered = true
				break
			}
		}
		if !covered {
			return fmt.Errorf("poller: signal %s (fc=%d addr=%d words=%d) not inside a single read block",
				s.Name, s.FC, s.Address, s.Words())
		}
	}
	return nil
}
