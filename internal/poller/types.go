// internal/poller/types.go
package poller

import "time"

// ReadBlock describes one Modbus read geometry.
// Geometry only: no semantics.
type ReadBlock struct {
	FC       uint8
	Address  uint16
	Quantity uint16
}

// End is the first address after the block.
func (b ReadBlock) End() uint32 {
	return uint32(b.Address) + uint32(b.Quantity)
}

// Covers reports whether [addr, addr+n) lies inside the block.
func (b ReadBlock) Covers(fc uint8, addr, n uint16) bool {
	return fc == b.FC && addr >= b.Address && uint32(addr)+uint32(n) <= b.End()
}

// BlockResult is the raw result of a single read.
type BlockResult struct {
	FC        uint8
	Address   uint16
	Quantity  uint16
	Registers []uint16
}

// PollResult is a snapshot produced by one poll cycle.
type PollResult struct {
	DeviceID string
	At       time.Time

	Blocks []BlockResult
	Err    error // non-nil means the poll cycle failed
}

// Words returns the n registers at addr, if one block of this cycle holds
// all of them. Multi-word values therefore never straddle two reads.
func (r PollResult) Words(fc uint8, addr, n uint16) ([]uint16, bool) {
	for _, b := range r.Blocks {
		rb := ReadBlock{FC: b.FC, Address: b.Address, Quantity: b.Quantity}
		if !rb.Covers(fc, addr, n) {
			continue
		}
		off := addr - b.Address
		if int(off)+int(n) > len(b.Registers) {
			return nil, false
		}
		return b.Registers[off : off+n], true
	}
	return nil, false
}
