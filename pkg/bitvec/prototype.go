// pkg/bitvec/prototype.go
package bitvec

import (
	"errors"
	"sync"
)

// maxPrototypeDimensions bounds the per-dimension counts buffer used by the
// lookup-table prototype, matching the original's fixed-size 65536-entry
// accumulator.
const maxPrototypeDimensions = 65536

// lut16Positions[v] holds the bit positions set in the 16-bit value v. Built
// once lazily, mirroring BitMapList16's constructor in the original C++
// (there it runs eagerly at startup; here a sync.Once defers the ~1.5MB
// build to first use).
var (
	lut16Once  sync.Once
	lut16Table [1 << 16][]uint8
)

func ensureLUT16() {
	lut16Once.Do(func() {
		for v := 0; v < (1 << 16); v++ {
			var positions []uint8
			for b := 0; b < 16; b++ {
				if v&(1<<uint(b)) != 0 {
					positions = append(positions, uint8(b))
				}
			}
			lut16Table[v] = positions
		}
	})
}

// ErrTooManyDimensions is returned when Prototype is asked to summarize
// vectors longer than the lookup-table accumulator supports.
var ErrTooManyDimensions = errors.New("bitvec: vector length exceeds prototype dimension cap of 65536")

// Prototype overwrites result with the per-dimension majority bit across
// members: bit i is set iff more than half of members (by count, or by
// weight when weights is non-empty) have bit i set.
//
// The accumulation is driven by a 16-bit lookup table: each source block is
// sliced into four 16-bit chunks, and for each chunk every set bit position
// is added (with weight, or 1 if unweighted) into a flat counts buffer
// indexed by output dimension. This keeps the inner loop's cost
// proportional to the number of *set* bits rather than to 64 comparisons per
// block.
func Prototype(result *BitVector, members []*BitVector, weights []int) error {
	if result.length > maxPrototypeDimensions {
		return ErrTooManyDimensions
	}
	ensureLUT16()

	counts := make([]int32, result.length)
	weighted := len(weights) > 0

	for t, m := range members {
		if m.length != result.length {
			panic("bitvec: Prototype called with mismatched member length")
		}
		weight := int32(1)
		if weighted {
			weight = int32(weights[t])
		}
		base := 0
		for _, block := range m.blocks {
			for chunk := 0; chunk < 4; chunk++ {
				val := uint16(block >> uint(chunk*16))
				for _, p := range lut16Table[val] {
					counts[base+chunk*16+int(p)] += weight
				}
			}
			base += 64
		}
	}

	var half int32
	if weighted {
		var total int32
		for _, w := range weights {
			total += int32(w)
		}
		half = total / 2
	} else {
		half = int32(len(members)) / 2
	}

	result.SetAllBlocks(0)
	for i := 0; i < result.length; i++ {
		if counts[i] > half {
			result.Set(i)
		}
	}
	return nil
}
