// pkg/streamtree/bitvector.go
package streamtree

import "vtree/pkg/bitvec"

// BitVectorOps builds the canonical streaming Ops for bitvec.BitVector:
// Hamming distance, BitVector.Clone, and the int32 majority accumulator.
// The accumulator's dimension is fixed at construction since every
// BitVector it will ever accumulate shares the same length.
func BitVectorOps(length int) Ops[bitvec.BitVector, []int32] {
	return Ops[bitvec.BitVector, []int32]{
		Dist:           bitvec.Distance,
		Clone:          (*bitvec.BitVector).Clone,
		NewAccumulator: func() []int32 { return bitvec.NewAccumulator(length) },
		Accumulate:     bitvec.Accumulate,
		MergeInto:      bitvec.MergeAccumulators,
		Flatten:        bitvec.FlattenAccumulator,
	}
}
