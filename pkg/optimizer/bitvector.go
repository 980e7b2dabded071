// pkg/optimizer/bitvector.go
package optimizer

import "vtree/pkg/bitvec"

// BitVectorOptimizer builds the canonical Optimizer for bitvec.BitVector:
// Hamming distance, Minimize, and the lookup-table prototype.
func BitVectorOptimizer() Optimizer[bitvec.BitVector] {
	return New[bitvec.BitVector](bitvec.Distance, Minimize, bitvec.Prototype)
}
