// pkg/optimizer/floatvector.go
package optimizer

import "vtree/pkg/floatvec"

// FloatVectorOptimizer builds the Optimizer for floatvec.Vector under the
// given metric, paired with the arithmetic-mean prototype.
func FloatVectorOptimizer(metric floatvec.Metric) Optimizer[floatvec.Vector] {
	return New[floatvec.Vector](metric.Distance(), Minimize, floatvec.Prototype)
}
