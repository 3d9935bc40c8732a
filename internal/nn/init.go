package nn

import (
	"math"
	"math/rand/v2"

	"github.com/born-ml/flexnas/internal/tensor"
)

// Xavier (Glorot) initialization for weights.
//
// Initializes weights with values drawn from a uniform distribution:
// U(-sqrt(6/(fan_in + fan_out)), sqrt(6/(fan_in + fan_out)))
func Xavier[B tensor.Backend](fanIn, fanOut int, shape tensor.Shape, backend B) *tensor.Tensor[B] {
	return Uniform(math.Sqrt(6.0/float64(fanIn+fanOut)), shape, backend)
}

// Uniform fills a tensor with values drawn from U(-bound, bound).
func Uniform[B tensor.Backend](bound float64, shape tensor.Shape, backend B) *tensor.Tensor[B] {
	t := tensor.Zeros(shape, backend)
	data := t.Data()
	for i := range data {
		//nolint:gosec // Using math/rand for weight initialization (not security-critical)
		data[i] = float32((rand.Float64()*2.0 - 1.0) * bound)
	}
	return t
}
