package cpu

import (
	"math"

	"github.com/born-ml/flexnas/internal/tensor"
)

// Sum reduces all elements into a tensor of shape [1].
func (cpu *CPUBackend) Sum(x *tensor.RawTensor) *tensor.RawTensor {
	result := cpu.newRaw("sum", tensor.Shape{1})
	var acc float64
	for _, v := range x.Data() {
		acc += float64(v)
	}
	result.Data()[0] = float32(acc)
	return result
}

// SumDim sums along dim.
func (cpu *CPUBackend) SumDim(x *tensor.RawTensor, dim int, keepDim bool) *tensor.RawTensor {
	return cpu.reduceDim("sumDim", x, dim, keepDim, 1)
}

// MeanDim averages along dim.
func (cpu *CPUBackend) MeanDim(x *tensor.RawTensor, dim int, keepDim bool) *tensor.RawTensor {
	shape := x.Shape()
	n := shape[shape.NormalizeDim(dim)]
	return cpu.reduceDim("meanDim", x, dim, keepDim, 1/float32(n))
}

func (cpu *CPUBackend) reduceDim(op string, x *tensor.RawTensor, dim int, keepDim bool, scale float32) *tensor.RawTensor {
	shape := x.Shape()
	dim = shape.NormalizeDim(dim)
	outer := shape[:dim].NumElements()
	size := shape[dim]
	inner := shape[dim+1:].NumElements()

	result := cpu.newRaw(op, reducedShape(shape, dim, keepDim))
	out, in := result.Data(), x.Data()
	for o := 0; o < outer; o++ {
		for k := 0; k < size; k++ {
			base := (o*size + k) * inner
			for i := 0; i < inner; i++ {
				out[o*inner+i] += in[base+i]
			}
		}
	}
	if scale != 1 {
		for i := range out {
			out[i] *= scale
		}
	}
	return result
}

func reducedShape(shape tensor.Shape, dim int, keepDim bool) tensor.Shape {
	out := make(tensor.Shape, 0, len(shape))
	for d, s := range shape {
		switch {
		case d != dim:
			out = append(out, s)
		case keepDim:
			out = append(out, 1)
		}
	}
	if len(out) == 0 {
		out = tensor.Shape{1}
	}
	return out
}

// Softmax normalizes along dim with the max-subtraction trick.
func (cpu *CPUBackend) Softmax(x *tensor.RawTensor, dim int) *tensor.RawTensor {
	shape := x.Shape()
	dim = shape.NormalizeDim(dim)
	outer := shape[:dim].NumElements()
	size := shape[dim]
	inner := shape[dim+1:].NumElements()

	result := cpu.newRaw("softmax", shape)
	out, in := result.Data(), x.Data()
	for o := 0; o < outer; o++ {
		for i := 0; i < inner; i++ {
			at := func(k int) int { return (o*size+k)*inner + i }
			maxV := float32(math.Inf(-1))
			for k := 0; k < size; k++ {
				maxV = max(maxV, in[at(k)])
			}
			var sum float64
			for k := 0; k < size; k++ {
				e := math.Exp(float64(in[at(k)] - maxV))
				out[at(k)] = float32(e)
				sum += e
			}
			for k := 0; k < size; k++ {
				out[at(k)] = float32(float64(out[at(k)]) / sum)
			}
		}
	}
	return result
}
