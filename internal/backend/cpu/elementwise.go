package cpu

import (
	"fmt"
	"math"

	"github.com/born-ml/flexnas/internal/tensor"
)

// Add performs element-wise addition with NumPy-style broadcasting.
func (cpu *CPUBackend) Add(a, b *tensor.RawTensor) *tensor.RawTensor {
	return cpu.binary("add", a, b, func(x, y float32) float32 { return x + y })
}

// Sub performs element-wise subtraction with NumPy-style broadcasting.
func (cpu *CPUBackend) Sub(a, b *tensor.RawTensor) *tensor.RawTensor {
	return cpu.binary("sub", a, b, func(x, y float32) float32 { return x - y })
}

// Mul performs element-wise multiplication with NumPy-style broadcasting.
func (cpu *CPUBackend) Mul(a, b *tensor.RawTensor) *tensor.RawTensor {
	return cpu.binary("mul", a, b, func(x, y float32) float32 { return x * y })
}

// Div performs element-wise division with NumPy-style broadcasting.
func (cpu *CPUBackend) Div(a, b *tensor.RawTensor) *tensor.RawTensor {
	return cpu.binary("div", a, b, func(x, y float32) float32 { return x / y })
}

func (cpu *CPUBackend) binary(op string, a, b *tensor.RawTensor, f func(x, y float32) float32) *tensor.RawTensor {
	outShape, needsBroadcast, err := tensor.BroadcastShapes(a.Shape(), b.Shape())
	if err != nil {
		panic(fmt.Sprintf("%s: %v", op, err))
	}
	result := cpu.newRaw(op, outShape)
	out, ad, bd := result.Data(), a.Data(), b.Data()

	if !needsBroadcast {
		for i := range out {
			out[i] = f(ad[i], bd[i])
		}
		return result
	}

	// Scalar right-hand side is the common case for scale factors.
	if len(bd) == 1 && len(ad) == len(out) {
		s := bd[0]
		for i := range out {
			out[i] = f(ad[i], s)
		}
		return result
	}

	aStrides := a.Shape().BroadcastStrides(outShape)
	bStrides := b.Shape().BroadcastStrides(outShape)
	index := make([]int, len(outShape))
	aOff, bOff := 0, 0
	for i := range out {
		out[i] = f(ad[aOff], bd[bOff])
		// Odometer increment over the output index.
		for d := len(outShape) - 1; d >= 0; d-- {
			index[d]++
			aOff += aStrides[d]
			bOff += bStrides[d]
			if index[d] < outShape[d] {
				break
			}
			aOff -= aStrides[d] * index[d]
			bOff -= bStrides[d] * index[d]
			index[d] = 0
		}
	}
	return result
}

func (cpu *CPUBackend) unary(op string, x *tensor.RawTensor, f func(v float32) float32) *tensor.RawTensor {
	result := cpu.newRaw(op, x.Shape())
	out, in := result.Data(), x.Data()
	for i, v := range in {
		out[i] = f(v)
	}
	return result
}

// MulScalar multiplies every element by scalar.
func (cpu *CPUBackend) MulScalar(x *tensor.RawTensor, scalar float32) *tensor.RawTensor {
	return cpu.unary("mulScalar", x, func(v float32) float32 { return v * scalar })
}

// AddScalar adds scalar to every element.
func (cpu *CPUBackend) AddScalar(x *tensor.RawTensor, scalar float32) *tensor.RawTensor {
	return cpu.unary("addScalar", x, func(v float32) float32 { return v + scalar })
}

// Abs computes |x|.
func (cpu *CPUBackend) Abs(x *tensor.RawTensor) *tensor.RawTensor {
	return cpu.unary("abs", x, func(v float32) float32 { return float32(math.Abs(float64(v))) })
}

// Exp computes e^x.
func (cpu *CPUBackend) Exp(x *tensor.RawTensor) *tensor.RawTensor {
	return cpu.unary("exp", x, func(v float32) float32 { return float32(math.Exp(float64(v))) })
}

// Sqrt computes the square root.
func (cpu *CPUBackend) Sqrt(x *tensor.RawTensor) *tensor.RawTensor {
	return cpu.unary("sqrt", x, func(v float32) float32 { return float32(math.Sqrt(float64(v))) })
}

// ReLU computes max(x, 0).
func (cpu *CPUBackend) ReLU(x *tensor.RawTensor) *tensor.RawTensor {
	return cpu.unary("relu", x, func(v float32) float32 { return max(v, 0) })
}

// Clamp limits every element to [lo, hi].
func (cpu *CPUBackend) Clamp(x *tensor.RawTensor, lo, hi float32) *tensor.RawTensor {
	if lo > hi {
		panic(fmt.Sprintf("clamp: lower bound %v greater than upper bound %v", lo, hi))
	}
	return cpu.unary("clamp", x, func(v float32) float32 { return min(max(v, lo), hi) })
}

// Round rounds half away from zero.
func (cpu *CPUBackend) Round(x *tensor.RawTensor) *tensor.RawTensor {
	return cpu.unary("round", x, func(v float32) float32 { return float32(math.Round(float64(v))) })
}

// Binarize returns 1 where x >= threshold, 0 elsewhere.
func (cpu *CPUBackend) Binarize(x, threshold *tensor.RawTensor) *tensor.RawTensor {
	if threshold.NumElements() != 1 {
		panic(fmt.Sprintf("binarize: threshold must have one element, got shape %v", threshold.Shape()))
	}
	th := threshold.Data()[0]
	return cpu.unary("binarize", x, func(v float32) float32 {
		if v >= th {
			return 1
		}
		return 0
	})
}
