package tensor

import (
	"math"
	"math/rand/v2"
)

// Zeros creates a tensor filled with zeros.
//
// Example:
//
//	backend := cpu.New()
//	t := tensor.Zeros(Shape{3, 4}, backend)
func Zeros[B Backend](shape Shape, b B) *Tensor[B] {
	return New(MustRaw(shape, b.Device()), b)
}

// Ones creates a tensor filled with ones.
func Ones[B Backend](shape Shape, b B) *Tensor[B] {
	return Full(shape, 1, b)
}

// Full creates a tensor filled with a specific value.
func Full[B Backend](shape Shape, value float32, b B) *Tensor[B] {
	t := Zeros(shape, b)
	data := t.Data()
	for i := range data {
		data[i] = value
	}
	return t
}

// Scalar creates a one-element tensor of shape [1].
func Scalar[B Backend](value float32, b B) *Tensor[B] {
	return Full(Shape{1}, value, b)
}

// Eye creates an n x n identity matrix.
func Eye[B Backend](n int, b B) *Tensor[B] {
	t := Zeros(Shape{n, n}, b)
	data := t.Data()
	for i := 0; i < n; i++ {
		data[i*n+i] = 1
	}
	return t
}

// Rand creates a tensor with values drawn uniformly from [0, 1).
// Uses math/rand (not crypto/rand) - appropriate for ML/statistical purposes.
func Rand[B Backend](shape Shape, b B) *Tensor[B] {
	t := Zeros(shape, b)
	data := t.Data()
	for i := range data {
		data[i] = rand.Float32() //nolint:gosec // G404: statistical randomness is enough here
	}
	return t
}

// Randn creates a tensor with random values from a normal distribution (mean=0, std=1).
// Uses Box-Muller transform for generating normal distribution.
func Randn[B Backend](shape Shape, b B) *Tensor[B] {
	t := Zeros(shape, b)
	data := t.Data()
	for i := 0; i < len(data); i += 2 {
		u1 := 1 - rand.Float64() //nolint:gosec // G404: statistical randomness is enough here
		u2 := rand.Float64()     //nolint:gosec // G404: statistical randomness is enough here
		r := math.Sqrt(-2 * math.Log(u1))
		data[i] = float32(r * math.Cos(2*math.Pi*u2))
		if i+1 < len(data) {
			data[i+1] = float32(r * math.Sin(2*math.Pi*u2))
		}
	}
	return t
}

// Stack builds a tensor of shape [n, sample...] made of n copies of sample.
func Stack[B Backend](sample *Tensor[B], n int) *Tensor[B] {
	shape := append(Shape{n}, sample.Shape()...)
	t := Zeros(shape, sample.Backend())
	data := t.Data()
	src := sample.Data()
	for i := 0; i < n; i++ {
		copy(data[i*len(src):], src)
	}
	return t
}
