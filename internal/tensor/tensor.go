package tensor

import "fmt"

// Tensor is a float32 tensor bound to a computation backend B.
//
// Every operation delegates to the backend, so the same model code runs eagerly
// on the CPU backend or records a gradient tape when B is the autodiff decorator.
//
// Example:
//
//	backend := cpu.New()
//	t := tensor.Zeros(Shape{3, 4}, backend)
//	result := t.Add(t)
type Tensor[B Backend] struct {
	raw     *RawTensor
	backend B
}

// New creates a Tensor from a RawTensor and backend.
func New[B Backend](raw *RawTensor, b B) *Tensor[B] {
	return &Tensor[B]{raw: raw, backend: b}
}

// FromSlice creates a tensor from a Go slice.
// The slice is copied into the tensor's memory.
func FromSlice[B Backend](data []float32, shape Shape, b B) (*Tensor[B], error) {
	raw, err := RawFromSlice(data, shape, b.Device())
	if err != nil {
		return nil, err
	}
	return New(raw, b), nil
}

// MustFromSlice is FromSlice that panics on a length/shape mismatch.
func MustFromSlice[B Backend](data []float32, shape Shape, b B) *Tensor[B] {
	t, err := FromSlice(data, shape, b)
	if err != nil {
		panic(err)
	}
	return t
}

// Shape returns the tensor's shape.
func (t *Tensor[B]) Shape() Shape { return t.raw.Shape() }

// NumElements returns the total number of elements.
func (t *Tensor[B]) NumElements() int { return t.raw.NumElements() }

// Raw returns the underlying RawTensor.
// Used by backend implementations and by the gradient tape.
func (t *Tensor[B]) Raw() *RawTensor { return t.raw }

// Backend returns the computation backend.
func (t *Tensor[B]) Backend() B { return t.backend }

// Data returns the underlying buffer. Callers must not retain it across
// operations that are expected to leave the tensor untouched.
func (t *Tensor[B]) Data() []float32 { return t.raw.Data() }

// Item returns the value of a one-element tensor.
func (t *Tensor[B]) Item() float32 { return t.raw.Item() }

// At returns the element at the given index.
func (t *Tensor[B]) At(indices ...int) float32 { return t.raw.At(indices...) }

// Clone returns a deep copy with a new identity.
func (t *Tensor[B]) Clone() *Tensor[B] { return New(t.raw.Clone(), t.backend) }

// Detach returns a copy of the tensor that is not connected to any recorded
// operation: gradients computed downstream of the copy never reach t.
func (t *Tensor[B]) Detach() *Tensor[B] { return t.Clone() }

// String implements fmt.Stringer.
func (t *Tensor[B]) String() string {
	return fmt.Sprintf("Tensor[%s]%v", t.backend.Name(), t.raw)
}

// Add performs element-wise addition with broadcasting.
//
// Example:
//
//	a := tensor.Ones(Shape{3, 1}, backend)
//	b := tensor.Ones(Shape{3, 5}, backend)
//	c := a.Add(b) // Shape: [3, 5] (broadcasted)
func (t *Tensor[B]) Add(other *Tensor[B]) *Tensor[B] {
	return New(t.backend.Add(t.raw, other.raw), t.backend)
}

// Sub performs element-wise subtraction with broadcasting.
func (t *Tensor[B]) Sub(other *Tensor[B]) *Tensor[B] {
	return New(t.backend.Sub(t.raw, other.raw), t.backend)
}

// Mul performs element-wise multiplication with broadcasting.
func (t *Tensor[B]) Mul(other *Tensor[B]) *Tensor[B] {
	return New(t.backend.Mul(t.raw, other.raw), t.backend)
}

// Div performs element-wise division with broadcasting.
func (t *Tensor[B]) Div(other *Tensor[B]) *Tensor[B] {
	return New(t.backend.Div(t.raw, other.raw), t.backend)
}

// MatMul performs 2D matrix multiplication: (M, K) @ (K, N) → (M, N).
func (t *Tensor[B]) MatMul(other *Tensor[B]) *Tensor[B] {
	return New(t.backend.MatMul(t.raw, other.raw), t.backend)
}

// Conv2D convolves a [N, C, H, W] tensor with a [O, C/groups, KH, KW] kernel.
func (t *Tensor[B]) Conv2D(kernel *Tensor[B], p ConvParams) *Tensor[B] {
	return New(t.backend.Conv2D(t.raw, kernel.raw, p.Normalized()), t.backend)
}

// AvgPool2D applies average pooling over [N, C, H, W].
func (t *Tensor[B]) AvgPool2D(p PoolParams) *Tensor[B] {
	return New(t.backend.AvgPool2D(t.raw, p.Normalized()), t.backend)
}

// MaxPool2D applies max pooling over [N, C, H, W].
func (t *Tensor[B]) MaxPool2D(p PoolParams) *Tensor[B] {
	return New(t.backend.MaxPool2D(t.raw, p.Normalized()), t.backend)
}

// Reshape returns a tensor with the same data but different shape.
// A single -1 dimension is inferred from the remaining ones.
//
// Example:
//
//	reshaped := t.Reshape(3, -1)
func (t *Tensor[B]) Reshape(newShape ...int) *Tensor[B] {
	return New(t.backend.Reshape(t.raw, inferShape(Shape(newShape), t.NumElements())), t.backend)
}

// Transpose permutes dimensions. With no axes it reverses them.
func (t *Tensor[B]) Transpose(axes ...int) *Tensor[B] {
	return New(t.backend.Transpose(t.raw, axes...), t.backend)
}

// Expand broadcasts the tensor to a larger shape.
func (t *Tensor[B]) Expand(newShape Shape) *Tensor[B] {
	return New(t.backend.Expand(t.raw, newShape), t.backend)
}

// Flatten keeps the batch dimension and merges all the others.
func (t *Tensor[B]) Flatten() *Tensor[B] {
	return t.Reshape(t.Shape()[0], -1)
}

// MulScalar multiplies every element by s.
func (t *Tensor[B]) MulScalar(s float32) *Tensor[B] {
	return New(t.backend.MulScalar(t.raw, s), t.backend)
}

// AddScalar adds s to every element.
func (t *Tensor[B]) AddScalar(s float32) *Tensor[B] {
	return New(t.backend.AddScalar(t.raw, s), t.backend)
}

// Neg returns -t.
func (t *Tensor[B]) Neg() *Tensor[B] { return t.MulScalar(-1) }

// Abs returns |t|.
func (t *Tensor[B]) Abs() *Tensor[B] { return New(t.backend.Abs(t.raw), t.backend) }

// Exp returns e^t.
func (t *Tensor[B]) Exp() *Tensor[B] { return New(t.backend.Exp(t.raw), t.backend) }

// Sqrt returns the element-wise square root.
func (t *Tensor[B]) Sqrt() *Tensor[B] { return New(t.backend.Sqrt(t.raw), t.backend) }

// ReLU returns max(t, 0).
func (t *Tensor[B]) ReLU() *Tensor[B] { return New(t.backend.ReLU(t.raw), t.backend) }

// Clamp limits every element to [lo, hi].
func (t *Tensor[B]) Clamp(lo, hi float32) *Tensor[B] {
	return New(t.backend.Clamp(t.raw, lo, hi), t.backend)
}

// RoundSTE rounds to the nearest integer (half away from zero). Under autodiff
// the gradient passes through unchanged (straight-through estimator).
func (t *Tensor[B]) RoundSTE() *Tensor[B] { return New(t.backend.Round(t.raw), t.backend) }

// Binarize returns 1 where t >= threshold and 0 elsewhere. The threshold is a
// one-element tensor. Under autodiff the gradient w.r.t. t is the incoming
// gradient and the gradient w.r.t. the threshold is zero.
func (t *Tensor[B]) Binarize(threshold *Tensor[B]) *Tensor[B] {
	return New(t.backend.Binarize(t.raw, threshold.raw), t.backend)
}

// Softmax normalizes along dim.
func (t *Tensor[B]) Softmax(dim int) *Tensor[B] {
	return New(t.backend.Softmax(t.raw, dim), t.backend)
}

// Sum reduces all elements to a scalar tensor.
func (t *Tensor[B]) Sum() *Tensor[B] { return New(t.backend.Sum(t.raw), t.backend) }

// SumDim sums along dim.
func (t *Tensor[B]) SumDim(dim int, keepDim bool) *Tensor[B] {
	return New(t.backend.SumDim(t.raw, dim, keepDim), t.backend)
}

// MeanDim averages along dim.
func (t *Tensor[B]) MeanDim(dim int, keepDim bool) *Tensor[B] {
	return New(t.backend.MeanDim(t.raw, dim, keepDim), t.backend)
}

// Mean averages all elements into a scalar tensor.
func (t *Tensor[B]) Mean() *Tensor[B] {
	return t.Sum().MulScalar(1 / float32(t.NumElements()))
}

// Cat concatenates tensors along dim.
func Cat[B Backend](tensors []*Tensor[B], dim int) *Tensor[B] {
	if len(tensors) == 0 {
		panic("Cat: no tensors")
	}
	raws := make([]*RawTensor, len(tensors))
	for i, t := range tensors {
		raws[i] = t.raw
	}
	b := tensors[0].backend
	return New(b.Cat(raws, dim), b)
}

func inferShape(s Shape, numElements int) Shape {
	out := s.Clone()
	infer := -1
	known := 1
	for i, d := range out {
		if d == -1 {
			if infer >= 0 {
				panic(fmt.Sprintf("Reshape: more than one -1 in %v", s))
			}
			infer = i
			continue
		}
		known *= d
	}
	if infer >= 0 {
		if known == 0 || numElements%known != 0 {
			panic(fmt.Sprintf("Reshape: cannot infer dimension of %v for %d elements", s, numElements))
		}
		out[infer] = numElements / known
	}
	return out
}
