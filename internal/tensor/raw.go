package tensor

import (
	"fmt"
	"strings"
)

// Device represents the compute device for tensor operations.
type Device int

// Supported compute devices.
const (
	CPU Device = iota
)

// String returns a human-readable device name.
func (d Device) String() string {
	switch d {
	case CPU:
		return "CPU"
	default:
		return "Unknown"
	}
}

// RawTensor is the untyped storage shared by all tensors: a row-major float32
// buffer plus its shape. Backends operate on RawTensors; the generic Tensor
// wrapper only adds the backend binding.
//
// RawTensors are treated as immutable by every operation. Identity (the
// pointer) is what the gradient tape uses to route gradients, so operations
// always allocate new RawTensors for their results.
type RawTensor struct {
	shape  Shape
	data   []float32
	device Device
}

// NewRaw creates a zero-initialized RawTensor with the given shape.
func NewRaw(shape Shape, device Device) (*RawTensor, error) {
	if err := shape.Validate(); err != nil {
		return nil, err
	}
	return &RawTensor{
		shape:  shape.Clone(),
		data:   make([]float32, shape.NumElements()),
		device: device,
	}, nil
}

// MustRaw is NewRaw for shapes known to be valid; it panics otherwise.
func MustRaw(shape Shape, device Device) *RawTensor {
	r, err := NewRaw(shape, device)
	if err != nil {
		panic(err)
	}
	return r
}

// RawFromSlice wraps a copy of data as a RawTensor.
func RawFromSlice(data []float32, shape Shape, device Device) (*RawTensor, error) {
	if shape.NumElements() != len(data) {
		return nil, fmt.Errorf("data length %d does not match shape %v (%d elements)", len(data), shape, shape.NumElements())
	}
	r, err := NewRaw(shape, device)
	if err != nil {
		return nil, err
	}
	copy(r.data, data)
	return r, nil
}

// Shape returns the tensor's shape. The returned slice must not be modified.
func (r *RawTensor) Shape() Shape { return r.shape }

// Data returns the underlying buffer.
func (r *RawTensor) Data() []float32 { return r.data }

// NumElements returns the number of elements.
func (r *RawTensor) NumElements() int { return len(r.data) }

// Device returns the device holding the data.
func (r *RawTensor) Device() Device { return r.device }

// Clone returns a deep copy with a new identity.
func (r *RawTensor) Clone() *RawTensor {
	c := &RawTensor{shape: r.shape.Clone(), data: make([]float32, len(r.data)), device: r.device}
	copy(c.data, r.data)
	return c
}

// Item returns the single value of a one-element tensor.
func (r *RawTensor) Item() float32 {
	if len(r.data) != 1 {
		panic(fmt.Sprintf("Item: tensor has %d elements, expected 1", len(r.data)))
	}
	return r.data[0]
}

// At returns the element at the given multi-dimensional index.
func (r *RawTensor) At(indices ...int) float32 {
	if len(indices) != len(r.shape) {
		panic(fmt.Sprintf("At: got %d indices for shape %v", len(indices), r.shape))
	}
	strides := r.shape.ComputeStrides()
	flat := 0
	for i, idx := range indices {
		if idx < 0 || idx >= r.shape[i] {
			panic(fmt.Sprintf("At: index %d out of range for dimension %d of shape %v", idx, i, r.shape))
		}
		flat += idx * strides[i]
	}
	return r.data[flat]
}

// String implements fmt.Stringer with a compact summary.
func (r *RawTensor) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "RawTensor(shape=%v, device=%s", r.shape, r.device)
	if len(r.data) <= 8 {
		fmt.Fprintf(&sb, ", data=%v", r.data)
	}
	sb.WriteString(")")
	return sb.String()
}
