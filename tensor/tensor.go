// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package tensor exposes the float32 tensor type used throughout FlexNAS.
//
// # Basic Usage
//
//	import (
//	    "github.com/born-ml/flexnas/backend/cpu"
//	    "github.com/born-ml/flexnas/tensor"
//	)
//
//	func main() {
//	    backend := cpu.New()
//	    x := tensor.Zeros(tensor.Shape{2, 3}, backend)
//	    y := tensor.Ones(tensor.Shape{2, 3}, backend)
//	    z := x.Add(y)
//	}
package tensor

import "github.com/born-ml/flexnas/internal/tensor"

// Tensor is a float32 tensor bound to backend B.
type Tensor[B Backend] = tensor.Tensor[B]

// RawTensor is the backend-level storage of a tensor.
type RawTensor = tensor.RawTensor

// Shape represents tensor dimensions.
type Shape = tensor.Shape

// Backend is the interface implemented by compute backends.
type Backend = tensor.Backend

// Device identifies where tensor data lives.
type Device = tensor.Device

// ConvParams describes a convolution (strides, per-side padding, dilation, groups).
type ConvParams = tensor.ConvParams

// PoolParams describes a pooling window.
type PoolParams = tensor.PoolParams

// CPU is the only supported device.
const CPU = tensor.CPU

// New wraps a RawTensor with a backend.
func New[B Backend](raw *RawTensor, b B) *Tensor[B] { return tensor.New(raw, b) }

// FromSlice creates a tensor from a copy of data.
func FromSlice[B Backend](data []float32, shape Shape, b B) (*Tensor[B], error) {
	return tensor.FromSlice(data, shape, b)
}

// Scalar creates a one-element tensor.
func Scalar[B Backend](value float32, b B) *Tensor[B] { return tensor.Scalar(value, b) }

// Zeros creates a tensor filled with zeros.
func Zeros[B Backend](shape Shape, b B) *Tensor[B] { return tensor.Zeros(shape, b) }

// Ones creates a tensor filled with ones.
func Ones[B Backend](shape Shape, b B) *Tensor[B] { return tensor.Ones(shape, b) }

// Full creates a tensor filled with value.
func Full[B Backend](shape Shape, value float32, b B) *Tensor[B] { return tensor.Full(shape, value, b) }

// Rand creates a tensor with values uniform in [0, 1).
func Rand[B Backend](shape Shape, b B) *Tensor[B] { return tensor.Rand(shape, b) }

// Randn creates a tensor with standard normal values.
func Randn[B Backend](shape Shape, b B) *Tensor[B] { return tensor.Randn(shape, b) }

// Cat concatenates tensors along dim.
func Cat[B Backend](tensors []*Tensor[B], dim int) *Tensor[B] { return tensor.Cat(tensors, dim) }
