// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package autodiff provides reverse-mode automatic differentiation.
//
// It wraps any backend with a gradient tape; the straight-through estimators
// used by the NAS maskers and quantizers (Binarize, RoundSTE) are recorded like
// any other operation.
//
// Example:
//
//	backend := autodiff.New(cpu.New())
//	backend.Tape().StartRecording()
//	loss := model.Forward(x).Mean()
//	grads := autodiff.Backward(loss, backend)
package autodiff

import (
	"github.com/born-ml/flexnas/internal/autodiff"
	"github.com/born-ml/flexnas/internal/tensor"
)

// Backend is the autodiff-enabled backend.
type Backend[B tensor.Backend] = autodiff.AutodiffBackend[B]

// GradientTape records operations for the backward pass.
type GradientTape = autodiff.GradientTape

// New creates a new autodiff backend wrapping the given backend.
func New[B tensor.Backend](backend B) *Backend[B] {
	return autodiff.New(backend)
}

// Backward computes the gradients of t, seeded with ones.
func Backward[B autodiff.BackwardCapable](t *tensor.Tensor[B], backend B) map[*tensor.RawTensor]*tensor.RawTensor {
	return autodiff.Backward(t, backend)
}
