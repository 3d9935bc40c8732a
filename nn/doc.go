// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package nn provides the neural network layers that FlexNAS searches over.
//
// # Overview
//
// This package contains:
//   - Layers: Linear, Conv1d, Conv2d, BatchNorm1d/2d, pooling
//   - Activations: ReLU, ReLU6
//   - Loss functions: MSELoss
//   - Utilities: Sequential, ModuleList, Module interface, Parameter
//
// # Basic Usage
//
//	import (
//	    "github.com/born-ml/flexnas/nn"
//	    "github.com/born-ml/flexnas/backend/cpu"
//	)
//
//	func main() {
//	    backend := cpu.New()
//
//	    model := nn.NewSequential[*cpu.Backend](
//	        nn.NewConv1d(3, 16, 5, nn.ConvConfig{Padding: 2}, backend),
//	        nn.NewReLU[*cpu.Backend](),
//	    )
//
//	    output := model.Forward(input)
//	}
//
// # Features roles
//
// Every module declares how it acts on the channel axis: defining layers
// (Conv, Linear) fix the number of output features, propagating layers
// (activations, pooling, normalization) forward it unchanged. The NAS passes
// use these roles to decide which masks must be shared.
package nn
