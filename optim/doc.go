// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package optim provides optimization algorithms for training neural networks.
//
// # Overview
//
// This package contains:
//   - SGD: Stochastic Gradient Descent with momentum
//   - Adam: Adaptive Moment Estimation with bias correction
//   - Optimizer interface for custom optimizers
//   - Split: separate architectural parameters from network weights
//
// Parameters marked non-trainable are never updated.
//
// # Basic Usage
//
//	import (
//	    "github.com/born-ml/flexnas/optim"
//	    "github.com/born-ml/flexnas/nn"
//	    "github.com/born-ml/flexnas/backend/cpu"
//	)
//
//	func main() {
//	    backend := cpu.New()
//	    model := nn.NewLinear(784, 10, backend)
//
//	    // Create optimizer
//	    optimizer := optim.NewAdam(
//	        model.Parameters(),
//	        optim.AdamConfig{
//	            LR:    0.001,
//	            Betas: [2]float32{0.9, 0.999},
//	        },
//	        backend,
//	    )
//
//	    // Training loop
//	    for epoch := range 10 {
//	        // Forward pass
//	        loss := criterion.Forward(model.Forward(x), y)
//
//	        // Backward pass
//	        optimizer.ZeroGrad()
//	        grads := autodiff.Backward(loss, backend)
//	        optimizer.Step(grads)
//	    }
//	}
//
// # Optimizers
//
// SGD (Stochastic Gradient Descent):
//
//	optimizer := optim.NewSGD(
//	    model.Parameters(),
//	    optim.SGDConfig{
//	        LR:       0.01,
//	        Momentum: 0.9,
//	    },
//	    backend,
//	)
//
// Adam (Adaptive Moment Estimation):
//
//	optimizer := optim.NewAdam(
//	    model.Parameters(),
//	    optim.AdamConfig{
//	        LR:      0.001,
//	        Betas:   [2]float32{0.9, 0.999},
//	        Eps:     1e-8,
//	    },
//	    backend,
//	)
//
// # Training Loop Pattern
//
//	for epoch := range numEpochs {
//	    for batch := range dataLoader {
//	        // 1. Zero gradients
//	        optimizer.ZeroGrad()
//
//	        // 2. Forward pass
//	        output := model.Forward(batch.Input)
//	        loss := criterion.Forward(output, batch.Target)
//
//	        // 3. Backward pass
//	        grads := autodiff.Backward(loss, backend)
//
//	        // 4. Update parameters
//	        optimizer.Step(grads)
//	    }
//	}
package optim
