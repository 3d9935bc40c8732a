package nn

import (
	"fmt"

	"github.com/born-ml/flexnas/internal/tensor"
)

// MSELoss computes the mean squared error between predictions and targets.
//
//	loss = mean((pred - target)^2)
type MSELoss[B tensor.Backend] struct{}

// NewMSELoss creates an MSE loss.
func NewMSELoss[B tensor.Backend]() *MSELoss[B] { return &MSELoss[B]{} }

// Forward returns a single-element tensor holding the loss.
func (l *MSELoss[B]) Forward(pred, target *tensor.Tensor[B]) *tensor.Tensor[B] {
	if !pred.Shape().Equal(target.Shape()) {
		panic(fmt.Sprintf("MSELoss.Forward: shape mismatch %v vs %v", pred.Shape(), target.Shape()))
	}
	diff := pred.Sub(target)
	return diff.Mul(diff).Mean()
}
