package nn

import (
	"github.com/born-ml/flexnas/internal/tensor"
)

// ReLU implements the Rectified Linear Unit activation function.
//
// ReLU(x) = max(0, x)
type ReLU[B tensor.Backend] struct{}

// NewReLU creates a new ReLU activation.
func NewReLU[B tensor.Backend]() *ReLU[B] { return &ReLU[B]{} }

// Forward applies ReLU element-wise.
func (r *ReLU[B]) Forward(input *tensor.Tensor[B]) *tensor.Tensor[B] { return input.ReLU() }

// Parameters returns nil (ReLU has no trainable parameters).
func (r *ReLU[B]) Parameters() []*Parameter[B] { return nil }

// FeaturesRole implements RoleReporter.
func (r *ReLU[B]) FeaturesRole() FeaturesRole { return RolePropagating }

func (r *ReLU[B]) String() string { return "ReLU()" }

// ReLU6 clamps its input to [0, 6].
type ReLU6[B tensor.Backend] struct{}

// NewReLU6 creates a new ReLU6 activation.
func NewReLU6[B tensor.Backend]() *ReLU6[B] { return &ReLU6[B]{} }

// Forward applies ReLU6 element-wise.
func (r *ReLU6[B]) Forward(input *tensor.Tensor[B]) *tensor.Tensor[B] { return input.Clamp(0, 6) }

// Parameters returns nil.
func (r *ReLU6[B]) Parameters() []*Parameter[B] { return nil }

// FeaturesRole implements RoleReporter.
func (r *ReLU6[B]) FeaturesRole() FeaturesRole { return RolePropagating }

func (r *ReLU6[B]) String() string { return "ReLU6()" }
