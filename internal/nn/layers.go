package nn

import (
	"fmt"
	"math/rand/v2"

	"github.com/born-ml/flexnas/internal/tensor"
)

// Dropout zeroes elements with probability p during training and scales the
// survivors by 1/(1-p). At inference it is the identity.
type Dropout[B tensor.Backend] struct {
	p        float32
	training bool
}

// NewDropout creates a Dropout layer.
func NewDropout[B tensor.Backend](p float32) *Dropout[B] {
	if p < 0 || p >= 1 {
		panic(fmt.Sprintf("NewDropout: probability must be in [0, 1), got %g", p))
	}
	return &Dropout[B]{p: p, training: true}
}

// Forward applies dropout.
func (d *Dropout[B]) Forward(input *tensor.Tensor[B]) *tensor.Tensor[B] {
	if !d.training || d.p == 0 {
		return input
	}
	mask := tensor.Zeros(input.Shape(), input.Backend())
	data := mask.Data()
	scale := 1 / (1 - d.p)
	for i := range data {
		//nolint:gosec // Using math/rand for dropout masks (not security-critical)
		if rand.Float32() >= d.p {
			data[i] = scale
		}
	}
	return input.Mul(mask)
}

// Parameters returns nil.
func (d *Dropout[B]) Parameters() []*Parameter[B] { return nil }

// SetTraining implements TrainingMode.
func (d *Dropout[B]) SetTraining(training bool) { d.training = training }

// FeaturesRole implements RoleReporter.
func (d *Dropout[B]) FeaturesRole() FeaturesRole { return RolePropagating }

func (d *Dropout[B]) String() string { return fmt.Sprintf("Dropout(p=%g)", d.p) }

// Identity returns its input unchanged.
type Identity[B tensor.Backend] struct{}

// NewIdentity creates an Identity layer.
func NewIdentity[B tensor.Backend]() *Identity[B] { return &Identity[B]{} }

// Forward returns input.
func (i *Identity[B]) Forward(input *tensor.Tensor[B]) *tensor.Tensor[B] { return input }

// Parameters returns nil.
func (i *Identity[B]) Parameters() []*Parameter[B] { return nil }

// FeaturesRole implements RoleReporter.
func (i *Identity[B]) FeaturesRole() FeaturesRole { return RolePropagating }

func (i *Identity[B]) String() string { return "Identity()" }

// Flatten merges all dimensions but the batch one.
type Flatten[B tensor.Backend] struct{}

// NewFlatten creates a Flatten layer.
func NewFlatten[B tensor.Backend]() *Flatten[B] { return &Flatten[B]{} }

// Forward flattens input to [N, -1].
func (f *Flatten[B]) Forward(input *tensor.Tensor[B]) *tensor.Tensor[B] { return input.Flatten() }

// Parameters returns nil.
func (f *Flatten[B]) Parameters() []*Parameter[B] { return nil }

func (f *Flatten[B]) String() string { return "Flatten()" }
