package graph

import (
	"github.com/born-ml/flexnas/features"
	"github.com/born-ml/flexnas/internal/tensor"
)

// Meta is the per-node metadata written by the annotation passes.
//
// Shape is set by ShapeProp. The flags are set by AddNodeProperties (and
// refined by method-specific passes), FeaturesCalculator by
// AddFeaturesCalculators.
type Meta[B tensor.Backend] struct {
	// Shape is the output shape observed during shape propagation,
	// including the batch dimension.
	Shape tensor.Shape

	FeaturesCalculator features.Calculator[B]

	// FeaturesDefining nodes fix their output feature count.
	FeaturesDefining bool
	// FeaturesPropagating nodes output the features of their first input.
	FeaturesPropagating bool
	// FeaturesConcatenate nodes concatenate their inputs' features.
	FeaturesConcatenate bool
	// SharedInputFeatures nodes require all their inputs to expose the
	// same features (element-wise sums, SuperNet combiners).
	SharedInputFeatures bool
}

// Features returns the static number of features of the node output, read
// from its shape (dimension 1), or 1 for rank-1 outputs.
func (m *Meta[B]) Features() int {
	if len(m.Shape) < 2 {
		return 1
	}
	return m.Shape[1]
}
