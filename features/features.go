// Package features computes the number of output features (channels) of
// graph nodes.
//
// A Calculator is attached to every node of a traced graph. Static layers
// get a constant count, masked NAS layers report the number of channels their
// mask currently keeps, and shape-changing nodes (flatten, concatenation,
// SuperNet combiners) derive their count from the calculators upstream.
// Counts are tensors so that cost regularizers built on them stay
// differentiable.
package features

import (
	"fmt"

	"github.com/born-ml/flexnas/internal/tensor"
)

// Calculator lazily evaluates the output features of one node.
type Calculator[B tensor.Backend] interface {
	// NumFeatures is the static feature count, before any masking.
	NumFeatures() int
	// Features is the effective feature count as a single-element tensor.
	Features() *tensor.Tensor[B]
	// FeaturesMask is a [NumFeatures] tensor with 1 for alive features.
	FeaturesMask() *tensor.Tensor[B]
}

// Const is a fixed feature count with every feature alive.
type Const[B tensor.Backend] struct {
	n       int
	backend B
}

// NewConst creates a constant calculator.
func NewConst[B tensor.Backend](n int, backend B) *Const[B] {
	return &Const[B]{n: n, backend: backend}
}

// NumFeatures implements Calculator.
func (c *Const[B]) NumFeatures() int { return c.n }

// Features implements Calculator.
func (c *Const[B]) Features() *tensor.Tensor[B] {
	return tensor.Scalar(float32(c.n), c.backend)
}

// FeaturesMask implements Calculator.
func (c *Const[B]) FeaturesMask() *tensor.Tensor[B] {
	return tensor.Ones(tensor.Shape{c.n}, c.backend)
}

func (c *Const[B]) String() string { return fmt.Sprintf("Const(%d)", c.n) }

// Masked reads the features of a layer through its binary channel mask.
// The mask function is called on every evaluation, so the count follows the
// layer's trainable parameters.
type Masked[B tensor.Backend] struct {
	n    int
	mask func() *tensor.Tensor[B]
}

// NewMasked creates a calculator over a layer's output channel mask.
func NewMasked[B tensor.Backend](n int, mask func() *tensor.Tensor[B]) *Masked[B] {
	return &Masked[B]{n: n, mask: mask}
}

// NumFeatures implements Calculator.
func (m *Masked[B]) NumFeatures() int { return m.n }

// Features implements Calculator. It is the sum of the mask.
func (m *Masked[B]) Features() *tensor.Tensor[B] { return m.mask().Sum() }

// FeaturesMask implements Calculator.
func (m *Masked[B]) FeaturesMask() *tensor.Tensor[B] { return m.mask() }

func (m *Masked[B]) String() string { return fmt.Sprintf("Masked(%d)", m.n) }

// Flatten follows a [N, C, spatial...] -> [N, C*S] reshape: every input
// channel becomes S consecutive features.
type Flatten[B tensor.Backend] struct {
	prev       Calculator[B]
	multiplier int
}

// NewFlatten creates a flatten calculator where each upstream feature spans
// multiplier output features.
func NewFlatten[B tensor.Backend](prev Calculator[B], multiplier int) *Flatten[B] {
	return &Flatten[B]{prev: prev, multiplier: multiplier}
}

// NumFeatures implements Calculator.
func (f *Flatten[B]) NumFeatures() int { return f.prev.NumFeatures() * f.multiplier }

// Features implements Calculator.
func (f *Flatten[B]) Features() *tensor.Tensor[B] {
	return f.prev.Features().MulScalar(float32(f.multiplier))
}

// FeaturesMask implements Calculator. Each upstream mask entry is repeated
// multiplier times.
func (f *Flatten[B]) FeaturesMask() *tensor.Tensor[B] {
	mask := f.prev.FeaturesMask()
	n := mask.NumElements()
	return mask.Reshape(n, 1).Expand(tensor.Shape{n, f.multiplier}).Reshape(n * f.multiplier)
}

// Prev returns the upstream calculator.
func (f *Flatten[B]) Prev() Calculator[B] { return f.prev }

func (f *Flatten[B]) String() string { return fmt.Sprintf("Flatten(%v, x%d)", f.prev, f.multiplier) }

// Concat follows a concatenation along the feature axis.
type Concat[B tensor.Backend] struct {
	prevs []Calculator[B]
}

// NewConcat creates a concatenation calculator.
func NewConcat[B tensor.Backend](prevs []Calculator[B]) *Concat[B] {
	return &Concat[B]{prevs: prevs}
}

// NumFeatures implements Calculator.
func (c *Concat[B]) NumFeatures() int {
	n := 0
	for _, p := range c.prevs {
		n += p.NumFeatures()
	}
	return n
}

// Features implements Calculator.
func (c *Concat[B]) Features() *tensor.Tensor[B] {
	total := c.prevs[0].Features()
	for _, p := range c.prevs[1:] {
		total = total.Add(p.Features())
	}
	return total
}

// FeaturesMask implements Calculator.
func (c *Concat[B]) FeaturesMask() *tensor.Tensor[B] {
	masks := make([]*tensor.Tensor[B], len(c.prevs))
	for i, p := range c.prevs {
		masks[i] = p.FeaturesMask()
	}
	return tensor.Cat(masks, 0)
}

// Prevs returns the upstream calculators.
func (c *Concat[B]) Prevs() []Calculator[B] { return c.prevs }

func (c *Concat[B]) String() string { return fmt.Sprintf("Concat(%v)", c.prevs) }

// SoftMax mixes the features of alternative branches with the normalized
// weights of a SuperNet combiner.
type SoftMax[B tensor.Backend] struct {
	theta func() *tensor.Tensor[B]
	prevs []Calculator[B]
}

// NewSoftMax creates a calculator weighting prevs by theta(), which must
// return len(prevs) normalized weights.
func NewSoftMax[B tensor.Backend](theta func() *tensor.Tensor[B], prevs []Calculator[B]) *SoftMax[B] {
	return &SoftMax[B]{theta: theta, prevs: prevs}
}

// NumFeatures implements Calculator. All branches share it; the first one is
// reported.
func (s *SoftMax[B]) NumFeatures() int { return s.prevs[0].NumFeatures() }

// Features implements Calculator: sum_i theta_i * features_i.
func (s *SoftMax[B]) Features() *tensor.Tensor[B] {
	theta := s.theta()
	feats := make([]*tensor.Tensor[B], len(s.prevs))
	for i, p := range s.prevs {
		feats[i] = p.Features()
	}
	return theta.Mul(tensor.Cat(feats, 0)).Sum()
}

// FeaturesMask implements Calculator. A feature is alive if any branch keeps
// it.
func (s *SoftMax[B]) FeaturesMask() *tensor.Tensor[B] {
	total := s.prevs[0].FeaturesMask()
	for _, p := range s.prevs[1:] {
		total = total.Add(p.FeaturesMask())
	}
	return total.Clamp(0, 1)
}

// Prevs returns the branch calculators.
func (s *SoftMax[B]) Prevs() []Calculator[B] { return s.prevs }

func (s *SoftMax[B]) String() string { return fmt.Sprintf("SoftMax(%v)", s.prevs) }

// AliveIndices returns the positions of the non-zero entries of a mask.
func AliveIndices[B tensor.Backend](mask *tensor.Tensor[B]) []int {
	var idx []int
	for i, v := range mask.Data() {
		if v != 0 {
			idx = append(idx, i)
		}
	}
	return idx
}
