package nn

import (
	"fmt"

	"github.com/born-ml/flexnas/internal/tensor"
)

// Linear implements a fully connected (dense) layer.
//
// Performs the transformation: y = x @ W.T + b
// where:
//   - x is the input tensor with shape [batch_size, in_features]
//   - W is the weight matrix with shape [out_features, in_features]
//   - b is the bias vector with shape [out_features]
//   - y is the output tensor with shape [batch_size, out_features]
//
// Weights are initialized using Xavier/Glorot initialization.
// Biases are initialized to zeros.
type Linear[B tensor.Backend] struct {
	inFeatures  int
	outFeatures int
	weight      *Parameter[B]
	bias        *Parameter[B]
	backend     B
}

// NewLinear creates a new Linear layer with bias.
func NewLinear[B tensor.Backend](inFeatures, outFeatures int, backend B) *Linear[B] {
	return NewLinearWithBias(inFeatures, outFeatures, true, backend)
}

// NewLinearWithBias creates a new Linear layer, optionally without bias.
func NewLinearWithBias[B tensor.Backend](inFeatures, outFeatures int, useBias bool, backend B) *Linear[B] {
	weight := Xavier(inFeatures, outFeatures, tensor.Shape{outFeatures, inFeatures}, backend)
	var bias *tensor.Tensor[B]
	if useBias {
		bias = tensor.Zeros(tensor.Shape{outFeatures}, backend)
	}
	return NewLinearFrom(weight, bias)
}

// NewLinearFrom builds a Linear layer around existing weight [out, in] and
// optional bias [out] tensors.
func NewLinearFrom[B tensor.Backend](weight, bias *tensor.Tensor[B]) *Linear[B] {
	s := weight.Shape()
	if len(s) != 2 {
		panic(fmt.Sprintf("NewLinearFrom: expected 2D weight, got shape %v", s))
	}
	l := &Linear[B]{
		inFeatures:  s[1],
		outFeatures: s[0],
		weight:      NewParameter("weight", weight),
		backend:     weight.Backend(),
	}
	if bias != nil {
		l.bias = NewParameter("bias", bias)
	}
	return l
}

// Forward computes the output of the linear layer.
func (l *Linear[B]) Forward(input *tensor.Tensor[B]) *tensor.Tensor[B] {
	return LinearForward(input, l.weight.Tensor(), l.BiasTensor())
}

// LinearForward computes input @ weight.T + bias. A nil bias is skipped.
func LinearForward[B tensor.Backend](input, weight, bias *tensor.Tensor[B]) *tensor.Tensor[B] {
	s := input.Shape()
	if len(s) != 2 {
		panic(fmt.Sprintf("Linear.Forward: expected 2D input [batch, features], got shape %v", s))
	}
	if s[1] != weight.Shape()[1] {
		panic(fmt.Sprintf("Linear.Forward: input features %d != weight in features %d", s[1], weight.Shape()[1]))
	}
	out := input.MatMul(weight.Transpose())
	if bias != nil {
		out = out.Add(bias.Reshape(1, -1))
	}
	return out
}

// Parameters returns the trainable parameters (weight and bias).
func (l *Linear[B]) Parameters() []*Parameter[B] {
	if l.bias == nil {
		return []*Parameter[B]{l.weight}
	}
	return []*Parameter[B]{l.weight, l.bias}
}

// InFeatures returns the number of input features.
func (l *Linear[B]) InFeatures() int { return l.inFeatures }

// OutFeatures returns the number of output features.
func (l *Linear[B]) OutFeatures() int { return l.outFeatures }

// Weight returns the weight parameter.
func (l *Linear[B]) Weight() *Parameter[B] { return l.weight }

// Bias returns the bias parameter, or nil.
func (l *Linear[B]) Bias() *Parameter[B] { return l.bias }

// BiasTensor returns the bias tensor, or nil.
func (l *Linear[B]) BiasTensor() *tensor.Tensor[B] {
	if l.bias == nil {
		return nil
	}
	return l.bias.Tensor()
}

// String implements fmt.Stringer.
func (l *Linear[B]) String() string {
	return fmt.Sprintf("Linear(in_features=%d, out_features=%d, bias=%t)", l.inFeatures, l.outFeatures, l.bias != nil)
}
