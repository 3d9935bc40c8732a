package nn

import (
	"github.com/born-ml/flexnas/internal/tensor"
)

// Parameter represents a trainable parameter in a neural network.
//
// Parameters are tensors that require gradient computation during training.
// They typically represent weights and biases of layers, or the shadow
// parameters of NAS maskers and quantizers.
//
// Example:
//
//	weight := nn.NewParameter("weight", weightTensor)
//	w := weight.Tensor()
type Parameter[B tensor.Backend] struct {
	name      string            // Parameter name (e.g., "weight", "bias")
	tensor    *tensor.Tensor[B] // The parameter tensor
	grad      *tensor.Tensor[B] // Gradient tensor (computed during backward pass)
	trainable bool
}

// NewParameter creates a new trainable parameter.
func NewParameter[B tensor.Backend](name string, t *tensor.Tensor[B]) *Parameter[B] {
	return &Parameter[B]{
		name:      name,
		tensor:    t,
		trainable: true,
	}
}

// Name returns the parameter name.
func (p *Parameter[B]) Name() string {
	return p.name
}

// Tensor returns the parameter tensor.
func (p *Parameter[B]) Tensor() *tensor.Tensor[B] {
	return p.tensor
}

// Grad returns the gradient tensor.
//
// Returns nil if no gradient has been computed yet (before backward pass).
func (p *Parameter[B]) Grad() *tensor.Tensor[B] {
	return p.grad
}

// SetGrad sets the gradient tensor.
func (p *Parameter[B]) SetGrad(grad *tensor.Tensor[B]) {
	p.grad = grad
}

// ZeroGrad clears the gradient tensor.
func (p *Parameter[B]) ZeroGrad() {
	p.grad = nil
}

// Trainable reports whether optimizers should update this parameter.
func (p *Parameter[B]) Trainable() bool {
	return p.trainable
}

// SetTrainable freezes (false) or unfreezes (true) the parameter.
func (p *Parameter[B]) SetTrainable(trainable bool) {
	p.trainable = trainable
}

// NamedParameter pairs a parameter with its qualified name.
type NamedParameter[B tensor.Backend] struct {
	Name      string
	Parameter *Parameter[B]
}

// NamedParameters returns the parameters of m prefixed by the qualified name
// of the module owning them. A module owns the parameters it reports that
// none of its children report.
func NamedParameters[B tensor.Backend](m Module[B], prefix string) []NamedParameter[B] {
	var out []NamedParameter[B]
	seen := make(map[*Parameter[B]]bool)
	Walk(m, func(name string, mod Module[B]) {
		inChildren := make(map[*Parameter[B]]bool)
		for _, child := range Children(mod) {
			for _, p := range child.Module.Parameters() {
				inChildren[p] = true
			}
		}
		for _, p := range mod.Parameters() {
			if seen[p] || inChildren[p] {
				continue
			}
			seen[p] = true
			out = append(out, NamedParameter[B]{Name: JoinName(JoinName(prefix, name), p.Name()), Parameter: p})
		}
	})
	return out
}

// CountParameters returns the total number of scalar parameters of m.
func CountParameters[B tensor.Backend](m Module[B]) int {
	n := 0
	for _, p := range m.Parameters() {
		n += p.Tensor().NumElements()
	}
	return n
}

// StateDict maps qualified parameter names to their raw tensors.
func StateDict[B tensor.Backend](m Module[B]) map[string]*tensor.RawTensor {
	out := make(map[string]*tensor.RawTensor)
	for _, np := range NamedParameters(m, "") {
		out[np.Name] = np.Parameter.Tensor().Raw()
	}
	return out
}
