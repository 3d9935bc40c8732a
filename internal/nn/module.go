// Package nn implements neural network modules for FlexNAS.
//
// This package provides building blocks for constructing neural networks:
//   - Module interface: Base interface for all NN components
//   - Parameter: Trainable parameters with gradient tracking
//   - Layers: Linear, Conv1d, Conv2d, BatchNorm1d/2d, pooling, activations
//   - Containers: Sequential (traced through), ModuleList
//   - Loss functions: MSE
//
// Modules that hold other modules expose them by name through Container;
// dotted paths built from those names ("features.0.conv") are the qualified
// names used by the graph tracer.
//
// Design inspired by PyTorch's nn.Module but adapted for Go generics.
package nn

import (
	"strings"

	"github.com/born-ml/flexnas/internal/tensor"
)

// Module is the base interface for all neural network components.
//
// Every NN module must implement:
//   - Forward: Compute output from input
//   - Parameters: Return all trainable parameters
//
// Modules can be composed to build complex architectures:
//
//	model := nn.NewSequential[Backend](
//	    nn.NewLinear(784, 128, backend),
//	    nn.NewReLU[Backend](),
//	    nn.NewLinear(128, 10, backend),
//	)
//
// Type parameter B must satisfy the tensor.Backend interface.
type Module[B tensor.Backend] interface {
	// Forward computes the output of the module given an input tensor.
	Forward(input *tensor.Tensor[B]) *tensor.Tensor[B]

	// Parameters returns all trainable parameters of this module,
	// including those of nested modules.
	Parameters() []*Parameter[B]
}

// MultiInputModule is implemented by modules consuming several tensors, such
// as the SuperNet combiner.
type MultiInputModule[B tensor.Backend] interface {
	Module[B]
	ForwardMulti(inputs ...*tensor.Tensor[B]) *tensor.Tensor[B]
}

// NamedModule pairs a child module with its attribute name.
type NamedModule[B tensor.Backend] struct {
	Name   string
	Module Module[B]
}

// Container is implemented by modules that own named children.
type Container[B tensor.Backend] interface {
	NamedChildren() []NamedModule[B]
}

// ChildSetter is implemented by containers whose children can be replaced in
// place, which graph rewrites use to keep the module hierarchy coherent.
type ChildSetter[B tensor.Backend] interface {
	SetChild(name string, m Module[B]) bool
}

// TrainingMode is implemented by modules whose forward pass differs between
// training and inference (BatchNorm, Dropout, calibrating quantizers).
type TrainingMode interface {
	SetTraining(training bool)
}

// FeaturesRole describes how a module acts on the feature (channel) axis.
type FeaturesRole int

const (
	// RoleDefining modules fix their output feature count from their own
	// parameters (Conv, Linear).
	RoleDefining FeaturesRole = iota
	// RolePropagating modules output as many features as they receive
	// (activations, pooling, normalization, dropout).
	RolePropagating
	// RoleCombining modules merge several inputs that share one feature axis
	// (SuperNet combiners).
	RoleCombining
)

// String implements fmt.Stringer.
func (r FeaturesRole) String() string {
	switch r {
	case RoleDefining:
		return "defining"
	case RolePropagating:
		return "propagating"
	case RoleCombining:
		return "combining"
	default:
		return "unknown"
	}
}

// RoleReporter is implemented by modules that declare their FeaturesRole.
// Modules that do not implement it are treated as RoleDefining.
type RoleReporter interface {
	FeaturesRole() FeaturesRole
}

// RoleOf returns the FeaturesRole declared by m, defaulting to RoleDefining.
func RoleOf(m any) FeaturesRole {
	if r, ok := m.(RoleReporter); ok {
		return r.FeaturesRole()
	}
	return RoleDefining
}

// Children returns the named children of m, or nil for leaf modules.
func Children[B tensor.Backend](m Module[B]) []NamedModule[B] {
	if c, ok := m.(Container[B]); ok {
		return c.NamedChildren()
	}
	return nil
}

// Walk visits m and all its descendants depth-first, passing the qualified
// name of each (the root is "").
func Walk[B tensor.Backend](m Module[B], fn func(name string, m Module[B])) {
	walk(m, "", fn)
}

func walk[B tensor.Backend](m Module[B], name string, fn func(string, Module[B])) {
	fn(name, m)
	for _, child := range Children(m) {
		walk(child.Module, JoinName(name, child.Name), fn)
	}
}

// Leaves returns the descendants of m (or m itself) that have no children.
func Leaves[B tensor.Backend](m Module[B]) []Module[B] {
	var leaves []Module[B]
	Walk(m, func(_ string, mod Module[B]) {
		if len(Children(mod)) == 0 {
			leaves = append(leaves, mod)
		}
	})
	return leaves
}

// SetTraining switches m and all its descendants between training and
// inference behavior.
func SetTraining[B tensor.Backend](m Module[B], training bool) {
	Walk(m, func(_ string, mod Module[B]) {
		if t, ok := mod.(TrainingMode); ok {
			t.SetTraining(training)
		}
	})
}

// JoinName joins a qualified-name prefix and a child name with a dot.
func JoinName(prefix, name string) string {
	switch {
	case prefix == "":
		return name
	case name == "":
		return prefix
	default:
		return prefix + "." + name
	}
}

// SplitName splits a qualified name into its parent and last component.
func SplitName(qualified string) (parent, name string) {
	if i := strings.LastIndexByte(qualified, '.'); i >= 0 {
		return qualified[:i], qualified[i+1:]
	}
	return "", qualified
}
