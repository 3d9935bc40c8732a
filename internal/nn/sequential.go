package nn

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/born-ml/flexnas/internal/tensor"
)

// Sequential is a container that chains modules in sequence.
//
// The output of each module becomes the input of the next module.
// Children are named by their index ("0", "1", ...).
//
// Example:
//
//	model := nn.NewSequential[Backend](
//	    nn.NewLinear(784, 128, backend),
//	    nn.NewReLU[Backend](),
//	    nn.NewLinear(128, 10, backend),
//	)
//	output := model.Forward(input)
type Sequential[B tensor.Backend] struct {
	modules []Module[B]
}

// NewSequential creates a new Sequential container.
func NewSequential[B tensor.Backend](modules ...Module[B]) *Sequential[B] {
	return &Sequential[B]{modules: modules}
}

// Forward passes the input through all modules sequentially.
func (s *Sequential[B]) Forward(input *tensor.Tensor[B]) *tensor.Tensor[B] {
	output := input
	for _, module := range s.modules {
		output = module.Forward(output)
	}
	return output
}

// Parameters returns all parameters from all modules in the sequence.
func (s *Sequential[B]) Parameters() []*Parameter[B] {
	var params []*Parameter[B]
	for _, module := range s.modules {
		params = append(params, module.Parameters()...)
	}
	return params
}

// Add appends a module to the sequence.
func (s *Sequential[B]) Add(module Module[B]) {
	s.modules = append(s.modules, module)
}

// Len returns the number of modules in the sequence.
func (s *Sequential[B]) Len() int {
	return len(s.modules)
}

// Module returns the module at the given index.
func (s *Sequential[B]) Module(index int) Module[B] {
	return s.modules[index]
}

// NamedChildren implements Container.
func (s *Sequential[B]) NamedChildren() []NamedModule[B] {
	return indexedChildren(s.modules)
}

// SetChild implements ChildSetter.
func (s *Sequential[B]) SetChild(name string, m Module[B]) bool {
	return setIndexed(s.modules, name, m)
}

func (s *Sequential[B]) String() string {
	return describe("Sequential", s.modules)
}

// ModuleList holds submodules by index without defining a forward pass.
type ModuleList[B tensor.Backend] struct {
	modules []Module[B]
}

// NewModuleList creates a ModuleList.
func NewModuleList[B tensor.Backend](modules ...Module[B]) *ModuleList[B] {
	return &ModuleList[B]{modules: modules}
}

// Forward panics: a ModuleList is not callable.
func (l *ModuleList[B]) Forward(*tensor.Tensor[B]) *tensor.Tensor[B] {
	panic("ModuleList.Forward: ModuleList is not callable")
}

// Parameters returns the parameters of every element.
func (l *ModuleList[B]) Parameters() []*Parameter[B] {
	var params []*Parameter[B]
	for _, m := range l.modules {
		params = append(params, m.Parameters()...)
	}
	return params
}

// Append adds a module.
func (l *ModuleList[B]) Append(m Module[B]) { l.modules = append(l.modules, m) }

// Len returns the number of modules.
func (l *ModuleList[B]) Len() int { return len(l.modules) }

// At returns the module at index i.
func (l *ModuleList[B]) At(i int) Module[B] { return l.modules[i] }

// Modules returns the elements (shared, not copied).
func (l *ModuleList[B]) Modules() []Module[B] { return l.modules }

// NamedChildren implements Container.
func (l *ModuleList[B]) NamedChildren() []NamedModule[B] {
	return indexedChildren(l.modules)
}

// SetChild implements ChildSetter.
func (l *ModuleList[B]) SetChild(name string, m Module[B]) bool {
	return setIndexed(l.modules, name, m)
}

func (l *ModuleList[B]) String() string {
	return describe("ModuleList", l.modules)
}

func indexedChildren[B tensor.Backend](modules []Module[B]) []NamedModule[B] {
	children := make([]NamedModule[B], len(modules))
	for i, m := range modules {
		children[i] = NamedModule[B]{Name: strconv.Itoa(i), Module: m}
	}
	return children
}

func setIndexed[B tensor.Backend](modules []Module[B], name string, m Module[B]) bool {
	i, err := strconv.Atoi(name)
	if err != nil || i < 0 || i >= len(modules) {
		return false
	}
	modules[i] = m
	return true
}

func describe[B tensor.Backend](kind string, modules []Module[B]) string {
	var sb strings.Builder
	sb.WriteString(kind + "(\n")
	for i, m := range modules {
		fmt.Fprintf(&sb, "  (%d): %v\n", i, m)
	}
	sb.WriteString(")")
	return sb.String()
}
