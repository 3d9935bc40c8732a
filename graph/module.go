package graph

import (
	"fmt"
	"sort"
	"strings"

	"github.com/born-ml/flexnas/internal/nn"
	"github.com/born-ml/flexnas/internal/tensor"
	"github.com/born-ml/flexnas/naserr"
)

// Module is an executable traced model: a Graph plus the modules its call
// nodes refer to.
//
// Module implements nn.Module, so it can be trained, converted again, or
// nested in other models. Its children are the modules called by the graph,
// named by their qualified names.
type Module[B tensor.Backend] struct {
	name    string
	graph   *Graph
	modules map[string]nn.Module[B]
	meta    map[*Node]*Meta[B]
	plan    []*Node
}

// NewModule binds a graph to the modules it calls.
func NewModule[B tensor.Backend](name string, g *Graph, modules map[string]nn.Module[B]) *Module[B] {
	m := &Module[B]{
		name:    name,
		graph:   g,
		modules: modules,
		meta:    make(map[*Node]*Meta[B]),
	}
	m.plan = g.Nodes()
	return m
}

// Name returns the type name of the traced root.
func (m *Module[B]) Name() string { return m.name }

// Graph returns the underlying graph.
func (m *Module[B]) Graph() *Graph { return m.graph }

// Meta returns the metadata of n, creating an empty record on first access.
func (m *Module[B]) Meta(n *Node) *Meta[B] {
	meta, ok := m.meta[n]
	if !ok {
		meta = &Meta[B]{}
		m.meta[n] = meta
	}
	return meta
}

// Submodule returns the module registered under a qualified name.
func (m *Module[B]) Submodule(name string) (nn.Module[B], bool) {
	mod, ok := m.modules[name]
	return mod, ok
}

// ModuleOf returns the module called by n, or nil for other node kinds.
func (m *Module[B]) ModuleOf(n *Node) nn.Module[B] {
	if n.Kind != KindCallModule {
		return nil
	}
	return m.modules[n.Target]
}

// SetSubmodule replaces the module at name and everything registered below
// it. Containers of the traced model are left untouched: the graph module
// only exposes the modules its nodes call.
func (m *Module[B]) SetSubmodule(name string, mod nn.Module[B]) error {
	if _, ok := m.modules[name]; !ok {
		return naserr.Structuralf("no submodule named %q", name)
	}
	m.removeTree(name)
	m.register(name, mod)
	return nil
}

// AddSubmodule registers a new module under an unused name.
func (m *Module[B]) AddSubmodule(name string, mod nn.Module[B]) error {
	if _, ok := m.modules[name]; ok {
		return naserr.Structuralf("submodule %q already exists", name)
	}
	m.register(name, mod)
	return nil
}

func (m *Module[B]) register(name string, mod nn.Module[B]) {
	nn.Walk(mod, func(sub string, s nn.Module[B]) {
		m.modules[nn.JoinName(name, sub)] = s
	})
}

func (m *Module[B]) removeTree(name string) {
	prefix := name + "."
	for k := range m.modules {
		if k == name || strings.HasPrefix(k, prefix) {
			delete(m.modules, k)
		}
	}
}

// DeleteAllUnusedSubmodules drops modules that are neither called by the
// graph nor an ancestor or descendant of a called module.
func (m *Module[B]) DeleteAllUnusedSubmodules() []string {
	used := make(map[string]bool)
	for _, n := range m.graph.nodes {
		if n.Kind == KindCallModule {
			used[n.Target] = true
		}
	}
	var deleted []string
	for name := range m.modules {
		if !keepModule(name, used) {
			deleted = append(deleted, name)
		}
	}
	for _, name := range deleted {
		delete(m.modules, name)
	}
	sort.Strings(deleted)
	return deleted
}

func keepModule(name string, used map[string]bool) bool {
	if used[name] {
		return true
	}
	for target := range used {
		if strings.HasPrefix(target, name+".") || strings.HasPrefix(name, target+".") {
			return true
		}
	}
	return false
}

// SubmoduleNames returns all registered qualified names, sorted.
func (m *Module[B]) SubmoduleNames() []string {
	names := make([]string, 0, len(m.modules))
	for name := range m.modules {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// NamedChildren implements nn.Container: one child per called module, in
// graph order, named by its qualified name.
func (m *Module[B]) NamedChildren() []nn.NamedModule[B] {
	seen := make(map[string]bool)
	var children []nn.NamedModule[B]
	for _, n := range m.graph.nodes {
		if n.Kind != KindCallModule || seen[n.Target] {
			continue
		}
		seen[n.Target] = true
		if mod, ok := m.modules[n.Target]; ok {
			children = append(children, nn.NamedModule[B]{Name: n.Target, Module: mod})
		}
	}
	return children
}

// SetChild implements nn.ChildSetter.
func (m *Module[B]) SetChild(name string, mod nn.Module[B]) bool {
	return m.SetSubmodule(name, mod) == nil
}

// Parameters returns the parameters of the called modules, without
// duplicates.
func (m *Module[B]) Parameters() []*nn.Parameter[B] {
	seen := make(map[*nn.Parameter[B]]bool)
	var params []*nn.Parameter[B]
	for _, child := range m.NamedChildren() {
		for _, p := range child.Module.Parameters() {
			if !seen[p] {
				seen[p] = true
				params = append(params, p)
			}
		}
	}
	return params
}

// NamedParameters returns the parameters with qualified names.
func (m *Module[B]) NamedParameters() []nn.NamedParameter[B] {
	return nn.NamedParameters[B](m, "")
}

// Forward runs the graph on a single input.
func (m *Module[B]) Forward(input *tensor.Tensor[B]) *tensor.Tensor[B] {
	return m.ForwardMulti(input)
}

// ForwardMulti runs the graph with one tensor per placeholder.
func (m *Module[B]) ForwardMulti(inputs ...*tensor.Tensor[B]) *tensor.Tensor[B] {
	return m.run(inputs, nil)
}

func (m *Module[B]) run(inputs []*tensor.Tensor[B], visit func(n *Node, out *tensor.Tensor[B])) *tensor.Tensor[B] {
	env := make(map[*Node]*tensor.Tensor[B], len(m.plan))
	nextInput := 0
	for _, n := range m.plan {
		args := make([]*tensor.Tensor[B], len(n.args))
		for i, a := range n.args {
			args[i] = env[a]
		}
		var out *tensor.Tensor[B]
		switch n.Kind {
		case KindInput:
			if nextInput >= len(inputs) {
				panic(fmt.Sprintf("graph.Module.Forward: %s expects more than %d input(s)", m.name, len(inputs)))
			}
			out = inputs[nextInput]
			nextInput++
		case KindCallModule:
			mod, ok := m.modules[n.Target]
			if !ok {
				panic(fmt.Sprintf("graph.Module.Forward: node %s calls missing submodule %q", n.Name, n.Target))
			}
			out = CallModule(mod, args)
		case KindCallFunction:
			out = applyFunction(n, args)
		case KindOutput:
			out = args[0]
		}
		env[n] = out
		if visit != nil {
			visit(n, out)
		}
		if n.Kind == KindOutput {
			return out
		}
	}
	panic(fmt.Sprintf("graph.Module.Forward: %s has no output node", m.name))
}

// CallModule invokes mod on args, through ForwardMulti when it accepts
// several inputs.
func CallModule[B tensor.Backend](mod nn.Module[B], args []*tensor.Tensor[B]) *tensor.Tensor[B] {
	if multi, ok := mod.(nn.MultiInputModule[B]); ok {
		return multi.ForwardMulti(args...)
	}
	if len(args) != 1 {
		panic(fmt.Sprintf("graph: module %T takes one input, got %d", mod, len(args)))
	}
	return mod.Forward(args[0])
}

func applyFunction[B tensor.Backend](n *Node, args []*tensor.Tensor[B]) *tensor.Tensor[B] {
	switch n.Func {
	case FuncAdd:
		out := args[0]
		for _, a := range args[1:] {
			out = out.Add(a)
		}
		return out
	case FuncMul:
		out := args[0]
		for _, a := range args[1:] {
			out = out.Mul(a)
		}
		return out
	case FuncCat:
		return tensor.Cat(args, n.Dim)
	case FuncFlatten:
		return args[0].Flatten()
	case FuncReLU:
		return args[0].ReLU()
	case FuncReLU6:
		return args[0].Clamp(0, 6)
	default:
		panic(fmt.Sprintf("graph: unknown function %v", n.Func))
	}
}

// Lint checks the graph invariants and that every call target exists.
func (m *Module[B]) Lint() error {
	if err := m.graph.Lint(); err != nil {
		return err
	}
	for _, n := range m.graph.nodes {
		if n.Kind == KindCallModule {
			if _, ok := m.modules[n.Target]; !ok {
				return naserr.Structuralf("node %s calls missing submodule %q", n.Name, n.Target)
			}
		}
	}
	return nil
}

// Recompile refreshes the execution plan after graph rewrites and drops
// metadata of erased nodes.
func (m *Module[B]) Recompile() {
	m.plan = m.graph.Nodes()
	for n := range m.meta {
		if n.graph != m.graph {
			delete(m.meta, n)
		}
	}
}

// Trace replays the graph on tr, so a converted model can be traced again
// with a different leaf predicate.
func (m *Module[B]) Trace(tr *Tracer[B], inputs ...*Node) *Node {
	for _, name := range m.SubmoduleNames() {
		tr.Register(name, m.modules[name])
	}
	env := make(map[*Node]*Node, len(m.plan))
	nextInput := 0
	for _, n := range m.plan {
		args := make([]*Node, len(n.args))
		for i, a := range n.args {
			args[i] = env[a]
		}
		switch n.Kind {
		case KindInput:
			env[n] = inputs[nextInput]
			nextInput++
		case KindCallModule:
			env[n] = tr.Call(m.modules[n.Target], n.Target, args...)
		case KindCallFunction:
			env[n] = tr.Function(n.Func, n.Dim, args...)
		case KindOutput:
			return args[0]
		}
	}
	panic(fmt.Sprintf("graph.Module.Trace: %s has no output node", m.name))
}

// NumInputs returns the number of placeholders.
func (m *Module[B]) NumInputs() int { return len(m.graph.Inputs()) }

func (m *Module[B]) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "GraphModule(%s)\n", m.name)
	sb.WriteString(m.graph.String())
	return sb.String()
}
