package graph

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/born-ml/flexnas/internal/nn"
	"github.com/born-ml/flexnas/internal/tensor"
	"github.com/born-ml/flexnas/naserr"
	"k8s.io/klog/v2"
)

// LeafFunc decides whether the tracer records a module as a single call node
// instead of tracing through it.
type LeafFunc func(m any) bool

var nnPkgPath = reflect.TypeOf(nn.Identity[tensor.Backend]{}).PkgPath()

// StandardLeaf accepts the built-in layers of package nn. Containers such as
// Sequential are traced through.
func StandardLeaf(m any) bool {
	t := reflect.TypeOf(m)
	if t == nil {
		return false
	}
	if t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t.PkgPath() != nnPkgPath {
		return false
	}
	// Containers are generic over the backend, so look the method up by name.
	return !reflect.ValueOf(m).MethodByName("NamedChildren").IsValid()
}

// AnyLeaf combines predicates with a logical OR.
func AnyLeaf(preds ...LeafFunc) LeafFunc {
	return func(m any) bool {
		for _, p := range preds {
			if p != nil && p(m) {
				return true
			}
		}
		return false
	}
}

// LeafTypes accepts modules whose dynamic type is one of types.
func LeafTypes(types ...reflect.Type) LeafFunc {
	set := make(map[reflect.Type]bool, len(types))
	for _, t := range types {
		set[t] = true
	}
	return func(m any) bool {
		return set[reflect.TypeOf(m)]
	}
}

// Traceable is implemented by composite modules with a custom forward pass.
// Trace must mirror Forward, calling children through the tracer.
//
// Example:
//
//	func (m *Block[B]) Trace(tr *graph.Tracer[B], in ...*graph.Node) *graph.Node {
//	    x := tr.Call(m.conv, "conv", in[0])
//	    y := tr.Call(m.shortcut, "shortcut", in[0])
//	    return tr.Add(x, y)
//	}
type Traceable[B tensor.Backend] interface {
	nn.Module[B]
	Trace(tr *Tracer[B], inputs ...*Node) *Node
}

// Tracer records the leaf calls of a model into a Graph.
type Tracer[B tensor.Backend] struct {
	isLeaf  LeafFunc
	graph   *Graph
	modules map[string]nn.Module[B]
	scope   string
}

// NewTracer creates a tracer with the given leaf predicate.
func NewTracer[B tensor.Backend](isLeaf LeafFunc) *Tracer[B] {
	if isLeaf == nil {
		isLeaf = StandardLeaf
	}
	return &Tracer[B]{
		isLeaf:  isLeaf,
		graph:   New(),
		modules: make(map[string]nn.Module[B]),
	}
}

// Trace traces root into an executable graph module with numInputs inputs.
// Any panic raised while tracing is returned as an error.
func Trace[B tensor.Backend](root nn.Module[B], isLeaf LeafFunc, numInputs int) (gm *Module[B], err error) {
	tr := NewTracer[B](isLeaf)
	err = naserr.Catch(func() {
		gm = tr.TraceRoot(root, numInputs)
	})
	if err != nil {
		return nil, err
	}
	klog.V(2).Infof("traced %s: %d nodes, %d submodules", gm.Name(), gm.Graph().Len(), len(gm.modules))
	return gm, nil
}

// TraceRoot traces root and panics on failure.
func (tr *Tracer[B]) TraceRoot(root nn.Module[B], numInputs int) *Module[B] {
	if numInputs < 1 {
		numInputs = 1
	}
	inputs := make([]*Node, numInputs)
	for i := range inputs {
		name := "x"
		if numInputs > 1 {
			name = fmt.Sprintf("x%d", i)
		}
		inputs[i] = tr.graph.Placeholder(name)
	}

	var out *Node
	switch r := root.(type) {
	case Traceable[B]:
		out = r.Trace(tr, inputs...)
	case *nn.Sequential[B]:
		out = tr.traceSequential(r, inputs)
	default:
		// A bare leaf is wrapped so that it gets a qualified name.
		out = tr.Call(root, "0", inputs...)
	}
	if out == nil {
		panic(naserr.Structuralf("tracing %T produced no output", root))
	}
	tr.graph.SetOutput(out)
	return NewModule(typeName(root), tr.graph, tr.modules)
}

// Call records a call to child m, named name relative to the module being
// traced. Leaves become a single node; Sequential and Traceable modules are
// traced through; modules with no children are treated as leaves.
func (tr *Tracer[B]) Call(m nn.Module[B], name string, args ...*Node) *Node {
	qualified := nn.JoinName(tr.scope, name)
	tr.Register(qualified, m)

	if tr.isLeaf(m) {
		return tr.graph.CallModule(qualified, args...)
	}
	switch c := m.(type) {
	case Traceable[B]:
		prev := tr.scope
		tr.scope = qualified
		defer func() { tr.scope = prev }()
		return c.Trace(tr, args...)
	case *nn.Sequential[B]:
		prev := tr.scope
		tr.scope = qualified
		defer func() { tr.scope = prev }()
		return tr.traceSequential(c, args)
	}
	if len(nn.Children(m)) == 0 {
		return tr.graph.CallModule(qualified, args...)
	}
	panic(naserr.Structuralf("module %q of type %T has children but is not traceable", qualified, m))
}

func (tr *Tracer[B]) traceSequential(s *nn.Sequential[B], args []*Node) *Node {
	if len(args) != 1 {
		panic(naserr.Structuralf("Sequential takes one input, got %d", len(args)))
	}
	x := args[0]
	for _, child := range s.NamedChildren() {
		x = tr.Call(child.Module, child.Name, x)
	}
	return x
}

// Register records m and its descendants under a name relative to the
// current scope, without creating nodes.
func (tr *Tracer[B]) Register(name string, m nn.Module[B]) {
	qualified := nn.JoinName(tr.scope, name)
	nn.Walk(m, func(sub string, s nn.Module[B]) {
		if q := nn.JoinName(qualified, sub); q != "" {
			tr.modules[q] = s
		}
	})
}

// Function records a call to a built-in function.
func (tr *Tracer[B]) Function(fn Function, dim int, args ...*Node) *Node {
	return tr.graph.CallFunction(fn, dim, args...)
}

// Add records an element-wise sum.
func (tr *Tracer[B]) Add(args ...*Node) *Node { return tr.Function(FuncAdd, 0, args...) }

// Mul records an element-wise product.
func (tr *Tracer[B]) Mul(args ...*Node) *Node { return tr.Function(FuncMul, 0, args...) }

// Cat records a concatenation along dim.
func (tr *Tracer[B]) Cat(dim int, args ...*Node) *Node { return tr.Function(FuncCat, dim, args...) }

// Flatten records a flatten of all dimensions but the batch one.
func (tr *Tracer[B]) Flatten(x *Node) *Node { return tr.Function(FuncFlatten, 0, x) }

// ReLU records a functional ReLU.
func (tr *Tracer[B]) ReLU(x *Node) *Node { return tr.Function(FuncReLU, 0, x) }

// ReLU6 records a functional ReLU6.
func (tr *Tracer[B]) ReLU6(x *Node) *Node { return tr.Function(FuncReLU6, 0, x) }

func typeName(m any) string {
	if gm, ok := m.(interface{ Name() string }); ok {
		if _, isGraph := m.(interface{ Graph() *Graph }); isGraph {
			return gm.Name()
		}
	}
	t := reflect.TypeOf(m)
	if t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	name := t.Name()
	if i := strings.IndexByte(name, '['); i >= 0 {
		name = name[:i]
	}
	return name
}
