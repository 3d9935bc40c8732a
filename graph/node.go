package graph

import (
	"fmt"
	"strings"
)

// NodeKind is the operation class of a Node.
type NodeKind int

const (
	// KindInput is a graph input placeholder.
	KindInput NodeKind = iota
	// KindCallModule calls a leaf module by qualified name.
	KindCallModule
	// KindCallFunction applies a built-in Function.
	KindCallFunction
	// KindOutput returns its single argument.
	KindOutput
)

// String implements fmt.Stringer.
func (k NodeKind) String() string {
	switch k {
	case KindInput:
		return "placeholder"
	case KindCallModule:
		return "call_module"
	case KindCallFunction:
		return "call_function"
	case KindOutput:
		return "output"
	default:
		return fmt.Sprintf("NodeKind(%d)", int(k))
	}
}

// Function enumerates the tensor functions a traced graph can call directly.
type Function int

const (
	FuncAdd Function = iota
	FuncMul
	FuncCat
	FuncFlatten
	FuncReLU
	FuncReLU6
)

// String returns the base name used for nodes calling f.
func (f Function) String() string {
	switch f {
	case FuncAdd:
		return "add"
	case FuncMul:
		return "mul"
	case FuncCat:
		return "cat"
	case FuncFlatten:
		return "flatten"
	case FuncReLU:
		return "relu"
	case FuncReLU6:
		return "relu6"
	default:
		return fmt.Sprintf("Function(%d)", int(f))
	}
}

// Node is one operation of a Graph.
type Node struct {
	// Name is unique within the graph.
	Name string
	Kind NodeKind
	// Target is the qualified module name for KindCallModule nodes.
	Target string
	// Func is the function applied by KindCallFunction nodes.
	Func Function
	// Dim is the concatenation dimension of FuncCat nodes.
	Dim int

	args  []*Node
	graph *Graph
}

// Args returns the node inputs (shared, not copied).
func (n *Node) Args() []*Node { return n.args }

// SetArgs replaces the node inputs.
func (n *Node) SetArgs(args ...*Node) {
	n.args = append([]*Node(nil), args...)
}

// Graph returns the owning graph, or nil once the node has been erased.
func (n *Node) Graph() *Graph { return n.graph }

// Users returns the nodes consuming n, in graph order.
func (n *Node) Users() []*Node {
	if n.graph == nil {
		return nil
	}
	var users []*Node
	for _, m := range n.graph.nodes {
		for _, a := range m.args {
			if a == n {
				users = append(users, m)
				break
			}
		}
	}
	return users
}

// String renders the node in a compact, code-like form.
func (n *Node) String() string {
	args := make([]string, len(n.args))
	for i, a := range n.args {
		args[i] = a.Name
	}
	switch n.Kind {
	case KindInput:
		return fmt.Sprintf("%%%s = placeholder()", n.Name)
	case KindCallModule:
		return fmt.Sprintf("%%%s = %s(%s)", n.Name, n.Target, strings.Join(args, ", "))
	case KindCallFunction:
		if n.Func == FuncCat {
			return fmt.Sprintf("%%%s = cat([%s], dim=%d)", n.Name, strings.Join(args, ", "), n.Dim)
		}
		return fmt.Sprintf("%%%s = %s(%s)", n.Name, n.Func, strings.Join(args, ", "))
	default:
		return fmt.Sprintf("return %s", strings.Join(args, ", "))
	}
}
