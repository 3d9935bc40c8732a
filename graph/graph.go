// Package graph implements the traced dataflow representation of a model and
// the passes that annotate and rewrite it.
//
// A Graph is an ordered list of Nodes in topological order. Call nodes refer
// to leaf modules by qualified name ("features.0", "sn.sn_combiner"); the
// modules themselves live in a Module, which executes the graph.
package graph

import (
	"strconv"
	"strings"

	"github.com/born-ml/flexnas/naserr"
)

// Graph is a DAG of nodes kept in topological order.
type Graph struct {
	nodes  []*Node
	names  map[string]int
	insert *Node
}

// New creates an empty graph.
func New() *Graph {
	return &Graph{names: make(map[string]int)}
}

// Nodes returns the nodes in topological order. The slice is a copy.
func (g *Graph) Nodes() []*Node {
	return append([]*Node(nil), g.nodes...)
}

// Len returns the number of nodes.
func (g *Graph) Len() int { return len(g.nodes) }

// Inputs returns the placeholder nodes in order.
func (g *Graph) Inputs() []*Node {
	var in []*Node
	for _, n := range g.nodes {
		if n.Kind == KindInput {
			in = append(in, n)
		}
	}
	return in
}

// Output returns the output node, or nil if none has been created.
func (g *Graph) Output() *Node {
	for i := len(g.nodes) - 1; i >= 0; i-- {
		if g.nodes[i].Kind == KindOutput {
			return g.nodes[i]
		}
	}
	return nil
}

// OutputProducers returns the nodes feeding the output node.
func (g *Graph) OutputProducers() []*Node {
	if out := g.Output(); out != nil {
		return out.Args()
	}
	return nil
}

// Placeholder adds an input node.
func (g *Graph) Placeholder(name string) *Node {
	return g.add(&Node{Kind: KindInput}, name)
}

// CallModule adds a node calling the module at target.
func (g *Graph) CallModule(target string, args ...*Node) *Node {
	return g.add(&Node{Kind: KindCallModule, Target: target, args: args}, strings.ReplaceAll(target, ".", "_"))
}

// CallFunction adds a node applying fn. dim is only used by FuncCat.
func (g *Graph) CallFunction(fn Function, dim int, args ...*Node) *Node {
	return g.add(&Node{Kind: KindCallFunction, Func: fn, Dim: dim, args: args}, fn.String())
}

// SetOutput adds the output node returning value.
func (g *Graph) SetOutput(value *Node) *Node {
	return g.add(&Node{Kind: KindOutput, args: []*Node{value}}, "output")
}

// InsertingAfter makes the node-creating methods called inside fn insert
// their nodes right after anchor (in creation order) instead of appending.
func (g *Graph) InsertingAfter(anchor *Node, fn func()) {
	prev := g.insert
	g.insert = anchor
	defer func() { g.insert = prev }()
	fn()
}

func (g *Graph) add(n *Node, base string) *Node {
	n.graph = g
	n.Name = g.uniqueName(base)
	if g.insert == nil {
		g.nodes = append(g.nodes, n)
		return n
	}
	at := g.index(g.insert) + 1
	g.nodes = append(g.nodes, nil)
	copy(g.nodes[at+1:], g.nodes[at:])
	g.nodes[at] = n
	g.insert = n
	return n
}

func (g *Graph) uniqueName(base string) string {
	count, taken := g.names[base]
	g.names[base] = count + 1
	if !taken {
		return base
	}
	for {
		candidate := base + "_" + strconv.Itoa(count)
		if _, exists := g.names[candidate]; !exists {
			g.names[candidate] = 1
			return candidate
		}
		count++
	}
}

func (g *Graph) index(n *Node) int {
	for i, m := range g.nodes {
		if m == n {
			return i
		}
	}
	return -1
}

// ReplaceAllUsesWith rewires every user of old to consume replacement.
// It returns the rewired users.
func (g *Graph) ReplaceAllUsesWith(old, replacement *Node) []*Node {
	var users []*Node
	for _, m := range g.nodes {
		if m == replacement {
			continue
		}
		changed := false
		for i, a := range m.args {
			if a == old {
				m.args[i] = replacement
				changed = true
			}
		}
		if changed {
			users = append(users, m)
		}
	}
	return users
}

// EraseNode removes n from the graph. It fails if n still has users.
func (g *Graph) EraseNode(n *Node) error {
	if users := n.Users(); len(users) > 0 {
		return naserr.Structuralf("cannot erase node %s: still used by %d node(s), first %s", n.Name, len(users), users[0].Name)
	}
	i := g.index(n)
	if i < 0 {
		return naserr.Structuralf("node %s does not belong to this graph", n.Name)
	}
	g.nodes = append(g.nodes[:i], g.nodes[i+1:]...)
	n.graph = nil
	n.args = nil
	return nil
}

// EliminateDeadCode removes call nodes whose result is never used,
// iterating until none is left. It reports whether anything was removed.
func (g *Graph) EliminateDeadCode() bool {
	removed := false
	for i := len(g.nodes) - 1; i >= 0; i-- {
		n := g.nodes[i]
		if n.Kind != KindCallModule && n.Kind != KindCallFunction {
			continue
		}
		if len(n.Users()) == 0 {
			g.nodes = append(g.nodes[:i], g.nodes[i+1:]...)
			n.graph = nil
			n.args = nil
			removed = true
		}
	}
	return removed
}

// Lint checks the structural invariants of the graph: unique names, args
// defined before use and owned by this graph, exactly one output node placed
// last with one argument.
func (g *Graph) Lint() error {
	seen := make(map[*Node]bool, len(g.nodes))
	names := make(map[string]bool, len(g.nodes))
	outputs := 0
	for i, n := range g.nodes {
		if n.graph != g {
			return naserr.Structuralf("node %s is not owned by this graph", n.Name)
		}
		if names[n.Name] {
			return naserr.Structuralf("duplicate node name %s", n.Name)
		}
		names[n.Name] = true
		for _, a := range n.args {
			if !seen[a] {
				return naserr.Structuralf("node %s uses %s before its definition", n.Name, a.Name)
			}
		}
		switch n.Kind {
		case KindInput:
			if len(n.args) != 0 {
				return naserr.Structuralf("placeholder %s has arguments", n.Name)
			}
		case KindOutput:
			outputs++
			if i != len(g.nodes)-1 {
				return naserr.Structuralf("output node %s is not last", n.Name)
			}
			if len(n.args) != 1 {
				return naserr.Structuralf("output node returns %d values, want 1", len(n.args))
			}
		case KindCallModule:
			if n.Target == "" {
				return naserr.Structuralf("call_module node %s has no target", n.Name)
			}
			if len(n.args) == 0 {
				return naserr.Structuralf("call_module node %s has no arguments", n.Name)
			}
		case KindCallFunction:
			if len(n.args) == 0 {
				return naserr.Structuralf("call_function node %s has no arguments", n.Name)
			}
		}
		seen[n] = true
	}
	if outputs != 1 {
		return naserr.Structuralf("graph has %d output nodes, want 1", outputs)
	}
	return nil
}

// String lists the nodes one per line.
func (g *Graph) String() string {
	var sb strings.Builder
	sb.WriteString("graph():\n")
	for _, n := range g.nodes {
		sb.WriteString("    ")
		sb.WriteString(n.String())
		sb.WriteByte('\n')
	}
	return sb.String()
}
