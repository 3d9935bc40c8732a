package graph

import "github.com/born-ml/flexnas/internal/tensor"

// WalkFromOutputs visits every node reachable backwards from the output
// exactly once, in FIFO order starting from the output producers.
func WalkFromOutputs(g *Graph, visit func(n *Node)) {
	queue := append([]*Node(nil), g.OutputProducers()...)
	visited := make(map[*Node]bool)
	for len(queue) > 0 {
		n := queue[0]
		queue = queue[1:]
		if visited[n] {
			continue
		}
		visited[n] = true
		visit(n)
		queue = append(queue, n.Args()...)
	}
}

// WalkFromInputs visits every node reachable forward from the inputs exactly
// once, in FIFO order.
func WalkFromInputs(g *Graph, visit func(n *Node)) {
	queue := g.Inputs()
	visited := make(map[*Node]bool)
	for len(queue) > 0 {
		n := queue[0]
		queue = queue[1:]
		if visited[n] {
			continue
		}
		visited[n] = true
		visit(n)
		queue = append(queue, n.Users()...)
	}
}

// LayerAs returns the module called by n as a T, if it is one.
//
//	if conv, ok := graph.LayerAs[*nn.Conv1d[B]](gm, n); ok { ... }
func LayerAs[T any, B tensor.Backend](gm *Module[B], n *Node) (T, bool) {
	t, ok := any(gm.ModuleOf(n)).(T)
	return t, ok
}
