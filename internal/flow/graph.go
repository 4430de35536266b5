package flow

import "fmt"

// Graph is an immutable view over a snapshot of nodes and edges. It is safe
// for concurrent readers; the editor owns mutation and hands out new graphs.
type Graph struct {
	nodes []Node
	edges []Edge
	index map[string]int
	out   map[string][]int
	dups  []string
}

// NewGraph copies nodes and edges into a read-only graph. A node without
// data is a programming error and panics.
func NewGraph(nodes []Node, edges []Edge) *Graph {
	g := &Graph{
		nodes: append([]Node(nil), nodes...),
		edges: append([]Edge(nil), edges...),
		index: make(map[string]int, len(nodes)),
		out:   make(map[string][]int, len(nodes)),
	}

	for i, n := range g.nodes {
		if n.Data == nil {
			panic(fmt.Sprintf("flow: node %q has no data", n.ID))
		}
		if _, ok := g.index[n.ID]; ok {
			g.dups = append(g.dups, n.ID)
			continue
		}
		g.index[n.ID] = i
	}

	for i, e := range g.edges {
		g.out[e.Source] = append(g.out[e.Source], i)
	}

	return g
}

func (g *Graph) Len() int { return len(g.nodes) }

// Nodes returns the nodes in their original order.
func (g *Graph) Nodes() []Node { return append([]Node(nil), g.nodes...) }

// Edges returns the edges in their original order.
func (g *Graph) Edges() []Edge { return append([]Edge(nil), g.edges...) }

// Node looks up a node by id. With duplicate ids the first one wins.
func (g *Graph) Node(id string) (Node, bool) {
	i, ok := g.index[id]
	if !ok {
		return Node{}, false
	}
	return g.nodes[i], true
}

func (g *Graph) Has(id string) bool {
	_, ok := g.index[id]
	return ok
}

// DuplicateIDs lists ids that appear on more than one node.
func (g *Graph) DuplicateIDs() []string { return append([]string(nil), g.dups...) }

// Outgoing returns the edges leaving id, optionally restricted to labels.
func (g *Graph) Outgoing(id string, labels ...Label) []Edge {
	idx := g.out[id]
	out := make([]Edge, 0, len(idx))
	for _, i := range idx {
		e := g.edges[i]
		if len(labels) > 0 && !hasLabel(labels, e.Label) {
			continue
		}
		out = append(out, e)
	}
	return out
}

// Branch returns the first edge leaving id with the given label.
func (g *Graph) Branch(id string, label Label) (Edge, bool) {
	for _, i := range g.out[id] {
		if g.edges[i].Label == label {
			return g.edges[i], true
		}
	}
	return Edge{}, false
}

// Successors returns the target ids of every edge leaving id, regardless of label.
func (g *Graph) Successors(id string) []string {
	idx := g.out[id]
	out := make([]string, 0, len(idx))
	for _, i := range idx {
		out = append(out, g.edges[i].Target)
	}
	return out
}

// Starts returns every start node in order.
func (g *Graph) Starts() []Node {
	var out []Node
	for _, n := range g.nodes {
		if n.Kind() == KindStart {
			out = append(out, n)
		}
	}
	return out
}

// Start returns the unique start node, if exactly one exists.
func (g *Graph) Start() (Node, bool) {
	starts := g.Starts()
	if len(starts) != 1 {
		return Node{}, false
	}
	return starts[0], true
}

func hasLabel(labels []Label, l Label) bool {
	for _, x := range labels {
		if x == l {
			return true
		}
	}
	return false
}
