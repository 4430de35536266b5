package flow

import (
	"fmt"
	"strconv"

	"github.com/awalterschulze/gographviz"
)

// ParseDOT reads a flow written as a DOT digraph:
//
//	digraph credit {
//	  start    [type=start, policy="age_check", input="{\"age\": 20}"]
//	  score    [type=policy, policy="score_check"]
//	  approved [type=return, value=true]
//	  manual   [type=custom, outcome="manual review"]
//	  start -> score    [label=true]
//	  start -> approved [label=false]
//	}
//
// A node named "start" without a type attribute is a start node. Any DOT
// gographviz accepts is read: edge chains, ports, subgraphs and node or edge
// default attributes all apply.
func ParseDOT(dot string) (*Graph, error) {
	tree, err := gographviz.ParseString(dot)
	if err != nil {
		return nil, fmt.Errorf("failed to parse DOT: %w", err)
	}

	b := newDOTBuilder()
	if err := gographviz.Analyse(tree, b); err != nil {
		return nil, fmt.Errorf("failed to analyse DOT: %w", err)
	}

	nodes := make([]Node, 0, len(b.nodes))
	for _, dn := range b.nodes {
		typ := dn.attrs["type"]
		if typ == "" && dn.id == "start" {
			typ = string(KindStart)
		}
		if typ == "" && len(dn.attrs) == 0 {
			return nil, fmt.Errorf("node %q is referenced by an edge but never declared", dn.id)
		}
		kind, err := ParseKind(typ)
		if err != nil {
			return nil, fmt.Errorf("node %q: %w", dn.id, err)
		}

		raw := map[string]any{}
		if v, ok := dn.attrs["policy"]; ok {
			raw["policyId"] = v
		}
		if v, ok := dn.attrs["label"]; ok {
			raw["policyName"] = v
		}
		if v, ok := dn.attrs["input"]; ok {
			raw["input"] = v
		}
		if v, ok := dn.attrs["value"]; ok {
			raw["returnValue"] = v
		}
		if v, ok := dn.attrs["outcome"]; ok {
			raw["outcome"] = v
		}

		data, err := DecodeNodeData(kind, raw)
		if err != nil {
			return nil, fmt.Errorf("node %q: %w", dn.id, err)
		}
		nodes = append(nodes, Node{ID: dn.id, Data: data})
	}

	edges := make([]Edge, 0, len(b.edges))
	for i, de := range b.edges {
		edges = append(edges, Edge{
			ID:     fmt.Sprintf("e%d-%s-%s", i, de.from, de.to),
			Source: de.from,
			Target: de.to,
			Label:  Label(de.attrs["label"]),
		})
	}

	return NewGraph(nodes, edges), nil
}

// Overlay marks the part of the graph a run went through.
type Overlay struct {
	ExecutionPath []string `json:"executionPath"`
	Terminal      string   `json:"terminalNode,omitempty"`
}

// ToDOT renders the graph for Graphviz. Decision nodes are diamonds and
// terminals are boxes; with an overlay the visited nodes and taken edges are
// highlighted.
func ToDOT(name string, g *Graph, overlay *Overlay) (string, error) {
	out := gographviz.NewGraph()
	if name == "" {
		name = "flow"
	}
	graphName := strconv.Quote(name)
	if err := out.SetName(graphName); err != nil {
		return "", err
	}
	if err := out.SetDir(true); err != nil {
		return "", err
	}
	if err := out.AddAttr(graphName, "rankdir", "TB"); err != nil {
		return "", err
	}

	visited := map[string]bool{}
	taken := map[[2]string]bool{}
	if overlay != nil {
		path := append([]string(nil), overlay.ExecutionPath...)
		if overlay.Terminal != "" {
			path = append(path, overlay.Terminal)
		}
		for i, id := range path {
			visited[id] = true
			if i > 0 {
				taken[[2]string{path[i-1], id}] = true
			}
		}
	}

	for _, n := range g.Nodes() {
		attrs := map[string]string{
			"label": strconv.Quote(nodeLabel(n)),
			"shape": nodeShape(n.Kind()),
		}
		if visited[n.ID] {
			attrs["style"] = "filled"
			attrs["fillcolor"] = strconv.Quote("#c6f6d5")
		}
		if err := out.AddNode(graphName, strconv.Quote(n.ID), attrs); err != nil {
			return "", fmt.Errorf("node %q: %w", n.ID, err)
		}
	}

	for _, e := range g.Edges() {
		if !g.Has(e.Source) || !g.Has(e.Target) {
			continue
		}
		attrs := map[string]string{}
		if e.Label != "" {
			attrs["label"] = strconv.Quote(string(e.Label))
		}
		if taken[[2]string{e.Source, e.Target}] {
			attrs["penwidth"] = "2"
			attrs["color"] = strconv.Quote("#2f855a")
		}
		if err := out.AddEdge(strconv.Quote(e.Source), strconv.Quote(e.Target), true, attrs); err != nil {
			return "", fmt.Errorf("edge %s->%s: %w", e.Source, e.Target, err)
		}
	}

	return out.String(), nil
}

func nodeLabel(n Node) string {
	switch d := n.Data.(type) {
	case StartData:
		return "start: " + refLabel(d.Policy)
	case PolicyData:
		return refLabel(d.Policy)
	case ReturnData:
		return "return " + strconv.FormatBool(d.Value)
	case CustomData:
		return d.Outcome
	}
	return n.ID
}

func refLabel(r PolicyRef) string {
	if r.Name != "" {
		return r.Name
	}
	return r.ID
}

func nodeShape(k Kind) string {
	switch k {
	case KindStart:
		return "Mdiamond"
	case KindPolicy:
		return "diamond"
	case KindReturn:
		return "box"
	default:
		return "note"
	}
}
