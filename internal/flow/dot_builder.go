package flow

import (
	"errors"
	"strconv"
	"strings"

	"github.com/awalterschulze/gographviz"
)

var errUndirected = errors.New("flow must be a digraph")

type dotNode struct {
	id    string
	attrs map[string]string
}

type dotEdge struct {
	from, to string
	attrs    map[string]string
}

// dotBuilder collects what gographviz.Analyse finds, in statement order.
// gographviz.Graph itself only accepts Graphviz attribute names, so flow
// attributes such as policy or outcome need their own sink.
type dotBuilder struct {
	name  string
	index map[string]int
	nodes []dotNode
	edges []dotEdge
}

var _ gographviz.Interface = (*dotBuilder)(nil)

func newDOTBuilder() *dotBuilder {
	return &dotBuilder{index: map[string]int{}}
}

func (b *dotBuilder) SetStrict(bool) error { return nil }

func (b *dotBuilder) SetDir(directed bool) error {
	if !directed {
		return errUndirected
	}
	return nil
}

func (b *dotBuilder) SetName(name string) error {
	b.name = unquoteDOT(name)
	return nil
}

func (b *dotBuilder) AddPortEdge(src, _, dst, _ string, directed bool, attrs map[string]string) error {
	if !directed {
		return errUndirected
	}
	b.edges = append(b.edges, dotEdge{from: unquoteDOT(src), to: unquoteDOT(dst), attrs: unquoteAttrs(attrs)})
	return nil
}

func (b *dotBuilder) AddEdge(src, dst string, directed bool, attrs map[string]string) error {
	return b.AddPortEdge(src, "", dst, "", directed, attrs)
}

// AddNode merges repeated statements for the same node, later values winning.
func (b *dotBuilder) AddNode(_ string, name string, attrs map[string]string) error {
	id := unquoteDOT(name)
	i, ok := b.index[id]
	if !ok {
		b.index[id] = len(b.nodes)
		b.nodes = append(b.nodes, dotNode{id: id, attrs: unquoteAttrs(attrs)})
		return nil
	}
	for k, v := range unquoteAttrs(attrs) {
		b.nodes[i].attrs[k] = v
	}
	return nil
}

// Graph and subgraph attributes (rankdir and friends) do not affect a flow.
func (b *dotBuilder) AddAttr(string, string, string) error { return nil }

func (b *dotBuilder) AddSubGraph(string, string, map[string]string) error { return nil }

func (b *dotBuilder) String() string { return b.name }

func unquoteAttrs(attrs map[string]string) map[string]string {
	out := make(map[string]string, len(attrs))
	for k, v := range attrs {
		out[k] = unquoteDOT(v)
	}
	return out
}

func unquoteDOT(s string) string {
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		if unq, err := strconv.Unquote(s); err == nil {
			return unq
		}
		return strings.ReplaceAll(s[1:len(s)-1], `\"`, `"`)
	}
	return s
}
