// Package validate checks the structural well-formedness of a flow graph.
//
// Every check runs on every call and the problems are collected into one
// Report, so an editor can show all of them at once. Validation never fails
// with an error and never mutates the graph.
package validate

import (
	"fmt"
	"strings"

	"github.com/awmpietro/policy-flow/internal/flow"
)

type IssueKind string

const (
	IssueNoStart          IssueKind = "no-start"
	IssueMultipleStart    IssueKind = "multiple-start"
	IssueMissingPolicyID  IssueKind = "missing-policy-id"
	IssueMissingBranch    IssueKind = "missing-branch"
	IssueDuplicateBranch  IssueKind = "duplicate-branch"
	IssueUnreachableNode  IssueKind = "unreachable-node"
	IssueCycle            IssueKind = "cycle-detected"
	IssueNonTerminating   IssueKind = "non-terminating-path"
	IssueDuplicateNode    IssueKind = "duplicate-node-id"
	IssueDanglingEdge     IssueKind = "dangling-edge"
	IssueTerminalOutgoing IssueKind = "terminal-outgoing-edge"
	IssueInvalidLabel     IssueKind = "invalid-edge-label"
)

type Issue struct {
	Kind    IssueKind `json:"kind"`
	NodeID  string    `json:"nodeId,omitempty"`
	Message string    `json:"message"`
}

type Report struct {
	IsValid           bool     `json:"isValid"`
	Errors            []string `json:"errors"`
	UnterminatedNodes []string `json:"unterminatedNodes"`
	Issues            []Issue  `json:"issues"`
}

// Has reports whether the report contains an issue of kind, optionally for a
// specific node.
func (r Report) Has(kind IssueKind, nodeID ...string) bool {
	for _, is := range r.Issues {
		if is.Kind != kind {
			continue
		}
		if len(nodeID) == 0 || is.NodeID == nodeID[0] {
			return true
		}
	}
	return false
}

type validator struct {
	g         *flow.Graph
	issues    []Issue
	flagged   map[string]bool
	flagOrder []string
	succ      map[string][]string
}

// Validate runs every structural check against g.
func Validate(g *flow.Graph) Report {
	v := &validator{
		g:       g,
		flagged: map[string]bool{},
		succ:    make(map[string][]string, g.Len()),
	}
	for _, n := range g.Nodes() {
		if _, ok := v.succ[n.ID]; ok {
			continue
		}
		for _, to := range g.Successors(n.ID) {
			if g.Has(to) {
				v.succ[n.ID] = append(v.succ[n.ID], to)
			}
		}
	}

	v.checkDuplicates()
	v.checkStart()
	v.checkEdges()
	v.checkDecisionNodes()
	v.checkReachability()
	v.checkCycles()
	v.checkTermination()

	return v.report()
}

func (v *validator) add(kind IssueKind, nodeID string, format string, args ...any) {
	v.issues = append(v.issues, Issue{Kind: kind, NodeID: nodeID, Message: fmt.Sprintf(format, args...)})
}

func (v *validator) flag(nodeID string) {
	if v.flagged[nodeID] {
		return
	}
	v.flagged[nodeID] = true
	v.flagOrder = append(v.flagOrder, nodeID)
}

func (v *validator) report() Report {
	r := Report{
		Errors:            make([]string, 0, len(v.issues)),
		UnterminatedNodes: append([]string{}, v.flagOrder...),
		Issues:            append([]Issue{}, v.issues...),
	}
	for _, is := range v.issues {
		r.Errors = append(r.Errors, is.Message)
	}
	r.IsValid = len(r.Errors) == 0
	return r
}

func (v *validator) checkDuplicates() {
	for _, id := range v.g.DuplicateIDs() {
		v.add(IssueDuplicateNode, id, "node id %q is used by more than one node", id)
	}
}

func (v *validator) checkStart() {
	starts := v.g.Starts()
	switch len(starts) {
	case 1:
	case 0:
		v.add(IssueNoStart, "", "flow has no start node")
	default:
		ids := make([]string, 0, len(starts))
		for _, s := range starts {
			ids = append(ids, s.ID)
		}
		v.add(IssueMultipleStart, "", "flow must have exactly one start node, found %d (%s)", len(starts), strings.Join(ids, ", "))
	}
}

func (v *validator) checkEdges() {
	for _, e := range v.g.Edges() {
		src, srcOK := v.g.Node(e.Source)
		if !srcOK || !v.g.Has(e.Target) {
			v.add(IssueDanglingEdge, e.Source, "edge %s -> %s references a node that does not exist", e.Source, e.Target)
			if !srcOK {
				continue
			}
		}

		switch kind := src.Kind(); {
		case kind.IsTerminal():
			v.add(IssueTerminalOutgoing, src.ID, "%s node %q must not have outgoing edges", kind, src.ID)
		case kind.IsDecision():
			if !e.Label.Valid() {
				v.add(IssueInvalidLabel, src.ID, "edge %s -> %s must be labeled true or false, got %q", e.Source, e.Target, e.Label)
			}
		}
	}
}

func (v *validator) checkDecisionNodes() {
	for _, n := range v.g.Nodes() {
		ref, ok := n.Policy()
		if !ok {
			continue
		}

		if strings.TrimSpace(ref.ID) == "" {
			v.add(IssueMissingPolicyID, n.ID, "%s node %q has no policy id", n.Kind(), n.ID)
			v.flag(n.ID)
		}

		for _, label := range []flow.Label{flow.LabelTrue, flow.LabelFalse} {
			if !v.hasBranch(n.ID, label) {
				v.add(IssueMissingBranch, n.ID, "%s node %q has no %s branch", n.Kind(), n.ID, label)
				v.flag(n.ID)
			}
			if out := v.g.Outgoing(n.ID, label); len(out) > 1 {
				targets := make([]string, 0, len(out))
				for _, e := range out {
					targets = append(targets, e.Target)
				}
				v.add(IssueDuplicateBranch, n.ID, "%s node %q has %d %s branches (%s), only one can be taken",
					n.Kind(), n.ID, len(out), label, strings.Join(targets, ", "))
				v.flag(n.ID)
			}
		}
	}
}

// hasBranch requires a labeled edge to some other existing node.
func (v *validator) hasBranch(id string, label flow.Label) bool {
	for _, e := range v.g.Outgoing(id, label) {
		if e.Target != id && v.g.Has(e.Target) {
			return true
		}
	}
	return false
}

func (v *validator) checkReachability() {
	starts := v.g.Starts()
	if len(starts) == 0 {
		return
	}

	seen := make(map[string]bool, v.g.Len())
	queue := make([]string, 0, v.g.Len())
	for _, s := range starts {
		if !seen[s.ID] {
			seen[s.ID] = true
			queue = append(queue, s.ID)
		}
	}

	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, to := range v.succ[cur] {
			if !seen[to] {
				seen[to] = true
				queue = append(queue, to)
			}
		}
	}

	for _, n := range v.g.Nodes() {
		if !seen[n.ID] {
			v.add(IssueUnreachableNode, n.ID, "node %q is not reachable from the start node", n.ID)
			v.flag(n.ID)
			seen[n.ID] = true
		}
	}
}

const (
	white = iota
	gray
	black
)

// checkCycles is an iterative three-colour DFS. Each back edge is reported
// once, with the cycle it closes.
func (v *validator) checkCycles() {
	color := make(map[string]int, v.g.Len())

	type frame struct {
		id   string
		next int
	}

	for _, root := range v.g.Nodes() {
		if color[root.ID] != white {
			continue
		}

		stack := []frame{{id: root.ID}}
		color[root.ID] = gray

		for len(stack) > 0 {
			top := &stack[len(stack)-1]
			succ := v.succ[top.id]
			if top.next >= len(succ) {
				color[top.id] = black
				stack = stack[:len(stack)-1]
				continue
			}

			to := succ[top.next]
			top.next++

			switch color[to] {
			case white:
				color[to] = gray
				stack = append(stack, frame{id: to})
			case gray:
				path := make([]string, 0, len(stack)+1)
				for i := len(stack) - 1; i >= 0; i-- {
					path = append(path, stack[i].id)
					if stack[i].id == to {
						break
					}
				}
				reverse(path)
				path = append(path, to)
				v.add(IssueCycle, to, "circular reference detected: %s", strings.Join(path, " -> "))
			}
		}
	}
}

const (
	unknown = iota
	visiting
	terminates
	loops
)

// checkTermination requires every path leaving a decision node through its
// true and false branches to end at a return or custom node. The recursion
// is bounded by the node count; a node met again on the current path, or a
// missing branch, means some path never terminates.
func (v *validator) checkTermination() {
	state := make(map[string]int, v.g.Len())
	limit := v.g.Len()

	var walk func(id string, depth int) bool
	walk = func(id string, depth int) bool {
		switch state[id] {
		case terminates:
			return true
		case loops, visiting:
			return false
		}

		n, ok := v.g.Node(id)
		if !ok || depth > limit {
			return false
		}
		if n.Kind().IsTerminal() {
			state[id] = terminates
			return true
		}

		state[id] = visiting
		ok = true
		for _, label := range []flow.Label{flow.LabelTrue, flow.LabelFalse} {
			e, found := v.g.Branch(id, label)
			if !found || !walk(e.Target, depth+1) {
				ok = false
			}
		}
		if ok {
			state[id] = terminates
		} else {
			state[id] = loops
		}
		return ok
	}

	for _, n := range v.g.Nodes() {
		if !n.Kind().IsDecision() {
			continue
		}
		if walk(n.ID, 0) || v.flagged[n.ID] {
			continue
		}
		v.add(IssueNonTerminating, n.ID, "node %q has a path that never reaches a return or custom node", n.ID)
		v.flag(n.ID)
	}
}

func reverse(s []string) {
	for i, j := 0, len(s)-1; i < j; i, j = i+1, j-1 {
		s[i], s[j] = s[j], s[i]
	}
}
