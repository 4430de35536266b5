// Package editor owns the single mutable copy of a flow. Every change goes
// through Apply with one of a closed set of commands; readers only ever see
// immutable snapshots.
package editor

import (
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/google/uuid"

	"github.com/awmpietro/policy-flow/internal/flow"
	"github.com/awmpietro/policy-flow/internal/flow/validate"
)

var (
	ErrNodeNotFound  = errors.New("node not found")
	ErrUnknownField  = errors.New("unknown field")
	ErrNotDecision   = errors.New("node is not a decision node")
	ErrInvalidLabel  = errors.New("label must be true or false")
	ErrStartRequired = errors.New("the start node cannot be removed")
)

// Command is implemented by AddBranch, DeleteNode, ChangeNodeType and SetField.
type Command interface {
	isCommand()
}

// AddBranch creates a node of Kind and links it from the decision node From
// on Label. An existing edge with that label is replaced.
type AddBranch struct {
	From     string
	Label    flow.Label
	Kind     flow.Kind
	Position flow.Position
}

// DeleteNode removes a node together with every edge touching it.
type DeleteNode struct {
	ID string
}

// ChangeNodeType swaps the variant of a node. The policy reference survives a
// change between decision kinds; a node becoming terminal loses its outgoing
// edges.
type ChangeNodeType struct {
	ID   string
	Kind flow.Kind
}

// SetField assigns one data field using its wire name, e.g. "policyId".
type SetField struct {
	ID    string
	Field string
	Value any
}

func (AddBranch) isCommand()      {}
func (DeleteNode) isCommand()     {}
func (ChangeNodeType) isCommand() {}
func (SetField) isCommand()       {}

// Change is what a successful command leaves behind.
type Change struct {
	Graph  *flow.Graph
	Report validate.Report
	// NodeID is the node created or touched by the command.
	NodeID string
}

type Editor struct {
	mu    sync.Mutex
	nodes []flow.Node
	edges []flow.Edge
	newID func() string
}

type Option func(*Editor)

func WithIDs(next func() string) Option {
	return func(e *Editor) {
		e.newID = next
	}
}

// New starts editing a copy of g. A nil graph starts from a lone start node.
func New(g *flow.Graph, opts ...Option) *Editor {
	e := &Editor{newID: uuid.NewString}
	for _, opt := range opts {
		opt(e)
	}
	if g == nil {
		e.nodes = []flow.Node{{ID: e.newID(), Data: flow.StartData{}}}
		return e
	}
	e.nodes = g.Nodes()
	e.edges = g.Edges()
	return e
}

// Snapshot returns an immutable view of the current flow.
func (e *Editor) Snapshot() *flow.Graph {
	e.mu.Lock()
	defer e.mu.Unlock()
	return flow.NewGraph(e.nodes, e.edges)
}

// Apply runs cmd and validates the result. A rejected command leaves the
// flow untouched; a structurally invalid flow is not a rejection.
func (e *Editor) Apply(cmd Command) (Change, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	var (
		id  string
		err error
	)
	switch c := cmd.(type) {
	case AddBranch:
		id, err = e.addBranch(c)
	case DeleteNode:
		id, err = c.ID, e.deleteNode(c)
	case ChangeNodeType:
		id, err = c.ID, e.changeNodeType(c)
	case SetField:
		id, err = c.ID, e.setField(c)
	default:
		panic(fmt.Sprintf("editor: unsupported command %T", cmd))
	}
	if err != nil {
		return Change{}, err
	}

	g := flow.NewGraph(e.nodes, e.edges)
	return Change{Graph: g, Report: validate.Validate(g), NodeID: id}, nil
}

// Dispatch applies commands in order and stops at the first rejection.
func (e *Editor) Dispatch(cmds ...Command) (Change, error) {
	var last Change
	for i, cmd := range cmds {
		ch, err := e.Apply(cmd)
		if err != nil {
			return last, fmt.Errorf("command %d (%T): %w", i, cmd, err)
		}
		last = ch
	}
	if last.Graph == nil {
		g := e.Snapshot()
		last = Change{Graph: g, Report: validate.Validate(g)}
	}
	return last, nil
}

func (e *Editor) addBranch(c AddBranch) (string, error) {
	from, err := e.find(c.From)
	if err != nil {
		return "", err
	}
	if !e.nodes[from].Kind().IsDecision() {
		return "", fmt.Errorf("%w: %q", ErrNotDecision, c.From)
	}
	if !c.Label.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidLabel, c.Label)
	}
	data, err := flow.DecodeNodeData(c.Kind, nil)
	if err != nil {
		return "", err
	}

	id := e.newID()
	e.nodes = append(e.nodes, flow.Node{ID: id, Position: c.Position, Data: data})
	e.edges = slices.DeleteFunc(e.edges, func(ed flow.Edge) bool {
		return ed.Source == c.From && ed.Label == c.Label
	})
	e.edges = append(e.edges, flow.Edge{
		ID:           fmt.Sprintf("%s-%s-%s", c.From, c.Label, id),
		Source:       c.From,
		Target:       id,
		SourceHandle: string(c.Label),
		Label:        c.Label,
	})
	return id, nil
}

func (e *Editor) deleteNode(c DeleteNode) error {
	i, err := e.find(c.ID)
	if err != nil {
		return err
	}
	if e.nodes[i].Kind() == flow.KindStart && e.countKind(flow.KindStart) == 1 {
		return ErrStartRequired
	}
	e.nodes = slices.Delete(e.nodes, i, i+1)
	e.edges = slices.DeleteFunc(e.edges, func(ed flow.Edge) bool {
		return ed.Source == c.ID || ed.Target == c.ID
	})
	return nil
}

func (e *Editor) changeNodeType(c ChangeNodeType) error {
	i, err := e.find(c.ID)
	if err != nil {
		return err
	}
	data, err := flow.DecodeNodeData(c.Kind, nil)
	if err != nil {
		return err
	}

	if ref, ok := e.nodes[i].Policy(); ok {
		switch d := data.(type) {
		case flow.StartData:
			d.Policy = ref
			data = d
		case flow.PolicyData:
			d.Policy = ref
			data = d
		}
	}
	e.nodes[i].Data = data

	if c.Kind.IsTerminal() {
		e.edges = slices.DeleteFunc(e.edges, func(ed flow.Edge) bool {
			return ed.Source == c.ID
		})
	}
	return nil
}

func (e *Editor) setField(c SetField) error {
	i, err := e.find(c.ID)
	if err != nil {
		return err
	}
	kind := e.nodes[i].Kind()
	if !slices.Contains(flow.FieldsOf(kind), c.Field) {
		return fmt.Errorf("%w %q for %s node", ErrUnknownField, c.Field, kind)
	}

	raw, err := flow.EncodeNodeData(e.nodes[i].Data)
	if err != nil {
		return err
	}
	raw[c.Field] = c.Value
	data, err := flow.DecodeNodeData(kind, raw)
	if err != nil {
		return fmt.Errorf("set %s on %q: %w", c.Field, c.ID, err)
	}
	e.nodes[i].Data = data
	return nil
}

func (e *Editor) find(id string) (int, error) {
	for i, n := range e.nodes {
		if n.ID == id {
			return i, nil
		}
	}
	return -1, fmt.Errorf("%w: %q", ErrNodeNotFound, id)
}

func (e *Editor) countKind(kind flow.Kind) int {
	n := 0
	for _, node := range e.nodes {
		if node.Kind() == kind {
			n++
		}
	}
	return n
}
