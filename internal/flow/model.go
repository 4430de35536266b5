package flow

import "fmt"

type Kind string

const (
	KindStart  Kind = "start"
	KindPolicy Kind = "policy"
	KindReturn Kind = "return"
	KindCustom Kind = "custom"
)

// IsDecision reports whether nodes of this kind branch on a policy result.
func (k Kind) IsDecision() bool { return k == KindStart || k == KindPolicy }

// IsTerminal reports whether nodes of this kind end a walk.
func (k Kind) IsTerminal() bool { return k == KindReturn || k == KindCustom }

func ParseKind(s string) (Kind, error) {
	switch k := Kind(s); k {
	case KindStart, KindPolicy, KindReturn, KindCustom:
		return k, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownKind, s)
}

type Label string

const (
	LabelTrue  Label = "true"
	LabelFalse Label = "false"
)

// LabelFor maps a policy result to the branch it selects.
func LabelFor(result bool) Label {
	if result {
		return LabelTrue
	}
	return LabelFalse
}

func (l Label) Valid() bool { return l == LabelTrue || l == LabelFalse }

type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

type PolicyRef struct {
	ID   string `json:"policyId"`
	Name string `json:"policyName,omitempty"`
}

// NodeData is the kind-specific payload carried by a node. The set of
// implementations is closed: StartData, PolicyData, ReturnData, CustomData.
type NodeData interface {
	Kind() Kind
	isNodeData()
}

type StartData struct {
	Policy PolicyRef
	Input  Payload
}

type PolicyData struct {
	Policy PolicyRef
}

type ReturnData struct {
	Value bool
}

type CustomData struct {
	Outcome string
}

func (StartData) Kind() Kind  { return KindStart }
func (PolicyData) Kind() Kind { return KindPolicy }
func (ReturnData) Kind() Kind { return KindReturn }
func (CustomData) Kind() Kind { return KindCustom }

func (StartData) isNodeData()  {}
func (PolicyData) isNodeData() {}
func (ReturnData) isNodeData() {}
func (CustomData) isNodeData() {}

type Node struct {
	ID       string
	Position Position
	Data     NodeData
}

func (n Node) Kind() Kind {
	if n.Data == nil {
		return ""
	}
	return n.Data.Kind()
}

// Policy returns the policy reference of a decision node.
func (n Node) Policy() (PolicyRef, bool) {
	switch d := n.Data.(type) {
	case StartData:
		return d.Policy, true
	case PolicyData:
		return d.Policy, true
	case ReturnData, CustomData:
		return PolicyRef{}, false
	}
	panic(fmt.Sprintf("flow: node %q has unsupported data %T", n.ID, n.Data))
}

// Outcome returns the fixed outcome of a terminal node.
func (n Node) Outcome() (Outcome, bool) {
	switch d := n.Data.(type) {
	case ReturnData:
		return BoolOutcome(d.Value), true
	case CustomData:
		return StringOutcome(d.Outcome), true
	case StartData, PolicyData:
		return Outcome{}, false
	}
	panic(fmt.Sprintf("flow: node %q has unsupported data %T", n.ID, n.Data))
}

type Edge struct {
	ID           string `json:"id,omitempty"`
	Source       string `json:"source"`
	Target       string `json:"target"`
	SourceHandle string `json:"sourceHandle,omitempty"`
	TargetHandle string `json:"targetHandle,omitempty"`
	Label        Label  `json:"label,omitempty"`
}
