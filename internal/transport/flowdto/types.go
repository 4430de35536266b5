package flowdto

import (
	"errors"
	"fmt"
	"strings"

	"github.com/awmpietro/policy-flow/internal/app"
	"github.com/awmpietro/policy-flow/internal/flow"
	"github.com/awmpietro/policy-flow/internal/flow/editor"
	"github.com/awmpietro/policy-flow/internal/flow/validate"
)

var (
	ErrNoFlow   = errors.New("one of flow or flow_dot is required")
	ErrTwoFlows = errors.New("flow and flow_dot are mutually exclusive")
)

// FlowRequest carries a flow either as an editor document or as DOT text.
type FlowRequest struct {
	Flow    *flow.Document `json:"flow,omitempty"`
	FlowDOT string         `json:"flow_dot,omitempty"`
}

// Resolve returns the graph and the tests stored with it. DOT flows carry no
// tests.
func (r FlowRequest) Resolve(parseDOT func(string) (*flow.Graph, error)) (*flow.Graph, []flow.Test, error) {
	hasDOT := strings.TrimSpace(r.FlowDOT) != ""
	switch {
	case r.Flow != nil && hasDOT:
		return nil, nil, ErrTwoFlows
	case r.Flow != nil:
		return r.Flow.Graph(), r.Flow.Tests, nil
	case hasDOT:
		g, err := parseDOT(r.FlowDOT)
		return g, nil, err
	}
	return nil, nil, ErrNoFlow
}

type ValidateRequest struct {
	FlowRequest
}

type ValidateResponse = validate.Report

// RunRequest runs one test. Without a test the start node's input seeds the
// walk and no outcome is expected.
type RunRequest struct {
	FlowRequest
	Test *flow.Test `json:"test,omitempty"`
}

func (r RunRequest) TestOrDefault() flow.Test {
	if r.Test == nil {
		return flow.Test{Name: "adhoc"}
	}
	return *r.Test
}

type RunResponse struct {
	Report app.TestReport `json:"report"`
	Test   flow.Test      `json:"test"`
}

// RunAllRequest runs the given tests, or the flow document's own tests when
// none are given.
type RunAllRequest struct {
	FlowRequest
	Tests []flow.Test `json:"tests,omitempty"`
}

type RunAllResponse struct {
	Reports []app.TestReport `json:"reports"`
	Passed  int              `json:"passed"`
	Failed  int              `json:"failed"`
}

func NewRunAllResponse(reports []app.TestReport) RunAllResponse {
	out := RunAllResponse{Reports: reports}
	for _, r := range reports {
		if r.Passed {
			out.Passed++
		} else {
			out.Failed++
		}
	}
	return out
}

type DOTRequest struct {
	FlowRequest
	Name    string        `json:"name,omitempty"`
	Overlay *flow.Overlay `json:"overlay,omitempty"`
}

type DOTResponse struct {
	DOT string `json:"dot"`
}

// ErrorBody is the shape of every non-2xx answer.
type ErrorBody struct {
	Error   string   `json:"error"`
	Details string   `json:"details,omitempty"`
	Issues  []string `json:"issues,omitempty"`
}

var ErrUnknownOp = errors.New("unknown edit op")

// EditCommand is one editor command on the wire. Op selects which of the
// other fields apply.
type EditCommand struct {
	Op       string        `json:"op"`
	ID       string        `json:"id,omitempty"`
	From     string        `json:"from,omitempty"`
	Label    flow.Label    `json:"label,omitempty"`
	Kind     flow.Kind     `json:"kind,omitempty"`
	Position flow.Position `json:"position,omitempty"`
	Field    string        `json:"field,omitempty"`
	Value    any           `json:"value,omitempty"`
}

func (c EditCommand) Command() (editor.Command, error) {
	switch c.Op {
	case "addBranch":
		return editor.AddBranch{From: c.From, Label: c.Label, Kind: c.Kind, Position: c.Position}, nil
	case "deleteNode":
		return editor.DeleteNode{ID: c.ID}, nil
	case "changeNodeType":
		return editor.ChangeNodeType{ID: c.ID, Kind: c.Kind}, nil
	case "setField":
		return editor.SetField{ID: c.ID, Field: c.Field, Value: c.Value}, nil
	}
	return nil, fmt.Errorf("%w %q", ErrUnknownOp, c.Op)
}

// EditRequest applies Commands to Flow. A missing flow starts a new one.
type EditRequest struct {
	Flow     *flow.Document `json:"flow,omitempty"`
	Commands []EditCommand  `json:"commands"`
}

func (r EditRequest) EditorCommands() ([]editor.Command, error) {
	cmds := make([]editor.Command, 0, len(r.Commands))
	for i, c := range r.Commands {
		cmd, err := c.Command()
		if err != nil {
			return nil, fmt.Errorf("command %d: %w", i, err)
		}
		cmds = append(cmds, cmd)
	}
	return cmds, nil
}

type EditResponse = app.EditResult
