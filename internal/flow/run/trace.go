package run

import "github.com/awmpietro/policy-flow/internal/flow"

// Termination says why a walk stopped.
type Termination string

const (
	TermTerminal          Termination = "terminal"
	TermEvaluationError   Termination = "evaluation_error"
	TermMalformedResponse Termination = "malformed_response"
	TermMissingBranch     Termination = "missing_branch"
	TermMaxSteps          Termination = "max_steps_exceeded"
	TermInvalidInput      Termination = "invalid_input"
	TermNoStart           Termination = "no_start"
	TermCanceled          Termination = "canceled"
)

// Result is what one execution walk produced. It reports what happened and
// never judges whether the outcome was the expected one.
type Result struct {
	RunID         string              `json:"runId"`
	FinalOutcome  flow.Outcome        `json:"finalOutcome"`
	TerminalNode  string              `json:"terminalNode,omitempty"`
	ExecutionPath []string            `json:"executionPath"`
	NodeResponses []flow.NodeResponse `json:"nodeResponses"`
	Errors        []string            `json:"errors"`
	Terminated    Termination         `json:"terminated"`
	Steps         []TraceStep         `json:"steps"`
}

type TraceStep struct {
	NodeID         string     `json:"nodeId"`
	NodeType       flow.Kind  `json:"nodeType"`
	PolicyID       string     `json:"policyId,omitempty"`
	DurationMicros int64      `json:"durationMicros"`
	Label          flow.Label `json:"label,omitempty"`
	ChosenNext     string     `json:"chosenNext,omitempty"`
	Error          string     `json:"error,omitempty"`
}

// Completed reports whether the walk reached a terminal node.
func (r Result) Completed() bool { return r.Terminated == TermTerminal && r.FinalOutcome.IsSet() }

// TestResult converts the run into the record stored on a flow test.
func (r Result) TestResult() *flow.TestResult {
	return &flow.TestResult{
		Outcome:       r.FinalOutcome,
		ExecutionPath: append([]string{}, r.ExecutionPath...),
		NodeResponses: append([]flow.NodeResponse(nil), r.NodeResponses...),
	}
}
