package flow

// Request is what the rule-evaluation service receives for one decision node.
type Request struct {
	Data map[string]any `json:"data"`
	Rule string         `json:"rule"`
}

// Response is the raw answer of the rule-evaluation service. Result is kept
// untyped so a non-boolean answer can be told apart from false.
type Response struct {
	Result any            `json:"result"`
	Error  string         `json:"error,omitempty"`
	Trace  any            `json:"trace,omitempty"`
	Rule   []string       `json:"rule,omitempty"`
	Data   map[string]any `json:"data,omitempty"`
}

// Decision returns the boolean result when the response carries one.
func (r Response) Decision() (bool, bool) {
	b, ok := r.Result.(bool)
	return b, ok
}

type NodeResponse struct {
	NodeID   string   `json:"nodeId"`
	NodeType Kind     `json:"nodeType"`
	Response Response `json:"response"`
}

// Test is a stored test case of a flow.
type Test struct {
	Name            string      `json:"name"`
	Input           Payload     `json:"input"`
	ExpectedOutcome Outcome     `json:"expectedOutcome"`
	Created         bool        `json:"created,omitempty"`
	Result          *TestResult `json:"result,omitempty"`
}

type TestResult struct {
	Outcome       Outcome        `json:"outcome"`
	ExecutionPath []string       `json:"executionPath"`
	NodeResponses []NodeResponse `json:"nodeResponses,omitempty"`
}
