package httptransport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/awmpietro/policy-flow/internal/app"
	"github.com/awmpietro/policy-flow/internal/flow"
	"github.com/awmpietro/policy-flow/internal/flow/cache"
	"github.com/awmpietro/policy-flow/internal/flow/run"
	"github.com/awmpietro/policy-flow/internal/flow/validate"
	"github.com/awmpietro/policy-flow/internal/metrics"
)

const binaryFlow = `{
  "name": "adult",
  "nodes": [
    {"id": "start", "type": "start", "position": {"x": 0, "y": 0}, "data": {"policyId": "adult", "input": "{\"age\": 30}"}},
    {"id": "yes", "type": "return", "position": {"x": -80, "y": 120}, "data": {"returnValue": true}},
    {"id": "no", "type": "custom", "position": {"x": 80, "y": 120}, "data": {"outcome": "minor"}}
  ],
  "edges": [
    {"id": "e1", "source": "start", "target": "yes", "sourceHandle": "true"},
    {"id": "e2", "source": "start", "target": "no", "sourceHandle": "false"}
  ],
  "tests": [
    {"name": "adult", "input": "{\"age\": 30}", "expectedOutcome": true},
    {"name": "minor", "input": {"age": 12}, "expectedOutcome": "minor"},
    {"name": "wrong", "input": "{\"age\": 12}", "expectedOutcome": true}
  ]
}`

const binaryDOT = `digraph adult { start [policy="adult"]; yes [type=return, value=true]; no [type=custom, outcome="minor"]; start -> yes [label="true"]; start -> no [label="false"]; }`

func ageEvaluator() run.Evaluator {
	return run.EvaluatorFunc(func(_ context.Context, req flow.Request) (*flow.Response, error) {
		age, ok := req.Data["age"].(float64)
		if !ok {
			return nil, errors.New("age is required")
		}
		return &flow.Response{Result: age >= 18}, nil
	})
}

func newServer(t *testing.T) http.Handler {
	t.Helper()
	rec := metrics.NewRecorder()
	runner := run.NewRunner(ageEvaluator(), run.WithRunObserver(rec), run.WithNodeLatencyObserver(rec))
	svc := app.NewService(runner, cache.NewInMemory[*flow.Graph](16))
	return NewRouter(NewHandler(svc, nil), rec.Handler())
}

func post(t *testing.T, h http.Handler, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func decode(t *testing.T, rr *httptest.ResponseRecorder, dst any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), dst), rr.Body.String())
}

func TestRouter_Validate_Document(t *testing.T) {
	h := newServer(t)

	rr := post(t, h, "/flows/validate", `{"flow":`+binaryFlow+`}`)

	require.Equal(t, http.StatusOK, rr.Code)
	var report validate.Report
	decode(t, rr, &report)
	assert.True(t, report.IsValid, report.Errors)
	assert.Empty(t, report.Errors)
}

func TestRouter_Validate_ReportsIssues(t *testing.T) {
	h := newServer(t)
	body := `{"flow":{"nodes":[{"id":"s","type":"start","data":{"policyId":""}},{"id":"t","type":"return","data":{"returnValue":true}}],"edges":[{"source":"s","target":"t","label":"true"}]}}`

	rr := post(t, h, "/flows/validate", body)

	require.Equal(t, http.StatusOK, rr.Code)
	var report validate.Report
	decode(t, rr, &report)
	assert.False(t, report.IsValid)
	assert.Contains(t, report.UnterminatedNodes, "s")
	assert.True(t, report.Has(validate.IssueMissingPolicyID, "s"))
	assert.True(t, report.Has(validate.IssueMissingBranch, "s"))
}

func TestRouter_Validate_DOT(t *testing.T) {
	h := newServer(t)
	body, _ := json.Marshal(map[string]string{"flow_dot": binaryDOT})

	rr := post(t, h, "/flows/validate", string(body))

	require.Equal(t, http.StatusOK, rr.Code)
	var report validate.Report
	decode(t, rr, &report)
	assert.True(t, report.IsValid, report.Errors)
}

func TestRouter_BadRequests(t *testing.T) {
	h := newServer(t)

	cases := map[string]string{
		"invalid json":    `{`,
		"no flow":         `{}`,
		"both flows":      `{"flow":` + binaryFlow + `,"flow_dot":"digraph{}"}`,
		"unknown type":    `{"flow":{"nodes":[{"id":"x","type":"loop"}],"edges":[]}}`,
		"broken DOT":      `{"flow_dot":"digraph {"}`,
		"dangling in DOT": `{"flow_dot":"digraph { start -> ghost }"}`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			rr := post(t, h, "/flows/validate", body)
			assert.Equal(t, http.StatusBadRequest, rr.Code)

			var out map[string]any
			decode(t, rr, &out)
			assert.NotEmpty(t, out["error"])
		})
	}
}

func TestRouter_Run_UsesStartInputWithoutTest(t *testing.T) {
	h := newServer(t)

	rr := post(t, h, "/flows/run", `{"flow":`+binaryFlow+`}`)

	require.Equal(t, http.StatusOK, rr.Code)
	var out struct {
		Report struct {
			Result struct {
				ExecutionPath []string `json:"executionPath"`
				FinalOutcome  any      `json:"finalOutcome"`
				Errors        []string `json:"errors"`
			} `json:"result"`
			Passed  bool `json:"passed"`
			Created bool `json:"created"`
		} `json:"report"`
		Test struct {
			Created bool `json:"created"`
		} `json:"test"`
	}
	decode(t, rr, &out)
	assert.Equal(t, []string{"start"}, out.Report.Result.ExecutionPath)
	assert.Equal(t, true, out.Report.Result.FinalOutcome)
	assert.Empty(t, out.Report.Result.Errors)
	assert.False(t, out.Report.Passed)
	assert.True(t, out.Report.Created)
	assert.True(t, out.Test.Created)
}

func TestRouter_Run_FailedWalkIsStill200(t *testing.T) {
	h := newServer(t)

	rr := post(t, h, "/flows/run", `{"flow":`+binaryFlow+`,"test":{"name":"no age","input":"{}","expectedOutcome":true}}`)

	require.Equal(t, http.StatusOK, rr.Code)
	var out struct {
		Report app.TestReport `json:"report"`
	}
	decode(t, rr, &out)
	assert.False(t, out.Report.Passed)
	assert.Empty(t, out.Report.Result.ExecutionPath)
	assert.False(t, out.Report.Result.FinalOutcome.IsSet())
	require.NotEmpty(t, out.Report.Result.Errors)
	assert.Contains(t, out.Report.Result.Errors[0], "age is required")
}

func TestRouter_Run_InvalidFlowIs422(t *testing.T) {
	h := newServer(t)
	body := `{"flow":{"nodes":[{"id":"s","type":"start","data":{"policyId":"p"}}],"edges":[]}}`

	rr := post(t, h, "/flows/run", body)

	require.Equal(t, http.StatusUnprocessableEntity, rr.Code)
	var out struct {
		Error  string   `json:"error"`
		Issues []string `json:"issues"`
	}
	decode(t, rr, &out)
	assert.Equal(t, "flow is invalid", out.Error)
	assert.NotEmpty(t, out.Issues)
}

func TestRouter_RunAll_StoredTests(t *testing.T) {
	h := newServer(t)

	rr := post(t, h, "/flows/tests/run", `{"flow":`+binaryFlow+`}`)

	require.Equal(t, http.StatusOK, rr.Code)
	var out struct {
		Reports []app.TestReport `json:"reports"`
		Passed  int              `json:"passed"`
		Failed  int              `json:"failed"`
	}
	decode(t, rr, &out)
	require.Len(t, out.Reports, 3)
	assert.Equal(t, []string{"adult", "minor", "wrong"}, []string{out.Reports[0].Name, out.Reports[1].Name, out.Reports[2].Name})
	assert.True(t, out.Reports[0].Passed)
	assert.True(t, out.Reports[1].Passed)
	assert.False(t, out.Reports[2].Passed)
	assert.Equal(t, 2, out.Passed)
	assert.Equal(t, 1, out.Failed)

	mrr := httptest.NewRecorder()
	h.ServeHTTP(mrr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, mrr.Code)
	assert.Contains(t, mrr.Body.String(), `policyflow_runs_total{terminated="terminal"} 3`)
}

func TestRouter_RunAll_NoTests(t *testing.T) {
	h := newServer(t)
	body, _ := json.Marshal(map[string]string{"flow_dot": binaryDOT})

	rr := post(t, h, "/flows/tests/run", string(body))

	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestRouter_DOT_WithOverlay(t *testing.T) {
	h := newServer(t)

	rr := post(t, h, "/flows/dot", `{"flow":`+binaryFlow+`,"overlay":{"executionPath":["start"],"terminalNode":"yes"}}`)

	require.Equal(t, http.StatusOK, rr.Code)
	var out struct {
		DOT string `json:"dot"`
	}
	decode(t, rr, &out)
	assert.True(t, strings.HasPrefix(strings.TrimSpace(out.DOT), "digraph"))
	assert.Contains(t, out.DOT, `"adult"`)
	assert.Contains(t, out.DOT, "fillcolor")
	assert.Contains(t, out.DOT, "penwidth")
}

func TestRouter_Healthz(t *testing.T) {
	h := newServer(t)

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestRouter_MethodNotAllowed(t *testing.T) {
	h := newServer(t)

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/flows/validate", nil))

	assert.Equal(t, http.StatusMethodNotAllowed, rr.Code)
}

type failingService struct {
	app.FlowService
}

func (failingService) ParseDOT(dot string) (*flow.Graph, error) { return flow.ParseDOT(dot) }

func (failingService) RunTest(context.Context, *flow.Graph, flow.Test) (app.TestReport, error) {
	return app.TestReport{}, errors.New("runner returned 0 results for 1 tests")
}

func TestRouter_Run_UnexpectedErrorIs500(t *testing.T) {
	h := NewRouter(NewHandler(failingService{}, nil), nil)
	body, _ := json.Marshal(map[string]string{"flow_dot": binaryDOT})

	rr := post(t, h, "/flows/run", string(body))

	assert.Equal(t, http.StatusInternalServerError, rr.Code)
}

type editResponse struct {
	Flow   flow.Document   `json:"flow"`
	Report validate.Report `json:"report"`
	NodeID string          `json:"nodeId"`
}

func TestRouter_Edit(t *testing.T) {
	h := newServer(t)

	rr := post(t, h, "/flows/edit", `{"flow":`+binaryFlow+`,"commands":[
		{"op":"setField","id":"no","field":"outcome","value":"young"},
		{"op":"changeNodeType","id":"yes","kind":"custom"}
	]}`)

	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	var out editResponse
	decode(t, rr, &out)
	assert.Equal(t, "yes", out.NodeID)
	assert.Equal(t, "adult", out.Flow.Name)
	assert.Len(t, out.Flow.Tests, 3)
	assert.True(t, out.Report.IsValid, out.Report.Errors)

	g := out.Flow.Graph()
	no, ok := g.Node("no")
	require.True(t, ok)
	assert.Equal(t, flow.CustomData{Outcome: "young"}, no.Data)
	yes, ok := g.Node("yes")
	require.True(t, ok)
	assert.Equal(t, flow.KindCustom, yes.Kind())
}

func TestRouter_Edit_Rejections(t *testing.T) {
	h := newServer(t)

	rr := post(t, h, "/flows/edit", `{"flow":`+binaryFlow+`,"commands":[{"op":"deleteNode","id":"start"}]}`)
	assert.Equal(t, http.StatusUnprocessableEntity, rr.Code)
	var body map[string]any
	decode(t, rr, &body)
	assert.Equal(t, "edit rejected", body["error"])

	rr = post(t, h, "/flows/edit", `{"commands":[{"op":"rename","id":"start"}]}`)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Contains(t, rr.Body.String(), "unknown edit op")
}

func TestRouter_Edit_NewFlowStartsFromStartNode(t *testing.T) {
	h := newServer(t)

	rr := post(t, h, "/flows/edit", `{"commands":[]}`)

	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	var out editResponse
	decode(t, rr, &out)
	require.Len(t, out.Flow.Nodes, 1)
	assert.Equal(t, flow.KindStart, out.Flow.Nodes[0].Kind())
	assert.False(t, out.Report.IsValid)
}
