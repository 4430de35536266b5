package metrics

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/awmpietro/policy-flow/internal/flow"
	"github.com/awmpietro/policy-flow/internal/flow/run"
)

func TestRecorder_CountsRunsByTermination(t *testing.T) {
	r := NewRecorder()

	r.ObserveRun(run.Result{Terminated: run.TermTerminal, ExecutionPath: []string{"s", "a"}}, 3*time.Millisecond)
	r.ObserveRun(run.Result{Terminated: run.TermTerminal, ExecutionPath: []string{"s"}}, time.Millisecond)
	r.ObserveRun(run.Result{Terminated: run.TermEvaluationError}, time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(r.runs.WithLabelValues("terminal")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.runs.WithLabelValues("evaluation_error")))
	assert.Equal(t, 2, testutil.CollectAndCount(r.runs))
	assert.Equal(t, 1, testutil.CollectAndCount(r.runDuration))
}

func TestRecorder_ObservesNodeLatencyByType(t *testing.T) {
	r := NewRecorder()

	r.ObserveNodeLatency("s", flow.KindStart, time.Millisecond)
	r.ObserveNodeLatency("a", flow.KindPolicy, 2*time.Millisecond)
	r.ObserveNodeLatency("b", flow.KindPolicy, 2*time.Millisecond)

	assert.Equal(t, 2, testutil.CollectAndCount(r.nodeLatency))
}

func TestRecorder_WiredIntoRunner(t *testing.T) {
	r := NewRecorder()
	g := flow.NewGraph(
		[]flow.Node{
			{ID: "s", Data: flow.StartData{Policy: flow.PolicyRef{ID: "p"}}},
			{ID: "y", Data: flow.ReturnData{Value: true}},
			{ID: "n", Data: flow.ReturnData{Value: false}},
		},
		[]flow.Edge{
			{Source: "s", Target: "y", Label: flow.LabelTrue},
			{Source: "s", Target: "n", Label: flow.LabelFalse},
		},
	)
	eval := run.EvaluatorFunc(func(context.Context, flow.Request) (*flow.Response, error) {
		return &flow.Response{Result: true}, nil
	})

	runner := run.NewRunner(eval, run.WithNodeLatencyObserver(r), run.WithRunObserver(r))
	runner.Run(context.Background(), g, `{}`)

	assert.Equal(t, 1.0, testutil.ToFloat64(r.runs.WithLabelValues("terminal")))
}

func TestRecorder_HandlerExposesMetrics(t *testing.T) {
	r := NewRecorder()
	r.ObserveRun(run.Result{Terminated: run.TermMaxSteps}, time.Millisecond)

	rr := httptest.NewRecorder()
	r.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rr.Code)
	body := rr.Body.String()
	assert.True(t, strings.Contains(body, `policyflow_runs_total{terminated="max_steps_exceeded"} 1`), body)
}

type countingObserver struct{ n int }

func (c *countingObserver) ObserveNodeLatency(string, flow.Kind, time.Duration) { c.n++ }

func TestNodeLatencyFanout(t *testing.T) {
	a, b := &countingObserver{}, &countingObserver{}
	f := NodeLatencyFanout{a, nil, b}

	f.ObserveNodeLatency("x", flow.KindPolicy, time.Millisecond)

	assert.Equal(t, 1, a.n)
	assert.Equal(t, 1, b.n)
}
