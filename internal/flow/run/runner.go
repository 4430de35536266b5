// Package run walks a flow graph from its start node, asking an Evaluator
// to decide each policy node, and reports the path taken and the outcome.
package run

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/awmpietro/policy-flow/internal/flow"
	"github.com/awmpietro/policy-flow/internal/logging"
)

const tracerName = "github.com/awmpietro/policy-flow/internal/flow/run"

type Runner struct {
	eval            Evaluator
	latencyObserver NodeLatencyObserver
	runObserver     RunObserver
	maxSteps        int
	tracer          trace.Tracer
	logger          *slog.Logger
	newRunID        func() string
}

type Option func(*Runner)

func WithNodeLatencyObserver(observer NodeLatencyObserver) Option {
	return func(r *Runner) {
		r.latencyObserver = observer
	}
}

func WithRunObserver(observer RunObserver) Option {
	return func(r *Runner) {
		r.runObserver = observer
	}
}

// WithMaxSteps lowers the walk bound below the node count. Zero or negative
// keeps the default.
func WithMaxSteps(n int) Option {
	return func(r *Runner) {
		r.maxSteps = n
	}
}

func WithTracer(tracer trace.Tracer) Option {
	return func(r *Runner) {
		r.tracer = tracer
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(r *Runner) {
		r.logger = logger
	}
}

func WithRunIDs(next func() string) Option {
	return func(r *Runner) {
		r.newRunID = next
	}
}

func NewRunner(eval Evaluator, opts ...Option) *Runner {
	r := &Runner{
		eval:     eval,
		tracer:   otel.Tracer(tracerName),
		logger:   logging.NewNop(),
		newRunID: uuid.NewString,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run walks g once. The payload seeds the first evaluation; when empty, the
// start node's own input is used. Failures are reported in the result and
// never returned as errors.
func (r *Runner) Run(ctx context.Context, g *flow.Graph, input flow.Payload) Result {
	began := time.Now()
	res := Result{
		RunID:         r.newRunID(),
		ExecutionPath: []string{},
		NodeResponses: []flow.NodeResponse{},
		Errors:        []string{},
		Steps:         []TraceStep{},
	}

	ctx, span := r.tracer.Start(ctx, "policyflow.run",
		trace.WithAttributes(
			attribute.String("run.id", res.RunID),
			attribute.Int("flow.nodes", g.Len()),
		),
	)

	r.walk(ctx, g, input, &res)

	span.SetAttributes(
		attribute.String("run.terminated", string(res.Terminated)),
		attribute.Int("run.path_length", len(res.ExecutionPath)),
	)
	if len(res.Errors) > 0 {
		span.SetStatus(codes.Error, res.Errors[0])
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()

	if r.runObserver != nil {
		r.runObserver.ObserveRun(res, time.Since(began))
	}
	if len(res.Errors) > 0 {
		r.logger.Warn("flow run halted", "run_id", res.RunID, "terminated", res.Terminated, "error", res.Errors[0])
	} else {
		r.logger.Debug("flow run completed", "run_id", res.RunID, "terminal", res.TerminalNode, "outcome", res.FinalOutcome.String())
	}
	return res
}

// RunAll runs each test in order, one at a time. A failing test never stops
// the batch; the i-th result always belongs to the i-th test.
func (r *Runner) RunAll(ctx context.Context, g *flow.Graph, tests []flow.Test) []Result {
	out := make([]Result, 0, len(tests))
	for _, t := range tests {
		out = append(out, r.Run(ctx, g, t.Input))
	}
	return out
}

func (r *Runner) walk(ctx context.Context, g *flow.Graph, input flow.Payload, res *Result) {
	start, ok := g.Start()
	if !ok {
		halt(res, TermNoStart, "flow must have exactly one start node, found %d", len(g.Starts()))
		return
	}

	if input.IsEmpty() {
		input = start.Data.(flow.StartData).Input
	}
	data, err := input.Object()
	if err != nil {
		halt(res, TermInvalidInput, "invalid input: %v", err)
		return
	}

	bound := g.Len()
	if r.maxSteps > 0 && r.maxSteps < bound {
		bound = r.maxSteps
	}

	current := start.ID
	for range bound {
		nodeStart := time.Now()
		node, ok := g.Node(current)
		if !ok {
			halt(res, TermMissingBranch, "unknown node %q", current)
			return
		}

		switch node.Data.(type) {
		case flow.ReturnData, flow.CustomData:
			outcome, _ := node.Outcome()
			res.FinalOutcome = outcome
			res.TerminalNode = node.ID
			res.Terminated = TermTerminal
			res.Steps = append(res.Steps, TraceStep{NodeID: node.ID, NodeType: node.Kind()})
			r.observeNodeLatency(node, time.Since(nodeStart))
			return

		case flow.StartData, flow.PolicyData:
			next, ok := r.decide(ctx, g, node, &data, res)
			step := &res.Steps[len(res.Steps)-1]
			step.DurationMicros = time.Since(nodeStart).Microseconds()
			r.observeNodeLatency(node, time.Since(nodeStart))
			if !ok {
				return
			}
			current = next

		default:
			panic(fmt.Sprintf("run: node %q has unsupported data %T", node.ID, node.Data))
		}
	}

	halt(res, TermMaxSteps, "walk exceeded %d steps without reaching a return or custom node: the flow contains a cycle", bound)
}

// decide evaluates one decision node and picks the branch to follow. It
// always appends exactly one trace step.
func (r *Runner) decide(ctx context.Context, g *flow.Graph, node flow.Node, data *map[string]any, res *Result) (string, bool) {
	ref, _ := node.Policy()
	step := TraceStep{NodeID: node.ID, NodeType: node.Kind(), PolicyID: ref.ID}

	fail := func(term Termination, format string, args ...any) (string, bool) {
		msg := fmt.Sprintf(format, args...)
		step.Error = msg
		res.Steps = append(res.Steps, step)
		halt(res, term, "%s", msg)
		return "", false
	}

	if err := ctx.Err(); err != nil {
		return fail(TermCanceled, "node %q: %v", node.ID, err)
	}

	resp, err := r.evaluate(ctx, node, ref.ID, *data)
	if err != nil {
		res.NodeResponses = append(res.NodeResponses, flow.NodeResponse{
			NodeID: node.ID, NodeType: node.Kind(), Response: flow.Response{Error: err.Error()},
		})
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return fail(TermCanceled, "node %q: evaluation failed: %v", node.ID, err)
		}
		return fail(TermEvaluationError, "node %q: evaluation failed: %v", node.ID, err)
	}

	res.NodeResponses = append(res.NodeResponses, flow.NodeResponse{NodeID: node.ID, NodeType: node.Kind(), Response: *resp})

	if resp.Error != "" {
		return fail(TermEvaluationError, "node %q: evaluation error: %s", node.ID, resp.Error)
	}
	decision, ok := resp.Decision()
	if !ok {
		return fail(TermMalformedResponse, "node %q: result must be a boolean, got %T", node.ID, resp.Result)
	}

	res.ExecutionPath = append(res.ExecutionPath, node.ID)
	label := flow.LabelFor(decision)
	step.Label = label

	edge, ok := g.Branch(node.ID, label)
	if !ok {
		return fail(TermMissingBranch, "node %q has no %s branch", node.ID, label)
	}
	if resp.Data != nil {
		*data = resp.Data
	}

	step.ChosenNext = edge.Target
	res.Steps = append(res.Steps, step)
	return edge.Target, true
}

// evaluate calls the collaborator inside its own span. A panic in the
// collaborator is treated like any other failed call.
func (r *Runner) evaluate(ctx context.Context, node flow.Node, rule string, data map[string]any) (resp *flow.Response, err error) {
	ctx, span := r.tracer.Start(ctx, "policyflow.evaluate",
		trace.WithAttributes(
			attribute.String("node.id", node.ID),
			attribute.String("node.type", string(node.Kind())),
			attribute.String("policy.id", rule),
		),
	)
	defer func() {
		if p := recover(); p != nil {
			resp, err = nil, fmt.Errorf("evaluator panicked: %v", p)
		}
		if err == nil && resp == nil {
			err = errors.New("evaluator returned no response")
		}
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	return r.eval.Evaluate(ctx, flow.Request{Data: cloneMap(data), Rule: rule})
}

func (r *Runner) observeNodeLatency(node flow.Node, duration time.Duration) {
	if r.latencyObserver == nil {
		return
	}
	r.latencyObserver.ObserveNodeLatency(node.ID, node.Kind(), duration)
}

func halt(res *Result, term Termination, format string, args ...any) {
	res.Terminated = term
	res.FinalOutcome = flow.Outcome{}
	res.Errors = append(res.Errors, fmt.Sprintf(format, args...))
}

func cloneMap(m map[string]any) map[string]any {
	n := make(map[string]any, len(m))
	for k, v := range m {
		n[k] = v
	}
	return n
}
