package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/awmpietro/policy-flow/internal/flow"
	"github.com/awmpietro/policy-flow/internal/flow/editor"
	"github.com/awmpietro/policy-flow/internal/flow/run"
	"github.com/awmpietro/policy-flow/internal/flow/validate"
	"github.com/awmpietro/policy-flow/internal/logging"
)

type Runner interface {
	Run(ctx context.Context, g *flow.Graph, input flow.Payload) run.Result
	RunAll(ctx context.Context, g *flow.Graph, tests []flow.Test) []run.Result
}

type Cache interface {
	GetOrCompute(source string, fn func() (*flow.Graph, error)) (*flow.Graph, error)
}

// InvalidFlowError is returned when a run is asked for on a flow that does
// not pass validation. Nothing was evaluated.
type InvalidFlowError struct {
	Report validate.Report
}

func (e *InvalidFlowError) Error() string {
	return "flow is invalid: " + strings.Join(e.Report.Errors, "; ")
}

// TestReport pairs a run with the verdict against the test's expectation.
type TestReport struct {
	Name     string       `json:"name"`
	Expected flow.Outcome `json:"expectedOutcome"`
	Result   run.Result   `json:"result"`
	Passed   bool         `json:"passed"`
	Created  bool         `json:"created"`
}

// Test returns the stored test updated with this run.
func (r TestReport) Test(input flow.Payload) flow.Test {
	return flow.Test{
		Name:            r.Name,
		Input:           input,
		ExpectedOutcome: r.Expected,
		Created:         r.Created,
		Result:          r.Result.TestResult(),
	}
}

type Service struct {
	runner     Runner
	cache      Cache
	logger     *slog.Logger
	editorOpts []editor.Option
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

// WithNodeIDs sets how editor commands name the nodes they create.
func WithNodeIDs(next func() string) Option {
	return func(s *Service) {
		s.editorOpts = append(s.editorOpts, editor.WithIDs(next))
	}
}

func NewService(runner Runner, cache Cache, opts ...Option) *Service {
	s := &Service{runner: runner, cache: cache, logger: logging.NewNop()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) Validate(g *flow.Graph) validate.Report {
	return validate.Validate(g)
}

// RunTest walks g once for test. The flow must validate first; walk
// failures are reported inside the result, never as an error.
func (s *Service) RunTest(ctx context.Context, g *flow.Graph, test flow.Test) (TestReport, error) {
	if report := validate.Validate(g); !report.IsValid {
		return TestReport{}, &InvalidFlowError{Report: report}
	}
	res := s.runner.Run(ctx, g, test.Input)
	return s.verdict(test, res), nil
}

// RunAllTests runs every test in order. One failing walk never stops the
// others.
func (s *Service) RunAllTests(ctx context.Context, g *flow.Graph, tests []flow.Test) ([]TestReport, error) {
	if report := validate.Validate(g); !report.IsValid {
		return nil, &InvalidFlowError{Report: report}
	}
	results := s.runner.RunAll(ctx, g, tests)
	if len(results) != len(tests) {
		return nil, fmt.Errorf("runner returned %d results for %d tests", len(results), len(tests))
	}

	out := make([]TestReport, 0, len(tests))
	for i, t := range tests {
		out = append(out, s.verdict(t, results[i]))
	}
	return out, nil
}

// ParseDOT compiles a DOT flow, reusing earlier parses of the same text.
func (s *Service) ParseDOT(dot string) (*flow.Graph, error) {
	if strings.TrimSpace(dot) == "" {
		return nil, fmt.Errorf("flow_dot is required")
	}
	return s.cache.GetOrCompute(dot, func() (*flow.Graph, error) {
		return flow.ParseDOT(dot)
	})
}

func (s *Service) verdict(t flow.Test, res run.Result) TestReport {
	passed := res.Completed() && res.FinalOutcome.Equal(t.ExpectedOutcome)
	s.logger.Info("flow test finished",
		"test", t.Name,
		"run_id", res.RunID,
		"terminated", res.Terminated,
		"outcome", res.FinalOutcome.String(),
		"expected", t.ExpectedOutcome.String(),
		"passed", passed,
	)
	return TestReport{
		Name:     t.Name,
		Expected: t.ExpectedOutcome,
		Result:   res,
		Passed:   passed,
		Created:  true,
	}
}
