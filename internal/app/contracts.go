package app

import (
	"context"

	"github.com/awmpietro/policy-flow/internal/flow"
	"github.com/awmpietro/policy-flow/internal/flow/editor"
	"github.com/awmpietro/policy-flow/internal/flow/validate"
)

// FlowService is what the transports need from the application layer.
type FlowService interface {
	Validate(g *flow.Graph) validate.Report
	RunTest(ctx context.Context, g *flow.Graph, test flow.Test) (TestReport, error)
	RunAllTests(ctx context.Context, g *flow.Graph, tests []flow.Test) ([]TestReport, error)
	ParseDOT(dot string) (*flow.Graph, error)
	Edit(doc *flow.Document, cmds []editor.Command) (EditResult, error)
}
