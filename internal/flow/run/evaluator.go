package run

import (
	"context"

	"github.com/awmpietro/policy-flow/internal/flow"
)

// Evaluator is the rule-evaluation collaborator: it decides one policy
// against a data payload.
type Evaluator interface {
	Evaluate(ctx context.Context, req flow.Request) (*flow.Response, error)
}

type EvaluatorFunc func(ctx context.Context, req flow.Request) (*flow.Response, error)

func (f EvaluatorFunc) Evaluate(ctx context.Context, req flow.Request) (*flow.Response, error) {
	return f(ctx, req)
}
