// Package local evaluates policies in process with expression rules. It
// stands in for the external evaluation service in tests, the CLI and
// offline runs.
package local

import (
	"context"

	"github.com/awmpietro/policy-flow/internal/flow"
	"github.com/awmpietro/policy-flow/internal/flow/cache"
	"github.com/awmpietro/policy-flow/internal/flow/eval"
)

type Evaluator struct {
	rules Rules
	cache *cache.InMemory[*eval.Compiled]
}

// New builds an evaluator over rules. Policy ids missing from rules are
// taken as the rule text itself.
func New(rules Rules, cacheMaxItems int) *Evaluator {
	if rules == nil {
		rules = Rules{}
	}
	return &Evaluator{
		rules: rules,
		cache: cache.NewInMemory[*eval.Compiled](cacheMaxItems),
	}
}

// Evaluate answers like the remote service does: rule problems come back in
// the response's error field, not as a Go error.
func (e *Evaluator) Evaluate(ctx context.Context, req flow.Request) (*flow.Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	text, named := e.rules[req.Rule]
	if !named {
		text = req.Rule
	}

	compiled, err := e.cache.GetOrCompute(text, func() (*eval.Compiled, error) {
		return eval.Compile(text)
	})
	if err != nil {
		return &flow.Response{Error: err.Error(), Rule: []string{text}}, nil
	}

	ok, err := compiled.Eval(req.Data)
	if err != nil {
		return &flow.Response{Error: err.Error(), Rule: []string{text}}, nil
	}

	return &flow.Response{
		Result: ok,
		Rule:   []string{text},
		Trace: map[string]any{
			"policyId": req.Rule,
			"named":    named,
			"vars":     compiled.Vars,
		},
	}, nil
}
