package app

import (
	"fmt"
	"log/slog"

	"github.com/awmpietro/policy-flow/internal/config"
	"github.com/awmpietro/policy-flow/internal/evaluator/local"
	"github.com/awmpietro/policy-flow/internal/evaluator/rediscache"
	"github.com/awmpietro/policy-flow/internal/evaluator/remote"
	"github.com/awmpietro/policy-flow/internal/flow"
	"github.com/awmpietro/policy-flow/internal/flow/cache"
	"github.com/awmpietro/policy-flow/internal/flow/run"
	"github.com/awmpietro/policy-flow/internal/metrics"
)

// Stack is a fully wired service with the pieces the binaries expose.
type Stack struct {
	Service *Service
	Metrics *metrics.Recorder
	closers []func()
}

// Close flushes pending observations.
func (s *Stack) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
}

// NewEvaluator picks the evaluation collaborator described by cfg and puts
// the Redis cache in front of it when configured.
func NewEvaluator(cfg config.Runtime, logger *slog.Logger) (run.Evaluator, error) {
	var eval run.Evaluator
	switch cfg.EvaluatorMode {
	case config.EvaluatorLocal:
		rules := local.Rules{}
		if cfg.PolicyRulesFile != "" {
			loaded, err := local.LoadRules(cfg.PolicyRulesFile)
			if err != nil {
				return nil, err
			}
			rules = loaded
		}
		eval = local.New(rules, cfg.RuleCacheMaxItems)
	case config.EvaluatorRemote:
		if cfg.EvaluatorURL == "" {
			return nil, fmt.Errorf("EVALUATOR_URL is required in remote mode")
		}
		eval = remote.New(cfg.EvaluatorURL, remote.WithTimeout(cfg.EvaluatorTimeout))
	default:
		return nil, fmt.Errorf("unknown evaluator mode %q", cfg.EvaluatorMode)
	}

	if cfg.RedisAddr != "" {
		eval = rediscache.New(cfg.RedisAddr, eval,
			rediscache.WithTTL(cfg.EvalCacheTTL),
			rediscache.WithPrefix(cfg.RedisPrefix),
			rediscache.WithLogger(logger),
		)
	}
	return eval, nil
}

func NewStack(cfg config.Runtime, logger *slog.Logger) (*Stack, error) {
	eval, err := NewEvaluator(cfg, logger)
	if err != nil {
		return nil, err
	}

	rec := metrics.NewRecorder()
	latencyObserver := run.NewAsyncNodeLatencyObserver(
		metrics.NodeLatencyFanout{rec, run.NewNodeLatencyLogger(logger)},
		cfg.ObsBuffer,
	)

	runner := run.NewRunner(eval,
		run.WithNodeLatencyObserver(latencyObserver),
		run.WithRunObserver(rec),
		run.WithMaxSteps(cfg.FlowMaxSteps),
		run.WithLogger(logger),
	)
	svc := NewService(runner, cache.NewInMemory[*flow.Graph](cfg.FlowCacheMaxItems), WithLogger(logger))

	return &Stack{
		Service: svc,
		Metrics: rec,
		closers: []func(){latencyObserver.Close},
	}, nil
}
