package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/awmpietro/policy-flow/internal/app"
	"github.com/awmpietro/policy-flow/internal/config"
	"github.com/awmpietro/policy-flow/internal/flow"
	"github.com/awmpietro/policy-flow/internal/logging"
	"github.com/awmpietro/policy-flow/internal/transport/flowdto"
)

type rootOptions struct {
	evaluator    string
	evaluatorURL string
	rules        string
	redis        string
	maxSteps     int
	logLevel     string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:           "flowctl",
		Short:         "Validate, run and draw policy flows",
		Long:          `flowctl checks policy flows for structural problems, runs their tests against a rule evaluator and renders them as Graphviz DOT.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := cmd.PersistentFlags()
	flags.StringVar(&opts.evaluator, "evaluator", "", "evaluator mode: local or remote (default from EVALUATOR_MODE)")
	flags.StringVar(&opts.evaluatorURL, "evaluator-url", "", "base URL of the evaluation service (default from EVALUATOR_URL)")
	flags.StringVar(&opts.rules, "rules", "", "YAML rule registry for the local evaluator (default from POLICY_RULES_FILE)")
	flags.StringVar(&opts.redis, "redis", "", "Redis address for the evaluation cache (default from REDIS_ADDR)")
	flags.IntVar(&opts.maxSteps, "max-steps", 0, "lower the walk bound below the node count")
	flags.StringVar(&opts.logLevel, "log-level", "", "debug, info, warn or error (default from LOG_LEVEL)")

	cmd.AddCommand(newValidateCmd(), newRunCmd(opts), newDOTCmd(opts), newEditCmd(), newLoadTestCmd())
	return cmd
}

// runtime merges explicit flags over the environment.
func (o *rootOptions) runtime() config.Runtime {
	cfg := config.Load()
	if o.evaluator != "" {
		cfg.EvaluatorMode = config.EvaluatorMode(strings.ToLower(o.evaluator))
	}
	if o.evaluatorURL != "" {
		cfg.EvaluatorURL = o.evaluatorURL
	}
	if o.rules != "" {
		cfg.PolicyRulesFile = o.rules
	}
	if o.redis != "" {
		cfg.RedisAddr = o.redis
	}
	if o.maxSteps > 0 {
		cfg.FlowMaxSteps = o.maxSteps
	}
	if o.logLevel != "" {
		cfg.LogLevel = o.logLevel
	}
	return cfg
}

func (o *rootOptions) stack(errOut io.Writer) (*app.Stack, error) {
	cfg := o.runtime()
	return app.NewStack(cfg, logging.NewWithWriter(errOut, logging.ParseLevel(cfg.LogLevel)))
}

func isDOT(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".dot", ".gv":
		return true
	}
	return false
}

// loadFlow reads a .dot/.gv file as DOT and anything else as a JSON or
// YAML document.
func loadFlow(path string) (*flow.Graph, *flow.Document, error) {
	if isDOT(path) {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, nil, fmt.Errorf("read flow: %w", err)
		}
		g, err := flow.ParseDOT(string(raw))
		if err != nil {
			return nil, nil, err
		}
		return g, &flow.Document{Name: strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))}, nil
	}

	doc, err := flow.LoadDocument(path)
	if err != nil {
		return nil, nil, err
	}
	return doc.Graph(), doc, nil
}

// flowRequest wraps a flow file the way the server expects it, together with
// the tests stored in it.
func flowRequest(path string) (flowdto.FlowRequest, []flow.Test, error) {
	if isDOT(path) {
		raw, err := os.ReadFile(path)
		if err != nil {
			return flowdto.FlowRequest{}, nil, fmt.Errorf("read flow: %w", err)
		}
		if _, err := flow.ParseDOT(string(raw)); err != nil {
			return flowdto.FlowRequest{}, nil, err
		}
		return flowdto.FlowRequest{FlowDOT: string(raw)}, nil, nil
	}

	doc, err := flow.LoadDocument(path)
	if err != nil {
		return flowdto.FlowRequest{}, nil, err
	}
	return flowdto.FlowRequest{Flow: doc}, doc.Tests, nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
