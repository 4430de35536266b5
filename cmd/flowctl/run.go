package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/awmpietro/policy-flow/internal/app"
	"github.com/awmpietro/policy-flow/internal/flow"
	"github.com/awmpietro/policy-flow/internal/transport/flowdto"
)

type runOptions struct {
	input  string
	expect string
	name   string
	all    bool
}

func newRunCmd(root *rootOptions) *cobra.Command {
	opts := &runOptions{}
	cmd := &cobra.Command{
		Use:   "run <flow-file>",
		Short: "Run one test, or every stored test with --all",
		Long: `Walks the flow from its start node, asking the evaluator to decide each policy node.

--expect takes text: true or false (any case) mean booleans, anything else is a custom outcome.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			g, doc, err := loadFlow(args[0])
			if err != nil {
				return err
			}

			stack, err := root.stack(cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer stack.Close()

			if opts.all {
				if len(doc.Tests) == 0 {
					return fmt.Errorf("%s has no stored tests", args[0])
				}
				reports, err := stack.Service.RunAllTests(cmd.Context(), g, doc.Tests)
				if err != nil {
					return err
				}
				summary := flowdto.NewRunAllResponse(reports)
				if err := printJSON(cmd.OutOrStdout(), summary); err != nil {
					return err
				}
				if summary.Failed > 0 {
					return fmt.Errorf("%d of %d test(s) failed", summary.Failed, len(reports))
				}
				return nil
			}

			test, err := opts.test(doc)
			if err != nil {
				return err
			}
			report, err := stack.Service.RunTest(cmd.Context(), g, test)
			if err != nil {
				return err
			}
			if err := printJSON(cmd.OutOrStdout(), report); err != nil {
				return err
			}
			if test.ExpectedOutcome.IsSet() && !report.Passed {
				return failure(report)
			}
			if len(report.Result.Errors) > 0 {
				return fmt.Errorf("run halted: %s", report.Result.Errors[0])
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&opts.input, "input", "", "JSON object seeding the run (default: the start node's input)")
	cmd.Flags().StringVar(&opts.expect, "expect", "", "expected outcome")
	cmd.Flags().StringVar(&opts.name, "test", "", "run the stored test with this name")
	cmd.Flags().BoolVar(&opts.all, "all", false, "run every stored test")
	return cmd
}

// test builds the test to run: a stored one picked by name, then overridden
// by explicit flags.
func (o *runOptions) test(doc *flow.Document) (flow.Test, error) {
	t := flow.Test{Name: "cli"}
	if o.name != "" {
		found := false
		for _, stored := range doc.Tests {
			if stored.Name == o.name {
				t, found = stored, true
				break
			}
		}
		if !found {
			return flow.Test{}, fmt.Errorf("no stored test named %q", o.name)
		}
	}
	if o.input != "" {
		t.Input = flow.Payload(o.input)
	}
	if o.expect != "" {
		t.ExpectedOutcome = flow.ParseOutcome(o.expect)
	}
	return t, nil
}

func failure(r app.TestReport) error {
	return fmt.Errorf("test %q failed: expected %s, got %s", r.Name, r.Expected, r.Result.FinalOutcome)
}
