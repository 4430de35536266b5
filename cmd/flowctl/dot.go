package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/awmpietro/policy-flow/internal/flow"
)

func newDOTCmd(root *rootOptions) *cobra.Command {
	var (
		trace bool
		input string
	)
	cmd := &cobra.Command{
		Use:   "dot <flow-file>",
		Short: "Render a flow as Graphviz DOT",
		Long:  `Prints the flow as a DOT digraph. With --trace the flow is run first and the path it took is highlighted.`,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			g, doc, err := loadFlow(args[0])
			if err != nil {
				return err
			}

			var overlay *flow.Overlay
			if trace {
				stack, err := root.stack(cmd.ErrOrStderr())
				if err != nil {
					return err
				}
				defer stack.Close()

				report, err := stack.Service.RunTest(cmd.Context(), g, flow.Test{Input: flow.Payload(input)})
				if err != nil {
					return err
				}
				overlay = &flow.Overlay{ExecutionPath: report.Result.ExecutionPath, Terminal: report.Result.TerminalNode}
			}

			out, err := flow.ToDOT(doc.Name, g, overlay)
			if err != nil {
				return err
			}
			_, err = fmt.Fprint(cmd.OutOrStdout(), out)
			return err
		},
	}
	cmd.Flags().BoolVar(&trace, "trace", false, "run the flow and highlight the path taken")
	cmd.Flags().StringVar(&input, "input", "", "JSON object seeding the traced run")
	return cmd
}
