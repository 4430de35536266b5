package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/awmpietro/policy-flow/internal/flow/validate"
)

func newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <flow-file>",
		Short: "Check a flow for structural problems",
		Long:  `Reports missing start nodes, missing policy ids and branches, unreachable nodes, cycles and paths that never terminate.`,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			g, _, err := loadFlow(args[0])
			if err != nil {
				return err
			}

			report := validate.Validate(g)
			if err := printJSON(cmd.OutOrStdout(), report); err != nil {
				return err
			}
			if !report.IsValid {
				return fmt.Errorf("flow is invalid: %d problem(s)", len(report.Errors))
			}
			return nil
		},
	}
}
