package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/awmpietro/policy-flow/internal/app"
	"github.com/awmpietro/policy-flow/internal/transport/flowdto"
)

func newEditCmd() *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "edit <flow-file> <commands-file>",
		Short: "Apply editor commands to a flow",
		Long: `Applies a JSON array of editor commands (addBranch, deleteNode, changeNodeType, setField) to the flow in order and prints the edited flow with its validation report.
Use - as the commands file to read them from stdin. The first rejected command aborts the edit.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			g, doc, err := loadFlow(args[0])
			if err != nil {
				return err
			}
			doc.Nodes, doc.Edges = g.Nodes(), g.Edges()

			req, err := readCommands(cmd.InOrStdin(), args[1])
			if err != nil {
				return err
			}
			cmds, err := req.EditorCommands()
			if err != nil {
				return err
			}

			res, err := app.Edit(doc, cmds)
			if err != nil {
				return fmt.Errorf("edit rejected: %w", err)
			}
			if out != "" {
				f, err := os.Create(out)
				if err != nil {
					return fmt.Errorf("write flow: %w", err)
				}
				defer f.Close()
				if err := printJSON(f, res.Flow); err != nil {
					return err
				}
			}
			return printJSON(cmd.OutOrStdout(), res)
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "", "also write the edited flow document to this file")
	return cmd
}

func readCommands(stdin io.Reader, path string) (flowdto.EditRequest, error) {
	var (
		raw []byte
		err error
	)
	if path == "-" {
		raw, err = io.ReadAll(stdin)
	} else {
		raw, err = os.ReadFile(path)
	}
	if err != nil {
		return flowdto.EditRequest{}, fmt.Errorf("read commands: %w", err)
	}

	var req flowdto.EditRequest
	if err := json.Unmarshal(raw, &req.Commands); err != nil {
		return flowdto.EditRequest{}, fmt.Errorf("decode commands: %w", err)
	}
	return req, nil
}
