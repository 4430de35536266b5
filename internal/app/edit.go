package app

import (
	"github.com/awmpietro/policy-flow/internal/flow"
	"github.com/awmpietro/policy-flow/internal/flow/editor"
	"github.com/awmpietro/policy-flow/internal/flow/validate"
)

// EditResult is a flow document after a batch of editor commands, with the
// validation of the final state.
type EditResult struct {
	Flow   *flow.Document  `json:"flow"`
	Report validate.Report `json:"report"`
	// NodeID is the node created or touched by the last command.
	NodeID string `json:"nodeId,omitempty"`
}

// Edit applies cmds in order to a copy of doc. A nil or empty document starts
// a new flow from a lone start node. Metadata and stored tests are carried
// over unchanged. The first rejected command aborts the batch.
func Edit(doc *flow.Document, cmds []editor.Command, opts ...editor.Option) (EditResult, error) {
	var (
		g   *flow.Graph
		out flow.Document
	)
	if doc != nil {
		out = *doc
		if len(doc.Nodes) > 0 {
			g = doc.Graph()
		}
	}

	ch, err := editor.New(g, opts...).Dispatch(cmds...)
	if err != nil {
		return EditResult{}, err
	}

	out.Nodes = ch.Graph.Nodes()
	out.Edges = ch.Graph.Edges()
	return EditResult{Flow: &out, Report: ch.Report, NodeID: ch.NodeID}, nil
}

func (s *Service) Edit(doc *flow.Document, cmds []editor.Command) (EditResult, error) {
	res, err := Edit(doc, cmds, s.editorOpts...)
	if err != nil {
		s.logger.Info("flow edit rejected", "commands", len(cmds), "err", err)
		return EditResult{}, err
	}
	return res, nil
}
