package flow

import "errors"

var (
	ErrUnknownKind = errors.New("flow: unknown node type")
	ErrBadOutcome  = errors.New("flow: outcome must be a boolean or a string")
	ErrBadPayload  = errors.New("flow: payload must be a JSON object")
)
