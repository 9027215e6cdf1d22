package adapter

import "errors"

var (
	ErrTimeout           = errors.New("adapter: timeout waiting for response")
	ErrBadSender         = errors.New("adapter: frame from unrecognized sender")
	ErrRejected          = errors.New("adapter: request rejected")
	ErrBadState          = errors.New("adapter: frame invalid for current state")
	ErrSchemaMismatch    = errors.New("adapter: schema mismatch")
	ErrOrderingViolation = errors.New("adapter: data frame older than last accepted")
)
