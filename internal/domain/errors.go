package domain

import "errors"

// Sentinel errors mapped by the transport layer. Validation errors are
// rejected synchronously and never partially stored; storage errors are
// retryable by the caller.
var (
	ErrValidation = errors.New("validation failed")
	ErrNotFound   = errors.New("not found")
)
