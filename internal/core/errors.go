package core

import "errors"

// Store error kinds. Callers match them with errors.Is; repositories wrap
// them with the record involved.
var (
	ErrNotFound       = errors.New("not found")
	ErrDuplicateKey   = errors.New("duplicate key")
	ErrProtected      = errors.New("protected record")
	ErrInvalidFormat  = errors.New("invalid snapshot format")
	ErrStorageFailure = errors.New("storage failure")
	ErrValidation     = errors.New("validation failed")
)

var (
	ErrInvalidAmount    = errors.New("invalid amount")
	ErrEmptyDescription = errors.New("empty description")
	ErrEmptyName        = errors.New("empty name")
	ErrEmptyID          = errors.New("empty id")
	ErrEmptyParent      = errors.New("empty parent group id")
)
