package domain

import "github.com/pkg/errors"

var (
	ErrNotFound           = errors.New("transaction not found")
	ErrAlreadyExists      = errors.New("transaction already exists")
	ErrInvalidTransaction = errors.New("invalid transaction")
	ErrVersionConflict    = errors.New("transaction version conflict")
	ErrDecode             = errors.New("malformed event payload")
)
