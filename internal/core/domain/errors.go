package domain

import (
	"github.com/cockroachdb/errors"
)

var (
	ErrDocumentNotFound = errors.New("document not found")
	ErrWorkflowNotFound = errors.New("workflow not found")
	ErrInvalidInput     = errors.New("invalid input")
	ErrUnauthorized     = errors.New("unauthorized")
	ErrTemporary        = errors.New("temporary failure")
	ErrConflict         = errors.New("conflict")
	ErrSchemaMismatch   = errors.New("extraction does not match schema")
	ErrCycleInProgress  = errors.New("scan cycle already in progress")
)

// WrapError preserves typed semantic errors with operation context.
func WrapError(kind error, operation string, err error) error {
	if err == nil {
		return nil
	}
	return errors.Mark(errors.Wrap(err, operation), kind)
}

func IsKind(err error, kind error) bool {
	return errors.Is(err, kind)
}
