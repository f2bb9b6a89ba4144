package services

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound           = errors.New("not found")
	ErrConflict           = errors.New("destination already exists")
	ErrInvalidDestination = errors.New("invalid destination")
	ErrPermissionDenied   = errors.New("permission denied")
	ErrInvalidTransition  = errors.New("invalid state transition")
	ErrRequestClosed      = errors.New("request already processed")
	ErrInvalidInput       = errors.New("invalid input")
)

// PartialFailureError reports a bulk operation that finished with some
// failed items. The operation itself ran to completion.
type PartialFailureError struct {
	Succeeded int
	Skipped   int
	Failed    int
}

func (e *PartialFailureError) Error() string {
	return fmt.Sprintf("completed with %d errors (%d succeeded, %d skipped)", e.Failed, e.Succeeded, e.Skipped)
}

// IsPartialFailure unwraps err into a PartialFailureError if it is one.
func IsPartialFailure(err error) (*PartialFailureError, bool) {
	var pf *PartialFailureError
	if errors.As(err, &pf) {
		return pf, true
	}
	return nil, false
}
