package finality

import (
	"errors"
	"fmt"
)

// ErrRecordUnavailable means the record never became readable within the
// attempt budget
var ErrRecordUnavailable = errors.New("transaction record unavailable")

// ResolutionError is a fatal failure to resolve a transaction record. It is
// never retried by the resolver.
type ResolutionError struct {
	TransactionID string
	Attempts      int
	Err           error
}

func (e *ResolutionError) Error() string {
	return fmt.Sprintf("resolve record for %s after %d attempt(s): %v", e.TransactionID, e.Attempts, e.Err)
}

func (e *ResolutionError) Unwrap() error {
	return e.Err
}
