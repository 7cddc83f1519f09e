package settlement

import (
	"errors"
	"fmt"
)

// Phase names the stage of a workflow step that failed
type Phase string

const (
	// PhaseSubmission means the ledger rejected the call: a precheck failed
	// or the contract reverted. Nothing was applied.
	PhaseSubmission Phase = "submission"
	// PhaseConfirmation means the call was accepted but its durable record
	// could not be read back. The call may well have been applied.
	PhaseConfirmation Phase = "confirmation"
	// PhaseExecution means the record was read but did not carry the
	// expected result.
	PhaseExecution Phase = "execution"
)

var (
	ErrInvalidAmount  = errors.New("invalid amount")
	ErrInvalidRequest = errors.New("invalid request")
	ErrNotFound       = errors.New("not found")
)

// PhaseError reports which step and phase of a workflow failed
type PhaseError struct {
	Workflow      string
	Step          string
	Phase         Phase
	TransactionID string
	Err           error
}

func (e *PhaseError) Error() string {
	msg := fmt.Sprintf("%s: %s %s failed", e.Workflow, e.Step, e.Phase)
	if e.TransactionID != "" {
		msg += " (transaction " + e.TransactionID + ")"
	}
	return msg + ": " + e.Err.Error()
}

func (e *PhaseError) Unwrap() error {
	return e.Err
}

// FailedPhase returns the phase recorded in err, if any
func FailedPhase(err error) (Phase, bool) {
	var pe *PhaseError
	if errors.As(err, &pe) {
		return pe.Phase, true
	}
	return "", false
}
