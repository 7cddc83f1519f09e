package ledger

import (
	"errors"
	"fmt"
)

// Status is a ledger response code
type Status string

const (
	StatusSuccess                     Status = "SUCCESS"
	StatusUnknown                     Status = "UNKNOWN"
	StatusReceiptNotFound             Status = "RECEIPT_NOT_FOUND"
	StatusRecordNotFound              Status = "RECORD_NOT_FOUND"
	StatusInsufficientPayerBalance    Status = "INSUFFICIENT_PAYER_BALANCE"
	StatusInvalidAccountID            Status = "INVALID_ACCOUNT_ID"
	StatusInvalidContractID           Status = "INVALID_CONTRACT_ID"
	StatusContractRevertExecuted      Status = "CONTRACT_REVERT_EXECUTED"
	StatusTokenNotAssociatedToAccount Status = "TOKEN_NOT_ASSOCIATED_TO_ACCOUNT"
	StatusInsufficientContractBalance Status = "INSUFFICIENT_CONTRACT_BALANCE"
	StatusDuplicateTransaction        Status = "DUPLICATE_TRANSACTION"
	StatusTransactionExpired          Status = "TRANSACTION_EXPIRED"
)

var (
	// ErrMalformedTransactionID is returned when a transaction id string
	// cannot be parsed. It is never retried.
	ErrMalformedTransactionID = errors.New("malformed transaction id")
)

// StatusError is a non-success response from the ledger
type StatusError struct {
	Status        Status
	TransactionID TransactionID
	Message       string
}

func (e *StatusError) Error() string {
	msg := string(e.Status)
	if !e.TransactionID.IsZero() {
		msg = fmt.Sprintf("%s for transaction %s", msg, e.TransactionID)
	}
	if e.Message != "" {
		msg = fmt.Sprintf("%s: %s", msg, e.Message)
	}
	return msg
}

// Transient reports whether the status only means the answer is not
// available yet
func (e *StatusError) Transient() bool {
	switch e.Status {
	case StatusRecordNotFound, StatusReceiptNotFound, StatusUnknown:
		return true
	}
	return false
}

// IsTransient reports whether err is a ledger availability error worth
// retrying
func IsTransient(err error) bool {
	var se *StatusError
	if errors.As(err, &se) {
		return se.Transient()
	}
	return false
}

// RevertError is returned by contract code to abort a call. Reason is
// surfaced verbatim to the caller.
type RevertError struct {
	Status Status
	Reason string
}

func (e *RevertError) Error() string {
	if e.Reason == "" {
		return string(e.Status)
	}
	return fmt.Sprintf("%s: %s", e.Status, e.Reason)
}

// Is matches reverts by status and reason, so sentinel reverts declared by
// contract packages survive the trip through a receipt
func (e *RevertError) Is(target error) bool {
	t, ok := target.(*RevertError)
	if !ok {
		return false
	}
	return t.Status == e.Status && t.Reason == e.Reason
}

// Revert builds a contract revert with an application-level reason
func Revert(reason string) error {
	return &RevertError{Status: StatusContractRevertExecuted, Reason: reason}
}

// Revertf is Revert with formatting
func Revertf(format string, args ...interface{}) error {
	return Revert(fmt.Sprintf(format, args...))
}

// RevertReason extracts the revert reason from err, if any
func RevertReason(err error) (string, bool) {
	var re *RevertError
	if errors.As(err, &re) {
		return re.Reason, true
	}
	return "", false
}
