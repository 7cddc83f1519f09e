package ledger

import (
	"fmt"
	"time"
)

// Receipt is the consensus acknowledgement of a submitted transaction. It is
// available as soon as Submit returns; the detailed Record is not.
type Receipt struct {
	TransactionID TransactionID `json:"transaction_id"`
	Status        Status        `json:"status"`
	Reason        string        `json:"reason,omitempty"`
}

// Err converts a non-success receipt into a RevertError carrying the
// contract's reason verbatim
func (r *Receipt) Err() error {
	if r == nil {
		return &StatusError{Status: StatusReceiptNotFound}
	}
	if r.Status == StatusSuccess {
		return nil
	}
	return &RevertError{Status: r.Status, Reason: r.Reason}
}

// Transfer is a single balance movement applied by a transaction
type Transfer struct {
	From   AccountID `json:"from"`
	To     AccountID `json:"to"`
	Amount int64     `json:"amount"`
}

// Log is an event emitted by contract code
type Log struct {
	Contract   AccountID         `json:"contract"`
	Event      string            `json:"event"`
	Attributes map[string]string `json:"attributes,omitempty"`
}

// FunctionResult holds a contract call's return values, or its revert
// message
type FunctionResult struct {
	ContractID   AccountID     `json:"contract_id"`
	Function     string        `json:"function"`
	Values       []interface{} `json:"values,omitempty"`
	ErrorMessage string        `json:"error_message,omitempty"`
	Logs         []Log         `json:"logs,omitempty"`
}

// Record is the durable result of a transaction
type Record struct {
	TransactionID          TransactionID   `json:"transaction_id"`
	Status                 Status          `json:"status"`
	Payer                  AccountID       `json:"payer"`
	ConsensusAt            time.Time       `json:"consensus_at"`
	ContractFunctionResult *FunctionResult `json:"contract_function_result,omitempty"`
	Transfers              []Transfer      `json:"transfers,omitempty"`
}

// Err mirrors Receipt.Err for records
func (r *Record) Err() error {
	if r.Status == StatusSuccess {
		return nil
	}
	reason := ""
	if r.ContractFunctionResult != nil {
		reason = r.ContractFunctionResult.ErrorMessage
	}
	return &RevertError{Status: r.Status, Reason: reason}
}

func (f *FunctionResult) value(i int) (interface{}, error) {
	if f == nil {
		return nil, fmt.Errorf("no contract function result")
	}
	if i < 0 || i >= len(f.Values) {
		return nil, fmt.Errorf("result index %d out of range (%d values)", i, len(f.Values))
	}
	return f.Values[i], nil
}

// Uint64 returns the i-th return value as an unsigned integer
func (f *FunctionResult) Uint64(i int) (uint64, error) {
	v, err := f.value(i)
	if err != nil {
		return 0, err
	}
	switch n := v.(type) {
	case uint64:
		return n, nil
	case int64:
		if n < 0 {
			return 0, fmt.Errorf("result %d is negative", i)
		}
		return uint64(n), nil
	}
	return 0, fmt.Errorf("result %d is %T, not an integer", i, v)
}

// Int64 returns the i-th return value as a signed integer
func (f *FunctionResult) Int64(i int) (int64, error) {
	v, err := f.value(i)
	if err != nil {
		return 0, err
	}
	switch n := v.(type) {
	case int64:
		return n, nil
	case uint64:
		if n > 1<<63-1 {
			return 0, fmt.Errorf("result %d overflows int64", i)
		}
		return int64(n), nil
	}
	return 0, fmt.Errorf("result %d is %T, not an integer", i, v)
}

// String returns the i-th return value as a string
func (f *FunctionResult) String(i int) (string, error) {
	v, err := f.value(i)
	if err != nil {
		return "", err
	}
	switch s := v.(type) {
	case string:
		return s, nil
	case fmt.Stringer:
		return s.String(), nil
	}
	return "", fmt.Errorf("result %d is %T, not a string", i, v)
}

// Bool returns the i-th return value as a bool
func (f *FunctionResult) Bool(i int) (bool, error) {
	v, err := f.value(i)
	if err != nil {
		return false, err
	}
	b, ok := v.(bool)
	if !ok {
		return false, fmt.Errorf("result %d is %T, not a bool", i, v)
	}
	return b, nil
}
