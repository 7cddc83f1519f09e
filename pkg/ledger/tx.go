package ledger

import (
	"fmt"
	"time"
)

type frame struct {
	sender AccountID
	self   AccountID
	value  int64
}

// Tx is the execution context handed to contract code. It is only valid for
// the duration of the Invoke callback that received it.
//
// Balance movements made through Tx are journaled and undone if the call
// fails. Contract state is not: code that mutates its own state before a
// fallible step must register the inverse with OnRevert.
type Tx struct {
	ledger    *Ledger
	id        TransactionID
	timestamp time.Time
	frames    []frame
	transfers []Transfer
	undo      []func()
	logs      []Log
}

// ID returns the transaction id being executed
func (tx *Tx) ID() TransactionID {
	return tx.id
}

// Payer returns the account that signed and paid for the transaction
func (tx *Tx) Payer() AccountID {
	return tx.id.AccountID
}

// Sender returns the immediate caller of the current frame: the payer for a
// top-level call, or the calling contract for a nested Invoke
func (tx *Tx) Sender() AccountID {
	return tx.top().sender
}

// Self returns the address of the contract currently executing
func (tx *Tx) Self() AccountID {
	return tx.top().self
}

// Value returns the amount attached to the current frame
func (tx *Tx) Value() int64 {
	return tx.top().value
}

// Timestamp returns the consensus timestamp of the transaction
func (tx *Tx) Timestamp() time.Time {
	return tx.timestamp
}

// Balance returns an account's balance as seen inside this transaction
func (tx *Tx) Balance(account AccountID) int64 {
	return tx.ledger.balances[account]
}

// AccountExists reports whether account is known to the ledger
func (tx *Tx) AccountExists(account AccountID) bool {
	_, ok := tx.ledger.balances[account]
	return ok
}

// Transfer moves amount from the executing contract to another account.
// A contract can only ever debit itself.
func (tx *Tx) Transfer(to AccountID, amount int64) error {
	if amount <= 0 {
		return Revertf("transfer amount must be positive, got %d", amount)
	}
	if !tx.AccountExists(to) {
		return &RevertError{Status: StatusInvalidAccountID, Reason: string(to)}
	}
	from := tx.Self()
	if tx.ledger.balances[from] < amount {
		return &RevertError{
			Status: StatusInsufficientContractBalance,
			Reason: fmt.Sprintf("%s holds %d, needs %d", from, tx.ledger.balances[from], amount),
		}
	}
	tx.move(from, to, amount)
	return nil
}

// Invoke runs fn as a nested call into another contract. Inside fn, Sender
// is the calling contract and Self is callee.
func (tx *Tx) Invoke(callee AccountID, fn func(tx *Tx) error) error {
	if !tx.ledger.isContract(callee) {
		return &RevertError{Status: StatusInvalidContractID, Reason: string(callee)}
	}
	tx.frames = append(tx.frames, frame{sender: tx.Self(), self: callee})
	defer func() { tx.frames = tx.frames[:len(tx.frames)-1] }()
	return fn(tx)
}

// OnRevert registers an undo step that runs if the transaction fails.
// Steps run in reverse registration order.
func (tx *Tx) OnRevert(fn func()) {
	tx.undo = append(tx.undo, fn)
}

// Emit records an event in the transaction record
func (tx *Tx) Emit(event string, attrs map[string]string) {
	tx.logs = append(tx.logs, Log{Contract: tx.Self(), Event: event, Attributes: attrs})
}

func (tx *Tx) top() frame {
	return tx.frames[len(tx.frames)-1]
}

func (tx *Tx) move(from, to AccountID, amount int64) {
	if amount == 0 {
		return
	}
	tx.ledger.balances[from] -= amount
	tx.ledger.balances[to] += amount
	tx.transfers = append(tx.transfers, Transfer{From: from, To: to, Amount: amount})
}

func (tx *Tx) rollback() {
	for i := len(tx.transfers) - 1; i >= 0; i-- {
		t := tx.transfers[i]
		tx.ledger.balances[t.To] -= t.Amount
		tx.ledger.balances[t.From] += t.Amount
	}
	tx.transfers = nil
	for i := len(tx.undo) - 1; i >= 0; i-- {
		tx.undo[i]()
	}
	tx.undo = nil
	tx.logs = nil
}

// AllocateEntity reserves a fresh ledger id for a non-account entity such
// as a token
func (tx *Tx) AllocateEntity() AccountID {
	return tx.ledger.allocate()
}

// IsContract reports whether account is a contract address
func (tx *Tx) IsContract(account AccountID) bool {
	return tx.ledger.isContract(account)
}
