package ledger

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
)

// DefaultRecordLag is how long after consensus a record stays unreadable
const DefaultRecordLag = 6 * time.Second

// Options configures an in-process ledger network
type Options struct {
	Network string
	// Now is the ledger clock. Defaults to time.Now.
	Now func() time.Time
	// RecordLag delays durable record availability after consensus
	RecordLag time.Duration
	// FirstAccountNum is the num component of the first created account
	FirstAccountNum uint64
	Logger          *zap.Logger
}

// Call is a state-changing contract call
type Call struct {
	Contract AccountID
	Function string
	Payable  int64
	Invoke   func(tx *Tx) ([]interface{}, error)
}

// Ledger is a totally ordered, atomically executing ledger. Every Submit runs
// under a single lock, which stands in for consensus ordering: calls never
// interleave and each is fully applied or fully reverted.
type Ledger struct {
	mu             sync.Mutex
	network        string
	now            func() time.Time
	recordLag      time.Duration
	logger         *zap.Logger
	nextNum        uint64
	balances       map[AccountID]int64
	contracts      map[AccountID]string
	records        map[string]*Record
	lastValidStart time.Time
}

// New creates an empty ledger
func New(opts Options) *Ledger {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.FirstAccountNum == 0 {
		opts.FirstAccountNum = 1001
	}
	if opts.Network == "" {
		opts.Network = "devnet"
	}
	return &Ledger{
		network:   opts.Network,
		now:       opts.Now,
		recordLag: opts.RecordLag,
		logger:    opts.Logger,
		nextNum:   opts.FirstAccountNum,
		balances:  make(map[AccountID]int64),
		contracts: make(map[AccountID]string),
		records:   make(map[string]*Record),
	}
}

// Network returns the network name
func (l *Ledger) Network() string {
	return l.network
}

// CreateAccount opens a new account funded with initialBalance tinybars
func (l *Ledger) CreateAccount(initialBalance int64) (AccountID, error) {
	if initialBalance < 0 {
		return "", fmt.Errorf("initial balance must not be negative")
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	id := l.allocate()
	l.balances[id] = initialBalance
	l.logger.Debug("Account created", zap.String("account_id", id.String()), zap.Int64("balance", initialBalance))
	return id, nil
}

// RegisterContract allocates an address for contract code named name. The
// caller constructs the contract object around the returned address.
func (l *Ledger) RegisterContract(name string) AccountID {
	l.mu.Lock()
	defer l.mu.Unlock()

	id := l.allocate()
	l.balances[id] = 0
	l.contracts[id] = name
	l.logger.Info("Contract registered", zap.String("contract", name), zap.String("contract_id", id.String()))
	return id
}

// Balance returns an account balance in tinybars
func (l *Ledger) Balance(account AccountID) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	bal, ok := l.balances[account]
	if !ok {
		return 0, &StatusError{Status: StatusInvalidAccountID, Message: string(account)}
	}
	return bal, nil
}

// Accounts lists every known account in allocation order
func (l *Ledger) Accounts() []AccountID {
	l.mu.Lock()
	defer l.mu.Unlock()

	ids := make([]AccountID, 0, len(l.balances))
	for id := range l.balances {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return len(ids[i]) < len(ids[j]) || (len(ids[i]) == len(ids[j]) && ids[i] < ids[j]) })
	return ids
}

// Submit orders and executes call on behalf of payer. A nil error means the
// transaction reached consensus; the receipt status says whether it
// succeeded. Precheck failures return an error and no transaction is created.
func (l *Ledger) Submit(ctx context.Context, payer AccountID, call Call) (*Receipt, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if call.Invoke == nil {
		return nil, fmt.Errorf("call %q has no contract code", call.Function)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	balance, ok := l.balances[payer]
	if !ok {
		return nil, &StatusError{Status: StatusInvalidAccountID, Message: string(payer)}
	}
	if !l.isContract(call.Contract) {
		return nil, &StatusError{Status: StatusInvalidContractID, Message: string(call.Contract)}
	}
	if call.Payable < 0 {
		return nil, &StatusError{Status: StatusContractRevertExecuted, Message: "negative payable amount"}
	}
	if balance < call.Payable {
		return nil, &StatusError{
			Status:  StatusInsufficientPayerBalance,
			Message: fmt.Sprintf("%s holds %d, needs %d", payer, balance, call.Payable),
		}
	}

	txID := l.nextTransactionID(payer)
	consensusAt := l.now()
	tx := &Tx{
		ledger:    l,
		id:        txID,
		timestamp: consensusAt,
		frames:    []frame{{sender: payer, self: call.Contract, value: call.Payable}},
	}
	tx.move(payer, call.Contract, call.Payable)

	values, err := call.Invoke(tx)

	result := &FunctionResult{ContractID: call.Contract, Function: call.Function}
	record := &Record{
		TransactionID:          txID,
		Payer:                  payer,
		ConsensusAt:            consensusAt,
		ContractFunctionResult: result,
	}
	receipt := &Receipt{TransactionID: txID}

	if err != nil {
		tx.rollback()
		status, reason := StatusContractRevertExecuted, err.Error()
		var re *RevertError
		if errors.As(err, &re) {
			status, reason = re.Status, re.Reason
		}
		record.Status = status
		result.ErrorMessage = reason
		receipt.Status = status
		receipt.Reason = reason

		l.logger.Info("Contract call reverted",
			zap.String("transaction_id", txID.String()),
			zap.String("function", call.Function),
			zap.String("status", string(status)),
			zap.String("reason", reason))
	} else {
		record.Status = StatusSuccess
		record.Transfers = tx.transfers
		result.Values = values
		result.Logs = tx.logs
		receipt.Status = StatusSuccess

		l.logger.Debug("Contract call executed",
			zap.String("transaction_id", txID.String()),
			zap.String("function", call.Function))
	}

	l.records[txID.String()] = record
	return receipt, nil
}

// GetReceipt returns the consensus receipt of a transaction
func (l *Ledger) GetReceipt(ctx context.Context, txID TransactionID) (*Receipt, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	rec, ok := l.records[txID.String()]
	if !ok {
		return nil, &StatusError{Status: StatusReceiptNotFound, TransactionID: txID}
	}
	receipt := &Receipt{TransactionID: txID, Status: rec.Status}
	if rec.ContractFunctionResult != nil {
		receipt.Reason = rec.ContractFunctionResult.ErrorMessage
	}
	return receipt, nil
}

// GetRecord returns the durable record of a transaction. Records lag
// consensus by the configured RecordLag; until then, and for ids the ledger
// has never seen, it fails with a transient RECORD_NOT_FOUND.
func (l *Ledger) GetRecord(ctx context.Context, txID TransactionID) (*Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	rec, ok := l.records[txID.String()]
	if !ok || l.now().Before(rec.ConsensusAt.Add(l.recordLag)) {
		return nil, &StatusError{Status: StatusRecordNotFound, TransactionID: txID}
	}
	cp := *rec
	return &cp, nil
}

// Query runs a read-only view of contract state in consensus order
func (l *Ledger) Query(ctx context.Context, fn func() error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return fn()
}

func (l *Ledger) isContract(id AccountID) bool {
	_, ok := l.contracts[id]
	return ok
}

func (l *Ledger) allocate() AccountID {
	id := AccountID(fmt.Sprintf("0.0.%d", l.nextNum))
	l.nextNum++
	return id
}

// nextTransactionID keeps valid-start times strictly increasing so ids never
// collide even when the clock stands still
func (l *Ledger) nextTransactionID(payer AccountID) TransactionID {
	start := l.now().UTC()
	if !start.After(l.lastValidStart) {
		start = l.lastValidStart.Add(time.Nanosecond)
	}
	l.lastValidStart = start
	return TransactionID{AccountID: payer, ValidStart: start}
}
