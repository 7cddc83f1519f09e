package finality

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"carbon-scribe/settlement-backend/pkg/ledger"
)

const (
	DefaultMaxAttempts = 7
	DefaultDelay       = 4 * time.Second
)

// RecordFetcher reads durable transaction records
type RecordFetcher interface {
	GetRecord(ctx context.Context, txID ledger.TransactionID) (*ledger.Record, error)
}

// Config bounds the polling loop
type Config struct {
	MaxAttempts int
	Delay       time.Duration
	// Timeout caps a whole Await call. Zero means only the caller's context
	// applies.
	Timeout time.Duration
}

// DefaultConfig returns 7 attempts, 4s apart
func DefaultConfig() Config {
	return Config{MaxAttempts: DefaultMaxAttempts, Delay: DefaultDelay}
}

// Resolver polls the ledger until a transaction's durable record can be read
type Resolver struct {
	fetcher RecordFetcher
	cfg     Config
	clock   Clock
	audit   AuditStore
	logger  *zap.Logger
}

// Option customises a Resolver
type Option func(*Resolver)

// WithClock replaces the wall clock
func WithClock(c Clock) Option {
	return func(r *Resolver) { r.clock = c }
}

// WithAuditStore records every fatal resolution failure
func WithAuditStore(s AuditStore) Option {
	return func(r *Resolver) { r.audit = s }
}

// NewResolver creates a resolver
func NewResolver(fetcher RecordFetcher, cfg Config, logger *zap.Logger, opts ...Option) *Resolver {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.Delay < 0 {
		cfg.Delay = 0
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Resolver{fetcher: fetcher, cfg: cfg, clock: RealClock(), logger: logger}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Config returns the effective configuration
func (r *Resolver) Config() Config {
	return r.cfg
}

// AwaitString parses raw and resolves it. A malformed id fails at once.
func (r *Resolver) AwaitString(ctx context.Context, raw string) (*ledger.Record, error) {
	txID, err := ledger.ParseTransactionID(raw)
	if err != nil {
		return nil, r.fail(ctx, raw, 0, err)
	}
	return r.Await(ctx, txID)
}

// Await returns the record of txID. Availability errors are retried up to
// MaxAttempts with Delay between attempts; anything else aborts at once.
// The returned record may carry a non-success status; use Record.Err.
func (r *Resolver) Await(ctx context.Context, txID ledger.TransactionID) (*ledger.Record, error) {
	if r.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.cfg.Timeout)
		defer cancel()
	}

	id := txID.String()
	started := r.clock.Now()
	var lastErr error
	for attempt := 1; attempt <= r.cfg.MaxAttempts; attempt++ {
		rec, err := r.fetcher.GetRecord(ctx, txID)
		if err == nil {
			r.logger.Debug("Transaction record resolved",
				zap.String("transaction_id", id),
				zap.Int("attempt", attempt),
				zap.Duration("waited", r.clock.Now().Sub(started)))
			return rec, nil
		}
		if !ledger.IsTransient(err) {
			return nil, r.fail(ctx, id, attempt, err)
		}
		lastErr = err

		if attempt == r.cfg.MaxAttempts {
			break
		}
		r.logger.Debug("Transaction record not available yet",
			zap.String("transaction_id", id),
			zap.Int("attempt", attempt),
			zap.Error(err))
		if err := r.clock.Sleep(ctx, r.cfg.Delay); err != nil {
			return nil, r.fail(ctx, id, attempt, err)
		}
	}

	return nil, r.fail(ctx, id, r.cfg.MaxAttempts, fmt.Errorf("%w: %v", ErrRecordUnavailable, lastErr))
}

func (r *Resolver) fail(ctx context.Context, txID string, attempts int, err error) error {
	rerr := &ResolutionError{TransactionID: txID, Attempts: attempts, Err: err}
	r.logger.Error("Failed to resolve transaction record",
		zap.String("transaction_id", txID),
		zap.Int("attempts", attempts),
		zap.Error(err))

	if r.audit != nil {
		failure := &Failure{
			TransactionID: txID,
			Attempts:      attempts,
			Reason:        err.Error(),
			FailedAt:      r.clock.Now().UTC(),
		}
		if aerr := r.audit.RecordFailure(context.WithoutCancel(ctx), failure); aerr != nil {
			r.logger.Error("Failed to store resolution failure",
				zap.String("transaction_id", txID),
				zap.Error(aerr))
		}
	}
	return rerr
}
