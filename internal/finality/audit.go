package finality

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

// Failure is one fatal resolution, kept for manual inspection
type Failure struct {
	ID            uuid.UUID `db:"id" json:"id"`
	TransactionID string    `db:"transaction_id" json:"transaction_id"`
	Attempts      int       `db:"attempts" json:"attempts"`
	Reason        string    `db:"reason" json:"reason"`
	FailedAt      time.Time `db:"failed_at" json:"failed_at"`
}

// AuditStore persists fatal resolution failures
type AuditStore interface {
	RecordFailure(ctx context.Context, f *Failure) error
	ListFailures(ctx context.Context, transactionID string, limit int) ([]*Failure, error)
}

const auditSchema = `
CREATE TABLE IF NOT EXISTS resolution_failures (
	id UUID PRIMARY KEY,
	transaction_id TEXT NOT NULL,
	attempts INTEGER NOT NULL,
	reason TEXT NOT NULL,
	failed_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_resolution_failures_tx ON resolution_failures (transaction_id);
`

// PostgresAuditStore implements AuditStore using PostgreSQL
type PostgresAuditStore struct {
	db *sqlx.DB
}

// NewPostgresAuditStore creates a new PostgreSQL audit store
func NewPostgresAuditStore(db *sqlx.DB) *PostgresAuditStore {
	return &PostgresAuditStore{db: db}
}

// EnsureSchema creates the failures table if missing
func (s *PostgresAuditStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, auditSchema); err != nil {
		return fmt.Errorf("failed to create resolution_failures table: %w", err)
	}
	return nil
}

func (s *PostgresAuditStore) RecordFailure(ctx context.Context, f *Failure) error {
	if f.ID == uuid.Nil {
		f.ID = uuid.New()
	}
	query := `
		INSERT INTO resolution_failures (id, transaction_id, attempts, reason, failed_at)
		VALUES (:id, :transaction_id, :attempts, :reason, :failed_at)
	`
	if _, err := s.db.NamedExecContext(ctx, query, f); err != nil {
		return fmt.Errorf("failed to record resolution failure: %w", err)
	}
	return nil
}

// ListFailures returns the newest failures, optionally for one transaction
func (s *PostgresAuditStore) ListFailures(ctx context.Context, transactionID string, limit int) ([]*Failure, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `
		SELECT id, transaction_id, attempts, reason, failed_at
		FROM resolution_failures
		WHERE ($1 = '' OR transaction_id = $1)
		ORDER BY failed_at DESC
		LIMIT $2
	`
	var failures []*Failure
	if err := s.db.SelectContext(ctx, &failures, query, transactionID, limit); err != nil {
		return nil, fmt.Errorf("failed to list resolution failures: %w", err)
	}
	return failures, nil
}
