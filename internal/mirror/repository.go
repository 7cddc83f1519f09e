package mirror

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrNotFound is returned when a mirrored row does not exist
var ErrNotFound = errors.New("mirror record not found")

// Repository is the off-chain mirror. It is written only after an on-chain
// operation succeeded and is never consulted for authorization.
type Repository interface {
	UpsertProject(ctx context.Context, p *ProjectView) error
	GetProject(ctx context.Context, projectID uint64) (*ProjectView, error)
	ListProjects(ctx context.Context, filter ProjectFilter) ([]*ProjectView, error)

	UpsertCredit(ctx context.Context, c *CreditView) error
	ListCredits(ctx context.Context, owner string) ([]*CreditView, error)

	UpsertListing(ctx context.Context, l *ListingView) error
	ListListings(ctx context.Context, filter ListingFilter) ([]*ListingView, error)

	SaveSubmission(ctx context.Context, s *PendingSubmission) error
	ListUnconfirmedSubmissions(ctx context.Context, limit int) ([]*PendingSubmission, error)
}

// GormRepository implements Repository on gorm
type GormRepository struct {
	db *gorm.DB
}

// NewGormRepository creates the repository
func NewGormRepository(db *gorm.DB) *GormRepository {
	return &GormRepository{db: db}
}

// Migrate creates or updates the mirror tables
func (r *GormRepository) Migrate() error {
	if err := r.db.AutoMigrate(
		&ProjectView{},
		&CreditView{},
		&ListingView{},
		&PendingSubmission{},
	); err != nil {
		return fmt.Errorf("failed to migrate mirror tables: %w", err)
	}
	return nil
}

func upsert(ctx context.Context, db *gorm.DB, key string, row interface{}) error {
	return db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: key}},
		UpdateAll: true,
	}).Create(row).Error
}

func (r *GormRepository) UpsertProject(ctx context.Context, p *ProjectView) error {
	if err := upsert(ctx, r.db, "project_id", p); err != nil {
		return fmt.Errorf("failed to upsert project %d: %w", p.ProjectID, err)
	}
	return nil
}

func (r *GormRepository) GetProject(ctx context.Context, projectID uint64) (*ProjectView, error) {
	var p ProjectView
	err := r.db.WithContext(ctx).Where("project_id = ?", projectID).First(&p).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get project %d: %w", projectID, err)
	}
	return &p, nil
}

func (r *GormRepository) ListProjects(ctx context.Context, filter ProjectFilter) ([]*ProjectView, error) {
	q := r.db.WithContext(ctx).Model(&ProjectView{})
	if filter.Proposer != "" {
		q = q.Where("proposer = ?", filter.Proposer)
	}
	if filter.Status != "" {
		q = q.Where("status = ?", filter.Status)
	}
	if filter.Verifier != "" {
		q = q.Where("verifier = ?", filter.Verifier)
	}
	if filter.Limit > 0 {
		q = q.Limit(filter.Limit)
	}
	var out []*ProjectView
	if err := q.Order("project_id ASC").Find(&out).Error; err != nil {
		return nil, fmt.Errorf("failed to list projects: %w", err)
	}
	return out, nil
}

func (r *GormRepository) UpsertCredit(ctx context.Context, c *CreditView) error {
	if err := upsert(ctx, r.db, "serial_number", c); err != nil {
		return fmt.Errorf("failed to upsert credit %d: %w", c.SerialNumber, err)
	}
	return nil
}

func (r *GormRepository) ListCredits(ctx context.Context, owner string) ([]*CreditView, error) {
	var out []*CreditView
	err := r.db.WithContext(ctx).Where("owner = ?", owner).Order("serial_number ASC").Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list credits: %w", err)
	}
	return out, nil
}

func (r *GormRepository) UpsertListing(ctx context.Context, l *ListingView) error {
	if err := upsert(ctx, r.db, "listing_id", l); err != nil {
		return fmt.Errorf("failed to upsert listing %d: %w", l.ListingID, err)
	}
	return nil
}

func (r *GormRepository) ListListings(ctx context.Context, filter ListingFilter) ([]*ListingView, error) {
	q := r.db.WithContext(ctx).Model(&ListingView{})
	if filter.Seller != "" {
		q = q.Where("seller = ?", filter.Seller)
	}
	if filter.ActiveOnly {
		q = q.Where("is_active = ?", true)
	}
	if filter.SoldOnly {
		q = q.Where("sold = ?", true)
	}
	if filter.Limit > 0 {
		q = q.Limit(filter.Limit)
	}
	var out []*ListingView
	if err := q.Order("listing_id ASC").Find(&out).Error; err != nil {
		return nil, fmt.Errorf("failed to list listings: %w", err)
	}
	return out, nil
}

func (r *GormRepository) SaveSubmission(ctx context.Context, s *PendingSubmission) error {
	if err := upsert(ctx, r.db, "transaction_id", s); err != nil {
		return fmt.Errorf("failed to save submission %s: %w", s.TransactionID, err)
	}
	return nil
}

func (r *GormRepository) ListUnconfirmedSubmissions(ctx context.Context, limit int) ([]*PendingSubmission, error) {
	if limit <= 0 {
		limit = 100
	}
	var out []*PendingSubmission
	err := r.db.WithContext(ctx).
		Where("status = ?", SubmissionUnconfirmed).
		Order("created_at ASC").
		Limit(limit).
		Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list unconfirmed submissions: %w", err)
	}
	return out, nil
}
