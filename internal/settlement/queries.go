package settlement

import (
	"context"
	"errors"
	"fmt"
	"time"

	"carbon-scribe/settlement-backend/internal/escrow"
	"carbon-scribe/settlement-backend/internal/marketplace"
	"carbon-scribe/settlement-backend/internal/mirror"
	"carbon-scribe/settlement-backend/internal/registry"
	"carbon-scribe/settlement-backend/internal/reports/export"
	"carbon-scribe/settlement-backend/pkg/ledger"
)

// Dashboard reads are served from the mirror. Without a mirror they fall back
// to contract views.

const defaultListLimit = 100

// VerifierDashboard is the verifier's work queue and history
type VerifierDashboard struct {
	Pending  []*mirror.ProjectView `json:"pending"`
	Reviewed []*mirror.ProjectView `json:"reviewed"`
}

// GetProject returns one project, preferring the mirror
func (s *Service) GetProject(ctx context.Context, id uint64) (*mirror.ProjectView, error) {
	if s.repo != nil {
		p, err := s.repo.GetProject(ctx, id)
		if err == nil {
			return p, nil
		}
		if !errors.Is(err, mirror.ErrNotFound) {
			return nil, fmt.Errorf("failed to load project: %w", err)
		}
	}

	var p escrow.Project
	var ok bool
	if err := s.d.Ledger.Query(ctx, func() error { p, ok = s.d.Escrow.Project(id); return nil }); err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("project %d: %w", id, ErrNotFound)
	}
	return mirror.ProjectFromChain(p), nil
}

// MyProjects lists projects submitted by actor
func (s *Service) MyProjects(ctx context.Context, actor ledger.AccountID) ([]*mirror.ProjectView, error) {
	return s.projects(ctx, mirror.ProjectFilter{Proposer: actor.String(), Limit: defaultListLimit})
}

// PendingProjects lists projects awaiting review
func (s *Service) PendingProjects(ctx context.Context) ([]*mirror.ProjectView, error) {
	return s.projects(ctx, mirror.ProjectFilter{Status: string(escrow.ProjectStatusPending), Limit: defaultListLimit})
}

// VerifierDashboard lists pending projects and those actor has reviewed
func (s *Service) VerifierDashboard(ctx context.Context, actor ledger.AccountID) (*VerifierDashboard, error) {
	pending, err := s.PendingProjects(ctx)
	if err != nil {
		return nil, err
	}
	reviewed, err := s.projects(ctx, mirror.ProjectFilter{Verifier: actor.String(), Limit: defaultListLimit})
	if err != nil {
		return nil, err
	}
	return &VerifierDashboard{Pending: pending, Reviewed: reviewed}, nil
}

func (s *Service) projects(ctx context.Context, filter mirror.ProjectFilter) ([]*mirror.ProjectView, error) {
	if s.repo != nil {
		return s.repo.ListProjects(ctx, filter)
	}

	var all []escrow.Project
	if err := s.d.Ledger.Query(ctx, func() error { all = s.d.Escrow.Projects(""); return nil }); err != nil {
		return nil, err
	}
	out := make([]*mirror.ProjectView, 0)
	for _, p := range all {
		if filter.Proposer != "" && p.Proposer.String() != filter.Proposer {
			continue
		}
		if filter.Status != "" && string(p.Status) != filter.Status {
			continue
		}
		if filter.Verifier != "" && p.Verifier.String() != filter.Verifier {
			continue
		}
		out = append(out, mirror.ProjectFromChain(p))
	}
	return out, nil
}

// MyCredits lists credits currently owned by actor
func (s *Service) MyCredits(ctx context.Context, actor ledger.AccountID) ([]*mirror.CreditView, error) {
	if s.repo != nil {
		return s.repo.ListCredits(ctx, actor.String())
	}

	var owned []registry.Credit
	if err := s.d.Ledger.Query(ctx, func() error { owned = s.d.Registry.CreditsOwnedBy(actor); return nil }); err != nil {
		return nil, err
	}
	out := make([]*mirror.CreditView, 0, len(owned))
	for _, c := range owned {
		out = append(out, mirror.CreditFromChain(c))
	}
	return out, nil
}

// GetCredit returns one credit as recorded by the registry
func (s *Service) GetCredit(ctx context.Context, serial int64) (*mirror.CreditView, error) {
	var c registry.Credit
	var ok bool
	if err := s.d.Ledger.Query(ctx, func() error { c, ok = s.d.Registry.Credit(serial); return nil }); err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("credit %d: %w", serial, ErrNotFound)
	}
	return mirror.CreditFromChain(c), nil
}

// Listings lists marketplace listings, optionally only active ones
func (s *Service) Listings(ctx context.Context, activeOnly bool) ([]*mirror.ListingView, error) {
	return s.listings(ctx, mirror.ListingFilter{ActiveOnly: activeOnly, Limit: defaultListLimit})
}

// MyListings lists every listing created by actor
func (s *Service) MyListings(ctx context.Context, actor ledger.AccountID) ([]*mirror.ListingView, error) {
	return s.listings(ctx, mirror.ListingFilter{Seller: actor.String(), Limit: defaultListLimit})
}

func (s *Service) listings(ctx context.Context, filter mirror.ListingFilter) ([]*mirror.ListingView, error) {
	if s.repo != nil {
		return s.repo.ListListings(ctx, filter)
	}

	all, err := s.chainListings(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]*mirror.ListingView, 0)
	for _, l := range all {
		if filter.ActiveOnly && !l.Active {
			continue
		}
		if filter.SoldOnly && !l.Sold {
			continue
		}
		if filter.Seller != "" && l.Seller.String() != filter.Seller {
			continue
		}
		out = append(out, mirror.ListingFromChain(l))
	}
	return out, nil
}

func (s *Service) chainListings(ctx context.Context) ([]marketplace.Listing, error) {
	var all []marketplace.Listing
	if err := s.d.Ledger.Query(ctx, func() error { all = s.d.Marketplace.Listings(false); return nil }); err != nil {
		return nil, err
	}
	return all, nil
}

// SalesStatement summarises marketplace listings, optionally for one seller.
// Statements are built from contract state, not the mirror.
func (s *Service) SalesStatement(ctx context.Context, seller ledger.AccountID) (*export.Statement, error) {
	all, err := s.chainListings(ctx)
	if err != nil {
		return nil, err
	}
	title := "Marketplace Sales Statement"
	return export.BuildStatement(title, seller.String(), all, time.Now().UTC()), nil
}
