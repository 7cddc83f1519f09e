package mirror

import (
	"carbon-scribe/settlement-backend/internal/escrow"
	"carbon-scribe/settlement-backend/internal/marketplace"
	"carbon-scribe/settlement-backend/internal/registry"
)

// ProjectFromChain builds the mirror row for an on-chain project
func ProjectFromChain(p escrow.Project) *ProjectView {
	return &ProjectView{
		ProjectID:         p.ID,
		Proposer:          string(p.Proposer),
		MetadataReference: p.MetadataReference,
		FeePaid:           p.FeePaid,
		Status:            string(p.Status),
		Verifier:          string(p.Verifier),
		MintedSerial:      p.MintedSerial,
		SubmittedAt:       p.SubmittedAt,
		ReviewedAt:        p.ReviewedAt,
	}
}

// CreditFromChain builds the mirror row for a credit
func CreditFromChain(c registry.Credit) *CreditView {
	return &CreditView{
		TokenID:      string(c.TokenID),
		SerialNumber: c.SerialNumber,
		ProjectID:    c.ProjectRef,
		Owner:        string(c.Owner),
		Status:       string(c.Status),
		MintedAt:     c.MintedAt,
	}
}

// ListingFromChain builds the mirror row for a listing
func ListingFromChain(l marketplace.Listing) *ListingView {
	return &ListingView{
		ListingID:    l.ID,
		SerialNumber: l.SerialNumber,
		Seller:       string(l.Seller),
		Buyer:        string(l.Buyer),
		Price:        l.Price,
		PlatformFee:  l.PlatformFee,
		Proceeds:     l.Proceeds,
		IsActive:     l.Active,
		Sold:         l.Sold,
		Withdrawn:    l.Withdrawn,
		Claimed:      l.Claimed,
		ListedAt:     l.ListedAt,
		SoldAt:       l.SoldAt,
	}
}
