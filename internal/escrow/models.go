package escrow

import (
	"fmt"
	"time"

	"carbon-scribe/settlement-backend/pkg/ledger"
	"carbon-scribe/settlement-backend/pkg/workflows"
)

// ProjectStatus is the review state of a project
type ProjectStatus string

const (
	ProjectStatusPending  ProjectStatus = "pending"
	ProjectStatusApproved ProjectStatus = "approved"
	ProjectStatusRejected ProjectStatus = "rejected"
)

var reviewFlow = workflows.NewStateMachine(map[string][]string{
	string(ProjectStatusPending): {string(ProjectStatusApproved), string(ProjectStatusRejected)},
})

// CanBecome reports whether a review may move a project from s to next
func (s ProjectStatus) CanBecome(next ProjectStatus) bool {
	return reviewFlow.CanTransition(string(s), string(next))
}

// FeePolicy decides what happens to a submission fee when a project is
// rejected
type FeePolicy string

const (
	FeePolicyRefund  FeePolicy = "refund"
	FeePolicyForfeit FeePolicy = "forfeit"
)

// Project is a submitted carbon-offset project
type Project struct {
	ID                uint64           `json:"id"`
	Proposer          ledger.AccountID `json:"proposer"`
	MetadataReference string           `json:"metadata_reference"`
	FeePaid           int64            `json:"fee_paid"`
	FeeRefunded       bool             `json:"fee_refunded"`
	Status            ProjectStatus    `json:"status"`
	Verifier          ledger.AccountID `json:"verifier,omitempty"`
	MintedSerial      *int64           `json:"minted_serial,omitempty"`
	SubmittedAt       time.Time        `json:"submitted_at"`
	ReviewedAt        *time.Time       `json:"reviewed_at,omitempty"`
}

// Config is fixed at deployment
type Config struct {
	Admin              ledger.AccountID `json:"admin"`
	Verifier           ledger.AccountID `json:"verifier"`
	MinimumFee         int64            `json:"minimum_fee"`
	RejectionFeePolicy FeePolicy        `json:"rejection_fee_policy"`
}

// Validate checks the deployment configuration
func (c Config) Validate() error {
	if c.Admin == "" {
		return fmt.Errorf("escrow admin is required")
	}
	if c.Verifier == "" {
		return fmt.Errorf("escrow verifier is required")
	}
	if c.MinimumFee < 0 {
		return fmt.Errorf("minimum fee must not be negative")
	}
	switch c.RejectionFeePolicy {
	case FeePolicyRefund, FeePolicyForfeit:
	default:
		return fmt.Errorf("unknown rejection fee policy %q", c.RejectionFeePolicy)
	}
	return nil
}
