package marketplace

import (
	"fmt"
	"time"

	"carbon-scribe/settlement-backend/pkg/ledger"
)

// BasisPointsDenominator is 100% expressed in basis points
const BasisPointsDenominator = 10000

// PaymentMatch selects how a buyer's attached payment is compared to price
type PaymentMatch string

const (
	// PaymentMatchExact requires payment == price
	PaymentMatchExact PaymentMatch = "exact"
	// PaymentMatchMinimum accepts payment >= price and refunds the excess
	PaymentMatchMinimum PaymentMatch = "minimum"
)

// Listing is an offer to sell one deposited credit
type Listing struct {
	ID           uint64           `json:"id"`
	SerialNumber int64            `json:"serial_number"`
	Seller       ledger.AccountID `json:"seller"`
	Price        int64            `json:"price"`
	Active       bool             `json:"active"`
	Sold         bool             `json:"sold"`
	Withdrawn    bool             `json:"withdrawn"`
	Buyer        ledger.AccountID `json:"buyer,omitempty"`
	Proceeds     int64            `json:"proceeds"`
	PlatformFee  int64            `json:"platform_fee"`
	Claimed      bool             `json:"claimed"`
	ListedAt     time.Time        `json:"listed_at"`
	SoldAt       *time.Time       `json:"sold_at,omitempty"`
	ClaimedAt    *time.Time       `json:"claimed_at,omitempty"`
	WithdrawnAt  *time.Time       `json:"withdrawn_at,omitempty"`
}

// Config is fixed at deployment
type Config struct {
	Admin           ledger.AccountID `json:"admin"`
	FeeRecipient    ledger.AccountID `json:"fee_recipient"`
	FeeBasisPoints  int64            `json:"fee_basis_points"`
	PaymentMatch    PaymentMatch     `json:"payment_match"`
	AllowWithdrawal bool             `json:"allow_withdrawal"`
}

// Validate checks the deployment configuration
func (c Config) Validate() error {
	if c.Admin == "" {
		return fmt.Errorf("marketplace admin is required")
	}
	if c.FeeBasisPoints < 0 || c.FeeBasisPoints > BasisPointsDenominator {
		return fmt.Errorf("fee basis points must be within [0, %d], got %d", BasisPointsDenominator, c.FeeBasisPoints)
	}
	if c.FeeBasisPoints > 0 && c.FeeRecipient == "" {
		return fmt.Errorf("fee recipient is required when a platform fee is set")
	}
	switch c.PaymentMatch {
	case PaymentMatchExact, PaymentMatchMinimum:
	default:
		return fmt.Errorf("unknown payment match mode %q", c.PaymentMatch)
	}
	return nil
}

// PlatformFee returns the platform's cut of price, rounded down. The product
// is split around the denominator so no intermediate exceeds price for any
// basisPoints within [0, BasisPointsDenominator].
func PlatformFee(price, basisPoints int64) int64 {
	whole, rest := price/BasisPointsDenominator, price%BasisPointsDenominator
	return whole*basisPoints + rest*basisPoints/BasisPointsDenominator
}
