package registry

import (
	"time"

	"carbon-scribe/settlement-backend/pkg/ledger"
)

// CreditStatus describes where a credit currently sits
type CreditStatus string

const (
	CreditStatusMinted      CreditStatus = "minted"
	CreditStatusInCustody   CreditStatus = "in_custody"
	CreditStatusTransferred CreditStatus = "transferred"
)

// Collection is the single NFT collection all credits belong to
type Collection struct {
	TokenID     ledger.AccountID `json:"token_id"`
	Name        string           `json:"name"`
	Symbol      string           `json:"symbol"`
	Description string           `json:"description"`
	MaxSupply   int64            `json:"max_supply"`
	TotalSupply int64            `json:"total_supply"`
	Treasury    ledger.AccountID `json:"treasury"`
	CreatedAt   time.Time        `json:"created_at"`
}

// Credit is one serial-numbered carbon credit
type Credit struct {
	TokenID       ledger.AccountID `json:"token_id"`
	SerialNumber  int64            `json:"serial_number"`
	ProjectRef    uint64           `json:"project_ref"`
	Owner         ledger.AccountID `json:"owner"`
	PreviousOwner ledger.AccountID `json:"previous_owner,omitempty"`
	Status        CreditStatus     `json:"status"`
	MintedAt      time.Time        `json:"minted_at"`
	TransferredAt *time.Time       `json:"transferred_at,omitempty"`
}
