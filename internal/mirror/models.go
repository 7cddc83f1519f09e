package mirror

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// ProjectView mirrors an escrow project for dashboards
type ProjectView struct {
	ID                  uuid.UUID  `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	ProjectID           uint64     `gorm:"uniqueIndex;not null" json:"project_id"`
	Proposer            string     `gorm:"index;not null" json:"proposer"`
	MetadataReference   string     `json:"metadata_reference"`
	FeePaid             int64      `json:"fee_paid"`
	Status              string     `gorm:"index;not null" json:"status"`
	Verifier            string     `gorm:"index" json:"verifier,omitempty"`
	MintedSerial        *int64     `json:"minted_serial,omitempty"`
	SubmitTransactionID string     `gorm:"index" json:"submit_transaction_id"`
	ReviewTransactionID string     `json:"review_transaction_id,omitempty"`
	SubmittedAt         time.Time  `json:"submitted_at"`
	ReviewedAt          *time.Time `json:"reviewed_at,omitempty"`
	CreatedAt           time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt           time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

// CreditView mirrors a registry credit
type CreditView struct {
	ID           uuid.UUID `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	TokenID      string    `gorm:"not null" json:"token_id"`
	SerialNumber int64     `gorm:"uniqueIndex;not null" json:"serial_number"`
	ProjectID    uint64    `gorm:"index" json:"project_id"`
	Owner        string    `gorm:"index;not null" json:"owner"`
	Status       string    `json:"status"`
	MintedAt     time.Time `json:"minted_at"`
	UpdatedAt    time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// ListingView mirrors a marketplace listing
type ListingView struct {
	ID           uuid.UUID  `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	ListingID    uint64     `gorm:"uniqueIndex;not null" json:"listing_id"`
	SerialNumber int64      `gorm:"index;not null" json:"serial_number"`
	Seller       string     `gorm:"index;not null" json:"seller"`
	Buyer        string     `json:"buyer,omitempty"`
	Price        int64      `json:"price"`
	PlatformFee  int64      `json:"platform_fee"`
	Proceeds     int64      `json:"proceeds"`
	IsActive     bool       `gorm:"index" json:"is_active"`
	Sold         bool       `json:"sold"`
	Withdrawn    bool       `json:"withdrawn"`
	Claimed      bool       `json:"claimed"`
	ListedAt     time.Time  `json:"listed_at"`
	SoldAt       *time.Time `json:"sold_at,omitempty"`
	UpdatedAt    time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

// Submission states
const (
	SubmissionUnconfirmed = "unconfirmed"
	SubmissionConfirmed   = "confirmed"
	SubmissionFailed      = "failed"
)

// PendingSubmission tracks a project submission whose receipt succeeded but
// whose record has not been resolved yet
type PendingSubmission struct {
	ID                uuid.UUID      `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	TransactionID     string         `gorm:"uniqueIndex;not null" json:"transaction_id"`
	Proposer          string         `gorm:"index;not null" json:"proposer"`
	MetadataReference string         `json:"metadata_reference"`
	FeePaid           int64          `json:"fee_paid"`
	Status            string         `gorm:"index;not null;default:'unconfirmed'" json:"status"`
	ProjectID         *uint64        `json:"project_id,omitempty"`
	Attempts          int            `json:"attempts"`
	LastError         string         `json:"last_error,omitempty"`
	Record            datatypes.JSON `gorm:"type:jsonb" json:"record,omitempty"`
	CreatedAt         time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt         time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
}

// ProjectFilter narrows project queries. Zero fields are ignored.
type ProjectFilter struct {
	Proposer string
	Status   string
	Verifier string
	Limit    int
}

// ListingFilter narrows listing queries
type ListingFilter struct {
	Seller     string
	ActiveOnly bool
	SoldOnly   bool
	Limit      int
}
