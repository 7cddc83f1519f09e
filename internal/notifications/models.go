package notifications

import (
	"time"

	"github.com/google/uuid"
)

// WebSocket message types
const (
	WSMessageTypeSettlement = "settlement"
	WSMessageTypeStatus     = "status"
	WSMessageTypePresence   = "presence"
)

// Settlement events
const (
	EventProjectSubmitted    = "project.submitted"
	EventSubmissionConfirmed = "project.submission_confirmed"
	EventProjectReviewed     = "project.reviewed"
	EventTokenAssociated     = "token.associated"
	EventCreditDeposited     = "credit.deposited"
	EventCreditListed        = "credit.listed"
	EventCreditSold          = "credit.sold"
	EventProceedsClaimed     = "proceeds.claimed"
	EventListingWithdrawn    = "listing.withdrawn"
)

// WebSocketMessage represents WebSocket message format
type WebSocketMessage struct {
	ID        uuid.UUID              `json:"id"`
	Type      string                 `json:"type"`
	Event     string                 `json:"event,omitempty"`
	Data      map[string]interface{} `json:"data,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
	Channel   string                 `json:"channel"`
	// Targets are the account ids the message is for; empty means everyone
	Targets []string `json:"targets,omitempty"`
	Source  string   `json:"source,omitempty"`
}

// Notifier delivers settlement events
type Notifier interface {
	Publish(msg WebSocketMessage) error
}

// NewSettlementMessage builds a broadcast settlement event
func NewSettlementMessage(event, source string, data map[string]interface{}, targets ...string) WebSocketMessage {
	return WebSocketMessage{
		ID:        uuid.New(),
		Type:      WSMessageTypeSettlement,
		Event:     event,
		Data:      data,
		Timestamp: time.Now().UTC(),
		Channel:   "settlement",
		Targets:   targets,
		Source:    source,
	}
}

// Nop discards every message
type Nop struct{}

func (Nop) Publish(WebSocketMessage) error { return nil }
