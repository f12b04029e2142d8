package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// SignalKind distinguishes the three bus signal flavors consumers see.
type SignalKind string

const (
	// SignalEffective announces a transition whose effective date has been
	// reached (immediate operations and dispatcher wake-ups).
	SignalEffective SignalKind = "EFFECTIVE"
	// SignalRequested announces that an operation was accepted, regardless
	// of when it takes effect.
	SignalRequested SignalKind = "REQUESTED"
	// SignalRepair announces that a bundle's whole timeline changed shape.
	SignalRepair SignalKind = "REPAIR"
)

// OutboxMessage is the transactional outbox row: written with the event rows
// it describes, drained by the publisher after commit.
type OutboxMessage struct {
	ID          snowflake.ID   `gorm:"primaryKey"`
	Topic       string         `gorm:"type:text;not null"`
	Kind        SignalKind     `gorm:"type:text;not null"`
	UserToken   string         `gorm:"type:text"`
	Payload     datatypes.JSON `gorm:"not null"`
	Published   bool           `gorm:"not null;default:false;index"`
	PublishedAt *time.Time     `gorm:""`
	CreatedAt   time.Time      `gorm:"not null"`
	UpdatedAt   time.Time      `gorm:"not null"`
}

func (OutboxMessage) TableName() string { return "bus_outbox" }

// TransitionPayload is the JSON body consumers receive. EventID plus
// UserToken give downstreams an idempotency key.
type TransitionPayload struct {
	Kind           SignalKind   `json:"kind"`
	AccountID      snowflake.ID `json:"account_id"`
	BundleID       snowflake.ID `json:"bundle_id"`
	SubscriptionID snowflake.ID `json:"subscription_id"`
	EventID        snowflake.ID `json:"event_id"`
	EventType      string       `json:"event_type"`
	UserType       string       `json:"user_type,omitempty"`
	RequestedDate  time.Time    `json:"requested_date"`
	EffectiveDate  time.Time    `json:"effective_date"`
	PreviousState  string       `json:"previous_state,omitempty"`
	NextState      string       `json:"next_state,omitempty"`
	PreviousPlan   string       `json:"previous_plan,omitempty"`
	NextPlan       string       `json:"next_plan,omitempty"`
	PreviousPhase  string       `json:"previous_phase,omitempty"`
	NextPhase      string       `json:"next_phase,omitempty"`
	UserToken      string       `json:"user_token,omitempty"`
}
