package domain

import (
	"sort"
	"time"

	"github.com/bwmarrin/snowflake"
)

type EventType string

const (
	EventTypePhase   EventType = "PHASE"
	EventTypeAPIUser EventType = "API_USER"
)

type UserEventType string

const (
	UserEventCreate             UserEventType = "CREATE"
	UserEventReCreate           UserEventType = "RE_CREATE"
	UserEventChange             UserEventType = "CHANGE"
	UserEventCancel             UserEventType = "CANCEL"
	UserEventUncancel           UserEventType = "UNCANCEL"
	UserEventMigrateEntitlement UserEventType = "MIGRATE_ENTITLEMENT"
	UserEventMigrateBilling     UserEventType = "MIGRATE_BILLING"
	UserEventTransfer           UserEventType = "TRANSFER"
)

// Event is one row of the append-only subscription log. Date, type and plan
// fields never change after insert; repair bumps CurrentVersion and undo
// flips Active. Rows are never deleted.
type Event struct {
	ID             snowflake.ID  `gorm:"primaryKey"`
	SubscriptionID snowflake.ID  `gorm:"not null;index"`
	TotalOrdering  int64         `gorm:"not null;index"`
	EventType      EventType     `gorm:"type:text;not null"`
	UserType       UserEventType `gorm:"type:text"`
	RequestedDate  time.Time     `gorm:"not null"`
	EffectiveDate  time.Time     `gorm:"not null;index"`
	PlanName       string        `gorm:"type:text"`
	PhaseName      string        `gorm:"type:text"`
	PriceListName  string        `gorm:"type:text"`
	CurrentVersion int64         `gorm:"not null;default:1"`
	Active         bool          `gorm:"not null;default:true"`
	CreatedAt      time.Time     `gorm:"not null"`
	UpdatedAt      time.Time     `gorm:"not null"`

	// Synthetic marks implied add-on cancels that appear in the read model
	// but are not persisted until the base-plan change they derive from
	// becomes effective. Rows loaded from disk are never synthetic.
	Synthetic bool `gorm:"-"`
}

func (Event) TableName() string { return "subscription_events" }

func (e *Event) IsUserEvent() bool {
	return e.EventType == EventTypeAPIUser
}

// SortEvents orders events for replay: by effective date, with the log-wide
// insertion sequence as the deterministic tie-break.
func SortEvents(events []Event) {
	sort.SliceStable(events, func(i, j int) bool {
		if events[i].EffectiveDate.Equal(events[j].EffectiveDate) {
			return events[i].TotalOrdering < events[j].TotalOrdering
		}
		return events[i].EffectiveDate.Before(events[j].EffectiveDate)
	})
}
