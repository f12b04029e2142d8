package domain

import (
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
)

var ErrNotificationNotFound = errors.New("notification not found")

// Notification is a durable "wake at time T" entry keyed by the subscription
// event it fires for. Written in the same transaction as the event row.
type Notification struct {
	ID             snowflake.ID `gorm:"primaryKey"`
	EventID        snowflake.ID `gorm:"not null;uniqueIndex"`
	SubscriptionID snowflake.ID `gorm:"not null;index"`
	EffectiveDate  time.Time    `gorm:"not null;index"`
	Processed      bool         `gorm:"not null;default:false;index"`
	ProcessedAt    *time.Time   `gorm:""`
	CreatedAt      time.Time    `gorm:"not null"`
	UpdatedAt      time.Time    `gorm:"not null"`
}

func (Notification) TableName() string { return "subscription_notifications" }
