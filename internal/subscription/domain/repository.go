package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

// Repository is the event store plus the identity rows it hangs off.
// Every method runs against the caller's db handle so writes enlist in the
// caller's transaction.
type Repository interface {
	InsertBundle(ctx context.Context, db *gorm.DB, bundle *Bundle) error
	FindBundleByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Bundle, error)
	FindBundleByKey(ctx context.Context, db *gorm.DB, accountID snowflake.ID, externalKey string) (*Bundle, error)

	InsertSubscription(ctx context.Context, db *gorm.DB, sub *Subscription) error
	FindSubscriptionByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Subscription, error)
	ListSubscriptionsByBundle(ctx context.Context, db *gorm.DB, bundleID snowflake.ID) ([]Subscription, error)
	UpdateChargedThroughDate(ctx context.Context, db *gorm.DB, id snowflake.ID, ctd time.Time) error
	UpdateForRepair(ctx context.Context, db *gorm.DB, id snowflake.ID, activeVersion int64) error

	// InsertEvents appends to the log; rows are immutable afterwards except
	// for Active and CurrentVersion.
	InsertEvents(ctx context.Context, db *gorm.DB, events []*Event) error
	FindEventByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Event, error)
	// ActiveEventsForSubscription returns active events ordered by
	// (effective_date, total_ordering).
	ActiveEventsForSubscription(ctx context.Context, db *gorm.DB, subscriptionID snowflake.ID) ([]Event, error)
	// AllEventsForSubscription includes soft-deactivated rows, for audit and
	// repair.
	AllEventsForSubscription(ctx context.Context, db *gorm.DB, subscriptionID snowflake.ID) ([]Event, error)
	FutureActiveEvents(ctx context.Context, db *gorm.DB, subscriptionID snowflake.ID, asOf time.Time) ([]Event, error)
	UnactivateEvent(ctx context.Context, db *gorm.DB, eventID snowflake.ID) error
	UpdateEventVersion(ctx context.Context, db *gorm.DB, eventID snowflake.ID, version int64) error
}
