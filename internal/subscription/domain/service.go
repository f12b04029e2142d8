package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	catalogdomain "github.com/nsiitk/killbill/internal/catalog/domain"
)

type Service interface {
	Create(ctx context.Context, req CreateSubscriptionRequest) (*Subscription, error)
	Recreate(ctx context.Context, req RecreateSubscriptionRequest) (*Subscription, error)

	GetSubscription(ctx context.Context, id snowflake.ID) (*Subscription, error)
	GetBundleSubscriptions(ctx context.Context, bundleID snowflake.ID) ([]*Subscription, error)
	GetDryRunChangePlanStatus(ctx context.Context, req DryRunChangePlanRequest) ([]AddOnChangeStatus, error)

	ChangePlan(ctx context.Context, req ChangePlanRequest) error
	Cancel(ctx context.Context, id snowflake.ID) error
	CancelWithDate(ctx context.Context, id snowflake.ID, effectiveDate time.Time) error
	CancelWithPolicy(ctx context.Context, id snowflake.ID, policy CancelEffectivePolicy) error
	Uncancel(ctx context.Context, id snowflake.ID) error

	Migrate(ctx context.Context, req MigrateRequest) (*Bundle, error)
	Transfer(ctx context.Context, req TransferRequest) (*Bundle, error)
	Repair(ctx context.Context, req RepairRequest) error

	SetChargedThroughDate(ctx context.Context, id snowflake.ID, ctd time.Time) error
}

type CreateSubscriptionRequest struct {
	AccountID   snowflake.ID
	BundleKey   string
	Spec        catalogdomain.PlanSpecifier
	RequestedDate *time.Time
	EffectiveDate *time.Time
}

type RecreateSubscriptionRequest struct {
	SubscriptionID snowflake.ID
	Spec           catalogdomain.PlanSpecifier
	RequestedDate  *time.Time
	EffectiveDate  *time.Time
}

type ChangePlanRequest struct {
	SubscriptionID snowflake.ID
	Spec           catalogdomain.PlanSpecifier
	RequestedDate  *time.Time
	EffectiveDate  *time.Time
}

type DryRunChangePlanRequest struct {
	SubscriptionID snowflake.ID
	Spec           catalogdomain.PlanSpecifier
	EffectiveDate  *time.Time
}

type MigrateRequest struct {
	AccountID     snowflake.ID
	BundleKey     string
	StartDate     time.Time
	Subscriptions []MigrateSubscription
}

type MigrateSubscription struct {
	Spec      catalogdomain.PlanSpecifier
	StartDate time.Time
	// BillingAlignmentDate is the boundary up to which the legacy system
	// keeps billing truth; a MIGRATE_BILLING event is written there.
	BillingAlignmentDate *time.Time
}

type TransferRequest struct {
	SourceBundleID snowflake.ID
	DestAccountID  snowflake.ID
	BundleKey      string
	TransferDate   *time.Time
}

type RepairRequest struct {
	BundleID      snowflake.ID
	Subscriptions []SubscriptionRepair
}

type SubscriptionRepair struct {
	SubscriptionID snowflake.ID
	// SurvivingEventIDs keep their place in the log at the bumped version.
	SurvivingEventIDs []snowflake.ID
	NewEvents         []RepairEvent
}

type RepairEvent struct {
	EventType     EventType
	UserType      UserEventType
	EffectiveDate time.Time
	PlanName      string
	PhaseName     string
	PriceListName string
}
