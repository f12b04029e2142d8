package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	catalogdomain "github.com/nsiitk/killbill/internal/catalog/domain"
)

type State string

const (
	StatePending   State = "PENDING"
	StateActive    State = "ACTIVE"
	StateCancelled State = "CANCELLED"
)

// Bundle groups one optional base subscription with its add-ons under an
// external key unique per account.
type Bundle struct {
	ID          snowflake.ID `gorm:"primaryKey"`
	AccountID   snowflake.ID `gorm:"not null;index:idx_bundle_account_key,unique"`
	ExternalKey string       `gorm:"type:text;not null;index:idx_bundle_account_key,unique"`
	StartDate   time.Time    `gorm:"not null"`
	CreatedAt   time.Time    `gorm:"not null"`
	UpdatedAt   time.Time    `gorm:"not null"`
}

func (Bundle) TableName() string { return "subscription_bundles" }

// Subscription persists identity and alignment only; plan, phase and state
// are rebuilt from the event log on every access.
type Subscription struct {
	ID                 snowflake.ID                  `gorm:"primaryKey"`
	BundleID           snowflake.ID                  `gorm:"not null;index"`
	Category           catalogdomain.ProductCategory `gorm:"type:text;not null"`
	StartDate          time.Time                     `gorm:"not null"`
	BundleStartDate    time.Time                     `gorm:"not null"`
	ChargedThroughDate *time.Time                    `gorm:""`
	ActiveVersion      int64                         `gorm:"not null;default:1"`
	CreatedAt          time.Time                     `gorm:"not null"`
	UpdatedAt          time.Time                     `gorm:"not null"`

	// Rebuilt, never persisted.
	Events      []Event      `gorm:"-"`
	Transitions []Transition `gorm:"-"`
}

func (Subscription) TableName() string { return "subscriptions" }

// AlignStartDate is the instant phase durations are measured from.
func (s *Subscription) AlignStartDate(plan *catalogdomain.Plan) time.Time {
	if plan != nil && plan.BundleAligned {
		return s.BundleStartDate
	}
	return s.StartDate
}

// Transition is one step of the rebuilt timeline; the contract surface
// billing consumers rely on.
type Transition struct {
	EventID           snowflake.ID
	TotalOrdering     int64
	EventType         EventType
	UserType          UserEventType
	EffectiveDate     time.Time
	RequestedDate     time.Time
	PreviousState     State
	NextState         State
	PreviousPlan      string
	NextPlan          string
	PreviousPhase     string
	NextPhase         string
	PreviousPriceList string
	NextPriceList     string
	Synthetic         bool
}

func (s *Subscription) lastTransitionAsOf(now time.Time) *Transition {
	var last *Transition
	for i := range s.Transitions {
		if s.Transitions[i].EffectiveDate.After(now) {
			break
		}
		last = &s.Transitions[i]
	}
	return last
}

// State derives the subscription state at the given instant.
func (s *Subscription) State(now time.Time) State {
	last := s.lastTransitionAsOf(now)
	if last == nil {
		return StatePending
	}
	return last.NextState
}

func (s *Subscription) CurrentPlan(now time.Time) string {
	if last := s.lastTransitionAsOf(now); last != nil {
		return last.NextPlan
	}
	return ""
}

func (s *Subscription) CurrentPhase(now time.Time) string {
	if last := s.lastTransitionAsOf(now); last != nil {
		return last.NextPhase
	}
	return ""
}

func (s *Subscription) CurrentPriceList(now time.Time) string {
	if last := s.lastTransitionAsOf(now); last != nil {
		return last.NextPriceList
	}
	return ""
}

// FutureEndDate returns the effective date of a pending cancellation, nil
// when none is scheduled.
func (s *Subscription) FutureEndDate(now time.Time) *time.Time {
	for i := range s.Transitions {
		t := &s.Transitions[i]
		if t.NextState == StateCancelled && t.EffectiveDate.After(now) {
			d := t.EffectiveDate
			return &d
		}
	}
	return nil
}

// FutureUserEvent returns the subscription's nearest future API event of the
// given kinds, nil when none exists. Events must be the active set.
func (s *Subscription) FutureUserEvent(now time.Time, kinds ...UserEventType) *Event {
	for i := range s.Events {
		e := &s.Events[i]
		if !e.Active || !e.IsUserEvent() || !e.EffectiveDate.After(now) {
			continue
		}
		for _, k := range kinds {
			if e.UserType == k {
				return e
			}
		}
	}
	return nil
}

// CancelEffectivePolicy selects how a cancellation date is computed.
type CancelEffectivePolicy string

const (
	CancelPolicyImmediate CancelEffectivePolicy = "IMMEDIATE"
	CancelPolicyEndOfTerm CancelEffectivePolicy = "END_OF_TERM"
)

// DryRunChangeReason explains why an add-on would be cancelled by a base
// plan change.
type DryRunChangeReason string

const (
	ReasonAddOnNotAvailable DryRunChangeReason = "AO_NOT_AVAILABLE_IN_NEW_PLAN"
	ReasonAddOnIncluded     DryRunChangeReason = "AO_INCLUDED_IN_NEW_PLAN"
)

// AddOnChangeStatus is one row of a dry-run change report.
type AddOnChangeStatus struct {
	SubscriptionID snowflake.ID
	Product        string
	Reason         DryRunChangeReason
}
