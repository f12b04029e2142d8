package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	subscriptiondomain "github.com/nsiitk/killbill/internal/subscription/domain"
)

// EffectivePayload describes a transition whose effective date was reached.
func EffectivePayload(accountID, bundleID, subscriptionID snowflake.ID, t subscriptiondomain.Transition, userToken string) TransitionPayload {
	return TransitionPayload{
		Kind:           SignalEffective,
		AccountID:      accountID,
		BundleID:       bundleID,
		SubscriptionID: subscriptionID,
		EventID:        t.EventID,
		EventType:      string(t.EventType),
		UserType:       string(t.UserType),
		RequestedDate:  t.RequestedDate,
		EffectiveDate:  t.EffectiveDate,
		PreviousState:  string(t.PreviousState),
		NextState:      string(t.NextState),
		PreviousPlan:   t.PreviousPlan,
		NextPlan:       t.NextPlan,
		PreviousPhase:  t.PreviousPhase,
		NextPhase:      t.NextPhase,
		UserToken:      userToken,
	}
}

// RequestedPayload announces an accepted operation by its last event.
func RequestedPayload(accountID, bundleID snowflake.ID, e subscriptiondomain.Event, userToken string) TransitionPayload {
	return TransitionPayload{
		Kind:           SignalRequested,
		AccountID:      accountID,
		BundleID:       bundleID,
		SubscriptionID: e.SubscriptionID,
		EventID:        e.ID,
		EventType:      string(e.EventType),
		UserType:       string(e.UserType),
		RequestedDate:  e.RequestedDate,
		EffectiveDate:  e.EffectiveDate,
		NextPlan:       e.PlanName,
		NextPhase:      e.PhaseName,
		UserToken:      userToken,
	}
}

// RepairPayload announces that the bundle's timeline changed shape; one
// signal per repair, not per event.
func RepairPayload(accountID, bundleID snowflake.ID, at time.Time, userToken string) TransitionPayload {
	return TransitionPayload{
		Kind:          SignalRepair,
		AccountID:     accountID,
		BundleID:      bundleID,
		RequestedDate: at,
		EffectiveDate: at,
		UserToken:     userToken,
	}
}
