package domain

import "errors"

var (
	ErrSubscriptionNotFound = errors.New("subscription not found")
	ErrBundleNotFound       = errors.New("bundle not found")
	ErrEventNotFound        = errors.New("subscription event not found")

	// Conflict errors.
	ErrBundleExists       = errors.New("bundle already exists for account and external key")
	ErrBaseAlreadyExists  = errors.New("base subscription already exists for bundle")
	ErrNoBaseSubscription = errors.New("bundle has no base subscription")
	ErrAddOnNotAvailable  = errors.New("add-on product not available with base plan")
	ErrAddOnIncluded      = errors.New("add-on product included in base plan")

	// Invalid state transitions.
	ErrChangeOnNonActive       = errors.New("change requires an active subscription")
	ErrChangeOnFutureCancelled = errors.New("change rejected: future cancellation pending")
	ErrCancelOnCancelled       = errors.New("subscription is already cancelled")
	ErrRecreateOnNonCancelled  = errors.New("re-create requires a cancelled subscription")
	ErrUncancelNoFutureCancel  = errors.New("uncancel requires a pending future cancellation")

	// Defensive: at most one active future event of a kind is expected.
	ErrDataInconsistency = errors.New("multiple active future events found")
)
