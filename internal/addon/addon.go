// Package addon couples an add-on subscription's lifecycle to its base plan.
package addon

import (
	"context"
	"time"

	catalogdomain "github.com/nsiitk/killbill/internal/catalog/domain"
	subscriptiondomain "github.com/nsiitk/killbill/internal/subscription/domain"
)

type Utils struct {
	catalog catalogdomain.Catalog
}

func New(catalog catalogdomain.Catalog) *Utils {
	return &Utils{catalog: catalog}
}

// Status reports whether an add-on product survives under the given base
// plan at the given instant, and why not. Inclusion wins over availability:
// a product bundled into the base plan is redundant as a standalone
// subscription whether or not the plan also lists it as purchasable.
func (u *Utils) Status(ctx context.Context, addOnProduct string, asOf time.Time, basePlanName string) (subscriptiondomain.DryRunChangeReason, bool, error) {
	included, err := u.catalog.IsIncluded(ctx, addOnProduct, asOf, basePlanName)
	if err != nil {
		return "", false, err
	}
	if included {
		return subscriptiondomain.ReasonAddOnIncluded, true, nil
	}

	available, err := u.catalog.IsAvailable(ctx, addOnProduct, asOf, basePlanName)
	if err != nil {
		return "", false, err
	}
	if !available {
		return subscriptiondomain.ReasonAddOnNotAvailable, true, nil
	}
	return "", false, nil
}

// ImpliedCancel decides whether a pending base CANCEL/CHANGE event implies
// cancelling the add-on, and synthesizes the cancellation event. The result
// is visible in the rebuilt timeline but never persisted here; the real row
// is written when the base event becomes effective.
func (u *Utils) ImpliedCancel(ctx context.Context, baseFutureEvent *subscriptiondomain.Event, addOn *subscriptiondomain.Subscription, addOnPlan string, now time.Time) (*subscriptiondomain.Event, error) {
	if baseFutureEvent == nil || addOnPlan == "" {
		return nil, nil
	}

	cancelled := baseFutureEvent.UserType == subscriptiondomain.UserEventCancel
	if !cancelled {
		plan, err := u.catalog.FindPlan(ctx, addOnPlan, baseFutureEvent.EffectiveDate)
		if err != nil {
			return nil, err
		}
		_, doomed, err := u.Status(ctx, plan.Product, baseFutureEvent.EffectiveDate, baseFutureEvent.PlanName)
		if err != nil {
			return nil, err
		}
		if !doomed {
			return nil, nil
		}
	}

	return &subscriptiondomain.Event{
		SubscriptionID: addOn.ID,
		TotalOrdering:  baseFutureEvent.TotalOrdering,
		EventType:      subscriptiondomain.EventTypeAPIUser,
		UserType:       subscriptiondomain.UserEventCancel,
		RequestedDate:  now,
		EffectiveDate:  baseFutureEvent.EffectiveDate,
		CurrentVersion: addOn.ActiveVersion,
		Active:         true,
		CreatedAt:      baseFutureEvent.CreatedAt,
		UpdatedAt:      baseFutureEvent.CreatedAt,
		Synthetic:      true,
	}, nil
}
