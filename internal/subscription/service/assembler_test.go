package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	catalogdomain "github.com/nsiitk/killbill/internal/catalog/domain"
	subscriptiondomain "github.com/nsiitk/killbill/internal/subscription/domain"
)

func (f *fixture) createAddOn(t *testing.T, ctx context.Context, base *subscriptiondomain.Subscription, product string) *subscriptiondomain.Subscription {
	t.Helper()
	bundle, err := f.repo.FindBundleByID(ctx, f.db, base.BundleID)
	require.NoError(t, err)
	sub, err := f.svc.Create(ctx, subscriptiondomain.CreateSubscriptionRequest{
		AccountID: bundle.AccountID,
		BundleKey: bundle.ExternalKey,
		Spec:      catalogdomain.PlanSpecifier{Product: product, BillingPeriod: catalogdomain.BillingPeriodMonthly},
	})
	require.NoError(t, err)
	return sub
}

func TestImpliedAddOnCancelOnBaseCancel(t *testing.T) {
	f := newFixture(t)
	ctx := at(baseTime)
	base := f.createBase(t, ctx, "bundle-1")
	addOn := f.createAddOn(t, ctx, base, "Telescopic-Scope")

	cancelDate := baseTime.Add(10 * day)
	require.NoError(t, f.svc.CancelWithDate(ctx, base.ID, cancelDate))

	subs, err := f.svc.GetBundleSubscriptions(ctx, base.BundleID)
	require.NoError(t, err)
	require.Len(t, subs, 2)

	var got *subscriptiondomain.Subscription
	for _, s := range subs {
		if s.ID == addOn.ID {
			got = s
		}
	}
	require.NotNil(t, got)

	// The add-on timeline shows the cancellation implied by the base going
	// away, without a row of its own in the event log.
	end := got.FutureEndDate(baseTime)
	require.NotNil(t, end)
	assert.True(t, end.Equal(cancelDate))
	assert.Equal(t, subscriptiondomain.StateCancelled, got.State(cancelDate.Add(time.Hour)))

	events, err := f.repo.AllEventsForSubscription(ctx, f.db, addOn.ID)
	require.NoError(t, err)
	for _, e := range events {
		assert.NotEqual(t, subscriptiondomain.UserEventCancel, e.UserType)
	}
}

func TestFutureChangeDoomsIncludedAddOn(t *testing.T) {
	f := newFixture(t)
	ctx := at(baseTime)
	base := f.createBase(t, ctx, "bundle-1")
	laser := f.createAddOn(t, ctx, base, "Laser-Scope")
	telescopic := f.createAddOn(t, ctx, base, "Telescopic-Scope")

	changeDate := baseTime.Add(10 * day)
	require.NoError(t, f.svc.ChangePlan(ctx, subscriptiondomain.ChangePlanRequest{
		SubscriptionID: base.ID,
		Spec:           catalogdomain.PlanSpecifier{Product: "Assault-Rifle", BillingPeriod: catalogdomain.BillingPeriodMonthly},
		EffectiveDate:  &changeDate,
	}))

	subs, err := f.svc.GetBundleSubscriptions(ctx, base.BundleID)
	require.NoError(t, err)

	byID := map[int64]*subscriptiondomain.Subscription{}
	for _, s := range subs {
		byID[s.ID.Int64()] = s
	}

	// Laser-Scope comes bundled with the target plan, so its standalone
	// subscription dies with the change. Telescopic-Scope is still
	// purchasable on the new plan and survives.
	end := byID[laser.ID.Int64()].FutureEndDate(baseTime)
	require.NotNil(t, end)
	assert.True(t, end.Equal(changeDate))
	assert.Nil(t, byID[telescopic.ID.Int64()].FutureEndDate(baseTime))
}

func TestGetDryRunChangePlanStatus(t *testing.T) {
	f := newFixture(t)
	ctx := at(baseTime)
	base := f.createBase(t, ctx, "bundle-1")
	laser := f.createAddOn(t, ctx, base, "Laser-Scope")
	f.createAddOn(t, ctx, base, "Telescopic-Scope")

	statuses, err := f.svc.GetDryRunChangePlanStatus(ctx, subscriptiondomain.DryRunChangePlanRequest{
		SubscriptionID: base.ID,
		Spec:           catalogdomain.PlanSpecifier{Product: "Assault-Rifle", BillingPeriod: catalogdomain.BillingPeriodMonthly},
	})
	require.NoError(t, err)
	require.Len(t, statuses, 1)
	assert.Equal(t, laser.ID, statuses[0].SubscriptionID)
	assert.Equal(t, "Laser-Scope", statuses[0].Product)
	assert.Equal(t, subscriptiondomain.ReasonAddOnIncluded, statuses[0].Reason)

	// Nothing was written: dry-run leaves the log alone.
	events, err := f.repo.ActiveEventsForSubscription(ctx, f.db, base.ID)
	require.NoError(t, err)
	for _, e := range events {
		assert.NotEqual(t, subscriptiondomain.UserEventChange, e.UserType)
	}
}

func TestBundleAlignedAddOnPhaseAnchoring(t *testing.T) {
	f := newFixture(t)
	base := f.createBase(t, at(baseTime), "bundle-1")

	// Ten days into the bundle, the add-on only gets the remainder of the
	// bundle-aligned discount window.
	joined := baseTime.Add(10 * day)
	addOn := f.createAddOn(t, at(joined), base, "Telescopic-Scope")

	assert.Equal(t, "telescopic-scope-monthly-discount", addOn.CurrentPhase(joined))
	assert.Equal(t, "telescopic-scope-monthly-evergreen", addOn.CurrentPhase(baseTime.Add(31*day)))

	events, err := f.repo.ActiveEventsForSubscription(at(joined), f.db, addOn.ID)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, subscriptiondomain.EventTypePhase, events[1].EventType)
	assert.True(t, events[1].EffectiveDate.Equal(baseTime.Add(30*day)))
}
