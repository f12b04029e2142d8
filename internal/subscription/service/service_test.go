package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/nsiitk/killbill/internal/addon"
	busdomain "github.com/nsiitk/killbill/internal/bus/domain"
	"github.com/nsiitk/killbill/internal/catalog"
	catalogdomain "github.com/nsiitk/killbill/internal/catalog/domain"
	"github.com/nsiitk/killbill/internal/clock"
	"github.com/nsiitk/killbill/internal/config"
	"github.com/nsiitk/killbill/internal/migration"
	notificationdomain "github.com/nsiitk/killbill/internal/notification/domain"
	subscriptiondomain "github.com/nsiitk/killbill/internal/subscription/domain"
	"github.com/nsiitk/killbill/internal/subscription/repository"
	testclockctx "github.com/nsiitk/killbill/internal/testclock/context"
)

var baseTime = time.Date(2013, 8, 1, 0, 0, 0, 0, time.UTC)

const day = 24 * time.Hour

type fixture struct {
	db      *gorm.DB
	node    *snowflake.Node
	svc     subscriptiondomain.Service
	repo    subscriptiondomain.Repository
	catalog catalogdomain.Catalog
}

func newFixture(t *testing.T) *fixture {
	return newFixtureWith(t, nil)
}

// newFixtureWith lets a test swap the notification repository, e.g. to
// inject failures into the delivery path.
func newFixtureWith(t *testing.T, notifications notificationdomain.Repository) *fixture {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, migration.RunMigrations(db))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	if notifications == nil {
		notifications = notificationdomain.NewRepository()
	}

	cat := catalog.Provide()
	repo := repository.Provide()
	cfg := &config.Config{
		Dispatcher: config.DispatcherConfig{PollInterval: time.Second, BatchSize: 100},
		Bus:        config.BusConfig{Topic: "subscription.events", OutputBuffer: 16},
	}

	svc := NewService(ServiceParam{
		DB:     db,
		Log:    zap.NewNop(),
		GenID:  node,
		Clock:  clock.SystemClock{},
		Config: cfg,
		Repo:   repo,

		Catalog:       cat,
		AddOns:        addon.New(cat),
		Notifications: notifications,
		Outbox:        busdomain.NewRepository(),
	})

	return &fixture{db: db, node: node, svc: svc, repo: repo, catalog: cat}
}

func at(t time.Time) context.Context {
	return testclockctx.WithSimulatedTime(context.Background(), t)
}

func (f *fixture) createBase(t *testing.T, ctx context.Context, bundleKey string) *subscriptiondomain.Subscription {
	t.Helper()
	sub, err := f.svc.Create(ctx, subscriptiondomain.CreateSubscriptionRequest{
		AccountID: f.node.Generate(),
		BundleKey: bundleKey,
		Spec:      catalogdomain.PlanSpecifier{Product: "Shotgun", BillingPeriod: catalogdomain.BillingPeriodMonthly},
	})
	require.NoError(t, err)
	return sub
}

func (f *fixture) countOutbox(t *testing.T, kind busdomain.SignalKind) int64 {
	t.Helper()
	var n int64
	require.NoError(t, f.db.Model(&busdomain.OutboxMessage{}).Where("kind = ?", kind).Count(&n).Error)
	return n
}

func (f *fixture) countNotifications(t *testing.T, processed bool) int64 {
	t.Helper()
	var n int64
	require.NoError(t, f.db.Model(&notificationdomain.Notification{}).Where("processed = ?", processed).Count(&n).Error)
	return n
}

func TestCreateStartsTrialAndSchedulesPhase(t *testing.T) {
	f := newFixture(t)
	ctx := at(baseTime)

	sub := f.createBase(t, ctx, "bundle-1")

	assert.Equal(t, subscriptiondomain.StateActive, sub.State(baseTime))
	assert.Equal(t, "shotgun-monthly", sub.CurrentPlan(baseTime))
	assert.Equal(t, "shotgun-monthly-trial", sub.CurrentPhase(baseTime))

	// Replay alone carries the subscription into evergreen at the boundary.
	later := baseTime.Add(31 * day)
	assert.Equal(t, "shotgun-monthly-evergreen", sub.CurrentPhase(later))
	assert.Equal(t, subscriptiondomain.StateActive, sub.State(later))

	events, err := f.repo.ActiveEventsForSubscription(ctx, f.db, sub.ID)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, subscriptiondomain.UserEventCreate, events[0].UserType)
	assert.Equal(t, subscriptiondomain.EventTypePhase, events[1].EventType)
	assert.True(t, events[1].EffectiveDate.Equal(baseTime.Add(30*day)))

	// Immediate CREATE signals the bus; the PHASE flip is deferred.
	assert.EqualValues(t, 1, f.countOutbox(t, busdomain.SignalEffective))
	assert.EqualValues(t, 1, f.countOutbox(t, busdomain.SignalRequested))
	assert.EqualValues(t, 1, f.countNotifications(t, false))
}

func TestCreateSecondBaseRejected(t *testing.T) {
	f := newFixture(t)
	ctx := at(baseTime)
	sub := f.createBase(t, ctx, "bundle-1")

	bundle, err := f.repo.FindBundleByID(ctx, f.db, sub.BundleID)
	require.NoError(t, err)

	_, err = f.svc.Create(ctx, subscriptiondomain.CreateSubscriptionRequest{
		AccountID: bundle.AccountID,
		BundleKey: bundle.ExternalKey,
		Spec:      catalogdomain.PlanSpecifier{Product: "Assault-Rifle", BillingPeriod: catalogdomain.BillingPeriodMonthly},
	})
	assert.ErrorIs(t, err, subscriptiondomain.ErrBaseAlreadyExists)
}

func TestCreateAddOnRules(t *testing.T) {
	f := newFixture(t)
	ctx := at(baseTime)

	t.Run("no base", func(t *testing.T) {
		_, err := f.svc.Create(ctx, subscriptiondomain.CreateSubscriptionRequest{
			AccountID: f.node.Generate(),
			BundleKey: "orphan",
			Spec:      catalogdomain.PlanSpecifier{Product: "Telescopic-Scope", BillingPeriod: catalogdomain.BillingPeriodMonthly},
		})
		assert.ErrorIs(t, err, subscriptiondomain.ErrNoBaseSubscription)
	})

	t.Run("allowed", func(t *testing.T) {
		base := f.createBase(t, ctx, "bundle-ok")
		bundle, err := f.repo.FindBundleByID(ctx, f.db, base.BundleID)
		require.NoError(t, err)

		addOn, err := f.svc.Create(ctx, subscriptiondomain.CreateSubscriptionRequest{
			AccountID: bundle.AccountID,
			BundleKey: bundle.ExternalKey,
			Spec:      catalogdomain.PlanSpecifier{Product: "Telescopic-Scope", BillingPeriod: catalogdomain.BillingPeriodMonthly},
		})
		require.NoError(t, err)
		assert.Equal(t, catalogdomain.ProductCategoryAddOn, addOn.Category)
		assert.Equal(t, base.BundleID, addOn.BundleID)
	})

	t.Run("included in base plan", func(t *testing.T) {
		accountID := f.node.Generate()
		_, err := f.svc.Create(ctx, subscriptiondomain.CreateSubscriptionRequest{
			AccountID: accountID,
			BundleKey: "rifle",
			Spec:      catalogdomain.PlanSpecifier{Product: "Assault-Rifle", BillingPeriod: catalogdomain.BillingPeriodMonthly},
		})
		require.NoError(t, err)

		_, err = f.svc.Create(ctx, subscriptiondomain.CreateSubscriptionRequest{
			AccountID: accountID,
			BundleKey: "rifle",
			Spec:      catalogdomain.PlanSpecifier{Product: "Laser-Scope", BillingPeriod: catalogdomain.BillingPeriodMonthly},
		})
		assert.ErrorIs(t, err, subscriptiondomain.ErrAddOnIncluded)
	})
}

func TestEndOfTermCancelUsesChargedThroughDate(t *testing.T) {
	f := newFixture(t)
	ctx := at(baseTime)
	sub := f.createBase(t, ctx, "bundle-1")

	ctd := baseTime.Add(30 * day)
	require.NoError(t, f.svc.SetChargedThroughDate(ctx, sub.ID, ctd))

	now := baseTime.Add(5 * day)
	require.NoError(t, f.svc.CancelWithPolicy(at(now), sub.ID, subscriptiondomain.CancelPolicyEndOfTerm))

	got, err := f.svc.GetSubscription(at(now), sub.ID)
	require.NoError(t, err)

	end := got.FutureEndDate(now)
	require.NotNil(t, end)
	assert.True(t, end.Equal(ctd))
	assert.Equal(t, subscriptiondomain.StateActive, got.State(now))
	assert.Equal(t, subscriptiondomain.StateCancelled, got.State(ctd.Add(time.Hour)))

	// The future cancellation waits in the notification table, not the bus.
	assert.EqualValues(t, 1, f.countOutbox(t, busdomain.SignalEffective)) // the CREATE only
}

func TestUncancelRestoresTimeline(t *testing.T) {
	f := newFixture(t)
	ctx := at(baseTime)
	sub := f.createBase(t, ctx, "bundle-1")

	ctd := baseTime.Add(30 * day)
	require.NoError(t, f.svc.SetChargedThroughDate(ctx, sub.ID, ctd))

	now := baseTime.Add(5 * day)
	require.NoError(t, f.svc.CancelWithPolicy(at(now), sub.ID, subscriptiondomain.CancelPolicyEndOfTerm))
	require.NoError(t, f.svc.Uncancel(at(now), sub.ID))

	got, err := f.svc.GetSubscription(at(now), sub.ID)
	require.NoError(t, err)
	assert.Nil(t, got.FutureEndDate(now))
	assert.Equal(t, subscriptiondomain.StateActive, got.State(ctd.Add(day)))

	// The phase flip killed by the cancellation is back on the books.
	assert.Equal(t, "shotgun-monthly-evergreen", got.CurrentPhase(baseTime.Add(31*day)))

	// Nothing left to uncancel.
	err = f.svc.Uncancel(at(now), sub.ID)
	assert.ErrorIs(t, err, subscriptiondomain.ErrUncancelNoFutureCancel)
}

func TestCancelImmediateTwiceRejected(t *testing.T) {
	f := newFixture(t)
	ctx := at(baseTime)
	sub := f.createBase(t, ctx, "bundle-1")

	require.NoError(t, f.svc.Cancel(ctx, sub.ID))
	assert.ErrorIs(t, f.svc.Cancel(ctx, sub.ID), subscriptiondomain.ErrCancelOnCancelled)
}

func TestChangePlanRejectedWhenFutureCancelled(t *testing.T) {
	f := newFixture(t)
	ctx := at(baseTime)
	sub := f.createBase(t, ctx, "bundle-1")

	require.NoError(t, f.svc.CancelWithDate(ctx, sub.ID, baseTime.Add(10*day)))

	err := f.svc.ChangePlan(ctx, subscriptiondomain.ChangePlanRequest{
		SubscriptionID: sub.ID,
		Spec:           catalogdomain.PlanSpecifier{Product: "Assault-Rifle", BillingPeriod: catalogdomain.BillingPeriodMonthly},
	})
	assert.ErrorIs(t, err, subscriptiondomain.ErrChangeOnFutureCancelled)
}

func TestChangePlanImmediate(t *testing.T) {
	f := newFixture(t)
	sub := f.createBase(t, at(baseTime), "bundle-1")

	now := baseTime.Add(40 * day)
	require.NoError(t, f.svc.ChangePlan(at(now), subscriptiondomain.ChangePlanRequest{
		SubscriptionID: sub.ID,
		Spec:           catalogdomain.PlanSpecifier{Product: "Assault-Rifle", BillingPeriod: catalogdomain.BillingPeriodMonthly},
	}))

	got, err := f.svc.GetSubscription(at(now), sub.ID)
	require.NoError(t, err)
	assert.Equal(t, "assault-rifle-monthly", got.CurrentPlan(now))
	assert.Equal(t, "assault-rifle-monthly-evergreen", got.CurrentPhase(now))
	assert.Equal(t, subscriptiondomain.StateActive, got.State(now))

	// The history before the change is untouched.
	assert.Equal(t, "shotgun-monthly", got.CurrentPlan(baseTime))
	assert.Equal(t, "shotgun-monthly-trial", got.CurrentPhase(baseTime))
}

func TestChangePlanRequiresActive(t *testing.T) {
	f := newFixture(t)
	ctx := at(baseTime)
	sub := f.createBase(t, ctx, "bundle-1")
	require.NoError(t, f.svc.Cancel(ctx, sub.ID))

	err := f.svc.ChangePlan(ctx, subscriptiondomain.ChangePlanRequest{
		SubscriptionID: sub.ID,
		Spec:           catalogdomain.PlanSpecifier{Product: "Assault-Rifle", BillingPeriod: catalogdomain.BillingPeriodMonthly},
	})
	assert.ErrorIs(t, err, subscriptiondomain.ErrChangeOnNonActive)
}

func TestRecreateAfterCancel(t *testing.T) {
	f := newFixture(t)
	ctx := at(baseTime)
	sub := f.createBase(t, ctx, "bundle-1")

	_, err := f.svc.Recreate(ctx, subscriptiondomain.RecreateSubscriptionRequest{
		SubscriptionID: sub.ID,
		Spec:           catalogdomain.PlanSpecifier{Product: "Shotgun", BillingPeriod: catalogdomain.BillingPeriodAnnual},
	})
	assert.ErrorIs(t, err, subscriptiondomain.ErrRecreateOnNonCancelled)

	require.NoError(t, f.svc.Cancel(ctx, sub.ID))

	later := baseTime.Add(10 * day)
	got, err := f.svc.Recreate(at(later), subscriptiondomain.RecreateSubscriptionRequest{
		SubscriptionID: sub.ID,
		Spec:           catalogdomain.PlanSpecifier{Product: "Shotgun", BillingPeriod: catalogdomain.BillingPeriodAnnual},
	})
	require.NoError(t, err)
	assert.Equal(t, subscriptiondomain.StateActive, got.State(later))
	assert.Equal(t, "shotgun-annual", got.CurrentPlan(later))
	assert.Equal(t, subscriptiondomain.StateCancelled, got.State(baseTime.Add(time.Hour)))
}

// failingNotifications breaks the deferred delivery path to prove the whole
// operation rolls back with it.
type failingNotifications struct {
	notificationdomain.Repository
}

func (failingNotifications) Schedule(context.Context, *gorm.DB, *notificationdomain.Notification) error {
	return errors.New("notification store unavailable")
}

func TestCreateRollsBackWhenNotificationFails(t *testing.T) {
	f := newFixtureWith(t, failingNotifications{notificationdomain.NewRepository()})
	ctx := at(baseTime)

	effective := baseTime.Add(5 * day)
	_, err := f.svc.Create(ctx, subscriptiondomain.CreateSubscriptionRequest{
		AccountID:     f.node.Generate(),
		BundleKey:     "bundle-1",
		Spec:          catalogdomain.PlanSpecifier{Product: "Shotgun", BillingPeriod: catalogdomain.BillingPeriodMonthly},
		EffectiveDate: &effective,
	})
	require.Error(t, err)

	// No partial state: the event log, identity rows and outbox are empty.
	for _, model := range []any{
		&subscriptiondomain.Bundle{},
		&subscriptiondomain.Subscription{},
		&subscriptiondomain.Event{},
		&busdomain.OutboxMessage{},
	} {
		var n int64
		require.NoError(t, f.db.Model(model).Count(&n).Error)
		assert.Zero(t, n)
	}
}

func TestRepairBumpsVersionsAndSignalsOnce(t *testing.T) {
	f := newFixture(t)
	ctx := at(baseTime)
	sub := f.createBase(t, ctx, "bundle-1")

	events, err := f.repo.ActiveEventsForSubscription(ctx, f.db, sub.ID)
	require.NoError(t, err)
	require.Len(t, events, 2)
	createEvent := events[0]

	// Rewrite history: keep the CREATE, drop the PHASE, cancel in the past.
	now := baseTime.Add(15 * day)
	require.NoError(t, f.svc.Repair(at(now), subscriptiondomain.RepairRequest{
		BundleID: sub.BundleID,
		Subscriptions: []subscriptiondomain.SubscriptionRepair{{
			SubscriptionID:    sub.ID,
			SurvivingEventIDs: []snowflake.ID{createEvent.ID},
			NewEvents: []subscriptiondomain.RepairEvent{{
				EventType:     subscriptiondomain.EventTypeAPIUser,
				UserType:      subscriptiondomain.UserEventCancel,
				EffectiveDate: baseTime.Add(10 * day),
			}},
		}},
	}))

	got, err := f.svc.GetSubscription(at(now), sub.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 2, got.ActiveVersion)
	assert.Equal(t, subscriptiondomain.StateCancelled, got.State(now))
	// The dropped PHASE event never fires in the repaired timeline.
	assert.Equal(t, "shotgun-monthly-trial", got.CurrentPhase(baseTime.Add(40*day)))

	assert.EqualValues(t, 1, f.countOutbox(t, busdomain.SignalRepair))
}

func TestChangePlanResynthesizesMigrateBilling(t *testing.T) {
	f := newFixture(t)
	ctx := at(baseTime)

	billingDate := baseTime.Add(10 * day)
	bundle, err := f.svc.Migrate(ctx, subscriptiondomain.MigrateRequest{
		AccountID: f.node.Generate(),
		BundleKey: "legacy-1",
		StartDate: baseTime.Add(-60 * day),
		Subscriptions: []subscriptiondomain.MigrateSubscription{{
			Spec:                 catalogdomain.PlanSpecifier{Product: "Shotgun", BillingPeriod: catalogdomain.BillingPeriodMonthly},
			StartDate:            baseTime.Add(-60 * day),
			BillingAlignmentDate: &billingDate,
		}},
	})
	require.NoError(t, err)

	subs, err := f.svc.GetBundleSubscriptions(ctx, bundle.ID)
	require.NoError(t, err)
	require.Len(t, subs, 1)
	sub := subs[0]
	assert.Equal(t, subscriptiondomain.StateActive, sub.State(baseTime))

	require.NoError(t, f.svc.ChangePlan(ctx, subscriptiondomain.ChangePlanRequest{
		SubscriptionID: sub.ID,
		Spec:           catalogdomain.PlanSpecifier{Product: "Assault-Rifle", BillingPeriod: catalogdomain.BillingPeriodMonthly},
	}))

	// The billing handoff boundary survived the change and now carries the
	// new plan, so billing consumers see the change when they take over.
	future, err := f.repo.FutureActiveEvents(ctx, f.db, sub.ID, baseTime)
	require.NoError(t, err)
	var migrateBilling *subscriptiondomain.Event
	for i := range future {
		if future[i].UserType == subscriptiondomain.UserEventMigrateBilling {
			migrateBilling = &future[i]
		}
	}
	require.NotNil(t, migrateBilling)
	assert.Equal(t, "assault-rifle-monthly", migrateBilling.PlanName)
	assert.True(t, migrateBilling.EffectiveDate.Equal(billingDate))
}

func TestTransferMovesActiveSubscriptions(t *testing.T) {
	f := newFixture(t)
	ctx := at(baseTime)
	base := f.createBase(t, ctx, "bundle-1")

	srcBundle, err := f.repo.FindBundleByID(ctx, f.db, base.BundleID)
	require.NoError(t, err)
	_, err = f.svc.Create(ctx, subscriptiondomain.CreateSubscriptionRequest{
		AccountID: srcBundle.AccountID,
		BundleKey: srcBundle.ExternalKey,
		Spec:      catalogdomain.PlanSpecifier{Product: "Telescopic-Scope", BillingPeriod: catalogdomain.BillingPeriodMonthly},
	})
	require.NoError(t, err)

	now := baseTime.Add(10 * day)
	destAccount := f.node.Generate()
	dest, err := f.svc.Transfer(at(now), subscriptiondomain.TransferRequest{
		SourceBundleID: srcBundle.ID,
		DestAccountID:  destAccount,
	})
	require.NoError(t, err)
	assert.Equal(t, srcBundle.ExternalKey, dest.ExternalKey)

	moved, err := f.svc.GetBundleSubscriptions(at(now), dest.ID)
	require.NoError(t, err)
	require.Len(t, moved, 2)
	assert.Equal(t, catalogdomain.ProductCategoryBase, moved[0].Category)
	assert.Equal(t, "shotgun-monthly", moved[0].CurrentPlan(now))
	assert.Equal(t, subscriptiondomain.StateActive, moved[0].State(now))

	left, err := f.svc.GetBundleSubscriptions(at(now), srcBundle.ID)
	require.NoError(t, err)
	for _, sub := range left {
		assert.Equal(t, subscriptiondomain.StateCancelled, sub.State(now.Add(time.Minute)))
	}
}

func TestImmediateCancelDoomsAddOns(t *testing.T) {
	f := newFixture(t)
	ctx := at(baseTime)
	base := f.createBase(t, ctx, "bundle-1")
	addOn := f.createAddOn(t, ctx, base, "Laser-Scope")

	require.NoError(t, f.svc.Cancel(ctx, base.ID))

	later := baseTime.Add(48 * time.Hour)
	got, err := f.svc.GetSubscription(at(later), addOn.ID)
	require.NoError(t, err)
	assert.Equal(t, subscriptiondomain.StateCancelled, got.State(later))

	// The implied cancellation is a persisted event, not a read-model overlay.
	events, err := f.repo.ActiveEventsForSubscription(ctx, f.db, addOn.ID)
	require.NoError(t, err)
	var cancel *subscriptiondomain.Event
	for i := range events {
		if events[i].UserType == subscriptiondomain.UserEventCancel {
			cancel = &events[i]
		}
	}
	require.NotNil(t, cancel)
	assert.True(t, cancel.EffectiveDate.Equal(baseTime))
}

func TestImmediateChangeDoomsStrandedAddOns(t *testing.T) {
	f := newFixture(t)
	ctx := at(baseTime)
	base := f.createBase(t, ctx, "bundle-1")
	laser := f.createAddOn(t, ctx, base, "Laser-Scope")
	telescopic := f.createAddOn(t, ctx, base, "Telescopic-Scope")

	now := baseTime.Add(40 * day)
	require.NoError(t, f.svc.ChangePlan(at(now), subscriptiondomain.ChangePlanRequest{
		SubscriptionID: base.ID,
		Spec:           catalogdomain.PlanSpecifier{Product: "Assault-Rifle", BillingPeriod: catalogdomain.BillingPeriodMonthly},
	}))

	// Laser-Scope ships inside assault-rifle-monthly, so the standalone
	// subscription dies with the change.
	gotLaser, err := f.svc.GetSubscription(at(now), laser.ID)
	require.NoError(t, err)
	assert.Equal(t, subscriptiondomain.StateCancelled, gotLaser.State(now.Add(time.Hour)))

	// Telescopic-Scope stays purchasable under the new plan.
	gotScope, err := f.svc.GetSubscription(at(now), telescopic.ID)
	require.NoError(t, err)
	assert.Equal(t, subscriptiondomain.StateActive, gotScope.State(now.Add(time.Hour)))
	assert.Nil(t, gotScope.FutureEndDate(now))
}

func TestUncancelAfterPhaseBoundary(t *testing.T) {
	f := newFixture(t)
	ctx := at(baseTime)
	sub := f.createBase(t, ctx, "bundle-1")

	ctd := baseTime.Add(60 * day)
	require.NoError(t, f.svc.SetChargedThroughDate(ctx, sub.ID, ctd))
	require.NoError(t, f.svc.CancelWithPolicy(at(baseTime.Add(10*day)), sub.ID, subscriptiondomain.CancelPolicyEndOfTerm))

	// The trial boundary has already passed when the uncancel lands; it
	// still has to come back so replay leaves the trial.
	now := baseTime.Add(40 * day)
	require.NoError(t, f.svc.Uncancel(at(now), sub.ID))

	got, err := f.svc.GetSubscription(at(now), sub.ID)
	require.NoError(t, err)
	assert.Nil(t, got.FutureEndDate(now))
	assert.Equal(t, "shotgun-monthly-evergreen", got.CurrentPhase(baseTime.Add(45*day)))
	assert.Equal(t, subscriptiondomain.StateActive, got.State(baseTime.Add(70*day)))
}
