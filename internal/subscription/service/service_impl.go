package service

import (
	"context"
	"sort"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/samber/lo"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/nsiitk/killbill/internal/addon"
	busdomain "github.com/nsiitk/killbill/internal/bus/domain"
	catalogdomain "github.com/nsiitk/killbill/internal/catalog/domain"
	"github.com/nsiitk/killbill/internal/clock"
	"github.com/nsiitk/killbill/internal/config"
	notificationdomain "github.com/nsiitk/killbill/internal/notification/domain"
	subscriptiondomain "github.com/nsiitk/killbill/internal/subscription/domain"
)

type Service struct {
	db  *gorm.DB
	log *zap.Logger

	genID *snowflake.Node
	clock clock.Clock
	repo  subscriptiondomain.Repository

	catalog       catalogdomain.Catalog
	addons        *addon.Utils
	notifications notificationdomain.Repository
	outbox        busdomain.Repository
	busTopic      string
}

type ServiceParam struct {
	fx.In

	DB     *gorm.DB
	Log    *zap.Logger
	GenID  *snowflake.Node
	Clock  clock.Clock
	Config *config.Config
	Repo   subscriptiondomain.Repository

	Catalog       catalogdomain.Catalog
	AddOns        *addon.Utils
	Notifications notificationdomain.Repository
	Outbox        busdomain.Repository
}

func NewService(p ServiceParam) subscriptiondomain.Service {
	return &Service{
		db:  p.DB,
		log: p.Log.Named("subscription.service"),

		genID: p.GenID,
		clock: p.Clock,
		repo:  p.Repo,

		catalog:       p.Catalog,
		addons:        p.AddOns,
		notifications: p.Notifications,
		outbox:        p.Outbox,
		busTopic:      p.Config.Bus.Topic,
	}
}

func orNow(t *time.Time, now time.Time) time.Time {
	if t != nil {
		return *t
	}
	return now
}

func (s *Service) newEvent(sub *subscriptiondomain.Subscription, et subscriptiondomain.EventType, ut subscriptiondomain.UserEventType, requested, effective time.Time, plan, phase, priceList string, now time.Time) *subscriptiondomain.Event {
	return &subscriptiondomain.Event{
		ID:             s.genID.Generate(),
		SubscriptionID: sub.ID,
		TotalOrdering:  s.genID.Generate().Int64(),
		EventType:      et,
		UserType:       ut,
		RequestedDate:  requested,
		EffectiveDate:  effective,
		PlanName:       plan,
		PhaseName:      phase,
		PriceListName:  priceList,
		CurrentVersion: sub.ActiveVersion,
		Active:         true,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

// startEvents builds the event pair that starts (or restarts) a subscription
// on the given plan: the user event itself plus, when the entry phase is
// bounded, the PHASE event at its boundary.
func (s *Service) startEvents(sub *subscriptiondomain.Subscription, plan *catalogdomain.Plan, ut subscriptiondomain.UserEventType, requested, effective, now time.Time) []*subscriptiondomain.Event {
	align := sub.AlignStartDate(plan)
	phase := plan.PhaseAsOf(align, effective)

	events := []*subscriptiondomain.Event{
		s.newEvent(sub, subscriptiondomain.EventTypeAPIUser, ut, requested, effective, plan.Name, phase.Name, plan.PriceList, now),
	}
	if boundary, hasNext := plan.PhaseBoundary(align, phase.Name); hasNext && boundary.After(effective) {
		next, _ := plan.PhaseAfter(phase.Name)
		events = append(events, s.newEvent(sub, subscriptiondomain.EventTypePhase, "", requested, boundary, "", next.Name, "", now))
	}
	return events
}

// rebuild loads the subscription's active events and replays them in place.
func (s *Service) rebuild(ctx context.Context, db *gorm.DB, sub *subscriptiondomain.Subscription) error {
	events, err := s.repo.ActiveEventsForSubscription(ctx, db, sub.ID)
	if err != nil {
		return err
	}
	return sub.RebuildTransitions(ctx, events, s.catalog)
}

// withNewEvents replays a copy of the subscription with events that were just
// inserted, so bus payloads describe the post-operation timeline.
func (s *Service) withNewEvents(ctx context.Context, sub *subscriptiondomain.Subscription, extra []*subscriptiondomain.Event) (*subscriptiondomain.Subscription, error) {
	all := make([]subscriptiondomain.Event, 0, len(sub.Events)+len(extra))
	all = append(all, sub.Events...)
	for _, e := range extra {
		all = append(all, *e)
	}
	built := *sub
	if err := built.RebuildTransitions(ctx, all, s.catalog); err != nil {
		return nil, err
	}
	return &built, nil
}

// cancelFutureEvents soft-deactivates every pending event before a CANCEL or
// CHANGE rewrites the future; rows stay on disk for audit.
func (s *Service) cancelFutureEvents(ctx context.Context, tx *gorm.DB, subscriptionID snowflake.ID, now time.Time) error {
	future, err := s.repo.FutureActiveEvents(ctx, tx, subscriptionID, now)
	if err != nil {
		return err
	}
	for i := range future {
		if err := s.repo.UnactivateEvent(ctx, tx, future[i].ID); err != nil {
			return err
		}
	}
	return nil
}

func findFutureEvent(events []subscriptiondomain.Event, et subscriptiondomain.EventType, ut subscriptiondomain.UserEventType) (*subscriptiondomain.Event, error) {
	var found *subscriptiondomain.Event
	for i := range events {
		e := &events[i]
		if e.EventType != et || (ut != "" && e.UserType != ut) {
			continue
		}
		if found != nil {
			return nil, subscriptiondomain.ErrDataInconsistency
		}
		found = e
	}
	return found, nil
}

// livingBase returns the bundle's base subscription unless it is cancelled.
func (s *Service) livingBase(ctx context.Context, db *gorm.DB, bundleID snowflake.ID, now time.Time) (*subscriptiondomain.Subscription, error) {
	subs, err := s.repo.ListSubscriptionsByBundle(ctx, db, bundleID)
	if err != nil {
		return nil, err
	}
	for i := range subs {
		if subs[i].Category != catalogdomain.ProductCategoryBase {
			continue
		}
		sub := subs[i]
		if err := s.rebuild(ctx, db, &sub); err != nil {
			return nil, err
		}
		if sub.State(now) != subscriptiondomain.StateCancelled {
			return &sub, nil
		}
	}
	return nil, nil
}

func (s *Service) checkAddOnAllowed(ctx context.Context, product string, asOf time.Time, base *subscriptiondomain.Subscription, now time.Time) error {
	if base == nil {
		return subscriptiondomain.ErrNoBaseSubscription
	}
	reason, doomed, err := s.addons.Status(ctx, product, asOf, base.CurrentPlan(now))
	if err != nil {
		return err
	}
	if !doomed {
		return nil
	}
	if reason == subscriptiondomain.ReasonAddOnIncluded {
		return subscriptiondomain.ErrAddOnIncluded
	}
	return subscriptiondomain.ErrAddOnNotAvailable
}

func (s *Service) Create(ctx context.Context, req subscriptiondomain.CreateSubscriptionRequest) (*subscriptiondomain.Subscription, error) {
	now := s.clock.Now(ctx)
	requested := orNow(req.RequestedDate, now)
	effective := orNow(req.EffectiveDate, now)

	plan, err := s.catalog.ResolvePlan(ctx, req.Spec, requested)
	if err != nil {
		return nil, err
	}

	token := s.genID.Generate().String()
	var subscriptionID snowflake.ID
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		bundle, err := s.repo.FindBundleByKey(ctx, tx, req.AccountID, req.BundleKey)
		if err != nil {
			return err
		}
		if bundle == nil {
			bundle = &subscriptiondomain.Bundle{
				ID:          s.genID.Generate(),
				AccountID:   req.AccountID,
				ExternalKey: req.BundleKey,
				StartDate:   effective,
				CreatedAt:   now,
				UpdatedAt:   now,
			}
			if err := s.repo.InsertBundle(ctx, tx, bundle); err != nil {
				return err
			}
		}

		base, err := s.livingBase(ctx, tx, bundle.ID, now)
		if err != nil {
			return err
		}
		switch plan.Category {
		case catalogdomain.ProductCategoryBase:
			if base != nil {
				return subscriptiondomain.ErrBaseAlreadyExists
			}
		case catalogdomain.ProductCategoryAddOn:
			if err := s.checkAddOnAllowed(ctx, plan.Product, effective, base, now); err != nil {
				return err
			}
		}

		sub := &subscriptiondomain.Subscription{
			ID:              s.genID.Generate(),
			BundleID:        bundle.ID,
			Category:        plan.Category,
			StartDate:       effective,
			BundleStartDate: bundle.StartDate,
			ActiveVersion:   1,
			CreatedAt:       now,
			UpdatedAt:       now,
		}
		if err := s.repo.InsertSubscription(ctx, tx, sub); err != nil {
			return err
		}

		events := s.startEvents(sub, plan, subscriptiondomain.UserEventCreate, requested, effective, now)
		if err := s.repo.InsertEvents(ctx, tx, events); err != nil {
			return err
		}

		built, err := s.withNewEvents(ctx, sub, events)
		if err != nil {
			return err
		}
		for _, e := range events {
			if err := s.recordBusOrFutureNotification(ctx, tx, bundle, built, e, now, token); err != nil {
				return err
			}
		}
		if err := s.notifyRequested(ctx, tx, bundle, events[len(events)-1], now, token); err != nil {
			return err
		}

		subscriptionID = sub.ID
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s.GetSubscription(ctx, subscriptionID)
}

func (s *Service) Recreate(ctx context.Context, req subscriptiondomain.RecreateSubscriptionRequest) (*subscriptiondomain.Subscription, error) {
	now := s.clock.Now(ctx)
	requested := orNow(req.RequestedDate, now)
	effective := orNow(req.EffectiveDate, now)

	plan, err := s.catalog.ResolvePlan(ctx, req.Spec, requested)
	if err != nil {
		return nil, err
	}

	token := s.genID.Generate().String()
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		sub, err := s.repo.FindSubscriptionByID(ctx, tx, req.SubscriptionID)
		if err != nil {
			return err
		}
		if sub == nil {
			return subscriptiondomain.ErrSubscriptionNotFound
		}
		if err := s.rebuild(ctx, tx, sub); err != nil {
			return err
		}
		if sub.State(now) != subscriptiondomain.StateCancelled {
			return subscriptiondomain.ErrRecreateOnNonCancelled
		}

		bundle, err := s.repo.FindBundleByID(ctx, tx, sub.BundleID)
		if err != nil {
			return err
		}
		if bundle == nil {
			return subscriptiondomain.ErrBundleNotFound
		}

		base, err := s.livingBase(ctx, tx, bundle.ID, now)
		if err != nil {
			return err
		}
		switch plan.Category {
		case catalogdomain.ProductCategoryBase:
			if base != nil {
				return subscriptiondomain.ErrBaseAlreadyExists
			}
		case catalogdomain.ProductCategoryAddOn:
			if err := s.checkAddOnAllowed(ctx, plan.Product, effective, base, now); err != nil {
				return err
			}
		}

		events := s.startEvents(sub, plan, subscriptiondomain.UserEventReCreate, requested, effective, now)
		if err := s.repo.InsertEvents(ctx, tx, events); err != nil {
			return err
		}

		built, err := s.withNewEvents(ctx, sub, events)
		if err != nil {
			return err
		}
		for _, e := range events {
			if err := s.recordBusOrFutureNotification(ctx, tx, bundle, built, e, now, token); err != nil {
				return err
			}
		}
		return s.notifyRequested(ctx, tx, bundle, events[len(events)-1], now, token)
	})
	if err != nil {
		return nil, err
	}
	return s.GetSubscription(ctx, req.SubscriptionID)
}

func (s *Service) ChangePlan(ctx context.Context, req subscriptiondomain.ChangePlanRequest) error {
	now := s.clock.Now(ctx)
	requested := orNow(req.RequestedDate, now)
	effective := orNow(req.EffectiveDate, now)

	plan, err := s.catalog.ResolvePlan(ctx, req.Spec, requested)
	if err != nil {
		return err
	}

	token := s.genID.Generate().String()
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		sub, err := s.repo.FindSubscriptionByID(ctx, tx, req.SubscriptionID)
		if err != nil {
			return err
		}
		if sub == nil {
			return subscriptiondomain.ErrSubscriptionNotFound
		}
		if err := s.rebuild(ctx, tx, sub); err != nil {
			return err
		}
		if sub.State(now) != subscriptiondomain.StateActive {
			return subscriptiondomain.ErrChangeOnNonActive
		}
		if sub.FutureEndDate(now) != nil {
			return subscriptiondomain.ErrChangeOnFutureCancelled
		}

		bundle, err := s.repo.FindBundleByID(ctx, tx, sub.BundleID)
		if err != nil {
			return err
		}
		if bundle == nil {
			return subscriptiondomain.ErrBundleNotFound
		}

		align := sub.AlignStartDate(plan)
		phase := plan.PhaseAsOf(align, effective)
		changeEvents := []*subscriptiondomain.Event{
			s.newEvent(sub, subscriptiondomain.EventTypeAPIUser, subscriptiondomain.UserEventChange, requested, effective, plan.Name, phase.Name, plan.PriceList, now),
		}
		if boundary, hasNext := plan.PhaseBoundary(align, phase.Name); hasNext && boundary.After(effective) {
			next, _ := plan.PhaseAfter(phase.Name)
			changeEvents = append(changeEvents, s.newEvent(sub, subscriptiondomain.EventTypePhase, "", requested, boundary, "", next.Name, "", now))
		}
		changeEvent := changeEvents[0]
		lastRequested := changeEvents[len(changeEvents)-1]

		// A pending MIGRATE_BILLING marks the boundary up to which the legacy
		// system owns billing. It is about to be deactivated with the rest of
		// the future, so re-synthesize it carrying the plan state in effect at
		// its boundary; billing consumers ignore everything before it.
		future, err := s.repo.FutureActiveEvents(ctx, tx, sub.ID, now)
		if err != nil {
			return err
		}
		migrateBilling, err := findFutureEvent(future, subscriptiondomain.EventTypeAPIUser, subscriptiondomain.UserEventMigrateBilling)
		if err != nil {
			return err
		}
		if resynth := s.resynthMigrateBilling(sub, changeEvents, migrateBilling, now); resynth != nil {
			changeEvents = append(changeEvents, resynth)
			sort.SliceStable(changeEvents, func(i, j int) bool {
				return changeEvents[i].EffectiveDate.Before(changeEvents[j].EffectiveDate)
			})
		}

		if err := s.cancelFutureEvents(ctx, tx, sub.ID, now); err != nil {
			return err
		}
		if err := s.repo.InsertEvents(ctx, tx, changeEvents); err != nil {
			return err
		}

		built, err := s.withNewEvents(ctx, sub, changeEvents)
		if err != nil {
			return err
		}
		for _, e := range changeEvents {
			if err := s.recordBusOrFutureNotification(ctx, tx, bundle, built, e, now, token); err != nil {
				return err
			}
		}

		// A change that lands immediately can strand add-ons the new plan
		// no longer supports, so doom them in the same transaction.
		if sub.Category == catalogdomain.ProductCategoryBase && !changeEvent.EffectiveDate.After(now) {
			if err := s.persistImpliedAddOnCancels(ctx, tx, bundle, changeEvent, now, token); err != nil {
				return err
			}
		}
		return s.notifyRequested(ctx, tx, bundle, lastRequested, now, token)
	})
}

// resynthMigrateBilling folds the change events up to the migrate-billing
// boundary and rebuilds the MIGRATE_BILLING event with that plan state. An
// end-of-term change landing after the boundary leaves the billing migration
// alone, so nothing is re-synthesized.
func (s *Service) resynthMigrateBilling(sub *subscriptiondomain.Subscription, changeEvents []*subscriptiondomain.Event, migrateBilling *subscriptiondomain.Event, now time.Time) *subscriptiondomain.Event {
	if migrateBilling == nil {
		return nil
	}

	var prevPlan, prevPhase, prevPriceList string
	var curPlan, curPhase, curPriceList string
	for _, e := range changeEvents {
		switch e.EventType {
		case subscriptiondomain.EventTypeAPIUser:
			curPlan, curPhase, curPriceList = e.PlanName, e.PhaseName, e.PriceListName
		case subscriptiondomain.EventTypePhase:
			curPhase = e.PhaseName
		}

		if e.EffectiveDate.After(migrateBilling.EffectiveDate) {
			if e.EventType == subscriptiondomain.EventTypeAPIUser && e.UserType == subscriptiondomain.UserEventChange {
				return nil
			}
			break
		}
		prevPlan, prevPhase, prevPriceList = curPlan, curPhase, curPriceList
	}
	if prevPlan == "" {
		return nil
	}

	resynth := s.newEvent(sub, subscriptiondomain.EventTypeAPIUser, subscriptiondomain.UserEventMigrateBilling,
		migrateBilling.RequestedDate, migrateBilling.EffectiveDate, prevPlan, prevPhase, prevPriceList, now)
	resynth.TotalOrdering = migrateBilling.TotalOrdering
	return resynth
}

func (s *Service) Cancel(ctx context.Context, id snowflake.ID) error {
	return s.cancelAt(ctx, id, nil, false)
}

func (s *Service) CancelWithDate(ctx context.Context, id snowflake.ID, effectiveDate time.Time) error {
	return s.cancelAt(ctx, id, &effectiveDate, false)
}

func (s *Service) CancelWithPolicy(ctx context.Context, id snowflake.ID, policy subscriptiondomain.CancelEffectivePolicy) error {
	return s.cancelAt(ctx, id, nil, policy == subscriptiondomain.CancelPolicyEndOfTerm)
}

func (s *Service) cancelAt(ctx context.Context, id snowflake.ID, effectiveDate *time.Time, endOfTerm bool) error {
	now := s.clock.Now(ctx)
	token := s.genID.Generate().String()

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		sub, err := s.repo.FindSubscriptionByID(ctx, tx, id)
		if err != nil {
			return err
		}
		if sub == nil {
			return subscriptiondomain.ErrSubscriptionNotFound
		}
		if err := s.rebuild(ctx, tx, sub); err != nil {
			return err
		}
		if sub.State(now) == subscriptiondomain.StateCancelled {
			return subscriptiondomain.ErrCancelOnCancelled
		}

		bundle, err := s.repo.FindBundleByID(ctx, tx, sub.BundleID)
		if err != nil {
			return err
		}
		if bundle == nil {
			return subscriptiondomain.ErrBundleNotFound
		}

		effective := now
		if effectiveDate != nil && effectiveDate.After(now) {
			effective = *effectiveDate
		}
		// END_OF_TERM pushes the cancellation to the end of the period the
		// customer already paid for.
		if endOfTerm && sub.ChargedThroughDate != nil && sub.ChargedThroughDate.After(now) {
			effective = *sub.ChargedThroughDate
		}

		if err := s.cancelFutureEvents(ctx, tx, sub.ID, now); err != nil {
			return err
		}
		cancelEvent := s.newEvent(sub, subscriptiondomain.EventTypeAPIUser, subscriptiondomain.UserEventCancel, now, effective, "", "", "", now)
		if err := s.repo.InsertEvents(ctx, tx, []*subscriptiondomain.Event{cancelEvent}); err != nil {
			return err
		}

		built, err := s.withNewEvents(ctx, sub, []*subscriptiondomain.Event{cancelEvent})
		if err != nil {
			return err
		}
		if err := s.recordBusOrFutureNotification(ctx, tx, bundle, built, cancelEvent, now, token); err != nil {
			return err
		}

		// An immediate cancellation dooms the bundle's add-ons right now;
		// the dispatcher only ever sees deferred events.
		if sub.Category == catalogdomain.ProductCategoryBase && !effective.After(now) {
			if err := s.persistImpliedAddOnCancels(ctx, tx, bundle, cancelEvent, now, token); err != nil {
				return err
			}
		}
		return s.notifyRequested(ctx, tx, bundle, cancelEvent, now, token)
	})
}

// persistImpliedAddOnCancels writes the add-on cancellations implied by a
// base CANCEL or CHANGE that is already effective, in the same transaction as
// the base event. Future-dated base events leave this to the dispatcher at
// their effective date.
func (s *Service) persistImpliedAddOnCancels(ctx context.Context, tx *gorm.DB, bundle *subscriptiondomain.Bundle, baseEvent *subscriptiondomain.Event, now time.Time, token string) error {
	subs, err := s.repo.ListSubscriptionsByBundle(ctx, tx, bundle.ID)
	if err != nil {
		return err
	}
	for i := range subs {
		if subs[i].Category != catalogdomain.ProductCategoryAddOn {
			continue
		}
		addOn := subs[i]
		if err := s.rebuild(ctx, tx, &addOn); err != nil {
			return err
		}
		if addOn.State(now) == subscriptiondomain.StateCancelled || addOn.FutureEndDate(now) != nil {
			continue
		}

		implied, err := s.addons.ImpliedCancel(ctx, baseEvent, &addOn, addOn.CurrentPlan(now), now)
		if err != nil {
			return err
		}
		if implied == nil {
			continue
		}
		implied.ID = s.genID.Generate()
		implied.Synthetic = false
		if err := s.repo.InsertEvents(ctx, tx, []*subscriptiondomain.Event{implied}); err != nil {
			return err
		}

		built, err := s.withNewEvents(ctx, &addOn, []*subscriptiondomain.Event{implied})
		if err != nil {
			return err
		}
		if err := s.notifyEffective(ctx, tx, bundle, built, implied, now, token); err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) Uncancel(ctx context.Context, id snowflake.ID) error {
	now := s.clock.Now(ctx)
	token := s.genID.Generate().String()

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		sub, err := s.repo.FindSubscriptionByID(ctx, tx, id)
		if err != nil {
			return err
		}
		if sub == nil {
			return subscriptiondomain.ErrSubscriptionNotFound
		}

		future, err := s.repo.FutureActiveEvents(ctx, tx, sub.ID, now)
		if err != nil {
			return err
		}
		cancels := lo.Filter(future, func(e subscriptiondomain.Event, _ int) bool {
			return e.UserType == subscriptiondomain.UserEventCancel
		})
		if len(cancels) == 0 {
			return subscriptiondomain.ErrUncancelNoFutureCancel
		}
		if len(cancels) > 1 {
			s.log.Warn("multiple active future cancel events, deactivating all",
				zap.Int64("subscription_id", int64(sub.ID)),
				zap.Int("count", len(cancels)))
		}
		for i := range cancels {
			if err := s.repo.UnactivateEvent(ctx, tx, cancels[i].ID); err != nil {
				return err
			}
		}

		// Replay without the cancellation to know which phase to restore.
		if err := s.rebuild(ctx, tx, sub); err != nil {
			return err
		}

		bundle, err := s.repo.FindBundleByID(ctx, tx, sub.BundleID)
		if err != nil {
			return err
		}
		if bundle == nil {
			return subscriptiondomain.ErrBundleNotFound
		}

		uncancelEvents := []*subscriptiondomain.Event{
			s.newEvent(sub, subscriptiondomain.EventTypeAPIUser, subscriptiondomain.UserEventUncancel, now, now, "", "", "", now),
		}
		// Re-insert every phase boundary the cancellation suppressed, past
		// ones included, so replay reproduces the timeline that existed
		// before the cancel. The dispatcher treats past-dated wake-ups as
		// immediately due.
		if planName := sub.CurrentPlan(now); planName != "" {
			plan, err := s.catalog.FindPlan(ctx, planName, now)
			if err != nil {
				return err
			}
			align := sub.AlignStartDate(plan)
			phaseName := sub.CurrentPhase(now)
			for {
				boundary, hasNext := plan.PhaseBoundary(align, phaseName)
				if !hasNext {
					break
				}
				next, _ := plan.PhaseAfter(phaseName)
				uncancelEvents = append(uncancelEvents, s.newEvent(sub, subscriptiondomain.EventTypePhase, "", now, boundary, "", next.Name, "", now))
				if boundary.After(now) {
					break
				}
				phaseName = next.Name
			}
		}
		if err := s.repo.InsertEvents(ctx, tx, uncancelEvents); err != nil {
			return err
		}

		// The UNCANCEL marker and the restored PHASE both go through the
		// deferred path; the dispatcher sorts out what is already due.
		for _, e := range uncancelEvents {
			if err := s.scheduleNotification(ctx, tx, e, now); err != nil {
				return err
			}
		}
		return s.notifyRequested(ctx, tx, bundle, uncancelEvents[len(uncancelEvents)-1], now, token)
	})
}

func (s *Service) Migrate(ctx context.Context, req subscriptiondomain.MigrateRequest) (*subscriptiondomain.Bundle, error) {
	now := s.clock.Now(ctx)
	token := s.genID.Generate().String()

	var bundle *subscriptiondomain.Bundle
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		existing, err := s.repo.FindBundleByKey(ctx, tx, req.AccountID, req.BundleKey)
		if err != nil {
			return err
		}
		if existing != nil {
			return subscriptiondomain.ErrBundleExists
		}

		bundle = &subscriptiondomain.Bundle{
			ID:          s.genID.Generate(),
			AccountID:   req.AccountID,
			ExternalKey: req.BundleKey,
			StartDate:   req.StartDate,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		if err := s.repo.InsertBundle(ctx, tx, bundle); err != nil {
			return err
		}

		for _, msub := range req.Subscriptions {
			plan, err := s.catalog.ResolvePlan(ctx, msub.Spec, msub.StartDate)
			if err != nil {
				return err
			}

			sub := &subscriptiondomain.Subscription{
				ID:              s.genID.Generate(),
				BundleID:        bundle.ID,
				Category:        plan.Category,
				StartDate:       msub.StartDate,
				BundleStartDate: req.StartDate,
				ActiveVersion:   1,
				CreatedAt:       now,
				UpdatedAt:       now,
			}
			if err := s.repo.InsertSubscription(ctx, tx, sub); err != nil {
				return err
			}

			align := sub.AlignStartDate(plan)
			entryPhase := plan.PhaseAsOf(align, msub.StartDate)
			events := []*subscriptiondomain.Event{
				s.newEvent(sub, subscriptiondomain.EventTypeAPIUser, subscriptiondomain.UserEventMigrateEntitlement, msub.StartDate, msub.StartDate, plan.Name, entryPhase.Name, plan.PriceList, now),
			}
			if msub.BillingAlignmentDate != nil {
				billingPhase := plan.PhaseAsOf(align, *msub.BillingAlignmentDate)
				events = append(events, s.newEvent(sub, subscriptiondomain.EventTypeAPIUser, subscriptiondomain.UserEventMigrateBilling, *msub.BillingAlignmentDate, *msub.BillingAlignmentDate, plan.Name, billingPhase.Name, plan.PriceList, now))
			}
			if boundary, hasNext := plan.PhaseBoundary(align, entryPhase.Name); hasNext && boundary.After(msub.StartDate) {
				next, _ := plan.PhaseAfter(entryPhase.Name)
				events = append(events, s.newEvent(sub, subscriptiondomain.EventTypePhase, "", msub.StartDate, boundary, "", next.Name, "", now))
			}
			sort.SliceStable(events, func(i, j int) bool {
				return events[i].EffectiveDate.Before(events[j].EffectiveDate)
			})
			if err := s.repo.InsertEvents(ctx, tx, events); err != nil {
				return err
			}

			// Migration is a backfill: only events still in the future need a
			// wake-up, the legacy system already acted on past ones.
			for _, e := range events {
				if !e.EffectiveDate.After(now) {
					continue
				}
				if err := s.scheduleNotification(ctx, tx, e, now); err != nil {
					return err
				}
			}
			if err := s.notifyRequested(ctx, tx, bundle, events[len(events)-1], now, token); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return bundle, nil
}

func (s *Service) Transfer(ctx context.Context, req subscriptiondomain.TransferRequest) (*subscriptiondomain.Bundle, error) {
	now := s.clock.Now(ctx)
	transferDate := orNow(req.TransferDate, now)
	token := s.genID.Generate().String()

	var dest *subscriptiondomain.Bundle
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		src, err := s.repo.FindBundleByID(ctx, tx, req.SourceBundleID)
		if err != nil {
			return err
		}
		if src == nil {
			return subscriptiondomain.ErrBundleNotFound
		}

		key := req.BundleKey
		if key == "" {
			key = src.ExternalKey
		}
		existing, err := s.repo.FindBundleByKey(ctx, tx, req.DestAccountID, key)
		if err != nil {
			return err
		}
		if existing != nil {
			return subscriptiondomain.ErrBundleExists
		}

		dest = &subscriptiondomain.Bundle{
			ID:          s.genID.Generate(),
			AccountID:   req.DestAccountID,
			ExternalKey: key,
			StartDate:   transferDate,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		if err := s.repo.InsertBundle(ctx, tx, dest); err != nil {
			return err
		}

		subs, err := s.repo.ListSubscriptionsByBundle(ctx, tx, src.ID)
		if err != nil {
			return err
		}
		sortBaseFirst(subs)

		for i := range subs {
			sub := subs[i]
			if err := s.rebuild(ctx, tx, &sub); err != nil {
				return err
			}
			if sub.State(now) == subscriptiondomain.StateCancelled {
				continue
			}

			planName := sub.CurrentPlan(transferDate)
			phaseName := sub.CurrentPhase(transferDate)

			// Close out the source side.
			if err := s.cancelFutureEvents(ctx, tx, sub.ID, now); err != nil {
				return err
			}
			cancelEvent := s.newEvent(&sub, subscriptiondomain.EventTypeAPIUser, subscriptiondomain.UserEventCancel, now, transferDate, "", "", "", now)
			if err := s.repo.InsertEvents(ctx, tx, []*subscriptiondomain.Event{cancelEvent}); err != nil {
				return err
			}
			builtSrc, err := s.withNewEvents(ctx, &sub, []*subscriptiondomain.Event{cancelEvent})
			if err != nil {
				return err
			}
			if err := s.recordBusOrFutureNotification(ctx, tx, src, builtSrc, cancelEvent, now, token); err != nil {
				return err
			}
			if err := s.notifyRequested(ctx, tx, src, cancelEvent, now, token); err != nil {
				return err
			}

			// Restart on the destination, keeping the phase in effect.
			plan, err := s.catalog.FindPlan(ctx, planName, transferDate)
			if err != nil {
				return err
			}
			newSub := &subscriptiondomain.Subscription{
				ID:              s.genID.Generate(),
				BundleID:        dest.ID,
				Category:        sub.Category,
				StartDate:       transferDate,
				BundleStartDate: transferDate,
				ActiveVersion:   1,
				CreatedAt:       now,
				UpdatedAt:       now,
			}
			if err := s.repo.InsertSubscription(ctx, tx, newSub); err != nil {
				return err
			}

			events := []*subscriptiondomain.Event{
				s.newEvent(newSub, subscriptiondomain.EventTypeAPIUser, subscriptiondomain.UserEventTransfer, now, transferDate, plan.Name, phaseName, plan.PriceList, now),
			}
			if boundary, hasNext := plan.PhaseBoundary(newSub.AlignStartDate(plan), phaseName); hasNext && boundary.After(transferDate) {
				next, _ := plan.PhaseAfter(phaseName)
				events = append(events, s.newEvent(newSub, subscriptiondomain.EventTypePhase, "", now, boundary, "", next.Name, "", now))
			}
			if err := s.repo.InsertEvents(ctx, tx, events); err != nil {
				return err
			}
			builtDest, err := s.withNewEvents(ctx, newSub, events)
			if err != nil {
				return err
			}
			for _, e := range events {
				if err := s.recordBusOrFutureNotification(ctx, tx, dest, builtDest, e, now, token); err != nil {
					return err
				}
			}
			if err := s.notifyRequested(ctx, tx, dest, events[len(events)-1], now, token); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return dest, nil
}

func (s *Service) Repair(ctx context.Context, req subscriptiondomain.RepairRequest) error {
	now := s.clock.Now(ctx)
	token := s.genID.Generate().String()

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		bundle, err := s.repo.FindBundleByID(ctx, tx, req.BundleID)
		if err != nil {
			return err
		}
		if bundle == nil {
			return subscriptiondomain.ErrBundleNotFound
		}

		for _, sr := range req.Subscriptions {
			sub, err := s.repo.FindSubscriptionByID(ctx, tx, sr.SubscriptionID)
			if err != nil {
				return err
			}
			if sub == nil || sub.BundleID != bundle.ID {
				return subscriptiondomain.ErrSubscriptionNotFound
			}

			newVersion := sub.ActiveVersion + 1
			if err := s.repo.UpdateForRepair(ctx, tx, sub.ID, newVersion); err != nil {
				return err
			}
			for _, eventID := range sr.SurvivingEventIDs {
				if err := s.repo.UpdateEventVersion(ctx, tx, eventID, newVersion); err != nil {
					return err
				}
			}
			sub.ActiveVersion = newVersion

			events := make([]*subscriptiondomain.Event, 0, len(sr.NewEvents))
			for _, ne := range sr.NewEvents {
				events = append(events, s.newEvent(sub, ne.EventType, ne.UserType, ne.EffectiveDate, ne.EffectiveDate, ne.PlanName, ne.PhaseName, ne.PriceListName, now))
			}
			if len(events) > 0 {
				if err := s.repo.InsertEvents(ctx, tx, events); err != nil {
					return err
				}
			}
			for _, e := range events {
				if !e.EffectiveDate.After(now) {
					continue
				}
				if err := s.scheduleNotification(ctx, tx, e, now); err != nil {
					return err
				}
			}
		}

		// A repair rewrites history; consumers get one signal for the whole
		// bundle instead of a per-event fan-out.
		return s.notifyRepair(ctx, tx, bundle, now, token)
	})
}

func (s *Service) SetChargedThroughDate(ctx context.Context, id snowflake.ID, ctd time.Time) error {
	sub, err := s.repo.FindSubscriptionByID(ctx, s.db, id)
	if err != nil {
		return err
	}
	if sub == nil {
		return subscriptiondomain.ErrSubscriptionNotFound
	}
	return s.repo.UpdateChargedThroughDate(ctx, s.db, id, ctd)
}
