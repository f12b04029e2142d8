package service

import (
	"context"
	"encoding/json"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
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

var processedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "killbill",
	Subsystem: "notification",
	Name:      "processed_total",
	Help:      "Deferred notifications processed, by result.",
}, []string{"result"})

// Dispatcher wakes up deferred notifications whose effective date has been
// reached and re-enters the immediate delivery path for them: the event's
// transition is rebuilt and an effective signal goes through the outbox.
type Dispatcher struct {
	db  *gorm.DB
	log *zap.Logger

	genID *snowflake.Node
	clock clock.Clock

	notifications notificationdomain.Repository
	subscriptions subscriptiondomain.Repository
	outbox        busdomain.Repository
	catalog       catalogdomain.Catalog
	addons        *addon.Utils

	pollInterval time.Duration
	batchSize    int
	busTopic     string
}

type DispatcherParam struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Clock clock.Clock
	Cfg   *config.Config

	Notifications notificationdomain.Repository
	Subscriptions subscriptiondomain.Repository
	Outbox        busdomain.Repository
	Catalog       catalogdomain.Catalog
	AddOns        *addon.Utils
}

func NewDispatcher(p DispatcherParam) *Dispatcher {
	return &Dispatcher{
		db:  p.DB,
		log: p.Log.Named("notification.dispatcher"),

		genID: p.GenID,
		clock: p.Clock,

		notifications: p.Notifications,
		subscriptions: p.Subscriptions,
		outbox:        p.Outbox,
		catalog:       p.Catalog,
		addons:        p.AddOns,

		pollInterval: p.Cfg.Dispatcher.PollInterval,
		batchSize:    p.Cfg.Dispatcher.BatchSize,
		busTopic:     p.Cfg.Bus.Topic,
	}
}

// DispatchDue processes every notification due as of now. Each notification
// is handled in its own transaction so one poisoned entry cannot wedge the
// whole batch.
func (d *Dispatcher) DispatchDue(ctx context.Context) (int, error) {
	now := d.clock.Now(ctx)
	due, err := d.notifications.Due(ctx, d.db, now, d.batchSize)
	if err != nil {
		return 0, err
	}

	processed := 0
	for i := range due {
		if err := d.dispatchOne(ctx, &due[i], now); err != nil {
			processedTotal.WithLabelValues("error").Inc()
			d.log.Error("failed to dispatch notification, will retry",
				zap.Int64("notification_id", int64(due[i].ID)),
				zap.Int64("event_id", int64(due[i].EventID)),
				zap.Error(err))
			continue
		}
		processedTotal.WithLabelValues("ok").Inc()
		processed++
	}
	return processed, nil
}

func (d *Dispatcher) dispatchOne(ctx context.Context, n *notificationdomain.Notification, now time.Time) error {
	return d.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		event, err := d.subscriptions.FindEventByID(ctx, tx, n.EventID)
		if err != nil {
			return err
		}
		// Deactivated or repaired-away events are stale wake-ups; the
		// notification is consumed without a signal.
		if event != nil && event.Active {
			if err := d.signalEffective(ctx, tx, event, now); err != nil {
				return err
			}
		}
		return d.notifications.MarkProcessed(ctx, tx, n.ID, now)
	})
}

func (d *Dispatcher) signalEffective(ctx context.Context, tx *gorm.DB, event *subscriptiondomain.Event, now time.Time) error {
	sub, err := d.subscriptions.FindSubscriptionByID(ctx, tx, event.SubscriptionID)
	if err != nil {
		return err
	}
	if sub == nil || event.CurrentVersion != sub.ActiveVersion {
		return nil
	}

	events, err := d.subscriptions.ActiveEventsForSubscription(ctx, tx, sub.ID)
	if err != nil {
		return err
	}
	if err := sub.RebuildTransitions(ctx, events, d.catalog); err != nil {
		return err
	}

	bundle, err := d.subscriptions.FindBundleByID(ctx, tx, sub.BundleID)
	if err != nil {
		return err
	}
	if bundle == nil {
		return subscriptiondomain.ErrBundleNotFound
	}

	token := d.genID.Generate().String()
	if err := d.enqueueTransition(ctx, tx, bundle, sub, event.ID, token, now); err != nil {
		return err
	}

	// A base CANCEL or CHANGE reaching its effective date is the moment the
	// implied add-on cancellations stop being synthetic and become rows.
	if sub.Category == catalogdomain.ProductCategoryBase && event.IsUserEvent() &&
		(event.UserType == subscriptiondomain.UserEventCancel || event.UserType == subscriptiondomain.UserEventChange) {
		return d.persistImpliedAddOnCancels(ctx, tx, bundle, sub, event, token, now)
	}
	return nil
}

// enqueueTransition finds the transition for the event in the rebuilt
// timeline and writes the effective signal to the outbox. Events that carry
// no transition (UNCANCEL markers) are silently consumed.
func (d *Dispatcher) enqueueTransition(ctx context.Context, tx *gorm.DB, bundle *subscriptiondomain.Bundle, sub *subscriptiondomain.Subscription, eventID snowflake.ID, token string, now time.Time) error {
	for i := range sub.Transitions {
		if sub.Transitions[i].EventID != eventID {
			continue
		}
		payload := busdomain.EffectivePayload(bundle.AccountID, bundle.ID, sub.ID, sub.Transitions[i], token)
		body, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		return d.outbox.Enqueue(ctx, tx, &busdomain.OutboxMessage{
			ID:        d.genID.Generate(),
			Topic:     d.busTopic,
			Kind:      busdomain.SignalEffective,
			UserToken: token,
			Payload:   body,
			CreatedAt: now,
			UpdatedAt: now,
		})
	}
	return nil
}

func (d *Dispatcher) persistImpliedAddOnCancels(ctx context.Context, tx *gorm.DB, bundle *subscriptiondomain.Bundle, base *subscriptiondomain.Subscription, baseEvent *subscriptiondomain.Event, token string, now time.Time) error {
	subs, err := d.subscriptions.ListSubscriptionsByBundle(ctx, tx, bundle.ID)
	if err != nil {
		return err
	}
	for i := range subs {
		if subs[i].Category != catalogdomain.ProductCategoryAddOn {
			continue
		}
		addOn := subs[i]
		events, err := d.subscriptions.ActiveEventsForSubscription(ctx, tx, addOn.ID)
		if err != nil {
			return err
		}
		if err := addOn.RebuildTransitions(ctx, events, d.catalog); err != nil {
			return err
		}
		if addOn.State(now) == subscriptiondomain.StateCancelled || addOn.FutureEndDate(now) != nil {
			continue
		}

		implied, err := d.addons.ImpliedCancel(ctx, baseEvent, &addOn, addOn.CurrentPlan(now), now)
		if err != nil {
			return err
		}
		if implied == nil {
			continue
		}
		implied.ID = d.genID.Generate()
		implied.Synthetic = false
		if err := d.subscriptions.InsertEvents(ctx, tx, []*subscriptiondomain.Event{implied}); err != nil {
			return err
		}

		all := make([]subscriptiondomain.Event, 0, len(addOn.Events)+1)
		all = append(all, addOn.Events...)
		all = append(all, *implied)
		if err := addOn.RebuildTransitions(ctx, all, d.catalog); err != nil {
			return err
		}
		if err := d.enqueueTransition(ctx, tx, bundle, &addOn, implied.ID, token, now); err != nil {
			return err
		}
	}
	return nil
}

// RunForever polls for due notifications until the context ends.
func (d *Dispatcher) RunForever(ctx context.Context) {
	ticker := time.NewTicker(d.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := d.DispatchDue(ctx); err != nil {
				d.log.Error("notification dispatch failed", zap.Error(err))
			}
		}
	}
}
