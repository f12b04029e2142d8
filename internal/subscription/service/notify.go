package service

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	busdomain "github.com/nsiitk/killbill/internal/bus/domain"
	notificationdomain "github.com/nsiitk/killbill/internal/notification/domain"
	subscriptiondomain "github.com/nsiitk/killbill/internal/subscription/domain"
)

// recordBusOrFutureNotification is the single delivery decision point: an
// API_USER event whose effective date has been reached signals the bus right
// away; everything else (future events and all PHASE events) becomes a
// deferred notification row for the dispatcher. Both writes enlist in the
// operation's transaction, so a failure here rolls the whole operation back.
func (s *Service) recordBusOrFutureNotification(ctx context.Context, tx *gorm.DB, bundle *subscriptiondomain.Bundle, built *subscriptiondomain.Subscription, e *subscriptiondomain.Event, now time.Time, token string) error {
	isBusEvent := e.IsUserEvent() && !e.EffectiveDate.After(now)
	if isBusEvent {
		return s.notifyEffective(ctx, tx, bundle, built, e, now, token)
	}
	return s.scheduleNotification(ctx, tx, e, now)
}

func (s *Service) notifyEffective(ctx context.Context, tx *gorm.DB, bundle *subscriptiondomain.Bundle, built *subscriptiondomain.Subscription, e *subscriptiondomain.Event, now time.Time, token string) error {
	var transition *subscriptiondomain.Transition
	for i := range built.Transitions {
		if built.Transitions[i].EventID == e.ID {
			transition = &built.Transitions[i]
			break
		}
	}
	if transition == nil {
		// UNCANCEL markers and repaired-away events carry no transition.
		s.log.Warn("no transition for effective event, skipping bus signal",
			zap.Int64("subscription_id", int64(e.SubscriptionID)),
			zap.Int64("event_id", int64(e.ID)))
		return nil
	}

	payload := busdomain.EffectivePayload(bundle.AccountID, bundle.ID, built.ID, *transition, token)
	return s.enqueueSignal(ctx, tx, busdomain.SignalEffective, token, payload, now)
}

func (s *Service) scheduleNotification(ctx context.Context, tx *gorm.DB, e *subscriptiondomain.Event, now time.Time) error {
	return s.notifications.Schedule(ctx, tx, &notificationdomain.Notification{
		ID:             s.genID.Generate(),
		EventID:        e.ID,
		SubscriptionID: e.SubscriptionID,
		EffectiveDate:  e.EffectiveDate,
		CreatedAt:      now,
		UpdatedAt:      now,
	})
}

// notifyRequested announces acceptance of a mutating operation, keyed to its
// last event regardless of when that event takes effect.
func (s *Service) notifyRequested(ctx context.Context, tx *gorm.DB, bundle *subscriptiondomain.Bundle, e *subscriptiondomain.Event, now time.Time, token string) error {
	payload := busdomain.RequestedPayload(bundle.AccountID, bundle.ID, *e, token)
	return s.enqueueSignal(ctx, tx, busdomain.SignalRequested, token, payload, now)
}

// notifyRepair emits the single per-bundle repair signal; repairs never fan
// out per-event signals.
func (s *Service) notifyRepair(ctx context.Context, tx *gorm.DB, bundle *subscriptiondomain.Bundle, now time.Time, token string) error {
	payload := busdomain.RepairPayload(bundle.AccountID, bundle.ID, now, token)
	return s.enqueueSignal(ctx, tx, busdomain.SignalRepair, token, payload, now)
}

func (s *Service) enqueueSignal(ctx context.Context, tx *gorm.DB, kind busdomain.SignalKind, token string, payload busdomain.TransitionPayload, now time.Time) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return s.outbox.Enqueue(ctx, tx, &busdomain.OutboxMessage{
		ID:        s.genID.Generate(),
		Topic:     s.busTopic,
		Kind:      kind,
		UserToken: token,
		Payload:   body,
		CreatedAt: now,
		UpdatedAt: now,
	})
}
