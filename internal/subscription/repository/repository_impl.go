package repository

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	subscriptiondomain "github.com/nsiitk/killbill/internal/subscription/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() subscriptiondomain.Repository {
	return &repo{}
}

func (r *repo) InsertBundle(ctx context.Context, db *gorm.DB, bundle *subscriptiondomain.Bundle) error {
	return db.WithContext(ctx).Create(bundle).Error
}

func (r *repo) FindBundleByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*subscriptiondomain.Bundle, error) {
	var bundle subscriptiondomain.Bundle
	err := db.WithContext(ctx).Where("id = ?", id).First(&bundle).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &bundle, nil
}

func (r *repo) FindBundleByKey(ctx context.Context, db *gorm.DB, accountID snowflake.ID, externalKey string) (*subscriptiondomain.Bundle, error) {
	var bundle subscriptiondomain.Bundle
	err := db.WithContext(ctx).
		Where("account_id = ? AND external_key = ?", accountID, externalKey).
		First(&bundle).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &bundle, nil
}

func (r *repo) InsertSubscription(ctx context.Context, db *gorm.DB, sub *subscriptiondomain.Subscription) error {
	return db.WithContext(ctx).Create(sub).Error
}

func (r *repo) FindSubscriptionByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*subscriptiondomain.Subscription, error) {
	var sub subscriptiondomain.Subscription
	err := db.WithContext(ctx).Where("id = ?", id).First(&sub).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &sub, nil
}

func (r *repo) ListSubscriptionsByBundle(ctx context.Context, db *gorm.DB, bundleID snowflake.ID) ([]subscriptiondomain.Subscription, error) {
	var subs []subscriptiondomain.Subscription
	err := db.WithContext(ctx).
		Where("bundle_id = ?", bundleID).
		Order("id asc").
		Find(&subs).Error
	return subs, err
}

func (r *repo) UpdateChargedThroughDate(ctx context.Context, db *gorm.DB, id snowflake.ID, ctd time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE subscriptions SET charged_through_date = ?, updated_at = ? WHERE id = ?`,
		ctd, time.Now().UTC(), id,
	).Error
}

func (r *repo) UpdateForRepair(ctx context.Context, db *gorm.DB, id snowflake.ID, activeVersion int64) error {
	return db.WithContext(ctx).Exec(
		`UPDATE subscriptions SET active_version = ?, updated_at = ? WHERE id = ?`,
		activeVersion, time.Now().UTC(), id,
	).Error
}

func (r *repo) InsertEvents(ctx context.Context, db *gorm.DB, events []*subscriptiondomain.Event) error {
	for _, e := range events {
		if e.Synthetic {
			return errors.New("refusing to persist synthetic event")
		}
		if err := db.WithContext(ctx).Create(e).Error; err != nil {
			return err
		}
	}
	return nil
}

func (r *repo) FindEventByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*subscriptiondomain.Event, error) {
	var event subscriptiondomain.Event
	err := db.WithContext(ctx).Where("id = ?", id).First(&event).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &event, nil
}

func (r *repo) ActiveEventsForSubscription(ctx context.Context, db *gorm.DB, subscriptionID snowflake.ID) ([]subscriptiondomain.Event, error) {
	var events []subscriptiondomain.Event
	err := db.WithContext(ctx).
		Where("subscription_id = ? AND active = ?", subscriptionID, true).
		Order("effective_date asc, total_ordering asc").
		Find(&events).Error
	return events, err
}

func (r *repo) AllEventsForSubscription(ctx context.Context, db *gorm.DB, subscriptionID snowflake.ID) ([]subscriptiondomain.Event, error) {
	var events []subscriptiondomain.Event
	err := db.WithContext(ctx).
		Where("subscription_id = ?", subscriptionID).
		Order("effective_date asc, total_ordering asc").
		Find(&events).Error
	return events, err
}

func (r *repo) FutureActiveEvents(ctx context.Context, db *gorm.DB, subscriptionID snowflake.ID, asOf time.Time) ([]subscriptiondomain.Event, error) {
	var events []subscriptiondomain.Event
	err := db.WithContext(ctx).
		Where("subscription_id = ? AND active = ? AND effective_date > ?", subscriptionID, true, asOf).
		Order("effective_date asc, total_ordering asc").
		Find(&events).Error
	return events, err
}

func (r *repo) UnactivateEvent(ctx context.Context, db *gorm.DB, eventID snowflake.ID) error {
	return db.WithContext(ctx).Exec(
		`UPDATE subscription_events SET active = ?, updated_at = ? WHERE id = ?`,
		false, time.Now().UTC(), eventID,
	).Error
}

func (r *repo) UpdateEventVersion(ctx context.Context, db *gorm.DB, eventID snowflake.ID, version int64) error {
	return db.WithContext(ctx).Exec(
		`UPDATE subscription_events SET current_version = ?, updated_at = ? WHERE id = ?`,
		version, time.Now().UTC(), eventID,
	).Error
}
