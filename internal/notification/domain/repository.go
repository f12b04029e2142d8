package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	Schedule(ctx context.Context, db *gorm.DB, n *Notification) error
	Due(ctx context.Context, db *gorm.DB, asOf time.Time, limit int) ([]Notification, error)
	MarkProcessed(ctx context.Context, db *gorm.DB, id snowflake.ID, at time.Time) error
}

type repo struct{}

func NewRepository() Repository {
	return &repo{}
}

func (r *repo) Schedule(ctx context.Context, db *gorm.DB, n *Notification) error {
	return db.WithContext(ctx).Create(n).Error
}

func (r *repo) Due(ctx context.Context, db *gorm.DB, asOf time.Time, limit int) ([]Notification, error) {
	var items []Notification
	q := db.WithContext(ctx).
		Where("processed = ? AND effective_date <= ?", false, asOf).
		Order("effective_date asc, id asc")
	if limit > 0 {
		q = q.Limit(limit)
	}
	err := q.Find(&items).Error
	return items, err
}

func (r *repo) MarkProcessed(ctx context.Context, db *gorm.DB, id snowflake.ID, at time.Time) error {
	result := db.WithContext(ctx).Model(&Notification{}).
		Where("id = ? AND processed = ?", id, false).
		Updates(map[string]any{"processed": true, "processed_at": at, "updated_at": at})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrNotificationNotFound
	}
	return nil
}
