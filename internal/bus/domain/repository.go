package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	Enqueue(ctx context.Context, db *gorm.DB, msg *OutboxMessage) error
	Unpublished(ctx context.Context, db *gorm.DB, limit int) ([]OutboxMessage, error)
	MarkPublished(ctx context.Context, db *gorm.DB, id snowflake.ID, at time.Time) error
}

type repo struct{}

func NewRepository() Repository {
	return &repo{}
}

func (r *repo) Enqueue(ctx context.Context, db *gorm.DB, msg *OutboxMessage) error {
	return db.WithContext(ctx).Create(msg).Error
}

func (r *repo) Unpublished(ctx context.Context, db *gorm.DB, limit int) ([]OutboxMessage, error) {
	var items []OutboxMessage
	q := db.WithContext(ctx).
		Where("published = ?", false).
		Order("id asc")
	if limit > 0 {
		q = q.Limit(limit)
	}
	err := q.Find(&items).Error
	return items, err
}

func (r *repo) MarkPublished(ctx context.Context, db *gorm.DB, id snowflake.ID, at time.Time) error {
	return db.WithContext(ctx).Model(&OutboxMessage{}).
		Where("id = ?", id).
		Updates(map[string]any{"published": true, "published_at": at, "updated_at": at}).Error
}
