package migration

import (
	"gorm.io/gorm"

	busdomain "github.com/nsiitk/killbill/internal/bus/domain"
	notificationdomain "github.com/nsiitk/killbill/internal/notification/domain"
	subscriptiondomain "github.com/nsiitk/killbill/internal/subscription/domain"
)

// RunMigrations creates or updates the schema for every persisted model. The
// same definitions drive both the sqlite and postgres drivers, so there is a
// single source of schema truth. It must be run explicitly by the migrate
// entrypoint.
func RunMigrations(db *gorm.DB) error {
	return db.AutoMigrate(
		&subscriptiondomain.Bundle{},
		&subscriptiondomain.Subscription{},
		&subscriptiondomain.Event{},
		&notificationdomain.Notification{},
		&busdomain.OutboxMessage{},
	)
}
