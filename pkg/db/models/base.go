package models

import (
	"github.com/google/uuid"
	"gorm.io/gorm"
)

func ensureID(id *uuid.UUID) {
	if *id == uuid.Nil {
		*id = uuid.New()
	}
}

// All lists every persisted model, used for AutoMigrate in tests and local sqlite runs.
func All() []any {
	return []any{
		&Product{},
		&Order{},
		&OrderItem{},
		&Delivery{},
		&VendorPayout{},
		&DriverPayout{},
		&Refund{},
		&PayoutAccount{},
		&WebhookEvent{},
		&OrderCounter{},
		&OutboxEvent{},
		&OutboxDLQ{},
	}
}

// AutoMigrate creates the schema from the models. Postgres deployments use goose migrations instead.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(All()...)
}
