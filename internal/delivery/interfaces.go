package delivery

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/shipsplit-backend/pkg/outbox"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxPublisher interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

// DriverSettler pays the driver of a completed delivery.
type DriverSettler interface {
	SettleDelivery(ctx context.Context, deliveryID uuid.UUID) error
}

// OrderDeliverer moves the parent order to delivered.
type OrderDeliverer interface {
	MarkDelivered(ctx context.Context, orderID uuid.UUID) error
}
