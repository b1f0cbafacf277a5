package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/shipsplit-backend/pkg/enums"
	"github.com/angelmondragon/shipsplit-backend/pkg/types"
)

// Delivery is the driver-facing leg of an order.
type Delivery struct {
	ID             uuid.UUID             `gorm:"column:id;type:uuid;primaryKey"`
	OrderID        uuid.UUID             `gorm:"column:order_id;type:uuid;not null;uniqueIndex:ux_deliveries_order"`
	DriverID       *uuid.UUID            `gorm:"column:driver_id;type:uuid;index"`
	AssignmentType *enums.AssignmentType `gorm:"column:assignment_type;type:text"`
	Status         enums.DeliveryStatus  `gorm:"column:status;type:text;not null;index"`
	FeeCents       int64                 `gorm:"column:fee_cents;not null"`
	DistanceMiles  *float64              `gorm:"column:distance_miles"`
	Pickup         types.Address         `gorm:"embedded;embeddedPrefix:pickup_"`
	Dropoff        types.Address         `gorm:"embedded;embeddedPrefix:dropoff_"`
	AssignedAt     *time.Time            `gorm:"column:assigned_at"`
	PickedUpAt     *time.Time            `gorm:"column:picked_up_at"`
	EnRouteAt      *time.Time            `gorm:"column:en_route_at"`
	DeliveredAt    *time.Time            `gorm:"column:delivered_at"`
	FailedAt       *time.Time            `gorm:"column:failed_at"`
	TransferRef    *string               `gorm:"column:transfer_ref"`
	Notes          *string               `gorm:"column:notes"`
	CreatedAt      time.Time             `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt      time.Time             `gorm:"column:updated_at;autoUpdateTime"`
}

func (d *Delivery) BeforeCreate(*gorm.DB) error {
	ensureID(&d.ID)
	if d.Status == "" {
		d.Status = enums.DeliveryStatusPending
	}
	return nil
}
