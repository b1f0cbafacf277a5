package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/shipsplit-backend/pkg/enums"
)

// Refund records one refund attempt against an order's captured payment.
type Refund struct {
	ID          uuid.UUID                `gorm:"column:id;type:uuid;primaryKey"`
	OrderID     uuid.UUID                `gorm:"column:order_id;type:uuid;not null;index"`
	RefundRef   *string                  `gorm:"column:refund_ref"`
	AmountCents int64                    `gorm:"column:amount_cents;not null"`
	Reason      *string                  `gorm:"column:reason"`
	Status      enums.RefundRecordStatus `gorm:"column:status;type:text;not null"`
	InitiatedBy uuid.UUID                `gorm:"column:initiated_by;type:uuid;not null"`
	LastError   *string                  `gorm:"column:last_error"`
	CreatedAt   time.Time                `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt   time.Time                `gorm:"column:updated_at;autoUpdateTime"`
}

func (r *Refund) BeforeCreate(*gorm.DB) error {
	ensureID(&r.ID)
	return nil
}
