package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/shipsplit-backend/pkg/enums"
	"github.com/angelmondragon/shipsplit-backend/pkg/types"
)

// Order is the buyer-facing purchase. Totals exclude the delivery fee, which lives on Delivery.
type Order struct {
	ID                      uuid.UUID           `gorm:"column:id;type:uuid;primaryKey"`
	OrderNumber             string              `gorm:"column:order_number;not null;uniqueIndex:ux_orders_order_number"`
	BuyerID                 uuid.UUID           `gorm:"column:buyer_id;type:uuid;not null;index"`
	Status                  enums.OrderStatus   `gorm:"column:status;type:text;not null;index"`
	PaymentMethod           enums.PaymentMethod `gorm:"column:payment_method;type:text;not null"`
	Paid                    bool                `gorm:"column:paid;not null"`
	PaidAt                  *time.Time          `gorm:"column:paid_at"`
	PaymentSessionID        *string             `gorm:"column:payment_session_id;index"`
	PaymentSessionExpiresAt *time.Time          `gorm:"column:payment_session_expires_at"`
	PaymentRef              *string             `gorm:"column:payment_ref"`
	ShippingAddress         types.Address       `gorm:"embedded;embeddedPrefix:shipping_"`
	SubtotalCents           int64               `gorm:"column:subtotal_cents;not null"`
	TaxCents                int64               `gorm:"column:tax_cents;not null"`
	ShippingCents           int64               `gorm:"column:shipping_cents;not null"`
	TotalCents              int64               `gorm:"column:total_cents;not null"`
	RefundedCents           int64               `gorm:"column:refunded_cents;not null"`
	RefundStatus            enums.RefundStatus  `gorm:"column:refund_status;type:text;not null"`
	TrackingNumber          *string             `gorm:"column:tracking_number"`
	IsDelivered             bool                `gorm:"column:is_delivered;not null"`
	DeliveredAt             *time.Time          `gorm:"column:delivered_at"`
	CancelledAt             *time.Time          `gorm:"column:cancelled_at"`
	StockReleased           bool                `gorm:"column:stock_released;not null"`
	Items                   []OrderItem         `gorm:"foreignKey:OrderID;constraint:OnDelete:CASCADE"`
	Delivery                *Delivery           `gorm:"foreignKey:OrderID"`
	CreatedAt               time.Time           `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt               time.Time           `gorm:"column:updated_at;autoUpdateTime"`
}

func (o *Order) BeforeCreate(*gorm.DB) error {
	ensureID(&o.ID)
	if o.RefundStatus == "" {
		o.RefundStatus = enums.RefundStatusNone
	}
	return nil
}

// MaxRefundable is what remains of the total after prior refunds.
func (o Order) MaxRefundable() int64 {
	return o.TotalCents - o.RefundedCents
}

// OrderItem is an immutable snapshot of a purchased line.
type OrderItem struct {
	ID             uuid.UUID `gorm:"column:id;type:uuid;primaryKey"`
	OrderID        uuid.UUID `gorm:"column:order_id;type:uuid;not null;index"`
	ProductID      uuid.UUID `gorm:"column:product_id;type:uuid;not null"`
	VendorID       uuid.UUID `gorm:"column:vendor_id;type:uuid;not null;index"`
	Name           string    `gorm:"column:name;not null"`
	UnitPriceCents int64     `gorm:"column:unit_price_cents;not null"`
	Quantity       int       `gorm:"column:quantity;not null"`
	LineTotalCents int64     `gorm:"column:line_total_cents;not null"`
	CreatedAt      time.Time `gorm:"column:created_at;autoCreateTime"`
}

func (i *OrderItem) BeforeCreate(*gorm.DB) error {
	ensureID(&i.ID)
	return nil
}
