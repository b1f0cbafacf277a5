package payloads

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/shipsplit-backend/pkg/enums"
)

// OrderCreatedEvent announces a new order and its reserved totals.
type OrderCreatedEvent struct {
	OrderID       uuid.UUID           `json:"order_id"`
	OrderNumber   string              `json:"order_number"`
	BuyerID       uuid.UUID           `json:"buyer_id"`
	Status        enums.OrderStatus   `json:"status"`
	PaymentMethod enums.PaymentMethod `json:"payment_method"`
	TotalCents    int64               `json:"total_cents"`
	DeliveryFee   int64               `json:"delivery_fee_cents"`
	VendorIDs     []uuid.UUID         `json:"vendor_ids"`
}

// OrderPaidEvent is emitted once payment is confirmed.
type OrderPaidEvent struct {
	OrderID    uuid.UUID `json:"order_id"`
	PaymentRef string    `json:"payment_ref"`
	PaidAt     time.Time `json:"paid_at"`
}

// OrderStatusChangedEvent covers manual and system status moves.
type OrderStatusChangedEvent struct {
	OrderID uuid.UUID         `json:"order_id"`
	From    enums.OrderStatus `json:"from"`
	To      enums.OrderStatus `json:"to"`
	Reason  string            `json:"reason,omitempty"`
}

// OrderRefundedEvent reports a completed refund.
type OrderRefundedEvent struct {
	OrderID       uuid.UUID          `json:"order_id"`
	RefundID      uuid.UUID          `json:"refund_id"`
	AmountCents   int64              `json:"amount_cents"`
	RefundedCents int64              `json:"refunded_cents"`
	RefundStatus  enums.RefundStatus `json:"refund_status"`
}

// DeliveryAssignedEvent is emitted on claim or operator assignment.
type DeliveryAssignedEvent struct {
	DeliveryID     uuid.UUID            `json:"delivery_id"`
	OrderID        uuid.UUID            `json:"order_id"`
	DriverID       uuid.UUID            `json:"driver_id"`
	AssignmentType enums.AssignmentType `json:"assignment_type"`
}

// DeliveryStatusChangedEvent follows driver progress.
type DeliveryStatusChangedEvent struct {
	DeliveryID uuid.UUID            `json:"delivery_id"`
	OrderID    uuid.UUID            `json:"order_id"`
	From       enums.DeliveryStatus `json:"from"`
	To         enums.DeliveryStatus `json:"to"`
}

// PayoutPaidEvent is emitted when a transfer to a payee succeeds.
type PayoutPaidEvent struct {
	PayoutID    uuid.UUID       `json:"payout_id"`
	Kind        enums.PayeeKind `json:"kind"`
	PayeeID     uuid.UUID       `json:"payee_id"`
	SourceID    uuid.UUID       `json:"source_id"`
	AmountCents int64           `json:"amount_cents"`
	TransferRef string          `json:"transfer_ref"`
}
