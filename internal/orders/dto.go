package orders

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/shipsplit-backend/pkg/db/models"
	"github.com/angelmondragon/shipsplit-backend/pkg/enums"
	"github.com/angelmondragon/shipsplit-backend/pkg/money"
	"github.com/angelmondragon/shipsplit-backend/pkg/types"
)

// Actor is the authenticated caller behind a request.
type Actor struct {
	UserID uuid.UUID
	Role   enums.ActorRole
}

// IsOperator reports whether the actor bypasses ownership checks.
func (a Actor) IsOperator() bool {
	return a.Role == enums.ActorAdmin
}

// ItemInput is one requested cart line.
type ItemInput struct {
	ProductID uuid.UUID
	Quantity  int
}

// CreateInput carries a checkout request.
type CreateInput struct {
	BuyerID       uuid.UUID
	Items         []ItemInput
	Address       types.Address
	PaymentMethod enums.PaymentMethod
}

// UpdateStatusInput is a manual status move by an operator or vendor.
type UpdateStatusInput struct {
	OrderID        uuid.UUID
	Status         enums.OrderStatus
	TrackingNumber *string
	Actor          Actor
}

// ListParams configures buyer order pagination.
type ListParams struct {
	Limit  int
	Cursor string
}

// OrderList wraps a page of orders plus the cursor for the next page.
type OrderList struct {
	Orders []OrderDTO `json:"orders"`
	Cursor string     `json:"cursor,omitempty"`
}

// OrderItemDTO is the JSON rendering of an order line.
type OrderItemDTO struct {
	ID        uuid.UUID   `json:"id"`
	ProductID uuid.UUID   `json:"product_id"`
	VendorID  uuid.UUID   `json:"vendor_id"`
	Name      string      `json:"name"`
	UnitPrice money.Cents `json:"unit_price"`
	Quantity  int         `json:"quantity"`
	LineTotal money.Cents `json:"line_total"`
}

// DeliverySummary is the delivery leg embedded in an order response.
type DeliverySummary struct {
	ID            uuid.UUID            `json:"id"`
	Status        enums.DeliveryStatus `json:"status"`
	Fee           money.Cents          `json:"fee"`
	DistanceMiles *float64             `json:"distance_miles"`
	DriverID      *uuid.UUID           `json:"driver_id,omitempty"`
}

// OrderDTO is the JSON rendering of an order.
type OrderDTO struct {
	ID              uuid.UUID           `json:"id"`
	OrderNumber     string              `json:"order_number"`
	BuyerID         uuid.UUID           `json:"buyer_id"`
	Status          enums.OrderStatus   `json:"status"`
	PaymentMethod   enums.PaymentMethod `json:"payment_method"`
	Paid            bool                `json:"paid"`
	PaidAt          *time.Time          `json:"paid_at,omitempty"`
	ShippingAddress types.Address       `json:"shipping_address"`
	Subtotal        money.Cents         `json:"subtotal"`
	Tax             money.Cents         `json:"tax"`
	Shipping        money.Cents         `json:"shipping"`
	Total           money.Cents         `json:"total"`
	Refunded        money.Cents         `json:"refunded"`
	RefundStatus    enums.RefundStatus  `json:"refund_status"`
	TrackingNumber  *string             `json:"tracking_number,omitempty"`
	IsDelivered     bool                `json:"is_delivered"`
	DeliveredAt     *time.Time          `json:"delivered_at,omitempty"`
	Items           []OrderItemDTO      `json:"items"`
	Delivery        *DeliverySummary    `json:"delivery,omitempty"`
	CreatedAt       time.Time           `json:"created_at"`
	UpdatedAt       time.Time           `json:"updated_at"`
}

// ToDTO maps the persisted order into its response shape.
func ToDTO(order *models.Order) OrderDTO {
	dto := OrderDTO{
		ID:              order.ID,
		OrderNumber:     order.OrderNumber,
		BuyerID:         order.BuyerID,
		Status:          order.Status,
		PaymentMethod:   order.PaymentMethod,
		Paid:            order.Paid,
		PaidAt:          order.PaidAt,
		ShippingAddress: order.ShippingAddress,
		Subtotal:        money.Cents(order.SubtotalCents),
		Tax:             money.Cents(order.TaxCents),
		Shipping:        money.Cents(order.ShippingCents),
		Total:           money.Cents(order.TotalCents),
		Refunded:        money.Cents(order.RefundedCents),
		RefundStatus:    order.RefundStatus,
		TrackingNumber:  order.TrackingNumber,
		IsDelivered:     order.IsDelivered,
		DeliveredAt:     order.DeliveredAt,
		Items:           make([]OrderItemDTO, 0, len(order.Items)),
		CreatedAt:       order.CreatedAt,
		UpdatedAt:       order.UpdatedAt,
	}
	for _, item := range order.Items {
		dto.Items = append(dto.Items, OrderItemDTO{
			ID:        item.ID,
			ProductID: item.ProductID,
			VendorID:  item.VendorID,
			Name:      item.Name,
			UnitPrice: money.Cents(item.UnitPriceCents),
			Quantity:  item.Quantity,
			LineTotal: money.Cents(item.LineTotalCents),
		})
	}
	if d := order.Delivery; d != nil {
		dto.Delivery = &DeliverySummary{
			ID:            d.ID,
			Status:        d.Status,
			Fee:           money.Cents(d.FeeCents),
			DistanceMiles: d.DistanceMiles,
			DriverID:      d.DriverID,
		}
	}
	return dto
}
