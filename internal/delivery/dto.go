package delivery

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/shipsplit-backend/internal/orders"
	"github.com/angelmondragon/shipsplit-backend/pkg/db/models"
	"github.com/angelmondragon/shipsplit-backend/pkg/enums"
	"github.com/angelmondragon/shipsplit-backend/pkg/money"
	"github.com/angelmondragon/shipsplit-backend/pkg/types"
)

// AdvanceInput moves a delivery forward on behalf of its driver or an operator.
type AdvanceInput struct {
	DeliveryID uuid.UUID
	Status     enums.DeliveryStatus
	Notes      *string
	Actor      orders.Actor
}

type ListParams struct {
	Limit  int
	Cursor string
}

type DeliveryList struct {
	Deliveries []DeliveryDTO `json:"deliveries"`
	Cursor     string        `json:"cursor,omitempty"`
}

type DeliveryDTO struct {
	ID             uuid.UUID             `json:"id"`
	OrderID        uuid.UUID             `json:"order_id"`
	DriverID       *uuid.UUID            `json:"driver_id,omitempty"`
	AssignmentType *enums.AssignmentType `json:"assignment_type,omitempty"`
	Status         enums.DeliveryStatus  `json:"status"`
	Fee            money.Cents           `json:"fee"`
	DistanceMiles  *float64              `json:"distance_miles"`
	Pickup         types.Address         `json:"pickup_address"`
	Dropoff        types.Address         `json:"delivery_address"`
	AssignedAt     *time.Time            `json:"assigned_at,omitempty"`
	PickedUpAt     *time.Time            `json:"picked_up_at,omitempty"`
	EnRouteAt      *time.Time            `json:"en_route_at,omitempty"`
	DeliveredAt    *time.Time            `json:"delivered_at,omitempty"`
	FailedAt       *time.Time            `json:"failed_at,omitempty"`
	TransferRef    *string               `json:"transfer_ref,omitempty"`
	Notes          *string               `json:"notes,omitempty"`
	CreatedAt      time.Time             `json:"created_at"`
}

func ToDTO(d *models.Delivery) DeliveryDTO {
	return DeliveryDTO{
		ID:             d.ID,
		OrderID:        d.OrderID,
		DriverID:       d.DriverID,
		AssignmentType: d.AssignmentType,
		Status:         d.Status,
		Fee:            money.Cents(d.FeeCents),
		DistanceMiles:  d.DistanceMiles,
		Pickup:         d.Pickup,
		Dropoff:        d.Dropoff,
		AssignedAt:     d.AssignedAt,
		PickedUpAt:     d.PickedUpAt,
		EnRouteAt:      d.EnRouteAt,
		DeliveredAt:    d.DeliveredAt,
		FailedAt:       d.FailedAt,
		TransferRef:    d.TransferRef,
		Notes:          d.Notes,
		CreatedAt:      d.CreatedAt,
	}
}
