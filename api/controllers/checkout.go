package controllers

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/shipsplit-backend/api/middleware"
	"github.com/angelmondragon/shipsplit-backend/api/responses"
	"github.com/angelmondragon/shipsplit-backend/api/validators"
	"github.com/angelmondragon/shipsplit-backend/internal/orders"
	"github.com/angelmondragon/shipsplit-backend/internal/payments"
	"github.com/angelmondragon/shipsplit-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/shipsplit-backend/pkg/errors"
	"github.com/angelmondragon/shipsplit-backend/pkg/logger"
	"github.com/angelmondragon/shipsplit-backend/pkg/types"
)

type checkoutService interface {
	Checkout(ctx context.Context, input payments.CheckoutInput) (*payments.CheckoutResult, error)
}

type checkoutItemRequest struct {
	ProductID uuid.UUID `json:"product_id" validate:"required"`
	Quantity  int       `json:"quantity" validate:"required,gt=0"`
}

type checkoutRequest struct {
	Items           []checkoutItemRequest `json:"items" validate:"required,min=1,dive"`
	ShippingAddress types.Address         `json:"shipping_address"`
	PaymentMethod   string                `json:"payment_method" validate:"omitempty,oneof=card cash_on_delivery"`
}

// CheckoutResponse is the created order plus the hosted page for card orders.
type CheckoutResponse struct {
	Order            orders.OrderDTO `json:"order"`
	SessionID        string          `json:"session_id,omitempty"`
	SessionURL       string          `json:"session_url,omitempty"`
	SessionExpiresAt *time.Time      `json:"session_expires_at,omitempty"`
}

// Checkout creates an order for the authenticated customer. When the hosted
// session cannot be opened the order still exists in pending_payment and the
// error details carry its id for a later retry.
func Checkout(svc checkoutService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, err := middleware.ActorFromContext(r.Context())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var req checkoutRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		method, err := enums.ParsePaymentMethod(req.PaymentMethod)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid payment method"))
			return
		}

		input := payments.CheckoutInput{
			BuyerID:       actor.UserID,
			Address:       req.ShippingAddress,
			PaymentMethod: method,
			Items:         make([]orders.ItemInput, 0, len(req.Items)),
		}
		for _, item := range req.Items {
			input.Items = append(input.Items, orders.ItemInput{ProductID: item.ProductID, Quantity: item.Quantity})
		}

		result, err := svc.Checkout(r.Context(), input)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, NewCheckoutResponse(result))
	}
}

func NewCheckoutResponse(result *payments.CheckoutResult) CheckoutResponse {
	return CheckoutResponse{
		Order:            orders.ToDTO(result.Order),
		SessionID:        result.SessionID,
		SessionURL:       result.SessionURL,
		SessionExpiresAt: result.SessionExpiresAt,
	}
}
