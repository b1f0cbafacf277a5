package orders

import (
	"context"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/angelmondragon/shipsplit-backend/api/controllers"
	"github.com/angelmondragon/shipsplit-backend/api/middleware"
	"github.com/angelmondragon/shipsplit-backend/api/responses"
	"github.com/angelmondragon/shipsplit-backend/api/validators"
	internalorders "github.com/angelmondragon/shipsplit-backend/internal/orders"
	"github.com/angelmondragon/shipsplit-backend/internal/payments"
	"github.com/angelmondragon/shipsplit-backend/pkg/db/models"
	"github.com/angelmondragon/shipsplit-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/shipsplit-backend/pkg/errors"
	"github.com/angelmondragon/shipsplit-backend/pkg/logger"
	"github.com/angelmondragon/shipsplit-backend/pkg/pagination"
)

// OrderReader is the read surface the order routes need.
type OrderReader interface {
	Get(ctx context.Context, orderID uuid.UUID) (*models.Order, error)
	ListByBuyer(ctx context.Context, buyerID uuid.UUID, params internalorders.ListParams) (*internalorders.OrderList, error)
}

type statusUpdater interface {
	UpdateStatus(ctx context.Context, input internalorders.UpdateStatusInput) (*models.Order, error)
}

type sessionRetrier interface {
	RetrySession(ctx context.Context, orderID uuid.UUID, actor internalorders.Actor) (*payments.CheckoutResult, error)
}

// Detail returns one order when the caller is its buyer, one of its vendors,
// its driver, or an operator.
func Detail(svc OrderReader, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, err := middleware.ActorFromContext(r.Context())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		orderID, err := validators.ParsePathUUID(r, "orderId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		order, err := svc.Get(r.Context(), orderID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if !internalorders.CanView(order, actor) {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeForbidden, "order not visible to caller"))
			return
		}
		responses.WriteSuccess(w, internalorders.ToDTO(order))
	}
}

// List pages the caller's own orders. Operators may pass buyer_id to read
// another buyer's history.
func List(svc OrderReader, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, err := middleware.ActorFromContext(r.Context())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		limit, err := validators.ParseQueryInt(r, "limit", pagination.DefaultLimit, 1, pagination.MaxLimit)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		buyerID := actor.UserID
		if raw := strings.TrimSpace(r.URL.Query().Get("buyer_id")); raw != "" {
			if !actor.IsOperator() {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeForbidden, "buyer_id filter requires admin"))
				return
			}
			buyerID, err = uuid.Parse(raw)
			if err != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid buyer_id"))
				return
			}
		}

		list, err := svc.ListByBuyer(r.Context(), buyerID, internalorders.ListParams{
			Limit:  limit,
			Cursor: strings.TrimSpace(r.URL.Query().Get("cursor")),
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, list)
	}
}

type updateStatusRequest struct {
	Status         string  `json:"status" validate:"required"`
	TrackingNumber *string `json:"tracking_number"`
}

// UpdateStatus moves an order along the manual lifecycle.
func UpdateStatus(svc statusUpdater, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, err := middleware.ActorFromContext(r.Context())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		orderID, err := validators.ParsePathUUID(r, "orderId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var req updateStatusRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		status, err := enums.ParseOrderStatus(strings.TrimSpace(req.Status))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid status"))
			return
		}
		if req.TrackingNumber != nil {
			tracking := validators.SanitizeString(*req.TrackingNumber, 64)
			req.TrackingNumber = &tracking
		}

		order, err := svc.UpdateStatus(r.Context(), internalorders.UpdateStatusInput{
			OrderID:        orderID,
			Status:         status,
			TrackingNumber: req.TrackingNumber,
			Actor:          actor,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, internalorders.ToDTO(order))
	}
}

// RetrySession opens a fresh hosted payment page for an unpaid card order.
func RetrySession(svc sessionRetrier, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, err := middleware.ActorFromContext(r.Context())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		orderID, err := validators.ParsePathUUID(r, "orderId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		result, err := svc.RetrySession(r.Context(), orderID, actor)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, controllers.NewCheckoutResponse(result))
	}
}
