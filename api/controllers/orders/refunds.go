package orders

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/shipsplit-backend/api/middleware"
	"github.com/angelmondragon/shipsplit-backend/api/responses"
	"github.com/angelmondragon/shipsplit-backend/api/validators"
	"github.com/angelmondragon/shipsplit-backend/internal/refunds"
	"github.com/angelmondragon/shipsplit-backend/pkg/db/models"
	"github.com/angelmondragon/shipsplit-backend/pkg/enums"
	"github.com/angelmondragon/shipsplit-backend/pkg/logger"
	"github.com/angelmondragon/shipsplit-backend/pkg/money"
)

type refundIssuer interface {
	Refund(ctx context.Context, input refunds.RefundInput) (*refunds.Result, error)
	ListByOrder(ctx context.Context, orderID uuid.UUID) ([]models.Refund, error)
}

// refundRequest omits amount for a refund of the remaining balance.
type refundRequest struct {
	Amount *money.Cents `json:"amount"`
	Reason string       `json:"reason" validate:"max=500"`
}

type refundDTO struct {
	ID          uuid.UUID                `json:"id"`
	RefundRef   *string                  `json:"refund_ref,omitempty"`
	Amount      money.Cents              `json:"amount"`
	Reason      *string                  `json:"reason,omitempty"`
	Status      enums.RefundRecordStatus `json:"status"`
	InitiatedBy uuid.UUID                `json:"initiated_by"`
	LastError   *string                  `json:"last_error,omitempty"`
	CreatedAt   time.Time                `json:"created_at"`
}

// Refund returns money to the buyer of a paid order.
func Refund(svc refundIssuer, logg *logger.Logger) http.HandlerFunc {
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
		var req refundRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		input := refunds.RefundInput{
			OrderID:     orderID,
			Reason:      validators.SanitizeString(req.Reason, 500),
			InitiatedBy: actor.UserID,
		}
		if req.Amount != nil {
			amount := req.Amount.Int64()
			input.AmountCents = &amount
		}

		result, err := svc.Refund(r.Context(), input)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, result)
	}
}

// ListRefunds returns the refund history of an order in the order it was issued.
func ListRefunds(svc refundIssuer, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		orderID, err := validators.ParsePathUUID(r, "orderId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		rows, err := svc.ListByOrder(r.Context(), orderID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		out := make([]refundDTO, 0, len(rows))
		for _, row := range rows {
			out = append(out, refundDTO{
				ID:          row.ID,
				RefundRef:   row.RefundRef,
				Amount:      money.Cents(row.AmountCents),
				Reason:      row.Reason,
				Status:      row.Status,
				InitiatedBy: row.InitiatedBy,
				LastError:   row.LastError,
				CreatedAt:   row.CreatedAt,
			})
		}
		responses.WriteSuccess(w, map[string]any{"refunds": out})
	}
}
