package deliveries

import (
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/angelmondragon/shipsplit-backend/api/middleware"
	"github.com/angelmondragon/shipsplit-backend/api/responses"
	"github.com/angelmondragon/shipsplit-backend/api/validators"
	"github.com/angelmondragon/shipsplit-backend/internal/delivery"
	"github.com/angelmondragon/shipsplit-backend/pkg/db/models"
	"github.com/angelmondragon/shipsplit-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/shipsplit-backend/pkg/errors"
	"github.com/angelmondragon/shipsplit-backend/pkg/logger"
	"github.com/angelmondragon/shipsplit-backend/pkg/pagination"
)

// Available lists unclaimed deliveries whose orders can be dispatched.
func Available(svc delivery.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		params, err := listParams(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		list, err := svc.ListAvailable(r.Context(), params)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, list)
	}
}

// Mine lists the deliveries assigned to the calling driver.
func Mine(svc delivery.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, err := middleware.ActorFromContext(r.Context())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		params, err := listParams(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		list, err := svc.ListForDriver(r.Context(), actor.UserID, params)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, list)
	}
}

// Detail shows a delivery to its driver, to any driver while it is still
// open for claiming, and to operators.
func Detail(svc delivery.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, err := middleware.ActorFromContext(r.Context())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		deliveryID, err := validators.ParsePathUUID(r, "deliveryId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		d, err := svc.Get(r.Context(), deliveryID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if !canView(d, actor.UserID, actor.IsOperator()) {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeForbidden, "delivery not visible to caller"))
			return
		}
		responses.WriteSuccess(w, delivery.ToDTO(d))
	}
}

// Claim assigns an open delivery to the calling driver. Losing a race returns
// ALREADY_CLAIMED.
func Claim(svc delivery.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, err := middleware.ActorFromContext(r.Context())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		deliveryID, err := validators.ParsePathUUID(r, "deliveryId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		d, err := svc.Claim(r.Context(), deliveryID, actor.UserID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, delivery.ToDTO(d))
	}
}

type assignRequest struct {
	DriverID uuid.UUID `json:"driver_id" validate:"required"`
}

// Assign lets an operator place or move a driver on a delivery.
func Assign(svc delivery.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, err := middleware.ActorFromContext(r.Context())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		deliveryID, err := validators.ParsePathUUID(r, "deliveryId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var req assignRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		d, err := svc.AdminAssign(r.Context(), deliveryID, req.DriverID, actor)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, delivery.ToDTO(d))
	}
}

type advanceRequest struct {
	Status string  `json:"status" validate:"required,oneof=picked_up en_route delivered failed"`
	Notes  *string `json:"notes"`
}

// Advance records driver progress. A delivered drop-off also pays the driver.
func Advance(svc delivery.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, err := middleware.ActorFromContext(r.Context())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		deliveryID, err := validators.ParsePathUUID(r, "deliveryId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var req advanceRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		status, err := enums.ParseDeliveryStatus(req.Status)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid status"))
			return
		}
		if req.Notes != nil {
			notes := validators.SanitizeString(*req.Notes, 1000)
			req.Notes = &notes
		}
		d, err := svc.Advance(r.Context(), delivery.AdvanceInput{
			DeliveryID: deliveryID,
			Status:     status,
			Notes:      req.Notes,
			Actor:      actor,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, delivery.ToDTO(d))
	}
}

func listParams(r *http.Request) (delivery.ListParams, error) {
	limit, err := validators.ParseQueryInt(r, "limit", pagination.DefaultLimit, 1, pagination.MaxLimit)
	if err != nil {
		return delivery.ListParams{}, err
	}
	return delivery.ListParams{Limit: limit, Cursor: strings.TrimSpace(r.URL.Query().Get("cursor"))}, nil
}

func canView(d *models.Delivery, userID uuid.UUID, operator bool) bool {
	if operator {
		return true
	}
	if d.DriverID == nil {
		return d.Status == enums.DeliveryStatusPending
	}
	return *d.DriverID == userID
}
