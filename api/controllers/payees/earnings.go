package payees

import (
	"context"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/angelmondragon/shipsplit-backend/api/middleware"
	"github.com/angelmondragon/shipsplit-backend/api/responses"
	"github.com/angelmondragon/shipsplit-backend/api/validators"
	"github.com/angelmondragon/shipsplit-backend/internal/orders"
	"github.com/angelmondragon/shipsplit-backend/internal/settlement"
	"github.com/angelmondragon/shipsplit-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/shipsplit-backend/pkg/errors"
	"github.com/angelmondragon/shipsplit-backend/pkg/logger"
)

// Ledger is the settlement surface exposed to payees and operators.
type Ledger interface {
	Summary(ctx context.Context, kind enums.PayeeKind, payeeID uuid.UUID) (*settlement.Summary, error)
	CatchUp(ctx context.Context, payeeID uuid.UUID) (*settlement.Report, error)
}

type catchUpResponse struct {
	Settled        int                 `json:"settled"`
	AlreadySettled int                 `json:"already_settled"`
	Deferred       int                 `json:"deferred"`
	Failed         int                 `json:"failed"`
	Unconfirmed    int                 `json:"unconfirmed"`
	Results        []settlement.Result `json:"results"`
}

// MyEarnings summarizes the calling vendor's or driver's earnings.
func MyEarnings(ledger Ledger, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, err := middleware.ActorFromContext(r.Context())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		kind, err := kindForActor(actor)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		summary, err := ledger.Summary(r.Context(), kind, actor.UserID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, summary)
	}
}

// MyCatchUp retries every unpaid payout owed to the caller.
func MyCatchUp(ledger Ledger, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, err := middleware.ActorFromContext(r.Context())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if _, err := kindForActor(actor); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		runCatchUp(w, r, ledger, actor.UserID, logg)
	}
}

// PayeeEarnings lets an operator read any payee's summary. kind defaults to vendor.
func PayeeEarnings(ledger Ledger, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		payeeID, err := validators.ParsePathUUID(r, "payeeId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		kind := enums.PayeeVendor
		if raw := strings.TrimSpace(r.URL.Query().Get("kind")); raw != "" {
			kind, err = enums.ParsePayeeKind(raw)
			if err != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid kind"))
				return
			}
		}
		summary, err := ledger.Summary(r.Context(), kind, payeeID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, summary)
	}
}

// PayeeCatchUp lets an operator retry a payee's unpaid payouts.
func PayeeCatchUp(ledger Ledger, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		payeeID, err := validators.ParsePathUUID(r, "payeeId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		runCatchUp(w, r, ledger, payeeID, logg)
	}
}

// runCatchUp reports per-payout outcomes. Individual transfer failures are
// part of the report, not an error response.
func runCatchUp(w http.ResponseWriter, r *http.Request, ledger Ledger, payeeID uuid.UUID, logg *logger.Logger) {
	report, err := ledger.CatchUp(r.Context(), payeeID)
	if report == nil {
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		report = &settlement.Report{}
	}
	if err != nil && logg != nil {
		logg.Warn(logg.WithPayee(r.Context(), "", payeeID.String()), "catch-up finished with errors: "+err.Error())
	}
	results := report.Results
	if results == nil {
		results = []settlement.Result{}
	}
	responses.WriteSuccess(w, catchUpResponse{
		Settled:        report.Count(settlement.OutcomeSettled),
		AlreadySettled: report.Count(settlement.OutcomeAlreadySettled),
		Deferred:       report.Count(settlement.OutcomeDeferred),
		Failed:         report.Count(settlement.OutcomeFailed),
		Unconfirmed:    report.Count(settlement.OutcomeUnconfirmed),
		Results:        results,
	})
}

func kindForActor(actor orders.Actor) (enums.PayeeKind, error) {
	switch actor.Role {
	case enums.ActorVendor:
		return enums.PayeeVendor, nil
	case enums.ActorDriver:
		return enums.PayeeDriver, nil
	}
	return "", pkgerrors.New(pkgerrors.CodeForbidden, "only vendors and drivers have earnings")
}
