package controllers

import (
	"context"
	"net/http"

	"github.com/angelmondragon/shipsplit-backend/api/responses"
	"github.com/angelmondragon/shipsplit-backend/api/validators"
	"github.com/angelmondragon/shipsplit-backend/internal/fees"
	"github.com/angelmondragon/shipsplit-backend/pkg/logger"
	"github.com/angelmondragon/shipsplit-backend/pkg/money"
	"github.com/angelmondragon/shipsplit-backend/pkg/types"
)

type deliveryQuoter interface {
	Quote(ctx context.Context, address types.Address) fees.Quote
}

type deliveryQuoteRequest struct {
	Address types.Address `json:"address"`
}

type deliveryQuoteResponse struct {
	Fee       money.Cents `json:"fee"`
	Miles     *float64    `json:"miles"`
	Breakdown string      `json:"breakdown"`
}

// DeliveryFeeQuote prices delivery to an address. Unresolvable addresses get
// the flat base fee with miles set to null.
func DeliveryFeeQuote(quoter deliveryQuoter, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req deliveryQuoteRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		quote := quoter.Quote(r.Context(), req.Address)
		responses.WriteSuccess(w, deliveryQuoteResponse{
			Fee:       money.Cents(quote.FeeCents),
			Miles:     quote.Miles,
			Breakdown: quote.Breakdown,
		})
	}
}
