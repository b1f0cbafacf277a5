package payments

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/stripe/stripe-go/v84"
	"github.com/stripe/stripe-go/v84/checkout/session"
	"github.com/stripe/stripe-go/v84/refund"
	"github.com/stripe/stripe-go/v84/transfer"

	pkgerrors "github.com/angelmondragon/shipsplit-backend/pkg/errors"
	pkgstripe "github.com/angelmondragon/shipsplit-backend/pkg/stripe"
)

// Metadata keys written on processor objects.
const (
	MetadataOrderID     = "order_id"
	MetadataOrderNumber = "order_number"
	MetadataPayoutID    = "payout_id"
	MetadataPayeeKind   = "payee_kind"
	MetadataRefundID    = "refund_id"
	MetadataReason      = "reason"
)

type stripeAPI interface {
	NewSession(params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error)
	NewTransfer(params *stripe.TransferParams) (*stripe.Transfer, error)
	NewRefund(params *stripe.RefundParams) (*stripe.Refund, error)
}

type stripeBackend struct{}

func (stripeBackend) NewSession(params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error) {
	return session.New(params)
}

func (stripeBackend) NewTransfer(params *stripe.TransferParams) (*stripe.Transfer, error) {
	return transfer.New(params)
}

func (stripeBackend) NewRefund(params *stripe.RefundParams) (*stripe.Refund, error) {
	return refund.New(params)
}

// StripeProcessor implements Processor with Checkout Sessions, Connect
// transfers and refunds.
type StripeProcessor struct {
	api        stripeAPI
	currency   string
	successURL string
	cancelURL  string
}

// NewStripeProcessor requires an initialized client so stripe.Key is set.
func NewStripeProcessor(client *pkgstripe.Client, successURL, cancelURL string) (*StripeProcessor, error) {
	if client == nil {
		return nil, fmt.Errorf("stripe client required")
	}
	return &StripeProcessor{
		api:        stripeBackend{},
		currency:   client.Currency(),
		successURL: successURL,
		cancelURL:  cancelURL,
	}, nil
}

func (p *StripeProcessor) CreateHostedSession(ctx context.Context, req SessionRequest) (*Session, error) {
	if len(req.Lines) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "session requires line items")
	}
	params := &stripe.CheckoutSessionParams{
		Mode:              stripe.String(string(stripe.CheckoutSessionModePayment)),
		SuccessURL:        stripe.String(p.successURL),
		CancelURL:         stripe.String(p.cancelURL),
		ClientReferenceID: stripe.String(req.OrderID.String()),
		PaymentIntentData: &stripe.CheckoutSessionPaymentIntentDataParams{
			TransferGroup: stripe.String(req.OrderNumber),
			Metadata: map[string]string{
				MetadataOrderID:     req.OrderID.String(),
				MetadataOrderNumber: req.OrderNumber,
			},
		},
	}
	if !req.ExpiresAt.IsZero() {
		params.ExpiresAt = stripe.Int64(req.ExpiresAt.Unix())
	}
	for _, line := range req.Lines {
		params.LineItems = append(params.LineItems, &stripe.CheckoutSessionLineItemParams{
			PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
				Currency:   stripe.String(p.currency),
				UnitAmount: stripe.Int64(line.UnitAmountCents),
				ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
					Name: stripe.String(line.Name),
				},
			},
			Quantity: stripe.Int64(line.Quantity),
		})
	}
	params.AddMetadata(MetadataOrderID, req.OrderID.String())
	params.AddMetadata(MetadataOrderNumber, req.OrderNumber)
	params.Context = ctx
	if req.IdempotencyKey != "" {
		params.SetIdempotencyKey(req.IdempotencyKey)
	}

	sess, err := p.api.NewSession(params)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create checkout session")
	}
	out := &Session{ID: sess.ID, URL: sess.URL}
	if sess.ExpiresAt > 0 {
		out.ExpiresAt = time.Unix(sess.ExpiresAt, 0).UTC()
	} else {
		out.ExpiresAt = req.ExpiresAt
	}
	return out, nil
}

func (p *StripeProcessor) CreateTransfer(ctx context.Context, req TransferRequest) (*Transfer, error) {
	if req.DestinationAccount == "" || req.AmountCents <= 0 {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, ErrRejected, "transfer requires destination and positive amount")
	}
	params := &stripe.TransferParams{
		Amount:      stripe.Int64(req.AmountCents),
		Currency:    stripe.String(p.currency),
		Destination: stripe.String(req.DestinationAccount),
	}
	if req.TransferGroup != "" {
		params.TransferGroup = stripe.String(req.TransferGroup)
	}
	if req.Description != "" {
		params.Description = stripe.String(req.Description)
	}
	for k, v := range req.Metadata {
		params.AddMetadata(k, v)
	}
	params.Context = ctx
	if req.IdempotencyKey != "" {
		params.SetIdempotencyKey(req.IdempotencyKey)
	}

	tr, err := p.api.NewTransfer(params)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, classifyStripeError(err), "create transfer")
	}
	return &Transfer{ID: tr.ID}, nil
}

func (p *StripeProcessor) CreateRefund(ctx context.Context, req RefundRequest) (*RefundResult, error) {
	if req.PaymentRef == "" || req.AmountCents <= 0 {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, ErrRejected, "refund requires payment reference and positive amount")
	}
	params := &stripe.RefundParams{
		PaymentIntent: stripe.String(req.PaymentRef),
		Amount:        stripe.Int64(req.AmountCents),
		Reason:        stripe.String(string(stripe.RefundReasonRequestedByCustomer)),
	}
	for k, v := range req.Metadata {
		params.AddMetadata(k, v)
	}
	if req.Reason != "" {
		params.AddMetadata(MetadataReason, req.Reason)
	}
	params.Context = ctx
	if req.IdempotencyKey != "" {
		params.SetIdempotencyKey(req.IdempotencyKey)
	}

	rf, err := p.api.NewRefund(params)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, classifyStripeError(err), "create refund")
	}
	if rf.Status == stripe.RefundStatusFailed || rf.Status == stripe.RefundStatusCanceled {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, ErrRejected, "refund rejected by processor").WithDetails(map[string]any{"refund_ref": rf.ID, "status": string(rf.Status)})
	}
	return &RefundResult{ID: rf.ID, Status: string(rf.Status)}, nil
}

// classifyStripeError marks client errors Stripe answered as rejections.
// Conflicts (a concurrent request on the same key), rate limits, 5xx and
// transport failures stay unclassified because the request may have run.
func classifyStripeError(err error) error {
	var stripeErr *stripe.Error
	if !errors.As(err, &stripeErr) {
		return err
	}
	switch code := stripeErr.HTTPStatusCode; {
	case code == http.StatusConflict, code == http.StatusTooManyRequests:
		return err
	case code >= 400 && code < 500:
		return fmt.Errorf("%w: %w", ErrRejected, err)
	}
	return err
}
