package stripewebhook

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v84"

	"github.com/angelmondragon/shipsplit-backend/internal/payments"
	"github.com/angelmondragon/shipsplit-backend/internal/settlement"
	"github.com/angelmondragon/shipsplit-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/shipsplit-backend/pkg/errors"
	"github.com/angelmondragon/shipsplit-backend/pkg/logger"
)

// EventTypeTransferFailed is still delivered for some connected accounts but
// has no constant in the SDK.
const EventTypeTransferFailed stripe.EventType = "transfer.failed"

type checkoutHandler interface {
	HandleSessionCompleted(ctx context.Context, event payments.SessionCompleted) error
	HandleSessionExpired(ctx context.Context, event payments.SessionExpired) error
}

type accountStore interface {
	SetPayoutsEnabled(ctx context.Context, externalID string, enabled bool) (*models.PayoutAccount, bool, error)
}

type payoutReconciler interface {
	CatchUp(ctx context.Context, payeeID uuid.UUID) (*settlement.Report, error)
	MarkTransferFailed(ctx context.Context, transferRef, reason string) (bool, error)
}

type eventLog interface {
	Seen(ctx context.Context, eventID string) (bool, error)
	Record(ctx context.Context, eventID, eventType string) error
}

type ServiceParams struct {
	Checkout   checkoutHandler
	Accounts   accountStore
	Settlement payoutReconciler
	Events     eventLog
	Logger     *logger.Logger
}

// Service routes verified processor events to the engine.
type Service struct {
	checkout   checkoutHandler
	accounts   accountStore
	settlement payoutReconciler
	events     eventLog
	logg       *logger.Logger
}

func NewService(params ServiceParams) (*Service, error) {
	if params.Checkout == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "checkout handler required")
	}
	if params.Accounts == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "payout account store required")
	}
	if params.Settlement == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "settlement engine required")
	}
	if params.Events == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "event log required")
	}
	if params.Logger == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "logger required")
	}
	return &Service{
		checkout:   params.Checkout,
		accounts:   params.Accounts,
		settlement: params.Settlement,
		events:     params.Events,
		logg:       params.Logger,
	}, nil
}

// HandleEvent applies one event at most once. The durable log backs up the
// short-lived redis guard in front of it.
func (s *Service) HandleEvent(ctx context.Context, event *stripe.Event) error {
	if event == nil || event.Data == nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "stripe event data required")
	}
	ctx = s.logg.WithFields(ctx, map[string]any{"stripe_event_id": event.ID, "stripe_event_type": string(event.Type)})
	if event.ID != "" {
		seen, err := s.events.Seen(ctx, event.ID)
		if err != nil {
			return err
		}
		if seen {
			s.logg.Info(ctx, "stripe event already processed")
			return nil
		}
	}

	if err := s.dispatch(ctx, event); err != nil {
		return err
	}
	if event.ID == "" {
		return nil
	}
	return s.events.Record(ctx, event.ID, string(event.Type))
}

func (s *Service) dispatch(ctx context.Context, event *stripe.Event) error {
	switch event.Type {
	case stripe.EventTypeCheckoutSessionCompleted, stripe.EventTypeCheckoutSessionAsyncPaymentSucceeded:
		var session stripe.CheckoutSession
		if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "decode checkout session event")
		}
		paid := event.Type == stripe.EventTypeCheckoutSessionAsyncPaymentSucceeded ||
			session.PaymentStatus == stripe.CheckoutSessionPaymentStatusPaid
		return s.checkout.HandleSessionCompleted(ctx, payments.SessionCompleted{
			SessionID:  session.ID,
			PaymentRef: paymentRef(&session),
			OrderID:    orderIDFromSession(&session),
			Paid:       paid,
		})
	case stripe.EventTypeCheckoutSessionExpired, stripe.EventTypeCheckoutSessionAsyncPaymentFailed:
		var session stripe.CheckoutSession
		if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "decode checkout session event")
		}
		return s.checkout.HandleSessionExpired(ctx, payments.SessionExpired{
			SessionID: session.ID,
			OrderID:   orderIDFromSession(&session),
		})
	case stripe.EventTypeAccountUpdated:
		var account stripe.Account
		if err := json.Unmarshal(event.Data.Raw, &account); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "decode account event")
		}
		return s.accountUpdated(ctx, payments.AccountUpdated{AccountID: account.ID, PayoutsEnabled: account.PayoutsEnabled})
	case EventTypeTransferFailed, stripe.EventTypeTransferReversed:
		var transfer stripe.Transfer
		if err := json.Unmarshal(event.Data.Raw, &transfer); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "decode transfer event")
		}
		_, err := s.settlement.MarkTransferFailed(ctx, transfer.ID, string(event.Type))
		return err
	default:
		return nil
	}
}

// accountUpdated records onboarding progress. When payouts switch on, the
// payee's deferred earnings are settled right away.
func (s *Service) accountUpdated(ctx context.Context, update payments.AccountUpdated) error {
	account, activated, err := s.accounts.SetPayoutsEnabled(ctx, update.AccountID, update.PayoutsEnabled)
	if err != nil {
		if pkgerrors.IsCode(err, pkgerrors.CodeNotFound) {
			s.logg.Warn(s.logg.WithField(ctx, "account_id", update.AccountID), "account update for unknown payout account")
			return nil
		}
		return err
	}
	if !activated {
		return nil
	}
	logCtx := s.logg.WithPayee(ctx, string(account.Kind), account.PayeeID.String())
	if _, err := s.settlement.CatchUp(logCtx, account.PayeeID); err != nil {
		// payouts stay failed or deferred; the cron catch-up retries them
		s.logg.Error(logCtx, "catch-up after onboarding failed", err)
	}
	return nil
}

func paymentRef(session *stripe.CheckoutSession) string {
	if session.PaymentIntent != nil {
		return session.PaymentIntent.ID
	}
	return ""
}

func orderIDFromSession(session *stripe.CheckoutSession) uuid.UUID {
	candidates := []string{session.Metadata[payments.MetadataOrderID], session.ClientReferenceID}
	for _, raw := range candidates {
		if id, err := uuid.Parse(raw); err == nil {
			return id
		}
	}
	return uuid.Nil
}
