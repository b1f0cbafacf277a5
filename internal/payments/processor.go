package payments

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrRejected marks a processor answer that definitively refused a request.
// Any other error leaves the outcome unknown: the request may have been
// executed, so a retry must reuse the same idempotency key.
var ErrRejected = errors.New("rejected by payment processor")

// IsRejected reports whether err is a definitive processor refusal.
func IsRejected(err error) bool {
	return errors.Is(err, ErrRejected)
}

// Processor is the payment processor adapter contract.
type Processor interface {
	CreateHostedSession(ctx context.Context, req SessionRequest) (*Session, error)
	CreateTransfer(ctx context.Context, req TransferRequest) (*Transfer, error)
	CreateRefund(ctx context.Context, req RefundRequest) (*RefundResult, error)
}

// SessionLine is one priced row shown on the hosted payment page.
type SessionLine struct {
	Name            string
	UnitAmountCents int64
	Quantity        int64
}

type SessionRequest struct {
	OrderID        uuid.UUID
	OrderNumber    string
	BuyerID        uuid.UUID
	Lines          []SessionLine
	ExpiresAt      time.Time
	IdempotencyKey string
}

// AmountCents is what the buyer will be charged.
func (r SessionRequest) AmountCents() int64 {
	var total int64
	for _, line := range r.Lines {
		total += line.UnitAmountCents * line.Quantity
	}
	return total
}

type Session struct {
	ID        string
	URL       string
	ExpiresAt time.Time
}

// TransferRequest moves funds to a payee's connected account.
type TransferRequest struct {
	DestinationAccount string
	AmountCents        int64
	TransferGroup      string
	Description        string
	Metadata           map[string]string
	IdempotencyKey     string
}

type Transfer struct {
	ID string
}

type RefundRequest struct {
	PaymentRef     string
	AmountCents    int64
	Reason         string
	Metadata       map[string]string
	IdempotencyKey string
}

type RefundResult struct {
	ID     string
	Status string
}

// SessionCompleted is a processor notification that the buyer finished the hosted page.
type SessionCompleted struct {
	SessionID  string
	PaymentRef string
	OrderID    uuid.UUID
	Paid       bool
}

// SessionExpired reports a hosted session that timed out unpaid.
type SessionExpired struct {
	SessionID string
	OrderID   uuid.UUID
}

// AccountUpdated carries payout readiness for a connected account.
type AccountUpdated struct {
	AccountID      string
	PayoutsEnabled bool
}

// TransferFailed reports a transfer that failed or was reversed after creation.
type TransferFailed struct {
	TransferRef string
	Reason      string
}
