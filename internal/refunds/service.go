package refunds

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"gorm.io/gorm"

	"github.com/angelmondragon/shipsplit-backend/internal/payments"
	"github.com/angelmondragon/shipsplit-backend/pkg/db/models"
	"github.com/angelmondragon/shipsplit-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/shipsplit-backend/pkg/errors"
	"github.com/angelmondragon/shipsplit-backend/pkg/logger"
	"github.com/angelmondragon/shipsplit-backend/pkg/money"
	"github.com/angelmondragon/shipsplit-backend/pkg/outbox"
	"github.com/angelmondragon/shipsplit-backend/pkg/outbox/payloads"
)

type RefundInput struct {
	OrderID     uuid.UUID
	AmountCents *int64
	Reason      string
	InitiatedBy uuid.UUID
}

// Result is a completed refund and the order's refund position after it.
type Result struct {
	RefundID      uuid.UUID          `json:"refund_id"`
	OrderID       uuid.UUID          `json:"order_id"`
	RefundRef     string             `json:"refund_ref"`
	Amount        money.Cents        `json:"amount"`
	RefundedTotal money.Cents        `json:"refunded_total"`
	RefundStatus  enums.RefundStatus `json:"refund_status"`
	OrderStatus   enums.OrderStatus  `json:"order_status"`
}

type refunder interface {
	CreateRefund(ctx context.Context, req payments.RefundRequest) (*payments.RefundResult, error)
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxPublisher interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

type ServiceParams struct {
	Repo      *Repository
	Tx        txRunner
	Outbox    outboxPublisher
	Processor refunder
	Logger    *logger.Logger
}

// Service issues refunds against captured order payments. Refunds never
// return goods to stock.
type Service struct {
	repo      *Repository
	tx        txRunner
	outbox    outboxPublisher
	processor refunder
	logg      *logger.Logger
}

func NewService(params ServiceParams) (*Service, error) {
	if params.Repo == nil {
		return nil, fmt.Errorf("refund repository required")
	}
	if params.Tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if params.Outbox == nil {
		return nil, fmt.Errorf("outbox publisher required")
	}
	if params.Processor == nil {
		return nil, fmt.Errorf("payment processor required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &Service{
		repo:      params.Repo,
		tx:        params.Tx,
		outbox:    params.Outbox,
		processor: params.Processor,
		logg:      params.Logger,
	}, nil
}

// Refund reserves the amount locally, asks the processor to return it, then
// finalizes or compensates. A missing amount refunds everything left. When the
// processor's answer is lost the amount stays reserved and the refund is
// replayed by ResumePending under the same idempotency key.
func (s *Service) Refund(ctx context.Context, input RefundInput) (*Result, error) {
	if input.OrderID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id required")
	}
	if input.InitiatedBy == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "user identity missing")
	}
	order, err := s.repo.FindOrder(ctx, input.OrderID)
	if err != nil {
		return nil, err
	}
	if !order.Paid || order.PaymentRef == nil || *order.PaymentRef == "" {
		return nil, pkgerrors.InvalidTransition("order", string(order.Status), string(enums.OrderStatusRefunded))
	}
	maxRefundable := order.MaxRefundable()
	amount := maxRefundable
	if input.AmountCents != nil {
		amount = *input.AmountCents
	}
	if amount <= 0 || amount > maxRefundable {
		return nil, invalidAmount(amount, maxRefundable)
	}

	refund := &models.Refund{
		OrderID:     order.ID,
		AmountCents: amount,
		Status:      enums.RefundRecordPending,
		InitiatedBy: input.InitiatedBy,
	}
	if input.Reason != "" {
		reason := input.Reason
		refund.Reason = &reason
	}
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		ok, err := repo.Reserve(ctx, order.ID, amount)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "reserve refund amount")
		}
		if !ok {
			// a concurrent refund consumed part of the balance
			return invalidAmount(amount, maxRefundable)
		}
		if err := repo.CreateRefund(ctx, refund); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "record refund")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return s.submit(ctx, order, refund)
}

// ResumePending replays refunds whose processor outcome was never recorded,
// oldest first, with their original idempotency key. It returns how many
// reached a final state.
func (s *Service) ResumePending(ctx context.Context, before time.Time, limit int) (int, error) {
	rows, err := s.repo.ListPendingBefore(ctx, before, limit)
	if err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "list pending refunds")
	}
	var errs error
	finished := 0
	for i := range rows {
		if err := ctx.Err(); err != nil {
			return finished, multierr.Append(errs, err)
		}
		refund := rows[i]
		order, err := s.repo.FindOrder(ctx, refund.OrderID)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("refund %s: %w", refund.ID, err))
			continue
		}
		_, err = s.submit(ctx, order, &refund)
		if err == nil || payments.IsRejected(err) {
			finished++
		}
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("refund %s: %w", refund.ID, err))
		}
	}
	return finished, errs
}

// submit asks the processor for a reserved refund and records the answer. A
// rejection releases the reservation; an unknown outcome keeps it and leaves
// the row pending for ResumePending.
func (s *Service) submit(ctx context.Context, order *models.Order, refund *models.Refund) (*Result, error) {
	logCtx := s.logg.WithField(s.logg.WithOrderID(ctx, order.ID.String()), "refund_id", refund.ID.String())
	if order.PaymentRef == nil || *order.PaymentRef == "" {
		return nil, pkgerrors.InvalidTransition("order", string(order.Status), string(enums.OrderStatusRefunded))
	}
	reason := ""
	if refund.Reason != nil {
		reason = *refund.Reason
	}
	amount := refund.AmountCents

	processed, err := s.processor.CreateRefund(ctx, payments.RefundRequest{
		PaymentRef:  *order.PaymentRef,
		AmountCents: amount,
		Reason:      reason,
		Metadata: map[string]string{
			payments.MetadataOrderID:     order.ID.String(),
			payments.MetadataOrderNumber: order.OrderNumber,
			payments.MetadataRefundID:    refund.ID.String(),
		},
		IdempotencyKey: refund.ID.String(),
	})
	if err != nil {
		details := map[string]any{"order_id": order.ID.String(), "refund_id": refund.ID.String()}
		if payments.IsRejected(err) {
			s.compensate(logCtx, order.ID, refund.ID, amount, err)
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "refund rejected by payment processor").WithDetails(details)
		}
		if noteErr := s.repo.NoteError(ctx, refund.ID, err.Error()); noteErr != nil {
			s.logg.Error(logCtx, "record unconfirmed refund", noteErr)
		}
		s.logg.Error(logCtx, "refund outcome unknown; amount stays reserved until resumed", err)
		details["status"] = string(enums.RefundRecordPending)
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "refund outcome unknown; it will be retried").WithDetails(details)
	}

	result := &Result{RefundID: refund.ID, OrderID: order.ID, RefundRef: processed.ID, Amount: money.Cents(amount)}
	finished := false
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		ref := processed.ID
		ok, err := repo.FinishRefund(ctx, refund.ID, enums.RefundRecordSucceeded, &ref, nil)
		if err != nil {
			return err
		}
		current, err := repo.FindOrder(ctx, order.ID)
		if err != nil {
			return err
		}
		result.RefundedTotal = money.Cents(current.RefundedCents)
		result.RefundStatus = current.RefundStatus
		result.OrderStatus = current.Status
		if !ok {
			// another caller already recorded this refund
			return nil
		}
		finished = true
		refundStatus := enums.RefundStatusPartial
		var nextStatus *enums.OrderStatus
		if current.RefundedCents >= current.TotalCents {
			refundStatus = enums.RefundStatusFull
			if current.Status != enums.OrderStatusRefunded && current.Status.CanTransitionTo(enums.OrderStatusRefunded) {
				refunded := enums.OrderStatusRefunded
				nextStatus = &refunded
			}
		}
		if err := repo.ApplyStatus(ctx, order.ID, refundStatus, nextStatus); err != nil {
			return err
		}
		result.RefundStatus = refundStatus
		if nextStatus != nil {
			result.OrderStatus = *nextStatus
		}
		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventOrderRefunded,
			AggregateType: enums.AggregateOrder,
			AggregateID:   order.ID,
			Actor:         &outbox.ActorRef{UserID: refund.InitiatedBy, Role: string(enums.ActorAdmin)},
			Data: payloads.OrderRefundedEvent{
				OrderID:       order.ID,
				RefundID:      refund.ID,
				AmountCents:   amount,
				RefundedCents: current.RefundedCents,
				RefundStatus:  refundStatus,
			},
		})
	})
	if err != nil {
		// the processor already returned the money; the reservation stands
		s.logg.Error(s.logg.WithField(logCtx, "refund_ref", processed.ID), "record completed refund", err)
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "record completed refund")
	}
	if finished {
		s.logg.Info(s.logg.WithField(logCtx, "refund_ref", processed.ID), "order refunded")
	}
	return result, nil
}

func (s *Service) compensate(ctx context.Context, orderID, refundID uuid.UUID, amount int64, cause error) {
	reason := cause.Error()
	released := false
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		ok, err := repo.FinishRefund(ctx, refundID, enums.RefundRecordFailed, nil, &reason)
		if err != nil || !ok {
			return err
		}
		released = true
		_, err = repo.Compensate(ctx, orderID, amount)
		return err
	})
	if err != nil {
		s.logg.Error(ctx, "compensate failed refund", err)
		return
	}
	if released {
		s.logg.Warn(ctx, "refund rejected by processor; reservation released")
	}
}

func (s *Service) ListByOrder(ctx context.Context, orderID uuid.UUID) ([]models.Refund, error) {
	return s.repo.ListByOrder(ctx, orderID)
}

func invalidAmount(amount, maxRefundable int64) error {
	return pkgerrors.New(pkgerrors.CodeInvalidRefundAmount, "refund amount must be positive and within the refundable balance").
		WithDetails(map[string]any{
			"amount":         money.Cents(amount).Dollars(),
			"max_refundable": money.Cents(maxRefundable).Dollars(),
		})
}

