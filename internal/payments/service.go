package payments

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/shipsplit-backend/internal/orders"
	"github.com/angelmondragon/shipsplit-backend/pkg/db/models"
	"github.com/angelmondragon/shipsplit-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/shipsplit-backend/pkg/errors"
	"github.com/angelmondragon/shipsplit-backend/pkg/logger"
	"github.com/angelmondragon/shipsplit-backend/pkg/types"
)

// CheckoutInput is a buyer's checkout request.
type CheckoutInput struct {
	BuyerID       uuid.UUID
	Items         []orders.ItemInput
	Address       types.Address
	PaymentMethod enums.PaymentMethod
}

// CheckoutResult is the created order plus the hosted page to pay it.
// Session fields are empty for cash-on-delivery orders.
type CheckoutResult struct {
	Order            *models.Order
	SessionID        string
	SessionURL       string
	SessionExpiresAt *time.Time
}

// Service orchestrates checkout sessions and their asynchronous outcomes.
type Service interface {
	Checkout(ctx context.Context, input CheckoutInput) (*CheckoutResult, error)
	RetrySession(ctx context.Context, orderID uuid.UUID, actor orders.Actor) (*CheckoutResult, error)
	HandleSessionCompleted(ctx context.Context, event SessionCompleted) error
	HandleSessionExpired(ctx context.Context, event SessionExpired) error
}

type ServiceParams struct {
	Orders     orders.Service
	Processor  Processor
	Logger     *logger.Logger
	SessionTTL time.Duration
	Now        func() time.Time
}

type service struct {
	orders     orders.Service
	processor  Processor
	logg       *logger.Logger
	sessionTTL time.Duration
	now        func() time.Time
}

func NewService(params ServiceParams) (Service, error) {
	if params.Orders == nil {
		return nil, fmt.Errorf("orders service required")
	}
	if params.Processor == nil {
		return nil, fmt.Errorf("payment processor required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	ttl := params.SessionTTL
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	now := params.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &service{
		orders:     params.Orders,
		processor:  params.Processor,
		logg:       params.Logger,
		sessionTTL: ttl,
		now:        now,
	}, nil
}

// Checkout creates the order and, for card payments, opens its hosted session.
// A processor failure leaves the order in pending_payment; the returned result
// still carries it so the caller can retry the session.
func (s *service) Checkout(ctx context.Context, input CheckoutInput) (*CheckoutResult, error) {
	order, err := s.orders.Create(ctx, orders.CreateInput{
		BuyerID:       input.BuyerID,
		Items:         input.Items,
		Address:       input.Address,
		PaymentMethod: input.PaymentMethod,
	})
	if err != nil {
		return nil, err
	}
	result := &CheckoutResult{Order: order}
	if order.PaymentMethod != enums.PaymentMethodCard {
		return result, nil
	}
	if err := s.openSession(ctx, order, result); err != nil {
		return result, err
	}
	return result, nil
}

func (s *service) RetrySession(ctx context.Context, orderID uuid.UUID, actor orders.Actor) (*CheckoutResult, error) {
	order, err := s.orders.Get(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if !actor.IsOperator() && order.BuyerID != actor.UserID {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "order not owned by caller")
	}
	if order.PaymentMethod != enums.PaymentMethodCard {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order does not use card payment")
	}
	if order.Status != enums.OrderStatusPendingPayment || order.Paid {
		return nil, pkgerrors.InvalidTransition("order", string(order.Status), string(enums.OrderStatusPendingPayment))
	}
	result := &CheckoutResult{Order: order}
	if err := s.openSession(ctx, order, result); err != nil {
		return result, err
	}
	return result, nil
}

func (s *service) openSession(ctx context.Context, order *models.Order, result *CheckoutResult) error {
	expiresAt := s.now().Add(s.sessionTTL)
	req := SessionRequest{
		OrderID:        order.ID,
		OrderNumber:    order.OrderNumber,
		BuyerID:        order.BuyerID,
		Lines:          SessionLines(order),
		ExpiresAt:      expiresAt,
		IdempotencyKey: fmt.Sprintf("checkout_session:%s:%d", order.ID, expiresAt.Unix()),
	}
	logCtx := s.logg.WithOrderID(ctx, order.ID.String())

	sess, err := s.processor.CreateHostedSession(ctx, req)
	if err != nil {
		s.logg.Error(logCtx, "create payment session failed", err)
		return withOrderDetails(err, order.ID)
	}
	if err := s.orders.AttachPaymentSession(ctx, order.ID, sess.ID, sess.ExpiresAt); err != nil {
		return err
	}
	result.SessionID = sess.ID
	result.SessionURL = sess.URL
	exp := sess.ExpiresAt
	result.SessionExpiresAt = &exp
	s.logg.Info(s.logg.WithField(logCtx, "session_id", sess.ID), "payment session opened")
	return nil
}

// SessionLines itemizes an order for the hosted page: goods, tax, shipping
// and the delivery fee as its own line.
func SessionLines(order *models.Order) []SessionLine {
	lines := make([]SessionLine, 0, len(order.Items)+3)
	for _, item := range order.Items {
		lines = append(lines, SessionLine{Name: item.Name, UnitAmountCents: item.UnitPriceCents, Quantity: int64(item.Quantity)})
	}
	if order.TaxCents > 0 {
		lines = append(lines, SessionLine{Name: "Sales tax", UnitAmountCents: order.TaxCents, Quantity: 1})
	}
	if order.ShippingCents > 0 {
		lines = append(lines, SessionLine{Name: "Shipping", UnitAmountCents: order.ShippingCents, Quantity: 1})
	}
	if order.Delivery != nil && order.Delivery.FeeCents > 0 {
		lines = append(lines, SessionLine{Name: "Delivery fee", UnitAmountCents: order.Delivery.FeeCents, Quantity: 1})
	}
	return lines
}

func (s *service) HandleSessionCompleted(ctx context.Context, event SessionCompleted) error {
	logCtx := s.logg.WithField(ctx, "session_id", event.SessionID)
	if !event.Paid {
		s.logg.Info(logCtx, "checkout completed without payment; awaiting async confirmation")
		return nil
	}
	order, err := s.resolveOrder(ctx, event.SessionID, event.OrderID)
	if err != nil {
		return err
	}
	if order == nil {
		s.logg.Warn(logCtx, "completed session does not match any order")
		return nil
	}
	return s.orders.ConfirmPaid(ctx, order.ID, event.PaymentRef)
}

func (s *service) HandleSessionExpired(ctx context.Context, event SessionExpired) error {
	logCtx := s.logg.WithField(ctx, "session_id", event.SessionID)
	order, err := s.orders.FindBySessionID(ctx, event.SessionID)
	if err != nil {
		if pkgerrors.IsCode(err, pkgerrors.CodeNotFound) {
			// a retried session replaced this one; the order is still payable
			s.logg.Info(logCtx, "expired session is not current for any order")
			return nil
		}
		return err
	}
	return s.orders.CancelAbandoned(ctx, order.ID)
}

func (s *service) resolveOrder(ctx context.Context, sessionID string, orderID uuid.UUID) (*models.Order, error) {
	order, err := s.orders.FindBySessionID(ctx, sessionID)
	if err == nil {
		return order, nil
	}
	if !pkgerrors.IsCode(err, pkgerrors.CodeNotFound) {
		return nil, err
	}
	if orderID == uuid.Nil {
		return nil, nil
	}
	order, err = s.orders.Get(ctx, orderID)
	if err != nil {
		if pkgerrors.IsCode(err, pkgerrors.CodeNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return order, nil
}

func withOrderDetails(err error, orderID uuid.UUID) error {
	typed := pkgerrors.As(err)
	if typed == nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "payment processor unavailable").WithDetails(map[string]any{"order_id": orderID.String()})
	}
	return pkgerrors.Wrap(typed.Code(), err, typed.Message()).WithDetails(map[string]any{"order_id": orderID.String()})
}
