package orders

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"gorm.io/gorm"

	"github.com/angelmondragon/shipsplit-backend/internal/fees"
	"github.com/angelmondragon/shipsplit-backend/internal/inventory"
	"github.com/angelmondragon/shipsplit-backend/pkg/db/models"
	"github.com/angelmondragon/shipsplit-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/shipsplit-backend/pkg/errors"
	"github.com/angelmondragon/shipsplit-backend/pkg/logger"
	"github.com/angelmondragon/shipsplit-backend/pkg/outbox"
	"github.com/angelmondragon/shipsplit-backend/pkg/outbox/payloads"
	"github.com/angelmondragon/shipsplit-backend/pkg/pagination"
	"github.com/angelmondragon/shipsplit-backend/pkg/types"
)

// Service runs the order lifecycle from checkout to delivery.
type Service interface {
	Create(ctx context.Context, input CreateInput) (*models.Order, error)
	ConfirmPaid(ctx context.Context, orderID uuid.UUID, paymentRef string) error
	CancelAbandoned(ctx context.Context, orderID uuid.UUID) error
	UpdateStatus(ctx context.Context, input UpdateStatusInput) (*models.Order, error)
	MarkDelivered(ctx context.Context, orderID uuid.UUID) error
	AttachPaymentSession(ctx context.Context, orderID uuid.UUID, sessionID string, expiresAt time.Time) error
	Get(ctx context.Context, orderID uuid.UUID) (*models.Order, error)
	GetByNumber(ctx context.Context, number string) (*models.Order, error)
	FindBySessionID(ctx context.Context, sessionID string) (*models.Order, error)
	ListByBuyer(ctx context.Context, buyerID uuid.UUID, params ListParams) (*OrderList, error)
	SweepAbandoned(ctx context.Context, cutoff time.Time, limit int) (int, error)
}

// ServiceParams wires the order service collaborators. Settler is optional.
type ServiceParams struct {
	Repo     Repository
	Tx       txRunner
	Outbox   outboxPublisher
	Products ProductReader
	Stock    StockLedger
	Fees     FeeQuoter
	Sequence Sequence
	Settler  VendorSettler
	Logger   *logger.Logger
	Pickup   types.Address
	Now      func() time.Time
}

type service struct {
	repo     Repository
	tx       txRunner
	outbox   outboxPublisher
	products ProductReader
	stock    StockLedger
	fees     FeeQuoter
	sequence Sequence
	settler  VendorSettler
	logg     *logger.Logger
	pickup   types.Address
	now      func() time.Time
}

// NewService builds the order service with the required dependencies.
func NewService(params ServiceParams) (Service, error) {
	if params.Repo == nil {
		return nil, fmt.Errorf("orders repository required")
	}
	if params.Tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if params.Outbox == nil {
		return nil, fmt.Errorf("outbox publisher required")
	}
	if params.Products == nil {
		return nil, fmt.Errorf("product reader required")
	}
	if params.Stock == nil {
		return nil, fmt.Errorf("stock ledger required")
	}
	if params.Fees == nil {
		return nil, fmt.Errorf("fee quoter required")
	}
	if params.Sequence == nil {
		return nil, fmt.Errorf("order sequence required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	now := params.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &service{
		repo:     params.Repo,
		tx:       params.Tx,
		outbox:   params.Outbox,
		products: params.Products,
		stock:    params.Stock,
		fees:     params.Fees,
		sequence: params.Sequence,
		settler:  params.Settler,
		logg:     params.Logger,
		pickup:   params.Pickup,
		now:      now,
	}, nil
}

func (s *service) Create(ctx context.Context, input CreateInput) (*models.Order, error) {
	if input.BuyerID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "buyer id required")
	}
	if input.Address.IsZero() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "shipping address required")
	}
	method := input.PaymentMethod
	if method == "" {
		method = enums.PaymentMethodCard
	}
	if !method.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "unsupported payment method")
	}

	requested := make([]inventory.Line, 0, len(input.Items))
	for _, item := range input.Items {
		requested = append(requested, inventory.Line{ProductID: item.ProductID, Quantity: item.Quantity})
	}
	lines, err := inventory.Merge(requested)
	if err != nil {
		return nil, err
	}

	ids := make([]uuid.UUID, 0, len(lines))
	for _, line := range lines {
		ids = append(ids, line.ProductID)
	}
	products, err := s.products.GetProducts(ctx, ids)
	if err != nil {
		return nil, err
	}

	items := make([]models.OrderItem, 0, len(lines))
	var subtotal int64
	for i, line := range lines {
		product := products[i]
		if !product.Active || product.Stock < line.Quantity {
			return nil, pkgerrors.InsufficientStock(product.ID.String(), line.Quantity)
		}
		lineTotal := product.PriceCents * int64(line.Quantity)
		subtotal += lineTotal
		items = append(items, models.OrderItem{
			ProductID:      product.ID,
			VendorID:       product.VendorID,
			Name:           product.Name,
			UnitPriceCents: product.PriceCents,
			Quantity:       line.Quantity,
			LineTotalCents: lineTotal,
		})
	}

	totals := fees.PriceOrder(subtotal)
	quote := s.fees.Quote(ctx, input.Address)

	seq, err := s.sequence.Next(ctx)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "allocate order number")
	}

	order := &models.Order{
		OrderNumber:     FormatOrderNumber(seq),
		BuyerID:         input.BuyerID,
		Status:          method.InitialOrderStatus(),
		PaymentMethod:   method,
		ShippingAddress: input.Address,
		SubtotalCents:   totals.SubtotalCents,
		TaxCents:        totals.TaxCents,
		ShippingCents:   totals.ShippingCents,
		TotalCents:      totals.TotalCents,
		RefundStatus:    enums.RefundStatusNone,
		Items:           items,
		Delivery: &models.Delivery{
			Status:        enums.DeliveryStatusPending,
			FeeCents:      quote.FeeCents,
			DistanceMiles: quote.Miles,
			Pickup:        s.pickup,
			Dropoff:       input.Address,
		},
	}

	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		if err := s.stock.Reserve(ctx, tx, lines); err != nil {
			return err
		}
		if err := s.repo.WithTx(tx).CreateOrder(ctx, order); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "persist order")
		}
		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventOrderCreated,
			AggregateType: enums.AggregateOrder,
			AggregateID:   order.ID,
			Actor:         &outbox.ActorRef{UserID: input.BuyerID, Role: string(enums.ActorCustomer)},
			Data: payloads.OrderCreatedEvent{
				OrderID:       order.ID,
				OrderNumber:   order.OrderNumber,
				BuyerID:       order.BuyerID,
				Status:        order.Status,
				PaymentMethod: order.PaymentMethod,
				TotalCents:    order.TotalCents,
				DeliveryFee:   quote.FeeCents,
				VendorIDs:     vendorIDs(items),
			},
		})
	})
	if err != nil {
		return nil, err
	}

	logCtx := s.logg.WithOrderID(ctx, order.ID.String())
	s.logg.Info(s.logg.WithField(logCtx, "order_number", order.OrderNumber), "order created")
	return order, nil
}

func (s *service) ConfirmPaid(ctx context.Context, orderID uuid.UUID, paymentRef string) error {
	if orderID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "order id required")
	}
	logCtx := s.logg.WithOrderID(ctx, orderID.String())
	paidAt := s.now()

	return s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		ok, err := repo.MarkPaid(ctx, orderID, paymentRef, paidAt)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "mark order paid")
		}
		if !ok {
			order, err := repo.FindByID(ctx, orderID)
			if err != nil {
				return err
			}
			if order.Status == enums.OrderStatusCancelled && !order.Paid {
				s.logg.Warn(s.logg.WithField(logCtx, "payment_ref", paymentRef), "payment received for cancelled order; manual refund required")
			}
			return nil
		}
		s.logg.Info(logCtx, "order payment confirmed")
		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventOrderPaid,
			AggregateType: enums.AggregateOrder,
			AggregateID:   orderID,
			Data: payloads.OrderPaidEvent{
				OrderID:    orderID,
				PaymentRef: paymentRef,
				PaidAt:     paidAt,
			},
		})
	})
}

func (s *service) CancelAbandoned(ctx context.Context, orderID uuid.UUID) error {
	if orderID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "order id required")
	}
	now := s.now()
	cancelled := false
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		ok, err := repo.TransitionStatus(ctx, orderID, enums.OrderStatusPendingPayment, enums.OrderStatusCancelled, map[string]any{"cancelled_at": now})
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "cancel order")
		}
		if !ok {
			return nil
		}
		order, err := repo.FindByID(ctx, orderID)
		if err != nil {
			return err
		}
		if err := s.releaseStock(ctx, tx, repo, order); err != nil {
			return err
		}
		cancelled = true
		return s.emitStatusChange(ctx, tx, nil, orderID, enums.OrderStatusPendingPayment, enums.OrderStatusCancelled, "payment session expired")
	})
	if err != nil {
		return err
	}
	if cancelled {
		s.logg.Info(s.logg.WithOrderID(ctx, orderID.String()), "abandoned order cancelled and stock released")
	}
	return nil
}

func (s *service) UpdateStatus(ctx context.Context, input UpdateStatusInput) (*models.Order, error) {
	if input.OrderID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id required")
	}
	if !input.Status.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid order status")
	}
	if input.Status == enums.OrderStatusRefunded {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "refunded is set by issuing a refund")
	}
	if input.Actor.UserID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "user identity missing")
	}

	now := s.now()
	delivered := false
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		order, err := repo.FindByID(ctx, input.OrderID)
		if err != nil {
			return err
		}
		if !CanManage(order, input.Actor) {
			return pkgerrors.New(pkgerrors.CodeForbidden, "order not managed by caller")
		}
		from := order.Status
		if from == input.Status {
			return nil
		}
		if !from.CanTransitionTo(input.Status) {
			return pkgerrors.InvalidTransition("order", string(from), string(input.Status))
		}
		cod := order.PaymentMethod == enums.PaymentMethodCashOnDelivery
		if !order.Paid && !cod && input.Status != enums.OrderStatusCancelled {
			return unpaidTransition(from, input.Status)
		}

		updates := map[string]any{}
		switch input.Status {
		case enums.OrderStatusShipped:
			if input.TrackingNumber != nil {
				updates["tracking_number"] = *input.TrackingNumber
			}
		case enums.OrderStatusDelivered:
			updates["is_delivered"] = true
			updates["delivered_at"] = now
			if !order.Paid {
				collectCash(updates, now)
			}
		case enums.OrderStatusCancelled:
			updates["cancelled_at"] = now
		}

		ok, err := repo.TransitionStatus(ctx, order.ID, from, input.Status, updates)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "update order status")
		}
		if !ok {
			return pkgerrors.New(pkgerrors.CodeConflict, "order changed concurrently; retry")
		}
		if input.Status == enums.OrderStatusCancelled && from.IsPreShipment() {
			if err := s.releaseStock(ctx, tx, repo, order); err != nil {
				return err
			}
		}
		delivered = input.Status == enums.OrderStatusDelivered
		actor := &outbox.ActorRef{UserID: input.Actor.UserID, Role: string(input.Actor.Role)}
		return s.emitStatusChange(ctx, tx, actor, order.ID, from, input.Status, "")
	})
	if err != nil {
		return nil, err
	}
	if delivered {
		s.settle(ctx, input.OrderID)
	}
	return s.repo.FindByID(ctx, input.OrderID)
}

// MarkDelivered is the system path used when the driver completes the drop-off.
// A cash-on-delivery order is recorded as paid on the way; an unpaid card
// order cannot be delivered.
func (s *service) MarkDelivered(ctx context.Context, orderID uuid.UUID) error {
	if orderID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "order id required")
	}
	now := s.now()
	delivered := false
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		order, err := repo.FindByID(ctx, orderID)
		if err != nil {
			return err
		}
		from := order.Status
		if from == enums.OrderStatusDelivered {
			return nil
		}
		updates := map[string]any{
			"is_delivered": true,
			"delivered_at": now,
		}
		if !order.Paid {
			if order.PaymentMethod != enums.PaymentMethodCashOnDelivery {
				return unpaidTransition(from, enums.OrderStatusDelivered)
			}
			if from == enums.OrderStatusPending {
				ok, err := repo.MarkPaid(ctx, orderID, cashPaymentRef, now)
				if err != nil {
					return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "record cash payment")
				}
				if !ok {
					return pkgerrors.New(pkgerrors.CodeConflict, "order changed concurrently; retry")
				}
				from = enums.OrderStatusConfirmed
			} else {
				collectCash(updates, now)
			}
		}
		if !from.CanTransitionTo(enums.OrderStatusDelivered) {
			return pkgerrors.InvalidTransition("order", string(from), string(enums.OrderStatusDelivered))
		}
		ok, err := repo.TransitionStatus(ctx, orderID, from, enums.OrderStatusDelivered, updates)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "mark order delivered")
		}
		if !ok {
			return pkgerrors.New(pkgerrors.CodeConflict, "order changed concurrently; retry")
		}
		delivered = true
		return s.emitStatusChange(ctx, tx, nil, orderID, from, enums.OrderStatusDelivered, "delivery completed")
	})
	if err != nil {
		return err
	}
	if delivered {
		s.settle(ctx, orderID)
	}
	return nil
}

const cashPaymentRef = "cash_on_delivery"

// collectCash marks a cash-on-delivery order as paid at hand-over.
func collectCash(updates map[string]any, at time.Time) {
	updates["paid"] = true
	updates["paid_at"] = at
	updates["payment_ref"] = cashPaymentRef
}

func unpaidTransition(from, to enums.OrderStatus) error {
	return pkgerrors.New(pkgerrors.CodeStateConflict, "order payment not captured").WithDetails(map[string]any{
		"entity": "order",
		"from":   string(from),
		"to":     string(to),
		"reason": "payment not captured",
	})
}

func (s *service) AttachPaymentSession(ctx context.Context, orderID uuid.UUID, sessionID string, expiresAt time.Time) error {
	if orderID == uuid.Nil || sessionID == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "order id and session id required")
	}
	ok, err := s.repo.SetPaymentSession(ctx, orderID, sessionID, expiresAt)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "attach payment session")
	}
	if !ok {
		return pkgerrors.New(pkgerrors.CodeStateConflict, "order is not awaiting payment")
	}
	return nil
}

func (s *service) Get(ctx context.Context, orderID uuid.UUID) (*models.Order, error) {
	return s.repo.FindByID(ctx, orderID)
}

func (s *service) GetByNumber(ctx context.Context, number string) (*models.Order, error) {
	return s.repo.FindByNumber(ctx, number)
}

func (s *service) FindBySessionID(ctx context.Context, sessionID string) (*models.Order, error) {
	if sessionID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "session id required")
	}
	return s.repo.FindBySessionID(ctx, sessionID)
}

func (s *service) ListByBuyer(ctx context.Context, buyerID uuid.UUID, params ListParams) (*OrderList, error) {
	cursor, err := pagination.ParseCursor(params.Cursor)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
	}
	rows, next, err := s.repo.ListByBuyer(ctx, buyerID, params.Limit, cursor)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "list orders")
	}
	list := &OrderList{Orders: make([]OrderDTO, 0, len(rows))}
	for i := range rows {
		list.Orders = append(list.Orders, ToDTO(&rows[i]))
	}
	if next != nil {
		list.Cursor = pagination.EncodeCursor(*next)
	}
	return list, nil
}

// SweepAbandoned cancels unpaid orders whose payment session outlived cutoff.
// It covers expiry webhooks that never arrived.
func (s *service) SweepAbandoned(ctx context.Context, cutoff time.Time, limit int) (int, error) {
	rows, err := s.repo.ListPendingPaymentBefore(ctx, cutoff, limit)
	if err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "list abandoned orders")
	}
	var errs error
	cancelled := 0
	for _, row := range rows {
		if err := s.CancelAbandoned(ctx, row.ID); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("order %s: %w", row.ID, err))
			continue
		}
		cancelled++
	}
	return cancelled, errs
}

// CanView reports whether the actor may read the order.
func CanView(order *models.Order, actor Actor) bool {
	if actor.IsOperator() {
		return true
	}
	switch actor.Role {
	case enums.ActorCustomer:
		return order.BuyerID == actor.UserID
	case enums.ActorVendor:
		return hasVendor(order, actor.UserID)
	case enums.ActorDriver:
		return order.Delivery != nil && order.Delivery.DriverID != nil && *order.Delivery.DriverID == actor.UserID
	}
	return false
}

// CanManage reports whether the actor may move the order's status.
func CanManage(order *models.Order, actor Actor) bool {
	if actor.IsOperator() {
		return true
	}
	return actor.Role == enums.ActorVendor && hasVendor(order, actor.UserID)
}

func hasVendor(order *models.Order, vendorID uuid.UUID) bool {
	for _, item := range order.Items {
		if item.VendorID == vendorID {
			return true
		}
	}
	return false
}

func (s *service) releaseStock(ctx context.Context, tx *gorm.DB, repo Repository, order *models.Order) error {
	won, err := repo.MarkStockReleased(ctx, order.ID)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "guard stock release")
	}
	if !won {
		return nil
	}
	return s.stock.Release(ctx, tx, stockLines(order.Items))
}

func (s *service) emitStatusChange(ctx context.Context, tx *gorm.DB, actor *outbox.ActorRef, orderID uuid.UUID, from, to enums.OrderStatus, reason string) error {
	eventType := enums.EventOrderStatusChanged
	if to == enums.OrderStatusCancelled {
		eventType = enums.EventOrderCancelled
	}
	return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     eventType,
		AggregateType: enums.AggregateOrder,
		AggregateID:   orderID,
		Actor:         actor,
		Data: payloads.OrderStatusChangedEvent{
			OrderID: orderID,
			From:    from,
			To:      to,
			Reason:  reason,
		},
	})
}

func (s *service) settle(ctx context.Context, orderID uuid.UUID) {
	if s.settler == nil {
		return
	}
	if err := s.settler.SettleOrder(ctx, orderID); err != nil {
		s.logg.Error(s.logg.WithOrderID(ctx, orderID.String()), "vendor settlement failed", err)
	}
}

func stockLines(items []models.OrderItem) []inventory.Line {
	lines := make([]inventory.Line, 0, len(items))
	for _, item := range items {
		lines = append(lines, inventory.Line{ProductID: item.ProductID, Quantity: item.Quantity})
	}
	return lines
}

func vendorIDs(items []models.OrderItem) []uuid.UUID {
	seen := make(map[uuid.UUID]struct{}, len(items))
	out := make([]uuid.UUID, 0, len(items))
	for _, item := range items {
		if _, ok := seen[item.VendorID]; ok {
			continue
		}
		seen[item.VendorID] = struct{}{}
		out = append(out, item.VendorID)
	}
	return out
}
