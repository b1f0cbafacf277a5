package delivery

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/shipsplit-backend/internal/orders"
	"github.com/angelmondragon/shipsplit-backend/pkg/db/models"
	"github.com/angelmondragon/shipsplit-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/shipsplit-backend/pkg/errors"
	"github.com/angelmondragon/shipsplit-backend/pkg/logger"
	"github.com/angelmondragon/shipsplit-backend/pkg/outbox"
	"github.com/angelmondragon/shipsplit-backend/pkg/outbox/payloads"
	"github.com/angelmondragon/shipsplit-backend/pkg/pagination"
)

// Service dispatches deliveries to drivers and tracks their progress.
type Service interface {
	Claim(ctx context.Context, deliveryID, driverID uuid.UUID) (*models.Delivery, error)
	AdminAssign(ctx context.Context, deliveryID, driverID uuid.UUID, actor orders.Actor) (*models.Delivery, error)
	Advance(ctx context.Context, input AdvanceInput) (*models.Delivery, error)
	ListAvailable(ctx context.Context, params ListParams) (*DeliveryList, error)
	ListForDriver(ctx context.Context, driverID uuid.UUID, params ListParams) (*DeliveryList, error)
	Get(ctx context.Context, deliveryID uuid.UUID) (*models.Delivery, error)
	GetByOrder(ctx context.Context, orderID uuid.UUID) (*models.Delivery, error)
}

// ServiceParams wires dispatch. Settler and Orders are optional; without them
// a delivered drop-off only updates the delivery row.
type ServiceParams struct {
	Repo    Repository
	Tx      txRunner
	Outbox  outboxPublisher
	Settler DriverSettler
	Orders  OrderDeliverer
	Logger  *logger.Logger
	Now     func() time.Time
}

type service struct {
	repo    Repository
	tx      txRunner
	outbox  outboxPublisher
	settler DriverSettler
	orders  OrderDeliverer
	logg    *logger.Logger
	now     func() time.Time
}

func NewService(params ServiceParams) (Service, error) {
	if params.Repo == nil {
		return nil, fmt.Errorf("delivery repository required")
	}
	if params.Tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if params.Outbox == nil {
		return nil, fmt.Errorf("outbox publisher required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	now := params.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &service{
		repo:    params.Repo,
		tx:      params.Tx,
		outbox:  params.Outbox,
		settler: params.Settler,
		orders:  params.Orders,
		logg:    params.Logger,
		now:     now,
	}, nil
}

// Claim attaches a driver to an unassigned delivery. Losing a race is an
// ordinary AlreadyClaimed result.
func (s *service) Claim(ctx context.Context, deliveryID, driverID uuid.UUID) (*models.Delivery, error) {
	if deliveryID == uuid.Nil || driverID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "delivery id and driver id required")
	}
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		ok, err := repo.Claim(ctx, deliveryID, driverID, s.now())
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "claim delivery")
		}
		current, err := repo.FindByID(ctx, deliveryID)
		if err != nil {
			return err
		}
		if !ok {
			return s.claimRejection(ctx, repo, current)
		}
		return s.emitAssigned(ctx, tx, current, &outbox.ActorRef{UserID: driverID, Role: string(enums.ActorDriver)})
	})
	if err != nil {
		return nil, err
	}
	s.logg.Info(s.deliveryCtx(ctx, deliveryID, "driver_id", driverID.String()), "delivery claimed")
	return s.repo.FindByID(ctx, deliveryID)
}

func (s *service) claimRejection(ctx context.Context, repo Repository, current *models.Delivery) error {
	if current.Status != enums.DeliveryStatusPending || current.DriverID != nil {
		return pkgerrors.New(pkgerrors.CodeAlreadyClaimed, "delivery already claimed").
			WithDetails(map[string]any{"delivery_id": current.ID.String()})
	}
	status, err := repo.OrderStatus(ctx, current.OrderID)
	if err != nil {
		return err
	}
	return pkgerrors.InvalidTransition("order", string(status), "claimed")
}

// AdminAssign lets an operator place or replace the driver on an active delivery.
func (s *service) AdminAssign(ctx context.Context, deliveryID, driverID uuid.UUID, actor orders.Actor) (*models.Delivery, error) {
	if deliveryID == uuid.Nil || driverID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "delivery id and driver id required")
	}
	if !actor.IsOperator() {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "operator role required")
	}
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		current, err := repo.FindByID(ctx, deliveryID)
		if err != nil {
			return err
		}
		if current.Status.IsTerminal() {
			return pkgerrors.InvalidTransition("delivery", string(current.Status), string(enums.DeliveryStatusAssigned))
		}
		ok, err := repo.Assign(ctx, deliveryID, driverID, s.now())
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "assign delivery")
		}
		if !ok {
			return pkgerrors.New(pkgerrors.CodeConflict, "delivery changed concurrently; retry")
		}
		current, err = repo.FindByID(ctx, deliveryID)
		if err != nil {
			return err
		}
		return s.emitAssigned(ctx, tx, current, &outbox.ActorRef{UserID: actor.UserID, Role: string(actor.Role)})
	})
	if err != nil {
		return nil, err
	}
	s.logg.Info(s.deliveryCtx(ctx, deliveryID, "driver_id", driverID.String()), "delivery assigned by operator")
	return s.repo.FindByID(ctx, deliveryID)
}

func (s *service) Advance(ctx context.Context, input AdvanceInput) (*models.Delivery, error) {
	if input.DeliveryID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "delivery id required")
	}
	switch input.Status {
	case enums.DeliveryStatusPickedUp, enums.DeliveryStatusEnRoute, enums.DeliveryStatusDelivered, enums.DeliveryStatusFailed:
	default:
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "status must be picked_up, en_route, delivered or failed")
	}
	if input.Actor.UserID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "user identity missing")
	}

	var delivered *models.Delivery
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		current, err := repo.FindByID(ctx, input.DeliveryID)
		if err != nil {
			return err
		}
		if !input.Actor.IsOperator() && (current.DriverID == nil || *current.DriverID != input.Actor.UserID) {
			return pkgerrors.New(pkgerrors.CodeForbidden, "delivery not assigned to caller")
		}
		from := current.Status
		if !from.CanAdvanceTo(input.Status) {
			return pkgerrors.InvalidTransition("delivery", string(from), string(input.Status))
		}
		if input.Status != enums.DeliveryStatusFailed {
			orderStatus, err := repo.OrderStatus(ctx, current.OrderID)
			if err != nil {
				return err
			}
			if orderStatus == enums.OrderStatusCancelled || orderStatus == enums.OrderStatusRefunded {
				return pkgerrors.InvalidTransition("order", string(orderStatus), string(input.Status))
			}
		}

		ok, err := repo.Advance(ctx, current.ID, from, input.Status, progressUpdates(input, s.now()))
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "advance delivery")
		}
		if !ok {
			return pkgerrors.New(pkgerrors.CodeConflict, "delivery changed concurrently; retry")
		}
		if err := s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventDeliveryStatusChanged,
			AggregateType: enums.AggregateDelivery,
			AggregateID:   current.ID,
			Actor:         &outbox.ActorRef{UserID: input.Actor.UserID, Role: string(input.Actor.Role)},
			Data: payloads.DeliveryStatusChangedEvent{
				DeliveryID: current.ID,
				OrderID:    current.OrderID,
				From:       from,
				To:         input.Status,
			},
		}); err != nil {
			return err
		}
		if input.Status == enums.DeliveryStatusDelivered {
			delivered = current
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logg.Info(s.deliveryCtx(ctx, input.DeliveryID, "status", string(input.Status)), "delivery advanced")
	if delivered != nil {
		s.completeDropOff(ctx, delivered)
	}
	return s.repo.FindByID(ctx, input.DeliveryID)
}

func progressUpdates(input AdvanceInput, now time.Time) map[string]any {
	updates := map[string]any{}
	switch input.Status {
	case enums.DeliveryStatusPickedUp:
		updates["picked_up_at"] = now
	case enums.DeliveryStatusEnRoute:
		updates["en_route_at"] = now
	case enums.DeliveryStatusDelivered:
		updates["delivered_at"] = now
	case enums.DeliveryStatusFailed:
		updates["failed_at"] = now
	}
	if input.Notes != nil {
		updates["notes"] = *input.Notes
	}
	return updates
}

// completeDropOff runs after commit. Failures are logged and left to the
// settlement catch-up job; the delivery stays delivered either way.
func (s *service) completeDropOff(ctx context.Context, d *models.Delivery) {
	logCtx := s.logg.WithOrderID(s.logg.WithDeliveryID(ctx, d.ID.String()), d.OrderID.String())
	if s.settler != nil {
		if err := s.settler.SettleDelivery(ctx, d.ID); err != nil {
			s.logg.Error(logCtx, "driver settlement failed", err)
		}
	}
	if s.orders != nil {
		if err := s.orders.MarkDelivered(ctx, d.OrderID); err != nil {
			s.logg.Error(logCtx, "mark order delivered failed", err)
		}
	}
}

func (s *service) ListAvailable(ctx context.Context, params ListParams) (*DeliveryList, error) {
	cursor, err := pagination.ParseCursor(params.Cursor)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
	}
	rows, next, err := s.repo.ListAvailable(ctx, params.Limit, cursor)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "list available deliveries")
	}
	return toList(rows, next), nil
}

func (s *service) ListForDriver(ctx context.Context, driverID uuid.UUID, params ListParams) (*DeliveryList, error) {
	if driverID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "driver id required")
	}
	cursor, err := pagination.ParseCursor(params.Cursor)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
	}
	rows, next, err := s.repo.ListForDriver(ctx, driverID, params.Limit, cursor)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "list driver deliveries")
	}
	return toList(rows, next), nil
}

func (s *service) Get(ctx context.Context, deliveryID uuid.UUID) (*models.Delivery, error) {
	return s.repo.FindByID(ctx, deliveryID)
}

func (s *service) GetByOrder(ctx context.Context, orderID uuid.UUID) (*models.Delivery, error) {
	return s.repo.FindByOrder(ctx, orderID)
}

func (s *service) emitAssigned(ctx context.Context, tx *gorm.DB, d *models.Delivery, actor *outbox.ActorRef) error {
	var assignment enums.AssignmentType
	if d.AssignmentType != nil {
		assignment = *d.AssignmentType
	}
	var driverID uuid.UUID
	if d.DriverID != nil {
		driverID = *d.DriverID
	}
	return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     enums.EventDeliveryAssigned,
		AggregateType: enums.AggregateDelivery,
		AggregateID:   d.ID,
		Actor:         actor,
		Data: payloads.DeliveryAssignedEvent{
			DeliveryID:     d.ID,
			OrderID:        d.OrderID,
			DriverID:       driverID,
			AssignmentType: assignment,
		},
	})
}

func (s *service) deliveryCtx(ctx context.Context, deliveryID uuid.UUID, key, value string) context.Context {
	return s.logg.WithField(s.logg.WithDeliveryID(ctx, deliveryID.String()), key, value)
}

func toList(rows []models.Delivery, next *pagination.Cursor) *DeliveryList {
	list := &DeliveryList{Deliveries: make([]DeliveryDTO, 0, len(rows))}
	for i := range rows {
		list.Deliveries = append(list.Deliveries, ToDTO(&rows[i]))
	}
	if next != nil {
		list.Cursor = pagination.EncodeCursor(*next)
	}
	return list
}
