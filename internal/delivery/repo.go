package delivery

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/shipsplit-backend/pkg/db/models"
	"github.com/angelmondragon/shipsplit-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/shipsplit-backend/pkg/errors"
	"github.com/angelmondragon/shipsplit-backend/pkg/pagination"
)

// Repository persists deliveries with compare-and-set writes.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	FindByID(ctx context.Context, id uuid.UUID) (*models.Delivery, error)
	FindByOrder(ctx context.Context, orderID uuid.UUID) (*models.Delivery, error)
	OrderStatus(ctx context.Context, orderID uuid.UUID) (enums.OrderStatus, error)
	Claim(ctx context.Context, id, driverID uuid.UUID, at time.Time) (bool, error)
	Assign(ctx context.Context, id, driverID uuid.UUID, at time.Time) (bool, error)
	Advance(ctx context.Context, id uuid.UUID, from, to enums.DeliveryStatus, updates map[string]any) (bool, error)
	ListAvailable(ctx context.Context, limit int, cursor *pagination.Cursor) ([]models.Delivery, *pagination.Cursor, error)
	ListForDriver(ctx context.Context, driverID uuid.UUID, limit int, cursor *pagination.Cursor) ([]models.Delivery, *pagination.Cursor, error)
}

type repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.Delivery, error) {
	return r.findOne(ctx, "id = ?", id)
}

func (r *repository) FindByOrder(ctx context.Context, orderID uuid.UUID) (*models.Delivery, error) {
	return r.findOne(ctx, "order_id = ?", orderID)
}

func (r *repository) findOne(ctx context.Context, query string, args ...any) (*models.Delivery, error) {
	var d models.Delivery
	if err := r.db.WithContext(ctx).Where(query, args...).First(&d).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "delivery not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load delivery")
	}
	return &d, nil
}

func (r *repository) OrderStatus(ctx context.Context, orderID uuid.UUID) (enums.OrderStatus, error) {
	var statuses []enums.OrderStatus
	err := r.db.WithContext(ctx).Model(&models.Order{}).Where("id = ?", orderID).Limit(1).Pluck("status", &statuses).Error
	if err != nil {
		return "", pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load order status")
	}
	if len(statuses) == 0 {
		return "", pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
	}
	return statuses[0], nil
}

func (r *repository) claimableOrders() *gorm.DB {
	return r.db.Model(&models.Order{}).Select("id").Where("status IN ?", enums.ClaimableOrderStatuses())
}

// Claim attaches the driver only if the delivery is still unassigned and its
// order is claimable. Exactly one concurrent caller sees true.
func (r *repository) Claim(ctx context.Context, id, driverID uuid.UUID, at time.Time) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.Delivery{}).
		Where("id = ? AND status = ? AND driver_id IS NULL", id, enums.DeliveryStatusPending).
		Where("order_id IN (?)", r.claimableOrders()).
		Updates(map[string]any{
			"driver_id":       driverID,
			"status":          enums.DeliveryStatusAssigned,
			"assignment_type": enums.AssignmentClaimed,
			"assigned_at":     at,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// Assign overrides the driver on any non-terminal delivery.
func (r *repository) Assign(ctx context.Context, id, driverID uuid.UUID, at time.Time) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.Delivery{}).
		Where("id = ? AND status NOT IN ?", id, []enums.DeliveryStatus{enums.DeliveryStatusDelivered, enums.DeliveryStatusFailed}).
		Updates(map[string]any{
			"driver_id":       driverID,
			"status":          enums.DeliveryStatusAssigned,
			"assignment_type": enums.AssignmentAdminAssigned,
			"assigned_at":     at,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *repository) Advance(ctx context.Context, id uuid.UUID, from, to enums.DeliveryStatus, updates map[string]any) (bool, error) {
	values := map[string]any{"status": to}
	for k, v := range updates {
		values[k] = v
	}
	res := r.db.WithContext(ctx).
		Model(&models.Delivery{}).
		Where("id = ? AND status = ?", id, from).
		Updates(values)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *repository) ListAvailable(ctx context.Context, limit int, cursor *pagination.Cursor) ([]models.Delivery, *pagination.Cursor, error) {
	query := r.db.WithContext(ctx).
		Where("status = ? AND driver_id IS NULL", enums.DeliveryStatusPending).
		Where("order_id IN (?)", r.claimableOrders())
	return page(query, limit, cursor)
}

func (r *repository) ListForDriver(ctx context.Context, driverID uuid.UUID, limit int, cursor *pagination.Cursor) ([]models.Delivery, *pagination.Cursor, error) {
	query := r.db.WithContext(ctx).Where("driver_id = ?", driverID)
	return page(query, limit, cursor)
}

func page(query *gorm.DB, limit int, cursor *pagination.Cursor) ([]models.Delivery, *pagination.Cursor, error) {
	normalized := pagination.NormalizeLimit(limit)
	if cursor != nil {
		query = query.Where("created_at < ? OR (created_at = ? AND id < ?)", cursor.CreatedAt, cursor.CreatedAt, cursor.ID)
	}
	var rows []models.Delivery
	if err := query.Order("created_at DESC, id DESC").Limit(pagination.LimitWithBuffer(limit)).Find(&rows).Error; err != nil {
		return nil, nil, err
	}
	if len(rows) > normalized {
		rows = rows[:normalized]
		last := rows[normalized-1]
		return rows, &pagination.Cursor{CreatedAt: last.CreatedAt, ID: last.ID}, nil
	}
	return rows, nil, nil
}
