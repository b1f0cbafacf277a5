package refunds

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/shipsplit-backend/pkg/db/models"
	"github.com/angelmondragon/shipsplit-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/shipsplit-backend/pkg/errors"
)

// Repository holds the refund ledger and the order's refunded counter.
type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) WithTx(tx *gorm.DB) *Repository {
	if tx == nil {
		return r
	}
	return &Repository{db: tx}
}

func (r *Repository) FindOrder(ctx context.Context, orderID uuid.UUID) (*models.Order, error) {
	var order models.Order
	if err := r.db.WithContext(ctx).First(&order, "id = ?", orderID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load order")
	}
	return &order, nil
}

// Reserve adds amount to the refunded counter only while it stays within the
// order total.
func (r *Repository) Reserve(ctx context.Context, orderID uuid.UUID, amount int64) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.Order{}).
		Where("id = ? AND paid = ? AND refunded_cents + ? <= total_cents", orderID, true, amount).
		Update("refunded_cents", gorm.Expr("refunded_cents + ?", amount))
	return res.RowsAffected == 1, res.Error
}

// Compensate returns a reserved amount after the processor rejected the refund.
func (r *Repository) Compensate(ctx context.Context, orderID uuid.UUID, amount int64) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.Order{}).
		Where("id = ? AND refunded_cents >= ?", orderID, amount).
		Update("refunded_cents", gorm.Expr("refunded_cents - ?", amount))
	return res.RowsAffected == 1, res.Error
}

// ApplyStatus records the refund summary and, when given, the new order status.
func (r *Repository) ApplyStatus(ctx context.Context, orderID uuid.UUID, refundStatus enums.RefundStatus, orderStatus *enums.OrderStatus) error {
	updates := map[string]any{"refund_status": refundStatus}
	if orderStatus != nil {
		updates["status"] = *orderStatus
	}
	return r.db.WithContext(ctx).Model(&models.Order{}).Where("id = ?", orderID).Updates(updates).Error
}

func (r *Repository) CreateRefund(ctx context.Context, refund *models.Refund) error {
	return r.db.WithContext(ctx).Create(refund).Error
}

// FinishRefund moves a pending refund to its final state. It reports false
// when the row was already finished.
func (r *Repository) FinishRefund(ctx context.Context, refundID uuid.UUID, status enums.RefundRecordStatus, ref, lastError *string) (bool, error) {
	updates := map[string]any{"status": status}
	if ref != nil {
		updates["refund_ref"] = *ref
	}
	if lastError != nil {
		updates["last_error"] = *lastError
	}
	res := r.db.WithContext(ctx).
		Model(&models.Refund{}).
		Where("id = ? AND status = ?", refundID, enums.RefundRecordPending).
		Updates(updates)
	return res.RowsAffected == 1, res.Error
}

// NoteError records the last processor error on a refund that stays pending.
func (r *Repository) NoteError(ctx context.Context, refundID uuid.UUID, reason string) error {
	if len(reason) > 500 {
		reason = reason[:500]
	}
	return r.db.WithContext(ctx).
		Model(&models.Refund{}).
		Where("id = ? AND status = ?", refundID, enums.RefundRecordPending).
		Update("last_error", reason).Error
}

// ListPendingBefore returns refunds still waiting on a processor answer that
// were last touched before cutoff.
func (r *Repository) ListPendingBefore(ctx context.Context, cutoff time.Time, limit int) ([]models.Refund, error) {
	var rows []models.Refund
	err := r.db.WithContext(ctx).
		Where("status = ? AND updated_at < ?", enums.RefundRecordPending, cutoff).
		Order("created_at ASC, id ASC").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}

func (r *Repository) ListByOrder(ctx context.Context, orderID uuid.UUID) ([]models.Refund, error) {
	var rows []models.Refund
	err := r.db.WithContext(ctx).Where("order_id = ?", orderID).Order("created_at ASC, id ASC").Find(&rows).Error
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "list refunds")
	}
	return rows, nil
}
