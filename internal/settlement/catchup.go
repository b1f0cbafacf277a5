package settlement

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/multierr"

	"github.com/angelmondragon/shipsplit-backend/pkg/db/models"
	"github.com/angelmondragon/shipsplit-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/shipsplit-backend/pkg/errors"
)

// Report tallies the results of a catch-up run.
type Report struct {
	Results []Result `json:"results"`
}

func (r *Report) add(results ...Result) {
	r.Results = append(r.Results, results...)
}

// Count returns how many results ended with outcome.
func (r *Report) Count(outcome Outcome) int {
	n := 0
	for _, res := range r.Results {
		if res.Outcome == outcome {
			n++
		}
	}
	return n
}

// CatchUp settles everything a payee earned but was never paid: shares
// deferred while onboarding, failed transfers and claims left pending past the
// stale window.
func (e *Engine) CatchUp(ctx context.Context, payeeID uuid.UUID) (*Report, error) {
	if payeeID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "payee id required")
	}
	report := &Report{}
	var errs error

	orderIDs, err := e.unpaidVendorOrders(ctx, payeeID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "scan unpaid vendor orders")
	}
	for _, orderID := range orderIDs {
		order, err := e.loadOrder(ctx, orderID)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("order %s: %w", orderID, err))
			continue
		}
		for _, share := range SplitVendors(order.Items, e.feePercent) {
			if share.VendorID != payeeID {
				continue
			}
			result, err := e.settleVendorShare(ctx, order, share)
			report.add(result)
			if err != nil {
				errs = multierr.Append(errs, fmt.Errorf("order %s: %w", orderID, err))
			}
		}
	}

	deliveryIDs, err := e.unpaidDriverDeliveries(ctx, payeeID)
	if err != nil {
		return report, multierr.Append(errs, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "scan unpaid deliveries"))
	}
	for _, deliveryID := range deliveryIDs {
		result, err := e.SettleDriver(ctx, deliveryID)
		report.add(result)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("delivery %s: %w", deliveryID, err))
		}
	}

	if len(report.Results) > 0 {
		ctx = e.logg.WithFields(ctx, map[string]any{
			"payee_id":    payeeID.String(),
			"settled":     report.Count(OutcomeSettled),
			"deferred":    report.Count(OutcomeDeferred),
			"failed":      report.Count(OutcomeFailed),
			"unconfirmed": report.Count(OutcomeUnconfirmed),
		})
		e.logg.Info(ctx, "settlement catch-up finished")
	}
	return report, errs
}

// CatchUpAll runs CatchUp for every payee whose payouts are enabled.
func (e *Engine) CatchUpAll(ctx context.Context) (*Report, error) {
	report := &Report{}
	var errs error
	seen := map[uuid.UUID]struct{}{}
	for _, kind := range []enums.PayeeKind{enums.PayeeVendor, enums.PayeeDriver} {
		accounts, err := e.accounts.ListEnabled(ctx, kind)
		if err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		for _, account := range accounts {
			if _, ok := seen[account.PayeeID]; ok {
				continue
			}
			seen[account.PayeeID] = struct{}{}
			if err := ctx.Err(); err != nil {
				return report, multierr.Append(errs, err)
			}
			partial, err := e.CatchUp(ctx, account.PayeeID)
			if partial != nil {
				report.add(partial.Results...)
			}
			errs = multierr.Append(errs, err)
		}
	}
	return report, errs
}

func (e *Engine) unpaidVendorOrders(ctx context.Context, vendorID uuid.UUID) ([]uuid.UUID, error) {
	settled := e.db.Model(&models.VendorPayout{}).
		Select("1").
		Where("vendor_payouts.order_id = o.id AND vendor_payouts.vendor_id = ?", vendorID).
		Where("vendor_payouts.status = ? OR (vendor_payouts.status = ? AND vendor_payouts.updated_at > ?)",
			enums.PayoutStatusPaid, enums.PayoutStatusPending, e.now().Add(-e.staleAfter))
	var ids []uuid.UUID
	err := e.db.WithContext(ctx).
		Table("orders AS o").
		Joins("JOIN order_items i ON i.order_id = o.id").
		Where("i.vendor_id = ? AND o.status = ? AND o.paid = ?", vendorID, enums.OrderStatusDelivered, true).
		Where("NOT EXISTS (?)", settled).
		Distinct().
		Pluck("o.id", &ids).Error
	return ids, err
}

func (e *Engine) unpaidDriverDeliveries(ctx context.Context, driverID uuid.UUID) ([]uuid.UUID, error) {
	settled := e.db.Model(&models.DriverPayout{}).
		Select("1").
		Where("driver_payouts.delivery_id = d.id AND driver_payouts.driver_id = ?", driverID).
		Where("driver_payouts.status = ? OR (driver_payouts.status = ? AND driver_payouts.updated_at > ?)",
			enums.PayoutStatusPaid, enums.PayoutStatusPending, e.now().Add(-e.staleAfter))
	var ids []uuid.UUID
	err := e.db.WithContext(ctx).
		Table("deliveries AS d").
		Where("d.driver_id = ? AND d.status = ?", driverID, enums.DeliveryStatusDelivered).
		Where("NOT EXISTS (?)", settled).
		Pluck("d.id", &ids).Error
	return ids, err
}

// MarkTransferFailed reopens the payout behind a failed or reversed transfer
// so the next catch-up retries it under a new attempt key.
func (e *Engine) MarkTransferFailed(ctx context.Context, transferRef, reason string) (bool, error) {
	if transferRef == "" {
		return false, pkgerrors.New(pkgerrors.CodeValidation, "transfer reference required")
	}
	if reason == "" {
		reason = "transfer failed"
	}
	updates := map[string]any{"status": enums.PayoutStatusFailed, "last_error": truncate(reason, 500)}
	changed := false
	for _, model := range []any{&models.VendorPayout{}, &models.DriverPayout{}} {
		res := e.db.WithContext(ctx).Model(model).
			Where("transfer_ref = ? AND status = ?", transferRef, enums.PayoutStatusPaid).
			Updates(updates)
		if res.Error != nil {
			return false, pkgerrors.Wrap(pkgerrors.CodeInternal, res.Error, "mark payout failed")
		}
		changed = changed || res.RowsAffected > 0
	}
	if changed {
		e.logg.Warn(e.logg.WithField(ctx, "transfer_ref", transferRef), "payout transfer failed after creation")
	}
	return changed, nil
}
