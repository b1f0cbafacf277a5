package settlement

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/shipsplit-backend/internal/payments"
	"github.com/angelmondragon/shipsplit-backend/pkg/db/models"
	"github.com/angelmondragon/shipsplit-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/shipsplit-backend/pkg/errors"
	"github.com/angelmondragon/shipsplit-backend/pkg/money"
)

// SettleDelivery pays the driver of a delivered delivery.
func (e *Engine) SettleDelivery(ctx context.Context, deliveryID uuid.UUID) error {
	_, err := e.SettleDriver(ctx, deliveryID)
	return err
}

// SettleDriver pays the full delivery fee to the assigned driver once.
// Drivers carry no platform commission.
func (e *Engine) SettleDriver(ctx context.Context, deliveryID uuid.UUID) (Result, error) {
	var d models.Delivery
	if err := e.db.WithContext(ctx).First(&d, "id = ?", deliveryID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return Result{}, pkgerrors.New(pkgerrors.CodeNotFound, "delivery not found")
		}
		return Result{}, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load delivery")
	}
	if d.Status != enums.DeliveryStatusDelivered {
		return Result{}, pkgerrors.InvalidTransition("delivery", string(d.Status), "settled")
	}
	if d.DriverID == nil {
		return Result{}, pkgerrors.New(pkgerrors.CodeStateConflict, "delivered delivery has no driver")
	}
	driverID := *d.DriverID
	result := Result{Kind: enums.PayeeDriver, PayeeID: driverID, SourceID: d.ID, AmountCents: d.FeeCents}
	if d.FeeCents <= 0 {
		result.Outcome = OutcomeSkipped
		return e.record(enums.PayeeDriver, result), nil
	}

	account, err := e.accounts.FindByPayee(ctx, enums.PayeeDriver, driverID)
	if err != nil {
		return result, err
	}
	if !account.Ready() {
		e.logg.Info(e.logg.WithPayee(e.logg.WithDeliveryID(ctx, d.ID.String()), string(enums.PayeeDriver), driverID.String()), "driver payout deferred; destination not ready")
		result.Outcome = OutcomeDeferred
		return e.record(enums.PayeeDriver, result), nil
	}

	var claimed *claim
	err = e.tx.WithTx(ctx, func(tx *gorm.DB) error {
		var err error
		claimed, err = claimPayout(ctx, tx, &models.DriverPayout{},
			map[string]any{"driver_id": driverID, "delivery_id": d.ID},
			func(sp *gorm.DB) (uuid.UUID, error) {
				row := &models.DriverPayout{
					DriverID:    driverID,
					DeliveryID:  d.ID,
					OrderID:     d.OrderID,
					AmountCents: d.FeeCents,
					Status:      enums.PayoutStatusPending,
					Attempts:    1,
					Method:      enums.PayoutMethodStripeTransfer,
					Note:        fmt.Sprintf("delivery fee %s paid in full", money.Cents(d.FeeCents).Dollars()),
				}
				if err := sp.WithContext(ctx).Create(row).Error; err != nil {
					return uuid.Nil, err
				}
				return row.ID, nil
			},
			e.now().Add(-e.staleAfter))
		return err
	})
	if err != nil {
		return result, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "claim driver payout")
	}
	if claimed == nil {
		result.Outcome = OutcomeAlreadySettled
		return e.record(enums.PayeeDriver, result), nil
	}

	return e.execute(ctx, transferJob{
		kind:        enums.PayeeDriver,
		model:       &models.DriverPayout{},
		claim:       claimed,
		payeeID:     driverID,
		sourceID:    d.ID,
		amount:      d.FeeCents,
		account:     account,
		group:       "delivery_" + d.ID.String(),
		description: "Driver delivery fee",
		metadata: map[string]string{
			payments.MetadataOrderID: d.OrderID.String(),
			"delivery_id":            d.ID.String(),
		},
		onPaid: func(tx *gorm.DB, transferRef string) error {
			return tx.WithContext(ctx).Model(&models.Delivery{}).Where("id = ?", d.ID).Update("transfer_ref", transferRef).Error
		},
	})
}
