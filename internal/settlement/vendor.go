package settlement

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"gorm.io/gorm"

	"github.com/angelmondragon/shipsplit-backend/internal/payments"
	"github.com/angelmondragon/shipsplit-backend/pkg/db/models"
	"github.com/angelmondragon/shipsplit-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/shipsplit-backend/pkg/errors"
	"github.com/angelmondragon/shipsplit-backend/pkg/money"
)

// VendorShare is one vendor's slice of an order.
type VendorShare struct {
	VendorID   uuid.UUID
	GrossCents int64
	FeeCents   int64
	NetCents   int64
}

// SplitVendors groups line items by vendor in first-seen order and applies the
// platform commission to each vendor's gross.
func SplitVendors(items []models.OrderItem, feePercent int64) []VendorShare {
	index := map[uuid.UUID]int{}
	shares := make([]VendorShare, 0, len(items))
	for _, item := range items {
		i, ok := index[item.VendorID]
		if !ok {
			i = len(shares)
			index[item.VendorID] = i
			shares = append(shares, VendorShare{VendorID: item.VendorID})
		}
		shares[i].GrossCents += item.LineTotalCents
	}
	for i := range shares {
		shares[i].FeeCents = money.Cents(shares[i].GrossCents).Percent(feePercent).Int64()
		shares[i].NetCents = shares[i].GrossCents - shares[i].FeeCents
	}
	return shares
}

// SettleOrder pays every vendor on a delivered order.
func (e *Engine) SettleOrder(ctx context.Context, orderID uuid.UUID) error {
	_, err := e.SettleVendors(ctx, orderID)
	return err
}

// SettleVendors pays each vendor's net share of a delivered, paid order once.
// Vendors without a ready payout account are deferred, not failed.
func (e *Engine) SettleVendors(ctx context.Context, orderID uuid.UUID) ([]Result, error) {
	order, err := e.loadOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	var errs error
	results := make([]Result, 0)
	for _, share := range SplitVendors(order.Items, e.feePercent) {
		result, err := e.settleVendorShare(ctx, order, share)
		results = append(results, result)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("vendor %s: %w", share.VendorID, err))
		}
	}
	return results, errs
}

func (e *Engine) loadOrder(ctx context.Context, orderID uuid.UUID) (*models.Order, error) {
	var order models.Order
	err := e.db.WithContext(ctx).
		Preload("Items", func(db *gorm.DB) *gorm.DB { return db.Order("created_at ASC, id ASC") }).
		First(&order, "id = ?", orderID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load order")
	}
	if order.Status != enums.OrderStatusDelivered {
		return nil, pkgerrors.InvalidTransition("order", string(order.Status), "settled")
	}
	if !order.Paid {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "order payment not captured; nothing to settle")
	}
	return &order, nil
}

func (e *Engine) settleVendorShare(ctx context.Context, order *models.Order, share VendorShare) (Result, error) {
	result := Result{Kind: enums.PayeeVendor, PayeeID: share.VendorID, SourceID: order.ID, AmountCents: share.NetCents}
	if e.houseVendor != uuid.Nil && share.VendorID == e.houseVendor {
		result.Outcome = OutcomeSkipped
		return e.record(enums.PayeeVendor, result), nil
	}
	if share.NetCents <= 0 {
		result.Outcome = OutcomeSkipped
		return e.record(enums.PayeeVendor, result), nil
	}
	account, err := e.accounts.FindByPayee(ctx, enums.PayeeVendor, share.VendorID)
	if err != nil {
		return result, err
	}
	if !account.Ready() {
		e.logg.Info(e.logg.WithPayee(e.logg.WithOrderID(ctx, order.ID.String()), string(enums.PayeeVendor), share.VendorID.String()), "vendor payout deferred; destination not ready")
		result.Outcome = OutcomeDeferred
		return e.record(enums.PayeeVendor, result), nil
	}

	note := fmt.Sprintf("gross %s - %d%% platform fee %s = net %s",
		money.Cents(share.GrossCents).Dollars(), e.feePercent, money.Cents(share.FeeCents).Dollars(), money.Cents(share.NetCents).Dollars())
	var claimed *claim
	err = e.tx.WithTx(ctx, func(tx *gorm.DB) error {
		var err error
		claimed, err = claimPayout(ctx, tx, &models.VendorPayout{},
			map[string]any{"vendor_id": share.VendorID, "order_id": order.ID},
			func(sp *gorm.DB) (uuid.UUID, error) {
				row := &models.VendorPayout{
					VendorID:   share.VendorID,
					OrderID:    order.ID,
					GrossCents: share.GrossCents,
					FeeCents:   share.FeeCents,
					NetCents:   share.NetCents,
					FeePercent: e.feePercent,
					Status:     enums.PayoutStatusPending,
					Attempts:   1,
					Method:     enums.PayoutMethodStripeTransfer,
					Note:       note,
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
		return result, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "claim vendor payout")
	}
	if claimed == nil {
		result.Outcome = OutcomeAlreadySettled
		return e.record(enums.PayeeVendor, result), nil
	}

	return e.execute(ctx, transferJob{
		kind:        enums.PayeeVendor,
		model:       &models.VendorPayout{},
		claim:       claimed,
		payeeID:     share.VendorID,
		sourceID:    order.ID,
		amount:      share.NetCents,
		account:     account,
		group:       "order_" + order.OrderNumber,
		description: fmt.Sprintf("Vendor payout for %s", order.OrderNumber),
		metadata: map[string]string{
			payments.MetadataOrderID:     order.ID.String(),
			payments.MetadataOrderNumber: order.OrderNumber,
		},
	})
}
