package settlement

import (
	"context"

	"github.com/google/uuid"

	"github.com/angelmondragon/shipsplit-backend/pkg/db/models"
	"github.com/angelmondragon/shipsplit-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/shipsplit-backend/pkg/errors"
	"github.com/angelmondragon/shipsplit-backend/pkg/money"
)

// Summary is a payee's earnings position across delivered work.
type Summary struct {
	PayeeID            uuid.UUID       `json:"payee_id"`
	Kind               enums.PayeeKind `json:"kind"`
	GrossRevenue       money.Cents     `json:"gross_revenue"`
	PlatformFeePercent int64           `json:"platform_fee_percent"`
	TotalFees          money.Cents     `json:"total_fees"`
	NetRevenue         money.Cents     `json:"net_revenue"`
	TotalPaid          money.Cents     `json:"total_paid"`
	UnpaidBalance      money.Cents     `json:"unpaid_balance"`
}

// Summary reports earnings for a vendor or driver. Fees are computed per
// order, the same way payouts are.
func (e *Engine) Summary(ctx context.Context, kind enums.PayeeKind, payeeID uuid.UUID) (*Summary, error) {
	if payeeID == uuid.Nil || !kind.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "payee id and kind required")
	}
	summary := &Summary{PayeeID: payeeID, Kind: kind}
	var err error
	switch kind {
	case enums.PayeeVendor:
		err = e.vendorSummary(ctx, payeeID, summary)
	case enums.PayeeDriver:
		err = e.driverSummary(ctx, payeeID, summary)
	}
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "compute earnings summary")
	}
	summary.NetRevenue = summary.GrossRevenue - summary.TotalFees
	summary.UnpaidBalance = summary.NetRevenue - summary.TotalPaid
	if summary.UnpaidBalance < 0 {
		summary.UnpaidBalance = 0
	}
	return summary, nil
}

type orderGross struct {
	OrderID uuid.UUID
	Gross   int64
}

func (e *Engine) vendorSummary(ctx context.Context, vendorID uuid.UUID, summary *Summary) error {
	var perOrder []orderGross
	err := e.db.WithContext(ctx).
		Table("order_items AS i").
		Select("i.order_id AS order_id, SUM(i.line_total_cents) AS gross").
		Joins("JOIN orders o ON o.id = i.order_id").
		Where("i.vendor_id = ? AND o.status = ? AND o.paid = ?", vendorID, enums.OrderStatusDelivered, true).
		Group("i.order_id").
		Scan(&perOrder).Error
	if err != nil {
		return err
	}
	pct := e.feePercent
	if e.houseVendor != uuid.Nil && vendorID == e.houseVendor {
		pct = 0
	}
	summary.PlatformFeePercent = pct
	for _, row := range perOrder {
		gross := money.Cents(row.Gross)
		summary.GrossRevenue += gross
		summary.TotalFees += gross.Percent(pct)
	}
	paid, err := e.sumPaid(ctx, &models.VendorPayout{}, "net_cents", "vendor_id", vendorID)
	summary.TotalPaid = money.Cents(paid)
	return err
}

func (e *Engine) driverSummary(ctx context.Context, driverID uuid.UUID, summary *Summary) error {
	var gross int64
	err := e.db.WithContext(ctx).
		Model(&models.Delivery{}).
		Select("COALESCE(SUM(fee_cents), 0)").
		Where("driver_id = ? AND status = ?", driverID, enums.DeliveryStatusDelivered).
		Scan(&gross).Error
	if err != nil {
		return err
	}
	summary.GrossRevenue = money.Cents(gross)
	paid, err := e.sumPaid(ctx, &models.DriverPayout{}, "amount_cents", "driver_id", driverID)
	summary.TotalPaid = money.Cents(paid)
	return err
}

func (e *Engine) sumPaid(ctx context.Context, model any, amountColumn, payeeColumn string, payeeID uuid.UUID) (int64, error) {
	var total int64
	err := e.db.WithContext(ctx).
		Model(model).
		Select("COALESCE(SUM("+amountColumn+"), 0)").
		Where(payeeColumn+" = ? AND status = ?", payeeID, enums.PayoutStatusPaid).
		Scan(&total).Error
	return total, err
}
