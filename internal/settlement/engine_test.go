package settlement

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/shipsplit-backend/internal/payees"
	"github.com/angelmondragon/shipsplit-backend/internal/payments"
	"github.com/angelmondragon/shipsplit-backend/pkg/config"
	"github.com/angelmondragon/shipsplit-backend/pkg/db"
	"github.com/angelmondragon/shipsplit-backend/pkg/db/dbtest"
	"github.com/angelmondragon/shipsplit-backend/pkg/db/models"
	"github.com/angelmondragon/shipsplit-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/shipsplit-backend/pkg/errors"
	"github.com/angelmondragon/shipsplit-backend/pkg/logger"
	"github.com/angelmondragon/shipsplit-backend/pkg/metrics"
	"github.com/angelmondragon/shipsplit-backend/pkg/outbox"
)

type fakeTransfers struct {
	mu       sync.Mutex
	requests []payments.TransferRequest
	fail     error
}

func (f *fakeTransfers) CreateTransfer(_ context.Context, req payments.TransferRequest) (*payments.Transfer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	if f.fail != nil {
		return nil, f.fail
	}
	return &payments.Transfer{ID: fmt.Sprintf("tr_%d", len(f.requests))}, nil
}

func (f *fakeTransfers) calls() []payments.TransferRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]payments.TransferRequest(nil), f.requests...)
}

type fixture struct {
	client    *db.Client
	accounts  *payees.Repository
	transfers *fakeTransfers
	engine    *Engine
	house     uuid.UUID
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	client := dbtest.Open(t)
	logg := logger.New(logger.Options{ServiceName: "test", Output: io.Discard})
	accounts := payees.NewRepository(client.DB())
	transfers := &fakeTransfers{}
	house := uuid.New()
	engine, err := NewEngine(EngineParams{
		DB:        client.DB(),
		Tx:        client,
		Outbox:    outbox.NewService(outbox.NewRepository(client.DB()), logg),
		Accounts:  accounts,
		Transfers: transfers,
		Metrics:   metrics.NewSettlementMetrics(prometheus.NewRegistry()),
		Logger:    logg,
		Config:    config.SettlementConfig{PlatformFeePercent: 10, HouseVendorID: house.String()},
	})
	require.NoError(t, err)
	return &fixture{client: client, accounts: accounts, transfers: transfers, engine: engine, house: house}
}

func (f *fixture) onboard(t *testing.T, kind enums.PayeeKind, payee uuid.UUID, enabled bool) {
	t.Helper()
	require.NoError(t, f.accounts.Upsert(context.Background(), &models.PayoutAccount{
		PayeeID:           payee,
		Kind:              kind,
		ExternalAccountID: "acct_" + payee.String()[:8],
		PayoutsEnabled:    enabled,
	}))
}

// deliveredOrder seeds a delivered order with one line per vendor.
func (f *fixture) deliveredOrder(t *testing.T, lines map[uuid.UUID]int64) *models.Order {
	t.Helper()
	order := &models.Order{
		OrderNumber:   "ORD-" + uuid.NewString()[:6],
		BuyerID:       uuid.New(),
		Status:        enums.OrderStatusDelivered,
		PaymentMethod: enums.PaymentMethodCard,
		Paid:          true,
	}
	for vendor, cents := range lines {
		order.Items = append(order.Items, models.OrderItem{
			ProductID:      uuid.New(),
			VendorID:       vendor,
			Name:           "item",
			UnitPriceCents: cents,
			Quantity:       1,
			LineTotalCents: cents,
		})
		order.SubtotalCents += cents
	}
	order.TotalCents = order.SubtotalCents
	require.NoError(t, f.client.DB().Create(order).Error)
	return order
}

func (f *fixture) deliveredDelivery(t *testing.T, driver uuid.UUID, fee int64) *models.Delivery {
	t.Helper()
	order := f.deliveredOrder(t, map[uuid.UUID]int64{f.house: 1000})
	d := &models.Delivery{OrderID: order.ID, DriverID: &driver, Status: enums.DeliveryStatusDelivered, FeeCents: fee}
	require.NoError(t, f.client.DB().Create(d).Error)
	return d
}

func outcomes(results []Result) map[uuid.UUID]Outcome {
	out := map[uuid.UUID]Outcome{}
	for _, r := range results {
		out[r.PayeeID] = r.Outcome
	}
	return out
}

func TestSplitVendorsFloorsCommission(t *testing.T) {
	a, b := uuid.New(), uuid.New()
	shares := SplitVendors([]models.OrderItem{
		{VendorID: a, LineTotalCents: 6000},
		{VendorID: b, LineTotalCents: 10005},
		{VendorID: a, LineTotalCents: 4000},
	}, 10)

	require.Len(t, shares, 2)
	require.Equal(t, VendorShare{VendorID: a, GrossCents: 10000, FeeCents: 1000, NetCents: 9000}, shares[0])
	require.Equal(t, VendorShare{VendorID: b, GrossCents: 10005, FeeCents: 1000, NetCents: 9005}, shares[1])
}

func TestSettleVendorsPaysEachVendorOnce(t *testing.T) {
	f := newFixture(t)
	a, b := uuid.New(), uuid.New()
	f.onboard(t, enums.PayeeVendor, a, true)
	f.onboard(t, enums.PayeeVendor, b, true)
	order := f.deliveredOrder(t, map[uuid.UUID]int64{a: 10000, b: 10000, f.house: 5000})
	ctx := context.Background()

	results, err := f.engine.SettleVendors(ctx, order.ID)
	require.NoError(t, err)
	got := outcomes(results)
	require.Equal(t, OutcomeSettled, got[a])
	require.Equal(t, OutcomeSettled, got[b])
	require.Equal(t, OutcomeSkipped, got[f.house])

	var rows []models.VendorPayout
	require.NoError(t, f.client.DB().Order("vendor_id").Find(&rows).Error)
	require.Len(t, rows, 2)
	for _, row := range rows {
		require.Equal(t, enums.PayoutStatusPaid, row.Status)
		require.EqualValues(t, 9000, row.NetCents)
		require.EqualValues(t, 1000, row.FeeCents)
		require.NotNil(t, row.TransferRef)
		require.Equal(t, "gross $100.00 - 10% platform fee $10.00 = net $90.00", row.Note)
	}
	for _, req := range f.transfers.calls() {
		require.EqualValues(t, 9000, req.AmountCents)
		require.Contains(t, req.IdempotencyKey, "vendor_payout:")
		require.Equal(t, order.ID.String(), req.Metadata[payments.MetadataOrderID])
	}

	again, err := f.engine.SettleVendors(ctx, order.ID)
	require.NoError(t, err)
	require.Equal(t, OutcomeAlreadySettled, outcomes(again)[a])
	require.Len(t, f.transfers.calls(), 2)

	var events int64
	require.NoError(t, f.client.DB().Model(&models.OutboxEvent{}).Where("event_type = ?", enums.EventPayoutPaid).Count(&events).Error)
	require.EqualValues(t, 2, events)
}

func TestConcurrentSettlementTransfersOnce(t *testing.T) {
	f := newFixture(t)
	vendor := uuid.New()
	f.onboard(t, enums.PayeeVendor, vendor, true)
	order := f.deliveredOrder(t, map[uuid.UUID]int64{vendor: 4200})

	var wg sync.WaitGroup
	for i := 0; i < 6; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := f.engine.SettleOrder(context.Background(), order.ID); err != nil {
				t.Errorf("settle: %v", err)
			}
		}()
	}
	wg.Wait()

	require.Len(t, f.transfers.calls(), 1)
}

func TestSettleVendorsDefersUntilOnboarded(t *testing.T) {
	f := newFixture(t)
	vendor := uuid.New()
	order := f.deliveredOrder(t, map[uuid.UUID]int64{vendor: 2500})
	ctx := context.Background()

	results, err := f.engine.SettleVendors(ctx, order.ID)
	require.NoError(t, err)
	require.Equal(t, OutcomeDeferred, outcomes(results)[vendor])
	require.Empty(t, f.transfers.calls())

	f.onboard(t, enums.PayeeVendor, vendor, true)
	report, err := f.engine.CatchUp(ctx, vendor)
	require.NoError(t, err)
	require.Equal(t, 1, report.Count(OutcomeSettled))
	require.EqualValues(t, 2250, f.transfers.calls()[0].AmountCents)

	report, err = f.engine.CatchUp(ctx, vendor)
	require.NoError(t, err)
	require.Empty(t, report.Results)
}

func TestRejectedTransferRetriesWithNewAttemptKey(t *testing.T) {
	f := newFixture(t)
	vendor := uuid.New()
	f.onboard(t, enums.PayeeVendor, vendor, true)
	order := f.deliveredOrder(t, map[uuid.UUID]int64{vendor: 1000})
	ctx := context.Background()

	f.transfers.fail = pkgerrors.Wrap(pkgerrors.CodeDependency, payments.ErrRejected, "destination account restricted")
	results, err := f.engine.SettleVendors(ctx, order.ID)
	require.Error(t, err)
	require.Equal(t, OutcomeFailed, outcomes(results)[vendor])

	var row models.VendorPayout
	require.NoError(t, f.client.DB().First(&row).Error)
	require.Equal(t, enums.PayoutStatusFailed, row.Status)
	require.NotNil(t, row.LastError)

	f.transfers.fail = nil
	report, err := f.engine.CatchUpAll(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, report.Count(OutcomeSettled))

	calls := f.transfers.calls()
	require.Len(t, calls, 2)
	require.Equal(t, fmt.Sprintf("vendor_payout:%s:1", row.ID), calls[0].IdempotencyKey)
	require.Equal(t, fmt.Sprintf("vendor_payout:%s:2", row.ID), calls[1].IdempotencyKey)
}

func TestUnconfirmedTransferReplaysSameAttemptKey(t *testing.T) {
	f := newFixture(t)
	vendor := uuid.New()
	f.onboard(t, enums.PayeeVendor, vendor, true)
	order := f.deliveredOrder(t, map[uuid.UUID]int64{vendor: 10000})
	ctx := context.Background()

	// the processor executed the transfer but the response never arrived
	f.transfers.fail = pkgerrors.Wrap(pkgerrors.CodeDependency, errors.New("read tcp: i/o timeout"), "create transfer")
	results, err := f.engine.SettleVendors(ctx, order.ID)
	require.Error(t, err)
	require.Equal(t, OutcomeUnconfirmed, outcomes(results)[vendor])

	var row models.VendorPayout
	require.NoError(t, f.client.DB().First(&row).Error)
	require.Equal(t, enums.PayoutStatusPending, row.Status)
	require.Equal(t, 1, row.Attempts)
	require.NotNil(t, row.LastError)

	f.transfers.fail = nil
	report, err := f.engine.CatchUp(ctx, vendor)
	require.NoError(t, err)
	require.Empty(t, report.Results)
	require.Len(t, f.transfers.calls(), 1)

	later := time.Now().UTC().Add(time.Hour)
	f.engine.now = func() time.Time { return later }
	report, err = f.engine.CatchUp(ctx, vendor)
	require.NoError(t, err)
	require.Equal(t, 1, report.Count(OutcomeSettled))

	key := fmt.Sprintf("vendor_payout:%s:1", row.ID)
	calls := f.transfers.calls()
	require.Len(t, calls, 2)
	for _, call := range calls {
		require.Equal(t, key, call.IdempotencyKey)
	}

	require.NoError(t, f.client.DB().First(&row, "id = ?", row.ID).Error)
	require.Equal(t, enums.PayoutStatusPaid, row.Status)
	require.Equal(t, 1, row.Attempts)
}

func TestSettleVendorsRequiresPaidOrder(t *testing.T) {
	f := newFixture(t)
	vendor := uuid.New()
	f.onboard(t, enums.PayeeVendor, vendor, true)
	order := f.deliveredOrder(t, map[uuid.UUID]int64{vendor: 1000})
	require.NoError(t, f.client.DB().Model(&models.Order{}).Where("id = ?", order.ID).Update("paid", false).Error)
	ctx := context.Background()

	_, err := f.engine.SettleVendors(ctx, order.ID)
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeStateConflict), "got %v", err)

	report, err := f.engine.CatchUp(ctx, vendor)
	require.NoError(t, err)
	require.Empty(t, report.Results)
	require.Empty(t, f.transfers.calls())

	summary, err := f.engine.Summary(ctx, enums.PayeeVendor, vendor)
	require.NoError(t, err)
	require.Zero(t, summary.GrossRevenue)
}

func TestSettleVendorsRequiresDeliveredOrder(t *testing.T) {
	f := newFixture(t)
	order := f.deliveredOrder(t, map[uuid.UUID]int64{uuid.New(): 1000})
	require.NoError(t, f.client.DB().Model(&models.Order{}).Where("id = ?", order.ID).Update("status", enums.OrderStatusShipped).Error)

	_, err := f.engine.SettleVendors(context.Background(), order.ID)
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeStateConflict), "got %v", err)
}

func TestSettleDriverPaysFullFee(t *testing.T) {
	f := newFixture(t)
	driver := uuid.New()
	f.onboard(t, enums.PayeeDriver, driver, true)
	d := f.deliveredDelivery(t, driver, 1350)
	ctx := context.Background()

	result, err := f.engine.SettleDriver(ctx, d.ID)
	require.NoError(t, err)
	require.Equal(t, OutcomeSettled, result.Outcome)
	require.EqualValues(t, 1350, f.transfers.calls()[0].AmountCents)

	var payout models.DriverPayout
	require.NoError(t, f.client.DB().First(&payout, "delivery_id = ?", d.ID).Error)
	require.Equal(t, "delivery fee $13.50 paid in full", payout.Note)

	var stored models.Delivery
	require.NoError(t, f.client.DB().First(&stored, "id = ?", d.ID).Error)
	require.NotNil(t, stored.TransferRef)
	require.Equal(t, result.TransferRef, *stored.TransferRef)

	again, err := f.engine.SettleDriver(ctx, d.ID)
	require.NoError(t, err)
	require.Equal(t, OutcomeAlreadySettled, again.Outcome)
}

func TestMarkTransferFailedReopensPayout(t *testing.T) {
	f := newFixture(t)
	driver := uuid.New()
	f.onboard(t, enums.PayeeDriver, driver, true)
	d := f.deliveredDelivery(t, driver, 975)
	ctx := context.Background()

	result, err := f.engine.SettleDriver(ctx, d.ID)
	require.NoError(t, err)

	changed, err := f.engine.MarkTransferFailed(ctx, result.TransferRef, "account closed")
	require.NoError(t, err)
	require.True(t, changed)

	report, err := f.engine.CatchUp(ctx, driver)
	require.NoError(t, err)
	require.Equal(t, 1, report.Count(OutcomeSettled))
	require.Len(t, f.transfers.calls(), 2)

	changed, err = f.engine.MarkTransferFailed(ctx, "tr_unknown", "")
	require.NoError(t, err)
	require.False(t, changed)
}

func TestSummaryTracksUnpaidBalance(t *testing.T) {
	f := newFixture(t)
	vendor := uuid.New()
	first := f.deliveredOrder(t, map[uuid.UUID]int64{vendor: 10000})
	f.deliveredOrder(t, map[uuid.UUID]int64{vendor: 5005})
	ctx := context.Background()

	f.onboard(t, enums.PayeeVendor, vendor, true)
	_, err := f.engine.SettleVendors(ctx, first.ID)
	require.NoError(t, err)

	summary, err := f.engine.Summary(ctx, enums.PayeeVendor, vendor)
	require.NoError(t, err)
	require.EqualValues(t, 15005, summary.GrossRevenue)
	require.EqualValues(t, 10, summary.PlatformFeePercent)
	require.EqualValues(t, 1500, summary.TotalFees)
	require.EqualValues(t, 13505, summary.NetRevenue)
	require.EqualValues(t, 9000, summary.TotalPaid)
	require.EqualValues(t, 4505, summary.UnpaidBalance)

	driver := uuid.New()
	f.deliveredDelivery(t, driver, 1350)
	driverSummary, err := f.engine.Summary(ctx, enums.PayeeDriver, driver)
	require.NoError(t, err)
	require.EqualValues(t, 0, driverSummary.PlatformFeePercent)
	require.EqualValues(t, 1350, driverSummary.UnpaidBalance)
}

func TestNewEngineRejectsBadHouseVendor(t *testing.T) {
	client := dbtest.Open(t)
	logg := logger.New(logger.Options{ServiceName: "test", Output: io.Discard})
	_, err := NewEngine(EngineParams{
		DB:        client.DB(),
		Tx:        client,
		Outbox:    outbox.NewService(outbox.NewRepository(client.DB()), logg),
		Accounts:  payees.NewRepository(client.DB()),
		Transfers: &fakeTransfers{},
		Logger:    logg,
		Config:    config.SettlementConfig{HouseVendorID: "not-a-uuid"},
	})
	require.ErrorContains(t, err, "house vendor")
}
