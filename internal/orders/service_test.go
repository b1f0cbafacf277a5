package orders

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/shipsplit-backend/internal/catalog"
	"github.com/angelmondragon/shipsplit-backend/internal/fees"
	"github.com/angelmondragon/shipsplit-backend/internal/inventory"
	"github.com/angelmondragon/shipsplit-backend/pkg/db"
	"github.com/angelmondragon/shipsplit-backend/pkg/db/dbtest"
	"github.com/angelmondragon/shipsplit-backend/pkg/db/models"
	"github.com/angelmondragon/shipsplit-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/shipsplit-backend/pkg/errors"
	"github.com/angelmondragon/shipsplit-backend/pkg/logger"
	"github.com/angelmondragon/shipsplit-backend/pkg/outbox"
	"github.com/angelmondragon/shipsplit-backend/pkg/types"
)

type stubQuoter struct {
	quote fees.Quote
}

func (s stubQuoter) Quote(context.Context, types.Address) fees.Quote {
	return s.quote
}

type stubSettler struct {
	mu     sync.Mutex
	orders []uuid.UUID
}

func (s *stubSettler) SettleOrder(_ context.Context, orderID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.orders = append(s.orders, orderID)
	return nil
}

type fixture struct {
	client  *db.Client
	catalog *catalog.Repository
	settler *stubSettler
	svc     Service
}

var buyerAddress = types.Address{Street: "9 Elm St", City: "Springfield", State: "IL", Zip: "62704"}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	client := dbtest.Open(t)
	logg := logger.New(logger.Options{ServiceName: "test", Output: io.Discard})
	cat := catalog.NewRepository(client.DB())
	ledger, err := inventory.NewLedger(cat, client)
	require.NoError(t, err)
	settler := &stubSettler{}
	miles := 10.0
	svc, err := NewService(ServiceParams{
		Repo:     NewRepository(client.DB()),
		Tx:       client,
		Outbox:   outbox.NewService(outbox.NewRepository(client.DB()), logg),
		Products: cat,
		Stock:    ledger,
		Fees:     stubQuoter{quote: fees.Quote{FeeCents: 1350, Miles: &miles}},
		Sequence: NewTableSequence(client.DB()),
		Settler:  settler,
		Logger:   logg,
	})
	require.NoError(t, err)
	return &fixture{client: client, catalog: cat, settler: settler, svc: svc}
}

func (f *fixture) product(t *testing.T, vendorID uuid.UUID, price int64, stock int) models.Product {
	t.Helper()
	p := &models.Product{VendorID: vendorID, Name: "thing", PriceCents: price, Stock: stock, Active: true}
	_, err := f.catalog.CreateProduct(context.Background(), p)
	require.NoError(t, err)
	return *p
}

func (f *fixture) stock(t *testing.T, id uuid.UUID) int {
	t.Helper()
	p, err := f.catalog.GetProduct(context.Background(), id)
	require.NoError(t, err)
	return p.Stock
}

func (f *fixture) outboxCount(t *testing.T, eventType enums.OutboxEventType, orderID uuid.UUID) int64 {
	t.Helper()
	var n int64
	require.NoError(t, f.client.DB().Model(&models.OutboxEvent{}).
		Where("event_type = ? AND aggregate_id = ?", eventType, orderID).
		Count(&n).Error)
	return n
}

func (f *fixture) createOrder(t *testing.T, method enums.PaymentMethod, items ...ItemInput) *models.Order {
	t.Helper()
	order, err := f.svc.Create(context.Background(), CreateInput{
		BuyerID:       uuid.New(),
		Items:         items,
		Address:       buyerAddress,
		PaymentMethod: method,
	})
	require.NoError(t, err)
	return order
}

func TestCreateReservesStockAndPrices(t *testing.T) {
	f := newFixture(t)
	vendor := uuid.New()
	p := f.product(t, vendor, 1500, 5)

	order := f.createOrder(t, enums.PaymentMethodCard, ItemInput{ProductID: p.ID, Quantity: 3})

	require.Equal(t, "ORD-000001", order.OrderNumber)
	require.Equal(t, enums.OrderStatusPendingPayment, order.Status)
	require.Equal(t, int64(4500), order.SubtotalCents)
	require.Equal(t, int64(360), order.TaxCents)
	require.Equal(t, int64(799), order.ShippingCents)
	require.Equal(t, int64(5659), order.TotalCents)
	require.Equal(t, 2, f.stock(t, p.ID))

	loaded, err := f.svc.Get(context.Background(), order.ID)
	require.NoError(t, err)
	require.Len(t, loaded.Items, 1)
	require.Equal(t, vendor, loaded.Items[0].VendorID)
	require.NotNil(t, loaded.Delivery)
	require.Equal(t, enums.DeliveryStatusPending, loaded.Delivery.Status)
	require.Equal(t, int64(1350), loaded.Delivery.FeeCents)
	require.Nil(t, loaded.Delivery.DriverID)
	require.Equal(t, int64(1), f.outboxCount(t, enums.EventOrderCreated, order.ID))

	second := f.createOrder(t, enums.PaymentMethodCard, ItemInput{ProductID: p.ID, Quantity: 1})
	require.Equal(t, "ORD-000002", second.OrderNumber)
}

func TestCreateInsufficientStockLeavesNoTrace(t *testing.T) {
	f := newFixture(t)
	a := f.product(t, uuid.New(), 1000, 5)
	b := f.product(t, uuid.New(), 1000, 1)

	_, err := f.svc.Create(context.Background(), CreateInput{
		BuyerID: uuid.New(),
		Items:   []ItemInput{{ProductID: a.ID, Quantity: 2}, {ProductID: b.ID, Quantity: 2}},
		Address: buyerAddress,
	})
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeInsufficientStock), "got %v", err)

	var count int64
	require.NoError(t, f.client.DB().Model(&models.Order{}).Count(&count).Error)
	require.Zero(t, count)
	require.Equal(t, 5, f.stock(t, a.ID))
	require.Equal(t, 1, f.stock(t, b.ID))
}

func TestConfirmPaidIsIdempotent(t *testing.T) {
	f := newFixture(t)
	p := f.product(t, uuid.New(), 2000, 2)
	order := f.createOrder(t, enums.PaymentMethodCard, ItemInput{ProductID: p.ID, Quantity: 1})
	ctx := context.Background()

	require.NoError(t, f.svc.ConfirmPaid(ctx, order.ID, "pi_123"))
	require.NoError(t, f.svc.ConfirmPaid(ctx, order.ID, "pi_123"))

	loaded, err := f.svc.Get(ctx, order.ID)
	require.NoError(t, err)
	require.True(t, loaded.Paid)
	require.Equal(t, enums.OrderStatusConfirmed, loaded.Status)
	require.NotNil(t, loaded.PaymentRef)
	require.Equal(t, "pi_123", *loaded.PaymentRef)
	require.Equal(t, int64(1), f.outboxCount(t, enums.EventOrderPaid, order.ID))
}

func TestCancelAbandonedRestoresStockExactlyOnce(t *testing.T) {
	f := newFixture(t)
	p := f.product(t, uuid.New(), 1000, 4)
	order := f.createOrder(t, enums.PaymentMethodCard, ItemInput{ProductID: p.ID, Quantity: 3})
	ctx := context.Background()
	require.Equal(t, 1, f.stock(t, p.ID))

	require.NoError(t, f.svc.CancelAbandoned(ctx, order.ID))
	require.NoError(t, f.svc.CancelAbandoned(ctx, order.ID))

	require.Equal(t, 4, f.stock(t, p.ID))
	loaded, err := f.svc.Get(ctx, order.ID)
	require.NoError(t, err)
	require.Equal(t, enums.OrderStatusCancelled, loaded.Status)
	require.True(t, loaded.StockReleased)

	// payment arriving after expiry is left for manual refund
	require.NoError(t, f.svc.ConfirmPaid(ctx, order.ID, "pi_late"))
	loaded, err = f.svc.Get(ctx, order.ID)
	require.NoError(t, err)
	require.Equal(t, enums.OrderStatusCancelled, loaded.Status)
	require.False(t, loaded.Paid)
}

func TestCancelAbandonedIgnoresConfirmedOrders(t *testing.T) {
	f := newFixture(t)
	p := f.product(t, uuid.New(), 1000, 4)
	order := f.createOrder(t, enums.PaymentMethodCard, ItemInput{ProductID: p.ID, Quantity: 2})
	ctx := context.Background()

	require.NoError(t, f.svc.ConfirmPaid(ctx, order.ID, "pi_1"))
	require.NoError(t, f.svc.CancelAbandoned(ctx, order.ID))

	loaded, err := f.svc.Get(ctx, order.ID)
	require.NoError(t, err)
	require.Equal(t, enums.OrderStatusConfirmed, loaded.Status)
	require.Equal(t, 2, f.stock(t, p.ID))
}

func TestUpdateStatusFlow(t *testing.T) {
	f := newFixture(t)
	vendor := uuid.New()
	p := f.product(t, vendor, 3000, 4)
	order := f.createOrder(t, enums.PaymentMethodCard, ItemInput{ProductID: p.ID, Quantity: 1})
	ctx := context.Background()
	require.NoError(t, f.svc.ConfirmPaid(ctx, order.ID, "pi_1"))

	owner := Actor{UserID: vendor, Role: enums.ActorVendor}
	stranger := Actor{UserID: uuid.New(), Role: enums.ActorVendor}

	_, err := f.svc.UpdateStatus(ctx, UpdateStatusInput{OrderID: order.ID, Status: enums.OrderStatusProcessing, Actor: stranger})
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeForbidden), "got %v", err)

	tracking := "1Z999"
	updated, err := f.svc.UpdateStatus(ctx, UpdateStatusInput{OrderID: order.ID, Status: enums.OrderStatusShipped, TrackingNumber: &tracking, Actor: owner})
	require.NoError(t, err)
	require.Equal(t, enums.OrderStatusShipped, updated.Status)
	require.Equal(t, tracking, *updated.TrackingNumber)

	_, err = f.svc.UpdateStatus(ctx, UpdateStatusInput{OrderID: order.ID, Status: enums.OrderStatusCancelled, Actor: owner})
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeStateConflict), "got %v", err)

	updated, err = f.svc.UpdateStatus(ctx, UpdateStatusInput{OrderID: order.ID, Status: enums.OrderStatusDelivered, Actor: owner})
	require.NoError(t, err)
	require.True(t, updated.IsDelivered)
	require.NotNil(t, updated.DeliveredAt)
	require.Equal(t, []uuid.UUID{order.ID}, f.settler.orders)

	// same-state request is a no-op and does not settle again
	_, err = f.svc.UpdateStatus(ctx, UpdateStatusInput{OrderID: order.ID, Status: enums.OrderStatusDelivered, Actor: owner})
	require.NoError(t, err)
	require.Len(t, f.settler.orders, 1)
}

func TestUpdateStatusCancelReleasesStock(t *testing.T) {
	f := newFixture(t)
	p := f.product(t, uuid.New(), 1000, 3)
	order := f.createOrder(t, enums.PaymentMethodCard, ItemInput{ProductID: p.ID, Quantity: 2})
	ctx := context.Background()
	require.NoError(t, f.svc.ConfirmPaid(ctx, order.ID, "pi_1"))

	admin := Actor{UserID: uuid.New(), Role: enums.ActorAdmin}
	_, err := f.svc.UpdateStatus(ctx, UpdateStatusInput{OrderID: order.ID, Status: enums.OrderStatusCancelled, Actor: admin})
	require.NoError(t, err)
	require.Equal(t, 3, f.stock(t, p.ID))

	_, err = f.svc.UpdateStatus(ctx, UpdateStatusInput{OrderID: order.ID, Status: enums.OrderStatusRefunded, Actor: admin})
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeStateConflict))
}

func TestMarkDeliveredCashOnDelivery(t *testing.T) {
	f := newFixture(t)
	p := f.product(t, uuid.New(), 6000, 1)
	order := f.createOrder(t, enums.PaymentMethodCashOnDelivery, ItemInput{ProductID: p.ID, Quantity: 1})
	require.Equal(t, enums.OrderStatusPending, order.Status)
	require.Equal(t, int64(0), order.ShippingCents)
	ctx := context.Background()

	require.NoError(t, f.svc.MarkDelivered(ctx, order.ID))
	require.NoError(t, f.svc.MarkDelivered(ctx, order.ID))

	loaded, err := f.svc.Get(ctx, order.ID)
	require.NoError(t, err)
	require.Equal(t, enums.OrderStatusDelivered, loaded.Status)
	require.True(t, loaded.Paid)
	require.True(t, loaded.IsDelivered)
	require.Len(t, f.settler.orders, 1)
}

func TestMarkDeliveredRejectsCancelled(t *testing.T) {
	f := newFixture(t)
	p := f.product(t, uuid.New(), 1000, 1)
	order := f.createOrder(t, enums.PaymentMethodCard, ItemInput{ProductID: p.ID, Quantity: 1})
	ctx := context.Background()
	require.NoError(t, f.svc.CancelAbandoned(ctx, order.ID))

	err := f.svc.MarkDelivered(ctx, order.ID)
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeStateConflict), "got %v", err)
	require.Empty(t, f.settler.orders)
}

func TestAttachPaymentSessionAndLookup(t *testing.T) {
	f := newFixture(t)
	p := f.product(t, uuid.New(), 1000, 2)
	order := f.createOrder(t, enums.PaymentMethodCard, ItemInput{ProductID: p.ID, Quantity: 1})
	ctx := context.Background()
	expires := time.Now().Add(30 * time.Minute)

	require.NoError(t, f.svc.AttachPaymentSession(ctx, order.ID, "cs_test_1", expires))
	found, err := f.svc.FindBySessionID(ctx, "cs_test_1")
	require.NoError(t, err)
	require.Equal(t, order.ID, found.ID)

	byNumber, err := f.svc.GetByNumber(ctx, order.OrderNumber)
	require.NoError(t, err)
	require.Equal(t, order.ID, byNumber.ID)

	require.NoError(t, f.svc.ConfirmPaid(ctx, order.ID, "pi_1"))
	err = f.svc.AttachPaymentSession(ctx, order.ID, "cs_test_2", expires)
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeStateConflict))
}

func TestSweepAbandonedCancelsExpiredSessions(t *testing.T) {
	f := newFixture(t)
	p := f.product(t, uuid.New(), 1000, 3)
	ctx := context.Background()
	stale := f.createOrder(t, enums.PaymentMethodCard, ItemInput{ProductID: p.ID, Quantity: 1})
	fresh := f.createOrder(t, enums.PaymentMethodCard, ItemInput{ProductID: p.ID, Quantity: 1})

	now := time.Now()
	require.NoError(t, f.svc.AttachPaymentSession(ctx, stale.ID, "cs_old", now.Add(-time.Hour)))
	require.NoError(t, f.svc.AttachPaymentSession(ctx, fresh.ID, "cs_new", now.Add(time.Hour)))

	n, err := f.svc.SweepAbandoned(ctx, now, 10)
	require.NoError(t, err)
	require.Equal(t, 1, n)
	require.Equal(t, 2, f.stock(t, p.ID))

	loaded, err := f.svc.Get(ctx, fresh.ID)
	require.NoError(t, err)
	require.Equal(t, enums.OrderStatusPendingPayment, loaded.Status)
}

func TestListByBuyer(t *testing.T) {
	f := newFixture(t)
	p := f.product(t, uuid.New(), 1000, 5)
	buyer := uuid.New()
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		_, err := f.svc.Create(ctx, CreateInput{BuyerID: buyer, Items: []ItemInput{{ProductID: p.ID, Quantity: 1}}, Address: buyerAddress})
		require.NoError(t, err)
	}
	f.createOrder(t, enums.PaymentMethodCard, ItemInput{ProductID: p.ID, Quantity: 1})

	page, err := f.svc.ListByBuyer(ctx, buyer, ListParams{Limit: 2})
	require.NoError(t, err)
	require.Len(t, page.Orders, 2)
	require.NotEmpty(t, page.Cursor)

	_, err = f.svc.ListByBuyer(ctx, buyer, ListParams{Cursor: "%%%"})
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
}

func TestCanView(t *testing.T) {
	buyer, vendor, driver := uuid.New(), uuid.New(), uuid.New()
	order := &models.Order{
		BuyerID:  buyer,
		Items:    []models.OrderItem{{VendorID: vendor}},
		Delivery: &models.Delivery{DriverID: &driver},
	}
	cases := []struct {
		actor Actor
		want  bool
	}{
		{Actor{UserID: buyer, Role: enums.ActorCustomer}, true},
		{Actor{UserID: uuid.New(), Role: enums.ActorCustomer}, false},
		{Actor{UserID: vendor, Role: enums.ActorVendor}, true},
		{Actor{UserID: driver, Role: enums.ActorDriver}, true},
		{Actor{UserID: uuid.New(), Role: enums.ActorDriver}, false},
		{Actor{UserID: uuid.New(), Role: enums.ActorAdmin}, true},
	}
	for _, tc := range cases {
		if got := CanView(order, tc.actor); got != tc.want {
			t.Fatalf("actor %+v: expected %v got %v", tc.actor, tc.want, got)
		}
	}
}

func TestUnpaidCardOrderCannotBeAdvanced(t *testing.T) {
	f := newFixture(t)
	vendor := uuid.New()
	p := f.product(t, vendor, 2500, 3)
	order := f.createOrder(t, enums.PaymentMethodCard, ItemInput{ProductID: p.ID, Quantity: 2})
	ctx := context.Background()
	require.Equal(t, enums.OrderStatusPendingPayment, order.Status)

	actors := []Actor{
		{UserID: vendor, Role: enums.ActorVendor},
		{UserID: uuid.New(), Role: enums.ActorAdmin},
	}
	for _, actor := range actors {
		for _, next := range []enums.OrderStatus{enums.OrderStatusConfirmed, enums.OrderStatusProcessing, enums.OrderStatusDelivered} {
			_, err := f.svc.UpdateStatus(ctx, UpdateStatusInput{OrderID: order.ID, Status: next, Actor: actor})
			require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeStateConflict), "%s -> %s: %v", actor.Role, next, err)
		}
	}

	// an unpaid card order parked in pending is held by the payment check
	require.NoError(t, f.client.DB().Model(&models.Order{}).Where("id = ?", order.ID).
		Update("status", enums.OrderStatusPending).Error)
	for _, next := range []enums.OrderStatus{enums.OrderStatusConfirmed, enums.OrderStatusProcessing} {
		_, err := f.svc.UpdateStatus(ctx, UpdateStatusInput{OrderID: order.ID, Status: next, Actor: actors[0]})
		require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeStateConflict), "pending -> %s: %v", next, err)
	}
	err := f.svc.MarkDelivered(ctx, order.ID)
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeStateConflict), "got %v", err)

	loaded, err := f.svc.Get(ctx, order.ID)
	require.NoError(t, err)
	require.Equal(t, enums.OrderStatusPending, loaded.Status)
	require.False(t, loaded.Paid)
	require.False(t, loaded.IsDelivered)
	require.Empty(t, f.settler.orders)
	require.Zero(t, f.outboxCount(t, enums.EventOrderStatusChanged, order.ID))

	_, err = f.svc.UpdateStatus(ctx, UpdateStatusInput{OrderID: order.ID, Status: enums.OrderStatusCancelled, Actor: actors[1]})
	require.NoError(t, err)
	require.Equal(t, 3, f.stock(t, p.ID))
}

func TestUpdateStatusDeliveredCollectsCash(t *testing.T) {
	f := newFixture(t)
	vendor := uuid.New()
	p := f.product(t, vendor, 4200, 2)
	order := f.createOrder(t, enums.PaymentMethodCashOnDelivery, ItemInput{ProductID: p.ID, Quantity: 1})
	ctx := context.Background()
	owner := Actor{UserID: vendor, Role: enums.ActorVendor}

	updated, err := f.svc.UpdateStatus(ctx, UpdateStatusInput{OrderID: order.ID, Status: enums.OrderStatusProcessing, Actor: owner})
	require.NoError(t, err)
	require.False(t, updated.Paid)

	updated, err = f.svc.UpdateStatus(ctx, UpdateStatusInput{OrderID: order.ID, Status: enums.OrderStatusDelivered, Actor: owner})
	require.NoError(t, err)
	require.Equal(t, enums.OrderStatusDelivered, updated.Status)
	require.True(t, updated.Paid)
	require.NotNil(t, updated.PaidAt)
	require.NotNil(t, updated.PaymentRef)
	require.Equal(t, cashPaymentRef, *updated.PaymentRef)
	require.Equal(t, []uuid.UUID{order.ID}, f.settler.orders)
}

func TestMarkDeliveredCollectsCashAfterProcessing(t *testing.T) {
	f := newFixture(t)
	vendor := uuid.New()
	p := f.product(t, vendor, 1800, 1)
	order := f.createOrder(t, enums.PaymentMethodCashOnDelivery, ItemInput{ProductID: p.ID, Quantity: 1})
	ctx := context.Background()

	_, err := f.svc.UpdateStatus(ctx, UpdateStatusInput{OrderID: order.ID, Status: enums.OrderStatusProcessing, Actor: Actor{UserID: vendor, Role: enums.ActorVendor}})
	require.NoError(t, err)
	require.NoError(t, f.svc.MarkDelivered(ctx, order.ID))

	loaded, err := f.svc.Get(ctx, order.ID)
	require.NoError(t, err)
	require.Equal(t, enums.OrderStatusDelivered, loaded.Status)
	require.True(t, loaded.Paid)
	require.Len(t, f.settler.orders, 1)
}
