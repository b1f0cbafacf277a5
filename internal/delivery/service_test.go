package delivery

import (
	"context"
	"io"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/shipsplit-backend/internal/orders"
	"github.com/angelmondragon/shipsplit-backend/pkg/db"
	"github.com/angelmondragon/shipsplit-backend/pkg/db/dbtest"
	"github.com/angelmondragon/shipsplit-backend/pkg/db/models"
	"github.com/angelmondragon/shipsplit-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/shipsplit-backend/pkg/errors"
	"github.com/angelmondragon/shipsplit-backend/pkg/logger"
	"github.com/angelmondragon/shipsplit-backend/pkg/outbox"
	"github.com/angelmondragon/shipsplit-backend/pkg/types"
)

type recorder struct {
	mu         sync.Mutex
	deliveries []uuid.UUID
	orders     []uuid.UUID
}

func (r *recorder) SettleDelivery(_ context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.deliveries = append(r.deliveries, id)
	return nil
}

func (r *recorder) MarkDelivered(_ context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.orders = append(r.orders, id)
	return nil
}

type fixture struct {
	client *db.Client
	calls  *recorder
	svc    Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	client := dbtest.Open(t)
	logg := logger.New(logger.Options{ServiceName: "test", Output: io.Discard})
	calls := &recorder{}
	svc, err := NewService(ServiceParams{
		Repo:    NewRepository(client.DB()),
		Tx:      client,
		Outbox:  outbox.NewService(outbox.NewRepository(client.DB()), logg),
		Settler: calls,
		Orders:  calls,
		Logger:  logg,
	})
	require.NoError(t, err)
	return &fixture{client: client, calls: calls, svc: svc}
}

func (f *fixture) seed(t *testing.T, status enums.OrderStatus) *models.Delivery {
	t.Helper()
	order := &models.Order{
		OrderNumber:   "ORD-" + uuid.NewString()[:8],
		BuyerID:       uuid.New(),
		Status:        status,
		PaymentMethod: enums.PaymentMethodCard,
		Paid:          status != enums.OrderStatusPendingPayment,
		SubtotalCents: 2000,
		TaxCents:      160,
		ShippingCents: 799,
		TotalCents:    2959,
	}
	require.NoError(t, f.client.DB().Create(order).Error)
	miles := 10.0
	d := &models.Delivery{
		OrderID:       order.ID,
		FeeCents:      1350,
		DistanceMiles: &miles,
		Pickup:        types.Address{Street: "1 Depot Rd", City: "Springfield", State: "IL", Zip: "62701"},
		Dropoff:       types.Address{Street: "9 Elm St", City: "Springfield", State: "IL", Zip: "62704"},
	}
	require.NoError(t, f.client.DB().Create(d).Error)
	return d
}

func (f *fixture) countEvents(t *testing.T, eventType enums.OutboxEventType) int64 {
	t.Helper()
	var count int64
	require.NoError(t, f.client.DB().Model(&models.OutboxEvent{}).Where("event_type = ?", eventType).Count(&count).Error)
	return count
}

func TestClaimAssignsDriver(t *testing.T) {
	f := newFixture(t)
	d := f.seed(t, enums.OrderStatusConfirmed)
	driver := uuid.New()

	claimed, err := f.svc.Claim(context.Background(), d.ID, driver)
	require.NoError(t, err)
	require.Equal(t, enums.DeliveryStatusAssigned, claimed.Status)
	require.NotNil(t, claimed.DriverID)
	require.Equal(t, driver, *claimed.DriverID)
	require.Equal(t, enums.AssignmentClaimed, *claimed.AssignmentType)
	require.NotNil(t, claimed.AssignedAt)
	require.EqualValues(t, 1, f.countEvents(t, enums.EventDeliveryAssigned))
}

func TestClaimRaceHasOneWinner(t *testing.T) {
	f := newFixture(t)
	d := f.seed(t, enums.OrderStatusConfirmed)

	const drivers = 8
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		wins    int
		claimed int
	)
	for i := 0; i < drivers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.Claim(context.Background(), d.ID, uuid.New())
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				wins++
			case pkgerrors.IsCode(err, pkgerrors.CodeAlreadyClaimed):
				claimed++
			default:
				t.Errorf("unexpected claim error: %v", err)
			}
		}()
	}
	wg.Wait()

	if wins != 1 || claimed != drivers-1 {
		t.Fatalf("expected exactly one winner, got wins=%d already_claimed=%d", wins, claimed)
	}
}

func TestClaimRejectsUnpaidOrder(t *testing.T) {
	f := newFixture(t)
	d := f.seed(t, enums.OrderStatusPendingPayment)

	_, err := f.svc.Claim(context.Background(), d.ID, uuid.New())
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeStateConflict), "got %v", err)

	_, err = f.svc.Claim(context.Background(), uuid.New(), uuid.New())
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound), "got %v", err)
}

func TestAdminAssignOverridesDriver(t *testing.T) {
	f := newFixture(t)
	d := f.seed(t, enums.OrderStatusProcessing)
	ctx := context.Background()
	_, err := f.svc.Claim(ctx, d.ID, uuid.New())
	require.NoError(t, err)

	replacement := uuid.New()
	_, err = f.svc.AdminAssign(ctx, d.ID, replacement, orders.Actor{UserID: uuid.New(), Role: enums.ActorDriver})
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeForbidden), "got %v", err)

	assigned, err := f.svc.AdminAssign(ctx, d.ID, replacement, orders.Actor{UserID: uuid.New(), Role: enums.ActorAdmin})
	require.NoError(t, err)
	require.Equal(t, replacement, *assigned.DriverID)
	require.Equal(t, enums.AssignmentAdminAssigned, *assigned.AssignmentType)
	require.EqualValues(t, 2, f.countEvents(t, enums.EventDeliveryAssigned))
}

func TestAdvanceFullJourney(t *testing.T) {
	f := newFixture(t)
	d := f.seed(t, enums.OrderStatusShipped)
	ctx := context.Background()
	driver := uuid.New()
	_, err := f.svc.Claim(ctx, d.ID, driver)
	require.NoError(t, err)
	actor := orders.Actor{UserID: driver, Role: enums.ActorDriver}

	_, err = f.svc.Advance(ctx, AdvanceInput{DeliveryID: d.ID, Status: enums.DeliveryStatusPickedUp, Actor: actor})
	require.NoError(t, err)
	_, err = f.svc.Advance(ctx, AdvanceInput{DeliveryID: d.ID, Status: enums.DeliveryStatusPickedUp, Actor: actor})
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeStateConflict), "repeat advance: %v", err)

	note := "left with concierge"
	_, err = f.svc.Advance(ctx, AdvanceInput{DeliveryID: d.ID, Status: enums.DeliveryStatusEnRoute, Actor: actor})
	require.NoError(t, err)
	done, err := f.svc.Advance(ctx, AdvanceInput{DeliveryID: d.ID, Status: enums.DeliveryStatusDelivered, Notes: &note, Actor: actor})
	require.NoError(t, err)

	require.Equal(t, enums.DeliveryStatusDelivered, done.Status)
	require.NotNil(t, done.PickedUpAt)
	require.NotNil(t, done.EnRouteAt)
	require.NotNil(t, done.DeliveredAt)
	require.Equal(t, note, *done.Notes)
	require.Equal(t, []uuid.UUID{d.ID}, f.calls.deliveries)
	require.Equal(t, []uuid.UUID{d.OrderID}, f.calls.orders)
	require.EqualValues(t, 3, f.countEvents(t, enums.EventDeliveryStatusChanged))
}

func TestAdvanceOwnership(t *testing.T) {
	f := newFixture(t)
	d := f.seed(t, enums.OrderStatusConfirmed)
	ctx := context.Background()
	_, err := f.svc.Claim(ctx, d.ID, uuid.New())
	require.NoError(t, err)

	_, err = f.svc.Advance(ctx, AdvanceInput{
		DeliveryID: d.ID,
		Status:     enums.DeliveryStatusPickedUp,
		Actor:      orders.Actor{UserID: uuid.New(), Role: enums.ActorDriver},
	})
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeForbidden), "got %v", err)

	failed, err := f.svc.Advance(ctx, AdvanceInput{
		DeliveryID: d.ID,
		Status:     enums.DeliveryStatusFailed,
		Actor:      orders.Actor{UserID: uuid.New(), Role: enums.ActorAdmin},
	})
	require.NoError(t, err)
	require.NotNil(t, failed.FailedAt)
	require.Empty(t, f.calls.deliveries)
}

func TestAdvanceRejectsPendingAndBadTargets(t *testing.T) {
	f := newFixture(t)
	d := f.seed(t, enums.OrderStatusConfirmed)
	admin := orders.Actor{UserID: uuid.New(), Role: enums.ActorAdmin}

	_, err := f.svc.Advance(context.Background(), AdvanceInput{DeliveryID: d.ID, Status: enums.DeliveryStatusPickedUp, Actor: admin})
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeStateConflict), "got %v", err)

	_, err = f.svc.Advance(context.Background(), AdvanceInput{DeliveryID: d.ID, Status: enums.DeliveryStatusAssigned, Actor: admin})
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation), "got %v", err)
}

func TestAdvanceBlockedForCancelledOrder(t *testing.T) {
	f := newFixture(t)
	d := f.seed(t, enums.OrderStatusConfirmed)
	ctx := context.Background()
	driver := uuid.New()
	_, err := f.svc.Claim(ctx, d.ID, driver)
	require.NoError(t, err)
	require.NoError(t, f.client.DB().Model(&models.Order{}).Where("id = ?", d.OrderID).Update("status", enums.OrderStatusCancelled).Error)

	_, err = f.svc.Advance(ctx, AdvanceInput{DeliveryID: d.ID, Status: enums.DeliveryStatusPickedUp, Actor: orders.Actor{UserID: driver, Role: enums.ActorDriver}})
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeStateConflict), "got %v", err)
}

func TestListAvailableAndForDriver(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	open := f.seed(t, enums.OrderStatusConfirmed)
	f.seed(t, enums.OrderStatusPendingPayment)
	mine := f.seed(t, enums.OrderStatusConfirmed)
	driver := uuid.New()
	_, err := f.svc.Claim(ctx, mine.ID, driver)
	require.NoError(t, err)

	available, err := f.svc.ListAvailable(ctx, ListParams{})
	require.NoError(t, err)
	require.Len(t, available.Deliveries, 1)
	require.Equal(t, open.ID, available.Deliveries[0].ID)

	assigned, err := f.svc.ListForDriver(ctx, driver, ListParams{})
	require.NoError(t, err)
	require.Len(t, assigned.Deliveries, 1)
	require.Equal(t, mine.ID, assigned.Deliveries[0].ID)

	byOrder, err := f.svc.GetByOrder(ctx, mine.OrderID)
	require.NoError(t, err)
	require.Equal(t, mine.ID, byOrder.ID)
}
