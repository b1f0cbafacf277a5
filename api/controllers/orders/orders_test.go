package orders

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/shipsplit-backend/api/middleware"
	internalorders "github.com/angelmondragon/shipsplit-backend/internal/orders"
	"github.com/angelmondragon/shipsplit-backend/internal/refunds"
	"github.com/angelmondragon/shipsplit-backend/pkg/db/models"
	"github.com/angelmondragon/shipsplit-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/shipsplit-backend/pkg/errors"
	"github.com/angelmondragon/shipsplit-backend/pkg/money"
)

type stubOrders struct {
	order      *models.Order
	listBuyer  uuid.UUID
	listParams internalorders.ListParams
	update     internalorders.UpdateStatusInput
}

func (s *stubOrders) Get(_ context.Context, id uuid.UUID) (*models.Order, error) {
	if s.order == nil || s.order.ID != id {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
	}
	return s.order, nil
}

func (s *stubOrders) ListByBuyer(_ context.Context, buyerID uuid.UUID, params internalorders.ListParams) (*internalorders.OrderList, error) {
	s.listBuyer = buyerID
	s.listParams = params
	return &internalorders.OrderList{Orders: []internalorders.OrderDTO{}}, nil
}

func (s *stubOrders) UpdateStatus(_ context.Context, input internalorders.UpdateStatusInput) (*models.Order, error) {
	s.update = input
	s.order.Status = input.Status
	return s.order, nil
}

func withCaller(r *http.Request, userID uuid.UUID, role enums.ActorRole) *http.Request {
	ctx := middleware.WithUserID(r.Context(), userID.String())
	ctx = middleware.WithRole(ctx, string(role))
	return r.WithContext(ctx)
}

func withOrderParam(r *http.Request, id uuid.UUID) *http.Request {
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add("orderId", id.String())
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}

func TestDetailVisibility(t *testing.T) {
	buyer := uuid.New()
	order := &models.Order{ID: uuid.New(), BuyerID: buyer, Status: enums.OrderStatusConfirmed, Paid: true}
	svc := &stubOrders{order: order}

	cases := []struct {
		name   string
		caller uuid.UUID
		role   enums.ActorRole
		want   int
	}{
		{name: "buyer", caller: buyer, role: enums.ActorCustomer, want: http.StatusOK},
		{name: "other customer", caller: uuid.New(), role: enums.ActorCustomer, want: http.StatusForbidden},
		{name: "unrelated vendor", caller: uuid.New(), role: enums.ActorVendor, want: http.StatusForbidden},
		{name: "admin", caller: uuid.New(), role: enums.ActorAdmin, want: http.StatusOK},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/v1/orders/x", nil)
			req = withOrderParam(withCaller(req, tc.caller, tc.role), order.ID)
			rec := httptest.NewRecorder()
			Detail(svc, nil)(rec, req)
			if rec.Code != tc.want {
				t.Fatalf("expected %d, got %d", tc.want, rec.Code)
			}
		})
	}
}

func TestDetailMissingOrder(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/api/v1/orders/x", nil)
	req = withOrderParam(withCaller(req, uuid.New(), enums.ActorAdmin), uuid.New())
	rec := httptest.NewRecorder()
	Detail(&stubOrders{}, nil)(rec, req)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListBuyerFilterRequiresAdmin(t *testing.T) {
	svc := &stubOrders{}
	caller := uuid.New()
	other := uuid.New()

	req := withCaller(httptest.NewRequest(http.MethodGet, "/api/v1/orders?limit=10&cursor=abc", nil), caller, enums.ActorCustomer)
	rec := httptest.NewRecorder()
	List(svc, nil)(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, caller, svc.listBuyer)
	require.Equal(t, 10, svc.listParams.Limit)
	require.Equal(t, "abc", svc.listParams.Cursor)

	req = withCaller(httptest.NewRequest(http.MethodGet, "/api/v1/orders?buyer_id="+other.String(), nil), caller, enums.ActorCustomer)
	rec = httptest.NewRecorder()
	List(svc, nil)(rec, req)
	require.Equal(t, http.StatusForbidden, rec.Code)

	req = withCaller(httptest.NewRequest(http.MethodGet, "/api/v1/orders?buyer_id="+other.String(), nil), caller, enums.ActorAdmin)
	rec = httptest.NewRecorder()
	List(svc, nil)(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, other, svc.listBuyer)
}

func TestUpdateStatusParsesBody(t *testing.T) {
	order := &models.Order{ID: uuid.New(), Status: enums.OrderStatusConfirmed, Paid: true}
	svc := &stubOrders{order: order}
	vendor := uuid.New()

	body := `{"status":"shipped","tracking_number":"  1Z999  "}`
	req := httptest.NewRequest(http.MethodPatch, "/api/v1/orders/x/status", strings.NewReader(body))
	req = withOrderParam(withCaller(req, vendor, enums.ActorVendor), order.ID)
	rec := httptest.NewRecorder()
	UpdateStatus(svc, nil)(rec, req)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.Equal(t, enums.OrderStatusShipped, svc.update.Status)
	require.NotNil(t, svc.update.TrackingNumber)
	require.Equal(t, "1Z999", *svc.update.TrackingNumber)
	require.Equal(t, vendor, svc.update.Actor.UserID)

	req = httptest.NewRequest(http.MethodPatch, "/api/v1/orders/x/status", strings.NewReader(`{"status":"teleported"}`))
	req = withOrderParam(withCaller(req, vendor, enums.ActorVendor), order.ID)
	rec = httptest.NewRecorder()
	UpdateStatus(svc, nil)(rec, req)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

type stubRefunds struct {
	got  refunds.RefundInput
	rows []models.Refund
	err  error
}

func (s *stubRefunds) Refund(_ context.Context, input refunds.RefundInput) (*refunds.Result, error) {
	s.got = input
	if s.err != nil {
		return nil, s.err
	}
	return &refunds.Result{OrderID: input.OrderID, RefundRef: "re_1", Amount: money.Cents(*input.AmountCents)}, nil
}

func (s *stubRefunds) ListByOrder(context.Context, uuid.UUID) ([]models.Refund, error) {
	return s.rows, nil
}

func TestRefundAcceptsDollarAmounts(t *testing.T) {
	svc := &stubRefunds{}
	admin := uuid.New()
	orderID := uuid.New()

	req := httptest.NewRequest(http.MethodPost, "/api/v1/orders/x/refunds", strings.NewReader(`{"amount":"12.50","reason":"damaged"}`))
	req = withOrderParam(withCaller(req, admin, enums.ActorAdmin), orderID)
	rec := httptest.NewRecorder()
	Refund(svc, nil)(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	require.NotNil(t, svc.got.AmountCents)
	require.Equal(t, int64(1250), *svc.got.AmountCents)
	require.Equal(t, admin, svc.got.InitiatedBy)
	require.Equal(t, "damaged", svc.got.Reason)
}

func TestRefundOverdrawIsBadRequest(t *testing.T) {
	svc := &stubRefunds{err: pkgerrors.New(pkgerrors.CodeInvalidRefundAmount, "refund exceeds remaining balance")}
	req := httptest.NewRequest(http.MethodPost, "/api/v1/orders/x/refunds", strings.NewReader(`{"amount":99999}`))
	req = withOrderParam(withCaller(req, uuid.New(), enums.ActorAdmin), uuid.New())
	rec := httptest.NewRecorder()
	Refund(svc, nil)(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Contains(t, rec.Body.String(), "refund exceeds remaining balance")
}

func TestListRefundsEmpty(t *testing.T) {
	req := withOrderParam(httptest.NewRequest(http.MethodGet, "/api/v1/orders/x/refunds", nil), uuid.New())
	rec := httptest.NewRecorder()
	ListRefunds(&stubRefunds{}, nil)(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"refunds":[]`)
}
