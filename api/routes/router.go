package routes

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/angelmondragon/shipsplit-backend/api/controllers"
	deliverycontrollers "github.com/angelmondragon/shipsplit-backend/api/controllers/deliveries"
	ordercontrollers "github.com/angelmondragon/shipsplit-backend/api/controllers/orders"
	payeecontrollers "github.com/angelmondragon/shipsplit-backend/api/controllers/payees"
	webhookcontrollers "github.com/angelmondragon/shipsplit-backend/api/controllers/webhooks"
	"github.com/angelmondragon/shipsplit-backend/api/middleware"
	"github.com/angelmondragon/shipsplit-backend/internal/authz"
	"github.com/angelmondragon/shipsplit-backend/internal/delivery"
	"github.com/angelmondragon/shipsplit-backend/internal/fees"
	"github.com/angelmondragon/shipsplit-backend/internal/orders"
	"github.com/angelmondragon/shipsplit-backend/internal/payments"
	"github.com/angelmondragon/shipsplit-backend/internal/refunds"
	"github.com/angelmondragon/shipsplit-backend/pkg/config"
	"github.com/angelmondragon/shipsplit-backend/pkg/db"
	"github.com/angelmondragon/shipsplit-backend/pkg/db/models"
	"github.com/angelmondragon/shipsplit-backend/pkg/logger"
	pkgredis "github.com/angelmondragon/shipsplit-backend/pkg/redis"
	"github.com/angelmondragon/shipsplit-backend/pkg/types"
)

// Cache is the Redis surface the HTTP layer uses for readiness, idempotent
// replays and rate limiting. A nil Cache disables the latter two.
type Cache interface {
	pkgredis.IdempotencyStore
	Ping(ctx context.Context) error
	IncrWithTTL(ctx context.Context, key string, ttl time.Duration) (int64, error)
}

type OrderService interface {
	ordercontrollers.OrderReader
	UpdateStatus(ctx context.Context, input orders.UpdateStatusInput) (*models.Order, error)
}

type RefundService interface {
	Refund(ctx context.Context, input refunds.RefundInput) (*refunds.Result, error)
	ListByOrder(ctx context.Context, orderID uuid.UUID) ([]models.Refund, error)
}

type FeeQuoter interface {
	Quote(ctx context.Context, address types.Address) fees.Quote
}

type WebhookGuard interface {
	CheckAndMark(ctx context.Context, eventID string) (bool, error)
	Delete(ctx context.Context, eventID string) error
}

type SigningSecretProvider interface {
	SigningSecret() string
}

// Services are the domain collaborators behind the API routes.
type Services struct {
	Payments      payments.Service
	Orders        OrderService
	Refunds       RefundService
	Deliveries    delivery.Service
	Earnings      payeecontrollers.Ledger
	Fees          FeeQuoter
	Authz         middleware.Authorizer
	StripeWebhook webhookcontrollers.StripeWebhookService
	StripeClient  SigningSecretProvider
	WebhookGuard  WebhookGuard
}

func NewRouter(
	cfg *config.Config,
	logg *logger.Logger,
	dbP db.Pinger,
	cache Cache,
	svc Services,
) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
		middleware.CORS(cfg.App.CORSOrigins),
	)

	quotePolicy := middleware.NewRateLimitPolicy(
		"delivery_quote",
		cfg.RateLimit.QuoteWindow,
		cfg.RateLimit.QuoteIPLimit,
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, dbP, cache))
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Post("/api/v1/webhooks/stripe", webhookcontrollers.StripeWebhook(svc.StripeWebhook, svc.StripeClient, svc.WebhookGuard, logg))
	r.With(middleware.RateLimit(quotePolicy, cache, logg)).
		Post("/api/v1/quotes/delivery-fee", controllers.DeliveryFeeQuote(svc.Fees, logg))

	// inline group so idempotency sees the fully matched route pattern
	r.Group(func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWT, logg))
		r.Use(middleware.Idempotency(cache, logg))

		can := func(object, action string) func(http.Handler) http.Handler {
			return middleware.RequireCapability(svc.Authz, object, action, logg)
		}

		r.With(can(authz.ResourceCheckout, authz.ActionCreate)).
			Post("/api/v1/checkout", controllers.Checkout(svc.Payments, logg))

		r.With(can(authz.ResourceOrders, authz.ActionRead)).Get("/api/v1/orders", ordercontrollers.List(svc.Orders, logg))
		r.With(can(authz.ResourceOrders, authz.ActionRead)).Get("/api/v1/orders/{orderId}", ordercontrollers.Detail(svc.Orders, logg))
		r.With(can(authz.ResourceOrders, authz.ActionUpdate)).Patch("/api/v1/orders/{orderId}/status", ordercontrollers.UpdateStatus(svc.Orders, logg))
		r.With(can(authz.ResourceCheckout, authz.ActionCreate)).Post("/api/v1/orders/{orderId}/payment-session", ordercontrollers.RetrySession(svc.Payments, logg))
		r.With(can(authz.ResourceRefunds, authz.ActionCreate)).Post("/api/v1/orders/{orderId}/refunds", ordercontrollers.Refund(svc.Refunds, logg))
		r.With(can(authz.ResourceRefunds, authz.ActionRead)).Get("/api/v1/orders/{orderId}/refunds", ordercontrollers.ListRefunds(svc.Refunds, logg))

		r.With(can(authz.ResourceDeliveries, authz.ActionRead)).Get("/api/v1/deliveries/available", deliverycontrollers.Available(svc.Deliveries, logg))
		r.With(can(authz.ResourceDeliveries, authz.ActionRead)).Get("/api/v1/deliveries/mine", deliverycontrollers.Mine(svc.Deliveries, logg))
		r.With(can(authz.ResourceDeliveries, authz.ActionRead)).Get("/api/v1/deliveries/{deliveryId}", deliverycontrollers.Detail(svc.Deliveries, logg))
		r.With(can(authz.ResourceDeliveries, authz.ActionClaim)).Post("/api/v1/deliveries/{deliveryId}/claim", deliverycontrollers.Claim(svc.Deliveries, logg))
		r.With(can(authz.ResourceDeliveries, authz.ActionAssign)).Post("/api/v1/deliveries/{deliveryId}/assign", deliverycontrollers.Assign(svc.Deliveries, logg))
		r.With(can(authz.ResourceDeliveries, authz.ActionUpdate)).Post("/api/v1/deliveries/{deliveryId}/status", deliverycontrollers.Advance(svc.Deliveries, logg))

		r.With(can(authz.ResourceEarnings, authz.ActionRead)).Get("/api/v1/payees/me/earnings", payeecontrollers.MyEarnings(svc.Earnings, logg))
		r.With(can(authz.ResourceEarnings, authz.ActionSettle)).Post("/api/v1/payees/me/catch-up", payeecontrollers.MyCatchUp(svc.Earnings, logg))
		r.With(can(authz.ResourcePayees, authz.ActionRead)).Get("/api/v1/admin/payees/{payeeId}/earnings", payeecontrollers.PayeeEarnings(svc.Earnings, logg))
		r.With(can(authz.ResourcePayees, authz.ActionSettle)).Post("/api/v1/admin/payees/{payeeId}/catch-up", payeecontrollers.PayeeCatchUp(svc.Earnings, logg))
	})

	return r
}
