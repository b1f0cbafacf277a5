// Package app assembles the domain services shared by the api and cron-worker
// binaries.
package app

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/angelmondragon/shipsplit-backend/internal/catalog"
	"github.com/angelmondragon/shipsplit-backend/internal/delivery"
	"github.com/angelmondragon/shipsplit-backend/internal/fees"
	"github.com/angelmondragon/shipsplit-backend/internal/inventory"
	"github.com/angelmondragon/shipsplit-backend/internal/orders"
	"github.com/angelmondragon/shipsplit-backend/internal/payees"
	"github.com/angelmondragon/shipsplit-backend/internal/payments"
	"github.com/angelmondragon/shipsplit-backend/internal/refunds"
	"github.com/angelmondragon/shipsplit-backend/internal/settlement"
	"github.com/angelmondragon/shipsplit-backend/pkg/config"
	"github.com/angelmondragon/shipsplit-backend/pkg/db"
	"github.com/angelmondragon/shipsplit-backend/pkg/logger"
	"github.com/angelmondragon/shipsplit-backend/pkg/maps"
	"github.com/angelmondragon/shipsplit-backend/pkg/metrics"
	"github.com/angelmondragon/shipsplit-backend/pkg/outbox"
	"github.com/angelmondragon/shipsplit-backend/pkg/redis"
	pkgstripe "github.com/angelmondragon/shipsplit-backend/pkg/stripe"
	"github.com/angelmondragon/shipsplit-backend/pkg/types"
)

// Domain holds the wired services.
type Domain struct {
	Stripe     *pkgstripe.Client
	Outbox     *outbox.Service
	Payees     *payees.Repository
	Fees       *fees.Calculator
	Settlement *settlement.Engine
	Orders     orders.Service
	Payments   payments.Service
	Deliveries delivery.Service
	Refunds    *refunds.Service
}

// NewDomain wires the order, dispatch and settlement services onto the shared
// database and redis clients. reg receives the settlement collectors.
func NewDomain(ctx context.Context, cfg *config.Config, logg *logger.Logger, dbClient *db.Client, redisClient *redis.Client, reg prometheus.Registerer) (*Domain, error) {
	stripeClient, err := pkgstripe.NewClient(ctx, cfg.Stripe, logg)
	if err != nil {
		return nil, fmt.Errorf("stripe client: %w", err)
	}
	processor, err := payments.NewStripeProcessor(stripeClient, cfg.Stripe.SuccessURL, cfg.Stripe.CancelURL)
	if err != nil {
		return nil, fmt.Errorf("stripe processor: %w", err)
	}

	var geocoder fees.Geocoder
	if cfg.GoogleMaps.APIKey != "" {
		mapsClient, err := maps.NewClient(cfg.GoogleMaps.APIKey)
		if err != nil {
			return nil, fmt.Errorf("maps client: %w", err)
		}
		geocoder = mapsClient
	} else {
		logg.Warn(ctx, "google maps api key not set; delivery fees use the flat base rate")
	}
	calculator := fees.NewCalculator(geocoder, fees.OriginFromConfig(cfg.Store), logg)

	gdb := dbClient.DB()
	outboxSvc := outbox.NewService(outbox.NewRepository(gdb), logg)
	payeeRepo := payees.NewRepository(gdb)
	catalogRepo := catalog.NewRepository(gdb)

	stock, err := inventory.NewLedger(catalogRepo, dbClient)
	if err != nil {
		return nil, fmt.Errorf("inventory ledger: %w", err)
	}

	engine, err := settlement.NewEngine(settlement.EngineParams{
		DB:        gdb,
		Tx:        dbClient,
		Outbox:    outboxSvc,
		Accounts:  payeeRepo,
		Transfers: processor,
		Metrics:   metrics.NewSettlementMetrics(reg),
		Logger:    logg,
		Config:    cfg.Settlement,
	})
	if err != nil {
		return nil, fmt.Errorf("settlement engine: %w", err)
	}

	orderSvc, err := orders.NewService(orders.ServiceParams{
		Repo:     orders.NewRepository(gdb),
		Tx:       dbClient,
		Outbox:   outboxSvc,
		Products: catalogRepo,
		Stock:    stock,
		Fees:     calculator,
		Sequence: orders.NewRedisSequence(redisClient),
		Settler:  engine,
		Logger:   logg,
		Pickup: types.Address{
			Street: cfg.Store.Street,
			City:   cfg.Store.City,
			State:  cfg.Store.State,
			Zip:    cfg.Store.Zip,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("orders service: %w", err)
	}

	paymentSvc, err := payments.NewService(payments.ServiceParams{
		Orders:     orderSvc,
		Processor:  processor,
		Logger:     logg,
		SessionTTL: cfg.Stripe.SessionTTL,
	})
	if err != nil {
		return nil, fmt.Errorf("payments service: %w", err)
	}

	deliverySvc, err := delivery.NewService(delivery.ServiceParams{
		Repo:    delivery.NewRepository(gdb),
		Tx:      dbClient,
		Outbox:  outboxSvc,
		Settler: engine,
		Orders:  orderSvc,
		Logger:  logg,
	})
	if err != nil {
		return nil, fmt.Errorf("delivery service: %w", err)
	}

	refundSvc, err := refunds.NewService(refunds.ServiceParams{
		Repo:      refunds.NewRepository(gdb),
		Tx:        dbClient,
		Outbox:    outboxSvc,
		Processor: processor,
		Logger:    logg,
	})
	if err != nil {
		return nil, fmt.Errorf("refunds service: %w", err)
	}

	return &Domain{
		Stripe:     stripeClient,
		Outbox:     outboxSvc,
		Payees:     payeeRepo,
		Fees:       calculator,
		Settlement: engine,
		Orders:     orderSvc,
		Payments:   paymentSvc,
		Deliveries: deliverySvc,
		Refunds:    refundSvc,
	}, nil
}
