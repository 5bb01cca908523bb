// Package app assembles the order and payment services shared by the API and
// the cron worker.
package app

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/angelmondragon/orderflow-backend/internal/cart"
	"github.com/angelmondragon/orderflow-backend/internal/catalog"
	"github.com/angelmondragon/orderflow-backend/internal/commission"
	"github.com/angelmondragon/orderflow-backend/internal/inventory"
	"github.com/angelmondragon/orderflow-backend/internal/orders"
	"github.com/angelmondragon/orderflow-backend/internal/payments"
	"github.com/angelmondragon/orderflow-backend/internal/reconciler"
	"github.com/angelmondragon/orderflow-backend/pkg/config"
	"github.com/angelmondragon/orderflow-backend/pkg/db"
	"github.com/angelmondragon/orderflow-backend/pkg/logger"
	"github.com/angelmondragon/orderflow-backend/pkg/metrics"
	"github.com/angelmondragon/orderflow-backend/pkg/outbox"
	pkgstripe "github.com/angelmondragon/orderflow-backend/pkg/stripe"
)

const stripeProvider = "stripe"

type Params struct {
	Config     *config.Config
	Logger     *logger.Logger
	DB         *db.Client
	Registerer prometheus.Registerer
}

type Services struct {
	Orders     orders.Service
	Payments   payments.Service
	Reconciler *reconciler.Reconciler
	Outbox     *outbox.Repository
	Stripe     *pkgstripe.Client
}

// Build wires repositories, the Stripe gateway and the services on top of
// one database client.
func Build(ctx context.Context, params Params) (*Services, error) {
	cfg, logg, dbClient := params.Config, params.Logger, params.DB
	if cfg == nil || logg == nil || dbClient == nil {
		return nil, fmt.Errorf("config, logger and database are required")
	}
	reg := params.Registerer
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	conn := dbClient.DB()

	rate, err := cfg.Commission.Rate()
	if err != nil {
		return nil, err
	}
	calc, err := commission.NewCalculator(rate)
	if err != nil {
		return nil, fmt.Errorf("commission calculator: %w", err)
	}

	stripeClient, err := pkgstripe.NewClient(ctx, cfg.Stripe, logg)
	if err != nil {
		return nil, fmt.Errorf("stripe client: %w", err)
	}
	paymentMetrics := metrics.NewPaymentMetrics(reg)
	gateway, err := payments.NewStripeGateway(stripeClient, paymentMetrics)
	if err != nil {
		return nil, fmt.Errorf("stripe gateway: %w", err)
	}

	outboxRepo := outbox.NewRepository(conn)
	emitter := outbox.NewService(outboxRepo, logg)
	catalogRepo := catalog.NewRepository(conn)

	ordersSvc, err := orders.NewService(orders.ServiceDeps{
		Repo:       orders.NewRepository(conn),
		Tx:         dbClient,
		Catalog:    catalogRepo,
		Carts:      cart.NewRepository(conn),
		Inventory:  inventory.NewLedger(),
		Commission: calc,
		Outbox:     emitter,
		Logger:     logg,
		Currency:   stripeClient.Currency(),
	})
	if err != nil {
		return nil, fmt.Errorf("orders service: %w", err)
	}

	paymentsSvc, err := payments.NewService(payments.ServiceDeps{
		Repo:               payments.NewRepository(conn),
		Tx:                 dbClient,
		Orders:             ordersSvc,
		Gateway:            gateway,
		Outbox:             emitter,
		Logger:             logg,
		Currency:           stripeClient.Currency(),
		CheckoutSuccessURL: cfg.Frontend.CheckoutSuccessURL(),
		CheckoutCancelURL:  cfg.Frontend.CheckoutCancelURL(),
	})
	if err != nil {
		return nil, fmt.Errorf("payments service: %w", err)
	}

	rec, err := reconciler.New(reconciler.Params{
		Verifier: payments.NewStripeVerifier(stripeClient.SigningSecret(), stripeClient.WebhookTolerance()),
		Parser:   payments.NewStripeParser(),
		Events:   reconciler.NewEventRepository(conn),
		Payments: paymentsSvc,
		Metrics:  paymentMetrics,
		Logger:   logg,
		Provider: stripeProvider,
	})
	if err != nil {
		return nil, fmt.Errorf("webhook reconciler: %w", err)
	}

	return &Services{
		Orders:     ordersSvc,
		Payments:   paymentsSvc,
		Reconciler: rec,
		Outbox:     outboxRepo,
		Stripe:     stripeClient,
	}, nil
}
