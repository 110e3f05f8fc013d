package bootstrap

import (
	"context"
	"fmt"

	"github.com/angelmondragon/tenant-billing/internal/catalog"
	"github.com/angelmondragon/tenant-billing/internal/entitlements"
	"github.com/angelmondragon/tenant-billing/internal/invoices"
	"github.com/angelmondragon/tenant-billing/internal/ledger"
	"github.com/angelmondragon/tenant-billing/internal/payments"
	"github.com/angelmondragon/tenant-billing/internal/settlement"
	"github.com/angelmondragon/tenant-billing/internal/subscriptions"
	"github.com/angelmondragon/tenant-billing/pkg/config"
	"github.com/angelmondragon/tenant-billing/pkg/db"
	"github.com/angelmondragon/tenant-billing/pkg/logger"
	"github.com/angelmondragon/tenant-billing/pkg/metrics"
	"github.com/angelmondragon/tenant-billing/pkg/outbox"
	"github.com/angelmondragon/tenant-billing/pkg/redis"
	"github.com/angelmondragon/tenant-billing/pkg/square"
	"github.com/angelmondragon/tenant-billing/pkg/storage/gcs"
	"github.com/angelmondragon/tenant-billing/pkg/stripe"
)

// Params are the process-level clients the billing services are built on.
// Proofs is optional; without it offline payments accept references only.
type Params struct {
	Config  *config.Config
	Logger  *logger.Logger
	DB      *db.Client
	Redis   *redis.Client
	Proofs  *gcs.Client
	Metrics *metrics.BillingMetrics
}

// Services is the wired billing core shared by the api and cron binaries.
type Services struct {
	Catalog       catalog.Service
	CatalogRepo   catalog.Repository
	Ledger        ledger.Service
	LedgerRepo    ledger.Repository
	Subscriptions subscriptions.Service
	Invoices      invoices.Service
	Settlement    *settlement.Service
	Payments      *payments.Service
	Entitlements  *entitlements.Service
	Outbox        *outbox.Service
	OutboxRepo    *outbox.Repository
}

// NewServices builds every billing service in dependency order. Hosted
// gateways are registered only when their feature flag is on.
func NewServices(ctx context.Context, p Params) (*Services, error) {
	if p.Config == nil || p.DB == nil || p.Redis == nil {
		return nil, fmt.Errorf("config, db and redis are required")
	}
	cfg, conn := p.Config, p.DB.DB()
	if p.Metrics == nil {
		return nil, fmt.Errorf("billing metrics required")
	}

	outboxRepo := outbox.NewRepository(conn)
	emitter := outbox.NewService(outboxRepo, p.Logger)

	catalogRepo := catalog.NewRepository(conn)
	catalogSvc, err := catalog.NewService(catalogRepo, cfg.Billing.Currency)
	if err != nil {
		return nil, fmt.Errorf("catalog service: %w", err)
	}

	ledgerRepo := ledger.NewRepository(conn)
	ledgerSvc, err := ledger.NewService(ledger.ServiceParams{
		Repo:    ledgerRepo,
		Tx:      p.DB,
		Logger:  p.Logger,
		Metrics: p.Metrics,
	})
	if err != nil {
		return nil, fmt.Errorf("ledger service: %w", err)
	}

	subs, err := subscriptions.NewService(subscriptions.ServiceParams{
		Repo:   subscriptions.NewRepository(conn),
		Plans:  catalogRepo,
		Tx:     p.DB,
		Outbox: emitter,
		Logger: p.Logger,
	})
	if err != nil {
		return nil, fmt.Errorf("subscription service: %w", err)
	}

	invoiceSvc, err := invoices.NewService(invoices.ServiceParams{
		Repo:        invoices.NewRepository(conn),
		Outbox:      emitter,
		CompanyName: cfg.Billing.InvoiceCompany,
		TaxID:       cfg.Billing.InvoiceTaxID,
	})
	if err != nil {
		return nil, fmt.Errorf("invoice service: %w", err)
	}

	paymentRepo := payments.NewRepository(conn)
	settler, err := settlement.NewService(settlement.ServiceParams{
		Payments:      paymentRepo,
		Packages:      catalogRepo,
		Tx:            p.DB,
		Ledger:        ledgerSvc,
		Subscriptions: subs,
		Invoices:      invoiceSvc,
		Outbox:        emitter,
		Logger:        p.Logger,
		Metrics:       p.Metrics,
	})
	if err != nil {
		return nil, fmt.Errorf("settlement service: %w", err)
	}

	registry, err := newGatewayRegistry(ctx, cfg, p.Logger)
	if err != nil {
		return nil, err
	}
	guard, err := payments.NewCallbackGuard(p.Redis, cfg.Billing.IdempotencyTTL)
	if err != nil {
		return nil, fmt.Errorf("callback guard: %w", err)
	}

	paymentParams := payments.ServiceParams{
		Repo:           paymentRepo,
		Tx:             p.DB,
		Catalog:        catalogSvc,
		Subscriptions:  subs,
		Gateways:       registry,
		Settler:        settler,
		Guard:          guard,
		Logger:         p.Logger,
		Metrics:        p.Metrics,
		GatewayTimeout: cfg.Billing.GatewayTimeout,
		SuccessURL:     cfg.Billing.SuccessURL,
		FailureURL:     cfg.Billing.FailureURL,
	}
	if p.Proofs != nil {
		paymentParams.Proofs = p.Proofs
	}
	paymentSvc, err := payments.NewService(paymentParams)
	if err != nil {
		return nil, fmt.Errorf("payment service: %w", err)
	}

	ent, err := entitlements.NewService(subs, ledgerSvc, p.Logger)
	if err != nil {
		return nil, fmt.Errorf("entitlement service: %w", err)
	}

	return &Services{
		Catalog:       catalogSvc,
		CatalogRepo:   catalogRepo,
		Ledger:        ledgerSvc,
		LedgerRepo:    ledgerRepo,
		Subscriptions: subs,
		Invoices:      invoiceSvc,
		Settlement:    settler,
		Payments:      paymentSvc,
		Entitlements:  ent,
		Outbox:        emitter,
		OutboxRepo:    outboxRepo,
	}, nil
}

func newGatewayRegistry(ctx context.Context, cfg *config.Config, logg *logger.Logger) (*payments.Registry, error) {
	registry := payments.NewRegistry(payments.ManualGateway{})
	if cfg.FeatureFlags.EnableSquare {
		client, err := square.NewClient(ctx, cfg.Square, logg)
		if err != nil {
			return nil, fmt.Errorf("square client: %w", err)
		}
		registry.Register(payments.NewSquareGateway(client, cfg.App.PublicBaseURL))
	}
	if cfg.FeatureFlags.EnableStripe {
		client, err := stripe.NewClient(ctx, cfg.Stripe, logg)
		if err != nil {
			return nil, fmt.Errorf("stripe client: %w", err)
		}
		registry.Register(payments.NewStripeGateway(client, cfg.App.PublicBaseURL))
	}
	return registry, nil
}
