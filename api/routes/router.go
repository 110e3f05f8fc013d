package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/angelmondragon/tenant-billing/api/controllers"
	callbackcontrollers "github.com/angelmondragon/tenant-billing/api/controllers/callbacks"
	catalogcontrollers "github.com/angelmondragon/tenant-billing/api/controllers/catalog"
	creditcontrollers "github.com/angelmondragon/tenant-billing/api/controllers/credits"
	"github.com/angelmondragon/tenant-billing/api/controllers/deadletters"
	paymentcontrollers "github.com/angelmondragon/tenant-billing/api/controllers/payments"
	subscriptioncontrollers "github.com/angelmondragon/tenant-billing/api/controllers/subscriptions"
	"github.com/angelmondragon/tenant-billing/api/middleware"
	"github.com/angelmondragon/tenant-billing/pkg/config"
	"github.com/angelmondragon/tenant-billing/pkg/enums"
	"github.com/angelmondragon/tenant-billing/pkg/logger"
	"github.com/angelmondragon/tenant-billing/pkg/redis"
)

// PaymentService is everything the payment routes need.
type PaymentService interface {
	paymentcontrollers.PaymentService
	paymentcontrollers.ReviewService
	callbackcontrollers.CallbackService
}

// Entitlements backs feature checks and metered consumption.
type Entitlements interface {
	subscriptioncontrollers.FeatureChecker
	creditcontrollers.Consumer
}

// Params collects the dependencies of the HTTP surface.
type Params struct {
	Config        *config.Config
	Logger        *logger.Logger
	Idempotency   redis.IdempotencyStore
	RateLimiter   middleware.RateLimitStore
	Gatherer      prometheus.Gatherer
	Readiness     map[string]controllers.Pinger
	Catalog       catalogcontrollers.CatalogService
	Payments      PaymentService
	Ledger        creditcontrollers.LedgerService
	Subscriptions subscriptioncontrollers.SubscriptionService
	Entitlements  Entitlements
	DeadLetters   deadletters.Store
}

func NewRouter(p Params) http.Handler {
	cfg, logg := p.Config, p.Logger
	gatherer := p.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	rl := cfg.RateLimit
	callbackLimit := middleware.RateLimit(middleware.NewRateLimitPolicy("callbacks", rl.Window, rl.CallbackIPLimit, 0), p.RateLimiter, logg)
	purchaseLimit := middleware.RateLimit(middleware.NewRateLimitPolicy("purchases", rl.Window, rl.PurchaseIPLimit, rl.PurchaseTenantLimit), p.RateLimiter, logg)

	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
		middleware.CORS(cfg.App.CORSAllowedOrigins),
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg.App.Env))
		r.Get("/ready", controllers.HealthReady(cfg.App.Env, p.Readiness, logg))
	})
	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/callbacks", func(r chi.Router) {
			r.Use(callbackLimit)
			r.Post("/square", callbackcontrollers.Webhook(enums.GatewaySquare, p.Payments, logg))
			r.Post("/stripe", callbackcontrollers.Webhook(enums.GatewayStripe, p.Payments, logg))
			r.Get("/{gateway}/return", callbackcontrollers.Return(p.Payments, logg))
		})

		r.Group(func(r chi.Router) {
			r.Use(middleware.Auth(cfg.JWT, logg))
			r.Use(middleware.Idempotency(p.Idempotency, logg))

			r.Group(func(r chi.Router) {
				r.Use(middleware.RequireTenant(logg))

				r.Get("/catalog/plans", catalogcontrollers.ListPlans(p.Catalog, logg))
				r.Get("/catalog/packages", catalogcontrollers.ListPackages(p.Catalog, logg))

				r.With(purchaseLimit).Post("/purchases", paymentcontrollers.Purchase(p.Payments, logg))
				r.Route("/payments", func(r chi.Router) {
					r.Get("/", paymentcontrollers.PaymentList(p.Payments, logg))
					r.Get("/{id}", paymentcontrollers.PaymentGet(p.Payments, logg))
					r.Post("/{id}/cancel", paymentcontrollers.PaymentCancel(p.Payments, logg))
					r.Post("/{id}/proof", paymentcontrollers.PaymentProof(p.Payments, logg))
				})

				r.Route("/credits", func(r chi.Router) {
					r.Get("/balance", creditcontrollers.Balance(p.Ledger, logg))
					r.Get("/transactions", creditcontrollers.Transactions(p.Ledger, logg))
					r.Post("/consume", creditcontrollers.Consume(p.Entitlements, logg))
				})

				r.Get("/subscription", subscriptioncontrollers.Current(p.Subscriptions, logg))
				r.Get("/features/{name}", subscriptioncontrollers.FeatureCheck(p.Entitlements, logg))
			})

			r.Route("/admin", func(r chi.Router) {
				r.Use(middleware.RequireRole(logg, enums.ActorRoleBillingAdmin))

				r.Route("/payments/{id}", func(r chi.Router) {
					r.Post("/approve", paymentcontrollers.AdminApprove(p.Payments, logg))
					r.Post("/reject", paymentcontrollers.AdminReject(p.Payments, logg))
					r.Get("/proof", paymentcontrollers.AdminProofURL(p.Payments, logg))
				})
				r.Post("/credits/adjust", creditcontrollers.AdminAdjust(p.Ledger, logg))
				r.Get("/credits/{tenantID}/verify", creditcontrollers.AdminVerify(p.Ledger, logg))
				r.Route("/subscriptions/{id}", func(r chi.Router) {
					r.Post("/cancel", subscriptioncontrollers.AdminCancel(p.Subscriptions, logg))
					r.Post("/suspend", subscriptioncontrollers.AdminSuspend(p.Subscriptions, logg))
					r.Get("/history", subscriptioncontrollers.AdminHistory(p.Subscriptions, logg))
				})
				if p.DeadLetters != nil {
					r.Get("/outbox/dead", deadletters.List(p.DeadLetters, logg))
					r.Post("/outbox/dead/{eventID}/requeue", deadletters.Requeue(p.DeadLetters, logg))
				}
				r.Route("/catalog", func(r chi.Router) {
					r.Post("/plans", catalogcontrollers.AdminCreatePlan(p.Catalog, logg))
					r.Post("/plans/{id}/retire", catalogcontrollers.AdminRetirePlan(p.Catalog, logg))
					r.Patch("/plans/{id}/price", catalogcontrollers.AdminUpdatePlanPrice(p.Catalog, logg))
					r.Post("/packages", catalogcontrollers.AdminCreatePackage(p.Catalog, logg))
					r.Post("/packages/{id}/retire", catalogcontrollers.AdminRetirePackage(p.Catalog, logg))
				})
			})
		})
	})

	return r
}
