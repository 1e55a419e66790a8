package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/snowskill/snowskill-backend/api/controllers"
	affiliatecontrollers "github.com/snowskill/snowskill-backend/api/controllers/affiliates"
	couponcontrollers "github.com/snowskill/snowskill-backend/api/controllers/coupons"
	croncontrollers "github.com/snowskill/snowskill-backend/api/controllers/cron"
	paymentcontrollers "github.com/snowskill/snowskill-backend/api/controllers/payments"
	subscriptioncontrollers "github.com/snowskill/snowskill-backend/api/controllers/subscriptions"
	usercorecontrollers "github.com/snowskill/snowskill-backend/api/controllers/usercore"
	webhookcontrollers "github.com/snowskill/snowskill-backend/api/controllers/webhooks"
	"github.com/snowskill/snowskill-backend/api/middleware"
	"github.com/snowskill/snowskill-backend/internal/affiliates"
	"github.com/snowskill/snowskill-backend/internal/coupons"
	"github.com/snowskill/snowskill-backend/internal/payments"
	"github.com/snowskill/snowskill-backend/internal/subscriptions"
	"github.com/snowskill/snowskill-backend/internal/trials"
	"github.com/snowskill/snowskill-backend/internal/usercore"
	pkgAuth "github.com/snowskill/snowskill-backend/pkg/auth"
	"github.com/snowskill/snowskill-backend/pkg/config"
	"github.com/snowskill/snowskill-backend/pkg/logger"
	pkgredis "github.com/snowskill/snowskill-backend/pkg/redis"
	"github.com/snowskill/snowskill-backend/pkg/stripe"
)

// Deps carries everything the router wires. Routes whose optional
// dependencies are nil are not mounted.
type Deps struct {
	DB          controllers.Pinger
	Redis       controllers.Pinger
	Idempotency pkgredis.IdempotencyStore
	Verifier    pkgAuth.Verifier
	Profiles    middleware.ProfileStore
	Limiter     middleware.RateLimiter

	Coupons       coupons.Service
	Subscriptions subscriptions.Service
	PlanGrants    subscriptions.Granter
	Trials        trials.Service
	Affiliates    affiliates.Service
	Payments      payments.Service
	UserCore      *usercore.Proxy

	StripeClient *stripe.Client
	StripeEvents *payments.StripeEvents
	StripeGuard  *payments.EventGuard

	Metrics http.Handler
}

func NewRouter(cfg *config.Config, logg *logger.Logger, deps Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
		middleware.CORS(cfg.App.CORSOrigins),
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, deps.DB, deps.Redis))
	})
	if deps.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", deps.Metrics)
	}

	requireAuth := middleware.Auth(deps.Verifier, deps.Profiles, logg)
	optionalAuth := middleware.OptionalAuth(deps.Verifier, deps.Profiles, logg)
	// replay is keyed by caller, so it always sits behind requireAuth
	idem := middleware.Idempotency(deps.Idempotency, logg)

	r.Route("/api", func(r chi.Router) {
		r.Use(middleware.RateLimit(deps.Limiter, logg))

		r.Get("/ping", controllers.PublicPing())

		r.Route("/coupons", func(r chi.Router) {
			// Coupon routes answer 401 in their own contract body.
			r.Use(optionalAuth)
			r.Post("/redeem", couponcontrollers.Redeem(deps.Coupons, logg))
			r.Post("/validate", couponcontrollers.Validate(deps.Coupons, logg))
		})

		r.Route("/cron", func(r chi.Router) {
			r.Get("/expire-trials", croncontrollers.ExpireTrials(deps.Trials, cfg.Cron.Secret, logg))
			r.Post("/quarterly-settlement", croncontrollers.QuarterlySettlement(deps.Affiliates, cfg.Cron.Secret, logg))
		})

		r.Route("/payments", func(r chi.Router) {
			r.With(requireAuth, idem).Post("/checkout", paymentcontrollers.Checkout(deps.Payments, logg))
			r.With(requireAuth).Get("/status", paymentcontrollers.Status(deps.Payments, logg))
			r.Post("/webhook", paymentcontrollers.Webhook(deps.Payments, cfg.Payments.WebhookSecret, cfg.Payments.ProviderName(), logg))
			if deps.StripeClient != nil && deps.StripeEvents != nil && deps.StripeGuard != nil {
				r.Post("/stripe/webhook", webhookcontrollers.StripeWebhook(deps.StripeEvents, deps.StripeClient, deps.StripeGuard, logg))
			}
		})

		if deps.UserCore != nil {
			r.Route("/usercore", func(r chi.Router) {
				r.Get("/proxy", usercorecontrollers.Proxy(deps.UserCore, logg))
				r.Post("/proxy", usercorecontrollers.Proxy(deps.UserCore, logg))
				r.HandleFunc("/*", usercorecontrollers.Passthrough(deps.UserCore, logg))
			})
		}

		r.Group(func(r chi.Router) {
			r.Use(requireAuth)
			r.Get("/me/ping", controllers.PrivatePing())
			r.Get("/subscription/status", subscriptioncontrollers.Status(deps.Subscriptions, logg))
			r.Get("/affiliate/dashboard", affiliatecontrollers.Dashboard(deps.Affiliates, logg))
		})

		r.Route("/admin", func(r chi.Router) {
			r.Use(requireAuth)
			r.Use(middleware.RequireAdmin(logg))
			r.Get("/commissions", affiliatecontrollers.AdminListCommissions(deps.Affiliates, logg))
			r.With(idem).Patch("/commissions", affiliatecontrollers.AdminMarkCommissionsPaid(deps.Affiliates, logg))
			r.Get("/affiliates", affiliatecontrollers.AdminListPartners(deps.Affiliates, logg))
			r.With(idem).Post("/affiliates", affiliatecontrollers.AdminCreatePartner(deps.Affiliates, logg))
			r.With(idem).Post("/subscription", subscriptioncontrollers.AdminGrant(deps.PlanGrants, logg))
		})
	})

	return r
}
