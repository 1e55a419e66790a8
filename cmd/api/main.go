package main

import (
	"context"
	"net/http"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/snowskill/snowskill-backend/api/routes"
	"github.com/snowskill/snowskill-backend/internal/abuse"
	"github.com/snowskill/snowskill-backend/internal/affiliates"
	"github.com/snowskill/snowskill-backend/internal/botdefense"
	"github.com/snowskill/snowskill-backend/internal/coupons"
	"github.com/snowskill/snowskill-backend/internal/eventlog"
	"github.com/snowskill/snowskill-backend/internal/payments"
	"github.com/snowskill/snowskill-backend/internal/ratelimit"
	"github.com/snowskill/snowskill-backend/internal/subscriptions"
	"github.com/snowskill/snowskill-backend/internal/trials"
	"github.com/snowskill/snowskill-backend/internal/usercore"
	"github.com/snowskill/snowskill-backend/internal/users"
	pkgAuth "github.com/snowskill/snowskill-backend/pkg/auth"
	"github.com/snowskill/snowskill-backend/pkg/config"
	"github.com/snowskill/snowskill-backend/pkg/db"
	"github.com/snowskill/snowskill-backend/pkg/instance"
	"github.com/snowskill/snowskill-backend/pkg/logger"
	"github.com/snowskill/snowskill-backend/pkg/metrics"
	"github.com/snowskill/snowskill-backend/pkg/migrate"
	"github.com/snowskill/snowskill-backend/pkg/redis"
	"github.com/snowskill/snowskill-backend/pkg/stripe"
)

const stripeEventScope = "stripe-webhook"

func main() {
	logg := logger.New(logger.Options{ServiceName: "api"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: "api",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
		Format:      cfg.App.LogFormat,
	})
	ctx := context.Background()

	dbClient, err := db.New(ctx, cfg.DB, logg)
	requireResource(ctx, logg, "database", err)
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(ctx, "error closing database", err)
		}
	}()

	if err := migrate.MaybeRunDev(ctx, cfg, logg, dbClient); err != nil {
		logg.Error(ctx, "failed to run dev migrations", err)
		os.Exit(1)
	}

	deps := routes.Deps{DB: dbClient}

	var redisClient *redis.Client
	if cfg.Redis.Enabled() {
		redisClient, err = redis.New(ctx, cfg.Redis, logg)
		requireResource(ctx, logg, "redis", err)
		defer func() {
			if err := redisClient.Close(); err != nil {
				logg.Error(ctx, "error closing redis", err)
			}
		}()
		deps.Redis = redisClient
		deps.Idempotency = redisClient
	} else {
		logg.Warn(ctx, "redis not configured; rate limiting and idempotency are process-local")
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	deps.Metrics = promhttp.HandlerFor(registry, promhttp.HandlerOpts{})

	userRepo := users.NewRepository(dbClient.DB())
	couponRepo := coupons.NewRepository(dbClient.DB())
	paymentRepo := payments.NewRepository(dbClient.DB())
	eventRepo := eventlog.NewRepository(dbClient.DB())
	affiliateRepo := affiliates.NewRepository(dbClient.DB())

	supabaseClient, err := pkgAuth.NewSupabaseClient(cfg.Supabase)
	requireResource(ctx, logg, "supabase client", err)
	verifier, err := pkgAuth.NewVerifier(cfg.Supabase, supabaseClient)
	requireResource(ctx, logg, "token verifier", err)
	supabaseAdmin, err := pkgAuth.NewAdmin(supabaseClient)
	requireResource(ctx, logg, "supabase admin", err)
	deps.Verifier = verifier
	deps.Profiles = userRepo

	policy, err := abuse.NewPolicy(abuse.PolicyParams{
		Coupons: cfg.Coupons,
		Abuse:   cfg.Abuse,
		Usages:  couponRepo,
		Users:   userRepo,
		Events:  eventRepo,
	})
	requireResource(ctx, logg, "abuse policy", err)

	deps.Coupons, err = coupons.NewService(coupons.ServiceParams{
		Coupons:           couponRepo,
		Users:             userRepo,
		Payments:          paymentRepo,
		Events:            eventRepo,
		Policy:            policy,
		TransactionRunner: dbClient,
		Metrics:           metrics.NewCouponMetrics(registry),
		Config:            cfg.Coupons,
		Currency:          cfg.Payments.Currency,
		Logger:            logg,
	})
	requireResource(ctx, logg, "coupon service", err)

	deps.Subscriptions, err = subscriptions.NewService(userRepo, time.Now)
	requireResource(ctx, logg, "subscription service", err)

	deps.PlanGrants, err = subscriptions.NewGranter(subscriptions.GranterParams{
		Users:             userRepo,
		Events:            eventRepo,
		TransactionRunner: dbClient,
		Logger:            logg,
	})
	requireResource(ctx, logg, "plan granter", err)

	deps.Trials, err = trials.NewService(trials.ServiceParams{
		Users:             userRepo,
		Events:            eventRepo,
		TransactionRunner: dbClient,
		Logger:            logg,
	})
	requireResource(ctx, logg, "trial service", err)

	deps.Affiliates, err = affiliates.NewService(affiliates.ServiceParams{
		Partners:          affiliateRepo,
		Coupons:           couponRepo,
		Accounts:          supabaseAdmin,
		TransactionRunner: dbClient,
		Config:            cfg.Affiliate,
		Logger:            logg,
	})
	requireResource(ctx, logg, "affiliate service", err)

	var stripeClient *stripe.Client
	if cfg.Payments.ProviderName() == config.PaymentProviderStripe || cfg.Stripe.APIKey != "" {
		stripeClient, err = stripe.NewClient(ctx, cfg.Stripe, logg)
		requireResource(ctx, logg, "stripe client", err)
	}
	provider, err := payments.NewProvider(cfg.Payments, stripeClient)
	requireResource(ctx, logg, "payment provider", err)

	deps.Payments, err = payments.NewService(payments.ServiceParams{
		Payments:          paymentRepo,
		Users:             userRepo,
		Events:            eventRepo,
		Conversions:       deps.Affiliates,
		Provider:          provider,
		Human:             botdefense.NewTurnstile(cfg.Turnstile, logg),
		TransactionRunner: dbClient,
		Currency:          cfg.Payments.Currency,
		Logger:            logg,
	})
	requireResource(ctx, logg, "payment service", err)

	if stripeClient != nil && redisClient != nil {
		deps.StripeClient = stripeClient
		deps.StripeEvents, err = payments.NewStripeEvents(deps.Payments, logg)
		requireResource(ctx, logg, "stripe events", err)
		deps.StripeGuard, err = payments.NewEventGuard(redisClient, cfg.Stripe.IdempotentTTL, stripeEventScope)
		requireResource(ctx, logg, "stripe event guard", err)
	}

	var counter ratelimit.Counter
	if redisClient != nil {
		counter = redisClient
	}
	deps.Limiter = ratelimit.New(cfg.RateLimit, counter, logg)

	deps.UserCore, err = usercore.NewProxy(cfg.UserCore)
	requireResource(ctx, logg, "usercore proxy", err)

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	addr := ":" + port
	ctx = logg.WithFields(ctx, map[string]any{
		"env":      cfg.App.Env,
		"addr":     addr,
		"provider": provider.Name(),
		"instance": instance.GetID(),
	})
	logg.Info(ctx, "starting api server")

	server := &http.Server{
		Addr:              addr,
		Handler:           routes.NewRouter(cfg, logg, deps),
		ReadHeaderTimeout: 10 * time.Second,
	}

	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logg.Error(ctx, "api server stopped unexpectedly", err)
		os.Exit(1)
	}
}

func requireResource(ctx context.Context, logg *logger.Logger, resource string, err error) {
	if err == nil {
		return
	}
	logg.Error(ctx, "failed to bootstrap "+resource, err)
	os.Exit(1)
}
