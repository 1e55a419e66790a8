package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/snowskill/snowskill-backend/internal/affiliates"
	"github.com/snowskill/snowskill-backend/internal/coupons"
	"github.com/snowskill/snowskill-backend/internal/cron"
	"github.com/snowskill/snowskill-backend/internal/eventlog"
	"github.com/snowskill/snowskill-backend/internal/trials"
	"github.com/snowskill/snowskill-backend/internal/users"
	"github.com/snowskill/snowskill-backend/pkg/config"
	"github.com/snowskill/snowskill-backend/pkg/db"
	"github.com/snowskill/snowskill-backend/pkg/instance"
	"github.com/snowskill/snowskill-backend/pkg/logger"
	"github.com/snowskill/snowskill-backend/pkg/metrics"
	"github.com/snowskill/snowskill-backend/pkg/migrate"
	"github.com/snowskill/snowskill-backend/pkg/redis"
)

const serviceName = "cron-worker"

type options struct {
	job  string
	once bool
}

func main() {
	var opts options
	flag.StringVar(&opts.job, "job", "", "run one job by name and exit: "+cron.JobExpireTrials+"|"+cron.JobQuarterlySettlement)
	flag.BoolVar(&opts.once, "once", false, "run every job once and exit")
	flag.Parse()

	_ = godotenv.Load()
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s: load config: %v\n", serviceName, err)
		os.Exit(1)
	}
	cfg.Service.Kind = serviceName

	logg := logger.New(logger.Options{
		ServiceName: serviceName,
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
		Format:      cfg.App.LogFormat,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":         cfg.App.Env,
		"serviceKind": cfg.Service.Kind,
		"instance":    instance.GetID(),
	})

	if err := run(ctx, cfg, logg, opts); err != nil {
		logg.Error(ctx, "cron worker failed", err)
		stop()
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logg *logger.Logger, opts options) error {
	dbClient, err := db.New(ctx, cfg.DB, logg)
	if err != nil {
		return fmt.Errorf("bootstrap database: %w", err)
	}
	defer closeQuietly(ctx, logg, "database", dbClient.Close)

	if err := migrate.MaybeRunDev(ctx, cfg, logg, dbClient); err != nil {
		return fmt.Errorf("dev migrations: %w", err)
	}

	lock, closeLock, err := buildLock(ctx, cfg, logg)
	if err != nil {
		return err
	}
	defer closeLock()

	registry, err := buildJobs(cfg, logg, dbClient)
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	service, err := cron.NewService(cron.ServiceParams{
		Logger:   logg,
		Registry: registry,
		Lock:     lock,
		Metrics:  metrics.NewCronJobMetrics(reg),
		Interval: cfg.Cron.Interval,
	})
	if err != nil {
		return fmt.Errorf("cron service: %w", err)
	}

	switch {
	case opts.job != "":
		return service.RunJob(ctx, opts.job)
	case opts.once:
		return service.RunOnce(ctx)
	}

	if cfg.Cron.MetricsAddr != "" {
		go serveMetrics(ctx, cfg.Cron.MetricsAddr, reg, logg)
	}

	logg.Info(ctx, fmt.Sprintf("cron worker started (every %s)", cfg.Cron.Interval))
	if err := service.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logg.Info(ctx, "cron worker shut down")
	return nil
}

// buildLock uses a Redis lease when Redis is configured. Without it a single
// worker replica is assumed.
func buildLock(ctx context.Context, cfg *config.Config, logg *logger.Logger) (cron.Lock, func(), error) {
	if !cfg.Redis.Enabled() {
		logg.Warn(ctx, "redis not configured; cron runs without a distributed lock")
		return cron.NoopLock{}, func() {}, nil
	}
	client, err := redis.New(ctx, cfg.Redis, logg)
	if err != nil {
		return nil, nil, fmt.Errorf("bootstrap redis: %w", err)
	}
	closeFn := func() { closeQuietly(ctx, logg, "redis", client.Close) }

	env := cfg.App.Env
	if env == "" {
		env = "local"
	}
	lock, err := cron.NewRedisLock(client, client.LockKey(serviceName+":"+env), cfg.Cron.LockTTL)
	if err != nil {
		closeFn()
		return nil, nil, fmt.Errorf("cron lock: %w", err)
	}
	return lock, closeFn, nil
}

func buildJobs(cfg *config.Config, logg *logger.Logger, dbClient *db.Client) (*cron.Registry, error) {
	trialService, err := trials.NewService(trials.ServiceParams{
		Users:             users.NewRepository(dbClient.DB()),
		Events:            eventlog.NewRepository(dbClient.DB()),
		TransactionRunner: dbClient,
		Logger:            logg,
	})
	if err != nil {
		return nil, fmt.Errorf("trial service: %w", err)
	}
	affiliateService, err := affiliates.NewService(affiliates.ServiceParams{
		Partners:          affiliates.NewRepository(dbClient.DB()),
		Coupons:           coupons.NewRepository(dbClient.DB()),
		TransactionRunner: dbClient,
		Config:            cfg.Affiliate,
		Logger:            logg,
	})
	if err != nil {
		return nil, fmt.Errorf("affiliate service: %w", err)
	}

	expire, err := cron.NewExpireTrialsJob(trialService, logg)
	if err != nil {
		return nil, err
	}
	settle, err := cron.NewSettlementJob(affiliateService, logg)
	if err != nil {
		return nil, err
	}
	return cron.NewRegistry(expire, settle)
}

func serveMetrics(ctx context.Context, addr string, reg *prometheus.Registry, logg *logger.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logg.Info(ctx, "metrics listening on "+addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logg.Error(ctx, "metrics server stopped", err)
	}
}

func closeQuietly(ctx context.Context, logg *logger.Logger, what string, closeFn func() error) {
	if err := closeFn(); err != nil {
		logg.Error(ctx, "closing "+what, err)
	}
}
