package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/angelmondragon/tenant-billing/internal/bootstrap"
	"github.com/angelmondragon/tenant-billing/internal/cron"
	"github.com/angelmondragon/tenant-billing/pkg/config"
	"github.com/angelmondragon/tenant-billing/pkg/db"
	"github.com/angelmondragon/tenant-billing/pkg/instance"
	"github.com/angelmondragon/tenant-billing/pkg/logger"
	"github.com/angelmondragon/tenant-billing/pkg/metrics"
	"github.com/angelmondragon/tenant-billing/pkg/migrate"
	"github.com/angelmondragon/tenant-billing/pkg/redis"
)

const lockKeyFormat = "cron-worker:%s"

func main() {
	logg := logger.New(logger.Options{ServiceName: "cron-worker"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: "cron-worker",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
		Format:      cfg.App.LogFormat,
	})

	dbClient, err := db.New(context.Background(), cfg.DB, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap database", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing database", err)
		}
	}()

	if err := migrate.MaybeRunDev(context.Background(), cfg, logg, dbClient); err != nil {
		logg.Error(context.Background(), "failed to run dev migrations", err)
		os.Exit(1)
	}

	redisClient, err := redis.New(context.Background(), cfg.Redis, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap redis", err)
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing redis", err)
		}
	}()

	services, err := bootstrap.NewServices(context.Background(), bootstrap.Params{
		Config:  cfg,
		Logger:  logg,
		DB:      dbClient,
		Redis:   redisClient,
		Metrics: metrics.NewBillingMetrics(prometheus.DefaultRegisterer),
	})
	if err != nil {
		logg.Error(context.Background(), "failed to build billing services", err)
		os.Exit(1)
	}

	registry, err := buildRegistry(cfg, logg, dbClient, services)
	if err != nil {
		logg.Error(context.Background(), "failed to register cron jobs", err)
		os.Exit(1)
	}

	lock, err := cron.NewRedisLock(redisClient, redisClient.LockKey(fmt.Sprintf(lockKeyFormat, envOrLocal(cfg.App.Env))), instance.GetID(), cfg.Cron.LockTTL)
	if err != nil {
		logg.Error(context.Background(), "failed to create cron lock", err)
		os.Exit(1)
	}

	service, err := cron.NewService(cron.ServiceParams{
		Logger:   logg,
		Registry: registry,
		Lock:     lock,
		Metrics:  metrics.NewCronJobMetrics(prometheus.DefaultRegisterer),
		Schedule: cfg.Cron.Schedule,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create cron service", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":      cfg.App.Env,
		"instance": instance.GetID(),
		"jobs":     len(registry.Jobs()),
	})
	logg.Info(ctx, "starting cron worker")

	if err := service.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "cron worker stopped unexpectedly", err)
		os.Exit(1)
	}

	logg.Info(ctx, "cron worker shutting down gracefully")
}

func buildRegistry(cfg *config.Config, logg *logger.Logger, dbClient *db.Client, services *bootstrap.Services) (*cron.Registry, error) {
	subParams := cron.SubscriptionJobParams{
		Logger:        logg,
		Subscriptions: services.Subscriptions,
		Limit:         cfg.Billing.SweepBatchLimit,
		Lead:          cfg.Billing.ExpiryLeadTime,
	}
	expiry, err := cron.NewSubscriptionExpiryJob(subParams)
	if err != nil {
		return nil, err
	}
	warning, err := cron.NewSubscriptionExpiryWarningJob(subParams)
	if err != nil {
		return nil, err
	}
	lowBalance, err := cron.NewLowBalanceJob(cron.LowBalanceJobParams{
		Logger:    logg,
		DB:        dbClient,
		Balances:  services.LedgerRepo,
		Outbox:    services.Outbox,
		Threshold: cfg.Billing.LowBalance,
		Limit:     cfg.Billing.SweepBatchLimit,
	})
	if err != nil {
		return nil, err
	}
	pending, err := cron.NewPendingPaymentJob(cron.PendingPaymentJobParams{
		Logger:   logg,
		Payments: services.Payments,
		MaxAge:   cfg.Billing.PendingMaxAge,
		Limit:    cfg.Billing.SweepBatchLimit,
	})
	if err != nil {
		return nil, err
	}
	retention, err := cron.NewOutboxRetentionJob(cron.OutboxRetentionJobParams{
		Logger:     logg,
		Repository: services.OutboxRepo,
		Retention:  cfg.Outbox.Retention,
	})
	if err != nil {
		return nil, err
	}
	return cron.NewRegistry(expiry, warning, lowBalance, pending, retention), nil
}

func envOrLocal(env string) string {
	if env == "" {
		return "local"
	}
	return env
}
