package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/tokenmeter/tokenmeter/internal/analytics"
	"github.com/tokenmeter/tokenmeter/internal/api"
	"github.com/tokenmeter/tokenmeter/internal/auth"
	"github.com/tokenmeter/tokenmeter/internal/config"
	"github.com/tokenmeter/tokenmeter/internal/database"
	"github.com/tokenmeter/tokenmeter/internal/events"
	"github.com/tokenmeter/tokenmeter/internal/governance"
	"github.com/tokenmeter/tokenmeter/internal/governance/quota"
	mw "github.com/tokenmeter/tokenmeter/internal/middleware"
	imongo "github.com/tokenmeter/tokenmeter/internal/mongo"
	inats "github.com/tokenmeter/tokenmeter/internal/nats"
	"github.com/tokenmeter/tokenmeter/internal/plans"
	iredis "github.com/tokenmeter/tokenmeter/internal/redis"
	"github.com/tokenmeter/tokenmeter/internal/server"
)

func main() {
	if err := run(); err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	setupLogger(cfg.Log)

	if err := cfg.Validate(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	timeout := cfg.Store.Timeout
	health := map[string]api.HealthCheck{}

	// PostgreSQL
	pool, err := database.NewPostgresPool(ctx, cfg.DB, timeout)
	if err != nil {
		return err
	}
	defer pool.Close()
	health["postgres"] = func(ctx context.Context) error { return database.HealthCheck(ctx, pool) }

	if err := database.RunMigrations(cfg.DB.DSN(), cfg.DB.MigrationsPath); err != nil {
		return err
	}

	// Redis
	redisClient, err := iredis.NewClient(ctx, cfg.Redis, timeout)
	if err != nil {
		return err
	}
	defer redisClient.Close()
	health["redis"] = func(ctx context.Context) error { return redisClient.Ping(ctx).Err() }

	// Plan registry
	planSvc := plans.NewService(plans.NewRepository(redisClient), cfg.Plans.DefaultPlan)
	if err := planSvc.BootstrapDefaults(ctx); err != nil {
		return err
	}

	// Event log
	var store events.Store
	switch cfg.Events.Backend {
	case "mongo":
		mongoClient, mongoDB, err := imongo.NewClient(ctx, cfg.Mongo, timeout)
		if err != nil {
			return err
		}
		defer func() { _ = mongoClient.Disconnect(context.Background()) }()
		health["mongo"] = func(ctx context.Context) error { return imongo.HealthCheck(ctx, mongoClient) }

		mongoStore := events.NewMongoStore(mongoDB)
		if err := mongoStore.Migrate(ctx); err != nil {
			return err
		}
		store = mongoStore
	default:
		store = events.NewPostgresStore(pool)
	}
	eventSvc := events.NewService(store)
	slog.Info("event log ready", "backend", cfg.Events.Backend)

	// NATS (optional)
	var (
		natsClient    *inats.Client
		usagePub      events.UsagePublisher
		notifier      quota.Notifier
		eventConsumer *events.Consumer
	)
	if cfg.NATS.URL != "" {
		natsClient, err = inats.NewClient(ctx, cfg.NATS)
		if err != nil {
			return err
		}
		defer natsClient.Close()
		health["nats"] = func(context.Context) error {
			if !natsClient.Healthy() {
				return errors.New("nats disconnected")
			}
			return nil
		}

		publisher := inats.NewPublisher(natsClient.JetStream())
		usagePub = publisher
		notifier = publisher
		eventConsumer = events.NewConsumer(eventSvc, inats.NewConsumerManager(natsClient.JetStream()))
	} else {
		slog.Warn("NATS_URL not set: async ingestion and quota notifications disabled")
	}

	// Usage ledger and enforcement
	quotaSvc := quota.NewService(quota.NewPostgresLedger(pool), planSvc, eventSvc, notifier)

	// Handlers
	planHandler := plans.NewHandler(planSvc)
	usageHandler := governance.NewHandler(quotaSvc)
	eventHandler := events.NewHandler(eventSvc, usagePub)
	analyticsHandler := analytics.NewHandler(analytics.NewService(eventSvc))

	var verifier *auth.Verifier
	if cfg.Auth.JWTSecret != "" {
		verifier = auth.NewVerifier(cfg.Auth.JWTSecret)
	}
	limiter := mw.NewRateLimiter(redisClient, "ingest", cfg.RateLimit.Requests, cfg.RateLimit.WindowSec)

	// Router
	router := api.NewRouter(api.RouterConfig{
		CORSAllowedOrigins: cfg.Server.CORSAllowedOrigins,
		RequestTimeout:     timeout * 3,
		IngestRateLimiter:  limiter.Middleware,
		HealthChecks:       health,
	}, api.HandlerSet{
		CreatePlan: planHandler.Create,
		ListPlans:  planHandler.List,
		GetPlan:    planHandler.Get,
		UpdatePlan: planHandler.Update,
		DeletePlan: planHandler.Delete,

		OpenAccount:    usageHandler.OpenAccount,
		GetUsage:       usageHandler.GetUsage,
		UpdateUsage:    usageHandler.UpdateUsage,
		GetUsageStatus: usageHandler.GetStatus,
		ReconcileUsage: usageHandler.Reconcile,

		AppendEvent: eventHandler.Append,
		ListEvents:  eventHandler.List,
		ListModels:  eventHandler.Models,

		TokenUsage: analyticsHandler.TokenUsage,
		APICalls:   analyticsHandler.APICalls,
		UsageStats: analyticsHandler.UsageStats,

		AdminMiddleware: auth.RequireAdmin(verifier),
	})

	g, gctx := errgroup.WithContext(ctx)

	srv := server.New(cfg.Server, router)
	g.Go(func() error { return srv.Run(gctx) })

	if eventConsumer != nil {
		g.Go(func() error { return eventConsumer.Start(gctx) })
	}

	return g.Wait()
}

func setupLogger(cfg config.LogConfig) {
	var handler slog.Handler

	opts := &slog.HandlerOptions{}
	switch cfg.Level {
	case "debug":
		opts.Level = slog.LevelDebug
	case "info":
		opts.Level = slog.LevelInfo
	case "warn":
		opts.Level = slog.LevelWarn
	case "error":
		opts.Level = slog.LevelError
	default:
		opts.Level = slog.LevelInfo
	}

	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	slog.SetDefault(slog.New(handler))
}
