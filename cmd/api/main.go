package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/angelmondragon/pharmalink-backend/api"
	"github.com/angelmondragon/pharmalink-backend/api/routes"
	"github.com/angelmondragon/pharmalink-backend/internal/cart"
	"github.com/angelmondragon/pharmalink-backend/internal/checkout"
	"github.com/angelmondragon/pharmalink-backend/internal/drugs"
	"github.com/angelmondragon/pharmalink-backend/internal/notifications"
	"github.com/angelmondragon/pharmalink-backend/internal/orders"
	"github.com/angelmondragon/pharmalink-backend/internal/stock"
	"github.com/angelmondragon/pharmalink-backend/internal/users"
	"github.com/angelmondragon/pharmalink-backend/pkg/config"
	"github.com/angelmondragon/pharmalink-backend/pkg/db"
	"github.com/angelmondragon/pharmalink-backend/pkg/instance"
	"github.com/angelmondragon/pharmalink-backend/pkg/logger"
	"github.com/angelmondragon/pharmalink-backend/pkg/metrics"
	"github.com/angelmondragon/pharmalink-backend/pkg/migrate"
	"github.com/angelmondragon/pharmalink-backend/pkg/outbox"
	"github.com/angelmondragon/pharmalink-backend/pkg/redis"
)

const shutdownGrace = 15 * time.Second

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
		Level:       cfg.App.LogLevel,
		WarnStack:   cfg.App.LogWarnStack,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	dbClient, err := db.New(ctx, cfg.DB, logg)
	if err != nil {
		logg.Error(ctx, "failed to bootstrap database", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing database", err)
		}
	}()

	if err := migrate.MaybeRunDev(ctx, cfg, logg, dbClient); err != nil {
		logg.Error(ctx, "failed to run dev migrations", err)
		os.Exit(1)
	}

	redisClient, err := redis.New(ctx, cfg.Redis, logg)
	if err != nil {
		logg.Error(ctx, "failed to bootstrap redis", err)
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing redis", err)
		}
	}()

	deps, err := buildDeps(cfg, logg, dbClient, redisClient)
	if err != nil {
		logg.Error(ctx, "failed to wire services", err)
		os.Exit(1)
	}

	server := api.NewServer(cfg, os.Getenv("PORT"), routes.NewRouter(deps))
	serverCtx := logg.WithFields(ctx, map[string]any{
		"env":      cfg.App.Env,
		"addr":     server.Addr,
		"instance": instance.GetID("local"),
	})

	errCh := make(chan error, 1)
	go func() {
		logg.Info(serverCtx, "starting api server")
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logg.Error(serverCtx, "api server stopped unexpectedly", err)
			os.Exit(1)
		}
	case <-ctx.Done():
		logg.Info(serverCtx, "shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logg.Error(serverCtx, "graceful shutdown failed", err)
		}
	}
}

func buildDeps(cfg *config.Config, logg *logger.Logger, dbClient *db.Client, redisClient *redis.Client) (routes.Deps, error) {
	gormDB := dbClient.DB()
	orderMetrics := metrics.NewOrderMetrics(prometheus.DefaultRegisterer)

	drugRepo := drugs.NewRepository(gormDB)
	cartRepo := cart.NewRepository(gormDB)
	ordersRepo := orders.NewRepository(gormDB)
	ledger := stock.NewLedger(gormDB)

	dispatcher, err := notifications.NewOutboxDispatcher(dbClient, outbox.NewService(outbox.NewRepository(gormDB), logg), logg)
	if err != nil {
		return routes.Deps{}, err
	}

	cartService, err := cart.NewService(cartRepo, dbClient, drugRepo)
	if err != nil {
		return routes.Deps{}, err
	}

	checkoutService, err := checkout.NewService(
		dbClient,
		cartRepo,
		cartService,
		drugRepo,
		ledger,
		users.NewRepository(gormDB),
		ordersRepo,
		orders.NewNumberGenerator(redisClient, logg),
		dispatcher,
		orderMetrics,
		logg,
	)
	if err != nil {
		return routes.Deps{}, err
	}

	ordersService, err := orders.NewService(ordersRepo, dbClient, ledger, dispatcher, orderMetrics, logg)
	if err != nil {
		return routes.Deps{}, err
	}

	notificationsService, err := notifications.NewService(notifications.NewRepository(gormDB))
	if err != nil {
		return routes.Deps{}, err
	}

	return routes.Deps{
		Config:        cfg,
		Logger:        logg,
		DB:            dbClient,
		Redis:         redisClient,
		Idempotency:   redisClient,
		Gatherer:      prometheus.DefaultGatherer,
		Cart:          cartService,
		Checkout:      checkoutService,
		Orders:        ordersService,
		Notifications: notificationsService,
	}, nil
}
