package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/humbertoham/wavestudio-sub000/api/routes"
	"github.com/humbertoham/wavestudio-sub000/internal/bookings"
	"github.com/humbertoham/wavestudio-sub000/internal/capacity"
	"github.com/humbertoham/wavestudio-sub000/internal/corporate"
	"github.com/humbertoham/wavestudio-sub000/internal/ledger"
	"github.com/humbertoham/wavestudio-sub000/internal/payments"
	"github.com/humbertoham/wavestudio-sub000/pkg/config"
	"github.com/humbertoham/wavestudio-sub000/pkg/db"
	"github.com/humbertoham/wavestudio-sub000/pkg/enums"
	"github.com/humbertoham/wavestudio-sub000/pkg/logger"
	"github.com/humbertoham/wavestudio-sub000/pkg/metrics"
	"github.com/humbertoham/wavestudio-sub000/pkg/migrate"
	"github.com/humbertoham/wavestudio-sub000/pkg/redis"
)

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
		Env:         cfg.App.Env,
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		Format:      cfg.App.LogFormat,
		WarnStack:   cfg.App.LogWarnStack,
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

	var redisClient *redis.Client
	if cfg.Redis.Enabled() {
		redisClient, err = redis.New(context.Background(), cfg.Redis, logg)
		if err != nil {
			logg.Error(context.Background(), "failed to bootstrap redis", err)
			os.Exit(1)
		}
		defer func() {
			if err := redisClient.Close(); err != nil {
				logg.Error(context.Background(), "error closing redis", err)
			}
		}()
	} else {
		logg.Warn(context.Background(), "redis disabled: rate limits, idempotency replay and delivery guard are off")
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	conn := dbClient.DB()
	capacityService, err := capacity.NewService(capacity.NewRepository(conn), dbClient)
	requireService(logg, "capacity", err)
	ledgerService, err := ledger.NewService(ledger.NewRepository(conn), dbClient)
	requireService(logg, "ledger", err)

	bookingService, err := bookings.NewService(bookings.ServiceParams{
		Repo:         bookings.NewRepository(conn),
		DB:           dbClient,
		Capacity:     capacityService,
		Ledger:       ledgerService,
		Logger:       logg,
		Metrics:      metrics.NewBookingMetrics(reg),
		CancelWindow: cfg.Booking.CancelWindow(),
	})
	requireService(logg, "bookings", err)

	paymentParams := payments.ServiceParams{
		Repo:             payments.NewRepository(conn),
		DB:               dbClient,
		Ledger:           ledgerService,
		Verifier:         payments.NewSignatureVerifier(cfg.Payments.WebhookSecret, cfg.Payments.SignatureMaxSkew),
		Logger:           logg,
		Metrics:          metrics.NewWebhookMetrics(reg),
		Provider:         cfg.Payments.Provider,
		Currency:         cfg.Payments.Currency,
		RequireSignature: cfg.Payments.RequireSignature,
	}
	if redisClient != nil {
		guard, err := payments.NewDeliveryGuard(redisClient, cfg.Payments.DeliveryGuardTTL, cfg.Payments.Provider)
		requireService(logg, "delivery guard", err)
		paymentParams.Guard = guard
	}
	paymentsService, err := payments.NewService(paymentParams)
	requireService(logg, "payments", err)

	corporateService, err := corporate.NewService(corporate.ServiceParams{
		Repo:   corporate.NewRepository(conn),
		DB:     dbClient,
		Ledger: ledgerService,
		Credits: map[enums.Affiliation]int{
			enums.AffiliationWellhub:   cfg.Corporate.WellhubCredits,
			enums.AffiliationTotalpass: cfg.Corporate.TotalpassCredits,
		},
		Logger: logg,
	})
	requireService(logg, "corporate", err)

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	addr := ":" + port
	ctx := logg.WithFields(context.Background(), map[string]any{
		"env":  cfg.App.Env,
		"addr": addr,
	})
	logg.Info(ctx, "starting api server")

	server := &http.Server{
		Addr:         addr,
		Handler:      routes.NewRouter(cfg, logg, dbClient, redisClient, reg, bookingService, capacityService, ledgerService, paymentsService, corporateService),
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
	}

	sigCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			logg.Error(ctx, "api server stopped unexpectedly", err)
			os.Exit(1)
		}
	case <-sigCtx.Done():
		logg.Info(ctx, "shutting down api server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logg.Error(ctx, "graceful shutdown failed", err)
		}
	}
}

func requireService(logg *logger.Logger, name string, err error) {
	if err == nil {
		return
	}
	logg.Error(logg.WithField(context.Background(), "service", name), "failed to create service", err)
	os.Exit(1)
}
