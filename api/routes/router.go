package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/humbertoham/wavestudio-sub000/api/controllers"
	webhookcontrollers "github.com/humbertoham/wavestudio-sub000/api/controllers/webhooks"
	"github.com/humbertoham/wavestudio-sub000/api/middleware"
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
	"github.com/humbertoham/wavestudio-sub000/pkg/redis"
)

// NewRouter mounts the studio API. redisClient and reg may be nil; without
// Redis the booking rate limit and Idempotency-Key replay are disabled, and
// without a registry /metrics is not mounted.
func NewRouter(
	cfg *config.Config,
	logg *logger.Logger,
	dbP db.Pinger,
	redisClient *redis.Client,
	reg *prometheus.Registry,
	bookingService bookings.Service,
	capacityService capacity.Service,
	ledgerService ledger.Service,
	paymentsService payments.Service,
	corporateService corporate.Service,
) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.AccessLog(logg, httpMetrics(reg)),
		middleware.CORS(cfg.HTTP.CORSOrigins),
	)

	bookingPolicy := middleware.NewRateLimitPolicy("booking", cfg.HTTP.BookingRateWindow, cfg.HTTP.BookingRateLimit)
	bookingLimit := middleware.RateLimit(bookingPolicy, nil, logg)
	idempotent := middleware.Idempotency(nil, logg)
	readyDeps := map[string]controllers.Pinger{"db": dbP}
	if redisClient != nil {
		bookingLimit = middleware.RateLimit(bookingPolicy, redisClient, logg)
		idempotent = middleware.Idempotency(redisClient, logg)
		readyDeps["redis"] = redisClient
	}

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, readyDeps))
	})
	if reg != nil {
		r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	}

	r.Route("/webhooks", func(r chi.Router) {
		r.Post("/payments", webhookcontrollers.PaymentNotification(paymentsService, logg))
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Identity(logg))

		r.Get("/me/balance", controllers.MyBalance(ledgerService, logg))
		r.Get("/me/ledger", controllers.MyLedger(ledgerService, logg))
		r.Get("/classes/{classID}/availability", controllers.ClassAvailability(capacityService, logg))
		r.With(bookingLimit, idempotent(middleware.ReplayWindowBooking)).Post("/classes/{classID}/bookings", controllers.BookClass(bookingService, logg))
		r.Post("/bookings/{bookingID}/cancel", controllers.CancelBooking(bookingService, logg))
		r.With(idempotent(middleware.ReplayWindowMoney)).Post("/checkout", controllers.Checkout(paymentsService, logg))

		r.Route("/admin", func(r chi.Router) {
			r.Use(middleware.RequireRole(logg, enums.RoleAdmin))

			r.With(idempotent(middleware.ReplayWindowMoney)).Post("/ledger/adjust", controllers.AdminAdjust(ledgerService, logg))
			r.With(idempotent(middleware.ReplayWindowMoney)).Post("/ledger/grant-pack", controllers.AdminGrantPack(ledgerService, logg))
			r.Post("/ledger/purchases/{purchaseID}/rebuild", controllers.AdminRebuildProjection(ledgerService, logg))

			r.Post("/bookings/{bookingID}/remove", controllers.AdminRemoveBooking(bookingService, logg))
			r.Post("/bookings/{bookingID}/attendance", controllers.AdminMarkAttendance(bookingService, logg))

			r.Put("/classes/{classID}/capacity", controllers.AdminUpdateCapacity(capacityService, logg))
			r.Post("/classes/{classID}/cancel", controllers.AdminCancelClass(bookingService, logg))

			r.Post("/payments/{paymentID}/preference", controllers.AdminAttachPreference(paymentsService, logg))
			r.Post("/webhooks/{logID}/replay", webhookcontrollers.AdminReplayWebhook(paymentsService, logg))

			r.Post("/corporate/users/{userID}/grant", controllers.AdminGrantCorporate(corporateService, logg))
		})
	})

	return r
}

func httpMetrics(reg *prometheus.Registry) *metrics.HTTPMetrics {
	if reg == nil {
		return nil
	}
	return metrics.NewHTTPMetrics(reg)
}
