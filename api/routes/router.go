package routes

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/angelmondragon/eventpay-backend/api/controllers"
	paymentcontrollers "github.com/angelmondragon/eventpay-backend/api/controllers/payments"
	webhookcontrollers "github.com/angelmondragon/eventpay-backend/api/controllers/webhooks"
	"github.com/angelmondragon/eventpay-backend/api/middleware"
	"github.com/angelmondragon/eventpay-backend/internal/payments"
	"github.com/angelmondragon/eventpay-backend/pkg/config"
	"github.com/angelmondragon/eventpay-backend/pkg/db"
	"github.com/angelmondragon/eventpay-backend/pkg/enums"
	"github.com/angelmondragon/eventpay-backend/pkg/logger"
	"github.com/angelmondragon/eventpay-backend/pkg/redis"
)

// RedisStore is the Redis surface the HTTP layer needs.
type RedisStore interface {
	middleware.IdempotencyStore
	redis.Pinger
	FixedWindowAllow(ctx context.Context, scope string, limit int64, window time.Duration) (bool, int64, error)
}

type tossWebhookGuard interface {
	CheckAndMark(ctx context.Context, deliveryID string) (bool, error)
	Delete(ctx context.Context, deliveryID string) error
}

// Deps carries everything the router hands to controllers.
type Deps struct {
	Config           *config.Config
	Logger           *logger.Logger
	DB               db.Pinger
	Redis            RedisStore
	Payments         payments.Service
	TossWebhook      webhookcontrollers.TossWebhookService
	TossWebhookGuard tossWebhookGuard
	// Gatherer backs /metrics; the route is not mounted when nil.
	Gatherer prometheus.Gatherer
}

func NewRouter(d Deps) http.Handler {
	cfg := d.Config
	logg := d.Logger

	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
		middleware.CORS(cfg.CORS.AllowedOrigins),
	)

	var rateStore RedisStore
	if cfg.FeatureFlags.ConfirmRateLimit {
		rateStore = d.Redis
	}
	confirmPolicy := middleware.NewRateLimitPolicy("confirm", cfg.Payments.ConfirmWindow, int(cfg.Payments.ConfirmLimit))
	confirmLimit := middleware.RateLimit(confirmPolicy, rateStore, logg)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, readinessChecks(d)))
	})

	if d.Gatherer != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(d.Gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/api/v1/webhooks", func(r chi.Router) {
		r.Post("/toss", webhookcontrollers.TossWebhook(d.TossWebhook, d.TossWebhookGuard, logg))
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWT, logg))
		r.Use(middleware.Idempotency(d.Redis, logg))

		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireRole(logg, enums.UserRoleAttendee, enums.UserRoleAdmin))

			r.Route("/payments", func(r chi.Router) {
				r.Post("/checkout", paymentcontrollers.Checkout(d.Payments, logg))
				r.With(confirmLimit).Post("/confirm", paymentcontrollers.Confirm(d.Payments, logg))
				r.Post("/fail", paymentcontrollers.Fail(d.Payments, logg))
				r.Post("/paypal/orders", paymentcontrollers.CreatePayPalOrder(d.Payments, logg))
				r.Post("/paypal/orders/{providerOrderId}/approve", paymentcontrollers.ApprovePayPalOrder(d.Payments, logg))
				r.With(confirmLimit).Post("/paypal/orders/{providerOrderId}/capture", paymentcontrollers.CapturePayPalOrder(d.Payments, logg))
				r.Get("/{orderId}", paymentcontrollers.Get(d.Payments, logg))
				r.Get("/{orderId}/receipt", paymentcontrollers.Receipt(d.Payments, logg))
			})
			r.Get("/me/payment-history", paymentcontrollers.History(d.Payments, logg))
		})

		r.Route("/admin", func(r chi.Router) {
			r.Use(middleware.RequireRole(logg, enums.UserRoleAdmin))

			r.Get("/events/{eventId}/payments", paymentcontrollers.ListEventPayments(d.Payments, logg))
			r.Post("/events/{eventId}/payments/manual", paymentcontrollers.RecordManualPayment(d.Payments, logg))
			r.Get("/registrations/{registrationId}/payment", paymentcontrollers.RegistrationPayment(d.Payments, logg))
			r.Post("/payments/{orderId}/cancel", paymentcontrollers.Cancel(d.Payments, logg))
			r.Post("/payments/{orderId}/expire", paymentcontrollers.Expire(d.Payments, logg))
			r.Put("/payments/{orderId}/note", paymentcontrollers.UpdateNote(d.Payments, logg))
			r.Get("/payments/{orderId}/history", paymentcontrollers.PaymentHistory(d.Payments, logg))
		})
	})

	return r
}

func readinessChecks(d Deps) map[string]controllers.Pinger {
	checks := map[string]controllers.Pinger{}
	if d.DB != nil {
		checks["db"] = d.DB
	}
	if d.Redis != nil {
		checks["redis"] = d.Redis
	}
	return checks
}
