package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/angelmondragon/orderflow-backend/api/controllers"
	ordercontrollers "github.com/angelmondragon/orderflow-backend/api/controllers/orders"
	paymentcontrollers "github.com/angelmondragon/orderflow-backend/api/controllers/payments"
	webhookcontrollers "github.com/angelmondragon/orderflow-backend/api/controllers/webhooks"
	"github.com/angelmondragon/orderflow-backend/api/middleware"
	"github.com/angelmondragon/orderflow-backend/internal/orders"
	"github.com/angelmondragon/orderflow-backend/internal/payments"
	"github.com/angelmondragon/orderflow-backend/pkg/config"
	"github.com/angelmondragon/orderflow-backend/pkg/enums"
	"github.com/angelmondragon/orderflow-backend/pkg/logger"
	pkgredis "github.com/angelmondragon/orderflow-backend/pkg/redis"
)

func NewRouter(
	cfg *config.Config,
	logg *logger.Logger,
	dbP controllers.Pinger,
	redisP controllers.Pinger,
	idempotencyStore pkgredis.IdempotencyStore,
	gatherer prometheus.Gatherer,
	ordersSvc orders.Service,
	paymentsSvc payments.Service,
	webhookHandler webhookcontrollers.EventHandler,
) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
		middleware.CORS(cfg.Frontend.URL),
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, map[string]controllers.Pinger{
			"db":    dbP,
			"redis": redisP,
		}))
	})
	if gatherer != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}

	idempotent := middleware.Idempotency(idempotencyStore, middleware.IdempotencyOptions{
		RequireOrderKey: cfg.FeatureFlags.RequireOrderIdempotencyKey,
	}, logg)

	requireAuth := middleware.Auth(cfg.JWT, logg)

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/orders", func(r chi.Router) {
			r.Use(requireAuth)
			r.With(idempotent).Post("/", ordercontrollers.Create(ordersSvc, logg))
			r.Get("/", ordercontrollers.List(ordersSvc, logg))
			r.Get("/{orderId}", ordercontrollers.Detail(ordersSvc, logg))
			r.With(middleware.RequireRole(logg, enums.UserRoleVendor, enums.UserRoleAdmin)).
				Put("/{orderId}/status", ordercontrollers.UpdateStatus(ordersSvc, logg))
		})

		r.Route("/payments", func(r chi.Router) {
			// signed by the processor, no bearer token
			r.Post("/webhook", webhookcontrollers.StripeWebhook(webhookHandler, logg))

			r.Group(func(r chi.Router) {
				r.Use(requireAuth)
				r.Post("/checkout-session", paymentcontrollers.CheckoutSession(paymentsSvc, logg))
				r.Post("/payment-intent", paymentcontrollers.PaymentIntent(paymentsSvc, logg))
				r.Post("/confirm", paymentcontrollers.Confirm(paymentsSvc, logg))
				r.Get("/order/{orderId}", paymentcontrollers.ByOrder(paymentsSvc, logg))
				r.With(middleware.RequireRole(logg, enums.UserRoleAdmin), idempotent).
					Post("/refund/{orderId}", paymentcontrollers.Refund(paymentsSvc, logg))
			})
		})
	})

	return r
}
