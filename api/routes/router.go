package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/angelmondragon/pharmalink-backend/api/controllers"
	"github.com/angelmondragon/pharmalink-backend/api/middleware"
	"github.com/angelmondragon/pharmalink-backend/internal/cart"
	"github.com/angelmondragon/pharmalink-backend/internal/checkout"
	"github.com/angelmondragon/pharmalink-backend/internal/notifications"
	"github.com/angelmondragon/pharmalink-backend/internal/orders"
	"github.com/angelmondragon/pharmalink-backend/pkg/config"
	"github.com/angelmondragon/pharmalink-backend/pkg/enums"
	"github.com/angelmondragon/pharmalink-backend/pkg/logger"
	"github.com/angelmondragon/pharmalink-backend/pkg/metrics"
)

// Deps carries everything the router hands to controllers. Idempotency may
// be nil, which disables replay protection.
type Deps struct {
	Config        *config.Config
	Logger        *logger.Logger
	DB            controllers.Pinger
	Redis         controllers.Pinger
	Idempotency   middleware.IdempotencyStore
	Gatherer      prometheus.Gatherer
	Cart          cart.Service
	Checkout      checkout.Service
	Orders        orders.Service
	Notifications notifications.Service
}

func NewRouter(deps Deps) http.Handler {
	cfg, logg := deps.Config, deps.Logger

	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
		middleware.CORS(cfg.App.CORSAllowedOrigins),
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive())
		r.Get("/ready", controllers.HealthReady(map[string]controllers.Pinger{
			"database": deps.DB,
			"redis":    deps.Redis,
		}, logg))
	})
	r.Method(http.MethodGet, "/metrics", metrics.Handler(deps.Gatherer))

	defaultMethod, err := enums.ParsePaymentMethod(cfg.Orders.DefaultPaymentMethod)
	if err != nil {
		defaultMethod = enums.PaymentMethodCash
	}
	ttl := cfg.Eventing.RequestIdempotencyTTL
	requiredKey := middleware.Idempotency(deps.Idempotency, middleware.IdempotencyPolicy{TTL: ttl, Required: true}, logg)
	optionalKey := middleware.Idempotency(deps.Idempotency, middleware.IdempotencyPolicy{TTL: ttl}, logg)

	pharmacyOnly := middleware.RequireRole(logg, enums.UserRolePharmacy)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWT, logg))

		r.Route("/cart", func(r chi.Router) {
			r.Use(pharmacyOnly)
			r.Get("/", controllers.CartFetch(deps.Cart, logg))
			r.Post("/items", controllers.CartAddLineItem(deps.Cart, logg))
			r.Delete("/items/{drugId}", controllers.CartRemoveLineItem(deps.Cart, logg))
			r.Delete("/groups/{inventoryId}", controllers.CartRemoveGroup(deps.Cart, logg))
		})

		r.Route("/orders", func(r chi.Router) {
			r.With(middleware.RequireRole(logg, enums.UserRolePharmacy, enums.UserRoleInventory)).
				Get("/", controllers.OrderList(deps.Orders, logg))
			r.With(pharmacyOnly, requiredKey).
				Post("/", controllers.OrderCreate(deps.Checkout, defaultMethod, logg))
			r.Get("/{orderId}", controllers.OrderDetail(deps.Orders, logg))
			r.With(optionalKey).
				Patch("/{orderId}/status", controllers.OrderUpdateStatus(deps.Orders, logg))
			r.With(pharmacyOnly, optionalKey).
				Post("/{orderId}/cancel", controllers.OrderCancel(deps.Orders, logg))
		})

		r.Route("/notifications", func(r chi.Router) {
			r.Get("/", controllers.ListNotifications(deps.Notifications, logg))
			r.Post("/{notificationId}/read", controllers.MarkNotificationRead(deps.Notifications, logg))
		})
	})

	return r
}
