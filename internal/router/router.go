package router

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"storefront/internal/app/baskets"
	"storefront/internal/app/orders"
	"storefront/internal/app/payments"
	baskets_http "storefront/internal/handler/http/baskets"
	"storefront/internal/handler/http/httpx"
	orders_http "storefront/internal/handler/http/orders"
	payments_http "storefront/internal/handler/http/payments"
	"storefront/internal/metrics"
)

type Config struct {
	AllowedOrigins []string
	RequestTimeout time.Duration
}

type Services struct {
	Orders   orders.OrderService
	Payments payments.PaymentService
	Baskets  baskets.BasketService
}

// New builds the public HTTP API. gatherer may be nil, in which case
// /metrics is not mounted.
func New(cfg Config, svc Services, m *metrics.Metrics, gatherer prometheus.Gatherer, logger *zap.Logger) http.Handler {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 30 * time.Second
	}

	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(cfg.RequestTimeout))
	r.Use(m.Middleware)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: cfg.AllowedOrigins,
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{
			"Accept", "Content-Type",
			httpx.HeaderUserID, httpx.HeaderUserRole, httpx.HeaderBasketKey,
		},
		ExposedHeaders:   []string{middleware.RequestIDHeader},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		httpx.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if gatherer != nil {
		r.Method(http.MethodGet, "/metrics", metrics.Handler(gatherer))
	}

	orders_http.RegisterRoutes(r, svc.Orders, svc.Payments, logger)
	payments_http.RegisterRoutes(r, svc.Payments, logger)
	baskets_http.RegisterRoutes(r, svc.Baskets, logger)

	return r
}
