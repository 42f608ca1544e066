package orders

import (
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"storefront/internal/app/orders"
	"storefront/internal/app/payments"
	"storefront/internal/handler/http/httpx"
)

func RegisterRoutes(r chi.Router, s orders.OrderService, p payments.PaymentService, l *zap.Logger) {
	logger := l.With(zap.String("component", "OrderHTTPHandler"))
	handler := NewOrderHandler(s, p, logger)
	admin := httpx.RequireAdmin(logger)

	r.Route("/orders", func(r chi.Router) {
		r.Post("/", handler.CreateOrder)
		r.Get("/", handler.ListOrders)
		r.With(admin).Put("/status", handler.BulkUpdateStatus)
		r.Get("/{orderID}", handler.GetOrder)
		r.Get("/{orderID}/history", handler.GetHistory)
		r.With(admin).Put("/{orderID}/status", handler.UpdateStatus)
		r.Delete("/{orderID}", handler.CancelOrder)
	})
}
