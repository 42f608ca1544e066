package payments

import (
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"storefront/internal/app/payments"
	"storefront/internal/handler/http/httpx"
)

func RegisterRoutes(r chi.Router, s payments.PaymentService, l *zap.Logger) {
	logger := l.With(zap.String("component", "PaymentHTTPHandler"))
	handler := NewPaymentHandler(s, logger)
	admin := httpx.RequireAdmin(logger)

	r.Route("/payments", func(r chi.Router) {
		r.Post("/", handler.EnsureTransaction)
		r.Post("/webhook", handler.Webhook)
		r.With(admin).Get("/{paymentID}", handler.GetPayment)
		r.With(admin).Post("/{paymentID}/refund", handler.Refund)
	})
}
