package baskets

import (
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"storefront/internal/app/baskets"
)

func RegisterRoutes(r chi.Router, s baskets.BasketService, l *zap.Logger) {
	handler := NewBasketHandler(s, l.With(zap.String("component", "BasketHTTPHandler")))

	r.Route("/basket", func(r chi.Router) {
		r.Get("/", handler.GetBasket)
		r.Delete("/", handler.ClearBasket)
		r.Post("/items", handler.AddItem)
		r.Delete("/items/{variantID}", handler.RemoveItem)
	})
}
