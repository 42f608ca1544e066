package baskets

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"storefront/internal/app/baskets"
	"storefront/internal/domain"
	"storefront/internal/handler/http/httpx"
)

type BasketHandler struct {
	service baskets.BasketService
	logger  *zap.Logger
}

func NewBasketHandler(s baskets.BasketService, l *zap.Logger) *BasketHandler {
	return &BasketHandler{service: s, logger: l}
}

func (h *BasketHandler) GetBasket(w http.ResponseWriter, r *http.Request) {
	ownerKey, err := httpx.OwnerKey(r)
	if err != nil {
		httpx.WriteError(w, r, h.logger, err)
		return
	}
	view, err := h.service.GetBasket(r.Context(), ownerKey)
	if err != nil {
		httpx.WriteError(w, r, h.logger, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, view.Response())
}

func (h *BasketHandler) AddItem(w http.ResponseWriter, r *http.Request) {
	ownerKey, err := httpx.OwnerKey(r)
	if err != nil {
		httpx.WriteError(w, r, h.logger, err)
		return
	}
	var req baskets.AddItemRequest
	if err := httpx.DecodeJSON(w, r, &req); err != nil {
		h.logger.Warn("Invalid request body for AddItem", zap.Error(err))
		httpx.WriteError(w, r, h.logger, err)
		return
	}
	view, err := h.service.AddItem(r.Context(), ownerKey, domain.BasketItem{
		ProductID: req.ProductID,
		VariantID: req.VariantID,
		Quantity:  req.Quantity,
	})
	if err != nil {
		httpx.WriteError(w, r, h.logger, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, view.Response())
}

func (h *BasketHandler) RemoveItem(w http.ResponseWriter, r *http.Request) {
	ownerKey, err := httpx.OwnerKey(r)
	if err != nil {
		httpx.WriteError(w, r, h.logger, err)
		return
	}
	view, err := h.service.RemoveItem(r.Context(), ownerKey, chi.URLParam(r, "variantID"))
	if err != nil {
		httpx.WriteError(w, r, h.logger, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, view.Response())
}

func (h *BasketHandler) ClearBasket(w http.ResponseWriter, r *http.Request) {
	ownerKey, err := httpx.OwnerKey(r)
	if err != nil {
		httpx.WriteError(w, r, h.logger, err)
		return
	}
	view, err := h.service.GetBasket(r.Context(), ownerKey)
	if err != nil {
		httpx.WriteError(w, r, h.logger, err)
		return
	}
	if view.Basket.ID != "" {
		if err := h.service.ClearBasket(r.Context(), view.Basket.ID); err != nil {
			httpx.WriteError(w, r, h.logger, err)
			return
		}
	}
	w.WriteHeader(http.StatusNoContent)
}
