package orders

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"storefront/internal/app/orders"
	"storefront/internal/app/payments"
	"storefront/internal/domain"
	"storefront/internal/handler/http/httpx"
)

type OrderHandler struct {
	service  orders.OrderService
	payments payments.PaymentService
	logger   *zap.Logger
}

func NewOrderHandler(s orders.OrderService, p payments.PaymentService, l *zap.Logger) *OrderHandler {
	return &OrderHandler{service: s, payments: p, logger: l}
}

type CreateOrderResponse struct {
	OrderID              string                `json:"orderId"`
	PaymentTransactionID string                `json:"paymentTransactionId"`
	ClientSecret         string                `json:"clientSecret"`
	Order                *orders.OrderResponse `json:"order"`
}

// CreateOrder converts the caller's basket and opens the payment transaction.
// If the gateway is down the order still exists; the client retries payment
// through POST /payments with the returned order id.
func (h *OrderHandler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	actor, err := httpx.Actor(r)
	if err != nil {
		httpx.WriteError(w, r, h.logger, err)
		return
	}
	ownerKey, err := httpx.OwnerKey(r)
	if err != nil {
		httpx.WriteError(w, r, h.logger, err)
		return
	}
	var req orders.CreateOrderRequest
	if err := httpx.DecodeJSON(w, r, &req); err != nil {
		h.logger.Warn("Invalid request body for CreateOrder", zap.Error(err))
		httpx.WriteError(w, r, h.logger, err)
		return
	}
	req.UserID = actor.UserID
	req.OwnerKey = ownerKey

	res, err := h.service.CreateOrder(r.Context(), &req)
	if err != nil {
		httpx.WriteError(w, r, h.logger, err)
		return
	}

	handle, err := h.payments.EnsureOrderTransaction(r.Context(), res.Order.ID, actor, res.Provisional)
	if err != nil {
		if errors.Is(err, domain.ErrPaymentGateway) {
			h.logger.Warn("Order created but payment transaction could not be opened",
				zap.String("order_id", res.Order.ID), zap.Error(err))
			httpx.WriteErrorWithDetails(w, r, h.logger, err, map[string]any{"order_id": res.Order.ID})
			return
		}
		httpx.WriteError(w, r, h.logger, err)
		return
	}

	httpx.WriteJSON(w, http.StatusCreated, CreateOrderResponse{
		OrderID:              res.Order.ID,
		PaymentTransactionID: handle.TransactionID,
		ClientSecret:         handle.ClientSecret,
		Order:                res.Order,
	})
}

func (h *OrderHandler) GetOrder(w http.ResponseWriter, r *http.Request) {
	actor, err := httpx.Actor(r)
	if err != nil {
		httpx.WriteError(w, r, h.logger, err)
		return
	}
	res, err := h.service.GetOrder(r.Context(), chi.URLParam(r, "orderID"), actor)
	if err != nil {
		httpx.WriteError(w, r, h.logger, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, res)
}

func (h *OrderHandler) GetHistory(w http.ResponseWriter, r *http.Request) {
	actor, err := httpx.Actor(r)
	if err != nil {
		httpx.WriteError(w, r, h.logger, err)
		return
	}
	res, err := h.service.GetHistory(r.Context(), chi.URLParam(r, "orderID"), actor)
	if err != nil {
		httpx.WriteError(w, r, h.logger, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, res)
}

func (h *OrderHandler) ListOrders(w http.ResponseWriter, r *http.Request) {
	actor, err := httpx.Actor(r)
	if err != nil {
		httpx.WriteError(w, r, h.logger, err)
		return
	}
	res, err := h.service.ListUserOrders(r.Context(), actor.UserID)
	if err != nil {
		httpx.WriteError(w, r, h.logger, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, res)
}

func (h *OrderHandler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	actor, err := httpx.Actor(r)
	if err != nil {
		httpx.WriteError(w, r, h.logger, err)
		return
	}
	var req orders.TransitionRequest
	if err := httpx.DecodeJSON(w, r, &req); err != nil {
		httpx.WriteError(w, r, h.logger, err)
		return
	}
	req.OrderID = chi.URLParam(r, "orderID")
	req.Actor = actor

	res, err := h.service.Transition(r.Context(), &req)
	if err != nil {
		httpx.WriteError(w, r, h.logger, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, res)
}

func (h *OrderHandler) BulkUpdateStatus(w http.ResponseWriter, r *http.Request) {
	actor, err := httpx.Actor(r)
	if err != nil {
		httpx.WriteError(w, r, h.logger, err)
		return
	}
	var req orders.BulkTransitionRequest
	if err := httpx.DecodeJSON(w, r, &req); err != nil {
		httpx.WriteError(w, r, h.logger, err)
		return
	}
	req.Actor = actor

	results, err := h.service.BulkTransition(r.Context(), &req)
	if err != nil {
		httpx.WriteError(w, r, h.logger, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"results": results})
}

func (h *OrderHandler) CancelOrder(w http.ResponseWriter, r *http.Request) {
	actor, err := httpx.Actor(r)
	if err != nil {
		httpx.WriteError(w, r, h.logger, err)
		return
	}
	res, err := h.service.CancelOrder(r.Context(), chi.URLParam(r, "orderID"), actor)
	if err != nil {
		httpx.WriteError(w, r, h.logger, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, res)
}
