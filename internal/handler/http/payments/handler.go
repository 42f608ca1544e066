package payments

import (
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"storefront/internal/app/payments"
	"storefront/internal/domain"
	"storefront/internal/handler/http/httpx"
)

// SignatureHeader carries the gateway's HMAC signature on webhook posts.
const SignatureHeader = "Stripe-Signature"

const maxWebhookBytes = 64 << 10

type PaymentHandler struct {
	service payments.PaymentService
	logger  *zap.Logger
}

func NewPaymentHandler(s payments.PaymentService, l *zap.Logger) *PaymentHandler {
	return &PaymentHandler{service: s, logger: l}
}

// EnsureTransaction opens or refreshes a transaction for an order when
// order_id is given, otherwise for the caller's basket.
func (h *PaymentHandler) EnsureTransaction(w http.ResponseWriter, r *http.Request) {
	var req payments.EnsureTransactionRequest
	if err := httpx.DecodeJSON(w, r, &req); err != nil {
		httpx.WriteError(w, r, h.logger, err)
		return
	}

	var (
		handle *domain.PaymentHandle
		err    error
	)
	if req.OrderID != "" {
		actor, aerr := httpx.Actor(r)
		if aerr != nil {
			httpx.WriteError(w, r, h.logger, aerr)
			return
		}
		handle, err = h.service.EnsureOrderTransaction(r.Context(), req.OrderID, actor, nil)
	} else {
		ownerKey, kerr := httpx.OwnerKey(r)
		if kerr != nil {
			httpx.WriteError(w, r, h.logger, kerr)
			return
		}
		handle, err = h.service.EnsureBasketTransaction(r.Context(), ownerKey)
	}
	if err != nil {
		httpx.WriteError(w, r, h.logger, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, handle)
}

// Webhook is anonymous; the signature is the only authentication. Failures
// other than bad input answer 500 so the gateway redelivers.
func (h *PaymentHandler) Webhook(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBytes))
	if err != nil {
		httpx.WriteError(w, r, h.logger, fmt.Errorf("%w: unreadable body", domain.ErrInvalidInput))
		return
	}
	if err := h.service.HandleNotification(r.Context(), payload, r.Header.Get(SignatureHeader)); err != nil {
		if errors.Is(err, domain.ErrInvalidSignature) || errors.Is(err, domain.ErrInvalidInput) {
			h.logger.Warn("Webhook rejected", zap.Error(err))
		}
		httpx.WriteError(w, r, h.logger, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]bool{"received": true})
}

func (h *PaymentHandler) Refund(w http.ResponseWriter, r *http.Request) {
	var req payments.RefundRequest
	if err := httpx.DecodeJSON(w, r, &req); err != nil {
		httpx.WriteError(w, r, h.logger, err)
		return
	}
	req.PaymentID = chi.URLParam(r, "paymentID")

	res, err := h.service.Refund(r.Context(), &req)
	if err != nil {
		httpx.WriteError(w, r, h.logger, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, res)
}

func (h *PaymentHandler) GetPayment(w http.ResponseWriter, r *http.Request) {
	res, err := h.service.GetPayment(r.Context(), chi.URLParam(r, "paymentID"))
	if err != nil {
		httpx.WriteError(w, r, h.logger, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, res)
}
