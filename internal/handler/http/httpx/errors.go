// Package httpx holds the JSON, error envelope and caller identity helpers
// shared by the HTTP handlers.
package httpx

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"storefront/internal/domain"
)

var ErrUnauthorized = errors.New("unauthorized")

type ErrorResponse struct {
	Error     string         `json:"error"`
	Message   string         `json:"message"`
	Status    int            `json:"status"`
	RequestID string         `json:"request_id,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
}

type errorMapping struct {
	target  error
	status  int
	code    string
	message string // fixed message; empty means err.Error()
}

var errorMappings = []errorMapping{
	{domain.ErrInvalidSignature, http.StatusBadRequest, "invalid_request", "invalid request"},
	{domain.ErrNotFound, http.StatusNotFound, "not_found", ""},
	{domain.ErrInvalidTransition, http.StatusConflict, "invalid_transition", ""},
	{domain.ErrAlreadyPaid, http.StatusConflict, "already_paid", ""},
	{domain.ErrInsufficientStock, http.StatusConflict, "insufficient_stock", ""},
	{domain.ErrNotRefundable, http.StatusConflict, "not_refundable", ""},
	{domain.ErrTrackingRequired, http.StatusUnprocessableEntity, "tracking_required", ""},
	{domain.ErrInvalidAmount, http.StatusUnprocessableEntity, "invalid_amount", ""},
	{domain.ErrInvalidInput, http.StatusBadRequest, "invalid_request", ""},
	{ErrUnauthorized, http.StatusUnauthorized, "unauthorized", ""},
	{domain.ErrForbidden, http.StatusForbidden, "forbidden", "you do not have access to this resource"},
	{domain.ErrPaymentGateway, http.StatusBadGateway, "payment_gateway_error", "the payment provider is unavailable, please retry"},
}

// StatusFor returns the HTTP status, error code and client-safe message for err.
func StatusFor(err error) (int, string, string) {
	for _, m := range errorMappings {
		if errors.Is(err, m.target) {
			msg := m.message
			if msg == "" {
				msg = err.Error()
			}
			return m.status, m.code, msg
		}
	}
	return http.StatusInternalServerError, "internal_error", "internal server error"
}

func WriteError(w http.ResponseWriter, r *http.Request, logger *zap.Logger, err error) {
	WriteErrorWithDetails(w, r, logger, err, nil)
}

func WriteErrorWithDetails(w http.ResponseWriter, r *http.Request, logger *zap.Logger, err error, details map[string]any) {
	status, code, msg := StatusFor(err)
	if status >= http.StatusInternalServerError {
		logger.Error("Request failed",
			zap.String("path", r.URL.Path),
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.Error(err))
	} else {
		logger.Debug("Request rejected",
			zap.String("path", r.URL.Path),
			zap.Int("status", status),
			zap.Error(err))
	}
	WriteJSON(w, status, ErrorResponse{
		Error:     code,
		Message:   msg,
		Status:    status,
		RequestID: middleware.GetReqID(r.Context()),
		Details:   details,
	})
}

func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

const maxBodyBytes = 1 << 20

// DecodeJSON reads a JSON body into v. An empty body leaves v untouched.
func DecodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("%w: malformed request body: %v", domain.ErrInvalidInput, err)
	}
	return nil
}
