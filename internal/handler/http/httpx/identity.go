package httpx

import (
	"fmt"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"storefront/internal/domain"
)

// Identity headers set by the upstream API gateway.
const (
	HeaderUserID    = "X-User-ID"
	HeaderUserRole  = "X-User-Role"
	HeaderBasketKey = "X-Basket-Key"
)

// Actor reads the caller identity. Requests without a user id are rejected.
func Actor(r *http.Request) (domain.Actor, error) {
	userID := strings.TrimSpace(r.Header.Get(HeaderUserID))
	if userID == "" {
		return domain.Actor{}, fmt.Errorf("%w: missing %s header", ErrUnauthorized, HeaderUserID)
	}
	role := domain.RoleCustomer
	if strings.EqualFold(strings.TrimSpace(r.Header.Get(HeaderUserRole)), string(domain.RoleAdmin)) {
		role = domain.RoleAdmin
	}
	return domain.Actor{UserID: userID, Role: role}, nil
}

// OwnerKey identifies the caller's basket: the signed-in user when present,
// otherwise the anonymous basket key. Checkout requires a user, so a signed-in
// caller always works on the basket it will check out.
func OwnerKey(r *http.Request) (string, error) {
	if userID := strings.TrimSpace(r.Header.Get(HeaderUserID)); userID != "" {
		return "user:" + userID, nil
	}
	if key := strings.TrimSpace(r.Header.Get(HeaderBasketKey)); key != "" {
		return "anon:" + key, nil
	}
	return "", fmt.Errorf("%w: missing %s or %s header", ErrUnauthorized, HeaderBasketKey, HeaderUserID)
}

func RequireAdmin(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			actor, err := Actor(r)
			if err != nil {
				WriteError(w, r, logger, err)
				return
			}
			if !actor.IsAdmin() {
				WriteError(w, r, logger, fmt.Errorf("%w: admin role required", domain.ErrForbidden))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
