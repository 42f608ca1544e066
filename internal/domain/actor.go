package domain

type Role string

const (
	RoleCustomer Role = "customer"
	RoleAdmin    Role = "admin"
	// RoleSystem is used for transitions driven by gateway notifications.
	RoleSystem Role = "system"
)

// Actor is the caller identity supplied by the upstream gateway.
type Actor struct {
	UserID string
	Role   Role
}

func (a Actor) IsAdmin() bool {
	return a.Role == RoleAdmin
}

func (a Actor) CanView(o *Order) bool {
	return a.IsAdmin() || (a.UserID != "" && a.UserID == o.UserID)
}

// PaymentGatewayActor is recorded as updatedBy on webhook-driven history rows.
var PaymentGatewayActor = Actor{UserID: "payment-gateway", Role: RoleSystem}
