package models

import "github.com/google/uuid"

// ensureID assigns a client-side uuid so inserts do not depend on
// database-generated defaults.
func ensureID(id *uuid.UUID) {
	if *id == uuid.Nil {
		*id = uuid.New()
	}
}

// All lists every model owned by this service, in dependency order.
func All() []any {
	return []any{
		&Vendor{},
		&Product{},
		&Service{},
		&CartItem{},
		&Order{},
		&OrderItem{},
		&Payment{},
		&Invoice{},
		&Refund{},
		&WebhookEvent{},
		&OutboxEvent{},
	}
}
