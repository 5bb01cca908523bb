package payments

import (
	"github.com/google/uuid"

	"github.com/angelmondragon/orderflow-backend/internal/orders"
	"github.com/angelmondragon/orderflow-backend/pkg/auth"
	"github.com/angelmondragon/orderflow-backend/pkg/db/models"
	"github.com/angelmondragon/orderflow-backend/pkg/enums"
	"github.com/angelmondragon/orderflow-backend/pkg/types"
)

// Outcome describes what applying a processor notification did.
type Outcome string

const (
	OutcomeApplied   Outcome = "applied"
	OutcomeDuplicate Outcome = "duplicate"
	OutcomeUnmatched Outcome = "unmatched"
	OutcomeRejected  Outcome = "rejected"
	OutcomeSkipped   Outcome = "skipped"
)

// CheckoutSessionInput opens a hosted checkout for the caller's items.
// Empty URLs fall back to the configured frontend pages.
type CheckoutSessionInput struct {
	Caller          auth.Identity
	Items           []orders.LineItemInput
	SuccessURL      string
	CancelURL       string
	ShippingAddress *types.Address
	BillingAddress  *types.Address
	PaymentMethod   enums.PaymentMethod
}

type CheckoutSessionResult struct {
	SessionID string `json:"sessionId"`
	URL       string `json:"url"`
}

type IntentResult struct {
	ClientSecret    string          `json:"clientSecret"`
	PaymentIntentID string          `json:"paymentIntentId"`
	Payment         *models.Payment `json:"payment"`
}

type ConfirmInput struct {
	OrderID  uuid.UUID
	IntentID string
	Caller   auth.Identity
}

type ConfirmResult struct {
	Payment *models.Payment `json:"payment"`
	Order   *models.Order   `json:"order"`
}

// RefundInput requests a refund. A nil AmountCents refunds the full payment;
// an empty IdempotencyKey is replaced by a generated one.
type RefundInput struct {
	OrderID        uuid.UUID
	AmountCents    *int64
	IdempotencyKey string
	Caller         auth.Identity
}

type RefundResult struct {
	Refund  *models.Refund  `json:"refund"`
	Payment *models.Payment `json:"payment"`
}

// SyncReport summarises one payment sync pass.
type SyncReport struct {
	Checked   int
	Completed int
	Failed    int
}
