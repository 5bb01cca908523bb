// Package payments drives order payments through the processor and applies
// processor outcomes to local payment, invoice and refund state.
package payments

import (
	"context"
	"time"
)

// IntentStatus mirrors the processor's payment intent lifecycle.
type IntentStatus string

const (
	IntentRequiresPaymentMethod IntentStatus = "requires_payment_method"
	IntentRequiresConfirmation  IntentStatus = "requires_confirmation"
	IntentRequiresAction        IntentStatus = "requires_action"
	IntentProcessing            IntentStatus = "processing"
	IntentRequiresCapture       IntentStatus = "requires_capture"
	IntentSucceeded             IntentStatus = "succeeded"
	IntentCanceled              IntentStatus = "canceled"
)

// CheckoutLine is one priced line of a hosted checkout session.
type CheckoutLine struct {
	Name            string
	UnitAmountCents int64
	Quantity        int
}

type CheckoutSessionRequest struct {
	Currency    string
	Lines       []CheckoutLine
	SuccessURL  string
	CancelURL   string
	CustomerRef string
	Metadata    map[string]string
}

type CheckoutSession struct {
	ID               string
	URL              string
	AmountTotalCents int64
}

type PaymentIntentRequest struct {
	AmountCents    int64
	Currency       string
	Metadata       map[string]string
	IdempotencyKey string
}

type PaymentIntent struct {
	ID           string
	ClientSecret string
	Status       IntentStatus
	AmountCents  int64
	Currency     string
	// LastError is the processor's message for the most recent failed attempt.
	LastError string
	Metadata  map[string]string
}

// RefundRequest refunds AmountCents of an intent, or all of it when nil.
// IdempotencyKey is forwarded so retries never refund twice.
type RefundRequest struct {
	IntentID       string
	AmountCents    *int64
	IdempotencyKey string
}

type ProcessorRefund struct {
	ID          string
	Status      string
	AmountCents int64
}

// Gateway is the processor boundary. Amounts are integer minor units.
type Gateway interface {
	CreateCheckoutSession(ctx context.Context, req CheckoutSessionRequest) (*CheckoutSession, error)
	CreatePaymentIntent(ctx context.Context, req PaymentIntentRequest) (*PaymentIntent, error)
	RetrieveIntent(ctx context.Context, intentID string) (*PaymentIntent, error)
	Refund(ctx context.Context, req RefundRequest) (*ProcessorRefund, error)
}

// CheckoutCompletion is a paid hosted checkout as reported by the processor.
type CheckoutCompletion struct {
	SessionID        string
	PaymentIntentID  string
	PaymentStatus    string
	AmountTotalCents int64
	Currency         string
	Metadata         map[string]string
}

// IntentUpdate is a payment intent state change reported by the processor.
type IntentUpdate struct {
	IntentID       string
	Status         IntentStatus
	AmountCents    int64
	Currency       string
	FailureMessage string
	Metadata       map[string]string
}

// ProviderEvent is a verified processor notification in processor-neutral
// form. At most one of Checkout and Intent is set.
type ProviderEvent struct {
	ID       string
	Type     string
	Created  time.Time
	Checkout *CheckoutCompletion
	Intent   *IntentUpdate
}

// Verifier authenticates a raw webhook delivery.
type Verifier interface {
	Verify(payload []byte, signatureHeader string) error
}

// Parser decodes a verified webhook payload.
type Parser interface {
	Parse(payload []byte) (ProviderEvent, error)
}
