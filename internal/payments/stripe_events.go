package payments

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/stripe/stripe-go/v84"
	"github.com/stripe/stripe-go/v84/webhook"

	pkgerrors "github.com/angelmondragon/orderflow-backend/pkg/errors"
)

const (
	EventCheckoutSessionCompleted = "checkout.session.completed"
	EventPaymentIntentSucceeded   = "payment_intent.succeeded"
	EventPaymentIntentFailed      = "payment_intent.payment_failed"
)

// StripeVerifier checks the Stripe-Signature header against the signing secret.
type StripeVerifier struct {
	secret    string
	tolerance time.Duration
}

func NewStripeVerifier(secret string, tolerance time.Duration) *StripeVerifier {
	if tolerance <= 0 {
		tolerance = webhook.DefaultTolerance
	}
	return &StripeVerifier{secret: secret, tolerance: tolerance}
}

func (v *StripeVerifier) Verify(payload []byte, signatureHeader string) error {
	if signatureHeader == "" {
		return pkgerrors.New(pkgerrors.CodeInvalidSignature, "stripe signature missing")
	}
	if err := webhook.ValidatePayloadWithTolerance(payload, signatureHeader, v.secret, v.tolerance); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInvalidSignature, err, "stripe signature verification failed")
	}
	return nil
}

// StripeParser decodes Stripe event JSON into ProviderEvent. Event types it
// does not model come back with neither Checkout nor Intent set.
type StripeParser struct{}

func NewStripeParser() *StripeParser {
	return &StripeParser{}
}

func (StripeParser) Parse(payload []byte) (ProviderEvent, error) {
	var event stripe.Event
	if err := json.Unmarshal(payload, &event); err != nil {
		return ProviderEvent{}, fmt.Errorf("decode stripe event: %w", err)
	}
	if event.ID == "" || event.Type == "" {
		return ProviderEvent{}, fmt.Errorf("stripe event missing id or type")
	}

	out := ProviderEvent{
		ID:      event.ID,
		Type:    string(event.Type),
		Created: time.Unix(event.Created, 0).UTC(),
	}
	if event.Data == nil {
		return out, nil
	}

	switch string(event.Type) {
	case EventCheckoutSessionCompleted:
		var sess stripe.CheckoutSession
		if err := json.Unmarshal(event.Data.Raw, &sess); err != nil {
			return ProviderEvent{}, fmt.Errorf("decode checkout session: %w", err)
		}
		completion := &CheckoutCompletion{
			SessionID:        sess.ID,
			PaymentStatus:    string(sess.PaymentStatus),
			AmountTotalCents: sess.AmountTotal,
			Currency:         string(sess.Currency),
			Metadata:         sess.Metadata,
		}
		if sess.PaymentIntent != nil {
			completion.PaymentIntentID = sess.PaymentIntent.ID
		}
		if completion.SessionID == "" {
			return ProviderEvent{}, fmt.Errorf("checkout session id missing")
		}
		out.Checkout = completion
	case EventPaymentIntentSucceeded, EventPaymentIntentFailed:
		var pi stripe.PaymentIntent
		if err := json.Unmarshal(event.Data.Raw, &pi); err != nil {
			return ProviderEvent{}, fmt.Errorf("decode payment intent: %w", err)
		}
		if pi.ID == "" {
			return ProviderEvent{}, fmt.Errorf("payment intent id missing")
		}
		update := &IntentUpdate{
			IntentID:    pi.ID,
			Status:      IntentStatus(pi.Status),
			AmountCents: pi.Amount,
			Currency:    string(pi.Currency),
			Metadata:    pi.Metadata,
		}
		if pi.LastPaymentError != nil {
			update.FailureMessage = pi.LastPaymentError.Msg
		}
		out.Intent = update
	}
	return out, nil
}
