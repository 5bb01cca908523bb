package enums

// WebhookEventStatus records how a processor delivery was handled.
type WebhookEventStatus string

const (
	WebhookEventReceived    WebhookEventStatus = "RECEIVED"
	WebhookEventProcessed   WebhookEventStatus = "PROCESSED"
	WebhookEventIgnored     WebhookEventStatus = "IGNORED"
	WebhookEventFailed      WebhookEventStatus = "FAILED"
	WebhookEventUnparseable WebhookEventStatus = "UNPARSEABLE"
)

// IsSettled reports whether the delivery needs no further processing.
func (s WebhookEventStatus) IsSettled() bool {
	return s == WebhookEventProcessed || s == WebhookEventIgnored
}

// WebhookEventKind is the processor-neutral classification of an event.
type WebhookEventKind string

const (
	WebhookKindCheckoutCompleted WebhookEventKind = "checkout_completed"
	WebhookKindPaymentSucceeded  WebhookEventKind = "payment_succeeded"
	WebhookKindPaymentFailed     WebhookEventKind = "payment_failed"
	WebhookKindIgnored           WebhookEventKind = "ignored"
)
