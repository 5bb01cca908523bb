package reconciler

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/multierr"

	"github.com/angelmondragon/orderflow-backend/internal/payments"
	"github.com/angelmondragon/orderflow-backend/pkg/db/models"
	"github.com/angelmondragon/orderflow-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/orderflow-backend/pkg/errors"
	"github.com/angelmondragon/orderflow-backend/pkg/logger"
	"github.com/angelmondragon/orderflow-backend/pkg/metrics"
)

const ProviderStripe = "stripe"

// paymentApplier is the part of payments.Service the handlers delegate to.
type paymentApplier interface {
	CompleteCheckout(ctx context.Context, completion payments.CheckoutCompletion) (payments.Outcome, error)
	MarkSucceeded(ctx context.Context, update payments.IntentUpdate) (payments.Outcome, error)
	MarkFailed(ctx context.Context, update payments.IntentUpdate) (payments.Outcome, error)
}

// Ack is returned to the processor for every verified delivery.
type Ack struct {
	Received  bool                     `json:"received"`
	EventID   string                   `json:"eventId,omitempty"`
	Status    enums.WebhookEventStatus `json:"status,omitempty"`
	Duplicate bool                     `json:"duplicate,omitempty"`
}

// ReplayReport summarises a ReplayFailed pass.
type ReplayReport struct {
	Replayed  int
	Processed int
	Failed    int
}

type handler func(ctx context.Context, event payments.ProviderEvent) (payments.Outcome, error)

type Params struct {
	Verifier payments.Verifier
	Parser   payments.Parser
	Events   EventRepository
	Payments paymentApplier
	Metrics  *metrics.PaymentMetrics
	Logger   *logger.Logger
	Provider string
}

type Reconciler struct {
	verifier payments.Verifier
	parser   payments.Parser
	events   EventRepository
	metrics  *metrics.PaymentMetrics
	logg     *logger.Logger
	provider string
	handlers map[enums.WebhookEventKind]handler
}

func New(params Params) (*Reconciler, error) {
	switch {
	case params.Verifier == nil:
		return nil, fmt.Errorf("webhook verifier required")
	case params.Parser == nil:
		return nil, fmt.Errorf("webhook parser required")
	case params.Events == nil:
		return nil, fmt.Errorf("webhook event repository required")
	case params.Payments == nil:
		return nil, fmt.Errorf("payments service required")
	}
	r := &Reconciler{
		verifier: params.Verifier,
		parser:   params.Parser,
		events:   params.Events,
		metrics:  params.Metrics,
		logg:     params.Logger,
		provider: params.Provider,
	}
	if r.logg == nil {
		r.logg = logger.Nop()
	}
	if r.provider == "" {
		r.provider = ProviderStripe
	}
	r.handlers = map[enums.WebhookEventKind]handler{
		enums.WebhookKindCheckoutCompleted: func(ctx context.Context, event payments.ProviderEvent) (payments.Outcome, error) {
			if event.Checkout == nil {
				return "", pkgerrors.New(pkgerrors.CodeValidation, "checkout session missing from event")
			}
			return params.Payments.CompleteCheckout(ctx, *event.Checkout)
		},
		enums.WebhookKindPaymentSucceeded: func(ctx context.Context, event payments.ProviderEvent) (payments.Outcome, error) {
			if event.Intent == nil {
				return "", pkgerrors.New(pkgerrors.CodeValidation, "payment intent missing from event")
			}
			return params.Payments.MarkSucceeded(ctx, *event.Intent)
		},
		enums.WebhookKindPaymentFailed: func(ctx context.Context, event payments.ProviderEvent) (payments.Outcome, error) {
			if event.Intent == nil {
				return "", pkgerrors.New(pkgerrors.CodeValidation, "payment intent missing from event")
			}
			return params.Payments.MarkFailed(ctx, *event.Intent)
		},
	}
	return r, nil
}

// Classify maps a processor event type onto the kinds the reconciler handles.
func Classify(eventType string) enums.WebhookEventKind {
	switch eventType {
	case payments.EventCheckoutSessionCompleted:
		return enums.WebhookKindCheckoutCompleted
	case payments.EventPaymentIntentSucceeded:
		return enums.WebhookKindPaymentSucceeded
	case payments.EventPaymentIntentFailed:
		return enums.WebhookKindPaymentFailed
	default:
		return enums.WebhookKindIgnored
	}
}

// HandleEvent verifies, records and applies one delivery. Only a signature
// failure or a storage failure returns an error; processing errors are
// stored on the event row and acknowledged.
func (r *Reconciler) HandleEvent(ctx context.Context, payload []byte, signatureHeader string) (Ack, error) {
	if err := r.verifier.Verify(payload, signatureHeader); err != nil {
		r.metrics.IncWebhookEvent("unverified", "rejected")
		r.logg.Warn(ctx, "webhook signature rejected")
		return Ack{}, err
	}

	event, err := r.parser.Parse(payload)
	if err != nil {
		msg := err.Error()
		row := &models.WebhookEvent{
			Provider:  r.provider,
			Kind:      enums.WebhookKindIgnored,
			Payload:   payload,
			LastError: &msg,
		}
		if storeErr := r.events.InsertUnparseable(ctx, row); storeErr != nil {
			return Ack{}, pkgerrors.Wrap(pkgerrors.CodeInternal, storeErr, "store unparseable webhook")
		}
		r.metrics.IncWebhookEvent("unknown", "unparseable")
		r.logg.Error(ctx, "webhook payload could not be parsed", err)
		return Ack{Received: true, Status: enums.WebhookEventUnparseable}, nil
	}

	ctx = r.logg.WithEventID(ctx, event.ID)
	kind := Classify(event.Type)
	eventID := event.ID
	stored, inserted, err := r.events.Record(ctx, &models.WebhookEvent{
		Provider:        r.provider,
		ProviderEventID: &eventID,
		EventType:       event.Type,
		Kind:            kind,
		Status:          enums.WebhookEventReceived,
		Payload:         payload,
	})
	if err != nil {
		return Ack{}, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "record webhook event")
	}
	if !inserted && stored.Status.IsSettled() {
		r.metrics.IncWebhookEvent(string(kind), "duplicate")
		r.logg.Info(ctx, "duplicate webhook delivery")
		return Ack{Received: true, EventID: event.ID, Status: stored.Status, Duplicate: true}, nil
	}

	status := r.dispatch(ctx, stored.ID, kind, event)
	return Ack{Received: true, EventID: event.ID, Status: status}, nil
}

// Replay re-applies a stored delivery that failed or could not be parsed.
// The signature was checked when the delivery arrived.
func (r *Reconciler) Replay(ctx context.Context, id uuid.UUID) (Ack, error) {
	stored, err := r.events.FindByID(ctx, id)
	if err != nil {
		return Ack{}, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load webhook event")
	}
	if stored == nil {
		return Ack{}, pkgerrors.New(pkgerrors.CodeNotFound, "webhook event not found")
	}
	if stored.Status.IsSettled() {
		return Ack{Received: true, Status: stored.Status, Duplicate: true}, nil
	}

	event, err := r.parser.Parse(stored.Payload)
	if err != nil {
		msg := err.Error()
		if settleErr := r.events.Settle(ctx, stored.ID, enums.WebhookEventUnparseable, &msg); settleErr != nil {
			return Ack{}, pkgerrors.Wrap(pkgerrors.CodeInternal, settleErr, "settle webhook event")
		}
		return Ack{Received: true, Status: enums.WebhookEventUnparseable}, nil
	}
	ctx = r.logg.WithEventID(ctx, event.ID)
	status := r.dispatch(ctx, stored.ID, Classify(event.Type), event)
	return Ack{Received: true, EventID: event.ID, Status: status}, nil
}

// ReplayFailed retries FAILED deliveries with attempts left.
func (r *Reconciler) ReplayFailed(ctx context.Context, maxAttempts, limit int) (ReplayReport, error) {
	var report ReplayReport
	rows, err := r.events.ListReplayable(ctx, maxAttempts, limit)
	if err != nil {
		return report, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "list failed webhook events")
	}

	var errs error
	for _, row := range rows {
		ack, err := r.Replay(ctx, row.ID)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("webhook event %s: %w", row.ID, err))
			continue
		}
		report.Replayed++
		if ack.Status.IsSettled() {
			report.Processed++
		} else {
			report.Failed++
		}
	}
	return report, errs
}

func (r *Reconciler) dispatch(ctx context.Context, rowID uuid.UUID, kind enums.WebhookEventKind, event payments.ProviderEvent) enums.WebhookEventStatus {
	status := enums.WebhookEventIgnored
	var lastError *string

	if handle, ok := r.handlers[kind]; ok {
		outcome, err := handle(ctx, event)
		if err != nil {
			status = enums.WebhookEventFailed
			msg := err.Error()
			lastError = &msg
			r.logg.Error(r.logg.WithField(ctx, "kind", kind), "webhook handler failed", err)
		} else {
			status = statusFor(outcome)
			if outcome == payments.OutcomeUnmatched || outcome == payments.OutcomeRejected {
				r.logg.Warn(r.logg.WithFields(ctx, map[string]any{"kind": kind, "outcome": outcome}), "webhook event not applied")
			}
		}
	}

	if err := r.events.Settle(ctx, rowID, status, lastError); err != nil {
		r.logg.Error(ctx, "failed to settle webhook event", err)
	}
	r.metrics.IncWebhookEvent(string(kind), string(status))
	return status
}

func statusFor(outcome payments.Outcome) enums.WebhookEventStatus {
	switch outcome {
	case payments.OutcomeApplied, payments.OutcomeDuplicate:
		return enums.WebhookEventProcessed
	default:
		return enums.WebhookEventIgnored
	}
}
