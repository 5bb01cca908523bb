package payments

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/stripe/stripe-go/v84"
	"github.com/stripe/stripe-go/v84/checkout/session"
	"github.com/stripe/stripe-go/v84/paymentintent"
	"github.com/stripe/stripe-go/v84/refund"

	pkgerrors "github.com/angelmondragon/orderflow-backend/pkg/errors"
	"github.com/angelmondragon/orderflow-backend/pkg/metrics"
	pkgstripe "github.com/angelmondragon/orderflow-backend/pkg/stripe"
)

const (
	opCreateCheckoutSession = "create_checkout_session"
	opCreatePaymentIntent   = "create_payment_intent"
	opRetrieveIntent        = "retrieve_payment_intent"
	opRefund                = "refund"
)

// stripeAPI is the subset of stripe-go package functions the gateway calls.
type stripeAPI struct {
	newSession func(params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error)
	newIntent  func(params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error)
	getIntent  func(id string, params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error)
	newRefund  func(params *stripe.RefundParams) (*stripe.Refund, error)
}

func defaultStripeAPI() stripeAPI {
	return stripeAPI{
		newSession: session.New,
		newIntent:  paymentintent.New,
		getIntent:  paymentintent.Get,
		newRefund:  refund.New,
	}
}

// StripeGateway implements Gateway on stripe-go with a bounded per-call
// timeout. The API key is installed process-wide by pkg/stripe.NewClient.
type StripeGateway struct {
	api     stripeAPI
	timeout time.Duration
	metrics *metrics.PaymentMetrics
}

func NewStripeGateway(client *pkgstripe.Client, m *metrics.PaymentMetrics) (*StripeGateway, error) {
	if client == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "stripe client required")
	}
	return &StripeGateway{
		api:     defaultStripeAPI(),
		timeout: client.Timeout(),
		metrics: m,
	}, nil
}

func (g *StripeGateway) CreateCheckoutSession(ctx context.Context, req CheckoutSessionRequest) (*CheckoutSession, error) {
	params := &stripe.CheckoutSessionParams{
		Mode:       stripe.String(string(stripe.CheckoutSessionModePayment)),
		SuccessURL: stripe.String(req.SuccessURL),
		CancelURL:  stripe.String(req.CancelURL),
	}
	if req.CustomerRef != "" {
		params.ClientReferenceID = stripe.String(req.CustomerRef)
	}
	for _, line := range req.Lines {
		params.LineItems = append(params.LineItems, &stripe.CheckoutSessionLineItemParams{
			PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
				Currency:   stripe.String(req.Currency),
				UnitAmount: stripe.Int64(line.UnitAmountCents),
				ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
					Name: stripe.String(line.Name),
				},
			},
			Quantity: stripe.Int64(int64(line.Quantity)),
		})
	}
	for k, v := range req.Metadata {
		params.AddMetadata(k, v)
	}

	var out *CheckoutSession
	err := g.call(ctx, opCreateCheckoutSession, func(callCtx context.Context) error {
		params.Context = callCtx
		sess, err := g.api.newSession(params)
		if err != nil {
			return err
		}
		out = &CheckoutSession{ID: sess.ID, URL: sess.URL, AmountTotalCents: sess.AmountTotal}
		return nil
	})
	return out, err
}

func (g *StripeGateway) CreatePaymentIntent(ctx context.Context, req PaymentIntentRequest) (*PaymentIntent, error) {
	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(req.AmountCents),
		Currency: stripe.String(req.Currency),
		AutomaticPaymentMethods: &stripe.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled: stripe.Bool(true),
		},
	}
	for k, v := range req.Metadata {
		params.AddMetadata(k, v)
	}
	if req.IdempotencyKey != "" {
		params.SetIdempotencyKey(req.IdempotencyKey)
	}

	var out *PaymentIntent
	err := g.call(ctx, opCreatePaymentIntent, func(callCtx context.Context) error {
		params.Context = callCtx
		pi, err := g.api.newIntent(params)
		if err != nil {
			return err
		}
		out = intentFromStripe(pi)
		return nil
	})
	return out, err
}

func (g *StripeGateway) RetrieveIntent(ctx context.Context, intentID string) (*PaymentIntent, error) {
	if intentID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "payment intent id required")
	}
	params := &stripe.PaymentIntentParams{}

	var out *PaymentIntent
	err := g.call(ctx, opRetrieveIntent, func(callCtx context.Context) error {
		params.Context = callCtx
		pi, err := g.api.getIntent(intentID, params)
		if err != nil {
			return err
		}
		out = intentFromStripe(pi)
		return nil
	})
	return out, err
}

func (g *StripeGateway) Refund(ctx context.Context, req RefundRequest) (*ProcessorRefund, error) {
	if req.IntentID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "payment intent id required")
	}
	params := &stripe.RefundParams{PaymentIntent: stripe.String(req.IntentID)}
	if req.AmountCents != nil {
		params.Amount = stripe.Int64(*req.AmountCents)
	}
	if req.IdempotencyKey != "" {
		params.SetIdempotencyKey(req.IdempotencyKey)
	}

	var out *ProcessorRefund
	err := g.call(ctx, opRefund, func(callCtx context.Context) error {
		params.Context = callCtx
		r, err := g.api.newRefund(params)
		if err != nil {
			return err
		}
		out = &ProcessorRefund{ID: r.ID, Status: string(r.Status), AmountCents: r.Amount}
		return nil
	})
	return out, err
}

// call runs fn under the gateway timeout, records metrics and maps errors.
func (g *StripeGateway) call(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	timeout := g.timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	started := time.Now()
	err := fn(callCtx)
	if err == nil {
		g.metrics.ObserveGatewayCall(op, "ok", time.Since(started))
		return nil
	}

	if callCtx.Err() != nil && !errors.Is(err, context.DeadlineExceeded) {
		err = errors.Join(err, callCtx.Err())
	}
	mapped := mapStripeError(op, err)
	g.metrics.ObserveGatewayCall(op, outcomeFor(mapped), time.Since(started))
	return mapped
}

func outcomeFor(err error) string {
	typed := pkgerrors.As(err)
	if typed == nil {
		return "error"
	}
	switch typed.Code() {
	case pkgerrors.CodeDependency:
		if errors.Is(err, context.DeadlineExceeded) {
			return "timeout"
		}
		return "unavailable"
	default:
		return "rejected"
	}
}

// mapStripeError turns processor failures into typed errors. Timeouts and
// transport failures are retryable; request and card errors are not.
func mapStripeError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "payment processor timed out").
			WithDetails(map[string]any{"operation": op})
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "payment processor timed out").
			WithDetails(map[string]any{"operation": op})
	}

	var stripeErr *stripe.Error
	if !errors.As(err, &stripeErr) {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "payment processor unavailable").
			WithDetails(map[string]any{"operation": op})
	}

	details := map[string]any{
		"operation":        op,
		"processorCode":    string(stripeErr.Code),
		"processorMessage": stripeErr.Msg,
	}
	switch {
	case stripeErr.HTTPStatusCode == http.StatusTooManyRequests || stripeErr.HTTPStatusCode >= http.StatusInternalServerError:
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "payment processor unavailable").WithDetails(details)
	case stripeErr.Type == stripe.ErrorTypeIdempotency:
		return pkgerrors.Wrap(pkgerrors.CodeIdempotency, err, "processor rejected idempotency key reuse").WithDetails(details)
	case stripeErr.Code == stripe.ErrorCodeChargeAlreadyRefunded:
		return pkgerrors.Wrap(pkgerrors.CodeStateConflict, err, "payment already refunded").WithDetails(details)
	case stripeErr.HTTPStatusCode == http.StatusConflict:
		return pkgerrors.Wrap(pkgerrors.CodeStateConflict, err, stripeErr.Msg).WithDetails(details)
	case stripeErr.HTTPStatusCode >= http.StatusBadRequest:
		msg := stripeErr.Msg
		if msg == "" {
			msg = "payment processor rejected the request"
		}
		return pkgerrors.Wrap(pkgerrors.CodeValidation, err, msg).WithDetails(details)
	default:
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "payment processor unavailable").WithDetails(details)
	}
}

func intentFromStripe(pi *stripe.PaymentIntent) *PaymentIntent {
	if pi == nil {
		return nil
	}
	out := &PaymentIntent{
		ID:           pi.ID,
		ClientSecret: pi.ClientSecret,
		Status:       IntentStatus(pi.Status),
		AmountCents:  pi.Amount,
		Currency:     string(pi.Currency),
		Metadata:     pi.Metadata,
	}
	if pi.LastPaymentError != nil {
		out.LastError = pi.LastPaymentError.Msg
	}
	return out
}
