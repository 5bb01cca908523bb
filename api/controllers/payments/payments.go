package payments

import (
	"context"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/orderflow-backend/api/controllers/orders"
	"github.com/angelmondragon/orderflow-backend/api/middleware"
	"github.com/angelmondragon/orderflow-backend/api/responses"
	"github.com/angelmondragon/orderflow-backend/api/validators"
	internalpayments "github.com/angelmondragon/orderflow-backend/internal/payments"
	"github.com/angelmondragon/orderflow-backend/pkg/auth"
	"github.com/angelmondragon/orderflow-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/orderflow-backend/pkg/errors"
	"github.com/angelmondragon/orderflow-backend/pkg/logger"
	"github.com/angelmondragon/orderflow-backend/pkg/types"
)

type paymentService interface {
	CreateCheckoutSession(ctx context.Context, input internalpayments.CheckoutSessionInput) (*internalpayments.CheckoutSessionResult, error)
	CreatePaymentIntent(ctx context.Context, orderID uuid.UUID, caller auth.Identity) (*internalpayments.IntentResult, error)
	ConfirmPayment(ctx context.Context, input internalpayments.ConfirmInput) (*internalpayments.ConfirmResult, error)
	GetByOrder(ctx context.Context, orderID uuid.UUID, caller auth.Identity) (*models.Payment, error)
	Refund(ctx context.Context, input internalpayments.RefundInput) (*internalpayments.RefundResult, error)
}

type checkoutSessionRequest struct {
	Items           []orders.ItemRequest `json:"items" validate:"required,min=1,dive"`
	SuccessURL      string               `json:"successUrl,omitempty" validate:"omitempty,url"`
	CancelURL       string               `json:"cancelUrl,omitempty" validate:"omitempty,url"`
	ShippingAddress *types.Address       `json:"shippingAddress,omitempty"`
	BillingAddress  *types.Address       `json:"billingAddress,omitempty"`
	PaymentMethod   string               `json:"paymentMethod,omitempty"`
}

type paymentIntentRequest struct {
	OrderID uuid.UUID `json:"orderId" validate:"required"`
}

type confirmRequest struct {
	PaymentIntentID string    `json:"paymentIntentId" validate:"required,max=255"`
	OrderID         uuid.UUID `json:"orderId" validate:"required"`
}

type refundRequest struct {
	Amount *decimal.Decimal `json:"amount,omitempty"`
}

// CheckoutSession opens a hosted checkout page. The order is created when
// the processor reports the session complete.
func CheckoutSession(svc paymentService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "payment service unavailable"))
			return
		}
		caller, err := callerFrom(r)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		var req checkoutSessionRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		lines, err := orders.LineItems(req.Items)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		method, err := orders.ParsePaymentMethod(req.PaymentMethod)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		result, err := svc.CreateCheckoutSession(ctx, internalpayments.CheckoutSessionInput{
			Caller:          caller,
			Items:           lines,
			SuccessURL:      strings.TrimSpace(req.SuccessURL),
			CancelURL:       strings.TrimSpace(req.CancelURL),
			ShippingAddress: req.ShippingAddress,
			BillingAddress:  req.BillingAddress,
			PaymentMethod:   method,
		})
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, result)
	}
}

func PaymentIntent(svc paymentService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "payment service unavailable"))
			return
		}
		caller, err := callerFrom(r)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		var req paymentIntentRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		ctx = logg.WithOrderID(ctx, req.OrderID.String())

		result, err := svc.CreatePaymentIntent(ctx, req.OrderID, caller)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, result)
	}
}

// Confirm checks the intent with the processor and settles the payment
// without waiting for the webhook.
func Confirm(svc paymentService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "payment service unavailable"))
			return
		}
		caller, err := callerFrom(r)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		var req confirmRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		ctx = logg.WithOrderID(ctx, req.OrderID.String())

		result, err := svc.ConfirmPayment(ctx, internalpayments.ConfirmInput{
			OrderID:  req.OrderID,
			IntentID: strings.TrimSpace(req.PaymentIntentID),
			Caller:   caller,
		})
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, result)
	}
}

func ByOrder(svc paymentService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "payment service unavailable"))
			return
		}
		caller, err := callerFrom(r)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		orderID, err := validators.ParseUUIDParam(r, "orderId")
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		ctx = logg.WithOrderID(ctx, orderID.String())

		payment, err := svc.GetByOrder(ctx, orderID, caller)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, payment)
	}
}

// Refund refunds all or part of an order's payment. An empty body refunds
// the full amount.
func Refund(svc paymentService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "payment service unavailable"))
			return
		}
		caller, err := callerFrom(r)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		orderID, err := validators.ParseUUIDParam(r, "orderId")
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		ctx = logg.WithOrderID(ctx, orderID.String())

		var req refundRequest
		if r.ContentLength != 0 {
			if err := validators.DecodeJSONBody(r, &req); err != nil {
				responses.WriteError(ctx, logg, w, err)
				return
			}
		}

		input := internalpayments.RefundInput{
			OrderID:        orderID,
			IdempotencyKey: strings.TrimSpace(r.Header.Get(middleware.IdempotencyHeader)),
			Caller:         caller,
		}
		if req.Amount != nil {
			cents, err := validators.MinorUnits("amount", *req.Amount)
			if err != nil {
				responses.WriteError(ctx, logg, w, err)
				return
			}
			input.AmountCents = &cents
		}

		result, err := svc.Refund(ctx, input)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, result)
	}
}

func callerFrom(r *http.Request) (auth.Identity, error) {
	identity, ok := middleware.IdentityFromContext(r.Context())
	if !ok || identity.UserID == uuid.Nil {
		return auth.Identity{}, pkgerrors.New(pkgerrors.CodeUnauthorized, "authentication required")
	}
	return identity, nil
}
