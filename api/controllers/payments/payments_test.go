package payments

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/angelmondragon/orderflow-backend/api/middleware"
	internalpayments "github.com/angelmondragon/orderflow-backend/internal/payments"
	"github.com/angelmondragon/orderflow-backend/pkg/auth"
	"github.com/angelmondragon/orderflow-backend/pkg/db/models"
	"github.com/angelmondragon/orderflow-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/orderflow-backend/pkg/errors"
	"github.com/angelmondragon/orderflow-backend/pkg/logger"
)

type stubPaymentService struct {
	checkout func(ctx context.Context, input internalpayments.CheckoutSessionInput) (*internalpayments.CheckoutSessionResult, error)
	intent   func(ctx context.Context, orderID uuid.UUID, caller auth.Identity) (*internalpayments.IntentResult, error)
	confirm  func(ctx context.Context, input internalpayments.ConfirmInput) (*internalpayments.ConfirmResult, error)
	byOrder  func(ctx context.Context, orderID uuid.UUID, caller auth.Identity) (*models.Payment, error)
	refund   func(ctx context.Context, input internalpayments.RefundInput) (*internalpayments.RefundResult, error)
}

func (s *stubPaymentService) CreateCheckoutSession(ctx context.Context, input internalpayments.CheckoutSessionInput) (*internalpayments.CheckoutSessionResult, error) {
	return s.checkout(ctx, input)
}

func (s *stubPaymentService) CreatePaymentIntent(ctx context.Context, orderID uuid.UUID, caller auth.Identity) (*internalpayments.IntentResult, error) {
	return s.intent(ctx, orderID, caller)
}

func (s *stubPaymentService) ConfirmPayment(ctx context.Context, input internalpayments.ConfirmInput) (*internalpayments.ConfirmResult, error) {
	return s.confirm(ctx, input)
}

func (s *stubPaymentService) GetByOrder(ctx context.Context, orderID uuid.UUID, caller auth.Identity) (*models.Payment, error) {
	return s.byOrder(ctx, orderID, caller)
}

func (s *stubPaymentService) Refund(ctx context.Context, input internalpayments.RefundInput) (*internalpayments.RefundResult, error) {
	return s.refund(ctx, input)
}

func authed(req *http.Request, identity auth.Identity) *http.Request {
	return req.WithContext(middleware.WithIdentity(req.Context(), identity))
}

func withOrderParam(req *http.Request, id string) *http.Request {
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add("orderId", id)
	return req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))
}

func TestCheckoutSession(t *testing.T) {
	caller := auth.Identity{UserID: uuid.New(), Role: enums.UserRoleCustomer}
	productID := uuid.New()

	var captured internalpayments.CheckoutSessionInput
	svc := &stubPaymentService{
		checkout: func(ctx context.Context, input internalpayments.CheckoutSessionInput) (*internalpayments.CheckoutSessionResult, error) {
			captured = input
			return &internalpayments.CheckoutSessionResult{SessionID: "cs_test_1", URL: "https://checkout.stripe.com/c/cs_test_1"}, nil
		},
	}

	body := `{"items":[{"productId":"` + productID.String() + `","quantity":3}],"successUrl":"https://shop.example.com/done"}`
	req := authed(httptest.NewRequest(http.MethodPost, "/api/v1/payments/checkout-session", strings.NewReader(body)), caller)
	rec := httptest.NewRecorder()
	CheckoutSession(svc, logger.Nop()).ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (%s)", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), `"sessionId":"cs_test_1"`) {
		t.Fatalf("session id missing from %s", rec.Body.String())
	}
	if captured.Caller != caller {
		t.Fatalf("unexpected caller %+v", captured.Caller)
	}
	if len(captured.Items) != 1 || captured.Items[0].Ref.ID != productID || captured.Items[0].Quantity != 3 {
		t.Fatalf("unexpected items %+v", captured.Items)
	}
	if captured.SuccessURL != "https://shop.example.com/done" || captured.CancelURL != "" {
		t.Fatalf("unexpected urls %q %q", captured.SuccessURL, captured.CancelURL)
	}
	if captured.PaymentMethod != "" {
		t.Fatalf("expected empty method to defer to service default, got %s", captured.PaymentMethod)
	}
}

func TestCheckoutSessionRejectsInvalidURL(t *testing.T) {
	caller := auth.Identity{UserID: uuid.New(), Role: enums.UserRoleCustomer}
	body := `{"items":[{"productId":"` + uuid.NewString() + `","quantity":1}],"successUrl":"not a url"}`
	req := authed(httptest.NewRequest(http.MethodPost, "/api/v1/payments/checkout-session", strings.NewReader(body)), caller)
	rec := httptest.NewRecorder()
	CheckoutSession(&stubPaymentService{}, logger.Nop()).ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestPaymentIntent(t *testing.T) {
	caller := auth.Identity{UserID: uuid.New(), Role: enums.UserRoleCustomer}
	orderID := uuid.New()
	svc := &stubPaymentService{
		intent: func(ctx context.Context, id uuid.UUID, got auth.Identity) (*internalpayments.IntentResult, error) {
			if id != orderID || got != caller {
				t.Fatalf("unexpected args %s %+v", id, got)
			}
			return &internalpayments.IntentResult{ClientSecret: "pi_1_secret", PaymentIntentID: "pi_1"}, nil
		},
	}

	req := authed(httptest.NewRequest(http.MethodPost, "/api/v1/payments/payment-intent", strings.NewReader(`{"orderId":"`+orderID.String()+`"}`)), caller)
	rec := httptest.NewRecorder()
	PaymentIntent(svc, logger.Nop()).ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (%s)", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), `"clientSecret":"pi_1_secret"`) {
		t.Fatalf("client secret missing from %s", rec.Body.String())
	}

	req = authed(httptest.NewRequest(http.MethodPost, "/api/v1/payments/payment-intent", strings.NewReader(`{}`)), caller)
	rec = httptest.NewRecorder()
	PaymentIntent(svc, logger.Nop()).ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without orderId, got %d", rec.Code)
	}
}

func TestConfirm(t *testing.T) {
	caller := auth.Identity{UserID: uuid.New(), Role: enums.UserRoleCustomer}
	orderID := uuid.New()
	var captured internalpayments.ConfirmInput
	svc := &stubPaymentService{
		confirm: func(ctx context.Context, input internalpayments.ConfirmInput) (*internalpayments.ConfirmResult, error) {
			captured = input
			return &internalpayments.ConfirmResult{
				Payment: &models.Payment{OrderID: input.OrderID, Status: enums.PaymentStatusCompleted},
				Order:   &models.Order{ID: input.OrderID, Status: enums.OrderStatusConfirmed},
			}, nil
		},
	}

	body := `{"paymentIntentId":" pi_9 ","orderId":"` + orderID.String() + `"}`
	req := authed(httptest.NewRequest(http.MethodPost, "/api/v1/payments/confirm", strings.NewReader(body)), caller)
	rec := httptest.NewRecorder()
	Confirm(svc, logger.Nop()).ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (%s)", rec.Code, rec.Body.String())
	}
	if captured.IntentID != "pi_9" || captured.OrderID != orderID || captured.Caller != caller {
		t.Fatalf("unexpected input %+v", captured)
	}
}

func TestByOrderForbidden(t *testing.T) {
	caller := auth.Identity{UserID: uuid.New(), Role: enums.UserRoleCustomer}
	orderID := uuid.New()
	svc := &stubPaymentService{
		byOrder: func(ctx context.Context, id uuid.UUID, got auth.Identity) (*models.Payment, error) {
			return nil, pkgerrors.New(pkgerrors.CodeForbidden, "not your order")
		},
	}
	req := withOrderParam(authed(httptest.NewRequest(http.MethodGet, "/api/v1/payments/order/"+orderID.String(), nil), caller), orderID.String())
	rec := httptest.NewRecorder()
	ByOrder(svc, logger.Nop()).ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rec.Code)
	}
}

func TestRefund(t *testing.T) {
	admin := auth.Identity{UserID: uuid.New(), Role: enums.UserRoleAdmin}
	orderID := uuid.New()

	cases := []struct {
		name       string
		body       string
		key        string
		wantStatus int
		wantAmount *int64
	}{
		{name: "full refund without body", wantStatus: http.StatusOK},
		{name: "partial refund", body: `{"amount":"25.50"}`, key: "refund-1", wantStatus: http.StatusOK, wantAmount: int64Ptr(2550)},
		{name: "zero amount", body: `{"amount":0}`, wantStatus: http.StatusBadRequest},
		{name: "sub-cent amount", body: `{"amount":0.001}`, wantStatus: http.StatusBadRequest},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var captured *internalpayments.RefundInput
			svc := &stubPaymentService{
				refund: func(ctx context.Context, input internalpayments.RefundInput) (*internalpayments.RefundResult, error) {
					captured = &input
					return &internalpayments.RefundResult{
						Refund:  &models.Refund{OrderID: input.OrderID, Status: enums.RefundStatusSucceeded},
						Payment: &models.Payment{OrderID: input.OrderID, Status: enums.PaymentStatusRefunded},
					}, nil
				},
			}

			var req *http.Request
			if tc.body == "" {
				req = httptest.NewRequest(http.MethodPost, "/api/v1/payments/refund/"+orderID.String(), nil)
			} else {
				req = httptest.NewRequest(http.MethodPost, "/api/v1/payments/refund/"+orderID.String(), strings.NewReader(tc.body))
			}
			if tc.key != "" {
				req.Header.Set(middleware.IdempotencyHeader, tc.key)
			}
			req = withOrderParam(authed(req, admin), orderID.String())
			rec := httptest.NewRecorder()
			Refund(svc, logger.Nop()).ServeHTTP(rec, req)

			if rec.Code != tc.wantStatus {
				t.Fatalf("expected %d, got %d (%s)", tc.wantStatus, rec.Code, rec.Body.String())
			}
			if tc.wantStatus != http.StatusOK {
				if captured != nil {
					t.Fatalf("service should not be called")
				}
				return
			}
			if captured.OrderID != orderID || captured.Caller != admin || captured.IdempotencyKey != tc.key {
				t.Fatalf("unexpected input %+v", captured)
			}
			switch {
			case tc.wantAmount == nil && captured.AmountCents != nil:
				t.Fatalf("expected full refund, got %d", *captured.AmountCents)
			case tc.wantAmount != nil && (captured.AmountCents == nil || *captured.AmountCents != *tc.wantAmount):
				t.Fatalf("expected amount %d, got %v", *tc.wantAmount, captured.AmountCents)
			}
		})
	}
}

func TestHandlersRequireIdentity(t *testing.T) {
	svc := &stubPaymentService{}
	handlers := map[string]http.HandlerFunc{
		"checkout": CheckoutSession(svc, logger.Nop()),
		"intent":   PaymentIntent(svc, logger.Nop()),
		"confirm":  Confirm(svc, logger.Nop()),
		"byOrder":  ByOrder(svc, logger.Nop()),
		"refund":   Refund(svc, logger.Nop()),
	}
	for name, handler := range handlers {
		t.Run(name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{}`)))
			if rec.Code != http.StatusUnauthorized {
				t.Fatalf("expected 401, got %d", rec.Code)
			}
		})
	}
}

func int64Ptr(v int64) *int64 { return &v }
