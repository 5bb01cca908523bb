package payments

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"gorm.io/gorm"

	"github.com/angelmondragon/orderflow-backend/internal/orders"
	"github.com/angelmondragon/orderflow-backend/pkg/auth"
	"github.com/angelmondragon/orderflow-backend/pkg/db"
	"github.com/angelmondragon/orderflow-backend/pkg/db/models"
	"github.com/angelmondragon/orderflow-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/orderflow-backend/pkg/errors"
	"github.com/angelmondragon/orderflow-backend/pkg/logger"
	"github.com/angelmondragon/orderflow-backend/pkg/outbox"
	"github.com/angelmondragon/orderflow-backend/pkg/types"
)

const (
	checkoutPaid         = "paid"
	maxIdempotencyKeyLen = 255
)

var errDuplicateDelivery = errors.New("checkout already recorded")

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxPublisher interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

// Service defines payment operations for the API, the reconciler and cron.
type Service interface {
	CreateCheckoutSession(ctx context.Context, input CheckoutSessionInput) (*CheckoutSessionResult, error)
	CreatePaymentIntent(ctx context.Context, orderID uuid.UUID, caller auth.Identity) (*IntentResult, error)
	ConfirmPayment(ctx context.Context, input ConfirmInput) (*ConfirmResult, error)
	GetByOrder(ctx context.Context, orderID uuid.UUID, caller auth.Identity) (*models.Payment, error)
	Refund(ctx context.Context, input RefundInput) (*RefundResult, error)

	CompleteCheckout(ctx context.Context, completion CheckoutCompletion) (Outcome, error)
	MarkSucceeded(ctx context.Context, update IntentUpdate) (Outcome, error)
	MarkFailed(ctx context.Context, update IntentUpdate) (Outcome, error)
	SyncStalePayments(ctx context.Context, olderThan time.Duration, limit int) (SyncReport, error)
}

type ServiceDeps struct {
	Repo               Repository
	Tx                 txRunner
	Orders             orders.Service
	Gateway            Gateway
	Outbox             outboxPublisher
	Logger             *logger.Logger
	Currency           string
	CheckoutSuccessURL string
	CheckoutCancelURL  string
	Now                func() time.Time
}

type service struct {
	repo       Repository
	tx         txRunner
	orders     orders.Service
	gateway    Gateway
	outbox     outboxPublisher
	logg       *logger.Logger
	currency   string
	successURL string
	cancelURL  string
	now        func() time.Time
}

func NewService(deps ServiceDeps) (Service, error) {
	switch {
	case deps.Repo == nil:
		return nil, fmt.Errorf("payments repository required")
	case deps.Tx == nil:
		return nil, fmt.Errorf("transaction runner required")
	case deps.Orders == nil:
		return nil, fmt.Errorf("orders service required")
	case deps.Gateway == nil:
		return nil, fmt.Errorf("payment gateway required")
	case deps.Outbox == nil:
		return nil, fmt.Errorf("outbox publisher required")
	case deps.Currency == "":
		return nil, fmt.Errorf("currency required")
	}
	svc := &service{
		repo:       deps.Repo,
		tx:         deps.Tx,
		orders:     deps.Orders,
		gateway:    deps.Gateway,
		outbox:     deps.Outbox,
		logg:       deps.Logger,
		currency:   deps.Currency,
		successURL: deps.CheckoutSuccessURL,
		cancelURL:  deps.CheckoutCancelURL,
		now:        deps.Now,
	}
	if svc.logg == nil {
		svc.logg = logger.Nop()
	}
	if svc.now == nil {
		svc.now = time.Now
	}
	return svc, nil
}

func (s *service) CreateCheckoutSession(ctx context.Context, input CheckoutSessionInput) (*CheckoutSessionResult, error) {
	if input.Caller.UserID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "user identity missing")
	}
	method := input.PaymentMethod
	if method == "" {
		method = enums.PaymentMethodStripe
	}

	quotes, err := s.orders.Quote(ctx, input.Items)
	if err != nil {
		return nil, err
	}

	lines := make([]CheckoutLine, 0, len(input.Items))
	itemsMeta := make([]checkoutItem, 0, len(input.Items))
	for idx, line := range input.Items {
		quote := quotes[idx]
		lines = append(lines, CheckoutLine{Name: quote.Title, UnitAmountCents: quote.UnitPriceCents, Quantity: line.Quantity})
		itemsMeta = append(itemsMeta, newCheckoutItem(line, quote))
	}

	metadata, err := checkoutMetadata{
		UserID:          input.Caller.UserID,
		PaymentMethod:   method,
		Items:           itemsMeta,
		ShippingAddress: input.ShippingAddress,
		BillingAddress:  input.BillingAddress,
	}.encode()
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "checkout is too large")
	}

	successURL := firstNonEmpty(input.SuccessURL, s.successURL)
	cancelURL := firstNonEmpty(input.CancelURL, s.cancelURL)
	if successURL == "" || cancelURL == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "successUrl and cancelUrl are required")
	}

	sess, err := s.gateway.CreateCheckoutSession(ctx, CheckoutSessionRequest{
		Currency:    s.currency,
		Lines:       lines,
		SuccessURL:  successURL,
		CancelURL:   cancelURL,
		CustomerRef: input.Caller.UserID.String(),
		Metadata:    metadata,
	})
	if err != nil {
		return nil, err
	}
	return &CheckoutSessionResult{SessionID: sess.ID, URL: sess.URL}, nil
}

func (s *service) CreatePaymentIntent(ctx context.Context, orderID uuid.UUID, caller auth.Identity) (*IntentResult, error) {
	order, err := s.orders.Get(ctx, orderID, caller)
	if err != nil {
		return nil, err
	}
	if order.UserID != caller.UserID {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "only the order owner can pay")
	}
	if order.Status != enums.OrderStatusPending {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "order is not awaiting payment").
			WithDetails(map[string]any{"status": order.Status})
	}
	ctx = s.logg.WithOrderID(ctx, order.ID.String())

	payment, err := s.repo.FindByOrderID(ctx, order.ID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load payment")
	}
	if payment != nil {
		return s.reuseIntent(ctx, order, payment)
	}

	intent, err := s.gateway.CreatePaymentIntent(ctx, PaymentIntentRequest{
		AmountCents:    order.TotalCents,
		Currency:       order.Currency,
		Metadata:       intentMetadata(order),
		IdempotencyKey: "order-" + order.ID.String() + "-intent",
	})
	if err != nil {
		return nil, err
	}

	intentID := intent.ID
	payment = &models.Payment{
		OrderID:           order.ID,
		AmountCents:       order.TotalCents,
		Currency:          order.Currency,
		Status:            enums.PaymentStatusPending,
		Flow:              enums.PaymentFlowIntent,
		ExternalRef:       intent.ID,
		ProcessorIntentID: &intentID,
	}
	if err := s.repo.CreatePayment(ctx, payment); err != nil {
		if db.IsUniqueViolation(err) {
			// A concurrent request with the same processor idempotency key
			// stored the payment first.
			existing, findErr := s.repo.FindByOrderID(ctx, order.ID)
			if findErr == nil && existing != nil {
				return &IntentResult{ClientSecret: intent.ClientSecret, PaymentIntentID: existing.ExternalRef, Payment: existing}, nil
			}
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "store payment")
	}

	s.logg.Info(ctx, "payment intent created")
	return &IntentResult{ClientSecret: intent.ClientSecret, PaymentIntentID: intent.ID, Payment: payment}, nil
}

// reuseIntent keeps at most one open intent per order: a live intent is handed
// back, a canceled one is replaced, and a succeeded one is applied.
func (s *service) reuseIntent(ctx context.Context, order *models.Order, payment *models.Payment) (*IntentResult, error) {
	if payment.Status == enums.PaymentStatusCompleted || payment.Status == enums.PaymentStatusRefunded {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "order already paid")
	}
	if payment.Flow != enums.PaymentFlowIntent {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "order is paid through checkout")
	}

	intent, err := s.gateway.RetrieveIntent(ctx, payment.ExternalRef)
	if err != nil {
		return nil, err
	}

	switch intent.Status {
	case IntentSucceeded:
		if _, err := s.MarkSucceeded(ctx, updateFromIntent(intent)); err != nil {
			return nil, err
		}
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "order already paid")
	case IntentCanceled:
		replacement, err := s.gateway.CreatePaymentIntent(ctx, PaymentIntentRequest{
			AmountCents:    payment.AmountCents,
			Currency:       payment.Currency,
			Metadata:       intentMetadata(order),
			IdempotencyKey: "order-" + order.ID.String() + "-intent-" + intent.ID,
		})
		if err != nil {
			return nil, err
		}
		ok, err := s.repo.ReplaceIntent(ctx, payment.ID, payment.ExternalRef, replacement.ID)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "replace payment intent")
		}
		if !ok {
			return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "payment changed concurrently")
		}
		replacementID := replacement.ID
		payment.ExternalRef = replacement.ID
		payment.ProcessorIntentID = &replacementID
		s.logg.Info(ctx, "canceled payment intent replaced")
		return &IntentResult{ClientSecret: replacement.ClientSecret, PaymentIntentID: replacement.ID, Payment: payment}, nil
	default:
		return &IntentResult{ClientSecret: intent.ClientSecret, PaymentIntentID: intent.ID, Payment: payment}, nil
	}
}

func (s *service) ConfirmPayment(ctx context.Context, input ConfirmInput) (*ConfirmResult, error) {
	if strings.TrimSpace(input.IntentID) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "paymentIntentId required").
			WithDetails(map[string]any{"field": "paymentIntentId"})
	}
	if _, err := s.orders.Get(ctx, input.OrderID, input.Caller); err != nil {
		return nil, err
	}

	payment, err := s.repo.FindByOrderID(ctx, input.OrderID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load payment")
	}
	if payment == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "payment not found")
	}
	if payment.ExternalRef != input.IntentID && (payment.ProcessorIntentID == nil || *payment.ProcessorIntentID != input.IntentID) {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "payment intent does not belong to order").
			WithDetails(map[string]any{"field": "paymentIntentId"})
	}

	intent, err := s.gateway.RetrieveIntent(ctx, input.IntentID)
	if err != nil {
		return nil, err
	}
	switch {
	case intent.Status == IntentSucceeded:
		if _, err := s.MarkSucceeded(ctx, updateFromIntent(intent)); err != nil {
			return nil, err
		}
	case intent.Status == IntentCanceled,
		intent.Status == IntentRequiresPaymentMethod && intent.LastError != "":
		if _, err := s.MarkFailed(ctx, updateFromIntent(intent)); err != nil {
			return nil, err
		}
		return nil, notSucceeded(intent)
	default:
		return nil, notSucceeded(intent)
	}

	payment, err = s.repo.FindByOrderID(ctx, input.OrderID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "reload payment")
	}
	order, err := s.orders.Get(ctx, input.OrderID, input.Caller)
	if err != nil {
		return nil, err
	}
	return &ConfirmResult{Payment: payment, Order: order}, nil
}

// notSucceeded reports an intent the processor has not settled. Declines are
// recorded before it is returned.
func notSucceeded(intent *PaymentIntent) error {
	details := map[string]any{"intentStatus": string(intent.Status)}
	if intent.LastError != "" {
		details["reason"] = intent.LastError
	}
	return pkgerrors.New(pkgerrors.CodeStateConflict, "payment has not succeeded").WithDetails(details)
}

func (s *service) GetByOrder(ctx context.Context, orderID uuid.UUID, caller auth.Identity) (*models.Payment, error) {
	if _, err := s.orders.Get(ctx, orderID, caller); err != nil {
		return nil, err
	}
	payment, err := s.repo.FindByOrderID(ctx, orderID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load payment")
	}
	if payment == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "payment not found")
	}
	return payment, nil
}

// CompleteCheckout creates the paid order for a completed hosted checkout
// from the prices captured in the session. The session id is the dedup key:
// a second delivery finds the payment row and changes nothing. A captured
// payment is always recorded; missing stock flags the order instead.
func (s *service) CompleteCheckout(ctx context.Context, completion CheckoutCompletion) (Outcome, error) {
	if completion.SessionID == "" {
		return OutcomeRejected, pkgerrors.New(pkgerrors.CodeValidation, "checkout session id missing")
	}
	if completion.PaymentStatus != checkoutPaid {
		s.logg.Info(ctx, "checkout completed without payment, waiting for async settlement")
		return OutcomeSkipped, nil
	}

	existing, err := s.repo.FindByExternalRef(ctx, completion.SessionID)
	if err != nil {
		return "", pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load payment")
	}
	if existing != nil {
		return OutcomeDuplicate, nil
	}

	meta, err := decodeCheckoutMetadata(completion.Metadata)
	if err != nil {
		return "", pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid checkout metadata")
	}

	items := make([]orders.LineItemInput, 0, len(meta.Items))
	for _, item := range meta.Items {
		items = append(items, item.lineItem())
	}
	var shipping types.Address
	if meta.ShippingAddress != nil {
		shipping = *meta.ShippingAddress
	}
	input := orders.CreateOrderInput{
		UserID:              meta.UserID,
		Items:               items,
		ShippingAddress:     shipping,
		BillingAddress:      meta.BillingAddress,
		PaymentMethod:       meta.PaymentMethod,
		InitialStatus:       enums.OrderStatusConfirmed,
		AllowStockShortfall: true,
	}

	var created *models.Order
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		order, err := s.orders.CreateInTx(ctx, tx, input)
		if err != nil {
			return err
		}

		paid := completion.AmountTotalCents
		if paid <= 0 {
			paid = order.TotalCents
		}
		if paid != order.TotalCents {
			warnCtx := s.logg.WithFields(s.logg.WithOrderID(ctx, order.ID.String()), map[string]any{
				"paid_cents":  paid,
				"total_cents": order.TotalCents,
			})
			s.logg.Warn(warnCtx, "checkout amount differs from order total, recording amount paid")
		}

		paidAt := s.now().UTC()
		payment := &models.Payment{
			OrderID:     order.ID,
			AmountCents: paid,
			Currency:    order.Currency,
			Status:      enums.PaymentStatusCompleted,
			Flow:        enums.PaymentFlowCheckout,
			ExternalRef: completion.SessionID,
			PaidAt:      &paidAt,
		}
		if completion.PaymentIntentID != "" {
			intentID := completion.PaymentIntentID
			payment.ProcessorIntentID = &intentID
		}
		if err := s.repo.WithTx(tx).CreatePayment(ctx, payment); err != nil {
			if db.IsUniqueViolation(err, "ux_payments_external_ref", "payments.external_ref") {
				return errDuplicateDelivery
			}
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "store payment")
		}
		order.Payment = payment

		if err := s.finalizePaid(ctx, tx, order, payment); err != nil {
			return err
		}
		created = order
		return nil
	})
	if errors.Is(err, errDuplicateDelivery) {
		return OutcomeDuplicate, nil
	}
	if err != nil {
		return "", pkgerrors.Ensure(err, "complete checkout")
	}

	s.logg.Info(s.logg.WithOrderID(ctx, created.ID.String()), "checkout order created")
	return OutcomeApplied, nil
}

// MarkSucceeded completes the payment behind an intent and confirms its order.
func (s *service) MarkSucceeded(ctx context.Context, update IntentUpdate) (Outcome, error) {
	if update.IntentID == "" {
		return OutcomeRejected, pkgerrors.New(pkgerrors.CodeValidation, "payment intent id missing")
	}

	outcome := OutcomeApplied
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		payment, err := repo.FindByIntentID(ctx, update.IntentID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load payment")
		}
		if payment == nil {
			outcome = OutcomeUnmatched
			return nil
		}
		if !CanTransition(payment.Status, enums.PaymentStatusCompleted) {
			outcome = OutcomeDuplicate
			return nil
		}
		if update.AmountCents != 0 && update.AmountCents != payment.AmountCents {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "intent amount does not match payment").
				WithDetails(map[string]any{"paid": update.AmountCents, "expected": payment.AmountCents})
		}

		paidAt := s.now().UTC()
		ok, err := repo.TransitionStatus(ctx, payment.ID, payment.Status, enums.PaymentStatusCompleted, map[string]any{
			"paid_at":        paidAt,
			"failure_reason": nil,
		})
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "complete payment")
		}
		if !ok {
			outcome = OutcomeDuplicate
			return nil
		}
		payment.Status = enums.PaymentStatusCompleted
		payment.PaidAt = &paidAt
		payment.FailureReason = nil

		order, err := s.orders.FindInTx(ctx, tx, payment.OrderID)
		if err != nil {
			return err
		}
		if order.Status == enums.OrderStatusPending {
			if order, err = s.orders.TransitionInTx(ctx, tx, order.ID, enums.OrderStatusConfirmed, nil); err != nil {
				return err
			}
		} else {
			warnCtx := s.logg.WithFields(ctx, map[string]any{"order_id": order.ID.String(), "status": order.Status})
			s.logg.Warn(warnCtx, "payment completed for order that is not awaiting confirmation")
		}
		return s.finalizePaid(ctx, tx, order, payment)
	})
	if err != nil {
		return "", pkgerrors.Ensure(err, "mark payment succeeded")
	}
	return outcome, nil
}

// MarkFailed records a failed attempt. Settled payments are never downgraded.
func (s *service) MarkFailed(ctx context.Context, update IntentUpdate) (Outcome, error) {
	if update.IntentID == "" {
		return OutcomeRejected, pkgerrors.New(pkgerrors.CodeValidation, "payment intent id missing")
	}

	outcome := OutcomeApplied
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		payment, err := repo.FindByIntentID(ctx, update.IntentID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load payment")
		}
		if payment == nil {
			outcome = OutcomeUnmatched
			return nil
		}
		switch payment.Status {
		case enums.PaymentStatusFailed:
			outcome = OutcomeDuplicate
			return nil
		case enums.PaymentStatusCompleted, enums.PaymentStatusRefunded:
			warnCtx := s.logg.WithFields(ctx, map[string]any{"payment_id": payment.ID.String(), "status": payment.Status})
			s.logg.Warn(warnCtx, "ignoring failure for settled payment")
			outcome = OutcomeRejected
			return nil
		}

		reason := update.FailureMessage
		if reason == "" {
			reason = "payment failed"
		}
		ok, err := repo.TransitionStatus(ctx, payment.ID, enums.PaymentStatusPending, enums.PaymentStatusFailed, map[string]any{
			"failure_reason": reason,
		})
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "fail payment")
		}
		if !ok {
			outcome = OutcomeDuplicate
			return nil
		}

		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventPaymentFailed,
			AggregateType: enums.AggregatePayment,
			AggregateID:   payment.ID,
			Data: outbox.PaymentEvent{
				OrderID:       payment.OrderID,
				PaymentID:     payment.ID,
				Status:        string(enums.PaymentStatusFailed),
				AmountCents:   payment.AmountCents,
				Currency:      payment.Currency,
				ExternalRef:   payment.ExternalRef,
				FailureReason: reason,
			},
		})
	})
	if err != nil {
		return "", pkgerrors.Ensure(err, "mark payment failed")
	}
	return outcome, nil
}

// Refund refunds a completed payment once per idempotency key. The refund row
// is written before the processor call and the key is forwarded, so a retry
// after an ambiguous failure can never refund twice.
func (s *service) Refund(ctx context.Context, input RefundInput) (*RefundResult, error) {
	if !input.Caller.IsAdmin() {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "refunds require an admin")
	}
	key := strings.TrimSpace(input.IdempotencyKey)
	if key == "" {
		key = uuid.NewString()
	}
	if len(key) > maxIdempotencyKeyLen {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "idempotency key too long")
	}
	ctx = s.logg.WithOrderID(ctx, input.OrderID.String())

	payment, err := s.repo.FindByOrderID(ctx, input.OrderID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load payment")
	}
	if payment == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "payment not found")
	}

	refund, err := s.repo.FindRefundByKey(ctx, key)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load refund")
	}
	if refund != nil {
		if refund.OrderID != input.OrderID {
			return nil, pkgerrors.New(pkgerrors.CodeIdempotency, "idempotency key belongs to another order")
		}
		if input.AmountCents != nil && *input.AmountCents != refund.AmountCents {
			return nil, pkgerrors.New(pkgerrors.CodeIdempotency, "idempotency key reused with a different amount")
		}
		switch refund.Status {
		case enums.RefundStatusSucceeded:
			return &RefundResult{Refund: refund, Payment: payment}, nil
		case enums.RefundStatusFailed:
			return nil, pkgerrors.New(pkgerrors.CodeIdempotency, "refund with this idempotency key already failed")
		}
		return s.driveRefund(ctx, payment, refund, input.Caller)
	}

	if payment.Status != enums.PaymentStatusCompleted {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "payment is not refundable").
			WithDetails(map[string]any{"status": payment.Status})
	}
	if payment.ProcessorIntentID == nil || *payment.ProcessorIntentID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "payment has no processor intent to refund")
	}
	amount := payment.AmountCents
	if input.AmountCents != nil {
		amount = *input.AmountCents
	}
	if amount <= 0 || amount > payment.AmountCents {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "refund amount must be positive and at most the payment amount").
			WithDetails(map[string]any{"field": "amount", "maxCents": payment.AmountCents})
	}

	refund = &models.Refund{
		OrderID:        input.OrderID,
		PaymentID:      payment.ID,
		IdempotencyKey: key,
		AmountCents:    amount,
		Status:         enums.RefundStatusPending,
		RequestedBy:    input.Caller.UserID,
	}
	if err := s.repo.CreateRefund(ctx, refund); err != nil {
		if db.IsUniqueViolation(err, "ux_refunds_idempotency_key", "refunds.idempotency_key") {
			input.IdempotencyKey = key
			return s.Refund(ctx, input)
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "store refund")
	}
	return s.driveRefund(ctx, payment, refund, input.Caller)
}

func (s *service) driveRefund(ctx context.Context, payment *models.Payment, refund *models.Refund, caller auth.Identity) (*RefundResult, error) {
	if payment.ProcessorIntentID == nil || *payment.ProcessorIntentID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "payment has no processor intent to refund")
	}
	amount := refund.AmountCents
	processed, err := s.gateway.Refund(ctx, RefundRequest{
		IntentID:       *payment.ProcessorIntentID,
		AmountCents:    &amount,
		IdempotencyKey: refund.IdempotencyKey,
	})
	if err != nil {
		if pkgerrors.IsCode(err, pkgerrors.CodeDependency) {
			s.logg.Error(ctx, "refund outcome unknown, left pending for retry with the same key", err)
			return nil, err
		}
		reason := err.Error()
		if typed := pkgerrors.As(err); typed != nil {
			reason = typed.Message()
		}
		if _, failErr := s.repo.FailRefund(ctx, refund.ID, reason); failErr != nil {
			s.logg.Error(ctx, "failed to record refund failure", failErr)
		}
		return nil, err
	}

	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		ok, err := repo.CompleteRefund(ctx, refund.ID, processed.ID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "complete refund")
		}
		if !ok {
			// Another request settled this key first.
			return nil
		}

		refundedAt := s.now().UTC()
		moved, err := repo.TransitionStatus(ctx, payment.ID, enums.PaymentStatusCompleted, enums.PaymentStatusRefunded, map[string]any{
			"refunded_at":    refundedAt,
			"refunded_cents": refund.AmountCents,
		})
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "mark payment refunded")
		}
		if !moved {
			s.logg.Warn(ctx, "payment was not COMPLETED when refund settled")
		}

		order, err := s.orders.FindInTx(ctx, tx, payment.OrderID)
		if err != nil {
			return err
		}
		if order.Status != enums.OrderStatusRefunded {
			if orders.CanTransition(orders.ActorSystem, order.Status, enums.OrderStatusRefunded) {
				if _, err := s.orders.TransitionInTx(ctx, tx, order.ID, enums.OrderStatusRefunded, &caller); err != nil {
					return err
				}
			} else {
				warnCtx := s.logg.WithField(ctx, "status", order.Status)
				s.logg.Warn(warnCtx, "refunded payment for order that cannot move to REFUNDED")
			}
		}

		refundID := refund.ID
		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventOrderRefunded,
			AggregateType: enums.AggregateOrder,
			AggregateID:   payment.OrderID,
			Actor:         &outbox.ActorRef{UserID: caller.UserID, Role: string(caller.Role)},
			Data: outbox.PaymentEvent{
				OrderID:     payment.OrderID,
				PaymentID:   payment.ID,
				Status:      string(enums.PaymentStatusRefunded),
				AmountCents: refund.AmountCents,
				Currency:    payment.Currency,
				ExternalRef: payment.ExternalRef,
				RefundID:    &refundID,
			},
		})
	})
	if err != nil {
		return nil, pkgerrors.Ensure(err, "settle refund")
	}

	stored, err := s.repo.FindRefundByKey(ctx, refund.IdempotencyKey)
	if err != nil || stored == nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "reload refund")
	}
	current, err := s.repo.FindByOrderID(ctx, payment.OrderID)
	if err != nil || current == nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "reload payment")
	}
	s.logg.Info(ctx, "refund settled")
	return &RefundResult{Refund: stored, Payment: current}, nil
}

// SyncStalePayments polls the processor for intent payments that webhooks
// left unresolved. Per-payment errors are collected and do not stop the pass.
func (s *service) SyncStalePayments(ctx context.Context, olderThan time.Duration, limit int) (SyncReport, error) {
	var report SyncReport
	stale, err := s.repo.ListStaleIntentPayments(ctx, s.now().Add(-olderThan), limit)
	if err != nil {
		return report, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "list stale payments")
	}

	var errs error
	for _, payment := range stale {
		report.Checked++
		intent, err := s.gateway.RetrieveIntent(ctx, payment.ExternalRef)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("payment %s: %w", payment.ID, err))
			continue
		}

		changed := false
		switch {
		case intent.Status == IntentSucceeded:
			outcome, err := s.MarkSucceeded(ctx, updateFromIntent(intent))
			if err != nil {
				errs = multierr.Append(errs, fmt.Errorf("payment %s: %w", payment.ID, err))
				continue
			}
			if outcome == OutcomeApplied {
				report.Completed++
				changed = true
			}
		case payment.Status == enums.PaymentStatusPending &&
			(intent.Status == IntentCanceled || (intent.Status == IntentRequiresPaymentMethod && intent.LastError != "")):
			outcome, err := s.MarkFailed(ctx, updateFromIntent(intent))
			if err != nil {
				errs = multierr.Append(errs, fmt.Errorf("payment %s: %w", payment.ID, err))
				continue
			}
			if outcome == OutcomeApplied {
				report.Failed++
				changed = true
			}
		}

		if !changed {
			if err := s.repo.Touch(ctx, payment.ID); err != nil {
				errs = multierr.Append(errs, fmt.Errorf("payment %s: touch: %w", payment.ID, err))
			}
		}
	}
	return report, errs
}

// finalizePaid issues the invoice once and emits the paid events.
func (s *service) finalizePaid(ctx context.Context, tx *gorm.DB, order *models.Order, payment *models.Payment) error {
	invoice := &models.Invoice{
		OrderID:       order.ID,
		InvoiceNumber: invoiceNumber(s.now(), order.ID),
		AmountCents:   payment.AmountCents,
		Currency:      payment.Currency,
		IssuedAt:      s.now().UTC(),
	}
	created, err := s.repo.WithTx(tx).CreateInvoiceIfAbsent(ctx, invoice)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "issue invoice")
	}
	if created {
		if err := s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventInvoiceIssued,
			AggregateType: enums.AggregateOrder,
			AggregateID:   order.ID,
			Data: outbox.InvoiceEvent{
				OrderID:       order.ID,
				InvoiceID:     invoice.ID,
				InvoiceNumber: invoice.InvoiceNumber,
				AmountCents:   invoice.AmountCents,
				Currency:      invoice.Currency,
			},
		}); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "emit invoice issued")
		}
	}

	return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     enums.EventOrderPaid,
		AggregateType: enums.AggregateOrder,
		AggregateID:   order.ID,
		Data: outbox.PaymentEvent{
			OrderID:     order.ID,
			PaymentID:   payment.ID,
			Status:      string(payment.Status),
			AmountCents: payment.AmountCents,
			Currency:    payment.Currency,
			ExternalRef: payment.ExternalRef,
			PaidAt:      payment.PaidAt,
		},
	})
}

// invoiceNumber renders INV-<unix-ms>-<first 8 chars of the order id>.
func invoiceNumber(now time.Time, orderID uuid.UUID) string {
	return fmt.Sprintf("INV-%d-%s", now.UnixMilli(), orderID.String()[:8])
}

func intentMetadata(order *models.Order) map[string]string {
	return map[string]string{
		metaOrderID:     order.ID.String(),
		metaOrderNumber: order.OrderNumber,
		metaUserID:      order.UserID.String(),
	}
}

func updateFromIntent(intent *PaymentIntent) IntentUpdate {
	return IntentUpdate{
		IntentID:       intent.ID,
		Status:         intent.Status,
		AmountCents:    intent.AmountCents,
		Currency:       intent.Currency,
		FailureMessage: intent.LastError,
		Metadata:       intent.Metadata,
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
