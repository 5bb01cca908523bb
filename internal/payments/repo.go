package payments

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/orderflow-backend/pkg/db/models"
	"github.com/angelmondragon/orderflow-backend/pkg/enums"
)

// Repository persists payments, invoices and refunds.
type Repository interface {
	WithTx(tx *gorm.DB) Repository

	CreatePayment(ctx context.Context, payment *models.Payment) error
	FindByOrderID(ctx context.Context, orderID uuid.UUID) (*models.Payment, error)
	FindByExternalRef(ctx context.Context, ref string) (*models.Payment, error)
	FindByIntentID(ctx context.Context, intentID string) (*models.Payment, error)
	TransitionStatus(ctx context.Context, id uuid.UUID, from, to enums.PaymentStatus, updates map[string]any) (bool, error)
	ReplaceIntent(ctx context.Context, id uuid.UUID, oldRef, newIntentID string) (bool, error)
	ListStaleIntentPayments(ctx context.Context, updatedBefore time.Time, limit int) ([]models.Payment, error)
	Touch(ctx context.Context, id uuid.UUID) error

	CreateInvoiceIfAbsent(ctx context.Context, invoice *models.Invoice) (bool, error)
	FindInvoiceByOrderID(ctx context.Context, orderID uuid.UUID) (*models.Invoice, error)

	CreateRefund(ctx context.Context, refund *models.Refund) error
	FindRefundByKey(ctx context.Context, key string) (*models.Refund, error)
	CompleteRefund(ctx context.Context, id uuid.UUID, processorRefundID string) (bool, error)
	FailRefund(ctx context.Context, id uuid.UUID, reason string) (bool, error)
}

type repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) CreatePayment(ctx context.Context, payment *models.Payment) error {
	return r.db.WithContext(ctx).Create(payment).Error
}

func (r *repository) FindByOrderID(ctx context.Context, orderID uuid.UUID) (*models.Payment, error) {
	return r.findPayment(ctx, "order_id = ?", orderID)
}

func (r *repository) FindByExternalRef(ctx context.Context, ref string) (*models.Payment, error) {
	return r.findPayment(ctx, "external_ref = ?", ref)
}

// FindByIntentID matches intent-flow payments by external_ref and checkout
// payments by the intent recorded when the session completed.
func (r *repository) FindByIntentID(ctx context.Context, intentID string) (*models.Payment, error) {
	return r.findPayment(ctx, "external_ref = ? OR processor_intent_id = ?", intentID, intentID)
}

func (r *repository) findPayment(ctx context.Context, query string, args ...any) (*models.Payment, error) {
	var payment models.Payment
	err := r.db.WithContext(ctx).Where(query, args...).Take(&payment).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &payment, nil
}

// TransitionStatus is a compare-and-swap on status. updates are applied in
// the same statement.
func (r *repository) TransitionStatus(ctx context.Context, id uuid.UUID, from, to enums.PaymentStatus, updates map[string]any) (bool, error) {
	values := map[string]any{"status": to}
	for k, v := range updates {
		values[k] = v
	}
	res := r.db.WithContext(ctx).
		Model(&models.Payment{}).
		Where("id = ? AND status = ?", id, from).
		Updates(values)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// ReplaceIntent points an unpaid intent-flow payment at a new intent.
func (r *repository) ReplaceIntent(ctx context.Context, id uuid.UUID, oldRef, newIntentID string) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.Payment{}).
		Where("id = ? AND external_ref = ? AND status IN ?", id, oldRef,
			[]enums.PaymentStatus{enums.PaymentStatusPending, enums.PaymentStatusFailed}).
		Updates(map[string]any{
			"external_ref":        newIntentID,
			"processor_intent_id": newIntentID,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *repository) ListStaleIntentPayments(ctx context.Context, updatedBefore time.Time, limit int) ([]models.Payment, error) {
	var payments []models.Payment
	err := r.db.WithContext(ctx).
		Where("flow = ? AND status IN ? AND updated_at < ?",
			enums.PaymentFlowIntent,
			[]enums.PaymentStatus{enums.PaymentStatusPending, enums.PaymentStatusFailed},
			updatedBefore).
		Order("updated_at ASC").
		Limit(limit).
		Find(&payments).Error
	return payments, err
}

func (r *repository) Touch(ctx context.Context, id uuid.UUID) error {
	return r.db.WithContext(ctx).
		Model(&models.Payment{}).
		Where("id = ?", id).
		Update("updated_at", time.Now().UTC()).Error
}

// CreateInvoiceIfAbsent inserts the invoice unless the order already has one.
// It reports whether a row was written.
func (r *repository) CreateInvoiceIfAbsent(ctx context.Context, invoice *models.Invoice) (bool, error) {
	res := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "order_id"}}, DoNothing: true}).
		Create(invoice)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *repository) FindInvoiceByOrderID(ctx context.Context, orderID uuid.UUID) (*models.Invoice, error) {
	var invoice models.Invoice
	err := r.db.WithContext(ctx).Where("order_id = ?", orderID).Take(&invoice).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &invoice, nil
}

func (r *repository) CreateRefund(ctx context.Context, refund *models.Refund) error {
	return r.db.WithContext(ctx).Create(refund).Error
}

func (r *repository) FindRefundByKey(ctx context.Context, key string) (*models.Refund, error) {
	var refund models.Refund
	err := r.db.WithContext(ctx).Where("idempotency_key = ?", key).Take(&refund).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &refund, nil
}

func (r *repository) CompleteRefund(ctx context.Context, id uuid.UUID, processorRefundID string) (bool, error) {
	return r.settleRefund(ctx, id, map[string]any{
		"status":              enums.RefundStatusSucceeded,
		"processor_refund_id": processorRefundID,
	})
}

func (r *repository) FailRefund(ctx context.Context, id uuid.UUID, reason string) (bool, error) {
	return r.settleRefund(ctx, id, map[string]any{
		"status":         enums.RefundStatusFailed,
		"failure_reason": reason,
	})
}

func (r *repository) settleRefund(ctx context.Context, id uuid.UUID, values map[string]any) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.Refund{}).
		Where("id = ? AND status = ?", id, enums.RefundStatusPending).
		Updates(values)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}
