package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/orderflow-backend/pkg/enums"
)

// Payment is the single processor-backed payment of an order.
type Payment struct {
	ID                uuid.UUID           `gorm:"column:id;type:uuid;primaryKey" json:"id"`
	OrderID           uuid.UUID           `gorm:"column:order_id;type:uuid;not null;uniqueIndex:ux_payments_order_id" json:"orderId"`
	AmountCents       int64               `gorm:"column:amount_cents;not null" json:"amountCents"`
	Currency          string              `gorm:"column:currency;not null" json:"currency"`
	Status            enums.PaymentStatus `gorm:"column:status;type:payment_status;not null;default:'PENDING'" json:"status"`
	Flow              enums.PaymentFlow   `gorm:"column:flow;type:payment_flow;not null" json:"flow"`
	ExternalRef       string              `gorm:"column:external_ref;not null;uniqueIndex:ux_payments_external_ref" json:"externalRef"`
	ProcessorIntentID *string             `gorm:"column:processor_intent_id" json:"processorIntentId,omitempty"`
	FailureReason     *string             `gorm:"column:failure_reason" json:"failureReason,omitempty"`
	PaidAt            *time.Time          `gorm:"column:paid_at" json:"paidAt,omitempty"`
	RefundedAt        *time.Time          `gorm:"column:refunded_at" json:"refundedAt,omitempty"`
	RefundedCents     int64               `gorm:"column:refunded_cents;not null;default:0" json:"refundedCents"`
	CreatedAt         time.Time           `gorm:"column:created_at;autoCreateTime" json:"createdAt"`
	UpdatedAt         time.Time           `gorm:"column:updated_at;autoUpdateTime" json:"updatedAt"`
}

func (p *Payment) BeforeCreate(*gorm.DB) error {
	ensureID(&p.ID)
	return nil
}

// Invoice is issued once per paid order and never changes.
type Invoice struct {
	ID            uuid.UUID `gorm:"column:id;type:uuid;primaryKey" json:"id"`
	OrderID       uuid.UUID `gorm:"column:order_id;type:uuid;not null;uniqueIndex:ux_invoices_order_id" json:"orderId"`
	InvoiceNumber string    `gorm:"column:invoice_number;not null;uniqueIndex:ux_invoices_invoice_number" json:"invoiceNumber"`
	AmountCents   int64     `gorm:"column:amount_cents;not null" json:"amountCents"`
	Currency      string    `gorm:"column:currency;not null" json:"currency"`
	IssuedAt      time.Time `gorm:"column:issued_at;not null" json:"issuedAt"`
}

func (i *Invoice) BeforeCreate(*gorm.DB) error {
	ensureID(&i.ID)
	return nil
}

// Refund records one refund request, keyed by the caller's idempotency key.
type Refund struct {
	ID                uuid.UUID          `gorm:"column:id;type:uuid;primaryKey" json:"id"`
	OrderID           uuid.UUID          `gorm:"column:order_id;type:uuid;not null;index" json:"orderId"`
	PaymentID         uuid.UUID          `gorm:"column:payment_id;type:uuid;not null" json:"paymentId"`
	IdempotencyKey    string             `gorm:"column:idempotency_key;not null;uniqueIndex:ux_refunds_idempotency_key" json:"idempotencyKey"`
	AmountCents       int64              `gorm:"column:amount_cents;not null" json:"amountCents"`
	Status            enums.RefundStatus `gorm:"column:status;type:refund_status;not null;default:'PENDING'" json:"status"`
	ProcessorRefundID *string            `gorm:"column:processor_refund_id" json:"processorRefundId,omitempty"`
	FailureReason     *string            `gorm:"column:failure_reason" json:"failureReason,omitempty"`
	RequestedBy       uuid.UUID          `gorm:"column:requested_by;type:uuid;not null" json:"requestedBy"`
	CreatedAt         time.Time          `gorm:"column:created_at;autoCreateTime" json:"createdAt"`
	UpdatedAt         time.Time          `gorm:"column:updated_at;autoUpdateTime" json:"updatedAt"`
}

func (r *Refund) BeforeCreate(*gorm.DB) error {
	ensureID(&r.ID)
	return nil
}
