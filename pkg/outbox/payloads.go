package outbox

import (
	"time"

	"github.com/google/uuid"
)

// OrderEvent is the data block for order lifecycle events.
type OrderEvent struct {
	OrderID        uuid.UUID `json:"orderId"`
	OrderNumber    string    `json:"orderNumber"`
	UserID         uuid.UUID `json:"userId"`
	Status         string    `json:"status"`
	PrevStatus     string    `json:"previousStatus,omitempty"`
	TotalCents     int64     `json:"totalCents"`
	Currency       string    `json:"currency,omitempty"`
	VendorIDs      []string  `json:"vendorIds,omitempty"`
	StockShortfall bool      `json:"stockShortfall,omitempty"`
}

// PaymentEvent is the data block for payment and refund events.
type PaymentEvent struct {
	OrderID       uuid.UUID  `json:"orderId"`
	PaymentID     uuid.UUID  `json:"paymentId"`
	Status        string     `json:"status"`
	AmountCents   int64      `json:"amountCents"`
	Currency      string     `json:"currency"`
	ExternalRef   string     `json:"externalRef"`
	PaidAt        *time.Time `json:"paidAt,omitempty"`
	FailureReason string     `json:"failureReason,omitempty"`
	RefundID      *uuid.UUID `json:"refundId,omitempty"`
}

// InvoiceEvent is the data block for invoice.issued.
type InvoiceEvent struct {
	OrderID       uuid.UUID `json:"orderId"`
	InvoiceID     uuid.UUID `json:"invoiceId"`
	InvoiceNumber string    `json:"invoiceNumber"`
	AmountCents   int64     `json:"amountCents"`
	Currency      string    `json:"currency"`
}
