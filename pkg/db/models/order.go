package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/orderflow-backend/pkg/enums"
	"github.com/angelmondragon/orderflow-backend/pkg/types"
)

// Order is a durable purchase record. Totals are computed from items at
// creation and never taken from caller input.
type Order struct {
	ID              uuid.UUID           `gorm:"column:id;type:uuid;primaryKey" json:"id"`
	OrderNumber     string              `gorm:"column:order_number;not null;uniqueIndex:ux_orders_order_number" json:"orderNumber"`
	UserID          uuid.UUID           `gorm:"column:user_id;type:uuid;not null;index" json:"userId"`
	Status          enums.OrderStatus   `gorm:"column:status;type:order_status;not null;default:'PENDING'" json:"status"`
	SubtotalCents   int64               `gorm:"column:subtotal_cents;not null" json:"subtotalCents"`
	TaxCents        int64               `gorm:"column:tax_cents;not null;default:0" json:"taxCents"`
	ShippingCents   int64               `gorm:"column:shipping_cents;not null;default:0" json:"shippingCents"`
	TotalCents      int64               `gorm:"column:total_cents;not null" json:"totalCents"`
	Currency        string              `gorm:"column:currency;not null" json:"currency"`
	PaymentMethod   enums.PaymentMethod `gorm:"column:payment_method;type:payment_method;not null" json:"paymentMethod"`
	ShippingAddress types.Address       `gorm:"column:shipping_address;type:jsonb;not null" json:"shippingAddress"`
	BillingAddress  *types.Address      `gorm:"column:billing_address;type:jsonb" json:"billingAddress,omitempty"`
	Notes           *string             `gorm:"column:notes" json:"notes,omitempty"`
	StockShortfall  bool                `gorm:"column:stock_shortfall;not null;default:false" json:"stockShortfall"`
	CreatedAt       time.Time           `gorm:"column:created_at;autoCreateTime" json:"createdAt"`
	UpdatedAt       time.Time           `gorm:"column:updated_at;autoUpdateTime" json:"updatedAt"`

	Items   []OrderItem `gorm:"foreignKey:OrderID" json:"items"`
	Payment *Payment    `gorm:"foreignKey:OrderID" json:"payment"`
	Invoice *Invoice    `gorm:"foreignKey:OrderID" json:"invoice,omitempty"`
}

func (o *Order) BeforeCreate(*gorm.DB) error {
	ensureID(&o.ID)
	return nil
}

// OrderItem is an immutable order line referencing exactly one of a product
// or a service, with the commission split captured at order time.
type OrderItem struct {
	ID                  uuid.UUID       `gorm:"column:id;type:uuid;primaryKey" json:"id"`
	OrderID             uuid.UUID       `gorm:"column:order_id;type:uuid;not null;index" json:"orderId"`
	ProductID           *uuid.UUID      `gorm:"column:product_id;type:uuid" json:"productId,omitempty"`
	ServiceID           *uuid.UUID      `gorm:"column:service_id;type:uuid" json:"serviceId,omitempty"`
	VendorID            uuid.UUID       `gorm:"column:vendor_id;type:uuid;not null;index" json:"vendorId"`
	Title               string          `gorm:"column:title;not null" json:"title"`
	ItemType            enums.ItemType  `gorm:"column:item_type;type:item_type;not null" json:"itemType"`
	Quantity            int             `gorm:"column:quantity;not null" json:"quantity"`
	UnitPriceCents      int64           `gorm:"column:unit_price_cents;not null" json:"unitPriceCents"`
	SubtotalCents       int64           `gorm:"column:subtotal_cents;not null" json:"subtotalCents"`
	CommissionRate      decimal.Decimal `gorm:"column:commission_rate;type:numeric(5,2);not null" json:"commissionRate"`
	CommissionCents     int64           `gorm:"column:commission_cents;not null" json:"commissionCents"`
	VendorEarningsCents int64           `gorm:"column:vendor_earnings_cents;not null" json:"vendorEarningsCents"`
	CreatedAt           time.Time       `gorm:"column:created_at;autoCreateTime" json:"createdAt"`
}

func (i *OrderItem) BeforeCreate(*gorm.DB) error {
	ensureID(&i.ID)
	return nil
}
