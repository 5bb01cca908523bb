package orders

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/orderflow-backend/internal/catalog"
	"github.com/angelmondragon/orderflow-backend/pkg/auth"
	"github.com/angelmondragon/orderflow-backend/pkg/db/models"
	"github.com/angelmondragon/orderflow-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/orderflow-backend/pkg/errors"
	"github.com/angelmondragon/orderflow-backend/pkg/pagination"
	"github.com/angelmondragon/orderflow-backend/pkg/types"
)

// LineItemInput is one requested order line. ClientPriceCents is what the
// caller believed the price to be; it is compared but never charged.
// Priced lines skip the catalog and keep the captured price.
type LineItemInput struct {
	Ref              catalog.ItemRef
	Quantity         int
	ClientPriceCents *int64
	Priced           *PricedLine
}

// PricedLine is a catalog price captured before the order exists, with the
// vendor's effective commission rate.
type PricedLine struct {
	VendorID       uuid.UUID
	Title          string
	UnitPriceCents int64
	CommissionRate decimal.Decimal
}

// CreateOrderInput carries everything needed to place an order.
type CreateOrderInput struct {
	UserID          uuid.UUID
	Items           []LineItemInput
	ShippingAddress types.Address
	BillingAddress  *types.Address
	PaymentMethod   enums.PaymentMethod
	Notes           *string

	// InitialStatus is used by the checkout reconciliation path, which
	// creates orders that are already paid. Empty means PENDING.
	InitialStatus enums.OrderStatus
	Actor         *auth.Identity

	// AllowStockShortfall keeps the order when stock cannot be reserved.
	// Only paid checkouts set it; the order is flagged for fulfilment.
	AllowStockShortfall bool
}

// ListFilters narrows the order list. Nil fields are not applied.
type ListFilters struct {
	Status    *enums.OrderStatus
	StartDate *time.Time
	EndDate   *time.Time
	Page      pagination.Params
}

// ListResult is a page of orders plus pagination metadata.
type ListResult struct {
	Orders     []models.Order  `json:"orders"`
	Pagination pagination.Meta `json:"pagination"`
}

// UpdateStatusInput requests a status change on behalf of Caller.
type UpdateStatusInput struct {
	OrderID uuid.UUID
	Status  enums.OrderStatus
	Notes   *string
	Caller  auth.Identity
}

const dateOnlyLayout = "2006-01-02"

// ParseDateFilter accepts RFC3339 timestamps or YYYY-MM-DD dates. A date-only
// end bound is widened to cover the whole day.
func ParseDateFilter(raw string, endOfDay bool) (*time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	if ts, err := time.Parse(time.RFC3339, raw); err == nil {
		ts = ts.UTC()
		return &ts, nil
	}
	day, err := time.Parse(dateOnlyLayout, raw)
	if err != nil {
		return nil, pkgerrors.Newf(pkgerrors.CodeValidation, "invalid date %q", raw).
			WithDetails(map[string]any{"value": raw, "expected": "RFC3339 or YYYY-MM-DD"})
	}
	if endOfDay {
		day = day.Add(24*time.Hour - time.Nanosecond)
	}
	return &day, nil
}
