package orders

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/orderflow-backend/api/validators"
	"github.com/angelmondragon/orderflow-backend/internal/catalog"
	internalorders "github.com/angelmondragon/orderflow-backend/internal/orders"
	"github.com/angelmondragon/orderflow-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/orderflow-backend/pkg/errors"
	"github.com/angelmondragon/orderflow-backend/pkg/types"
)

// ItemRequest names exactly one of productId or serviceId. Price is the
// client's view in major units and is only checked against the catalog.
type ItemRequest struct {
	ProductID *uuid.UUID       `json:"productId,omitempty"`
	ServiceID *uuid.UUID       `json:"serviceId,omitempty"`
	Quantity  int              `json:"quantity" validate:"gt=0"`
	Price     *decimal.Decimal `json:"price,omitempty"`
}

type createOrderRequest struct {
	Items           []ItemRequest  `json:"items" validate:"required,min=1,dive"`
	ShippingAddress types.Address  `json:"shippingAddress"`
	BillingAddress  *types.Address `json:"billingAddress,omitempty"`
	PaymentMethod   string         `json:"paymentMethod" validate:"required"`
	Notes           *string        `json:"notes,omitempty" validate:"omitempty,max=1000"`
}

type updateStatusRequest struct {
	Status string  `json:"status" validate:"required"`
	Notes  *string `json:"notes,omitempty" validate:"omitempty,max=1000"`
}

// LineItems converts request items into service line inputs.
func LineItems(items []ItemRequest) ([]internalorders.LineItemInput, error) {
	lines := make([]internalorders.LineItemInput, 0, len(items))
	for idx, item := range items {
		field := fmt.Sprintf("items[%d]", idx)

		var ref catalog.ItemRef
		switch {
		case item.ProductID != nil && item.ServiceID != nil,
			item.ProductID == nil && item.ServiceID == nil:
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "item requires exactly one of productId or serviceId").
				WithDetails(map[string]any{"field": field})
		case item.ProductID != nil:
			ref = catalog.ProductRef(*item.ProductID)
		default:
			ref = catalog.ServiceRef(*item.ServiceID)
		}

		line := internalorders.LineItemInput{Ref: ref, Quantity: item.Quantity}
		if item.Price != nil {
			cents, err := validators.MinorUnits(field+".price", *item.Price)
			if err != nil {
				return nil, err
			}
			line.ClientPriceCents = &cents
		}
		lines = append(lines, line)
	}
	return lines, nil
}

// ParsePaymentMethod accepts the method case-insensitively. Empty input
// returns the zero value.
func ParsePaymentMethod(raw string) (enums.PaymentMethod, error) {
	raw = strings.ToUpper(strings.TrimSpace(raw))
	if raw == "" {
		return "", nil
	}
	method, err := enums.ParsePaymentMethod(raw)
	if err != nil {
		return "", pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid payment method").
			WithDetails(map[string]any{"field": "paymentMethod"})
	}
	return method, nil
}

func (req createOrderRequest) toInput(caller uuid.UUID) (internalorders.CreateOrderInput, error) {
	lines, err := LineItems(req.Items)
	if err != nil {
		return internalorders.CreateOrderInput{}, err
	}
	method, err := ParsePaymentMethod(req.PaymentMethod)
	if err != nil {
		return internalorders.CreateOrderInput{}, err
	}
	return internalorders.CreateOrderInput{
		UserID:          caller,
		Items:           lines,
		ShippingAddress: req.ShippingAddress,
		BillingAddress:  req.BillingAddress,
		PaymentMethod:   method,
		Notes:           trimNotes(req.Notes),
	}, nil
}

const maxNotesLen = 1000

func trimNotes(notes *string) *string {
	if notes == nil {
		return nil
	}
	trimmed := validators.SanitizeString(*notes, maxNotesLen)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}
