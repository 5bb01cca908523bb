package payments

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/orderflow-backend/internal/catalog"
	"github.com/angelmondragon/orderflow-backend/internal/orders"
	"github.com/angelmondragon/orderflow-backend/pkg/enums"
	"github.com/angelmondragon/orderflow-backend/pkg/types"
)

// Stripe caps metadata values at 500 characters and keys at 50 per object,
// so larger JSON blobs are split across numbered keys.
const (
	metadataValueLimit = 500
	metadataMaxKeys    = 50

	metaUserID          = "user_id"
	metaOrderID         = "order_id"
	metaOrderNumber     = "order_number"
	metaPaymentMethod   = "payment_method"
	metaItems           = "items"
	metaShippingAddress = "shipping_address"
	metaBillingAddress  = "billing_address"

	metadataTitleLimit = 120
)

// checkoutItem is the compact metadata form of a checkout line. It carries
// the price quoted when the session was opened so the paid order does not
// depend on later catalog edits.
type checkoutItem struct {
	Type           enums.ItemType  `json:"t"`
	ID             uuid.UUID       `json:"i"`
	Quantity       int             `json:"q"`
	VendorID       uuid.UUID       `json:"v"`
	UnitPriceCents int64           `json:"p"`
	CommissionRate decimal.Decimal `json:"r"`
	Title          string          `json:"n,omitempty"`
}

func newCheckoutItem(line orders.LineItemInput, quote orders.PricedLine) checkoutItem {
	return checkoutItem{
		Type:           line.Ref.Type,
		ID:             line.Ref.ID,
		Quantity:       line.Quantity,
		VendorID:       quote.VendorID,
		UnitPriceCents: quote.UnitPriceCents,
		CommissionRate: quote.CommissionRate,
		Title:          truncateRunes(quote.Title, metadataTitleLimit),
	}
}

// checkoutMetadata is what a checkout session carries for the order that
// will be created when it completes.
type checkoutMetadata struct {
	UserID          uuid.UUID
	PaymentMethod   enums.PaymentMethod
	Items           []checkoutItem
	ShippingAddress *types.Address
	BillingAddress  *types.Address
}

func (m checkoutMetadata) encode() (map[string]string, error) {
	out := map[string]string{
		metaUserID:        m.UserID.String(),
		metaPaymentMethod: string(m.PaymentMethod),
	}
	if err := putJSON(out, metaItems, m.Items); err != nil {
		return nil, err
	}
	if m.ShippingAddress != nil {
		if err := putJSON(out, metaShippingAddress, m.ShippingAddress); err != nil {
			return nil, err
		}
	}
	if m.BillingAddress != nil {
		if err := putJSON(out, metaBillingAddress, m.BillingAddress); err != nil {
			return nil, err
		}
	}
	if len(out) > metadataMaxKeys {
		return nil, fmt.Errorf("checkout metadata needs %d keys, limit is %d", len(out), metadataMaxKeys)
	}
	return out, nil
}

func decodeCheckoutMetadata(md map[string]string) (checkoutMetadata, error) {
	var out checkoutMetadata

	userID, err := uuid.Parse(md[metaUserID])
	if err != nil {
		return out, fmt.Errorf("metadata user_id: %w", err)
	}
	out.UserID = userID

	out.PaymentMethod = enums.PaymentMethodStripe
	if raw := md[metaPaymentMethod]; raw != "" {
		method, err := enums.ParsePaymentMethod(raw)
		if err != nil {
			return out, err
		}
		out.PaymentMethod = method
	}

	found, err := getJSON(md, metaItems, &out.Items)
	if err != nil {
		return out, err
	}
	if !found || len(out.Items) == 0 {
		return out, fmt.Errorf("metadata items missing")
	}
	for idx, item := range out.Items {
		if item.VendorID == uuid.Nil {
			return out, fmt.Errorf("metadata items[%d] has no price snapshot", idx)
		}
	}

	var shipping types.Address
	if found, err := getJSON(md, metaShippingAddress, &shipping); err != nil {
		return out, err
	} else if found {
		out.ShippingAddress = &shipping
	}
	var billing types.Address
	if found, err := getJSON(md, metaBillingAddress, &billing); err != nil {
		return out, err
	} else if found {
		out.BillingAddress = &billing
	}
	return out, nil
}

func (i checkoutItem) ref() catalog.ItemRef {
	return catalog.ItemRef{Type: i.Type, ID: i.ID}
}

// lineItem rebuilds the order line from the snapshot.
func (i checkoutItem) lineItem() orders.LineItemInput {
	return orders.LineItemInput{
		Ref:      i.ref(),
		Quantity: i.Quantity,
		Priced: &orders.PricedLine{
			VendorID:       i.VendorID,
			Title:          i.Title,
			UnitPriceCents: i.UnitPriceCents,
			CommissionRate: i.CommissionRate,
		},
	}
}

func truncateRunes(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit])
}

// putJSON stores v under key, or under key_0..key_n plus key_parts when the
// encoding is longer than one metadata value. Limits count characters.
func putJSON(md map[string]string, key string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	runes := []rune(string(raw))
	if len(runes) <= metadataValueLimit {
		md[key] = string(runes)
		return nil
	}
	parts := 0
	for start := 0; start < len(runes); start += metadataValueLimit {
		end := start + metadataValueLimit
		if end > len(runes) {
			end = len(runes)
		}
		md[fmt.Sprintf("%s_%d", key, parts)] = string(runes[start:end])
		parts++
	}
	md[key+"_parts"] = strconv.Itoa(parts)
	return nil
}

func getJSON(md map[string]string, key string, dst any) (bool, error) {
	encoded, ok := md[key]
	if !ok {
		rawParts, chunked := md[key+"_parts"]
		if !chunked {
			return false, nil
		}
		parts, err := strconv.Atoi(rawParts)
		if err != nil || parts <= 0 {
			return false, fmt.Errorf("metadata %s_parts invalid", key)
		}
		var b strings.Builder
		for i := 0; i < parts; i++ {
			chunk, ok := md[fmt.Sprintf("%s_%d", key, i)]
			if !ok {
				return false, fmt.Errorf("metadata %s_%d missing", key, i)
			}
			b.WriteString(chunk)
		}
		encoded = b.String()
	}
	if err := json.Unmarshal([]byte(encoded), dst); err != nil {
		return false, fmt.Errorf("metadata %s: %w", key, err)
	}
	return true, nil
}
