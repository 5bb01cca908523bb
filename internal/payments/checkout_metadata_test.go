package payments

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/orderflow-backend/internal/catalog"
	"github.com/angelmondragon/orderflow-backend/internal/orders"
	"github.com/angelmondragon/orderflow-backend/pkg/enums"
	"github.com/angelmondragon/orderflow-backend/pkg/types"
)

func snapshotItem(itemType enums.ItemType, qty int) checkoutItem {
	return checkoutItem{
		Type:           itemType,
		ID:             uuid.New(),
		Quantity:       qty,
		VendorID:       uuid.New(),
		UnitPriceCents: 2500,
		CommissionRate: decimal.RequireFromString("12.5"),
		Title:          "Desk lamp",
	}
}

func assertSameItems(t *testing.T, want, got []checkoutItem) {
	t.Helper()
	require.Len(t, got, len(want))
	for i := range want {
		assert.Equal(t, want[i].Type, got[i].Type)
		assert.Equal(t, want[i].ID, got[i].ID)
		assert.Equal(t, want[i].Quantity, got[i].Quantity)
		assert.Equal(t, want[i].VendorID, got[i].VendorID)
		assert.Equal(t, want[i].UnitPriceCents, got[i].UnitPriceCents)
		assert.True(t, want[i].CommissionRate.Equal(got[i].CommissionRate), "rate %s != %s", want[i].CommissionRate, got[i].CommissionRate)
		assert.Equal(t, want[i].Title, got[i].Title)
	}
}

func TestCheckoutMetadataRoundTrip(t *testing.T) {
	addr := testAddress()
	addr.FullName = strings.Repeat("é", 600)

	items := make([]checkoutItem, 0, 20)
	for i := 0; i < 20; i++ {
		items = append(items, snapshotItem(enums.ItemTypeProduct, i+1))
	}
	in := checkoutMetadata{
		UserID:          uuid.New(),
		PaymentMethod:   enums.PaymentMethodCreditCard,
		Items:           items,
		ShippingAddress: &addr,
	}

	md, err := in.encode()
	require.NoError(t, err)
	assert.Contains(t, md, metaItems+"_parts")
	assert.Contains(t, md, metaShippingAddress+"_parts")
	assert.NotContains(t, md, metaBillingAddress)
	for key, value := range md {
		assert.LessOrEqual(t, utf8.RuneCountInString(value), metadataValueLimit, key)
		assert.True(t, utf8.ValidString(value), key)
	}

	out, err := decodeCheckoutMetadata(md)
	require.NoError(t, err)
	assert.Equal(t, in.UserID, out.UserID)
	assert.Equal(t, in.PaymentMethod, out.PaymentMethod)
	assertSameItems(t, in.Items, out.Items)
	require.NotNil(t, out.ShippingAddress)
	assert.Equal(t, addr, *out.ShippingAddress)
	assert.Nil(t, out.BillingAddress)
}

func TestCheckoutMetadataSmallValuesStayInline(t *testing.T) {
	billing := types.Address{FullName: "A", City: "Pune", Country: "IN"}
	md, err := checkoutMetadata{
		UserID:         uuid.New(),
		Items:          []checkoutItem{snapshotItem(enums.ItemTypeService, 1)},
		BillingAddress: &billing,
	}.encode()
	require.NoError(t, err)
	assert.Contains(t, md, metaItems)
	assert.Contains(t, md, metaBillingAddress)

	delete(md, metaPaymentMethod)
	out, err := decodeCheckoutMetadata(md)
	require.NoError(t, err)
	assert.Equal(t, enums.PaymentMethodStripe, out.PaymentMethod)
	assert.Equal(t, enums.ItemTypeService, out.Items[0].ref().Type)
}

func TestCheckoutMetadataLimits(t *testing.T) {
	items := make([]checkoutItem, 0, 600)
	for i := 0; i < 600; i++ {
		items = append(items, snapshotItem(enums.ItemTypeProduct, 1))
	}
	_, err := checkoutMetadata{UserID: uuid.New(), Items: items}.encode()
	assert.Error(t, err)
}

func TestDecodeCheckoutMetadataErrors(t *testing.T) {
	_, err := decodeCheckoutMetadata(map[string]string{metaItems: `[]`})
	assert.Error(t, err, "user id required")

	_, err = decodeCheckoutMetadata(map[string]string{metaUserID: uuid.NewString()})
	assert.Error(t, err, "items required")

	_, err = decodeCheckoutMetadata(map[string]string{metaUserID: uuid.NewString(), metaItems: `[]`})
	assert.Error(t, err, "empty items")

	_, err = decodeCheckoutMetadata(map[string]string{metaUserID: uuid.NewString(), metaItems + "_parts": "2", metaItems + "_0": `[`})
	assert.Error(t, err, "missing chunk")

	_, err = decodeCheckoutMetadata(map[string]string{metaUserID: uuid.NewString(), metaPaymentMethod: "BARTER", metaItems: `[{"t":"PRODUCT","i":"` + uuid.NewString() + `","q":1}]`})
	assert.Error(t, err, "unknown payment method")

	_, err = decodeCheckoutMetadata(map[string]string{metaUserID: uuid.NewString(), metaItems: `[{"t":"PRODUCT","i":"` + uuid.NewString() + `","q":1}]`})
	assert.Error(t, err, "items without a price snapshot")
}

func TestCheckoutItemCarriesQuote(t *testing.T) {
	line := orders.LineItemInput{Ref: catalog.ProductRef(uuid.New()), Quantity: 3}
	quote := orders.PricedLine{
		VendorID:       uuid.New(),
		Title:          strings.Repeat("ü", metadataTitleLimit+10),
		UnitPriceCents: 1999,
		CommissionRate: decimal.NewFromInt(15),
	}

	item := newCheckoutItem(line, quote)
	assert.Equal(t, metadataTitleLimit, utf8.RuneCountInString(item.Title))

	md, err := checkoutMetadata{UserID: uuid.New(), Items: []checkoutItem{item}}.encode()
	require.NoError(t, err)
	decoded, err := decodeCheckoutMetadata(md)
	require.NoError(t, err)

	rebuilt := decoded.Items[0].lineItem()
	assert.Equal(t, line.Ref, rebuilt.Ref)
	assert.Equal(t, 3, rebuilt.Quantity)
	require.NotNil(t, rebuilt.Priced)
	assert.Equal(t, quote.VendorID, rebuilt.Priced.VendorID)
	assert.Equal(t, int64(1999), rebuilt.Priced.UnitPriceCents)
	assert.True(t, rebuilt.Priced.CommissionRate.Equal(decimal.NewFromInt(15)))
	assert.Equal(t, item.Title, rebuilt.Priced.Title)
}
