package catalog

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/orderflow-backend/pkg/db/dbtest"
	"github.com/angelmondragon/orderflow-backend/pkg/db/models"
)

func TestFindItemsResolvesProductsServicesAndVendorRates(t *testing.T) {
	conn := dbtest.Open(t)
	rated := models.Vendor{UserID: uuid.New(), BusinessName: "rated", CommissionRate: decimal.NewNullDecimal(decimal.NewFromInt(15))}
	plain := models.Vendor{UserID: uuid.New(), BusinessName: "plain"}
	dbtest.Seed(t, conn, &rated, &plain)

	product := models.Product{VendorID: rated.ID, Title: "lamp", PriceCents: 2500}
	service := models.Service{VendorID: plain.ID, Title: "install", PriceCents: 9900}
	dbtest.Seed(t, conn, &product, &service)

	missing := ProductRef(uuid.New())
	items, err := NewRepository(conn).FindItems(context.Background(), []ItemRef{
		ProductRef(product.ID), ServiceRef(service.ID), missing,
	})
	require.NoError(t, err)
	require.Len(t, items, 2)

	lamp := items[ProductRef(product.ID)]
	assert.True(t, lamp.Active)
	assert.Equal(t, int64(2500), lamp.PriceCents)
	assert.True(t, lamp.CommissionRate.Valid)
	assert.Equal(t, "15", lamp.CommissionRate.Decimal.String())

	install := items[ServiceRef(service.ID)]
	assert.Equal(t, plain.ID, install.VendorID)
	assert.False(t, install.CommissionRate.Valid)

	_, found := items[missing]
	assert.False(t, found)
}

func TestFindItemsInactiveVendorMakesItemInactive(t *testing.T) {
	conn := dbtest.Open(t)
	vendor := models.Vendor{UserID: uuid.New(), BusinessName: "closed"}
	dbtest.Seed(t, conn, &vendor)
	require.NoError(t, conn.Model(&vendor).Update("is_active", false).Error)

	product := models.Product{VendorID: vendor.ID, Title: "lamp", PriceCents: 100}
	dbtest.Seed(t, conn, &product)

	items, err := NewRepository(conn).FindItems(context.Background(), []ItemRef{ProductRef(product.ID)})
	require.NoError(t, err)
	assert.False(t, items[ProductRef(product.ID)].Active)
}

func TestFindVendorByUserID(t *testing.T) {
	conn := dbtest.Open(t)
	vendor := models.Vendor{UserID: uuid.New(), BusinessName: "acme"}
	dbtest.Seed(t, conn, &vendor)

	repo := NewRepository(conn)
	got, err := repo.FindVendorByUserID(context.Background(), vendor.UserID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, vendor.ID, got.ID)

	none, err := repo.FindVendorByUserID(context.Background(), uuid.New())
	require.NoError(t, err)
	assert.Nil(t, none)
}
