package orders

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/angelmondragon/orderflow-backend/internal/cart"
	"github.com/angelmondragon/orderflow-backend/internal/catalog"
	"github.com/angelmondragon/orderflow-backend/internal/commission"
	"github.com/angelmondragon/orderflow-backend/internal/inventory"
	"github.com/angelmondragon/orderflow-backend/pkg/auth"
	"github.com/angelmondragon/orderflow-backend/pkg/db"
	"github.com/angelmondragon/orderflow-backend/pkg/db/dbtest"
	"github.com/angelmondragon/orderflow-backend/pkg/db/models"
	"github.com/angelmondragon/orderflow-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/orderflow-backend/pkg/errors"
	"github.com/angelmondragon/orderflow-backend/pkg/outbox"
	"github.com/angelmondragon/orderflow-backend/pkg/pagination"
	"github.com/angelmondragon/orderflow-backend/pkg/types"
)

type fixture struct {
	conn     *gorm.DB
	svc      Service
	customer uuid.UUID
	vendorA  models.Vendor
	vendorB  models.Vendor
	lamp     models.Product
	ebook    models.Product
	install  models.Service
}

func intPtr(v int) *int { return &v }

func newFixture(t *testing.T, opts ...func(*ServiceDeps)) *fixture {
	t.Helper()
	conn := dbtest.Open(t)

	f := &fixture{conn: conn, customer: uuid.New()}
	f.vendorA = models.Vendor{UserID: uuid.New(), BusinessName: "Lamps Ltd"}
	f.vendorB = models.Vendor{UserID: uuid.New(), BusinessName: "Installers", CommissionRate: decimal.NewNullDecimal(decimal.NewFromInt(15))}
	dbtest.Seed(t, conn, &f.vendorA, &f.vendorB)

	f.lamp = models.Product{VendorID: f.vendorA.ID, Title: "Desk lamp", PriceCents: 2500, StockQuantity: intPtr(5)}
	f.ebook = models.Product{VendorID: f.vendorA.ID, Title: "Lighting guide", ProductType: enums.ProductTypeDigital, PriceCents: 999}
	f.install = models.Service{VendorID: f.vendorB.ID, Title: "Installation", PriceCents: 10000}
	dbtest.Seed(t, conn, &f.lamp, &f.ebook, &f.install)

	lampID := f.lamp.ID
	dbtest.Seed(t, conn, &models.CartItem{UserID: f.customer, ProductID: &lampID, Quantity: 2})

	calc, err := commission.NewCalculator(commission.DefaultRatePct)
	require.NoError(t, err)

	deps := ServiceDeps{
		Repo:       NewRepository(conn),
		Tx:         db.NewFromConn(conn),
		Catalog:    catalog.NewRepository(conn),
		Carts:      cart.NewRepository(conn),
		Inventory:  inventory.NewLedger(),
		Commission: calc,
		Outbox:     outbox.NewService(outbox.NewRepository(conn), nil),
		Currency:   "inr",
	}
	for _, opt := range opts {
		opt(&deps)
	}
	svc, err := NewService(deps)
	require.NoError(t, err)
	f.svc = svc
	return f
}

func testAddress() types.Address {
	return types.Address{
		FullName:     "Asha Rao",
		AddressLine1: "12 MG Road",
		City:         "Bengaluru",
		State:        "KA",
		PostalCode:   "560001",
		Country:      "IN",
		Phone:        "+91 98450 00000",
	}
}

func (f *fixture) input(items ...LineItemInput) CreateOrderInput {
	return CreateOrderInput{
		UserID:          f.customer,
		Items:           items,
		ShippingAddress: testAddress(),
		PaymentMethod:   enums.PaymentMethodStripe,
	}
}

func (f *fixture) stockOf(t *testing.T, id uuid.UUID) *int {
	t.Helper()
	var p models.Product
	require.NoError(t, f.conn.Where("id = ?", id).Take(&p).Error)
	return p.StockQuantity
}

func (f *fixture) count(t *testing.T, model any) int64 {
	t.Helper()
	var n int64
	require.NoError(t, f.conn.Model(model).Count(&n).Error)
	return n
}

func requireCode(t *testing.T, err error, code pkgerrors.Code) *pkgerrors.Error {
	t.Helper()
	require.Error(t, err)
	typed := pkgerrors.As(err)
	require.NotNil(t, typed, "expected typed error, got %v", err)
	require.Equal(t, code, typed.Code(), "unexpected error: %v", err)
	return typed
}

func TestNewServiceRequiresDependencies(t *testing.T) {
	_, err := NewService(ServiceDeps{})
	require.Error(t, err)
}

func TestCreateOrderPricesReservesAndClearsCart(t *testing.T) {
	f := newFixture(t)
	clientPrice := int64(1)

	order, err := f.svc.Create(context.Background(), f.input(
		LineItemInput{Ref: catalog.ProductRef(f.lamp.ID), Quantity: 2, ClientPriceCents: &clientPrice},
		LineItemInput{Ref: catalog.ServiceRef(f.install.ID), Quantity: 1},
	))
	require.NoError(t, err)

	assert.Equal(t, enums.OrderStatusPending, order.Status)
	assert.Regexp(t, regexp.MustCompile(`^ORD-\d+-[0-9A-Z]{9}$`), order.OrderNumber)
	assert.Equal(t, int64(15000), order.SubtotalCents)
	assert.Equal(t, int64(15000), order.TotalCents)
	assert.Zero(t, order.TaxCents)
	assert.Zero(t, order.ShippingCents)
	assert.Equal(t, "inr", order.Currency)
	require.Len(t, order.Items, 2)

	lampLine := order.Items[0]
	assert.Equal(t, int64(2500), lampLine.UnitPriceCents, "catalog price wins over client price")
	assert.Equal(t, int64(5000), lampLine.SubtotalCents)
	assert.Equal(t, int64(500), lampLine.CommissionCents)
	assert.Equal(t, int64(4500), lampLine.VendorEarningsCents)
	assert.Equal(t, f.vendorA.ID, lampLine.VendorID)

	installLine := order.Items[1]
	assert.Equal(t, int64(1500), installLine.CommissionCents)
	assert.Equal(t, int64(8500), installLine.VendorEarningsCents)
	assert.Nil(t, installLine.ProductID)
	require.NotNil(t, installLine.ServiceID)

	var sum int64
	for _, item := range order.Items {
		sum += item.SubtotalCents
		assert.Equal(t, item.SubtotalCents, item.CommissionCents+item.VendorEarningsCents)
	}
	assert.Equal(t, order.TotalCents, sum)

	assert.Equal(t, 3, *f.stockOf(t, f.lamp.ID))
	assert.Zero(t, f.count(t, &models.CartItem{}))

	var events []models.OutboxEvent
	require.NoError(t, f.conn.Find(&events).Error)
	require.Len(t, events, 1)
	assert.Equal(t, enums.EventOrderCreated, events[0].EventType)
	assert.Equal(t, order.ID, events[0].AggregateID)

	stored, err := f.svc.Get(context.Background(), order.ID, auth.Identity{UserID: f.customer, Role: enums.UserRoleCustomer})
	require.NoError(t, err)
	assert.Equal(t, testAddress(), stored.ShippingAddress)
	require.NotNil(t, stored.BillingAddress, "billing defaults to shipping")
	assert.Equal(t, testAddress(), *stored.BillingAddress)
	assert.False(t, stored.StockShortfall)
	assert.Nil(t, stored.Payment)
	assert.Nil(t, stored.Invoice)
	assert.Len(t, stored.Items, 2)
}

func TestCreateOrderKeepsExplicitBillingAddress(t *testing.T) {
	f := newFixture(t)
	billing := testAddress()
	billing.City = "Mysuru"
	input := f.input(LineItemInput{Ref: catalog.ProductRef(f.lamp.ID), Quantity: 1})
	input.BillingAddress = &billing

	order, err := f.svc.Create(context.Background(), input)
	require.NoError(t, err)

	var stored models.Order
	require.NoError(t, f.conn.Where("id = ?", order.ID).Take(&stored).Error)
	require.NotNil(t, stored.BillingAddress)
	assert.Equal(t, "Mysuru", stored.BillingAddress.City)
	assert.Equal(t, "Bengaluru", stored.ShippingAddress.City)
}

func TestQuoteResolvesCatalogPricesAndRates(t *testing.T) {
	f := newFixture(t)
	clientPrice := int64(1)

	quotes, err := f.svc.Quote(context.Background(), []LineItemInput{
		{Ref: catalog.ProductRef(f.lamp.ID), Quantity: 2, ClientPriceCents: &clientPrice},
		{Ref: catalog.ServiceRef(f.install.ID), Quantity: 1},
	})
	require.NoError(t, err)
	require.Len(t, quotes, 2)

	assert.Equal(t, f.vendorA.ID, quotes[0].VendorID)
	assert.Equal(t, "Desk lamp", quotes[0].Title)
	assert.Equal(t, int64(2500), quotes[0].UnitPriceCents)
	assert.True(t, quotes[0].CommissionRate.Equal(decimal.NewFromInt(10)))
	assert.Equal(t, f.vendorB.ID, quotes[1].VendorID)
	assert.True(t, quotes[1].CommissionRate.Equal(decimal.NewFromInt(15)))

	assert.Equal(t, 5, *f.stockOf(t, f.lamp.ID))
	assert.Zero(t, f.count(t, &models.Order{}))

	_, err = f.svc.Quote(context.Background(), nil)
	requireCode(t, err, pkgerrors.CodeValidation)
	_, err = f.svc.Quote(context.Background(), []LineItemInput{{Ref: catalog.ProductRef(uuid.New()), Quantity: 1}})
	requireCode(t, err, pkgerrors.CodeItemUnavailable)
}

func TestCreateInTxPricesFromSnapshot(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.conn.Model(&models.Product{}).Where("id = ?", f.lamp.ID).Update("price_cents", 9900).Error)
	require.NoError(t, f.conn.Model(&models.Product{}).Where("id = ?", f.lamp.ID).Update("is_active", false).Error)

	input := f.input(LineItemInput{
		Ref:      catalog.ProductRef(f.lamp.ID),
		Quantity: 2,
		Priced: &PricedLine{
			VendorID:       f.vendorA.ID,
			Title:          "Desk lamp",
			UnitPriceCents: 2500,
			CommissionRate: decimal.NewFromInt(12),
		},
	})
	input.InitialStatus = enums.OrderStatusConfirmed

	var order *models.Order
	err := db.NewFromConn(f.conn).WithTx(context.Background(), func(tx *gorm.DB) error {
		var err error
		order, err = f.svc.CreateInTx(context.Background(), tx, input)
		return err
	})
	require.NoError(t, err)

	assert.Equal(t, enums.OrderStatusConfirmed, order.Status)
	assert.Equal(t, int64(5000), order.TotalCents)
	require.Len(t, order.Items, 1)
	assert.Equal(t, int64(600), order.Items[0].CommissionCents)
	assert.Equal(t, int64(4400), order.Items[0].VendorEarningsCents)
	assert.Equal(t, 3, *f.stockOf(t, f.lamp.ID))
}

func TestCreateInTxRejectsIncompleteSnapshot(t *testing.T) {
	f := newFixture(t)
	input := f.input(LineItemInput{
		Ref:      catalog.ProductRef(f.lamp.ID),
		Quantity: 1,
		Priced:   &PricedLine{UnitPriceCents: 2500},
	})
	err := db.NewFromConn(f.conn).WithTx(context.Background(), func(tx *gorm.DB) error {
		_, err := f.svc.CreateInTx(context.Background(), tx, input)
		return err
	})
	requireCode(t, err, pkgerrors.CodeValidation)
}

func TestCreateInTxFlagsStockShortfall(t *testing.T) {
	f := newFixture(t)
	input := f.input(
		LineItemInput{Ref: catalog.ServiceRef(f.install.ID), Quantity: 1},
		LineItemInput{Ref: catalog.ProductRef(f.ebook.ID), Quantity: 1},
		LineItemInput{Ref: catalog.ProductRef(f.lamp.ID), Quantity: 6},
	)
	input.InitialStatus = enums.OrderStatusConfirmed
	input.AllowStockShortfall = true

	var order *models.Order
	err := db.NewFromConn(f.conn).WithTx(context.Background(), func(tx *gorm.DB) error {
		var err error
		order, err = f.svc.CreateInTx(context.Background(), tx, input)
		return err
	})
	require.NoError(t, err)

	assert.True(t, order.StockShortfall)
	assert.Equal(t, int64(10000+999+15000), order.TotalCents)
	assert.Equal(t, 5, *f.stockOf(t, f.lamp.ID))
	assert.Equal(t, int64(1), f.count(t, &models.Order{}))
	assert.Zero(t, f.count(t, &models.CartItem{}))

	var event models.OutboxEvent
	require.NoError(t, f.conn.Where("event_type = ?", enums.EventOrderCreated).Take(&event).Error)
	assert.Contains(t, string(event.Payload), `"stockShortfall":true`)
}

func TestGetPreloadsInvoice(t *testing.T) {
	f := newFixture(t)
	order, err := f.svc.Create(context.Background(), f.input(LineItemInput{Ref: catalog.ProductRef(f.lamp.ID), Quantity: 1}))
	require.NoError(t, err)
	dbtest.Seed(t, f.conn, &models.Invoice{
		OrderID:       order.ID,
		InvoiceNumber: "INV-" + order.OrderNumber,
		AmountCents:   order.TotalCents,
		Currency:      order.Currency,
		IssuedAt:      time.Now().UTC(),
	})

	stored, err := f.svc.Get(context.Background(), order.ID, auth.Identity{UserID: f.customer, Role: enums.UserRoleCustomer})
	require.NoError(t, err)
	require.NotNil(t, stored.Invoice)
	assert.Equal(t, "INV-"+order.OrderNumber, stored.Invoice.InvoiceNumber)
	assert.Equal(t, order.TotalCents, stored.Invoice.AmountCents)
}

func TestCreateOrderUnlimitedStockProduct(t *testing.T) {
	f := newFixture(t)

	order, err := f.svc.Create(context.Background(), f.input(
		LineItemInput{Ref: catalog.ProductRef(f.ebook.ID), Quantity: 1000},
	))
	require.NoError(t, err)
	assert.Equal(t, int64(999000), order.TotalCents)
	assert.Nil(t, f.stockOf(t, f.ebook.ID))
}

func TestCreateOrderInsufficientStockLeavesNoTrace(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.Create(context.Background(), f.input(
		LineItemInput{Ref: catalog.ServiceRef(f.install.ID), Quantity: 1},
		LineItemInput{Ref: catalog.ProductRef(f.lamp.ID), Quantity: 6},
	))
	typed := requireCode(t, err, pkgerrors.CodeInsufficientStock)

	details, ok := typed.Details().(map[string]any)
	require.True(t, ok)
	assert.Equal(t, f.lamp.ID.String(), details["productId"])
	assert.Equal(t, 6, details["requested"])
	assert.Equal(t, 5, details["available"])

	assert.Equal(t, 5, *f.stockOf(t, f.lamp.ID))
	assert.Zero(t, f.count(t, &models.Order{}))
	assert.Zero(t, f.count(t, &models.OrderItem{}))
	assert.Zero(t, f.count(t, &models.OutboxEvent{}))
	assert.Equal(t, int64(1), f.count(t, &models.CartItem{}))
}

func TestCreateOrderRejectsUnavailableItems(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.conn.Model(&f.install).Update("is_active", false).Error)

	_, err := f.svc.Create(context.Background(), f.input(
		LineItemInput{Ref: catalog.ProductRef(f.lamp.ID), Quantity: 1},
		LineItemInput{Ref: catalog.ServiceRef(f.install.ID), Quantity: 1},
	))
	requireCode(t, err, pkgerrors.CodeItemUnavailable)

	_, err = f.svc.Create(context.Background(), f.input(
		LineItemInput{Ref: catalog.ProductRef(uuid.New()), Quantity: 1},
	))
	requireCode(t, err, pkgerrors.CodeItemUnavailable)

	assert.Equal(t, 5, *f.stockOf(t, f.lamp.ID))
	assert.Zero(t, f.count(t, &models.Order{}))
}

func TestCreateOrderValidation(t *testing.T) {
	f := newFixture(t)

	cases := map[string]CreateOrderInput{
		"no items":       f.input(),
		"zero quantity":  f.input(LineItemInput{Ref: catalog.ProductRef(f.lamp.ID), Quantity: 0}),
		"missing ref id": f.input(LineItemInput{Ref: catalog.ItemRef{Type: enums.ItemTypeProduct}, Quantity: 1}),
	}
	for name, input := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := f.svc.Create(context.Background(), input)
			requireCode(t, err, pkgerrors.CodeValidation)
		})
	}

	bad := f.input(LineItemInput{Ref: catalog.ProductRef(f.lamp.ID), Quantity: 1})
	bad.PaymentMethod = "CASH"
	_, err := f.svc.Create(context.Background(), bad)
	requireCode(t, err, pkgerrors.CodeValidation)
}

func TestCreateOrderRetriesOrderNumberCollision(t *testing.T) {
	numbers := []string{"ORD-1-AAAAAAAAA", "ORD-1-AAAAAAAAA", "ORD-1-BBBBBBBBB"}
	calls := 0
	f := newFixture(t, func(d *ServiceDeps) {
		d.OrderNumber = func(_ time.Time) string {
			n := numbers[calls]
			calls++
			return n
		}
	})

	first, err := f.svc.Create(context.Background(), f.input(LineItemInput{Ref: catalog.ProductRef(f.lamp.ID), Quantity: 1}))
	require.NoError(t, err)
	assert.Equal(t, "ORD-1-AAAAAAAAA", first.OrderNumber)

	second, err := f.svc.Create(context.Background(), f.input(LineItemInput{Ref: catalog.ProductRef(f.lamp.ID), Quantity: 1}))
	require.NoError(t, err)
	assert.Equal(t, "ORD-1-BBBBBBBBB", second.OrderNumber)
	assert.Equal(t, 3, calls)
	assert.Equal(t, 3, *f.stockOf(t, f.lamp.ID))
	assert.Equal(t, int64(2), f.count(t, &models.OrderItem{}))
}

func TestCreateOrderGivesUpAfterRepeatedCollisions(t *testing.T) {
	f := newFixture(t, func(d *ServiceDeps) {
		d.OrderNumber = func(time.Time) string { return "ORD-1-SAMESAME0" }
	})

	_, err := f.svc.Create(context.Background(), f.input(LineItemInput{Ref: catalog.ProductRef(f.lamp.ID), Quantity: 1}))
	require.NoError(t, err)

	_, err = f.svc.Create(context.Background(), f.input(LineItemInput{Ref: catalog.ProductRef(f.lamp.ID), Quantity: 1}))
	requireCode(t, err, pkgerrors.CodeConflict)
	assert.Equal(t, 4, *f.stockOf(t, f.lamp.ID))
	assert.Equal(t, int64(1), f.count(t, &models.Order{}))
}

func TestGetEnforcesOwnership(t *testing.T) {
	f := newFixture(t)
	order, err := f.svc.Create(context.Background(), f.input(LineItemInput{Ref: catalog.ProductRef(f.lamp.ID), Quantity: 1}))
	require.NoError(t, err)

	_, err = f.svc.Get(context.Background(), order.ID, auth.Identity{UserID: uuid.New(), Role: enums.UserRoleAdmin})
	require.NoError(t, err)

	_, err = f.svc.Get(context.Background(), order.ID, auth.Identity{UserID: uuid.New(), Role: enums.UserRoleCustomer})
	requireCode(t, err, pkgerrors.CodeForbidden)

	_, err = f.svc.Get(context.Background(), order.ID, auth.Identity{UserID: f.vendorA.UserID, Role: enums.UserRoleVendor})
	requireCode(t, err, pkgerrors.CodeForbidden)

	_, err = f.svc.Get(context.Background(), uuid.New(), auth.Identity{UserID: f.customer, Role: enums.UserRoleCustomer})
	requireCode(t, err, pkgerrors.CodeNotFound)
}

func TestListScopesByRole(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	mixed, err := f.svc.Create(ctx, f.input(
		LineItemInput{Ref: catalog.ProductRef(f.lamp.ID), Quantity: 1},
		LineItemInput{Ref: catalog.ServiceRef(f.install.ID), Quantity: 1},
	))
	require.NoError(t, err)
	lampOnly, err := f.svc.Create(ctx, f.input(LineItemInput{Ref: catalog.ProductRef(f.lamp.ID), Quantity: 1}))
	require.NoError(t, err)

	stranger := f.input(LineItemInput{Ref: catalog.ProductRef(f.ebook.ID), Quantity: 1})
	stranger.UserID = uuid.New()
	_, err = f.svc.Create(ctx, stranger)
	require.NoError(t, err)

	own, err := f.svc.List(ctx, auth.Identity{UserID: f.customer, Role: enums.UserRoleCustomer}, ListFilters{})
	require.NoError(t, err)
	assert.Len(t, own.Orders, 2)
	assert.Equal(t, pagination.Meta{Page: 1, Limit: 20, Total: 2, TotalPages: 1}, own.Pagination)

	vendorB, err := f.svc.List(ctx, auth.Identity{UserID: f.vendorB.UserID, Role: enums.UserRoleVendor}, ListFilters{})
	require.NoError(t, err)
	require.Len(t, vendorB.Orders, 1)
	assert.Equal(t, mixed.ID, vendorB.Orders[0].ID)
	require.Len(t, vendorB.Orders[0].Items, 1, "vendor sees only their own items")
	assert.Equal(t, f.vendorB.ID, vendorB.Orders[0].Items[0].VendorID)

	all, err := f.svc.List(ctx, auth.Identity{UserID: uuid.New(), Role: enums.UserRoleAdmin}, ListFilters{Page: pagination.Params{Page: 1, Limit: 2}})
	require.NoError(t, err)
	assert.Len(t, all.Orders, 2)
	assert.Equal(t, int64(3), all.Pagination.Total)
	assert.Equal(t, 2, all.Pagination.TotalPages)

	_, err = f.svc.UpdateStatus(ctx, UpdateStatusInput{
		OrderID: lampOnly.ID,
		Status:  enums.OrderStatusConfirmed,
		Caller:  auth.Identity{UserID: f.vendorA.UserID, Role: enums.UserRoleVendor},
	})
	require.NoError(t, err)
	confirmed := enums.OrderStatusConfirmed
	filtered, err := f.svc.List(ctx, auth.Identity{UserID: f.customer, Role: enums.UserRoleCustomer}, ListFilters{Status: &confirmed})
	require.NoError(t, err)
	require.Len(t, filtered.Orders, 1)
	assert.Equal(t, lampOnly.ID, filtered.Orders[0].ID)

	unknownVendor, err := f.svc.List(ctx, auth.Identity{UserID: uuid.New(), Role: enums.UserRoleVendor}, ListFilters{})
	require.NoError(t, err)
	assert.Empty(t, unknownVendor.Orders)
}

func TestUpdateStatusAuthorization(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	order, err := f.svc.Create(ctx, f.input(LineItemInput{Ref: catalog.ProductRef(f.lamp.ID), Quantity: 1}))
	require.NoError(t, err)

	_, err = f.svc.UpdateStatus(ctx, UpdateStatusInput{
		OrderID: order.ID,
		Status:  enums.OrderStatusConfirmed,
		Caller:  auth.Identity{UserID: f.vendorB.UserID, Role: enums.UserRoleVendor},
	})
	requireCode(t, err, pkgerrors.CodeForbidden)

	_, err = f.svc.UpdateStatus(ctx, UpdateStatusInput{
		OrderID: order.ID,
		Status:  enums.OrderStatusCancelled,
		Caller:  auth.Identity{UserID: f.customer, Role: enums.UserRoleCustomer},
	})
	requireCode(t, err, pkgerrors.CodeForbidden)

	stored, err := f.svc.Get(ctx, order.ID, auth.Identity{UserID: f.customer})
	require.NoError(t, err)
	assert.Equal(t, enums.OrderStatusPending, stored.Status)

	_, err = f.svc.UpdateStatus(ctx, UpdateStatusInput{
		OrderID: uuid.New(),
		Status:  enums.OrderStatusConfirmed,
		Caller:  auth.Identity{UserID: uuid.New(), Role: enums.UserRoleAdmin},
	})
	requireCode(t, err, pkgerrors.CodeNotFound)
}

func TestUpdateStatusFollowsStateMachine(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	vendor := auth.Identity{UserID: f.vendorA.UserID, Role: enums.UserRoleVendor}
	admin := auth.Identity{UserID: uuid.New(), Role: enums.UserRoleAdmin}

	order, err := f.svc.Create(ctx, f.input(LineItemInput{Ref: catalog.ProductRef(f.lamp.ID), Quantity: 1}))
	require.NoError(t, err)

	_, err = f.svc.UpdateStatus(ctx, UpdateStatusInput{OrderID: order.ID, Status: enums.OrderStatusShipped, Caller: vendor})
	requireCode(t, err, pkgerrors.CodeStateConflict)

	updated, err := f.svc.UpdateStatus(ctx, UpdateStatusInput{OrderID: order.ID, Status: enums.OrderStatusConfirmed, Caller: vendor})
	require.NoError(t, err)
	assert.Equal(t, enums.OrderStatusConfirmed, updated.Status)

	notes := "packed"
	same, err := f.svc.UpdateStatus(ctx, UpdateStatusInput{OrderID: order.ID, Status: enums.OrderStatusConfirmed, Notes: &notes, Caller: vendor})
	require.NoError(t, err)
	require.NotNil(t, same.Notes)
	assert.Equal(t, "packed", *same.Notes)

	delivered, err := f.svc.UpdateStatus(ctx, UpdateStatusInput{OrderID: order.ID, Status: enums.OrderStatusDelivered, Caller: admin})
	require.NoError(t, err)
	assert.Equal(t, enums.OrderStatusDelivered, delivered.Status)

	_, err = f.svc.UpdateStatus(ctx, UpdateStatusInput{OrderID: order.ID, Status: enums.OrderStatusCancelled, Caller: admin})
	requireCode(t, err, pkgerrors.CodeStateConflict)

	var changes int64
	require.NoError(t, f.conn.Model(&models.OutboxEvent{}).Where("event_type = ?", enums.EventOrderStatusChanged).Count(&changes).Error)
	assert.Equal(t, int64(2), changes)
}

func TestTransitionInTxSystemPaths(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	order, err := f.svc.Create(ctx, f.input(LineItemInput{Ref: catalog.ProductRef(f.lamp.ID), Quantity: 1}))
	require.NoError(t, err)

	err = f.conn.Transaction(func(tx *gorm.DB) error {
		got, err := f.svc.TransitionInTx(ctx, tx, order.ID, enums.OrderStatusConfirmed, nil)
		if err != nil {
			return err
		}
		assert.Equal(t, enums.OrderStatusConfirmed, got.Status)
		again, err := f.svc.TransitionInTx(ctx, tx, order.ID, enums.OrderStatusConfirmed, nil)
		if err != nil {
			return err
		}
		assert.Equal(t, enums.OrderStatusConfirmed, again.Status)
		return nil
	})
	require.NoError(t, err)

	require.NoError(t, f.conn.Model(&models.Order{}).Where("id = ?", order.ID).Update("status", enums.OrderStatusDelivered).Error)
	err = f.conn.Transaction(func(tx *gorm.DB) error {
		_, err := f.svc.TransitionInTx(ctx, tx, order.ID, enums.OrderStatusRefunded, nil)
		return err
	})
	require.NoError(t, err)

	err = f.conn.Transaction(func(tx *gorm.DB) error {
		_, err := f.svc.TransitionInTx(ctx, tx, order.ID, enums.OrderStatusConfirmed, nil)
		return err
	})
	requireCode(t, err, pkgerrors.CodeStateConflict)
}
