package orders

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/orderflow-backend/internal/cart"
	"github.com/angelmondragon/orderflow-backend/internal/catalog"
	"github.com/angelmondragon/orderflow-backend/internal/commission"
	"github.com/angelmondragon/orderflow-backend/internal/inventory"
	"github.com/angelmondragon/orderflow-backend/pkg/auth"
	"github.com/angelmondragon/orderflow-backend/pkg/db"
	"github.com/angelmondragon/orderflow-backend/pkg/db/models"
	"github.com/angelmondragon/orderflow-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/orderflow-backend/pkg/errors"
	"github.com/angelmondragon/orderflow-backend/pkg/logger"
	"github.com/angelmondragon/orderflow-backend/pkg/outbox"
)

const (
	maxOrderNumberAttempts = 3
	orderNumberSavepoint   = "order_number"
	reserveSavepoint       = "reserve_stock"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxPublisher interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

type stockReserver interface {
	Reserve(ctx context.Context, tx *gorm.DB, reservations []inventory.Reservation) error
}

// Service defines order operations.
type Service interface {
	Create(ctx context.Context, input CreateOrderInput) (*models.Order, error)
	CreateInTx(ctx context.Context, tx *gorm.DB, input CreateOrderInput) (*models.Order, error)
	Quote(ctx context.Context, items []LineItemInput) ([]PricedLine, error)
	Get(ctx context.Context, orderID uuid.UUID, caller auth.Identity) (*models.Order, error)
	List(ctx context.Context, caller auth.Identity, filters ListFilters) (*ListResult, error)
	UpdateStatus(ctx context.Context, input UpdateStatusInput) (*models.Order, error)
	FindInTx(ctx context.Context, tx *gorm.DB, orderID uuid.UUID) (*models.Order, error)
	TransitionInTx(ctx context.Context, tx *gorm.DB, orderID uuid.UUID, to enums.OrderStatus, caller *auth.Identity) (*models.Order, error)
}

// ServiceDeps wires the collaborators of the order service.
type ServiceDeps struct {
	Repo       Repository
	Tx         txRunner
	Catalog    catalog.Repository
	Carts      *cart.Repository
	Inventory  stockReserver
	Commission *commission.Calculator
	Outbox     outboxPublisher
	Logger     *logger.Logger
	Currency   string

	Now         func() time.Time
	OrderNumber func(time.Time) string
}

type service struct {
	repo       Repository
	tx         txRunner
	catalog    catalog.Repository
	carts      *cart.Repository
	inventory  stockReserver
	commission *commission.Calculator
	outbox     outboxPublisher
	logg       *logger.Logger
	currency   string
	now        func() time.Time
	number     func(time.Time) string
}

// NewService builds the order service with the required dependencies.
func NewService(deps ServiceDeps) (Service, error) {
	switch {
	case deps.Repo == nil:
		return nil, fmt.Errorf("orders repository required")
	case deps.Tx == nil:
		return nil, fmt.Errorf("transaction runner required")
	case deps.Catalog == nil:
		return nil, fmt.Errorf("catalog repository required")
	case deps.Carts == nil:
		return nil, fmt.Errorf("cart repository required")
	case deps.Inventory == nil:
		return nil, fmt.Errorf("inventory ledger required")
	case deps.Commission == nil:
		return nil, fmt.Errorf("commission calculator required")
	case deps.Outbox == nil:
		return nil, fmt.Errorf("outbox publisher required")
	case deps.Currency == "":
		return nil, fmt.Errorf("currency required")
	}

	svc := &service{
		repo:       deps.Repo,
		tx:         deps.Tx,
		catalog:    deps.Catalog,
		carts:      deps.Carts,
		inventory:  deps.Inventory,
		commission: deps.Commission,
		outbox:     deps.Outbox,
		logg:       deps.Logger,
		currency:   deps.Currency,
		now:        deps.Now,
		number:     deps.OrderNumber,
	}
	if svc.logg == nil {
		svc.logg = logger.Nop()
	}
	if svc.now == nil {
		svc.now = time.Now
	}
	if svc.number == nil {
		svc.number = NewOrderNumber
	}
	return svc, nil
}

func (s *service) Create(ctx context.Context, input CreateOrderInput) (*models.Order, error) {
	var created *models.Order
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		order, err := s.CreateInTx(ctx, tx, input)
		if err != nil {
			return err
		}
		created = order
		return nil
	})
	if err != nil {
		return nil, pkgerrors.Ensure(err, "create order")
	}
	return created, nil
}

// CreateInTx prices, reserves and persists an order using the caller's
// transaction. Any error leaves tx needing a rollback.
func (s *service) CreateInTx(ctx context.Context, tx *gorm.DB, input CreateOrderInput) (*models.Order, error) {
	if tx == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "order creation requires a transaction")
	}
	if err := validateCreateInput(input); err != nil {
		return nil, err
	}

	status := input.InitialStatus
	if status == "" {
		status = enums.OrderStatusPending
	}
	if status != enums.OrderStatusPending && status != enums.OrderStatusConfirmed {
		return nil, pkgerrors.Newf(pkgerrors.CodeInternal, "unsupported initial order status %s", status)
	}

	ctx = s.logg.WithUserID(ctx, input.UserID.String())

	priced, err := s.priceLines(ctx, s.catalog.WithTx(tx), input.Items)
	if err != nil {
		return nil, err
	}

	var (
		orderItems   = make([]models.OrderItem, 0, len(input.Items))
		reservations = make([]inventory.Reservation, 0, len(input.Items))
		subtotal     int64
	)
	for idx, line := range input.Items {
		price := priced[idx]
		split, err := s.commission.Compute(price.UnitPriceCents, line.Quantity, price.CommissionRate)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "compute line totals")
		}

		orderItem := models.OrderItem{
			VendorID:            price.VendorID,
			Title:               price.Title,
			ItemType:            line.Ref.Type,
			Quantity:            line.Quantity,
			UnitPriceCents:      price.UnitPriceCents,
			SubtotalCents:       split.SubtotalCents,
			CommissionRate:      price.CommissionRate,
			CommissionCents:     split.CommissionCents,
			VendorEarningsCents: split.VendorEarningsCents,
		}
		refID := line.Ref.ID
		if line.Ref.Type == enums.ItemTypeProduct {
			orderItem.ProductID = &refID
			reservations = append(reservations, inventory.Reservation{ProductID: refID, Quantity: line.Quantity})
		} else {
			orderItem.ServiceID = &refID
		}
		orderItems = append(orderItems, orderItem)
		subtotal += split.SubtotalCents
	}

	shortfall := false
	if len(reservations) > 0 {
		reserved, err := s.reserve(ctx, tx, reservations, input.AllowStockShortfall)
		if err != nil {
			return nil, err
		}
		shortfall = !reserved
	}

	billing := input.BillingAddress
	if billing == nil {
		shipping := input.ShippingAddress
		billing = &shipping
	}

	order := &models.Order{
		UserID:          input.UserID,
		Status:          status,
		SubtotalCents:   subtotal,
		TotalCents:      subtotal,
		Currency:        s.currency,
		PaymentMethod:   input.PaymentMethod,
		ShippingAddress: input.ShippingAddress,
		BillingAddress:  billing,
		Notes:           input.Notes,
		StockShortfall:  shortfall,
		Items:           orderItems,
	}
	if err := s.insertWithFreshNumber(ctx, tx, order); err != nil {
		return nil, err
	}

	if _, err := s.carts.WithTx(tx).ClearForUser(ctx, input.UserID); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "clear cart")
	}

	if err := s.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     enums.EventOrderCreated,
		AggregateType: enums.AggregateOrder,
		AggregateID:   order.ID,
		Actor:         actorRef(input.Actor),
		Data:          orderEvent(order, ""),
	}); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "emit order created")
	}

	s.logg.Info(s.logg.WithOrderID(ctx, order.ID.String()), "order created")
	return order, nil
}

// Quote prices lines against the live catalog and resolves each vendor's
// commission rate. Hosted checkout keeps the result in session metadata so
// the paid order is built from the prices the customer saw.
func (s *service) Quote(ctx context.Context, items []LineItemInput) ([]PricedLine, error) {
	if err := validateLines(items); err != nil {
		return nil, err
	}
	return s.priceLines(ctx, s.catalog, items)
}

// priceLines returns one PricedLine per input line, in order. Lines that
// already carry a price are passed through untouched.
func (s *service) priceLines(ctx context.Context, repo catalog.Repository, items []LineItemInput) ([]PricedLine, error) {
	seen := make(map[catalog.ItemRef]struct{}, len(items))
	refs := make([]catalog.ItemRef, 0, len(items))
	for _, line := range items {
		if line.Priced != nil {
			continue
		}
		if _, ok := seen[line.Ref]; ok {
			continue
		}
		seen[line.Ref] = struct{}{}
		refs = append(refs, line.Ref)
	}

	found := map[catalog.ItemRef]catalog.Item{}
	if len(refs) > 0 {
		var err error
		found, err = repo.FindItems(ctx, refs)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load catalog items")
		}
	}

	out := make([]PricedLine, 0, len(items))
	for idx, line := range items {
		if line.Priced != nil {
			out = append(out, *line.Priced)
			continue
		}
		item, ok := found[line.Ref]
		if !ok || !item.Active {
			return nil, pkgerrors.New(pkgerrors.CodeItemUnavailable, "item is unavailable").
				WithDetails(map[string]any{
					"index":    idx,
					"itemType": line.Ref.Type,
					"itemId":   line.Ref.ID.String(),
				})
		}
		if line.ClientPriceCents != nil && *line.ClientPriceCents != item.PriceCents {
			warnCtx := s.logg.WithFields(ctx, map[string]any{
				"item_id":            line.Ref.ID.String(),
				"client_price_cents": *line.ClientPriceCents,
				"price_cents":        item.PriceCents,
			})
			s.logg.Warn(warnCtx, "client price differs from catalog price")
		}
		rate, err := s.commission.RateFor(item.CommissionRate)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "resolve commission rate")
		}
		out = append(out, PricedLine{
			VendorID:       item.VendorID,
			Title:          item.Title,
			UnitPriceCents: item.PriceCents,
			CommissionRate: rate,
		})
	}
	return out, nil
}

// reserve decrements stock and reports whether it did. With allowShortfall
// an insufficient-stock miss is rolled back to a savepoint and reported as
// false; every other failure is returned.
func (s *service) reserve(ctx context.Context, tx *gorm.DB, reservations []inventory.Reservation, allowShortfall bool) (bool, error) {
	if !allowShortfall {
		if err := s.inventory.Reserve(ctx, tx, reservations); err != nil {
			return false, pkgerrors.Ensure(err, "reserve inventory")
		}
		return true, nil
	}

	if err := tx.SavePoint(reserveSavepoint).Error; err != nil {
		return false, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "create savepoint")
	}
	err := s.inventory.Reserve(ctx, tx, reservations)
	if err == nil {
		return true, nil
	}
	if !pkgerrors.IsCode(err, pkgerrors.CodeInsufficientStock) {
		return false, pkgerrors.Ensure(err, "reserve inventory")
	}
	if rbErr := tx.RollbackTo(reserveSavepoint).Error; rbErr != nil {
		return false, pkgerrors.Wrap(pkgerrors.CodeInternal, rbErr, "rollback savepoint")
	}
	s.logg.Warn(s.logg.WithField(ctx, "reason", err.Error()), "stock unavailable for paid order, flagged for fulfilment")
	return false, nil
}

// insertWithFreshNumber retries order_number collisions behind a savepoint so
// the surrounding transaction stays usable.
func (s *service) insertWithFreshNumber(ctx context.Context, tx *gorm.DB, order *models.Order) error {
	repo := s.repo.WithTx(tx)
	for attempt := 1; ; attempt++ {
		order.OrderNumber = s.number(s.now())

		if err := tx.SavePoint(orderNumberSavepoint).Error; err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "create savepoint")
		}
		err := repo.Create(ctx, order)
		if err == nil {
			return nil
		}
		if rbErr := tx.RollbackTo(orderNumberSavepoint).Error; rbErr != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, rbErr, "rollback savepoint")
		}

		if !db.IsUniqueViolation(err, "ux_orders_order_number", "orders.order_number") {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "insert order")
		}
		if attempt >= maxOrderNumberAttempts {
			return pkgerrors.Wrap(pkgerrors.CodeConflict, err, "could not allocate a unique order number")
		}
		s.logg.Warn(ctx, "order number collision, retrying")
	}
}

func (s *service) Get(ctx context.Context, orderID uuid.UUID, caller auth.Identity) (*models.Order, error) {
	if orderID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id required")
	}
	order, err := s.repo.FindByID(ctx, orderID)
	if err != nil {
		return nil, notFoundOr(err, "load order")
	}
	if order.UserID != caller.UserID && !caller.IsAdmin() {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "order does not belong to caller")
	}
	return order, nil
}

func (s *service) List(ctx context.Context, caller auth.Identity, filters ListFilters) (*ListResult, error) {
	if filters.Status != nil && !filters.Status.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid status filter")
	}
	if filters.StartDate != nil && filters.EndDate != nil && filters.StartDate.After(*filters.EndDate) {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "startDate must not be after endDate")
	}

	scope := ListScope{Kind: ScopeCustomer, UserID: caller.UserID}
	switch {
	case caller.IsAdmin():
		scope = ListScope{Kind: ScopeAdmin}
	case caller.IsVendor():
		vendor, err := s.catalog.FindVendorByUserID(ctx, caller.UserID)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load vendor profile")
		}
		if vendor == nil {
			return &ListResult{Orders: []models.Order{}, Pagination: filters.Page.MetaFor(0)}, nil
		}
		scope = ListScope{Kind: ScopeVendor, VendorID: vendor.ID}
	}

	orders, total, err := s.repo.List(ctx, scope, filters)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "list orders")
	}
	if orders == nil {
		orders = []models.Order{}
	}
	return &ListResult{Orders: orders, Pagination: filters.Page.MetaFor(total)}, nil
}

func (s *service) UpdateStatus(ctx context.Context, input UpdateStatusInput) (*models.Order, error) {
	if input.OrderID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id required")
	}
	if !input.Status.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid order status").
			WithDetails(map[string]any{"status": input.Status})
	}

	ctx = s.logg.WithOrderID(ctx, input.OrderID.String())
	var updated *models.Order
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		order, err := repo.FindByID(ctx, input.OrderID)
		if err != nil {
			return notFoundOr(err, "load order")
		}

		actor, err := s.authorizeStatusChange(ctx, tx, order, input.Caller)
		if err != nil {
			return err
		}

		if order.Status == input.Status {
			if input.Notes != nil {
				if err := repo.UpdateNotes(ctx, order.ID, *input.Notes); err != nil {
					return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "update order notes")
				}
				order.Notes = input.Notes
			}
			updated = order
			return nil
		}

		caller := input.Caller
		if err := s.applyTransition(ctx, tx, order, input.Status, actor, input.Notes, &caller); err != nil {
			return err
		}
		updated = order
		return nil
	})
	if err != nil {
		return nil, pkgerrors.Ensure(err, "update order status")
	}
	return updated, nil
}

// FindInTx loads an order without authorization checks for internal callers
// that already hold a transaction.
func (s *service) FindInTx(ctx context.Context, tx *gorm.DB, orderID uuid.UUID) (*models.Order, error) {
	order, err := s.repo.WithTx(tx).FindByID(ctx, orderID)
	if err != nil {
		return nil, notFoundOr(err, "load order")
	}
	return order, nil
}

// TransitionInTx applies a payment-driven status change. A same-status
// request returns the order untouched.
func (s *service) TransitionInTx(ctx context.Context, tx *gorm.DB, orderID uuid.UUID, to enums.OrderStatus, caller *auth.Identity) (*models.Order, error) {
	if tx == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "order transition requires a transaction")
	}
	order, err := s.repo.WithTx(tx).FindByID(ctx, orderID)
	if err != nil {
		return nil, notFoundOr(err, "load order")
	}
	if order.Status == to {
		return order, nil
	}
	if err := s.applyTransition(ctx, tx, order, to, ActorSystem, nil, caller); err != nil {
		return nil, err
	}
	return order, nil
}

func (s *service) applyTransition(ctx context.Context, tx *gorm.DB, order *models.Order, to enums.OrderStatus, actor Actor, notes *string, caller *auth.Identity) error {
	from := order.Status
	if !CanTransition(actor, from, to) {
		return pkgerrors.Newf(pkgerrors.CodeStateConflict, "cannot move order from %s to %s", from, to).
			WithDetails(map[string]any{"from": from, "to": to, "actor": actor})
	}

	repo := s.repo.WithTx(tx)
	ok, err := repo.TransitionStatus(ctx, order.ID, from, to)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "update order status")
	}
	if !ok {
		return pkgerrors.New(pkgerrors.CodeStateConflict, "order status changed concurrently").
			WithDetails(map[string]any{"from": from, "to": to})
	}
	if notes != nil {
		if err := repo.UpdateNotes(ctx, order.ID, *notes); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "update order notes")
		}
		order.Notes = notes
	}
	order.Status = to

	if err := s.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     enums.EventOrderStatusChanged,
		AggregateType: enums.AggregateOrder,
		AggregateID:   order.ID,
		Actor:         actorRef(caller),
		Data:          orderEvent(order, from),
	}); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "emit status changed")
	}

	logCtx := s.logg.WithFields(ctx, map[string]any{"from": from, "to": to, "actor": actor})
	s.logg.Info(logCtx, "order status changed")
	return nil
}

// authorizeStatusChange maps the caller onto a transition actor. Vendors must
// own at least one item of the order.
func (s *service) authorizeStatusChange(ctx context.Context, tx *gorm.DB, order *models.Order, caller auth.Identity) (Actor, error) {
	if caller.IsAdmin() {
		return ActorAdmin, nil
	}
	if !caller.IsVendor() {
		return "", pkgerrors.New(pkgerrors.CodeForbidden, "only vendors and admins can change order status")
	}

	vendor, err := s.catalog.WithTx(tx).FindVendorByUserID(ctx, caller.UserID)
	if err != nil {
		return "", pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load vendor profile")
	}
	if vendor == nil {
		return "", pkgerrors.New(pkgerrors.CodeForbidden, "vendor profile not found")
	}
	owns, err := s.repo.WithTx(tx).HasVendorItems(ctx, order.ID, vendor.ID)
	if err != nil {
		return "", pkgerrors.Wrap(pkgerrors.CodeInternal, err, "check vendor items")
	}
	if !owns {
		return "", pkgerrors.New(pkgerrors.CodeForbidden, "order has no items from this vendor")
	}
	return ActorVendor, nil
}

func validateCreateInput(input CreateOrderInput) error {
	if input.UserID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeUnauthorized, "user identity missing")
	}
	if !input.PaymentMethod.IsValid() {
		return pkgerrors.New(pkgerrors.CodeValidation, "invalid payment method").
			WithDetails(map[string]any{"field": "paymentMethod"})
	}
	return validateLines(input.Items)
}

func validateLines(items []LineItemInput) error {
	if len(items) == 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "order requires at least one item").
			WithDetails(map[string]any{"field": "items"})
	}
	for idx, line := range items {
		if !line.Ref.Type.IsValid() || line.Ref.ID == uuid.Nil {
			return pkgerrors.New(pkgerrors.CodeValidation, "item requires exactly one of productId or serviceId").
				WithDetails(map[string]any{"field": fmt.Sprintf("items[%d]", idx)})
		}
		if line.Quantity <= 0 {
			return pkgerrors.New(pkgerrors.CodeValidation, "quantity must be positive").
				WithDetails(map[string]any{"field": fmt.Sprintf("items[%d].quantity", idx)})
		}
		if p := line.Priced; p != nil && (p.VendorID == uuid.Nil || p.UnitPriceCents < 0) {
			return pkgerrors.New(pkgerrors.CodeValidation, "priced line is incomplete").
				WithDetails(map[string]any{"field": fmt.Sprintf("items[%d]", idx)})
		}
	}
	return nil
}

func orderEvent(order *models.Order, prev enums.OrderStatus) outbox.OrderEvent {
	vendors := map[string]struct{}{}
	for _, item := range order.Items {
		vendors[item.VendorID.String()] = struct{}{}
	}
	vendorIDs := make([]string, 0, len(vendors))
	for id := range vendors {
		vendorIDs = append(vendorIDs, id)
	}
	sort.Strings(vendorIDs)

	return outbox.OrderEvent{
		OrderID:        order.ID,
		OrderNumber:    order.OrderNumber,
		UserID:         order.UserID,
		Status:         string(order.Status),
		PrevStatus:     string(prev),
		TotalCents:     order.TotalCents,
		Currency:       order.Currency,
		VendorIDs:      vendorIDs,
		StockShortfall: order.StockShortfall,
	}
}

func actorRef(identity *auth.Identity) *outbox.ActorRef {
	if identity == nil || identity.UserID == uuid.Nil {
		return nil
	}
	return &outbox.ActorRef{UserID: identity.UserID, Role: string(identity.Role)}
}

func notFoundOr(err error, msg string) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
	}
	return pkgerrors.Wrap(pkgerrors.CodeInternal, err, msg)
}
