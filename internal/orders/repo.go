package orders

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/orderflow-backend/pkg/db/models"
	"github.com/angelmondragon/orderflow-backend/pkg/enums"
)

// ScopeKind selects whose orders a list query sees.
type ScopeKind string

const (
	ScopeCustomer ScopeKind = "customer"
	ScopeVendor   ScopeKind = "vendor"
	ScopeAdmin    ScopeKind = "admin"
)

// ListScope restricts List to a customer's own orders, orders containing a
// vendor's items, or everything.
type ListScope struct {
	Kind     ScopeKind
	UserID   uuid.UUID
	VendorID uuid.UUID
}

// Repository persists orders and their items.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, order *models.Order) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.Order, error)
	HasVendorItems(ctx context.Context, orderID, vendorID uuid.UUID) (bool, error)
	List(ctx context.Context, scope ListScope, filters ListFilters) ([]models.Order, int64, error)
	TransitionStatus(ctx context.Context, id uuid.UUID, from, to enums.OrderStatus) (bool, error)
	UpdateNotes(ctx context.Context, id uuid.UUID, notes string) error
}

type repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

// Create inserts the order row followed by its items. Associations are
// written explicitly so a stray Payment on the struct is never upserted.
func (r *repository) Create(ctx context.Context, order *models.Order) error {
	db := r.db.WithContext(ctx)
	if err := db.Omit(clause.Associations).Create(order).Error; err != nil {
		return err
	}
	if len(order.Items) == 0 {
		return nil
	}
	for i := range order.Items {
		order.Items[i].OrderID = order.ID
	}
	return db.Create(&order.Items).Error
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	var order models.Order
	err := r.db.WithContext(ctx).
		Preload("Items", func(db *gorm.DB) *gorm.DB { return db.Order("created_at ASC, id ASC") }).
		Preload("Payment").
		Preload("Invoice").
		Where("id = ?", id).
		Take(&order).Error
	if err != nil {
		return nil, err
	}
	return &order, nil
}

func (r *repository) HasVendorItems(ctx context.Context, orderID, vendorID uuid.UUID) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.OrderItem{}).
		Where("order_id = ? AND vendor_id = ?", orderID, vendorID).
		Count(&count).Error
	return count > 0, err
}

func (r *repository) List(ctx context.Context, scope ListScope, filters ListFilters) ([]models.Order, int64, error) {
	var total int64
	if err := r.scoped(ctx, scope, filters).Count(&total).Error; err != nil {
		return nil, 0, err
	}

	page := filters.Page.Normalize()
	itemsPreload := func(db *gorm.DB) *gorm.DB { return db.Order("created_at ASC, id ASC") }
	if scope.Kind == ScopeVendor {
		vendorID := scope.VendorID
		itemsPreload = func(db *gorm.DB) *gorm.DB {
			return db.Where("vendor_id = ?", vendorID).Order("created_at ASC, id ASC")
		}
	}

	var orders []models.Order
	err := r.scoped(ctx, scope, filters).
		Preload("Items", itemsPreload).
		Preload("Payment").
		Order("orders.created_at DESC, orders.id DESC").
		Limit(page.Limit).
		Offset(page.Offset()).
		Find(&orders).Error
	if err != nil {
		return nil, 0, err
	}
	return orders, total, nil
}

// scoped builds a fresh filtered query; Count and Find each get their own.
func (r *repository) scoped(ctx context.Context, scope ListScope, filters ListFilters) *gorm.DB {
	query := r.db.WithContext(ctx).Model(&models.Order{})

	switch scope.Kind {
	case ScopeCustomer:
		query = query.Where("orders.user_id = ?", scope.UserID)
	case ScopeVendor:
		sub := r.db.Model(&models.OrderItem{}).Select("order_id").Where("vendor_id = ?", scope.VendorID)
		query = query.Where("orders.id IN (?)", sub)
	}

	if filters.Status != nil {
		query = query.Where("orders.status = ?", *filters.Status)
	}
	if filters.StartDate != nil {
		query = query.Where("orders.created_at >= ?", *filters.StartDate)
	}
	if filters.EndDate != nil {
		query = query.Where("orders.created_at <= ?", *filters.EndDate)
	}
	return query
}

// TransitionStatus applies to only if the order is still in from. It reports
// false when another writer got there first.
func (r *repository) TransitionStatus(ctx context.Context, id uuid.UUID, from, to enums.OrderStatus) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.Order{}).
		Where("id = ? AND status = ?", id, from).
		Update("status", to)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *repository) UpdateNotes(ctx context.Context, id uuid.UUID, notes string) error {
	return r.db.WithContext(ctx).
		Model(&models.Order{}).
		Where("id = ?", id).
		Update("notes", notes).Error
}
