// Package catalog exposes the read-only view of products, services and
// vendors that order creation needs.
package catalog

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/orderflow-backend/pkg/db/models"
	"github.com/angelmondragon/orderflow-backend/pkg/enums"
)

// ItemRef points at exactly one product or service.
type ItemRef struct {
	Type enums.ItemType
	ID   uuid.UUID
}

func ProductRef(id uuid.UUID) ItemRef { return ItemRef{Type: enums.ItemTypeProduct, ID: id} }
func ServiceRef(id uuid.UUID) ItemRef { return ItemRef{Type: enums.ItemTypeService, ID: id} }

// Item is the priced snapshot of a catalog entry at order time.
type Item struct {
	Ref            ItemRef
	VendorID       uuid.UUID
	Title          string
	PriceCents     int64
	Active         bool
	CommissionRate decimal.NullDecimal
}

// Repository reads catalog entries.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	FindItems(ctx context.Context, refs []ItemRef) (map[ItemRef]Item, error)
	FindVendorByUserID(ctx context.Context, userID uuid.UUID) (*models.Vendor, error)
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

// FindItems returns the entries that exist; missing refs are simply absent.
// An entry is active only if both the item and its vendor are active.
func (r *repository) FindItems(ctx context.Context, refs []ItemRef) (map[ItemRef]Item, error) {
	var productIDs, serviceIDs []uuid.UUID
	for _, ref := range refs {
		switch ref.Type {
		case enums.ItemTypeProduct:
			productIDs = append(productIDs, ref.ID)
		case enums.ItemTypeService:
			serviceIDs = append(serviceIDs, ref.ID)
		}
	}

	out := make(map[ItemRef]Item, len(refs))
	vendorIDs := map[uuid.UUID]struct{}{}

	if len(productIDs) > 0 {
		var products []models.Product
		if err := r.db.WithContext(ctx).Where("id IN ?", productIDs).Find(&products).Error; err != nil {
			return nil, err
		}
		for _, p := range products {
			ref := ProductRef(p.ID)
			out[ref] = Item{Ref: ref, VendorID: p.VendorID, Title: p.Title, PriceCents: p.PriceCents, Active: p.IsActive}
			vendorIDs[p.VendorID] = struct{}{}
		}
	}

	if len(serviceIDs) > 0 {
		var services []models.Service
		if err := r.db.WithContext(ctx).Where("id IN ?", serviceIDs).Find(&services).Error; err != nil {
			return nil, err
		}
		for _, s := range services {
			ref := ServiceRef(s.ID)
			out[ref] = Item{Ref: ref, VendorID: s.VendorID, Title: s.Title, PriceCents: s.PriceCents, Active: s.IsActive}
			vendorIDs[s.VendorID] = struct{}{}
		}
	}

	if len(vendorIDs) == 0 {
		return out, nil
	}

	ids := make([]uuid.UUID, 0, len(vendorIDs))
	for id := range vendorIDs {
		ids = append(ids, id)
	}
	var vendors []models.Vendor
	if err := r.db.WithContext(ctx).Where("id IN ?", ids).Find(&vendors).Error; err != nil {
		return nil, err
	}
	byID := make(map[uuid.UUID]models.Vendor, len(vendors))
	for _, v := range vendors {
		byID[v.ID] = v
	}

	for ref, item := range out {
		vendor, ok := byID[item.VendorID]
		if !ok || !vendor.IsActive {
			item.Active = false
		} else {
			item.CommissionRate = vendor.CommissionRate
		}
		out[ref] = item
	}
	return out, nil
}

// FindVendorByUserID returns the vendor profile of a user, or nil when the
// user has none.
func (r *repository) FindVendorByUserID(ctx context.Context, userID uuid.UUID) (*models.Vendor, error) {
	var vendor models.Vendor
	err := r.db.WithContext(ctx).Where("user_id = ?", userID).Take(&vendor).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &vendor, nil
}
