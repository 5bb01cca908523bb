// Package inventory reserves physical stock inside the order transaction.
package inventory

import (
	"bytes"
	"context"
	"errors"
	"sort"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/orderflow-backend/pkg/db/models"
	"github.com/angelmondragon/orderflow-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/orderflow-backend/pkg/errors"
)

// Reservation asks for quantity units of a product.
type Reservation struct {
	ProductID uuid.UUID
	Quantity  int
}

// Ledger decrements stock counters. It never opens its own transaction: the
// caller's transaction must cover the reservation and the order rows together.
type Ledger struct{}

func NewLedger() *Ledger {
	return &Ledger{}
}

// Reserve decrements stock for every reservation or fails with
// CodeInsufficientStock. Only PHYSICAL products are counted; digital
// products and NULL stock are unlimited.
func (l *Ledger) Reserve(ctx context.Context, tx *gorm.DB, reservations []Reservation) error {
	if tx == nil {
		return pkgerrors.New(pkgerrors.CodeInternal, "inventory reservation requires a transaction")
	}

	for _, line := range aggregate(reservations) {
		if line.Quantity <= 0 {
			return pkgerrors.New(pkgerrors.CodeValidation, "reservation quantity must be positive")
		}

		res := tx.WithContext(ctx).Exec(`
UPDATE products
SET stock_quantity = stock_quantity - ?, updated_at = CURRENT_TIMESTAMP
WHERE id = ?
  AND product_type = ?
  AND stock_quantity IS NOT NULL
  AND stock_quantity >= ?`,
			line.Quantity, line.ProductID, enums.ProductTypePhysical, line.Quantity,
		)
		if res.Error != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, res.Error, "reserve stock")
		}
		if res.RowsAffected == 1 {
			continue
		}

		if err := l.explainMiss(ctx, tx, line); err != nil {
			return err
		}
	}
	return nil
}

// explainMiss runs after a conditional decrement touched no row. It returns
// nil for digital products and unlimited stock and a typed error otherwise.
func (l *Ledger) explainMiss(ctx context.Context, tx *gorm.DB, line Reservation) error {
	var product models.Product
	err := tx.WithContext(ctx).
		Select("id", "product_type", "stock_quantity").
		Where("id = ?", line.ProductID).
		Take(&product).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return pkgerrors.New(pkgerrors.CodeNotFound, "product not found").
			WithDetails(map[string]any{"productId": line.ProductID.String()})
	}
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load product stock")
	}
	if product.ProductType != enums.ProductTypePhysical || product.StockQuantity == nil {
		return nil
	}

	return pkgerrors.New(pkgerrors.CodeInsufficientStock, "insufficient stock").
		WithDetails(map[string]any{
			"productId": line.ProductID.String(),
			"requested": line.Quantity,
			"available": *product.StockQuantity,
		})
}

// aggregate merges lines for the same product and orders them by id so
// concurrent orders lock rows in a consistent sequence.
func aggregate(reservations []Reservation) []Reservation {
	totals := make(map[uuid.UUID]int, len(reservations))
	for _, r := range reservations {
		totals[r.ProductID] += r.Quantity
	}
	out := make([]Reservation, 0, len(totals))
	for id, qty := range totals {
		out = append(out, Reservation{ProductID: id, Quantity: qty})
	}
	sort.Slice(out, func(i, j int) bool {
		return bytes.Compare(out[i].ProductID[:], out[j].ProductID[:]) < 0
	})
	return out
}
