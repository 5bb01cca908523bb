// Package commission splits an order line between the platform and the vendor.
package commission

import (
	"fmt"

	"github.com/shopspring/decimal"
)

var (
	hundred        = decimal.NewFromInt(100)
	DefaultRatePct = decimal.NewFromInt(10)
)

// Breakdown is the money split of a single order line, in minor units.
type Breakdown struct {
	SubtotalCents       int64
	CommissionCents     int64
	VendorEarningsCents int64
}

// Calculator computes commission splits with a platform default rate.
type Calculator struct {
	defaultRate decimal.Decimal
}

// NewCalculator returns a calculator using defaultRate when a vendor has none.
func NewCalculator(defaultRate decimal.Decimal) (*Calculator, error) {
	if err := validateRate(defaultRate); err != nil {
		return nil, err
	}
	return &Calculator{defaultRate: defaultRate}, nil
}

// RateFor resolves the effective commission percentage for a vendor.
func (c *Calculator) RateFor(vendorRate decimal.NullDecimal) (decimal.Decimal, error) {
	if !vendorRate.Valid {
		return c.defaultRate, nil
	}
	if err := validateRate(vendorRate.Decimal); err != nil {
		return decimal.Zero, err
	}
	return vendorRate.Decimal, nil
}

// Compute splits unitPriceCents*quantity. The commission is rounded half-up to
// the minor unit and earnings take the remainder, so the parts always sum to
// the subtotal.
func (c *Calculator) Compute(unitPriceCents int64, quantity int, ratePercent decimal.Decimal) (Breakdown, error) {
	if unitPriceCents < 0 {
		return Breakdown{}, fmt.Errorf("unit price must not be negative")
	}
	if quantity <= 0 {
		return Breakdown{}, fmt.Errorf("quantity must be positive")
	}
	if err := validateRate(ratePercent); err != nil {
		return Breakdown{}, err
	}

	subtotal := decimal.NewFromInt(unitPriceCents).Mul(decimal.NewFromInt(int64(quantity)))
	commission := subtotal.Mul(ratePercent).Div(hundred).Round(0)

	return Breakdown{
		SubtotalCents:       subtotal.IntPart(),
		CommissionCents:     commission.IntPart(),
		VendorEarningsCents: subtotal.Sub(commission).IntPart(),
	}, nil
}

func validateRate(rate decimal.Decimal) error {
	if rate.IsNegative() || rate.GreaterThan(hundred) {
		return fmt.Errorf("commission rate %s must be between 0 and 100", rate)
	}
	return nil
}
