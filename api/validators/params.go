package validators

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	pkgerrors "github.com/angelmondragon/orderflow-backend/pkg/errors"
)

var hundred = decimal.NewFromInt(100)

// ParseUUIDParam reads a chi path parameter as a uuid.
func ParseUUIDParam(r *http.Request, name string) (uuid.UUID, error) {
	raw := strings.TrimSpace(chi.URLParam(r, name))
	if raw == "" {
		return uuid.Nil, pkgerrors.Newf(pkgerrors.CodeValidation, "%s is required", name)
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid "+name).
			WithDetails(map[string]any{"field": name})
	}
	return id, nil
}

// MinorUnits converts a major-unit amount (12.5) to integer minor units
// (1250). Amounts must be positive with at most two decimal places.
func MinorUnits(field string, amount decimal.Decimal) (int64, error) {
	if !amount.IsPositive() {
		return 0, pkgerrors.Newf(pkgerrors.CodeValidation, "%s must be greater than 0", field).
			WithDetails(map[string]any{"field": field})
	}
	cents := amount.Mul(hundred)
	if !cents.Equal(cents.Truncate(0)) {
		return 0, pkgerrors.Newf(pkgerrors.CodeValidation, "%s has more than two decimal places", field).
			WithDetails(map[string]any{"field": field})
	}
	return cents.IntPart(), nil
}
