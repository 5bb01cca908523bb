package types

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// Address is an opaque shipping or billing snapshot stored as jsonb.
// The order core never interprets it beyond validation at the boundary.
type Address struct {
	FullName     string `json:"fullName" validate:"required,max=200"`
	AddressLine1 string `json:"addressLine1" validate:"required,max=300"`
	AddressLine2 string `json:"addressLine2,omitempty" validate:"max=300"`
	City         string `json:"city" validate:"required,max=120"`
	State        string `json:"state" validate:"required,max=120"`
	PostalCode   string `json:"postalCode" validate:"required,max=20"`
	Country      string `json:"country" validate:"required,max=80"`
	Phone        string `json:"phone" validate:"required,max=32"`
}

// Value marshals the snapshot as JSON.
func (a Address) Value() (driver.Value, error) {
	raw, err := json.Marshal(a)
	if err != nil {
		return nil, fmt.Errorf("address: marshal: %w", err)
	}
	return string(raw), nil
}

// Scan decodes a JSON snapshot.
func (a *Address) Scan(value any) error {
	if value == nil {
		*a = Address{}
		return nil
	}
	var raw []byte
	switch v := value.(type) {
	case string:
		raw = []byte(v)
	case []byte:
		raw = v
	default:
		return fmt.Errorf("address: unsupported scan type %T", value)
	}
	if len(raw) == 0 {
		*a = Address{}
		return nil
	}
	return json.Unmarshal(raw, a)
}
