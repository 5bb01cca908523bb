package auth

import (
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/angelmondragon/orderflow-backend/pkg/enums"
)

// AccessTokenPayload captures the data available when minting a JWT.
type AccessTokenPayload struct {
	UserID uuid.UUID
	Role   enums.UserRole
}

// AccessTokenClaims represents the typed JWT issued by the identity service.
type AccessTokenClaims struct {
	UserID uuid.UUID      `json:"user_id"`
	Role   enums.UserRole `json:"role"`
	jwt.RegisteredClaims
}

// Identity is the authenticated caller as seen by the order core.
type Identity struct {
	UserID uuid.UUID
	Role   enums.UserRole
}

func (i Identity) IsAdmin() bool {
	return i.Role == enums.UserRoleAdmin
}

func (i Identity) IsVendor() bool {
	return i.Role == enums.UserRoleVendor
}

// Identity converts verified claims into a caller identity.
func (c *AccessTokenClaims) Identity() Identity {
	return Identity{UserID: c.UserID, Role: c.Role}
}
