package auth

import (
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/angelmondragon/tenant-billing/pkg/enums"
)

// AccessTokenPayload is what the identity service puts in a billing token.
// TenantID is nil for platform staff.
type AccessTokenPayload struct {
	UserID   uuid.UUID
	TenantID *uuid.UUID
	Role     enums.ActorRole
	JTI      string
}

// AccessTokenClaims represents the typed JWT presented to the billing API.
type AccessTokenClaims struct {
	UserID   uuid.UUID       `json:"user_id"`
	TenantID *uuid.UUID      `json:"tenant_id,omitempty"`
	Role     enums.ActorRole `json:"role"`
	jwt.RegisteredClaims
}
