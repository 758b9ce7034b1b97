package auth

import (
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/angelmondragon/pharmalink-backend/pkg/enums"
)

// AccessTokenClaims is the token shape issued by the identity service.
// Pharmacies and inventories are both users; Role tells them apart.
type AccessTokenClaims struct {
	UserID uuid.UUID      `json:"user_id"`
	Role   enums.UserRole `json:"role"`
	jwt.RegisteredClaims
}
