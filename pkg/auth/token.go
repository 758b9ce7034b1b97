package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/angelmondragon/pharmalink-backend/pkg/config"
)

var jwtSigningMethod = jwt.SigningMethodHS256

var (
	ErrMissingSecret = errors.New("jwt secret is required")
	ErrInvalidClaims = errors.New("token claims are incomplete")
)

// ParseAccessToken verifies signature, issuer and expiry, then checks that
// the subject and role are usable.
func ParseAccessToken(cfg config.JWTConfig, tokenString string) (*AccessTokenClaims, error) {
	if cfg.Secret == "" {
		return nil, ErrMissingSecret
	}

	claims := &AccessTokenClaims{}
	_, err := jwt.ParseWithClaims(
		tokenString,
		claims,
		func(token *jwt.Token) (interface{}, error) {
			return []byte(cfg.Secret), nil
		},
		jwt.WithValidMethods([]string{jwtSigningMethod.Alg()}),
		jwt.WithIssuer(cfg.Issuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, err
	}
	if claims.UserID == uuid.Nil || !claims.Role.IsValid() {
		return nil, ErrInvalidClaims
	}
	return claims, nil
}

// MintAccessToken signs a token the way the identity service does. It backs
// tests and local tooling; the API never issues tokens.
func MintAccessToken(cfg config.JWTConfig, now time.Time, ttl time.Duration, claims AccessTokenClaims) (string, error) {
	if cfg.Secret == "" {
		return "", ErrMissingSecret
	}
	if ttl <= 0 {
		return "", fmt.Errorf("token ttl must be positive")
	}
	if !claims.Role.IsValid() {
		return "", fmt.Errorf("invalid role %q", claims.Role)
	}

	claims.RegisteredClaims = jwt.RegisteredClaims{
		Issuer:    cfg.Issuer,
		Subject:   claims.UserID.String(),
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		ID:        uuid.NewString(),
	}

	signed, err := jwt.NewWithClaims(jwtSigningMethod, claims).SignedString([]byte(cfg.Secret))
	if err != nil {
		return "", fmt.Errorf("signing jwt: %w", err)
	}
	return signed, nil
}
