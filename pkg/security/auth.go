// Package security extracts the opaque ownerID the orchestrator core
// requires from a bearer JWT. Authentication, authorization, and identity
// management are explicitly out of scope for the orchestrator (it only
// ever sees a string ownerID); this package is confined to the HTTP
// adapter boundary.
package security

import (
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"

	apperrors "docmark/pkg/errors"
)

// AuthConfig holds JWT verification configuration.
type AuthConfig struct {
	SigningKey  string        `json:"-" validate:"required,min=16"`
	Issuer      string        `json:"issuer"`
	ClockSkew   time.Duration `json:"clock_skew"`
}

func DefaultAuthConfig(signingKey string) *AuthConfig {
	return &AuthConfig{
		SigningKey: signingKey,
		Issuer:     "docmark",
		ClockSkew:  5 * time.Minute,
	}
}

// Claims is the subset of JWT claims docmark cares about: the subject is
// taken as the ownerID every job and page record is scoped to.
type Claims struct {
	jwt.RegisteredClaims
}

// Verifier validates bearer tokens and extracts the ownerID.
type Verifier struct {
	cfg *AuthConfig
}

func NewVerifier(cfg *AuthConfig) *Verifier {
	return &Verifier{cfg: cfg}
}

// ExtractOwnerID validates tokenString and returns its subject claim as
// the owner ID.
func (v *Verifier) ExtractOwnerID(tokenString string) (string, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(v.cfg.SigningKey), nil
	}, jwt.WithLeeway(v.cfg.ClockSkew))
	if err != nil {
		return "", fmt.Errorf("parse token: %w", err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return "", fmt.Errorf("invalid token")
	}

	owner := claims.Subject
	if owner == "" {
		return "", fmt.Errorf("token has no subject claim")
	}
	return owner, nil
}

const ownerIDLocalsKey = "owner_id"

// Middleware extracts the bearer token, validates it, and stores the
// resulting ownerID in the Fiber context under ownerIDLocalsKey for
// handlers to read via OwnerID(c).
func (v *Verifier) Middleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		authHeader := c.Get("Authorization")
		if authHeader == "" {
			return apperrors.NewAuthError("authorization header required")
		}

		tokenString := strings.TrimPrefix(authHeader, "Bearer ")
		if tokenString == authHeader {
			return apperrors.NewAuthError("bearer token required")
		}

		owner, err := v.ExtractOwnerID(tokenString)
		if err != nil {
			return apperrors.NewAuthError("invalid token")
		}

		c.Locals(ownerIDLocalsKey, owner)
		return c.Next()
	}
}

// OwnerID reads the ownerID the Middleware stored on this request.
func OwnerID(c *fiber.Ctx) string {
	owner, _ := c.Locals(ownerIDLocalsKey).(string)
	return owner
}
