// Package auth issues and validates the bearer access tokens and hashed
// refresh/reset tokens the HTTP API authenticates requests with. The
// mechanism itself is out of scope for the benchmarking system spec, but
// the wire contract (a bearer JWT, a 7-day rotating refresh token, a
// single-use password-reset token) is, so this package supplies it.
//
// Grounded on haasonsaas-nexus's internal/auth.JWTService for the
// HS256-signed, RegisteredClaims-based token shape via
// github.com/golang-jwt/jwt/v5, adapted from that service's OAuth-profile
// claims to this system's Subject-only (user id + role) claim set.
package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/Maheidem/llm-benchmark-studio-sub000/internal/models"
)

// ErrInvalidToken is returned by Validate for any malformed, expired, or
// wrong-signature token.
var ErrInvalidToken = errors.New("invalid or expired token")

// AccessTokenTTL is how long an issued access token remains valid.
const AccessTokenTTL = 24 * time.Hour

// RefreshTokenTTL is how long an opaque refresh token remains valid
// (spec-adjacent: matches the 7-day refresh window models.RefreshToken rows
// are pruned on).
const RefreshTokenTTL = 7 * 24 * time.Hour

// PasswordResetTokenTTL bounds how long a password-reset link stays live.
const PasswordResetTokenTTL = 1 * time.Hour

// Claims is the JWT payload for an access token.
type Claims struct {
	Role models.UserRole `json:"role"`
	jwt.RegisteredClaims
}

// JWTService signs and verifies access tokens with a single HMAC secret.
type JWTService struct {
	secret []byte
}

// NewJWTService builds a JWTService from a raw secret string. An empty
// secret is a configuration error the caller must catch before serving
// requests — JWTService does not itself guard against it, mirroring the
// nexus precedent of failing closed at Generate/Validate time instead.
func NewJWTService(secret string) *JWTService {
	return &JWTService{secret: []byte(secret)}
}

// Generate issues a signed access token for user, expiring after
// AccessTokenTTL.
func (s *JWTService) Generate(user *models.User) (string, error) {
	now := time.Now()
	claims := Claims{
		Role: user.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(AccessTokenTTL)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.secret)
}

// Validate parses and verifies token, returning the subject user id and role
// embedded in its claims.
func (s *JWTService) Validate(token string) (userID string, role models.UserRole, err error) {
	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return s.secret, nil
	})
	if err != nil {
		return "", "", ErrInvalidToken
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid || strings.TrimSpace(claims.Subject) == "" {
		return "", "", ErrInvalidToken
	}
	return claims.Subject, claims.Role, nil
}

// NewOpaqueToken returns a random URL-safe token and the hex-encoded SHA-256
// hash stored in its place, for the refresh-token and password-reset-token
// rows (spec §4.1: only hashes are persisted, never the bearer value
// itself).
func NewOpaqueToken() (token, hash string, err error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", "", fmt.Errorf("generate token: %w", err)
	}
	token = hex.EncodeToString(raw)
	return token, HashToken(token), nil
}

// HashToken renders the lookup hash for an opaque token.
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
