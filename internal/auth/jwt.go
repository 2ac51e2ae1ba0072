// Package auth verifies the bearer tokens issued by the external auth
// service (spec.md §6 "Auth interface" — token issuance is out of scope,
// only verification matters here). Adapted from the teacher's
// internal/auth/jwt.go: same HS256 JWTManager shape, narrowed from a flat
// {userId, username, role} claim set down to {user_id} alone, since a
// user's role is per-list (internal/permission) rather than global.
package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Claims is the JWT payload this service trusts once signature-verified.
type Claims struct {
	UserID string `json:"user_id"`
	jwt.RegisteredClaims
}

// JWTManager verifies (and, for local development/testing, mints) tokens
// signed with a secret shared with the external auth service.
type JWTManager struct {
	secretKey     []byte
	tokenDuration time.Duration
}

func NewJWTManager(secretKey string, tokenDuration time.Duration) *JWTManager {
	return &JWTManager{
		secretKey:     []byte(secretKey),
		tokenDuration: tokenDuration,
	}
}

// Generate mints a token. The production issuer lives in the separate auth
// service (spec.md §1); this exists for local tooling and tests.
func (manager *JWTManager) Generate(userID string) (string, error) {
	claims := &Claims{
		UserID: userID,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(manager.tokenDuration)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			NotBefore: jwt.NewNumericDate(time.Now()),
			Issuer:    "collabd",
			Subject:   userID,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(manager.secretKey)
}

// Verify validates the JWT token and returns its claims. A malformed
// signature, expired token, or unexpected signing method all surface as
// auth_error to the caller (spec.md §7).
func (manager *JWTManager) Verify(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(
		tokenString,
		&Claims{},
		func(token *jwt.Token) (interface{}, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
			}
			return manager.secretKey, nil
		},
	)

	if err != nil {
		return nil, fmt.Errorf("invalid token: %w", err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, errors.New("invalid token claims")
	}
	if claims.UserID == "" {
		return nil, errors.New("token missing user_id")
	}

	return claims, nil
}

// ExtractTokenFromHeader extracts a bearer token from the Authorization header.
func ExtractTokenFromHeader(r *http.Request) (string, error) {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return "", errors.New("authorization header missing")
	}

	const bearerPrefix = "Bearer "
	if !strings.HasPrefix(authHeader, bearerPrefix) {
		return "", errors.New("invalid authorization header format")
	}

	return strings.TrimPrefix(authHeader, bearerPrefix), nil
}

// ExtractTokenFromQuery extracts a bearer token from the ?token= query
// parameter — the common place browsers put it, since WebSocket handshakes
// cannot set arbitrary headers from JS.
func ExtractTokenFromQuery(r *http.Request) (string, error) {
	token := r.URL.Query().Get("token")
	if token == "" {
		return "", errors.New("token query parameter missing")
	}
	return token, nil
}

// WebSocketAuth validates the bearer token carried on a connection
// handshake (spec.md §4.10 "On connection: verify bearer token").
func (manager *JWTManager) WebSocketAuth(r *http.Request) (*Claims, error) {
	token, err := ExtractTokenFromQuery(r)
	if err != nil {
		token, err = ExtractTokenFromHeader(r)
		if err != nil {
			return nil, fmt.Errorf("no valid token found: %w", err)
		}
	}

	return manager.Verify(token)
}

// GenerateTestToken mints a token for a fixed development user. Only
// reachable through GET /auth/token when the transport server runs with
// RequireAuth=false (wired in internal/transport/server.go).
func (manager *JWTManager) GenerateTestToken() (string, error) {
	return manager.Generate("test-user-123")
}
