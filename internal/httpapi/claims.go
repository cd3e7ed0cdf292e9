// Package httpapi binds the sync gateway's push/pull/flush/schema/watch
// operations onto an HTTP surface (SPEC_FULL.md §4.9, §6): a chi router
// with request-id, panic-recovery, and per-gateway JWT auth middleware,
// mapping typed gateway errors onto HTTP status codes.
package httpapi

import (
	"context"
	"fmt"

	"github.com/golang-jwt/jwt/v4"
)

// Role is the JWT role claim. Sync routes require RoleClient; admin
// routes require RoleAdmin (SPEC_FULL §6).
type Role string

const (
	RoleClient Role = "client"
	RoleAdmin  Role = "admin"
)

// Claims is the JWT payload verified on every authenticated request.
type Claims struct {
	ClientID  string `json:"clientId"`
	GatewayID string `json:"gatewayId"`
	Role      Role   `json:"role"`
	jwt.RegisteredClaims
}

// parseClaims verifies tokenString against secret using HS256 and
// returns its claims.
func parseClaims(tokenString string, secret []byte) (*Claims, error) {
	claims := &Claims{}

	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if t.Method.Alg() != jwt.SigningMethodHS256.Alg() {
			return nil, fmt.Errorf("httpapi: unexpected signing method %q", t.Method.Alg())
		}

		return secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("httpapi: parse token: %w", err)
	}

	if !token.Valid {
		return nil, fmt.Errorf("httpapi: token invalid")
	}

	return claims, nil
}

type claimsContextKey struct{}

func withClaims(ctx context.Context, claims *Claims) context.Context {
	return context.WithValue(ctx, claimsContextKey{}, claims)
}

// ClaimsFromContext returns the verified claims injected by the auth
// middleware, if any.
func ClaimsFromContext(ctx context.Context) (*Claims, bool) {
	claims, ok := ctx.Value(claimsContextKey{}).(*Claims)
	return claims, ok
}
