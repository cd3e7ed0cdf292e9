package httpapi

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/lakesync/lakesync/internal/lakeerr"
)

// requireRole returns middleware that extracts the bearer token (from
// the Authorization header, or the `token` query parameter for
// websocket upgrades that cannot set headers), verifies it against the
// path's gatewayId secret, and rejects requests whose role or
// gatewayId claim doesn't match (SPEC_FULL §6).
func (s *Server) requireRole(role Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			gatewayID := chi.URLParam(r, "gatewayId")

			b, err := s.registry.get(gatewayID)
			if err != nil {
				writeError(w, lakeerr.ErrUnauthorized)
				return
			}

			tokenString := bearerToken(r)
			if tokenString == "" {
				writeError(w, lakeerr.ErrUnauthorized)
				return
			}

			claims, err := parseClaims(tokenString, b.secret)
			if err != nil {
				writeError(w, lakeerr.ErrUnauthorized)
				return
			}

			if claims.GatewayID != gatewayID {
				writeError(w, lakeerr.ErrUnauthorized)
				return
			}

			if claims.Role != role {
				writeError(w, lakeerr.ErrForbidden)
				return
			}

			next.ServeHTTP(w, r.WithContext(withClaims(r.Context(), claims)))
		})
	}
}

func bearerToken(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); auth != "" {
		const prefix = "Bearer "
		if strings.HasPrefix(auth, prefix) {
			return strings.TrimPrefix(auth, prefix)
		}
	}

	return r.URL.Query().Get("token")
}
