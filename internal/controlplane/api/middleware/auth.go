// Package middleware provides HTTP middleware for the control API.
package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/marmos91/echoport/internal/controlplane/api/auth"
	"github.com/marmos91/echoport/internal/controlplane/api/handlers"
	"github.com/marmos91/echoport/internal/logger"
)

type contextKey string

const claimsContextKey contextKey = "claims"

// JWTAuth validates the bearer token of every request and stores its claims
// in the request context. A nil service rejects every request with 403:
// no secret is configured, so no token can be valid.
func JWTAuth(svc *auth.JWTService) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if svc == nil {
				handlers.Forbidden(w, "control API secret is not configured; mutating endpoints are disabled")
				return
			}

			token, ok := extractBearerToken(r)
			if !ok {
				w.Header().Set("WWW-Authenticate", `Bearer realm="echoport"`)
				handlers.Unauthorized(w, "missing or malformed Authorization header")
				return
			}

			claims, err := svc.ValidateToken(token)
			if err != nil {
				detail := "invalid token"
				if errors.Is(err, auth.ErrExpiredToken) {
					detail = "token has expired"
				}
				logger.Debug("Rejected API token", "path", r.URL.Path, logger.Err(err))
				handlers.Unauthorized(w, detail)
				return
			}

			ctx := context.WithValue(r.Context(), claimsContextKey, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireAdmin allows only tokens with the admin role.
// Must run after JWTAuth.
func RequireAdmin() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims := GetClaimsFromContext(r.Context())
			if claims == nil {
				handlers.Unauthorized(w, "authentication required")
				return
			}
			if !claims.IsAdmin() {
				handlers.Forbidden(w, "admin role required")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// GetClaimsFromContext returns the claims stored by JWTAuth, or nil.
func GetClaimsFromContext(ctx context.Context) *auth.Claims {
	claims, _ := ctx.Value(claimsContextKey).(*auth.Claims)
	return claims
}

// extractBearerToken extracts the token from "Authorization: Bearer <token>".
func extractBearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	scheme, token, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") || token == "" {
		return "", false
	}
	return token, true
}
