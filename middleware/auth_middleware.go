package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/upb/audit-query/utils"
	"go.uber.org/zap"
)

// TokenValidator turns a bearer token into audit reader claims
type TokenValidator interface {
	ValidateToken(ctx context.Context, token string) (*Claims, error)
}

// AuthMiddleware guards the audit read API
type AuthMiddleware struct {
	validator TokenValidator
	logger    *zap.Logger
}

// NewAuthMiddleware creates a new AuthMiddleware
func NewAuthMiddleware(validator TokenValidator, logger *zap.Logger) *AuthMiddleware {
	return &AuthMiddleware{
		validator: validator,
		logger:    logger,
	}
}

// RequireAuth rejects requests without a valid bearer token and stores the
// token's claims in the request context
func (m *AuthMiddleware) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		logger := m.logger.With(
			zap.String("request_id", chimw.GetReqID(ctx)),
			zap.String("path", r.URL.Path))

		token := extractBearerToken(r)
		if token == "" {
			logger.Warn("audit read without bearer token")
			challenge(w, "")
			_ = utils.WriteUnauthorized(w, "Bearer token required to read audit events")
			return
		}

		claims, err := m.validator.ValidateToken(ctx, token)
		if err != nil {
			logger.Warn("rejected audit reader token", zap.Error(err))
			challenge(w, "invalid_token")
			if errors.Is(err, ErrTokenExpired) {
				_ = utils.WriteUnauthorized(w, "Token expired")
				return
			}
			_ = utils.WriteUnauthorized(w, "Invalid token")
			return
		}

		logger.Debug("audit reader authenticated",
			zap.String("sub", claims.Subject),
			zap.Strings("roles", claims.Roles))
		next.ServeHTTP(w, r.WithContext(WithClaims(ctx, claims)))
	})
}

// RequireRole admits readers holding role. It must run after RequireAuth.
func (m *AuthMiddleware) RequireRole(role string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()

			claims := GetClaimsFromContext(ctx)
			if claims == nil {
				m.logger.Error("role check ran before authentication",
					zap.String("request_id", chimw.GetReqID(ctx)),
					zap.String("required_role", role))
				challenge(w, "")
				_ = utils.WriteUnauthorized(w, "Bearer token required to read audit events")
				return
			}

			if !claims.HasRole(role) {
				m.logger.Warn("audit reader lacks role",
					zap.String("request_id", chimw.GetReqID(ctx)),
					zap.String("sub", claims.Subject),
					zap.String("required_role", role),
					zap.Strings("roles", claims.Roles))
				_ = utils.WriteForbidden(w, "Role "+role+" required to read audit events")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// challenge sets the RFC 6750 WWW-Authenticate header
func challenge(w http.ResponseWriter, errCode string) {
	value := `Bearer realm="audit"`
	if errCode != "" {
		value += `, error="` + errCode + `"`
	}
	w.Header().Set("WWW-Authenticate", value)
}

// extractBearerToken returns the token from "Authorization: Bearer <token>"
func extractBearerToken(r *http.Request) string {
	scheme, token, ok := strings.Cut(r.Header.Get("Authorization"), " ")
	if !ok || !strings.EqualFold(scheme, "bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}
