package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/CaioWing/Fiscus/internal/api/response"
	"github.com/CaioWing/Fiscus/internal/auth"
	"github.com/CaioWing/Fiscus/internal/domain"
)

type contextKey string

const (
	UserIDKey contextKey = "user_id"
	claimsKey contextKey = "claims"
)

// ManagementAuth validates the bearer token and stores its claims on the
// request context.
func ManagementAuth(jwtMgr *auth.JWTManager) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			if header == "" {
				response.Error(w, http.StatusUnauthorized, "missing authorization header")
				return
			}

			token := strings.TrimPrefix(header, "Bearer ")
			if token == header {
				response.Error(w, http.StatusUnauthorized, "invalid authorization format")
				return
			}

			claims, err := jwtMgr.Validate(token)
			if err != nil {
				response.Error(w, http.StatusUnauthorized, "invalid token")
				return
			}

			ctx := context.WithValue(r.Context(), UserIDKey, claims.UserID)
			ctx = context.WithValue(ctx, claimsKey, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// ActorFrom returns the management user behind r. RealIP must run first for
// the address to be the client's.
func ActorFrom(r *http.Request) domain.Actor {
	actor := domain.Actor{ID: "anonymous", Type: "management", IPAddress: r.RemoteAddr}
	if uid, ok := r.Context().Value(UserIDKey).(string); ok && uid != "" {
		actor.ID = uid
	}
	return actor
}

// CanAccessCompany reports whether the authenticated user may act on companyID.
func CanAccessCompany(ctx context.Context, companyID string) bool {
	claims, ok := ctx.Value(claimsKey).(*auth.ManagementClaims)
	if !ok {
		return false
	}
	return claims.CanAccessCompany(companyID)
}

// TenantRestricted reports whether the token is limited to specific companies.
func TenantRestricted(ctx context.Context) bool {
	claims, ok := ctx.Value(claimsKey).(*auth.ManagementClaims)
	return !ok || len(claims.Companies) > 0
}
