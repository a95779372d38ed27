package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"libcirc/internal/domain"
	"libcirc/internal/repository"

	"github.com/google/uuid"
)

type ctxKey string

const (
	UserIDKey  ctxKey = "userID"
	IsAdminKey ctxKey = "isAdmin"
)

// SanctumMiddleware resolves the bearer token to a user. The token may come
// from the Authorization header or, for websocket clients, a ?token= query
// parameter. Admin rights come from the token's "admin" ability.
func SanctumMiddleware(tokenRepo *repository.PersonalAccessTokenRepository) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var pat *domain.PersonalAccessToken

			authHeader := r.Header.Get("Authorization")
			if strings.HasPrefix(authHeader, "Bearer ") {
				plainToken := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
				if plainToken != "" {
					if p, err := tokenRepo.FindTokenByPlainToken(r.Context(), plainToken); err == nil {
						pat = p
					}
				}
			}

			if pat == nil {
				if token := r.URL.Query().Get("token"); token != "" {
					if p, err := tokenRepo.FindTokenByPlainToken(r.Context(), token); err == nil {
						pat = p
					}
				}
			}

			if pat == nil {
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}
			if pat.ExpiresAt != nil && pat.ExpiresAt.Before(time.Now()) {
				http.Error(w, "Token expired", http.StatusUnauthorized)
				return
			}

			ctx := context.WithValue(r.Context(), UserIDKey, pat.UserID)
			ctx = context.WithValue(ctx, IsAdminKey, pat.HasAbility("admin"))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func GetUserID(ctx context.Context) (uuid.UUID, error) {
	userID, ok := ctx.Value(UserIDKey).(uuid.UUID)
	if !ok {
		return uuid.Nil, errors.New("userID not found in context")
	}
	return userID, nil
}

func IsAdmin(ctx context.Context) bool {
	isAdmin, ok := ctx.Value(IsAdminKey).(bool)
	return ok && isAdmin
}
