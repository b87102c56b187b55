package auth

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/voxpoll/voxpoll/internal/platform/httpx"
	"github.com/voxpoll/voxpoll/internal/shared"
)

// Authenticator verifies Bearer access tokens and stores the resulting
// identity in the request context.
func Authenticator(tokens *TokenIssuer, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			if header == "" || !strings.HasPrefix(header, "Bearer ") {
				httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "missing bearer token")
				return
			}
			claims, err := tokens.Parse(strings.TrimPrefix(header, "Bearer "))
			if err != nil || claims.TokenUse == refreshTokenUse {
				if logger != nil && err != nil {
					logger.Debug("token rejected", slog.Any("error", err))
				}
				httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "token is invalid or expired")
				return
			}

			identity := &shared.Identity{
				UserID:      claims.UserID,
				Username:    claims.Username,
				Email:       claims.Email,
				UserType:    claims.UserType,
				IsAdmin:     claims.IsAdmin,
				IsModerator: claims.IsModerator,
				Permissions: claims.Permissions,
				Roles:       claims.Roles,
			}
			next.ServeHTTP(w, r.WithContext(shared.ContextWithIdentity(r.Context(), identity)))
		})
	}
}
