package httpserver

import (
	"context"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"househunter/internal/domain"
	"househunter/internal/logger"
	"househunter/internal/service"
)

type contextKey string

const userContextKey contextKey = "currentUser"

// WithUser returns a new context carrying the current user.
func WithUser(ctx context.Context, user *domain.User) context.Context {
	return context.WithValue(ctx, userContextKey, user)
}

// CurrentUser extracts the current user from context, if any.
func CurrentUser(r *http.Request) *domain.User {
	if v := r.Context().Value(userContextKey); v != nil {
		if u, ok := v.(*domain.User); ok {
			return u
		}
	}
	return nil
}

func bearerToken(r *http.Request) string {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" || !strings.HasPrefix(strings.ToLower(authHeader), "bearer ") {
		return ""
	}
	return strings.TrimSpace(authHeader[len("Bearer "):])
}

// AuthMiddleware validates the Bearer token and attaches the user to the
// context. Every authenticated request refreshes the user's last_seen.
func AuthMiddleware(auth *service.AuthService, users domain.UserRepository) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tokenStr := bearerToken(r)
			if tokenStr == "" {
				writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "missing or invalid Authorization header"})
				return
			}

			user, err := auth.Authenticate(r.Context(), tokenStr)
			if err != nil {
				writeError(w, r, err)
				return
			}

			if err := users.TouchLastSeen(r.Context(), user.ID); err != nil {
				logger.FromContext(r.Context()).Warn("touch last seen failed",
					zap.Int64("user_id", user.ID),
					zap.Error(err),
				)
			}

			ctx := WithUser(r.Context(), user)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// OptionalAuthMiddleware attaches the user when a valid token is present
// and otherwise serves the request anonymously.
func OptionalAuthMiddleware(auth *service.AuthService) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tokenStr := bearerToken(r)
			if tokenStr == "" {
				next.ServeHTTP(w, r)
				return
			}
			user, err := auth.Authenticate(r.Context(), tokenStr)
			if err != nil {
				next.ServeHTTP(w, r)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), user)))
		})
	}
}
