package middleware

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/denhq/control-plane/internal/auth"
	"github.com/denhq/control-plane/internal/models"
	"github.com/denhq/control-plane/internal/registry"
	"github.com/denhq/control-plane/internal/store"
)

type contextKey string

const (
	userKey contextKey = "user"
	nodeKey contextKey = "node"
)

// UserFrom returns the authenticated user, or nil outside session routes.
func UserFrom(ctx context.Context) *models.User {
	if u, ok := ctx.Value(userKey).(*models.User); ok {
		return u
	}
	return nil
}

// NodeFrom returns the authenticated node, or nil outside agent routes.
func NodeFrom(ctx context.Context) *models.Node {
	if n, ok := ctx.Value(nodeKey).(*models.Node); ok {
		return n
	}
	return nil
}

// SessionAuth validates the bearer JWT and loads the full user record into
// the request context, so handlers never re-fetch it.
type SessionAuth struct {
	auth   *auth.Service
	store  store.Store
	logger *slog.Logger
}

// NewSessionAuth creates the session middleware.
func NewSessionAuth(authSvc *auth.Service, st store.Store, logger *slog.Logger) *SessionAuth {
	if logger == nil {
		logger = slog.Default()
	}
	return &SessionAuth{auth: authSvc, store: st, logger: logger}
}

// Authenticate rejects requests without a valid session token.
func (m *SessionAuth) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := auth.ExtractBearerToken(r.Header.Get("Authorization"))
		if token == "" {
			writeAuthError(w, http.StatusUnauthorized, "missing authentication")
			return
		}

		claims, err := m.auth.ValidateToken(token)
		if err != nil {
			m.logger.Debug("session token rejected", "error", err)
			if err == auth.ErrExpiredToken {
				writeAuthError(w, http.StatusUnauthorized, "token has expired")
				return
			}
			writeAuthError(w, http.StatusUnauthorized, "invalid token")
			return
		}

		user, err := m.store.Users().Get(r.Context(), claims.UserID)
		if err != nil {
			m.logger.Debug("session user not found", "user_id", claims.UserID)
			writeAuthError(w, http.StatusUnauthorized, "unknown user")
			return
		}

		ctx := context.WithValue(r.Context(), userKey, user)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireAdmin gates a route group on the user's admin flag.
func RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user := UserFrom(r.Context())
		if user == nil {
			writeAuthError(w, http.StatusUnauthorized, "missing authentication")
			return
		}
		if !user.IsAdmin {
			writeAuthError(w, http.StatusForbidden, "admin required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// NodeAuth authenticates execution agents by node bearer token and loads the
// node into the request context.
func NodeAuth(reg *registry.Service, logger *slog.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := auth.ExtractBearerToken(r.Header.Get("Authorization"))
			node, err := reg.AuthenticateToken(r.Context(), token)
			if err != nil {
				logger.Debug("node token rejected", "remote_addr", r.RemoteAddr)
				writeAuthError(w, http.StatusUnauthorized, "invalid node token")
				return
			}
			ctx := context.WithValue(r.Context(), nodeKey, node)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func writeAuthError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
