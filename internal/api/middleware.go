package api

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/metavida/wellness-automation/internal/domain"
	"github.com/metavida/wellness-automation/internal/store"
)

type ctxKey int

const actorKey ctxKey = iota

// actorHeader carries the authenticated user id, set by the auth gateway in
// front of this service.
const actorHeader = "X-User-ID"

// withActor loads the calling user and stores it on the request context.
// Requests without a known, active user are rejected.
func withActor(repo store.Repository, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, err := strconv.ParseInt(r.Header.Get(actorHeader), 10, 64)
			if err != nil || id <= 0 {
				respondError(w, http.StatusUnauthorized, "missing or invalid "+actorHeader)
				return
			}

			user, err := repo.GetUser(r.Context(), id)
			if err != nil {
				logger.Error("failed to load actor", "user_id", id, "error", err)
				respondError(w, http.StatusInternalServerError, "failed to authenticate")
				return
			}
			if user == nil || !user.Active {
				respondError(w, http.StatusUnauthorized, "unknown user")
				return
			}

			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), actorKey, *user)))
		})
	}
}

func actorFrom(ctx context.Context) domain.User {
	u, _ := ctx.Value(actorKey).(domain.User)
	return u
}

func requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !actorFrom(r.Context()).IsAdmin() {
			respondError(w, http.StatusForbidden, "admin role required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// journeyScope is what the actor may read: journeys of their own tenant plus
// global ones. Admins without a tenant see everything.
func journeyScope(actor domain.User) store.JourneyFilter {
	return store.JourneyFilter{
		TenantID:   actor.TenantID,
		AllTenants: actor.IsAdmin() && actor.TenantID == nil,
	}
}

// corsMiddleware adds CORS headers for dashboard development.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PATCH, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, "+actorHeader)

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}
