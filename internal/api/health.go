package api

import (
	"context"
	"net/http"
	"time"
)

type HealthResponse struct {
	Status   string `json:"status"`
	Version  string `json:"version"`
	Database string `json:"database"`
}

type pinger interface {
	Ping(ctx context.Context) error
}

// HealthHandler reports liveness plus database reachability.
func HealthHandler(db pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		resp := HealthResponse{Status: "healthy", Version: "1.0.0", Database: "up"}
		if err := db.Ping(ctx); err != nil {
			resp.Status, resp.Database = "degraded", "down"
			respondJSON(w, http.StatusServiceUnavailable, resp)
			return
		}
		respondJSON(w, http.StatusOK, resp)
	}
}
