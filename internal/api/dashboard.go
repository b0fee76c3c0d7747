package api

import (
	"log/slog"
	"net/http"

	"github.com/metavida/wellness-automation/internal/engine"
	"github.com/metavida/wellness-automation/internal/store"
	ws "github.com/metavida/wellness-automation/internal/websocket"
)

type DashboardHandler struct {
	store  store.Store
	cb     *engine.CircuitBreaker
	hub    *ws.Hub
	logger *slog.Logger
}

func NewDashboardHandler(s store.Store, cb *engine.CircuitBreaker, hub *ws.Hub, logger *slog.Logger) *DashboardHandler {
	return &DashboardHandler{store: s, cb: cb, hub: hub, logger: logger}
}

type metricsResponse struct {
	store.AutomationMetrics
	MailCircuit      *engine.CircuitBreakerState `json:"mail_circuit,omitempty"`
	WebSocketClients int                         `json:"websocket_clients"`
}

// Metrics returns the automation counters shown on the dashboard.
func (h *DashboardHandler) Metrics(w http.ResponseWriter, r *http.Request) {
	metrics, err := h.store.AutomationMetrics(r.Context())
	if err != nil {
		h.logger.Error("failed to get metrics", "error", err)
		respondError(w, http.StatusInternalServerError, "failed to get metrics")
		return
	}

	resp := metricsResponse{AutomationMetrics: *metrics}
	if h.cb != nil {
		state := h.cb.State(r.Context(), engine.ChannelMail)
		resp.MailCircuit = &state
	}
	if h.hub != nil {
		resp.WebSocketClients = h.hub.ClientCount()
	}

	respondJSON(w, http.StatusOK, resp)
}
