package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/metavida/wellness-automation/internal/engine"
	"github.com/metavida/wellness-automation/internal/store"
	"github.com/metavida/wellness-automation/internal/worker"
)

type AutomationHandler struct {
	store      store.Store
	dispatcher *worker.Dispatcher
	churn      *engine.ChurnBridge
	logger     *slog.Logger
}

func NewAutomationHandler(s store.Store, d *worker.Dispatcher, churn *engine.ChurnBridge, logger *slog.Logger) *AutomationHandler {
	return &AutomationHandler{store: s, dispatcher: d, churn: churn, logger: logger}
}

type processRequest struct {
	BatchSize int `json:"batch_size" validate:"gte=0,lte=1000"`
}

// Process runs one dispatcher pass. Per-event errors are logged by the
// dispatcher; only the counts are returned.
func (h *AutomationHandler) Process(w http.ResponseWriter, r *http.Request) {
	var req processRequest
	if r.ContentLength != 0 {
		if msg, ok := decodeRequest(r, &req); !ok {
			respondError(w, http.StatusBadRequest, msg)
			return
		}
	}

	summary, err := h.dispatcher.Run(r.Context(), req.BatchSize)
	if err != nil {
		if errors.Is(err, worker.ErrDispatchBusy) {
			respondError(w, http.StatusConflict, "a dispatcher run is already in progress")
			return
		}
		h.logger.Error("dispatcher run failed", "error", err)
		respondError(w, http.StatusInternalServerError, "dispatcher run failed")
		return
	}

	respondJSON(w, http.StatusOK, summary)
}

type churnScoreRequest struct {
	UserID int64    `json:"user_id" validate:"required,gt=0"`
	Risk   *float64 `json:"risk" validate:"required,gte=0,lte=1"`
}

type churnScoreResponse struct {
	AlertEmitted bool   `json:"alert_emitted"`
	EventID      *int64 `json:"event_id,omitempty"`
}

// ChurnScore accepts a score from the churn model and records CHURN_ALERTA
// when it crosses the threshold.
func (h *AutomationHandler) ChurnScore(w http.ResponseWriter, r *http.Request) {
	var req churnScoreRequest
	if msg, ok := decodeRequest(r, &req); !ok {
		respondError(w, http.StatusBadRequest, msg)
		return
	}

	user, err := h.store.GetUser(r.Context(), req.UserID)
	if err != nil {
		h.logger.Error("failed to get user", "user_id", req.UserID, "error", err)
		respondError(w, http.StatusInternalServerError, "failed to get user")
		return
	}
	if user == nil {
		respondError(w, http.StatusNotFound, "user not found")
		return
	}

	event, err := h.churn.OnChurnScore(r.Context(), *user, *req.Risk)
	if err != nil {
		h.logger.Error("failed to handle churn score", "user_id", req.UserID, "error", err)
		respondError(w, http.StatusInternalServerError, "failed to record churn alert")
		return
	}

	resp := churnScoreResponse{AlertEmitted: event != nil}
	if event != nil {
		resp.EventID = &event.ID
	}
	respondJSON(w, http.StatusOK, resp)
}
