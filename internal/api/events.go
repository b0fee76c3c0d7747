package api

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/metavida/wellness-automation/internal/domain"
	"github.com/metavida/wellness-automation/internal/store"
)

const (
	defaultEventLimit = 50
	maxEventLimit     = 500
)

type EventHandler struct {
	store  store.Store
	logger *slog.Logger
}

func NewEventHandler(s store.Store, logger *slog.Logger) *EventHandler {
	return &EventHandler{store: s, logger: logger}
}

// Create appends an event to the log. Journeys react to it on the next
// dispatcher pass.
func (h *EventHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req domain.RecordEventRequest
	if msg, ok := decodeRequest(r, &req); !ok {
		respondError(w, http.StatusBadRequest, msg)
		return
	}

	event, err := h.store.RecordEvent(r.Context(), req.Type, req.Payload)
	if err != nil {
		h.logger.Error("failed to record event", "event_type", req.Type, "error", err)
		respondError(w, http.StatusInternalServerError, "failed to record event")
		return
	}

	h.logger.Info("event recorded",
		"event_id", event.ID,
		"event_type", event.Type,
		"actor_id", actorFrom(r.Context()).ID,
	)
	respondJSON(w, http.StatusCreated, event)
}

func (h *EventHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := domain.EventFilter{Type: q.Get("type"), Limit: defaultEventLimit}

	if v := q.Get("processed"); v != "" {
		processed, err := strconv.ParseBool(v)
		if err != nil {
			respondError(w, http.StatusBadRequest, "processed must be true or false")
			return
		}
		filter.Processed = &processed
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			respondError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		filter.Limit = min(n, maxEventLimit)
	}

	events, err := h.store.ListEvents(r.Context(), filter)
	if err != nil {
		h.logger.Error("failed to list events", "error", err)
		respondError(w, http.StatusInternalServerError, "failed to list events")
		return
	}

	respondJSON(w, http.StatusOK, events)
}

func (h *EventHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(r, "id")
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid event id")
		return
	}

	event, err := h.store.GetEvent(r.Context(), id)
	if err != nil {
		h.logger.Error("failed to get event", "event_id", id, "error", err)
		respondError(w, http.StatusInternalServerError, "failed to get event")
		return
	}
	if event == nil {
		respondError(w, http.StatusNotFound, "event not found")
		return
	}

	respondJSON(w, http.StatusOK, event)
}
