package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/metavida/wellness-automation/internal/domain"
	"github.com/metavida/wellness-automation/internal/engine"
	"github.com/metavida/wellness-automation/internal/store"
	"github.com/metavida/wellness-automation/internal/worker"
)

type EnrollmentHandler struct {
	store  store.Store
	manual *worker.ManualAdvancer
	logger *slog.Logger
}

func NewEnrollmentHandler(s store.Store, manual *worker.ManualAdvancer, logger *slog.Logger) *EnrollmentHandler {
	return &EnrollmentHandler{store: s, manual: manual, logger: logger}
}

type advanceResponse struct {
	Outcome    string            `json:"outcome"`
	Enrollment domain.Enrollment `json:"enrollment"`
	StepID     *int64            `json:"step_id,omitempty"`
	Detail     string            `json:"detail,omitempty"`
	Retryable  bool              `json:"retryable,omitempty"`
}

// Get returns an enrollment to its user or to anyone who can read its journey.
func (h *EnrollmentHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(r, "id")
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid enrollment id")
		return
	}

	e, err := h.store.GetEnrollment(r.Context(), id)
	if err != nil {
		h.logger.Error("failed to get enrollment", "enrollment_id", id, "error", err)
		respondError(w, http.StatusInternalServerError, "failed to get enrollment")
		return
	}
	if e == nil {
		respondError(w, http.StatusNotFound, "enrollment not found")
		return
	}

	actor := actorFrom(r.Context())
	if e.UserID != actor.ID {
		j, err := h.store.GetJourney(r.Context(), e.JourneyID)
		if err != nil {
			h.logger.Error("failed to get journey", "journey_id", e.JourneyID, "error", err)
			respondError(w, http.StatusInternalServerError, "failed to get enrollment")
			return
		}
		if j == nil || !journeyScope(actor).Visible(*j) {
			respondError(w, http.StatusNotFound, "enrollment not found")
			return
		}
	}

	respondJSON(w, http.StatusOK, e)
}

// Advance executes the next step of one enrollment.
func (h *EnrollmentHandler) Advance(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(r, "id")
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid enrollment id")
		return
	}

	res, err := h.manual.AdvanceEnrollment(r.Context(), id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			respondError(w, http.StatusNotFound, "enrollment not found")
			return
		}
		h.logger.Error("failed to advance enrollment", "enrollment_id", id, "error", err)
		respondError(w, http.StatusInternalServerError, "failed to advance enrollment")
		return
	}

	resp := advanceResponse{
		Outcome:    res.Outcome,
		Enrollment: res.Enrollment,
		Detail:     res.Action.Detail,
	}
	if res.Step != nil {
		resp.StepID = &res.Step.ID
	}
	if res.Outcome == engine.OutcomeStepFailed {
		resp.Detail = "step failed"
		resp.Retryable = !res.Action.Permanent
	}
	respondJSON(w, http.StatusOK, resp)
}
