package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/metavida/wellness-automation/internal/domain"
	"github.com/metavida/wellness-automation/internal/store"
	"github.com/metavida/wellness-automation/internal/worker"
)

type JourneyHandler struct {
	store  store.Store
	manual *worker.ManualAdvancer
	logger *slog.Logger
}

func NewJourneyHandler(s store.Store, manual *worker.ManualAdvancer, logger *slog.Logger) *JourneyHandler {
	return &JourneyHandler{store: s, manual: manual, logger: logger}
}

type journeyDetail struct {
	domain.Journey
	Steps []domain.Step `json:"steps"`
}

// loadJourney resolves {id} to a journey the actor may read. Journeys outside
// the actor's tenant are reported as missing.
func (h *JourneyHandler) loadJourney(w http.ResponseWriter, r *http.Request) (*domain.Journey, bool) {
	id, ok := idParam(r, "id")
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid journey id")
		return nil, false
	}

	j, err := h.store.GetJourney(r.Context(), id)
	if err != nil {
		h.logger.Error("failed to get journey", "journey_id", id, "error", err)
		respondError(w, http.StatusInternalServerError, "failed to get journey")
		return nil, false
	}
	if j == nil || !journeyScope(actorFrom(r.Context())).Visible(*j) {
		respondError(w, http.StatusNotFound, "journey not found")
		return nil, false
	}
	return j, true
}

// loadOwnedJourney is loadJourney restricted to the journey's owner.
func (h *JourneyHandler) loadOwnedJourney(w http.ResponseWriter, r *http.Request) (*domain.Journey, bool) {
	j, ok := h.loadJourney(w, r)
	if !ok {
		return nil, false
	}
	if j.OwnerID != actorFrom(r.Context()).ID {
		respondError(w, http.StatusForbidden, "only the journey owner can change it")
		return nil, false
	}
	return j, true
}

func (h *JourneyHandler) List(w http.ResponseWriter, r *http.Request) {
	filter := journeyScope(actorFrom(r.Context()))
	filter.TriggerType = r.URL.Query().Get("trigger_event_type")

	journeys, err := h.store.ListJourneys(r.Context(), filter)
	if err != nil {
		h.logger.Error("failed to list journeys", "error", err)
		respondError(w, http.StatusInternalServerError, "failed to list journeys")
		return
	}

	respondJSON(w, http.StatusOK, journeys)
}

// Create stores a journey and its initial steps in one transaction.
// Non-admins always create journeys scoped to their own tenant.
func (h *JourneyHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req domain.CreateJourneyRequest
	if msg, ok := decodeRequest(r, &req); !ok {
		respondError(w, http.StatusBadRequest, msg)
		return
	}

	actor := actorFrom(r.Context())
	tenantID := req.TenantID
	if !actor.IsAdmin() {
		if tenantID != nil && (actor.TenantID == nil || *tenantID != *actor.TenantID) {
			respondError(w, http.StatusForbidden, "cannot create journeys for another tenant")
			return
		}
		tenantID = actor.TenantID
	}

	steps := make([]domain.Step, 0, len(req.Steps))
	for i, sr := range req.Steps {
		step, err := buildStep(sr.Name, sr.Order, sr.ActionType, sr.ActionConfig)
		if err != nil {
			respondError(w, http.StatusBadRequest, fmt.Sprintf("steps[%d]: %v", i, err))
			return
		}
		steps = append(steps, step)
	}

	active := true
	if req.Active != nil {
		active = *req.Active
	}

	var detail journeyDetail
	err := h.store.WithinTx(r.Context(), func(repo store.Repository) error {
		j, err := repo.CreateJourney(r.Context(), domain.Journey{
			Name:             req.Name,
			Description:      req.Description,
			TriggerEventType: req.TriggerEventType,
			Active:           active,
			TenantID:         tenantID,
			OwnerID:          actor.ID,
		})
		if err != nil {
			return err
		}
		detail.Journey = *j
		detail.Steps = make([]domain.Step, 0, len(steps))

		for _, s := range steps {
			s.JourneyID = j.ID
			created, err := repo.CreateStep(r.Context(), s)
			if err != nil {
				return err
			}
			detail.Steps = append(detail.Steps, *created)
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, domain.ErrDuplicateStepOrder) {
			respondError(w, http.StatusConflict, "two steps share the same order")
			return
		}
		h.logger.Error("failed to create journey", "error", err)
		respondError(w, http.StatusInternalServerError, "failed to create journey")
		return
	}

	h.logger.Info("journey created",
		"journey_id", detail.ID,
		"trigger", detail.TriggerEventType,
		"steps", len(detail.Steps),
		"owner_id", actor.ID,
	)
	respondJSON(w, http.StatusCreated, detail)
}

func (h *JourneyHandler) Get(w http.ResponseWriter, r *http.Request) {
	j, ok := h.loadJourney(w, r)
	if !ok {
		return
	}

	steps, err := h.store.ListSteps(r.Context(), j.ID)
	if err != nil {
		h.logger.Error("failed to list steps", "journey_id", j.ID, "error", err)
		respondError(w, http.StatusInternalServerError, "failed to list steps")
		return
	}

	respondJSON(w, http.StatusOK, journeyDetail{Journey: *j, Steps: steps})
}

func (h *JourneyHandler) Update(w http.ResponseWriter, r *http.Request) {
	j, ok := h.loadOwnedJourney(w, r)
	if !ok {
		return
	}

	var req domain.UpdateJourneyRequest
	if msg, ok := decodeRequest(r, &req); !ok {
		respondError(w, http.StatusBadRequest, msg)
		return
	}

	if req.Name != nil {
		j.Name = *req.Name
	}
	if req.Description != nil {
		j.Description = *req.Description
	}
	if req.TriggerEventType != nil {
		j.TriggerEventType = *req.TriggerEventType
	}
	if req.Active != nil {
		j.Active = *req.Active
	}

	updated, err := h.store.UpdateJourney(r.Context(), *j)
	if err != nil {
		h.logger.Error("failed to update journey", "journey_id", j.ID, "error", err)
		respondError(w, http.StatusInternalServerError, "failed to update journey")
		return
	}
	if updated == nil {
		respondError(w, http.StatusNotFound, "journey not found")
		return
	}

	respondJSON(w, http.StatusOK, updated)
}

// Delete removes the journey with its steps and enrollments.
func (h *JourneyHandler) Delete(w http.ResponseWriter, r *http.Request) {
	j, ok := h.loadOwnedJourney(w, r)
	if !ok {
		return
	}

	deleted, err := h.store.DeleteJourney(r.Context(), j.ID)
	if err != nil {
		h.logger.Error("failed to delete journey", "journey_id", j.ID, "error", err)
		respondError(w, http.StatusInternalServerError, "failed to delete journey")
		return
	}
	if !deleted {
		respondError(w, http.StatusNotFound, "journey not found")
		return
	}

	h.logger.Info("journey deleted", "journey_id", j.ID)
	w.WriteHeader(http.StatusNoContent)
}

// Advance moves every in-progress enrollment of the journey one step.
func (h *JourneyHandler) Advance(w http.ResponseWriter, r *http.Request) {
	j, ok := h.loadJourney(w, r)
	if !ok {
		return
	}

	summary, err := h.manual.AdvanceJourney(r.Context(), j.ID)
	if err != nil {
		h.logger.Error("failed to advance journey", "journey_id", j.ID, "error", err)
		respondError(w, http.StatusInternalServerError, "failed to advance journey")
		return
	}

	respondJSON(w, http.StatusOK, summary)
}

func (h *JourneyHandler) ListSteps(w http.ResponseWriter, r *http.Request) {
	j, ok := h.loadJourney(w, r)
	if !ok {
		return
	}

	steps, err := h.store.ListSteps(r.Context(), j.ID)
	if err != nil {
		h.logger.Error("failed to list steps", "journey_id", j.ID, "error", err)
		respondError(w, http.StatusInternalServerError, "failed to list steps")
		return
	}

	respondJSON(w, http.StatusOK, steps)
}

func (h *JourneyHandler) CreateStep(w http.ResponseWriter, r *http.Request) {
	j, ok := h.loadOwnedJourney(w, r)
	if !ok {
		return
	}

	var req domain.CreateStepRequest
	if msg, ok := decodeRequest(r, &req); !ok {
		respondError(w, http.StatusBadRequest, msg)
		return
	}

	step, err := buildStep(req.Name, req.Order, req.ActionType, req.ActionConfig)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	step.JourneyID = j.ID

	created, err := h.store.CreateStep(r.Context(), step)
	if err != nil {
		h.stepWriteError(w, j.ID, err)
		return
	}

	respondJSON(w, http.StatusCreated, created)
}

func (h *JourneyHandler) UpdateStep(w http.ResponseWriter, r *http.Request) {
	j, ok := h.loadOwnedJourney(w, r)
	if !ok {
		return
	}
	stepID, ok := idParam(r, "stepID")
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid step id")
		return
	}

	var req domain.UpdateStepRequest
	if msg, ok := decodeRequest(r, &req); !ok {
		respondError(w, http.StatusBadRequest, msg)
		return
	}

	step, err := h.store.GetStep(r.Context(), j.ID, stepID)
	if err != nil {
		h.logger.Error("failed to get step", "journey_id", j.ID, "step_id", stepID, "error", err)
		respondError(w, http.StatusInternalServerError, "failed to get step")
		return
	}
	if step == nil {
		respondError(w, http.StatusNotFound, "step not found")
		return
	}

	name, order, actionType, config := step.Name, step.Order, string(step.ActionType), step.ActionConfig
	if req.Name != nil {
		name = *req.Name
	}
	if req.Order != nil {
		order = *req.Order
	}
	if req.ActionType != nil {
		actionType = *req.ActionType
	}
	if len(req.ActionConfig) > 0 {
		config = req.ActionConfig
	}

	next, err := buildStep(name, order, actionType, config)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	next.ID, next.JourneyID = step.ID, j.ID

	updated, err := h.store.UpdateStep(r.Context(), next)
	if err != nil {
		h.stepWriteError(w, j.ID, err)
		return
	}
	if updated == nil {
		respondError(w, http.StatusNotFound, "step not found")
		return
	}

	respondJSON(w, http.StatusOK, updated)
}

func (h *JourneyHandler) DeleteStep(w http.ResponseWriter, r *http.Request) {
	j, ok := h.loadOwnedJourney(w, r)
	if !ok {
		return
	}
	stepID, ok := idParam(r, "stepID")
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid step id")
		return
	}

	deleted, err := h.store.DeleteStep(r.Context(), j.ID, stepID)
	if err != nil {
		h.logger.Error("failed to delete step", "journey_id", j.ID, "step_id", stepID, "error", err)
		respondError(w, http.StatusInternalServerError, "failed to delete step")
		return
	}
	if !deleted {
		respondError(w, http.StatusNotFound, "step not found")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *JourneyHandler) Progress(w http.ResponseWriter, r *http.Request) {
	j, ok := h.loadJourney(w, r)
	if !ok {
		return
	}

	progress, err := h.store.JourneyProgress(r.Context(), j.ID)
	if err != nil {
		h.logger.Error("failed to get journey progress", "journey_id", j.ID, "error", err)
		respondError(w, http.StatusInternalServerError, "failed to get progress")
		return
	}

	respondJSON(w, http.StatusOK, progress)
}

func (h *JourneyHandler) Enrollments(w http.ResponseWriter, r *http.Request) {
	j, ok := h.loadJourney(w, r)
	if !ok {
		return
	}

	var completed *bool
	if v := r.URL.Query().Get("completed"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			respondError(w, http.StatusBadRequest, "completed must be true or false")
			return
		}
		completed = &b
	}

	enrollments, err := h.store.ListEnrollments(r.Context(), j.ID, completed)
	if err != nil {
		h.logger.Error("failed to list enrollments", "journey_id", j.ID, "error", err)
		respondError(w, http.StatusInternalServerError, "failed to list enrollments")
		return
	}

	respondJSON(w, http.StatusOK, enrollments)
}

func (h *JourneyHandler) stepWriteError(w http.ResponseWriter, journeyID int64, err error) {
	if errors.Is(err, domain.ErrDuplicateStepOrder) {
		respondError(w, http.StatusConflict, "another step already has this order")
		return
	}
	h.logger.Error("failed to save step", "journey_id", journeyID, "error", err)
	respondError(w, http.StatusInternalServerError, "failed to save step")
}

// buildStep normalizes the action name and checks the configuration decodes
// for it, so bad steps are rejected when saved rather than when run.
func buildStep(name string, order int, actionType string, config json.RawMessage) (domain.Step, error) {
	t, ok := domain.ParseActionType(actionType)
	if !ok {
		return domain.Step{}, fmt.Errorf("unknown action_type %q", actionType)
	}
	if len(config) == 0 {
		config = json.RawMessage(`{}`)
	}
	if _, err := domain.DecodeActionConfig(t, config); err != nil {
		return domain.Step{}, fmt.Errorf("invalid action_config for %s", t)
	}
	return domain.Step{
		Name:         name,
		Order:        order,
		ActionType:   t,
		ActionConfig: config,
	}, nil
}
