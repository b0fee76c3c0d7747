package domain

import (
	"encoding/json"
	"time"
)

// ActionType is the closed set of things a journey step can do.
type ActionType string

const (
	ActionSendEmail    ActionType = "SEND_EMAIL"
	ActionCreateTask   ActionType = "CREATE_TASK"
	ActionChangeStatus ActionType = "CHANGE_STATUS"
	ActionCreateGroup  ActionType = "CREATE_GROUP"
	ActionAddToGroup   ActionType = "ADD_TO_GROUP"
)

// Journeys created by older tooling store the Portuguese action names.
var actionAliases = map[string]ActionType{
	"ENVIAR_EMAIL":    ActionSendEmail,
	"CRIAR_TAREFA":    ActionCreateTask,
	"ALTERAR_STATUS":  ActionChangeStatus,
	"MUDAR_STATUS":    ActionChangeStatus,
	"CRIAR_GRUPO":     ActionCreateGroup,
	"ADICIONAR_GRUPO": ActionAddToGroup,
}

// ParseActionType normalizes a stored action name. It reports false for names
// outside the closed set.
func ParseActionType(s string) (ActionType, bool) {
	switch t := ActionType(s); t {
	case ActionSendEmail, ActionCreateTask, ActionChangeStatus, ActionCreateGroup, ActionAddToGroup:
		return t, true
	}
	t, ok := actionAliases[s]
	return t, ok
}

type Journey struct {
	ID               int64     `json:"id"`
	Name             string    `json:"name"`
	Description      string    `json:"description"`
	TriggerEventType string    `json:"trigger_event_type"`
	Active           bool      `json:"active"`
	TenantID         *int64    `json:"tenant_id"`
	OwnerID          int64     `json:"owner_id"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// AppliesToTenant reports whether the journey may enroll users of tenantID.
// Journeys without a tenant apply everywhere.
func (j Journey) AppliesToTenant(tenantID *int64) bool {
	if j.TenantID == nil {
		return true
	}
	return tenantID != nil && *tenantID == *j.TenantID
}

type Step struct {
	ID           int64           `json:"id"`
	JourneyID    int64           `json:"journey_id"`
	Name         string          `json:"name"`
	Order        int             `json:"order"`
	ActionType   ActionType      `json:"action_type"`
	ActionConfig json.RawMessage `json:"action_config"`
}

// Config decodes the step's opaque configuration into its typed variant.
func (s Step) Config() (ActionConfig, error) {
	return DecodeActionConfig(s.ActionType, s.ActionConfig)
}

// Enrollment tracks one user's progress through one journey.
// CurrentStepOrder mirrors the order of CurrentStepID so advancement keeps
// moving forward even if that step is later deleted.
type Enrollment struct {
	ID               int64      `json:"id"`
	UserID           int64      `json:"user_id"`
	JourneyID        int64      `json:"journey_id"`
	CurrentStepID    *int64     `json:"current_step_id"`
	CurrentStepOrder *int       `json:"current_step_order,omitempty"`
	StartedAt        time.Time  `json:"started_at"`
	CompletedAt      *time.Time `json:"completed_at,omitempty"`
	Completed        bool       `json:"completed"`
}

type JourneyProgress struct {
	JourneyID  int64          `json:"journey_id"`
	Total      int            `json:"total"`
	Completed  int            `json:"completed"`
	InProgress int            `json:"in_progress"`
	NotStarted int            `json:"not_started"`
	Steps      []StepProgress `json:"steps"`
}

// StepProgress counts in-progress enrollments currently sitting on a step.
type StepProgress struct {
	StepID      int64  `json:"step_id"`
	Name        string `json:"name"`
	Order       int    `json:"order"`
	Enrollments int    `json:"enrollments"`
}

type CreateJourneyRequest struct {
	Name             string              `json:"name" validate:"required,max=200"`
	Description      string              `json:"description"`
	TriggerEventType string              `json:"trigger_event_type" validate:"required,max=100"`
	Active           *bool               `json:"active,omitempty"`
	TenantID         *int64              `json:"tenant_id,omitempty" validate:"omitempty,gt=0"`
	Steps            []CreateStepRequest `json:"steps,omitempty" validate:"dive"`
}

type UpdateJourneyRequest struct {
	Name             *string `json:"name,omitempty" validate:"omitempty,min=1,max=200"`
	Description      *string `json:"description,omitempty"`
	TriggerEventType *string `json:"trigger_event_type,omitempty" validate:"omitempty,min=1,max=100"`
	Active           *bool   `json:"active,omitempty"`
}

type CreateStepRequest struct {
	Name         string          `json:"name" validate:"required,max=200"`
	Order        int             `json:"order" validate:"gte=1"`
	ActionType   string          `json:"action_type" validate:"required"`
	ActionConfig json.RawMessage `json:"action_config"`
}

type UpdateStepRequest struct {
	Name         *string         `json:"name,omitempty" validate:"omitempty,min=1,max=200"`
	Order        *int            `json:"order,omitempty" validate:"omitempty,gte=1"`
	ActionType   *string         `json:"action_type,omitempty"`
	ActionConfig json.RawMessage `json:"action_config,omitempty"`
}
