package domain

import (
	"encoding/json"
	"fmt"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks a request or config struct against its `validate` tags.
func Validate(v any) error {
	return validate.Struct(v)
}

// ActionConfig is the typed form of a step's action_config. Exactly one
// variant exists per ActionType.
type ActionConfig interface {
	ActionType() ActionType
}

type SendEmailConfig struct {
	Subject  string            `validate:"required"`
	Body     string            `validate:"required_without=Template"`
	Template string            `validate:"required_without=Body"`
	Data     map[string]string `validate:"-"`
}

type CreateTaskConfig struct {
	Title           string `validate:"required"`
	Description     string
	Priority        string `validate:"omitempty,oneof=baixa media alta low medium high"`
	ActivityType    string
	DurationMinutes int `validate:"gte=0"`
}

// User status values accepted by CHANGE_STATUS.
const (
	StatusActive   = "ativo"
	StatusInactive = "inativo"
)

type ChangeStatusConfig struct {
	Status string `validate:"oneof=ativo inativo"`
}

type CreateGroupConfig struct {
	Name        string `validate:"required"`
	Description string
	Color       string `validate:"omitempty,hexcolor"`
}

type AddToGroupConfig struct {
	GroupID int64 `validate:"gt=0"`
}

func (SendEmailConfig) ActionType() ActionType    { return ActionSendEmail }
func (CreateTaskConfig) ActionType() ActionType   { return ActionCreateTask }
func (ChangeStatusConfig) ActionType() ActionType { return ActionChangeStatus }
func (CreateGroupConfig) ActionType() ActionType  { return ActionCreateGroup }
func (AddToGroupConfig) ActionType() ActionType   { return ActionAddToGroup }

// Wire shapes accept both the English keys and the Portuguese keys written by
// the original CRM tooling.
type sendEmailWire struct {
	Subject  string         `json:"subject"`
	Assunto  string         `json:"assunto"`
	Body     string         `json:"body"`
	Corpo    string         `json:"corpo"`
	Template string         `json:"template"`
	Data     map[string]any `json:"data"`
	Dados    map[string]any `json:"dados"`
}

type createTaskWire struct {
	Title           string `json:"title"`
	Titulo          string `json:"titulo"`
	Description     string `json:"description"`
	Descricao       string `json:"descricao"`
	Priority        string `json:"priority"`
	Prioridade      string `json:"prioridade"`
	ActivityType    string `json:"activity_type"`
	TipoAtividade   string `json:"tipo_atividade"`
	DurationMinutes int    `json:"duration_minutes"`
	DuracaoMinutos  int    `json:"duracao_minutos"`
}

type createGroupWire struct {
	Name        string `json:"name"`
	NomeGrupo   string `json:"nome_grupo"`
	Description string `json:"description"`
	Descricao   string `json:"descricao"`
	Color       string `json:"color"`
	Cor         string `json:"cor"`
}

type addToGroupWire struct {
	GroupID int64 `json:"group_id"`
	GrupoID int64 `json:"grupo_id"`
}

// DecodeActionConfig turns raw step configuration into its typed variant and
// validates it. Errors wrap ErrUnknownActionType or ErrInvalidActionConfig.
func DecodeActionConfig(t ActionType, raw json.RawMessage) (ActionConfig, error) {
	if len(raw) == 0 {
		raw = json.RawMessage(`{}`)
	}
	if norm, ok := ParseActionType(string(t)); ok {
		t = norm
	}

	var cfg ActionConfig
	switch t {
	case ActionSendEmail:
		var w sendEmailWire
		if err := json.Unmarshal(raw, &w); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidActionConfig, err)
		}
		data := stringifyMap(w.Dados)
		for k, v := range stringifyMap(w.Data) {
			data[k] = v
		}
		cfg = SendEmailConfig{
			Subject:  coalesce(w.Subject, w.Assunto),
			Body:     coalesce(w.Body, w.Corpo),
			Template: w.Template,
			Data:     data,
		}

	case ActionCreateTask:
		var w createTaskWire
		if err := json.Unmarshal(raw, &w); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidActionConfig, err)
		}
		duration := w.DurationMinutes
		if duration == 0 {
			duration = w.DuracaoMinutos
		}
		cfg = CreateTaskConfig{
			Title:           coalesce(w.Title, w.Titulo),
			Description:     coalesce(w.Description, w.Descricao),
			Priority:        coalesce(w.Priority, w.Prioridade),
			ActivityType:    coalesce(w.ActivityType, w.TipoAtividade),
			DurationMinutes: duration,
		}

	case ActionChangeStatus:
		var w struct {
			Status string `json:"status"`
		}
		if err := json.Unmarshal(raw, &w); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidActionConfig, err)
		}
		cfg = ChangeStatusConfig{Status: w.Status}

	case ActionCreateGroup:
		var w createGroupWire
		if err := json.Unmarshal(raw, &w); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidActionConfig, err)
		}
		cfg = CreateGroupConfig{
			Name:        coalesce(w.Name, w.NomeGrupo),
			Description: coalesce(w.Description, w.Descricao),
			Color:       coalesce(w.Color, w.Cor),
		}

	case ActionAddToGroup:
		var w addToGroupWire
		if err := json.Unmarshal(raw, &w); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidActionConfig, err)
		}
		id := w.GroupID
		if id == 0 {
			id = w.GrupoID
		}
		cfg = AddToGroupConfig{GroupID: id}

	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownActionType, t)
	}

	if err := validate.Struct(cfg); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidActionConfig, t, err)
	}
	return cfg, nil
}

func coalesce(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func stringifyMap(m map[string]any) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		switch val := v.(type) {
		case string:
			out[k] = val
		default:
			out[k] = fmt.Sprint(val)
		}
	}
	return out
}
