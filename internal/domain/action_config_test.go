package domain

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestDecodeActionConfig_Variants(t *testing.T) {
	tests := []struct {
		name       string
		actionType ActionType
		raw        string
		want       ActionConfig
	}{
		{
			name:       "send email english keys",
			actionType: ActionSendEmail,
			raw:        `{"subject":"Hi","body":"Hello {user_name}"}`,
			want:       SendEmailConfig{Subject: "Hi", Body: "Hello {user_name}", Data: map[string]string{}},
		},
		{
			name:       "send email portuguese keys",
			actionType: "ENVIAR_EMAIL",
			raw:        `{"assunto":"Bem-vindo","corpo":"Olá {usuario_nome}"}`,
			want:       SendEmailConfig{Subject: "Bem-vindo", Body: "Olá {usuario_nome}", Data: map[string]string{}},
		},
		{
			name:       "create task",
			actionType: ActionCreateTask,
			raw:        `{"titulo":"Ligar","descricao":"Contato","prioridade":"alta"}`,
			want:       CreateTaskConfig{Title: "Ligar", Description: "Contato", Priority: "alta"},
		},
		{
			name:       "change status",
			actionType: ActionChangeStatus,
			raw:        `{"status":"inativo"}`,
			want:       ChangeStatusConfig{Status: StatusInactive},
		},
		{
			name:       "create group",
			actionType: "CRIAR_GRUPO",
			raw:        `{"nome_grupo":"Alto Risco","cor":"#e74c3c"}`,
			want:       CreateGroupConfig{Name: "Alto Risco", Color: "#e74c3c"},
		},
		{
			name:       "add to group",
			actionType: ActionAddToGroup,
			raw:        `{"group_id":7}`,
			want:       AddToGroupConfig{GroupID: 7},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DecodeActionConfig(tt.actionType, json.RawMessage(tt.raw))
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got.ActionType() != tt.want.ActionType() {
				t.Fatalf("variant = %s, want %s", got.ActionType(), tt.want.ActionType())
			}
			switch want := tt.want.(type) {
			case SendEmailConfig:
				g := got.(SendEmailConfig)
				if g.Subject != want.Subject || g.Body != want.Body {
					t.Errorf("got %+v, want %+v", g, want)
				}
			default:
				if got != tt.want {
					t.Errorf("got %+v, want %+v", got, tt.want)
				}
			}
		})
	}
}

func TestDecodeActionConfig_TemplateData(t *testing.T) {
	raw := `{"assunto":"Renovação","template":"renovacao_30_dias","dados":{"prazo":"30 dias","dias":30}}`

	got, err := DecodeActionConfig(ActionSendEmail, json.RawMessage(raw))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	cfg := got.(SendEmailConfig)
	if cfg.Template != "renovacao_30_dias" {
		t.Errorf("Template = %q", cfg.Template)
	}
	if cfg.Data["prazo"] != "30 dias" || cfg.Data["dias"] != "30" {
		t.Errorf("Data = %v", cfg.Data)
	}
}

func TestDecodeActionConfig_Invalid(t *testing.T) {
	tests := []struct {
		name       string
		actionType ActionType
		raw        string
		wantErr    error
	}{
		{"email without subject", ActionSendEmail, `{"body":"x"}`, ErrInvalidActionConfig},
		{"email without body or template", ActionSendEmail, `{"subject":"x"}`, ErrInvalidActionConfig},
		{"task without title", ActionCreateTask, `{}`, ErrInvalidActionConfig},
		{"bad status", ActionChangeStatus, `{"status":"paused"}`, ErrInvalidActionConfig},
		{"bad color", ActionCreateGroup, `{"name":"g","color":"red"}`, ErrInvalidActionConfig},
		{"missing group id", ActionAddToGroup, `{}`, ErrInvalidActionConfig},
		{"not an object", ActionCreateTask, `[1,2]`, ErrInvalidActionConfig},
		{"unknown type", "SEND_SMS", `{}`, ErrUnknownActionType},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeActionConfig(tt.actionType, json.RawMessage(tt.raw))
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("err = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestParseActionType(t *testing.T) {
	tests := []struct {
		in     string
		want   ActionType
		wantOK bool
	}{
		{"SEND_EMAIL", ActionSendEmail, true},
		{"ENVIAR_EMAIL", ActionSendEmail, true},
		{"CRIAR_TAREFA", ActionCreateTask, true},
		{"ADD_TO_GROUP", ActionAddToGroup, true},
		{"send_email", "", false},
		{"", "", false},
	}

	for _, tt := range tests {
		got, ok := ParseActionType(tt.in)
		if got != tt.want || ok != tt.wantOK {
			t.Errorf("ParseActionType(%q) = (%q, %v), want (%q, %v)", tt.in, got, ok, tt.want, tt.wantOK)
		}
	}
}
