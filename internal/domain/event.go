package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// Event types recorded by the CRM and consumed by journeys.
const (
	EventUserCreated        = "USUARIO_CRIADO"
	EventReservationCreated = "RESERVA_CRIADA"
	EventContractCreated    = "CONTRATO_CRIADO"
	EventContractExpiring   = "CONTRATO_EXPIRANDO"
	EventChurnAlert         = "CHURN_ALERTA"
)

type Event struct {
	ID          int64           `json:"id"`
	Type        string          `json:"type"`
	Payload     json.RawMessage `json:"payload"`
	RecordedAt  time.Time       `json:"recorded_at"`
	Processed   bool            `json:"processed"`
	ProcessedAt *time.Time      `json:"processed_at,omitempty"`
}

// SubjectUserID extracts payload.user_id. The second return value is false when
// the event carries no user, which is legal for informational event types.
func (e Event) SubjectUserID() (int64, bool, error) {
	if len(e.Payload) == 0 {
		return 0, false, nil
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(e.Payload, &fields); err != nil {
		return 0, false, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}

	raw, ok := fields["user_id"]
	if !ok || string(raw) == "null" {
		return 0, false, nil
	}

	var id int64
	if err := json.Unmarshal(raw, &id); err != nil {
		return 0, false, fmt.Errorf("%w: user_id: %v", ErrMalformedPayload, err)
	}
	return id, true, nil
}

type RecordEventRequest struct {
	Type    string          `json:"type" validate:"required,max=100"`
	Payload json.RawMessage `json:"payload" validate:"required"`
}

// EventFilter narrows ListEvents. A nil Processed lists both states.
type EventFilter struct {
	Type      string
	Processed *bool
	Limit     int
}
