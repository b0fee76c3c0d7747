package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"

	"github.com/metavida/wellness-automation/internal/domain"
)

const DefaultChurnThreshold = 0.75

// EventRecorder appends to the event log.
type EventRecorder interface {
	RecordEvent(ctx context.Context, eventType string, payload json.RawMessage) (*domain.Event, error)
}

// ChurnBridge turns scores from the external churn model into CHURN_ALERTA
// events.
type ChurnBridge struct {
	events    EventRecorder
	threshold float64
	logger    *slog.Logger
}

// NewChurnBridge alerts above threshold, which must lie strictly between 0
// and 1; anything else falls back to DefaultChurnThreshold.
func NewChurnBridge(events EventRecorder, threshold float64, logger *slog.Logger) *ChurnBridge {
	if threshold <= 0 || threshold >= 1 {
		threshold = DefaultChurnThreshold
	}
	return &ChurnBridge{
		events:    events,
		threshold: threshold,
		logger:    logger.With("component", "churn_bridge"),
	}
}

type churnAlertPayload struct {
	UserID   int64   `json:"user_id"`
	UserName string  `json:"user_name"`
	Risk     float64 `json:"risk"`
}

// OnChurnScore records a CHURN_ALERTA event when risk is strictly above the
// threshold. risk is a probability in [0, 1]; the event carries it as a
// percentage. It returns nil when no alert was emitted.
func (b *ChurnBridge) OnChurnScore(ctx context.Context, user domain.User, risk float64) (*domain.Event, error) {
	if math.IsNaN(risk) || risk < 0 || risk > 1 {
		return nil, fmt.Errorf("churn risk %v outside [0, 1]", risk)
	}
	if risk <= b.threshold {
		return nil, nil
	}

	payload, err := json.Marshal(churnAlertPayload{
		UserID:   user.ID,
		UserName: user.Name,
		Risk:     math.Round(risk*10000) / 100,
	})
	if err != nil {
		return nil, fmt.Errorf("encoding churn alert: %w", err)
	}

	event, err := b.events.RecordEvent(ctx, domain.EventChurnAlert, payload)
	if err != nil {
		return nil, fmt.Errorf("recording churn alert: %w", err)
	}

	b.logger.Info("churn alert recorded",
		"user_id", user.ID,
		"risk", risk,
		"event_id", event.ID,
	)
	return event, nil
}
