package engine

import (
	"context"
	"encoding/json"
	"math"
	"testing"

	"github.com/metavida/wellness-automation/internal/domain"
	"github.com/metavida/wellness-automation/internal/store/memstore"
)

func TestChurnBridge_EmitsAboveThreshold(t *testing.T) {
	s := memstore.New()
	bridge := NewChurnBridge(s, DefaultChurnThreshold, testLogger())
	ctx := context.Background()

	event, err := bridge.OnChurnScore(ctx, domain.User{ID: 10, Name: "Ana"}, 0.82)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if event == nil {
		t.Fatal("expected an event")
	}

	events, _ := s.ListEvents(ctx, domain.EventFilter{Type: domain.EventChurnAlert})
	if len(events) != 1 {
		t.Fatalf("expected exactly one CHURN_ALERTA, got %d", len(events))
	}

	var payload struct {
		UserID   int64   `json:"user_id"`
		UserName string  `json:"user_name"`
		Risk     float64 `json:"risk"`
	}
	if err := json.Unmarshal(events[0].Payload, &payload); err != nil {
		t.Fatalf("decoding payload: %v", err)
	}
	if payload.UserID != 10 || payload.UserName != "Ana" {
		t.Errorf("unexpected payload %+v", payload)
	}
	if math.Abs(payload.Risk-82.0) > 1e-9 {
		t.Errorf("risk = %v, want 82.0", payload.Risk)
	}
}

func TestChurnBridge_Threshold(t *testing.T) {
	tests := []struct {
		risk float64
		want bool
	}{
		{0.5, false},
		{0.75, false},
		{0.7501, true},
		{1, true},
		{0, false},
	}

	for _, tt := range tests {
		s := memstore.New()
		bridge := NewChurnBridge(s, DefaultChurnThreshold, testLogger())

		event, err := bridge.OnChurnScore(context.Background(), domain.User{ID: 1}, tt.risk)
		if err != nil {
			t.Fatalf("risk %v: unexpected error: %v", tt.risk, err)
		}
		if got := event != nil; got != tt.want {
			t.Errorf("risk %v: emitted = %v, want %v", tt.risk, got, tt.want)
		}
	}
}

func TestChurnBridge_RejectsOutOfRange(t *testing.T) {
	bridge := NewChurnBridge(memstore.New(), DefaultChurnThreshold, testLogger())

	for _, risk := range []float64{-0.1, 1.5, math.NaN()} {
		if _, err := bridge.OnChurnScore(context.Background(), domain.User{ID: 1}, risk); err == nil {
			t.Errorf("risk %v should be rejected", risk)
		}
	}
}
