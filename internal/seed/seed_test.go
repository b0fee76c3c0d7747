package seed

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/metavida/wellness-automation/internal/domain"
	"github.com/metavida/wellness-automation/internal/store"
	"github.com/metavida/wellness-automation/internal/store/memstore"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

func TestRun_CreatesStockJourneys(t *testing.T) {
	st := memstore.New()
	ctx := context.Background()
	tenant := int64(1)

	res, err := Run(ctx, st, Options{TenantID: &tenant, OwnerID: 1}, testLogger())
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	if len(res.Created) != 3 || len(res.Existing) != 0 {
		t.Fatalf("unexpected result %+v", res)
	}

	tests := []struct {
		name  string
		steps []domain.ActionType
	}{
		{"Onboarding Aluno Novo", []domain.ActionType{domain.ActionSendEmail, domain.ActionCreateTask}},
		{"Retenção - Alto Risco de Churn", []domain.ActionType{domain.ActionCreateGroup, domain.ActionSendEmail, domain.ActionCreateTask}},
		{"Renovação de Contrato Corporativo", []domain.ActionType{
			domain.ActionSendEmail, domain.ActionSendEmail, domain.ActionCreateTask, domain.ActionSendEmail,
		}},
	}

	for _, tt := range tests {
		name, want := tt.name, tt.steps
		j, err := st.GetJourneyByName(ctx, name)
		if err != nil || j == nil {
			t.Fatalf("journey %q missing: %v", name, err)
		}
		if j.TenantID == nil || *j.TenantID != tenant || !j.Active {
			t.Errorf("%q: unexpected journey %+v", name, j)
		}

		steps, _ := st.ListSteps(ctx, j.ID)
		if len(steps) != len(want) {
			t.Fatalf("%q: expected %d steps, got %d", name, len(want), len(steps))
		}
		for i, s := range steps {
			if s.ActionType != want[i] || s.Order != i+1 {
				t.Errorf("%q step %d: got %s order %d", name, i, s.ActionType, s.Order)
			}
			if _, err := s.Config(); err != nil {
				t.Errorf("%q step %d: config does not decode: %v", name, i, err)
			}
		}
	}
}

func TestRun_IsIdempotent(t *testing.T) {
	st := memstore.New()
	ctx := context.Background()

	if _, err := Run(ctx, st, Options{OwnerID: 1}, testLogger()); err != nil {
		t.Fatalf("first seed: %v", err)
	}
	res, err := Run(ctx, st, Options{OwnerID: 1}, testLogger())
	if err != nil {
		t.Fatalf("second seed: %v", err)
	}
	if len(res.Created) != 0 || len(res.Existing) != 3 {
		t.Errorf("second run should create nothing, got %+v", res)
	}

	all, _ := st.ListJourneys(ctx, store.JourneyFilter{AllTenants: true})
	if len(all) != 3 {
		t.Errorf("expected 3 journeys, got %d", len(all))
	}
}
