package worker

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/metavida/wellness-automation/internal/domain"
	"github.com/metavida/wellness-automation/internal/engine"
	"github.com/metavida/wellness-automation/internal/store/memstore"
)

func setupScanner(t *testing.T, now time.Time) (*memstore.Store, *ContractScanner) {
	t.Helper()
	st := memstore.New()
	st.SetClock(func() time.Time { return now })

	scanner := NewContractScanner(st, engine.NewLocalLock(), 60, testLogger())
	scanner.now = func() time.Time { return now }
	return st, scanner
}

func TestContractScanner_AlertsOncePerContract(t *testing.T) {
	now := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	st, scanner := setupScanner(t, now)
	ctx := context.Background()

	manager := int64(7)
	soon := st.PutContract(domain.Contract{
		TenantID:         1,
		AccountManagerID: &manager,
		Name:             "Acme Corp",
		EndsAt:           now.AddDate(0, 0, 30),
		MonthlyValue:     1500.5,
		Status:           domain.ContractStatusActive,
	})
	st.PutContract(domain.Contract{TenantID: 1, Name: "Far", EndsAt: now.AddDate(0, 0, 120), Status: domain.ContractStatusActive})
	st.PutContract(domain.Contract{TenantID: 1, Name: "Ended", EndsAt: now.AddDate(0, 0, -3), Status: domain.ContractStatusActive})
	st.PutContract(domain.Contract{TenantID: 1, Name: "Cancelled", EndsAt: now.AddDate(0, 0, 10), Status: "cancelado"})

	res, err := scanner.Scan(ctx)
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if res.Found != 1 || res.Alerted != 1 || res.Failed != 0 {
		t.Fatalf("unexpected result %+v", res)
	}

	events, _ := st.FetchUnprocessedEvents(ctx, 10)
	if len(events) != 1 || events[0].Type != domain.EventContractExpiring {
		t.Fatalf("expected one CONTRATO_EXPIRANDO event, got %+v", events)
	}

	var payload struct {
		UserID     int64  `json:"user_id"`
		ContractID int64  `json:"contract_id"`
		EndsAt     string `json:"ends_at"`
		DaysLeft   int    `json:"days_left"`
	}
	if err := json.Unmarshal(events[0].Payload, &payload); err != nil {
		t.Fatalf("decoding payload: %v", err)
	}
	if payload.UserID != manager || payload.ContractID != soon.ID || payload.DaysLeft != 30 || payload.EndsAt != "2025-03-31" {
		t.Errorf("unexpected payload %+v", payload)
	}

	if c, _ := st.Contract(soon.ID); c.ExpiryAlertedAt == nil {
		t.Error("contract should be marked as alerted")
	}

	res, err = scanner.Scan(ctx)
	if err != nil {
		t.Fatalf("second scan: %v", err)
	}
	if res.Found != 0 {
		t.Errorf("second scan should find nothing, got %+v", res)
	}
}

func TestContractScanner_WithoutAccountManager(t *testing.T) {
	now := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	st, scanner := setupScanner(t, now)
	ctx := context.Background()

	st.PutContract(domain.Contract{TenantID: 2, Name: "Orphan", EndsAt: now.AddDate(0, 0, 5), Status: domain.ContractStatusActive})

	if _, err := scanner.Scan(ctx); err != nil {
		t.Fatalf("scan: %v", err)
	}

	events, _ := st.FetchUnprocessedEvents(ctx, 10)
	if len(events) != 1 {
		t.Fatalf("expected one event, got %d", len(events))
	}
	if _, ok, _ := events[0].SubjectUserID(); ok {
		t.Error("payload without an account manager should carry no user_id")
	}
}

func TestContractScanner_SkipsWhenLocked(t *testing.T) {
	now := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	st := memstore.New()
	st.SetClock(func() time.Time { return now })
	st.PutContract(domain.Contract{TenantID: 1, Name: "Soon", EndsAt: now.AddDate(0, 0, 5), Status: domain.ContractStatusActive})

	scanner := NewContractScanner(st, heldLock{}, 60, testLogger())
	scanner.now = func() time.Time { return now }

	res, err := scanner.Scan(context.Background())
	if err != nil {
		t.Fatalf("a held lock is not an error: %v", err)
	}
	if res != (ScanResult{}) {
		t.Errorf("expected empty result, got %+v", res)
	}
}
