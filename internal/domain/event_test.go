package domain

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestEvent_SubjectUserID(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		wantID  int64
		wantOK  bool
		wantErr bool
	}{
		{"numeric user", `{"user_id":42}`, 42, true, false},
		{"extra fields", `{"user_id":10,"risk":82.0,"user_name":"Ana"}`, 10, true, false},
		{"no user", `{"contract_id":3}`, 0, false, false},
		{"null user", `{"user_id":null}`, 0, false, false},
		{"empty payload", ``, 0, false, false},
		{"string user", `{"user_id":"42"}`, 0, false, true},
		{"fractional user", `{"user_id":4.2}`, 0, false, true},
		{"array payload", `[42]`, 0, false, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := Event{Type: EventUserCreated, Payload: json.RawMessage(tt.payload)}
			id, ok, err := e.SubjectUserID()

			if tt.wantErr {
				if !errors.Is(err, ErrMalformedPayload) {
					t.Fatalf("err = %v, want ErrMalformedPayload", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if id != tt.wantID || ok != tt.wantOK {
				t.Errorf("got (%d, %v), want (%d, %v)", id, ok, tt.wantID, tt.wantOK)
			}
		})
	}
}

func TestJourney_AppliesToTenant(t *testing.T) {
	five, seven := int64(5), int64(7)

	global := Journey{TenantID: nil}
	scoped := Journey{TenantID: &five}

	if !global.AppliesToTenant(&seven) || !global.AppliesToTenant(nil) {
		t.Error("journey without tenant should apply to every tenant")
	}
	if !scoped.AppliesToTenant(&five) {
		t.Error("tenant 5 journey should apply to tenant 5")
	}
	if scoped.AppliesToTenant(&seven) {
		t.Error("tenant 5 journey must not apply to tenant 7")
	}
	if scoped.AppliesToTenant(nil) {
		t.Error("tenant 5 journey must not apply to users without tenant")
	}
}
