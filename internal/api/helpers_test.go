package api

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"github.com/metavida/wellness-automation/internal/domain"
	"github.com/metavida/wellness-automation/internal/engine"
	"github.com/metavida/wellness-automation/internal/store/memstore"
	ws "github.com/metavida/wellness-automation/internal/websocket"
	"github.com/metavida/wellness-automation/internal/worker"
)

type testAPI struct {
	store   *memstore.Store
	handler http.Handler
	admin   domain.User
	manager domain.User // tenant 1
	other   domain.User // tenant 2
}

func setupTestAPI(t *testing.T) *testAPI {
	t.Helper()
	logger := slog.New(slog.NewJSONHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))

	st := memstore.New()
	tenant1, tenant2 := int64(1), int64(2)
	admin := st.PutUser(domain.User{Name: "Root", Email: "root@example.com", Role: domain.RoleAdmin, Active: true})
	manager := st.PutUser(domain.User{Name: "Gabi", Email: "gabi@example.com", Role: domain.RoleManager, TenantID: &tenant1, Active: true})
	other := st.PutUser(domain.User{Name: "Otto", Email: "otto@example.com", Role: domain.RoleManager, TenantID: &tenant2, Active: true})

	exec := worker.NewActionExecutor(nil, logger)
	advancer := engine.NewAdvancer(exec, logger)
	fanout := engine.NewFanOutEngine(advancer, logger)

	handler := NewRouter(Deps{
		Store:      st,
		Dispatcher: worker.NewDispatcher(st, fanout, engine.NewLocalLock(), nil, worker.DispatcherConfig{}, logger),
		Manual:     worker.NewManualAdvancer(st, advancer, nil, logger),
		Churn:      engine.NewChurnBridge(st, engine.DefaultChurnThreshold, logger),
		Hub:        ws.NewHub(logger),
		Logger:     logger,
	})

	return &testAPI{store: st, handler: handler, admin: admin, manager: manager, other: other}
}

// do sends a request as actor (zero value for anonymous) and decodes the
// JSON response into out when out is non-nil.
func (a *testAPI) do(t *testing.T, actor domain.User, method, path string, body any, out any) *httptest.ResponseRecorder {
	t.Helper()

	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if actor.ID != 0 {
		req.Header.Set(actorHeader, strconv.FormatInt(actor.ID, 10))
	}

	rec := httptest.NewRecorder()
	a.handler.ServeHTTP(rec, req)

	if out != nil && rec.Code < 300 {
		if err := json.Unmarshal(rec.Body.Bytes(), out); err != nil {
			t.Fatalf("decoding %s %s response %q: %v", method, path, rec.Body.String(), err)
		}
	}
	return rec
}

func expectStatus(t *testing.T, rec *httptest.ResponseRecorder, want int) {
	t.Helper()
	if rec.Code != want {
		t.Fatalf("status = %d, want %d (body %s)", rec.Code, want, rec.Body.String())
	}
}

// createOnboarding creates a two-step USUARIO_CRIADO journey owned by actor.
func (a *testAPI) createOnboarding(t *testing.T, actor domain.User) journeyDetail {
	t.Helper()
	var j journeyDetail
	rec := a.do(t, actor, http.MethodPost, "/api/v1/journeys", map[string]any{
		"name":               "Onboarding",
		"trigger_event_type": domain.EventUserCreated,
		"steps": []map[string]any{
			{"name": "welcome", "order": 1, "action_type": "ENVIAR_EMAIL", "action_config": map[string]string{"assunto": "Oi", "corpo": "Olá {usuario_nome}"}},
			{"name": "call", "order": 2, "action_type": "CREATE_TASK", "action_config": map[string]string{"title": "Ligar para {user_name}"}},
		},
	}, &j)
	expectStatus(t, rec, http.StatusCreated)
	return j
}
