package worker

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/metavida/wellness-automation/internal/domain"
	"github.com/metavida/wellness-automation/internal/engine"
	"github.com/metavida/wellness-automation/internal/store/memstore"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

type fakeMailer struct {
	mu   sync.Mutex
	sent []Message
	err  error
}

func (f *fakeMailer) Send(_ context.Context, msg Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, msg)
	return nil
}

func (f *fakeMailer) setErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

func (f *fakeMailer) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

type recordingNotifier struct {
	mu         sync.Mutex
	activities []engine.Activity
}

func (r *recordingNotifier) Notify(a engine.Activity) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.activities = append(r.activities, a)
}

func (r *recordingNotifier) types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, a := range r.activities {
		out = append(out, a.Type)
	}
	return out
}

type testEnv struct {
	store      *memstore.Store
	mailer     *fakeMailer
	notifier   *recordingNotifier
	dispatcher *Dispatcher
	manual     *ManualAdvancer
}

func setupEnv(t *testing.T) *testEnv {
	t.Helper()
	logger := testLogger()

	st := memstore.New()
	mailer := &fakeMailer{}
	notifier := &recordingNotifier{}

	exec := NewActionExecutor(mailer, logger)
	advancer := engine.NewAdvancer(exec, logger)
	fanout := engine.NewFanOutEngine(advancer, logger)

	return &testEnv{
		store:      st,
		mailer:     mailer,
		notifier:   notifier,
		dispatcher: NewDispatcher(st, fanout, engine.NewLocalLock(), notifier, DispatcherConfig{}, logger),
		manual:     NewManualAdvancer(st, advancer, notifier, logger),
	}
}

func mustJSON(t *testing.T, v any) json.RawMessage {
	t.Helper()
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return b
}

// onboardingJourney creates [A: SEND_EMAIL, B: CREATE_TASK] on USUARIO_CRIADO.
func onboardingJourney(t *testing.T, env *testEnv, tenantID *int64) (domain.Journey, domain.Step, domain.Step) {
	t.Helper()
	ctx := context.Background()

	j, err := env.store.CreateJourney(ctx, domain.Journey{
		Name:             "Onboarding",
		TriggerEventType: domain.EventUserCreated,
		Active:           true,
		TenantID:         tenantID,
		OwnerID:          1,
	})
	if err != nil {
		t.Fatalf("creating journey: %v", err)
	}
	a, err := env.store.CreateStep(ctx, domain.Step{
		JourneyID:    j.ID,
		Name:         "welcome",
		Order:        1,
		ActionType:   domain.ActionSendEmail,
		ActionConfig: json.RawMessage(`{"assunto":"Bem-vindo","corpo":"Olá {usuario_nome}"}`),
	})
	if err != nil {
		t.Fatalf("creating step A: %v", err)
	}
	b, err := env.store.CreateStep(ctx, domain.Step{
		JourneyID:    j.ID,
		Name:         "follow up",
		Order:        2,
		ActionType:   domain.ActionCreateTask,
		ActionConfig: json.RawMessage(`{"titulo":"Ligar para {usuario_nome}"}`),
	})
	if err != nil {
		t.Fatalf("creating step B: %v", err)
	}
	return *j, *a, *b
}
