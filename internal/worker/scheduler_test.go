package worker

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

func TestScheduler_Add(t *testing.T) {
	s := NewScheduler(testLogger())
	noop := func(context.Context) error { return nil }

	if err := s.Add(context.Background(), "dispatch", "@every 30s", noop); err != nil {
		t.Fatalf("valid schedule: %v", err)
	}
	if err := s.Add(context.Background(), "contracts", "", noop); err != nil {
		t.Fatalf("empty schedule should be ignored: %v", err)
	}
	if err := s.Add(context.Background(), "broken", "every minute", noop); err == nil {
		t.Error("expected an error for an invalid schedule")
	}

	if s.Jobs() != 1 {
		t.Errorf("jobs = %d, want 1", s.Jobs())
	}
}

func TestScheduler_RunsUntilCancelled(t *testing.T) {
	s := NewScheduler(testLogger())
	ctx, cancel := context.WithCancel(context.Background())

	var runs atomic.Int32
	err := s.Add(ctx, "tick", "@every 1s", func(context.Context) error {
		runs.Add(1)
		return nil
	})
	if err != nil {
		t.Fatalf("adding job: %v", err)
	}

	done := make(chan struct{})
	go func() {
		s.Start(ctx)
		close(done)
	}()

	deadline := time.After(5 * time.Second)
	for runs.Load() == 0 {
		select {
		case <-deadline:
			t.Fatal("job never ran")
		case <-time.After(50 * time.Millisecond):
		}
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler did not stop")
	}
}
