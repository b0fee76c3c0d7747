package engine

import (
	"context"
	"errors"
	"testing"

	"github.com/metavida/wellness-automation/internal/domain"
	"github.com/metavida/wellness-automation/internal/store/memstore"
)

func TestFanOut_TenantScoping(t *testing.T) {
	s := memstore.New()
	ctx := context.Background()
	exec := &recordingExecutor{}
	f := NewFanOutEngine(NewAdvancer(exec, testLogger()), testLogger())

	five, seven := int64(5), int64(7)
	global, _ := s.CreateJourney(ctx, domain.Journey{Name: "global", TriggerEventType: "E", Active: true})
	own, _ := s.CreateJourney(ctx, domain.Journey{Name: "t5", TriggerEventType: "E", Active: true, TenantID: &five})
	other, _ := s.CreateJourney(ctx, domain.Journey{Name: "t7", TriggerEventType: "E", Active: true, TenantID: &seven})
	s.CreateJourney(ctx, domain.Journey{Name: "inactive", TriggerEventType: "E", Active: false})
	s.CreateJourney(ctx, domain.Journey{Name: "other trigger", TriggerEventType: "X", Active: true})

	// A step keeps each enrollment active after the first advance.
	for _, j := range []*domain.Journey{global, own, other} {
		if _, err := s.CreateStep(ctx, domain.Step{JourneyID: j.ID, Name: "x", Order: 1, ActionType: domain.ActionCreateTask}); err != nil {
			t.Fatalf("creating step: %v", err)
		}
	}

	res, err := f.FanOut(ctx, s, "E", domain.User{ID: 1, TenantID: &five})
	if err != nil {
		t.Fatalf("fan out: %v", err)
	}
	if res.Journeys != 2 || res.Enrolled != 2 {
		t.Errorf("expected 2 journeys / 2 enrollments, got %+v", res)
	}

	for _, j := range []int64{global.ID, own.ID} {
		if e, _ := s.GetActiveEnrollment(ctx, 1, j); e == nil {
			t.Errorf("expected enrollment in journey %d", j)
		}
	}
	if e, _ := s.GetActiveEnrollment(ctx, 1, other.ID); e != nil {
		t.Error("user of tenant 5 must not be enrolled in tenant 7's journey")
	}
}

func TestFanOut_StopsAtTransientFailure(t *testing.T) {
	s := memstore.New()
	ctx := context.Background()

	j1, _ := s.CreateJourney(ctx, domain.Journey{Name: "a", TriggerEventType: "E", Active: true})
	st, _ := s.CreateStep(ctx, domain.Step{JourneyID: j1.ID, Name: "x", Order: 1, ActionType: domain.ActionSendEmail})
	s.CreateJourney(ctx, domain.Journey{Name: "b", TriggerEventType: "E", Active: true})

	exec := &recordingExecutor{fail: map[int64]ActionResult{st.ID: Failed(errors.New("timeout"))}}
	f := NewFanOutEngine(NewAdvancer(exec, testLogger()), testLogger())

	res, err := f.FanOut(ctx, s, "E", domain.User{ID: 1})
	if err != nil {
		t.Fatalf("fan out: %v", err)
	}
	if res.Failure == nil || res.Failure.Step.ID != st.ID {
		t.Fatalf("expected failure on step %d, got %+v", st.ID, res.Failure)
	}
	if res.Enrolled != 1 {
		t.Errorf("fan out should stop after the failure, enrolled %d", res.Enrolled)
	}
}

func TestFanOut_ContinuesPastPermanentFailure(t *testing.T) {
	s := memstore.New()
	ctx := context.Background()

	j1, _ := s.CreateJourney(ctx, domain.Journey{Name: "a", TriggerEventType: "E", Active: true})
	st, _ := s.CreateStep(ctx, domain.Step{JourneyID: j1.ID, Name: "x", Order: 1, ActionType: "SEND_SMS"})
	s.CreateJourney(ctx, domain.Journey{Name: "b", TriggerEventType: "E", Active: true})

	exec := &recordingExecutor{fail: map[int64]ActionResult{st.ID: PermanentlyFailed(domain.ErrUnknownActionType)}}
	f := NewFanOutEngine(NewAdvancer(exec, testLogger()), testLogger())

	res, err := f.FanOut(ctx, s, "E", domain.User{ID: 1})
	if err != nil {
		t.Fatalf("fan out: %v", err)
	}
	if res.Failure != nil {
		t.Errorf("permanent failure should not abort, got %+v", res.Failure)
	}
	if res.Enrolled != 2 || len(res.Skipped) != 1 {
		t.Errorf("expected 2 enrollments and 1 skipped step, got %+v", res)
	}
}
