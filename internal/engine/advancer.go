package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/metavida/wellness-automation/internal/domain"
	"github.com/metavida/wellness-automation/internal/store"
)

// ActionResult is what an executor reports for one step. A failure is
// Permanent when retrying the same step can never succeed.
type ActionResult struct {
	OK        bool
	Permanent bool
	Err       error
	Detail    string
}

func Succeeded(detail string) ActionResult {
	return ActionResult{OK: true, Detail: detail}
}

func Failed(err error) ActionResult {
	return ActionResult{Err: err}
}

func PermanentlyFailed(err error) ActionResult {
	return ActionResult{Permanent: true, Err: err}
}

// StepExecutor runs a single step for a user. Side effects go through repo so
// they share the caller's transaction.
type StepExecutor interface {
	Execute(ctx context.Context, repo store.Repository, step domain.Step, user domain.User) ActionResult
}

// Advance outcomes.
const (
	OutcomeAdvanced        = "advanced"
	OutcomeCompleted       = "completed"
	OutcomeStepFailed      = "step_failed"
	OutcomeAlreadyComplete = "already_completed"
)

type AdvanceResult struct {
	Outcome    string
	Enrollment domain.Enrollment
	Step       *domain.Step
	Action     ActionResult
}

// Failed reports whether the step executed by this call failed.
func (r AdvanceResult) Failed() bool {
	return r.Outcome == OutcomeStepFailed
}

type EnrollResult struct {
	Created bool
	Advance AdvanceResult
}

// Advancer moves enrollments through their journey's steps in order.
type Advancer struct {
	executor StepExecutor
	logger   *slog.Logger
	now      func() time.Time
}

func NewAdvancer(executor StepExecutor, logger *slog.Logger) *Advancer {
	return &Advancer{
		executor: executor,
		logger:   logger.With("component", "advancer"),
		now:      time.Now,
	}
}

// Enroll starts user on journey and runs the first step. An existing active
// enrollment is returned untouched.
func (a *Advancer) Enroll(ctx context.Context, repo store.Repository, user domain.User, journey domain.Journey) (EnrollResult, error) {
	existing, err := repo.GetActiveEnrollment(ctx, user.ID, journey.ID)
	if err != nil {
		return EnrollResult{}, fmt.Errorf("checking enrollment: %w", err)
	}
	if existing != nil {
		return EnrollResult{Advance: AdvanceResult{Enrollment: *existing}}, nil
	}

	enrollment, err := repo.CreateEnrollment(ctx, user.ID, journey.ID)
	if err != nil {
		return EnrollResult{}, fmt.Errorf("enrolling user %d in journey %d: %w", user.ID, journey.ID, err)
	}

	a.logger.Info("user enrolled",
		"user_id", user.ID,
		"journey_id", journey.ID,
		"enrollment_id", enrollment.ID,
	)

	adv, err := a.Advance(ctx, repo, *enrollment, user)
	if err != nil {
		return EnrollResult{}, err
	}
	return EnrollResult{Created: true, Advance: adv}, nil
}

// Advance executes exactly one step: the first step when the enrollment has
// not started, otherwise the step with the next higher order. When no such
// step exists the enrollment is completed instead. A failed step leaves the
// enrollment where it was.
func (a *Advancer) Advance(ctx context.Context, repo store.Repository, e domain.Enrollment, user domain.User) (AdvanceResult, error) {
	if e.Completed {
		return AdvanceResult{Outcome: OutcomeAlreadyComplete, Enrollment: e}, nil
	}

	steps, err := repo.ListSteps(ctx, e.JourneyID)
	if err != nil {
		return AdvanceResult{}, fmt.Errorf("listing steps: %w", err)
	}

	next := nextStep(steps, e)
	if next == nil {
		now := a.now()
		e.Completed = true
		e.CompletedAt = &now
		if err := repo.UpdateEnrollment(ctx, e); err != nil {
			return AdvanceResult{}, fmt.Errorf("completing enrollment: %w", err)
		}
		a.logger.Info("enrollment completed",
			"enrollment_id", e.ID,
			"journey_id", e.JourneyID,
			"user_id", e.UserID,
		)
		return AdvanceResult{Outcome: OutcomeCompleted, Enrollment: e}, nil
	}

	result := a.executor.Execute(ctx, repo, *next, user)
	if !result.OK {
		a.logger.Warn("step failed",
			"enrollment_id", e.ID,
			"step_id", next.ID,
			"action_type", next.ActionType,
			"permanent", result.Permanent,
			"error", result.Err,
		)
		return AdvanceResult{Outcome: OutcomeStepFailed, Enrollment: e, Step: next, Action: result}, nil
	}

	order := next.Order
	e.CurrentStepID = &next.ID
	e.CurrentStepOrder = &order
	if err := repo.UpdateEnrollment(ctx, e); err != nil {
		return AdvanceResult{}, fmt.Errorf("moving enrollment to step %d: %w", next.ID, err)
	}

	a.logger.Info("step executed",
		"enrollment_id", e.ID,
		"step_id", next.ID,
		"order", next.Order,
		"action_type", next.ActionType,
	)
	return AdvanceResult{Outcome: OutcomeAdvanced, Enrollment: e, Step: next, Action: result}, nil
}

// nextStep picks the step after the enrollment's position. steps must be
// sorted by order. Position is the stored order, falling back to the order of
// the current step id for rows written without one.
func nextStep(steps []domain.Step, e domain.Enrollment) *domain.Step {
	if len(steps) == 0 {
		return nil
	}

	current := e.CurrentStepOrder
	if current == nil && e.CurrentStepID != nil {
		for _, s := range steps {
			if s.ID == *e.CurrentStepID {
				order := s.Order
				current = &order
				break
			}
		}
	}
	if current == nil {
		return &steps[0]
	}

	for i := range steps {
		if steps[i].Order > *current {
			return &steps[i]
		}
	}
	return nil
}
