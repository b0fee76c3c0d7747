package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/metavida/wellness-automation/internal/domain"
	"github.com/metavida/wellness-automation/internal/engine"
	"github.com/metavida/wellness-automation/internal/store"
)

// ManualAdvancer moves enrollments forward on request rather than on events.
// Every enrollment advances in its own transaction.
type ManualAdvancer struct {
	store      store.Store
	advancer   *engine.Advancer
	notifier   engine.Notifier
	logger     *slog.Logger
	numWorkers int
}

func NewManualAdvancer(st store.Store, advancer *engine.Advancer, notifier engine.Notifier, logger *slog.Logger) *ManualAdvancer {
	if notifier == nil {
		notifier = engine.NopNotifier
	}
	return &ManualAdvancer{
		store:      st,
		advancer:   advancer,
		notifier:   notifier,
		logger:     logger.With("component", "manual_advancer"),
		numWorkers: 4,
	}
}

// AdvanceEnrollment executes the next step of one enrollment. The enrollment
// row stays locked for the transaction, so concurrent calls run one after
// the other. A retryable step failure discards the step's side effects and is
// reported in the result, not as an error.
func (m *ManualAdvancer) AdvanceEnrollment(ctx context.Context, enrollmentID int64) (engine.AdvanceResult, error) {
	var res engine.AdvanceResult
	err := m.store.WithinTx(ctx, func(repo store.Repository) error {
		e, err := repo.GetEnrollmentForUpdate(ctx, enrollmentID)
		if err != nil {
			return err
		}
		if e == nil {
			return fmt.Errorf("enrollment %d: %w", enrollmentID, domain.ErrNotFound)
		}
		user, err := repo.GetUser(ctx, e.UserID)
		if err != nil {
			return err
		}
		if user == nil {
			return fmt.Errorf("user %d: %w", e.UserID, domain.ErrNotFound)
		}

		res, err = m.advancer.Advance(ctx, repo, *e, *user)
		if err != nil {
			return err
		}
		if res.Failed() && !res.Action.Permanent {
			return errRetry
		}
		return nil
	})
	if err != nil && !errors.Is(err, errRetry) {
		return engine.AdvanceResult{}, err
	}

	for _, a := range res.Activities() {
		m.notifier.Notify(a)
	}
	return res, nil
}

type JourneyAdvanceSummary struct {
	Enrollments int `json:"enrollments"`
	Advanced    int `json:"advanced"`
	Completed   int `json:"completed"`
	Failed      int `json:"failed"`
}

// AdvanceJourney advances every in-progress enrollment of a journey by one
// step, spreading the work over a small pool.
func (m *ManualAdvancer) AdvanceJourney(ctx context.Context, journeyID int64) (JourneyAdvanceSummary, error) {
	inProgress := false
	enrollments, err := m.store.ListEnrollments(ctx, journeyID, &inProgress)
	if err != nil {
		return JourneyAdvanceSummary{}, fmt.Errorf("listing enrollments: %w", err)
	}

	var (
		mu      sync.Mutex
		summary = JourneyAdvanceSummary{Enrollments: len(enrollments)}
	)

	pool := NewPool(m.numWorkers, func(ctx context.Context, id int64) {
		res, err := m.AdvanceEnrollment(ctx, id)

		mu.Lock()
		defer mu.Unlock()
		switch {
		case err != nil:
			summary.Failed++
			m.logger.Error("failed to advance enrollment", "enrollment_id", id, "error", err)
		case res.Outcome == engine.OutcomeAdvanced:
			summary.Advanced++
		case res.Outcome == engine.OutcomeCompleted:
			summary.Completed++
		case res.Outcome == engine.OutcomeStepFailed:
			summary.Failed++
		}
	}, m.logger)

	pool.Start(ctx)
	for _, e := range enrollments {
		pool.Submit(e.ID)
	}
	pool.Stop()

	m.logger.Info("journey advanced",
		"journey_id", journeyID,
		"enrollments", summary.Enrollments,
		"advanced", summary.Advanced,
		"completed", summary.Completed,
		"failed", summary.Failed,
	)
	return summary, ctx.Err()
}
