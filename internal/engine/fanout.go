package engine

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/metavida/wellness-automation/internal/domain"
	"github.com/metavida/wellness-automation/internal/store"
)

// FanOutResult summarizes what one event did to the journeys listening for it.
type FanOutResult struct {
	Journeys        int
	Enrolled        int
	AlreadyEnrolled int
	Enrollments     []EnrollResult

	// Failure is set when a step failed in a way worth retrying. The caller
	// should discard the unit of work and leave the event pending.
	Failure *AdvanceResult
	// Skipped lists steps that failed permanently; their enrollments stay put.
	Skipped []AdvanceResult
}

// FanOutEngine enrolls a user in every active journey triggered by an event.
type FanOutEngine struct {
	advancer *Advancer
	logger   *slog.Logger
}

func NewFanOutEngine(advancer *Advancer, logger *slog.Logger) *FanOutEngine {
	return &FanOutEngine{
		advancer: advancer,
		logger:   logger.With("component", "fanout"),
	}
}

// FanOut finds the active journeys whose trigger is eventType and whose tenant
// matches the user's, and enrolls the user in each. It stops at the first
// retryable step failure.
func (f *FanOutEngine) FanOut(ctx context.Context, repo store.Repository, eventType string, user domain.User) (FanOutResult, error) {
	journeys, err := repo.FindTriggeredJourneys(ctx, eventType, user.TenantID)
	if err != nil {
		return FanOutResult{}, fmt.Errorf("finding triggered journeys: %w", err)
	}

	var res FanOutResult
	res.Journeys = len(journeys)

	if len(journeys) == 0 {
		f.logger.Debug("no journeys for event type", "event_type", eventType, "user_id", user.ID)
		return res, nil
	}

	for _, j := range journeys {
		if !j.AppliesToTenant(user.TenantID) {
			continue
		}

		er, err := f.advancer.Enroll(ctx, repo, user, j)
		if err != nil {
			return res, err
		}
		if !er.Created {
			res.AlreadyEnrolled++
			continue
		}

		res.Enrolled++
		res.Enrollments = append(res.Enrollments, er)

		if er.Advance.Failed() {
			if !er.Advance.Action.Permanent {
				failure := er.Advance
				res.Failure = &failure
				return res, nil
			}
			res.Skipped = append(res.Skipped, er.Advance)
		}
	}

	return res, nil
}
