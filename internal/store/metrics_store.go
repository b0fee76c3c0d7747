package store

import (
	"context"
	"fmt"
)

// AutomationMetrics aggregates event, journey and enrollment counters.
func (q *queries) AutomationMetrics(ctx context.Context) (*AutomationMetrics, error) {
	var m AutomationMetrics

	err := q.db.QueryRow(ctx, `
		SELECT
			COUNT(*),
			COUNT(*) FILTER (WHERE NOT processed),
			COUNT(*) FILTER (WHERE processed)
		FROM events
	`).Scan(&m.TotalEvents, &m.PendingEvents, &m.ProcessedEvents)
	if err != nil {
		return nil, fmt.Errorf("querying event metrics: %w", err)
	}

	err = q.db.QueryRow(ctx, `
		SELECT
			COUNT(*) FILTER (WHERE NOT completed),
			COUNT(*) FILTER (WHERE completed)
		FROM enrollments
	`).Scan(&m.ActiveEnrollments, &m.CompletedEnrollments)
	if err != nil {
		return nil, fmt.Errorf("querying enrollment metrics: %w", err)
	}

	err = q.db.QueryRow(ctx, `SELECT COUNT(*) FROM journeys WHERE active`).Scan(&m.ActiveJourneys)
	if err != nil {
		return nil, fmt.Errorf("querying active journeys: %w", err)
	}

	err = q.db.QueryRow(ctx, `SELECT COUNT(*) FROM tasks`).Scan(&m.TasksCreated)
	if err != nil {
		return nil, fmt.Errorf("querying task count: %w", err)
	}

	return &m, nil
}
