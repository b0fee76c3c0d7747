package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/metavida/wellness-automation/internal/domain"
)

const journeyColumns = `id, name, description, trigger_event_type, active, tenant_id, owner_id, created_at, updated_at`

const stepColumns = `id, journey_id, name, step_order, action_type, action_config`

func scanJourney(row pgx.Row) (*domain.Journey, error) {
	var j domain.Journey
	err := row.Scan(
		&j.ID, &j.Name, &j.Description, &j.TriggerEventType, &j.Active,
		&j.TenantID, &j.OwnerID, &j.CreatedAt, &j.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &j, nil
}

func collectJourneys(rows pgx.Rows) ([]domain.Journey, error) {
	defer rows.Close()

	journeys := []domain.Journey{}
	for rows.Next() {
		j, err := scanJourney(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning journey: %w", err)
		}
		journeys = append(journeys, *j)
	}
	return journeys, rows.Err()
}

func scanStep(row pgx.Row) (*domain.Step, error) {
	var s domain.Step
	err := row.Scan(&s.ID, &s.JourneyID, &s.Name, &s.Order, &s.ActionType, &s.ActionConfig)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (q *queries) CreateJourney(ctx context.Context, j domain.Journey) (*domain.Journey, error) {
	created, err := scanJourney(q.db.QueryRow(ctx, `
		INSERT INTO journeys (name, description, trigger_event_type, active, tenant_id, owner_id)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING `+journeyColumns,
		j.Name, j.Description, j.TriggerEventType, j.Active, j.TenantID, j.OwnerID,
	))
	if err != nil {
		return nil, fmt.Errorf("inserting journey: %w", err)
	}
	return created, nil
}

func (q *queries) GetJourney(ctx context.Context, id int64) (*domain.Journey, error) {
	j, err := scanJourney(q.db.QueryRow(ctx, `SELECT `+journeyColumns+` FROM journeys WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("querying journey: %w", err)
	}
	return j, nil
}

func (q *queries) GetJourneyByName(ctx context.Context, name string) (*domain.Journey, error) {
	j, err := scanJourney(q.db.QueryRow(ctx, `
		SELECT `+journeyColumns+` FROM journeys WHERE name = $1 ORDER BY id LIMIT 1
	`, name))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("querying journey by name: %w", err)
	}
	return j, nil
}

func (q *queries) ListJourneys(ctx context.Context, filter JourneyFilter) ([]domain.Journey, error) {
	query := `SELECT ` + journeyColumns + ` FROM journeys WHERE TRUE`
	args := []any{}
	argIdx := 1

	if !filter.AllTenants {
		if filter.TenantID == nil {
			query += " AND tenant_id IS NULL"
		} else {
			query += fmt.Sprintf(" AND (tenant_id IS NULL OR tenant_id = $%d)", argIdx)
			args = append(args, *filter.TenantID)
			argIdx++
		}
	}
	if filter.TriggerType != "" {
		query += fmt.Sprintf(" AND trigger_event_type = $%d", argIdx)
		args = append(args, filter.TriggerType)
	}
	query += " ORDER BY created_at DESC, id DESC"

	rows, err := q.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying journeys: %w", err)
	}
	return collectJourneys(rows)
}

func (q *queries) UpdateJourney(ctx context.Context, j domain.Journey) (*domain.Journey, error) {
	updated, err := scanJourney(q.db.QueryRow(ctx, `
		UPDATE journeys
		SET name = $2, description = $3, trigger_event_type = $4, active = $5, updated_at = NOW()
		WHERE id = $1
		RETURNING `+journeyColumns,
		j.ID, j.Name, j.Description, j.TriggerEventType, j.Active,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("updating journey: %w", err)
	}
	return updated, nil
}

// DeleteJourney removes the journey; steps and enrollments go with it.
func (q *queries) DeleteJourney(ctx context.Context, id int64) (bool, error) {
	tag, err := q.db.Exec(ctx, `DELETE FROM journeys WHERE id = $1`, id)
	if err != nil {
		return false, fmt.Errorf("deleting journey: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// FindTriggeredJourneys returns the active journeys listening for eventType
// that apply to a user of tenantID.
func (q *queries) FindTriggeredJourneys(ctx context.Context, eventType string, tenantID *int64) ([]domain.Journey, error) {
	rows, err := q.db.Query(ctx, `
		SELECT `+journeyColumns+`
		FROM journeys
		WHERE active
		  AND trigger_event_type = $1
		  AND (tenant_id IS NULL OR tenant_id = $2)
		ORDER BY id
	`, eventType, tenantID)
	if err != nil {
		return nil, fmt.Errorf("finding triggered journeys: %w", err)
	}
	return collectJourneys(rows)
}

func (q *queries) CreateStep(ctx context.Context, s domain.Step) (*domain.Step, error) {
	created, err := scanStep(q.db.QueryRow(ctx, `
		INSERT INTO journey_steps (journey_id, name, step_order, action_type, action_config)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING `+stepColumns,
		s.JourneyID, s.Name, s.Order, s.ActionType, s.ActionConfig,
	))
	if err != nil {
		if isUniqueViolation(err, "uq_journey_steps_order") {
			return nil, domain.ErrDuplicateStepOrder
		}
		return nil, fmt.Errorf("inserting step: %w", err)
	}
	return created, nil
}

func (q *queries) GetStep(ctx context.Context, journeyID, stepID int64) (*domain.Step, error) {
	s, err := scanStep(q.db.QueryRow(ctx, `
		SELECT `+stepColumns+` FROM journey_steps WHERE id = $1 AND journey_id = $2
	`, stepID, journeyID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("querying step: %w", err)
	}
	return s, nil
}

// ListSteps returns the journey's steps sorted by order.
func (q *queries) ListSteps(ctx context.Context, journeyID int64) ([]domain.Step, error) {
	rows, err := q.db.Query(ctx, `
		SELECT `+stepColumns+`
		FROM journey_steps
		WHERE journey_id = $1
		ORDER BY step_order
	`, journeyID)
	if err != nil {
		return nil, fmt.Errorf("querying steps: %w", err)
	}
	defer rows.Close()

	steps := []domain.Step{}
	for rows.Next() {
		s, err := scanStep(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning step: %w", err)
		}
		steps = append(steps, *s)
	}
	return steps, rows.Err()
}

func (q *queries) UpdateStep(ctx context.Context, s domain.Step) (*domain.Step, error) {
	updated, err := scanStep(q.db.QueryRow(ctx, `
		UPDATE journey_steps
		SET name = $3, step_order = $4, action_type = $5, action_config = $6
		WHERE id = $1 AND journey_id = $2
		RETURNING `+stepColumns,
		s.ID, s.JourneyID, s.Name, s.Order, s.ActionType, s.ActionConfig,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		if isUniqueViolation(err, "uq_journey_steps_order") {
			return nil, domain.ErrDuplicateStepOrder
		}
		return nil, fmt.Errorf("updating step: %w", err)
	}
	return updated, nil
}

func (q *queries) DeleteStep(ctx context.Context, journeyID, stepID int64) (bool, error) {
	tag, err := q.db.Exec(ctx, `DELETE FROM journey_steps WHERE id = $1 AND journey_id = $2`, stepID, journeyID)
	if err != nil {
		return false, fmt.Errorf("deleting step: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}
