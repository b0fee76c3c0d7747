package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/metavida/wellness-automation/internal/domain"
)

const enrollmentColumns = `id, user_id, journey_id, current_step_id, current_step_order, started_at, completed_at, completed`

func scanEnrollment(row pgx.Row) (*domain.Enrollment, error) {
	var e domain.Enrollment
	err := row.Scan(
		&e.ID, &e.UserID, &e.JourneyID, &e.CurrentStepID, &e.CurrentStepOrder,
		&e.StartedAt, &e.CompletedAt, &e.Completed,
	)
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// CreateEnrollment starts a user on a journey with no current step. A second
// active enrollment for the same pair violates uq_enrollments_active.
func (q *queries) CreateEnrollment(ctx context.Context, userID, journeyID int64) (*domain.Enrollment, error) {
	e, err := scanEnrollment(q.db.QueryRow(ctx, `
		INSERT INTO enrollments (user_id, journey_id)
		VALUES ($1, $2)
		RETURNING `+enrollmentColumns,
		userID, journeyID,
	))
	if err != nil {
		if isUniqueViolation(err, "uq_enrollments_active") {
			return nil, domain.ErrAlreadyEnrolled
		}
		return nil, fmt.Errorf("inserting enrollment: %w", err)
	}
	return e, nil
}

func (q *queries) GetEnrollment(ctx context.Context, id int64) (*domain.Enrollment, error) {
	e, err := scanEnrollment(q.db.QueryRow(ctx, `SELECT `+enrollmentColumns+` FROM enrollments WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("querying enrollment: %w", err)
	}
	return e, nil
}

func (q *queries) GetEnrollmentForUpdate(ctx context.Context, id int64) (*domain.Enrollment, error) {
	e, err := scanEnrollment(q.db.QueryRow(ctx, `SELECT `+enrollmentColumns+` FROM enrollments WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("locking enrollment: %w", err)
	}
	return e, nil
}

func (q *queries) GetActiveEnrollment(ctx context.Context, userID, journeyID int64) (*domain.Enrollment, error) {
	e, err := scanEnrollment(q.db.QueryRow(ctx, `
		SELECT `+enrollmentColumns+`
		FROM enrollments
		WHERE user_id = $1 AND journey_id = $2 AND NOT completed
	`, userID, journeyID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("querying active enrollment: %w", err)
	}
	return e, nil
}

func (q *queries) UpdateEnrollment(ctx context.Context, e domain.Enrollment) error {
	tag, err := q.db.Exec(ctx, `
		UPDATE enrollments
		SET current_step_id = $2, current_step_order = $3, completed = $4, completed_at = $5
		WHERE id = $1
	`, e.ID, e.CurrentStepID, e.CurrentStepOrder, e.Completed, e.CompletedAt)
	if err != nil {
		return fmt.Errorf("updating enrollment %d: %w", e.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("updating enrollment %d: %w", e.ID, domain.ErrNotFound)
	}
	return nil
}

func (q *queries) ListEnrollments(ctx context.Context, journeyID int64, completed *bool) ([]domain.Enrollment, error) {
	query := `SELECT ` + enrollmentColumns + ` FROM enrollments WHERE journey_id = $1`
	args := []any{journeyID}
	if completed != nil {
		query += " AND completed = $2"
		args = append(args, *completed)
	}
	query += " ORDER BY started_at, id"

	rows, err := q.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying enrollments: %w", err)
	}
	defer rows.Close()

	enrollments := []domain.Enrollment{}
	for rows.Next() {
		e, err := scanEnrollment(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning enrollment: %w", err)
		}
		enrollments = append(enrollments, *e)
	}
	return enrollments, rows.Err()
}

// JourneyProgress counts enrollments by state and, for in-progress ones, by
// the step they currently sit on.
func (q *queries) JourneyProgress(ctx context.Context, journeyID int64) (*domain.JourneyProgress, error) {
	p := domain.JourneyProgress{JourneyID: journeyID, Steps: []domain.StepProgress{}}

	err := q.db.QueryRow(ctx, `
		SELECT
			COUNT(*),
			COUNT(*) FILTER (WHERE completed),
			COUNT(*) FILTER (WHERE NOT completed),
			COUNT(*) FILTER (WHERE NOT completed AND current_step_order IS NULL)
		FROM enrollments
		WHERE journey_id = $1
	`, journeyID).Scan(&p.Total, &p.Completed, &p.InProgress, &p.NotStarted)
	if err != nil {
		return nil, fmt.Errorf("querying enrollment totals: %w", err)
	}

	rows, err := q.db.Query(ctx, `
		SELECT s.id, s.name, s.step_order, COUNT(e.id)
		FROM journey_steps s
		LEFT JOIN enrollments e ON e.current_step_id = s.id AND NOT e.completed
		WHERE s.journey_id = $1
		GROUP BY s.id, s.name, s.step_order
		ORDER BY s.step_order
	`, journeyID)
	if err != nil {
		return nil, fmt.Errorf("querying step progress: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var sp domain.StepProgress
		if err := rows.Scan(&sp.StepID, &sp.Name, &sp.Order, &sp.Enrollments); err != nil {
			return nil, fmt.Errorf("scanning step progress: %w", err)
		}
		p.Steps = append(p.Steps, sp)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading step progress: %w", err)
	}

	return &p, nil
}
