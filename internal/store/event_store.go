package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/metavida/wellness-automation/internal/domain"
)

const eventColumns = `id, event_type, payload, recorded_at, processed, processed_at`

func scanEvent(row pgx.Row) (*domain.Event, error) {
	var e domain.Event
	err := row.Scan(&e.ID, &e.Type, &e.Payload, &e.RecordedAt, &e.Processed, &e.ProcessedAt)
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func collectEvents(rows pgx.Rows) ([]domain.Event, error) {
	defer rows.Close()

	events := []domain.Event{}
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning event: %w", err)
		}
		events = append(events, *e)
	}
	return events, rows.Err()
}

func (q *queries) RecordEvent(ctx context.Context, eventType string, payload json.RawMessage) (*domain.Event, error) {
	if len(payload) == 0 {
		payload = json.RawMessage(`{}`)
	}
	e, err := scanEvent(q.db.QueryRow(ctx, `
		INSERT INTO events (event_type, payload)
		VALUES ($1, $2)
		RETURNING `+eventColumns,
		eventType, payload,
	))
	if err != nil {
		return nil, fmt.Errorf("inserting event: %w", err)
	}
	return e, nil
}

// FetchUnprocessedEvents returns up to limit pending events, oldest first.
func (q *queries) FetchUnprocessedEvents(ctx context.Context, limit int) ([]domain.Event, error) {
	rows, err := q.db.Query(ctx, `
		SELECT `+eventColumns+`
		FROM events
		WHERE NOT processed
		ORDER BY recorded_at, id
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("querying unprocessed events: %w", err)
	}
	return collectEvents(rows)
}

// MarkEventProcessed flips the processed flag once. It reports false when the
// event was already processed or does not exist.
func (q *queries) MarkEventProcessed(ctx context.Context, id int64) (bool, error) {
	tag, err := q.db.Exec(ctx, `
		UPDATE events SET processed = TRUE, processed_at = NOW()
		WHERE id = $1 AND NOT processed
	`, id)
	if err != nil {
		return false, fmt.Errorf("marking event %d processed: %w", id, err)
	}
	return tag.RowsAffected() == 1, nil
}

func (q *queries) GetEvent(ctx context.Context, id int64) (*domain.Event, error) {
	e, err := scanEvent(q.db.QueryRow(ctx, `SELECT `+eventColumns+` FROM events WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("querying event: %w", err)
	}
	return e, nil
}

func (q *queries) ListEvents(ctx context.Context, filter domain.EventFilter) ([]domain.Event, error) {
	query := `SELECT ` + eventColumns + ` FROM events WHERE TRUE`
	args := []any{}
	argIdx := 1

	if filter.Type != "" {
		query += fmt.Sprintf(" AND event_type = $%d", argIdx)
		args = append(args, filter.Type)
		argIdx++
	}
	if filter.Processed != nil {
		query += fmt.Sprintf(" AND processed = $%d", argIdx)
		args = append(args, *filter.Processed)
		argIdx++
	}

	query += " ORDER BY recorded_at DESC, id DESC"

	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, filter.Limit)
	}

	rows, err := q.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying events: %w", err)
	}
	return collectEvents(rows)
}
