package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/metavida/wellness-automation/internal/domain"
)

const groupColumns = `id, tenant_id, name, description, color, created_at`

func scanGroup(row pgx.Row) (*domain.Group, error) {
	var g domain.Group
	if err := row.Scan(&g.ID, &g.TenantID, &g.Name, &g.Description, &g.Color, &g.CreatedAt); err != nil {
		return nil, err
	}
	return &g, nil
}

func (q *queries) GetUser(ctx context.Context, id int64) (*domain.User, error) {
	var u domain.User
	err := q.db.QueryRow(ctx, `
		SELECT id, tenant_id, name, email, role, active, created_at
		FROM users WHERE id = $1
	`, id).Scan(&u.ID, &u.TenantID, &u.Name, &u.Email, &u.Role, &u.Active, &u.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("querying user: %w", err)
	}
	return &u, nil
}

func (q *queries) SetUserActive(ctx context.Context, id int64, active bool) error {
	tag, err := q.db.Exec(ctx, `UPDATE users SET active = $2 WHERE id = $1`, id, active)
	if err != nil {
		return fmt.Errorf("updating user status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("updating user %d status: %w", id, domain.ErrNotFound)
	}
	return nil
}

func (q *queries) CreateTask(ctx context.Context, t domain.Task) (*domain.Task, error) {
	if t.DueAt.IsZero() {
		t.DueAt = time.Now()
	}
	err := q.db.QueryRow(ctx, `
		INSERT INTO tasks (user_id, title, description, priority, activity_type, duration_minutes, due_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, done
	`, t.UserID, t.Title, t.Description, t.Priority, t.ActivityType, t.DurationMinutes, t.DueAt,
	).Scan(&t.ID, &t.Done)
	if err != nil {
		return nil, fmt.Errorf("inserting task: %w", err)
	}
	return &t, nil
}

// FindOrCreateGroup looks the group up by tenant and name and inserts it when
// missing. The boolean reports whether a row was created.
func (q *queries) FindOrCreateGroup(ctx context.Context, g domain.Group) (*domain.Group, bool, error) {
	created, err := scanGroup(q.db.QueryRow(ctx, `
		INSERT INTO groups (tenant_id, name, description, color)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (COALESCE(tenant_id, 0), name) DO NOTHING
		RETURNING `+groupColumns,
		g.TenantID, g.Name, g.Description, g.Color,
	))
	if err == nil {
		return created, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, false, fmt.Errorf("inserting group: %w", err)
	}

	existing, err := scanGroup(q.db.QueryRow(ctx, `
		SELECT `+groupColumns+`
		FROM groups
		WHERE COALESCE(tenant_id, 0) = COALESCE($1::BIGINT, 0) AND name = $2
	`, g.TenantID, g.Name))
	if err != nil {
		return nil, false, fmt.Errorf("querying group %q: %w", g.Name, err)
	}
	return existing, false, nil
}

func (q *queries) GetGroup(ctx context.Context, id int64) (*domain.Group, error) {
	g, err := scanGroup(q.db.QueryRow(ctx, `SELECT `+groupColumns+` FROM groups WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("querying group: %w", err)
	}
	return g, nil
}

// AddGroupMember is idempotent; it reports whether the membership is new.
func (q *queries) AddGroupMember(ctx context.Context, groupID, userID int64) (bool, error) {
	tag, err := q.db.Exec(ctx, `
		INSERT INTO group_members (group_id, user_id)
		VALUES ($1, $2)
		ON CONFLICT (group_id, user_id) DO NOTHING
	`, groupID, userID)
	if err != nil {
		return false, fmt.Errorf("adding user %d to group %d: %w", userID, groupID, err)
	}
	return tag.RowsAffected() > 0, nil
}

// ListExpiringContracts returns active, not yet alerted contracts ending on or
// before until.
func (q *queries) ListExpiringContracts(ctx context.Context, until time.Time) ([]domain.Contract, error) {
	rows, err := q.db.Query(ctx, `
		SELECT id, tenant_id, account_manager_id, name, starts_at, ends_at,
			   monthly_value::float8, user_limit, status, expiry_alerted_at
		FROM contracts
		WHERE status = $1
		  AND expiry_alerted_at IS NULL
		  AND ends_at >= CURRENT_DATE
		  AND ends_at <= $2
		ORDER BY ends_at, id
	`, domain.ContractStatusActive, until)
	if err != nil {
		return nil, fmt.Errorf("querying expiring contracts: %w", err)
	}
	defer rows.Close()

	contracts := []domain.Contract{}
	for rows.Next() {
		var c domain.Contract
		err := rows.Scan(
			&c.ID, &c.TenantID, &c.AccountManagerID, &c.Name, &c.StartsAt, &c.EndsAt,
			&c.MonthlyValue, &c.UserLimit, &c.Status, &c.ExpiryAlertedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scanning contract: %w", err)
		}
		contracts = append(contracts, c)
	}
	return contracts, rows.Err()
}

func (q *queries) MarkContractAlerted(ctx context.Context, id int64, at time.Time) error {
	_, err := q.db.Exec(ctx, `UPDATE contracts SET expiry_alerted_at = $2 WHERE id = $1`, id, at)
	if err != nil {
		return fmt.Errorf("marking contract %d alerted: %w", id, err)
	}
	return nil
}
