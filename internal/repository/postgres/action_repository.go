// Package postgres provides PostgreSQL-backed implementations of repository interfaces.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"

	"github.com/nadmax/resqview/internal/repository/models"
)

const schema = `
	CREATE TABLE IF NOT EXISTS admin_actions (
		id         UUID PRIMARY KEY,
		action     TEXT NOT NULL,
		target     TEXT NOT NULL DEFAULT '',
		affected   BIGINT NOT NULL DEFAULT 0,
		error      TEXT,
		request_id TEXT,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);
	CREATE INDEX IF NOT EXISTS admin_actions_created_at_idx ON admin_actions (created_at DESC);
`

type PostgresActionRepository struct {
	db *sql.DB
}

func NewPostgresActionRepository(connectionString string) (*PostgresActionRepository, error) {
	db, err := sql.Open("postgres", connectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping PostgreSQL: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)

	return &PostgresActionRepository{db: db}, nil
}

func (r *PostgresActionRepository) EnsureSchema(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to create admin_actions: %w", err)
	}
	return nil
}

func (r *PostgresActionRepository) LogAction(ctx context.Context, a *models.Action) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO admin_actions (
			id, action, target, affected, error, request_id, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
	`

	_, err := r.db.ExecContext(
		ctx,
		query,
		a.ID,
		a.Action,
		a.Target,
		a.Affected,
		nullable(a.Error),
		nullable(a.RequestID),
		a.CreatedAt,
	)

	return err
}

func (r *PostgresActionRepository) RecentActions(ctx context.Context, limit int) ([]models.Action, error) {
	query := `
		SELECT
			id, action, target, affected,
			COALESCE(error, ''), COALESCE(request_id, ''), created_at
		FROM admin_actions
		ORDER BY created_at DESC
		LIMIT $1
	`
	return r.queryActions(ctx, query, limit)
}

func (r *PostgresActionRepository) ActionsByType(ctx context.Context, action string, limit int) ([]models.Action, error) {
	query := `
		SELECT
			id, action, target, affected,
			COALESCE(error, ''), COALESCE(request_id, ''), created_at
		FROM admin_actions
		WHERE action = $1
		ORDER BY created_at DESC
		LIMIT $2
	`
	return r.queryActions(ctx, query, action, limit)
}

func (r *PostgresActionRepository) queryActions(ctx context.Context, query string, args ...any) ([]models.Action, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}

	defer func() {
		if err := rows.Close(); err != nil {
			slog.Warn("failed to close rows", "error", err)
		}
	}()

	actions := []models.Action{}
	for rows.Next() {
		var a models.Action
		if err := rows.Scan(
			&a.ID,
			&a.Action,
			&a.Target,
			&a.Affected,
			&a.Error,
			&a.RequestID,
			&a.CreatedAt,
		); err != nil {
			return nil, err
		}

		actions = append(actions, a)
	}

	return actions, rows.Err()
}

func (r *PostgresActionRepository) ActionStats(ctx context.Context, hours int) ([]models.ActionStats, error) {
	query := `
		SELECT
			action, COUNT(*) as count,
			COUNT(error) as failures,
			COALESCE(SUM(affected), 0) as affected
		FROM admin_actions
		WHERE created_at > NOW() - INTERVAL '1 hour' * $1
		GROUP BY action
		ORDER BY action
	`
	rows, err := r.db.QueryContext(ctx, query, hours)
	if err != nil {
		return nil, err
	}

	defer func() {
		if err := rows.Close(); err != nil {
			slog.Warn("failed to close rows", "error", err)
		}
	}()

	stats := []models.ActionStats{}
	for rows.Next() {
		var s models.ActionStats
		if err := rows.Scan(&s.Action, &s.Count, &s.Failures, &s.Affected); err != nil {
			return nil, err
		}

		stats = append(stats, s)
	}

	return stats, rows.Err()
}

func (r *PostgresActionRepository) Close() error {
	return r.db.Close()
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
