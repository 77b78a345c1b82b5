package alert

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// PostgresStore persists alerts in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a PostgreSQL-backed alert store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate creates the alerts table if it doesn't exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS alerts (
			id             VARCHAR(64) PRIMARY KEY,
			account_id     VARCHAR(64) NOT NULL,
			transaction_id VARCHAR(64) NOT NULL DEFAULT '',
			alert_type     VARCHAR(32) NOT NULL,
			severity       VARCHAR(10) NOT NULL CHECK (severity IN ('low', 'medium', 'high', 'critical')),
			score          INT NOT NULL DEFAULT 0,
			message        TEXT NOT NULL DEFAULT '',
			resolved       BOOLEAN NOT NULL DEFAULT FALSE,
			resolved_at    TIMESTAMPTZ,
			created_at     TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);

		CREATE INDEX IF NOT EXISTS idx_alerts_account
			ON alerts (account_id, created_at DESC);

		CREATE INDEX IF NOT EXISTS idx_alerts_unresolved
			ON alerts (account_id, created_at DESC) WHERE resolved = FALSE;
	`)
	return err
}

func (s *PostgresStore) Create(ctx context.Context, a *Alert) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO alerts (id, account_id, transaction_id, alert_type, severity,
			score, message, resolved, resolved_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, a.ID, a.AccountID, a.TransactionID, a.Type, string(a.Severity),
		a.Score, a.Message, a.Resolved, a.ResolvedAt, a.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create alert: %w", err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, id string) (*Alert, error) {
	a, err := scanAlert(s.db.QueryRowContext(ctx, `
		SELECT id, account_id, transaction_id, alert_type, severity,
			score, message, resolved, resolved_at, created_at
		FROM alerts
		WHERE id = $1
	`, id).Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get alert: %w", err)
	}
	return a, nil
}

func (s *PostgresStore) ListByAccount(ctx context.Context, accountID string, unresolvedOnly bool, limit int) ([]*Alert, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, account_id, transaction_id, alert_type, severity,
			score, message, resolved, resolved_at, created_at
		FROM alerts
		WHERE account_id = $1 AND (NOT $2 OR resolved = FALSE)
		ORDER BY created_at DESC
		LIMIT $3
	`, accountID, unresolvedOnly, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list alerts: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var result []*Alert
	for rows.Next() {
		a, err := scanAlert(rows.Scan)
		if err != nil {
			continue
		}
		result = append(result, a)
	}
	return result, rows.Err()
}

func (s *PostgresStore) Resolve(ctx context.Context, id string, at time.Time) (*Alert, error) {
	_, err := s.db.ExecContext(ctx, `
		UPDATE alerts
		SET resolved = TRUE, resolved_at = $2
		WHERE id = $1 AND resolved = FALSE
	`, id, at)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve alert: %w", err)
	}
	return s.Get(ctx, id)
}

func scanAlert(scan func(dest ...any) error) (*Alert, error) {
	var a Alert
	var severity string
	var resolvedAt sql.NullTime
	if err := scan(&a.ID, &a.AccountID, &a.TransactionID, &a.Type, &severity,
		&a.Score, &a.Message, &a.Resolved, &resolvedAt, &a.CreatedAt); err != nil {
		return nil, err
	}
	a.Severity = Severity(severity)
	if resolvedAt.Valid {
		t := resolvedAt.Time
		a.ResolvedAt = &t
	}
	return &a, nil
}
