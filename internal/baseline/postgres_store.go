package baseline

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// PostgresStore persists behavioral baselines in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a PostgreSQL-backed baseline store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate creates the behavior_baselines table if it doesn't exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS behavior_baselines (
			account_id          VARCHAR(64) PRIMARY KEY,
			avg_amount          BIGINT NOT NULL DEFAULT 0,
			max_amount          BIGINT NOT NULL DEFAULT 0,
			typical_daily_count DOUBLE PRECISION NOT NULL DEFAULT 0,
			active_hour_start   INT NOT NULL DEFAULT 9,
			active_hour_end     INT NOT NULL DEFAULT 21,
			avg_txns_per_10min  DOUBLE PRECISION NOT NULL DEFAULT 1.0,
			sample_count        BIGINT NOT NULL DEFAULT 0,
			updated_at          TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
	`)
	return err
}

func (s *PostgresStore) Get(ctx context.Context, accountID string) (*BehaviorBaseline, error) {
	var b BehaviorBaseline
	err := s.db.QueryRowContext(ctx, `
		SELECT account_id, avg_amount, max_amount, typical_daily_count,
			active_hour_start, active_hour_end, avg_txns_per_10min,
			sample_count, updated_at
		FROM behavior_baselines
		WHERE account_id = $1
	`, accountID).Scan(&b.AccountID, &b.AvgAmount, &b.MaxAmount, &b.TypicalDailyCount,
		&b.ActiveHourStart, &b.ActiveHourEnd, &b.AvgTxnsPer10Min,
		&b.SampleCount, &b.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get baseline: %w", err)
	}
	return &b, nil
}

func (s *PostgresStore) Save(ctx context.Context, b *BehaviorBaseline) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO behavior_baselines (account_id, avg_amount, max_amount,
			typical_daily_count, active_hour_start, active_hour_end,
			avg_txns_per_10min, sample_count, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (account_id) DO UPDATE SET
			avg_amount = EXCLUDED.avg_amount,
			max_amount = EXCLUDED.max_amount,
			typical_daily_count = EXCLUDED.typical_daily_count,
			active_hour_start = EXCLUDED.active_hour_start,
			active_hour_end = EXCLUDED.active_hour_end,
			avg_txns_per_10min = EXCLUDED.avg_txns_per_10min,
			sample_count = EXCLUDED.sample_count,
			updated_at = EXCLUDED.updated_at
	`, b.AccountID, b.AvgAmount, b.MaxAmount, b.TypicalDailyCount,
		b.ActiveHourStart, b.ActiveHourEnd, b.AvgTxnsPer10Min,
		b.SampleCount, b.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to save baseline: %w", err)
	}
	return nil
}

func (s *PostgresStore) SaveBatch(ctx context.Context, batch []*BehaviorBaseline) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin baseline batch: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, b := range batch {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO behavior_baselines (account_id, avg_amount, max_amount,
				typical_daily_count, active_hour_start, active_hour_end,
				avg_txns_per_10min, sample_count, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			ON CONFLICT (account_id) DO UPDATE SET
				avg_amount = EXCLUDED.avg_amount,
				max_amount = EXCLUDED.max_amount,
				typical_daily_count = EXCLUDED.typical_daily_count,
				active_hour_start = EXCLUDED.active_hour_start,
				active_hour_end = EXCLUDED.active_hour_end,
				avg_txns_per_10min = EXCLUDED.avg_txns_per_10min,
				sample_count = EXCLUDED.sample_count,
				updated_at = EXCLUDED.updated_at
		`, b.AccountID, b.AvgAmount, b.MaxAmount, b.TypicalDailyCount,
			b.ActiveHourStart, b.ActiveHourEnd, b.AvgTxnsPer10Min,
			b.SampleCount, b.UpdatedAt); err != nil {
			return fmt.Errorf("failed to save baseline for %s: %w", b.AccountID, err)
		}
	}
	return tx.Commit()
}

func (s *PostgresStore) GetAll(ctx context.Context) ([]*BehaviorBaseline, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT account_id, avg_amount, max_amount, typical_daily_count,
			active_hour_start, active_hour_end, avg_txns_per_10min,
			sample_count, updated_at
		FROM behavior_baselines
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list baselines: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var result []*BehaviorBaseline
	for rows.Next() {
		var b BehaviorBaseline
		if err := rows.Scan(&b.AccountID, &b.AvgAmount, &b.MaxAmount, &b.TypicalDailyCount,
			&b.ActiveHourStart, &b.ActiveHourEnd, &b.AvgTxnsPer10Min,
			&b.SampleCount, &b.UpdatedAt); err != nil {
			continue
		}
		result = append(result, &b)
	}
	return result, rows.Err()
}
