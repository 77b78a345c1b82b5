package transaction

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/moneysq/walletguard/internal/baseline"
)

// PostgresStore persists transactions in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a PostgreSQL-backed transaction store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate creates the transactions table if it doesn't exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS transactions (
			id                    VARCHAR(64) PRIMARY KEY,
			account_id            VARCHAR(64) NOT NULL,
			direction             VARCHAR(6) NOT NULL CHECK (direction IN ('debit', 'credit')),
			recipient             TEXT NOT NULL DEFAULT '',
			amount                BIGINT NOT NULL CHECK (amount > 0),
			device_fingerprint    TEXT NOT NULL DEFAULT '',
			location              TEXT NOT NULL DEFAULT '',
			status                VARCHAR(10) NOT NULL CHECK (status IN ('pending', 'completed', 'blocked', 'cancelled')),
			anomaly_score         INT NOT NULL DEFAULT 0 CHECK (anomaly_score >= 0 AND anomaly_score <= 100),
			risk_level            VARCHAR(10) NOT NULL DEFAULT 'low',
			risk_factors          JSONB NOT NULL DEFAULT '[]',
			requires_confirmation BOOLEAN NOT NULL DEFAULT FALSE,
			blocked_reason        TEXT NOT NULL DEFAULT '',
			confirm_by            TIMESTAMPTZ,
			confirmed_at          TIMESTAMPTZ,
			settled_at            TIMESTAMPTZ,
			created_at            TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at            TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);

		CREATE INDEX IF NOT EXISTS idx_transactions_account
			ON transactions (account_id, created_at DESC);

		CREATE INDEX IF NOT EXISTS idx_transactions_pending
			ON transactions (confirm_by) WHERE status = 'pending';

		CREATE INDEX IF NOT EXISTS idx_transactions_settled
			ON transactions (settled_at DESC) WHERE status = 'completed';
	`)
	return err
}

const txnColumns = `id, account_id, direction, recipient, amount,
	device_fingerprint, location, status, anomaly_score, risk_level,
	risk_factors, requires_confirmation, blocked_reason,
	confirm_by, confirmed_at, settled_at, created_at, updated_at`

func (s *PostgresStore) Create(ctx context.Context, t *Transaction) error {
	factors, err := json.Marshal(t.RiskFactors)
	if err != nil {
		return fmt.Errorf("failed to marshal risk factors: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO transactions (`+txnColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)
	`, t.ID, t.AccountID, string(t.Direction), t.Recipient, t.Amount,
		t.DeviceFingerprint, t.Location, string(t.Status), t.AnomalyScore, t.RiskLevel,
		factors, t.RequiresConfirmation, t.BlockedReason,
		t.ConfirmBy, t.ConfirmedAt, t.SettledAt, t.CreatedAt, t.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create transaction: %w", err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, id string) (*Transaction, error) {
	t, err := scanTxn(s.db.QueryRowContext(ctx,
		`SELECT `+txnColumns+` FROM transactions WHERE id = $1`, id).Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get transaction: %w", err)
	}
	return t, nil
}

func (s *PostgresStore) Update(ctx context.Context, t *Transaction) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE transactions
		SET status = $2, blocked_reason = $3, confirmed_at = $4,
			settled_at = $5, updated_at = $6
		WHERE id = $1
	`, t.ID, string(t.Status), t.BlockedReason, t.ConfirmedAt, t.SettledAt, t.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to update transaction: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) ListByAccount(ctx context.Context, accountID string, limit int) ([]*Transaction, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+txnColumns+`
		FROM transactions
		WHERE account_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, accountID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list transactions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var result []*Transaction
	for rows.Next() {
		t, err := scanTxn(rows.Scan)
		if err != nil {
			continue
		}
		result = append(result, t)
	}
	return result, rows.Err()
}

func (s *PostgresStore) CountActiveSince(ctx context.Context, accountID string, since time.Time) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*)
		FROM transactions
		WHERE account_id = $1
			AND direction = 'debit'
			AND status IN ('pending', 'completed')
			AND created_at > $2
	`, accountID, since).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count recent transactions: %w", err)
	}
	return count, nil
}

func (s *PostgresStore) PendingByAccount(ctx context.Context, accountID string) (*Transaction, error) {
	t, err := scanTxn(s.db.QueryRowContext(ctx, `
		SELECT `+txnColumns+`
		FROM transactions
		WHERE account_id = $1 AND status = 'pending'
		ORDER BY created_at
		LIMIT 1
	`, accountID).Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get pending transaction: %w", err)
	}
	return t, nil
}

func (s *PostgresStore) LastCompletedLocation(ctx context.Context, accountID string) (string, time.Time, error) {
	var location string
	var settledAt time.Time
	err := s.db.QueryRowContext(ctx, `
		SELECT location, settled_at
		FROM transactions
		WHERE account_id = $1 AND status = 'completed' AND location <> ''
			AND settled_at IS NOT NULL
		ORDER BY settled_at DESC
		LIMIT 1
	`, accountID).Scan(&location, &settledAt)
	if errors.Is(err, sql.ErrNoRows) {
		return "", time.Time{}, ErrNotFound
	}
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to get last location: %w", err)
	}
	return location, settledAt, nil
}

func (s *PostgresStore) ListExpiredPending(ctx context.Context, now time.Time, limit int) ([]*Transaction, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+txnColumns+`
		FROM transactions
		WHERE status = 'pending' AND confirm_by < $1
		ORDER BY confirm_by
		LIMIT $2
	`, now, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list expired transactions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var result []*Transaction
	for rows.Next() {
		t, err := scanTxn(rows.Scan)
		if err != nil {
			continue
		}
		result = append(result, t)
	}
	return result, rows.Err()
}

func (s *PostgresStore) ListSettledSince(ctx context.Context, since time.Time) ([]baseline.Sample, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT account_id, amount, settled_at
		FROM transactions
		WHERE direction = 'debit' AND status = 'completed' AND settled_at >= $1
	`, since)
	if err != nil {
		return nil, fmt.Errorf("failed to list settled transactions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var samples []baseline.Sample
	for rows.Next() {
		var sm baseline.Sample
		if err := rows.Scan(&sm.AccountID, &sm.Amount, &sm.At); err != nil {
			continue
		}
		samples = append(samples, sm)
	}
	return samples, rows.Err()
}

func scanTxn(scan func(dest ...any) error) (*Transaction, error) {
	var t Transaction
	var direction, status string
	var factors []byte
	var confirmBy, confirmedAt, settledAt sql.NullTime
	if err := scan(&t.ID, &t.AccountID, &direction, &t.Recipient, &t.Amount,
		&t.DeviceFingerprint, &t.Location, &status, &t.AnomalyScore, &t.RiskLevel,
		&factors, &t.RequiresConfirmation, &t.BlockedReason,
		&confirmBy, &confirmedAt, &settledAt, &t.CreatedAt, &t.UpdatedAt); err != nil {
		return nil, err
	}
	t.Direction = Direction(direction)
	t.Status = Status(status)
	_ = json.Unmarshal(factors, &t.RiskFactors)
	if confirmBy.Valid {
		v := confirmBy.Time
		t.ConfirmBy = &v
	}
	if confirmedAt.Valid {
		v := confirmedAt.Time
		t.ConfirmedAt = &v
	}
	if settledAt.Valid {
		v := settledAt.Time
		t.SettledAt = &v
	}
	return &t, nil
}
