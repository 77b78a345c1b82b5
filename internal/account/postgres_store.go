package account

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/moneysq/walletguard/internal/geo"
)

// PostgresStore persists accounts and recognition sets in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a PostgreSQL-backed account store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate creates the account tables if they don't exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS accounts (
			id                  VARCHAR(64) PRIMARY KEY,
			name                TEXT NOT NULL DEFAULT '',
			balance             BIGINT NOT NULL DEFAULT 0 CHECK (balance >= 0),
			status              VARCHAR(10) NOT NULL DEFAULT 'active' CHECK (status IN ('active', 'frozen')),
			freeze_until        TIMESTAMPTZ,
			allowed_start_hour  INT NOT NULL DEFAULT 6,
			allowed_end_hour    INT NOT NULL DEFAULT 23,
			max_txn_amount      BIGINT NOT NULL DEFAULT 1000000,
			soft_velocity_max   INT NOT NULL DEFAULT 3,
			hard_velocity_max   INT NOT NULL DEFAULT 5,
			freeze_duration_sec BIGINT NOT NULL DEFAULT 1800,
			created_at          TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at          TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);

		CREATE TABLE IF NOT EXISTS known_devices (
			account_id   VARCHAR(64) NOT NULL REFERENCES accounts(id),
			fingerprint  TEXT NOT NULL,
			label        TEXT NOT NULL DEFAULT '',
			trusted      BOOLEAN NOT NULL DEFAULT FALSE,
			last_used    TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			PRIMARY KEY (account_id, fingerprint)
		);

		CREATE TABLE IF NOT EXISTS known_locations (
			account_id  VARCHAR(64) NOT NULL REFERENCES accounts(id),
			name        TEXT NOT NULL,
			lat         DOUBLE PRECISION,
			lon         DOUBLE PRECISION,
			trusted     BOOLEAN NOT NULL DEFAULT FALSE,
			last_used   TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			PRIMARY KEY (account_id, name)
		);
	`)
	return err
}

func (s *PostgresStore) Create(ctx context.Context, a *Account) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO accounts (id, name, balance, status, freeze_until,
			allowed_start_hour, allowed_end_hour, max_txn_amount,
			soft_velocity_max, hard_velocity_max, freeze_duration_sec,
			created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`,
		a.ID, a.Name, a.Balance, string(a.Status), a.FreezeUntil,
		a.AllowedStartHour, a.AllowedEndHour, a.MaxTxnAmount,
		a.SoftVelocityMax, a.HardVelocityMax, int64(a.FreezeDuration.Seconds()),
		a.CreatedAt, a.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create account: %w", err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, id string) (*Account, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, balance, status, freeze_until,
			allowed_start_hour, allowed_end_hour, max_txn_amount,
			soft_velocity_max, hard_velocity_max, freeze_duration_sec,
			created_at, updated_at
		FROM accounts
		WHERE id = $1
	`, id)
	return scanAccount(row)
}

func (s *PostgresStore) Update(ctx context.Context, a *Account) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE accounts
		SET name = $2, balance = $3, status = $4, freeze_until = $5,
			allowed_start_hour = $6, allowed_end_hour = $7, max_txn_amount = $8,
			soft_velocity_max = $9, hard_velocity_max = $10, freeze_duration_sec = $11,
			updated_at = NOW()
		WHERE id = $1
	`,
		a.ID, a.Name, a.Balance, string(a.Status), a.FreezeUntil,
		a.AllowedStartHour, a.AllowedEndHour, a.MaxTxnAmount,
		a.SoftVelocityMax, a.HardVelocityMax, int64(a.FreezeDuration.Seconds()),
	)
	if err != nil {
		return fmt.Errorf("failed to update account: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) ApplyBalanceDelta(ctx context.Context, id string, delta int64) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE accounts
		SET balance = balance + $2, updated_at = NOW()
		WHERE id = $1 AND balance + $2 >= 0
	`, id, delta)
	if err != nil {
		return fmt.Errorf("failed to apply balance delta: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		// Distinguish missing account from insufficient funds.
		var exists bool
		if err := s.db.QueryRowContext(ctx,
			`SELECT EXISTS(SELECT 1 FROM accounts WHERE id = $1)`, id).Scan(&exists); err != nil {
			return fmt.Errorf("failed to check account: %w", err)
		}
		if !exists {
			return ErrNotFound
		}
		return ErrInsufficientBalance
	}
	return nil
}

func (s *PostgresStore) SetFreeze(ctx context.Context, id string, status Status, until *time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE accounts
		SET status = $2, freeze_until = $3, updated_at = NOW()
		WHERE id = $1
	`, id, string(status), until)
	if err != nil {
		return fmt.Errorf("failed to set freeze state: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) GetDevice(ctx context.Context, accountID, fingerprint string) (*KnownDevice, error) {
	var d KnownDevice
	err := s.db.QueryRowContext(ctx, `
		SELECT account_id, fingerprint, label, trusted, last_used
		FROM known_devices
		WHERE account_id = $1 AND fingerprint = $2
	`, accountID, fingerprint).Scan(&d.AccountID, &d.Fingerprint, &d.Label, &d.Trusted, &d.LastUsed)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get device: %w", err)
	}
	return &d, nil
}

func (s *PostgresStore) ListDevices(ctx context.Context, accountID string) ([]*KnownDevice, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT account_id, fingerprint, label, trusted, last_used
		FROM known_devices
		WHERE account_id = $1
		ORDER BY fingerprint
	`, accountID)
	if err != nil {
		return nil, fmt.Errorf("failed to list devices: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var result []*KnownDevice
	for rows.Next() {
		var d KnownDevice
		if err := rows.Scan(&d.AccountID, &d.Fingerprint, &d.Label, &d.Trusted, &d.LastUsed); err != nil {
			continue
		}
		result = append(result, &d)
	}
	return result, rows.Err()
}

func (s *PostgresStore) UpsertDevice(ctx context.Context, d *KnownDevice) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO known_devices (account_id, fingerprint, label, trusted, last_used)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (account_id, fingerprint)
		DO UPDATE SET label = EXCLUDED.label, trusted = EXCLUDED.trusted, last_used = EXCLUDED.last_used
	`, d.AccountID, d.Fingerprint, d.Label, d.Trusted, d.LastUsed)
	if err != nil {
		return fmt.Errorf("failed to upsert device: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetLocation(ctx context.Context, accountID, name string) (*KnownLocation, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT account_id, name, lat, lon, trusted, last_used
		FROM known_locations
		WHERE account_id = $1 AND name = $2
	`, accountID, name)
	l, err := scanLocation(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get location: %w", err)
	}
	return l, nil
}

func (s *PostgresStore) ListLocations(ctx context.Context, accountID string) ([]*KnownLocation, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT account_id, name, lat, lon, trusted, last_used
		FROM known_locations
		WHERE account_id = $1
		ORDER BY name
	`, accountID)
	if err != nil {
		return nil, fmt.Errorf("failed to list locations: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var result []*KnownLocation
	for rows.Next() {
		l, err := scanLocation(rows.Scan)
		if err != nil {
			continue
		}
		result = append(result, l)
	}
	return result, rows.Err()
}

func (s *PostgresStore) UpsertLocation(ctx context.Context, l *KnownLocation) error {
	var lat, lon *float64
	if l.Coords != nil {
		lat, lon = &l.Coords.Lat, &l.Coords.Lon
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO known_locations (account_id, name, lat, lon, trusted, last_used)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (account_id, name)
		DO UPDATE SET lat = EXCLUDED.lat, lon = EXCLUDED.lon,
			trusted = EXCLUDED.trusted, last_used = EXCLUDED.last_used
	`, l.AccountID, l.Name, lat, lon, l.Trusted, l.LastUsed)
	if err != nil {
		return fmt.Errorf("failed to upsert location: %w", err)
	}
	return nil
}

func scanAccount(row *sql.Row) (*Account, error) {
	var a Account
	var status string
	var freezeUntil sql.NullTime
	var freezeSec int64
	err := row.Scan(&a.ID, &a.Name, &a.Balance, &status, &freezeUntil,
		&a.AllowedStartHour, &a.AllowedEndHour, &a.MaxTxnAmount,
		&a.SoftVelocityMax, &a.HardVelocityMax, &freezeSec,
		&a.CreatedAt, &a.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get account: %w", err)
	}
	a.Status = Status(status)
	if freezeUntil.Valid {
		t := freezeUntil.Time
		a.FreezeUntil = &t
	}
	a.FreezeDuration = time.Duration(freezeSec) * time.Second
	return &a, nil
}

func scanLocation(scan func(dest ...any) error) (*KnownLocation, error) {
	var l KnownLocation
	var lat, lon sql.NullFloat64
	if err := scan(&l.AccountID, &l.Name, &lat, &lon, &l.Trusted, &l.LastUsed); err != nil {
		return nil, err
	}
	if lat.Valid && lon.Valid {
		l.Coords = &geo.Coords{Lat: lat.Float64, Lon: lon.Float64}
	}
	return &l, nil
}
