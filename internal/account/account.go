// Package account manages wallet accounts: balances, per-account risk
// thresholds, the recognition sets (known devices and locations), and the
// freeze state machine.
//
// Freeze expiry is lazy. There is no background sweep flipping accounts
// back to active; every status read recomputes active-vs-frozen from
// FreezeUntil and the current time.
package account

import (
	"context"
	"errors"
	"time"

	"github.com/moneysq/walletguard/internal/geo"
)

var (
	ErrNotFound            = errors.New("account not found")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrFrozen              = errors.New("account is frozen")
)

// Status represents an account's freeze state.
type Status string

const (
	StatusActive Status = "active"
	StatusFrozen Status = "frozen"
)

// Account is a wallet account with its configured protection thresholds.
// Monetary fields are in cents.
type Account struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Balance int64  `json:"balance"`

	Status      Status     `json:"status"`
	FreezeUntil *time.Time `json:"freezeUntil,omitempty"`

	// Protection thresholds
	AllowedStartHour int           `json:"allowedStartHour"` // inclusive
	AllowedEndHour   int           `json:"allowedEndHour"`   // exclusive
	MaxTxnAmount     int64         `json:"maxTxnAmount"`
	SoftVelocityMax  int           `json:"softVelocityMax"` // txns per 10 min before confirmation
	HardVelocityMax  int           `json:"hardVelocityMax"` // txns per 10 min before auto-freeze
	FreezeDuration   time.Duration `json:"freezeDuration"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// EffectiveStatus resolves the lazy freeze expiry: a frozen account whose
// FreezeUntil has passed reads as active. FreezeUntil itself is preserved
// because the velocity check uses it as a count-reset cutoff after unfreezing.
func (a *Account) EffectiveStatus(now time.Time) Status {
	if a.Status == StatusFrozen && a.FreezeUntil != nil && !now.Before(*a.FreezeUntil) {
		return StatusActive
	}
	return a.Status
}

// KnownDevice is an append-only recognition entry for a device fingerprint.
type KnownDevice struct {
	AccountID   string    `json:"accountId"`
	Fingerprint string    `json:"fingerprint"`
	Label       string    `json:"label,omitempty"`
	Trusted     bool      `json:"trusted"`
	LastUsed    time.Time `json:"lastUsed"`
}

// KnownLocation is an append-only recognition entry for a named location.
// Coordinates are optional; when absent, travel checks fall back to the
// built-in city table.
type KnownLocation struct {
	AccountID string     `json:"accountId"`
	Name      string     `json:"name"`
	Coords    *geo.Coords `json:"coords,omitempty"`
	Trusted   bool       `json:"trusted"`
	LastUsed  time.Time  `json:"lastUsed"`
}

// Store persists accounts and their recognition sets.
type Store interface {
	Create(ctx context.Context, a *Account) error
	Get(ctx context.Context, id string) (*Account, error)
	Update(ctx context.Context, a *Account) error

	// ApplyBalanceDelta atomically adjusts the balance, failing with
	// ErrInsufficientBalance if the result would go negative.
	ApplyBalanceDelta(ctx context.Context, id string, delta int64) error

	// SetFreeze persists a status/freeze_until pair.
	SetFreeze(ctx context.Context, id string, status Status, until *time.Time) error

	GetDevice(ctx context.Context, accountID, fingerprint string) (*KnownDevice, error)
	ListDevices(ctx context.Context, accountID string) ([]*KnownDevice, error)
	UpsertDevice(ctx context.Context, d *KnownDevice) error

	GetLocation(ctx context.Context, accountID, name string) (*KnownLocation, error)
	ListLocations(ctx context.Context, accountID string) ([]*KnownLocation, error)
	UpsertLocation(ctx context.Context, l *KnownLocation) error
}
