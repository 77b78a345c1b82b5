// Package transaction implements the confirmation state machine at the
// heart of the wallet: every debit is scored by the fraud engine, then
// either settles, waits for user confirmation, or is blocked with an
// account freeze.
//
// Lifecycle: a transaction is created pending or terminal
// (completed/blocked), and a pending transaction resolves exactly once to
// completed, cancelled, or blocked. Terminal records are immutable audit
// entries. All resolution paths go through the terminal-state guard, so a
// confirm racing the timeout sweep can never double-resolve.
package transaction

import (
	"context"
	"errors"
	"time"

	"github.com/moneysq/walletguard/internal/baseline"
)

var (
	ErrNotFound = errors.New("transaction not found")

	// ErrConfirmationPending is returned when an account already has an
	// unresolved pending transaction. New requests are rejected, not queued.
	ErrConfirmationPending = errors.New("account has a transaction pending confirmation")
)

// ValidationError rejects a malformed request before any evaluation runs.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return "invalid " + e.Field + ": " + e.Reason
}

// Direction distinguishes money leaving the account from money arriving.
type Direction string

const (
	DirectionDebit  Direction = "debit"
	DirectionCredit Direction = "credit"
)

// Status is the transaction's state-machine position.
type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
	StatusBlocked   Status = "blocked"
	StatusCancelled Status = "cancelled"
)

// IsTerminal returns true for final states. Everything except pending.
func (s Status) IsTerminal() bool {
	return s != StatusPending
}

// Transaction is one transfer attempt and its scoring outcome.
// Amount is in cents.
type Transaction struct {
	ID        string    `json:"id"`
	AccountID string    `json:"accountId"`
	Direction Direction `json:"direction"`
	Recipient string    `json:"recipient"`
	Amount    int64     `json:"amount"`

	DeviceFingerprint string `json:"deviceFingerprint,omitempty"`
	Location          string `json:"location,omitempty"`

	Status               Status   `json:"status"`
	AnomalyScore         int      `json:"anomalyScore"`
	RiskLevel            string   `json:"riskLevel"`
	RiskFactors          []string `json:"riskFactors,omitempty"`
	RequiresConfirmation bool     `json:"requiresConfirmation"`
	BlockedReason        string   `json:"blockedReason,omitempty"`

	// ConfirmBy is the confirmation deadline while pending.
	ConfirmBy   *time.Time `json:"confirmBy,omitempty"`
	ConfirmedAt *time.Time `json:"confirmedAt,omitempty"`
	SettledAt   *time.Time `json:"settledAt,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Store persists transactions. It also feeds the baseline recompute worker
// through baseline.SampleSource.
type Store interface {
	Create(ctx context.Context, t *Transaction) error
	Get(ctx context.Context, id string) (*Transaction, error)
	Update(ctx context.Context, t *Transaction) error
	ListByAccount(ctx context.Context, accountID string, limit int) ([]*Transaction, error)

	// CountActiveSince counts pending and completed debits for the account
	// created after the cutoff. The velocity rules use a cutoff of
	// max(now-10m, freeze_until) so a freeze resets the count.
	CountActiveSince(ctx context.Context, accountID string, since time.Time) (int, error)

	// PendingByAccount returns the account's open pending transaction, or
	// ErrNotFound when there is none.
	PendingByAccount(ctx context.Context, accountID string) (*Transaction, error)

	// LastCompletedLocation returns the location and settle time of the
	// account's most recent completed transaction that carried a location.
	// Returns ErrNotFound when no such transaction exists.
	LastCompletedLocation(ctx context.Context, accountID string) (string, time.Time, error)

	// ListExpiredPending returns pending transactions whose confirmation
	// deadline has passed, oldest first.
	ListExpiredPending(ctx context.Context, now time.Time, limit int) ([]*Transaction, error)

	baseline.SampleSource
}
