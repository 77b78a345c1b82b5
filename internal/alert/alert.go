// Package alert records fraud alerts for review. Every rule hit on a
// scored transaction, every auto-freeze, and every manual freeze produces
// an alert; reviewers work the queue and resolve entries as they go.
package alert

import (
	"context"
	"errors"
	"time"
)

var ErrNotFound = errors.New("alert not found")

// Severity ranks how urgently an alert needs review.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Alert types beyond the fraud rule IDs.
const (
	TypeAutoFreeze     = "auto_freeze"
	TypeManualFreeze   = "manual_freeze"
	TypeManualUnfreeze = "manual_unfreeze"
)

// severityByType maps alert types to severities. Rule-typed alerts use the
// rule ID as their type.
var severityByType = map[string]Severity{
	"impossible_travel": SeverityCritical,
	TypeAutoFreeze:      SeverityCritical,
	"exceeds_limit":     SeverityHigh,
	"high_velocity":     SeverityHigh,
	"new_device":        SeverityHigh,
	"new_location":      SeverityHigh,
	"high_amount":       SeverityMedium,
	"unusual_hour":      SeverityMedium,
	TypeManualFreeze:    SeverityMedium,
	TypeManualUnfreeze:  SeverityLow,
}

// SeverityFor returns the severity for an alert type, defaulting to medium
// for types added after this table was written.
func SeverityFor(alertType string) Severity {
	if s, ok := severityByType[alertType]; ok {
		return s
	}
	return SeverityMedium
}

// Alert is a recorded fraud signal tied to an account and usually a
// transaction.
type Alert struct {
	ID            string     `json:"id"`
	AccountID     string     `json:"accountId"`
	TransactionID string     `json:"transactionId,omitempty"`
	Type          string     `json:"type"`
	Severity      Severity   `json:"severity"`
	Score         int        `json:"score"`
	Message       string     `json:"message"`
	Resolved      bool       `json:"resolved"`
	ResolvedAt    *time.Time `json:"resolvedAt,omitempty"`
	CreatedAt     time.Time  `json:"createdAt"`
}

// Store persists alerts.
type Store interface {
	Create(ctx context.Context, a *Alert) error
	Get(ctx context.Context, id string) (*Alert, error)
	ListByAccount(ctx context.Context, accountID string, unresolvedOnly bool, limit int) ([]*Alert, error)
	Resolve(ctx context.Context, id string, at time.Time) (*Alert, error)
}
