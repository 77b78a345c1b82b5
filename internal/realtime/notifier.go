package realtime

import (
	"time"

	"github.com/moneysq/walletguard/internal/money"
	"github.com/moneysq/walletguard/internal/transaction"
)

// Notifier adapts the hub to the transaction service's event sink. Broadcast
// is buffered and drops on overflow, so these never block the state machine.
type Notifier struct {
	hub *Hub
}

// NewNotifier wraps a hub for use as a transaction notifier.
func NewNotifier(hub *Hub) *Notifier {
	return &Notifier{hub: hub}
}

// TransactionEvent broadcasts a transaction resolution.
func (n *Notifier) TransactionEvent(t *transaction.Transaction) {
	data := map[string]interface{}{
		"id":           t.ID,
		"accountId":    t.AccountID,
		"direction":    string(t.Direction),
		"amount":       money.Format(t.Amount),
		"status":       string(t.Status),
		"anomalyScore": t.AnomalyScore,
		"riskLevel":    t.RiskLevel,
	}
	if t.BlockedReason != "" {
		data["blockedReason"] = t.BlockedReason
	}
	if len(t.RiskFactors) > 0 {
		data["riskFactors"] = t.RiskFactors
	}
	n.hub.BroadcastTransaction(data)
}

// FreezeEvent broadcasts an account freeze.
func (n *Notifier) FreezeEvent(accountID string, until time.Time) {
	n.hub.BroadcastFreeze(accountID, until)
}
