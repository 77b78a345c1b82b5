package alert

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/moneysq/walletguard/internal/idgen"
	"github.com/moneysq/walletguard/internal/metrics"
)

// Recorder writes alerts and optionally mirrors them to a webhook.
// Alert recording is best-effort by design: a failed insert must never
// fail the transaction that triggered it.
type Recorder struct {
	store      Store
	logger     *slog.Logger
	webhookURL string
	nowFn      func() time.Time
}

// RecorderOption configures the Recorder.
type RecorderOption func(*Recorder)

// WithLogger sets a structured logger.
func WithLogger(l *slog.Logger) RecorderOption {
	return func(r *Recorder) { r.logger = l }
}

// WithWebhook mirrors every recorded alert to the given URL.
func WithWebhook(url string) RecorderOption {
	return func(r *Recorder) { r.webhookURL = url }
}

// WithNow overrides the clock for tests.
func WithNow(fn func() time.Time) RecorderOption {
	return func(r *Recorder) { r.nowFn = fn }
}

// NewRecorder creates an alert recorder backed by the given store.
func NewRecorder(store Store, opts ...RecorderOption) *Recorder {
	r := &Recorder{
		store:  store,
		logger: slog.Default(),
		nowFn:  time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Record writes one alert. The type determines severity; ID and timestamps
// are filled in here.
func (r *Recorder) Record(ctx context.Context, accountID, transactionID, alertType, message string, score int) *Alert {
	a := &Alert{
		ID:            idgen.WithPrefix("alert_"),
		AccountID:     accountID,
		TransactionID: transactionID,
		Type:          alertType,
		Severity:      SeverityFor(alertType),
		Score:         score,
		Message:       message,
		CreatedAt:     r.nowFn(),
	}
	if err := r.store.Create(ctx, a); err != nil {
		r.logger.Error("failed to record alert",
			"account", accountID, "type", alertType, "error", err)
		return a
	}
	metrics.AlertsRecorded.WithLabelValues(string(a.Severity)).Inc()
	r.logger.Warn("fraud alert recorded",
		"account", accountID, "transaction", transactionID,
		"type", alertType, "severity", a.Severity, "score", score)

	if r.webhookURL != "" {
		go fireWebhook(r.webhookURL, a)
	}
	return a
}

// RecordFreeze writes the alert for an account freeze. Auto-freezes are
// critical; manual freezes are routine.
func (r *Recorder) RecordFreeze(ctx context.Context, accountID, transactionID string, manual bool, until time.Time) *Alert {
	alertType := TypeAutoFreeze
	if manual {
		alertType = TypeManualFreeze
	}
	msg := fmt.Sprintf("account frozen until %s", until.Format(time.RFC3339))
	return r.Record(ctx, accountID, transactionID, alertType, msg, 0)
}

// RecordUnfreeze writes the alert for an operator lifting a freeze early.
func (r *Recorder) RecordUnfreeze(ctx context.Context, accountID string) *Alert {
	return r.Record(ctx, accountID, "", TypeManualUnfreeze, "account unfrozen by operator", 0)
}

func fireWebhook(url string, a *Alert) {
	body, err := json.Marshal(a)
	if err != nil {
		return
	}
	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Post(url, "application/json", bytes.NewReader(body))
	if err == nil {
		_ = resp.Body.Close()
	}
}
