// Package alerting implements the Alerting Manager supplemented in
// SPEC_FULL.md §12: a thin, classification-driven surface for raising
// and reading TokenAlerts, persisted through the Store rather than an
// in-memory-only slice. Grounded in the reference's
// internal/alerting.Manager.
package alerting

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ledgeroracle/xrpl-oracle/internal/model"
	"github.com/ledgeroracle/xrpl-oracle/internal/store"
)

// Manager raises and serves TokenAlerts.
type Manager struct {
	st     store.Store
	logger *logrus.Logger
}

// New constructs a Manager.
func New(st store.Store, logger *logrus.Logger) *Manager {
	return &Manager{st: st, logger: logger}
}

// Create raises and persists a new alert.
func (m *Manager) Create(ctx context.Context, id model.TokenID, alertType, severity, message string) (model.TokenAlert, error) {
	alert := model.TokenAlert{
		ID:         fmt.Sprintf("alert_%d", time.Now().UnixNano()),
		TokenID:    id,
		AlertType:  alertType,
		Severity:   severity,
		Message:    message,
		DetectedAt: time.Now().UTC(),
	}
	if err := m.st.RecordAlert(ctx, alert); err != nil {
		return model.TokenAlert{}, fmt.Errorf("alerting: record alert: %w", err)
	}
	m.logger.WithFields(logrus.Fields{
		"token": id.String(), "alert_type": alertType, "severity": severity,
	}).Info("alerting: alert created")
	return alert, nil
}

// Recent returns the most recently raised alerts, most recent first.
func (m *Manager) Recent(ctx context.Context, limit int) ([]model.TokenAlert, error) {
	alerts, err := m.st.RecentAlerts(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("alerting: recent alerts: %w", err)
	}
	return alerts, nil
}

// DumpPattern raises a DUMP_DETECTED alert, the severity band matching
// the reference's CreateDumpAlert thresholds.
func (m *Manager) DumpPattern(ctx context.Context, id model.TokenID, clusterCount, totalSells int) (model.TokenAlert, error) {
	severity := "LOW"
	switch {
	case clusterCount >= 5:
		severity = "CRITICAL"
	case clusterCount >= 4:
		severity = "HIGH"
	case clusterCount >= 3:
		severity = "MEDIUM"
	}
	msg := fmt.Sprintf("dump pattern detected: %d sell clusters, %d total sells", clusterCount, totalSells)
	return m.Create(ctx, id, "DUMP_DETECTED", severity, msg)
}

// HotToken raises a HOT_TOKEN alert for a token that has latched into
// TokenTracker's HotSet. The onHot callback cmd/oracle/startup gives
// the tracker only logs the promotion; it does not call HotToken.
func (m *Manager) HotToken(ctx context.Context, id model.TokenID, timeToHot time.Duration) (model.TokenAlert, error) {
	msg := fmt.Sprintf("token reached hot threshold in %s", timeToHot.Round(time.Second))
	return m.Create(ctx, id, "HOT_TOKEN", "ALERT", msg)
}

// Reactivation raises a REACTIVATION alert when ReactivationScanner
// finds renewed activity on a previously dormant token.
func (m *Manager) Reactivation(ctx context.Context, id model.TokenID, score float64) (model.TokenAlert, error) {
	msg := fmt.Sprintf("token reactivating with score %.1f", score)
	return m.Create(ctx, id, "REACTIVATION", "ALERT", msg)
}
