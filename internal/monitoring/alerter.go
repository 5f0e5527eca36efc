// Package monitoring evaluates recorded pipeline runs against alert
// thresholds and delivers alerts to a webhook.
package monitoring

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/lead-pipeline/internal/config"
)

// AlertType identifies the kind of alert.
type AlertType string

const (
	AlertCRMFailureRate AlertType = "crm_failure_rate"
	AlertCostOverrun    AlertType = "cost_overrun"
	AlertLatency        AlertType = "latency_budget"
	AlertBreakerOpen    AlertType = "breaker_open"
)

// minRunsForRates keeps a handful of early runs from tripping rate alerts.
const minRunsForRates = 5

// Alert is a single alert delivered to the webhook.
type Alert struct {
	Type      AlertType      `json:"type"`
	Severity  string         `json:"severity"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Alerter checks snapshots against thresholds and posts alerts.
type Alerter struct {
	cfg    config.MonitoringConfig
	client *http.Client
}

// NewAlerter creates an Alerter.
func NewAlerter(cfg config.MonitoringConfig) *Alerter {
	return &Alerter{
		cfg:    cfg,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

// Evaluate returns the alerts the snapshot triggers.
func (a *Alerter) Evaluate(snap *Snapshot) []Alert {
	var alerts []Alert
	now := time.Now().UTC()

	attempted := snap.Completed + snap.CRMFailed
	if attempted >= minRunsForRates && snap.CRMFailureRate > a.cfg.FailureRateThreshold {
		alerts = append(alerts, Alert{
			Type:     AlertCRMFailureRate,
			Severity: "high",
			Message: fmt.Sprintf(
				"CRM failure rate %.1f%% exceeds threshold %.1f%% (%d failed / %d attempted in last %dh)",
				snap.CRMFailureRate*100, a.cfg.FailureRateThreshold*100,
				snap.CRMFailed, attempted, snap.LookbackHours,
			),
			Details: map[string]any{
				"failure_rate": snap.CRMFailureRate,
				"threshold":    a.cfg.FailureRateThreshold,
				"failed":       snap.CRMFailed,
				"attempted":    attempted,
			},
			Timestamp: now,
		})
	}

	if a.cfg.CostThresholdUSD > 0 && snap.CostUSD > a.cfg.CostThresholdUSD {
		alerts = append(alerts, Alert{
			Type:     AlertCostOverrun,
			Severity: "high",
			Message: fmt.Sprintf(
				"Provider cost $%.2f exceeds threshold $%.2f in last %dh",
				snap.CostUSD, a.cfg.CostThresholdUSD, snap.LookbackHours,
			),
			Details: map[string]any{
				"cost_usd":      snap.CostUSD,
				"threshold_usd": a.cfg.CostThresholdUSD,
				"runs":          snap.Runs,
			},
			Timestamp: now,
		})
	}

	if a.cfg.LatencyThresholdMs > 0 && snap.Runs >= minRunsForRates &&
		snap.AvgLatencyMs > float64(a.cfg.LatencyThresholdMs) {
		alerts = append(alerts, Alert{
			Type:     AlertLatency,
			Severity: "medium",
			Message: fmt.Sprintf(
				"Average run latency %.0fms exceeds budget %dms in last %dh",
				snap.AvgLatencyMs, a.cfg.LatencyThresholdMs, snap.LookbackHours,
			),
			Details: map[string]any{
				"avg_latency_ms":       snap.AvgLatencyMs,
				"latency_threshold_ms": a.cfg.LatencyThresholdMs,
			},
			Timestamp: now,
		})
	}

	if len(snap.OpenBreakers) > 0 {
		alerts = append(alerts, Alert{
			Type:      AlertBreakerOpen,
			Severity:  "high",
			Message:   "Circuit breaker not closed for: " + strings.Join(snap.OpenBreakers, ", "),
			Details:   map[string]any{"providers": snap.OpenBreakers},
			Timestamp: now,
		})
	}

	return alerts
}

// SendAlerts posts alerts to the webhook and returns how many were delivered.
func (a *Alerter) SendAlerts(ctx context.Context, alerts []Alert) int {
	if a.cfg.WebhookURL == "" || len(alerts) == 0 {
		return 0
	}

	sent := 0
	for _, alert := range alerts {
		if err := a.sendWebhook(ctx, alert); err != nil {
			zap.L().Error("monitoring: failed to send alert",
				zap.String("type", string(alert.Type)),
				zap.Error(err),
			)
			continue
		}
		zap.L().Info("monitoring: alert sent",
			zap.String("type", string(alert.Type)),
			zap.String("severity", alert.Severity),
		)
		sent++
	}
	return sent
}

func (a *Alerter) sendWebhook(ctx context.Context, alert Alert) error {
	payload, err := json.Marshal(alert)
	if err != nil {
		return eris.Wrap(err, "monitoring: marshal alert")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.WebhookURL, bytes.NewReader(payload))
	if err != nil {
		return eris.Wrap(err, "monitoring: create webhook request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return eris.Wrap(err, "monitoring: webhook request")
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode >= 400 {
		return eris.Errorf("monitoring: webhook returned status %d", resp.StatusCode)
	}
	return nil
}
