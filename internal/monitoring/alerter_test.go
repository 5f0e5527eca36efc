package monitoring

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/lead-pipeline/internal/config"
)

func testMonitoringConfig() config.MonitoringConfig {
	return config.MonitoringConfig{
		FailureRateThreshold: 0.10,
		CostThresholdUSD:     50.0,
		LatencyThresholdMs:   5000,
	}
}

func TestAlerter_Evaluate_NoAlerts(t *testing.T) {
	a := NewAlerter(testMonitoringConfig())

	alerts := a.Evaluate(&Snapshot{
		Runs:           100,
		Completed:      95,
		CRMFailed:      5,
		CRMFailureRate: 0.05,
		CostUSD:        10.0,
		AvgLatencyMs:   1200,
		LookbackHours:  24,
	})
	assert.Empty(t, alerts)
}

func TestAlerter_Evaluate_CRMFailureRate(t *testing.T) {
	a := NewAlerter(testMonitoringConfig())

	alerts := a.Evaluate(&Snapshot{
		Runs:           20,
		Completed:      12,
		CRMFailed:      8,
		CRMFailureRate: 0.4,
		LookbackHours:  24,
	})
	require.Len(t, alerts, 1)
	assert.Equal(t, AlertCRMFailureRate, alerts[0].Type)
	assert.Equal(t, "high", alerts[0].Severity)
	assert.Contains(t, alerts[0].Message, "40.0%")
}

func TestAlerter_Evaluate_MinimumRunsRequired(t *testing.T) {
	a := NewAlerter(testMonitoringConfig())

	alerts := a.Evaluate(&Snapshot{
		Runs:           3,
		Completed:      1,
		CRMFailed:      2,
		CRMFailureRate: 0.666,
		AvgLatencyMs:   9000,
		LookbackHours:  24,
	})
	assert.Empty(t, alerts)
}

func TestAlerter_Evaluate_CostOverrun(t *testing.T) {
	a := NewAlerter(testMonitoringConfig())

	alerts := a.Evaluate(&Snapshot{Runs: 400, Completed: 400, CostUSD: 72.5, LookbackHours: 24})
	require.Len(t, alerts, 1)
	assert.Equal(t, AlertCostOverrun, alerts[0].Type)
	assert.Contains(t, alerts[0].Message, "$72.50")
}

func TestAlerter_Evaluate_LatencyAndBreakers(t *testing.T) {
	a := NewAlerter(testMonitoringConfig())

	alerts := a.Evaluate(&Snapshot{
		Runs:          10,
		Completed:     10,
		AvgLatencyMs:  6100,
		OpenBreakers:  []string{"crm"},
		LookbackHours: 1,
	})
	require.Len(t, alerts, 2)
	assert.Equal(t, AlertLatency, alerts[0].Type)
	assert.Equal(t, "medium", alerts[0].Severity)
	assert.Equal(t, AlertBreakerOpen, alerts[1].Type)
	assert.Contains(t, alerts[1].Message, "crm")
}

func TestAlerter_SendAlerts_Webhook(t *testing.T) {
	var received atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		var alert Alert
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&alert))
		assert.NotEmpty(t, alert.Type)
		received.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	a := NewAlerter(config.MonitoringConfig{WebhookURL: ts.URL})

	sent := a.SendAlerts(context.Background(), []Alert{
		{Type: AlertCRMFailureRate, Severity: "high", Message: "crm failing"},
		{Type: AlertBreakerOpen, Severity: "high", Message: "breaker open"},
	})
	assert.Equal(t, 2, sent)
	assert.Equal(t, int32(2), received.Load())
}

func TestAlerter_SendAlerts_NoWebhook(t *testing.T) {
	a := NewAlerter(config.MonitoringConfig{})

	sent := a.SendAlerts(context.Background(), []Alert{{Type: AlertCostOverrun, Message: "test"}})
	assert.Equal(t, 0, sent)
}

func TestAlerter_SendAlerts_WebhookError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer ts.Close()

	a := NewAlerter(config.MonitoringConfig{WebhookURL: ts.URL})

	sent := a.SendAlerts(context.Background(), []Alert{{Type: AlertCostOverrun, Message: "test"}})
	assert.Equal(t, 0, sent)
}
