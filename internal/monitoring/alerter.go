package monitoring

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/lead-intake/internal/config"
)

// AlertType identifies the kind of alert.
type AlertType string

const (
	AlertFallbackRate  AlertType = "scoring_fallback_rate"
	AlertRetryBacklog  AlertType = "score_retry_backlog"
	AlertLeadShortfall AlertType = "lead_shortfall"
)

// minScoredForRate avoids alerting on a handful of leads.
const minScoredForRate = 5

// Alert represents a single alert to be sent.
type Alert struct {
	Type      AlertType      `json:"type"`
	Severity  string         `json:"severity"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Alerter evaluates a MetricsSnapshot against configured thresholds
// and sends alerts via webhook when thresholds are breached.
type Alerter struct {
	cfg    config.MonitoringConfig
	client *http.Client
}

// NewAlerter creates a new Alerter with the given monitoring config.
func NewAlerter(cfg config.MonitoringConfig) *Alerter {
	return &Alerter{
		cfg:    cfg,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

// Evaluate checks the snapshot against thresholds and returns any alerts.
func (a *Alerter) Evaluate(snap *MetricsSnapshot) []Alert {
	var alerts []Alert
	now := time.Now().UTC()

	if scored := snap.Scored(); scored >= minScoredForRate && a.cfg.FallbackRateThreshold > 0 &&
		snap.FallbackRate > a.cfg.FallbackRateThreshold {
		alerts = append(alerts, Alert{
			Type:     AlertFallbackRate,
			Severity: "high",
			Message: fmt.Sprintf(
				"Heuristic fallback scored %.1f%% of leads, threshold %.1f%% (%d of %d in last %dh)",
				snap.FallbackRate*100, a.cfg.FallbackRateThreshold*100,
				snap.LeadsHeuristic, scored, snap.LookbackHours,
			),
			Details: map[string]any{
				"fallback_rate": snap.FallbackRate,
				"threshold":     a.cfg.FallbackRateThreshold,
				"heuristic":     snap.LeadsHeuristic,
				"scored":        scored,
			},
			Timestamp: now,
		})
	}

	if a.cfg.RetryBacklogThreshold > 0 && snap.RetryBacklog > a.cfg.RetryBacklogThreshold {
		alerts = append(alerts, Alert{
			Type:     AlertRetryBacklog,
			Severity: "high",
			Message: fmt.Sprintf(
				"%d score writes waiting for retry, threshold %d",
				snap.RetryBacklog, a.cfg.RetryBacklogThreshold,
			),
			Details: map[string]any{
				"backlog":   snap.RetryBacklog,
				"threshold": a.cfg.RetryBacklogThreshold,
			},
			Timestamp: now,
		})
	}

	if a.cfg.MinLeads > 0 && snap.LeadsTotal < a.cfg.MinLeads {
		alerts = append(alerts, Alert{
			Type:     AlertLeadShortfall,
			Severity: "medium",
			Message: fmt.Sprintf(
				"Only %d leads received in last %dh, expected at least %d",
				snap.LeadsTotal, snap.LookbackHours, a.cfg.MinLeads,
			),
			Details: map[string]any{
				"leads_total": snap.LeadsTotal,
				"min_leads":   a.cfg.MinLeads,
			},
			Timestamp: now,
		})
	}

	return alerts
}

// SendAlerts delivers alerts to the configured webhook URL.
// Returns the number of alerts successfully sent.
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
