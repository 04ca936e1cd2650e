// Package monitoring watches scoring health and posts alerts to a webhook.
package monitoring

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/lead-intake/internal/model"
	"github.com/sells-group/lead-intake/internal/store"
)

// MetricsSnapshot holds a point-in-time view of intake health.
type MetricsSnapshot struct {
	// Leads created within the lookback window.
	LeadsTotal     int     `json:"leads_total"`
	LeadsAI        int     `json:"leads_ai"`
	LeadsHeuristic int     `json:"leads_heuristic"`
	LeadsPending   int     `json:"leads_pending"`
	FallbackRate   float64 `json:"fallback_rate"`
	AvgScore       float64 `json:"avg_score"`

	// Score writes waiting in the retry queue.
	RetryBacklog int `json:"retry_backlog"`

	LookbackHours int       `json:"lookback_hours"`
	CollectedAt   time.Time `json:"collected_at"`
}

// Scored is the number of leads that finished scoring either way.
func (s *MetricsSnapshot) Scored() int {
	return s.LeadsAI + s.LeadsHeuristic
}

// MetricsStore is the store subset the collector reads.
type MetricsStore interface {
	LeadStats(ctx context.Context, since time.Time) (*store.LeadStats, error)
	CountScoreRetries(ctx context.Context) (int, error)
}

// Collector gathers metrics from the store.
type Collector struct {
	store MetricsStore
	now   func() time.Time
}

// NewCollector creates a new metrics collector.
func NewCollector(st MetricsStore) *Collector {
	return &Collector{store: st, now: func() time.Time { return time.Now().UTC() }}
}

// Collect gathers a snapshot over the given lookback window.
func (c *Collector) Collect(ctx context.Context, lookbackHours int) (*MetricsSnapshot, error) {
	now := c.now()
	snap := &MetricsSnapshot{
		LookbackHours: lookbackHours,
		CollectedAt:   now,
	}

	stats, err := c.store.LeadStats(ctx, now.Add(-time.Duration(lookbackHours)*time.Hour))
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: lead stats")
	}
	snap.LeadsTotal = stats.Total
	snap.LeadsAI = stats.ByMethod[model.ScoreMethodAI]
	snap.LeadsHeuristic = stats.ByMethod[model.ScoreMethodHeuristic]
	snap.LeadsPending = stats.Total - snap.Scored()
	snap.AvgScore = stats.AvgScore
	if scored := snap.Scored(); scored > 0 {
		snap.FallbackRate = float64(snap.LeadsHeuristic) / float64(scored)
	}

	backlog, err := c.store.CountScoreRetries(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: count score retries")
	}
	snap.RetryBacklog = backlog

	return snap, nil
}
