// Package store persists leads, tenants, notifications and score retries.
package store

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/lead-intake/internal/model"
	"github.com/sells-group/lead-intake/internal/resilience"
)

var (
	// ErrDuplicate is returned when an insert hits one of the lead
	// uniqueness constraints: (tenant, phone), (tenant, email) or
	// (tenant, source, platform_lead_id).
	ErrDuplicate = eris.New("store: duplicate lead")

	// ErrNotFound is returned when a row does not exist or a conditional
	// update matched nothing.
	ErrNotFound = eris.New("store: not found")
)

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

// LeadFilter specifies criteria for listing leads. Empty fields match all.
type LeadFilter struct {
	TenantID string            `json:"tenant_id,omitempty"`
	Status   model.LeadStatus  `json:"status,omitempty"`
	Intent   model.Intent      `json:"intent,omitempty"`
	Source   model.Source      `json:"source,omitempty"`
	Method   model.ScoreMethod `json:"method,omitempty"`
	Limit    int               `json:"limit,omitempty"`
	Offset   int               `json:"offset,omitempty"`
}

func (f LeadFilter) limit() int {
	switch {
	case f.Limit <= 0:
		return defaultListLimit
	case f.Limit > maxListLimit:
		return maxListLimit
	}
	return f.Limit
}

// LeadStats aggregates leads created since a cutoff, keyed by the method
// that produced their current score.
type LeadStats struct {
	Total    int                       `json:"total"`
	ByMethod map[model.ScoreMethod]int `json:"by_method"`
	AvgScore float64                   `json:"avg_score"`
}

func (st *LeadStats) add(method model.ScoreMethod, count, scoreSum int) {
	if st.ByMethod == nil {
		st.ByMethod = make(map[model.ScoreMethod]int)
	}
	st.ByMethod[method] += count
	total := st.Total + count
	if total > 0 {
		st.AvgScore = (st.AvgScore*float64(st.Total) + float64(scoreSum)) / float64(total)
	}
	st.Total = total
}

// Store defines the persistence interface for lead intake.
type Store interface {
	// Leads
	CreateLead(ctx context.Context, lead *model.Lead) error
	FindDuplicate(ctx context.Context, tenantID string, phone, email *string) (string, error)
	FindByPlatformLeadID(ctx context.Context, tenantID string, source model.Source, platformLeadID string) (string, error)
	GetLead(ctx context.Context, leadID string) (*model.Lead, error)
	ListLeads(ctx context.Context, filter LeadFilter) ([]model.Lead, error)
	UpdateLeadScore(ctx context.Context, leadID string, score model.Score, scoredAt time.Time) error
	UpdateLeadStatus(ctx context.Context, leadID string, from, to model.LeadStatus) error

	// Tenants
	GetTenant(ctx context.Context, tenantID string) (*model.Tenant, error)
	UpsertTenant(ctx context.Context, tenant model.Tenant) error

	// Notifications
	CreateNotification(ctx context.Context, n *model.Notification) error
	ListNotifications(ctx context.Context, tenantID string, limit int) ([]model.Notification, error)

	// Score retries
	EnqueueScoreRetry(ctx context.Context, entry resilience.ScoreRetry) error
	DueScoreRetries(ctx context.Context, now time.Time, limit int) ([]resilience.ScoreRetry, error)
	IncrementScoreRetry(ctx context.Context, id string, nextRetryAt time.Time, lastErr string) error
	RemoveScoreRetry(ctx context.Context, id string) error

	// Metrics
	LeadStats(ctx context.Context, since time.Time) (*LeadStats, error)
	CountScoreRetries(ctx context.Context) (int, error)

	// Lifecycle
	Ping(ctx context.Context) error
	Migrate(ctx context.Context) error
	Close() error
}
