package model

import (
	"time"

	"github.com/rotisserie/eris"
)

// Source identifies where a lead came from.
type Source string

const (
	SourceMetaAds          Source = "meta_ads"
	SourceGoogleAds        Source = "google_ads"
	SourceFacebookLeadAds  Source = "facebook_lead_ads"
	SourceManualEntry      Source = "manual_entry"
	SourceOutreachResponse Source = "outreach_response"
)

// Valid reports whether s is one of the known sources.
func (s Source) Valid() bool {
	switch s {
	case SourceMetaAds, SourceGoogleAds, SourceFacebookLeadAds, SourceManualEntry, SourceOutreachResponse:
		return true
	}
	return false
}

// Intent is the coarse likelihood-to-convert bucket.
type Intent string

const (
	IntentHot  Intent = "hot"
	IntentWarm Intent = "warm"
	IntentCold Intent = "cold"
)

// Valid reports whether i is hot, warm or cold.
func (i Intent) Valid() bool {
	return i == IntentHot || i == IntentWarm || i == IntentCold
}

// IntentFromScore buckets a 0-100 quality score.
func IntentFromScore(score int) Intent {
	switch {
	case score >= 75:
		return IntentHot
	case score >= 45:
		return IntentWarm
	default:
		return IntentCold
	}
}

// LeadStatus is the CRM lifecycle state of a lead.
type LeadStatus string

const (
	LeadStatusNew       LeadStatus = "new"
	LeadStatusContacted LeadStatus = "contacted"
	LeadStatusQualified LeadStatus = "qualified"
	LeadStatusWon       LeadStatus = "won"
	LeadStatusLost      LeadStatus = "lost"
)

// ErrInvalidTransition is returned when a status change is not allowed.
var ErrInvalidTransition = eris.New("invalid lead status transition")

var leadTransitions = map[LeadStatus][]LeadStatus{
	LeadStatusNew:       {LeadStatusContacted, LeadStatusLost},
	LeadStatusContacted: {LeadStatusQualified, LeadStatusLost},
	LeadStatusQualified: {LeadStatusWon, LeadStatusLost},
}

// Valid reports whether s is a known status.
func (s LeadStatus) Valid() bool {
	switch s {
	case LeadStatusNew, LeadStatusContacted, LeadStatusQualified, LeadStatusWon, LeadStatusLost:
		return true
	}
	return false
}

// Terminal reports whether no further transitions are possible.
func (s LeadStatus) Terminal() bool {
	return s == LeadStatusWon || s == LeadStatusLost
}

// CanTransition reports whether a lead in status s may move to next.
func (s LeadStatus) CanTransition(next LeadStatus) bool {
	for _, allowed := range leadTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// ScoreMethod records how a score was produced.
type ScoreMethod string

const (
	ScoreMethodPlaceholder ScoreMethod = "placeholder"
	ScoreMethodAI          ScoreMethod = "ai"
	ScoreMethodHeuristic   ScoreMethod = "heuristic"
)

// FallbackReasoning marks scores produced without the AI provider.
const FallbackReasoning = "Basic scoring used (AI unavailable)"

// AIAnalysis is the explanation attached to a lead's score.
type AIAnalysis struct {
	Reasoning       string      `json:"reasoning"`
	Insights        []string    `json:"insights"`
	Recommendations []string    `json:"recommendations"`
	Method          ScoreMethod `json:"method"`
	ScoredAt        time.Time   `json:"scored_at"`
}

// Score is the output of the lead scorer.
type Score struct {
	QualityScore    int         `json:"quality_score" validate:"min=0,max=100"`
	Intent          Intent      `json:"intent" validate:"oneof=hot warm cold"`
	Reasoning       string      `json:"reasoning"`
	Insights        []string    `json:"insights"`
	Recommendations []string    `json:"recommendations"`
	Method          ScoreMethod `json:"method"`
}

// Analysis converts the score into the persisted analysis block.
func (s Score) Analysis(scoredAt time.Time) AIAnalysis {
	return AIAnalysis{
		Reasoning:       s.Reasoning,
		Insights:        s.Insights,
		Recommendations: s.Recommendations,
		Method:          s.Method,
		ScoredAt:        scoredAt,
	}
}

// ClampScore bounds v to [0, 100].
func ClampScore(v int) int {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}

// Lead is the canonical record produced by ingestion.
type Lead struct {
	ID             string         `json:"id"`
	TenantID       string         `json:"tenant_id"`
	Source         Source         `json:"source"`
	PlatformLeadID *string        `json:"platform_lead_id,omitempty"`
	Name           string         `json:"name"`
	Phone          *string        `json:"phone"`
	Email          *string        `json:"email"`
	LeadData       map[string]any `json:"lead_data"`
	QualityScore   int            `json:"quality_score"`
	Intent         Intent         `json:"intent"`
	AIAnalysis     *AIAnalysis    `json:"ai_analysis,omitempty"`
	Status         LeadStatus     `json:"status"`
	ReceivedAt     time.Time      `json:"received_at"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

// Tenant is an agency client that owns leads.
type Tenant struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Industry string `json:"industry"`
}

// DefaultIndustry is used when a tenant has no industry on record.
const DefaultIndustry = "general"
