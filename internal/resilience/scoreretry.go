package resilience

import "time"

// ScoreRetry is a dead-letter entry for a lead whose detached score write
// failed. The rescore command drains these.
type ScoreRetry struct {
	ID           string    `json:"id"`
	LeadID       string    `json:"lead_id"`
	TenantID     string    `json:"tenant_id"`
	Error        string    `json:"error"`
	ErrorType    string    `json:"error_type"` // "transient" or "permanent"
	RetryCount   int       `json:"retry_count"`
	MaxRetries   int       `json:"max_retries"`
	NextRetryAt  time.Time `json:"next_retry_at"`
	CreatedAt    time.Time `json:"created_at"`
	LastFailedAt time.Time `json:"last_failed_at"`
}

// CanRetry reports whether the entry has attempts left.
func (e *ScoreRetry) CanRetry() bool {
	return e.RetryCount < e.MaxRetries
}

// NextAttempt returns when the entry should be tried again after its
// current retry count, backing off from one minute up to six hours.
func (e *ScoreRetry) NextAttempt(now time.Time) time.Time {
	return now.Add(Backoff(e.RetryCount, RetryConfig{
		InitialBackoff: time.Minute,
		MaxBackoff:     6 * time.Hour,
		Multiplier:     4,
	}))
}

// ClassifyError categorizes an error as "transient" or "permanent".
func ClassifyError(err error) string {
	if IsTransient(err) {
		return "transient"
	}
	return "permanent"
}
