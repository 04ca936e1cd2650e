package model

import "time"

// IngestStage is a step of the per-event ingest state machine.
type IngestStage string

const (
	StageReceived     IngestStage = "received"
	StageExtracted    IngestStage = "extracted"
	StageDedupChecked IngestStage = "dedup_checked"
	StagePersisted    IngestStage = "persisted"
	StageScored       IngestStage = "scored"
	StageNotified     IngestStage = "notified"
	StageSkipped      IngestStage = "skipped"
)

// IngestOutcome is the terminal result of an ingest.
type IngestOutcome string

const (
	OutcomeCreated IngestOutcome = "created"
	OutcomeSkipped IngestOutcome = "skipped"
)

// IngestResult reports what happened to one inbound event. For skipped
// events LeadID is the existing lead that matched.
type IngestResult struct {
	Outcome IngestOutcome `json:"outcome"`
	LeadID  string        `json:"lead_id"`
	Stage   IngestStage   `json:"stage"`
}

// Created reports whether a new lead row was written.
func (r IngestResult) Created() bool {
	return r.Outcome == OutcomeCreated
}

// NotificationType classifies a notification row.
type NotificationType string

const NotificationNewLead NotificationType = "new_lead"

// Notification is a row in the downstream notifications queue.
type Notification struct {
	ID        string           `json:"id"`
	TenantID  string           `json:"tenant_id"`
	LeadID    string           `json:"lead_id"`
	Type      NotificationType `json:"type"`
	Title     string           `json:"title"`
	Message   string           `json:"message"`
	CreatedAt time.Time        `json:"created_at"`
}
