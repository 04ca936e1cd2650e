// Package ingest turns one inbound webhook event into a persisted lead:
// extract, normalize, dedup, persist with a placeholder score, notify, and
// score in a detached follow-up.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/lead-intake/internal/dedup"
	"github.com/sells-group/lead-intake/internal/extract"
	"github.com/sells-group/lead-intake/internal/model"
	"github.com/sells-group/lead-intake/internal/normalize"
	"github.com/sells-group/lead-intake/internal/resilience"
	"github.com/sells-group/lead-intake/internal/store"
)

// ErrInvalidRequest is returned for a request without a tenant or with an
// unknown source.
var ErrInvalidRequest = eris.New("ingest: invalid request")

// LeadScorer scores lead data. *scorer.Scorer satisfies it.
type LeadScorer interface {
	Score(ctx context.Context, leadData map[string]any, industry string) model.Score
	PlaceholderScore(industry string) int
}

// Request is one event to ingest on behalf of a tenant.
type Request struct {
	TenantID string
	Source   model.Source
	Event    extract.Event
}

// Options tunes a Service. Zero values use defaults.
type Options struct {
	// CountryCode is prepended to bare 10-digit phone numbers.
	CountryCode string
	// ScoreTimeout bounds one detached scoring run, including the write.
	ScoreTimeout time.Duration
	// WriteRetry controls retries of the score write.
	WriteRetry resilience.RetryConfig
	// MaxScoreRetries is copied onto dead-lettered score writes.
	MaxScoreRetries int
}

// Service orchestrates lead ingestion.
type Service struct {
	store    store.Store
	detector *dedup.Detector
	scorer   LeadScorer
	opts     Options

	wg  sync.WaitGroup
	now func() time.Time
}

// NewService wires a Service.
func NewService(st store.Store, sc LeadScorer, opts Options) *Service {
	if opts.CountryCode == "" {
		opts.CountryCode = normalize.DefaultCountryCode
	}
	if opts.ScoreTimeout <= 0 {
		opts.ScoreTimeout = time.Minute
	}
	if opts.WriteRetry.MaxAttempts <= 0 {
		opts.WriteRetry = resilience.DefaultRetryConfig()
	}
	if opts.WriteRetry.ShouldRetry == nil {
		opts.WriteRetry.ShouldRetry = func(err error) bool {
			return !errors.Is(err, store.ErrNotFound)
		}
	}
	if opts.WriteRetry.OnRetry == nil {
		opts.WriteRetry.OnRetry = resilience.RetryLogger("store", "update_lead_score")
	}
	if opts.MaxScoreRetries <= 0 {
		opts.MaxScoreRetries = 5
	}
	return &Service{
		store:    st,
		detector: dedup.NewDetector(st),
		scorer:   sc,
		opts:     opts,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Ingest runs one event through the pipeline. Duplicates are reported as
// OutcomeSkipped, not errors. Errors are persistence failures or an
// invalid request.
func (s *Service) Ingest(ctx context.Context, req Request) (*model.IngestResult, error) {
	if req.TenantID == "" || !req.Source.Valid() {
		return nil, eris.Wrapf(ErrInvalidRequest, "ingest: tenant %q source %q", req.TenantID, req.Source)
	}
	log := zap.L().With(
		zap.String("tenant_id", req.TenantID),
		zap.String("source", string(req.Source)),
		zap.String("platform_lead_id", req.Event.PlatformLeadID),
	)
	log.Debug("ingest: stage", zap.String("stage", string(model.StageReceived)))

	fields := extract.Extract(req.Event.Payload)
	phone := normalize.OptionalPhone(fields.Phone, s.opts.CountryCode)
	email := normalize.OptionalEmail(fields.Email)
	if fields.Phone != "" && phone == nil {
		log.Info("ingest: unparseable phone, storing lead without it", zap.String("raw_phone", fields.Phone))
	}
	log.Debug("ingest: stage", zap.String("stage", string(model.StageExtracted)))

	match, err := s.detector.Check(ctx, req.TenantID, phone, email)
	if err != nil {
		return nil, eris.Wrap(err, "ingest: duplicate check")
	}
	if match.Duplicate {
		log.Info("ingest: duplicate lead skipped", zap.String("existing_lead_id", match.LeadID))
		return skipped(match.LeadID), nil
	}
	log.Debug("ingest: stage", zap.String("stage", string(model.StageDedupChecked)))

	industry := s.industry(ctx, req.TenantID)
	now := s.now()
	lead := &model.Lead{
		TenantID:       req.TenantID,
		Source:         req.Source,
		PlatformLeadID: optional(req.Event.PlatformLeadID),
		Name:           fields.Name,
		Phone:          phone,
		Email:          email,
		LeadData:       fields.LeadData,
		QualityScore:   s.scorer.PlaceholderScore(industry),
		Intent:         model.IntentWarm,
		AIAnalysis:     &model.AIAnalysis{Method: model.ScoreMethodPlaceholder, ScoredAt: now},
		Status:         model.LeadStatusNew,
		ReceivedAt:     req.Event.ReceivedAt,
		CreatedAt:      now,
	}
	if lead.ReceivedAt.IsZero() {
		lead.ReceivedAt = now
	}

	if err := s.store.CreateLead(ctx, lead); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			// Lost a race with a concurrent delivery, or a redelivery of
			// the same platform lead id.
			existingID := s.existingLead(ctx, req, phone, email, log)
			log.Info("ingest: duplicate lead rejected by store", zap.String("existing_lead_id", existingID))
			return skipped(existingID), nil
		}
		return nil, eris.Wrap(err, "ingest: persist lead")
	}
	log = log.With(zap.String("lead_id", lead.ID))
	log.Info("ingest: lead created",
		zap.String("stage", string(model.StagePersisted)),
		zap.Int("placeholder_score", lead.QualityScore),
	)

	s.notify(ctx, lead, log)

	s.wg.Add(1)
	go s.scoreDetached(context.WithoutCancel(ctx), lead.ID, lead.TenantID, lead.LeadData, industry)

	return &model.IngestResult{Outcome: model.OutcomeCreated, LeadID: lead.ID, Stage: model.StageNotified}, nil
}

// Wait blocks until every detached scoring run has finished.
func (s *Service) Wait() {
	s.wg.Wait()
}

func (s *Service) industry(ctx context.Context, tenantID string) string {
	t, err := s.store.GetTenant(ctx, tenantID)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			zap.L().Warn("ingest: tenant lookup failed, using default industry",
				zap.String("tenant_id", tenantID), zap.Error(err))
		}
		return model.DefaultIndustry
	}
	if t.Industry == "" {
		return model.DefaultIndustry
	}
	return t.Industry
}

// notify inserts the new-lead notification. Failure is logged only.
func (s *Service) notify(ctx context.Context, lead *model.Lead, log *zap.Logger) {
	n := &model.Notification{
		TenantID: lead.TenantID,
		LeadID:   lead.ID,
		Type:     model.NotificationNewLead,
		Title:    "New lead: " + lead.Name,
		Message:  fmt.Sprintf("%s submitted a lead via %s", lead.Name, sourceLabel(lead.Source)),
	}
	if err := s.store.CreateNotification(ctx, n); err != nil {
		log.Warn("ingest: notification insert failed", zap.Error(err))
		return
	}
	log.Debug("ingest: stage", zap.String("stage", string(model.StageNotified)))
}

func (s *Service) scoreDetached(ctx context.Context, leadID, tenantID string, leadData map[string]any, industry string) {
	defer s.wg.Done()

	ctx, cancel := context.WithTimeout(ctx, s.opts.ScoreTimeout)
	defer cancel()

	log := zap.L().With(zap.String("lead_id", leadID), zap.String("tenant_id", tenantID))
	if err := s.applyScore(ctx, leadID, leadData, industry); err != nil {
		log.Error("ingest: score write failed, queued for retry", zap.Error(err))
		entry := resilience.ScoreRetry{
			LeadID:     leadID,
			TenantID:   tenantID,
			Error:      err.Error(),
			ErrorType:  resilience.ClassifyError(err),
			MaxRetries: s.opts.MaxScoreRetries,
		}
		entry.NextRetryAt = entry.NextAttempt(s.now())
		// The request context may be long gone; the timeout above may
		// have fired too.
		qctx, qcancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer qcancel()
		if qerr := s.store.EnqueueScoreRetry(qctx, entry); qerr != nil {
			log.Error("ingest: enqueue score retry failed", zap.Error(qerr))
		}
		return
	}
	log.Debug("ingest: stage", zap.String("stage", string(model.StageScored)))
}

// applyScore scores lead data and writes the result, retrying the write.
func (s *Service) applyScore(ctx context.Context, leadID string, leadData map[string]any, industry string) error {
	score := s.scorer.Score(ctx, leadData, industry)
	scoredAt := s.now()
	return resilience.Do(ctx, s.opts.WriteRetry, func(ctx context.Context) error {
		return s.store.UpdateLeadScore(ctx, leadID, score, scoredAt)
	})
}

// existingLead finds the lead that won a unique-index conflict, by contact
// first and then by platform lead id.
func (s *Service) existingLead(ctx context.Context, req Request, phone, email *string, log *zap.Logger) string {
	match, err := s.detector.Check(ctx, req.TenantID, phone, email)
	if err != nil {
		log.Warn("ingest: duplicate re-check by contact failed", zap.Error(err))
	} else if match.Duplicate {
		return match.LeadID
	}
	id, err := s.store.FindByPlatformLeadID(ctx, req.TenantID, req.Source, req.Event.PlatformLeadID)
	if err != nil {
		log.Warn("ingest: duplicate re-check by platform lead id failed", zap.Error(err))
	}
	return id
}

func skipped(leadID string) *model.IngestResult {
	return &model.IngestResult{Outcome: model.OutcomeSkipped, LeadID: leadID, Stage: model.StageSkipped}
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func sourceLabel(src model.Source) string {
	switch src {
	case model.SourceMetaAds:
		return "Meta Ads"
	case model.SourceGoogleAds:
		return "Google Ads"
	case model.SourceFacebookLeadAds:
		return "Facebook Lead Ads"
	case model.SourceManualEntry:
		return "manual entry"
	case model.SourceOutreachResponse:
		return "outreach response"
	}
	return string(src)
}
