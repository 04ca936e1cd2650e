package ingest

import (
	"context"
	"errors"
	"sync/atomic"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/lead-intake/internal/model"
	"github.com/sells-group/lead-intake/internal/store"
)

// RescoreReport summarizes a batch rescore run.
type RescoreReport struct {
	Attempted int64 `json:"attempted"`
	Succeeded int64 `json:"succeeded"`
	Failed    int64 `json:"failed"`
	Dropped   int64 `json:"dropped"`
}

// Rescore scores a stored lead again and writes the result.
func (s *Service) Rescore(ctx context.Context, leadID string) error {
	lead, err := s.store.GetLead(ctx, leadID)
	if err != nil {
		return eris.Wrapf(err, "ingest: rescore load lead %s", leadID)
	}
	industry := s.industry(ctx, lead.TenantID)
	if err := s.applyScore(ctx, lead.ID, lead.LeadData, industry); err != nil {
		return eris.Wrapf(err, "ingest: rescore lead %s", leadID)
	}
	return nil
}

// DrainRetries rescores leads whose detached score write failed. Entries
// are removed on success or when the lead no longer exists, and pushed
// back with a longer delay otherwise.
func (s *Service) DrainRetries(ctx context.Context, limit, concurrency int) (RescoreReport, error) {
	var report RescoreReport

	entries, err := s.store.DueScoreRetries(ctx, s.now(), limit)
	if err != nil {
		return report, eris.Wrap(err, "ingest: load due score retries")
	}
	if len(entries) == 0 {
		return report, nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers(concurrency))

	for _, entry := range entries {
		g.Go(func() error {
			atomic.AddInt64(&report.Attempted, 1)
			log := zap.L().With(zap.String("lead_id", entry.LeadID), zap.String("retry_id", entry.ID))

			rerr := s.Rescore(gctx, entry.LeadID)
			switch {
			case rerr == nil:
				atomic.AddInt64(&report.Succeeded, 1)
				if err := s.store.RemoveScoreRetry(gctx, entry.ID); err != nil {
					log.Warn("ingest: remove score retry failed", zap.Error(err))
				}
			case errors.Is(rerr, store.ErrNotFound):
				atomic.AddInt64(&report.Dropped, 1)
				log.Info("ingest: lead gone, dropping score retry")
				if err := s.store.RemoveScoreRetry(gctx, entry.ID); err != nil {
					log.Warn("ingest: remove score retry failed", zap.Error(err))
				}
			default:
				atomic.AddInt64(&report.Failed, 1)
				entry.RetryCount++
				next := entry.NextAttempt(s.now())
				if err := s.store.IncrementScoreRetry(gctx, entry.ID, next, rerr.Error()); err != nil {
					log.Warn("ingest: reschedule score retry failed", zap.Error(err))
				}
				log.Warn("ingest: rescore failed",
					zap.Error(rerr),
					zap.Int("retry_count", entry.RetryCount),
					zap.Bool("exhausted", !entry.CanRetry()),
				)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return report, err
	}

	zap.L().Info("ingest: score retries drained",
		zap.Int64("attempted", report.Attempted),
		zap.Int64("succeeded", report.Succeeded),
		zap.Int64("failed", report.Failed),
		zap.Int64("dropped", report.Dropped),
	)
	return report, ctx.Err()
}

// RescoreFallbacks rescores leads that were last scored by the heuristic,
// e.g. after an AI provider outage.
func (s *Service) RescoreFallbacks(ctx context.Context, tenantID string, limit, concurrency int) (RescoreReport, error) {
	var report RescoreReport

	leads, err := s.store.ListLeads(ctx, store.LeadFilter{
		TenantID: tenantID,
		Method:   model.ScoreMethodHeuristic,
		Limit:    limit,
	})
	if err != nil {
		return report, eris.Wrap(err, "ingest: list fallback-scored leads")
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers(concurrency))
	for _, lead := range leads {
		g.Go(func() error {
			atomic.AddInt64(&report.Attempted, 1)
			if err := s.Rescore(gctx, lead.ID); err != nil {
				atomic.AddInt64(&report.Failed, 1)
				zap.L().Warn("ingest: rescore fallback lead failed",
					zap.String("lead_id", lead.ID), zap.Error(err))
				return nil
			}
			atomic.AddInt64(&report.Succeeded, 1)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return report, err
	}
	return report, ctx.Err()
}

func workers(n int) int {
	if n <= 0 {
		return 4
	}
	return n
}
