package ingest

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/lead-intake/internal/model"
	"github.com/sells-group/lead-intake/internal/resilience"
)

func TestRescore(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	sc := &stubScorer{score: aiScore(50)}
	svc := newTestService(t, st, sc)

	res, err := svc.Ingest(ctx, Request{TenantID: "tenant-1", Source: model.SourceMetaAds, Event: metaEvent("", "Asha", "9876543210", "")})
	require.NoError(t, err)
	svc.Wait()

	sc.setScore(aiScore(91))
	require.NoError(t, svc.Rescore(ctx, res.LeadID))

	lead, err := st.GetLead(ctx, res.LeadID)
	require.NoError(t, err)
	assert.Equal(t, 91, lead.QualityScore)
	assert.Equal(t, model.IntentHot, lead.Intent)

	err = svc.Rescore(ctx, "missing")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ingest: rescore load lead missing")
}

func TestDrainRetriesFailureReschedules(t *testing.T) {
	ctx := context.Background()
	base := newTestStore(t)
	st := &flakyStore{Store: base}
	st.failScore.Store(true)
	svc := newTestService(t, st, &stubScorer{score: aiScore(70)})

	res, err := svc.Ingest(ctx, Request{TenantID: "tenant-1", Source: model.SourceMetaAds, Event: metaEvent("", "Asha", "9876543210", "")})
	require.NoError(t, err)
	svc.Wait()

	later := time.Now().UTC().Add(time.Hour)
	svc.now = func() time.Time { return later }
	report, err := svc.DrainRetries(ctx, 10, 1)
	require.NoError(t, err)
	assert.Equal(t, RescoreReport{Attempted: 1, Failed: 1}, report)

	// Second failure pushes the entry out by roughly four minutes.
	due, err := base.DueScoreRetries(ctx, later, 10)
	require.NoError(t, err)
	assert.Empty(t, due)

	due, err = base.DueScoreRetries(ctx, later.Add(10*time.Minute), 10)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, res.LeadID, due[0].LeadID)
	assert.Equal(t, 1, due[0].RetryCount)
}

func TestDrainRetriesDropsMissingLead(t *testing.T) {
	ctx := context.Background()
	base := newTestStore(t)
	svc0 := newTestService(t, base, &stubScorer{score: aiScore(70)})
	res, err := svc0.Ingest(ctx, Request{TenantID: "tenant-1", Source: model.SourceMetaAds, Event: metaEvent("", "Asha", "9876543210", "")})
	require.NoError(t, err)
	svc0.Wait()

	require.NoError(t, base.EnqueueScoreRetry(ctx, resilience.ScoreRetry{
		LeadID:      res.LeadID,
		TenantID:    "tenant-1",
		Error:       "timeout",
		NextRetryAt: time.Now().UTC().Add(-time.Minute),
	}))

	st := &flakyStore{Store: base, missing: map[string]bool{res.LeadID: true}}
	svc := newTestService(t, st, &stubScorer{score: aiScore(70)})

	report, err := svc.DrainRetries(ctx, 10, 4)
	require.NoError(t, err)
	assert.Equal(t, RescoreReport{Attempted: 1, Dropped: 1}, report)

	due, err := base.DueScoreRetries(ctx, time.Now().UTC().Add(time.Hour), 10)
	require.NoError(t, err)
	assert.Empty(t, due)
}

func TestDrainRetriesEmpty(t *testing.T) {
	svc := newTestService(t, newTestStore(t), &stubScorer{})
	report, err := svc.DrainRetries(context.Background(), 10, 2)
	require.NoError(t, err)
	assert.Zero(t, report)
}

func TestRescoreFallbacks(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	heuristic := model.Score{QualityScore: 65, Intent: model.IntentWarm, Reasoning: model.FallbackReasoning, Method: model.ScoreMethodHeuristic}
	sc := &stubScorer{score: heuristic}
	svc := newTestService(t, st, sc)

	a, err := svc.Ingest(ctx, Request{TenantID: "tenant-1", Source: model.SourceMetaAds, Event: metaEvent("", "Asha", "9876543210", "")})
	require.NoError(t, err)
	b, err := svc.Ingest(ctx, Request{TenantID: "tenant-1", Source: model.SourceMetaAds, Event: metaEvent("", "Ravi", "9123456780", "")})
	require.NoError(t, err)
	svc.Wait()

	sc.setScore(aiScore(80))
	report, err := svc.RescoreFallbacks(ctx, "tenant-1", 10, 2)
	require.NoError(t, err)
	assert.Equal(t, RescoreReport{Attempted: 2, Succeeded: 2}, report)

	for _, id := range []string{a.LeadID, b.LeadID} {
		lead, err := st.GetLead(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, 80, lead.QualityScore)
		assert.Equal(t, model.ScoreMethodAI, lead.AIAnalysis.Method)
	}

	report, err = svc.RescoreFallbacks(ctx, "tenant-1", 10, 2)
	require.NoError(t, err)
	assert.Zero(t, report.Attempted)
}
