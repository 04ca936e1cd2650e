package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/lead-intake/internal/model"
	"github.com/sells-group/lead-intake/internal/resilience"
)

// newMockPostgresStore creates a PostgresStore backed by pgxmock for unit testing.
func newMockPostgresStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { mock.Close() })

	return NewPostgresFromPool(mock), mock
}

func anyArgs(n int) []any {
	args := make([]any, n)
	for i := range args {
		args[i] = pgxmock.AnyArg()
	}
	return args
}

func TestPostgresStore_CreateLead(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`INSERT INTO leads`).
		WithArgs(anyArgs(15)...).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	lead := newLead("t1", "+919876543210", "asha@example.com")
	require.NoError(t, s.CreateLead(context.Background(), lead))
	assert.NotEmpty(t, lead.ID)
	assert.Equal(t, model.LeadStatusNew, lead.Status)
	assert.False(t, lead.CreatedAt.IsZero())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_CreateLead_UniqueViolation(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`INSERT INTO leads`).
		WithArgs(anyArgs(15)...).
		WillReturnError(&pgconn.PgError{Code: "23505", ConstraintName: "uq_leads_tenant_phone"})

	err := s.CreateLead(context.Background(), newLead("t1", "+919876543210", ""))
	assert.ErrorIs(t, err, ErrDuplicate)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_CreateLead_OtherError(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`INSERT INTO leads`).
		WithArgs(anyArgs(15)...).
		WillReturnError(errors.New("connection refused"))

	err := s.CreateLead(context.Background(), newLead("t1", "+919876543210", ""))
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrDuplicate)
	assert.Contains(t, err.Error(), "insert lead")
}

func TestPostgresStore_FindDuplicate(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT id FROM leads WHERE tenant_id = \$1 AND \(phone = \$2 OR email = \$3\)`).
		WithArgs("t1", pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow("lead-1"))

	id, err := s.FindDuplicate(context.Background(), "t1", strPtr("+919876543210"), nil)
	require.NoError(t, err)
	assert.Equal(t, "lead-1", id)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_FindDuplicate_NoRows(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT id FROM leads`).
		WithArgs("t1", pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnError(pgx.ErrNoRows)

	id, err := s.FindDuplicate(context.Background(), "t1", nil, strPtr("a@b.co"))
	require.NoError(t, err)
	assert.Empty(t, id)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_FindDuplicate_NoIdentifiers(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	id, err := s.FindDuplicate(context.Background(), "t1", nil, nil)
	require.NoError(t, err)
	assert.Empty(t, id)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_FindByPlatformLeadID(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT id FROM leads WHERE tenant_id = \$1 AND source = \$2 AND platform_lead_id = \$3`).
		WithArgs("t1", "meta_ads", "lg-9").
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow("lead-9"))

	id, err := s.FindByPlatformLeadID(context.Background(), "t1", model.SourceMetaAds, "lg-9")
	require.NoError(t, err)
	assert.Equal(t, "lead-9", id)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_FindByPlatformLeadID_NoRows(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT id FROM leads WHERE tenant_id = \$1 AND source = \$2`).
		WithArgs("t1", "google_ads", "gl-1").
		WillReturnError(pgx.ErrNoRows)

	id, err := s.FindByPlatformLeadID(context.Background(), "t1", model.SourceGoogleAds, "gl-1")
	require.NoError(t, err)
	assert.Empty(t, id)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetLead(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	now := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	phone := "+919876543210"

	rows := pgxmock.NewRows([]string{
		"id", "tenant_id", "source", "platform_lead_id", "name", "phone", "email", "lead_data",
		"quality_score", "intent", "ai_analysis", "status", "received_at", "created_at", "updated_at",
	}).AddRow(
		"lead-1", "t1", model.SourceMetaAds, nil, "Asha Rao", &phone, nil, []byte(`{"budget":"50L"}`),
		72, model.IntentWarm, []byte(`{"method":"heuristic","reasoning":"Basic scoring used (AI unavailable)"}`),
		model.LeadStatusNew, now, now, now,
	)
	mock.ExpectQuery(`SELECT .+ FROM leads WHERE id = \$1`).
		WithArgs("lead-1").
		WillReturnRows(rows)

	lead, err := s.GetLead(context.Background(), "lead-1")
	require.NoError(t, err)
	assert.Equal(t, model.SourceMetaAds, lead.Source)
	require.NotNil(t, lead.Phone)
	assert.Equal(t, phone, *lead.Phone)
	assert.Nil(t, lead.Email)
	assert.Equal(t, "50L", lead.LeadData["budget"])
	require.NotNil(t, lead.AIAnalysis)
	assert.Equal(t, model.ScoreMethodHeuristic, lead.AIAnalysis.Method)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetLead_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT .+ FROM leads WHERE id = \$1`).
		WithArgs("missing").
		WillReturnError(pgx.ErrNoRows)

	_, err := s.GetLead(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ListLeads_BuildsFilters(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`WHERE true AND tenant_id = \$1 AND intent = \$2 AND ai_analysis->>'method' = \$3 ORDER BY created_at DESC LIMIT \$4 OFFSET \$5`).
		WithArgs("t1", "hot", "heuristic", 10, 20).
		WillReturnRows(pgxmock.NewRows([]string{"id"}))

	leads, err := s.ListLeads(context.Background(), LeadFilter{
		TenantID: "t1", Intent: model.IntentHot, Method: model.ScoreMethodHeuristic, Limit: 10, Offset: 20,
	})
	require.NoError(t, err)
	assert.Empty(t, leads)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ListLeads_ClampsLimit(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`LIMIT \$1`).
		WithArgs(maxListLimit).
		WillReturnRows(pgxmock.NewRows([]string{"id"}))

	_, err := s.ListLeads(context.Background(), LeadFilter{Limit: 10_000})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpdateLeadScore(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`UPDATE leads SET quality_score = \$1, intent = \$2, ai_analysis = \$3`).
		WithArgs(100, "hot", pgxmock.AnyArg(), pgxmock.AnyArg(), "lead-1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	err := s.UpdateLeadScore(context.Background(), "lead-1", model.Score{
		QualityScore: 130, Intent: model.IntentHot, Method: model.ScoreMethodAI,
	}, time.Now())
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpdateLeadScore_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`UPDATE leads SET quality_score`).
		WithArgs(anyArgs(5)...).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := s.UpdateLeadScore(context.Background(), "missing", model.Score{Intent: model.IntentWarm}, time.Now())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPostgresStore_UpdateLeadStatus(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`UPDATE leads SET status = \$1, updated_at = \$2 WHERE id = \$3 AND status = \$4`).
		WithArgs("contacted", pgxmock.AnyArg(), "lead-1", "new").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	require.NoError(t, s.UpdateLeadStatus(context.Background(), "lead-1", model.LeadStatusNew, model.LeadStatusContacted))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetTenant_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT id, name, industry FROM tenants`).
		WithArgs("ghost").
		WillReturnError(pgx.ErrNoRows)

	_, err := s.GetTenant(context.Background(), "ghost")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPostgresStore_UpsertTenant_DefaultsIndustry(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`INSERT INTO tenants .+ ON CONFLICT`).
		WithArgs("acme", "Acme", model.DefaultIndustry).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, s.UpsertTenant(context.Background(), model.Tenant{ID: "acme", Name: "Acme"}))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_CreateNotification(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`INSERT INTO notifications`).
		WithArgs(pgxmock.AnyArg(), "t1", "lead-1", "new_lead", "New lead", "msg", pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	n := &model.Notification{TenantID: "t1", LeadID: "lead-1", Type: model.NotificationNewLead, Title: "New lead", Message: "msg"}
	require.NoError(t, s.CreateNotification(context.Background(), n))
	assert.NotEmpty(t, n.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_EnqueueScoreRetry(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`INSERT INTO score_retries`).
		WithArgs(pgxmock.AnyArg(), "lead-1", "t1", "timeout", "transient", 0, 5,
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err := s.EnqueueScoreRetry(context.Background(), resilience.ScoreRetry{LeadID: "lead-1", TenantID: "t1", Error: "timeout"})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_DueScoreRetries(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	now := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

	rows := pgxmock.NewRows([]string{
		"id", "lead_id", "tenant_id", "error", "error_type", "retry_count", "max_retries",
		"next_retry_at", "created_at", "last_failed_at",
	}).AddRow("r1", "lead-1", "t1", "timeout", "transient", 1, 5, now, now, now)

	mock.ExpectQuery(`FROM score_retries\s+WHERE next_retry_at <= \$1`).
		WithArgs(now, 100).
		WillReturnRows(rows)

	entries, err := s.DueScoreRetries(context.Background(), now, 0)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "lead-1", entries[0].LeadID)
	assert.Equal(t, 1, entries[0].RetryCount)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_IncrementScoreRetry_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`UPDATE score_retries`).
		WithArgs(pgxmock.AnyArg(), "boom", "r-missing").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := s.IncrementScoreRetry(context.Background(), "r-missing", time.Now(), "boom")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPostgresStore_MigratePingClose(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS leads`).WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectPing()

	require.NoError(t, s.Migrate(context.Background()))
	require.NoError(t, s.Ping(context.Background()))
	assert.NoError(t, s.Close())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_LeadStats(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	since := time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC)

	mock.ExpectQuery(`SELECT COALESCE\(ai_analysis->>'method', ''\), COUNT\(\*\)`).
		WithArgs(since).
		WillReturnRows(pgxmock.NewRows([]string{"method", "count", "score_sum"}).
			AddRow("ai", int64(3), int64(240)).
			AddRow("heuristic", int64(1), int64(60)))

	stats, err := s.LeadStats(context.Background(), since)
	require.NoError(t, err)
	assert.Equal(t, 4, stats.Total)
	assert.Equal(t, 3, stats.ByMethod[model.ScoreMethodAI])
	assert.Equal(t, 1, stats.ByMethod[model.ScoreMethodHeuristic])
	assert.InDelta(t, 75.0, stats.AvgScore, 0.001)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_CountScoreRetries(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM score_retries`).
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(7))

	n, err := s.CountScoreRetries(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 7, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}
