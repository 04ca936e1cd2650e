package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/lead-intake/internal/db"
	"github.com/sells-group/lead-intake/internal/model"
	"github.com/sells-group/lead-intake/internal/resilience"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

const (
	pgInsertLead = `INSERT INTO leads
	(id, tenant_id, source, platform_lead_id, name, phone, email, lead_data, quality_score, intent, ai_analysis, status, received_at, created_at, updated_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`
	pgFindDuplicate = `SELECT id FROM leads WHERE tenant_id = $1 AND (phone = $2 OR email = $3) ORDER BY created_at ASC LIMIT 1`
	pgFindPlatform  = `SELECT id FROM leads WHERE tenant_id = $1 AND source = $2 AND platform_lead_id = $3`
	pgLeadColumns   = `id, tenant_id, source, platform_lead_id, name, phone, email, lead_data, quality_score, intent, ai_analysis, status, received_at, created_at, updated_at`
	pgGetLead       = `SELECT ` + pgLeadColumns + ` FROM leads WHERE id = $1`
	pgUpdateScore   = `UPDATE leads SET quality_score = $1, intent = $2, ai_analysis = $3, updated_at = $4 WHERE id = $5`
	pgUpdateStatus  = `UPDATE leads SET status = $1, updated_at = $2 WHERE id = $3 AND status = $4`
	pgGetTenant     = `SELECT id, name, industry FROM tenants WHERE id = $1`
	pgInsertNotif   = `INSERT INTO notifications (id, tenant_id, lead_id, type, title, message, created_at) VALUES ($1, $2, $3, $4, $5, $6, $7)`
)

// preparedStatements are prepared on each new connection under their own
// text, so plain Exec/Query calls with the same SQL reuse them.
var preparedStatements = []string{
	pgInsertLead,
	pgFindDuplicate,
	pgFindPlatform,
	pgGetLead,
	pgUpdateScore,
	pgGetTenant,
	pgInsertNotif,
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for _, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, sql, sql); err != nil {
				return eris.Wrap(err, "postgres: prepare statement")
			}
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

// NewPostgresFromPool wraps an existing pool. Close does not close it.
func NewPostgresFromPool(pool db.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS tenants (
	id         TEXT PRIMARY KEY,
	name       TEXT NOT NULL DEFAULT '',
	industry   TEXT NOT NULL DEFAULT 'general',
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS leads (
	id               TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	tenant_id        TEXT NOT NULL,
	source           TEXT NOT NULL,
	platform_lead_id TEXT,
	name             TEXT NOT NULL DEFAULT 'Unknown',
	phone            TEXT,
	email            TEXT,
	lead_data        JSONB NOT NULL DEFAULT '{}',
	quality_score    INTEGER NOT NULL DEFAULT 0 CHECK (quality_score BETWEEN 0 AND 100),
	intent           TEXT NOT NULL DEFAULT 'warm' CHECK (intent IN ('hot', 'warm', 'cold')),
	ai_analysis      JSONB,
	status           TEXT NOT NULL DEFAULT 'new',
	received_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
	created_at       TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at       TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE UNIQUE INDEX IF NOT EXISTS uq_leads_tenant_phone ON leads(tenant_id, phone) WHERE phone IS NOT NULL;
CREATE UNIQUE INDEX IF NOT EXISTS uq_leads_tenant_email ON leads(tenant_id, email) WHERE email IS NOT NULL;
CREATE UNIQUE INDEX IF NOT EXISTS uq_leads_tenant_platform ON leads(tenant_id, source, platform_lead_id) WHERE platform_lead_id IS NOT NULL;
CREATE INDEX IF NOT EXISTS idx_leads_tenant_created ON leads(tenant_id, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_leads_method ON leads((ai_analysis->>'method'));

CREATE TABLE IF NOT EXISTS notifications (
	id         TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	tenant_id  TEXT NOT NULL,
	lead_id    TEXT NOT NULL REFERENCES leads(id) ON DELETE CASCADE,
	type       TEXT NOT NULL,
	title      TEXT NOT NULL,
	message    TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_notifications_tenant ON notifications(tenant_id, created_at DESC);

CREATE TABLE IF NOT EXISTS score_retries (
	id             TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	lead_id        TEXT NOT NULL REFERENCES leads(id) ON DELETE CASCADE,
	tenant_id      TEXT NOT NULL,
	error          TEXT NOT NULL,
	error_type     TEXT NOT NULL DEFAULT 'transient',
	retry_count    INTEGER NOT NULL DEFAULT 0,
	max_retries    INTEGER NOT NULL DEFAULT 5,
	next_retry_at  TIMESTAMPTZ NOT NULL,
	created_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
	last_failed_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_score_retries_next ON score_retries(next_retry_at);
`

func (s *PostgresStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.pool.Ping(ctx), "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

// CreateLead inserts lead, filling ID, status and timestamps when unset.
// Uniqueness violations come back as ErrDuplicate.
func (s *PostgresStore) CreateLead(ctx context.Context, lead *model.Lead) error {
	prepareLead(lead)

	data, err := encodeLeadData(lead.LeadData)
	if err != nil {
		return eris.Wrap(err, "postgres: create lead")
	}
	analysis, err := encodeAnalysis(lead.AIAnalysis)
	if err != nil {
		return eris.Wrap(err, "postgres: create lead")
	}

	_, err = s.pool.Exec(ctx, pgInsertLead,
		lead.ID, lead.TenantID, string(lead.Source), lead.PlatformLeadID, lead.Name,
		lead.Phone, lead.Email, data, lead.QualityScore, string(lead.Intent), analysis,
		string(lead.Status), lead.ReceivedAt, lead.CreatedAt, lead.UpdatedAt,
	)
	if err != nil {
		if db.IsUniqueViolation(err) {
			zap.L().Debug("postgres: lead unique violation",
				zap.String("tenant_id", lead.TenantID),
				zap.String("constraint", db.ConstraintName(err)),
			)
			return ErrDuplicate
		}
		return eris.Wrapf(err, "postgres: insert lead for tenant %s", lead.TenantID)
	}
	return nil
}

func (s *PostgresStore) FindDuplicate(ctx context.Context, tenantID string, phone, email *string) (string, error) {
	if phone == nil && email == nil {
		return "", nil
	}
	var id string
	err := s.pool.QueryRow(ctx, pgFindDuplicate, tenantID, phone, email).Scan(&id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", nil
		}
		return "", eris.Wrapf(err, "postgres: find duplicate for tenant %s", tenantID)
	}
	return id, nil
}

// FindByPlatformLeadID returns the lead holding the platform's own id, or
// "" when there is none.
func (s *PostgresStore) FindByPlatformLeadID(ctx context.Context, tenantID string, source model.Source, platformLeadID string) (string, error) {
	if platformLeadID == "" {
		return "", nil
	}
	var id string
	err := s.pool.QueryRow(ctx, pgFindPlatform, tenantID, string(source), platformLeadID).Scan(&id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", nil
		}
		return "", eris.Wrapf(err, "postgres: find platform lead %s", platformLeadID)
	}
	return id, nil
}

func (s *PostgresStore) GetLead(ctx context.Context, leadID string) (*model.Lead, error) {
	lead, err := scanPgLead(s.pool.QueryRow(ctx, pgGetLead, leadID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, eris.Wrapf(err, "postgres: get lead %s", leadID)
	}
	return lead, nil
}

func (s *PostgresStore) ListLeads(ctx context.Context, filter LeadFilter) ([]model.Lead, error) {
	query := `SELECT ` + pgLeadColumns + ` FROM leads WHERE true`
	args := []any{}
	argIdx := 1

	add := func(clause string, v any) {
		query += fmt.Sprintf(clause, argIdx)
		args = append(args, v)
		argIdx++
	}
	if filter.TenantID != "" {
		add(` AND tenant_id = $%d`, filter.TenantID)
	}
	if filter.Status != "" {
		add(` AND status = $%d`, string(filter.Status))
	}
	if filter.Intent != "" {
		add(` AND intent = $%d`, string(filter.Intent))
	}
	if filter.Source != "" {
		add(` AND source = $%d`, string(filter.Source))
	}
	if filter.Method != "" {
		add(` AND ai_analysis->>'method' = $%d`, string(filter.Method))
	}
	query += ` ORDER BY created_at DESC`
	add(` LIMIT $%d`, filter.limit())
	if filter.Offset > 0 {
		add(` OFFSET $%d`, filter.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list leads")
	}
	defer rows.Close()

	var leads []model.Lead
	for rows.Next() {
		lead, err := scanPgLead(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan lead")
		}
		leads = append(leads, *lead)
	}
	return leads, eris.Wrap(rows.Err(), "postgres: list leads iterate")
}

func (s *PostgresStore) UpdateLeadScore(ctx context.Context, leadID string, score model.Score, scoredAt time.Time) error {
	a := score.Analysis(scoredAt)
	analysis, err := encodeAnalysis(&a)
	if err != nil {
		return eris.Wrap(err, "postgres: update lead score")
	}

	tag, err := s.pool.Exec(ctx, pgUpdateScore,
		model.ClampScore(score.QualityScore), string(score.Intent), analysis, time.Now().UTC(), leadID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update lead score %s", leadID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "postgres: lead %s", leadID)
	}
	return nil
}

// UpdateLeadStatus moves a lead from one status to another. It matches
// nothing, and returns ErrNotFound, when the lead is no longer in from.
func (s *PostgresStore) UpdateLeadStatus(ctx context.Context, leadID string, from, to model.LeadStatus) error {
	tag, err := s.pool.Exec(ctx, pgUpdateStatus, string(to), time.Now().UTC(), leadID, string(from))
	if err != nil {
		return eris.Wrapf(err, "postgres: update lead status %s", leadID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "postgres: lead %s in status %s", leadID, from)
	}
	return nil
}

func (s *PostgresStore) GetTenant(ctx context.Context, tenantID string) (*model.Tenant, error) {
	var t model.Tenant
	err := s.pool.QueryRow(ctx, pgGetTenant, tenantID).Scan(&t.ID, &t.Name, &t.Industry)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, eris.Wrapf(err, "postgres: get tenant %s", tenantID)
	}
	return &t, nil
}

func (s *PostgresStore) UpsertTenant(ctx context.Context, tenant model.Tenant) error {
	if tenant.Industry == "" {
		tenant.Industry = model.DefaultIndustry
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO tenants (id, name, industry) VALUES ($1, $2, $3)
		 ON CONFLICT (id) DO UPDATE SET name = $2, industry = $3`,
		tenant.ID, tenant.Name, tenant.Industry,
	)
	return eris.Wrapf(err, "postgres: upsert tenant %s", tenant.ID)
}

func (s *PostgresStore) CreateNotification(ctx context.Context, n *model.Notification) error {
	if n.ID == "" {
		n.ID = uuid.New().String()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx, pgInsertNotif,
		n.ID, n.TenantID, n.LeadID, string(n.Type), n.Title, n.Message, n.CreatedAt,
	)
	return eris.Wrapf(err, "postgres: insert notification for lead %s", n.LeadID)
}

func (s *PostgresStore) ListNotifications(ctx context.Context, tenantID string, limit int) ([]model.Notification, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, tenant_id, lead_id, type, title, message, created_at FROM notifications
		 WHERE tenant_id = $1 ORDER BY created_at DESC LIMIT $2`,
		tenantID, limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list notifications")
	}
	defer rows.Close()

	var out []model.Notification
	for rows.Next() {
		var n model.Notification
		if err := rows.Scan(&n.ID, &n.TenantID, &n.LeadID, &n.Type, &n.Title, &n.Message, &n.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan notification")
		}
		out = append(out, n)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list notifications iterate")
}

// Score retry queue

func (s *PostgresStore) EnqueueScoreRetry(ctx context.Context, e resilience.ScoreRetry) error {
	prepareRetry(&e)
	_, err := s.pool.Exec(ctx,
		`INSERT INTO score_retries
		 (id, lead_id, tenant_id, error, error_type, retry_count, max_retries, next_retry_at, created_at, last_failed_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		 ON CONFLICT (id) DO UPDATE SET
		   error = $4, error_type = $5, retry_count = $6, next_retry_at = $8, last_failed_at = $10`,
		e.ID, e.LeadID, e.TenantID, e.Error, e.ErrorType, e.RetryCount, e.MaxRetries,
		e.NextRetryAt, e.CreatedAt, e.LastFailedAt,
	)
	return eris.Wrapf(err, "postgres: enqueue score retry for lead %s", e.LeadID)
}

func (s *PostgresStore) DueScoreRetries(ctx context.Context, now time.Time, limit int) ([]resilience.ScoreRetry, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, lead_id, tenant_id, error, error_type, retry_count, max_retries, next_retry_at, created_at, last_failed_at
		 FROM score_retries
		 WHERE next_retry_at <= $1 AND retry_count < max_retries
		 ORDER BY next_retry_at ASC LIMIT $2`,
		now, limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: due score retries")
	}
	defer rows.Close()

	var entries []resilience.ScoreRetry
	for rows.Next() {
		var e resilience.ScoreRetry
		if err := rows.Scan(&e.ID, &e.LeadID, &e.TenantID, &e.Error, &e.ErrorType,
			&e.RetryCount, &e.MaxRetries, &e.NextRetryAt, &e.CreatedAt, &e.LastFailedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan score retry")
		}
		entries = append(entries, e)
	}
	return entries, eris.Wrap(rows.Err(), "postgres: due score retries iterate")
}

func (s *PostgresStore) IncrementScoreRetry(ctx context.Context, id string, nextRetryAt time.Time, lastErr string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE score_retries
		 SET retry_count = retry_count + 1, next_retry_at = $1, error = $2, last_failed_at = now()
		 WHERE id = $3`,
		nextRetryAt, lastErr, id,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: increment score retry %s", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "postgres: score retry %s", id)
	}
	return nil
}

func (s *PostgresStore) RemoveScoreRetry(ctx context.Context, id string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM score_retries WHERE id = $1`, id)
	return eris.Wrapf(err, "postgres: remove score retry %s", id)
}

func scanPgLead(row pgx.Row) (*model.Lead, error) {
	var l model.Lead
	var data, analysis []byte
	if err := row.Scan(&l.ID, &l.TenantID, &l.Source, &l.PlatformLeadID, &l.Name, &l.Phone, &l.Email,
		&data, &l.QualityScore, &l.Intent, &analysis, &l.Status, &l.ReceivedAt, &l.CreatedAt, &l.UpdatedAt); err != nil {
		return nil, err
	}
	var err error
	if l.LeadData, err = decodeLeadData(data); err != nil {
		return nil, err
	}
	if l.AIAnalysis, err = decodeAnalysis(analysis); err != nil {
		return nil, err
	}
	return &l, nil
}

// prepareLead fills server-side defaults before an insert.
func prepareLead(lead *model.Lead) {
	now := time.Now().UTC()
	if lead.ID == "" {
		lead.ID = uuid.New().String()
	}
	if lead.Status == "" {
		lead.Status = model.LeadStatusNew
	}
	if lead.Intent == "" {
		lead.Intent = model.IntentWarm
	}
	if lead.Name == "" {
		lead.Name = "Unknown"
	}
	lead.QualityScore = model.ClampScore(lead.QualityScore)
	if lead.ReceivedAt.IsZero() {
		lead.ReceivedAt = now
	}
	if lead.CreatedAt.IsZero() {
		lead.CreatedAt = now
	}
	lead.ReceivedAt = lead.ReceivedAt.UTC()
	lead.CreatedAt = lead.CreatedAt.UTC()
	lead.UpdatedAt = lead.CreatedAt
}

func prepareRetry(e *resilience.ScoreRetry) {
	now := time.Now().UTC()
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.ErrorType == "" {
		e.ErrorType = "transient"
	}
	if e.MaxRetries <= 0 {
		e.MaxRetries = 5
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = now
	}
	if e.LastFailedAt.IsZero() {
		e.LastFailedAt = now
	}
	if e.NextRetryAt.IsZero() {
		e.NextRetryAt = now
	}
}

// Metrics

func (s *PostgresStore) LeadStats(ctx context.Context, since time.Time) (*LeadStats, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT COALESCE(ai_analysis->>'method', ''), COUNT(*), COALESCE(SUM(quality_score), 0)
		 FROM leads WHERE created_at >= $1 GROUP BY 1`,
		since,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: lead stats")
	}
	defer rows.Close()

	stats := &LeadStats{ByMethod: make(map[model.ScoreMethod]int)}
	for rows.Next() {
		var (
			method   string
			count    int64
			scoreSum int64
		)
		if err := rows.Scan(&method, &count, &scoreSum); err != nil {
			return nil, eris.Wrap(err, "postgres: scan lead stats")
		}
		stats.add(model.ScoreMethod(method), int(count), int(scoreSum))
	}
	return stats, eris.Wrap(rows.Err(), "postgres: lead stats iterate")
}

func (s *PostgresStore) CountScoreRetries(ctx context.Context) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM score_retries WHERE retry_count < max_retries`).Scan(&n)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: count score retries")
	}
	return n, nil
}
