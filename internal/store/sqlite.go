package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/sells-group/lead-intake/internal/db"
	"github.com/sells-group/lead-intake/internal/model"
	"github.com/sells-group/lead-intake/internal/resilience"
)

// SQLiteStore implements Store using modernc.org/sqlite. It backs local
// development and the end-to-end tests.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	// One writer keeps concurrent webhook inserts from tripping SQLITE_BUSY.
	sqlDB.SetMaxOpenConns(1)
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := sqlDB.Exec(pragma); err != nil {
			sqlDB.Close() //nolint:errcheck
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: sqlDB}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS tenants (
	id         TEXT PRIMARY KEY,
	name       TEXT NOT NULL DEFAULT '',
	industry   TEXT NOT NULL DEFAULT 'general',
	created_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS leads (
	id               TEXT PRIMARY KEY,
	tenant_id        TEXT NOT NULL,
	source           TEXT NOT NULL,
	platform_lead_id TEXT,
	name             TEXT NOT NULL DEFAULT 'Unknown',
	phone            TEXT,
	email            TEXT,
	lead_data        TEXT NOT NULL DEFAULT '{}',
	quality_score    INTEGER NOT NULL DEFAULT 0 CHECK (quality_score BETWEEN 0 AND 100),
	intent           TEXT NOT NULL DEFAULT 'warm' CHECK (intent IN ('hot', 'warm', 'cold')),
	ai_analysis      TEXT,
	status           TEXT NOT NULL DEFAULT 'new',
	received_at      DATETIME NOT NULL,
	created_at       DATETIME NOT NULL,
	updated_at       DATETIME NOT NULL
);

CREATE UNIQUE INDEX IF NOT EXISTS uq_leads_tenant_phone ON leads(tenant_id, phone) WHERE phone IS NOT NULL;
CREATE UNIQUE INDEX IF NOT EXISTS uq_leads_tenant_email ON leads(tenant_id, email) WHERE email IS NOT NULL;
CREATE UNIQUE INDEX IF NOT EXISTS uq_leads_tenant_platform ON leads(tenant_id, source, platform_lead_id) WHERE platform_lead_id IS NOT NULL;
CREATE INDEX IF NOT EXISTS idx_leads_tenant_created ON leads(tenant_id, created_at);

CREATE TABLE IF NOT EXISTS notifications (
	id         TEXT PRIMARY KEY,
	tenant_id  TEXT NOT NULL,
	lead_id    TEXT NOT NULL REFERENCES leads(id) ON DELETE CASCADE,
	type       TEXT NOT NULL,
	title      TEXT NOT NULL,
	message    TEXT NOT NULL,
	created_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_notifications_tenant ON notifications(tenant_id, created_at);

CREATE TABLE IF NOT EXISTS score_retries (
	id             TEXT PRIMARY KEY,
	lead_id        TEXT NOT NULL REFERENCES leads(id) ON DELETE CASCADE,
	tenant_id      TEXT NOT NULL,
	error          TEXT NOT NULL,
	error_type     TEXT NOT NULL DEFAULT 'transient',
	retry_count    INTEGER NOT NULL DEFAULT 0,
	max_retries    INTEGER NOT NULL DEFAULT 5,
	next_retry_at  DATETIME NOT NULL,
	created_at     DATETIME NOT NULL,
	last_failed_at DATETIME NOT NULL
);
`

const sqliteLeadColumns = `id, tenant_id, source, platform_lead_id, name, phone, email, lead_data, quality_score, intent, ai_analysis, status, received_at, created_at, updated_at`

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.db.PingContext(ctx), "sqlite: ping")
}

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) CreateLead(ctx context.Context, lead *model.Lead) error {
	prepareLead(lead)

	data, err := encodeLeadData(lead.LeadData)
	if err != nil {
		return eris.Wrap(err, "sqlite: create lead")
	}
	analysis, err := encodeAnalysis(lead.AIAnalysis)
	if err != nil {
		return eris.Wrap(err, "sqlite: create lead")
	}
	var analysisArg any
	if analysis != nil {
		analysisArg = string(analysis)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO leads (`+sqliteLeadColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		lead.ID, lead.TenantID, string(lead.Source), lead.PlatformLeadID, lead.Name,
		lead.Phone, lead.Email, string(data), lead.QualityScore, string(lead.Intent), analysisArg,
		string(lead.Status), lead.ReceivedAt, lead.CreatedAt, lead.UpdatedAt,
	)
	if err != nil {
		if db.IsUniqueViolation(err) {
			zap.L().Debug("sqlite: lead unique violation", zap.String("tenant_id", lead.TenantID))
			return ErrDuplicate
		}
		return eris.Wrapf(err, "sqlite: insert lead for tenant %s", lead.TenantID)
	}
	return nil
}

func (s *SQLiteStore) FindDuplicate(ctx context.Context, tenantID string, phone, email *string) (string, error) {
	if phone == nil && email == nil {
		return "", nil
	}
	var id string
	err := s.db.QueryRowContext(ctx,
		`SELECT id FROM leads WHERE tenant_id = ? AND (phone = ? OR email = ?) ORDER BY created_at ASC LIMIT 1`,
		tenantID, phone, email,
	).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", eris.Wrapf(err, "sqlite: find duplicate for tenant %s", tenantID)
	}
	return id, nil
}

func (s *SQLiteStore) FindByPlatformLeadID(ctx context.Context, tenantID string, source model.Source, platformLeadID string) (string, error) {
	if platformLeadID == "" {
		return "", nil
	}
	var id string
	err := s.db.QueryRowContext(ctx,
		`SELECT id FROM leads WHERE tenant_id = ? AND source = ? AND platform_lead_id = ?`,
		tenantID, string(source), platformLeadID,
	).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", eris.Wrapf(err, "sqlite: find platform lead %s", platformLeadID)
	}
	return id, nil
}

func (s *SQLiteStore) GetLead(ctx context.Context, leadID string) (*model.Lead, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+sqliteLeadColumns+` FROM leads WHERE id = ?`, leadID)
	lead, err := scanSQLiteLead(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get lead %s", leadID)
	}
	return lead, nil
}

func (s *SQLiteStore) ListLeads(ctx context.Context, filter LeadFilter) ([]model.Lead, error) {
	query := `SELECT ` + sqliteLeadColumns + ` FROM leads WHERE 1=1`
	var args []any

	if filter.TenantID != "" {
		query += ` AND tenant_id = ?`
		args = append(args, filter.TenantID)
	}
	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	if filter.Intent != "" {
		query += ` AND intent = ?`
		args = append(args, string(filter.Intent))
	}
	if filter.Source != "" {
		query += ` AND source = ?`
		args = append(args, string(filter.Source))
	}
	if filter.Method != "" {
		query += ` AND json_extract(ai_analysis, '$.method') = ?`
		args = append(args, string(filter.Method))
	}
	query += ` ORDER BY created_at DESC, rowid DESC LIMIT ?`
	args = append(args, filter.limit())

	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list leads")
	}
	defer rows.Close()

	var leads []model.Lead
	for rows.Next() {
		lead, err := scanSQLiteLead(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan lead")
		}
		leads = append(leads, *lead)
	}
	return leads, eris.Wrap(rows.Err(), "sqlite: list leads iterate")
}

func (s *SQLiteStore) UpdateLeadScore(ctx context.Context, leadID string, score model.Score, scoredAt time.Time) error {
	a := score.Analysis(scoredAt)
	analysis, err := encodeAnalysis(&a)
	if err != nil {
		return eris.Wrap(err, "sqlite: update lead score")
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE leads SET quality_score = ?, intent = ?, ai_analysis = ?, updated_at = ? WHERE id = ?`,
		model.ClampScore(score.QualityScore), string(score.Intent), string(analysis), time.Now().UTC(), leadID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update lead score %s", leadID)
	}
	return checkRowsAffected(res, "lead", leadID)
}

func (s *SQLiteStore) UpdateLeadStatus(ctx context.Context, leadID string, from, to model.LeadStatus) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE leads SET status = ?, updated_at = ? WHERE id = ? AND status = ?`,
		string(to), time.Now().UTC(), leadID, string(from),
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update lead status %s", leadID)
	}
	return checkRowsAffected(res, "lead", leadID)
}

func (s *SQLiteStore) GetTenant(ctx context.Context, tenantID string) (*model.Tenant, error) {
	var t model.Tenant
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, industry FROM tenants WHERE id = ?`, tenantID,
	).Scan(&t.ID, &t.Name, &t.Industry)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get tenant %s", tenantID)
	}
	return &t, nil
}

func (s *SQLiteStore) UpsertTenant(ctx context.Context, tenant model.Tenant) error {
	if tenant.Industry == "" {
		tenant.Industry = model.DefaultIndustry
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO tenants (id, name, industry) VALUES (?, ?, ?)
		 ON CONFLICT (id) DO UPDATE SET name = excluded.name, industry = excluded.industry`,
		tenant.ID, tenant.Name, tenant.Industry,
	)
	return eris.Wrapf(err, "sqlite: upsert tenant %s", tenant.ID)
}

func (s *SQLiteStore) CreateNotification(ctx context.Context, n *model.Notification) error {
	if n.ID == "" {
		n.ID = uuid.New().String()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO notifications (id, tenant_id, lead_id, type, title, message, created_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		n.ID, n.TenantID, n.LeadID, string(n.Type), n.Title, n.Message, n.CreatedAt,
	)
	return eris.Wrapf(err, "sqlite: insert notification for lead %s", n.LeadID)
}

func (s *SQLiteStore) ListNotifications(ctx context.Context, tenantID string, limit int) ([]model.Notification, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, tenant_id, lead_id, type, title, message, created_at FROM notifications
		 WHERE tenant_id = ? ORDER BY created_at DESC, rowid DESC LIMIT ?`,
		tenantID, limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list notifications")
	}
	defer rows.Close()

	var out []model.Notification
	for rows.Next() {
		var n model.Notification
		if err := rows.Scan(&n.ID, &n.TenantID, &n.LeadID, &n.Type, &n.Title, &n.Message, &n.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan notification")
		}
		out = append(out, n)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list notifications iterate")
}

func (s *SQLiteStore) EnqueueScoreRetry(ctx context.Context, e resilience.ScoreRetry) error {
	prepareRetry(&e)
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO score_retries
		 (id, lead_id, tenant_id, error, error_type, retry_count, max_retries, next_retry_at, created_at, last_failed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (id) DO UPDATE SET
		   error = excluded.error, error_type = excluded.error_type, retry_count = excluded.retry_count,
		   next_retry_at = excluded.next_retry_at, last_failed_at = excluded.last_failed_at`,
		e.ID, e.LeadID, e.TenantID, e.Error, e.ErrorType, e.RetryCount, e.MaxRetries,
		e.NextRetryAt.UTC(), e.CreatedAt.UTC(), e.LastFailedAt.UTC(),
	)
	return eris.Wrapf(err, "sqlite: enqueue score retry for lead %s", e.LeadID)
}

// DueScoreRetries filters next_retry_at in Go: SQLite stores the
// timestamps as text, which does not order reliably across fractional
// second precision.
func (s *SQLiteStore) DueScoreRetries(ctx context.Context, now time.Time, limit int) ([]resilience.ScoreRetry, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, lead_id, tenant_id, error, error_type, retry_count, max_retries, next_retry_at, created_at, last_failed_at
		 FROM score_retries WHERE retry_count < max_retries`,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: due score retries")
	}
	defer rows.Close()

	var entries []resilience.ScoreRetry
	for rows.Next() {
		var e resilience.ScoreRetry
		if err := rows.Scan(&e.ID, &e.LeadID, &e.TenantID, &e.Error, &e.ErrorType,
			&e.RetryCount, &e.MaxRetries, &e.NextRetryAt, &e.CreatedAt, &e.LastFailedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan score retry")
		}
		if e.NextRetryAt.After(now) {
			continue
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "sqlite: due score retries iterate")
	}

	sortRetries(entries)
	if len(entries) > limit {
		entries = entries[:limit]
	}
	return entries, nil
}

func (s *SQLiteStore) IncrementScoreRetry(ctx context.Context, id string, nextRetryAt time.Time, lastErr string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE score_retries
		 SET retry_count = retry_count + 1, next_retry_at = ?, error = ?, last_failed_at = ?
		 WHERE id = ?`,
		nextRetryAt.UTC(), lastErr, time.Now().UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: increment score retry %s", id)
	}
	return checkRowsAffected(res, "score retry", id)
}

func (s *SQLiteStore) RemoveScoreRetry(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM score_retries WHERE id = ?`, id)
	return eris.Wrapf(err, "sqlite: remove score retry %s", id)
}

// Metrics

// LeadStats filters created_at in Go for the same reason as DueScoreRetries.
func (s *SQLiteStore) LeadStats(ctx context.Context, since time.Time) (*LeadStats, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT created_at, COALESCE(json_extract(ai_analysis, '$.method'), ''), quality_score FROM leads`,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: lead stats")
	}
	defer rows.Close()

	stats := &LeadStats{ByMethod: make(map[model.ScoreMethod]int)}
	for rows.Next() {
		var (
			createdAt time.Time
			method    string
			score     int
		)
		if err := rows.Scan(&createdAt, &method, &score); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan lead stats")
		}
		if createdAt.Before(since) {
			continue
		}
		stats.add(model.ScoreMethod(method), 1, score)
	}
	return stats, eris.Wrap(rows.Err(), "sqlite: lead stats iterate")
}

func (s *SQLiteStore) CountScoreRetries(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM score_retries WHERE retry_count < max_retries`).Scan(&n)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: count score retries")
	}
	return n, nil
}

// helpers

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "sqlite: rows affected")
	}
	if n == 0 {
		return eris.Wrapf(ErrNotFound, "sqlite: %s %s", entity, id)
	}
	return nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanSQLiteLead(row scannable) (*model.Lead, error) {
	var l model.Lead
	var data string
	var analysis sql.NullString
	if err := row.Scan(&l.ID, &l.TenantID, &l.Source, &l.PlatformLeadID, &l.Name, &l.Phone, &l.Email,
		&data, &l.QualityScore, &l.Intent, &analysis, &l.Status, &l.ReceivedAt, &l.CreatedAt, &l.UpdatedAt); err != nil {
		return nil, err
	}
	var err error
	if l.LeadData, err = decodeLeadData([]byte(data)); err != nil {
		return nil, err
	}
	if analysis.Valid {
		if l.AIAnalysis, err = decodeAnalysis([]byte(analysis.String)); err != nil {
			return nil, err
		}
	}
	return &l, nil
}
