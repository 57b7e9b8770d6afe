// Package postgres provides Postgres-backed persistence implementations.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/sitemap-crawler/internal/crawler"
)

const defaultTable = "crawl_sessions"

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// SessionStoreConfig controls the Postgres connection pool used for crawl sessions.
type SessionStoreConfig struct {
	DSN             string
	Table           string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type pool interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Query(context.Context, string, ...any) (pgx.Rows, error)
	QueryRow(context.Context, string, ...any) pgx.Row
	Ping(context.Context) error
	Close()
}

// SessionStore persists crawl sessions in a single Postgres table. Sitemap
// nodes and sample URLs are stored as JSONB columns.
type SessionStore struct {
	pool  pool
	table string
}

// NewSessionStore creates a Postgres-backed SessionStore using the provided config.
func NewSessionStore(ctx context.Context, cfg SessionStoreConfig) (*SessionStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database.dsn is required")
	}
	table, err := tableName(cfg.Table)
	if err != nil {
		return nil, err
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	p, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &SessionStore{pool: p, table: table}, nil
}

// NewSessionStoreWithPool constructs a store from an existing pool (primarily for testing).
func NewSessionStoreWithPool(p pool, table string) (*SessionStore, error) {
	if p == nil {
		return nil, fmt.Errorf("pool is required")
	}
	table, err := tableName(table)
	if err != nil {
		return nil, err
	}
	return &SessionStore{pool: p, table: table}, nil
}

func tableName(table string) (string, error) {
	if table == "" {
		table = defaultTable
	}
	if !validTableName.MatchString(table) {
		return "", fmt.Errorf("invalid table name %q", table)
	}
	return table, nil
}

// Close releases the underlying pool resources.
func (s *SessionStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// Ping checks that the database is reachable.
func (s *SessionStore) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("ping postgres: %w", err)
	}
	return nil
}

// EnsureSchema creates the sessions table and its indexes when missing.
func (s *SessionStore) EnsureSchema(ctx context.Context) error {
	ddl := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %[1]s (
	id TEXT PRIMARY KEY,
	domain TEXT NOT NULL,
	crawled_at TIMESTAMPTZ NOT NULL,
	status TEXT NOT NULL,
	total_urls INTEGER NOT NULL DEFAULT 0,
	duration_ms BIGINT NOT NULL DEFAULT 0,
	sitemaps_found INTEGER NOT NULL DEFAULT 0,
	error TEXT NOT NULL DEFAULT '',
	archive_uri TEXT NOT NULL DEFAULT '',
	urls_per_second DOUBLE PRECISION NOT NULL DEFAULT 0,
	sitemaps JSONB NOT NULL DEFAULT '[]',
	sample_urls JSONB NOT NULL DEFAULT '[]'
);
CREATE INDEX IF NOT EXISTS %[1]s_domain_idx ON %[1]s (domain, crawled_at DESC);
CREATE INDEX IF NOT EXISTS %[1]s_crawled_at_idx ON %[1]s (crawled_at DESC)`, s.table)
	if _, err := s.pool.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

const sessionColumns = `id, domain, crawled_at, status, total_urls, duration_ms, sitemaps_found,
	error, archive_uri, urls_per_second, sitemaps, sample_urls`

// SaveSession inserts session, assigning an ID when it has none.
func (s *SessionStore) SaveSession(ctx context.Context, session crawler.Session) (string, error) {
	if s == nil || s.pool == nil {
		return "", fmt.Errorf("session store is not configured")
	}
	if session.ID == "" {
		session.ID = uuid.NewString()
	}
	sitemaps := session.Sitemaps
	if sitemaps == nil {
		sitemaps = []crawler.SessionSitemap{}
	}
	sitemapsJSON, err := json.Marshal(sitemaps)
	if err != nil {
		return "", fmt.Errorf("marshal sitemaps: %w", err)
	}
	samples := session.SampleURLs
	if samples == nil {
		samples = []crawler.SampleURL{}
	}
	samplesJSON, err := json.Marshal(samples)
	if err != nil {
		return "", fmt.Errorf("marshal sample urls: %w", err)
	}
	query := fmt.Sprintf(`
INSERT INTO %s (%s) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12
)`, s.table, sessionColumns)

	args := []any{
		session.ID,
		session.Domain,
		session.Timestamp.UTC(),
		string(session.Status),
		session.TotalURLs,
		session.DurationMs,
		session.SitemapsFound,
		session.Error,
		session.ArchiveURI,
		session.URLsPerSecond,
		sitemapsJSON,
		samplesJSON,
	}
	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		return "", fmt.Errorf("insert session: %w", err)
	}
	return session.ID, nil
}

// GetSession returns the session with id or crawler.ErrNotFound.
func (s *SessionStore) GetSession(ctx context.Context, id string) (crawler.Session, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE id = $1`, sessionColumns, s.table)
	session, err := scanSession(s.pool.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return crawler.Session{}, crawler.ErrNotFound
	}
	if err != nil {
		return crawler.Session{}, fmt.Errorf("get session: %w", err)
	}
	return session, nil
}

// ListSessions returns one page of sessions matching filter, newest first.
func (s *SessionStore) ListSessions(ctx context.Context, filter crawler.HistoryFilter) (crawler.HistoryPage, error) {
	filter = filter.Normalize()
	where, args := whereClause(filter)
	page := crawler.HistoryPage{Results: []crawler.Session{}, Limit: filter.Limit, Offset: filter.Offset}

	countQuery := fmt.Sprintf(`SELECT COUNT(*) FROM %s%s`, s.table, where)
	if err := s.pool.QueryRow(ctx, countQuery, args...).Scan(&page.Total); err != nil {
		return crawler.HistoryPage{}, fmt.Errorf("count sessions: %w", err)
	}

	n := len(args)
	query := fmt.Sprintf(`SELECT %s FROM %s%s ORDER BY crawled_at DESC, id DESC LIMIT $%d OFFSET $%d`,
		sessionColumns, s.table, where, n+1, n+2)
	args = append(args, filter.Limit, filter.Offset)
	sessions, err := s.querySessions(ctx, query, args...)
	if err != nil {
		return crawler.HistoryPage{}, fmt.Errorf("list sessions: %w", err)
	}
	page.Results = append(page.Results, sessions...)
	return page, nil
}

// Statistics aggregates sessions recorded at or after since.
func (s *SessionStore) Statistics(ctx context.Context, since time.Time) (crawler.Statistics, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE crawled_at >= $1 ORDER BY crawled_at DESC`,
		sessionColumns, s.table)
	sessions, err := s.querySessions(ctx, query, since.UTC())
	if err != nil {
		return crawler.Statistics{}, fmt.Errorf("load statistics window: %w", err)
	}
	return crawler.BuildStatistics(sessions), nil
}

// RecentByDomain returns up to limit sessions of domain, newest first.
func (s *SessionStore) RecentByDomain(ctx context.Context, domain string, limit int) ([]crawler.Session, error) {
	if limit <= 0 {
		limit = crawler.DefaultCompareLimit
	}
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE domain = $1 ORDER BY crawled_at DESC, id DESC LIMIT $2`,
		sessionColumns, s.table)
	sessions, err := s.querySessions(ctx, query, strings.ToLower(strings.TrimSpace(domain)), limit)
	if err != nil {
		return nil, fmt.Errorf("recent sessions: %w", err)
	}
	return sessions, nil
}

func (s *SessionStore) querySessions(ctx context.Context, query string, args ...any) ([]crawler.Session, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err //nolint:wrapcheck // callers add context
	}
	defer rows.Close()

	var out []crawler.Session
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, session)
	}
	return out, rows.Err() //nolint:wrapcheck // callers add context
}

func whereClause(filter crawler.HistoryFilter) (string, []any) {
	var (
		conds []string
		args  []any
	)
	add := func(cond string, arg any) {
		args = append(args, arg)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}
	if filter.Domain != "" {
		add("domain ILIKE $%d", "%"+filter.Domain+"%")
	}
	if filter.Status != "" {
		add("status = $%d", string(filter.Status))
	}
	if !filter.From.IsZero() {
		add("crawled_at >= $%d", filter.From.UTC())
	}
	if !filter.To.IsZero() {
		add("crawled_at <= $%d", filter.To.UTC())
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func scanSession(row pgx.Row) (crawler.Session, error) {
	var (
		session      crawler.Session
		status       string
		sitemapsJSON []byte
		samplesJSON  []byte
	)
	if err := row.Scan(
		&session.ID,
		&session.Domain,
		&session.Timestamp,
		&status,
		&session.TotalURLs,
		&session.DurationMs,
		&session.SitemapsFound,
		&session.Error,
		&session.ArchiveURI,
		&session.URLsPerSecond,
		&sitemapsJSON,
		&samplesJSON,
	); err != nil {
		return crawler.Session{}, err //nolint:wrapcheck // callers add context
	}
	session.Status = crawler.CrawlStatus(status)
	session.Timestamp = session.Timestamp.UTC()
	if len(sitemapsJSON) > 0 {
		if err := json.Unmarshal(sitemapsJSON, &session.Sitemaps); err != nil {
			return crawler.Session{}, fmt.Errorf("decode sitemaps: %w", err)
		}
	}
	if len(samplesJSON) > 0 {
		if err := json.Unmarshal(samplesJSON, &session.SampleURLs); err != nil {
			return crawler.Session{}, fmt.Errorf("decode sample urls: %w", err)
		}
	}
	return session, nil
}
