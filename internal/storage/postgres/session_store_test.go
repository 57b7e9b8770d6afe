package postgres

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/sitemap-crawler/internal/crawler"
)

var columns = []string{
	"id", "domain", "crawled_at", "status", "total_urls", "duration_ms", "sitemaps_found",
	"error", "archive_uri", "urls_per_second", "sitemaps", "sample_urls",
}

func newMockStore(t *testing.T) (*SessionStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	store, err := NewSessionStoreWithPool(mock, "")
	require.NoError(t, err)
	return store, mock
}

func TestNewSessionStoreWithPoolValidatesTable(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	_, err = NewSessionStoreWithPool(mock, "bad-name; DROP")
	require.Error(t, err)
	_, err = NewSessionStoreWithPool(nil, "")
	require.Error(t, err)
}

func TestNewSessionStoreRequiresDSN(t *testing.T) {
	t.Parallel()

	_, err := NewSessionStore(context.Background(), SessionStoreConfig{})
	require.EqualError(t, err, "database.dsn is required")
}

func TestSaveSessionInsertsRow(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	now := time.Unix(1700000000, 0).UTC()
	session := crawler.Session{
		ID:            "sess-1",
		Domain:        "example.com",
		Timestamp:     now,
		Status:        crawler.CrawlStatusSuccess,
		TotalURLs:     2,
		DurationMs:    1500,
		SitemapsFound: 1,
		ArchiveURI:    "gs://bucket/example.com/abc.txt",
		URLsPerSecond: 1.33,
		Sitemaps: []crawler.SessionSitemap{{
			URL:       "https://example.com/sitemap.xml",
			URLsFound: 2,
			Status:    crawler.NodeStatusSuccess,
		}},
	}

	mock.ExpectExec("INSERT INTO crawl_sessions").
		WithArgs(
			session.ID,
			session.Domain,
			now,
			"success",
			2,
			int64(1500),
			1,
			"",
			session.ArchiveURI,
			1.33,
			[]byte(`[{"url":"https://example.com/sitemap.xml","urls_found":2,"duration_ms":0,"status":"success"}]`),
			[]byte(`[]`),
		).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	id, err := store.SaveSession(context.Background(), session)
	require.NoError(t, err)
	assert.Equal(t, "sess-1", id)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveSessionWrapsExecError(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectExec("INSERT INTO crawl_sessions").
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnError(errors.New("boom"))

	id, err := store.SaveSession(context.Background(), crawler.Session{Domain: "example.com"})
	require.ErrorContains(t, err, "insert session: boom")
	assert.Empty(t, id)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetSessionDecodesRow(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	now := time.Unix(1700000000, 0).UTC()
	mock.ExpectQuery(regexp.QuoteMeta("FROM crawl_sessions WHERE id = $1")).
		WithArgs("sess-1").
		WillReturnRows(pgxmock.NewRows(columns).AddRow(
			"sess-1", "example.com", now, "success", 3, int64(900), 1,
			"", "", 3.33,
			[]byte(`[{"url":"https://example.com/sitemap.xml","urls_found":3,"duration_ms":12,"status":"success"}]`),
			[]byte(`[{"url":"https://example.com/blog/a","type":"blog"}]`),
		))

	session, err := store.GetSession(context.Background(), "sess-1")
	require.NoError(t, err)
	assert.Equal(t, crawler.CrawlStatusSuccess, session.Status)
	assert.Equal(t, 3, session.TotalURLs)
	require.Len(t, session.Sitemaps, 1)
	assert.Equal(t, int64(12), session.Sitemaps[0].DurationMs)
	require.Len(t, session.SampleURLs, 1)
	assert.Equal(t, crawler.URLTypeBlog, session.SampleURLs[0].Type)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetSessionNotFound(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectQuery(regexp.QuoteMeta("FROM crawl_sessions WHERE id = $1")).
		WithArgs("missing").
		WillReturnRows(pgxmock.NewRows(columns))

	_, err := store.GetSession(context.Background(), "missing")
	require.ErrorIs(t, err, crawler.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestListSessionsAppliesFilters(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	now := time.Unix(1700000000, 0).UTC()
	filter := crawler.HistoryFilter{Domain: "Example", Status: crawler.CrawlStatusFailed, Limit: 5, Offset: 10}

	mock.ExpectQuery(regexp.QuoteMeta(
		"SELECT COUNT(*) FROM crawl_sessions WHERE domain ILIKE $1 AND status = $2")).
		WithArgs("%example%", "failed").
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(11))
	mock.ExpectQuery(regexp.QuoteMeta("ORDER BY crawled_at DESC, id DESC LIMIT $3 OFFSET $4")).
		WithArgs("%example%", "failed", 5, 10).
		WillReturnRows(pgxmock.NewRows(columns).AddRow(
			"sess-9", "example.com", now, "failed", 0, int64(100), 0,
			"no sitemaps found", "", 0.0, []byte(`[]`), []byte(`[]`),
		))

	page, err := store.ListSessions(context.Background(), filter)
	require.NoError(t, err)
	assert.Equal(t, 11, page.Total)
	assert.Equal(t, 5, page.Limit)
	assert.Equal(t, 10, page.Offset)
	require.Len(t, page.Results, 1)
	assert.Equal(t, "no sitemaps found", page.Results[0].Error)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestListSessionsWithoutFiltersIsEmpty(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM crawl_sessions")).
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(0))
	mock.ExpectQuery(regexp.QuoteMeta("LIMIT $1 OFFSET $2")).
		WithArgs(crawler.DefaultHistoryLimit, 0).
		WillReturnRows(pgxmock.NewRows(columns))

	page, err := store.ListSessions(context.Background(), crawler.HistoryFilter{})
	require.NoError(t, err)
	assert.NotNil(t, page.Results)
	assert.Empty(t, page.Results)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStatisticsAggregatesWindow(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	now := time.Date(2024, 5, 2, 12, 0, 0, 0, time.UTC)
	since := now.AddDate(0, 0, -7)

	mock.ExpectQuery(regexp.QuoteMeta("WHERE crawled_at >= $1")).
		WithArgs(since).
		WillReturnRows(pgxmock.NewRows(columns).
			AddRow("a", "example.com", now, "success", 10, int64(2000), 1, "", "", 5.0, []byte(`[]`), []byte(`[]`)).
			AddRow("b", "other.org", now.Add(-time.Hour), "failed", 0, int64(1000), 0,
				"no sitemaps found", "", 0.0, []byte(`[]`), []byte(`[]`)))

	stats, err := store.Statistics(context.Background(), since)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Basic.TotalCrawls)
	assert.Equal(t, 1, stats.Basic.SuccessfulCrawls)
	assert.InDelta(t, 50.0, stats.Basic.SuccessRate, 0.001)
	require.Len(t, stats.CommonErrors, 1)
	assert.Equal(t, "no sitemaps found", stats.CommonErrors[0].Error)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRecentByDomainNormalizesDomain(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectQuery(regexp.QuoteMeta("WHERE domain = $1 ORDER BY crawled_at DESC, id DESC LIMIT $2")).
		WithArgs("example.com", crawler.DefaultCompareLimit).
		WillReturnError(errors.New("conn reset"))

	_, err := store.RecentByDomain(context.Background(), " Example.COM ", 0)
	require.ErrorContains(t, err, "recent sessions: conn reset")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEnsureSchemaCreatesTable(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectExec(regexp.QuoteMeta("CREATE TABLE IF NOT EXISTS crawl_sessions")).
		WillReturnResult(pgxmock.NewResult("CREATE TABLE", 0))

	require.NoError(t, store.EnsureSchema(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPingWrapsError(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	store, err := NewSessionStoreWithPool(mock, "")
	require.NoError(t, err)

	mock.ExpectPing().WillReturnError(errors.New("connection refused"))
	require.ErrorContains(t, store.Ping(context.Background()), "ping postgres: connection refused")
	require.NoError(t, mock.ExpectationsWereMet())
}
