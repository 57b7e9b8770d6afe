package crawler

import (
	"errors"
	"math"
	"sort"
	"strings"
	"time"
)

// History defaults.
const (
	DefaultSampleURLs   = 50
	DefaultHistoryLimit = 20
	MaxHistoryLimit     = 1000
	DefaultCompareLimit = 5

	topDomainsLimit    = 10
	dailyActivityLimit = 30
	commonErrorsLimit  = 10
)

var (
	// ErrNotFound is returned when a session does not exist.
	ErrNotFound = errors.New("session not found")
	// ErrNotEnoughHistory is returned when fewer than two crawls of a domain
	// are available for comparison.
	ErrNotEnoughHistory = errors.New("at least 2 crawls are required to compare")
)

// URLType is a coarse category assigned to sampled URLs.
type URLType string

// URL categories.
const (
	URLTypePage     URLType = "page"
	URLTypeDocument URLType = "document"
	URLTypeImage    URLType = "image"
	URLTypeVideo    URLType = "video"
	URLTypeBlog     URLType = "blog"
	URLTypeProduct  URLType = "product"
)

var urlTypeMarkers = []struct {
	kind    URLType
	markers []string
}{
	{URLTypeDocument, []string{".pdf", ".doc", ".docx", ".xls", ".xlsx"}},
	{URLTypeImage, []string{".jpg", ".jpeg", ".png", ".gif", ".webp"}},
	{URLTypeVideo, []string{".mp4", ".avi", ".mov", ".wmv"}},
	{URLTypeBlog, []string{"/blog/", "/news/", "/article/"}},
	{URLTypeProduct, []string{"/product/", "/shop/", "/store/"}},
}

// ClassifyURL assigns u to the first matching category, defaulting to page.
func ClassifyURL(u string) URLType {
	lower := strings.ToLower(u)
	for _, group := range urlTypeMarkers {
		for _, marker := range group.markers {
			if strings.Contains(lower, marker) {
				return group.kind
			}
		}
	}
	return URLTypePage
}

// SampleURL is one persisted example URL.
type SampleURL struct {
	URL  string  `json:"url"`
	Type URLType `json:"type"`
}

// SessionSitemap is the persisted form of a reported sitemap node.
type SessionSitemap struct {
	URL        string     `json:"url"`
	URLsFound  int        `json:"urls_found"`
	DurationMs int64      `json:"duration_ms"`
	Status     NodeStatus `json:"status"`
	Error      string     `json:"error,omitempty"`
}

// Session is a stored crawl outcome.
type Session struct {
	ID            string           `json:"id"`
	Domain        string           `json:"domain"`
	Timestamp     time.Time        `json:"timestamp"`
	Status        CrawlStatus      `json:"status"`
	TotalURLs     int              `json:"total_urls"`
	DurationMs    int64            `json:"duration_ms"`
	SitemapsFound int              `json:"sitemaps_found"`
	Error         string           `json:"error,omitempty"`
	ArchiveURI    string           `json:"archive_uri,omitempty"`
	URLsPerSecond float64          `json:"urls_per_second"`
	Sitemaps      []SessionSitemap `json:"sitemaps"`
	SampleURLs    []SampleURL      `json:"sample_urls"`
}

// NewSession converts a crawl result into a Session carrying at most
// sampleCap example URLs.
func NewSession(id string, result CrawlResult, sampleCap int) Session {
	session := Session{
		ID:            id,
		Domain:        result.Domain,
		Timestamp:     result.StartedAt.UTC(),
		Status:        result.Status,
		TotalURLs:     result.TotalURLs,
		DurationMs:    result.DurationMs,
		SitemapsFound: len(result.Sitemaps),
		Error:         result.Error,
		ArchiveURI:    result.ArchiveURI,
		Sitemaps:      make([]SessionSitemap, 0, len(result.Sitemaps)),
	}
	if result.DurationMs > 0 && result.TotalURLs > 0 {
		session.URLsPerSecond = round(float64(result.TotalURLs)/result.Duration().Seconds(), 2)
	}
	for _, node := range result.Sitemaps {
		session.Sitemaps = append(session.Sitemaps, SessionSitemap{
			URL:        node.URL,
			URLsFound:  node.Count,
			DurationMs: node.DurationMs,
			Status:     node.Status,
			Error:      node.Error,
		})
	}
	for _, u := range result.Sample(sampleCap) {
		session.SampleURLs = append(session.SampleURLs, SampleURL{URL: u, Type: ClassifyURL(u)})
	}
	return session
}

// HistoryFilter narrows a history listing. Zero values disable a filter.
type HistoryFilter struct {
	// Domain matches as a case-insensitive substring.
	Domain string
	Status CrawlStatus
	From   time.Time
	To     time.Time
	Limit  int
	Offset int
}

// Normalize clamps paging values into range.
func (f HistoryFilter) Normalize() HistoryFilter {
	if f.Limit <= 0 {
		f.Limit = DefaultHistoryLimit
	}
	if f.Limit > MaxHistoryLimit {
		f.Limit = MaxHistoryLimit
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	f.Domain = strings.ToLower(strings.TrimSpace(f.Domain))
	return f
}

// Match reports whether s passes the filter.
func (f HistoryFilter) Match(s Session) bool {
	if f.Domain != "" && !strings.Contains(strings.ToLower(s.Domain), f.Domain) {
		return false
	}
	if f.Status != "" && s.Status != f.Status {
		return false
	}
	if !f.From.IsZero() && s.Timestamp.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && s.Timestamp.After(f.To) {
		return false
	}
	return true
}

// HistoryPage is one page of a history listing, newest first.
type HistoryPage struct {
	Results []Session `json:"results"`
	Total   int       `json:"total"`
	Limit   int       `json:"limit"`
	Offset  int       `json:"offset"`
}

// BasicStats aggregates every session in the window.
type BasicStats struct {
	TotalCrawls      int     `json:"total_crawls"`
	SuccessfulCrawls int     `json:"successful_crawls"`
	SuccessRate      float64 `json:"success_rate"`
	TotalURLsFound   int     `json:"total_urls_found"`
	AvgDurationSec   float64 `json:"avg_duration"`
	AvgURLsPerCrawl  float64 `json:"avg_urls_per_crawl"`
}

// DomainStat counts crawls of one domain.
type DomainStat struct {
	Domain     string `json:"domain"`
	CrawlCount int    `json:"crawl_count"`
	TotalURLs  int    `json:"total_urls"`
}

// DailyActivity counts crawls on one UTC day (YYYY-MM-DD).
type DailyActivity struct {
	Date      string `json:"date"`
	Crawls    int    `json:"crawls"`
	URLsFound int    `json:"urls_found"`
}

// ErrorStat counts failed sessions sharing an error message.
type ErrorStat struct {
	Error string `json:"error"`
	Count int    `json:"count"`
}

// Statistics summarizes history over a time window.
type Statistics struct {
	Basic         BasicStats      `json:"basic"`
	TopDomains    []DomainStat    `json:"top_domains"`
	DailyActivity []DailyActivity `json:"daily_activity"`
	CommonErrors  []ErrorStat     `json:"common_errors"`
}

// BuildStatistics computes Statistics from sessions already restricted to
// the window of interest.
func BuildStatistics(sessions []Session) Statistics {
	stats := Statistics{
		TopDomains:    []DomainStat{},
		DailyActivity: []DailyActivity{},
		CommonErrors:  []ErrorStat{},
	}
	var totalDurationMs int64
	domains := map[string]*DomainStat{}
	days := map[string]*DailyActivity{}
	errs := map[string]*ErrorStat{}
	for _, s := range sessions {
		stats.Basic.TotalCrawls++
		if s.Status == CrawlStatusSuccess {
			stats.Basic.SuccessfulCrawls++
		}
		stats.Basic.TotalURLsFound += s.TotalURLs
		totalDurationMs += s.DurationMs

		ds, ok := domains[s.Domain]
		if !ok {
			ds = &DomainStat{Domain: s.Domain}
			domains[s.Domain] = ds
		}
		ds.CrawlCount++
		ds.TotalURLs += s.TotalURLs

		day := s.Timestamp.UTC().Format(time.DateOnly)
		da, ok := days[day]
		if !ok {
			da = &DailyActivity{Date: day}
			days[day] = da
		}
		da.Crawls++
		da.URLsFound += s.TotalURLs

		if s.Status == CrawlStatusFailed && s.Error != "" {
			es, ok := errs[s.Error]
			if !ok {
				es = &ErrorStat{Error: s.Error}
				errs[s.Error] = es
			}
			es.Count++
		}
	}
	if n := stats.Basic.TotalCrawls; n > 0 {
		stats.Basic.SuccessRate = round(float64(stats.Basic.SuccessfulCrawls)/float64(n)*100, 1)
		stats.Basic.AvgDurationSec = round(float64(totalDurationMs)/1000/float64(n), 2)
		stats.Basic.AvgURLsPerCrawl = round(float64(stats.Basic.TotalURLsFound)/float64(n), 1)
	}

	for _, ds := range domains {
		stats.TopDomains = append(stats.TopDomains, *ds)
	}
	sort.Slice(stats.TopDomains, func(i, j int) bool {
		a, b := stats.TopDomains[i], stats.TopDomains[j]
		if a.CrawlCount != b.CrawlCount {
			return a.CrawlCount > b.CrawlCount
		}
		return a.Domain < b.Domain
	})
	stats.TopDomains = truncate(stats.TopDomains, topDomainsLimit)

	for _, da := range days {
		stats.DailyActivity = append(stats.DailyActivity, *da)
	}
	sort.Slice(stats.DailyActivity, func(i, j int) bool {
		return stats.DailyActivity[i].Date > stats.DailyActivity[j].Date
	})
	stats.DailyActivity = truncate(stats.DailyActivity, dailyActivityLimit)

	for _, es := range errs {
		stats.CommonErrors = append(stats.CommonErrors, *es)
	}
	sort.Slice(stats.CommonErrors, func(i, j int) bool {
		a, b := stats.CommonErrors[i], stats.CommonErrors[j]
		if a.Count != b.Count {
			return a.Count > b.Count
		}
		return a.Error < b.Error
	})
	stats.CommonErrors = truncate(stats.CommonErrors, commonErrorsLimit)
	return stats
}

// ComparedCrawl is one crawl in a comparison.
type ComparedCrawl struct {
	ID          string      `json:"id"`
	Timestamp   time.Time   `json:"timestamp"`
	TotalURLs   int         `json:"total_urls"`
	DurationSec float64     `json:"duration"`
	Status      CrawlStatus `json:"status"`
}

// Trends compares the latest crawl with the one before it.
type Trends struct {
	URLChange             int     `json:"url_change"`
	URLChangePercent      float64 `json:"url_change_percent"`
	DurationChange        float64 `json:"duration_change"`
	DurationChangePercent float64 `json:"duration_change_percent"`
}

// Comparison lists recent crawls of a domain, newest first, with trends.
type Comparison struct {
	Domain string          `json:"domain"`
	Crawls []ComparedCrawl `json:"crawls"`
	Trends Trends          `json:"trends"`
}

// CompareSessions builds a Comparison from sessions ordered newest first.
func CompareSessions(domain string, sessions []Session) (Comparison, error) {
	if len(sessions) < 2 {
		return Comparison{}, ErrNotEnoughHistory
	}
	cmp := Comparison{Domain: domain, Crawls: make([]ComparedCrawl, 0, len(sessions))}
	for _, s := range sessions {
		cmp.Crawls = append(cmp.Crawls, ComparedCrawl{
			ID:          s.ID,
			Timestamp:   s.Timestamp,
			TotalURLs:   s.TotalURLs,
			DurationSec: float64(s.DurationMs) / 1000,
			Status:      s.Status,
		})
	}
	latest, previous := cmp.Crawls[0], cmp.Crawls[1]
	cmp.Trends.URLChange = latest.TotalURLs - previous.TotalURLs
	if previous.TotalURLs > 0 {
		cmp.Trends.URLChangePercent = round(float64(cmp.Trends.URLChange)/float64(previous.TotalURLs)*100, 1)
	}
	durationChange := latest.DurationSec - previous.DurationSec
	cmp.Trends.DurationChange = round(durationChange, 2)
	if previous.DurationSec > 0 {
		cmp.Trends.DurationChangePercent = round(durationChange/previous.DurationSec*100, 1)
	}
	return cmp, nil
}

func round(v float64, places int) float64 {
	scale := math.Pow(10, float64(places))
	return math.Round(v*scale) / scale
}

func truncate[T any](items []T, n int) []T {
	if len(items) > n {
		return items[:n]
	}
	return items
}
