package crawler

import (
	"strings"
	"time"
)

// CrawlStatus is the terminal outcome of a domain crawl.
type CrawlStatus string

// Crawl status values reported in results and persisted in history.
const (
	CrawlStatusSuccess CrawlStatus = "success"
	CrawlStatusFailed  CrawlStatus = "failed"
)

// NodeStatus is the outcome of fetching and parsing one sitemap document.
type NodeStatus string

// Node status values.
const (
	NodeStatusSuccess NodeStatus = "success"
	NodeStatusFailed  NodeStatus = "failed"
)

// Provenance records how a top-level sitemap candidate was found.
type Provenance string

// Candidate provenance values.
const (
	ProvenanceRobots    Provenance = "robots_declared"
	ProvenanceWellKnown Provenance = "well_known_path"
)

// DocumentKind identifies which sitemaps.org schema a document matched.
type DocumentKind string

// Recognized sitemap document kinds.
const (
	DocumentURLSet       DocumentKind = "urlset"
	DocumentSitemapIndex DocumentKind = "sitemapindex"
)

// SkipReason explains why a referenced sitemap was not expanded.
type SkipReason string

// Truncation reasons. Both are policy outcomes, not failures.
const (
	SkipAlreadyVisited SkipReason = "already_visited"
	SkipMaxDepth       SkipReason = "max_depth"
)

// SitemapCandidate is a URL hypothesized to be a top-level sitemap.
type SitemapCandidate struct {
	URL        string     `json:"url"`
	Provenance Provenance `json:"provenance"`
}

// SitemapNode summarizes one fetched-and-parsed sitemap document.
type SitemapNode struct {
	URL        string       `json:"url"`
	Parent     string       `json:"parent,omitempty"`
	Depth      int          `json:"depth"`
	Status     NodeStatus   `json:"status"`
	Kind       DocumentKind `json:"kind,omitempty"`
	Count      int          `json:"count"`
	DurationMs int64        `json:"duration_ms"`
	Error      string       `json:"error,omitempty"`
	Skipped    SkipReason   `json:"skipped,omitempty"`
}

// Expansion is the outcome of expanding one top-level sitemap.
type Expansion struct {
	URLs  *URLSet
	Nodes []SitemapNode
	// OK reports whether the root document itself was fetched and parsed.
	OK bool
}

// Discovery lists the top-level sitemaps found for a domain. Domain is the
// host variant that produced them.
type Discovery struct {
	Domain     string             `json:"domain"`
	Candidates []SitemapCandidate `json:"candidates"`
}

// CandidateSummary reports the expansion of one top-level candidate.
type CandidateSummary struct {
	URL        string     `json:"url"`
	Provenance Provenance `json:"provenance"`
	Status     NodeStatus `json:"status"`
	Count      int        `json:"count"`
	DurationMs int64      `json:"duration_ms"`
	Error      string     `json:"error,omitempty"`
}

// CrawlResult is the terminal output for one domain.
type CrawlResult struct {
	SessionID  string             `json:"session_id,omitempty"`
	Domain     string             `json:"domain"`
	Status     CrawlStatus        `json:"status"`
	TotalURLs  int                `json:"total_urls"`
	DurationMs int64              `json:"duration_ms"`
	StartedAt  time.Time          `json:"started_at"`
	Sitemaps   []SitemapNode      `json:"sitemaps"`
	Candidates []CandidateSummary `json:"candidates"`
	Error      string             `json:"error,omitempty"`
	ArchiveURI string             `json:"archive_uri,omitempty"`
	// URLs holds the deduplicated leaf URLs in first-seen order.
	URLs []string `json:"-"`
}

// FailedResult returns a failed result for domain carrying msg. Its slices
// are empty rather than nil so they encode as JSON arrays.
func FailedResult(domain, msg string, startedAt time.Time) CrawlResult {
	return CrawlResult{
		Domain:     strings.TrimSpace(domain),
		Status:     CrawlStatusFailed,
		StartedAt:  startedAt,
		Sitemaps:   []SitemapNode{},
		Candidates: []CandidateSummary{},
		Error:      msg,
	}
}

// Duration returns the crawl's wall-clock time.
func (r CrawlResult) Duration() time.Duration {
	return time.Duration(r.DurationMs) * time.Millisecond
}

// Sample returns at most n URLs from the head of the result's URL list.
func (r CrawlResult) Sample(n int) []string {
	if n <= 0 || len(r.URLs) == 0 {
		return nil
	}
	if n > len(r.URLs) {
		n = len(r.URLs)
	}
	out := make([]string, n)
	copy(out, r.URLs[:n])
	return out
}

// QueueItem wraps one domain submitted to a fan-out batch.
type QueueItem struct {
	Index  int
	Domain string
}
