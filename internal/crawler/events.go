package crawler

import (
	"strconv"
	"time"
)

// CrawlCompleted is published after each domain crawl is persisted.
type CrawlCompleted struct {
	SessionID   string      `json:"session_id,omitempty"`
	Domain      string      `json:"domain"`
	Status      CrawlStatus `json:"status"`
	TotalURLs   int         `json:"total_urls"`
	DurationMs  int64       `json:"duration_ms"`
	ArchiveURI  string      `json:"archive_uri,omitempty"`
	Error       string      `json:"error,omitempty"`
	CompletedAt time.Time   `json:"completed_at"`
}

// NewCrawlCompleted builds the event for result.
func NewCrawlCompleted(result CrawlResult, completedAt time.Time) CrawlCompleted {
	return CrawlCompleted{
		SessionID:   result.SessionID,
		Domain:      result.Domain,
		Status:      result.Status,
		TotalURLs:   result.TotalURLs,
		DurationMs:  result.DurationMs,
		ArchiveURI:  result.ArchiveURI,
		Error:       result.Error,
		CompletedAt: completedAt.UTC(),
	}
}

// Attributes returns message attributes that subscribers can filter on.
func (e CrawlCompleted) Attributes() map[string]string {
	return map[string]string{
		"domain":     e.Domain,
		"status":     string(e.Status),
		"total_urls": strconv.Itoa(e.TotalURLs),
	}
}
