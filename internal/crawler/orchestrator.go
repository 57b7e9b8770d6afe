package crawler

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

const errNoURLs = "no URLs found in discovered sitemaps"

// ClockFunc adapts a function to the Clock interface.
type ClockFunc func() time.Time

// Now implements Clock.
func (f ClockFunc) Now() time.Time { return f() }

// OrchestratorConfig controls a single domain crawl.
type OrchestratorConfig struct {
	MaxDepth       int
	BlockedDomains []string
	FetchTimeout   time.Duration
	WellKnownPaths []string
	Scheme         string
}

// Orchestrator runs discovery and expansion for one domain at a time. It
// holds no per-crawl state, so one instance serves any number of concurrent
// CrawlDomain calls.
type Orchestrator struct {
	newFetcher func() Fetcher
	clock      Clock
	cfg        OrchestratorConfig
	blocklist  *Blocklist
	logger     *zap.Logger
}

// NewOrchestrator constructs an Orchestrator. newFetcher is called once per
// crawl so that fetcher state (such as politeness limits) never crosses
// domains.
func NewOrchestrator(newFetcher func() Fetcher, clock Clock, cfg OrchestratorConfig, logger *zap.Logger) *Orchestrator {
	if clock == nil {
		clock = ClockFunc(time.Now)
	}
	if cfg.MaxDepth <= 0 {
		cfg.MaxDepth = DefaultMaxDepth
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{
		newFetcher: newFetcher,
		clock:      clock,
		cfg:        cfg,
		blocklist:  NewBlocklist(cfg.BlockedDomains),
		logger:     logger,
	}
}

// CrawlDomain discovers and expands every sitemap of raw's domain. It always
// returns a result: failures, including panics, become a failed CrawlResult.
func (o *Orchestrator) CrawlDomain(ctx context.Context, raw string) (result CrawlResult) {
	start := time.Now()
	result = FailedResult(raw, "", o.clock.Now())
	defer func() {
		if r := recover(); r != nil {
			o.logger.Error("crawl panicked",
				zap.String("domain", result.Domain),
				zap.Any("panic", r),
				zap.Stack("stack"),
			)
			result.Status = CrawlStatusFailed
			result.Error = fmt.Sprintf("internal error: %v", r)
			result.TotalURLs = 0
			result.URLs = nil
		}
		result.DurationMs = time.Since(start).Milliseconds()
	}()

	domain, err := NormalizeDomain(raw)
	if err != nil {
		result.Error = err.Error()
		return result
	}
	result.Domain = domain
	logger := o.logger.With(zap.String("domain", domain))

	if o.blocklist.IsBlocked(domain) {
		result.Error = fmt.Sprintf("domain %s is blocked", domain)
		logger.Info("domain blocked")
		return result
	}

	fetcher := o.newFetcher()
	discoverer := NewDiscoverer(fetcher, DiscovererConfig{
		Scheme:         o.cfg.Scheme,
		WellKnownPaths: o.cfg.WellKnownPaths,
		FetchTimeout:   o.cfg.FetchTimeout,
	}, logger)
	discovery, err := discoverer.Discover(ctx, domain)
	if err != nil {
		result.Error = err.Error()
		logger.Info("discovery failed", zap.Error(err))
		return result
	}
	result.Domain = discovery.Domain

	expander := NewExpander(fetcher, ExpanderConfig{FetchTimeout: o.cfg.FetchTimeout}, logger)
	aggregate := NewURLSet()
	var firstErr string
	for _, candidate := range discovery.Candidates {
		if ctx.Err() != nil {
			break
		}
		summary, nodes, urls := o.expandCandidate(ctx, expander, candidate)
		aggregate.Merge(urls)
		result.Candidates = append(result.Candidates, summary)
		result.Sitemaps = append(result.Sitemaps, nodes...)
		if summary.Error != "" && firstErr == "" {
			firstErr = summary.Error
		}
	}

	result.URLs = aggregate.Values()
	result.TotalURLs = len(result.URLs)
	switch {
	case result.TotalURLs > 0:
		result.Status = CrawlStatusSuccess
	case ctx.Err() != nil:
		result.Error = fmt.Sprintf("crawl interrupted: %v", ctx.Err())
	case firstErr != "":
		result.Error = firstErr
	default:
		result.Error = errNoURLs
	}
	logger.Info("crawl finished",
		zap.String("status", string(result.Status)),
		zap.Int("total_urls", result.TotalURLs),
		zap.Int("sitemaps", len(result.Sitemaps)),
		zap.Duration("elapsed", time.Since(start)),
	)
	return result
}

// expandCandidate expands one top-level sitemap with its own visited set and
// returns its summary plus the nodes worth reporting: documents that
// contributed URLs and documents that failed. Index nodes and truncated
// references are left out.
func (o *Orchestrator) expandCandidate(ctx context.Context, expander *Expander, candidate SitemapCandidate) (CandidateSummary, []SitemapNode, *URLSet) {
	start := time.Now()
	exp := expander.Expand(ctx, candidate.URL, o.cfg.MaxDepth)
	summary := CandidateSummary{
		URL:        candidate.URL,
		Provenance: candidate.Provenance,
		Status:     NodeStatusSuccess,
		Count:      exp.URLs.Len(),
		DurationMs: time.Since(start).Milliseconds(),
	}
	if !exp.OK {
		summary.Status = NodeStatusFailed
		if len(exp.Nodes) > 0 {
			summary.Error = exp.Nodes[0].Error
		}
	}

	nodes := make([]SitemapNode, 0, len(exp.Nodes))
	for _, node := range exp.Nodes {
		if node.Skipped != "" {
			continue
		}
		if node.Kind == DocumentURLSet || node.Status == NodeStatusFailed {
			nodes = append(nodes, node)
		}
	}
	return summary, nodes, exp.URLs
}
