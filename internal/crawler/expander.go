package crawler

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/sitemap-crawler/internal/metrics"
)

// DefaultMaxDepth bounds sitemap-index nesting.
const DefaultMaxDepth = 10

// ExpanderConfig controls sitemap tree expansion.
type ExpanderConfig struct {
	// FetchTimeout is passed to every fetch; zero uses the fetcher default.
	FetchTimeout time.Duration
}

// Expander turns a sitemap URL into the flat set of leaf URLs reachable
// through it.
type Expander struct {
	fetcher Fetcher
	cfg     ExpanderConfig
	logger  *zap.Logger
}

// NewExpander constructs an Expander.
func NewExpander(fetcher Fetcher, cfg ExpanderConfig, logger *zap.Logger) *Expander {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Expander{fetcher: fetcher, cfg: cfg, logger: logger}
}

// Expand fetches rootURL and, depth first, every sitemap it references down
// to maxDepth. Each call owns its visited set. Nodes are listed parent
// before children, children in document order.
func (e *Expander) Expand(ctx context.Context, rootURL string, maxDepth int) Expansion {
	run := &expansion{
		Expander: e,
		maxDepth: maxDepth,
		visited:  make(map[string]struct{}),
		urls:     NewURLSet(),
	}
	run.visit(ctx, rootURL, "", 0)

	root := run.nodes[0]
	return Expansion{
		URLs:  run.urls,
		Nodes: run.nodes,
		OK:    root.Status == NodeStatusSuccess && root.Skipped == "",
	}
}

type expansion struct {
	*Expander
	maxDepth int
	visited  map[string]struct{}
	urls     *URLSet
	nodes    []SitemapNode
}

func (x *expansion) visit(ctx context.Context, sitemapURL, parent string, depth int) {
	node := SitemapNode{
		URL:    sitemapURL,
		Parent: parent,
		Depth:  depth,
		Status: NodeStatusSuccess,
	}
	if _, seen := x.visited[sitemapURL]; seen {
		node.Skipped = SkipAlreadyVisited
		x.nodes = append(x.nodes, node)
		return
	}
	if depth > x.maxDepth {
		node.Skipped = SkipMaxDepth
		x.nodes = append(x.nodes, node)
		x.logger.Debug("sitemap depth limit reached", zap.String("url", sitemapURL), zap.Int("depth", depth))
		return
	}
	x.visited[sitemapURL] = struct{}{}

	start := time.Now()
	body, err := x.fetcher.Fetch(ctx, sitemapURL, x.cfg.FetchTimeout)
	var doc Document
	if err == nil {
		doc, err = ParseSitemap(sitemapURL, body)
	}
	node.DurationMs = time.Since(start).Milliseconds()
	if err != nil {
		node.Status = NodeStatusFailed
		node.Error = err.Error()
		x.nodes = append(x.nodes, node)
		metrics.ObserveSitemap("", string(NodeStatusFailed))
		x.logger.Warn("sitemap failed",
			zap.String("url", sitemapURL),
			zap.Int("depth", depth),
			zap.Error(err),
		)
		return
	}

	node.Kind = doc.Kind
	metrics.ObserveSitemap(string(doc.Kind), string(NodeStatusSuccess))
	if doc.Kind == DocumentURLSet {
		own := NewURLSet()
		for _, loc := range doc.Locs {
			own.Add(loc)
			x.urls.Add(loc)
		}
		node.Count = own.Len()
		x.nodes = append(x.nodes, node)
		x.logger.Debug("sitemap parsed",
			zap.String("url", sitemapURL),
			zap.Int("depth", depth),
			zap.Int("count", node.Count),
		)
		return
	}

	x.nodes = append(x.nodes, node)
	x.logger.Debug("sitemap index parsed",
		zap.String("url", sitemapURL),
		zap.Int("depth", depth),
		zap.Int("children", len(doc.Locs)),
	)
	for _, loc := range doc.Locs {
		if ctx.Err() != nil {
			return
		}
		child, ok := resolveReference(sitemapURL, loc)
		if !ok {
			continue
		}
		x.visit(ctx, child, sitemapURL, depth+1)
	}
}
