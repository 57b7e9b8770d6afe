package crawler

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/temoto/robotstxt"
	"go.uber.org/zap"
)

// DefaultWellKnownPaths are probed, in order, when robots.txt declares no
// usable sitemap.
var DefaultWellKnownPaths = []string{
	"sitemap.xml",
	"sitemap_index.xml",
	"sitemap-index.xml",
	"wp-sitemap.xml",
	"post-sitemap.xml",
	"page-sitemap.xml",
	"sitemap.xml.gz",
}

// DiscovererConfig controls sitemap discovery.
type DiscovererConfig struct {
	// Scheme used to build origins; defaults to https.
	Scheme         string
	WellKnownPaths []string
	FetchTimeout   time.Duration
}

// Discoverer locates the top-level sitemaps of a domain.
type Discoverer struct {
	fetcher Fetcher
	cfg     DiscovererConfig
	logger  *zap.Logger
}

// NewDiscoverer constructs a Discoverer.
func NewDiscoverer(fetcher Fetcher, cfg DiscovererConfig, logger *zap.Logger) *Discoverer {
	if cfg.Scheme == "" {
		cfg.Scheme = "https"
	}
	if len(cfg.WellKnownPaths) == 0 {
		cfg.WellKnownPaths = DefaultWellKnownPaths
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Discoverer{fetcher: fetcher, cfg: cfg, logger: logger}
}

// Discover returns the sitemaps declared in robots.txt, or failing that the
// first well-known path that serves well-formed XML. When the host yields
// nothing its www-toggled variant is tried and, if it succeeds, reported as the
// domain. A *DiscoveryError is returned when every option is exhausted; any
// other error means the context ended.
func (d *Discoverer) Discover(ctx context.Context, domain string) (Discovery, error) {
	hosts := []string{domain}
	if variant, ok := HostVariant(domain); ok {
		hosts = append(hosts, variant)
	}
	for _, host := range hosts {
		candidates, err := d.discoverHost(ctx, host)
		if err != nil {
			return Discovery{Domain: domain}, err
		}
		if len(candidates) > 0 {
			d.logger.Info("sitemaps discovered",
				zap.String("domain", domain),
				zap.String("host", host),
				zap.Int("candidates", len(candidates)),
			)
			return Discovery{Domain: host, Candidates: candidates}, nil
		}
	}
	return Discovery{Domain: domain}, &DiscoveryError{Domain: domain, Hosts: hosts}
}

func (d *Discoverer) discoverHost(ctx context.Context, host string) ([]SitemapCandidate, error) {
	origin := originURL(d.cfg.Scheme, host)
	declared, robotsUnreachable, err := d.fromRobots(ctx, origin)
	if err != nil {
		return nil, err
	}
	if len(declared) > 0 {
		return declared, nil
	}
	return d.fromWellKnown(ctx, origin, robotsUnreachable)
}

// fromRobots reports the valid sitemaps declared by robots.txt and whether
// the robots.txt request failed without any HTTP response.
func (d *Discoverer) fromRobots(ctx context.Context, origin string) ([]SitemapCandidate, bool, error) {
	robotsURL := origin + "/robots.txt"
	body, err := d.fetcher.Fetch(ctx, robotsURL, d.cfg.FetchTimeout)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, false, fmt.Errorf("discover %s: %w", origin, ctxErr)
		}
		d.logger.Debug("robots.txt unavailable", zap.String("url", robotsURL), zap.Error(err))
		return nil, IsUnreachable(err), nil
	}

	data, err := robotstxt.FromBytes(body)
	if err != nil {
		d.logger.Debug("robots.txt unparseable", zap.String("url", robotsURL), zap.Error(err))
		return nil, false, nil
	}

	seen := make(map[string]struct{}, len(data.Sitemaps))
	var out []SitemapCandidate
	for _, raw := range data.Sitemaps {
		sitemapURL, ok := resolveReference(origin+"/", raw)
		if !ok {
			continue
		}
		if _, dup := seen[sitemapURL]; dup {
			continue
		}
		seen[sitemapURL] = struct{}{}
		err = d.probe(ctx, sitemapURL)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, false, fmt.Errorf("discover %s: %w", origin, ctxErr)
		}
		if err != nil {
			d.logger.Debug("declared sitemap rejected", zap.String("url", sitemapURL), zap.Error(err))
			continue
		}
		out = append(out, SitemapCandidate{URL: sitemapURL, Provenance: ProvenanceRobots})
	}
	return out, false, nil
}

// fromWellKnown returns the first well-known path that serves well-formed
// XML. When robots.txt already failed without a response, a second
// connection-level failure ends the search for this host.
func (d *Discoverer) fromWellKnown(ctx context.Context, origin string, robotsUnreachable bool) ([]SitemapCandidate, error) {
	for _, path := range d.cfg.WellKnownPaths {
		candidate := origin + "/" + strings.TrimPrefix(path, "/")
		err := d.probe(ctx, candidate)
		if err == nil {
			return []SitemapCandidate{{URL: candidate, Provenance: ProvenanceWellKnown}}, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("discover %s: %w", origin, ctxErr)
		}
		if robotsUnreachable && IsUnreachable(err) {
			d.logger.Info("host unreachable", zap.String("origin", origin), zap.Error(err))
			return nil, nil
		}
	}
	return nil, nil
}

// probe fetches u and checks that it is well-formed XML. Whether it is a
// sitemap is left to the Expander.
func (d *Discoverer) probe(ctx context.Context, u string) error {
	body, err := d.fetcher.Fetch(ctx, u, d.cfg.FetchTimeout)
	if err != nil {
		return err
	}
	return CheckWellFormed(u, body)
}
