package crawler

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDiscoverer(f Fetcher) *Discoverer {
	return NewDiscoverer(f, DiscovererConfig{}, nil)
}

func TestDiscoverRobotsDeclaredRelative(t *testing.T) {
	f := newStubFetcher().
		with(base+"/robots.txt", "User-agent: *\nDisallow: /private\nSITEMAP: /sitemap_index.xml\nsitemap: https://example.com/news.xml\nSitemap: /sitemap_index.xml\n").
		with(base+"/sitemap_index.xml", indexXML(base+"/a.xml")).
		with(base+"/news.xml", urlsetXML(base+"/n"))

	got, err := newTestDiscoverer(f).Discover(context.Background(), "example.com")
	require.NoError(t, err)
	assert.Equal(t, "example.com", got.Domain)
	assert.Equal(t, []SitemapCandidate{
		{URL: base + "/sitemap_index.xml", Provenance: ProvenanceRobots},
		{URL: base + "/news.xml", Provenance: ProvenanceRobots},
	}, got.Candidates)
	assert.Zero(t, f.callCount(base+"/sitemap.xml"))
}

func TestDiscoverSkipsInvalidDeclaredSitemaps(t *testing.T) {
	f := newStubFetcher().
		with(base+"/robots.txt", "Sitemap: /broken.xml\nSitemap: ftp://example.com/s.xml\n").
		with(base+"/broken.xml", "<html><body>").
		with(base+"/sitemap_index.xml", indexXML(base+"/a.xml"))

	got, err := newTestDiscoverer(f).Discover(context.Background(), "example.com")
	require.NoError(t, err)
	assert.Equal(t, []SitemapCandidate{{URL: base + "/sitemap_index.xml", Provenance: ProvenanceWellKnown}}, got.Candidates)
	assert.Equal(t, 1, f.callCount(base+"/sitemap.xml"))
}

func TestDiscoverWellKnownFirstMatchWins(t *testing.T) {
	f := newStubFetcher().
		with(base+"/sitemap-index.xml", indexXML(base+"/a.xml")).
		with(base+"/wp-sitemap.xml", indexXML(base+"/b.xml"))

	got, err := newTestDiscoverer(f).Discover(context.Background(), "example.com")
	require.NoError(t, err)
	assert.Equal(t, []SitemapCandidate{{URL: base + "/sitemap-index.xml", Provenance: ProvenanceWellKnown}}, got.Candidates)
	assert.Zero(t, f.callCount(base+"/wp-sitemap.xml"))
}

func TestDiscoverFallsBackToWWWVariant(t *testing.T) {
	f := newStubFetcher().
		with("https://www.example.com/robots.txt", "Sitemap: https://www.example.com/sitemap.xml").
		with("https://www.example.com/sitemap.xml", urlsetXML("https://www.example.com/"))

	got, err := newTestDiscoverer(f).Discover(context.Background(), "example.com")
	require.NoError(t, err)
	assert.Equal(t, "www.example.com", got.Domain)
	require.Len(t, got.Candidates, 1)
	assert.Equal(t, len(DefaultWellKnownPaths), countPrefix(f, base+"/"))
}

func TestDiscoverFallsBackToBareVariant(t *testing.T) {
	f := newStubFetcher().with(base+"/sitemap.xml", urlsetXML(base+"/"))

	got, err := newTestDiscoverer(f).Discover(context.Background(), "www.example.com")
	require.NoError(t, err)
	assert.Equal(t, "example.com", got.Domain)
}

func TestDiscoverAcceptsWellFormedDeclaredDocument(t *testing.T) {
	f := newStubFetcher().
		with(base+"/robots.txt", "Sitemap: /feed.xml\n").
		with(base+"/feed.xml", "<rss><channel/></rss>")

	got, err := newTestDiscoverer(f).Discover(context.Background(), "example.com")
	require.NoError(t, err)
	assert.Equal(t, []SitemapCandidate{{URL: base + "/feed.xml", Provenance: ProvenanceRobots}}, got.Candidates)
	assert.Zero(t, f.callCount(base+"/sitemap.xml"))
}

func TestDiscoverRobotsTimeoutStillProbesWellKnown(t *testing.T) {
	f := newStubFetcher().
		failing(base+"/robots.txt", &TransientFetchError{URL: base + "/robots.txt", Attempts: 3, Err: errors.New("Client.Timeout exceeded")}).
		with(base+"/sitemap.xml", urlsetXML(base+"/"))

	got, err := newTestDiscoverer(f).Discover(context.Background(), "example.com")
	require.NoError(t, err)
	assert.Equal(t, "example.com", got.Domain)
	assert.Equal(t, []SitemapCandidate{{URL: base + "/sitemap.xml", Provenance: ProvenanceWellKnown}}, got.Candidates)
	assert.Equal(t, 1, f.callCount(base+"/sitemap.xml"))
}

func TestDiscoverRobotsTLSFailureStillProbesWellKnown(t *testing.T) {
	f := newStubFetcher().
		failing(base+"/robots.txt", &TLSError{URL: base + "/robots.txt", Err: errors.New("x509: certificate signed by unknown authority")}).
		with(base+"/sitemap_index.xml", indexXML(base+"/a.xml"))

	got, err := newTestDiscoverer(f).Discover(context.Background(), "example.com")
	require.NoError(t, err)
	assert.Equal(t, []SitemapCandidate{{URL: base + "/sitemap_index.xml", Provenance: ProvenanceWellKnown}}, got.Candidates)
}

func TestDiscoverUnreachableHostStopsAfterSitemapXML(t *testing.T) {
	f := newStubFetcher()
	f.fallback = &TransientFetchError{URL: "x", Attempts: 3, Err: errors.New("connection refused")}

	_, err := newTestDiscoverer(f).Discover(context.Background(), "example.com")

	var discoveryErr *DiscoveryError
	require.ErrorAs(t, err, &discoveryErr)
	assert.Equal(t, []string{"example.com", "www.example.com"}, discoveryErr.Hosts)
	assert.Equal(t, 1, f.callCount(base+"/sitemap.xml"))
	assert.Equal(t, 1, f.callCount("https://www.example.com/sitemap.xml"))
	assert.Zero(t, f.callCount(base+"/sitemap_index.xml"))
	assert.Equal(t, 4, f.totalCalls())
}

func TestDiscoverIPHasNoVariant(t *testing.T) {
	_, err := NewDiscoverer(newStubFetcher(), DiscovererConfig{Scheme: "http"}, nil).Discover(context.Background(), "127.0.0.1:8080")

	var discoveryErr *DiscoveryError
	require.ErrorAs(t, err, &discoveryErr)
	assert.Equal(t, []string{"127.0.0.1:8080"}, discoveryErr.Hosts)
}

func TestDiscoverCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := newTestDiscoverer(newStubFetcher()).Discover(ctx, "example.com")
	require.ErrorIs(t, err, context.Canceled)
	var discoveryErr *DiscoveryError
	assert.False(t, errors.As(err, &discoveryErr))
}

func countPrefix(f *stubFetcher, prefix string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	total := 0
	for u, n := range f.calls {
		if len(u) >= len(prefix) && u[:len(prefix)] == prefix && u != prefix+"robots.txt" {
			total += n
		}
	}
	return total
}
