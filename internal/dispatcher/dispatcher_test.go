package dispatcher

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/sitemap-crawler/internal/crawler"
	"github.com/JakeFAU/sitemap-crawler/internal/worker"
)

type slowCrawler struct {
	delays   map[string]time.Duration
	inFlight atomic.Int32
	peak     atomic.Int32
}

func (c *slowCrawler) CrawlDomain(ctx context.Context, domain string) crawler.CrawlResult {
	n := c.inFlight.Add(1)
	defer c.inFlight.Add(-1)
	for {
		peak := c.peak.Load()
		if n <= peak || c.peak.CompareAndSwap(peak, n) {
			break
		}
	}
	if domain == "panic.com" {
		panic("exploded")
	}
	delay := c.delays[domain]
	if delay == 0 {
		delay = 5 * time.Millisecond
	}
	select {
	case <-ctx.Done():
		return crawler.FailedResult(domain, fmt.Sprintf("crawl interrupted: %v", ctx.Err()), time.Now())
	case <-time.After(delay):
	}
	return crawler.CrawlResult{Domain: domain, Status: crawler.CrawlStatusSuccess, TotalURLs: 1, URLs: []string{"https://" + domain + "/"}}
}

func newTestDispatcher(c worker.Crawler, maxConcurrency int) *Dispatcher {
	factory := func(queue crawler.Queue, _ int) *worker.Worker {
		return worker.New(queue, c, nil, nil, nil, nil, nil, nil, worker.Config{}, zap.NewNop())
	}
	return New(factory, maxConcurrency, nil, zap.NewNop())
}

func domains(n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = fmt.Sprintf("site%d.com", i)
	}
	return out
}

func TestCrawlDomainsPreservesSubmissionOrder(t *testing.T) {
	t.Parallel()

	c := &slowCrawler{delays: map[string]time.Duration{"site0.com": 50 * time.Millisecond}}
	d := newTestDispatcher(c, 4)

	input := domains(6)
	results := d.CrawlDomains(context.Background(), input, 0)
	require.Len(t, results, len(input))
	for i, result := range results {
		assert.Equal(t, input[i], result.Domain)
		assert.Equal(t, crawler.CrawlStatusSuccess, result.Status)
	}
}

func TestCrawlDomainsBoundsConcurrency(t *testing.T) {
	t.Parallel()

	c := &slowCrawler{delays: map[string]time.Duration{}}
	for _, domain := range domains(12) {
		c.delays[domain] = 20 * time.Millisecond
	}
	d := newTestDispatcher(c, 10)

	results := d.CrawlDomains(context.Background(), domains(12), 3)
	require.Len(t, results, 12)
	assert.LessOrEqual(t, c.peak.Load(), int32(3))
	assert.Positive(t, c.peak.Load())
}

func TestCrawlDomainsEmptyBatch(t *testing.T) {
	t.Parallel()

	d := newTestDispatcher(&slowCrawler{}, 2)
	assert.Empty(t, d.CrawlDomains(context.Background(), nil, 2))

	var got []crawler.CrawlResult
	for result := range d.Stream(context.Background(), nil, 2) {
		got = append(got, result)
	}
	assert.Empty(t, got)
}

func TestCrawlDomainsIsolatesPanics(t *testing.T) {
	t.Parallel()

	d := newTestDispatcher(&slowCrawler{}, 2)
	results := d.CrawlDomains(context.Background(), []string{"ok.com", "panic.com", "fine.org"}, 2)
	require.Len(t, results, 3)
	assert.Equal(t, crawler.CrawlStatusSuccess, results[0].Status)
	assert.Equal(t, crawler.CrawlStatusFailed, results[1].Status)
	assert.Equal(t, "internal error: exploded", results[1].Error)
	assert.Equal(t, crawler.CrawlStatusSuccess, results[2].Status)
}

func TestStreamDeliversInCompletionOrder(t *testing.T) {
	t.Parallel()

	c := &slowCrawler{delays: map[string]time.Duration{
		"slow.com": 200 * time.Millisecond,
		"fast.com": time.Millisecond,
	}}
	d := newTestDispatcher(c, 2)

	var order []string
	for result := range d.Stream(context.Background(), []string{"slow.com", "fast.com"}, 2) {
		order = append(order, result.Domain)
	}
	assert.Equal(t, []string{"fast.com", "slow.com"}, order)
}

func TestCanceledBatchReportsEveryDomain(t *testing.T) {
	t.Parallel()

	d := newTestDispatcher(&slowCrawler{}, 2)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	input := domains(5)
	results := d.CrawlDomains(ctx, input, 2)
	require.Len(t, results, len(input))
	for i, result := range results {
		assert.Equal(t, input[i], result.Domain)
		assert.Equal(t, crawler.CrawlStatusFailed, result.Status)
		assert.Contains(t, result.Error, "crawl interrupted")
	}
}
