// Package dispatcher fans a batch of domains out to a bounded worker pool.
package dispatcher

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/sitemap-crawler/internal/crawler"
	"github.com/JakeFAU/sitemap-crawler/internal/queue/memory"
	"github.com/JakeFAU/sitemap-crawler/internal/worker"
)

// WorkerFactory builds the worker that will consume queue as pool member
// index.
type WorkerFactory func(queue crawler.Queue, index int) *worker.Worker

// Dispatcher runs batches of domain crawls with at most a fixed number in
// flight. Each batch gets its own queue; nothing else is shared between
// workers.
type Dispatcher struct {
	newWorker      WorkerFactory
	maxConcurrency int
	clock          crawler.Clock
	logger         *zap.Logger
}

// New creates a Dispatcher. maxConcurrency is the default pool size used when
// a call passes zero.
func New(newWorker WorkerFactory, maxConcurrency int, clock crawler.Clock, logger *zap.Logger) *Dispatcher {
	if maxConcurrency <= 0 {
		maxConcurrency = 1
	}
	if clock == nil {
		clock = crawler.ClockFunc(time.Now)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		newWorker:      newWorker,
		maxConcurrency: maxConcurrency,
		clock:          clock,
		logger:         logger,
	}
}

// CrawlDomains crawls every domain and returns one result per input, in
// submission order.
func (d *Dispatcher) CrawlDomains(ctx context.Context, domains []string, maxConcurrency int) []crawler.CrawlResult {
	results := make([]crawler.CrawlResult, len(domains))
	done := make([]bool, len(domains))
	var mu sync.Mutex
	d.run(ctx, domains, maxConcurrency, func(item crawler.QueueItem, result crawler.CrawlResult) {
		mu.Lock()
		defer mu.Unlock()
		results[item.Index] = result
		done[item.Index] = true
	})
	for i := range results {
		if !done[i] {
			results[i] = d.unprocessed(ctx, domains[i])
		}
	}
	return results
}

// Stream crawls every domain and delivers results in completion order. The
// channel is closed after the last result, and it is buffered for the whole
// batch so an abandoned reader never blocks a worker.
func (d *Dispatcher) Stream(ctx context.Context, domains []string, maxConcurrency int) <-chan crawler.CrawlResult {
	out := make(chan crawler.CrawlResult, len(domains))
	go func() {
		defer close(out)
		done := make([]bool, len(domains))
		var mu sync.Mutex
		d.run(ctx, domains, maxConcurrency, func(item crawler.QueueItem, result crawler.CrawlResult) {
			mu.Lock()
			done[item.Index] = true
			mu.Unlock()
			out <- result
		})
		for i, ok := range done {
			if !ok {
				out <- d.unprocessed(ctx, domains[i])
			}
		}
	}()
	return out
}

func (d *Dispatcher) run(ctx context.Context, domains []string, maxConcurrency int, emit worker.EmitFunc) {
	if len(domains) == 0 {
		return
	}
	n := d.poolSize(maxConcurrency, len(domains))

	queue := memory.NewQueue(len(domains))
	for i, domain := range domains {
		if err := queue.Enqueue(ctx, crawler.QueueItem{Index: i, Domain: domain}); err != nil {
			d.logger.Warn("enqueue stopped", zap.Int("index", i), zap.Error(err))
			break
		}
	}
	queue.Close()

	d.logger.Info("batch started", zap.Int("domains", len(domains)), zap.Int("workers", n))
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < n; i++ {
		w := d.newWorker(queue, i)
		g.Go(func() error {
			return w.Run(gctx, emit)
		})
	}
	if err := g.Wait(); err != nil {
		d.logger.Warn("batch interrupted", zap.Error(err))
		return
	}
	d.logger.Info("batch finished", zap.Int("domains", len(domains)))
}

func (d *Dispatcher) poolSize(requested, items int) int {
	n := requested
	if n <= 0 {
		n = d.maxConcurrency
	}
	if n > items {
		n = items
	}
	return n
}

// unprocessed is the result reported for a domain no worker reached before
// the batch ended.
func (d *Dispatcher) unprocessed(ctx context.Context, domain string) crawler.CrawlResult {
	msg := "crawl not started"
	if err := ctx.Err(); err != nil {
		msg = fmt.Sprintf("crawl interrupted: %v", err)
	}
	return crawler.FailedResult(domain, msg, d.clock.Now())
}
