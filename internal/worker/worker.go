// Package worker runs domain crawls pulled from a queue and persists their
// outcome.
package worker

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/JakeFAU/sitemap-crawler/internal/crawler"
	"github.com/JakeFAU/sitemap-crawler/internal/metrics"
)

var tracer = otel.Tracer("github.com/JakeFAU/sitemap-crawler/internal/worker")

const (
	archiveContentType = "text/plain; charset=utf-8"
	persistTimeout     = 30 * time.Second
)

// Crawler runs one domain crawl. *crawler.Orchestrator satisfies it.
type Crawler interface {
	CrawlDomain(ctx context.Context, domain string) crawler.CrawlResult
}

// Config controls Worker behavior.
type Config struct {
	ArchivePrefix string
	Topic         string
	SampleURLs    int
}

// EmitFunc receives every finished crawl.
type EmitFunc func(item crawler.QueueItem, result crawler.CrawlResult)

// Worker consumes queue items and runs one domain crawl at a time.
type Worker struct {
	queue     crawler.Queue
	crawler   Crawler
	sessions  crawler.SessionRecorder
	blobStore crawler.BlobStore
	publisher crawler.Publisher
	hasher    crawler.Hasher
	ids       crawler.IDGenerator
	clock     crawler.Clock
	cfg       Config
	logger    *zap.Logger
}

// New constructs a Worker. sessions, blobStore, publisher and ids may be nil,
// which disables the matching persistence step.
func New(
	queue crawler.Queue,
	c Crawler,
	sessions crawler.SessionRecorder,
	blobStore crawler.BlobStore,
	publisher crawler.Publisher,
	hasher crawler.Hasher,
	ids crawler.IDGenerator,
	clock crawler.Clock,
	cfg Config,
	logger *zap.Logger,
) *Worker {
	if clock == nil {
		clock = crawler.ClockFunc(time.Now)
	}
	if cfg.SampleURLs <= 0 {
		cfg.SampleURLs = crawler.DefaultSampleURLs
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{
		queue:     queue,
		crawler:   c,
		sessions:  sessions,
		blobStore: blobStore,
		publisher: publisher,
		hasher:    hasher,
		ids:       ids,
		clock:     clock,
		cfg:       cfg,
		logger:    logger,
	}
}

// Run consumes queue items until the queue is closed and drained, passing
// each result to emit. It returns an error only when ctx ends first.
func (w *Worker) Run(ctx context.Context, emit EmitFunc) error {
	for {
		item, err := w.queue.Dequeue(ctx)
		if errors.Is(err, crawler.ErrQueueClosed) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("worker dequeue: %w", err)
		}
		w.logger.Debug("dequeued domain", zap.String("domain", item.Domain), zap.Int("index", item.Index))
		result := w.Process(ctx, item)
		if emit != nil {
			emit(item, result)
		}
	}
}

// Process crawls item's domain and records the outcome. A panic anywhere in
// the crawl becomes a failed result for that domain only.
func (w *Worker) Process(ctx context.Context, item crawler.QueueItem) (result crawler.CrawlResult) {
	metrics.IncActiveWorkers()
	defer metrics.DecActiveWorkers()

	ctx, span := tracer.Start(ctx, "worker.Process", trace.WithAttributes(
		attribute.String("crawl.domain", item.Domain),
		attribute.Int("crawl.index", item.Index),
	))
	defer func() {
		span.SetAttributes(
			attribute.String("crawl.status", string(result.Status)),
			attribute.Int("crawl.total_urls", result.TotalURLs),
			attribute.String("crawl.session_id", result.SessionID),
		)
		if result.Status == crawler.CrawlStatusFailed {
			span.SetStatus(codes.Error, result.Error)
		}
		span.End()
	}()

	logger := w.logger.With(zap.String("domain", item.Domain))
	func() {
		defer func() {
			if r := recover(); r != nil {
				logger.Error("crawl panicked", zap.Any("panic", r), zap.Stack("stack"))
				result = crawler.FailedResult(item.Domain, fmt.Sprintf("internal error: %v", r), w.clock.Now())
			}
		}()
		result = w.crawler.CrawlDomain(ctx, item.Domain)
	}()
	metrics.ObserveCrawl(string(result.Status), result.TotalURLs, result.Duration())

	persistCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer cancel()
	w.archive(persistCtx, &result, logger)
	w.record(persistCtx, &result, logger)
	w.publish(persistCtx, result, logger)
	return result
}

// archive writes the URL list of a successful crawl as a newline-delimited
// blob named by its digest.
func (w *Worker) archive(ctx context.Context, result *crawler.CrawlResult, logger *zap.Logger) {
	if w.blobStore == nil || w.hasher == nil || result.Status != crawler.CrawlStatusSuccess {
		return
	}
	body := strings.Join(result.URLs, "\n") + "\n"
	hash, err := w.hasher.Hash([]byte(body))
	if err != nil {
		logger.Warn("hash url archive failed", zap.Error(err))
		metrics.ObservePersistenceError("archive")
		return
	}
	uri, err := w.blobStore.PutObject(ctx, w.archivePath(result.Domain, hash), archiveContentType, strings.NewReader(body))
	if err != nil {
		logger.Warn("archive urls failed", zap.Error(err))
		metrics.ObservePersistenceError("archive")
		return
	}
	result.ArchiveURI = uri
}

func (w *Worker) archivePath(domain, hash string) string {
	prefix := strings.Trim(w.cfg.ArchivePrefix, "/")
	if prefix == "" {
		return fmt.Sprintf("%s/%s.txt", domain, hash)
	}
	return fmt.Sprintf("%s/%s/%s.txt", prefix, domain, hash)
}

func (w *Worker) record(ctx context.Context, result *crawler.CrawlResult, logger *zap.Logger) {
	if w.sessions == nil {
		return
	}
	var id string
	if w.ids != nil {
		generated, err := w.ids.NewID()
		if err != nil {
			logger.Warn("generate session id failed", zap.Error(err))
		}
		id = generated
	}
	sessionID, err := w.sessions.SaveSession(ctx, crawler.NewSession(id, *result, w.cfg.SampleURLs))
	if err != nil {
		logger.Error("save session failed", zap.Error(err))
		metrics.ObservePersistenceError("session")
		return
	}
	result.SessionID = sessionID
	logger.Debug("session saved", zap.String("session_id", sessionID))
}

func (w *Worker) publish(ctx context.Context, result crawler.CrawlResult, logger *zap.Logger) {
	if w.cfg.Topic == "" || w.publisher == nil {
		return
	}
	event := crawler.NewCrawlCompleted(result, w.clock.Now())
	msgID, err := w.publisher.Publish(ctx, w.cfg.Topic, event)
	if err != nil {
		logger.Warn("publish crawl completion failed", zap.Error(err))
		metrics.ObservePersistenceError("publish")
		return
	}
	logger.Debug("crawl completion published", zap.String("message_id", msgID))
}
