// Package app builds the long-lived services of the sitemap crawler from a
// Config and owns their shutdown.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"cloud.google.com/go/storage"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"

	"github.com/JakeFAU/sitemap-crawler/internal/api"
	"github.com/JakeFAU/sitemap-crawler/internal/clock/system"
	"github.com/JakeFAU/sitemap-crawler/internal/config"
	"github.com/JakeFAU/sitemap-crawler/internal/crawler"
	"github.com/JakeFAU/sitemap-crawler/internal/dispatcher"
	collyfetcher "github.com/JakeFAU/sitemap-crawler/internal/fetcher/colly"
	"github.com/JakeFAU/sitemap-crawler/internal/hash/sha256"
	"github.com/JakeFAU/sitemap-crawler/internal/id/uuid"
	"github.com/JakeFAU/sitemap-crawler/internal/metrics"
	"github.com/JakeFAU/sitemap-crawler/internal/policy/ratelimit"
	gcppublisher "github.com/JakeFAU/sitemap-crawler/internal/publisher/pubsub"
	gcsstorage "github.com/JakeFAU/sitemap-crawler/internal/storage/gcs"
	localstorage "github.com/JakeFAU/sitemap-crawler/internal/storage/local"
	memorystorage "github.com/JakeFAU/sitemap-crawler/internal/storage/memory"
	pgstore "github.com/JakeFAU/sitemap-crawler/internal/storage/postgres"
	"github.com/JakeFAU/sitemap-crawler/internal/telemetry"
	"github.com/JakeFAU/sitemap-crawler/internal/worker"
)

// App contains the application's dependencies.
type App struct {
	cfg    config.Config
	logger *zap.Logger
	clock  crawler.Clock

	orchestrator *crawler.Orchestrator
	dispatch     *dispatcher.Dispatcher
	sessions     crawler.SessionStore
	blobs        crawler.BlobStore
	publisher    crawler.Publisher
	checks       map[string]api.ReadinessCheck

	fetcher    *collyfetcher.Fetcher
	pgStore    *pgstore.SessionStore
	gcsClient  *storage.Client
	pubsubConn *gcppublisher.Publisher
	tracer     *sdktrace.TracerProvider
}

// New wires every service described by cfg. Remote backends are dialed
// eagerly so a bad configuration fails at startup.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics.Init()
	a := &App{
		cfg:    cfg,
		logger: logger,
		clock:  system.New(),
		checks: make(map[string]api.ReadinessCheck),
	}
	var err error
	if cfg.Tracing.Enabled {
		if a.tracer, err = telemetry.InitTracerProvider(ctx, cfg.Tracing); err != nil {
			return nil, fmt.Errorf("tracing init failed: %w", err)
		}
	}
	if err = a.setupSessions(ctx); err != nil {
		a.Close()
		return nil, err
	}
	if err = a.setupArchive(ctx); err != nil {
		a.Close()
		return nil, err
	}
	if err = a.setupPublisher(ctx); err != nil {
		a.Close()
		return nil, err
	}
	a.orchestrator = crawler.NewOrchestrator(
		a.fetcherFactory(),
		a.clock,
		crawler.OrchestratorConfig{
			MaxDepth:       cfg.Crawler.MaxDepth,
			BlockedDomains: cfg.Crawler.BlockedDomains,
			FetchTimeout:   cfg.RequestTimeout(),
			WellKnownPaths: cfg.Crawler.WellKnownPaths,
		},
		logger.Named("crawler"),
	)
	a.dispatch = dispatcher.New(a.newWorker, cfg.Crawler.Concurrency, a.clock, logger.Named("dispatcher"))
	logger.Info("application services initialized",
		zap.String("history", cfg.History.Provider),
		zap.String("archive", cfg.Archive.Provider),
		zap.Bool("pubsub", a.publisher != nil),
	)
	return a, nil
}

// fetcherFactory returns a constructor for per-crawl fetchers. The colly
// fetcher and its connection pools are shared; each crawl gets its own rate
// limiter so pacing state never crosses domains.
func (a *App) fetcherFactory() func() crawler.Fetcher {
	if a.fetcher == nil {
		a.fetcher = collyfetcher.New(collyfetcher.Config{
			UserAgent:        a.cfg.Crawler.UserAgent,
			Timeout:          a.cfg.RequestTimeout(),
			MaxBodyBytes:     a.cfg.Crawler.MaxBodyBytes,
			InsecureFallback: a.cfg.Crawler.InsecureFallback,
		}, crawler.NewLinearRetryPolicy(a.cfg.Crawler.MaxAttempts, a.cfg.BackoffUnit()), a.logger.Named("fetcher"))
	}
	shared := a.fetcher
	limits := ratelimit.Config{
		RequestsPerSecond: a.cfg.Crawler.RequestsPerSecond,
		Burst:             a.cfg.Crawler.Burst,
	}
	return func() crawler.Fetcher {
		if limits.RequestsPerSecond > 0 {
			return ratelimit.Wrap(shared, ratelimit.New(limits))
		}
		return shared
	}
}

func (a *App) newWorker(queue crawler.Queue, index int) *worker.Worker {
	return worker.New(
		queue,
		a.orchestrator,
		a.sessions,
		a.blobs,
		a.publisher,
		sha256.New(),
		uuid.New(),
		a.clock,
		worker.Config{
			ArchivePrefix: a.cfg.Archive.Prefix,
			Topic:         a.cfg.PubSub.TopicName,
			SampleURLs:    a.cfg.History.MaxSampleURLs,
		},
		a.logger.Named("worker").With(zap.Int("worker", index)),
	)
}

func (a *App) setupSessions(ctx context.Context) error {
	switch a.cfg.History.Provider {
	case "postgres":
		store, err := pgstore.NewSessionStore(ctx, pgstore.SessionStoreConfig{
			DSN:             a.cfg.DB.DSN,
			Table:           a.cfg.DB.Table,
			MaxConns:        a.cfg.DB.MaxConns,
			MinConns:        a.cfg.DB.MinConns,
			MaxConnLifetime: time.Duration(a.cfg.DB.MaxConnLifetimeMinutes) * time.Minute,
		})
		if err != nil {
			return fmt.Errorf("session store init failed: %w", err)
		}
		a.pgStore = store
		a.sessions = store
		if a.cfg.DB.EnsureSchema {
			if err := store.EnsureSchema(ctx); err != nil {
				return fmt.Errorf("ensure session schema: %w", err)
			}
		}
		a.checks["postgres"] = store.Ping
		a.logger.Info("postgres session store initialized", zap.String("table", a.cfg.DB.Table))
	default:
		a.logger.Info("using in-memory session store")
		a.sessions = memorystorage.NewSessionStore()
	}
	return nil
}

func (a *App) setupArchive(ctx context.Context) error {
	switch a.cfg.Archive.Provider {
	case "gcs":
		client, err := storage.NewClient(ctx)
		if err != nil {
			return fmt.Errorf("gcs client init failed: %w", err)
		}
		a.gcsClient = client
		store, err := gcsstorage.New(client, gcsstorage.Config{Bucket: a.cfg.Archive.GCSBucket})
		if err != nil {
			return fmt.Errorf("gcs blob store init failed: %w", err)
		}
		if err := store.Verify(ctx); err != nil {
			return err //nolint:wrapcheck // Verify names the bucket
		}
		a.blobs = store
		a.checks["gcs"] = store.Verify
		a.logger.Info("using GCS archive", zap.String("bucket", a.cfg.Archive.GCSBucket))
	case "local":
		store, err := localstorage.New(localstorage.Config{BaseDir: a.cfg.Archive.BaseDir})
		if err != nil {
			return fmt.Errorf("local blob store init failed: %w", err)
		}
		a.blobs = store
		a.logger.Info("using local archive", zap.String("path", a.cfg.Archive.BaseDir))
	case "memory":
		a.blobs = memorystorage.NewBlobStore()
		a.logger.Info("using in-memory archive")
	default:
		a.logger.Debug("url archiving disabled")
	}
	return nil
}

func (a *App) setupPublisher(ctx context.Context) error {
	if a.cfg.PubSub.TopicName == "" || a.cfg.PubSub.ProjectID == "" {
		a.logger.Debug("no Pub/Sub topic configured, completion events disabled")
		return nil
	}
	pub, err := gcppublisher.Dial(ctx, a.cfg.PubSub.ProjectID)
	if err != nil {
		return fmt.Errorf("pubsub publisher init failed: %w", err)
	}
	a.pubsubConn = pub
	a.publisher = pub
	a.logger.Info("Pub/Sub publisher initialized",
		zap.String("project", a.cfg.PubSub.ProjectID),
		zap.String("topic", a.cfg.PubSub.TopicName),
	)
	return nil
}

// Dispatcher returns the batch crawler.
func (a *App) Dispatcher() *dispatcher.Dispatcher {
	return a.dispatch
}

// Sessions returns the configured session store.
func (a *App) Sessions() crawler.SessionStore {
	return a.sessions
}

// Handler builds the HTTP API on top of the wired services.
func (a *App) Handler() http.Handler {
	return api.NewServer(a.dispatch, a.sessions, a.clock, a.cfg, a.checks, a.logger.Named("api")).Handler()
}

// Close releases remote clients. It is safe to call on a partially built App.
func (a *App) Close() {
	var errs []error
	if a.fetcher != nil {
		a.fetcher.CloseIdleConnections()
	}
	if a.pubsubConn != nil {
		errs = append(errs, a.pubsubConn.Close())
	}
	if a.gcsClient != nil {
		errs = append(errs, a.gcsClient.Close())
	}
	if a.pgStore != nil {
		a.pgStore.Close()
	}
	if a.tracer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		errs = append(errs, a.tracer.Shutdown(ctx))
	}
	if err := errors.Join(errs...); err != nil {
		a.logger.Warn("error closing application services", zap.Error(err))
	}
}
