// Package collyfetcher implements crawler.Fetcher using gocolly.
package collyfetcher

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/JakeFAU/sitemap-crawler/internal/crawler"
	"github.com/JakeFAU/sitemap-crawler/internal/metrics"
)

// Defaults applied when Config leaves a field empty.
const (
	DefaultTimeout      = 10 * time.Second
	DefaultMaxBodyBytes = 50 << 20
	DefaultUserAgent    = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 " +
		"(KHTML, like Gecko) Chrome/122.0.0.0 Safari/537.36"

	acceptHeader         = "application/xml,text/xml;q=0.9,text/plain;q=0.8,*/*;q=0.5"
	acceptLanguageHeader = "en-US,en;q=0.9"
)

// Config controls collector behavior.
type Config struct {
	UserAgent    string
	Timeout      time.Duration
	MaxBodyBytes int
	// InsecureFallback enables one unverified attempt after a certificate
	// failure.
	InsecureFallback bool
}

// Fetcher implements crawler.Fetcher using a fresh Colly collector per
// attempt. It holds no per-crawl state and is safe to share between crawls,
// which also share its connection pools.
type Fetcher struct {
	cfg      Config
	policy   crawler.RetryPolicy
	secure   http.RoundTripper
	insecure http.RoundTripper
	sleep    func(context.Context, time.Duration) error
	logger   *zap.Logger
}

type collectorHooks interface {
	OnRequest(colly.RequestCallback)
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

// attemptResult captures what the collector callbacks observed.
type attemptResult struct {
	body   []byte
	status int
	err    error
}

// New builds a Fetcher. A nil policy selects the default linear policy.
func New(cfg Config, policy crawler.RetryPolicy, logger *zap.Logger) *Fetcher {
	if cfg.UserAgent == "" {
		cfg.UserAgent = DefaultUserAgent
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = DefaultMaxBodyBytes
	}
	if policy == nil {
		policy = crawler.NewLinearRetryPolicy(0, 0)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Fetcher{
		cfg:      cfg,
		policy:   policy,
		secure:   newHTTPTransport(),
		insecure: newInsecureHTTPTransport(),
		sleep:    sleepWithContext,
		logger:   logger,
	}
}

// Fetch GETs rawURL and returns its body. Transient failures are retried per
// the policy; a certificate failure gets exactly one unverified attempt.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string, timeout time.Duration) ([]byte, error) {
	if timeout <= 0 {
		timeout = f.cfg.Timeout
	}
	var last attemptResult
	attempts := 0
	for attempts < f.policy.MaxAttempts() {
		attempts++
		last = f.attempt(ctx, f.secure, rawURL, timeout)
		if last.err == nil {
			metrics.ObserveFetchAttempt("success")
			return last.body, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("fetch %s canceled: %w", rawURL, ctxErr)
		}
		if isCertificateError(last.err) {
			metrics.ObserveFetchAttempt("tls_error")
			return f.insecureFallback(ctx, rawURL, timeout, last.err)
		}
		if !f.policy.ShouldRetry(last.err, attempts) {
			break
		}
		metrics.ObserveFetchAttempt("retry")
		delay := f.policy.Backoff(attempts)
		f.logger.Debug("retrying fetch",
			zap.String("url", rawURL),
			zap.Int("attempt", attempts),
			zap.Duration("backoff", delay),
			zap.Error(last.err),
		)
		if err := f.sleep(ctx, delay); err != nil {
			return nil, fmt.Errorf("fetch %s canceled: %w", rawURL, err)
		}
	}
	metrics.ObserveFetchAttempt("failed")

	var statusErr *crawler.HTTPStatusError
	if errors.As(last.err, &statusErr) && !crawler.RetryableStatus(statusErr.Code) {
		return nil, statusErr
	}
	return nil, &crawler.TransientFetchError{
		URL:        rawURL,
		Attempts:   attempts,
		StatusCode: last.status,
		Err:        last.err,
	}
}

func (f *Fetcher) insecureFallback(ctx context.Context, rawURL string, timeout time.Duration, cause error) ([]byte, error) {
	if !f.cfg.InsecureFallback {
		return nil, &crawler.TLSError{URL: rawURL, Err: cause}
	}
	metrics.ObserveTLSFallback()
	f.logger.Warn("certificate verification failed, retrying without verification",
		zap.String("url", rawURL),
		zap.Error(cause),
	)
	res := f.attempt(ctx, f.insecure, rawURL, timeout)
	if res.err == nil {
		metrics.ObserveFetchAttempt("success")
		return res.body, nil
	}
	metrics.ObserveFetchAttempt("failed")
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, fmt.Errorf("fetch %s canceled: %w", rawURL, ctxErr)
	}
	var statusErr *crawler.HTTPStatusError
	if errors.As(res.err, &statusErr) {
		return nil, statusErr
	}
	return nil, &crawler.TLSError{URL: rawURL, Err: res.err}
}

// CloseIdleConnections drops the keep-alive connections of both transports.
func (f *Fetcher) CloseIdleConnections() {
	for _, rt := range []http.RoundTripper{f.secure, f.insecure} {
		if c, ok := rt.(interface{ CloseIdleConnections() }); ok {
			c.CloseIdleConnections()
		}
	}
}

// attempt performs a single GET through transport.
func (f *Fetcher) attempt(ctx context.Context, transport http.RoundTripper, rawURL string, timeout time.Duration) attemptResult {
	var res attemptResult
	collector := f.buildCollector(ctx, transport, timeout)
	f.configureCollectorHooks(collector, rawURL, &res)
	if err := f.runCollector(ctx, collector, rawURL, &res); err != nil && res.err == nil {
		res.err = err
	}
	return res
}

func (f *Fetcher) buildCollector(ctx context.Context, transport http.RoundTripper, timeout time.Duration) *colly.Collector {
	collector := colly.NewCollector(
		colly.Async(false),
		colly.StdlibContext(ctx),
		colly.UserAgent(f.cfg.UserAgent),
		colly.MaxBodySize(f.cfg.MaxBodyBytes),
		colly.AllowURLRevisit(),
		colly.IgnoreRobotsTxt(),
	)
	collector.SetRequestTimeout(timeout)
	collector.WithTransport(transport)
	return collector
}

func (f *Fetcher) configureCollectorHooks(hooks collectorHooks, rawURL string, res *attemptResult) {
	hooks.OnRequest(func(r *colly.Request) {
		r.Headers.Set("Accept", acceptHeader)
		r.Headers.Set("Accept-Language", acceptLanguageHeader)
	})

	hooks.OnResponse(func(r *colly.Response) {
		res.status = r.StatusCode
		res.body = append([]byte(nil), r.Body...)
	})

	hooks.OnError(func(r *colly.Response, err error) {
		if r != nil {
			res.status = r.StatusCode
		}
		if res.status >= 203 {
			res.err = &crawler.HTTPStatusError{URL: rawURL, Code: res.status}
			return
		}
		res.err = err
	})
}

func (f *Fetcher) runCollector(ctx context.Context, collector *colly.Collector, rawURL string, res *attemptResult) error {
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(rawURL)
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("colly fetch canceled: %w", ctx.Err())
	case err := <-done:
		if err != nil {
			return fmt.Errorf("colly visit failed: %w", err)
		}
		if res.err != nil {
			return res.err
		}
		return nil
	}
}
