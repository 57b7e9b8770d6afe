package ratelimit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/sitemap-crawler/internal/crawler"
)

func TestLimiterWait(t *testing.T) {
	l := New(Config{RequestsPerSecond: 10, Burst: 1})
	ctx := context.Background()

	require.NoError(t, l.Wait(ctx, "https://test.com/robots.txt"))

	start := time.Now()
	require.NoError(t, l.Wait(ctx, "https://test.com/sitemap.xml"))
	assert.GreaterOrEqual(t, time.Since(start), 80*time.Millisecond)
}

func TestLimiterDifferentHosts(t *testing.T) {
	l := New(Config{RequestsPerSecond: 1, Burst: 1})
	ctx := context.Background()

	require.NoError(t, l.Wait(ctx, "https://a.com/1"))
	start := time.Now()
	require.NoError(t, l.Wait(ctx, "https://b.com/1"))
	assert.Less(t, time.Since(start), 100*time.Millisecond)
}

func TestLimiterUnlimited(t *testing.T) {
	l := New(Config{})
	start := time.Now()
	for i := 0; i < 50; i++ {
		require.NoError(t, l.Wait(context.Background(), "https://a.com/"))
	}
	assert.Less(t, time.Since(start), 100*time.Millisecond)
}

func TestLimiterCanceled(t *testing.T) {
	l := New(Config{RequestsPerSecond: 0.001, Burst: 1})
	require.NoError(t, l.Wait(context.Background(), "https://a.com/"))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.Error(t, l.Wait(ctx, "https://a.com/"))
}

type fetcherFunc func(ctx context.Context, url string, timeout time.Duration) ([]byte, error)

func (f fetcherFunc) Fetch(ctx context.Context, url string, timeout time.Duration) ([]byte, error) {
	return f(ctx, url, timeout)
}

func TestWrapDelegatesAndPreservesErrors(t *testing.T) {
	notFound := &crawler.HTTPStatusError{URL: "https://a.com/x", Code: 404}
	next := fetcherFunc(func(_ context.Context, url string, _ time.Duration) ([]byte, error) {
		if url == "https://a.com/x" {
			return nil, notFound
		}
		return []byte("ok"), nil
	})
	f := Wrap(next, New(Config{}))

	body, err := f.Fetch(context.Background(), "https://a.com/ok", time.Second)
	require.NoError(t, err)
	assert.Equal(t, "ok", string(body))

	_, err = f.Fetch(context.Background(), "https://a.com/x", time.Second)
	var statusErr *crawler.HTTPStatusError
	require.True(t, errors.As(err, &statusErr))
	assert.Equal(t, 404, crawler.StatusCode(err))
}
