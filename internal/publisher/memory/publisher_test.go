package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/sitemap-crawler/internal/crawler"
)

func TestPublisherRecordsEvents(t *testing.T) {
	t.Parallel()

	pub := New()
	ev := crawler.CrawlCompleted{Domain: "example.com", Status: crawler.CrawlStatusSuccess, TotalURLs: 10}
	id, err := pub.Publish(context.Background(), "crawls", ev)
	require.NoError(t, err)
	assert.Equal(t, "memory-1", id)

	_, err = pub.Publish(context.Background(), "other", "payload")
	require.NoError(t, err)

	assert.Equal(t, []any{ev}, pub.ByTopic("crawls"))
	msgs := pub.Messages()
	require.Len(t, msgs, 2)
	msgs[0].Topic = "modified"
	assert.Equal(t, "crawls", pub.Messages()[0].Topic)
}

func TestPublisherFailWith(t *testing.T) {
	t.Parallel()

	pub := New()
	boom := errors.New("unavailable")
	pub.FailWith(boom)
	_, err := pub.Publish(context.Background(), "crawls", "x")
	require.ErrorIs(t, err, boom)
	assert.Empty(t, pub.Messages())

	pub.FailWith(nil)
	_, err = pub.Publish(context.Background(), "crawls", "x")
	require.NoError(t, err)
}
