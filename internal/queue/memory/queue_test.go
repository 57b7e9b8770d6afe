package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/JakeFAU/sitemap-crawler/internal/crawler"
)

func TestQueueEnqueueDequeue(t *testing.T) {
	t.Parallel()

	q := NewQueue(1)
	result := make(chan crawler.QueueItem, 1)
	errCh := make(chan error, 1)

	go func() {
		item, err := q.Dequeue(context.Background())
		if err != nil {
			errCh <- err
			return
		}
		result <- item
	}()

	item := crawler.QueueItem{Index: 3, Domain: "example.com"}
	if err := q.Enqueue(context.Background(), item); err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}
	select {
	case err := <-errCh:
		t.Fatalf("Dequeue() error = %v", err)
	case got := <-result:
		if got != item {
			t.Fatalf("expected %+v, got %+v", item, got)
		}
	case <-time.After(time.Second):
		t.Fatal("dequeue did not return item")
	}
}

func TestQueueCancelationErrors(t *testing.T) {
	t.Parallel()

	qDequeue := NewQueue(1)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := qDequeue.Dequeue(ctx); err == nil ||
		err.Error() != "dequeue canceled: context canceled" {
		t.Fatalf("expected dequeue cancel error, got %v", err)
	}

	qEnqueue := NewQueue(1)
	if err := qEnqueue.Enqueue(context.Background(), crawler.QueueItem{Domain: "primed"}); err != nil {
		t.Fatalf("failed to prime enqueue queue: %v", err)
	}
	ctx, cancel = context.WithCancel(context.Background())
	cancel()
	if err := qEnqueue.Enqueue(ctx, crawler.QueueItem{}); err == nil ||
		err.Error() != "enqueue canceled: context canceled" {
		t.Fatalf("expected enqueue cancel error, got %v", err)
	}
}

func TestQueueCloseDrainsPendingItems(t *testing.T) {
	t.Parallel()

	q := NewQueue(2)
	for i, d := range []string{"a.com", "b.com"} {
		if err := q.Enqueue(context.Background(), crawler.QueueItem{Index: i, Domain: d}); err != nil {
			t.Fatalf("Enqueue() error = %v", err)
		}
	}
	q.Close()
	// Closing twice should be safe.
	q.Close()

	if err := q.Enqueue(context.Background(), crawler.QueueItem{}); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed on enqueue, got %v", err)
	}
	for _, want := range []string{"a.com", "b.com"} {
		item, err := q.Dequeue(context.Background())
		if err != nil || item.Domain != want {
			t.Fatalf("expected %s, got %+v (err %v)", want, item, err)
		}
	}
	if _, err := q.Dequeue(context.Background()); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}
