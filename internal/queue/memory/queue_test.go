package memory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/crawl-frontier/internal/crawler"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newQueuePair(t *testing.T, svc *Service) (string, string) {
	t.Helper()
	ctx := context.Background()
	dlqURL, err := svc.CreateQueue(ctx, "crawl-queue-c1-dlq", crawler.QueueAttributes{})
	require.NoError(t, err)
	arn, err := svc.GetQueueARN(ctx, dlqURL)
	require.NoError(t, err)
	queueURL, err := svc.CreateQueue(ctx, "crawl-queue-c1", crawler.QueueAttributes{
		VisibilityTimeout: 20 * time.Second,
		Redrive:           &crawler.RedrivePolicy{DeadLetterTargetARN: arn, MaxReceiveCount: 2},
	})
	require.NoError(t, err)
	return queueURL, dlqURL
}

func TestCreateQueueIsIdempotentAndResolvable(t *testing.T) {
	t.Parallel()

	svc := NewService(nil)
	ctx := context.Background()
	first, err := svc.CreateQueue(ctx, "q", crawler.QueueAttributes{})
	require.NoError(t, err)
	second, err := svc.CreateQueue(ctx, "q", crawler.QueueAttributes{})
	require.NoError(t, err)
	require.Equal(t, first, second)

	url, err := svc.GetQueueURL(ctx, "q")
	require.NoError(t, err)
	require.Equal(t, first, url)

	_, err = svc.GetQueueURL(ctx, "missing")
	require.ErrorIs(t, err, crawler.ErrNotFound)

	_, err = svc.CreateQueue(ctx, "bad", crawler.QueueAttributes{
		Redrive: &crawler.RedrivePolicy{DeadLetterTargetARN: "arn:memory:queue:nope", MaxReceiveCount: 2},
	})
	require.ErrorIs(t, err, crawler.ErrQueueNotFound)
}

func TestReceiveHidesMessageUntilVisibilityTimeout(t *testing.T) {
	t.Parallel()

	clock := &fakeClock{now: time.Unix(1000, 0)}
	svc := NewService(clock)
	ctx := context.Background()
	queueURL, _ := newQueuePair(t, svc)

	_, err := svc.SendMessage(ctx, queueURL, []byte(`{"page_id":"p1"}`))
	require.NoError(t, err)

	msgs, err := svc.ReceiveMessages(ctx, queueURL, 10, 0)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	require.Equal(t, 1, msgs[0].ReceiveCount)

	again, err := svc.ReceiveMessages(ctx, queueURL, 10, 0)
	require.NoError(t, err)
	require.Empty(t, again)

	clock.Advance(21 * time.Second)
	redelivered, err := svc.ReceiveMessages(ctx, queueURL, 10, 0)
	require.NoError(t, err)
	require.Len(t, redelivered, 1)
	require.Equal(t, 2, redelivered[0].ReceiveCount)
	require.NotEqual(t, msgs[0].ReceiptHandle, redelivered[0].ReceiptHandle)

	// The first receipt is stale once the message was redelivered.
	require.ErrorIs(t, svc.DeleteMessage(ctx, queueURL, msgs[0].ReceiptHandle), crawler.ErrReceiptNotFound)
	require.NoError(t, svc.DeleteMessage(ctx, queueURL, redelivered[0].ReceiptHandle))
	require.ErrorIs(t, svc.DeleteMessage(ctx, queueURL, redelivered[0].ReceiptHandle), crawler.ErrReceiptNotFound)
}

func TestRedriveMovesMessageToDeadLetterQueue(t *testing.T) {
	t.Parallel()

	clock := &fakeClock{now: time.Unix(1000, 0)}
	svc := NewService(clock)
	ctx := context.Background()
	queueURL, dlqURL := newQueuePair(t, svc)

	_, err := svc.SendMessage(ctx, queueURL, []byte("poison"))
	require.NoError(t, err)

	for attempt := 1; attempt <= 2; attempt++ {
		msgs, err := svc.ReceiveMessages(ctx, queueURL, 1, 0)
		require.NoError(t, err)
		require.Len(t, msgs, 1, "attempt %d", attempt)
		clock.Advance(21 * time.Second)
	}

	msgs, err := svc.ReceiveMessages(ctx, queueURL, 1, 0)
	require.NoError(t, err)
	require.Empty(t, msgs)

	visible, inFlight, err := svc.Counts(dlqURL)
	require.NoError(t, err)
	require.Equal(t, 1, visible)
	require.Zero(t, inFlight)

	visible, inFlight, err = svc.Counts(queueURL)
	require.NoError(t, err)
	require.Zero(t, visible+inFlight)
}

func TestDeleteAfterLeaseExpiryFails(t *testing.T) {
	t.Parallel()

	clock := &fakeClock{now: time.Unix(1000, 0)}
	svc := NewService(clock)
	ctx := context.Background()
	queueURL, _ := newQueuePair(t, svc)

	_, err := svc.SendMessage(ctx, queueURL, []byte("job"))
	require.NoError(t, err)
	msgs, err := svc.ReceiveMessages(ctx, queueURL, 1, 0)
	require.NoError(t, err)
	require.Len(t, msgs, 1)

	clock.Advance(20 * time.Second)
	require.ErrorIs(t, svc.DeleteMessage(ctx, queueURL, msgs[0].ReceiptHandle), crawler.ErrReceiptNotFound)
	require.ErrorIs(t, svc.DeleteMessage(ctx, queueURL, []byte("unknown")), crawler.ErrReceiptNotFound)
}

func TestReceiveWaitsForSend(t *testing.T) {
	t.Parallel()

	svc := NewService(nil)
	ctx := context.Background()
	queueURL, err := svc.CreateQueue(ctx, "q", crawler.QueueAttributes{VisibilityTimeout: time.Minute})
	require.NoError(t, err)

	go func() {
		time.Sleep(20 * time.Millisecond)
		_, _ = svc.SendMessage(ctx, queueURL, []byte("late"))
	}()

	msgs, err := svc.ReceiveMessages(ctx, queueURL, 1, 2*time.Second)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	require.Equal(t, "late", string(msgs[0].Body))
}

func TestReceiveHonorsCancellation(t *testing.T) {
	t.Parallel()

	svc := NewService(nil)
	queueURL, err := svc.CreateQueue(context.Background(), "q", crawler.QueueAttributes{})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = svc.ReceiveMessages(ctx, queueURL, 1, 5*time.Second)
	require.True(t, errors.Is(err, context.DeadlineExceeded), "got %v", err)
}

func TestPurgeQueue(t *testing.T) {
	t.Parallel()

	svc := NewService(nil)
	ctx := context.Background()
	queueURL, err := svc.CreateQueue(ctx, "q", crawler.QueueAttributes{})
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		_, err = svc.SendMessage(ctx, queueURL, []byte("x"))
		require.NoError(t, err)
	}
	require.NoError(t, svc.PurgeQueue(ctx, queueURL))
	msgs, err := svc.ReceiveMessages(ctx, queueURL, 10, 0)
	require.NoError(t, err)
	require.Empty(t, msgs)

	require.ErrorIs(t, svc.PurgeQueue(ctx, "memory://queue/missing"), crawler.ErrNotFound)
}
