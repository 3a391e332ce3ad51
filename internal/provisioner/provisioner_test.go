package provisioner

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/crawl-frontier/internal/crawler"
	queueMemory "github.com/JakeFAU/crawl-frontier/internal/queue/memory"
)

type mockQueueService struct {
	mock.Mock
}

func (m *mockQueueService) CreateQueue(ctx context.Context, name string, attrs crawler.QueueAttributes) (string, error) {
	args := m.Called(ctx, name, attrs)
	return args.String(0), args.Error(1)
}

func (m *mockQueueService) GetQueueARN(ctx context.Context, queueURL string) (string, error) {
	args := m.Called(ctx, queueURL)
	return args.String(0), args.Error(1)
}

func (m *mockQueueService) GetQueueURL(ctx context.Context, name string) (string, error) {
	args := m.Called(ctx, name)
	return args.String(0), args.Error(1)
}

func (m *mockQueueService) SendMessage(ctx context.Context, queueURL string, body []byte) (string, error) {
	args := m.Called(ctx, queueURL, body)
	return args.String(0), args.Error(1)
}

func (m *mockQueueService) ReceiveMessages(
	ctx context.Context,
	queueURL string,
	maxMessages int,
	wait time.Duration,
) ([]crawler.QueueMessage, error) {
	args := m.Called(ctx, queueURL, maxMessages, wait)
	msgs, _ := args.Get(0).([]crawler.QueueMessage)
	return msgs, args.Error(1)
}

func (m *mockQueueService) DeleteMessage(ctx context.Context, queueURL string, receiptHandle []byte) error {
	return m.Called(ctx, queueURL, receiptHandle).Error(0)
}

func (m *mockQueueService) PurgeQueue(ctx context.Context, queueURL string) error {
	return m.Called(ctx, queueURL).Error(0)
}

func testConfig() Config {
	return Config{VisibilityTimeout: 20 * time.Second, ReceiveWait: time.Second}
}

func TestProvisionOrdersDLQBeforeMainQueue(t *testing.T) {
	t.Parallel()

	svc := &mockQueueService{}
	ctx := context.Background()
	base := crawler.QueueAttributes{VisibilityTimeout: 20 * time.Second, ReceiveWaitTime: time.Second}
	withRedrive := base
	withRedrive.Redrive = &crawler.RedrivePolicy{DeadLetterTargetARN: "arn:dlq", MaxReceiveCount: 2}

	first := svc.On("CreateQueue", ctx, "crawl-queue-c1-dlq", base).Return("dlq-url", nil).Once()
	arn := svc.On("GetQueueARN", ctx, "dlq-url").Return("arn:dlq", nil).Once().NotBefore(first)
	svc.On("CreateQueue", ctx, "crawl-queue-c1", withRedrive).Return("queue-url", nil).Once().NotBefore(arn)

	p := New(svc, testConfig(), nil)
	handles, err := p.Provision(ctx, "c1")
	require.NoError(t, err)
	require.Equal(t, crawler.QueueHandles{QueueURL: "queue-url", DLQURL: "dlq-url"}, handles)
	svc.AssertExpectations(t)

	// Cached: no further queue service calls.
	cached, err := p.Handles(ctx, "c1")
	require.NoError(t, err)
	require.Equal(t, handles, cached)
	svc.AssertExpectations(t)
}

func TestProvisionFailuresAreProvisioningErrors(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	cases := []struct {
		name  string
		setup func(*mockQueueService)
		step  string
	}{
		{
			name: "dlq create fails",
			setup: func(m *mockQueueService) {
				m.On("CreateQueue", ctx, "crawl-queue-c1-dlq", mock.Anything).Return("", errors.New("throttled"))
			},
			step: "create dead-letter queue",
		},
		{
			name: "arn lookup empty",
			setup: func(m *mockQueueService) {
				m.On("CreateQueue", ctx, "crawl-queue-c1-dlq", mock.Anything).Return("dlq-url", nil)
				m.On("GetQueueARN", ctx, "dlq-url").Return("", nil)
			},
			step: "read dead-letter queue arn",
		},
		{
			name: "main create fails",
			setup: func(m *mockQueueService) {
				m.On("CreateQueue", ctx, "crawl-queue-c1-dlq", mock.Anything).Return("dlq-url", nil)
				m.On("GetQueueARN", ctx, "dlq-url").Return("arn:dlq", nil)
				m.On("CreateQueue", ctx, "crawl-queue-c1", mock.Anything).Return("", errors.New("denied"))
			},
			step: "create queue",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			svc := &mockQueueService{}
			tc.setup(svc)
			p := New(svc, testConfig(), nil)

			_, err := p.Provision(ctx, "c1")
			var perr *crawler.ProvisioningError
			require.ErrorAs(t, err, &perr)
			require.Equal(t, tc.step, perr.Step)
			require.Equal(t, "c1", perr.CrawlID)

			svc.On("GetQueueURL", ctx, "crawl-queue-c1").Return("", crawler.ErrQueueNotFound)
			_, err = p.Handles(ctx, "c1")
			require.ErrorIs(t, err, crawler.ErrNotFound)
		})
	}
}

func TestHandlesResolvesByName(t *testing.T) {
	t.Parallel()

	svc := queueMemory.NewService(nil)
	ctx := context.Background()
	first := New(svc, testConfig(), nil)
	provisioned, err := first.Provision(ctx, "c1")
	require.NoError(t, err)

	// A second process sharing the queue service finds the same queues.
	second := New(svc, testConfig(), nil)
	resolved, err := second.Handles(ctx, "c1")
	require.NoError(t, err)
	require.Equal(t, provisioned, resolved)

	_, err = second.Handles(ctx, "unknown")
	require.ErrorIs(t, err, crawler.ErrNotFound)
}

func TestProvisionWiresRedrive(t *testing.T) {
	t.Parallel()

	svc := queueMemory.NewService(nil)
	ctx := context.Background()
	p := New(svc, Config{VisibilityTimeout: time.Millisecond}, nil)
	handles, err := p.Provision(ctx, "c1")
	require.NoError(t, err)

	_, err = svc.SendMessage(ctx, handles.QueueURL, []byte("job"))
	require.NoError(t, err)
	for i := 0; i < DefaultMaxReceiveCount; i++ {
		require.Eventually(t, func() bool {
			msgs, err := svc.ReceiveMessages(ctx, handles.QueueURL, 1, 0)
			return err == nil && len(msgs) == 1
		}, time.Second, 2*time.Millisecond)
	}
	require.Eventually(t, func() bool {
		visible, _, err := svc.Counts(handles.DLQURL)
		if err != nil {
			return false
		}
		_, _ = svc.ReceiveMessages(ctx, handles.QueueURL, 1, 0)
		return visible == 1
	}, time.Second, 2*time.Millisecond)
}
