package payout

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aimerfeng/Earnzy/internal/cache"
	"github.com/aimerfeng/Earnzy/internal/models"
	"github.com/aimerfeng/Earnzy/internal/monitoring"
)

type memoryQueue struct {
	mu    sync.Mutex
	lists map[string][][]byte
	err   error
}

func newMemoryQueue() *memoryQueue {
	return &memoryQueue{lists: make(map[string][][]byte)}
}

func (q *memoryQueue) Push(_ context.Context, queue string, payload []byte) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return q.err
	}
	q.lists[queue] = append([][]byte{payload}, q.lists[queue]...)
	return nil
}

func (q *memoryQueue) Pop(_ context.Context, queue string, _ time.Duration) ([]byte, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	l := q.lists[queue]
	if len(l) == 0 {
		return nil, cache.ErrQueueEmpty
	}
	last := l[len(l)-1]
	q.lists[queue] = l[:len(l)-1]
	return last, nil
}

func (q *memoryQueue) Len(_ context.Context, queue string) (int64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return 0, q.err
	}
	return int64(len(q.lists[queue])), nil
}

func approvedRequest(amount string) *models.WithdrawRequest {
	reviewer := "admin-1"
	reviewedAt := time.Date(2026, 4, 2, 9, 30, 0, 0, time.UTC)
	return &models.WithdrawRequest{
		ID:             uuid.New(),
		UID:            "user-1",
		RequestedCoins: 200000,
		RequestedINR:   decimal.NewFromInt(200),
		FeePct:         decimal.NewFromInt(10),
		FinalAmountINR: decimal.RequireFromString(amount),
		Status:         models.WithdrawStatusApproved,
		ReviewedBy:     &reviewer,
		ReviewedAt:     &reviewedAt,
	}
}

func TestDispatcher_FIFO(t *testing.T) {
	q := newMemoryQueue()
	d := NewDispatcher(q, "payouts")
	ctx := context.Background()

	first := approvedRequest("180")
	second := approvedRequest("90.5")
	require.NoError(t, d.Enqueue(ctx, first))
	require.NoError(t, d.Enqueue(ctx, second))

	depth, err := d.QueueDepth(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), depth)

	job, err := d.Next(ctx, time.Second)
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, first.ID, job.RequestID)
	assert.True(t, decimal.NewFromInt(180).Equal(job.AmountINR))
	assert.Equal(t, "admin-1", job.ApprovedBy)
	assert.True(t, job.ApprovedAt.Equal(*first.ReviewedAt))

	job, err = d.Next(ctx, time.Second)
	require.NoError(t, err)
	assert.Equal(t, second.ID, job.RequestID)

	job, err = d.Next(ctx, time.Second)
	require.NoError(t, err)
	assert.Nil(t, job)
}

func TestDispatcher_RejectsUnapproved(t *testing.T) {
	q := newMemoryQueue()
	d := NewDispatcher(q, "payouts")
	req := approvedRequest("180")
	req.Status = models.WithdrawStatusPending

	assert.ErrorIs(t, d.Enqueue(context.Background(), req), ErrNotApproved)
	depth, _ := d.QueueDepth(context.Background())
	assert.Zero(t, depth)
}

func TestDispatcher_PushFailure(t *testing.T) {
	q := newMemoryQueue()
	q.err = errors.New("connection reset")
	d := NewDispatcher(q, "payouts")

	err := d.Enqueue(context.Background(), approvedRequest("180"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection reset")
}

func TestDispatcher_ReportDepth(t *testing.T) {
	q := newMemoryQueue()
	d := NewDispatcher(q, "payouts")
	ctx := context.Background()

	require.NoError(t, d.Enqueue(ctx, approvedRequest("180")))
	require.NoError(t, d.Enqueue(ctx, approvedRequest("45")))

	depth, err := d.ReportDepth(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), depth)
	assert.Equal(t, float64(2), promtest.ToFloat64(monitoring.Init().PayoutQueueDepth))

	q.err = errors.New("connection reset")
	_, err = d.ReportDepth(ctx)
	require.Error(t, err)
	assert.Equal(t, float64(2), promtest.ToFloat64(monitoring.Init().PayoutQueueDepth))
}

func TestDispatcher_Redis(t *testing.T) {
	url := os.Getenv("TEST_REDIS_URL")
	if url == "" {
		url = "redis://localhost:6379/15"
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	r, err := cache.New(ctx, url)
	if err != nil {
		t.Skip("Test redis not available")
	}
	defer r.Close()

	key := "earnzy:test:payouts:" + uuid.NewString()
	defer r.Client.Del(context.Background(), key)

	d := NewDispatcher(r, key)
	req := approvedRequest("180")
	require.NoError(t, d.Enqueue(ctx, req))

	job, err := d.Next(ctx, time.Second)
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, req.ID, job.RequestID)

	job, err = d.Next(ctx, 100*time.Millisecond)
	require.NoError(t, err)
	assert.Nil(t, job)
}
