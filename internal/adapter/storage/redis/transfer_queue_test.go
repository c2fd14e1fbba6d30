package redis

import (
	"context"
	"errors"
	"testing"
	"time"

	"wallet-ledger/config"
	"wallet-ledger/internal/core/ports"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestQueue(t *testing.T, cfg config.QueueConfig) (*TransferQueue, *fakeClock) {
	t.Helper()
	_, client := newTestClient(t)
	clock := &fakeClock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	q := NewTransferQueue(client, cfg)
	q.now = clock.Now
	return q, clock
}

func defaultQueueConfig() config.QueueConfig {
	return config.QueueConfig{Attempts: 3, Backoff: 2 * time.Second, KeepCompleted: 100, KeepFailed: 50}
}

func sampleRequest() ports.TransferRequest {
	return ports.TransferRequest{
		SourceWalletID: uuid.New(),
		TargetWalletID: uuid.New(),
		Amount:         decimal.RequireFromString("12.34"),
		IdempotencyKey: "async-1",
	}
}

func TestTransferQueue_EnqueueAndReserve(t *testing.T) {
	q, _ := newTestQueue(t, defaultQueueConfig())
	ctx := context.Background()

	job, err := q.Enqueue(ctx, sampleRequest())
	require.NoError(t, err)
	assert.Equal(t, ports.JobStateWaiting, job.State)
	assert.Equal(t, 3, job.MaxAttempts)

	reserved, err := q.Reserve(ctx)
	require.NoError(t, err)
	require.NotNil(t, reserved)
	assert.Equal(t, job.ID, reserved.ID)
	assert.Equal(t, ports.JobStateActive, reserved.State)
	assert.Equal(t, 1, reserved.AttemptsMade)
	assert.Equal(t, "async-1", reserved.Request.IdempotencyKey)
	assert.True(t, decimal.RequireFromString("12.34").Equal(reserved.Request.Amount))

	none, err := q.Reserve(ctx)
	assert.NoError(t, err)
	assert.Nil(t, none)
}

func TestTransferQueue_ReserveIsFIFO(t *testing.T) {
	q, _ := newTestQueue(t, defaultQueueConfig())
	ctx := context.Background()

	first, err := q.Enqueue(ctx, sampleRequest())
	require.NoError(t, err)
	second, err := q.Enqueue(ctx, sampleRequest())
	require.NoError(t, err)

	a, err := q.Reserve(ctx)
	require.NoError(t, err)
	b, err := q.Reserve(ctx)
	require.NoError(t, err)
	assert.Equal(t, first.ID, a.ID)
	assert.Equal(t, second.ID, b.ID)
}

func TestTransferQueue_Complete(t *testing.T) {
	q, _ := newTestQueue(t, defaultQueueConfig())
	ctx := context.Background()

	_, err := q.Enqueue(ctx, sampleRequest())
	require.NoError(t, err)
	job, err := q.Reserve(ctx)
	require.NoError(t, err)

	txID := uuid.New()
	require.NoError(t, q.Complete(ctx, job, txID))

	stored, err := q.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, ports.JobStateCompleted, stored.State)
	assert.Equal(t, txID, *stored.TransactionID)

	stats, err := q.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), stats.Active)
	assert.Equal(t, int64(1), stats.Completed)
}

func TestTransferQueue_RetryWithExponentialBackoff(t *testing.T) {
	q, clock := newTestQueue(t, defaultQueueConfig())
	ctx := context.Background()

	_, err := q.Enqueue(ctx, sampleRequest())
	require.NoError(t, err)

	job, err := q.Reserve(ctx)
	require.NoError(t, err)
	require.NoError(t, q.Fail(ctx, job, errors.New("lock timeout"), true))
	assert.Equal(t, ports.JobStateDelayed, job.State)
	assert.Equal(t, clock.t.Add(2*time.Second), *job.RunAt)

	// not yet due
	clock.Advance(time.Second)
	none, err := q.Reserve(ctx)
	require.NoError(t, err)
	assert.Nil(t, none)

	clock.Advance(time.Second)
	job, err = q.Reserve(ctx)
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, 2, job.AttemptsMade)
	assert.Equal(t, "lock timeout", job.LastError)

	require.NoError(t, q.Fail(ctx, job, errors.New("lock timeout"), true))
	assert.Equal(t, clock.t.Add(4*time.Second), *job.RunAt)

	clock.Advance(4 * time.Second)
	job, err = q.Reserve(ctx)
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, 3, job.AttemptsMade)

	// attempts exhausted
	require.NoError(t, q.Fail(ctx, job, errors.New("lock timeout"), true))
	assert.Equal(t, ports.JobStateFailed, job.State)

	stats, err := q.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.Failed)
	assert.Equal(t, int64(0), stats.Delayed)
	assert.Equal(t, int64(0), stats.Active)
}

func TestTransferQueue_FailWithoutRetry(t *testing.T) {
	q, _ := newTestQueue(t, defaultQueueConfig())
	ctx := context.Background()

	_, err := q.Enqueue(ctx, sampleRequest())
	require.NoError(t, err)
	job, err := q.Reserve(ctx)
	require.NoError(t, err)

	require.NoError(t, q.Fail(ctx, job, errors.New("insufficient funds"), false))

	stored, err := q.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, ports.JobStateFailed, stored.State)
	assert.Equal(t, 1, stored.AttemptsMade)
	assert.Equal(t, "insufficient funds", stored.LastError)
}

func TestTransferQueue_TrimsFinishedJobs(t *testing.T) {
	cfg := defaultQueueConfig()
	cfg.KeepCompleted = 2
	q, _ := newTestQueue(t, cfg)
	ctx := context.Background()

	var ids []uuid.UUID
	for i := 0; i < 3; i++ {
		_, err := q.Enqueue(ctx, sampleRequest())
		require.NoError(t, err)
		job, err := q.Reserve(ctx)
		require.NoError(t, err)
		require.NoError(t, q.Complete(ctx, job, uuid.New()))
		ids = append(ids, job.ID)
	}

	stats, err := q.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), stats.Completed)

	oldest, err := q.Get(ctx, ids[0])
	require.NoError(t, err)
	assert.Nil(t, oldest, "trimmed job body should be removed")

	newest, err := q.Get(ctx, ids[2])
	require.NoError(t, err)
	assert.NotNil(t, newest)
}

func TestTransferQueue_GetUnknown(t *testing.T) {
	q, _ := newTestQueue(t, defaultQueueConfig())

	job, err := q.Get(context.Background(), uuid.New())
	assert.NoError(t, err)
	assert.Nil(t, job)
}

func TestTransferQueue_Backoff(t *testing.T) {
	q := &TransferQueue{cfg: config.QueueConfig{Backoff: 2 * time.Second}}
	assert.Equal(t, 2*time.Second, q.backoff(1))
	assert.Equal(t, 4*time.Second, q.backoff(2))
	assert.Equal(t, 8*time.Second, q.backoff(3))
	assert.Equal(t, 2*time.Second, q.backoff(0))
}

func TestTransferQueue_RedeliversAfterLeaseExpiry(t *testing.T) {
	cfg := defaultQueueConfig()
	cfg.Lease = 30 * time.Second
	q, clock := newTestQueue(t, cfg)
	ctx := context.Background()

	_, err := q.Enqueue(ctx, sampleRequest())
	require.NoError(t, err)
	job, err := q.Reserve(ctx)
	require.NoError(t, err)
	require.NotNil(t, job)

	// worker dies without finishing the job
	clock.Advance(29 * time.Second)
	none, err := q.Reserve(ctx)
	require.NoError(t, err)
	assert.Nil(t, none, "lease still held")

	clock.Advance(2 * time.Second)
	again, err := q.Reserve(ctx)
	require.NoError(t, err)
	require.NotNil(t, again)
	assert.Equal(t, job.ID, again.ID)
	assert.Equal(t, 2, again.AttemptsMade)
	assert.Equal(t, ports.JobStateActive, again.State)
	assert.NotEmpty(t, again.LastError)

	stats, err := q.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.Active)
	assert.Equal(t, int64(0), stats.Waiting)

	require.NoError(t, q.Complete(ctx, again, uuid.New()))
	stats, err = q.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), stats.Active)
	assert.Equal(t, int64(1), stats.Completed)
}

func TestTransferQueue_LeaseExpiryOnLastAttemptFails(t *testing.T) {
	cfg := defaultQueueConfig()
	cfg.Attempts = 1
	q, clock := newTestQueue(t, cfg)
	ctx := context.Background()

	_, err := q.Enqueue(ctx, sampleRequest())
	require.NoError(t, err)
	job, err := q.Reserve(ctx)
	require.NoError(t, err)
	require.NotNil(t, job)

	clock.Advance(24 * time.Hour)
	none, err := q.Reserve(ctx)
	require.NoError(t, err)
	assert.Nil(t, none)

	stored, err := q.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, ports.JobStateFailed, stored.State)

	stats, err := q.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), stats.Active)
	assert.Equal(t, int64(1), stats.Failed)
}

func TestTransferQueue_LateFinishWithdrawsRedeliveredCopy(t *testing.T) {
	q, clock := newTestQueue(t, defaultQueueConfig())
	ctx := context.Background()

	_, err := q.Enqueue(ctx, sampleRequest())
	require.NoError(t, err)
	slow, err := q.Reserve(ctx)
	require.NoError(t, err)

	// the lease lapses and the job goes back to waiting, then the slow run finishes
	clock.Advance(time.Minute)
	require.NoError(t, q.recoverStalled(ctx))
	stats, err := q.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.Waiting)

	require.NoError(t, q.Complete(ctx, slow, uuid.New()))

	stats, err = q.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), stats.Waiting)
	assert.Equal(t, int64(0), stats.Active)
	assert.Equal(t, int64(1), stats.Completed)
}

func TestTransferQueue_FinishedJobsReleaseLease(t *testing.T) {
	q, clock := newTestQueue(t, defaultQueueConfig())
	ctx := context.Background()

	_, err := q.Enqueue(ctx, sampleRequest())
	require.NoError(t, err)
	job, err := q.Reserve(ctx)
	require.NoError(t, err)
	require.NoError(t, q.Fail(ctx, job, errors.New("insufficient funds"), false))

	clock.Advance(time.Hour)
	none, err := q.Reserve(ctx)
	require.NoError(t, err)
	assert.Nil(t, none)

	stored, err := q.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, ports.JobStateFailed, stored.State)
	assert.Equal(t, "insufficient funds", stored.LastError)
}
