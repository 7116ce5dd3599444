package inmemory

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dvloznov/spendtrack/internal/jobs"
	"github.com/dvloznov/spendtrack/internal/retry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastBackoff() retry.Policy {
	return retry.Policy{BaseDelay: time.Millisecond, Multiplier: 1}
}

func newTestQueue(t *testing.T, opts ...Option) (*Queue, *Store) {
	t.Helper()
	store := NewStore()
	opts = append([]Option{WithBackoff(fastBackoff())}, opts...)
	q := NewQueue(10, store, opts...)
	t.Cleanup(func() { _ = q.Stop(context.Background()) })
	return q, store
}

func waitForStatus(t *testing.T, store *Store, id string, want jobs.JobStatus) *jobs.IngestJob {
	t.Helper()
	var got *jobs.IngestJob
	require.Eventually(t, func() bool {
		job, err := store.GetJob(context.Background(), id)
		if err != nil {
			return false
		}
		got = job
		return job.Status == want
	}, 2*time.Second, 5*time.Millisecond, "job %s never reached %s", id, want)
	return got
}

func TestQueue_PublishAssignsDefaults(t *testing.T) {
	q, store := newTestQueue(t, WithMaxRetries(4))
	ctx := context.Background()

	job := &jobs.IngestJob{Filename: "statement.csv"}
	require.NoError(t, q.PublishIngest(ctx, job))

	assert.NotEmpty(t, job.JobID)
	assert.Equal(t, jobs.JobStatusPending, job.Status)
	assert.False(t, job.CreatedAt.IsZero())
	assert.Equal(t, 4, job.MaxRetries)

	stored, err := store.GetJob(ctx, job.JobID)
	require.NoError(t, err)
	assert.Equal(t, "statement.csv", stored.Filename)
}

func TestQueue_ProcessesJob(t *testing.T) {
	q, store := newTestQueue(t)
	ctx := context.Background()

	var seen atomic.Value
	require.NoError(t, q.Start(ctx, func(ctx context.Context, job jobs.Job) error {
		seen.Store(job.GetID())
		job.(*jobs.IngestJob).Progress.Successful = 3
		return nil
	}))

	job := &jobs.IngestJob{JobID: "job-1"}
	require.NoError(t, q.PublishIngest(ctx, job))

	got := waitForStatus(t, store, "job-1", jobs.JobStatusCompleted)
	assert.Equal(t, "job-1", seen.Load())
	assert.Equal(t, 3, got.Progress.Successful)
	assert.NotNil(t, got.StartedAt)
	assert.NotNil(t, got.CompletedAt)
	assert.Empty(t, got.Error)
}

func TestQueue_RetriesThenFails(t *testing.T) {
	q, store := newTestQueue(t, WithMaxRetries(2))
	ctx := context.Background()

	var calls atomic.Int32
	require.NoError(t, q.Start(ctx, func(ctx context.Context, job jobs.Job) error {
		calls.Add(1)
		return errors.New("archive unavailable")
	}))

	require.NoError(t, q.PublishIngest(ctx, &jobs.IngestJob{JobID: "job-retry"}))

	got := waitForStatus(t, store, "job-retry", jobs.JobStatusFailed)
	assert.Equal(t, int32(3), calls.Load())
	assert.Equal(t, 2, got.RetryCount)
	assert.Equal(t, "archive unavailable", got.Error)
}

func TestQueue_RetryWithoutBackoffKeepsLatestRecord(t *testing.T) {
	t.Parallel()
	q, store := newTestQueue(t, WithMaxRetries(3), WithWorkers(4), WithBackoff(retry.Policy{}))
	ctx := context.Background()

	// Jobs in succeeds pass on their third attempt; the rest never do.
	succeeds := map[string]bool{"zero-2": true, "zero-4": true, "zero-6": true}
	ids := []string{"zero-1", "zero-2", "zero-3", "zero-4", "zero-5", "zero-6"}

	var calls sync.Map
	require.NoError(t, q.Start(ctx, func(ctx context.Context, job jobs.Job) error {
		v, _ := calls.LoadOrStore(job.GetID(), new(atomic.Int32))
		if n := v.(*atomic.Int32).Add(1); succeeds[job.GetID()] && n == 3 {
			return nil
		}
		return errors.New("store busy")
	}))

	for _, id := range ids {
		require.NoError(t, q.PublishIngest(ctx, &jobs.IngestJob{JobID: id}))
	}

	for _, id := range ids {
		if succeeds[id] {
			got := waitForStatus(t, store, id, jobs.JobStatusCompleted)
			assert.Equal(t, 2, got.RetryCount)
			assert.Empty(t, got.Error)
			continue
		}
		got := waitForStatus(t, store, id, jobs.JobStatusFailed)
		assert.Equal(t, 3, got.RetryCount)
		assert.Equal(t, "store busy", got.Error)
	}

	// No late write replaces a finished record.
	time.Sleep(20 * time.Millisecond)
	for _, id := range ids {
		got, err := store.GetJob(ctx, id)
		require.NoError(t, err)
		assert.True(t, got.Status.Terminal(), "%s ended as %s", id, got.Status)
	}
}

func TestQueue_RetrySucceeds(t *testing.T) {
	q, store := newTestQueue(t, WithMaxRetries(3))
	ctx := context.Background()

	var calls atomic.Int32
	require.NoError(t, q.Start(ctx, func(ctx context.Context, job jobs.Job) error {
		if calls.Add(1) == 1 {
			return errors.New("transient")
		}
		return nil
	}))

	require.NoError(t, q.PublishIngest(ctx, &jobs.IngestJob{JobID: "job-flaky"}))

	got := waitForStatus(t, store, "job-flaky", jobs.JobStatusCompleted)
	assert.Equal(t, 1, got.RetryCount)
	assert.Empty(t, got.Error)
}

func TestQueue_PanicMarksFailed(t *testing.T) {
	q, store := newTestQueue(t, WithMaxRetries(0))
	ctx := context.Background()

	require.NoError(t, q.Start(ctx, func(ctx context.Context, job jobs.Job) error {
		panic("boom")
	}))

	job := &jobs.IngestJob{JobID: "job-panic", MaxRetries: 0, RetryCount: 0}
	require.NoError(t, q.PublishIngest(ctx, job))

	got := waitForStatus(t, store, "job-panic", jobs.JobStatusFailed)
	assert.Contains(t, got.Error, "panic: boom")
}

func TestQueue_CancelRunning(t *testing.T) {
	q, store := newTestQueue(t)
	ctx := context.Background()

	started := make(chan struct{})
	require.NoError(t, q.Start(ctx, func(ctx context.Context, job jobs.Job) error {
		close(started)
		<-ctx.Done()
		return ctx.Err()
	}))

	require.NoError(t, q.PublishIngest(ctx, &jobs.IngestJob{JobID: "job-long"}))
	<-started

	require.NoError(t, q.Cancel(ctx, "job-long"))
	got := waitForStatus(t, store, "job-long", jobs.JobStatusCancelled)
	assert.Equal(t, 0, got.RetryCount)
}

func TestQueue_CancelPending(t *testing.T) {
	q, store := newTestQueue(t, WithWorkers(1))
	ctx := context.Background()

	release := make(chan struct{})
	var ran atomic.Int32
	require.NoError(t, q.Start(ctx, func(ctx context.Context, job jobs.Job) error {
		ran.Add(1)
		if job.GetID() == "blocker" {
			<-release
		}
		return nil
	}))

	require.NoError(t, q.PublishIngest(ctx, &jobs.IngestJob{JobID: "blocker"}))
	waitForStatus(t, store, "blocker", jobs.JobStatusRunning)
	require.NoError(t, q.PublishIngest(ctx, &jobs.IngestJob{JobID: "queued"}))

	require.NoError(t, q.Cancel(ctx, "queued"))
	close(release)

	waitForStatus(t, store, "blocker", jobs.JobStatusCompleted)
	got := waitForStatus(t, store, "queued", jobs.JobStatusCancelled)
	assert.Nil(t, got.StartedAt)
	assert.Equal(t, int32(1), ran.Load())
}

func TestQueue_CancelFinishedAndUnknown(t *testing.T) {
	q, store := newTestQueue(t)
	ctx := context.Background()

	require.NoError(t, store.SaveJob(ctx, &jobs.IngestJob{JobID: "done", Status: jobs.JobStatusCompleted}))

	err := q.Cancel(ctx, "done")
	assert.ErrorIs(t, err, jobs.ErrNotCancellable)

	err = q.Cancel(ctx, "missing")
	assert.ErrorIs(t, err, jobs.ErrJobNotFound)
}

func TestQueue_PublishAfterStop(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()

	require.NoError(t, q.Stop(ctx))
	require.NoError(t, q.Stop(ctx))

	err := q.PublishIngest(ctx, &jobs.IngestJob{})
	assert.ErrorIs(t, err, jobs.ErrQueueClosed)

	err = q.Start(ctx, func(ctx context.Context, job jobs.Job) error { return nil })
	assert.ErrorIs(t, err, jobs.ErrQueueClosed)
}
