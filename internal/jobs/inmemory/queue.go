package inmemory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dvloznov/spendtrack/internal/jobs"
	"github.com/dvloznov/spendtrack/internal/retry"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const (
	defaultWorkers    = 2
	defaultMaxRetries = 2
)

// Queue is an in-memory implementation of job publisher and consumer.
// It uses Go channels for job distribution and is safe for concurrent use.
// This implementation is suitable for single-instance deployments and testing.
type Queue struct {
	jobChan   chan *jobs.IngestJob
	closeChan chan struct{}
	wg        sync.WaitGroup
	mu        sync.RWMutex
	store     jobs.JobStore
	closed    bool

	workers    int
	maxRetries int
	backoff    retry.Policy
	log        zerolog.Logger

	// running maps job IDs to the cancel func of their handler context;
	// cancelled holds IDs cancelled before a worker picked them up.
	cancelMu  sync.Mutex
	running   map[string]context.CancelFunc
	cancelled map[string]bool
}

// Option configures a Queue.
type Option func(*Queue)

// WithWorkers sets the number of concurrent workers.
func WithWorkers(n int) Option {
	return func(q *Queue) {
		if n > 0 {
			q.workers = n
		}
	}
}

// WithMaxRetries sets the default retry budget for published jobs.
func WithMaxRetries(n int) Option {
	return func(q *Queue) {
		if n >= 0 {
			q.maxRetries = n
		}
	}
}

// WithBackoff sets the delay policy between retries.
func WithBackoff(p retry.Policy) Option {
	return func(q *Queue) { q.backoff = p }
}

// WithLogger sets the queue logger.
func WithLogger(log zerolog.Logger) Option {
	return func(q *Queue) { q.log = log }
}

// NewQueue creates a new in-memory job queue.
// bufferSize determines how many jobs can be queued before PublishIngest blocks.
func NewQueue(bufferSize int, store jobs.JobStore, opts ...Option) *Queue {
	q := &Queue{
		jobChan:    make(chan *jobs.IngestJob, bufferSize),
		closeChan:  make(chan struct{}),
		store:      store,
		workers:    defaultWorkers,
		maxRetries: defaultMaxRetries,
		backoff:    retry.Default(),
		log:        zerolog.Nop(),
		running:    map[string]context.CancelFunc{},
		cancelled:  map[string]bool{},
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// PublishIngest implements the Publisher interface.
// It enqueues an ingestion job for asynchronous processing.
func (q *Queue) PublishIngest(ctx context.Context, job *jobs.IngestJob) error {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed {
		return jobs.ErrQueueClosed
	}

	// Generate job ID if not provided
	if job.JobID == "" {
		job.JobID = uuid.New().String()
	}

	// Set initial status and timestamp
	if job.Status == "" {
		job.Status = jobs.JobStatusPending
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now().UTC()
	}
	if job.MaxRetries == 0 && job.RetryCount == 0 {
		job.MaxRetries = q.maxRetries
	}

	// Save job to store
	if q.store != nil {
		if err := q.store.SaveJob(ctx, job); err != nil {
			return fmt.Errorf("failed to save job: %w", err)
		}
	}

	// Enqueue job with context cancellation support
	select {
	case q.jobChan <- job:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-q.closeChan:
		return jobs.ErrQueueClosed
	}
}

// Start implements the Consumer interface.
// It starts consuming jobs from the queue and processes them using the provided handler.
// The handler is called concurrently, up to the configured number of workers.
func (q *Queue) Start(ctx context.Context, handler jobs.JobHandler) error {
	q.mu.RLock()
	if q.closed {
		q.mu.RUnlock()
		return jobs.ErrQueueClosed
	}
	q.mu.RUnlock()

	for i := 0; i < q.workers; i++ {
		q.wg.Add(1)
		go q.worker(ctx, handler)
	}
	q.log.Info().Int("workers", q.workers).Msg("job queue started")

	return nil
}

// worker processes jobs from the queue.
func (q *Queue) worker(ctx context.Context, handler jobs.JobHandler) {
	defer q.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case <-q.closeChan:
			return
		case job := <-q.jobChan:
			if job == nil {
				return
			}
			if q.takeCancelled(job.JobID) {
				job.Status = jobs.JobStatusCancelled
				job.Error = "cancelled"
				if q.store != nil {
					_ = q.store.SaveJob(ctx, job)
				}
				continue
			}

			q.processJob(ctx, job, handler)
		}
	}
}

// processJob executes a single job with retry logic.
func (q *Queue) processJob(ctx context.Context, job *jobs.IngestJob, handler jobs.JobHandler) {
	var retryJob *jobs.IngestJob
	var retryDelay time.Duration

	jobCtx, cancel := context.WithCancel(ctx)
	q.cancelMu.Lock()
	q.running[job.JobID] = cancel
	q.cancelMu.Unlock()
	defer func() {
		q.cancelMu.Lock()
		delete(q.running, job.JobID)
		delete(q.cancelled, job.JobID)
		q.cancelMu.Unlock()
		cancel()

		// Scheduled only after the running entry is gone, so the next
		// attempt can register its own.
		if retryJob != nil {
			q.scheduleRetry(retryJob, retryDelay)
		}
	}()

	// Update job status to running
	job.Status = jobs.JobStatusRunning
	now := time.Now().UTC()
	job.StartedAt = &now
	job.CompletedAt = nil

	if q.store != nil {
		_ = q.store.SaveJob(ctx, job)
	}
	log := q.log.With().Str("job_id", job.JobID).Int("attempt", job.RetryCount+1).Logger()
	log.Info().Msg("job started")

	// Execute the job handler
	err := runHandler(jobCtx, handler, job)

	// Update job status based on result
	completedAt := time.Now().UTC()
	job.CompletedAt = &completedAt

	switch {
	case err == nil:
		job.Status = jobs.JobStatusCompleted
		job.Error = ""
		log.Info().Msg("job completed")

	case q.takeCancelled(job.JobID) || (errors.Is(err, context.Canceled) && ctx.Err() == nil):
		job.Status = jobs.JobStatusCancelled
		job.Error = "cancelled"
		log.Info().Msg("job cancelled")

	case job.RetryCount < job.MaxRetries && ctx.Err() == nil:
		job.Error = err.Error()
		job.RetryCount++
		job.Status = jobs.JobStatusRetrying

		retryDelay = q.backoff.Delay(job.RetryCount)
		log.Warn().Err(err).Dur("backoff", retryDelay).Msg("job failed, retrying")

		// The retrying record is stored before the next attempt exists, and
		// the timer owns its own copy of the job.
		next := *job
		next.Status = jobs.JobStatusPending
		next.StartedAt = nil
		next.CompletedAt = nil
		retryJob = &next

	default:
		job.Error = err.Error()
		job.Status = jobs.JobStatusFailed
		log.Error().Err(err).Msg("job failed")
	}

	if q.store != nil {
		_ = q.store.SaveJob(ctx, job)
	}
}

// scheduleRetry re-enqueues job once delay has passed.
func (q *Queue) scheduleRetry(job *jobs.IngestJob, delay time.Duration) {
	time.AfterFunc(delay, func() {
		if err := q.PublishIngest(context.Background(), job); err != nil {
			q.log.Error().Err(err).Str("job_id", job.JobID).Msg("failed to re-enqueue job")
		}
	})
}

// runHandler converts a handler panic into an error.
func runHandler(ctx context.Context, handler jobs.JobHandler, job jobs.Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return handler(ctx, job)
}

// Cancel implements the Canceller interface. A running job has its context
// cancelled; a queued job is skipped when a worker reaches it.
func (q *Queue) Cancel(ctx context.Context, jobID string) error {
	if q.store == nil {
		return fmt.Errorf("Cancel: queue has no job store")
	}
	job, err := q.store.GetJob(ctx, jobID)
	if err != nil {
		return err
	}
	if job.Status.Terminal() {
		return fmt.Errorf("%w: %s is %s", jobs.ErrNotCancellable, jobID, job.Status)
	}

	q.cancelMu.Lock()
	q.cancelled[jobID] = true
	cancel, running := q.running[jobID]
	q.cancelMu.Unlock()

	if running {
		cancel()
		return nil
	}
	return q.store.UpdateJobStatus(ctx, jobID, jobs.JobStatusCancelled, "cancelled")
}

// takeCancelled reports and clears a pending cancellation of jobID.
func (q *Queue) takeCancelled(jobID string) bool {
	q.cancelMu.Lock()
	defer q.cancelMu.Unlock()
	if q.cancelled[jobID] {
		delete(q.cancelled, jobID)
		return true
	}
	return false
}

// Stop implements the Consumer interface.
// It stops the queue and waits for all in-flight jobs to complete.
func (q *Queue) Stop(ctx context.Context) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	close(q.closeChan)
	q.mu.Unlock()

	// Wait for workers to finish with timeout
	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close implements the Publisher interface.
// It closes the queue and releases resources.
func (q *Queue) Close() error {
	return q.Stop(context.Background())
}

// Ensure Queue implements the job interfaces.
var _ jobs.Publisher = (*Queue)(nil)
var _ jobs.Consumer = (*Queue)(nil)
var _ jobs.Canceller = (*Queue)(nil)
