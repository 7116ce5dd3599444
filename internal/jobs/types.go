package jobs

import (
	"context"
	"errors"
	"time"
)

// JobType represents the type of job to be executed.
type JobType string

const (
	// JobTypeIngestCSV represents a statement CSV ingestion job.
	JobTypeIngestCSV JobType = "ingest_csv"
)

// JobStatus represents the current status of a job.
type JobStatus string

const (
	// JobStatusPending indicates the job is waiting to be processed.
	JobStatusPending JobStatus = "pending"
	// JobStatusRunning indicates the job is currently being processed.
	JobStatusRunning JobStatus = "running"
	// JobStatusCompleted indicates the job completed successfully.
	JobStatusCompleted JobStatus = "completed"
	// JobStatusFailed indicates the job failed.
	JobStatusFailed JobStatus = "failed"
	// JobStatusRetrying indicates the job failed and is being retried.
	JobStatusRetrying JobStatus = "retrying"
	// JobStatusCancelled indicates the job was cancelled by a caller.
	JobStatusCancelled JobStatus = "cancelled"
)

// Terminal reports whether no further transitions can happen.
func (s JobStatus) Terminal() bool {
	switch s {
	case JobStatusCompleted, JobStatusFailed, JobStatusCancelled:
		return true
	}
	return false
}

var (
	// ErrJobNotFound is returned for an unknown job ID.
	ErrJobNotFound = errors.New("job not found")
	// ErrQueueClosed is returned when publishing to a stopped queue.
	ErrQueueClosed = errors.New("queue is closed")
	// ErrNotCancellable is returned when cancelling a finished job.
	ErrNotCancellable = errors.New("job already finished")
)

// Progress counts rows as an ingestion job works through its file.
type Progress struct {
	TotalRows     int `json:"total_rows"`
	ProcessedRows int `json:"processed_rows"`
	Successful    int `json:"successful"`
	Duplicates    int `json:"duplicates"`
	Skipped       int `json:"skipped"`
	Failed        int `json:"failed"`
}

// IngestJob tracks one uploaded statement from queueing to its final status.
type IngestJob struct {
	JobID    string `json:"job_id"`
	Filename string `json:"filename"`
	// Source tags the importer, e.g. "commbank".
	Source string `json:"source"`
	// ArchiveURI locates the archived upload (file:// or gs://).
	ArchiveURI string    `json:"archive_uri"`
	Status     JobStatus `json:"status"`
	Progress   Progress  `json:"progress"`

	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	// Error is the most recent failure; completion clears it.
	Error      string `json:"error,omitempty"`
	RetryCount int    `json:"retry_count"`
	MaxRetries int    `json:"max_retries"`
}

// Job is a generic interface for all job types.
type Job interface {
	// GetID returns the unique job identifier.
	GetID() string

	// GetType returns the job type.
	GetType() JobType

	// GetStatus returns the current job status.
	GetStatus() JobStatus
}

// GetID implements the Job interface.
func (j *IngestJob) GetID() string {
	return j.JobID
}

// GetType implements the Job interface.
func (j *IngestJob) GetType() JobType {
	return JobTypeIngestCSV
}

// GetStatus implements the Job interface.
func (j *IngestJob) GetStatus() JobStatus {
	return j.Status
}

// Publisher defines the interface for publishing jobs to a queue.
type Publisher interface {
	// PublishIngest publishes a CSV ingestion job.
	PublishIngest(ctx context.Context, job *IngestJob) error

	// Close closes the publisher and releases resources.
	Close() error
}

// Consumer defines the interface for consuming jobs from a queue.
type Consumer interface {
	// Start begins consuming jobs from the queue.
	// The handler function is called for each job received.
	Start(ctx context.Context, handler JobHandler) error

	// Stop stops consuming jobs and waits for in-flight jobs to complete.
	Stop(ctx context.Context) error
}

// Canceller stops a pending or running job.
type Canceller interface {
	Cancel(ctx context.Context, jobID string) error
}

// JobHandler is a function that processes a job.
// It should return an error if the job failed and should be retried.
type JobHandler func(ctx context.Context, job Job) error

// JobStore keeps job records. Implementations hand out copies.
type JobStore interface {
	SaveJob(ctx context.Context, job *IngestJob) error
	GetJob(ctx context.Context, jobID string) (*IngestJob, error)
	// ListJobs returns matching jobs, newest first.
	ListJobs(ctx context.Context, filter JobFilter) ([]*IngestJob, error)
	// UpdateJobStatus sets status; an empty errorMsg keeps the previous error.
	UpdateJobStatus(ctx context.Context, jobID string, status JobStatus, errorMsg string) error
	UpdateProgress(ctx context.Context, jobID string, progress Progress) error
}

// JobFilter narrows ListJobs. Zero values match everything; Limit 0 means
// no limit.
type JobFilter struct {
	Source string
	Status JobStatus
	Limit  int
	Offset int
}
