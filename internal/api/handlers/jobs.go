package handlers

import (
	"errors"
	"net/http"

	"github.com/dvloznov/spendtrack/internal/api/middleware"
	"github.com/dvloznov/spendtrack/internal/apperr"
	"github.com/dvloznov/spendtrack/internal/jobs"
	"github.com/rs/zerolog"
)

const (
	defaultJobLimit = 50
	maxJobLimit     = 500
)

// JobsHandler handles job status endpoints.
type JobsHandler struct {
	store     jobs.JobStore
	canceller jobs.Canceller
	log       zerolog.Logger
}

// NewJobsHandler creates a new jobs handler.
func NewJobsHandler(store jobs.JobStore, canceller jobs.Canceller, log zerolog.Logger) *JobsHandler {
	return &JobsHandler{
		store:     store,
		canceller: canceller,
		log:       log,
	}
}

func jobError(op string, err error) error {
	switch {
	case errors.Is(err, jobs.ErrJobNotFound):
		return apperr.NotFound(op, "Job not found")
	case errors.Is(err, jobs.ErrNotCancellable):
		return apperr.Conflict(op, "Job already finished", err)
	default:
		return apperr.Internal(op, err)
	}
}

// List handles GET /api/jobs?source=&status=&limit=&offset=
func (h *JobsHandler) List(w http.ResponseWriter, r *http.Request) {
	const op = "list jobs"

	limit, err := parseInt(op, r, "limit", defaultJobLimit, 1, maxJobLimit)
	if err != nil {
		middleware.WriteAppError(w, requestLog(r, h.log), err)
		return
	}
	offset, err := parseInt(op, r, "offset", 0, 0, int(^uint(0)>>1))
	if err != nil {
		middleware.WriteAppError(w, requestLog(r, h.log), err)
		return
	}

	q := r.URL.Query()
	filter := jobs.JobFilter{
		Source: q.Get("source"),
		Status: jobs.JobStatus(q.Get("status")),
		Limit:  limit,
		Offset: offset,
	}

	list, err := h.store.ListJobs(r.Context(), filter)
	if err != nil {
		middleware.WriteAppError(w, requestLog(r, h.log), apperr.Internal(op, err))
		return
	}
	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"jobs":  list,
		"count": len(list),
	})
}

// Get handles GET /api/jobs/{id}
func (h *JobsHandler) Get(w http.ResponseWriter, r *http.Request) {
	job, err := h.store.GetJob(r.Context(), r.PathValue("id"))
	if err != nil {
		middleware.WriteAppError(w, requestLog(r, h.log), jobError("get job", err))
		return
	}
	middleware.WriteJSON(w, http.StatusOK, job)
}

// Cancel handles POST /api/jobs/{id}/cancel
func (h *JobsHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := h.canceller.Cancel(r.Context(), id); err != nil {
		middleware.WriteAppError(w, requestLog(r, h.log), jobError("cancel job", err))
		return
	}

	log := requestLog(r, h.log)
	log.Info().Str("job_id", id).Msg("Job cancellation requested")
	middleware.WriteJSON(w, http.StatusAccepted, map[string]string{
		"job_id": id,
		"status": "cancelling",
	})
}
