// Package events streams job updates to websocket clients.
package events

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/dvloznov/spendtrack/internal/jobs"
	"github.com/olahol/melody"
	"github.com/rs/zerolog"
)

const jobFilterKey = "job_id"

// Message is the frame sent for every job change.
type Message struct {
	Type string         `json:"type"`
	Job  jobs.IngestJob `json:"job"`
	At   time.Time      `json:"at"`
}

// Hub fans job updates out to connected sessions. A session connected with
// ?job_id=X only receives updates for X.
type Hub struct {
	m   *melody.Melody
	log zerolog.Logger
}

// NewHub creates a hub with keep-alive pings.
func NewHub(log zerolog.Logger) *Hub {
	m := melody.New()
	m.Config.MaxMessageSize = 1024
	m.Config.PingPeriod = 30 * time.Second
	m.Config.PongWait = 60 * time.Second

	h := &Hub{m: m, log: log}

	m.HandleConnect(func(s *melody.Session) {
		jobID, _ := s.Get(jobFilterKey)
		h.log.Debug().Interface("job_id", jobID).Msg("websocket client connected")
	})

	m.HandleDisconnect(func(s *melody.Session) {
		jobID, _ := s.Get(jobFilterKey)
		h.log.Debug().Interface("job_id", jobID).Msg("websocket client disconnected")
	})

	m.HandleError(func(s *melody.Session, err error) {
		h.log.Debug().Err(err).Msg("websocket error")
	})

	return h
}

// ServeHTTP upgrades the request to a websocket session. The job filter is
// attached before the session is registered.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var keys map[string]interface{}
	if jobID := r.URL.Query().Get("job_id"); jobID != "" {
		keys = map[string]interface{}{jobFilterKey: jobID}
	}
	if err := h.m.HandleRequestWithKeys(w, r, keys); err != nil {
		h.log.Warn().Err(err).Msg("failed to upgrade websocket")
	}
}

// PublishJob sends job to every interested session. It is safe to use as a
// job store observer.
func (h *Hub) PublishJob(job jobs.IngestJob) {
	if h.m.IsClosed() {
		return
	}

	msg, err := json.Marshal(Message{Type: "job", Job: job, At: time.Now().UTC()})
	if err != nil {
		h.log.Error().Err(err).Msg("failed to encode job event")
		return
	}

	err = h.m.BroadcastFilter(msg, func(s *melody.Session) bool {
		id, exists := s.Get(jobFilterKey)
		return !exists || id == job.JobID
	})
	if err != nil {
		h.log.Warn().Err(err).Str("job_id", job.JobID).Msg("failed to broadcast job event")
	}
}

// Sessions returns the number of connected clients.
func (h *Hub) Sessions() int {
	return h.m.Len()
}

// Close disconnects every session.
func (h *Hub) Close() error {
	if h.m.IsClosed() {
		return nil
	}
	return h.m.Close()
}
