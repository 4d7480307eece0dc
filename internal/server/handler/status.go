package handler

import (
	"net/http"
	"time"

	"github.com/alanyoungcy/tickscraper/internal/pipeline"
)

// PipelineSource reports the state of every running pipeline.
type PipelineSource interface {
	Statuses() []pipeline.Status
}

// StatusHandler serves per-pipeline state and counters.
type StatusHandler struct {
	pipelines PipelineSource
	started   time.Time
	extras    map[string]func() any
}

// NewStatusHandler creates a StatusHandler. extras adds named sections (for
// example journal or auditor counters) to the response.
func NewStatusHandler(pipelines PipelineSource, extras map[string]func() any) *StatusHandler {
	return &StatusHandler{
		pipelines: pipelines,
		started:   time.Now(),
		extras:    extras,
	}
}

// GetStatus responds with every pipeline's state and counters.
// GET /api/status
func (h *StatusHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	body := map[string]any{
		"pipelines":      h.pipelines.Statuses(),
		"uptime_seconds": int64(time.Since(h.started).Seconds()),
	}
	for name, fn := range h.extras {
		body[name] = fn()
	}
	writeJSON(w, http.StatusOK, body)
}
