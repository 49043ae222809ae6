package sse

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/evalsvc/docreview/internal/core"
)

// Handler streams one job's event log over SSE: history replay followed by
// live tail.
type Handler struct {
	bus           *Bus
	heartbeatFreq time.Duration
}

// NewHandler creates a handler bound to bus.
func NewHandler(bus *Bus) *Handler {
	return &Handler{bus: bus, heartbeatFreq: 30 * time.Second}
}

// ServeJob streams jobID's events to w. Callers route e.g.
// GET /api/evaluate/:id/stream to this with the path's job id.
func (h *Handler) ServeJob(w http.ResponseWriter, r *http.Request, jobID core.JobID) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "SSE not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	history, live, closedNow := h.bus.Subscribe(jobID)
	for _, ev := range history {
		h.sendEvent(w, flusher, ev)
	}
	if closedNow {
		return
	}
	defer h.bus.Unsubscribe(jobID, live)

	heartbeat := time.NewTicker(h.heartbeatFreq)
	defer heartbeat.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case <-heartbeat.C:
			h.sendComment(w, flusher, "heartbeat")
		case ev, ok := <-live:
			if !ok {
				return
			}
			h.sendEvent(w, flusher, ev)
		}
	}
}

func (h *Handler) sendEvent(w http.ResponseWriter, flusher http.Flusher, ev Event) {
	payload := map[string]interface{}{
		"jobId":     ev.JobID,
		"timestamp": ev.Timestamp.UTC().Format(time.RFC3339Nano),
		"data":      json.RawMessage(ev.Data),
	}
	jsonData, err := json.Marshal(payload)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Type, jsonData)
	flusher.Flush()
}

func (h *Handler) sendComment(w http.ResponseWriter, flusher http.Flusher, comment string) {
	fmt.Fprintf(w, ": %s\n\n", comment)
	flusher.Flush()
}
