package handler

import (
	"net/http"
	"time"
)

// FeedCounter reports messages received per websocket endpoint.
type FeedCounter interface {
	Received() map[string]int64
}

// StatusHandler serves the process mode and uptime.
type StatusHandler struct {
	mode    string
	host    string
	started time.Time
	feed    FeedCounter
}

// NewStatusHandler creates a StatusHandler. feed may be nil when no listener
// runs.
func NewStatusHandler(mode, host string, feed FeedCounter) *StatusHandler {
	return &StatusHandler{mode: mode, host: host, started: time.Now(), feed: feed}
}

// GetStatus responds with the mode, marketplace host, uptime and listener
// counters.
// GET /api/status
func (h *StatusHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	body := map[string]any{
		"mode":           h.mode,
		"host":           h.host,
		"uptime_seconds": int64(time.Since(h.started).Seconds()),
	}
	if h.feed != nil {
		body["feed_received"] = h.feed.Received()
	}
	writeJSON(w, http.StatusOK, body)
}
