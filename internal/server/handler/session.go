package handler

import (
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/gflexbot/internal/session"
)

// SessionLister exposes the sessions running in this process.
type SessionLister interface {
	Snapshots() []session.Stats
}

// SessionHandler serves live per-session counters.
type SessionHandler struct {
	sessions SessionLister
	logger   *slog.Logger
}

// NewSessionHandler creates a SessionHandler.
func NewSessionHandler(sessions SessionLister, logger *slog.Logger) *SessionHandler {
	return &SessionHandler{sessions: sessions, logger: logHandler(logger, "sessions")}
}

// ListSessions returns every session with its cycle and outcome counts.
// GET /api/sessions
func (h *SessionHandler) ListSessions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"sessions": h.sessions.Snapshots(),
	})
}

// GetSession returns one session by ID.
// GET /api/sessions/{id}
func (h *SessionHandler) GetSession(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	for _, st := range h.sessions.Snapshots() {
		if st.SessionID == id {
			writeJSON(w, http.StatusOK, st)
			return
		}
	}
	h.logger.DebugContext(r.Context(), "session not found", slog.String("session_id", id))
	writeError(w, http.StatusNotFound, "session not found")
}
