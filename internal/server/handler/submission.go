package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/gflexbot/internal/domain"
)

const defaultOutcomeWindow = 24 * time.Hour

// SubmissionHandler serves the submission journal and audit log.
type SubmissionHandler struct {
	submissions domain.SubmissionStore
	audit       domain.AuditStore
	logger      *slog.Logger
}

// NewSubmissionHandler creates a SubmissionHandler backed by the journal.
func NewSubmissionHandler(submissions domain.SubmissionStore, audit domain.AuditStore, logger *slog.Logger) *SubmissionHandler {
	return &SubmissionHandler{
		submissions: submissions,
		audit:       audit,
		logger:      logHandler(logger, "submissions"),
	}
}

// ListRecent returns journaled cycles, newest first. ?side=buy|sell narrows
// to one side.
// GET /api/submissions
func (h *SubmissionHandler) ListRecent(w http.ResponseWriter, r *http.Request) {
	opts, err := parseListOpts(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var side domain.Side
	if v := r.URL.Query().Get("side"); v != "" {
		if side, err = domain.ParseSide(v); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}

	subs, err := h.submissions.ListRecent(r.Context(), side, opts)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "list submissions failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to list submissions")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"submissions": subs,
		"limit":       opts.Limit,
		"offset":      opts.Offset,
	})
}

// ListBySession returns every journaled cycle of one session.
// GET /api/sessions/{id}/submissions
func (h *SubmissionHandler) ListBySession(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	if _, err := uuid.Parse(id); err != nil {
		writeError(w, http.StatusBadRequest, "session id must be a UUID")
		return
	}
	subs, err := h.submissions.ListBySession(r.Context(), id)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "list session submissions failed",
			slog.String("session_id", id),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list submissions")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"session_id": id, "submissions": subs})
}

// CountOutcomes returns outcome totals since ?since (default: last 24h).
// GET /api/submissions/outcomes
func (h *SubmissionHandler) CountOutcomes(w http.ResponseWriter, r *http.Request) {
	since := time.Now().Add(-defaultOutcomeWindow)
	if v := r.URL.Query().Get("since"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "since: "+err.Error())
			return
		}
		since = t
	}

	counts, err := h.submissions.CountByOutcome(r.Context(), since)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "count outcomes failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to count outcomes")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"since":    since.UTC().Format(time.RFC3339),
		"outcomes": counts,
	})
}

// ListAudit returns audit log entries, newest first.
// GET /api/audit
func (h *SubmissionHandler) ListAudit(w http.ResponseWriter, r *http.Request) {
	opts, err := parseListOpts(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	entries, err := h.audit.List(r.Context(), opts)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "list audit failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to list audit log")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}
