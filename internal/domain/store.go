package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// SubmissionStore journals completed submission cycles.
type SubmissionStore interface {
	Insert(ctx context.Context, s Submission) error
	ListBySession(ctx context.Context, sessionID string) ([]Submission, error)
	ListRecent(ctx context.Context, side Side, opts ListOpts) ([]Submission, error)
	CountByOutcome(ctx context.Context, since time.Time) (map[string]int64, error)
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64
	Event     string
	Detail    map[string]any
	CreatedAt time.Time
}

// AuditStore persists an append-only audit log.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
}
