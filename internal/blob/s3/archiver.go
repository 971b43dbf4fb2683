package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"path"
	"time"

	"github.com/alanyoungcy/gflexbot/internal/domain"
)

const (
	jsonlContentType = "application/x-ndjson"
	// multipartThreshold switches uploads to the multipart manager.
	multipartThreshold = 8 * 1024 * 1024
)

// SessionSource reads a session's journal.
type SessionSource interface {
	ListBySession(ctx context.Context, sessionID string) ([]domain.Submission, error)
}

// existenceChecker is satisfied by Objects.
type existenceChecker interface {
	Exists(ctx context.Context, path string) (bool, error)
}

// Archiver implements domain.SessionArchiver: it exports a finished
// session's submissions as JSONL to
// {prefix}/{side}/{yyyy}/{mm}/{dd}/{session_id}.jsonl.
type Archiver struct {
	writer domain.BlobWriter
	source SessionSource
	audit  domain.AuditStore
	prefix string
	now    func() time.Time
}

// NewArchiver creates an Archiver. audit may be nil.
func NewArchiver(writer domain.BlobWriter, source SessionSource, audit domain.AuditStore, prefix string) *Archiver {
	if prefix == "" {
		prefix = "sessions"
	}
	return &Archiver{writer: writer, source: source, audit: audit, prefix: prefix, now: time.Now}
}

// ArchiveSession uploads the session's journal. A session with no
// submissions uploads nothing and returns an empty path. An object already
// present at the target path is left untouched.
func (a *Archiver) ArchiveSession(ctx context.Context, sessionID string, side domain.Side) (string, int, error) {
	subs, err := a.source.ListBySession(ctx, sessionID)
	if err != nil {
		return "", 0, fmt.Errorf("s3blob: archive session %s query: %w", sessionID, err)
	}
	if len(subs) == 0 {
		return "", 0, nil
	}

	key := a.archivePath(side, subs[0].CreatedAt, sessionID)
	if ec, ok := a.writer.(existenceChecker); ok {
		exists, err := ec.Exists(ctx, key)
		if err != nil {
			return "", 0, err
		}
		if exists {
			return key, len(subs), nil
		}
	}

	buf, err := marshalJSONL(subs)
	if err != nil {
		return "", 0, fmt.Errorf("s3blob: archive session %s marshal: %w", sessionID, err)
	}
	if len(buf) > multipartThreshold {
		err = a.writer.PutMultipart(ctx, key, bytes.NewReader(buf), minPartSize)
	} else {
		err = a.writer.Put(ctx, key, bytes.NewReader(buf), jsonlContentType)
	}
	if err != nil {
		return "", 0, fmt.Errorf("s3blob: archive session %s upload: %w", sessionID, err)
	}

	if a.audit != nil {
		if err := a.audit.Log(ctx, "archive.session", map[string]any{
			"session_id": sessionID,
			"side":       side.String(),
			"path":       key,
			"count":      len(subs),
			"bytes":      len(buf),
		}); err != nil {
			return key, len(subs), fmt.Errorf("s3blob: archive session %s audit log: %w", sessionID, err)
		}
	}
	return key, len(subs), nil
}

func (a *Archiver) archivePath(side domain.Side, started time.Time, sessionID string) string {
	if started.IsZero() {
		started = a.now()
	}
	return path.Join(a.prefix, side.String(), started.UTC().Format("2006/01/02"), sessionID+".jsonl")
}

// marshalJSONL encodes records one compact JSON object per line.
func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}

var _ domain.SessionArchiver = (*Archiver)(nil)
