package domain

import (
	"context"
	"io"
)

// BlobWriter uploads data to object storage.
type BlobWriter interface {
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
	PutMultipart(ctx context.Context, path string, data io.Reader, partSize int64) error
}

// SessionArchiver exports a finished session's journal to cold storage.
type SessionArchiver interface {
	ArchiveSession(ctx context.Context, sessionID string, side Side) (path string, count int, err error)
}
