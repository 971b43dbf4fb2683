package s3blob

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/alanyoungcy/gflexbot/internal/domain"
)

type fakeWriter struct {
	puts      map[string][]byte
	multipart map[string]int64
	existing  map[string]bool
}

func newFakeWriter() *fakeWriter {
	return &fakeWriter{puts: map[string][]byte{}, multipart: map[string]int64{}, existing: map[string]bool{}}
}

func (f *fakeWriter) Put(_ context.Context, path string, data io.Reader, contentType string) error {
	if contentType != jsonlContentType {
		return errors.New("unexpected content type " + contentType)
	}
	b, err := io.ReadAll(data)
	f.puts[path] = b
	return err
}

func (f *fakeWriter) PutMultipart(_ context.Context, path string, data io.Reader, partSize int64) error {
	b, err := io.ReadAll(data)
	f.puts[path] = b
	f.multipart[path] = partSize
	return err
}

func (f *fakeWriter) Exists(_ context.Context, path string) (bool, error) {
	return f.existing[path], nil
}

type fakeSource map[string][]domain.Submission

func (f fakeSource) ListBySession(_ context.Context, id string) ([]domain.Submission, error) {
	return f[id], nil
}

type fakeAudit struct {
	events []string
	detail []map[string]any
}

func (f *fakeAudit) Log(_ context.Context, event string, detail map[string]any) error {
	f.events = append(f.events, event)
	f.detail = append(f.detail, detail)
	return nil
}

func (f *fakeAudit) List(context.Context, domain.ListOpts) ([]domain.AuditEntry, error) {
	return nil, nil
}

func submissions(sessionID string, n int, body string) []domain.Submission {
	created := time.Date(2030, 3, 4, 23, 30, 0, 0, time.UTC)
	out := make([]domain.Submission, n)
	for i := range out {
		out[i] = domain.Submission{
			ID:           "sub-" + string(rune('a'+i%26)),
			SessionID:    sessionID,
			Side:         domain.SideSell,
			Cycle:        i + 1,
			StatusCode:   200,
			Outcome:      "accepted",
			ResponseBody: body,
			CreatedAt:    created,
		}
	}
	return out
}

func TestArchiveSession(t *testing.T) {
	w := newFakeWriter()
	audit := &fakeAudit{}
	src := fakeSource{"s1": submissions("s1", 3, "<ok>")}
	a := NewArchiver(w, src, audit, "")

	path, n, err := a.ArchiveSession(context.Background(), "s1", domain.SideSell)
	if err != nil {
		t.Fatalf("ArchiveSession: %v", err)
	}
	if want := "sessions/sell/2030/03/04/s1.jsonl"; path != want {
		t.Errorf("path = %q, want %q", path, want)
	}
	if n != 3 {
		t.Errorf("count = %d", n)
	}

	body := w.puts[path]
	if bytes.Contains(body, []byte(`<`)) {
		t.Error("HTML escaping must be off")
	}
	sc := bufio.NewScanner(bytes.NewReader(body))
	lines := 0
	for sc.Scan() {
		var sub domain.Submission
		if err := json.Unmarshal(sc.Bytes(), &sub); err != nil {
			t.Fatalf("line %d: %v", lines, err)
		}
		lines++
		if sub.Cycle != lines {
			t.Errorf("line %d has cycle %d", lines, sub.Cycle)
		}
	}
	if lines != 3 {
		t.Errorf("lines = %d", lines)
	}

	if len(audit.events) != 1 || audit.events[0] != "archive.session" {
		t.Fatalf("audit = %v", audit.events)
	}
	if audit.detail[0]["path"] != path {
		t.Errorf("audit detail = %v", audit.detail[0])
	}
}

func TestArchiveEmptySession(t *testing.T) {
	w := newFakeWriter()
	a := NewArchiver(w, fakeSource{}, nil, "archive")
	path, n, err := a.ArchiveSession(context.Background(), "none", domain.SideBuy)
	if err != nil || path != "" || n != 0 {
		t.Fatalf("got %q, %d, %v", path, n, err)
	}
	if len(w.puts) != 0 {
		t.Error("nothing should be uploaded")
	}
}

func TestArchiveSkipsExisting(t *testing.T) {
	w := newFakeWriter()
	w.existing["sessions/sell/2030/03/04/s1.jsonl"] = true
	audit := &fakeAudit{}
	a := NewArchiver(w, fakeSource{"s1": submissions("s1", 2, "")}, audit, "")

	path, n, err := a.ArchiveSession(context.Background(), "s1", domain.SideSell)
	if err != nil || n != 2 || path == "" {
		t.Fatalf("got %q, %d, %v", path, n, err)
	}
	if len(w.puts) != 0 || len(audit.events) != 0 {
		t.Error("existing archive must not be rewritten")
	}
}

func TestArchiveLargeSessionUsesMultipart(t *testing.T) {
	w := newFakeWriter()
	big := strings.Repeat("x", 1<<20)
	a := NewArchiver(w, fakeSource{"s1": submissions("s1", 10, big)}, nil, "")

	path, _, err := a.ArchiveSession(context.Background(), "s1", domain.SideSell)
	if err != nil {
		t.Fatalf("ArchiveSession: %v", err)
	}
	if got := w.multipart[path]; got != minPartSize {
		t.Errorf("part size = %d, want %d", got, minPartSize)
	}
}

func TestNormaliseEndpoint(t *testing.T) {
	tests := []struct {
		in   string
		ssl  bool
		want string
	}{
		{"http://localhost:9000", false, "http://localhost:9000"},
		{"localhost:9000", false, "http://localhost:9000"},
		{"s3.example.com", true, "https://s3.example.com"},
	}
	for _, tc := range tests {
		if got := normaliseEndpoint(tc.in, tc.ssl); got != tc.want {
			t.Errorf("normaliseEndpoint(%q, %v) = %q, want %q", tc.in, tc.ssl, got, tc.want)
		}
	}
}
