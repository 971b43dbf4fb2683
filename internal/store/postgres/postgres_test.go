package postgres

import (
	"strings"
	"testing"
	"testing/fstest"
	"time"

	"github.com/alanyoungcy/gflexbot/internal/domain"
)

func TestDSN(t *testing.T) {
	got := DSN(ClientConfig{Host: "db", User: "bot", Password: "p@ss word", Database: "gflexbot"})
	want := "postgres://bot:p%40ss%20word@db:5432/gflexbot?sslmode=disable"
	if got != want {
		t.Errorf("DSN = %q, want %q", got, want)
	}
	if got := DSN(ClientConfig{DSN: "postgres://x", Host: "ignored"}); got != "postgres://x" {
		t.Errorf("explicit DSN not preferred: %q", got)
	}
}

func TestMigrationNames(t *testing.T) {
	fsys := fstest.MapFS{
		"migrations/002_b.sql": {Data: []byte("--")},
		"migrations/001_a.sql": {Data: []byte("--")},
		"migrations/README.md": {Data: []byte("x")},
		"migrations/old/x.sql": {Data: []byte("--")},
	}
	names, err := migrationNames(fsys)
	if err != nil {
		t.Fatal(err)
	}
	if strings.Join(names, ",") != "001_a.sql,002_b.sql" {
		t.Errorf("names = %v", names)
	}
}

func TestEmbeddedMigrations(t *testing.T) {
	names, err := migrationNames(migrationsFS)
	if err != nil {
		t.Fatal(err)
	}
	if len(names) == 0 || names[0] != "001_init.sql" {
		t.Fatalf("names = %v", names)
	}
	if names[len(names)-1] != "002_fractional_power.sql" {
		t.Errorf("latest migration = %s", names[len(names)-1])
	}
	data, err := migrationsFS.ReadFile("migrations/001_init.sql")
	if err != nil {
		t.Fatal(err)
	}
	for _, table := range []string{"submissions", "audit_log"} {
		if !strings.Contains(string(data), "CREATE TABLE IF NOT EXISTS "+table) {
			t.Errorf("migration does not create %s", table)
		}
	}
}

func TestFilterBuild(t *testing.T) {
	since := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)
	var f filter
	f.add("side = $%d", "buy")
	opts := domain.ListOpts{Since: &since, Limit: 10, Offset: 20}
	f.timeRange("created_at", opts)
	query, args := f.build("SELECT * FROM submissions", "created_at DESC", opts)

	want := "SELECT * FROM submissions WHERE side = $1 AND created_at >= $2 ORDER BY created_at DESC LIMIT $3 OFFSET $4"
	if query != want {
		t.Errorf("query = %q\nwant    %q", query, want)
	}
	if len(args) != 4 || args[0] != "buy" || args[2] != 10 || args[3] != 20 {
		t.Errorf("args = %v", args)
	}
}

func TestFilterBuildEmpty(t *testing.T) {
	var f filter
	query, args := f.build("SELECT 1", "", domain.ListOpts{})
	if query != "SELECT 1" || len(args) != 0 {
		t.Errorf("query = %q args = %v", query, args)
	}
}
