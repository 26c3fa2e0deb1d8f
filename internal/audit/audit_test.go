package audit

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"log"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestClientIP(t *testing.T) {
	req := httptest.NewRequest("PUT", "/api/v1/config", nil)
	req.RemoteAddr = "10.0.0.5:51000"
	if got := ClientIP(req); got != "10.0.0.5" {
		t.Fatalf("expected remote host, got %s", got)
	}
	req.Header.Set("X-Real-IP", "10.0.0.6")
	if got := ClientIP(req); got != "10.0.0.6" {
		t.Fatalf("expected real ip, got %s", got)
	}
	req.Header.Set("X-Forwarded-For", "203.0.113.1, 10.0.0.1")
	if got := ClientIP(req); got != "203.0.113.1" {
		t.Fatalf("expected first forwarded ip, got %s", got)
	}
}

func TestDigestJSON(t *testing.T) {
	if DigestJSON(nil) != "" {
		t.Fatalf("expected empty digest for empty payload")
	}
	a := DigestJSON([]byte(`{"maxReminders":5}`))
	if len(a) != 64 || a == DigestJSON([]byte(`{"maxReminders":4}`)) {
		t.Fatalf("unexpected digest %s", a)
	}
}

func TestLogWriter(t *testing.T) {
	var buf bytes.Buffer
	writer := NewLogWriter(log.New(&buf, "", 0))
	if err := writer.Log(context.Background(), Entry{Actor: "ops", Action: "config.update", ResourceType: "engine_config"}); err != nil {
		t.Fatalf("log: %v", err)
	}
	if !strings.Contains(buf.String(), "action=config.update") {
		t.Fatalf("unexpected output %q", buf.String())
	}
}

type fakeDB struct {
	query string
	args  []any
	err   error
}

func (f *fakeDB) ExecContext(_ context.Context, query string, args ...any) (sql.Result, error) {
	f.query = query
	f.args = args
	return nil, f.err
}

func TestRepositoryLogFillsDefaults(t *testing.T) {
	db := &fakeDB{}
	repo, err := NewRepository(db, WithAuditTable("audit_test"))
	if err != nil {
		t.Fatalf("new repository: %v", err)
	}
	metadata := []byte(`{"patch":{"maxReminders":5}}`)
	if err := repo.Log(context.Background(), Entry{Actor: "ops", Action: "config.update", Metadata: metadata}); err != nil {
		t.Fatalf("log: %v", err)
	}
	if !strings.Contains(db.query, "INSERT INTO audit_test") {
		t.Fatalf("unexpected query: %s", db.query)
	}
	id, _ := db.args[0].(string)
	if !strings.HasPrefix(id, "audit-") {
		t.Fatalf("expected generated id, got %v", db.args[0])
	}
	if db.args[7] != DigestJSON(metadata) {
		t.Fatalf("expected payload digest, got %v", db.args[7])
	}

	if err := repo.Log(context.Background(), Entry{Action: "config.update"}); err != nil {
		t.Fatalf("log without metadata: %v", err)
	}
	if db.args[6] != nil {
		t.Fatalf("expected NULL metadata, got %v", db.args[6])
	}
}

func TestRepositoryWrapsErrors(t *testing.T) {
	cause := errors.New("connection refused")
	repo, err := NewRepository(&fakeDB{err: cause})
	if err != nil {
		t.Fatalf("new repository: %v", err)
	}
	if err := repo.Log(context.Background(), Entry{Action: "config.update"}); !errors.Is(err, cause) {
		t.Fatalf("expected wrapped cause, got %v", err)
	}
	if _, err := NewRepository(nil); err == nil {
		t.Fatalf("expected error for nil db")
	}
}
