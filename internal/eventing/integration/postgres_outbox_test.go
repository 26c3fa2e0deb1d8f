package integration_test

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"testing"
	"time"

	"restroom-cloud/internal/engine/application/events"
	"restroom-cloud/internal/eventing"
	eventingrepo "restroom-cloud/internal/eventing/infrastructure/postgres"

	_ "github.com/jackc/pgx/v5/stdlib"
)

func openDB(t *testing.T) *sql.DB {
	t.Helper()
	dsn := os.Getenv("PG_DSN")
	if dsn == "" {
		t.Skip("PG_DSN not set")
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if !tableExists(db, "engine_outbox") || !tableExists(db, "engine_dead_letters") {
		db.Close()
		t.Skip("missing tables; run migrations")
	}
	return db
}

func TestPostgresOutbox_DispatchesOnce(t *testing.T) {
	db := openDB(t)
	defer db.Close()
	ctx := context.Background()
	_, _ = db.ExecContext(ctx, "DELETE FROM engine_outbox")

	bus := eventing.NewInMemoryBus()
	registry := eventing.NewRegistry()
	eventing.Register[events.LivenessChanged](registry)
	outbox := eventingrepo.NewOutboxStore(db)
	dispatcher, err := eventing.NewDispatcher(bus, outbox, registry, eventingrepo.NewDLQStore(db))
	if err != nil {
		t.Fatalf("new dispatcher: %v", err)
	}
	publisher := eventing.NewPublisher(outbox, dispatcher)

	count := 0
	bus.Subscribe(eventing.EventTypeOf[events.LivenessChanged](), func(context.Context, any) error {
		count++
		return nil
	})

	payload := events.LivenessChanged{DeviceID: "toilet-lantai-1", Status: "inactive", OccurredAt: time.Now().UTC()}
	if err := publisher.Publish(ctx, payload); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if err := dispatcher.Drain(ctx); err != nil {
		t.Fatalf("drain: %v", err)
	}
	if err := dispatcher.Drain(ctx); err != nil {
		t.Fatalf("drain: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected handler once, got %d", count)
	}
}

func TestPostgresOutbox_DLQOnFailure(t *testing.T) {
	db := openDB(t)
	defer db.Close()
	ctx := context.Background()
	_, _ = db.ExecContext(ctx, "DELETE FROM engine_outbox")
	_, _ = db.ExecContext(ctx, "DELETE FROM engine_dead_letters")

	bus := eventing.NewInMemoryBus()
	registry := eventing.NewRegistry()
	eventing.Register[events.LivenessChanged](registry)
	outbox := eventingrepo.NewOutboxStore(db)
	dlq := eventingrepo.NewDLQStore(db)
	dispatcher, err := eventing.NewDispatcher(bus, outbox, registry, dlq)
	if err != nil {
		t.Fatalf("new dispatcher: %v", err)
	}
	publisher := eventing.NewPublisher(outbox, dispatcher)
	bus.Subscribe(eventing.EventTypeOf[events.LivenessChanged](), func(context.Context, any) error {
		return errors.New("boom")
	})

	if err := publisher.Publish(ctx, events.LivenessChanged{DeviceID: "toilet-lantai-1", Status: "active"}); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if err := dispatcher.Drain(ctx); err != nil {
		t.Fatalf("drain: %v", err)
	}

	dlqCount, err := dlq.Depth(ctx)
	if err != nil {
		t.Fatalf("dlq depth: %v", err)
	}
	if dlqCount != 1 {
		t.Fatalf("expected 1 dlq record, got %d", dlqCount)
	}
	pending, err := outbox.Depth(ctx)
	if err != nil {
		t.Fatalf("outbox depth: %v", err)
	}
	if pending != 0 {
		t.Fatalf("expected empty outbox backlog, got %d", pending)
	}
}

func tableExists(db *sql.DB, name string) bool {
	var exists bool
	err := db.QueryRow("SELECT to_regclass($1) IS NOT NULL", "public."+name).Scan(&exists)
	return err == nil && exists
}
