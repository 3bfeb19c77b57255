package sqlite

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/bunctl/bunctl/internal/history"
)

func TestSQLiteSink_Integration(t *testing.T) {
	tempDir := t.TempDir()
	dbPath := tempDir + "/test.db"

	sink, err := New("file:" + dbPath)
	if err != nil {
		t.Fatalf("Failed to create sink: %v", err)
	}
	defer func() {
		if err := sink.Close(); err != nil {
			t.Errorf("Failed to close sink: %v", err)
		}
		_ = os.Remove(dbPath)
	}()

	ctx := context.Background()

	startEvent := history.Event{
		Kind:       "process_started",
		App:        "test-process",
		PID:        12345,
		OccurredAt: time.Now().UTC(),
	}
	if err := sink.Send(ctx, startEvent); err != nil {
		t.Fatalf("Failed to send start event: %v", err)
	}

	stopEvent := history.Event{
		Kind:       "process_exited",
		App:        "test-process",
		PID:        12345,
		ExitKind:   "exited",
		OccurredAt: time.Now().UTC(),
	}
	if err := sink.Send(ctx, stopEvent); err != nil {
		t.Fatalf("Failed to send stop event: %v", err)
	}

	t.Log("SQLite sink integration test completed successfully")
}

func TestSQLiteSink_InMemory(t *testing.T) {
	sink, err := New(":memory:")
	if err != nil {
		t.Fatalf("Failed to create in-memory sink: %v", err)
	}
	defer func() {
		if err := sink.Close(); err != nil {
			t.Errorf("Failed to close sink: %v", err)
		}
	}()

	ctx := context.Background()

	event := history.Event{
		Kind:       "process_started",
		App:        "mem-test-process",
		PID:        54321,
		OccurredAt: time.Now().UTC(),
	}
	if err := sink.Send(ctx, event); err != nil {
		t.Fatalf("Failed to send event: %v", err)
	}

	t.Log("SQLite in-memory sink test completed successfully")
}

func TestSQLiteSink_ContextCancellation(t *testing.T) {
	sink, err := New(":memory:")
	if err != nil {
		t.Fatalf("Failed to create sink: %v", err)
	}
	defer func() {
		if err := sink.Close(); err != nil {
			t.Errorf("Failed to close sink: %v", err)
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	event := history.Event{
		Kind:       "process_started",
		App:        "cancelled-process",
		PID:        99999,
		OccurredAt: time.Now().UTC(),
	}

	err = sink.Send(ctx, event)
	if err != nil {
		t.Logf("Expected error with cancelled context: %v", err)
	}

	t.Log("SQLite context cancellation test completed")
}
