package session

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

func TestMemoryStoreCreateAppendHistory(t *testing.T) {
	s, err := Open(ModeMemory, "", time.Hour)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	ctx := context.Background()

	id, err := s.Create(ctx, "")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if id == "" {
		t.Fatal("expected a generated session id")
	}

	if err := s.Append(ctx, id, "user", "hello"); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := s.Append(ctx, id, "assistant", "hi there"); err != nil {
		t.Fatalf("Append: %v", err)
	}

	history, err := s.History(ctx, id)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(history))
	}
	if history[0].Role != "user" || history[1].Role != "assistant" {
		t.Errorf("unexpected message order: %+v", history)
	}
}

func TestMemoryStoreTrimsToMaxMessages(t *testing.T) {
	s, err := Open(ModeMemory, "", time.Hour)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	ctx := context.Background()
	id, _ := s.Create(ctx, "fixed-id")

	for i := 0; i < MaxMessages+5; i++ {
		if err := s.Append(ctx, id, "user", "msg"); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}
	history, err := s.History(ctx, id)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(history) != MaxMessages {
		t.Fatalf("expected history capped at %d, got %d", MaxMessages, len(history))
	}
}

func TestMemoryStoreClear(t *testing.T) {
	s, _ := Open(ModeMemory, "", time.Hour)
	ctx := context.Background()
	id, _ := s.Create(ctx, "")
	s.Append(ctx, id, "user", "hello")

	if err := s.Clear(ctx, id); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	history, err := s.History(ctx, id)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(history) != 0 {
		t.Errorf("expected empty history after clear, got %d", len(history))
	}
}

func TestMemoryStoreCleanupExpired(t *testing.T) {
	s, err := Open(ModeMemory, "", time.Millisecond)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	ctx := context.Background()
	id, _ := s.Create(ctx, "")
	s.Append(ctx, id, "user", "hello")

	time.Sleep(5 * time.Millisecond)

	n, err := s.CleanupExpired(ctx)
	if err != nil {
		t.Fatalf("CleanupExpired: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 expired session removed, got %d", n)
	}
	history, err := s.History(ctx, id)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(history) != 0 {
		t.Errorf("expected history for expired session to be gone, got %v", history)
	}
}

func TestPersistentStoreSurvivesReopen(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "sessions.db")
	ctx := context.Background()

	s1, err := Open(ModePersistent, dbPath, time.Hour)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	id, err := s1.Create(ctx, "")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := s1.Append(ctx, id, "user", "persisted message"); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := s1.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	s2, err := Open(ModePersistent, dbPath, time.Hour)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s2.Close()

	history, err := s2.History(ctx, id)
	if err != nil {
		t.Fatalf("History after reopen: %v", err)
	}
	if len(history) != 1 || history[0].Content != "persisted message" {
		t.Fatalf("expected persisted history to survive reopen, got %+v", history)
	}
}

func TestPersistentStoreCleanupExpired(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "sessions.db")
	ctx := context.Background()

	s, err := Open(ModePersistent, dbPath, time.Millisecond)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	id, _ := s.Create(ctx, "")
	s.Append(ctx, id, "user", "hello")

	time.Sleep(5 * time.Millisecond)

	n, err := s.CleanupExpired(ctx)
	if err != nil {
		t.Fatalf("CleanupExpired: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 expired session removed, got %d", n)
	}
}

func TestAppendCreatesSessionImplicitlyIfMissing(t *testing.T) {
	s, _ := Open(ModeMemory, "", time.Hour)
	ctx := context.Background()

	if err := s.Append(ctx, "never-created", "user", "hi"); err != nil {
		t.Fatalf("Append: %v", err)
	}
	history, err := s.History(ctx, "never-created")
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(history) != 1 {
		t.Fatalf("expected implicit session creation on Append, got %d messages", len(history))
	}
}
