package store

import (
	"context"
	"testing"

	"github.com/riverrun/agentcp/pkg/models"
)

func TestMemoryStoreSessionAndMessages(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	session, err := s.CreateSession(ctx)
	if err != nil {
		t.Fatalf("CreateSession() error = %v", err)
	}

	if err := s.AppendMessage(ctx, session.ID, &models.Message{Role: models.RoleUser, Content: "hi"}); err != nil {
		t.Fatalf("AppendMessage() error = %v", err)
	}
	history, err := s.GetHistory(ctx, session.ID, 0)
	if err != nil {
		t.Fatalf("GetHistory() error = %v", err)
	}
	if len(history) != 1 {
		t.Fatalf("expected 1 message, got %d", len(history))
	}

	if err := s.CloseSession(ctx, session.ID, "summary"); err != nil {
		t.Fatalf("CloseSession() error = %v", err)
	}
	open, err := s.OpenSession(ctx)
	if err != nil {
		t.Fatalf("OpenSession() error = %v", err)
	}
	if open != nil {
		t.Fatalf("expected no open session, got %+v", open)
	}
}

func TestMemoryStoreNotables(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	session, _ := s.CreateSession(ctx)

	if err := s.AddNotable(ctx, &models.Notable{SessionID: session.ID, Kind: models.NotableKindCompaction, Content: "compacted"}); err != nil {
		t.Fatalf("AddNotable() error = %v", err)
	}
	notables, err := s.ListNotables(ctx, session.ID)
	if err != nil {
		t.Fatalf("ListNotables() error = %v", err)
	}
	if len(notables) != 1 || notables[0].ID == "" {
		t.Fatalf("expected 1 notable with assigned id, got %+v", notables)
	}
}

func TestMemoryStoreKV(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	if _, ok := s.GetKV(ctx, KeyMode); ok {
		t.Fatal("expected unset key to report not-ok")
	}
	s.SetKV(ctx, KeyMode, "autonomous")
	v, ok := s.GetKV(ctx, KeyMode)
	if !ok || v != "autonomous" {
		t.Fatalf("expected mode=autonomous, got %q (ok=%v)", v, ok)
	}
}

func TestMemoryStoreTasksDelegate(t *testing.T) {
	s := NewMemoryStore()
	if s.Tasks() == nil {
		t.Fatal("expected non-nil task store")
	}
}
