package session

import (
	"context"
	"errors"
	"testing"

	"github.com/professorai/tutorcore/pkg/memory"
	memorymock "github.com/professorai/tutorcore/pkg/memory/mock"
)

func TestMemoryGuard_AppendMessage(t *testing.T) {
	t.Run("successful write", func(t *testing.T) {
		store := &memorymock.SessionStore{
			AppendMessageResult: &memory.Message{ID: "m1"},
		}
		mg := NewMemoryGuard(store)

		_, err := mg.AppendMessage(context.Background(), "u1", "s1", "user", "hello", "text", nil)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if mg.IsDegraded() {
			t.Error("should not be degraded after successful write")
		}
		if store.CallCount("AppendMessage") != 1 {
			t.Errorf("expected 1 AppendMessage call, got %d", store.CallCount("AppendMessage"))
		}
	})

	t.Run("write failure is propagated, not swallowed", func(t *testing.T) {
		store := &memorymock.SessionStore{
			AppendMessageErr: errors.New("disk full"),
		}
		mg := NewMemoryGuard(store)

		_, err := mg.AppendMessage(context.Background(), "u1", "s1", "user", "hello", "text", nil)
		if err == nil {
			t.Fatal("expected error to be propagated")
		}
		if !mg.IsDegraded() {
			t.Error("should be degraded after failed write")
		}
	})

	t.Run("recovers from degraded after successful write", func(t *testing.T) {
		store := &memorymock.SessionStore{
			AppendMessageErr: errors.New("temporary failure"),
		}
		mg := NewMemoryGuard(store)

		_, _ = mg.AppendMessage(context.Background(), "u1", "s1", "user", "a", "text", nil)
		if !mg.IsDegraded() {
			t.Error("should be degraded")
		}

		store.AppendMessageErr = nil
		store.AppendMessageResult = &memory.Message{ID: "m2"}

		_, _ = mg.AppendMessage(context.Background(), "u1", "s1", "user", "b", "text", nil)
		if mg.IsDegraded() {
			t.Error("should have recovered from degraded state")
		}
	})
}

func TestMemoryGuard_GetMessages(t *testing.T) {
	t.Run("successful read", func(t *testing.T) {
		msgs := []memory.Message{
			{Content: "hello"},
			{Content: "world"},
		}
		store := &memorymock.SessionStore{
			GetMessagesResult: msgs,
		}
		mg := NewMemoryGuard(store)

		got, err := mg.GetMessages(context.Background(), "s1", 10)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(got) != 2 {
			t.Errorf("expected 2 messages, got %d", len(got))
		}
		if mg.IsDegraded() {
			t.Error("should not be degraded")
		}
	})

	t.Run("read failure returns empty slice", func(t *testing.T) {
		store := &memorymock.SessionStore{
			GetMessagesErr: errors.New("connection refused"),
		}
		mg := NewMemoryGuard(store)

		got, err := mg.GetMessages(context.Background(), "s1", 10)
		if err != nil {
			t.Fatalf("expected nil error, got %v", err)
		}
		if len(got) != 0 {
			t.Errorf("expected empty slice, got %d entries", len(got))
		}
		if !mg.IsDegraded() {
			t.Error("should be degraded after failed read")
		}
	})
}

func TestMemoryGuard_GetConversationHistory(t *testing.T) {
	t.Run("successful fetch", func(t *testing.T) {
		history := memory.ConversationHistory{
			{Role: "user", Content: "found it"},
		}
		store := &memorymock.SessionStore{
			GetConversationHistoryResult: history,
		}
		mg := NewMemoryGuard(store)

		got, err := mg.GetConversationHistory(context.Background(), "s1", 5)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(got) != 1 {
			t.Errorf("expected 1 result, got %d", len(got))
		}
	})

	t.Run("failure returns empty history", func(t *testing.T) {
		store := &memorymock.SessionStore{
			GetConversationHistoryErr: errors.New("index corrupted"),
		}
		mg := NewMemoryGuard(store)

		got, err := mg.GetConversationHistory(context.Background(), "s1", 5)
		if err != nil {
			t.Fatalf("expected nil error, got %v", err)
		}
		if len(got) != 0 {
			t.Errorf("expected empty history, got %d results", len(got))
		}
		if !mg.IsDegraded() {
			t.Error("should be degraded after failed fetch")
		}
	})
}

func TestMemoryGuard_IsDegraded(t *testing.T) {
	t.Run("initially not degraded", func(t *testing.T) {
		mg := NewMemoryGuard(&memorymock.SessionStore{})
		if mg.IsDegraded() {
			t.Error("should not be degraded initially")
		}
	})

	t.Run("mixed operations track degraded state", func(t *testing.T) {
		store := &memorymock.SessionStore{
			AppendMessageResult: &memory.Message{ID: "m1"},
		}
		mg := NewMemoryGuard(store)

		// Successful write — not degraded.
		_, _ = mg.AppendMessage(context.Background(), "u1", "s1", "user", "a", "text", nil)
		if mg.IsDegraded() {
			t.Error("should not be degraded after success")
		}

		// Failed history fetch — degraded.
		store.GetConversationHistoryErr = errors.New("oops")
		_, _ = mg.GetConversationHistory(context.Background(), "s1", 5)
		if !mg.IsDegraded() {
			t.Error("should be degraded after failed fetch")
		}

		// Successful write recovers.
		store.GetConversationHistoryErr = nil
		_, _ = mg.AppendMessage(context.Background(), "u1", "s1", "user", "b", "text", nil)
		if mg.IsDegraded() {
			t.Error("should have recovered after successful write")
		}
	})
}

func TestMemoryGuard_ImplementsSessionStore(t *testing.T) {
	// This is a compile-time check, but let's also verify at runtime.
	var _ memory.SessionStore = NewMemoryGuard(&memorymock.SessionStore{})
}
