package session

import (
	"context"
	"log/slog"
	"sync/atomic"

	"github.com/professorai/tutorcore/pkg/memory"
)

// MemoryGuard wraps a [memory.SessionStore] and makes read operations
// non-fatal. If the underlying store fails, read operations return defaults
// and log warnings instead of propagating errors.
//
// This allows the voice session controller (C10) to keep a tutoring session
// running even when the memory backend is temporarily unavailable (e.g.,
// database restart, network partition). The IsDegraded method reports
// whether the store is currently experiencing failures.
//
// MemoryGuard implements [memory.SessionStore]. Session lifecycle and write
// operations still return the underlying error — callers need to know when
// a message failed to persist, since C7 relies on conversation memory being
// consistent. Only the read paths used for prompt assembly degrade silently.
//
// All methods are safe for concurrent use.
type MemoryGuard struct {
	store    memory.SessionStore
	degraded atomic.Bool
}

// NewMemoryGuard creates a new [MemoryGuard] wrapping the given store.
func NewMemoryGuard(store memory.SessionStore) *MemoryGuard {
	return &MemoryGuard{store: store}
}

// GetOrCreateSession delegates to the underlying store.
func (mg *MemoryGuard) GetOrCreateSession(ctx context.Context, userID string, connMeta memory.ConnMeta) (*memory.Session, error) {
	s, err := mg.store.GetOrCreateSession(ctx, userID, connMeta)
	mg.record(err)
	return s, err
}

// GetActiveSession delegates to the underlying store.
func (mg *MemoryGuard) GetActiveSession(ctx context.Context, userID string) (*memory.Session, error) {
	s, err := mg.store.GetActiveSession(ctx, userID)
	mg.record(err)
	return s, err
}

// EndSession delegates to the underlying store.
func (mg *MemoryGuard) EndSession(ctx context.Context, sessionID string) error {
	err := mg.store.EndSession(ctx, sessionID)
	mg.record(err)
	return err
}

// AppendMessage delegates to the underlying store.
func (mg *MemoryGuard) AppendMessage(ctx context.Context, userID, sessionID, role, content, messageType string, metadata map[string]any) (*memory.Message, error) {
	m, err := mg.store.AppendMessage(ctx, userID, sessionID, role, content, messageType, metadata)
	mg.record(err)
	return m, err
}

// GetMessages attempts to read recent messages from the underlying store.
// On failure an empty slice is returned and the store is marked as degraded.
func (mg *MemoryGuard) GetMessages(ctx context.Context, sessionID string, limit int) ([]memory.Message, error) {
	msgs, err := mg.store.GetMessages(ctx, sessionID, limit)
	if err != nil {
		mg.degraded.Store(true)
		slog.Warn("memory guard: GetMessages failed, returning empty",
			"session_id", sessionID,
			"error", err,
		)
		return []memory.Message{}, nil
	}
	mg.degraded.Store(false)
	return msgs, nil
}

// GetConversationHistory attempts to read conversation history from the
// underlying store. On failure an empty history is returned and the store
// is marked as degraded, so the chat orchestrator (C7) can still answer
// from general knowledge without prior turns rather than failing outright.
func (mg *MemoryGuard) GetConversationHistory(ctx context.Context, sessionID string, turns int) (memory.ConversationHistory, error) {
	history, err := mg.store.GetConversationHistory(ctx, sessionID, turns)
	if err != nil {
		mg.degraded.Store(true)
		slog.Warn("memory guard: GetConversationHistory failed, returning empty",
			"session_id", sessionID,
			"turns", turns,
			"error", err,
		)
		return memory.ConversationHistory{}, nil
	}
	mg.degraded.Store(false)
	return history, nil
}

// record updates the degraded flag based on the outcome of a session
// lifecycle or write call, without swallowing the error itself.
func (mg *MemoryGuard) record(err error) {
	mg.degraded.Store(err != nil)
}

// IsDegraded reports whether the store is currently operating in degraded
// mode (i.e., the most recent operation on the underlying store failed).
func (mg *MemoryGuard) IsDegraded() bool {
	return mg.degraded.Load()
}

// Compile-time check that MemoryGuard satisfies memory.SessionStore.
var _ memory.SessionStore = (*MemoryGuard)(nil)
