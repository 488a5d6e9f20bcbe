// Package mock provides in-memory test doubles for the memory layer interfaces.
//
// Each mock records every method call for assertion in tests and exposes
// exported fields that control what the mock returns. All mocks are safe for
// concurrent use via an internal [sync.Mutex].
//
// Typical usage:
//
//	store := &mock.SessionStore{}
//	store.GetMessagesResult = []memory.Message{{Role: "user", Content: "hi"}}
//
//	// inject store into the system under test …
//
//	if got := store.CallCount("GetMessages"); got != 1 {
//	    t.Errorf("expected 1 GetMessages call, got %d", got)
//	}
package mock

import (
	"context"
	"sync"

	"github.com/professorai/tutorcore/pkg/memory"
)

// Call records the name and arguments of a single method invocation.
type Call struct {
	// Method is the name of the interface method that was called.
	Method string

	// Args holds the non-context arguments passed to the method, in order.
	Args []any
}

// ─────────────────────────────────────────────────────────────────────────────
// SessionStore mock (C4)
// ─────────────────────────────────────────────────────────────────────────────

// SessionStore is a configurable test double for [memory.SessionStore].
// All exported *Err fields default to nil (success); all exported *Result
// fields default to nil (empty slice/zero value returned).
type SessionStore struct {
	mu sync.Mutex

	// calls records every method invocation in order.
	calls []Call

	// GetOrCreateSessionResult is returned by [SessionStore.GetOrCreateSession].
	GetOrCreateSessionResult *memory.Session
	GetOrCreateSessionErr    error

	// GetActiveSessionResult is returned by [SessionStore.GetActiveSession].
	GetActiveSessionResult *memory.Session
	GetActiveSessionErr    error

	// EndSessionErr is returned by [SessionStore.EndSession] when non-nil.
	EndSessionErr error

	// AppendMessageResult is returned by [SessionStore.AppendMessage].
	AppendMessageResult *memory.Message
	AppendMessageErr    error

	// GetMessagesResult is returned by [SessionStore.GetMessages].
	// When nil, GetMessages returns an empty non-nil slice.
	GetMessagesResult []memory.Message
	GetMessagesErr    error

	// GetConversationHistoryResult is returned by [SessionStore.GetConversationHistory].
	// When nil, GetConversationHistory returns an empty non-nil slice.
	GetConversationHistoryResult memory.ConversationHistory
	GetConversationHistoryErr    error
}

// Calls returns a copy of all recorded method invocations.
func (m *SessionStore) Calls() []Call {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Call, len(m.calls))
	copy(out, m.calls)
	return out
}

// CallCount returns how many times the named method was invoked.
func (m *SessionStore) CallCount(method string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, c := range m.calls {
		if c.Method == method {
			n++
		}
	}
	return n
}

// Reset clears all recorded calls without altering response configuration.
func (m *SessionStore) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = nil
}

// GetOrCreateSession implements [memory.SessionStore].
func (m *SessionStore) GetOrCreateSession(_ context.Context, userID string, connMeta memory.ConnMeta) (*memory.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, Call{Method: "GetOrCreateSession", Args: []any{userID, connMeta}})
	return m.GetOrCreateSessionResult, m.GetOrCreateSessionErr
}

// GetActiveSession implements [memory.SessionStore].
func (m *SessionStore) GetActiveSession(_ context.Context, userID string) (*memory.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, Call{Method: "GetActiveSession", Args: []any{userID}})
	return m.GetActiveSessionResult, m.GetActiveSessionErr
}

// EndSession implements [memory.SessionStore].
func (m *SessionStore) EndSession(_ context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, Call{Method: "EndSession", Args: []any{sessionID}})
	return m.EndSessionErr
}

// AppendMessage implements [memory.SessionStore].
func (m *SessionStore) AppendMessage(_ context.Context, userID, sessionID, role, content, messageType string, metadata map[string]any) (*memory.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, Call{Method: "AppendMessage", Args: []any{userID, sessionID, role, content, messageType, metadata}})
	return m.AppendMessageResult, m.AppendMessageErr
}

// GetMessages implements [memory.SessionStore].
func (m *SessionStore) GetMessages(_ context.Context, sessionID string, limit int) ([]memory.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, Call{Method: "GetMessages", Args: []any{sessionID, limit}})
	if m.GetMessagesResult == nil {
		return []memory.Message{}, m.GetMessagesErr
	}
	out := make([]memory.Message, len(m.GetMessagesResult))
	copy(out, m.GetMessagesResult)
	return out, m.GetMessagesErr
}

// GetConversationHistory implements [memory.SessionStore].
func (m *SessionStore) GetConversationHistory(_ context.Context, sessionID string, turns int) (memory.ConversationHistory, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, Call{Method: "GetConversationHistory", Args: []any{sessionID, turns}})
	if m.GetConversationHistoryResult == nil {
		return memory.ConversationHistory{}, m.GetConversationHistoryErr
	}
	out := make(memory.ConversationHistory, len(m.GetConversationHistoryResult))
	copy(out, m.GetConversationHistoryResult)
	return out, m.GetConversationHistoryErr
}

// Ensure SessionStore satisfies the interface at compile time.
var _ memory.SessionStore = (*SessionStore)(nil)

// ─────────────────────────────────────────────────────────────────────────────
// VectorStore mock (C2)
// ─────────────────────────────────────────────────────────────────────────────

// VectorStore is a configurable test double for [memory.VectorStore].
type VectorStore struct {
	mu sync.Mutex

	calls []Call

	// EnsureCollectionErr is returned by [VectorStore.EnsureCollection] when non-nil.
	EnsureCollectionErr error

	// UpsertWritten and UpsertErr are returned by [VectorStore.Upsert].
	UpsertWritten int
	UpsertErr     error

	// CountResult and CountErr are returned by [VectorStore.Count].
	CountResult int
	CountErr    error

	// PeekResult is returned by [VectorStore.Peek].
	// When nil, Peek returns an empty non-nil slice.
	PeekResult []memory.ChunkRecord
	PeekErr    error

	// QueryResult is returned by [VectorStore.Query].
	// When nil, Query returns an empty non-nil slice.
	QueryResult []memory.ChunkResult
	QueryErr    error

	// HasCourseResult and HasCourseErr are returned by [VectorStore.HasCourse].
	HasCourseResult bool
	HasCourseErr    error
}

// Calls returns a copy of all recorded method invocations.
func (m *VectorStore) Calls() []Call {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Call, len(m.calls))
	copy(out, m.calls)
	return out
}

// CallCount returns how many times the named method was invoked.
func (m *VectorStore) CallCount(method string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, c := range m.calls {
		if c.Method == method {
			n++
		}
	}
	return n
}

// Reset clears all recorded calls without altering response configuration.
func (m *VectorStore) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = nil
}

// EnsureCollection implements [memory.VectorStore].
func (m *VectorStore) EnsureCollection(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, Call{Method: "EnsureCollection"})
	return m.EnsureCollectionErr
}

// Upsert implements [memory.VectorStore].
func (m *VectorStore) Upsert(_ context.Context, records []memory.ChunkRecord) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, Call{Method: "Upsert", Args: []any{records}})
	return m.UpsertWritten, m.UpsertErr
}

// Count implements [memory.VectorStore].
func (m *VectorStore) Count(_ context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, Call{Method: "Count"})
	return m.CountResult, m.CountErr
}

// Peek implements [memory.VectorStore].
func (m *VectorStore) Peek(_ context.Context, k int) ([]memory.ChunkRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, Call{Method: "Peek", Args: []any{k}})
	if m.PeekResult == nil {
		return []memory.ChunkRecord{}, m.PeekErr
	}
	out := make([]memory.ChunkRecord, len(m.PeekResult))
	copy(out, m.PeekResult)
	return out, m.PeekErr
}

// Query implements [memory.VectorStore].
func (m *VectorStore) Query(_ context.Context, embedding []float32, k int, filter memory.ChunkFilter) ([]memory.ChunkResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, Call{Method: "Query", Args: []any{embedding, k, filter}})
	if m.QueryResult == nil {
		return []memory.ChunkResult{}, m.QueryErr
	}
	out := make([]memory.ChunkResult, len(m.QueryResult))
	copy(out, m.QueryResult)
	return out, m.QueryErr
}

// HasCourse implements [memory.VectorStore].
func (m *VectorStore) HasCourse(_ context.Context, courseID int) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, Call{Method: "HasCourse", Args: []any{courseID}})
	return m.HasCourseResult, m.HasCourseErr
}

// Ensure VectorStore satisfies the interface at compile time.
var _ memory.VectorStore = (*VectorStore)(nil)
