// Package memory defines the persistence interfaces used by the session store
// (C4) and the vector store adapter (C2).
//
// Both interfaces are public so that external packages can supply alternative
// storage backends (PostgreSQL/pgvector, or anything else that can satisfy the
// contract) without depending on tutorcore internals.
//
// Every implementation must be safe for concurrent use.
package memory

import (
	"context"
	"time"
)

// ConnMeta carries connection-time metadata supplied when a session is
// created (e.g. client platform, locale). Stored verbatim; the core does not
// interpret its contents.
type ConnMeta map[string]string

// SessionStore is the C4 memory layer: durable session and message
// persistence with a read-through cache over recent messages.
//
// Consistency: the durable backend is authoritative. The cache is a
// read-through optimisation — a read may tolerate at most one lost write
// (eventual) as long as the durable store holds the canonical record.
type SessionStore interface {
	// GetOrCreateSession returns the existing active session for userID if
	// one exists; otherwise it creates one, atomically deactivating any
	// prior active session for userID. Race-safe: concurrent callers
	// observing the transient state must converge on exactly one session,
	// never two.
	GetOrCreateSession(ctx context.Context, userID string, connMeta ConnMeta) (*Session, error)

	// GetActiveSession returns the active session for userID, or (nil, nil)
	// if none exists.
	GetActiveSession(ctx context.Context, userID string) (*Session, error)

	// EndSession marks sessionID inactive and deletes its cache entry.
	// Ending an already-inactive session is not an error.
	EndSession(ctx context.Context, sessionID string) error

	// AppendMessage records a message under sessionID and updates the
	// session's LastActivityAt and MessageCount. metadata may be nil.
	AppendMessage(ctx context.Context, userID, sessionID, role, content, messageType string, metadata map[string]any) (*Message, error)

	// GetMessages returns the last limit messages for sessionID in
	// chronological order. A limit of 0 means the implementation's default.
	GetMessages(ctx context.Context, sessionID string, limit int) ([]Message, error)

	// GetConversationHistory returns up to 2*turns messages, oldest first,
	// for LLM context.
	GetConversationHistory(ctx context.Context, sessionID string, turns int) (ConversationHistory, error)
}

// VectorStore is the C2 memory layer: a named collection of [ChunkRecord]s in
// a vector-search backend, with per-upsert size caps enforced by the caller
// per the chunking algorithm in [SplitChunk].
//
// Failure semantics: Upsert is at-least-once; callers are responsible for
// idempotence via the duplicate policy ([VectorStore.HasCourse]).
type VectorStore interface {
	// EnsureCollection idempotently provisions the backing collection/table.
	EnsureCollection(ctx context.Context) error

	// Upsert partitions records into batches of at most 200 and issues
	// sequential upserts. written reports how many records were durably
	// written even when err is non-nil (partial-batch failure).
	Upsert(ctx context.Context, records []ChunkRecord) (written int, err error)

	// Count returns the total number of indexed chunks.
	Count(ctx context.Context) (int, error)

	// Peek returns up to k arbitrary chunks, for health checks and manual
	// verification. Order is not guaranteed.
	Peek(ctx context.Context, k int) ([]ChunkRecord, error)

	// Query returns the top-k chunks whose embeddings are closest to
	// embedding, narrowed by filter. Results are ordered by ascending
	// Distance (most similar first).
	Query(ctx context.Context, embedding []float32, k int, filter ChunkFilter) ([]ChunkResult, error)

	// HasCourse reports whether any chunk with the given CourseID is indexed.
	HasCourse(ctx context.Context, courseID int) (bool, error)
}

// SessionExpiry is the idle duration after which an active session is marked
// inactive. Sessions idle past this instant are deactivated on next access.
const SessionExpiry = 7 * 24 * time.Hour
