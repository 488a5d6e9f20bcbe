package memory

import "time"

// Session is one active conversation for a user. At most one Session per
// UserID may have Active == true; creating a new session atomically
// deactivates any previously active one for the same user.
type Session struct {
	// ID is the opaque session identifier (UUID string).
	ID string

	// UserID identifies the owning user.
	UserID string

	// StartedAt is when the session was created.
	StartedAt time.Time

	// LastActivityAt is updated on every AppendMessage call.
	LastActivityAt time.Time

	// ExpiresAt is the idle-expiry deadline; a session idle past this instant
	// is marked inactive on next access.
	ExpiresAt time.Time

	// Active is true for at most one session per user at a time.
	Active bool

	// MessageCount is the number of messages appended to this session.
	MessageCount int
}

// Message is an append-only record bound to a session.
type Message struct {
	// ID is the unique message identifier.
	ID string

	// SessionID is the owning session.
	SessionID string

	// UserID is the owning user.
	UserID string

	// Role is one of "user", "assistant", or "system".
	Role string

	// Content is the message text.
	Content string

	// MessageType is "text" or "voice".
	MessageType string

	// Metadata holds optional structured data: route, confidence, sources,
	// tokens, model, audio marker. Nil when not applicable.
	Metadata map[string]any

	// CreatedAt orders messages monotonically within a session.
	CreatedAt time.Time
}

// ConversationHistory is an ordered, immutable sequence of messages used as
// input to both the LLM client (C3) and the hybrid retriever (C6).
// [SessionStore.GetConversationHistory] returns up to 2*turns messages; the
// orchestrator and the hot-context assembler ask for 5 turns, so at most 10.
type ConversationHistory []Message

// ChunkRecord is one record in the vector store (C2). Mandatory metadata
// fields mirror the relational course tree so equality filters compile to a
// plain WHERE clause rather than a JSON containment query.
type ChunkRecord struct {
	// ID is the unique chunk identifier.
	ID string

	// CourseID is the owning course's integer primary key.
	CourseID int

	// CourseName is the human-readable course title, denormalised for
	// retrieval-time display without a join.
	CourseName string

	// Module is the module title this chunk belongs to.
	Module string

	// Week is the module's week index.
	Week int

	// Title is the topic title; chunks after the first produced by splitting
	// an oversized payload get " (Part n)" appended, n being the 1-based part
	// number (see [TitleForPart]).
	Title string

	// Source identifies where this chunk's content came from (e.g. a PDF
	// filename or URL).
	Source string

	// Type is the chunk kind. Always "course_content" for now.
	Type string

	// Content is the chunk's text payload, at most 15 KB UTF-8.
	Content string

	// Embedding is the vector representation of Content. Dimension must match
	// the store's configured embedding dimensions.
	Embedding []float32

	// ChunkIndex orders chunks split from the same source payload.
	ChunkIndex int

	// ContentHash identifies duplicate chunk content independent of the
	// course-level duplicate check in [VectorStore.HasCourse].
	ContentHash string
}

// ChunkFilter is an equality filter over [ChunkRecord] metadata columns.
// The primary use is {"course_id": N}. Keys must name real ChunkRecord
// metadata columns; unrecognised keys are implementation-defined (the
// PostgreSQL adapter ignores them).
type ChunkFilter map[string]any

// ChunkResult pairs a retrieved chunk with its vector-space distance from the
// query embedding. Lower Distance values indicate higher semantic similarity.
type ChunkResult struct {
	// Chunk is the retrieved record.
	Chunk ChunkRecord

	// Distance is the cosine distance to the query embedding (0 = identical).
	Distance float64
}
