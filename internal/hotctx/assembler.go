// Package hotctx assembles the retrieval-augmented prompt context for every
// chat-orchestrator turn (C7's "compose" step).
//
// Assembly consists of two components fetched concurrently:
//
//  1. Recent conversation history from the session store (C4).
//  2. Retrieved course content chunks from the hybrid retriever (C6).
//
// Target assembly latency is well under the orchestrator's overall turn
// budget. Use [FormatPrompt] to convert a [PromptContext] into the final
// four-slot prompt string ready for LLM injection.
package hotctx

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/professorai/tutorcore/pkg/memory"
)

// ─────────────────────────────────────────────────────────────────────────────
// Public types
// ─────────────────────────────────────────────────────────────────────────────

// CourseDetails is the denormalised course summary rendered into the
// "selected_course_details" prompt slot.
type CourseDetails struct {
	// ID is the course's integer primary key. Zero means no course is selected
	// (the query was routed outside the RAG path).
	ID int

	// Name is the course's human-readable title.
	Name string

	// Description is a short free-text summary of the course's scope.
	Description string
}

// PromptContext is the assembled input to [FormatPrompt]. All fields are
// optional — callers should check for emptiness before relying on them.
type PromptContext struct {
	// Course is the currently selected course, if any.
	Course CourseDetails

	// History is the recent conversation, oldest first.
	History memory.ConversationHistory

	// RetrievedChunks are the course content chunks returned by the hybrid
	// retriever (C6) for the current question, ordered most relevant first.
	RetrievedChunks []memory.ChunkResult

	// Question is the user's current query, verbatim.
	Question string

	// AssemblyDuration records how long [Assembler.Assemble] took.
	AssemblyDuration time.Duration
}

// Retriever is the subset of the hybrid retriever (C6) the assembler depends
// on. Implementations fuse vector similarity and keyword search and apply a
// reranking pass before returning.
type Retriever interface {
	Retrieve(ctx context.Context, query string, courseID int) ([]memory.ChunkResult, error)
}

// ─────────────────────────────────────────────────────────────────────────────
// Assembler
// ─────────────────────────────────────────────────────────────────────────────

// Assembler concurrently fetches conversation history and retrieved chunks
// and combines them into a [PromptContext].
type Assembler struct {
	sessions     memory.SessionStore
	retriever    Retriever
	historyTurns int
}

// Option is a functional option for [NewAssembler].
type Option func(*Assembler)

// WithHistoryTurns sets how many conversation turns [Assembler.Assemble]
// requests from the session store. Defaults to 5; since
// [memory.SessionStore.GetConversationHistory] returns up to 2*turns
// messages, that is at most 10 messages.
func WithHistoryTurns(n int) Option {
	return func(a *Assembler) { a.historyTurns = n }
}

// NewAssembler creates an [Assembler] with sensible defaults.
// Apply [Option] values to override the defaults.
func NewAssembler(sessions memory.SessionStore, retriever Retriever, opts ...Option) *Assembler {
	a := &Assembler{
		sessions:     sessions,
		retriever:    retriever,
		historyTurns: 5,
	}
	for _, o := range opts {
		o(a)
	}
	return a
}

// Assemble concurrently fetches conversation history and retrieved chunks for
// question and returns a fully populated [PromptContext].
//
// If either fetch returns an error, assembly is aborted and that error is
// returned — wrapped with a "compose: " prefix.
//
// Assemble respects context cancellation on all underlying I/O calls.
func (a *Assembler) Assemble(ctx context.Context, sessionID, question string, course CourseDetails) (*PromptContext, error) {
	start := time.Now()

	var (
		history memory.ConversationHistory
		chunks  []memory.ChunkResult
	)

	eg, egCtx := errgroup.WithContext(ctx)

	eg.Go(func() error {
		h, err := a.sessions.GetConversationHistory(egCtx, sessionID, a.historyTurns)
		if err != nil {
			return fmt.Errorf("compose: get conversation history for session %q: %w", sessionID, err)
		}
		history = h
		return nil
	})

	eg.Go(func() error {
		if a.retriever == nil || course.ID == 0 {
			return nil
		}
		results, err := a.retriever.Retrieve(egCtx, question, course.ID)
		if err != nil {
			return fmt.Errorf("compose: retrieve chunks for course %d: %w", course.ID, err)
		}
		chunks = results
		return nil
	})

	if err := eg.Wait(); err != nil {
		return nil, err
	}

	return &PromptContext{
		Course:           course,
		History:          history,
		RetrievedChunks:  chunks,
		Question:         question,
		AssemblyDuration: time.Since(start),
	}, nil
}
