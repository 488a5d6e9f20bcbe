package hotctx_test

import (
	"context"
	"errors"
	"testing"

	"github.com/professorai/tutorcore/internal/hotctx"
	"github.com/professorai/tutorcore/pkg/memory"
	"github.com/professorai/tutorcore/pkg/memory/mock"
)

// ─────────────────────────────────────────────────────────────────────────────
// helpers
// ─────────────────────────────────────────────────────────────────────────────

type stubRetriever struct {
	result []memory.ChunkResult
	err    error
	calls  int
}

func (s *stubRetriever) Retrieve(_ context.Context, _ string, _ int) ([]memory.ChunkResult, error) {
	s.calls++
	return s.result, s.err
}

func makeHistory(n int) memory.ConversationHistory {
	history := make(memory.ConversationHistory, n)
	for i := range history {
		role := "user"
		if i%2 == 1 {
			role = "assistant"
		}
		history[i] = memory.Message{Role: role, Content: "hello"}
	}
	return history
}

// ─────────────────────────────────────────────────────────────────────────────
// tests
// ─────────────────────────────────────────────────────────────────────────────

func TestAssemble_Basic(t *testing.T) {
	ss := &mock.SessionStore{
		GetConversationHistoryResult: makeHistory(4),
	}
	retriever := &stubRetriever{
		result: []memory.ChunkResult{
			{Chunk: memory.ChunkRecord{ID: "c1", Content: "derivatives are rates of change"}},
		},
	}

	a := hotctx.NewAssembler(ss, retriever)
	pc, err := a.Assemble(context.Background(), "session-abc", "what is a derivative?",
		hotctx.CourseDetails{ID: 101, Name: "Calculus I"})
	if err != nil {
		t.Fatalf("Assemble() error = %v", err)
	}

	if len(pc.History) != 4 {
		t.Errorf("len(History) = %d, want 4", len(pc.History))
	}
	if len(pc.RetrievedChunks) != 1 {
		t.Errorf("len(RetrievedChunks) = %d, want 1", len(pc.RetrievedChunks))
	}
	if pc.Course.Name != "Calculus I" {
		t.Errorf("Course.Name = %q, want %q", pc.Course.Name, "Calculus I")
	}
	if pc.Question != "what is a derivative?" {
		t.Errorf("Question = %q", pc.Question)
	}
	if pc.AssemblyDuration <= 0 {
		t.Error("AssemblyDuration should be positive")
	}
}

func TestAssemble_NoCourseSkipsRetrieval(t *testing.T) {
	ss := &mock.SessionStore{GetConversationHistoryResult: makeHistory(2)}
	retriever := &stubRetriever{result: []memory.ChunkResult{{Chunk: memory.ChunkRecord{ID: "c1"}}}}

	a := hotctx.NewAssembler(ss, retriever)
	pc, err := a.Assemble(context.Background(), "session-abc", "hi there", hotctx.CourseDetails{})
	if err != nil {
		t.Fatalf("Assemble() error = %v", err)
	}
	if len(pc.RetrievedChunks) != 0 {
		t.Errorf("expected no retrieval when no course is selected, got %d chunks", len(pc.RetrievedChunks))
	}
	if retriever.calls != 0 {
		t.Errorf("Retrieve called %d times, want 0", retriever.calls)
	}
}

func TestAssemble_HistoryError(t *testing.T) {
	wantErr := errors.New("db unavailable")
	ss := &mock.SessionStore{GetConversationHistoryErr: wantErr}
	retriever := &stubRetriever{}

	a := hotctx.NewAssembler(ss, retriever)
	_, err := a.Assemble(context.Background(), "session-abc", "q", hotctx.CourseDetails{ID: 1})
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	if !errors.Is(err, wantErr) {
		t.Errorf("error does not wrap original: %v", err)
	}
}

func TestAssemble_RetrieverError(t *testing.T) {
	wantErr := errors.New("vector store down")
	ss := &mock.SessionStore{}
	retriever := &stubRetriever{err: wantErr}

	a := hotctx.NewAssembler(ss, retriever)
	_, err := a.Assemble(context.Background(), "session-abc", "q", hotctx.CourseDetails{ID: 1})
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	if !errors.Is(err, wantErr) {
		t.Errorf("error does not wrap original: %v", err)
	}
}

func TestAssemble_ConcurrentQueries(t *testing.T) {
	ss := &mock.SessionStore{GetConversationHistoryResult: makeHistory(2)}
	retriever := &stubRetriever{result: []memory.ChunkResult{{Chunk: memory.ChunkRecord{ID: "c1"}}}}

	a := hotctx.NewAssembler(ss, retriever)
	_, err := a.Assemble(context.Background(), "session-abc", "q", hotctx.CourseDetails{ID: 1})
	if err != nil {
		t.Fatalf("Assemble() error = %v", err)
	}

	if ss.CallCount("GetConversationHistory") != 1 {
		t.Errorf("GetConversationHistory called %d times, want 1", ss.CallCount("GetConversationHistory"))
	}
	if retriever.calls != 1 {
		t.Errorf("Retrieve called %d times, want 1", retriever.calls)
	}
}

func TestAssemble_WithHistoryTurns(t *testing.T) {
	ss := &mock.SessionStore{GetConversationHistoryResult: makeHistory(2)}
	retriever := &stubRetriever{}

	a := hotctx.NewAssembler(ss, retriever, hotctx.WithHistoryTurns(10))
	_, err := a.Assemble(context.Background(), "session-abc", "q", hotctx.CourseDetails{})
	if err != nil {
		t.Fatalf("Assemble() error = %v", err)
	}

	calls := ss.Calls()
	found := false
	for _, c := range calls {
		if c.Method == "GetConversationHistory" {
			if turns := c.Args[1].(int); turns == 10 {
				found = true
			}
		}
	}
	if !found {
		t.Error("GetConversationHistory was not called with WithHistoryTurns(10)")
	}
}
