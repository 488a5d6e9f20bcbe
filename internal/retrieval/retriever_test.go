package retrieval

import (
	"context"
	"errors"
	"testing"

	"github.com/professorai/tutorcore/pkg/memory"
	"github.com/professorai/tutorcore/pkg/provider/embeddings/mock"
)

// fakeStore is a hand-rolled VectorTextStore double: fixed responses per
// leg, with call recording for assertions on the course filter.
type fakeStore struct {
	vectorResult []memory.ChunkResult
	textResult   []memory.ChunkResult
	vectorErr    error
	textErr      error

	lastVectorFilter memory.ChunkFilter
	lastTextFilter   memory.ChunkFilter
}

func (f *fakeStore) Query(ctx context.Context, embedding []float32, k int, filter memory.ChunkFilter) ([]memory.ChunkResult, error) {
	f.lastVectorFilter = filter
	if f.vectorErr != nil {
		return nil, f.vectorErr
	}
	return f.vectorResult, nil
}

func (f *fakeStore) QueryText(ctx context.Context, query string, k int, filter memory.ChunkFilter) ([]memory.ChunkResult, error) {
	f.lastTextFilter = filter
	if f.textErr != nil {
		return nil, f.textErr
	}
	return f.textResult, nil
}

func chunk(id string, courseID int) memory.ChunkResult {
	return memory.ChunkResult{Chunk: memory.ChunkRecord{ID: id, CourseID: courseID}}
}

func TestRetrieve_FusesAndTruncates(t *testing.T) {
	store := &fakeStore{
		vectorResult: []memory.ChunkResult{chunk("a", 7), chunk("b", 7), chunk("c", 7)},
		textResult:   []memory.ChunkResult{chunk("b", 7), chunk("d", 7)},
	}
	embedder := &mock.Provider{EmbedResult: []float32{0.1, 0.2}}
	r := New(embedder, store, nil, WithK(2))

	results, err := r.Retrieve(context.Background(), "what is a derivative", 7)
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("len(results) = %d, want 2", len(results))
	}
	// "b" appears in both legs so it must fuse to the top.
	if results[0].Chunk.ID != "b" {
		t.Errorf("results[0].ID = %q, want %q", results[0].Chunk.ID, "b")
	}

	if store.lastVectorFilter["course_id"] != 7 {
		t.Errorf("vector leg course filter = %v, want 7", store.lastVectorFilter["course_id"])
	}
	if store.lastTextFilter["course_id"] != 7 {
		t.Errorf("text leg course filter = %v, want 7", store.lastTextFilter["course_id"])
	}
}

func TestRetrieve_EmptyWhenNoMatches(t *testing.T) {
	store := &fakeStore{}
	embedder := &mock.Provider{EmbedResult: []float32{0.1}}
	r := New(embedder, store, nil)

	results, err := r.Retrieve(context.Background(), "nothing matches this", 3)
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if results == nil {
		t.Fatalf("results must be non-nil, got nil")
	}
	if len(results) != 0 {
		t.Fatalf("len(results) = %d, want 0", len(results))
	}
}

func TestRetrieve_NoCourseFilterWhenCourseIDZero(t *testing.T) {
	store := &fakeStore{vectorResult: []memory.ChunkResult{chunk("a", 1), chunk("b", 2)}}
	embedder := &mock.Provider{EmbedResult: []float32{0.1}}
	r := New(embedder, store, nil)

	results, err := r.Retrieve(context.Background(), "general question", 0)
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("len(results) = %d, want 2", len(results))
	}
	if _, ok := store.lastVectorFilter["course_id"]; ok {
		t.Errorf("expected no course_id filter when courseID is 0")
	}
}

func TestRetrieve_EmbedErrorPropagates(t *testing.T) {
	store := &fakeStore{}
	embedder := &mock.Provider{EmbedErr: errors.New("boom")}
	r := New(embedder, store, nil)

	if _, err := r.Retrieve(context.Background(), "q", 1); err == nil {
		t.Fatalf("expected error from failing embedder")
	}
}

func TestRetrieve_RejectsChunkOutsideCourseFilter(t *testing.T) {
	store := &fakeStore{vectorResult: []memory.ChunkResult{chunk("a", 999)}}
	embedder := &mock.Provider{EmbedResult: []float32{0.1}}
	r := New(embedder, store, nil)

	if _, err := r.Retrieve(context.Background(), "q", 7); err == nil {
		t.Fatalf("expected error when store violates the course_id invariant")
	}
}
