// Package retrieval implements the hybrid retriever: the component that
// turns a user question into an ordered list of course content chunks by
// combining dense vector similarity with lexical (full-text) search.
//
// Neither signal alone is reliable for tutoring content: vector similarity
// misses exact terminology matches ("what is Theorem 4.2") while full-text
// search misses paraphrases ("explain the squeeze rule" for a chunk titled
// "Squeeze Theorem"). The two ranked lists are combined with reciprocal-rank
// fusion, which needs no score normalisation between the two very different
// scales (cosine distance vs. ts_rank), and a pluggable reranker hook runs
// last so a future cross-encoder pass can slot in without touching the
// fusion logic.
package retrieval

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/professorai/tutorcore/internal/observe"
	"github.com/professorai/tutorcore/pkg/memory"
	"github.com/professorai/tutorcore/pkg/provider/embeddings"
)

// defaultK is the number of chunks returned to the caller when k is not
// otherwise specified.
const defaultK = 3

// prefetchK is how many candidates each leg (vector, text) fetches before
// fusion, per the spec's k_pre in [5, 10].
const prefetchK = 8

// VectorTextStore is the subset of the C2 memory layer the retriever
// depends on: dense similarity search plus the full-text leg. A narrower
// interface than [memory.VectorStore] is used here deliberately — adding
// QueryText to that interface would force every vector-store backend
// (including test mocks) to implement full-text search even when they have
// no SQL engine behind them. The concrete postgres.VectorsImpl satisfies
// this interface structurally, with no explicit declaration needed.
type VectorTextStore interface {
	Query(ctx context.Context, embedding []float32, k int, filter memory.ChunkFilter) ([]memory.ChunkResult, error)
	QueryText(ctx context.Context, query string, k int, filter memory.ChunkFilter) ([]memory.ChunkResult, error)
}

// Reranker reorders a fused candidate list before it is truncated to k. The
// default reranker is a no-op that preserves fusion order, keeping retrieval
// latency low; a future cross-encoder-backed implementation can be swapped
// in via [WithReranker] without touching the fusion logic.
type Reranker interface {
	Rerank(ctx context.Context, query string, candidates []memory.ChunkResult) ([]memory.ChunkResult, error)
}

// noopReranker returns candidates unchanged.
type noopReranker struct{}

func (noopReranker) Rerank(_ context.Context, _ string, candidates []memory.ChunkResult) ([]memory.ChunkResult, error) {
	return candidates, nil
}

// rrfConstant is the standard reciprocal-rank-fusion smoothing constant (k in
// 1/(k+rank)), chosen to de-emphasise rank-1 dominance from either leg alone.
const rrfConstant = 60

// Option configures a [Retriever].
type Option func(*Retriever)

// WithK overrides the default number of chunks returned per query.
func WithK(k int) Option {
	return func(r *Retriever) {
		if k > 0 {
			r.k = k
		}
	}
}

// WithReranker installs a custom reranking pass. The default is a no-op.
func WithReranker(rr Reranker) Option {
	return func(r *Retriever) { r.reranker = rr }
}

// Retriever implements [hotctx.Retriever] by fusing dense vector similarity
// and full-text search results from the shared chunk store.
//
// A Retriever is safe for concurrent use.
type Retriever struct {
	embedder embeddings.Provider
	store    VectorTextStore
	metrics  *observe.Metrics
	k        int
	reranker Reranker
}

// New creates a Retriever backed by embedder (for query embedding) and store
// (for both the vector and full-text legs). metrics may be nil.
func New(embedder embeddings.Provider, store VectorTextStore, metrics *observe.Metrics, opts ...Option) *Retriever {
	r := &Retriever{
		embedder: embedder,
		store:    store,
		metrics:  metrics,
		k:        defaultK,
		reranker: noopReranker{},
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Retrieve embeds query, runs the vector leg and then the full-text leg
// against store scoped to courseID, fuses the two ranked lists with
// reciprocal-rank fusion, applies the reranker, and truncates to the
// configured k.
//
// If courseID is zero, no course filter is applied (the caller is expected
// to have already decided retrieval is warranted). When neither leg matches
// anything, Retrieve returns an empty, non-nil slice — results are never
// synthesized.
func (r *Retriever) Retrieve(ctx context.Context, query string, courseID int) ([]memory.ChunkResult, error) {
	start := time.Now()
	defer func() {
		if r.metrics != nil {
			r.metrics.RetrievalDuration.Record(ctx, time.Since(start).Seconds())
		}
	}()

	filter := memory.ChunkFilter{}
	if courseID != 0 {
		filter["course_id"] = courseID
	}

	vec, err := r.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("retrieval: embed query: %w", err)
	}

	vectorLeg, err := r.store.Query(ctx, vec, prefetchK, filter)
	if err != nil {
		return nil, fmt.Errorf("retrieval: vector leg: %w", err)
	}
	textLeg, err := r.store.QueryText(ctx, query, prefetchK, filter)
	if err != nil {
		return nil, fmt.Errorf("retrieval: text leg: %w", err)
	}

	fused := fuse(vectorLeg, textLeg)

	reranked, err := r.reranker.Rerank(ctx, query, fused)
	if err != nil {
		return nil, fmt.Errorf("retrieval: rerank: %w", err)
	}

	if courseID != 0 {
		for _, c := range reranked {
			if c.Chunk.CourseID != courseID {
				return nil, fmt.Errorf("retrieval: store returned chunk %s outside course %d", c.Chunk.ID, courseID)
			}
		}
	}

	if len(reranked) > r.k {
		reranked = reranked[:r.k]
	}
	if reranked == nil {
		reranked = []memory.ChunkResult{}
	}
	return reranked, nil
}

// fuse combines two ranked chunk-result lists using reciprocal-rank fusion,
// returning a single list ordered by descending fused score. Chunks present
// in both legs accumulate a score contribution from each.
func fuse(lists ...[]memory.ChunkResult) []memory.ChunkResult {
	scores := make(map[string]float64)
	chunks := make(map[string]memory.ChunkResult)

	for _, list := range lists {
		for rank, cr := range list {
			scores[cr.Chunk.ID] += 1.0 / float64(rrfConstant+rank+1)
			if _, ok := chunks[cr.Chunk.ID]; !ok {
				chunks[cr.Chunk.ID] = cr
			}
		}
	}

	ids := make([]string, 0, len(chunks))
	for id := range chunks {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		if scores[ids[i]] != scores[ids[j]] {
			return scores[ids[i]] > scores[ids[j]]
		}
		return ids[i] < ids[j] // stable tiebreak for deterministic output
	})

	out := make([]memory.ChunkResult, 0, len(ids))
	for _, id := range ids {
		out = append(out, chunks[id])
	}
	return out
}
