package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgvector "github.com/pgvector/pgvector-go"

	"github.com/professorai/tutorcore/pkg/memory"
)

// vectorUpsertBatchSize caps the number of records sent in a single upsert
// statement, per the C2 per-upsert size cap.
const vectorUpsertBatchSize = 200

// VectorsImpl is the C2 memory layer backed by a PostgreSQL chunks table with
// a pgvector HNSW index for fast approximate nearest-neighbour search.
//
// Obtain one via [Store.Vectors] rather than constructing directly.
// All methods are safe for concurrent use.
type VectorsImpl struct {
	pool *pgxpool.Pool
}

// EnsureCollection implements [memory.VectorStore]. The chunks table is
// already created by [Migrate], so this is a no-op kept for interface parity
// with non-relational vector backends that require an explicit create step.
func (v *VectorsImpl) EnsureCollection(ctx context.Context) error {
	return nil
}

// Upsert implements [memory.VectorStore]. Records are partitioned into
// batches of at most vectorUpsertBatchSize and upserted sequentially; on the
// first batch failure, written reports how many records were durably
// committed by prior batches.
func (v *VectorsImpl) Upsert(ctx context.Context, records []memory.ChunkRecord) (int, error) {
	written := 0
	for start := 0; start < len(records); start += vectorUpsertBatchSize {
		end := min(start+vectorUpsertBatchSize, len(records))
		batch := records[start:end]
		if err := v.upsertBatch(ctx, batch); err != nil {
			return written, fmt.Errorf("vectors: upsert batch at offset %d: %w", start, err)
		}
		written += len(batch)
	}
	return written, nil
}

func (v *VectorsImpl) upsertBatch(ctx context.Context, batch []memory.ChunkRecord) error {
	tx, err := v.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	const q = `
		INSERT INTO chunks
		    (id, course_id, course_name, module, week, title, source, type, content, embedding, chunk_index, content_hash)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (id) DO UPDATE SET
		    course_id    = EXCLUDED.course_id,
		    course_name  = EXCLUDED.course_name,
		    module       = EXCLUDED.module,
		    week         = EXCLUDED.week,
		    title        = EXCLUDED.title,
		    source       = EXCLUDED.source,
		    type         = EXCLUDED.type,
		    content      = EXCLUDED.content,
		    embedding    = EXCLUDED.embedding,
		    chunk_index  = EXCLUDED.chunk_index,
		    content_hash = EXCLUDED.content_hash`

	for _, rec := range batch {
		if rec.ID == "" {
			rec.ID = uuid.NewString()
		}
		if rec.Type == "" {
			rec.Type = "course_content"
		}
		vec := pgvector.NewVector(rec.Embedding)
		if _, err := tx.Exec(ctx, q,
			rec.ID, rec.CourseID, rec.CourseName, rec.Module, rec.Week, rec.Title,
			rec.Source, rec.Type, rec.Content, vec, rec.ChunkIndex, rec.ContentHash,
		); err != nil {
			return fmt.Errorf("exec: %w", err)
		}
	}

	return tx.Commit(ctx)
}

// Count implements [memory.VectorStore].
func (v *VectorsImpl) Count(ctx context.Context) (int, error) {
	var n int
	if err := v.pool.QueryRow(ctx, `SELECT count(*) FROM chunks`).Scan(&n); err != nil {
		return 0, fmt.Errorf("vectors: count: %w", err)
	}
	return n, nil
}

// Peek implements [memory.VectorStore].
func (v *VectorsImpl) Peek(ctx context.Context, k int) ([]memory.ChunkRecord, error) {
	rows, err := v.pool.Query(ctx, `
		SELECT id, course_id, course_name, module, week, title, source, type, content, embedding, chunk_index, content_hash
		FROM   chunks
		LIMIT  $1`, k)
	if err != nil {
		return nil, fmt.Errorf("vectors: peek: %w", err)
	}
	return collectChunks(rows)
}

// Query implements [memory.VectorStore]. filter is applied as an equality
// AND-clause over the chunks table's first-class metadata columns.
func (v *VectorsImpl) Query(ctx context.Context, embedding []float32, k int, filter memory.ChunkFilter) ([]memory.ChunkResult, error) {
	queryVec := pgvector.NewVector(embedding)

	args := []any{queryVec} // $1 = query vector
	next := func(val any) string {
		args = append(args, val)
		return fmt.Sprintf("$%d", len(args))
	}

	var conditions []string
	for key, val := range filter {
		col, ok := chunkFilterColumn(key)
		if !ok {
			continue
		}
		conditions = append(conditions, col+" = "+next(val))
	}

	whereClause := ""
	if len(conditions) > 0 {
		whereClause = "WHERE " + strings.Join(conditions, "\n  AND ")
	}

	args = append(args, k)
	limitArg := fmt.Sprintf("$%d", len(args))

	q := fmt.Sprintf(`
		SELECT id, course_id, course_name, module, week, title, source, type, content, embedding, chunk_index, content_hash,
		       embedding <=> $1 AS distance
		FROM   chunks
		%s
		ORDER  BY distance
		LIMIT  %s`, whereClause, limitArg)

	rows, err := v.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("vectors: query: %w", err)
	}

	results, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (memory.ChunkResult, error) {
		var (
			cr  memory.ChunkResult
			vec pgvector.Vector
		)
		if err := row.Scan(
			&cr.Chunk.ID, &cr.Chunk.CourseID, &cr.Chunk.CourseName, &cr.Chunk.Module, &cr.Chunk.Week,
			&cr.Chunk.Title, &cr.Chunk.Source, &cr.Chunk.Type, &cr.Chunk.Content, &vec,
			&cr.Chunk.ChunkIndex, &cr.Chunk.ContentHash, &cr.Distance,
		); err != nil {
			return memory.ChunkResult{}, err
		}
		cr.Chunk.Embedding = vec.Slice()
		return cr, nil
	})
	if err != nil {
		return nil, fmt.Errorf("vectors: scan rows: %w", err)
	}
	if results == nil {
		results = []memory.ChunkResult{}
	}
	return results, nil
}

// QueryText performs a full-text search leg of hybrid retrieval against the
// same chunks table, scoring rows with Postgres's built-in `ts_rank` over the
// `idx_chunks_fts` GIN index rather than a separate search engine. Results are
// ordered by descending rank (best match first) — the caller is responsible
// for fusing this with [VectorsImpl.Query]'s distance-ordered results.
//
// Rows that do not match plainto_tsquery are never returned, so a query with
// no lexical overlap against any chunk yields an empty slice rather than
// padding the result with unrelated rows.
func (v *VectorsImpl) QueryText(ctx context.Context, query string, k int, filter memory.ChunkFilter) ([]memory.ChunkResult, error) {
	if strings.TrimSpace(query) == "" {
		return []memory.ChunkResult{}, nil
	}

	args := []any{query} // $1 = plainto_tsquery source text
	next := func(val any) string {
		args = append(args, val)
		return fmt.Sprintf("$%d", len(args))
	}

	var conditions []string
	for key, val := range filter {
		col, ok := chunkFilterColumn(key)
		if !ok {
			continue
		}
		conditions = append(conditions, col+" = "+next(val))
	}
	conditions = append(conditions, "to_tsvector('english', content) @@ plainto_tsquery('english', $1)")
	whereClause := "WHERE " + strings.Join(conditions, "\n  AND ")

	args = append(args, k)
	limitArg := fmt.Sprintf("$%d", len(args))

	q := fmt.Sprintf(`
		SELECT id, course_id, course_name, module, week, title, source, type, content, embedding, chunk_index, content_hash,
		       ts_rank(to_tsvector('english', content), plainto_tsquery('english', $1)) AS rank
		FROM   chunks
		%s
		ORDER  BY rank DESC
		LIMIT  %s`, whereClause, limitArg)

	rows, err := v.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("vectors: query text: %w", err)
	}

	results, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (memory.ChunkResult, error) {
		var (
			cr   memory.ChunkResult
			vec  pgvector.Vector
			rank float64
		)
		if err := row.Scan(
			&cr.Chunk.ID, &cr.Chunk.CourseID, &cr.Chunk.CourseName, &cr.Chunk.Module, &cr.Chunk.Week,
			&cr.Chunk.Title, &cr.Chunk.Source, &cr.Chunk.Type, &cr.Chunk.Content, &vec,
			&cr.Chunk.ChunkIndex, &cr.Chunk.ContentHash, &rank,
		); err != nil {
			return memory.ChunkResult{}, err
		}
		cr.Chunk.Embedding = vec.Slice()
		// Distance is expressed as 1-rank so higher-rank (better) matches sort
		// consistently with the vector leg's ascending-distance convention.
		cr.Distance = 1 - rank
		return cr, nil
	})
	if err != nil {
		return nil, fmt.Errorf("vectors: scan text rows: %w", err)
	}
	if results == nil {
		results = []memory.ChunkResult{}
	}
	return results, nil
}

// HasCourse implements [memory.VectorStore].
func (v *VectorsImpl) HasCourse(ctx context.Context, courseID int) (bool, error) {
	var exists bool
	const q = `SELECT EXISTS(SELECT 1 FROM chunks WHERE course_id = $1)`
	if err := v.pool.QueryRow(ctx, q, courseID).Scan(&exists); err != nil {
		return false, fmt.Errorf("vectors: has course: %w", err)
	}
	return exists, nil
}

// chunkFilterColumn maps a [memory.ChunkFilter] key to its backing column
// name, rejecting keys that don't name a real metadata column.
func chunkFilterColumn(key string) (string, bool) {
	switch key {
	case "course_id":
		return "course_id", true
	case "module":
		return "module", true
	case "week":
		return "week", true
	case "source":
		return "source", true
	case "type":
		return "type", true
	default:
		return "", false
	}
}

// collectChunks scans pgx rows into ChunkRecord values (no distance column).
func collectChunks(rows pgx.Rows) ([]memory.ChunkRecord, error) {
	records, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (memory.ChunkRecord, error) {
		var (
			rec memory.ChunkRecord
			vec pgvector.Vector
		)
		if err := row.Scan(
			&rec.ID, &rec.CourseID, &rec.CourseName, &rec.Module, &rec.Week,
			&rec.Title, &rec.Source, &rec.Type, &rec.Content, &vec,
			&rec.ChunkIndex, &rec.ContentHash,
		); err != nil {
			return memory.ChunkRecord{}, err
		}
		rec.Embedding = vec.Slice()
		return rec, nil
	})
	if err != nil {
		return nil, fmt.Errorf("vectors: scan rows: %w", err)
	}
	if records == nil {
		records = []memory.ChunkRecord{}
	}
	return records, nil
}
