package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgxvec "github.com/pgvector/pgvector-go/pgx"

	"github.com/professorai/tutorcore/pkg/memory"
)

// Compile-time interface checks.
var (
	_ memory.SessionStore = (*SessionsImpl)(nil)
	_ memory.VectorStore  = (*VectorsImpl)(nil)
	_ memory.CourseStore  = (*CoursesImpl)(nil)
)

// Store is the central PostgreSQL-backed store for tutorcore. It holds a
// single [pgxpool.Pool] and exposes both memory layers:
//
//   - [Store.Sessions] returns a [SessionsImpl] implementing [memory.SessionStore] (C4)
//   - [Store.Vectors] returns a [VectorsImpl] implementing [memory.VectorStore] (C2)
//
// All operations are safe for concurrent use.
type Store struct {
	pool     *pgxpool.Pool
	sessions *SessionsImpl
	vectors  *VectorsImpl
	courses  *CoursesImpl
}

// NewStore creates a new Store, establishes a connection pool to the PostgreSQL
// database at dsn, registers pgvector types on every connection, and runs
// [Migrate] to ensure all required tables and extensions exist.
//
// embeddingDimensions must match the output dimension of the embedding model
// used to produce [memory.ChunkRecord.Embedding] values (e.g., 1536 for OpenAI
// text-embedding-3-small). Changing this value after the first migration
// requires a manual schema change.
func NewStore(ctx context.Context, dsn string, embeddingDimensions int) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres store: parse dsn: %w", err)
	}

	// Register pgvector types on every new connection so that vector columns
	// can be scanned into and inserted from pgvector.Vector values.
	cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvec.RegisterTypes(ctx, conn)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres store: create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: ping: %w", err)
	}

	if err := Migrate(ctx, pool, embeddingDimensions); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: migrate: %w", err)
	}

	return &Store{
		pool:     pool,
		sessions: &SessionsImpl{pool: pool, cache: newMessageCache()},
		vectors:  &VectorsImpl{pool: pool},
		courses:  &CoursesImpl{pool: pool},
	}, nil
}

// Sessions returns the C4 session/message store implementation which
// satisfies [memory.SessionStore].
func (s *Store) Sessions() *SessionsImpl { return s.sessions }

// Vectors returns the C2 vector store adapter implementation which satisfies
// [memory.VectorStore].
func (s *Store) Vectors() *VectorsImpl { return s.vectors }

// Courses returns the relational course/module/topic store implementation
// which satisfies [memory.CourseStore], used by the PDF ingestion pipeline.
func (s *Store) Courses() *CoursesImpl { return s.courses }

// Close releases all connections held by the underlying connection pool.
// It should be called when the Store is no longer needed, typically via defer.
func (s *Store) Close() {
	s.pool.Close()
}
