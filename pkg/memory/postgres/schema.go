// Package postgres provides a PostgreSQL-backed implementation of the session
// store (C4) and vector store adapter (C2).
//
// Both layers share a single [pgxpool.Pool] connection pool. The pgvector
// extension must be available in the target database; [Migrate] installs it
// automatically via CREATE EXTENSION IF NOT EXISTS.
//
// Usage:
//
//	store, err := postgres.NewStore(ctx, dsn, 1536)
//	if err != nil { … }
//
//	// C4
//	sess, _ := store.Sessions().GetOrCreateSession(ctx, userID, nil)
//
//	// C2
//	_, _ = store.Vectors().Upsert(ctx, chunks)
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// ─────────────────────────────────────────────────────────────────────────────
// C4 DDL — sessions and messages
// ─────────────────────────────────────────────────────────────────────────────

const ddlSessions = `
CREATE TABLE IF NOT EXISTS sessions (
    id                TEXT         PRIMARY KEY,
    user_id           TEXT         NOT NULL,
    started_at        TIMESTAMPTZ  NOT NULL DEFAULT now(),
    last_activity_at  TIMESTAMPTZ  NOT NULL DEFAULT now(),
    expires_at        TIMESTAMPTZ  NOT NULL,
    active            BOOLEAN      NOT NULL DEFAULT true,
    message_count     INT          NOT NULL DEFAULT 0,
    conn_meta         JSONB        NOT NULL DEFAULT '{}'
);

CREATE INDEX IF NOT EXISTS idx_sessions_user_id ON sessions (user_id);

-- Enforces the "at most one active session per user" invariant at the
-- database level, independent of the application-level locking in Sessions.
CREATE UNIQUE INDEX IF NOT EXISTS idx_sessions_one_active_per_user
    ON sessions (user_id) WHERE active;

CREATE TABLE IF NOT EXISTS messages (
    id            TEXT         PRIMARY KEY,
    session_id    TEXT         NOT NULL REFERENCES sessions (id) ON DELETE CASCADE,
    user_id       TEXT         NOT NULL,
    role          TEXT         NOT NULL,
    content       TEXT         NOT NULL,
    message_type  TEXT         NOT NULL DEFAULT 'text',
    metadata      JSONB        NOT NULL DEFAULT '{}',
    created_at    TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_messages_session_created
    ON messages (session_id, created_at);
`

// ddlVectors returns the C2 DDL with the embedding dimension substituted.
// The vector dimension is baked into the column type at schema creation time.
func ddlVectors(embeddingDimensions int) string {
	return fmt.Sprintf(`
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS chunks (
    id            TEXT         PRIMARY KEY,
    course_id     INT          NOT NULL,
    course_name   TEXT         NOT NULL DEFAULT '',
    module        TEXT         NOT NULL DEFAULT '',
    week          INT          NOT NULL DEFAULT 0,
    title         TEXT         NOT NULL DEFAULT '',
    source        TEXT         NOT NULL DEFAULT '',
    type          TEXT         NOT NULL DEFAULT 'course_content',
    content       TEXT         NOT NULL,
    embedding     vector(%d),
    chunk_index   INT          NOT NULL DEFAULT 0,
    content_hash  TEXT         NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_chunks_course_id
    ON chunks (course_id);

CREATE UNIQUE INDEX IF NOT EXISTS idx_chunks_course_module_title_index
    ON chunks (course_id, module, title, chunk_index);

CREATE INDEX IF NOT EXISTS idx_chunks_content_hash
    ON chunks (content_hash);

CREATE INDEX IF NOT EXISTS idx_chunks_embedding
    ON chunks USING hnsw (embedding vector_cosine_ops);

CREATE INDEX IF NOT EXISTS idx_chunks_fts
    ON chunks USING GIN (to_tsvector('english', content));
`, embeddingDimensions)
}

// ─────────────────────────────────────────────────────────────────────────────
// C12-adjacent DDL — the relational course/module/topic skeleton written by
// the PDF ingestion pipeline, companion to the chunks table above
// ─────────────────────────────────────────────────────────────────────────────

const ddlCourses = `
CREATE TABLE IF NOT EXISTS courses (
    id            SERIAL       PRIMARY KEY,
    number        TEXT         NOT NULL DEFAULT '',
    title         TEXT         NOT NULL,
    description   TEXT         NOT NULL DEFAULT '',
    level         TEXT         NOT NULL DEFAULT '',
    teacher_id    TEXT         NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS modules (
    id            SERIAL       PRIMARY KEY,
    course_id     INT          NOT NULL REFERENCES courses (id) ON DELETE CASCADE,
    week          INT          NOT NULL DEFAULT 0,
    title         TEXT         NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_modules_course_id ON modules (course_id);

CREATE TABLE IF NOT EXISTS topics (
    id            SERIAL       PRIMARY KEY,
    module_id     INT          NOT NULL REFERENCES modules (id) ON DELETE CASCADE,
    title         TEXT         NOT NULL DEFAULT '',
    content       TEXT         NOT NULL DEFAULT '',
    order_index   INT          NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_topics_module_id ON topics (module_id);
`

// Migrate creates or ensures all required database tables and extensions exist.
// It is idempotent (CREATE TABLE IF NOT EXISTS / CREATE INDEX IF NOT EXISTS) and
// safe to call on every application start.
//
// embeddingDimensions must match the vector model configured for your deployment
// (e.g., 1536 for OpenAI text-embedding-3-small, 768 for nomic-embed-text).
// Changing this value after the first migration requires a manual schema update.
func Migrate(ctx context.Context, pool *pgxpool.Pool, embeddingDimensions int) error {
	statements := []string{
		ddlSessions,
		ddlVectors(embeddingDimensions),
		ddlCourses,
	}

	for _, stmt := range statements {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("postgres migrate: %w", err)
		}
	}
	return nil
}
