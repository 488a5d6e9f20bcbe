package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/professorai/tutorcore/pkg/memory"
)

// SessionsImpl is the C4 memory layer: a PostgreSQL-backed session/message
// store with an in-process read-through cache over recent messages.
//
// Obtain one via [Store.Sessions] rather than constructing directly.
// All methods are safe for concurrent use.
type SessionsImpl struct {
	pool  *pgxpool.Pool
	cache *messageCache
}

// GetOrCreateSession implements [memory.SessionStore]. It is race-safe: the
// partial unique index on (user_id) WHERE active (see schema.go) rejects a
// second active session for the same user, and a caller whose insert loses
// that race returns the session the winner created, so two callers racing
// on the same userID converge on a single session.
func (s *SessionsImpl) GetOrCreateSession(ctx context.Context, userID string, connMeta memory.ConnMeta) (*memory.Session, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("sessions: begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	existing, err := s.getActiveSessionTx(ctx, tx, userID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}

	// Deactivate any stale active session first (defends against a session
	// that outlived its ExpiresAt but was never explicitly ended).
	if _, err := tx.Exec(ctx, `UPDATE sessions SET active = false WHERE user_id = $1 AND active`, userID); err != nil {
		return nil, fmt.Errorf("sessions: deactivate stale: %w", err)
	}

	metaJSON, err := json.Marshal(connMeta)
	if err != nil {
		return nil, fmt.Errorf("sessions: marshal conn_meta: %w", err)
	}

	now := time.Now()
	sess := &memory.Session{
		ID:             uuid.NewString(),
		UserID:         userID,
		StartedAt:      now,
		LastActivityAt: now,
		ExpiresAt:      now.Add(memory.SessionExpiry),
		Active:         true,
	}

	const q = `
		INSERT INTO sessions (id, user_id, started_at, last_activity_at, expires_at, active, message_count, conn_meta)
		VALUES ($1, $2, $3, $4, $5, true, 0, $6)`
	if _, err := tx.Exec(ctx, q, sess.ID, sess.UserID, sess.StartedAt, sess.LastActivityAt, sess.ExpiresAt, metaJSON); err != nil {
		// A unique violation on the one-active-per-user index means a
		// concurrent caller created the active session first; return theirs.
		_ = tx.Rollback(ctx)
		if sess2, gErr := s.GetActiveSession(ctx, userID); gErr == nil && sess2 != nil {
			return sess2, nil
		}
		return nil, fmt.Errorf("sessions: insert: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		// A unique-violation here means a concurrent caller won the race;
		// fetch and return their session instead of erroring.
		if sess2, gErr := s.GetActiveSession(ctx, userID); gErr == nil && sess2 != nil {
			return sess2, nil
		}
		return nil, fmt.Errorf("sessions: commit: %w", err)
	}

	return sess, nil
}

// GetActiveSession implements [memory.SessionStore].
func (s *SessionsImpl) GetActiveSession(ctx context.Context, userID string) (*memory.Session, error) {
	return s.getActiveSessionTx(ctx, s.pool, userID)
}

// querier abstracts over *pgxpool.Pool and pgx.Tx so query helpers can run
// inside or outside a transaction.
type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

func (s *SessionsImpl) getActiveSessionTx(ctx context.Context, q querier, userID string) (*memory.Session, error) {
	const query = `
		SELECT id, user_id, started_at, last_activity_at, expires_at, active, message_count
		FROM   sessions
		WHERE  user_id = $1 AND active
		LIMIT  1`

	rows, err := q.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("sessions: get active: %w", err)
	}
	sess, err := pgx.CollectOneRow(rows, pgx.RowToAddrOfStructByPos[memory.Session])
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("sessions: scan active: %w", err)
	}

	if time.Now().After(sess.ExpiresAt) {
		if _, err := q.Exec(ctx, `UPDATE sessions SET active = false WHERE id = $1`, sess.ID); err != nil {
			return nil, fmt.Errorf("sessions: expire: %w", err)
		}
		return nil, nil
	}

	return sess, nil
}

// EndSession implements [memory.SessionStore].
func (s *SessionsImpl) EndSession(ctx context.Context, sessionID string) error {
	if _, err := s.pool.Exec(ctx, `UPDATE sessions SET active = false WHERE id = $1`, sessionID); err != nil {
		return fmt.Errorf("sessions: end session: %w", err)
	}
	s.cache.invalidate(sessionID)
	return nil
}

// AppendMessage implements [memory.SessionStore].
func (s *SessionsImpl) AppendMessage(ctx context.Context, userID, sessionID, role, content, messageType string, metadata map[string]any) (*memory.Message, error) {
	metaJSON, err := json.Marshal(metadata)
	if err != nil {
		return nil, fmt.Errorf("sessions: marshal metadata: %w", err)
	}

	msg := &memory.Message{
		ID:          uuid.NewString(),
		SessionID:   sessionID,
		UserID:      userID,
		Role:        role,
		Content:     content,
		MessageType: messageType,
		Metadata:    metadata,
		CreatedAt:   time.Now(),
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("sessions: begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	const insertMsg = `
		INSERT INTO messages (id, session_id, user_id, role, content, message_type, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`
	if _, err := tx.Exec(ctx, insertMsg, msg.ID, msg.SessionID, msg.UserID, msg.Role, msg.Content, msg.MessageType, metaJSON, msg.CreatedAt); err != nil {
		return nil, fmt.Errorf("sessions: insert message: %w", err)
	}

	const touchSession = `
		UPDATE sessions
		SET    last_activity_at = $2, message_count = message_count + 1, expires_at = $3
		WHERE  id = $1`
	if _, err := tx.Exec(ctx, touchSession, sessionID, msg.CreatedAt, msg.CreatedAt.Add(memory.SessionExpiry)); err != nil {
		return nil, fmt.Errorf("sessions: touch session: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("sessions: commit: %w", err)
	}

	s.cache.append(sessionID, *msg)
	return msg, nil
}

// GetMessages implements [memory.SessionStore]. It serves from the
// read-through cache when available and reads limit <= messageCacheLimit.
func (s *SessionsImpl) GetMessages(ctx context.Context, sessionID string, limit int) ([]memory.Message, error) {
	if limit <= 0 {
		limit = messageCacheLimit
	}

	if limit <= messageCacheLimit {
		if cached, ok := s.cache.get(sessionID); ok {
			if len(cached) > limit {
				cached = cached[len(cached)-limit:]
			}
			return cached, nil
		}
	}

	const q = `
		SELECT id, session_id, user_id, role, content, message_type, metadata, created_at
		FROM   messages
		WHERE  session_id = $1
		ORDER  BY created_at DESC
		LIMIT  $2`

	rows, err := s.pool.Query(ctx, q, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("sessions: get messages: %w", err)
	}
	messages, err := collectMessages(rows)
	if err != nil {
		return nil, err
	}
	reverseMessages(messages)

	if limit == messageCacheLimit {
		s.cache.set(sessionID, messages)
	}

	return messages, nil
}

// GetConversationHistory implements [memory.SessionStore].
func (s *SessionsImpl) GetConversationHistory(ctx context.Context, sessionID string, turns int) (memory.ConversationHistory, error) {
	limit := turns * 2
	messages, err := s.GetMessages(ctx, sessionID, limit)
	if err != nil {
		return nil, err
	}
	return memory.ConversationHistory(messages), nil
}

// collectMessages scans pgx rows (most-recent-first) into Message values,
// decoding each row's JSONB metadata column.
func collectMessages(rows pgx.Rows) ([]memory.Message, error) {
	defer rows.Close()
	var out []memory.Message
	for rows.Next() {
		var (
			m        memory.Message
			metaJSON []byte
		)
		if err := rows.Scan(&m.ID, &m.SessionID, &m.UserID, &m.Role, &m.Content, &m.MessageType, &metaJSON, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("sessions: scan message: %w", err)
		}
		if len(metaJSON) > 0 {
			if err := json.Unmarshal(metaJSON, &m.Metadata); err != nil {
				return nil, fmt.Errorf("sessions: unmarshal metadata: %w", err)
			}
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sessions: rows: %w", err)
	}
	if out == nil {
		out = []memory.Message{}
	}
	return out, nil
}

// reverseMessages flips a most-recent-first slice into chronological order.
func reverseMessages(m []memory.Message) {
	for i, j := 0, len(m)-1; i < j; i, j = i+1, j-1 {
		m[i], m[j] = m[j], m[i]
	}
}
