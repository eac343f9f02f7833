package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/engramhq/engram/internal/models"
)

const sessionColumns = `id, app_name, title, start_time, end_time, first_trace_id,
	last_trace_id, context, embedding, trace_count, entity_counts, key_actions,
	created_at, updated_at`

// SessionStore handles ActivitySession persistence.
type SessionStore struct {
	db *DB
}

func NewSessionStore(db *DB) *SessionStore {
	return &SessionStore{db: db}
}

// Insert stores a new session and returns its assigned ID.
func (s *SessionStore) Insert(sess *models.ActivitySession) (int64, error) {
	now := time.Now().UnixMilli()
	if sess.CreatedAt == 0 {
		sess.CreatedAt = now
	}
	if sess.UpdatedAt == 0 {
		sess.UpdatedAt = now
	}
	keyActionsJSON, _ := json.Marshal(sess.KeyActions)
	entityCountsJSON, _ := json.Marshal(sess.EntityCounts)
	res, err := s.db.Exec(`
		INSERT INTO activity_sessions (app_name, title, start_time, end_time,
			first_trace_id, last_trace_id, context, embedding, trace_count,
			entity_counts, key_actions, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		sess.AppName, sess.Title, sess.StartTime, sess.EndTime,
		sess.FirstTraceID, sess.LastTraceID, sess.Context, sess.Embedding,
		sess.TraceCount, string(entityCountsJSON), string(keyActionsJSON),
		sess.CreatedAt, sess.UpdatedAt,
	)
	if err != nil {
		return 0, fmt.Errorf("insert session: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("session insert id: %w", err)
	}
	sess.ID = id
	return id, nil
}

// Update rewrites the mutable fields of an open session.
func (s *SessionStore) Update(sess *models.ActivitySession) error {
	sess.UpdatedAt = time.Now().UnixMilli()
	keyActionsJSON, _ := json.Marshal(sess.KeyActions)
	entityCountsJSON, _ := json.Marshal(sess.EntityCounts)
	res, err := s.db.Exec(`
		UPDATE activity_sessions
		SET title = ?, end_time = ?, last_trace_id = ?, context = ?, embedding = ?,
			trace_count = ?, entity_counts = ?, key_actions = ?, updated_at = ?
		WHERE id = ?
	`,
		sess.Title, sess.EndTime, sess.LastTraceID, sess.Context, sess.Embedding,
		sess.TraceCount, string(entityCountsJSON), string(keyActionsJSON),
		sess.UpdatedAt, sess.ID,
	)
	if err != nil {
		return fmt.Errorf("update session: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("session not found: %d", sess.ID)
	}
	return nil
}

// GetByID fetches a session, or nil if it does not exist.
func (s *SessionStore) GetByID(id int64) (*models.ActivitySession, error) {
	sess, err := scanSession(s.db.QueryRow(
		fmt.Sprintf(`SELECT %s FROM activity_sessions WHERE id = ?`, sessionColumns), id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return sess, err
}

// List returns sessions overlapping [start, end], newest first. Zero bounds
// mean unbounded; an empty app matches all apps.
func (s *SessionStore) List(start, end int64, app string, limit int) ([]*models.ActivitySession, error) {
	if limit <= 0 {
		limit = 100
	}
	if end == 0 {
		end = time.Now().UnixMilli()
	}
	q := fmt.Sprintf(`
		SELECT %s FROM activity_sessions
		WHERE end_time >= ? AND start_time <= ?`, sessionColumns)
	args := []any{start, end}
	if app != "" {
		q += ` AND app_name = ?`
		args = append(args, app)
	}
	q += ` ORDER BY start_time DESC LIMIT ?`
	args = append(args, limit)
	rows, err := s.db.Query(q, args...)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*models.ActivitySession
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		sessions = append(sessions, sess)
	}
	return sessions, rows.Err()
}

// Count returns the total number of sessions.
func (s *SessionStore) Count() (int, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM activity_sessions`).Scan(&n)
	return n, err
}

func scanSession(row rowScanner) (*models.ActivitySession, error) {
	var sess models.ActivitySession
	var entityCountsJSON, keyActionsJSON sql.NullString
	err := row.Scan(
		&sess.ID, &sess.AppName, &sess.Title, &sess.StartTime, &sess.EndTime,
		&sess.FirstTraceID, &sess.LastTraceID, &sess.Context, &sess.Embedding,
		&sess.TraceCount, &entityCountsJSON, &keyActionsJSON,
		&sess.CreatedAt, &sess.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if entityCountsJSON.Valid && entityCountsJSON.String != "" {
		_ = json.Unmarshal([]byte(entityCountsJSON.String), &sess.EntityCounts)
	}
	if keyActionsJSON.Valid && keyActionsJSON.String != "" {
		_ = json.Unmarshal([]byte(keyActionsJSON.String), &sess.KeyActions)
	}
	return &sess, nil
}
