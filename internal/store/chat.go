package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/engramhq/engram/internal/models"
)

// ChatStore handles thread and message persistence.
type ChatStore struct {
	db *DB
}

func NewChatStore(db *DB) *ChatStore {
	return &ChatStore{db: db}
}

// CreateThread stores a new thread. The caller supplies the ID.
func (s *ChatStore) CreateThread(t *models.ChatThread) error {
	now := time.Now().UnixMilli()
	if t.CreatedAt == 0 {
		t.CreatedAt = now
	}
	if t.UpdatedAt == 0 {
		t.UpdatedAt = now
	}
	_, err := s.db.Exec(`
		INSERT INTO chat_threads (id, title, created_at, updated_at)
		VALUES (?, ?, ?, ?)
	`, t.ID, t.Title, t.CreatedAt, t.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create thread: %w", err)
	}
	return nil
}

// GetThread fetches a thread, or nil if it does not exist.
func (s *ChatStore) GetThread(id string) (*models.ChatThread, error) {
	var t models.ChatThread
	err := s.db.QueryRow(`
		SELECT id, title, created_at, updated_at FROM chat_threads WHERE id = ?
	`, id).Scan(&t.ID, &t.Title, &t.CreatedAt, &t.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get thread: %w", err)
	}
	return &t, nil
}

// ListThreads returns threads by recency.
func (s *ChatStore) ListThreads(limit int) ([]*models.ChatThread, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(`
		SELECT id, title, created_at, updated_at FROM chat_threads
		ORDER BY updated_at DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("list threads: %w", err)
	}
	defer rows.Close()

	var threads []*models.ChatThread
	for rows.Next() {
		var t models.ChatThread
		if err := rows.Scan(&t.ID, &t.Title, &t.CreatedAt, &t.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan thread: %w", err)
		}
		threads = append(threads, &t)
	}
	return threads, rows.Err()
}

// AppendMessage stores a message and bumps the thread's updated_at.
func (s *ChatStore) AppendMessage(m *models.ChatMessage) (int64, error) {
	if m.CreatedAt == 0 {
		m.CreatedAt = time.Now().UnixMilli()
	}
	var sourceIDs *string
	if len(m.SourceTraceIDs) > 0 {
		b, _ := json.Marshal(m.SourceTraceIDs)
		str := string(b)
		sourceIDs = &str
	}
	res, err := s.db.Exec(`
		INSERT INTO chat_messages (thread_id, role, content, source_trace_ids, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, m.ThreadID, m.Role, m.Content, sourceIDs, m.CreatedAt)
	if err != nil {
		return 0, fmt.Errorf("append message: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("message insert id: %w", err)
	}
	m.ID = id

	if _, err := s.db.Exec(
		`UPDATE chat_threads SET updated_at = ? WHERE id = ?`, m.CreatedAt, m.ThreadID); err != nil {
		return id, fmt.Errorf("touch thread: %w", err)
	}
	return id, nil
}

// Messages returns a thread's messages, oldest first.
func (s *ChatStore) Messages(threadID string, limit int) ([]*models.ChatMessage, error) {
	if limit <= 0 {
		limit = 200
	}
	rows, err := s.db.Query(`
		SELECT id, thread_id, role, content, source_trace_ids, created_at
		FROM chat_messages WHERE thread_id = ?
		ORDER BY created_at ASC, id ASC LIMIT ?
	`, threadID, limit)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	var msgs []*models.ChatMessage
	for rows.Next() {
		var m models.ChatMessage
		var sourceIDs sql.NullString
		if err := rows.Scan(&m.ID, &m.ThreadID, &m.Role, &m.Content, &sourceIDs, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		if sourceIDs.Valid && sourceIDs.String != "" {
			_ = json.Unmarshal([]byte(sourceIDs.String), &m.SourceTraceIDs)
		}
		msgs = append(msgs, &m)
	}
	return msgs, rows.Err()
}

// RecentMessages returns the last n messages of a thread, oldest first.
func (s *ChatStore) RecentMessages(threadID string, n int) ([]*models.ChatMessage, error) {
	msgs, err := s.Messages(threadID, 0)
	if err != nil {
		return nil, err
	}
	if len(msgs) > n {
		msgs = msgs[len(msgs)-n:]
	}
	return msgs, nil
}
