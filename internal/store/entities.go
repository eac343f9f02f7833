package store

import (
	"fmt"
	"time"

	"github.com/engramhq/engram/internal/models"
)

// EntityStore tracks named things that recur across traces.
type EntityStore struct {
	db *DB
}

func NewEntityStore(db *DB) *EntityStore {
	return &EntityStore{db: db}
}

// Upsert records a mention of an entity, creating it on first sight and
// bumping mention_count and last_seen on every sighting after that.
func (s *EntityStore) Upsert(name string, typ models.EntityType, seenAt int64) (int64, error) {
	if seenAt == 0 {
		seenAt = time.Now().UnixMilli()
	}
	_, err := s.db.Exec(`
		INSERT INTO entities (name, type, mention_count, first_seen, last_seen)
		VALUES (?, ?, 1, ?, ?)
		ON CONFLICT(name, type) DO UPDATE SET
			mention_count = mention_count + 1,
			last_seen = excluded.last_seen
	`, name, string(typ), seenAt, seenAt)
	if err != nil {
		return 0, fmt.Errorf("upsert entity: %w", err)
	}

	var id int64
	err = s.db.QueryRow(
		`SELECT id FROM entities WHERE name = ? AND type = ?`, name, string(typ)).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("entity id after upsert: %w", err)
	}
	return id, nil
}

// SetMetadata attaches a free-form JSON blob to an entity.
func (s *EntityStore) SetMetadata(entityID int64, metadata string) error {
	_, err := s.db.Exec(`UPDATE entities SET metadata = ? WHERE id = ?`, metadata, entityID)
	if err != nil {
		return fmt.Errorf("set entity metadata: %w", err)
	}
	return nil
}

// Link associates an entity with a trace it was seen in.
func (s *EntityStore) Link(entityID, traceID int64) error {
	_, err := s.db.Exec(`
		INSERT OR IGNORE INTO entity_traces (entity_id, trace_id) VALUES (?, ?)
	`, entityID, traceID)
	if err != nil {
		return fmt.Errorf("link entity to trace: %w", err)
	}
	return nil
}

// List returns entities ordered by mention count, optionally filtered by type.
func (s *EntityStore) List(typ models.EntityType, limit int) ([]*models.Entity, error) {
	if limit <= 0 {
		limit = 100
	}
	q := `SELECT id, name, type, mention_count, first_seen, last_seen, metadata FROM entities`
	args := []any{}
	if typ != "" {
		q += ` WHERE type = ?`
		args = append(args, string(typ))
	}
	q += ` ORDER BY mention_count DESC, last_seen DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.Query(q, args...)
	if err != nil {
		return nil, fmt.Errorf("list entities: %w", err)
	}
	defer rows.Close()

	var entities []*models.Entity
	for rows.Next() {
		var e models.Entity
		var typStr string
		if err := rows.Scan(&e.ID, &e.Name, &typStr, &e.MentionCount, &e.FirstSeen, &e.LastSeen, &e.Metadata); err != nil {
			return nil, fmt.Errorf("scan entity: %w", err)
		}
		e.Type = models.EntityType(typStr)
		entities = append(entities, &e)
	}
	return entities, rows.Err()
}

// TraceIDs returns the traces an entity was seen in.
func (s *EntityStore) TraceIDs(entityID int64) ([]int64, error) {
	rows, err := s.db.Query(
		`SELECT trace_id FROM entity_traces WHERE entity_id = ? ORDER BY trace_id`, entityID)
	if err != nil {
		return nil, fmt.Errorf("entity trace ids: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan trace id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Count returns the total number of entities.
func (s *EntityStore) Count() (int, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM entities`).Scan(&n)
	return n, err
}
