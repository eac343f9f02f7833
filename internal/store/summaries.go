package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/engramhq/engram/internal/models"
)

const summaryColumns = `id, kind, period_start, period_end, content, topics,
	entities, links, activity_breakdown, confidence, embedding, created_at`

// SummaryStore handles Summary persistence. Summaries are immutable.
type SummaryStore struct {
	db *DB
}

func NewSummaryStore(db *DB) *SummaryStore {
	return &SummaryStore{db: db}
}

// Insert stores a summary and returns its assigned ID.
func (s *SummaryStore) Insert(sum *models.Summary) (int64, error) {
	if sum.CreatedAt == 0 {
		sum.CreatedAt = time.Now().UnixMilli()
	}
	topicsJSON, _ := json.Marshal(sum.Topics)
	entitiesJSON, _ := json.Marshal(sum.Entities)
	linksJSON, _ := json.Marshal(sum.Links)
	breakdownJSON, _ := json.Marshal(sum.Breakdown)

	res, err := s.db.Exec(`
		INSERT INTO summaries (kind, period_start, period_end, content, topics,
			entities, links, activity_breakdown, confidence, embedding, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		string(sum.Kind), sum.PeriodStart, sum.PeriodEnd, sum.Content,
		string(topicsJSON), string(entitiesJSON), string(linksJSON),
		string(breakdownJSON), sum.Confidence, sum.Embedding, sum.CreatedAt,
	)
	if err != nil {
		return 0, fmt.Errorf("insert summary: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("summary insert id: %w", err)
	}
	sum.ID = id
	return id, nil
}

// List returns summaries of a kind overlapping [start, end], newest first.
// Empty kind matches all kinds.
func (s *SummaryStore) List(kind models.SummaryKind, start, end int64, limit int) ([]*models.Summary, error) {
	if limit <= 0 {
		limit = 50
	}
	if end == 0 {
		end = time.Now().UnixMilli()
	}
	q := fmt.Sprintf(`
		SELECT %s FROM summaries
		WHERE period_end >= ? AND period_start <= ?`, summaryColumns)
	args := []any{start, end}
	if kind != "" {
		q += ` AND kind = ?`
		args = append(args, string(kind))
	}
	q += ` ORDER BY period_start DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.Query(q, args...)
	if err != nil {
		return nil, fmt.Errorf("list summaries: %w", err)
	}
	defer rows.Close()

	var sums []*models.Summary
	for rows.Next() {
		sum, err := scanSummary(rows)
		if err != nil {
			return nil, fmt.Errorf("scan summary: %w", err)
		}
		sums = append(sums, sum)
	}
	return sums, rows.Err()
}

// LatestEnd returns the period_end of the most recent summary of a kind,
// or 0 when none exists. The summarizer uses it to pick up where it left off.
func (s *SummaryStore) LatestEnd(kind models.SummaryKind) (int64, error) {
	var end sql.NullInt64
	err := s.db.QueryRow(
		`SELECT MAX(period_end) FROM summaries WHERE kind = ?`, string(kind)).Scan(&end)
	if err != nil {
		return 0, err
	}
	if !end.Valid {
		return 0, nil
	}
	return end.Int64, nil
}

// Count returns the total number of summaries.
func (s *SummaryStore) Count() (int, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM summaries`).Scan(&n)
	return n, err
}

func scanSummary(row rowScanner) (*models.Summary, error) {
	var sum models.Summary
	var kind string
	var topics, entities, links, breakdown sql.NullString
	err := row.Scan(
		&sum.ID, &kind, &sum.PeriodStart, &sum.PeriodEnd, &sum.Content,
		&topics, &entities, &links, &breakdown, &sum.Confidence,
		&sum.Embedding, &sum.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	sum.Kind = models.SummaryKind(kind)
	if topics.Valid {
		_ = json.Unmarshal([]byte(topics.String), &sum.Topics)
	}
	if entities.Valid {
		_ = json.Unmarshal([]byte(entities.String), &sum.Entities)
	}
	if links.Valid {
		_ = json.Unmarshal([]byte(links.String), &sum.Links)
	}
	if breakdown.Valid {
		_ = json.Unmarshal([]byte(breakdown.String), &sum.Breakdown)
	}
	return &sum, nil
}
