package store

import (
	"fmt"
	"strings"
)

// KeywordHit holds one FTS5 match.
type KeywordHit struct {
	TraceID int64
	Rank    float64
}

// KeywordIndex performs full-text search over traces via SQLite FTS5.
type KeywordIndex struct {
	db *DB
}

func NewKeywordIndex(db *DB) *KeywordIndex {
	return &KeywordIndex{db: db}
}

// Search runs a BM25-ranked full-text query over analysis text, window titles,
// and app names. bm25() returns negative values where more negative = better
// match, so we negate to get positive scores where higher = better.
func (s *KeywordIndex) Search(query string, limit int) ([]KeywordHit, error) {
	if strings.TrimSpace(query) == "" {
		return nil, nil
	}

	rows, err := s.db.Query(`
		SELECT t.id, -rank AS score
		FROM traces_fts
		JOIN traces t ON t.id = traces_fts.rowid
		WHERE traces_fts MATCH ?
		ORDER BY rank
		LIMIT ?
	`, ftsQuery(query), limit)
	if err != nil {
		return nil, fmt.Errorf("keyword search: %w", err)
	}
	defer rows.Close()

	var hits []KeywordHit
	for rows.Next() {
		var h KeywordHit
		if err := rows.Scan(&h.TraceID, &h.Rank); err != nil {
			return nil, fmt.Errorf("scan keyword hit: %w", err)
		}
		hits = append(hits, h)
	}
	return hits, rows.Err()
}

// ftsQuery turns free text into an FTS5 query that cannot trip the MATCH
// parser: each term is double-quoted and terms are ANDed implicitly.
func ftsQuery(query string) string {
	terms := strings.Fields(query)
	quoted := make([]string, 0, len(terms))
	for _, t := range terms {
		t = strings.ReplaceAll(t, `"`, "")
		if t == "" {
			continue
		}
		quoted = append(quoted, `"`+t+`"`)
	}
	return strings.Join(quoted, " ")
}
