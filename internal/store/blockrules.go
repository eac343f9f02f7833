package store

import (
	"fmt"
	"time"
)

// BlockRule suppresses capture for matching apps or window titles.
type BlockRule struct {
	ID        int64  `json:"id"`
	Kind      string `json:"kind"` // "app" or "title"
	Pattern   string `json:"pattern"`
	CreatedAt int64  `json:"createdAt"`
}

// BlockRuleStore persists capture block rules.
type BlockRuleStore struct {
	db *DB
}

func NewBlockRuleStore(db *DB) *BlockRuleStore {
	return &BlockRuleStore{db: db}
}

// Seed inserts default rules if missing. Password managers are blocked by
// app name; private browsing windows by title substring.
func (s *BlockRuleStore) Seed() error {
	defaults := []BlockRule{
		{Kind: "app", Pattern: "1Password"},
		{Kind: "app", Pattern: "Bitwarden"},
		{Kind: "app", Pattern: "KeePass"},
		{Kind: "app", Pattern: "KeePassXC"},
		{Kind: "title", Pattern: "Incognito"},
		{Kind: "title", Pattern: "Private Browsing"},
		{Kind: "title", Pattern: "InPrivate"},
	}
	for _, r := range defaults {
		if err := s.Add(r.Kind, r.Pattern); err != nil {
			return err
		}
	}
	return nil
}

// Add inserts a rule, ignoring duplicates.
func (s *BlockRuleStore) Add(kind, pattern string) error {
	_, err := s.db.Exec(`
		INSERT OR IGNORE INTO block_rules (kind, pattern, created_at) VALUES (?, ?, ?)
	`, kind, pattern, time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("add block rule: %w", err)
	}
	return nil
}

// Delete removes a rule by ID.
func (s *BlockRuleStore) Delete(id int64) error {
	res, err := s.db.Exec(`DELETE FROM block_rules WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete block rule: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("block rule not found: %d", id)
	}
	return nil
}

// List returns all rules.
func (s *BlockRuleStore) List() ([]BlockRule, error) {
	rows, err := s.db.Query(`SELECT id, kind, pattern, created_at FROM block_rules ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list block rules: %w", err)
	}
	defer rows.Close()

	var rules []BlockRule
	for rows.Next() {
		var r BlockRule
		if err := rows.Scan(&r.ID, &r.Kind, &r.Pattern, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan block rule: %w", err)
		}
		rules = append(rules, r)
	}
	return rules, rows.Err()
}
