package store

import (
	"testing"

	"github.com/engramhq/engram/internal/models"
)

func TestKeywordIndex(t *testing.T) {
	db := setupTestDB(t)
	ts := NewTraceStore(db)
	idx := NewKeywordIndex(db)

	insertTrace(t, ts, &models.Trace{
		Timestamp: 100, AppName: "Terminal", WindowTitle: "vim engram",
		OCRText: strPtr("editing the retention sweeper in Go"),
	})
	insertTrace(t, ts, &models.Trace{
		Timestamp: 200, AppName: "Chrome", WindowTitle: "SQLite FTS5 docs",
		OCRText: strPtr("full text search virtual table reference"),
	})
	insertTrace(t, ts, &models.Trace{
		Timestamp: 300, AppName: "Slack", WindowTitle: "team chat",
	})

	t.Run("matches analysis text", func(t *testing.T) {
		hits, err := idx.Search("retention sweeper", 10)
		if err != nil {
			t.Fatalf("search: %v", err)
		}
		if len(hits) != 1 {
			t.Fatalf("expected 1 hit, got %d", len(hits))
		}
		if hits[0].Rank <= 0 {
			t.Fatalf("expected positive score, got %f", hits[0].Rank)
		}
	})

	t.Run("matches window title and app name", func(t *testing.T) {
		hits, err := idx.Search("FTS5", 10)
		if err != nil {
			t.Fatalf("search: %v", err)
		}
		if len(hits) != 1 {
			t.Fatalf("expected title match, got %d hits", len(hits))
		}

		hits, err = idx.Search("Slack", 10)
		if err != nil {
			t.Fatalf("search: %v", err)
		}
		if len(hits) != 1 {
			t.Fatalf("expected app name match, got %d hits", len(hits))
		}
	})

	t.Run("index follows analysis updates", func(t *testing.T) {
		id := insertTrace(t, ts, &models.Trace{Timestamp: 400, ImagePath: strPtr("/tmp/x.jpg")})
		if err := ts.SetAnalysis(id, "debugging a goroutine leak", "{}"); err != nil {
			t.Fatalf("set analysis: %v", err)
		}
		hits, err := idx.Search("goroutine leak", 10)
		if err != nil {
			t.Fatalf("search: %v", err)
		}
		if len(hits) != 1 || hits[0].TraceID != id {
			t.Fatalf("expected updated trace to be indexed, got %+v", hits)
		}
	})

	t.Run("terms are conjunctive", func(t *testing.T) {
		hits, err := idx.Search("retention virtual", 10)
		if err != nil {
			t.Fatalf("search: %v", err)
		}
		if len(hits) != 0 {
			t.Fatalf("expected no trace to match both terms, got %d", len(hits))
		}
	})

	t.Run("query operators cannot break the parser", func(t *testing.T) {
		for _, q := range []string{`"unbalanced`, `retention AND (`, `a*b-c:d`} {
			if _, err := idx.Search(q, 10); err != nil {
				t.Fatalf("query %q errored: %v", q, err)
			}
		}
	})

	t.Run("blank query returns nothing", func(t *testing.T) {
		hits, err := idx.Search("   ", 10)
		if err != nil {
			t.Fatalf("search: %v", err)
		}
		if hits != nil {
			t.Fatal("expected nil hits for blank query")
		}
	})
}
