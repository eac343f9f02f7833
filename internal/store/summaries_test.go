package store

import (
	"testing"

	"github.com/engramhq/engram/internal/models"
)

func TestSummaryStore(t *testing.T) {
	db := setupTestDB(t)
	ss := NewSummaryStore(db)

	t.Run("latest end is zero when empty", func(t *testing.T) {
		end, err := ss.LatestEnd(models.SummaryShort)
		if err != nil {
			t.Fatalf("latest end: %v", err)
		}
		if end != 0 {
			t.Fatalf("expected 0, got %d", end)
		}
	})

	t.Run("insert and list round trip", func(t *testing.T) {
		sum := &models.Summary{
			Kind:        models.SummaryShort,
			PeriodStart: 1000,
			PeriodEnd:   2000,
			Content:     "worked on search ranking",
			Topics:      []string{"search", "go"},
			Entities:    []string{"engram"},
			Breakdown:   map[string]int{"coding": 5},
			Confidence:  0.8,
		}
		if _, err := ss.Insert(sum); err != nil {
			t.Fatalf("insert summary: %v", err)
		}

		got, err := ss.List(models.SummaryShort, 0, 0, 10)
		if err != nil {
			t.Fatalf("list: %v", err)
		}
		if len(got) != 1 {
			t.Fatalf("expected 1 summary, got %d", len(got))
		}
		s := got[0]
		if s.Content != "worked on search ranking" || s.Confidence != 0.8 {
			t.Fatalf("round trip lost fields: %+v", s)
		}
		if len(s.Topics) != 2 || s.Breakdown["coding"] != 5 {
			t.Fatalf("structured fields lost: %+v", s)
		}
	})

	t.Run("kind filters listings", func(t *testing.T) {
		if _, err := ss.Insert(&models.Summary{
			Kind: models.SummaryDaily, PeriodStart: 0, PeriodEnd: 3000, Content: "the day",
		}); err != nil {
			t.Fatalf("insert daily: %v", err)
		}

		shorts, err := ss.List(models.SummaryShort, 0, 0, 10)
		if err != nil {
			t.Fatalf("list shorts: %v", err)
		}
		if len(shorts) != 1 {
			t.Fatalf("expected 1 short, got %d", len(shorts))
		}

		all, err := ss.List("", 0, 0, 10)
		if err != nil {
			t.Fatalf("list all: %v", err)
		}
		if len(all) != 2 {
			t.Fatalf("expected 2 total, got %d", len(all))
		}
	})

	t.Run("latest end tracks kind separately", func(t *testing.T) {
		end, err := ss.LatestEnd(models.SummaryShort)
		if err != nil {
			t.Fatalf("latest end: %v", err)
		}
		if end != 2000 {
			t.Fatalf("expected 2000, got %d", end)
		}
		end, err = ss.LatestEnd(models.SummaryDaily)
		if err != nil {
			t.Fatalf("latest end daily: %v", err)
		}
		if end != 3000 {
			t.Fatalf("expected 3000, got %d", end)
		}
	})
}
