// Package summarize generates periodic narrative summaries of captured
// activity, plus a daily rollup of the day's short summaries.
package summarize

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/engramhq/engram/internal/ai"
	"github.com/engramhq/engram/internal/models"
	"github.com/engramhq/engram/internal/search"
	"github.com/engramhq/engram/internal/store"
)

const summaryPrompt = `You summarize a user's recent computer activity from captured screen descriptions. Respond with ONLY a JSON object:
{
  "content": "a short narrative of what the user worked on, in past tense",
  "topics": ["main topics"],
  "entities": [{"name": "...", "type": "person|project|technology|url|file", "confidence": 0.8}],
  "links": ["urls that appeared"],
  "activity_breakdown": {"coding": 12, "browsing": 3}
}

## Activity
%s`

const maxDigestTraces = 50

// generatedSummary is the structured reply contract.
type generatedSummary struct {
	Content   string            `json:"content"`
	Topics    []string          `json:"topics"`
	Entities  []extractedEntity `json:"entities"`
	Links     []string          `json:"links"`
	Breakdown map[string]int    `json:"activity_breakdown"`
}

type extractedEntity struct {
	Name       string  `json:"name"`
	Type       string  `json:"type"`
	Confidence float64 `json:"confidence"`
}

// Options tune the summarizer.
type Options struct {
	Interval   time.Duration
	MinTraces  int
	RollupHour int
}

// Scheduler produces a short summary every interval and one daily rollup in
// the configured hour.
type Scheduler struct {
	traces    *store.TraceStore
	summaries *store.SummaryStore
	entities  *store.EntityStore
	chat      *ai.ChatClient
	embedder  ai.Embedder
	opts      Options
	logger    *slog.Logger

	lastRollupDay string
}

func NewScheduler(traces *store.TraceStore, summaries *store.SummaryStore,
	entities *store.EntityStore, chat *ai.ChatClient, embedder ai.Embedder,
	opts Options, logger *slog.Logger) *Scheduler {
	if opts.MinTraces <= 0 {
		opts.MinTraces = 3
	}
	return &Scheduler{
		traces:    traces,
		summaries: summaries,
		entities:  entities,
		chat:      chat,
		embedder:  embedder,
		opts:      opts,
		logger:    logger,
	}
}

// Run blocks until the context is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.opts.Interval)
	defer ticker.Stop()

	s.logger.Info("summarizer started", "interval", s.opts.Interval)

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("summarizer stopped")
			return
		case <-ticker.C:
			now := time.Now()
			if err := s.RunCycle(ctx, now); err != nil {
				s.logger.Warn("summary cycle failed", "error", err)
			}
			if now.Hour() == s.opts.RollupHour {
				if err := s.RunDailyRollup(ctx, now); err != nil {
					s.logger.Warn("daily rollup failed", "error", err)
				}
			}
		}
	}
}

// RunCycle summarizes the window since the last short summary. Below the
// minimum trace count the window is left alone; the next cycle will cover it.
func (s *Scheduler) RunCycle(ctx context.Context, now time.Time) error {
	end := now.UnixMilli()
	start, err := s.summaries.LatestEnd(models.SummaryShort)
	if err != nil {
		return fmt.Errorf("latest summary end: %w", err)
	}
	if start == 0 || end-start > 4*s.opts.Interval.Milliseconds() {
		start = end - s.opts.Interval.Milliseconds()
	}

	traces, err := s.traces.InRange(start, end)
	if err != nil {
		return fmt.Errorf("traces in window: %w", err)
	}
	analyzed := make([]*models.Trace, 0, len(traces))
	for _, t := range traces {
		if t.HasAnalysis() && !t.IsIdle {
			analyzed = append(analyzed, t)
		}
	}
	if len(analyzed) < s.opts.MinTraces {
		return nil
	}

	digest := buildDigest(analyzed)
	return s.generate(ctx, models.SummaryShort, start, end, digest)
}

// RunDailyRollup aggregates the day's short summaries into one daily summary.
// Runs at most once per calendar day.
func (s *Scheduler) RunDailyRollup(ctx context.Context, now time.Time) error {
	day := now.Format("2006-01-02")
	if s.lastRollupDay == day {
		return nil
	}

	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location()).UnixMilli()
	dayEnd := now.UnixMilli()

	// Idempotent across restarts: skip when the day already has a rollup.
	existing, err := s.summaries.List(models.SummaryDaily, dayStart, dayEnd, 1)
	if err != nil {
		return fmt.Errorf("check existing rollup: %w", err)
	}
	if len(existing) > 0 {
		s.lastRollupDay = day
		return nil
	}

	shorts, err := s.summaries.List(models.SummaryShort, dayStart, dayEnd, 200)
	if err != nil {
		return fmt.Errorf("list short summaries: %w", err)
	}
	if len(shorts) == 0 {
		return nil
	}

	var b strings.Builder
	for i := len(shorts) - 1; i >= 0; i-- { // oldest first
		sum := shorts[i]
		fmt.Fprintf(&b, "[%s] %s\n",
			time.UnixMilli(sum.PeriodStart).Format("15:04"),
			truncate(sum.Content, 400))
	}

	if err := s.generate(ctx, models.SummaryDaily, dayStart, dayEnd, b.String()); err != nil {
		return err
	}
	s.lastRollupDay = day
	s.logger.Info("daily rollup written", "day", day, "shorts", len(shorts))
	return nil
}

// generate runs the model over a digest and persists the summary. A reply
// that is not valid JSON is kept as raw narrative with zero confidence
// rather than dropped.
func (s *Scheduler) generate(ctx context.Context, kind models.SummaryKind, start, end int64, digest string) error {
	reply, err := s.chat.Complete(ctx, []ai.ChatMessage{
		{Role: models.RoleUser, Content: fmt.Sprintf(summaryPrompt, digest)},
	})
	if err != nil {
		return fmt.Errorf("generate summary: %w", err)
	}

	gen, confidence := parseGenerated(reply)
	if gen.Content == "" {
		return fmt.Errorf("empty summary content")
	}

	sum := &models.Summary{
		Kind:        kind,
		PeriodStart: start,
		PeriodEnd:   end,
		Content:     gen.Content,
		Topics:      gen.Topics,
		Links:       gen.Links,
		Breakdown:   gen.Breakdown,
		Confidence:  confidence,
	}
	for _, e := range gen.Entities {
		sum.Entities = append(sum.Entities, e.Name)
	}

	if vec, err := s.embedder.Embed(ctx, gen.Content); err == nil {
		sum.Embedding = search.Float32ToBytes(vec)
	} else {
		s.logger.Warn("summary embedding failed", "error", err)
	}

	if _, err := s.summaries.Insert(sum); err != nil {
		return fmt.Errorf("persist summary: %w", err)
	}

	for _, e := range gen.Entities {
		name := strings.TrimSpace(e.Name)
		typ := models.EntityType(strings.ToLower(e.Type))
		if name == "" || !typ.IsValid() {
			continue
		}
		id, err := s.entities.Upsert(name, typ, end)
		if err != nil {
			s.logger.Warn("summary entity upsert failed", "name", name, "error", err)
			continue
		}
		if e.Confidence > 0 {
			meta := fmt.Sprintf(`{"confidence":%.2f}`, e.Confidence)
			if err := s.entities.SetMetadata(id, meta); err != nil {
				s.logger.Warn("summary entity metadata failed", "name", name, "error", err)
			}
		}
	}

	s.logger.Info("summary written", "kind", kind, "window_min", (end-start)/60000)
	return nil
}

// parseGenerated decodes the structured reply, falling back to the raw text.
func parseGenerated(reply string) (*generatedSummary, float64) {
	var gen generatedSummary
	if ai.ExtractJSON(reply, &gen) && gen.Content != "" {
		return &gen, 0.8
	}
	return &generatedSummary{Content: strings.TrimSpace(reply)}, 0
}

// buildDigest renders up to maxDigestTraces traces as time-ordered excerpt
// lines for the prompt.
func buildDigest(traces []*models.Trace) string {
	if len(traces) > maxDigestTraces {
		traces = traces[:maxDigestTraces]
	}
	var b strings.Builder
	for _, t := range traces {
		header := t.AppName
		if t.WindowTitle != "" {
			header += " - " + t.WindowTitle
		}
		fmt.Fprintf(&b, "[%s] %s: %s\n",
			time.UnixMilli(t.Timestamp).Format("15:04"),
			truncate(header, 100),
			truncate(*t.OCRText, 200))
	}
	return b.String()
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
