package search

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/engramhq/engram/internal/ai"
	"github.com/engramhq/engram/internal/models"
	"github.com/engramhq/engram/internal/store"
)

// rrfK is the reciprocal rank fusion constant. With k=60 the gap between
// adjacent ranks stays small enough that agreement across lists dominates
// position within one list.
const rrfK = 60

// Engine answers keyword, semantic, and hybrid queries over traces. The two
// sub-indexes are fused with reciprocal rank fusion: each candidate scores
// the sum of 1/(k+rank) over the lists it appears in.
type Engine struct {
	traces     *store.TraceStore
	keyword    *store.KeywordIndex
	embedder   ai.Embedder
	candidates int
	maxResults int
	logger     *slog.Logger
}

func NewEngine(traces *store.TraceStore, keyword *store.KeywordIndex,
	embedder ai.Embedder, candidates, maxResults int, logger *slog.Logger) *Engine {
	if candidates <= 0 {
		candidates = 50
	}
	if maxResults <= 0 {
		maxResults = 20
	}
	return &Engine{
		traces:     traces,
		keyword:    keyword,
		embedder:   embedder,
		candidates: candidates,
		maxResults: maxResults,
		logger:     logger,
	}
}

// candidate accumulates fused evidence for one trace.
type candidate struct {
	trace *models.Trace
	score float64
}

// Search executes the query and returns scored, filtered results.
func (e *Engine) Search(ctx context.Context, req *models.SearchRequest) (*models.SearchResponse, error) {
	start := time.Now()

	mode := req.Mode
	if mode == "" {
		mode = models.SearchModeHybrid
	}
	if !mode.IsValid() {
		return nil, fmt.Errorf("invalid search mode: %q", req.Mode)
	}
	query := strings.TrimSpace(req.Query)
	if query == "" {
		return nil, fmt.Errorf("query is required")
	}

	merged := make(map[int64]*candidate)

	if mode == models.SearchModeKeyword || mode == models.SearchModeHybrid {
		if err := e.keywordList(query, &req.Filter, merged); err != nil {
			return nil, err
		}
	}

	if mode == models.SearchModeSemantic || mode == models.SearchModeHybrid {
		if err := e.semanticList(ctx, query, &req.Filter, merged); err != nil {
			if mode == models.SearchModeSemantic {
				return nil, err
			}
			// Hybrid degrades to keyword-only when embedding is down.
			e.logger.Warn("semantic leg unavailable, keyword-only results", "error", err)
		}
	}

	results := e.rank(merged, query)
	limit := req.Filter.Limit
	if limit <= 0 {
		limit = e.maxResults
	}
	total := len(results)
	if len(results) > limit {
		results = results[:limit]
	}

	return &models.SearchResponse{
		Results:    results,
		Total:      total,
		Mode:       mode,
		DurationMs: time.Since(start).Milliseconds(),
	}, nil
}

// keywordList folds the FTS5 top candidates into the merged set. Filters are
// applied before fusion so a filtered-out hit never displaces a valid one.
func (e *Engine) keywordList(query string, filter *models.TraceFilter, merged map[int64]*candidate) error {
	hits, err := e.keyword.Search(query, e.candidates)
	if err != nil {
		return fmt.Errorf("keyword leg: %w", err)
	}

	rank := 0
	for _, h := range hits {
		trace, err := e.traces.GetByID(h.TraceID)
		if err != nil || trace == nil {
			continue
		}
		if !filter.Matches(trace) {
			continue
		}
		rank++
		addRRF(merged, trace, rank)
	}
	return nil
}

// semanticList embeds the query and folds the top cosine matches into the
// merged set.
func (e *Engine) semanticList(ctx context.Context, query string, filter *models.TraceFilter, merged map[int64]*candidate) error {
	queryVec, err := e.embedder.Embed(ctx, query)
	if err != nil {
		return fmt.Errorf("embed query: %w", err)
	}

	traces, err := e.traces.WithEmbeddings(filter)
	if err != nil {
		return fmt.Errorf("semantic leg: %w", err)
	}

	type scored struct {
		trace *models.Trace
		sim   float64
	}
	matches := make([]scored, 0, len(traces))
	for _, t := range traces {
		vec := BytesToFloat32(t.Embedding)
		if vec == nil {
			continue
		}
		matches = append(matches, scored{trace: t, sim: CosineSimilarity(queryVec, vec)})
	}
	sort.Slice(matches, func(i, j int) bool { return matches[i].sim > matches[j].sim })
	if len(matches) > e.candidates {
		matches = matches[:e.candidates]
	}

	for i, m := range matches {
		addRRF(merged, m.trace, i+1)
	}
	return nil
}

// addRRF adds one list's contribution for a trace. Absence from a list
// contributes nothing.
func addRRF(merged map[int64]*candidate, trace *models.Trace, rank int) {
	c, ok := merged[trace.ID]
	if !ok {
		c = &candidate{trace: trace}
		merged[trace.ID] = c
	}
	c.score += 1.0 / float64(rrfK+rank)
}

// rank orders candidates by fused score (ties broken by recency), normalizes
// scores to [0,1], and attaches keyword highlights.
func (e *Engine) rank(merged map[int64]*candidate, query string) []models.SearchResult {
	candidates := make([]*candidate, 0, len(merged))
	maxScore := 0.0
	for _, c := range merged {
		candidates = append(candidates, c)
		if c.score > maxScore {
			maxScore = c.score
		}
	}
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].score != candidates[j].score {
			return candidates[i].score > candidates[j].score
		}
		return candidates[i].trace.Timestamp > candidates[j].trace.Timestamp
	})

	results := make([]models.SearchResult, 0, len(candidates))
	for _, c := range candidates {
		score := c.score
		if maxScore > 0 {
			score /= maxScore
		}
		results = append(results, models.SearchResult{
			Trace:      c.trace,
			Score:      score,
			Highlights: Highlights(c.trace, query),
		})
	}
	return results
}

// Highlights finds case-insensitive byte spans of the query terms in the
// trace's analysis text, falling back to the window title.
func Highlights(trace *models.Trace, query string) []models.HighlightSpan {
	text := ""
	if trace.OCRText != nil {
		text = *trace.OCRText
	}
	if text == "" {
		text = trace.WindowTitle
	}
	if text == "" {
		return nil
	}

	lower := strings.ToLower(text)
	var spans []models.HighlightSpan
	for _, term := range strings.Fields(strings.ToLower(query)) {
		from := 0
		for {
			i := strings.Index(lower[from:], term)
			if i < 0 {
				break
			}
			start := from + i
			spans = append(spans, models.HighlightSpan{Start: start, End: start + len(term)})
			from = start + len(term)
		}
	}
	sort.Slice(spans, func(i, j int) bool { return spans[i].Start < spans[j].Start })
	return spans
}
