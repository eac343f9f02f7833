// Package analysis runs the background pass that turns raw captures into
// searchable traces: vision analysis, embedding, entity extraction, and
// session clustering.
package analysis

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/engramhq/engram/internal/ai"
	"github.com/engramhq/engram/internal/models"
	"github.com/engramhq/engram/internal/search"
	"github.com/engramhq/engram/internal/sessions"
	"github.com/engramhq/engram/internal/store"
)

// Options tune the scheduler.
type Options struct {
	Interval    time.Duration
	BatchSize   int
	Concurrency int
	MaxAttempts int
}

// Scheduler periodically drains the pending-analysis backlog. Each cycle
// fetches a batch, fans it out to a bounded worker pool, then feeds the
// completed traces to the clusterer in timestamp order. Selection by
// NULL analysis text makes cycles idempotent: a crash mid-cycle just leaves
// work for the next one.
type Scheduler struct {
	traces    *store.TraceStore
	entities  *store.EntityStore
	vision    *ai.VisionClient
	embedder  ai.Embedder
	clusterer *sessions.Clusterer
	opts      Options
	logger    *slog.Logger

	processed atomic.Int64
	failed    atomic.Int64
	reachable atomic.Bool
}

func NewScheduler(traces *store.TraceStore, entities *store.EntityStore,
	vision *ai.VisionClient, embedder ai.Embedder, clusterer *sessions.Clusterer,
	opts Options, logger *slog.Logger) *Scheduler {
	if opts.BatchSize <= 0 {
		opts.BatchSize = 4
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 2
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 3
	}
	return &Scheduler{
		traces:    traces,
		entities:  entities,
		vision:    vision,
		embedder:  embedder,
		clusterer: clusterer,
		opts:      opts,
		logger:    logger,
	}
}

// Run blocks until the context is cancelled. An in-flight cycle completes
// before Run returns.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.opts.Interval)
	defer ticker.Stop()

	s.logger.Info("analysis scheduler started",
		"interval", s.opts.Interval,
		"batch_size", s.opts.BatchSize,
		"concurrency", s.opts.Concurrency,
	)

	for {
		select {
		case <-ctx.Done():
			s.clusterer.Flush()
			s.logger.Info("analysis scheduler stopped")
			return
		case <-ticker.C:
			s.RunCycle(ctx)
		}
	}
}

// RunCycle processes one batch. Exposed so a manual trigger or test can run
// cycles without the ticker.
func (s *Scheduler) RunCycle(ctx context.Context) (processed, failed int) {
	if err := s.vision.Ping(ctx); err != nil {
		s.reachable.Store(false)
		s.logger.Debug("vision service unreachable, skipping cycle", "error", err)
		return 0, 0
	}
	s.reachable.Store(true)

	batch, err := s.traces.PendingAnalysis(s.opts.BatchSize, s.opts.MaxAttempts)
	if err != nil {
		s.logger.Error("fetch pending traces failed", "error", err)
		return 0, 0
	}
	if len(batch) == 0 {
		return 0, 0
	}

	// Fan out. Workers own disjoint traces, so per-trace writes need no
	// coordination.
	jobs := make(chan *models.Trace)
	done := make([]*models.Trace, 0, len(batch))
	var doneMu sync.Mutex
	var wg sync.WaitGroup

	for i := 0; i < s.opts.Concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for t := range jobs {
				if err := s.processTrace(ctx, t); err != nil {
					s.failed.Add(1)
					s.logger.Warn("trace analysis failed", "trace", t.ID, "error", err)
					if err := s.traces.IncrementAttempts(t.ID); err != nil {
						s.logger.Error("record attempt failed", "trace", t.ID, "error", err)
					}
					continue
				}
				s.processed.Add(1)
				doneMu.Lock()
				done = append(done, t)
				doneMu.Unlock()
			}
		}()
	}
	for _, t := range batch {
		jobs <- t
	}
	close(jobs)
	wg.Wait()
	processed = len(done)
	failed = len(batch) - processed

	// The clusterer expects traces in non-decreasing timestamp order, and
	// workers finish out of order, so feed it after the pool drains.
	sort.Slice(done, func(i, j int) bool { return done[i].Timestamp < done[j].Timestamp })
	for _, t := range done {
		var analysis models.ScreenAnalysis
		if t.OCRJSON == nil || !decodeAnalysis(*t.OCRJSON, &analysis) {
			continue
		}
		if err := s.clusterer.Observe(t, &analysis); err != nil {
			s.logger.Error("session clustering failed", "trace", t.ID, "error", err)
		}
	}

	if processed > 0 || failed > 0 {
		s.logger.Info("analysis cycle complete", "processed", processed, "failed", failed)
	}
	return processed, failed
}

// processTrace runs the whole per-trace pipeline: image load, vision call,
// analysis write, embedding write, entity upserts. The analysis write is
// guarded by the store so it happens exactly once per trace.
func (s *Scheduler) processTrace(ctx context.Context, t *models.Trace) error {
	imgData, err := os.ReadFile(*t.ImagePath)
	if err != nil {
		return err
	}

	analysis, err := s.vision.AnalyzeImage(ctx, imgData, t.PHash)
	if err != nil {
		return err
	}

	raw, err := json.Marshal(analysis)
	if err != nil {
		return err
	}
	text := analysis.EmbeddingText()
	if err := s.traces.SetAnalysis(t.ID, text, string(raw)); err != nil {
		return err
	}
	t.OCRText = &text
	rawStr := string(raw)
	t.OCRJSON = &rawStr

	vec, err := s.embedder.Embed(ctx, text)
	if err != nil {
		return err
	}
	embBytes := search.Float32ToBytes(vec)
	if err := s.traces.SetEmbedding(t.ID, embBytes); err != nil {
		return err
	}
	t.Embedding = embBytes

	for _, name := range analysis.Entities {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		id, err := s.entities.Upsert(name, classifyEntity(name), t.Timestamp)
		if err != nil {
			s.logger.Warn("entity upsert failed", "name", name, "error", err)
			continue
		}
		if err := s.entities.Link(id, t.ID); err != nil {
			s.logger.Warn("entity link failed", "name", name, "error", err)
		}
	}

	return nil
}

// Status returns a snapshot of scheduler counters.
func (s *Scheduler) Status() models.AnalysisStatus {
	pending, err := s.traces.PendingCount(s.opts.MaxAttempts)
	if err != nil {
		pending = -1
	}
	return models.AnalysisStatus{
		Processed: s.processed.Load(),
		Failed:    s.failed.Load(),
		Pending:   pending,
		Reachable: s.reachable.Load(),
	}
}

func decodeAnalysis(raw string, a *models.ScreenAnalysis) bool {
	return json.Unmarshal([]byte(raw), a) == nil
}

// classifyEntity assigns a coarse type to a vision-extracted entity name.
// The summarizer's model-assigned types take precedence for its own entities.
func classifyEntity(name string) models.EntityType {
	lower := strings.ToLower(name)
	switch {
	case strings.Contains(lower, "://") || strings.HasPrefix(lower, "www."):
		return models.EntityURL
	case strings.ContainsAny(name, "/\\") || looksLikeFilename(lower):
		return models.EntityFile
	default:
		return models.EntityTechnology
	}
}

func looksLikeFilename(s string) bool {
	i := strings.LastIndex(s, ".")
	if i <= 0 || i == len(s)-1 {
		return false
	}
	ext := s[i+1:]
	return len(ext) <= 5 && !strings.Contains(ext, " ")
}
