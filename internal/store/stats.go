package store

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/engramhq/engram/internal/models"
)

// StatsCollector assembles storage statistics across the store.
type StatsCollector struct {
	db          *DB
	traces      *TraceStore
	sessions    *SessionStore
	summaries   *SummaryStore
	entities    *EntityStore
	imageDir    string
	maxAttempts int
}

func NewStatsCollector(db *DB, traces *TraceStore, sessions *SessionStore,
	summaries *SummaryStore, entities *EntityStore, imageDir string, maxAttempts int) *StatsCollector {
	return &StatsCollector{
		db:          db,
		traces:      traces,
		sessions:    sessions,
		summaries:   summaries,
		entities:    entities,
		imageDir:    imageDir,
		maxAttempts: maxAttempts,
	}
}

// Collect gathers current storage statistics.
func (c *StatsCollector) Collect() (*models.StorageStats, error) {
	stats := &models.StorageStats{}

	var err error
	if stats.TraceCount, err = c.db.TraceCount(); err != nil {
		return nil, fmt.Errorf("trace count: %w", err)
	}
	if stats.SessionCount, err = c.sessions.Count(); err != nil {
		return nil, fmt.Errorf("session count: %w", err)
	}
	if stats.SummaryCount, err = c.summaries.Count(); err != nil {
		return nil, fmt.Errorf("summary count: %w", err)
	}
	if stats.EntityCount, err = c.entities.Count(); err != nil {
		return nil, fmt.Errorf("entity count: %w", err)
	}
	if stats.PendingAnalysis, err = c.traces.PendingCount(c.maxAttempts); err != nil {
		return nil, fmt.Errorf("pending count: %w", err)
	}
	if stats.OldestTrace, err = c.traces.OldestTimestamp(); err != nil {
		return nil, fmt.Errorf("oldest trace: %w", err)
	}
	if stats.TopApps, err = c.traces.TopApps(10); err != nil {
		return nil, fmt.Errorf("top apps: %w", err)
	}

	if fi, err := os.Stat(c.db.Path); err == nil {
		stats.DBSizeBytes = fi.Size()
	}
	stats.ImageBytes = dirSize(c.imageDir)

	return stats, nil
}

func dirSize(dir string) int64 {
	var total int64
	_ = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		if fi, err := d.Info(); err == nil {
			total += fi.Size()
		}
		return nil
	})
	return total
}
