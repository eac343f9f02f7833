// Package retention ages captured data through its hot and warm windows:
// screenshots are dropped first, then embeddings and raw analysis payloads.
// Analysis text and session records are kept indefinitely.
package retention

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/engramhq/engram/internal/store"
)

// Options set the retention windows.
type Options struct {
	HotWindow  time.Duration
	WarmWindow time.Duration
	Interval   time.Duration
}

// Sweeper runs the periodic retention pass. Every sweep is idempotent;
// a crash mid-sweep just leaves rows for the next run.
type Sweeper struct {
	traces *store.TraceStore
	opts   Options
	logger *slog.Logger
}

func NewSweeper(traces *store.TraceStore, opts Options, logger *slog.Logger) *Sweeper {
	return &Sweeper{traces: traces, opts: opts, logger: logger}
}

// Run blocks until the context is cancelled, sweeping once at startup and
// then on every interval.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.opts.Interval)
	defer ticker.Stop()

	s.logger.Info("retention sweeper started",
		"hot_window", s.opts.HotWindow,
		"warm_window", s.opts.WarmWindow,
	)

	if _, _, err := s.Sweep(); err != nil {
		s.logger.Warn("retention sweep failed", "error", err)
	}

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("retention sweeper stopped")
			return
		case <-ticker.C:
			if _, _, err := s.Sweep(); err != nil {
				s.logger.Warn("retention sweep failed", "error", err)
			}
		}
	}
}

// Sweep expires one round of aged data and returns counts of cleared images
// and payloads.
func (s *Sweeper) Sweep() (imagesCleared int, payloadsCleared int64, err error) {
	now := time.Now().UnixMilli()

	hotCutoff := now - s.opts.HotWindow.Milliseconds()
	paths, err := s.traces.ExpireImages(hotCutoff)
	if err != nil {
		return 0, 0, fmt.Errorf("expire images: %w", err)
	}
	for _, p := range paths {
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			s.logger.Warn("remove screenshot failed", "path", p, "error", err)
		}
	}
	imagesCleared = len(paths)

	warmCutoff := now - s.opts.WarmWindow.Milliseconds()
	payloadsCleared, err = s.traces.ExpirePayloads(warmCutoff)
	if err != nil {
		return imagesCleared, 0, fmt.Errorf("expire payloads: %w", err)
	}

	if imagesCleared > 0 || payloadsCleared > 0 {
		s.logger.Info("retention sweep complete",
			"images_cleared", imagesCleared,
			"payloads_cleared", payloadsCleared,
		)
	}
	return imagesCleared, payloadsCleared, nil
}
