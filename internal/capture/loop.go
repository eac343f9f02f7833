package capture

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/engramhq/engram/internal/models"
	"github.com/engramhq/engram/internal/store"
)

// Frame is one screen grab with its window context.
type Frame struct {
	Image        image.Image
	MonitorID    int
	AppName      string
	WindowTitle  string
	IsFullscreen bool
	// Width and Height are the active window's geometry as reported by the
	// grabber, which may differ from the image bounds on scaled displays.
	Width  int
	Height int
}

// Source produces frames from the screen. Implementations live outside this
// package; tests supply synthetic ones.
type Source interface {
	Capture(ctx context.Context) (*Frame, error)
}

// IdleSignal reports how long the user has been inactive.
type IdleSignal interface {
	IdleDuration() time.Duration
}

// Options tune the capture loop.
type Options struct {
	Interval       time.Duration
	IdleThreshold  time.Duration
	DedupThreshold int
	ImageDir       string
	StartPaused    bool
}

// Loop drives periodic screen capture: block-list check, idle check,
// perceptual dedup, then persistence.
type Loop struct {
	source    Source
	idle      IdleSignal
	traces    *store.TraceStore
	blocklist *Blocklist
	dedup     *DedupFilter
	opts      Options
	logger    *slog.Logger

	paused atomic.Bool
	idleOn atomic.Bool

	mu          sync.Mutex
	running     bool
	wasIdle     bool
	lastCapture int64
	captured    atomic.Int64
	deduped     atomic.Int64
	blocked     atomic.Int64
}

func NewLoop(source Source, idle IdleSignal, traces *store.TraceStore,
	blocklist *Blocklist, opts Options, logger *slog.Logger) *Loop {
	l := &Loop{
		source:    source,
		idle:      idle,
		traces:    traces,
		blocklist: blocklist,
		dedup:     NewDedupFilter(opts.DedupThreshold),
		opts:      opts,
		logger:    logger,
	}
	l.paused.Store(opts.StartPaused)
	return l
}

// Run blocks until the context is cancelled. An in-flight capture is allowed
// to finish before Run returns.
func (l *Loop) Run(ctx context.Context) {
	l.mu.Lock()
	l.running = true
	l.mu.Unlock()
	defer func() {
		l.mu.Lock()
		l.running = false
		l.mu.Unlock()
	}()

	ticker := time.NewTicker(l.opts.Interval)
	defer ticker.Stop()

	l.logger.Info("capture loop started",
		"interval", l.opts.Interval,
		"dedup_threshold", l.opts.DedupThreshold,
	)

	for {
		select {
		case <-ctx.Done():
			l.logger.Info("capture loop stopped")
			return
		case <-ticker.C:
			l.tick(ctx)
		}
	}
}

func (l *Loop) tick(ctx context.Context) {
	if l.paused.Load() {
		return
	}

	if l.idle != nil && l.idle.IdleDuration() >= l.opts.IdleThreshold {
		l.idleOn.Store(true)
		l.markIdleOnce()
		return
	}
	l.idleOn.Store(false)
	l.mu.Lock()
	l.wasIdle = false
	l.mu.Unlock()

	frame, err := l.source.Capture(ctx)
	if err != nil {
		if !errors.Is(err, ErrNoFrame) {
			l.logger.Warn("capture failed", "error", err)
		}
		return
	}

	if l.blocklist != nil && l.blocklist.Blocked(frame.AppName, frame.WindowTitle) {
		l.blocked.Add(1)
		return
	}

	hash := DHash(frame.Image)
	if !l.dedup.ShouldStore(hash) {
		l.deduped.Add(1)
		return
	}

	now := time.Now().UnixMilli()
	imagePath, err := l.saveImage(frame.Image, now)
	if err != nil {
		l.logger.Warn("save screenshot failed", "error", err)
		return
	}

	trace := &models.Trace{
		Timestamp:    now,
		MonitorID:    frame.MonitorID,
		AppName:      frame.AppName,
		WindowTitle:  frame.WindowTitle,
		IsFullscreen: frame.IsFullscreen,
		ImagePath:    &imagePath,
		PHash:        FormatHash(hash),
	}
	if _, err := l.traces.Insert(trace); err != nil {
		l.logger.Error("persist trace failed", "error", err)
		return
	}

	l.captured.Add(1)
	l.mu.Lock()
	l.lastCapture = now
	l.mu.Unlock()
	l.logger.Debug("trace captured", "id", trace.ID, "app", frame.AppName)
}

// markIdleOnce writes a single idle marker trace per idle period so the
// timeline records the gap without flooding the store.
func (l *Loop) markIdleOnce() {
	l.mu.Lock()
	already := l.wasIdle
	l.wasIdle = true
	l.mu.Unlock()
	if already {
		return
	}

	trace := &models.Trace{
		Timestamp: time.Now().UnixMilli(),
		IsIdle:    true,
	}
	if _, err := l.traces.Insert(trace); err != nil {
		l.logger.Warn("persist idle marker failed", "error", err)
	}
}

func (l *Loop) saveImage(img image.Image, ts int64) (string, error) {
	if err := os.MkdirAll(l.opts.ImageDir, 0o755); err != nil {
		return "", fmt.Errorf("create image dir: %w", err)
	}
	path := filepath.Join(l.opts.ImageDir, fmt.Sprintf("%d.jpg", ts))
	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("create screenshot file: %w", err)
	}
	defer f.Close()
	if err := jpeg.Encode(f, img, &jpeg.Options{Quality: 80}); err != nil {
		return "", fmt.Errorf("encode screenshot: %w", err)
	}
	return path, nil
}

// TogglePause flips the pause state and returns the new value.
func (l *Loop) TogglePause() bool {
	paused := !l.paused.Load()
	l.paused.Store(paused)
	l.logger.Info("capture pause toggled", "paused", paused)
	return paused
}

// SetPaused sets the pause state directly.
func (l *Loop) SetPaused(paused bool) {
	l.paused.Store(paused)
}

// Status returns a snapshot of the loop's state.
func (l *Loop) Status() models.CaptureStatus {
	l.mu.Lock()
	defer l.mu.Unlock()
	return models.CaptureStatus{
		Running:     l.running,
		Paused:      l.paused.Load(),
		Idle:        l.idleOn.Load(),
		LastCapture: l.lastCapture,
		Captured:    l.captured.Load(),
		Deduped:     l.deduped.Load(),
		Blocked:     l.blocked.Load(),
	}
}
