package capture

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/engramhq/engram/internal/store"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func setupLoop(t *testing.T, idle IdleSignal, opts Options) (*Loop, *IngestSource, *store.TraceStore) {
	t.Helper()
	dir := t.TempDir()
	db, err := store.Open(filepath.Join(dir, "test.db"))
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	traces := store.NewTraceStore(db)
	source := NewIngestSource()
	if opts.Interval == 0 {
		opts.Interval = 10 * time.Millisecond
	}
	if opts.ImageDir == "" {
		opts.ImageDir = filepath.Join(dir, "shots")
	}
	blocklist := NewBlocklist()
	blocklist.LoadRules([]store.BlockRule{{Kind: "app", Pattern: "1Password"}})

	return NewLoop(source, idle, traces, blocklist, opts, testLogger()), source, traces
}

// waitFor polls until the condition holds or the deadline passes.
func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal(msg)
}

func TestLoopCapturesFrame(t *testing.T) {
	loop, source, traces := setupLoop(t, nil, Options{
		IdleThreshold:  time.Minute,
		DedupThreshold: 5,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go loop.Run(ctx)

	source.Push(&Frame{Image: gradientImage(64, 48), AppName: "Terminal", WindowTitle: "~"}, 0)
	waitFor(t, func() bool { return loop.Status().Captured == 1 }, "frame never captured")

	list, err := traces.List(nil)
	if err != nil {
		t.Fatalf("list traces: %v", err)
	}
	if len(list) != 1 {
		t.Fatalf("expected 1 trace, got %d", len(list))
	}
	tr := list[0]
	if tr.AppName != "Terminal" || tr.ImagePath == nil || tr.PHash == "" {
		t.Fatalf("trace missing capture fields: %+v", tr)
	}
	if tr.OCRText != nil {
		t.Fatal("fresh capture must be pending analysis")
	}
}

func TestLoopDedupsNearIdenticalFrames(t *testing.T) {
	loop, source, _ := setupLoop(t, nil, Options{
		IdleThreshold:  time.Minute,
		DedupThreshold: 5,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go loop.Run(ctx)

	source.Push(&Frame{Image: gradientImage(64, 48), AppName: "Terminal"}, 0)
	waitFor(t, func() bool { return loop.Status().Captured == 1 }, "first frame never captured")

	source.Push(&Frame{Image: gradientImage(64, 48), AppName: "Terminal"}, 0)
	waitFor(t, func() bool { return loop.Status().Deduped == 1 }, "duplicate never deduped")

	if got := loop.Status().Captured; got != 1 {
		t.Fatalf("expected 1 stored frame, got %d", got)
	}
}

func TestLoopBlocksSensitiveApps(t *testing.T) {
	loop, source, traces := setupLoop(t, nil, Options{
		IdleThreshold:  time.Minute,
		DedupThreshold: 5,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go loop.Run(ctx)

	source.Push(&Frame{Image: gradientImage(64, 48), AppName: "1Password 8"}, 0)
	waitFor(t, func() bool { return loop.Status().Blocked == 1 }, "frame never blocked")

	count, _ := traces.List(nil)
	if len(count) != 0 {
		t.Fatalf("blocked frame must not be persisted, got %d traces", len(count))
	}
}

type fixedIdle time.Duration

func (d fixedIdle) IdleDuration() time.Duration { return time.Duration(d) }

func TestLoopMarksIdleOnce(t *testing.T) {
	loop, _, traces := setupLoop(t, fixedIdle(time.Hour), Options{
		IdleThreshold:  time.Minute,
		DedupThreshold: 5,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go loop.Run(ctx)

	waitFor(t, func() bool { return loop.Status().Idle }, "loop never went idle")
	// Let several ticks pass while idle.
	time.Sleep(50 * time.Millisecond)

	list, err := traces.List(nil)
	if err != nil {
		t.Fatalf("list traces: %v", err)
	}
	if len(list) != 1 || !list[0].IsIdle {
		t.Fatalf("expected exactly one idle marker, got %d traces", len(list))
	}
}

type settableIdle struct {
	mu sync.Mutex
	d  time.Duration
}

func (s *settableIdle) IdleDuration() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.d
}

func (s *settableIdle) set(d time.Duration) {
	s.mu.Lock()
	s.d = d
	s.mu.Unlock()
}

func TestLoopResumesAfterIdle(t *testing.T) {
	idle := &settableIdle{d: time.Hour}
	loop, source, _ := setupLoop(t, idle, Options{
		IdleThreshold:  time.Minute,
		DedupThreshold: 5,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go loop.Run(ctx)

	waitFor(t, func() bool { return loop.Status().Idle }, "loop never went idle")

	// Input returns: the next tick must capture again.
	idle.set(0)
	source.Push(&Frame{Image: gradientImage(64, 48), AppName: "Terminal"}, 0)
	waitFor(t, func() bool { return loop.Status().Captured == 1 }, "loop never resumed")
	if loop.Status().Idle {
		t.Fatal("status must clear the idle flag after resume")
	}
}

func TestLoopPause(t *testing.T) {
	loop, source, _ := setupLoop(t, nil, Options{
		IdleThreshold:  time.Minute,
		DedupThreshold: 5,
		StartPaused:    true,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go loop.Run(ctx)

	source.Push(&Frame{Image: gradientImage(64, 48), AppName: "Terminal"}, 0)
	time.Sleep(50 * time.Millisecond)
	if got := loop.Status().Captured; got != 0 {
		t.Fatalf("paused loop must not capture, got %d", got)
	}

	if paused := loop.TogglePause(); paused {
		t.Fatal("expected toggle to unpause")
	}
	waitFor(t, func() bool { return loop.Status().Captured == 1 }, "frame never captured after unpause")
}
