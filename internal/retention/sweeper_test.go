package retention

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/engramhq/engram/internal/models"
	"github.com/engramhq/engram/internal/store"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func setupSweeper(t *testing.T, opts Options) (*Sweeper, *store.TraceStore, string) {
	t.Helper()
	dir := t.TempDir()
	db, err := store.Open(filepath.Join(dir, "test.db"))
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	traces := store.NewTraceStore(db)
	return NewSweeper(traces, opts, testLogger()), traces, dir
}

func seedTrace(t *testing.T, traces *store.TraceStore, dir string, age time.Duration) int64 {
	t.Helper()
	ts := time.Now().Add(-age).UnixMilli()
	path := filepath.Join(dir, time.Now().Add(-age).Format("150405.000")+".jpg")
	if err := os.WriteFile(path, []byte("jpeg"), 0o644); err != nil {
		t.Fatalf("write screenshot: %v", err)
	}
	text := "analysis"
	raw := "{}"
	id, err := traces.Insert(&models.Trace{
		Timestamp: ts,
		ImagePath: &path,
		OCRText:   &text,
		OCRJSON:   &raw,
		Embedding: []byte{1, 2, 3, 4},
	})
	if err != nil {
		t.Fatalf("insert trace: %v", err)
	}
	return id
}

func TestSweepAgesDataThroughWindows(t *testing.T) {
	sw, traces, dir := setupSweeper(t, Options{
		HotWindow:  24 * time.Hour,
		WarmWindow: 72 * time.Hour,
	})

	ancient := seedTrace(t, traces, dir, 100*time.Hour) // past both windows
	stale := seedTrace(t, traces, dir, 48*time.Hour)    // past hot only
	fresh := seedTrace(t, traces, dir, time.Hour)       // inside hot

	ancientPath := func() string {
		tr, _ := traces.GetByID(ancient)
		if tr.ImagePath == nil {
			return ""
		}
		return *tr.ImagePath
	}()

	images, payloads, err := sw.Sweep()
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if images != 2 {
		t.Fatalf("expected 2 images cleared, got %d", images)
	}
	if payloads != 1 {
		t.Fatalf("expected 1 payload cleared, got %d", payloads)
	}
	if _, err := os.Stat(ancientPath); !os.IsNotExist(err) {
		t.Fatal("expected screenshot file removed")
	}

	tr, _ := traces.GetByID(ancient)
	if tr.ImagePath != nil || tr.Embedding != nil || tr.OCRJSON != nil {
		t.Fatalf("ancient trace not fully aged: %+v", tr)
	}
	if tr.OCRText == nil {
		t.Fatal("analysis text must survive both sweeps")
	}

	tr, _ = traces.GetByID(stale)
	if tr.ImagePath != nil {
		t.Fatal("stale trace must lose its screenshot")
	}
	if tr.Embedding == nil || tr.OCRJSON == nil {
		t.Fatal("stale trace must keep embedding and payload inside the warm window")
	}

	tr, _ = traces.GetByID(fresh)
	if tr.ImagePath == nil || tr.Embedding == nil {
		t.Fatal("fresh trace must be untouched")
	}
}

func TestSweepIsIdempotent(t *testing.T) {
	sw, traces, dir := setupSweeper(t, Options{
		HotWindow:  24 * time.Hour,
		WarmWindow: 72 * time.Hour,
	})
	seedTrace(t, traces, dir, 100*time.Hour)

	if _, _, err := sw.Sweep(); err != nil {
		t.Fatalf("first sweep: %v", err)
	}
	images, payloads, err := sw.Sweep()
	if err != nil {
		t.Fatalf("second sweep: %v", err)
	}
	if images != 0 || payloads != 0 {
		t.Fatalf("second sweep must be a no-op, got %d/%d", images, payloads)
	}
}
