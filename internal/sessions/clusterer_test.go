package sessions

import (
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/engramhq/engram/internal/models"
	"github.com/engramhq/engram/internal/search"
	"github.com/engramhq/engram/internal/store"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func setupClusterer(t *testing.T, opts Options) (*Clusterer, *store.SessionStore, *store.TraceStore) {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	sessions := store.NewSessionStore(db)
	traces := store.NewTraceStore(db)
	return NewClusterer(sessions, traces, opts, testLogger()), sessions, traces
}

// observe inserts a trace with the given embedding and feeds it to the
// clusterer the way the analysis pass does.
func observe(t *testing.T, c *Clusterer, traces *store.TraceStore,
	ts int64, app, summary string, vec []float32) int64 {
	t.Helper()
	tr := &models.Trace{Timestamp: ts, AppName: app}
	if vec != nil {
		tr.Embedding = search.Float32ToBytes(vec)
	}
	id, err := traces.Insert(tr)
	if err != nil {
		t.Fatalf("insert trace: %v", err)
	}
	if err := c.Observe(tr, &models.ScreenAnalysis{Summary: summary, DetectedApp: app}); err != nil {
		t.Fatalf("observe: %v", err)
	}
	return id
}

func TestClustererGroupsContiguousWork(t *testing.T) {
	c, sessions, traces := setupClusterer(t, Options{
		SimThreshold: 0.6, GapMs: 300000, MaxActive: 8,
	})

	vec := []float32{1, 0, 0}
	t1 := observe(t, c, traces, 1000, "Terminal", "editing main.go", vec)
	t2 := observe(t, c, traces, 2000, "Terminal", "running tests", vec)
	t3 := observe(t, c, traces, 3000, "Terminal", "reading test output", vec)

	list, err := sessions.List(0, 0, "", 10)
	if err != nil {
		t.Fatalf("list sessions: %v", err)
	}
	if len(list) != 1 {
		t.Fatalf("expected 1 session, got %d", len(list))
	}
	sess := list[0]
	if sess.TraceCount != 3 || sess.StartTime != 1000 || sess.EndTime != 3000 {
		t.Fatalf("session bounds wrong: %+v", sess)
	}
	if sess.FirstTraceID != t1 || sess.LastTraceID != t3 {
		t.Fatalf("trace id bounds wrong: %+v", sess)
	}
	if sess.Title != "editing main.go" {
		t.Fatalf("title must come from the first trace, got %q", sess.Title)
	}

	attached, err := traces.BySession(sess.ID)
	if err != nil {
		t.Fatalf("by session: %v", err)
	}
	if len(attached) != 3 || attached[0].ID != t1 || attached[2].ID != t3 {
		t.Fatalf("trace linkage wrong: %+v", attached)
	}
	_ = t2
}

func TestClustererSplitsOnGap(t *testing.T) {
	c, sessions, traces := setupClusterer(t, Options{
		SimThreshold: 0.6, GapMs: 300000, MaxActive: 8,
	})

	vec := []float32{1, 0, 0}
	observe(t, c, traces, 1000, "Terminal", "morning work", vec)
	observe(t, c, traces, 1000+300001, "Terminal", "afternoon work", vec)

	list, err := sessions.List(0, 0, "", 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("expected gap to split sessions, got %d", len(list))
	}
}

func TestClustererSplitsOnTopicChange(t *testing.T) {
	c, sessions, traces := setupClusterer(t, Options{
		SimThreshold: 0.6, GapMs: 300000, MaxActive: 8,
	})

	observe(t, c, traces, 1000, "Chrome", "reading go docs", []float32{1, 0, 0})
	observe(t, c, traces, 2000, "Chrome", "booking flights", []float32{0, 1, 0})

	list, err := sessions.List(0, 0, "", 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("expected topic change to split, got %d sessions", len(list))
	}

	// Newest first: sessions for one app must not overlap.
	if list[1].EndTime > list[0].StartTime {
		t.Fatalf("same-app sessions overlap: %+v", list)
	}
}

func TestClustererFallsBackWithoutEmbedding(t *testing.T) {
	c, sessions, traces := setupClusterer(t, Options{
		SimThreshold: 0.6, GapMs: 300000, MaxActive: 8,
	})

	observe(t, c, traces, 1000, "Terminal", "first", nil)
	observe(t, c, traces, 2000, "Terminal", "second", nil)

	list, err := sessions.List(0, 0, "", 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	// App identity plus gap attaches traces even without vectors.
	if len(list) != 1 || list[0].TraceCount != 2 {
		t.Fatalf("expected one session via app+gap fallback, got %+v", list)
	}
}

func TestClustererInterleavesApps(t *testing.T) {
	c, sessions, traces := setupClusterer(t, Options{
		SimThreshold: 0.6, GapMs: 300000, MaxActive: 8,
	})

	vec := []float32{1, 0, 0}
	observe(t, c, traces, 1000, "Terminal", "coding", vec)
	observe(t, c, traces, 2000, "Slack", "chatting", vec)
	observe(t, c, traces, 3000, "Terminal", "still coding", vec)

	list, err := sessions.List(0, 0, "", 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("expected one session per app, got %d", len(list))
	}
	if c.ActiveCount() != 2 {
		t.Fatalf("expected 2 open sessions, got %d", c.ActiveCount())
	}

	for _, sess := range list {
		if sess.AppName == "Terminal" && sess.TraceCount != 2 {
			t.Fatalf("interleaved trace did not rejoin its session: %+v", sess)
		}
	}
}

func TestClustererEvictsAtCapacity(t *testing.T) {
	c, _, traces := setupClusterer(t, Options{
		SimThreshold: 0.6, GapMs: 300000, MaxActive: 2,
	})

	vec := []float32{1, 0, 0}
	observe(t, c, traces, 1000, "Terminal", "a", vec)
	observe(t, c, traces, 2000, "Slack", "b", vec)
	observe(t, c, traces, 3000, "Chrome", "c", vec)

	if c.ActiveCount() != 2 {
		t.Fatalf("expected eviction to hold the cap, got %d open", c.ActiveCount())
	}
}

func TestClustererFlush(t *testing.T) {
	c, sessions, traces := setupClusterer(t, Options{
		SimThreshold: 0.6, GapMs: 300000, MaxActive: 8,
	})

	observe(t, c, traces, 1000, "Terminal", "work", []float32{1, 0, 0})
	c.Flush()

	if c.ActiveCount() != 0 {
		t.Fatalf("expected no open sessions after flush, got %d", c.ActiveCount())
	}
	list, _ := sessions.List(0, 0, "", 10)
	if len(list) != 1 {
		t.Fatalf("flushed session must be persisted, got %d", len(list))
	}
}

func TestClustererAggregatesEntities(t *testing.T) {
	c, sessions, traces := setupClusterer(t, Options{
		SimThreshold: 0.6, GapMs: 300000, MaxActive: 8,
	})

	tr := &models.Trace{Timestamp: 1000, AppName: "Terminal"}
	if _, err := traces.Insert(tr); err != nil {
		t.Fatalf("insert trace: %v", err)
	}
	analysis := &models.ScreenAnalysis{
		Summary: "reviewing a pull request", DetectedApp: "Terminal",
		Entities: []string{"engram", "traces.go"},
	}
	if err := c.Observe(tr, analysis); err != nil {
		t.Fatalf("observe: %v", err)
	}

	tr2 := &models.Trace{Timestamp: 2000, AppName: "Terminal"}
	if _, err := traces.Insert(tr2); err != nil {
		t.Fatalf("insert trace: %v", err)
	}
	analysis2 := &models.ScreenAnalysis{
		Summary: "still reviewing", DetectedApp: "Terminal",
		Entities: []string{"engram"},
	}
	if err := c.Observe(tr2, analysis2); err != nil {
		t.Fatalf("observe: %v", err)
	}

	list, err := sessions.List(0, 0, "", 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 1 {
		t.Fatalf("expected one session, got %d", len(list))
	}
	counts := list[0].EntityCounts
	if counts["engram"] != 2 || counts["traces.go"] != 1 {
		t.Fatalf("entity counts wrong: %v", counts)
	}
}

func TestAppendBounded(t *testing.T) {
	t.Run("appends with newline", func(t *testing.T) {
		got := appendBounded("first", "second", 100)
		if got != "first\nsecond" {
			t.Fatalf("got %q", got)
		}
	})

	t.Run("trims whole lines from the front", func(t *testing.T) {
		got := appendBounded("aaaa\nbbbb", "cccc", 10)
		if got != "bbbb\ncccc" {
			t.Fatalf("got %q", got)
		}
	})

	t.Run("ignores blank excerpts", func(t *testing.T) {
		if got := appendBounded("keep", "   ", 100); got != "keep" {
			t.Fatalf("got %q", got)
		}
	})
}

func TestBlendKeepsUnitNorm(t *testing.T) {
	out := blend([]float32{1, 0}, []float32{0, 1})
	var sum float64
	for _, v := range out {
		sum += float64(v) * float64(v)
	}
	if sum < 0.99 || sum > 1.01 {
		t.Fatalf("expected unit norm after blend, got %f", sum)
	}
	if out[0] <= out[1] {
		t.Fatal("history must outweigh the newcomer")
	}

	if got := blend(nil, []float32{1, 0}); got[0] != 1 {
		t.Fatal("nil history adopts the new vector")
	}
}
