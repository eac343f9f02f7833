// Package sessions groups analyzed traces into activity sessions: contiguous
// stretches of work in one application with a coherent topic.
package sessions

import (
	"fmt"
	"log/slog"
	"math"
	"strings"
	"sync"

	"github.com/engramhq/engram/internal/models"
	"github.com/engramhq/engram/internal/search"
	"github.com/engramhq/engram/internal/store"
)

// Options tune session attachment.
type Options struct {
	// SimThreshold is the minimum cosine similarity between a trace and a
	// session's rolling embedding for the trace to attach.
	SimThreshold float64
	// GapMs closes a session once this much time passes without a trace.
	GapMs int64
	// MaxActive bounds the open-session set; the least recently extended
	// session is flushed when the bound is hit.
	MaxActive int
	// ContextMaxBytes bounds the rolling context text per session.
	ContextMaxBytes int
}

// Clusterer maintains the bounded set of open sessions. Analysis workers feed
// it traces in non-decreasing timestamp order; all mutations are serialized
// behind one mutex so the workers never contend on session rows.
type Clusterer struct {
	sessions *store.SessionStore
	traces   *store.TraceStore
	opts     Options
	logger   *slog.Logger

	mu     sync.Mutex
	active map[string]*activeSession // keyed by app identity
}

type activeSession struct {
	sess      *models.ActivitySession
	embedding []float32
}

func NewClusterer(sessions *store.SessionStore, traces *store.TraceStore,
	opts Options, logger *slog.Logger) *Clusterer {
	if opts.MaxActive <= 0 {
		opts.MaxActive = 8
	}
	if opts.ContextMaxBytes <= 0 {
		opts.ContextMaxBytes = 2000
	}
	return &Clusterer{
		sessions: sessions,
		traces:   traces,
		opts:     opts,
		logger:   logger,
		active:   make(map[string]*activeSession),
	}
}

// Observe routes one analyzed trace into a session: attach to the open
// session for its app when the time gap and topic similarity allow, otherwise
// open a new one.
func (c *Clusterer) Observe(trace *models.Trace, analysis *models.ScreenAnalysis) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.closeIdleLocked(trace.Timestamp)

	app := analysis.DetectedApp
	if app == "" {
		app = trace.AppName
	}
	if app == "" {
		app = "unknown"
	}

	traceVec := search.BytesToFloat32(trace.Embedding)

	if as, ok := c.active[app]; ok {
		if c.attachable(as, trace, traceVec) {
			return c.extendLocked(as, trace, analysis, traceVec)
		}
		// Same app but the topic moved on. Close the old session so
		// sessions for one app never overlap.
		c.flushLocked(as)
		delete(c.active, app)
	}

	return c.openLocked(app, trace, analysis, traceVec)
}

// attachable applies the gap and similarity rules. A trace without an
// embedding falls back to app identity plus gap, which already held.
func (c *Clusterer) attachable(as *activeSession, trace *models.Trace, traceVec []float32) bool {
	if trace.Timestamp-as.sess.EndTime > c.opts.GapMs {
		return false
	}
	if traceVec == nil || as.embedding == nil {
		return true
	}
	return search.CosineSimilarity(traceVec, as.embedding) >= c.opts.SimThreshold
}

func (c *Clusterer) extendLocked(as *activeSession, trace *models.Trace,
	analysis *models.ScreenAnalysis, traceVec []float32) error {
	sess := as.sess
	if trace.Timestamp > sess.EndTime {
		sess.EndTime = trace.Timestamp
	}
	sess.LastTraceID = trace.ID
	sess.TraceCount++
	sess.Context = appendBounded(sess.Context, analysis.Summary, c.opts.ContextMaxBytes)
	countEntities(sess, analysis.Entities)
	if analysis.IsKeyAction && analysis.KeyActionDescription != "" {
		sess.KeyActions = append(sess.KeyActions, analysis.KeyActionDescription)
	}
	if traceVec != nil {
		as.embedding = blend(as.embedding, traceVec)
		sess.Embedding = search.Float32ToBytes(as.embedding)
	}

	if err := c.sessions.Update(sess); err != nil {
		return fmt.Errorf("extend session %d: %w", sess.ID, err)
	}
	if err := c.traces.SetSession(trace.ID, sess.ID); err != nil {
		return err
	}
	c.logger.Debug("session extended", "session", sess.ID, "traces", sess.TraceCount)
	return nil
}

func (c *Clusterer) openLocked(app string, trace *models.Trace,
	analysis *models.ScreenAnalysis, traceVec []float32) error {
	sess := &models.ActivitySession{
		AppName:      app,
		Title:        sessionTitle(app, analysis.Summary),
		StartTime:    trace.Timestamp,
		EndTime:      trace.Timestamp,
		FirstTraceID: trace.ID,
		LastTraceID:  trace.ID,
		Context:      appendBounded("", analysis.Summary, c.opts.ContextMaxBytes),
		TraceCount:   1,
	}
	countEntities(sess, analysis.Entities)
	if analysis.IsKeyAction && analysis.KeyActionDescription != "" {
		sess.KeyActions = []string{analysis.KeyActionDescription}
	}
	if traceVec != nil {
		sess.Embedding = search.Float32ToBytes(traceVec)
	}

	if _, err := c.sessions.Insert(sess); err != nil {
		return fmt.Errorf("open session: %w", err)
	}
	if err := c.traces.SetSession(trace.ID, sess.ID); err != nil {
		return err
	}

	c.evictLocked()
	c.active[app] = &activeSession{sess: sess, embedding: traceVec}
	c.logger.Debug("session opened", "session", sess.ID, "app", app)
	return nil
}

// closeIdleLocked drops open sessions whose gap to now has passed. They are
// already persisted; removal just stops them from accepting traces.
func (c *Clusterer) closeIdleLocked(now int64) {
	for app, as := range c.active {
		if now-as.sess.EndTime > c.opts.GapMs {
			c.flushLocked(as)
			delete(c.active, app)
		}
	}
}

// evictLocked makes room for one more session by flushing the least recently
// extended one.
func (c *Clusterer) evictLocked() {
	if len(c.active) < c.opts.MaxActive {
		return
	}
	var oldestApp string
	var oldestEnd int64
	for app, as := range c.active {
		if oldestApp == "" || as.sess.EndTime < oldestEnd {
			oldestApp, oldestEnd = app, as.sess.EndTime
		}
	}
	if oldestApp != "" {
		c.flushLocked(c.active[oldestApp])
		delete(c.active, oldestApp)
	}
}

func (c *Clusterer) flushLocked(as *activeSession) {
	if err := c.sessions.Update(as.sess); err != nil {
		c.logger.Error("flush session failed", "session", as.sess.ID, "error", err)
	}
}

// Flush persists all open sessions. Called on shutdown.
func (c *Clusterer) Flush() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for app, as := range c.active {
		c.flushLocked(as)
		delete(c.active, app)
	}
}

// ActiveCount returns how many sessions are currently open.
func (c *Clusterer) ActiveCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.active)
}

// sessionTitle seeds the session's description from the first trace's summary.
func sessionTitle(app, summary string) string {
	summary = strings.TrimSpace(summary)
	if summary == "" {
		return app
	}
	const maxTitle = 80
	if len(summary) > maxTitle {
		summary = summary[:maxTitle] + "..."
	}
	return summary
}

// countEntities folds a trace's extracted entities into the session tallies.
func countEntities(sess *models.ActivitySession, entities []string) {
	for _, e := range entities {
		e = strings.TrimSpace(e)
		if e == "" {
			continue
		}
		if sess.EntityCounts == nil {
			sess.EntityCounts = make(map[string]int)
		}
		sess.EntityCounts[e]++
	}
}

// appendBounded appends an excerpt to the rolling context, trimming whole
// lines from the front when the byte budget is exceeded.
func appendBounded(context, excerpt string, maxBytes int) string {
	excerpt = strings.TrimSpace(excerpt)
	if excerpt == "" {
		return context
	}
	if context == "" {
		context = excerpt
	} else {
		context = context + "\n" + excerpt
	}
	for len(context) > maxBytes {
		i := strings.Index(context, "\n")
		if i < 0 {
			return context[len(context)-maxBytes:]
		}
		context = context[i+1:]
	}
	return context
}

// blend folds a new trace vector into the session's rolling embedding,
// weighting history over the newcomer and renormalizing.
func blend(current, next []float32) []float32 {
	if current == nil {
		return next
	}
	if len(current) != len(next) {
		return current
	}
	out := make([]float32, len(current))
	for i := range current {
		out[i] = current[i]*0.7 + next[i]*0.3
	}
	var sum float64
	for _, v := range out {
		sum += float64(v) * float64(v)
	}
	if sum > 0 {
		norm := float32(1.0 / math.Sqrt(sum))
		for i := range out {
			out[i] *= norm
		}
	}
	return out
}
