package store

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/engramhq/engram/internal/models"
)

// traceColumns is the canonical column list for all SELECT queries.
// Order must match scanTrace.
const traceColumns = `id, timestamp, monitor_id, app_name, window_title, is_fullscreen,
	image_path, phash, ocr_text, ocr_json, embedding, is_idle, session_id,
	analysis_attempts, created_at`

// TraceStore handles Trace CRUD operations on SQLite.
type TraceStore struct {
	db *DB
}

func NewTraceStore(db *DB) *TraceStore {
	return &TraceStore{db: db}
}

// Insert stores a new trace and returns its assigned ID.
func (s *TraceStore) Insert(t *models.Trace) (int64, error) {
	if t.CreatedAt == 0 {
		t.CreatedAt = time.Now().UnixMilli()
	}
	res, err := s.db.Exec(`
		INSERT INTO traces (timestamp, monitor_id, app_name, window_title, is_fullscreen,
			image_path, phash, ocr_text, ocr_json, embedding, is_idle, session_id,
			analysis_attempts, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		t.Timestamp, t.MonitorID, t.AppName, t.WindowTitle, boolToInt(t.IsFullscreen),
		t.ImagePath, t.PHash, t.OCRText, t.OCRJSON, t.Embedding, boolToInt(t.IsIdle),
		t.SessionID, t.AnalysisAttempts, t.CreatedAt,
	)
	if err != nil {
		return 0, fmt.Errorf("insert trace: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("trace insert id: %w", err)
	}
	t.ID = id
	return id, nil
}

// GetByID fetches a single trace, or nil if it does not exist.
func (s *TraceStore) GetByID(id int64) (*models.Trace, error) {
	t, err := scanTrace(s.db.QueryRow(
		fmt.Sprintf(`SELECT %s FROM traces WHERE id = ?`, traceColumns), id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return t, err
}

// List returns traces matching the filter, newest first.
func (s *TraceStore) List(f *models.TraceFilter) ([]*models.Trace, error) {
	where, args := filterClauses(f)
	limit, offset := 100, 0
	if f != nil {
		if f.Limit > 0 {
			limit = f.Limit
		}
		if f.Offset > 0 {
			offset = f.Offset
		}
	}
	args = append(args, limit, offset)

	q := fmt.Sprintf(`SELECT %s FROM traces %s ORDER BY timestamp DESC LIMIT ? OFFSET ?`,
		traceColumns, where)
	rows, err := s.db.Query(q, args...)
	if err != nil {
		return nil, fmt.Errorf("list traces: %w", err)
	}
	defer rows.Close()
	return scanTraces(rows)
}

// InRange returns traces with timestamp in [start, end), oldest first.
func (s *TraceStore) InRange(start, end int64) ([]*models.Trace, error) {
	rows, err := s.db.Query(
		fmt.Sprintf(`SELECT %s FROM traces WHERE timestamp >= ? AND timestamp < ? ORDER BY timestamp ASC`, traceColumns),
		start, end)
	if err != nil {
		return nil, fmt.Errorf("traces in range: %w", err)
	}
	defer rows.Close()
	return scanTraces(rows)
}

// BySession returns the traces attached to an activity session, oldest first.
func (s *TraceStore) BySession(sessionID int64) ([]*models.Trace, error) {
	rows, err := s.db.Query(
		fmt.Sprintf(`SELECT %s FROM traces WHERE session_id = ? ORDER BY timestamp ASC`, traceColumns),
		sessionID)
	if err != nil {
		return nil, fmt.Errorf("traces by session: %w", err)
	}
	defer rows.Close()
	return scanTraces(rows)
}

// SetSession attaches a trace to an activity session.
func (s *TraceStore) SetSession(traceID, sessionID int64) error {
	_, err := s.db.Exec(`UPDATE traces SET session_id = ? WHERE id = ?`, sessionID, traceID)
	if err != nil {
		return fmt.Errorf("set trace session: %w", err)
	}
	return nil
}

// PendingAnalysis returns traces awaiting the analysis pass, oldest first.
// A trace is pending while its analysis text is unset, it still has an image
// to analyze, it was not captured idle, and its attempt budget is not spent.
func (s *TraceStore) PendingAnalysis(limit, maxAttempts int) ([]*models.Trace, error) {
	rows, err := s.db.Query(fmt.Sprintf(`
		SELECT %s FROM traces
		WHERE ocr_text IS NULL AND image_path IS NOT NULL AND is_idle = 0
		  AND analysis_attempts < ?
		ORDER BY timestamp ASC
		LIMIT ?
	`, traceColumns), maxAttempts, limit)
	if err != nil {
		return nil, fmt.Errorf("pending analysis: %w", err)
	}
	defer rows.Close()
	return scanTraces(rows)
}

// PendingCount returns how many traces still await analysis.
func (s *TraceStore) PendingCount(maxAttempts int) (int, error) {
	var n int
	err := s.db.QueryRow(`
		SELECT COUNT(*) FROM traces
		WHERE ocr_text IS NULL AND image_path IS NOT NULL AND is_idle = 0
		  AND analysis_attempts < ?
	`, maxAttempts).Scan(&n)
	return n, err
}

// SetAnalysis writes the analysis result for a trace. The WHERE guard keeps
// the write idempotent: a trace that already has analysis text is never
// overwritten, so concurrent or repeated cycles cannot clobber a result.
func (s *TraceStore) SetAnalysis(id int64, text, rawJSON string) error {
	res, err := s.db.Exec(`
		UPDATE traces SET ocr_text = ?, ocr_json = ?
		WHERE id = ? AND ocr_text IS NULL
	`, text, rawJSON, id)
	if err != nil {
		return fmt.Errorf("set analysis: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("trace %d already analyzed or missing", id)
	}
	return nil
}

// SetEmbedding writes the embedding for a trace once.
func (s *TraceStore) SetEmbedding(id int64, embedding []byte) error {
	_, err := s.db.Exec(`
		UPDATE traces SET embedding = ?
		WHERE id = ? AND embedding IS NULL
	`, embedding, id)
	if err != nil {
		return fmt.Errorf("set embedding: %w", err)
	}
	return nil
}

// IncrementAttempts bumps the analysis attempt counter after a failure.
func (s *TraceStore) IncrementAttempts(id int64) error {
	_, err := s.db.Exec(`UPDATE traces SET analysis_attempts = analysis_attempts + 1 WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("increment attempts: %w", err)
	}
	return nil
}

// WithEmbeddings returns analyzed traces that still carry an embedding,
// for the brute-force semantic scan.
func (s *TraceStore) WithEmbeddings(f *models.TraceFilter) ([]*models.Trace, error) {
	where, args := filterClauses(f)
	if where == "" {
		where = "WHERE embedding IS NOT NULL"
	} else {
		where += " AND embedding IS NOT NULL"
	}
	q := fmt.Sprintf(`SELECT %s FROM traces %s`, traceColumns, where)
	rows, err := s.db.Query(q, args...)
	if err != nil {
		return nil, fmt.Errorf("traces with embeddings: %w", err)
	}
	defer rows.Close()
	return scanTraces(rows)
}

// ExpireImages clears image references on traces older than the cutoff and
// returns the paths that were cleared so the caller can remove the files.
// Safe to run repeatedly.
func (s *TraceStore) ExpireImages(cutoff int64) ([]string, error) {
	rows, err := s.db.Query(`
		SELECT image_path FROM traces
		WHERE timestamp < ? AND image_path IS NOT NULL
	`, cutoff)
	if err != nil {
		return nil, fmt.Errorf("select expired images: %w", err)
	}
	var paths []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan image path: %w", err)
		}
		paths = append(paths, p)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if _, err := s.db.Exec(`
		UPDATE traces SET image_path = NULL
		WHERE timestamp < ? AND image_path IS NOT NULL
	`, cutoff); err != nil {
		return nil, fmt.Errorf("clear expired images: %w", err)
	}
	return paths, nil
}

// ExpirePayloads clears embeddings and raw analysis payloads on traces older
// than the cutoff. The analysis text stays so keyword search keeps working.
// Safe to run repeatedly.
func (s *TraceStore) ExpirePayloads(cutoff int64) (int64, error) {
	res, err := s.db.Exec(`
		UPDATE traces SET embedding = NULL, ocr_json = NULL
		WHERE timestamp < ? AND (embedding IS NOT NULL OR ocr_json IS NOT NULL)
	`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("expire payloads: %w", err)
	}
	return res.RowsAffected()
}

// OldestTimestamp returns the oldest trace timestamp, or nil when empty.
func (s *TraceStore) OldestTimestamp() (*int64, error) {
	var ts sql.NullInt64
	err := s.db.QueryRow(`SELECT MIN(timestamp) FROM traces`).Scan(&ts)
	if err != nil {
		return nil, err
	}
	if !ts.Valid {
		return nil, nil
	}
	return &ts.Int64, nil
}

// TopApps returns the most-captured applications.
func (s *TraceStore) TopApps(limit int) ([]models.AppStat, error) {
	rows, err := s.db.Query(`
		SELECT app_name, COUNT(*) AS n FROM traces
		WHERE app_name != ''
		GROUP BY app_name ORDER BY n DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("top apps: %w", err)
	}
	defer rows.Close()
	var stats []models.AppStat
	for rows.Next() {
		var st models.AppStat
		if err := rows.Scan(&st.AppName, &st.TraceCount); err != nil {
			return nil, fmt.Errorf("scan app stat: %w", err)
		}
		stats = append(stats, st)
	}
	return stats, rows.Err()
}

func filterClauses(f *models.TraceFilter) (string, []any) {
	var clauses []string
	var args []any
	if f != nil {
		if f.StartTime != nil {
			clauses = append(clauses, "timestamp >= ?")
			args = append(args, *f.StartTime)
		}
		if f.EndTime != nil {
			clauses = append(clauses, "timestamp <= ?")
			args = append(args, *f.EndTime)
		}
		if f.AppName != "" {
			clauses = append(clauses, "app_name = ?")
			args = append(args, f.AppName)
		}
	}
	if len(clauses) == 0 {
		return "", args
	}
	return "WHERE " + strings.Join(clauses, " AND "), args
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTrace(row rowScanner) (*models.Trace, error) {
	var t models.Trace
	var isIdle, isFullscreen int
	err := row.Scan(
		&t.ID, &t.Timestamp, &t.MonitorID, &t.AppName, &t.WindowTitle, &isFullscreen,
		&t.ImagePath, &t.PHash, &t.OCRText, &t.OCRJSON, &t.Embedding, &isIdle,
		&t.SessionID, &t.AnalysisAttempts, &t.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	t.IsIdle = isIdle != 0
	t.IsFullscreen = isFullscreen != 0
	return &t, nil
}

func scanTraces(rows *sql.Rows) ([]*models.Trace, error) {
	var traces []*models.Trace
	for rows.Next() {
		t, err := scanTrace(rows)
		if err != nil {
			return nil, fmt.Errorf("scan trace: %w", err)
		}
		traces = append(traces, t)
	}
	return traces, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
