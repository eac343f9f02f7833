package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
)

// DB wraps the SQLite connection with initialization logic.
type DB struct {
	*sql.DB
	Path string
}

// Open creates or opens the SQLite database at the given path, runs schema
// initialization, and configures WAL mode for concurrent reads.
func Open(dbPath string) (*DB, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000&_foreign_keys=ON")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	db.SetMaxOpenConns(1) // SQLite handles one writer at a time

	if err := initSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}

	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &DB{DB: db, Path: dbPath}, nil
}

func initSchema(db *sql.DB) error {
	schema := `
CREATE TABLE IF NOT EXISTS traces (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  timestamp INTEGER NOT NULL,
  monitor_id INTEGER NOT NULL DEFAULT 0,
  app_name TEXT NOT NULL DEFAULT '',
  window_title TEXT NOT NULL DEFAULT '',
  is_fullscreen INTEGER NOT NULL DEFAULT 0,
  image_path TEXT,
  phash TEXT NOT NULL DEFAULT '',
  ocr_text TEXT,
  ocr_json TEXT,
  embedding BLOB,
  is_idle INTEGER NOT NULL DEFAULT 0,
  session_id INTEGER,
  analysis_attempts INTEGER NOT NULL DEFAULT 0,
  created_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_traces_timestamp ON traces(timestamp);
CREATE INDEX IF NOT EXISTS idx_traces_app_name ON traces(app_name);
CREATE INDEX IF NOT EXISTS idx_traces_session ON traces(session_id);
CREATE INDEX IF NOT EXISTS idx_traces_pending ON traces(timestamp) WHERE ocr_text IS NULL AND image_path IS NOT NULL;

CREATE TABLE IF NOT EXISTS activity_sessions (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  app_name TEXT NOT NULL,
  title TEXT NOT NULL DEFAULT '',
  start_time INTEGER NOT NULL,
  end_time INTEGER NOT NULL,
  first_trace_id INTEGER NOT NULL DEFAULT 0,
  last_trace_id INTEGER NOT NULL DEFAULT 0,
  context TEXT NOT NULL DEFAULT '',
  embedding BLOB,
  trace_count INTEGER NOT NULL DEFAULT 0,
  entity_counts TEXT,
  key_actions TEXT,
  created_at INTEGER NOT NULL,
  updated_at INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_sessions_start ON activity_sessions(start_time);
CREATE INDEX IF NOT EXISTS idx_sessions_app ON activity_sessions(app_name);

CREATE TABLE IF NOT EXISTS summaries (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  kind TEXT NOT NULL DEFAULT 'short',
  period_start INTEGER NOT NULL,
  period_end INTEGER NOT NULL,
  content TEXT NOT NULL,
  topics TEXT,
  entities TEXT,
  links TEXT,
  activity_breakdown TEXT,
  confidence REAL NOT NULL DEFAULT 0.0,
  embedding BLOB,
  created_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_summaries_period ON summaries(period_start, period_end);
CREATE INDEX IF NOT EXISTS idx_summaries_kind ON summaries(kind);

CREATE TABLE IF NOT EXISTS entities (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  name TEXT NOT NULL,
  type TEXT NOT NULL,
  mention_count INTEGER NOT NULL DEFAULT 1,
  first_seen INTEGER NOT NULL,
  last_seen INTEGER NOT NULL,
  metadata TEXT,
  UNIQUE(name, type)
);

CREATE TABLE IF NOT EXISTS entity_traces (
  entity_id INTEGER NOT NULL,
  trace_id INTEGER NOT NULL,
  PRIMARY KEY (entity_id, trace_id),
  FOREIGN KEY (entity_id) REFERENCES entities(id) ON DELETE CASCADE,
  FOREIGN KEY (trace_id) REFERENCES traces(id) ON DELETE CASCADE
);

CREATE TABLE IF NOT EXISTS chat_threads (
  id TEXT PRIMARY KEY,
  title TEXT NOT NULL DEFAULT '',
  created_at INTEGER NOT NULL,
  updated_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS chat_messages (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  thread_id TEXT NOT NULL,
  role TEXT NOT NULL,
  content TEXT NOT NULL,
  source_trace_ids TEXT,
  created_at INTEGER NOT NULL,
  FOREIGN KEY (thread_id) REFERENCES chat_threads(id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_messages_thread ON chat_messages(thread_id, created_at);

CREATE TABLE IF NOT EXISTS block_rules (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  kind TEXT NOT NULL,
  pattern TEXT NOT NULL,
  created_at INTEGER NOT NULL,
  UNIQUE(kind, pattern)
);

CREATE TABLE IF NOT EXISTS settings (
  key TEXT PRIMARY KEY,
  value TEXT NOT NULL,
  updated_at INTEGER NOT NULL
);
`
	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("create tables: %w", err)
	}

	// FTS5 virtual table and triggers are created separately since
	// IF NOT EXISTS isn't always supported for virtual tables in older SQLite.
	fts := `
CREATE VIRTUAL TABLE IF NOT EXISTS traces_fts USING fts5(
  ocr_text, window_title, app_name,
  content='traces', content_rowid='id',
  tokenize='unicode61'
);
`
	if _, err := db.Exec(fts); err != nil {
		return fmt.Errorf("create fts table: %w", err)
	}

	triggers := []string{
		`CREATE TRIGGER IF NOT EXISTS traces_ai AFTER INSERT ON traces BEGIN
  INSERT INTO traces_fts(rowid, ocr_text, window_title, app_name)
  VALUES (NEW.id, COALESCE(NEW.ocr_text, ''), NEW.window_title, NEW.app_name);
END;`,
		`CREATE TRIGGER IF NOT EXISTS traces_ad AFTER DELETE ON traces BEGIN
  INSERT INTO traces_fts(traces_fts, rowid, ocr_text, window_title, app_name)
  VALUES ('delete', OLD.id, COALESCE(OLD.ocr_text, ''), OLD.window_title, OLD.app_name);
END;`,
		`CREATE TRIGGER IF NOT EXISTS traces_au AFTER UPDATE ON traces BEGIN
  INSERT INTO traces_fts(traces_fts, rowid, ocr_text, window_title, app_name)
  VALUES ('delete', OLD.id, COALESCE(OLD.ocr_text, ''), OLD.window_title, OLD.app_name);
  INSERT INTO traces_fts(rowid, ocr_text, window_title, app_name)
  VALUES (NEW.id, COALESCE(NEW.ocr_text, ''), NEW.window_title, NEW.app_name);
END;`,
	}

	for _, t := range triggers {
		if _, err := db.Exec(t); err != nil {
			return fmt.Errorf("create trigger: %w", err)
		}
	}

	return nil
}

// runMigrations applies incremental schema changes that were added after the
// initial schema. Each migration is idempotent so it is safe to call on every
// database open.
func runMigrations(db *sql.DB) error {
	hasAttempts, err := columnExists(db, "traces", "analysis_attempts")
	if err != nil {
		return fmt.Errorf("check analysis_attempts column: %w", err)
	}
	if !hasAttempts {
		migrations := []string{
			`ALTER TABLE traces ADD COLUMN analysis_attempts INTEGER NOT NULL DEFAULT 0`,
			`ALTER TABLE traces ADD COLUMN session_id INTEGER`,
			`CREATE INDEX IF NOT EXISTS idx_traces_session ON traces(session_id)`,
		}
		for _, m := range migrations {
			if _, err := db.Exec(m); err != nil {
				return fmt.Errorf("run migration v1: %w", err)
			}
		}
	}

	hasFullscreen, err := columnExists(db, "traces", "is_fullscreen")
	if err != nil {
		return fmt.Errorf("check is_fullscreen column: %w", err)
	}
	if !hasFullscreen {
		migrations := []string{
			`ALTER TABLE traces ADD COLUMN is_fullscreen INTEGER NOT NULL DEFAULT 0`,
			`ALTER TABLE activity_sessions ADD COLUMN title TEXT NOT NULL DEFAULT ''`,
			`ALTER TABLE activity_sessions ADD COLUMN first_trace_id INTEGER NOT NULL DEFAULT 0`,
			`ALTER TABLE activity_sessions ADD COLUMN last_trace_id INTEGER NOT NULL DEFAULT 0`,
			`ALTER TABLE activity_sessions ADD COLUMN entity_counts TEXT`,
			`ALTER TABLE activity_sessions ADD COLUMN updated_at INTEGER NOT NULL DEFAULT 0`,
		}
		for _, m := range migrations {
			if _, err := db.Exec(m); err != nil {
				return fmt.Errorf("run migration v2: %w", err)
			}
		}
	}

	hasMetadata, err := columnExists(db, "entities", "metadata")
	if err != nil {
		return fmt.Errorf("check metadata column: %w", err)
	}
	if !hasMetadata {
		if _, err := db.Exec(`ALTER TABLE entities ADD COLUMN metadata TEXT`); err != nil {
			return fmt.Errorf("run migration v3: %w", err)
		}
	}
	return nil
}

// TraceCount returns the total number of traces in the database.
func (db *DB) TraceCount() (int, error) {
	var count int
	err := db.QueryRow("SELECT COUNT(*) FROM traces").Scan(&count)
	return count, err
}

// columnExists checks if a column exists in a table. It properly closes the
// rows cursor before returning, avoiding deadlocks with MaxOpenConns(1).
func columnExists(db *sql.DB, table, column string) (bool, error) {
	rows, err := db.Query(
		fmt.Sprintf("SELECT name FROM pragma_table_info('%s') WHERE name = ?", table),
		column,
	)
	if err != nil {
		return false, err
	}
	found := rows.Next()
	rows.Close()
	if err := rows.Err(); err != nil {
		return false, err
	}
	return found, nil
}
