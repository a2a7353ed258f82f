package storage

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/dougsko/rdsmpx/pkg/logging"
	"github.com/dougsko/rdsmpx/pkg/stream"
)

// Session states recorded in the history
const (
	StatusRunning  = "running"
	StatusStopped  = "stopped"
	StatusDegraded = "degraded"
	StatusFailed   = "failed"
)

const lastConfigKey = "last_config"

// SessionStore persists the last started configuration and the history of
// stream sessions
type SessionStore struct {
	db          *sql.DB
	dbPath      string
	maxSessions int
}

// NewSessionStore creates a new session store with SQLite backend
func NewSessionStore(dbPath string, maxSessions int) (*SessionStore, error) {
	if dbPath == "" {
		dbPath = "./rdsmpx.db"
	}
	store := &SessionStore{
		dbPath:      dbPath,
		maxSessions: maxSessions,
	}

	if err := store.initialize(); err != nil {
		return nil, fmt.Errorf("failed to initialize session store: %w", err)
	}

	return store, nil
}

func (ss *SessionStore) initialize() error {
	if err := os.MkdirAll(filepath.Dir(ss.dbPath), 0755); err != nil {
		return fmt.Errorf("failed to create database directory: %w", err)
	}

	connectionString := ss.dbPath + "?_busy_timeout=10000&_journal_mode=WAL&_foreign_keys=on"
	db, err := sql.Open("sqlite3", connectionString)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	ss.db = db

	if err := ss.createTables(); err != nil {
		db.Close()
		return fmt.Errorf("failed to create tables: %w", err)
	}
	if err := ss.createIndexes(); err != nil {
		db.Close()
		return fmt.Errorf("failed to create indexes: %w", err)
	}

	logging.Infof("storage", "Session store initialized: %s (max %d sessions)", ss.dbPath, ss.maxSessions)
	return nil
}

func (ss *SessionStore) createTables() error {
	schema := `
	CREATE TABLE IF NOT EXISTS sessions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		started_at DATETIME NOT NULL,
		stopped_at DATETIME,
		backend TEXT NOT NULL DEFAULT '',
		device TEXT NOT NULL DEFAULT '',
		sample_rate INTEGER NOT NULL DEFAULT 0,
		format TEXT NOT NULL DEFAULT '',
		pi TEXT NOT NULL DEFAULT '',
		ps TEXT NOT NULL DEFAULT '',
		rt TEXT NOT NULL DEFAULT '',
		source TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL CHECK (status IN ('running', 'stopped', 'degraded', 'failed')),
		error TEXT NOT NULL DEFAULT '',
		produced INTEGER NOT NULL DEFAULT 0,
		underruns INTEGER NOT NULL DEFAULT 0,
		config_json TEXT NOT NULL DEFAULT '{}'
	);

	CREATE TABLE IF NOT EXISTS settings (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL,
		updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS session_stats (
		id INTEGER PRIMARY KEY,
		total_sessions INTEGER NOT NULL DEFAULT 0,
		total_failures INTEGER NOT NULL DEFAULT 0,
		total_seconds REAL NOT NULL DEFAULT 0,
		last_cleanup DATETIME
	);

	INSERT OR IGNORE INTO session_stats (id, total_sessions, total_failures, total_seconds)
	VALUES (1, 0, 0, 0);
	`

	_, err := ss.db.Exec(schema)
	return err
}

func (ss *SessionStore) createIndexes() error {
	indexes := []string{
		"CREATE INDEX IF NOT EXISTS idx_sessions_started_at ON sessions(started_at DESC)",
		"CREATE INDEX IF NOT EXISTS idx_sessions_status ON sessions(status)",
	}
	for _, indexSQL := range indexes {
		if _, err := ss.db.Exec(indexSQL); err != nil {
			return fmt.Errorf("failed to create index: %w", err)
		}
	}
	return nil
}

// SessionRecord is one row of the session history
type SessionRecord struct {
	ID         int64         `json:"id"`
	StartedAt  time.Time     `json:"started_at"`
	StoppedAt  *time.Time    `json:"stopped_at,omitempty"`
	Backend    string        `json:"backend"`
	Device     string        `json:"device"`
	SampleRate int           `json:"sample_rate"`
	Format     string        `json:"format"`
	PI         string        `json:"pi"`
	PS         string        `json:"ps"`
	RT         string        `json:"rt"`
	Source     string        `json:"source"`
	Status     string        `json:"status"`
	Error      string        `json:"error,omitempty"`
	Produced   int64         `json:"produced"`
	Underruns  int64         `json:"underruns"`
	Config     stream.Config `json:"-"`
}

func sourceLabel(cfg stream.Config) string {
	if cfg.Source.Path != "" {
		return filepath.Base(cfg.Source.Path)
	}
	return fmt.Sprintf("%s %.0f Hz", cfg.Source.Kind, cfg.Source.ToneHz)
}

// RecordStart inserts a running session and returns its row id
func (ss *SessionStore) RecordStart(rec SessionRecord) (int64, error) {
	return ss.insert(rec, StatusRunning)
}

// RecordFailure inserts a session that failed to start
func (ss *SessionStore) RecordFailure(cfg stream.Config, startErr error) (int64, error) {
	now := time.Now()
	rec := SessionRecord{StartedAt: now, StoppedAt: &now, Config: cfg, SampleRate: cfg.SampleRate, Device: cfg.Device}
	if startErr != nil {
		rec.Error = startErr.Error()
	}
	return ss.insert(rec, StatusFailed)
}

func (ss *SessionStore) insert(rec SessionRecord, status string) (int64, error) {
	cfgJSON, err := json.Marshal(rec.Config)
	if err != nil {
		return 0, fmt.Errorf("failed to encode config: %w", err)
	}

	tx, err := ss.db.Begin()
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var stoppedAt interface{}
	if rec.StoppedAt != nil {
		stoppedAt = *rec.StoppedAt
	}
	result, err := tx.Exec(`
		INSERT INTO sessions (
			started_at, stopped_at, backend, device, sample_rate, format,
			pi, ps, rt, source, status, error, config_json
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		rec.StartedAt, stoppedAt, rec.Backend, rec.Device, rec.SampleRate, rec.Format,
		fmt.Sprintf("%04X", rec.Config.Identity.PI), rec.Config.Identity.PS, rec.Config.Identity.RT,
		sourceLabel(rec.Config), status, rec.Error, string(cfgJSON),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to insert session: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get session ID: %w", err)
	}

	failures := 0
	if status == StatusFailed {
		failures = 1
	}
	if _, err := tx.Exec(`
		UPDATE session_stats SET
			total_sessions = total_sessions + 1,
			total_failures = total_failures + ?
		WHERE id = 1
	`, failures); err != nil {
		return 0, fmt.Errorf("failed to update stats: %w", err)
	}

	if err := ss.cleanupOldSessions(tx); err != nil {
		logging.Warnf("storage", "Failed to cleanup old sessions: %v", err)
	}

	return id, tx.Commit()
}

// MarkDegraded records a runtime error on a running session
func (ss *SessionStore) MarkDegraded(id int64, msg string) error {
	_, err := ss.db.Exec(`
		UPDATE sessions SET status = ?, error = ?
		WHERE id = ? AND status = ?
	`, StatusDegraded, msg, id, StatusRunning)
	if err != nil {
		return fmt.Errorf("failed to mark session %d degraded: %w", id, err)
	}
	return nil
}

// RecordStop closes a session row. Degraded sessions keep their status.
func (ss *SessionStore) RecordStop(id int64, stoppedAt time.Time, produced, underruns int64) error {
	tx, err := ss.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var startedAt time.Time
	if err := tx.QueryRow("SELECT started_at FROM sessions WHERE id = ?", id).Scan(&startedAt); err != nil {
		return fmt.Errorf("failed to find session %d: %w", id, err)
	}

	if _, err := tx.Exec(`
		UPDATE sessions SET
			stopped_at = ?,
			produced = ?,
			underruns = ?,
			status = CASE WHEN status = 'running' THEN 'stopped' ELSE status END
		WHERE id = ?
	`, stoppedAt, produced, underruns, id); err != nil {
		return fmt.Errorf("failed to update session: %w", err)
	}

	if _, err := tx.Exec(`
		UPDATE session_stats SET total_seconds = total_seconds + ? WHERE id = 1
	`, stoppedAt.Sub(startedAt).Seconds()); err != nil {
		return fmt.Errorf("failed to update stats: %w", err)
	}

	return tx.Commit()
}

// SaveLastConfig stores cfg as the configuration used by a bare START
func (ss *SessionStore) SaveLastConfig(cfg stream.Config) error {
	data, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	_, err = ss.db.Exec(`
		INSERT INTO settings (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = CURRENT_TIMESTAMP
	`, lastConfigKey, string(data))
	if err != nil {
		return fmt.Errorf("failed to save config: %w", err)
	}
	return nil
}

// LastConfig returns the last saved configuration, or nil if none
func (ss *SessionStore) LastConfig() (*stream.Config, error) {
	var data string
	err := ss.db.QueryRow("SELECT value FROM settings WHERE key = ?", lastConfigKey).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	var cfg stream.Config
	if err := json.Unmarshal([]byte(data), &cfg); err != nil {
		return nil, fmt.Errorf("failed to decode saved config: %w", err)
	}
	return &cfg, nil
}

// CloseRunning marks sessions left running by a previous process as
// stopped
func (ss *SessionStore) CloseRunning() (int64, error) {
	result, err := ss.db.Exec(`
		UPDATE sessions SET status = 'stopped', stopped_at = COALESCE(stopped_at, ?)
		WHERE status IN ('running', 'degraded') AND stopped_at IS NULL
	`, time.Now())
	if err != nil {
		return 0, fmt.Errorf("failed to close stale sessions: %w", err)
	}
	return result.RowsAffected()
}

// CleanupOldSessions removes sessions beyond the maximum limit
func (ss *SessionStore) CleanupOldSessions() error {
	tx, err := ss.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := ss.cleanupOldSessions(tx); err != nil {
		return err
	}
	return tx.Commit()
}

func (ss *SessionStore) cleanupOldSessions(tx *sql.Tx) error {
	if ss.maxSessions <= 0 {
		return nil
	}

	var count int
	if err := tx.QueryRow("SELECT COUNT(*) FROM sessions").Scan(&count); err != nil {
		return err
	}
	if count <= ss.maxSessions {
		return nil
	}

	_, err := tx.Exec(`
		DELETE FROM sessions
		WHERE id IN (
			SELECT id FROM sessions
			ORDER BY id ASC
			LIMIT ?
		)
	`, count-ss.maxSessions)
	if err != nil {
		return err
	}

	_, err = tx.Exec("UPDATE session_stats SET last_cleanup = CURRENT_TIMESTAMP WHERE id = 1")
	return err
}

// Close closes the database connection
func (ss *SessionStore) Close() error {
	if ss.db != nil {
		return ss.db.Close()
	}
	return nil
}
