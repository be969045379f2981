package metrics

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/failsafe-dev/failsafe/internal/probe"
)

// Record is one persisted health check. Sequence numbers are assigned by the
// session and strictly increase, so replaying a session's records
// reconstructs its consecutive-failure history exactly.
type Record struct {
	SessionID   string
	Seq         int64
	Timestamp   time.Time
	Status      probe.Status
	LatencyMs   int64
	Environment string
	ErrorDetail string
}

// Sink persists per-check records for audit and replay. Writes are
// append-only and never reordered.
type Sink interface {
	Append(rec Record) error
	Replay(sessionID string) ([]Record, error)
	Close() error
}

// SQLiteSink stores records in a local SQLite database.
type SQLiteSink struct {
	db   *sql.DB
	path string
	mu   sync.Mutex
}

// NewSQLiteSink opens (or creates) the database at path and ensures the
// checks table exists.
func NewSQLiteSink(path string) (*SQLiteSink, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create metrics directory: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open metrics database %s: %w", path, err)
	}
	s := &SQLiteSink{db: db, path: path}
	if err := s.init(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteSink) init() error {
	_, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS checks (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id TEXT NOT NULL,
		seq INTEGER NOT NULL,
		timestamp TEXT NOT NULL,
		status TEXT NOT NULL,
		latency_ms INTEGER NOT NULL,
		environment TEXT NOT NULL,
		error_detail TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_checks_session ON checks(session_id, seq);`)
	if err != nil {
		return fmt.Errorf("initialize metrics schema: %w", err)
	}
	return nil
}

// Append inserts one record.
func (s *SQLiteSink) Append(rec Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`INSERT INTO checks
		(session_id, seq, timestamp, status, latency_ms, environment, error_detail)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rec.SessionID,
		rec.Seq,
		rec.Timestamp.UTC().Format(time.RFC3339Nano),
		string(rec.Status),
		rec.LatencyMs,
		rec.Environment,
		rec.ErrorDetail,
	)
	if err != nil {
		return fmt.Errorf("append check record: %w", err)
	}
	return nil
}

// Replay returns a session's records ordered by sequence number.
func (s *SQLiteSink) Replay(sessionID string) ([]Record, error) {
	rows, err := s.db.Query(`SELECT session_id, seq, timestamp, status, latency_ms, environment, error_detail
		FROM checks WHERE session_id = ? ORDER BY seq ASC`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("replay session %s: %w", sessionID, err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var rec Record
		var ts, status string
		if err := rows.Scan(&rec.SessionID, &rec.Seq, &ts, &status, &rec.LatencyMs, &rec.Environment, &rec.ErrorDetail); err != nil {
			return nil, fmt.Errorf("scan check record: %w", err)
		}
		if t, err := time.Parse(time.RFC3339Nano, ts); err == nil {
			rec.Timestamp = t
		}
		rec.Status = probe.Status(status)
		records = append(records, rec)
	}
	return records, rows.Err()
}

// Path returns the database location.
func (s *SQLiteSink) Path() string {
	return s.path
}

// Close closes the underlying database.
func (s *SQLiteSink) Close() error {
	return s.db.Close()
}

// NopSink discards records; used when persistence is disabled.
type NopSink struct{}

func (NopSink) Append(Record) error                  { return nil }
func (NopSink) Replay(string) ([]Record, error)      { return nil, nil }
func (NopSink) Close() error                         { return nil }
