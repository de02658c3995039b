// Package history archives the final analysis of every completed recording
// in a local SQLite database.
package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/lexiqai/speech-coach/internal/backend"
	"github.com/lexiqai/speech-coach/internal/stats"
)

const schema = `
	CREATE TABLE IF NOT EXISTS analyses (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		sessionId TEXT NOT NULL,
		transcript TEXT NOT NULL,
		liveStats TEXT NOT NULL,
		analysis TEXT NOT NULL,
		overallScore REAL NOT NULL,
		recordedAt REAL NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_analyses_recorded ON analyses(recordedAt);
`

// Entry is one archived recording
type Entry struct {
	ID         int64                 `json:"id"`
	SessionID  string                `json:"session_id"`
	Transcript string                `json:"transcript"`
	Stats      stats.Snapshot        `json:"live_stats"`
	Analysis   backend.FinalAnalysis `json:"analysis"`
	RecordedAt time.Time             `json:"recorded_at"`
}

// Store is the analysis archive
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the archive at path. ":memory:" gives a
// private in-memory archive.
func Open(path string) (*Store, error) {
	dsn := path
	if path != ":memory:" {
		dsn = fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", path)
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// One connection keeps an in-memory database alive and serializes writers
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Record archives one entry and returns its id
func (s *Store) Record(ctx context.Context, e Entry) (int64, error) {
	liveStats, err := json.Marshal(e.Stats)
	if err != nil {
		return 0, fmt.Errorf("encode stats: %w", err)
	}
	analysis, err := json.Marshal(e.Analysis)
	if err != nil {
		return 0, fmt.Errorf("encode analysis: %w", err)
	}
	if e.RecordedAt.IsZero() {
		e.RecordedAt = time.Now()
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO analyses (sessionId, transcript, liveStats, analysis, overallScore, recordedAt)
		VALUES (?, ?, ?, ?, ?, ?)
	`, e.SessionID, e.Transcript, string(liveStats), string(analysis), e.Analysis.OverallScore, unixFromTime(e.RecordedAt))
	if err != nil {
		return 0, fmt.Errorf("insert analysis: %w", err)
	}
	return res.LastInsertId()
}

// Recent returns up to limit entries, newest first
func (s *Store) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, sessionId, transcript, liveStats, analysis, recordedAt
		FROM analyses
		ORDER BY recordedAt DESC, id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query analyses: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var liveStats, analysis string
		var recordedAt float64
		if err := rows.Scan(&e.ID, &e.SessionID, &e.Transcript, &liveStats, &analysis, &recordedAt); err != nil {
			return nil, fmt.Errorf("scan analysis: %w", err)
		}
		if err := json.Unmarshal([]byte(liveStats), &e.Stats); err != nil {
			return nil, fmt.Errorf("decode stats %d: %w", e.ID, err)
		}
		if err := json.Unmarshal([]byte(analysis), &e.Analysis); err != nil {
			return nil, fmt.Errorf("decode analysis %d: %w", e.ID, err)
		}
		e.RecordedAt = timeFromUnix(recordedAt)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Count returns the number of archived recordings
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM analyses`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count analyses: %w", err)
	}
	return n, nil
}

func unixFromTime(t time.Time) float64 {
	return float64(t.UnixNano()) / 1e9
}

func timeFromUnix(f float64) time.Time {
	sec := int64(f)
	nsec := int64((f - float64(sec)) * 1e9)
	return time.Unix(sec, nsec)
}
