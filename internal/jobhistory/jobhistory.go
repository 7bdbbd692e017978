// Package jobhistory provides a supplementary SQLite-backed audit
// trail of job lifecycle transitions. It is not the system of record —
// the queue substrate's on-disk directories are — this package exists
// so an operator can still query job history if files are removed from
// queue/completed and queue/failed (the bridge itself never prunes
// those directories), and so the
// admin API can answer "what happened to job X" without scanning the
// filesystem.
package jobhistory

import (
	"database/sql"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"

	"github.com/p-blackswan/platform-agent/internal/queue"
)

// Store manages the job history SQLite database.
type Store struct {
	db     *sql.DB
	logger zerolog.Logger
	mu     sync.RWMutex
}

// New opens (or creates) the database and runs migrations.
func New(dbPath string, logger zerolog.Logger) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("jobhistory: open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("jobhistory: ping database: %w", err)
	}

	s := &Store{db: db, logger: logger.With().Str("component", "jobhistory").Logger()}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("jobhistory: set pragma: %w", err)
		}
	}

	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("jobhistory: migration: %w", err)
	}

	s.logger.Info().Msg("job history store initialized")
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS job_history (
		id TEXT PRIMARY KEY,
		channel TEXT NOT NULL,
		thread_ts TEXT NOT NULL,
		user_id TEXT NOT NULL DEFAULT '',
		kind TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'pending',
		error TEXT,
		created_at INTEGER NOT NULL,
		started_at INTEGER,
		completed_at INTEGER,
		failed_at INTEGER
	);

	CREATE INDEX IF NOT EXISTS idx_job_history_status ON job_history(status);
	CREATE INDEX IF NOT EXISTS idx_job_history_created ON job_history(created_at);
	CREATE INDEX IF NOT EXISTS idx_job_history_thread ON job_history(channel, thread_ts);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("execute migration: %w", err)
	}
	return nil
}

// kindOf classifies a job for the history record.
func kindOf(j *queue.Job) string {
	if j.IsSimpleNotification() {
		return "simple_notification"
	}
	return "agent"
}

// RecordSubmitted inserts a new history row for a just-submitted job.
// A nil Store is a no-op, so callers may hold an optional *Store.
func (s *Store) RecordSubmitted(j *queue.Job) error {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`
		INSERT OR REPLACE INTO job_history (id, channel, thread_ts, user_id, kind, status, created_at)
		VALUES (?, ?, ?, ?, ?, 'pending', ?)
	`, j.ID, j.Channel, j.ThreadTS, j.User, kindOf(j), j.CreatedAt)
	if err != nil {
		return fmt.Errorf("jobhistory: record submitted: %w", err)
	}
	return nil
}

// RecordStarted marks a job as running. A nil Store is a no-op.
func (s *Store) RecordStarted(id string, startedAt int64) error {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`UPDATE job_history SET status = 'running', started_at = ? WHERE id = ?`, startedAt, id)
	if err != nil {
		return fmt.Errorf("jobhistory: record started: %w", err)
	}
	return nil
}

// RecordCompleted marks a job as completed. A nil Store is a no-op.
func (s *Store) RecordCompleted(id string, completedAt int64) error {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`UPDATE job_history SET status = 'completed', completed_at = ? WHERE id = ?`, completedAt, id)
	if err != nil {
		return fmt.Errorf("jobhistory: record completed: %w", err)
	}
	return nil
}

// RecordFailed marks a job as failed (dead-lettered) with a reason. A
// nil Store is a no-op.
func (s *Store) RecordFailed(id, reason string, failedAt int64) error {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`UPDATE job_history SET status = 'failed', error = ?, failed_at = ? WHERE id = ?`, reason, failedAt, id)
	if err != nil {
		return fmt.Errorf("jobhistory: record failed: %w", err)
	}
	return nil
}

// Record is a single job-history row.
type Record struct {
	ID          string
	Channel     string
	ThreadTS    string
	UserID      string
	Kind        string
	Status      string
	Error       string
	CreatedAt   int64
	StartedAt   int64
	CompletedAt int64
	FailedAt    int64
}

// Get retrieves a job's history record by ID. Returns (nil, nil) if
// not found.
func (s *Store) Get(id string) (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r := &Record{}
	var errMsg sql.NullString
	var started, completed, failed sql.NullInt64

	err := s.db.QueryRow(`
		SELECT id, channel, thread_ts, user_id, kind, status, error, created_at, started_at, completed_at, failed_at
		FROM job_history WHERE id = ?
	`, id).Scan(&r.ID, &r.Channel, &r.ThreadTS, &r.UserID, &r.Kind, &r.Status, &errMsg, &r.CreatedAt, &started, &completed, &failed)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("jobhistory: get: %w", err)
	}

	if errMsg.Valid {
		r.Error = errMsg.String
	}
	if started.Valid {
		r.StartedAt = started.Int64
	}
	if completed.Valid {
		r.CompletedAt = completed.Int64
	}
	if failed.Valid {
		r.FailedAt = failed.Int64
	}
	return r, nil
}

// RecentFilter narrows a Recent query.
type RecentFilter struct {
	Status string
	Limit  int
}

// Recent lists the most recently created job history records, newest
// first.
func (s *Store) Recent(f RecentFilter) ([]*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `
	SELECT id, channel, thread_ts, user_id, kind, status, error, created_at, started_at, completed_at, failed_at
	FROM job_history
	`
	args := []interface{}{}
	if f.Status != "" {
		query += ` WHERE status = ?`
		args = append(args, f.Status)
	}
	query += ` ORDER BY created_at DESC`
	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}
	query += ` LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("jobhistory: recent: %w", err)
	}
	defer rows.Close()

	var out []*Record
	for rows.Next() {
		r := &Record{}
		var errMsg sql.NullString
		var started, completed, failed sql.NullInt64
		if err := rows.Scan(&r.ID, &r.Channel, &r.ThreadTS, &r.UserID, &r.Kind, &r.Status, &errMsg, &r.CreatedAt, &started, &completed, &failed); err != nil {
			return nil, fmt.Errorf("jobhistory: scan: %w", err)
		}
		if errMsg.Valid {
			r.Error = errMsg.String
		}
		if started.Valid {
			r.StartedAt = started.Int64
		}
		if completed.Valid {
			r.CompletedAt = completed.Int64
		}
		if failed.Valid {
			r.FailedAt = failed.Int64
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("jobhistory: iterate: %w", err)
	}
	return out, nil
}

// CountByStatus returns counts grouped by status, for the admin API's
// /status response and the job_history readiness check.
func (s *Store) CountByStatus() (map[string]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`SELECT status, COUNT(*) FROM job_history GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("jobhistory: count by status: %w", err)
	}
	defer rows.Close()

	out := map[string]int{}
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("jobhistory: scan count: %w", err)
		}
		out[status] = count
	}
	return out, rows.Err()
}
