// Package queue implements the durable, four-directory on-disk work
// queue: pending, processing, completed, failed. A job's residence
// directory is its state; there is no in-file status flag of record.
package queue

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/p-blackswan/platform-agent/internal/fsutil"
)

const (
	dirPending    = "pending"
	dirProcessing = "processing"
	dirCompleted  = "completed"
	dirFailed     = "failed"
)

// Job is one unit of work. A job with Text set and Prompt empty is a
// "simple notification" — a plain post request, not an agent
// invocation (SPEC_FULL.md OPEN QUESTION DECISIONS #1).
type Job struct {
	ID        string `json:"id"`
	Channel   string `json:"channel"`
	ThreadTS  string `json:"thread_ts"`
	User      string `json:"user"`
	Prompt    string `json:"prompt,omitempty"`
	Text      string `json:"text,omitempty"`

	ThreadContext string `json:"thread_context,omitempty"`

	CreatedAt   int64  `json:"created_at"`
	StartedAt   *int64 `json:"started_at,omitempty"`
	CompletedAt *int64 `json:"completed_at,omitempty"`

	Error    string `json:"error,omitempty"`
	FailedAt *int64 `json:"failed_at,omitempty"`
}

// IsSimpleNotification reports whether j is a plain post request
// rather than an agent invocation.
func (j *Job) IsSimpleNotification() bool {
	return j.Prompt == "" && j.Text != ""
}

// Status is a snapshot of queue directory occupancy.
type Status struct {
	Pending    int `json:"pending"`
	Processing int `json:"processing"`
	Completed  int `json:"completed"`
	Failed     int `json:"failed"`
}

// Queue is the on-disk work queue rooted at a base directory.
type Queue struct {
	base   string
	logger zerolog.Logger
}

// New creates a Queue rooted at base, ensuring all four lifecycle
// directories exist.
func New(base string, logger zerolog.Logger) (*Queue, error) {
	q := &Queue{base: base, logger: logger.With().Str("component", "queue").Logger()}
	if err := q.EnsureDirs(); err != nil {
		return nil, err
	}
	return q, nil
}

// EnsureDirs creates the four lifecycle directories if absent.
func (q *Queue) EnsureDirs() error {
	for _, d := range []string{dirPending, dirProcessing, dirCompleted, dirFailed} {
		if err := os.MkdirAll(filepath.Join(q.base, d), 0o755); err != nil {
			return fmt.Errorf("queue: ensure dir %s: %w", d, err)
		}
	}
	return nil
}

func (q *Queue) dirPath(dir, id string) string {
	return filepath.Join(q.base, dir, id+".json")
}

// Submit assigns a new ID (if empty), stamps CreatedAt, and atomically
// places the job into pending/.
func (q *Queue) Submit(j *Job) (string, error) {
	if j.ID == "" {
		j.ID = uuid.New().String()
	}
	if j.CreatedAt == 0 {
		j.CreatedAt = time.Now().UnixMilli()
	}

	data, err := json.MarshalIndent(j, "", "  ")
	if err != nil {
		return "", fmt.Errorf("queue: marshal job %s: %w", j.ID, err)
	}

	tmpPath := filepath.Join(q.base, j.ID+".tmp.json")
	if err := fsutil.AtomicWriteFile(tmpPath, data, 0o644); err != nil {
		return "", fmt.Errorf("queue: submit %s: write temp: %w", j.ID, err)
	}
	if err := os.Rename(tmpPath, q.dirPath(dirPending, j.ID)); err != nil {
		return "", fmt.Errorf("queue: submit %s: rename to pending: %w", j.ID, err)
	}
	return j.ID, nil
}

// ListPending lists pending job filenames (without directory prefix).
func (q *Queue) ListPending() ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(q.base, dirPending))
	if err != nil {
		return nil, fmt.Errorf("queue: list pending: %w", err)
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".json") {
			names = append(names, e.Name())
		}
	}
	return names, nil
}

// Claim attempts to move file from pending/ to processing/ via rename.
// A lost race (another worker already claimed or removed it) is
// reported via ok=false, not an error — callers should log and skip.
func (q *Queue) Claim(file string) (ok bool, err error) {
	from := filepath.Join(q.base, dirPending, file)
	to := filepath.Join(q.base, dirProcessing, file)
	if err := os.Rename(from, to); err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("queue: claim %s: %w", file, err)
	}
	return true, nil
}

// ReadProcessing reads and parses a job file currently in processing/.
func (q *Queue) ReadProcessing(file string) (*Job, error) {
	data, err := os.ReadFile(filepath.Join(q.base, dirProcessing, file))
	if err != nil {
		return nil, fmt.Errorf("queue: read processing %s: %w", file, err)
	}
	var j Job
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("queue: parse processing %s: %w", file, err)
	}
	return &j, nil
}

// ReadFailed reads and parses a job file in failed/ (operator/test use).
func (q *Queue) ReadFailed(file string) (*Job, error) {
	data, err := os.ReadFile(filepath.Join(q.base, dirFailed, file))
	if err != nil {
		return nil, fmt.Errorf("queue: read failed %s: %w", file, err)
	}
	var j Job
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("queue: parse failed %s: %w", file, err)
	}
	return &j, nil
}

// Complete writes the final job JSON into processing/ (overwriting),
// then renames it into completed/.
func (q *Queue) Complete(file string, j *Job) error {
	data, err := json.MarshalIndent(j, "", "  ")
	if err != nil {
		return fmt.Errorf("queue: marshal completed %s: %w", file, err)
	}
	processingPath := filepath.Join(q.base, dirProcessing, file)
	if err := os.WriteFile(processingPath, data, 0o644); err != nil {
		return fmt.Errorf("queue: write completed %s: %w", file, err)
	}
	if err := os.Rename(processingPath, filepath.Join(q.base, dirCompleted, file)); err != nil {
		return fmt.Errorf("queue: rename to completed %s: %w", file, err)
	}
	return nil
}

// Fail writes {job, error, failed_at} into failed/ and unlinks the
// file from processing/.
func (q *Queue) Fail(file string, j *Job, failErr string) error {
	now := time.Now().UnixMilli()
	j.Error = failErr
	j.FailedAt = &now

	data, err := json.MarshalIndent(j, "", "  ")
	if err != nil {
		return fmt.Errorf("queue: marshal failed %s: %w", file, err)
	}
	if err := os.WriteFile(filepath.Join(q.base, dirFailed, file), data, 0o644); err != nil {
		return fmt.Errorf("queue: write failed %s: %w", file, err)
	}
	if err := os.Remove(filepath.Join(q.base, dirProcessing, file)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("queue: unlink processing %s: %w", file, err)
	}
	return nil
}

// RecoverCrashed renames every file in processing/ back to pending/.
// Run once at processor startup before entering the main loop.
func (q *Queue) RecoverCrashed() (int, error) {
	entries, err := os.ReadDir(filepath.Join(q.base, dirProcessing))
	if err != nil {
		return 0, fmt.Errorf("queue: recover: list processing: %w", err)
	}

	recovered := 0
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		from := filepath.Join(q.base, dirProcessing, e.Name())
		to := filepath.Join(q.base, dirPending, e.Name())
		if err := os.Rename(from, to); err != nil {
			q.logger.Warn().Err(err).Str("file", e.Name()).Msg("crash recovery: rename failed")
			continue
		}
		recovered++
	}
	return recovered, nil
}

func countJSONFiles(dir string) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".json") {
			n++
		}
	}
	return n, nil
}

// GetStatus returns directory occupancy counts.
func (q *Queue) GetStatus() (Status, error) {
	var s Status
	var err error
	if s.Pending, err = countJSONFiles(filepath.Join(q.base, dirPending)); err != nil {
		return s, fmt.Errorf("queue: status pending: %w", err)
	}
	if s.Processing, err = countJSONFiles(filepath.Join(q.base, dirProcessing)); err != nil {
		return s, fmt.Errorf("queue: status processing: %w", err)
	}
	if s.Completed, err = countJSONFiles(filepath.Join(q.base, dirCompleted)); err != nil {
		return s, fmt.Errorf("queue: status completed: %w", err)
	}
	if s.Failed, err = countJSONFiles(filepath.Join(q.base, dirFailed)); err != nil {
		return s, fmt.Errorf("queue: status failed: %w", err)
	}
	return s, nil
}
