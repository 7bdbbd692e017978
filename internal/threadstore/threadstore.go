// Package threadstore persists per-thread Slack transcripts as JSON
// files and formats them into bounded, fenced context for the agent.
package threadstore

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/p-blackswan/platform-agent/internal/fsutil"
	"github.com/p-blackswan/platform-agent/internal/metrics"
)

// dedupWindow is the number of trailing messages checked for a
// duplicate ts before appending.
const dedupWindow = 5

// seedLimit is the number of replies fetched from the platform when
// seeding a thread for the first time.
const seedLimit = 20

// ThreadMessage is one utterance in a transcript.
type ThreadMessage struct {
	Role string `json:"role"`
	Name string `json:"name"`
	Text string `json:"text"`
	Ts   string `json:"ts"`
}

// ThreadFile is the durable transcript for one chat thread.
type ThreadFile struct {
	ThreadTS     string          `json:"thread_ts"`
	Channel      string          `json:"channel"`
	MessageCount int             `json:"message_count"`
	Messages     []ThreadMessage `json:"messages"`
	Summary      string          `json:"summary,omitempty"`
	Reseeded     bool            `json:"reseeded,omitempty"`
}

// PlatformMessage is one reply as reported by the chat platform's
// thread-history API, prior to role classification.
type PlatformMessage struct {
	Ts     string
	User   string
	BotID  string
	Text   string
}

// PlatformClient is the subset of chat-platform capability the store
// needs to seed a thread from history.
type PlatformClient interface {
	ListReplies(channel, ts string, limit int) ([]PlatformMessage, error)
	DescribeUser(userID string) (string, error)
}

// Store is a directory of per-thread JSON transcript files.
type Store struct {
	dir        string
	bridgeName string
	metrics    *metrics.Metrics
	logger     zerolog.Logger

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex
}

// New creates a Store rooted at dir, creating it if necessary.
// bridgeName is the display name recorded for the bridge's own
// assistant-role messages (e.g. during seeding). m may be nil to
// disable metrics recording.
func New(dir, bridgeName string, m *metrics.Metrics, logger zerolog.Logger) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("threadstore: create dir %s: %w", dir, err)
	}
	return &Store{
		dir:        dir,
		bridgeName: bridgeName,
		metrics:    m,
		logger:     logger.With().Str("component", "threadstore").Logger(),
		locks:      make(map[string]*sync.Mutex),
	}, nil
}

func (s *Store) path(threadTS string) string {
	return filepath.Join(s.dir, threadTS+".json")
}

// lockFor returns the per-thread mutex, creating it on first use.
func (s *Store) lockFor(threadTS string) *sync.Mutex {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()
	l, ok := s.locks[threadTS]
	if !ok {
		l = &sync.Mutex{}
		s.locks[threadTS] = l
	}
	return l
}

func (s *Store) dropLock(threadTS string) {
	s.locksMu.Lock()
	delete(s.locks, threadTS)
	s.locksMu.Unlock()
}

// Load returns the parsed ThreadFile, or (nil, false) if absent or
// unreadable — any read/parse error is treated as "absent" per
// contract (best-effort load).
func (s *Store) Load(threadTS string) (*ThreadFile, bool) {
	data, err := os.ReadFile(s.path(threadTS))
	if err != nil {
		return nil, false
	}
	var f ThreadFile
	if err := json.Unmarshal(data, &f); err != nil {
		s.logger.Warn().Err(err).Str("thread_ts", threadTS).Msg("discarding unparseable thread file")
		return nil, false
	}
	return &f, true
}

// Save writes f to disk atomically. message_count is recomputed from
// len(f.Messages) before writing, preserving the invariant.
func (s *Store) Save(f *ThreadFile) error {
	f.MessageCount = len(f.Messages)
	data, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return fmt.Errorf("threadstore: marshal %s: %w", f.ThreadTS, err)
	}
	if err := fsutil.AtomicWriteFile(s.path(f.ThreadTS), data, 0o644); err != nil {
		return fmt.Errorf("threadstore: save %s: %w", f.ThreadTS, err)
	}
	return nil
}

// isDuplicate reports whether ts appears among the trailing dedupWindow
// messages of msgs.
func isDuplicate(msgs []ThreadMessage, ts string) bool {
	start := len(msgs) - dedupWindow
	if start < 0 {
		start = 0
	}
	for _, m := range msgs[start:] {
		if m.Ts == ts {
			return true
		}
	}
	return false
}

// Append adds msg to the transcript for threadTS, creating the file if
// absent. It is a no-op if msg.Ts duplicates one of the last 5 stored
// entries. Writes for a single threadTS are serialized; writes on
// different threads proceed independently.
func (s *Store) Append(threadTS, channel string, msg ThreadMessage) (*ThreadFile, error) {
	lock := s.lockFor(threadTS)
	lock.Lock()
	defer lock.Unlock()

	f, ok := s.Load(threadTS)
	if !ok {
		f = &ThreadFile{ThreadTS: threadTS, Channel: channel}
	}

	if isDuplicate(f.Messages, msg.Ts) {
		s.metrics.IncDedupSkip()
		return f, nil
	}

	f.Messages = append(f.Messages, msg)
	if err := s.Save(f); err != nil {
		return nil, err
	}
	return f, nil
}

// SeedFromPlatform fetches up to seedLimit replies from the platform,
// classifies each by role, and persists a new ThreadFile — overwriting
// any prior state (seeding is idempotent only on identical platform
// state).
func (s *Store) SeedFromPlatform(threadTS, channel, bridgeBotID string, client PlatformClient) (*ThreadFile, error) {
	replies, err := client.ListReplies(channel, threadTS, seedLimit)
	if err != nil {
		return nil, fmt.Errorf("threadstore: seed %s: list replies: %w", threadTS, err)
	}

	userNameCache := make(map[string]string)
	f := &ThreadFile{ThreadTS: threadTS, Channel: channel}

	for _, r := range replies {
		if strings.TrimSpace(r.Text) == "" {
			continue
		}
		switch {
		case r.User == bridgeBotID:
			f.Messages = append(f.Messages, ThreadMessage{
				Role: "assistant",
				Name: s.bridgeName,
				Text: r.Text,
				Ts:   r.Ts,
			})
		case r.BotID != "":
			// a different bot's message; not part of the conversation
			continue
		case r.User == "":
			// no user, no bot_id: classification falls through, drop.
			// See SPEC_FULL.md OPEN QUESTION DECISIONS #3.
			continue
		default:
			name, ok := userNameCache[r.User]
			if !ok {
				name, err = client.DescribeUser(r.User)
				if err != nil || name == "" {
					name = r.User
				}
				userNameCache[r.User] = name
			}
			f.Messages = append(f.Messages, ThreadMessage{
				Role: "user",
				Name: name,
				Text: r.Text,
				Ts:   r.Ts,
			})
		}
	}

	if err := s.Save(f); err != nil {
		return nil, err
	}
	return f, nil
}

// Cleanup deletes transcript files older than maxAgeHours and forgets
// their per-thread locks. Per-file stat/delete errors are swallowed —
// the file may be racing with another writer.
func (s *Store) Cleanup(maxAgeHours int) int {
	cutoff := time.Now().Add(-time.Duration(maxAgeHours) * time.Hour)
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		s.logger.Warn().Err(err).Msg("cleanup: read dir failed")
		return 0
	}

	deleted := 0
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") || strings.Contains(e.Name(), ".tmp") {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		if info.ModTime().After(cutoff) {
			continue
		}
		threadTS := strings.TrimSuffix(e.Name(), ".json")
		if err := os.Remove(filepath.Join(s.dir, e.Name())); err != nil {
			continue
		}
		s.dropLock(threadTS)
		deleted++
	}
	s.metrics.AddThreadCleanup(deleted)
	return deleted
}
