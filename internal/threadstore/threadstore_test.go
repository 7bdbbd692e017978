package threadstore

import (
	"fmt"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/p-blackswan/platform-agent/internal/metrics"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	s, err := New(dir, "pai-slack-bridge", nil, zerolog.Nop())
	require.NoError(t, err)
	return s
}

func TestAppendCreatesFileAndMaintainsCount(t *testing.T) {
	s := newTestStore(t)

	f, err := s.Append("T1", "C1", ThreadMessage{Role: "user", Name: "alice", Text: "hi", Ts: "1.0"})
	require.NoError(t, err)
	require.Equal(t, 1, f.MessageCount)
	require.Equal(t, len(f.Messages), f.MessageCount)

	loaded, ok := s.Load("T1")
	require.True(t, ok)
	require.Equal(t, f.Messages, loaded.Messages)
}

// Scenario B — dedup window.
func TestAppendDedupWindow(t *testing.T) {
	s := newTestStore(t)

	for i := 0; i < 6; i++ {
		ts := fmt.Sprintf("1234567890.00000%d", i)
		_, err := s.Append("T1", "C1", ThreadMessage{Role: "user", Name: "alice", Text: "m", Ts: ts})
		require.NoError(t, err)
	}

	f, err := s.Append("T1", "C1", ThreadMessage{Role: "user", Name: "alice", Text: "new text", Ts: "1234567890.000000"})
	require.NoError(t, err)
	require.Len(t, f.Messages, 7, "oldest ts is outside the last-5 dedup window")

	again, err := s.Append("T1", "C1", ThreadMessage{Role: "user", Name: "alice", Text: "repeat", Ts: "1234567890.000000"})
	require.NoError(t, err)
	require.Len(t, again.Messages, 7)
}

func TestAppendIsNoopOnDuplicateWithinWindow(t *testing.T) {
	s := newTestStore(t)
	msg := ThreadMessage{Role: "user", Name: "alice", Text: "hi", Ts: "1.0"}
	f1, err := s.Append("T1", "C1", msg)
	require.NoError(t, err)
	f2, err := s.Append("T1", "C1", msg)
	require.NoError(t, err)
	require.Equal(t, f1.Messages, f2.Messages)
}

func TestAppendDuplicateRecordsDedupSkipMetric(t *testing.T) {
	dir := t.TempDir()
	m := metrics.New()
	s, err := New(dir, "pai-slack-bridge", m, zerolog.Nop())
	require.NoError(t, err)

	msg := ThreadMessage{Role: "user", Name: "alice", Text: "hi", Ts: "1.0"}
	_, err = s.Append("T1", "C1", msg)
	require.NoError(t, err)
	_, err = s.Append("T1", "C1", msg)
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	require.Contains(t, rec.Body.String(), "pai_slack_bridge_dedup_skips_total 1")
}

func TestSaveLoadRoundTrip(t *testing.T) {
	s := newTestStore(t)
	f := &ThreadFile{
		ThreadTS: "T1",
		Channel:  "C1",
		Messages: []ThreadMessage{{Role: "user", Name: "alice", Text: "hi", Ts: "1.0"}},
	}
	require.NoError(t, s.Save(f))

	loaded, ok := s.Load("T1")
	require.True(t, ok)
	require.Equal(t, f.ThreadTS, loaded.ThreadTS)
	require.Equal(t, f.Channel, loaded.Channel)
	require.Equal(t, f.Messages, loaded.Messages)
}

func TestLoadAbsentReturnsFalse(t *testing.T) {
	s := newTestStore(t)
	_, ok := s.Load("does-not-exist")
	require.False(t, ok)
}

// Scenario D — per-thread serialization: op1 sleeps 50 ms before calling
// Append with "1", op2 appends "2" immediately. Both appends land on the
// same thread in arrival order: "2","1", with neither update lost.
func TestAppendSerializesPerThread(t *testing.T) {
	s := newTestStore(t)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		time.Sleep(50 * time.Millisecond)
		_, _ = s.Append("T1", "C1", ThreadMessage{Role: "user", Text: "1", Ts: "1.0"})
	}()
	go func() {
		defer wg.Done()
		_, _ = s.Append("T1", "C1", ThreadMessage{Role: "user", Text: "2", Ts: "2.0"})
	}()
	wg.Wait()

	f, ok := s.Load("T1")
	require.True(t, ok)
	require.Len(t, f.Messages, 2)
	require.Equal(t, "2", f.Messages[0].Text)
	require.Equal(t, "1", f.Messages[1].Text)
}

type fakePlatformClient struct {
	replies []PlatformMessage
	names   map[string]string
}

func (f *fakePlatformClient) ListReplies(channel, ts string, limit int) ([]PlatformMessage, error) {
	return f.replies, nil
}

func (f *fakePlatformClient) DescribeUser(userID string) (string, error) {
	return f.names[userID], nil
}

// Scenario C — seeding classification.
func TestSeedFromPlatformClassification(t *testing.T) {
	s := newTestStore(t)
	client := &fakePlatformClient{
		replies: []PlatformMessage{
			{Ts: "a", User: "U_ALICE", Text: "hi"},
			{Ts: "b", User: "U_BRIDGE", Text: "hello"},
			{Ts: "c", User: "U_OTHER", BotID: "B_OTHER", Text: "spam"},
		},
		names: map[string]string{"U_ALICE": "alice"},
	}

	f, err := s.SeedFromPlatform("T1", "C1", "U_BRIDGE", client)
	require.NoError(t, err)
	require.Len(t, f.Messages, 2)
	require.Equal(t, ThreadMessage{Role: "user", Name: "alice", Text: "hi", Ts: "a"}, f.Messages[0])
	require.Equal(t, "assistant", f.Messages[1].Role)
	require.Equal(t, "pai-slack-bridge", f.Messages[1].Name)
}

func TestSeedFromPlatformDropsEmptyUserNoBot(t *testing.T) {
	s := newTestStore(t)
	client := &fakePlatformClient{
		replies: []PlatformMessage{
			{Ts: "a", User: "", BotID: "", Text: "mystery"},
		},
	}
	f, err := s.SeedFromPlatform("T1", "C1", "U_BRIDGE", client)
	require.NoError(t, err)
	require.Empty(t, f.Messages)
}

func TestCleanupDeletesOldFiles(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Append("OLD", "C1", ThreadMessage{Role: "user", Text: "x", Ts: "1.0"})
	require.NoError(t, err)

	old := time.Now().Add(-73 * time.Hour)
	require.NoError(t, os.Chtimes(s.path("OLD"), old, old))

	_, err = s.Append("NEW", "C1", ThreadMessage{Role: "user", Text: "x", Ts: "1.0"})
	require.NoError(t, err)

	n := s.Cleanup(72)
	require.Equal(t, 1, n)

	_, ok := s.Load("OLD")
	require.False(t, ok)
	_, ok = s.Load("NEW")
	require.True(t, ok)
}

func TestCleanupRecordsThreadCleanupMetric(t *testing.T) {
	dir := t.TempDir()
	m := metrics.New()
	s, err := New(dir, "pai-slack-bridge", m, zerolog.Nop())
	require.NoError(t, err)

	_, err = s.Append("OLD", "C1", ThreadMessage{Role: "user", Text: "x", Ts: "1.0"})
	require.NoError(t, err)
	old := time.Now().Add(-73 * time.Hour)
	require.NoError(t, os.Chtimes(s.path("OLD"), old, old))

	require.Equal(t, 1, s.Cleanup(72))

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	require.Contains(t, rec.Body.String(), "pai_slack_bridge_thread_cleanup_files_deleted_total 1")
}

func TestFormatContextFitsWithinBudgetAndContainsFence(t *testing.T) {
	var msgs []ThreadMessage
	for i := 0; i < 20; i++ {
		msgs = append(msgs, ThreadMessage{
			Role: "user", Name: "alice",
			Text: strings.Repeat("x", 150),
			Ts:   fmt.Sprintf("%d.0", i),
		})
	}
	f := &ThreadFile{ThreadTS: "T1", Channel: "C1", Messages: msgs}

	out := FormatContext(f, 3000)
	require.LessOrEqual(t, len(out), 3000)
	require.Contains(t, out, injectionFence)
	require.Contains(t, out, "</thread-context>")
	for i := 10; i < 20; i++ {
		require.Contains(t, out, msgs[i].Text)
	}
}

func TestFormatContextAlwaysContainsFence(t *testing.T) {
	f := &ThreadFile{ThreadTS: "T1", Channel: "C1"}
	out := FormatContext(f, DefaultContextBudget)
	require.Contains(t, out, injectionFence)
}

func TestTruncateAtNaturalBoundary(t *testing.T) {
	short := "hello"
	require.Equal(t, short, TruncateAtNaturalBoundary(short, 10))

	text := strings.Repeat("a", 5000)
	out := TruncateAtNaturalBoundary(text, 4000)
	require.LessOrEqual(t, len(out), 4000)
}

func TestTruncateAtNaturalBoundaryPrefersSentenceEnd(t *testing.T) {
	text := strings.Repeat("a", 50) + ". " + strings.Repeat("b", 50)
	out := TruncateAtNaturalBoundary(text, len(text)-10)
	require.Equal(t, strings.Repeat("a", 50)+".", out)
}
