package queue

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func newTestQueue(t *testing.T) *Queue {
	t.Helper()
	q, err := New(t.TempDir(), zerolog.Nop())
	require.NoError(t, err)
	return q
}

func TestEnsureDirsCreatesAllFour(t *testing.T) {
	q := newTestQueue(t)
	for _, d := range []string{dirPending, dirProcessing, dirCompleted, dirFailed} {
		info, err := os.Stat(filepath.Join(q.base, d))
		require.NoError(t, err)
		require.True(t, info.IsDir())
	}
}

func TestSubmitPlacesJobInPending(t *testing.T) {
	q := newTestQueue(t)
	id, err := q.Submit(&Job{Channel: "C1", ThreadTS: "T1", User: "U1", Prompt: "hi"})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	_, err = os.Stat(filepath.Join(q.base, dirPending, id+".json"))
	require.NoError(t, err)
}

func TestClaimMovesToProcessing(t *testing.T) {
	q := newTestQueue(t)
	id, err := q.Submit(&Job{Channel: "C1", ThreadTS: "T1", User: "U1", Prompt: "hi"})
	require.NoError(t, err)

	ok, err := q.Claim(id + ".json")
	require.NoError(t, err)
	require.True(t, ok)

	_, err = os.Stat(filepath.Join(q.base, dirProcessing, id+".json"))
	require.NoError(t, err)
	_, err = os.Stat(filepath.Join(q.base, dirPending, id+".json"))
	require.True(t, os.IsNotExist(err))
}

func TestClaimLostRaceIsNotFatal(t *testing.T) {
	q := newTestQueue(t)
	ok, err := q.Claim("does-not-exist.json")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestCompleteMovesToCompleted(t *testing.T) {
	q := newTestQueue(t)
	id, err := q.Submit(&Job{Channel: "C1", ThreadTS: "T1", User: "U1", Prompt: "hi"})
	require.NoError(t, err)
	ok, err := q.Claim(id + ".json")
	require.NoError(t, err)
	require.True(t, ok)

	j, err := q.ReadProcessing(id + ".json")
	require.NoError(t, err)

	require.NoError(t, q.Complete(id+".json", j))

	_, err = os.Stat(filepath.Join(q.base, dirCompleted, id+".json"))
	require.NoError(t, err)
	_, err = os.Stat(filepath.Join(q.base, dirProcessing, id+".json"))
	require.True(t, os.IsNotExist(err))
}

func TestFailMovesToFailedWithError(t *testing.T) {
	q := newTestQueue(t)
	id, err := q.Submit(&Job{Channel: "C1", ThreadTS: "T1", User: "U1", Prompt: "hi"})
	require.NoError(t, err)
	ok, err := q.Claim(id + ".json")
	require.NoError(t, err)
	require.True(t, ok)

	j, err := q.ReadProcessing(id + ".json")
	require.NoError(t, err)

	require.NoError(t, q.Fail(id+".json", j, "boom"))

	failed, err := q.ReadFailed(id + ".json")
	require.NoError(t, err)
	require.Equal(t, "boom", failed.Error)
	require.NotNil(t, failed.FailedAt)

	_, err = os.Stat(filepath.Join(q.base, dirProcessing, id+".json"))
	require.True(t, os.IsNotExist(err))
}

// Scenario F — crash recovery.
func TestRecoverCrashedMovesBackToPending(t *testing.T) {
	q := newTestQueue(t)
	id, err := q.Submit(&Job{Channel: "C1", ThreadTS: "T1", User: "U1", Prompt: "hi"})
	require.NoError(t, err)
	ok, err := q.Claim(id + ".json")
	require.NoError(t, err)
	require.True(t, ok)

	n, err := q.RecoverCrashed()
	require.NoError(t, err)
	require.Equal(t, 1, n)

	_, err = os.Stat(filepath.Join(q.base, dirPending, id+".json"))
	require.NoError(t, err)
	_, err = os.Stat(filepath.Join(q.base, dirProcessing, id+".json"))
	require.True(t, os.IsNotExist(err))
}

func TestRecoverCrashedIsIdempotentWhenEmpty(t *testing.T) {
	q := newTestQueue(t)
	n, err := q.RecoverCrashed()
	require.NoError(t, err)
	require.Equal(t, 0, n)

	n, err = q.RecoverCrashed()
	require.NoError(t, err)
	require.Equal(t, 0, n)
}

func TestGetStatusCountsByDirectory(t *testing.T) {
	q := newTestQueue(t)
	_, err := q.Submit(&Job{Channel: "C1", ThreadTS: "T1", User: "U1", Prompt: "hi"})
	require.NoError(t, err)
	_, err = q.Submit(&Job{Channel: "C1", ThreadTS: "T2", User: "U1", Prompt: "hi2"})
	require.NoError(t, err)

	status, err := q.GetStatus()
	require.NoError(t, err)
	require.Equal(t, 2, status.Pending)
	require.Equal(t, 0, status.Processing)
}

func TestIsSimpleNotification(t *testing.T) {
	require.True(t, (&Job{Text: "hello"}).IsSimpleNotification())
	require.False(t, (&Job{Prompt: "hello"}).IsSimpleNotification())
	require.False(t, (&Job{}).IsSimpleNotification())
}
