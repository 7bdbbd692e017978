package adminapi

import (
	"net/http"
	"path/filepath"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/p-blackswan/platform-agent/internal/health"
	"github.com/p-blackswan/platform-agent/internal/jobhistory"
	"github.com/p-blackswan/platform-agent/internal/metrics"
	"github.com/p-blackswan/platform-agent/internal/queue"
)

func testApp(t *testing.T, apiKey string) (*fiber.App, *queue.Queue, *jobhistory.Store) {
	t.Helper()
	logger := zerolog.Nop()

	base := t.TempDir()
	q, err := queue.New(base, logger)
	require.NoError(t, err)

	history, err := jobhistory.New(filepath.Join(base, "jobhistory.db"), logger)
	require.NoError(t, err)
	t.Cleanup(func() { history.Close() })

	m := metrics.New()
	checker := health.NewChecker(logger)

	srv := NewServer(Config{ListenAddr: ":0", APIKey: apiKey}, q, history, m, checker, logger)
	return srv.App(), q, history
}

func TestHealthzIsAlwaysOpen(t *testing.T) {
	app, _, _ := testApp(t, "secret")

	req, _ := http.NewRequest("GET", "/healthz", nil)
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestStatusRequiresAuthWhenAPIKeySet(t *testing.T) {
	app, _, _ := testApp(t, "secret")

	req, _ := http.NewRequest("GET", "/status", nil)
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	req, _ = http.NewRequest("GET", "/status", nil)
	req.Header.Set("Authorization", "Bearer secret")
	resp, err = app.Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestStatusOpenWhenNoAPIKeyConfigured(t *testing.T) {
	app, _, _ := testApp(t, "")

	req, _ := http.NewRequest("GET", "/status", nil)
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestJobNotFoundReturns404(t *testing.T) {
	app, _, _ := testApp(t, "")

	req, _ := http.NewRequest("GET", "/jobs/does-not-exist", nil)
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestJobFoundReturns200(t *testing.T) {
	app, _, history := testApp(t, "")

	require.NoError(t, history.RecordSubmitted(&queue.Job{ID: "job-1", Channel: "C1", ThreadTS: "T1", User: "U1", Prompt: "x", CreatedAt: 1}))

	req, _ := http.NewRequest("GET", "/jobs/job-1", nil)
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
