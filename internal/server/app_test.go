package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/causelist-crawler/internal/config"
)

func testConfig(t *testing.T) config.Config {
	t.Helper()
	cfg, err := config.Load("")
	require.NoError(t, err)
	cfg.Notify.Archive.Backend = "local"
	cfg.Notify.Archive.LocalDir = t.TempDir()
	return cfg
}

func TestBuildServesHealthAndQueueStatus(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	app, err := BuildWithLogger(context.Background(), &cfg, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, app.Close(context.Background()))
	})

	srv := httptest.NewServer(app.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/v1/search/queue-status")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestBuildQueuesSearchBeforeStart(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	app, err := BuildWithLogger(context.Background(), &cfg, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, app.Close(context.Background()))
	})

	srv := httptest.NewServer(app.Handler())
	defer srv.Close()

	body := `{"search_terms":["Sharma"],"date":"26/12/2024"}`
	resp, err := http.Post(srv.URL+"/v1/search", "application/json", strings.NewReader(body))
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	require.Equal(t, 1, app.Dispatcher().Status(context.Background()).QueueDepth)
}

func TestBuildRejectsBadCron(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	cfg.Schedule.Enabled = true
	cfg.Schedule.SearchTerms = []string{"Sharma"}
	cfg.Schedule.Cron = "not a cron"
	_, err := BuildWithLogger(context.Background(), &cfg, zap.NewNop())
	require.Error(t, err)
}

func TestAcquireExclusiveLocal(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	app, err := BuildWithLogger(context.Background(), &cfg, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, app.Close(context.Background()))
	})

	release, err := app.AcquireExclusive(context.Background(), "cli", time.Minute)
	require.NoError(t, err)
	require.True(t, app.Dispatcher().Status(context.Background()).LockHeld)

	_, err = app.AcquireExclusive(context.Background(), "cli", time.Minute)
	require.Error(t, err)

	release()
	require.False(t, app.Dispatcher().Status(context.Background()).LockHeld)
}
