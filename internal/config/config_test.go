package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	chdir(t, t.TempDir())

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.HTTPAddr)
	assert.Equal(t, "memory", cfg.StoreBackend)
	assert.Equal(t, 5, cfg.PromptQuota)
	assert.Equal(t, 12*time.Hour, cfg.QuotaWindow)
	assert.Equal(t, 5*time.Minute, cfg.JobTimeout)
	assert.Equal(t, 2*time.Second, cfg.DisplayGrace)
	assert.Equal(t, "dev", cfg.AuthProvider)
	assert.Empty(t, cfg.RabbitURL)
}

func TestLoadNormalizesAndClamps(t *testing.T) {
	chdir(t, t.TempDir())
	t.Setenv("STORE_BACKEND", " Redis ")
	t.Setenv("AUTH_PROVIDER", "FIREBASE")
	t.Setenv("WORKER_CONCURRENCY", "500")
	t.Setenv("JOB_TIMEOUT", "90s")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "redis", cfg.StoreBackend)
	assert.Equal(t, "firebase", cfg.AuthProvider)
	assert.Equal(t, 50, cfg.WorkerConcurrency)
	assert.Equal(t, 90*time.Second, cfg.JobTimeout)

	t.Setenv("WORKER_CONCURRENCY", "0")
	cfg, err = Load()
	require.NoError(t, err)
	assert.Equal(t, 2, cfg.WorkerConcurrency)
}

func TestLoadRejectsBadValues(t *testing.T) {
	chdir(t, t.TempDir())

	t.Setenv("PROMPT_QUOTA", "-1")
	_, err := Load()
	assert.ErrorContains(t, err, "PROMPT_QUOTA")

	t.Setenv("PROMPT_QUOTA", "5")
	t.Setenv("QUOTA_WINDOW", "soon")
	_, err = Load()
	assert.Error(t, err)
}

// chdir changes the working directory for the duration of the test
// (equivalent of testing.T.Chdir, which needs Go 1.24).
func chdir(t *testing.T, dir string) {
	t.Helper()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(wd) })
}
