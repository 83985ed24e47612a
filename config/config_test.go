package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "steward.yml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "steward.db", cfg.DBPath)
	assert.Equal(t, 4, cfg.Workers)
	assert.Equal(t, 30*time.Second, cfg.Supervise.PollInterval.Std())
	assert.Equal(t, 3, cfg.Supervise.MaxReviewAttempts)
	assert.Equal(t, 14, cfg.Reports.IdleDays)
}

func TestLoadFileOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
db_path: /var/lib/steward/state.db
workers: 8
log_level: debug
job_service:
  base_url: https://jobs.internal
  token: t-1
supervise:
  poll_interval: 5s
  max_review_attempts: 1
  count_signal_failures: true
  notify_channel: slack
  notify_recipient: "#ops"
reports:
  repos: [core, docs]
  daily_cron: "0 9 * * *"
  idle_days: 7
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/var/lib/steward/state.db", cfg.DBPath)
	assert.Equal(t, 8, cfg.Workers)
	assert.Equal(t, "https://jobs.internal", cfg.JobService.BaseURL)
	assert.Equal(t, 5*time.Second, cfg.Supervise.PollInterval.Std())
	assert.Equal(t, 1, cfg.Supervise.MaxReviewAttempts)
	assert.True(t, cfg.Supervise.CountSignalFailures)
	assert.Equal(t, []string{"core", "docs"}, cfg.Reports.Repos)
	assert.Equal(t, "0 9 * * *", cfg.Reports.DailyCron)
	assert.Equal(t, 7, cfg.Reports.IdleDays)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	path := writeConfig(t, `
job_service:
  base_url: https://jobs.internal
supervise:
  poll_interval: 1m
`)
	t.Setenv("STEWARD_JOB_SERVICE_URL", "https://jobs.staging")
	t.Setenv("STEWARD_POLL_INTERVAL", "45s")
	t.Setenv("STEWARD_WORKERS", "2")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "https://jobs.staging", cfg.JobService.BaseURL)
	assert.Equal(t, 45*time.Second, cfg.Supervise.PollInterval.Std())
	assert.Equal(t, 2, cfg.Workers)
}

func TestLoadRejectsInvalidDuration(t *testing.T) {
	path := writeConfig(t, `
supervise:
  poll_interval: soon
`)
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid duration")
}

func TestValidateRejectsBadValues(t *testing.T) {
	cfg := Default()
	cfg.Workers = 0
	require.Error(t, cfg.Validate())

	cfg = Default()
	cfg.DBPath = " "
	require.Error(t, cfg.Validate())

	cfg = Default()
	cfg.Supervise.MaxReviewAttempts = -1
	require.Error(t, cfg.Validate())
}

func TestLoadMissingFileFails(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yml"))
	require.Error(t, err)
}
