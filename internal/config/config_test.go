package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lpwatch/internal/scheduler"
)

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "config.yaml", "app:\n  env: test\n")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "test", cfg.App.Env)
	assert.Equal(t, "info", cfg.App.LogLevel)
	assert.Equal(t, BackendSQLite, cfg.Storage.Backend)
	assert.Equal(t, cfg.Storage.SQLitePath, cfg.Storage.DecisionLogPath)
	assert.Equal(t, 7*24*time.Hour, cfg.Storage.IntradayRetention())
	assert.Equal(t, 90*24*time.Hour, cfg.Storage.PortfolioRetention())
	assert.Equal(t, 5*time.Minute, cfg.DLMM.VolumeCacheTTL())
	assert.True(t, cfg.Price.Enabled)
	assert.Equal(t, "SOLUSDT", cfg.Price.Symbol)
	assert.Equal(t, "analyzer", cfg.Decision.Policy)
	assert.Equal(t, 0.40, cfg.Decision.Thresholds.HighShare)
	assert.Equal(t, 3, cfg.Monitor.UrgentEdgeBins)
	assert.Equal(t, 12*time.Hour, cfg.Monitor.SessionStaleAfter())
	assert.Equal(t, "spot", cfg.Monitor.Rebalance.Strategy)
	assert.True(t, cfg.Monitor.Watch)
}

func TestLoadExplicitFalseIsKept(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "config.yaml", "price:\n  enabled: false\nmonitor:\n  watch: false\n")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.False(t, cfg.Price.Enabled)
	assert.False(t, cfg.Monitor.Watch)
}

func TestLoadIncludesMergeInOrder(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "base.yaml", "storage:\n  backend: jsonfile\n  dir: /tmp/snaps\ndecision:\n  thresholds:\n    high_edge: 7\n")
	path := writeFile(t, dir, "config.yaml", "include:\n  - base.yaml\nstorage:\n  backend: memory\n")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, BackendMemory, cfg.Storage.Backend)
	assert.Equal(t, "/tmp/snaps", cfg.Storage.Dir)
	assert.Equal(t, 7, cfg.Decision.Thresholds.HighEdge)
	assert.Equal(t, 10, cfg.Decision.Thresholds.MediumEdge)
}

func TestLoadIncludeCycle(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.yaml", "include:\n  - b.yaml\n")
	writeFile(t, dir, "b.yaml", "include:\n  - a.yaml\n")

	_, err := Load(filepath.Join(dir, "a.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "include cycle")
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("LPWATCH_TELEGRAM_BOT_TOKEN", "tok")
	t.Setenv("LPWATCH_TELEGRAM_CHAT_ID", "42")
	t.Setenv("LPWATCH_REDIS_ENABLED", "true")
	t.Setenv("LPWATCH_REDIS_DB", "3")
	dir := t.TempDir()
	path := writeFile(t, dir, "config.yaml", "notify:\n  telegram:\n    enabled: true\n")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "tok", cfg.Notify.Telegram.BotToken)
	assert.Equal(t, "42", cfg.Notify.Telegram.ChatID)
	assert.True(t, cfg.Redis.Enabled)
	assert.Equal(t, 3, cfg.Redis.DB)
}

func TestPathFromEnv(t *testing.T) {
	t.Setenv(EnvConfigPath, "")
	assert.Equal(t, "configs/config.yaml", PathFromEnv())
	t.Setenv(EnvConfigPath, "/etc/lpwatch.yaml")
	assert.Equal(t, "/etc/lpwatch.yaml", PathFromEnv())
}

func TestValidationErrors(t *testing.T) {
	cases := map[string]string{
		"backend":       "storage:\n  backend: postgres\n",
		"retention":     "storage:\n  intraday_retention_days: 100\n",
		"telegram":      "notify:\n  telegram:\n    enabled: true\n",
		"severity":      "notify:\n  min_severity: loud\n",
		"executor url":  "executor:\n  enabled: true\n",
		"policy":        "decision:\n  policy: yolo\n",
		"edge order":    "monitor:\n  urgent_edge_bins: 12\n",
		"cadence both":  "monitor:\n  cadences:\n    hourly:\n      interval: 2h\n      times: ['01:00']\n",
		"cadence times": "monitor:\n  cadences:\n    daily:\n      times: ['24:00']\n",
		"log format":    "app:\n  log_format: xml\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			path := writeFile(t, t.TempDir(), "config.yaml", body)
			_, err := Load(path)
			assert.Error(t, err)
		})
	}
}

func TestCadenceOverridesBuild(t *testing.T) {
	c, err := CadenceOverrides{
		TwelveHour: CadenceOverride{Times: []string{"06:00", "18:30"}},
		ThirtyMin:  CadenceOverride{Interval: "15m"},
	}.Build()
	require.NoError(t, err)
	assert.Equal(t, scheduler.Hourly, c.Hourly)
	assert.Equal(t, scheduler.Daily, c.Daily)
	assert.Equal(t, 15*time.Minute, c.ThirtyMin.Interval)
	assert.Equal(t, []scheduler.TimeOfDay{{Hour: 6}, {Hour: 18, Minute: 30}}, c.TwelveHour.Times)
}
