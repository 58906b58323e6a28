package loader

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lpwatch/internal/types"
)

const wallet = "7xKXtg2CW87d97TXJSDpbD5jBkheTqA83TZRuJosgAsU"

func TestParseMonitoringDefaultsAllCadences(t *testing.T) {
	cfg, err := ParseMonitoring([]byte("owner: " + wallet + "\npositions: [' pos-1 ', pos-2]\n"))
	require.NoError(t, err)
	assert.Equal(t, wallet, cfg.Owner)
	assert.Equal(t, types.AllCadences(), cfg.Cadences)
	assert.Equal(t, []string{"pos-1", "pos-2"}, cfg.Positions)
	assert.False(t, cfg.AutoApply)
}

func TestParseMonitoringExplicitCadences(t *testing.T) {
	doc := `
owner: ` + wallet + `
policy: Auto
auto_apply: true
cadences:
  hourly: true
  daily: true
pools: [pool-a]
`
	cfg, err := ParseMonitoring([]byte(doc))
	require.NoError(t, err)
	assert.Equal(t, "auto", cfg.Policy)
	assert.True(t, cfg.AutoApply)
	assert.Equal(t, types.Cadences{Hourly: true, Daily: true}, cfg.Cadences)
	assert.Equal(t, []string{"pool-a"}, cfg.Pools)
}

func TestParseMonitoringRejectsInvalid(t *testing.T) {
	cases := map[string]string{
		"unknown field":   "owner: " + wallet + "\nintervals: [1h]\n",
		"bad cadence key": "cadences:\n  weekly: true\n",
		"bad policy":      "policy: martingale\n",
		"bad owner":       "owner: not-a-wallet\n",
		"wrong type":      "auto_apply: maybe\n",
		"duplicate":       "positions: [a, a]\n",
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ParseMonitoring([]byte(doc))
			assert.Error(t, err)
		})
	}
}

func TestParseMonitoringOwnerFromEnv(t *testing.T) {
	t.Setenv(EnvOwner, wallet)
	cfg, err := ParseMonitoring(nil)
	require.NoError(t, err)
	assert.Equal(t, wallet, cfg.Owner)
	assert.True(t, cfg.Cadences.Any())
}

func TestLoaderReloadNotifiesAndKeepsLastGood(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "monitoring.yaml")
	require.NoError(t, os.WriteFile(path, []byte("owner: "+wallet+"\n"), 0o644))

	l, err := NewMonitoringLoader(path)
	require.NoError(t, err)
	assert.Equal(t, int64(1), l.Snapshot().Version)

	var got []Snapshot
	l.Subscribe(func(s Snapshot) error {
		got = append(got, s)
		return nil
	})
	l.Subscribe(func(Snapshot) error { return errors.New("listener failure is logged only") })

	require.NoError(t, os.WriteFile(path, []byte("owner: "+wallet+"\ncadences:\n  daily: true\n"), 0o644))
	snap, err := l.Reload()
	require.NoError(t, err)
	assert.Equal(t, int64(2), snap.Version)
	require.Len(t, got, 1)
	assert.Equal(t, types.Cadences{Daily: true}, got[0].Config.Cadences)

	require.NoError(t, os.WriteFile(path, []byte("owner: [broken\n"), 0o644))
	_, err = l.Reload()
	require.Error(t, err)
	assert.Equal(t, int64(2), l.Snapshot().Version)
	assert.Len(t, got, 1)
}

func TestNewMonitoringLoaderErrors(t *testing.T) {
	_, err := NewMonitoringLoader("")
	assert.Error(t, err)
	_, err = NewMonitoringLoader(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestParseMonitoringRejectsBadEnvOwner(t *testing.T) {
	t.Setenv(EnvOwner, "1111")
	_, err := ParseMonitoring(nil)
	assert.ErrorContains(t, err, "want 32")

	t.Setenv(EnvOwner, "0xdeadbeef")
	_, err = ParseMonitoring(nil)
	assert.ErrorContains(t, err, "not base58")
}
