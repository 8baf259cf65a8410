package ledgercfg

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

const sampleTOML = `
min_count_for_zscore = 20
burn_uid = 9
burn_rate = 0.1
max_weight_limit = 0.5
max_epoch_bumps_per_day = 3
max_epoch_bumps_per_week = 10
retention_days = 30
store_dir = "/tmp/ledger"
challenge_ttl_seconds = 60
token_ttl_seconds = 3600
max_tokens = 1024
rate_limit_per_hour = 60
min_validator_stake = 1000
test_mode = false
sync_interval_seconds = 30
`

func writeTempConfig(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ledger.toml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	return path
}

func TestLoadParsesAllKnobs(t *testing.T) {
	path := writeTempConfig(t, sampleTOML)
	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 20, cfg.MinCountForZScore)
	require.Equal(t, uint64(9), cfg.BurnUID)
	require.InDelta(t, 0.1, cfg.BurnRate, 1e-9)
	require.Equal(t, 30, cfg.RetentionDays)
	require.Equal(t, "/tmp/ledger", cfg.StoreDir)
	require.False(t, cfg.TestMode)
}

func TestLoadMissingFileReturnsError(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "does-not-exist.toml"))
	require.Error(t, err)
}

func TestWatcherReloadsOnWrite(t *testing.T) {
	path := writeTempConfig(t, sampleTOML)
	w, err := NewWatcher(path)
	require.NoError(t, err)
	defer w.Close()

	require.Equal(t, 20, w.Current().MinCountForZScore)

	updated := strings.Replace(sampleTOML, "min_count_for_zscore = 20", "min_count_for_zscore = 40", 1)
	require.NoError(t, os.WriteFile(path, []byte(updated), 0o644))

	require.Eventually(t, func() bool {
		return w.Current().MinCountForZScore == 40
	}, 2*time.Second, 20*time.Millisecond)
}
