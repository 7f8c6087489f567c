package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

const validYAML = `
target_wallet: "0x1111111111111111111111111111111111111111"
proxy_wallet: "0x2222222222222222222222222222222222222222"
trading_enabled: true
poll_mode: slow
poll_interval: 10s
position_interval: 45s
staleness_cutoff: 3m
retry_ceiling: 5
database_path: /tmp/mirror-test.db
risk:
  profile: aggressive
  copy_ratio_percent: 25
  stop_loss_percent: 15
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "mirror.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad_FullFile(t *testing.T) {
	l, err := Load(writeConfig(t, validYAML))
	require.NoError(t, err)

	cfg := l.Config()
	require.Equal(t, "0x1111111111111111111111111111111111111111", cfg.TargetWallet)
	require.True(t, cfg.TradingEnabled)
	require.Equal(t, "slow", cfg.PollMode)
	require.Equal(t, 10*time.Second, cfg.PollInterval)
	require.Equal(t, 45*time.Second, cfg.PositionInterval)
	require.Equal(t, 3*time.Minute, cfg.StalenessCutoff)
	require.Equal(t, 5, cfg.RetryCeiling)
}

func TestLoad_DefaultsFillGaps(t *testing.T) {
	l, err := Load(writeConfig(t, `
target_wallet: "0x1111111111111111111111111111111111111111"
proxy_wallet: "0x2222222222222222222222222222222222222222"
`))
	require.NoError(t, err)

	cfg := l.Config()
	require.Equal(t, "fast", cfg.PollMode)
	require.Equal(t, 2*time.Second, cfg.PollInterval)
	require.Equal(t, 3, cfg.RetryCeiling)
	require.Equal(t, int64(137), cfg.ChainID)
	require.Equal(t, "data/mirror.db", cfg.DatabasePath)
	require.False(t, cfg.TradingEnabled, "trading stays off unless asked for")
}

func TestLoad_RejectsMissingWallets(t *testing.T) {
	_, err := Load(writeConfig(t, `proxy_wallet: "0x2222222222222222222222222222222222222222"`))
	require.Error(t, err)
	require.Contains(t, err.Error(), "target_wallet")
}

func TestLoad_RejectsIdenticalWallets(t *testing.T) {
	_, err := Load(writeConfig(t, `
target_wallet: "0x1111111111111111111111111111111111111111"
proxy_wallet: "0x1111111111111111111111111111111111111111"
`))
	require.Error(t, err)
}

func TestLoad_RejectsBadPollMode(t *testing.T) {
	_, err := Load(writeConfig(t, `
target_wallet: "0x1111111111111111111111111111111111111111"
proxy_wallet: "0x2222222222222222222222222222222222222222"
poll_mode: medium
`))
	require.Error(t, err)
}

func TestLoad_RejectsUnknownRiskProfile(t *testing.T) {
	_, err := Load(writeConfig(t, `
target_wallet: "0x1111111111111111111111111111111111111111"
proxy_wallet: "0x2222222222222222222222222222222222222222"
risk:
  profile: yolo
`))
	require.Error(t, err)
}

func TestRiskSettings_ResolveMergesOverrides(t *testing.T) {
	l, err := Load(writeConfig(t, validYAML))
	require.NoError(t, err)

	rc, err := l.Config().Risk.Resolve()
	require.NoError(t, err)

	// Overrides win over the aggressive profile.
	require.InDelta(t, 25, rc.CopyRatioPercent, 1e-9)
	require.InDelta(t, 15, rc.StopLossPercent, 1e-9)
	// Untouched knobs keep the profile values.
	require.InDelta(t, 500, rc.MaxPositionSizeUSDC, 1e-9)
	require.Equal(t, 2*time.Second, rc.MinTradeSpacing)
}

func TestRiskSettings_PatchLeavesUnsetFieldsNil(t *testing.T) {
	l, err := Load(writeConfig(t, validYAML))
	require.NoError(t, err)

	p := l.Config().Risk.Patch()
	require.NotNil(t, p.CopyRatioPercent)
	require.NotNil(t, p.StopLossPercent)
	require.Nil(t, p.MaxTradesPerHour)
	require.Nil(t, p.FreshnessCheck)
}
