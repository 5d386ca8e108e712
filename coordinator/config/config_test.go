package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"L2_RPC_URL", "L1_RPC_URL", "L1_BRIDGE", "L1_PRIV", "L2_PRIV",
		"MAX_PENDING_PROOFS", "TICK_INTERVAL", "PROVER_CMD", "METRICS_ADDR",
		"KAFKA_BROKERS", "REDIS_ADDR", "MYSQL_DSN", "INFLUXDB_ADDR", "JOURNAL_PATH",
	} {
		require.NoError(t, os.Unsetenv(k))
	}
}

func setRequiredEnv(t *testing.T) {
	t.Helper()
	require.NoError(t, os.Setenv("L2_RPC_URL", "http://leader:8545"))
	require.NoError(t, os.Setenv("L1_RPC_URL", "http://l1:8545"))
	require.NoError(t, os.Setenv("L1_BRIDGE", "0x00000000000000000000000000000000000000ab"))
	require.NoError(t, os.Setenv("L1_PRIV", "deadbeef"))
}

func TestLoadFromEnvMissingRequiredVarFails(t *testing.T) {
	clearEnv(t)
	defer clearEnv(t)

	_, err := LoadFromEnv()
	require.Error(t, err)
}

func TestLoadFromEnvDefaultsAndKeyReuse(t *testing.T) {
	clearEnv(t)
	defer clearEnv(t)
	setRequiredEnv(t)

	cfg, err := LoadFromEnv()
	require.NoError(t, err)
	assert.Equal(t, 1, cfg.MaxPendingProofs)
	assert.Equal(t, 2*time.Second, cfg.TickInterval)
	assert.Equal(t, cfg.L1PrivHex, cfg.L2PrivHex, "L2_PRIV unset must fall back to L1_PRIV")
}

func TestLoadFromEnvDistinctL2Priv(t *testing.T) {
	clearEnv(t)
	defer clearEnv(t)
	setRequiredEnv(t)
	require.NoError(t, os.Setenv("L2_PRIV", "cafebabe"))

	cfg, err := LoadFromEnv()
	require.NoError(t, err)
	assert.NotEqual(t, cfg.L1PrivHex, cfg.L2PrivHex)
}

func TestLoadFromEnvRejectsBadBridgeAddress(t *testing.T) {
	clearEnv(t)
	defer clearEnv(t)
	setRequiredEnv(t)
	require.NoError(t, os.Setenv("L1_BRIDGE", "not-an-address"))

	_, err := LoadFromEnv()
	require.Error(t, err)
}

func TestLoadFileMissingIsNotAnError(t *testing.T) {
	fc, err := LoadFile("/nonexistent/coordinator.toml")
	require.NoError(t, err)
	assert.Nil(t, fc)
}

func TestApplyFileOverlay(t *testing.T) {
	cfg := &Config{MaxPendingProofs: 1, MetricsAddr: ":9545"}
	n := 4
	addr := ":9999"
	cfg.ApplyFile(&FileConfig{MaxPendingProofs: &n, MetricsAddr: &addr})
	assert.Equal(t, 4, cfg.MaxPendingProofs)
	assert.Equal(t, ":9999", cfg.MetricsAddr)
}

func TestLoadFromEnvJournalPathOptional(t *testing.T) {
	clearEnv(t)
	defer clearEnv(t)
	setRequiredEnv(t)

	cfg, err := LoadFromEnv()
	require.NoError(t, err)
	assert.Empty(t, cfg.JournalPath)

	require.NoError(t, os.Setenv("JOURNAL_PATH", "/var/lib/coordinator/beacons.rlp"))
	cfg, err = LoadFromEnv()
	require.NoError(t, err)
	assert.Equal(t, "/var/lib/coordinator/beacons.rlp", cfg.JournalPath)
}
