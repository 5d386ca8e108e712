// Package config loads the coordinator's configuration from the
// environment variables in spec.md §6, optionally layered with a TOML
// override file in the style of node/sc.SCConfig (teacher's
// gen_config.go, see gen_config.go in this package).
package config

import (
	"os"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
)

// Config is the coordinator's fully resolved startup configuration.
// Building one of these and everything it fails on is the only place
// in the system where an error is fatal (spec.md §7 error taxonomy,
// category 5).
type Config struct {
	LeaderNode string
	L1Node     string
	L1Bridge   common.Address

	// L1PrivHex backs both l1_wallet and l2_wallet by default
	// (spec.md §9 "Key reuse"). L2PrivHex is a supplemented,
	// optional escape hatch: when set it signs L2 transactions
	// instead, satisfying "support for distinct keys is noted as a
	// TODO" without changing default single-key behavior.
	L1PrivHex string
	L2PrivHex string

	MaxPendingProofs int
	TickInterval     time.Duration
	ProverCommand    string
	MetricsAddr      string

	// Optional domain-stack side channels; empty disables each.
	KafkaBrokers string
	RedisAddr    string
	MySQLDSN     string
	InfluxAddr   string
	JournalPath  string
}

// LoadFromEnv reads the four required env vars plus the optional
// ones, applying the same defaults the coordinator's canonical
// configuration uses (STEP=1 adaptive sync starts in l1sync; here we
// only default the knobs the process itself owns).
func LoadFromEnv() (*Config, error) {
	cfg := &Config{
		MaxPendingProofs: 1,
		TickInterval:     2 * time.Second,
		ProverCommand:    "./prover_cmd",
		MetricsAddr:      ":9545",
	}

	var ok bool
	if cfg.LeaderNode, ok = os.LookupEnv("L2_RPC_URL"); !ok || cfg.LeaderNode == "" {
		return nil, errors.New("config: L2_RPC_URL is required")
	}
	if cfg.L1Node, ok = os.LookupEnv("L1_RPC_URL"); !ok || cfg.L1Node == "" {
		return nil, errors.New("config: L1_RPC_URL is required")
	}
	bridgeHex, ok := os.LookupEnv("L1_BRIDGE")
	if !ok || bridgeHex == "" {
		return nil, errors.New("config: L1_BRIDGE is required")
	}
	if !common.IsHexAddress(bridgeHex) {
		return nil, errors.Errorf("config: L1_BRIDGE %q is not a valid 20-byte hex address", bridgeHex)
	}
	cfg.L1Bridge = common.HexToAddress(bridgeHex)

	if cfg.L1PrivHex, ok = os.LookupEnv("L1_PRIV"); !ok || cfg.L1PrivHex == "" {
		return nil, errors.New("config: L1_PRIV is required")
	}
	// Supplemented: an unset L2_PRIV falls back to L1_PRIV, preserving
	// the spec's default key-reuse behavior.
	cfg.L2PrivHex = os.Getenv("L2_PRIV")
	if cfg.L2PrivHex == "" {
		cfg.L2PrivHex = cfg.L1PrivHex
	}

	if v := os.Getenv("MAX_PENDING_PROOFS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, errors.Wrap(err, "config: MAX_PENDING_PROOFS")
		}
		cfg.MaxPendingProofs = n
	}
	if v := os.Getenv("TICK_INTERVAL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return nil, errors.Wrap(err, "config: TICK_INTERVAL")
		}
		cfg.TickInterval = d
	}
	if v := os.Getenv("PROVER_CMD"); v != "" {
		cfg.ProverCommand = v
	}
	if v := os.Getenv("METRICS_ADDR"); v != "" {
		cfg.MetricsAddr = v
	}

	cfg.KafkaBrokers = os.Getenv("KAFKA_BROKERS")
	cfg.RedisAddr = os.Getenv("REDIS_ADDR")
	cfg.MySQLDSN = os.Getenv("MYSQL_DSN")
	cfg.InfluxAddr = os.Getenv("INFLUXDB_ADDR")
	cfg.JournalPath = os.Getenv("JOURNAL_PATH")

	return cfg, nil
}

// ApplyFile merges a FileConfig overlay (see gen_config.go) loaded
// from an optional coordinator.toml onto cfg. Env vars win for the
// four required fields; the file may only adjust the optional knobs,
// mirroring SCConfig's layering of TOML over flag/env defaults.
func (cfg *Config) ApplyFile(fc *FileConfig) {
	if fc == nil {
		return
	}
	if fc.MaxPendingProofs != nil {
		cfg.MaxPendingProofs = *fc.MaxPendingProofs
	}
	if fc.TickInterval != nil {
		cfg.TickInterval = *fc.TickInterval
	}
	if fc.ProverCommand != nil {
		cfg.ProverCommand = *fc.ProverCommand
	}
	if fc.MetricsAddr != nil {
		cfg.MetricsAddr = *fc.MetricsAddr
	}
	if fc.KafkaBrokers != nil {
		cfg.KafkaBrokers = *fc.KafkaBrokers
	}
	if fc.RedisAddr != nil {
		cfg.RedisAddr = *fc.RedisAddr
	}
	if fc.MySQLDSN != nil {
		cfg.MySQLDSN = *fc.MySQLDSN
	}
	if fc.InfluxAddr != nil {
		cfg.InfluxAddr = *fc.InfluxAddr
	}
	if fc.JournalPath != nil {
		cfg.JournalPath = *fc.JournalPath
	}
}
