// This file follows the hand-maintained shape of node/sc/gen_config.go
// in the teacher (a gencodec-generated TOML marshal/unmarshal pair for
// SCConfig). The coordinator's overlay file is small enough to write
// by hand rather than run gencodec, but keeps the same
// pointer-field-means-"unset" overlay idiom.
package config

import (
	"os"
	"time"

	"github.com/naoina/toml"
	"github.com/pkg/errors"
)

// FileConfig is the optional coordinator.toml overlay. Every field is
// a pointer so that an absent key leaves the corresponding Config
// field untouched by ApplyFile.
type FileConfig struct {
	MaxPendingProofs *int           `toml:",omitempty"`
	TickInterval     *time.Duration `toml:",omitempty"`
	ProverCommand    *string        `toml:",omitempty"`
	MetricsAddr      *string        `toml:",omitempty"`
	KafkaBrokers     *string        `toml:",omitempty"`
	RedisAddr        *string        `toml:",omitempty"`
	MySQLDSN         *string        `toml:",omitempty"`
	InfluxAddr       *string        `toml:",omitempty"`
	JournalPath      *string        `toml:",omitempty"`
}

// LoadFile reads and parses a coordinator.toml overlay. A missing
// file is not an error: it simply yields a nil FileConfig, so callers
// can unconditionally ApplyFile(nil).
func LoadFile(path string) (*FileConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.Wrapf(err, "config: read %s", path)
	}

	var fc FileConfig
	if err := toml.Unmarshal(data, &fc); err != nil {
		return nil, errors.Wrapf(err, "config: parse %s", path)
	}
	return &fc, nil
}
