// Package engineconfig loads engine configuration from a file, environment
// variables, and explicit overrides, in that precedence order, using
// viper the same way the retrieval pack's shared-log client configures
// its replication and discovery settings.
package engineconfig

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"

	"github.com/nodevein/ledgerkv/walfmt"
)

// Config holds everything needed to open an engine.Engine.
type Config struct {
	// WALPath is the path to the transactional write-ahead log file.
	WALPath string `mapstructure:"wal-path"`

	// FsyncOnCommit controls whether Commit fsyncs after its COMMIT record.
	// Turning it off is a deliberate, documented durability trade for
	// benchmarking only — a crash can lose committed transactions when
	// this is false.
	FsyncOnCommit bool `mapstructure:"fsync-on-commit"`

	MaxKeyLen   uint32 `mapstructure:"max-key-len"`
	MaxValueLen uint32 `mapstructure:"max-value-len"`
}

// Defaults returns the configuration used when no file, env var, or
// override supplies a value.
func Defaults() Config {
	return Config{
		WALPath:       "engine.wal",
		FsyncOnCommit: true,
		MaxKeyLen:     walfmt.MaxKeyLen,
		MaxValueLen:   walfmt.MaxValueLen,
	}
}

// Load reads configFile (if non-empty) and environment variables prefixed
// ENGINE_ (e.g. ENGINE_WAL_PATH, ENGINE_FSYNC_ON_COMMIT) on top of
// Defaults().
func Load(configFile string) (Config, error) {
	v := viper.New()
	cfg := Defaults()

	v.SetDefault("wal-path", cfg.WALPath)
	v.SetDefault("fsync-on-commit", cfg.FsyncOnCommit)
	v.SetDefault("max-key-len", cfg.MaxKeyLen)
	v.SetDefault("max-value-len", cfg.MaxValueLen)

	v.SetEnvPrefix("ENGINE")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("engineconfig: reading %s: %w", configFile, err)
		}
	}

	cfg.WALPath = v.GetString("wal-path")
	cfg.FsyncOnCommit = v.GetBool("fsync-on-commit")
	cfg.MaxKeyLen = uint32(v.GetInt64("max-key-len"))
	cfg.MaxValueLen = uint32(v.GetInt64("max-value-len"))

	return cfg, nil
}
