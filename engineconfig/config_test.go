package engineconfig

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	cfg := Defaults()
	require.Equal(t, "engine.wal", cfg.WALPath)
	require.True(t, cfg.FsyncOnCommit)
	require.NotZero(t, cfg.MaxKeyLen)
	require.NotZero(t, cfg.MaxValueLen)
}

func TestLoadWithNoOverridesReturnsDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, Defaults(), cfg)
}

// ENGINE_WAL_PATH must bind to the dashed "wal-path" key: viper's
// AutomaticEnv alone would only match ENGINE_WAL-PATH, which no shell can
// export, so SetEnvKeyReplacer is required for this to work at all.
func TestLoadEnvOverrideUsesUnderscoredKey(t *testing.T) {
	t.Setenv("ENGINE_WAL_PATH", "/tmp/override.wal")
	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, "/tmp/override.wal", cfg.WALPath)
}

func TestLoadEnvOverrideDisablesFsync(t *testing.T) {
	t.Setenv("ENGINE_FSYNC_ON_COMMIT", "false")
	cfg, err := Load("")
	require.NoError(t, err)
	require.False(t, cfg.FsyncOnCommit)
}

func TestLoadUnreadableConfigFileErrors(t *testing.T) {
	_, err := Load("/nonexistent/path/to/config.toml")
	require.Error(t, err)
}
