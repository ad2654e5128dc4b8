package config

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/altuslabsxyz/dapp-builder/internal/output"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
}

func TestLoadFileConfig_Merge(t *testing.T) {
	home := t.TempDir()
	work := t.TempDir()
	explicit := filepath.Join(t.TempDir(), "custom.toml")

	writeFile(t, filepath.Join(home, "config.toml"), `
verbose = true
max_attempts = 3
cache_size = 64
`)
	writeFile(t, filepath.Join(work, "config.toml"), `
max_attempts = 5
plugin_dirs = ["./my-plugins"]
`)
	writeFile(t, explicit, `
connect_timeout = "2s"
colour = true
`)

	var stderr bytes.Buffer
	loader := NewConfigLoader(home, explicit, output.NewLoggerTo(&bytes.Buffer{}, &stderr))
	loader.workDir = work

	cfg, primary, err := loader.LoadFileConfig()
	require.NoError(t, err)
	assert.Equal(t, explicit, primary)
	assert.True(t, *cfg.Verbose)
	assert.Equal(t, 5, *cfg.MaxAttempts)
	assert.Equal(t, 64, *cfg.CacheSize)
	assert.Equal(t, []string{"./my-plugins"}, cfg.PluginDirs)
	assert.Contains(t, stderr.String(), `Unknown config key "colour"`)

	settings, err := cfg.Resolve(home)
	require.NoError(t, err)
	assert.Equal(t, 2*time.Second, settings.ConnectTimeout)
	assert.Equal(t, home, settings.Home)
	assert.Equal(t, DefaultTestMnemonic, settings.TestMnemonic)
}

func TestLoadFileConfig_None(t *testing.T) {
	loader := NewConfigLoader(t.TempDir(), "", nil)
	loader.workDir = t.TempDir()

	cfg, primary, err := loader.LoadFileConfig()
	require.NoError(t, err)
	assert.Empty(t, primary)
	assert.True(t, cfg.IsEmpty())

	settings, err := cfg.Resolve("/home/x/.dapp-builder")
	require.NoError(t, err)
	assert.Equal(t, DefaultConnectTimeout, settings.ConnectTimeout)
	assert.Equal(t, DefaultMaxAttempts, settings.MaxAttempts)
}

func TestLoadFileConfig_Errors(t *testing.T) {
	home := t.TempDir()

	_, _, err := NewConfigLoader(home, filepath.Join(home, "nope.toml"), nil).LoadFileConfig()
	assert.ErrorContains(t, err, "config file not found")

	writeFile(t, filepath.Join(home, "config.toml"), "max_attempts = 0\n")
	loader := NewConfigLoader(home, "", nil)
	loader.workDir = t.TempDir()
	_, _, err = loader.LoadFileConfig()
	assert.ErrorIs(t, err, ErrConfiguration)

	writeFile(t, filepath.Join(home, "config.toml"), "max_attempts = [\n")
	_, _, err = loader.LoadFileConfig()
	assert.ErrorContains(t, err, "failed to parse")
}
