// Package paths provides centralized path management for dapp-builder.
package paths

import (
	"os"
	"path/filepath"
)

// Directory constants relative to home directory.
const (
	CacheDir    = "cache"
	PluginsDir  = "plugins"
	KeystoreDir = "keystore"
)

// File name constants.
const (
	ConfigFile        = "config.toml"
	ProjectConfigFile = "dapp-config.yaml"
	ContractsDBFile   = "contracts.db"
)

const DefaultHomeDirName = ".dapp-builder"

// DefaultHomeDir returns $HOME/.dapp-builder or falls back to current directory.
func DefaultHomeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return DefaultHomeDirName
	}
	return filepath.Join(home, DefaultHomeDirName)
}

func CachePath(homeDir string) string {
	return filepath.Join(homeDir, CacheDir)
}

// ContractsDBPath is the persisted contract-type cache.
func ContractsDBPath(homeDir string) string {
	return filepath.Join(CachePath(homeDir), ContractsDBFile)
}

func PluginsPath(homeDir string) string {
	return filepath.Join(homeDir, PluginsDir)
}

func KeystorePath(homeDir string) string {
	return filepath.Join(homeDir, KeystoreDir)
}

func ConfigPath(homeDir string) string {
	return filepath.Join(homeDir, ConfigFile)
}

// PluginSearchPath lists plugin directories in lookup order.
func PluginSearchPath(homeDir string, extra ...string) []string {
	dirs := append([]string{}, extra...)
	return append(dirs, "./plugins", PluginsPath(homeDir), "/usr/local/lib/dapp-builder/plugins")
}

// EnsureDir creates dir (and parents) with owner-only permissions.
func EnsureDir(dir string) error {
	return os.MkdirAll(dir, 0700)
}
