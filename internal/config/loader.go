package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/pelletier/go-toml/v2"

	"github.com/altuslabsxyz/dapp-builder/internal/output"
	"github.com/altuslabsxyz/dapp-builder/internal/paths"
)

// ConfigLoader is responsible for loading and merging config.toml files.
type ConfigLoader struct {
	homeDir    string
	workDir    string
	configPath string // Explicit --config path
	logger     *output.Logger
}

// NewConfigLoader creates a new ConfigLoader. The working directory is the
// process's current directory.
func NewConfigLoader(homeDir, configPath string, logger *output.Logger) *ConfigLoader {
	return &ConfigLoader{
		homeDir:    homeDir,
		workDir:    ".",
		configPath: configPath,
		logger:     logger,
	}
}

// LoadFileConfig loads and merges config files.
// Priority: explicit path > ./config.toml > <home>/config.toml.
// Returns the merged FileConfig and the highest-priority file path.
func (l *ConfigLoader) LoadFileConfig() (*FileConfig, string, error) {
	var configFiles []string

	homePath := paths.ConfigPath(l.homeDir)
	if _, err := os.Stat(homePath); err == nil {
		configFiles = append(configFiles, homePath)
	}

	localPath := filepath.Join(l.workDir, paths.ConfigFile)
	if _, err := os.Stat(localPath); err == nil && !sameFile(localPath, homePath) {
		configFiles = append(configFiles, localPath)
	}

	if l.configPath != "" {
		if _, err := os.Stat(l.configPath); err != nil {
			return nil, "", fmt.Errorf("config file not found: %s", l.configPath)
		}
		duplicate := false
		for _, cf := range configFiles {
			if sameFile(cf, l.configPath) {
				duplicate = true
				break
			}
		}
		if !duplicate {
			configFiles = append(configFiles, l.configPath)
		}
	}

	if len(configFiles) == 0 {
		return &FileConfig{}, "", nil
	}

	var merged FileConfig
	var primaryFile string
	for _, configFile := range configFiles {
		data, err := os.ReadFile(configFile)
		if err != nil {
			return nil, "", fmt.Errorf("failed to read config file %s: %w", configFile, err)
		}

		var cfg FileConfig
		if err := toml.Unmarshal(data, &cfg); err != nil {
			return nil, "", fmt.Errorf("failed to parse config file %s: %w", configFile, err)
		}

		mergeFileConfig(&merged, &cfg)
		primaryFile = configFile
		l.warnUnknownKeys(configFile, data)

		if l.logger != nil {
			l.logger.Debug("Loaded config file: %s", configFile)
		}
	}

	if err := ValidateFileConfig(&merged); err != nil {
		return nil, "", fmt.Errorf("config validation failed: %w", err)
	}

	return &merged, primaryFile, nil
}

func sameFile(a, b string) bool {
	absA, errA := filepath.Abs(a)
	absB, errB := filepath.Abs(b)
	return errA == nil && errB == nil && absA == absB
}

// mergeFileConfig merges src into dst. Non-nil values in src overwrite dst.
func mergeFileConfig(dst, src *FileConfig) {
	if src.Home != nil {
		dst.Home = src.Home
	}
	if src.NoColor != nil {
		dst.NoColor = src.NoColor
	}
	if src.Verbose != nil {
		dst.Verbose = src.Verbose
	}
	if src.JSON != nil {
		dst.JSON = src.JSON
	}
	if src.Project != nil {
		dst.Project = src.Project
	}
	if len(src.PluginDirs) > 0 {
		dst.PluginDirs = src.PluginDirs
	}
	if src.ConnectTimeout != nil {
		dst.ConnectTimeout = src.ConnectTimeout
	}
	if src.MaxAttempts != nil {
		dst.MaxAttempts = src.MaxAttempts
	}
	if src.CacheSize != nil {
		dst.CacheSize = src.CacheSize
	}
	if src.TestMnemonic != nil {
		dst.TestMnemonic = src.TestMnemonic
	}
	if src.TestAccountCount != nil {
		dst.TestAccountCount = src.TestAccountCount
	}
}

var knownKeys = map[string]bool{
	"home":               true,
	"no_color":           true,
	"verbose":            true,
	"json":               true,
	"project":            true,
	"plugin_dirs":        true,
	"connect_timeout":    true,
	"max_attempts":       true,
	"cache_size":         true,
	"test_mnemonic":      true,
	"test_account_count": true,
}

// warnUnknownKeys checks for unknown keys in the config file and logs warnings.
func (l *ConfigLoader) warnUnknownKeys(file string, data []byte) {
	if l.logger == nil {
		return
	}

	var raw map[string]interface{}
	if err := toml.Unmarshal(data, &raw); err != nil {
		return
	}
	for key := range raw {
		if !knownKeys[key] {
			l.logger.Warn("Unknown config key %q in %s", key, file)
		}
	}
}
