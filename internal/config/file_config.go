package config

import "time"

// FileConfig represents the raw config.toml file contents.
// All fields are pointers to distinguish "not set" from "set to zero/false".
type FileConfig struct {
	// Global settings
	Home    *string `toml:"home"`
	NoColor *bool   `toml:"no_color"`
	Verbose *bool   `toml:"verbose"`
	JSON    *bool   `toml:"json"`

	// Project network configuration file
	Project *string `toml:"project"`

	// Extra plugin directories, searched before the defaults
	PluginDirs []string `toml:"plugin_dirs"`

	// Provider connection defaults
	ConnectTimeout *string `toml:"connect_timeout"` // e.g. "10s"
	MaxAttempts    *int    `toml:"max_attempts"`

	// Contract type cache
	CacheSize *int `toml:"cache_size"`

	// Built-in test accounts
	TestMnemonic     *string `toml:"test_mnemonic"`
	TestAccountCount *int    `toml:"test_account_count"`
}

// IsEmpty returns true if no configuration values are set.
func (f *FileConfig) IsEmpty() bool {
	return f.Home == nil &&
		f.NoColor == nil &&
		f.Verbose == nil &&
		f.JSON == nil &&
		f.Project == nil &&
		len(f.PluginDirs) == 0 &&
		f.ConnectTimeout == nil &&
		f.MaxAttempts == nil &&
		f.CacheSize == nil &&
		f.TestMnemonic == nil &&
		f.TestAccountCount == nil
}

// Default values applied when neither flags nor files set a value.
const (
	DefaultConnectTimeout   = 10 * time.Second
	DefaultMaxAttempts      = 4
	DefaultCacheSize        = 256
	DefaultTestAccountCount = 10
	DefaultTestMnemonic     = "test test test test test test test test test test test junk"
)

// Settings is the effective global configuration after defaults are applied.
type Settings struct {
	Home             string
	NoColor          bool
	Verbose          bool
	JSON             bool
	Project          string
	PluginDirs       []string
	ConnectTimeout   time.Duration
	MaxAttempts      int
	CacheSize        int
	TestMnemonic     string
	TestAccountCount int
}

// Resolve applies defaults to f. homeDir is used when f does not set one.
func (f *FileConfig) Resolve(homeDir string) (Settings, error) {
	s := Settings{
		Home:             homeDir,
		PluginDirs:       f.PluginDirs,
		ConnectTimeout:   DefaultConnectTimeout,
		MaxAttempts:      DefaultMaxAttempts,
		CacheSize:        DefaultCacheSize,
		TestMnemonic:     DefaultTestMnemonic,
		TestAccountCount: DefaultTestAccountCount,
	}
	if f.Home != nil {
		s.Home = *f.Home
	}
	if f.NoColor != nil {
		s.NoColor = *f.NoColor
	}
	if f.Verbose != nil {
		s.Verbose = *f.Verbose
	}
	if f.JSON != nil {
		s.JSON = *f.JSON
	}
	if f.Project != nil {
		s.Project = *f.Project
	}
	if f.ConnectTimeout != nil {
		d, err := time.ParseDuration(*f.ConnectTimeout)
		if err != nil {
			return s, &ValidationError{Field: "connect_timeout", Message: err.Error()}
		}
		s.ConnectTimeout = d
	}
	if f.MaxAttempts != nil {
		s.MaxAttempts = *f.MaxAttempts
	}
	if f.CacheSize != nil {
		s.CacheSize = *f.CacheSize
	}
	if f.TestMnemonic != nil {
		s.TestMnemonic = *f.TestMnemonic
	}
	if f.TestAccountCount != nil {
		s.TestAccountCount = *f.TestAccountCount
	}
	return s, nil
}
