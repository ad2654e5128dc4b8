package config

import (
	"fmt"
	"time"
)

// ValidateFileConfig validates the FileConfig values before merging.
func ValidateFileConfig(cfg *FileConfig) error {
	if cfg == nil {
		return nil
	}

	if cfg.ConnectTimeout != nil {
		d, err := time.ParseDuration(*cfg.ConnectTimeout)
		if err != nil {
			return &ValidationError{Field: "connect_timeout", Message: err.Error()}
		}
		if d <= 0 {
			return &ValidationError{Field: "connect_timeout", Message: "must be positive"}
		}
	}

	if cfg.MaxAttempts != nil {
		if *cfg.MaxAttempts < 1 || *cfg.MaxAttempts > 20 {
			return &ValidationError{Field: "max_attempts", Message: fmt.Sprintf("%d (must be 1-20)", *cfg.MaxAttempts)}
		}
	}

	if cfg.CacheSize != nil && *cfg.CacheSize < 1 {
		return &ValidationError{Field: "cache_size", Message: fmt.Sprintf("%d (must be at least 1)", *cfg.CacheSize)}
	}

	if cfg.TestAccountCount != nil {
		if *cfg.TestAccountCount < 0 || *cfg.TestAccountCount > 100 {
			return &ValidationError{Field: "test_account_count", Message: fmt.Sprintf("%d (must be 0-100)", *cfg.TestAccountCount)}
		}
	}

	return nil
}
