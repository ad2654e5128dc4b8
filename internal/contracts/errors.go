package contracts

import (
	"errors"
	"fmt"
)

// Sentinel errors for simple checks.
var (
	ErrNotFound        = errors.New("contract type not found")
	ErrCacheCorruption = errors.New("contract type cache entry is corrupt")
)

// CacheCorruptionError describes a malformed persisted entry. The registry
// logs it, deletes the entry and treats the lookup as a miss; callers of
// GetOrBuild never see it.
type CacheCorruptionError struct {
	Key    string
	Reason string
	Err    error
}

func (e *CacheCorruptionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("corrupt cache entry %s: %s: %v", e.Key, e.Reason, e.Err)
	}
	return fmt.Sprintf("corrupt cache entry %s: %s", e.Key, e.Reason)
}

func (e *CacheCorruptionError) Unwrap() error {
	return e.Err
}

func (e *CacheCorruptionError) Is(target error) bool {
	return target == ErrCacheCorruption
}

// BuildError wraps a failed build for one key.
type BuildError struct {
	Key string
	Err error
}

func (e *BuildError) Error() string {
	return fmt.Sprintf("failed to build contract type %s: %v", e.Key, e.Err)
}

func (e *BuildError) Unwrap() error {
	return e.Err
}
