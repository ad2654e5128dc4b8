// Package contracts caches contract types by source identity hash.
//
// Lookups go through an in-memory LRU, then the persistent Store, and only
// then invoke a builder. Builds for the same key are single-flight: however
// many goroutines ask concurrently, the builder runs once and every waiter
// gets its result. Failed builds are not cached.
package contracts

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/hashicorp/go-hclog"
	"golang.org/x/sync/singleflight"

	"github.com/altuslabsxyz/dapp-builder/internal/config"
	"github.com/altuslabsxyz/dapp-builder/internal/metrics"
	"github.com/altuslabsxyz/dapp-builder/pkg/chain"
	"github.com/altuslabsxyz/dapp-builder/pkg/plugin"
)

// Builder produces the contract type for one key.
type Builder func(ctx context.Context) (*chain.ContractType, error)

// CompilerSource resolves compiler plugins.
type CompilerSource interface {
	Compiler(name string) (plugin.Compiler, error)
	CompilerFor(ext string) (plugin.Compiler, error)
}

// Lookup layers reported to metrics.
const (
	layerMemory = "memory"
	layerStore  = "store"
	layerBuild  = "build"
)

// Registry is the contract type registry.
type Registry struct {
	store     Store
	cache     *lru.Cache[string, *chain.ContractType]
	group     singleflight.Group
	compilers CompilerSource
	logger    hclog.Logger
	metrics   *metrics.Metrics
	cacheSize int

	mu    sync.RWMutex
	known map[[4]byte]*chain.ContractType // custom error selector -> declaring type
}

// Option configures a Registry.
type Option func(*Registry)

// WithLogger sets the logger.
func WithLogger(logger hclog.Logger) Option {
	return func(r *Registry) {
		r.logger = logger
	}
}

// WithMetrics records lookups and builds.
func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Registry) {
		r.metrics = m
	}
}

// WithCacheSize bounds the in-memory layer.
func WithCacheSize(n int) Option {
	return func(r *Registry) {
		r.cacheSize = n
	}
}

// WithCompilers enables Compile.
func WithCompilers(c CompilerSource) Option {
	return func(r *Registry) {
		r.compilers = c
	}
}

// New creates a registry over store. A nil store keeps everything in memory.
func New(store Store, opts ...Option) (*Registry, error) {
	if store == nil {
		store = NewMemoryStore()
	}
	r := &Registry{
		store:     store,
		logger:    hclog.NewNullLogger(),
		cacheSize: config.DefaultCacheSize,
		known:     make(map[[4]byte]*chain.ContractType),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.Named("contracts")

	cache, err := lru.New[string, *chain.ContractType](r.cacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create contract cache: %w", err)
	}
	r.cache = cache
	return r, nil
}

// Close closes the underlying store.
func (r *Registry) Close() error {
	return r.store.Close()
}

// GetOrBuild returns the contract type cached under key, invoking build on a
// miss. Concurrent callers with the same key share one build. A caller whose
// ctx ends stops waiting without cancelling the build for the others.
func (r *Registry) GetOrBuild(ctx context.Context, key string, build Builder) (*chain.ContractType, error) {
	if ct, ok := r.cache.Get(key); ok {
		r.metrics.Lookup(layerMemory)
		return ct, nil
	}

	ch := r.group.DoChan(key, func() (interface{}, error) {
		return r.load(context.WithoutCancel(ctx), key, build)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*chain.ContractType), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// load runs inside the single-flight section.
func (r *Registry) load(ctx context.Context, key string, build Builder) (*chain.ContractType, error) {
	if ct, ok := r.cache.Get(key); ok {
		r.metrics.Lookup(layerMemory)
		return ct, nil
	}
	if ct, ok := r.fromStore(ctx, key); ok {
		r.metrics.Lookup(layerStore)
		return ct, nil
	}

	r.metrics.Lookup(layerBuild)
	ct, err := build(ctx)
	if err == nil && ct == nil {
		err = errors.New("builder returned no contract type")
	}
	if err != nil {
		r.metrics.Build(metrics.OutcomeError)
		return nil, &BuildError{Key: key, Err: err}
	}
	r.metrics.Build(metrics.OutcomeOK)

	if err := r.store.Put(ctx, key, ct); err != nil {
		r.logger.Warn("failed to persist contract type", "key", key, "error", err)
	}
	r.remember(key, ct)
	return ct, nil
}

// fromStore reads key from the store. Corrupt entries are logged, deleted
// and reported as a miss.
func (r *Registry) fromStore(ctx context.Context, key string) (*chain.ContractType, bool) {
	ct, err := r.store.Get(ctx, key)
	switch {
	case err == nil:
		r.remember(key, ct)
		return ct, true
	case errors.Is(err, ErrNotFound):
		return nil, false
	case errors.Is(err, ErrCacheCorruption):
		r.logger.Warn("discarding corrupt cache entry", "key", key, "error", err)
		if derr := r.store.Delete(ctx, key); derr != nil {
			r.logger.Warn("failed to delete corrupt cache entry", "key", key, "error", derr)
		}
		return nil, false
	default:
		r.logger.Warn("contract cache read failed", "key", key, "error", err)
		return nil, false
	}
}

// lookup returns a cached type without building.
func (r *Registry) lookup(ctx context.Context, key string) (*chain.ContractType, bool) {
	if ct, ok := r.cache.Get(key); ok {
		return ct, true
	}
	return r.fromStore(ctx, key)
}

func (r *Registry) remember(key string, ct *chain.ContractType) {
	r.cache.Add(key, ct)

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range ct.Errors {
		sel := e.Selector()
		if _, ok := r.known[sel]; !ok {
			r.known[sel] = ct
		}
	}
}

// GetOrBuildSource keys the build by the content hash of the source and
// records path, so Prune can detect later edits.
func (r *Registry) GetOrBuildSource(ctx context.Context, path string, content []byte, build Builder) (*chain.ContractType, error) {
	key := chain.SourceHash(content)
	ct, err := r.GetOrBuild(ctx, key, build)
	if err != nil {
		return nil, err
	}
	if err := r.store.PutSource(ctx, SourceRecord{Path: path, Hash: key, Keys: []string{key}}); err != nil {
		r.logger.Warn("failed to record source", "path", path, "error", err)
	}
	return ct, nil
}

// CompileKey is the cache key of the contract named name that compiler
// produced from a source with content hash sourceHash.
func CompileKey(sourceHash, compiler, name string) string {
	return sourceHash + ":" + compiler + ":" + name
}

// Compile returns the contract types defined in the source at path. The
// compiler is chosen by name, or by the file extension when compiler is
// empty. Unchanged sources are served from the cache. Identical content
// compiled from another path shares cache entries, but the returned types
// always carry path as their SourcePath.
func (r *Registry) Compile(ctx context.Context, compiler, path string, content []byte) ([]*chain.ContractType, error) {
	if r.compilers == nil {
		return nil, fmt.Errorf("no compilers available for %s", path)
	}
	var c plugin.Compiler
	var err error
	if compiler != "" {
		c, err = r.compilers.Compiler(compiler)
	} else {
		c, err = r.compilers.CompilerFor(filepath.Ext(path))
	}
	if err != nil {
		return nil, err
	}
	name := c.Name()
	hash := chain.SourceHash(content)

	if rec, err := r.store.Source(ctx, path); err == nil && rec.Hash == hash && rec.Compiler == name && len(rec.Keys) > 0 {
		if cached, ok := r.lookupAll(ctx, rec.Keys); ok {
			for i, ct := range cached {
				cached[i] = withSource(ct, hash, path)
			}
			return cached, nil
		}
	}

	v, err, _ := r.group.Do("compile:"+name+":"+hash, func() (interface{}, error) {
		types, err := c.Compile(ctx, path, content)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		return types, nil
	})
	if err != nil {
		r.metrics.Build(metrics.OutcomeError)
		return nil, err
	}
	compiled := v.([]*chain.ContractType)

	out := make([]*chain.ContractType, 0, len(compiled))
	keys := make([]string, 0, len(compiled))
	for _, ct := range compiled {
		if ct == nil || ct.Name == "" {
			return nil, fmt.Errorf("compiler %s returned an unnamed contract type for %s", name, path)
		}
		key := CompileKey(hash, name, ct.Name)
		built := withSource(ct, hash, path)
		got, err := r.GetOrBuild(ctx, key, func(context.Context) (*chain.ContractType, error) {
			return built, nil
		})
		if err != nil {
			return nil, err
		}
		out = append(out, withSource(got, hash, path))
		keys = append(keys, key)
	}

	if err := r.store.PutSource(ctx, SourceRecord{Path: path, Hash: hash, Compiler: name, Keys: keys}); err != nil {
		r.logger.Warn("failed to record source", "path", path, "error", err)
	}
	return out, nil
}

func (r *Registry) lookupAll(ctx context.Context, keys []string) ([]*chain.ContractType, bool) {
	out := make([]*chain.ContractType, 0, len(keys))
	for _, key := range keys {
		ct, ok := r.lookup(ctx, key)
		if !ok {
			return nil, false
		}
		out = append(out, ct)
	}
	return out, true
}

// withSource returns ct with its source fields set, copying when needed so
// the compiler's value is never modified.
func withSource(ct *chain.ContractType, hash, path string) *chain.ContractType {
	if ct.SourceID == hash && ct.SourcePath == path {
		return ct
	}
	cp := *ct
	cp.SourceID = hash
	cp.SourcePath = path
	return &cp
}

// Prune drops cached types whose recorded source no longer hashes the same,
// or can no longer be read. read defaults to os.ReadFile. It returns the
// paths pruned.
func (r *Registry) Prune(ctx context.Context, read func(path string) ([]byte, error)) ([]string, error) {
	if read == nil {
		read = os.ReadFile
	}

	records, err := r.store.Sources(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list sources: %w", err)
	}

	live := make(map[string]bool)
	var stale []SourceRecord
	for _, rec := range records {
		content, err := read(rec.Path)
		if err == nil && chain.SourceHash(content) == rec.Hash {
			for _, k := range rec.Keys {
				live[k] = true
			}
			continue
		}
		stale = append(stale, rec)
	}

	var pruned []string
	for _, rec := range stale {
		for _, k := range rec.Keys {
			if live[k] {
				continue
			}
			r.cache.Remove(k)
			if err := r.store.Delete(ctx, k); err != nil {
				return pruned, fmt.Errorf("failed to delete %s: %w", k, err)
			}
		}
		if err := r.store.DeleteSource(ctx, rec.Path); err != nil {
			return pruned, fmt.Errorf("failed to forget %s: %w", rec.Path, err)
		}
		r.logger.Debug("pruned stale source", "path", rec.Path)
		pruned = append(pruned, rec.Path)
	}
	return pruned, nil
}
