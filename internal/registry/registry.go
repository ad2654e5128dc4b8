// Package registry holds the capability providers (networks, compilers,
// account backends) available to the framework.
//
// Registration happens once during start-up. After Freeze the registry is
// read-only and lookups take no locks.
package registry

import (
	"fmt"
	"iter"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/altuslabsxyz/dapp-builder/pkg/plugin"
)

type key struct {
	kind plugin.Kind
	name string
}

// Registry maps (kind, name) to a provider. Names keep insertion order per
// kind.
type Registry struct {
	mu        sync.Mutex
	frozen    atomic.Bool
	providers map[key]plugin.Provider
	order     map[plugin.Kind][]string
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{
		providers: make(map[key]plugin.Provider),
		order:     make(map[plugin.Kind][]string),
	}
}

// Register adds p. Every provider is wrapped so that a panic inside any of
// its methods surfaces as a *ProviderFaultError naming the plugin.
func (r *Registry) Register(p plugin.Provider) error {
	if r.frozen.Load() {
		return ErrRegistryFrozen
	}

	id, err := identify(p)
	if err != nil {
		return err
	}
	wrapped, err := wrap(id, p)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	k := key{kind: id.kind, name: id.name}
	if _, exists := r.providers[k]; exists {
		return &DuplicateCapabilityError{Kind: id.kind, Name: id.name}
	}
	r.providers[k] = wrapped
	r.order[id.kind] = append(r.order[id.kind], id.name)
	return nil
}

// Freeze ends the registration phase.
func (r *Registry) Freeze() {
	r.frozen.Store(true)
}

// Frozen reports whether Freeze has been called.
func (r *Registry) Frozen() bool {
	return r.frozen.Load()
}

// Resolve returns the provider registered under kind and name.
func (r *Registry) Resolve(kind plugin.Kind, name string) (plugin.Provider, error) {
	if !r.frozen.Load() {
		r.mu.Lock()
		defer r.mu.Unlock()
	}

	p, ok := r.providers[key{kind: kind, name: name}]
	if !ok {
		return nil, &UnknownCapabilityError{
			Kind:      kind,
			Name:      name,
			Available: append([]string(nil), r.order[kind]...),
		}
	}
	return p, nil
}

// List yields the names registered for kind in insertion order. The sequence
// can be ranged over any number of times.
func (r *Registry) List(kind plugin.Kind) iter.Seq[string] {
	return func(yield func(string) bool) {
		for _, name := range r.names(kind) {
			if !yield(name) {
				return
			}
		}
	}
}

func (r *Registry) names(kind plugin.Kind) []string {
	if r.frozen.Load() {
		return r.order[kind]
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.order[kind]...)
}

// Network resolves a network provider by name.
func (r *Registry) Network(name string) (plugin.NetworkProvider, error) {
	p, err := r.Resolve(plugin.KindNetwork, name)
	if err != nil {
		return nil, err
	}
	return p.(plugin.NetworkProvider), nil
}

// Compiler resolves a compiler by name.
func (r *Registry) Compiler(name string) (plugin.Compiler, error) {
	p, err := r.Resolve(plugin.KindCompiler, name)
	if err != nil {
		return nil, err
	}
	return p.(plugin.Compiler), nil
}

// CompilerFor returns the first registered compiler handling ext.
func (r *Registry) CompilerFor(ext string) (plugin.Compiler, error) {
	ext = strings.ToLower(ext)
	for name := range r.List(plugin.KindCompiler) {
		c, err := r.Compiler(name)
		if err != nil {
			continue
		}
		for _, e := range c.Extensions() {
			if strings.ToLower(e) == ext {
				return c, nil
			}
		}
	}
	return nil, &UnknownCapabilityError{
		Kind:      plugin.KindCompiler,
		Name:      "*" + ext,
		Available: r.names(plugin.KindCompiler),
	}
}

// AccountBackends returns every account backend in registration order.
func (r *Registry) AccountBackends() []plugin.AccountBackend {
	var backends []plugin.AccountBackend
	for name := range r.List(plugin.KindAccounts) {
		p, err := r.Resolve(plugin.KindAccounts, name)
		if err != nil {
			continue
		}
		backends = append(backends, p.(plugin.AccountBackend))
	}
	return backends
}

// identify reads the provider's name and kind, recovering from a panicking
// implementation.
func identify(p plugin.Provider) (id ident, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = &ProviderFaultError{Plugin: fmt.Sprintf("%T", p), Op: "register", Panic: rec}
		}
	}()

	id = ident{name: p.Name(), kind: p.Kind()}
	if id.name == "" {
		return id, &ProviderFaultError{Plugin: fmt.Sprintf("%T", p), Kind: id.kind, Op: "register", Err: fmt.Errorf("empty provider name")}
	}
	if !id.kind.Valid() {
		return id, &ProviderFaultError{Plugin: id.name, Kind: id.kind, Op: "register", Err: fmt.Errorf("unknown kind %q", id.kind)}
	}
	return id, nil
}
