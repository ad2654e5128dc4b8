package plugin

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"

	"github.com/hashicorp/go-hclog"
	goplugin "github.com/hashicorp/go-plugin"
	"github.com/hashicorp/go-version"
)

// ErrIncompatibleVersion is returned when a plugin version does not satisfy
// the loader's constraint.
var ErrIncompatibleVersion = errors.New("incompatible plugin version")

// BinarySuffix is the file name suffix of plugin executables.
const BinarySuffix = "-plugin"

// DefaultVersionConstraint accepts any 1.x plugin.
const DefaultVersionConstraint = ">= 1.0.0, < 2.0.0"

// PluginError provides detailed error information for plugin operations.
type PluginError struct {
	Op         string // Operation that failed (e.g., "connect", "version-check")
	PluginName string
	Err        error
}

func (e *PluginError) Error() string {
	if e.PluginName != "" {
		return fmt.Sprintf("plugin %s: %s: %v", e.PluginName, e.Op, e.Err)
	}
	return fmt.Sprintf("plugin: %s: %v", e.Op, e.Err)
}

func (e *PluginError) Unwrap() error {
	return e.Err
}

// PluginInfo describes a discovered plugin binary.
type PluginInfo struct {
	Name string
	Path string
}

// PluginClient is a running plugin process and the providers it serves.
type PluginClient struct {
	client    *goplugin.Client
	name      string
	manifest  Manifest
	providers []Provider
}

// Name returns the plugin name (binary name without suffix).
func (p *PluginClient) Name() string { return p.name }

// Version returns the version the plugin reported.
func (p *PluginClient) Version() string { return p.manifest.Version }

// Providers returns the capability providers served by the plugin.
func (p *PluginClient) Providers() []Provider { return p.providers }

// Close kills the plugin process.
func (p *PluginClient) Close() {
	if p.client != nil {
		p.client.Kill()
	}
}

// Loader discovers and starts out-of-process plugins.
type Loader struct {
	mu         sync.Mutex
	pluginDirs []string
	logger     hclog.Logger
	constraint version.Constraints
	plugins    map[string]*PluginClient
}

// LoaderOption is a functional option for configuring a Loader.
type LoaderOption func(*Loader)

// WithLogger sets a custom logger for the loader.
func WithLogger(logger hclog.Logger) LoaderOption {
	return func(l *Loader) {
		l.logger = logger
	}
}

// WithPluginDirs adds plugin directories, searched in order.
func WithPluginDirs(dirs ...string) LoaderOption {
	return func(l *Loader) {
		l.pluginDirs = append(l.pluginDirs, dirs...)
	}
}

// WithVersionConstraint replaces the version constraint, e.g. ">= 1.2, < 2".
func WithVersionConstraint(constraint version.Constraints) LoaderOption {
	return func(l *Loader) {
		l.constraint = constraint
	}
}

// NewLoader creates a plugin loader.
func NewLoader(opts ...LoaderOption) *Loader {
	constraint, _ := version.NewConstraint(DefaultVersionConstraint)
	l := &Loader{
		logger:     hclog.New(&hclog.LoggerOptions{Name: "plugin-loader", Level: hclog.Warn}),
		constraint: constraint,
		plugins:    make(map[string]*PluginClient),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Discover finds executable <name>-plugin files in the plugin directories.
// The first directory containing a name wins.
func (l *Loader) Discover() []PluginInfo {
	var found []PluginInfo
	seen := make(map[string]bool)

	for _, dir := range l.pluginDirs {
		entries, err := os.ReadDir(dir)
		if err != nil {
			if !os.IsNotExist(err) {
				l.logger.Warn("failed to read plugin directory", "dir", dir, "error", err)
			}
			continue
		}

		for _, entry := range entries {
			if entry.IsDir() || !strings.HasSuffix(entry.Name(), BinarySuffix) {
				continue
			}
			name := strings.TrimSuffix(entry.Name(), BinarySuffix)
			if name == "" || seen[name] {
				continue
			}
			path := filepath.Join(dir, entry.Name())
			info, err := os.Stat(path)
			if err != nil || info.Mode()&0111 == 0 {
				continue
			}
			seen[name] = true
			found = append(found, PluginInfo{Name: name, Path: path})
		}
	}
	return found
}

// CheckVersion validates v against the loader's constraint.
func (l *Loader) CheckVersion(v string) error {
	parsed, err := version.NewVersion(v)
	if err != nil {
		return fmt.Errorf("%w: %q is not a semantic version", ErrIncompatibleVersion, v)
	}
	if !l.constraint.Check(parsed) {
		return fmt.Errorf("%w: %s does not satisfy %s", ErrIncompatibleVersion, v, l.constraint)
	}
	return nil
}

// Load starts the plugin at info.Path and dispenses every capability it
// advertises.
func (l *Loader) Load(info PluginInfo) (*PluginClient, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if p, ok := l.plugins[info.Name]; ok {
		return p, nil
	}

	client := goplugin.NewClient(&goplugin.ClientConfig{
		HandshakeConfig:  Handshake,
		Plugins:          clientPluginSet(),
		Cmd:              exec.Command(info.Path),
		AllowedProtocols: []goplugin.Protocol{goplugin.ProtocolNetRPC},
		Logger:           l.logger.Named(info.Name),
	})

	pc, err := l.dispense(client, info.Name)
	if err != nil {
		client.Kill()
		return nil, err
	}

	l.plugins[info.Name] = pc
	l.logger.Info("plugin loaded", "name", info.Name, "version", pc.manifest.Version, "kinds", pc.manifest.Kinds())
	return pc, nil
}

func (l *Loader) dispense(client *goplugin.Client, name string) (*PluginClient, error) {
	rpcClient, err := client.Client()
	if err != nil {
		return nil, &PluginError{Op: "connect", PluginName: name, Err: err}
	}

	raw, err := rpcClient.Dispense(manifestPluginName)
	if err != nil {
		return nil, &PluginError{Op: "dispense", PluginName: name, Err: err}
	}
	mc, ok := raw.(*ManifestRPCClient)
	if !ok {
		return nil, &PluginError{Op: "type-assertion", PluginName: name, Err: fmt.Errorf("unexpected %T for manifest", raw)}
	}
	manifest, err := mc.Get()
	if err != nil {
		return nil, &PluginError{Op: "manifest", PluginName: name, Err: err}
	}
	if err := l.CheckVersion(manifest.Version); err != nil {
		return nil, &PluginError{Op: "version-check", PluginName: name, Err: err}
	}

	pc := &PluginClient{client: client, name: name, manifest: manifest}
	for _, kind := range manifest.Kinds() {
		raw, err := rpcClient.Dispense(string(kind))
		if err != nil {
			return nil, &PluginError{Op: "dispense", PluginName: name, Err: err}
		}
		switch p := raw.(type) {
		case *CompilerRPCClient:
			p.name = manifest.Names[kind]
			pc.providers = append(pc.providers, p)
		case *AccountsRPCClient:
			p.name = manifest.Names[kind]
			pc.providers = append(pc.providers, p)
		default:
			return nil, &PluginError{Op: "type-assertion", PluginName: name, Err: fmt.Errorf("unexpected %T for %s", raw, kind)}
		}
	}
	return pc, nil
}

// LoadAll loads every discovered plugin. Plugins that fail to load are
// logged and skipped.
func (l *Loader) LoadAll() []*PluginClient {
	var clients []*PluginClient
	for _, info := range l.Discover() {
		pc, err := l.Load(info)
		if err != nil {
			l.logger.Warn("failed to load plugin", "name", info.Name, "error", err)
			continue
		}
		clients = append(clients, pc)
	}
	return clients
}

// Close kills every loaded plugin.
func (l *Loader) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()

	for _, p := range l.plugins {
		p.Close()
	}
	l.plugins = make(map[string]*PluginClient)
}
