// Package networks resolves network identifiers against the project
// configuration and the registered network plugins, and pools one provider
// connection per resolved identifier.
package networks

import (
	"errors"
	"iter"
	"sync"

	"github.com/hashicorp/go-hclog"

	"github.com/altuslabsxyz/dapp-builder/internal/config"
	"github.com/altuslabsxyz/dapp-builder/internal/metrics"
	"github.com/altuslabsxyz/dapp-builder/internal/provider"
	"github.com/altuslabsxyz/dapp-builder/internal/registry"
	"github.com/altuslabsxyz/dapp-builder/pkg/plugin"
)

// Manager owns the network configuration and the connection pool.
type Manager struct {
	cfg      *config.ProjectConfig
	registry *registry.Registry
	defaults provider.Options
	logger   hclog.Logger

	mu    sync.Mutex
	conns map[Identifier]*provider.Connection
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the logger handed to every connection.
func WithLogger(logger hclog.Logger) Option {
	return func(m *Manager) {
		m.logger = logger
	}
}

// WithMetrics instruments every connection.
func WithMetrics(mt *metrics.Metrics) Option {
	return func(m *Manager) {
		m.defaults.Metrics = mt
	}
}

// WithConnectionDefaults sets the connection options used when a provider
// does not override them. Logger and Metrics in opts are ignored.
func WithConnectionDefaults(opts provider.Options) Option {
	return func(m *Manager) {
		mt := m.defaults.Metrics
		m.defaults = opts
		m.defaults.Metrics = mt
		m.defaults.Logger = nil
	}
}

// NewManager creates a manager. A nil cfg means the built-in networks only.
func NewManager(cfg *config.ProjectConfig, reg *registry.Registry, opts ...Option) *Manager {
	if cfg == nil {
		cfg = config.BuiltinProjectConfig()
	}
	m := &Manager{
		cfg:      cfg,
		registry: reg,
		defaults: provider.DefaultOptions(),
		logger:   hclog.NewNullLogger(),
		conns:    make(map[Identifier]*provider.Connection),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Handle is a fully resolved network identifier.
type Handle struct {
	ID      Identifier
	Plugin  string
	Default bool
	Config  config.ProviderConfig

	network plugin.NetworkProvider
	mgr     *Manager
}

// Connection returns the shared connection for the handle's identifier,
// creating it on first use. Creating a connection does not dial.
func (h *Handle) Connection() *provider.Connection {
	return h.mgr.connection(h)
}

// Resolve parses s and resolves it. An empty s selects the project's
// default network.
func (m *Manager) Resolve(s string) (*Handle, error) {
	if s == "" {
		s = m.cfg.DefaultNetwork
		if s == "" {
			return nil, &InvalidNetworkIdentifierError{Input: s, Reason: "no network given and no default_network configured"}
		}
	}
	id, err := Parse(s)
	if err != nil {
		return nil, err
	}
	return m.ResolveIdentifier(id)
}

// ResolveIdentifier walks ecosystem, network and provider in that order and
// reports the first one missing. A two-segment identifier uses the
// network's configured default provider.
func (m *Manager) ResolveIdentifier(id Identifier) (*Handle, error) {
	networks, ok := m.cfg.Networks[id.Ecosystem]
	if !ok {
		return nil, &EcosystemNotFoundError{Ecosystem: id.Ecosystem, Available: m.cfg.EcosystemNames()}
	}
	netCfg, ok := networks[id.Network]
	if !ok || netCfg == nil {
		return nil, &NetworkNotFoundError{Ecosystem: id.Ecosystem, Network: id.Network, Available: m.cfg.NetworkNames(id.Ecosystem)}
	}

	def, err := netCfg.DefaultProviderName()
	if err != nil {
		return nil, &config.ValidationError{Field: "networks." + id.Ecosystem + "." + id.Network, Message: err.Error()}
	}
	if !id.Resolved() {
		if def == "" {
			return nil, &NoDefaultProviderError{Ecosystem: id.Ecosystem, Network: id.Network, Providers: netCfg.ProviderNames()}
		}
		id.Provider = def
	}

	provCfg, ok := netCfg.Providers[id.Provider]
	if !ok {
		return nil, &ProviderNotFoundError{ID: id, Available: netCfg.ProviderNames()}
	}

	pluginName := netCfg.PluginName(id.Provider)
	np, err := m.registry.Network(pluginName)
	if err != nil {
		if errors.Is(err, registry.ErrUnknownCapability) {
			return nil, &ProviderNotFoundError{ID: id, Plugin: pluginName}
		}
		return nil, err
	}

	h := &Handle{
		ID:      id,
		Plugin:  pluginName,
		Default: id.Provider == def,
		network: np,
		mgr:     m,
	}
	if provCfg != nil {
		h.Config = *provCfg
	}
	return h, nil
}

// Networks yields every configured identifier in sorted order, with whether
// the provider is its network's default.
func (m *Manager) Networks() iter.Seq2[Identifier, bool] {
	return func(yield func(Identifier, bool) bool) {
		for _, eco := range m.cfg.EcosystemNames() {
			for _, name := range m.cfg.NetworkNames(eco) {
				netCfg := m.cfg.Networks[eco][name]
				def, _ := netCfg.DefaultProviderName()
				for _, p := range netCfg.ProviderNames() {
					if !yield(Identifier{Ecosystem: eco, Network: name, Provider: p}, p == def) {
						return
					}
				}
			}
		}
	}
}

// Connections returns the connections created so far.
func (m *Manager) Connections() []*provider.Connection {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]*provider.Connection, 0, len(m.conns))
	for _, c := range m.conns {
		out = append(out, c)
	}
	return out
}

// Close disconnects every pooled connection.
func (m *Manager) Close() error {
	m.mu.Lock()
	conns := m.conns
	m.conns = make(map[Identifier]*provider.Connection)
	m.mu.Unlock()

	var errs []error
	for _, c := range conns {
		if err := c.Disconnect(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m *Manager) connection(h *Handle) *provider.Connection {
	m.mu.Lock()
	defer m.mu.Unlock()

	if c, ok := m.conns[h.ID]; ok {
		return c
	}

	opts := m.defaults
	opts.Logger = m.logger
	if h.Config.ConnectTimeout > 0 {
		opts.ConnectTimeout = h.Config.ConnectTimeout
	}
	if h.Config.MaxAttempts > 0 {
		opts.MaxAttempts = h.Config.MaxAttempts
	}
	opts.RequestsPerSecond = h.Config.RequestsPerSecond
	opts.Burst = h.Config.Burst

	endpoint := plugin.Endpoint{
		URI:     h.Config.URI,
		ChainID: h.Config.ChainID,
		Params:  h.Config.Params,
	}
	c := provider.New(h.ID.String(), h.network, endpoint, opts)
	m.conns[h.ID] = c
	m.logger.Debug("created connection", "network", h.ID.String(), "plugin", h.Plugin)
	return c
}
