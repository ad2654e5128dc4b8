// Package di is the composition root. It builds the plugin registry and the
// core managers from the resolved configuration and hands them to the CLI,
// so no package keeps global state.
package di

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"os"
	"sync"

	"github.com/hashicorp/go-hclog"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/altuslabsxyz/dapp-builder/internal/accounts"
	"github.com/altuslabsxyz/dapp-builder/internal/backends/abijson"
	"github.com/altuslabsxyz/dapp-builder/internal/backends/evm"
	"github.com/altuslabsxyz/dapp-builder/internal/backends/keystore"
	"github.com/altuslabsxyz/dapp-builder/internal/backends/local"
	"github.com/altuslabsxyz/dapp-builder/internal/backends/mnemonic"
	"github.com/altuslabsxyz/dapp-builder/internal/config"
	"github.com/altuslabsxyz/dapp-builder/internal/contracts"
	"github.com/altuslabsxyz/dapp-builder/internal/metrics"
	"github.com/altuslabsxyz/dapp-builder/internal/networks"
	"github.com/altuslabsxyz/dapp-builder/internal/output"
	"github.com/altuslabsxyz/dapp-builder/internal/paths"
	"github.com/altuslabsxyz/dapp-builder/internal/provider"
	"github.com/altuslabsxyz/dapp-builder/internal/registry"
	"github.com/altuslabsxyz/dapp-builder/internal/txmanager"
	"github.com/altuslabsxyz/dapp-builder/pkg/plugin"
)

// testAccountFunds is 10000 ether.
var testAccountFunds = new(big.Int).Mul(big.NewInt(10_000), big.NewInt(1_000_000_000_000_000_000))

// Config holds what the container is built from.
type Config struct {
	Settings config.Settings
	// Project is the network configuration. Nil means built-in networks only.
	Project *config.ProjectConfig
}

// Container holds the application's shared dependencies.
type Container struct {
	mu sync.Mutex

	config     Config
	logger     *output.Logger
	hclog      hclog.Logger
	registerer prometheus.Registerer
	passphrase keystore.PassphraseFunc

	// Registration inputs
	extra       []plugin.Provider
	skipPlugins bool

	metrics    *metrics.Metrics
	registry   *registry.Registry
	loader     *plugin.Loader
	plugins    []*plugin.PluginClient
	localChain *local.Chain
	keystore   *keystore.Backend
	networks   *networks.Manager
	accounts   *accounts.Manager

	// Lazy
	contracts  *contracts.Registry
	txManagers map[networks.Identifier]*txmanager.Manager
}

// Option configures the container.
type Option func(*Container)

// WithLogger sets the user-facing logger.
func WithLogger(logger *output.Logger) Option {
	return func(c *Container) {
		c.logger = logger
	}
}

// WithHCLogger sets the structured logger handed to library packages.
func WithHCLogger(logger hclog.Logger) Option {
	return func(c *Container) {
		c.hclog = logger
	}
}

// WithMetricsRegisterer registers collectors on reg instead of a private
// registry.
func WithMetricsRegisterer(reg prometheus.Registerer) Option {
	return func(c *Container) {
		c.registerer = reg
	}
}

// WithPassphraseFunc sets how keystore passphrases are obtained.
func WithPassphraseFunc(fn keystore.PassphraseFunc) Option {
	return func(c *Container) {
		c.passphrase = fn
	}
}

// WithProviders registers additional in-process providers after the
// built-in ones.
func WithProviders(providers ...plugin.Provider) Option {
	return func(c *Container) {
		c.extra = append(c.extra, providers...)
	}
}

// WithoutExternalPlugins skips plugin discovery.
func WithoutExternalPlugins() Option {
	return func(c *Container) {
		c.skipPlugins = true
	}
}

// WithLocalChain serves the "mock" network from chain instead of a fresh
// one.
func WithLocalChain(chain *local.Chain) Option {
	return func(c *Container) {
		c.localChain = chain
	}
}

// New builds the registry, registers every provider, freezes the registry
// and creates the managers.
func New(cfg Config, opts ...Option) (*Container, error) {
	c := &Container{
		config:     cfg,
		txManagers: make(map[networks.Identifier]*txmanager.Manager),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = output.NewLogger()
		c.logger.SetVerbose(cfg.Settings.Verbose)
		c.logger.SetNoColor(cfg.Settings.NoColor)
		c.logger.SetJSONMode(cfg.Settings.JSON)
	}
	if c.hclog == nil {
		c.hclog = output.NewHCLogger("dapp", os.Stderr, cfg.Settings.Verbose, cfg.Settings.JSON)
	}
	if c.localChain == nil {
		c.localChain = local.NewChain(local.WithChainID(config.LocalChainID))
	}

	c.metrics = metrics.New(c.registerer)
	c.registry = registry.New()

	if err := c.registerBuiltins(); err != nil {
		return nil, err
	}
	for _, p := range c.extra {
		if err := c.registry.Register(p); err != nil {
			return nil, fmt.Errorf("failed to register %s: %w", p.Name(), err)
		}
	}
	if !c.skipPlugins {
		c.loadPlugins()
	}
	c.registry.Freeze()

	c.networks = networks.NewManager(cfg.Project, c.registry,
		networks.WithLogger(c.hclog),
		networks.WithMetrics(c.metrics),
		networks.WithConnectionDefaults(c.connectionDefaults()),
	)
	c.accounts = accounts.New(c.registry, accounts.WithLogger(c.hclog))
	return c, nil
}

func (c *Container) registerBuiltins() error {
	s := c.config.Settings

	c.keystore = keystore.New(paths.KeystorePath(s.Home),
		keystore.WithLogger(c.hclog),
		keystore.WithPassphraseFunc(c.passphrase),
	)

	builtins := []plugin.Provider{
		local.NewNetwork(c.localChain),
		evm.NewNetwork(),
		abijson.New(),
	}
	if s.TestAccountCount > 0 {
		test, err := mnemonic.New(s.TestMnemonic, s.TestAccountCount)
		if err != nil {
			return &config.ValidationError{Field: "test_mnemonic", Message: err.Error()}
		}
		builtins = append(builtins, test)

		// Test accounts start funded on the simulated chain.
		addrs, err := test.Accounts(context.Background())
		if err != nil {
			return err
		}
		for _, addr := range addrs {
			c.localChain.Fund(addr, testAccountFunds)
		}
	}
	builtins = append(builtins, c.keystore)

	for _, p := range builtins {
		if err := c.registry.Register(p); err != nil {
			return fmt.Errorf("failed to register built-in %s: %w", p.Name(), err)
		}
	}
	return nil
}

// loadPlugins starts every discovered plugin and registers its providers.
// A plugin that fails to load or clashes with a registered name is skipped
// with a warning.
func (c *Container) loadPlugins() {
	s := c.config.Settings
	c.loader = plugin.NewLoader(
		plugin.WithLogger(c.hclog.Named("plugins")),
		plugin.WithPluginDirs(paths.PluginSearchPath(s.Home, s.PluginDirs...)...),
	)
	for _, client := range c.loader.LoadAll() {
		registered := 0
		for _, p := range client.Providers() {
			if err := c.registry.Register(p); err != nil {
				c.logger.Warn("Plugin %s: skipping %s %s: %v", client.Name(), p.Kind(), p.Name(), err)
				continue
			}
			registered++
		}
		c.logger.Debug("Loaded plugin %s %s (%d providers)", client.Name(), client.Version(), registered)
		c.plugins = append(c.plugins, client)
	}
}

func (c *Container) connectionDefaults() provider.Options {
	opts := provider.DefaultOptions()
	if c.config.Settings.ConnectTimeout > 0 {
		opts.ConnectTimeout = c.config.Settings.ConnectTimeout
	}
	if c.config.Settings.MaxAttempts > 0 {
		opts.MaxAttempts = c.config.Settings.MaxAttempts
	}
	return opts
}

// Logger returns the user-facing logger.
func (c *Container) Logger() *output.Logger { return c.logger }

// Settings returns the effective global settings.
func (c *Container) Settings() config.Settings { return c.config.Settings }

// Registry returns the frozen plugin registry.
func (c *Container) Registry() *registry.Registry { return c.registry }

// Plugins returns the running out-of-process plugins.
func (c *Container) Plugins() []*plugin.PluginClient { return c.plugins }

// Networks returns the network manager.
func (c *Container) Networks() *networks.Manager { return c.networks }

// Accounts returns the account manager.
func (c *Container) Accounts() *accounts.Manager { return c.accounts }

// Keystore returns the built-in keystore backend, for creating and
// importing accounts.
func (c *Container) Keystore() *keystore.Backend { return c.keystore }

// LocalChain returns the simulated chain behind the "mock" network.
func (c *Container) LocalChain() *local.Chain { return c.localChain }

// Metrics returns the collectors.
func (c *Container) Metrics() *metrics.Metrics { return c.metrics }

// Contracts opens the persistent contract-type registry on first use.
func (c *Container) Contracts() (*contracts.Registry, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.contracts != nil {
		return c.contracts, nil
	}

	home := c.config.Settings.Home
	if err := paths.EnsureDir(paths.CachePath(home)); err != nil {
		return nil, err
	}
	store, err := contracts.NewBoltStore(paths.ContractsDBPath(home))
	if err != nil {
		return nil, err
	}
	reg, err := contracts.New(store,
		contracts.WithLogger(c.hclog),
		contracts.WithMetrics(c.metrics),
		contracts.WithCacheSize(c.config.Settings.CacheSize),
		contracts.WithCompilers(c.registry),
	)
	if err != nil {
		store.Close()
		return nil, err
	}
	if pruned, err := reg.Prune(context.Background(), nil); err != nil {
		c.logger.Warn("Failed to prune stale contract cache entries: %v", err)
	} else if len(pruned) > 0 {
		c.logger.Debug("Pruned %d changed contract sources from the cache", len(pruned))
	}
	c.contracts = reg
	return reg, nil
}

// TxManager returns the transaction manager for the handle's network. One
// manager exists per identifier so that per-sender ordering holds across
// callers.
func (c *Container) TxManager(h *networks.Handle) (*txmanager.Manager, error) {
	cr, err := c.Contracts()
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if tm, ok := c.txManagers[h.ID]; ok {
		return tm, nil
	}
	tm := txmanager.New(h.Connection(), c.accounts,
		txmanager.WithLogger(c.hclog),
		txmanager.WithRevertDecoder(cr),
	)
	c.txManagers[h.ID] = tm
	return tm, nil
}

// Close releases connections, the contract store and plugin processes.
func (c *Container) Close() error {
	var errs []error
	if c.networks != nil {
		errs = append(errs, c.networks.Close())
	}

	c.mu.Lock()
	if c.contracts != nil {
		errs = append(errs, c.contracts.Close())
		c.contracts = nil
	}
	c.mu.Unlock()

	if c.loader != nil {
		c.loader.Close()
	}
	return errors.Join(errs...)
}
