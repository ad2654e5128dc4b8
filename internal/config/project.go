package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ProjectConfig is the dapp-config.yaml network configuration:
// ecosystem -> network -> providers.
type ProjectConfig struct {
	DefaultNetwork string                               `yaml:"default_network,omitempty"`
	Networks       map[string]map[string]*NetworkConfig `yaml:"networks"`
}

// NetworkConfig lists the providers able to serve one network.
type NetworkConfig struct {
	DefaultProvider string                     `yaml:"default_provider,omitempty"`
	Providers       map[string]*ProviderConfig `yaml:"providers"`
}

// ProviderConfig is the endpoint configuration of one provider.
type ProviderConfig struct {
	// Plugin names the network plugin serving this provider. Defaults to the
	// provider's own name.
	Plugin  string `yaml:"plugin,omitempty"`
	URI     string `yaml:"uri,omitempty"`
	ChainID uint64 `yaml:"chain_id,omitempty"`
	Default bool   `yaml:"default,omitempty"`

	// Client-side rate limit; zero disables it.
	RequestsPerSecond float64 `yaml:"requests_per_second,omitempty"`
	Burst             int     `yaml:"burst,omitempty"`

	// Per-provider overrides of the global connection settings.
	ConnectTimeout time.Duration `yaml:"connect_timeout,omitempty"`
	MaxAttempts    int           `yaml:"max_attempts,omitempty"`

	Params map[string]string `yaml:"params,omitempty"`
}

// Built-in local network, available without any project file.
const (
	LocalEcosystem = "testnet"
	LocalNetwork   = "local"
	LocalProvider  = "mock"
	LocalChainID   = 1337
)

// BuiltinProjectConfig returns the networks every project starts with.
func BuiltinProjectConfig() *ProjectConfig {
	return &ProjectConfig{
		DefaultNetwork: LocalEcosystem + "/" + LocalNetwork,
		Networks: map[string]map[string]*NetworkConfig{
			LocalEcosystem: {
				LocalNetwork: {
					DefaultProvider: LocalProvider,
					Providers: map[string]*ProviderConfig{
						LocalProvider: {ChainID: LocalChainID},
					},
				},
			},
		},
	}
}

// LoadProjectConfig reads and validates a project file.
func LoadProjectConfig(path string) (*ProjectConfig, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open project config: %w", err)
	}
	defer f.Close()

	return LoadProjectReader(f, path)
}

// LoadProjectReader decodes a project file from r. Unknown keys are errors.
func LoadProjectReader(r io.Reader, source string) (*ProjectConfig, error) {
	decoder := yaml.NewDecoder(r)
	decoder.KnownFields(true)

	var cfg ProjectConfig
	if err := decoder.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, &ValidationError{Source: source, Field: "yaml", Message: err.Error()}
	}
	if err := cfg.Validate(source); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Merge returns base with every network in override replacing the network of
// the same ecosystem and name.
func Merge(base, override *ProjectConfig) *ProjectConfig {
	out := &ProjectConfig{
		DefaultNetwork: base.DefaultNetwork,
		Networks:       make(map[string]map[string]*NetworkConfig),
	}
	for _, src := range []*ProjectConfig{base, override} {
		if src == nil {
			continue
		}
		if src.DefaultNetwork != "" {
			out.DefaultNetwork = src.DefaultNetwork
		}
		for eco, networks := range src.Networks {
			if out.Networks[eco] == nil {
				out.Networks[eco] = make(map[string]*NetworkConfig)
			}
			for name, n := range networks {
				out.Networks[eco][name] = n
			}
		}
	}
	return out
}

// Validate checks names and default-provider consistency.
func (c *ProjectConfig) Validate(source string) error {
	if c.DefaultNetwork != "" {
		segments := strings.Split(c.DefaultNetwork, "/")
		if len(segments) < 2 || len(segments) > 3 {
			return &ValidationError{Source: source, Field: "default_network", Message: fmt.Sprintf("%q is not ecosystem/network[/provider]", c.DefaultNetwork)}
		}
	}

	for _, eco := range sortedKeys(c.Networks) {
		if err := validName(eco); err != nil {
			return &ValidationError{Source: source, Field: "networks", Message: fmt.Sprintf("ecosystem %q: %v", eco, err)}
		}
		for _, name := range sortedKeys(c.Networks[eco]) {
			field := fmt.Sprintf("networks.%s.%s", eco, name)
			if err := validName(name); err != nil {
				return &ValidationError{Source: source, Field: field, Message: err.Error()}
			}
			n := c.Networks[eco][name]
			if n == nil || len(n.Providers) == 0 {
				return &ValidationError{Source: source, Field: field, Message: "no providers configured"}
			}
			for _, p := range sortedKeys(n.Providers) {
				if err := validName(p); err != nil {
					return &ValidationError{Source: source, Field: field + ".providers", Message: fmt.Sprintf("provider %q: %v", p, err)}
				}
				if n.Providers[p] == nil {
					n.Providers[p] = &ProviderConfig{}
				}
			}
			if _, err := n.DefaultProviderName(); err != nil {
				return &ValidationError{Source: source, Field: field, Message: err.Error()}
			}
		}
	}
	return nil
}

// DefaultProviderName returns the network's default provider: the explicit
// default_provider, the single provider flagged default, or the only
// provider. It returns "" when several providers exist and none is marked.
func (n *NetworkConfig) DefaultProviderName() (string, error) {
	var flagged []string
	for _, name := range sortedKeys(n.Providers) {
		if p := n.Providers[name]; p != nil && p.Default {
			flagged = append(flagged, name)
		}
	}
	if len(flagged) > 1 {
		return "", fmt.Errorf("more than one default provider: %s", strings.Join(flagged, ", "))
	}

	if n.DefaultProvider != "" {
		if _, ok := n.Providers[n.DefaultProvider]; !ok {
			return "", fmt.Errorf("default_provider %q is not configured", n.DefaultProvider)
		}
		if len(flagged) == 1 && flagged[0] != n.DefaultProvider {
			return "", fmt.Errorf("default_provider %q conflicts with provider %q marked default", n.DefaultProvider, flagged[0])
		}
		return n.DefaultProvider, nil
	}
	if len(flagged) == 1 {
		return flagged[0], nil
	}
	if len(n.Providers) == 1 {
		for name := range n.Providers {
			return name, nil
		}
	}
	return "", nil
}

// PluginName returns the network plugin serving the named provider.
func (n *NetworkConfig) PluginName(provider string) string {
	if p := n.Providers[provider]; p != nil && p.Plugin != "" {
		return p.Plugin
	}
	return provider
}

// ProviderNames returns the configured provider names, sorted.
func (n *NetworkConfig) ProviderNames() []string {
	return sortedKeys(n.Providers)
}

// EcosystemNames returns the configured ecosystems, sorted.
func (c *ProjectConfig) EcosystemNames() []string {
	return sortedKeys(c.Networks)
}

// NetworkNames returns the networks of an ecosystem, sorted.
func (c *ProjectConfig) NetworkNames(ecosystem string) []string {
	return sortedKeys(c.Networks[ecosystem])
}

func validName(s string) error {
	if s == "" {
		return fmt.Errorf("empty name")
	}
	if strings.ContainsAny(s, "/ \t") {
		return fmt.Errorf("name must not contain '/' or whitespace")
	}
	return nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
