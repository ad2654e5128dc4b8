package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleProject = `
default_network: ethereum/mainnet
networks:
  ethereum:
    mainnet:
      providers:
        geth:
          uri: https://rpc.example.org
          chain_id: 1
          default: true
          requests_per_second: 10
          connect_timeout: 5s
        infura:
          uri: https://infura.example.org
          chain_id: 1
    sepolia:
      default_provider: node
      providers:
        node: {uri: "http://127.0.0.1:8545", chain_id: 11155111}
        other: {uri: "http://127.0.0.1:9545"}
`

func TestLoadProjectReader(t *testing.T) {
	cfg, err := LoadProjectReader(strings.NewReader(sampleProject), "dapp-config.yaml")
	require.NoError(t, err)

	assert.Equal(t, "ethereum/mainnet", cfg.DefaultNetwork)
	assert.Equal(t, []string{"ethereum"}, cfg.EcosystemNames())
	assert.Equal(t, []string{"mainnet", "sepolia"}, cfg.NetworkNames("ethereum"))

	mainnet := cfg.Networks["ethereum"]["mainnet"]
	assert.Equal(t, []string{"geth", "infura"}, mainnet.ProviderNames())
	def, err := mainnet.DefaultProviderName()
	require.NoError(t, err)
	assert.Equal(t, "geth", def)

	geth := mainnet.Providers["geth"]
	assert.Equal(t, uint64(1), geth.ChainID)
	assert.Equal(t, 10.0, geth.RequestsPerSecond)
	assert.Equal(t, 5*time.Second, geth.ConnectTimeout)

	def, err = cfg.Networks["ethereum"]["sepolia"].DefaultProviderName()
	require.NoError(t, err)
	assert.Equal(t, "node", def)
}

func TestLoadProjectReader_Empty(t *testing.T) {
	cfg, err := LoadProjectReader(strings.NewReader(""), "empty.yaml")
	require.NoError(t, err)
	assert.Empty(t, cfg.Networks)
}

func TestLoadProjectReader_Invalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{
			name: "unknown key",
			yaml: "netwerks: {}\n",
			want: "netwerks",
		},
		{
			name: "two providers flagged default",
			yaml: `
networks:
  eth:
    main:
      providers:
        a: {default: true}
        b: {default: true}
`,
			want: "more than one default provider",
		},
		{
			name: "default provider not configured",
			yaml: `
networks:
  eth:
    main:
      default_provider: c
      providers:
        a: {}
`,
			want: `default_provider "c" is not configured`,
		},
		{
			name: "conflicting defaults",
			yaml: `
networks:
  eth:
    main:
      default_provider: a
      providers:
        a: {}
        b: {default: true}
`,
			want: "conflicts",
		},
		{
			name: "network without providers",
			yaml: `
networks:
  eth:
    main: {}
`,
			want: "no providers configured",
		},
		{
			name: "slash in name",
			yaml: `
networks:
  "eth/x":
    main:
      providers: {a: {}}
`,
			want: "must not contain",
		},
		{
			name: "bad default network",
			yaml: "default_network: justone\n",
			want: "default_network",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadProjectReader(strings.NewReader(tt.yaml), "test.yaml")
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
			assert.True(t, errors.Is(err, ErrConfiguration))
		})
	}
}

func TestDefaultProviderName_NoneMarked(t *testing.T) {
	n := &NetworkConfig{Providers: map[string]*ProviderConfig{"a": {}, "b": {}}}
	name, err := n.DefaultProviderName()
	require.NoError(t, err)
	assert.Empty(t, name)

	single := &NetworkConfig{Providers: map[string]*ProviderConfig{"only": {}}}
	name, err = single.DefaultProviderName()
	require.NoError(t, err)
	assert.Equal(t, "only", name)
}

func TestMerge(t *testing.T) {
	user, err := LoadProjectReader(strings.NewReader(sampleProject), "x.yaml")
	require.NoError(t, err)

	merged := Merge(BuiltinProjectConfig(), user)
	assert.Equal(t, []string{"ethereum", "testnet"}, merged.EcosystemNames())
	assert.Equal(t, "ethereum/mainnet", merged.DefaultNetwork)
	assert.Equal(t, uint64(LocalChainID), merged.Networks["testnet"]["local"].Providers["mock"].ChainID)

	onlyBuiltin := Merge(BuiltinProjectConfig(), nil)
	assert.Equal(t, "testnet/local", onlyBuiltin.DefaultNetwork)
}

func TestLoadProjectConfig_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dapp-config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sampleProject), 0644))

	cfg, err := LoadProjectConfig(path)
	require.NoError(t, err)
	assert.Len(t, cfg.Networks["ethereum"], 2)

	_, err = LoadProjectConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
