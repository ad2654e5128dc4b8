package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"math/big"
	"os"
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/altuslabsxyz/dapp-builder/internal/config"
	"github.com/altuslabsxyz/dapp-builder/internal/output"
	"github.com/altuslabsxyz/dapp-builder/pkg/chain"
)

const (
	firstTestAccount  = "0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266"
	secondTestAccount = "0x70997970C51812dc3A010C7d01b50e0d17dc79C8"
)

// runCLI executes the root command against home and returns stdout.
func runCLI(t *testing.T, home string, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	a := &app{logger: output.NewLoggerTo(&out, io.Discard)}
	cmd := newRootCmd(a)
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(append([]string{"--home", home}, args...))

	err := cmd.ExecuteContext(context.Background())
	require.NoError(t, a.close())
	return out.String(), err
}

func TestNetworksList_JSON(t *testing.T) {
	out, err := runCLI(t, t.TempDir(), "networks", "list", "--json")
	require.NoError(t, err)

	var entries []networkEntry
	require.NoError(t, json.Unmarshal([]byte(out), &entries))
	require.Len(t, entries, 1)
	assert.Equal(t, networkEntry{
		ID:      "testnet/local/mock",
		Plugin:  "mock",
		ChainID: config.LocalChainID,
		Default: true,
	}, entries[0])
}

func TestNetworksPing_LocalChain(t *testing.T) {
	out, err := runCLI(t, t.TempDir(), "networks", "ping", "testnet/local", "--json")
	require.NoError(t, err)

	var res pingResult
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.Equal(t, "testnet/local/mock", res.ID)
	assert.Equal(t, uint64(config.LocalChainID), res.ChainID)
	assert.Equal(t, "connected", res.State)
}

func TestNetworksPing_UnknownNetwork(t *testing.T) {
	_, err := runCLI(t, t.TempDir(), "networks", "ping", "ethereum/mainnet")
	require.Error(t, err)
	assert.ErrorIs(t, err, config.ErrConfiguration)
	assert.NotEmpty(t, recoveryHint(err))
}

func TestAccountsList_TestAccounts(t *testing.T) {
	out, err := runCLI(t, t.TempDir(), "accounts", "list", "--json")
	require.NoError(t, err)

	var list []struct {
		Address string `json:"address"`
		Backend string `json:"backend"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &list))
	require.Len(t, list, config.DefaultTestAccountCount)
	assert.Equal(t, chain.HexToAddress(firstTestAccount), chain.HexToAddress(list[0].Address))
	assert.Equal(t, "test", list[0].Backend)
}

func TestAccountsSignMessage(t *testing.T) {
	out, err := runCLI(t, t.TempDir(), "accounts", "sign-message", "--from", firstTestAccount, "hello")
	require.NoError(t, err)

	sig, err := hexutil.Decode(string(bytes.TrimSpace([]byte(out))))
	require.NoError(t, err)
	assert.True(t, chain.VerifyMessage(chain.HexToAddress(firstTestAccount), []byte("hello"), sig))
}

func TestAccountsNew_Keystore(t *testing.T) {
	t.Setenv(envPassphrase, "secret")
	home := t.TempDir()

	out, err := runCLI(t, home, "accounts", "new", "--json")
	require.NoError(t, err)
	var created struct {
		Address string `json:"address"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &created))

	out, err = runCLI(t, home, "accounts", "list")
	require.NoError(t, err)
	assert.Contains(t, out, chain.HexToAddress(created.Address).Hex())
	assert.Contains(t, out, "keystore")
}

func TestTxSend_Wait(t *testing.T) {
	out, err := runCLI(t, t.TempDir(), "tx", "send",
		"--from", firstTestAccount,
		"--to", secondTestAccount,
		"--value", "1000",
		"--wait", "--json",
	)
	require.NoError(t, err)

	var res struct {
		Network string `json:"network"`
		Nonce   uint64 `json:"nonce"`
		Receipt struct {
			Status string `json:"status"`
		} `json:"receipt"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.Equal(t, "testnet/local/mock", res.Network)
	assert.Equal(t, uint64(0), res.Nonce)
	assert.Equal(t, "success", res.Receipt.Status)
}

func TestTxSend_Validation(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{"missing from", []string{"tx", "send", "--to", secondTestAccount}},
		{"bad address", []string{"tx", "send", "--from", "0x1234", "--to", secondTestAccount}},
		{"no target", []string{"tx", "send", "--from", firstTestAccount}},
		{"negative value", []string{"tx", "send", "--from", firstTestAccount, "--to", secondTestAccount, "--value", "-1"}},
		{"fee modes", []string{"tx", "send", "--from", firstTestAccount, "--to", secondTestAccount, "--gas-price", "1", "--max-fee", "2"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := runCLI(t, t.TempDir(), tt.args...)
			assert.Error(t, err)
		})
	}
}

func TestCompile_ABIFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "Counter.abi")
	abi := `[{"type":"function","name":"count","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
{"type":"event","name":"Bumped","anonymous":false,"inputs":[{"name":"by","type":"uint256","indexed":false}]}]`
	require.NoError(t, os.WriteFile(path, []byte(abi), 0o600))

	out, err := runCLI(t, dir, "compile", path, "--json")
	require.NoError(t, err)

	var entries []compiledEntry
	require.NoError(t, json.Unmarshal([]byte(out), &entries))
	require.Len(t, entries, 1)
	assert.Equal(t, "Counter", entries[0].Name)
	assert.Equal(t, 1, entries[0].Functions)
	assert.Equal(t, 1, entries[0].Events)
	assert.False(t, entries[0].Deployable)
}

func TestParseWei(t *testing.T) {
	tests := []struct {
		in      string
		want    *big.Int
		wantErr bool
	}{
		{"", nil, false},
		{"1000", big.NewInt(1000), false},
		{"0x10", big.NewInt(16), false},
		{"-5", nil, true},
		{"1e18", nil, true},
	}
	for _, tt := range tests {
		got, err := parseWei("value", tt.in)
		if tt.wantErr {
			assert.Error(t, err, tt.in)
			continue
		}
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}
}

func TestPickContract(t *testing.T) {
	a := &chain.ContractType{Name: "A"}
	b := &chain.ContractType{Name: "B"}

	got, err := pickContract([]*chain.ContractType{a}, "")
	require.NoError(t, err)
	assert.Same(t, a, got)

	_, err = pickContract([]*chain.ContractType{a, b}, "")
	assert.Error(t, err)

	got, err = pickContract([]*chain.ContractType{a, b}, "B")
	require.NoError(t, err)
	assert.Same(t, b, got)

	_, err = pickContract([]*chain.ContractType{a, b}, "C")
	assert.Error(t, err)
}
