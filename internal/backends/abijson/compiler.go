// Package abijson implements the "abi-json" compiler. It does not compile
// anything: it reads artifacts other toolchains already produced.
//
// Accepted inputs:
//
//   - a bare ABI array, named after the file
//   - a Hardhat/Truffle/Foundry artifact with "abi" and "bytecode"
//     (a hex string, or Foundry's {"object": "0x..."})
//   - solc --combined-json output with a "contracts" map
package abijson

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/altuslabsxyz/dapp-builder/pkg/chain"
	"github.com/altuslabsxyz/dapp-builder/pkg/plugin"
)

// ProviderName is the compiler name.
const ProviderName = "abi-json"

// Compiler reads JSON contract artifacts.
type Compiler struct{}

var _ plugin.Compiler = (*Compiler)(nil)

func New() *Compiler { return &Compiler{} }

func (c *Compiler) Name() string         { return ProviderName }
func (c *Compiler) Kind() plugin.Kind    { return plugin.KindCompiler }
func (c *Compiler) Extensions() []string { return []string{".json", ".abi"} }

type artifact struct {
	ContractName string          `json:"contractName"`
	ABI          json.RawMessage `json:"abi"`
	Bytecode     json.RawMessage `json:"bytecode"`
	Bin          string          `json:"bin"`
	Contracts    map[string]struct {
		ABI json.RawMessage `json:"abi"`
		Bin string          `json:"bin"`
	} `json:"contracts"`
}

func (c *Compiler) Compile(ctx context.Context, path string, content []byte) ([]*chain.ContractType, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	trimmed := bytes.TrimSpace(content)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("%s: empty artifact", path)
	}
	base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))

	if trimmed[0] == '[' {
		ct, err := chain.ParseABI(base, "", trimmed, nil)
		if err != nil {
			return nil, err
		}
		return []*chain.ContractType{ct}, nil
	}

	var a artifact
	if err := json.Unmarshal(trimmed, &a); err != nil {
		return nil, fmt.Errorf("%s: invalid artifact: %w", path, err)
	}

	if len(a.Contracts) > 0 {
		return compileCombined(path, a)
	}
	if len(a.ABI) == 0 {
		return nil, fmt.Errorf("%s: artifact has no abi", path)
	}

	name := a.ContractName
	if name == "" {
		name = base
	}
	code, err := bytecode(a.Bytecode, a.Bin)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	abiJSON, err := unquoteABI(a.ABI)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	ct, err := chain.ParseABI(name, "", abiJSON, code)
	if err != nil {
		return nil, err
	}
	return []*chain.ContractType{ct}, nil
}

// compileCombined handles solc --combined-json. Keys look like
// "contracts/Token.sol:Token"; output is sorted by key.
func compileCombined(path string, a artifact) ([]*chain.ContractType, error) {
	keys := make([]string, 0, len(a.Contracts))
	for k := range a.Contracts {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]*chain.ContractType, 0, len(keys))
	for _, key := range keys {
		entry := a.Contracts[key]
		name := key
		if i := strings.LastIndex(key, ":"); i >= 0 {
			name = key[i+1:]
		}
		abiJSON, err := unquoteABI(entry.ABI)
		if err != nil {
			return nil, fmt.Errorf("%s: %s: %w", path, key, err)
		}
		code, err := bytecode(nil, entry.Bin)
		if err != nil {
			return nil, fmt.Errorf("%s: %s: %w", path, key, err)
		}
		ct, err := chain.ParseABI(name, "", abiJSON, code)
		if err != nil {
			return nil, err
		}
		out = append(out, ct)
	}
	return out, nil
}

// unquoteABI accepts the ABI either inline or as a JSON string holding it,
// which older solc versions emit.
func unquoteABI(raw json.RawMessage) ([]byte, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) > 0 && raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, fmt.Errorf("invalid abi: %w", err)
		}
		return []byte(s), nil
	}
	return raw, nil
}

func bytecode(raw json.RawMessage, bin string) ([]byte, error) {
	var s string
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &s); err != nil {
			var obj struct {
				Object string `json:"object"`
			}
			if err := json.Unmarshal(raw, &obj); err != nil {
				return nil, fmt.Errorf("invalid bytecode field: %w", err)
			}
			s = obj.Object
		}
	} else {
		s = bin
	}
	if s == "" || s == "0x" {
		return nil, nil
	}
	if !strings.HasPrefix(s, "0x") {
		s = "0x" + s
	}
	code, err := hexutil.Decode(s)
	if err != nil {
		return nil, fmt.Errorf("invalid bytecode: %w", err)
	}
	return code, nil
}
