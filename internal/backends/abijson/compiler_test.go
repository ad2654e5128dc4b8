package abijson

import (
	"context"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const counterABI = `[{"type":"function","name":"count","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},{"type":"function","name":"increment","stateMutability":"nonpayable","inputs":[],"outputs":[]}]`

func TestCompile_Formats(t *testing.T) {
	tests := []struct {
		name     string
		path     string
		content  string
		wantName []string
		wantCode []byte
	}{
		{
			name:     "bare abi",
			path:     "abis/Counter.abi",
			content:  counterABI,
			wantName: []string{"Counter"},
		},
		{
			name:     "hardhat artifact",
			path:     "artifacts/Counter.json",
			content:  `{"contractName":"MyCounter","abi":` + counterABI + `,"bytecode":"0x6080"}`,
			wantName: []string{"MyCounter"},
			wantCode: []byte{0x60, 0x80},
		},
		{
			name:     "foundry artifact",
			path:     "out/Counter.sol/Counter.json",
			content:  `{"abi":` + counterABI + `,"bytecode":{"object":"0x6080","linkReferences":{}}}`,
			wantName: []string{"Counter"},
			wantCode: []byte{0x60, 0x80},
		},
		{
			name: "solc combined json",
			path: "build/combined.json",
			content: `{"contracts":{
				"contracts/Vault.sol:Vault":{"abi":` + counterABI + `,"bin":"6001"},
				"contracts/Counter.sol:Counter":{"abi":` + strconv.Quote(counterABI) + `,"bin":"6080"}
			}}`,
			wantName: []string{"Counter", "Vault"},
			wantCode: []byte{0x60, 0x80},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			types, err := New().Compile(context.Background(), tt.path, []byte(tt.content))
			require.NoError(t, err)
			require.Len(t, types, len(tt.wantName))
			for i, name := range tt.wantName {
				assert.Equal(t, name, types[i].Name)
			}
			assert.Equal(t, tt.wantCode, []byte(types[0].Bytecode))
			fn, ok := types[0].Function("increment")
			require.True(t, ok)
			assert.False(t, fn.ReadOnly())
		})
	}
}

func TestCompile_Invalid(t *testing.T) {
	tests := map[string]string{
		"empty":        "  ",
		"not json":     "{nope",
		"no abi":       `{"bytecode":"0x00"}`,
		"bad bytecode": `{"abi":[],"bytecode":"0xzz"}`,
		"bad abi":      `[{"type":"function","name":"f","inputs":[{"type":"uint7"}]}]`,
	}
	for name, content := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := New().Compile(context.Background(), "X.json", []byte(content))
			assert.Error(t, err)
		})
	}
}
