package version

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewCmd(t *testing.T) {
	tests := []struct {
		name     string
		args     []string
		contains string
	}{
		{name: "plain", args: nil, contains: "dapp version " + Version},
		{name: "long", args: []string{"--long"}, contains: "plugin_protocol: 1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			cmd := NewCmd("dapp")
			cmd.SetOut(&buf)
			cmd.SetArgs(tt.args)
			require.NoError(t, cmd.Execute())
			assert.Contains(t, buf.String(), tt.contains)
		})
	}
}

func TestNewCmd_JSON(t *testing.T) {
	var buf bytes.Buffer
	cmd := NewCmd("dapp")
	cmd.SetOut(&buf)
	cmd.SetArgs([]string{"--json"})
	require.NoError(t, cmd.Execute())

	var info Info
	require.NoError(t, json.Unmarshal(buf.Bytes(), &info))
	assert.Equal(t, "dapp", info.Name)
	assert.Equal(t, Version, info.Version)
}
