// Package version provides build information and the version command.
package version

import (
	"encoding/json"
	"fmt"
	"runtime"
	"runtime/debug"
	"sort"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/altuslabsxyz/dapp-builder/pkg/plugin"
)

// Build-time variables injected via ldflags:
//
//	-X github.com/altuslabsxyz/dapp-builder/internal/version.Version={{.Version}}
//	-X github.com/altuslabsxyz/dapp-builder/internal/version.GitCommit={{.FullCommit}}
//	-X github.com/altuslabsxyz/dapp-builder/internal/version.BuildDate={{.Date}}
var (
	Version   = "0.1.0-dev"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

// Info contains all version and build information.
type Info struct {
	Name           string   `json:"name" yaml:"name"`
	Version        string   `json:"version" yaml:"version"`
	GitCommit      string   `json:"commit" yaml:"commit"`
	BuildDate      string   `json:"build_date,omitempty" yaml:"build_date,omitempty"`
	GoVersion      string   `json:"go" yaml:"go"`
	PluginProtocol uint     `json:"plugin_protocol" yaml:"plugin_protocol"`
	BuildDeps      []string `json:"build_deps,omitempty" yaml:"build_deps,omitempty"`
}

// NewInfo creates an Info for the named binary.
func NewInfo(name string) Info {
	return Info{
		Name:           name,
		Version:        Version,
		GitCommit:      GitCommit,
		BuildDate:      BuildDate,
		GoVersion:      fmt.Sprintf("go version %s %s/%s", runtime.Version(), runtime.GOOS, runtime.GOARCH),
		PluginProtocol: plugin.Handshake.ProtocolVersion,
	}
}

// WithBuildDeps populates the build dependencies from runtime/debug.
func (i Info) WithBuildDeps() Info {
	buildInfo, ok := debug.ReadBuildInfo()
	if !ok {
		return i
	}

	deps := make([]string, 0, len(buildInfo.Deps))
	for _, dep := range buildInfo.Deps {
		depStr := fmt.Sprintf("%s@%s", dep.Path, dep.Version)
		if dep.Replace != nil {
			depStr = fmt.Sprintf("%s@%s => %s@%s", dep.Path, dep.Version, dep.Replace.Path, dep.Replace.Version)
		}
		deps = append(deps, depStr)
	}
	sort.Strings(deps)
	i.BuildDeps = deps

	return i
}

// String returns a formatted string representation of the version info.
func (i Info) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s version %s\n", i.Name, i.Version)
	fmt.Fprintf(&sb, "  commit:          %s\n", i.GitCommit)
	fmt.Fprintf(&sb, "  build date:      %s\n", i.BuildDate)
	fmt.Fprintf(&sb, "  go:              %s\n", i.GoVersion)
	fmt.Fprintf(&sb, "  plugin protocol: %d\n", i.PluginProtocol)
	return sb.String()
}

// LongString returns the YAML form including build dependencies.
func (i Info) LongString() string {
	data, err := yaml.Marshal(i)
	if err != nil {
		return i.String()
	}
	return string(data)
}

// JSON returns the version info as a JSON string.
func (i Info) JSON() (string, error) {
	data, err := json.MarshalIndent(i, "", "  ")
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// NewCmd creates the version command.
func NewCmd(name string) *cobra.Command {
	var (
		long       bool
		jsonOutput bool
	)

	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		RunE: func(cmd *cobra.Command, args []string) error {
			info := NewInfo(name)
			if long {
				info = info.WithBuildDeps()
			}

			out := cmd.OutOrStdout()
			if jsonOutput {
				s, err := info.JSON()
				if err != nil {
					return err
				}
				fmt.Fprintln(out, s)
				return nil
			}
			if long {
				fmt.Fprint(out, info.LongString())
			} else {
				fmt.Fprint(out, info.String())
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&long, "long", false, "Show detailed version info including build dependencies")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output version info in JSON format")

	return cmd
}
