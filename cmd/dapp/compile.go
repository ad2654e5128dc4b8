package main

import (
	"fmt"
	"os"
	"path/filepath"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/altuslabsxyz/dapp-builder/pkg/chain"
)

type compiledEntry struct {
	Name        string `json:"name"`
	Source      string `json:"source"`
	SourceID    string `json:"source_id"`
	Fingerprint string `json:"fingerprint"`
	Functions   int    `json:"functions"`
	Events      int    `json:"events"`
	Deployable  bool   `json:"deployable"`
}

func newCompileCmd(a *app) *cobra.Command {
	var compiler string

	cmd := &cobra.Command{
		Use:   "compile <file>...",
		Short: "Compile contract sources into contract types",
		Long: `Compile contract sources into contract types and store them in the
contract cache. The compiler is chosen by file extension unless
--compiler is given. Sources whose content has not changed are served
from the cache without recompiling. Cached entries for sources that
have changed since they were compiled are dropped when the cache opens.

Examples:
  dapp compile out/Token.sol/Token.json
  dapp compile --compiler abi-json abis/*.abi`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := a.Container()
			if err != nil {
				return err
			}
			reg, err := c.Contracts()
			if err != nil {
				return err
			}

			var entries []compiledEntry
			for _, path := range args {
				content, err := os.ReadFile(path)
				if err != nil {
					return fmt.Errorf("failed to read %s: %w", path, err)
				}
				abs, err := filepath.Abs(path)
				if err != nil {
					return err
				}
				types, err := reg.Compile(cmd.Context(), compiler, abs, content)
				if err != nil {
					return err
				}
				for _, ct := range types {
					entries = append(entries, newCompiledEntry(path, ct))
				}
				a.logger.Debug("Compiled %s (%d contract types)", path, len(types))
			}

			if a.logger.IsJSON() {
				return a.logger.JSON(entries)
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "CONTRACT\tSOURCE\tFUNCTIONS\tEVENTS\tFINGERPRINT")
			for _, e := range entries {
				fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%s\n", e.Name, e.Source, e.Functions, e.Events, e.Fingerprint[:18])
			}
			return w.Flush()
		},
	}

	cmd.Flags().StringVar(&compiler, "compiler", "", "Compiler to use instead of choosing by file extension")
	return cmd
}

func newCompiledEntry(path string, ct *chain.ContractType) compiledEntry {
	return compiledEntry{
		Name:        ct.Name,
		Source:      path,
		SourceID:    ct.SourceID,
		Fingerprint: ct.Fingerprint().Hex(),
		Functions:   len(ct.Functions),
		Events:      len(ct.Events),
		Deployable:  len(ct.Bytecode) > 0,
	}
}
