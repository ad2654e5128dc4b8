package main

import (
	"context"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

func newNetworksCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "networks",
		Short: "List and check configured networks",
		Long: `List and check the networks defined in dapp-config.yaml.

Networks are addressed as ecosystem/network/provider, for example
ethereum/mainnet/infura. The provider segment may be left out when the
network has a default provider.`,
	}

	cmd.AddCommand(
		newNetworksListCmd(a),
		newNetworksPingCmd(a),
	)
	return cmd
}

type networkEntry struct {
	ID      string `json:"id"`
	Plugin  string `json:"plugin"`
	ChainID uint64 `json:"chain_id,omitempty"`
	URI     string `json:"uri,omitempty"`
	Default bool   `json:"default"`
}

func newNetworksListCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:     "list",
		Short:   "List configured network identifiers",
		Aliases: []string{"ls"},
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := a.Container()
			if err != nil {
				return err
			}

			var entries []networkEntry
			for id, isDefault := range c.Networks().Networks() {
				h, err := c.Networks().ResolveIdentifier(id)
				if err != nil {
					// Configured but its plugin is missing; list it anyway.
					entries = append(entries, networkEntry{ID: id.String(), Plugin: "-", Default: isDefault})
					continue
				}
				entries = append(entries, networkEntry{
					ID:      id.String(),
					Plugin:  h.Plugin,
					ChainID: h.Config.ChainID,
					URI:     h.Config.URI,
					Default: isDefault,
				})
			}

			if a.logger.IsJSON() {
				return a.logger.JSON(entries)
			}
			if len(entries) == 0 {
				a.logger.Info("No networks configured.")
				return nil
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "IDENTIFIER\tPLUGIN\tCHAIN ID\tDEFAULT")
			for _, e := range entries {
				chainID := "-"
				if e.ChainID != 0 {
					chainID = fmt.Sprintf("%d", e.ChainID)
				}
				def := ""
				if e.Default {
					def = "*"
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", e.ID, e.Plugin, chainID, def)
			}
			return w.Flush()
		},
	}
}

type pingResult struct {
	ID          string        `json:"id"`
	ChainID     uint64        `json:"chain_id"`
	BlockNumber uint64        `json:"block_number"`
	Latency     time.Duration `json:"latency_ns"`
	State       string        `json:"state"`
}

func newNetworksPingCmd(a *app) *cobra.Command {
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "ping [network]",
		Short: "Connect to a network and verify its chain id",
		Long: `Connect to a network, verify that the endpoint reports the configured
chain id and fetch the latest block. Without an argument the
default_network is used.

Examples:
  dapp networks ping
  dapp networks ping ethereum/sepolia/alchemy`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := a.Container()
			if err != nil {
				return err
			}
			var target string
			if len(args) == 1 {
				target = args[0]
			}
			h, err := c.Networks().Resolve(target)
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			conn := h.Connection()
			start := time.Now()
			if err := conn.Connect(ctx); err != nil {
				return fmt.Errorf("failed to connect to %s: %w", h.ID, err)
			}
			chainID, err := conn.ChainID(ctx)
			if err != nil {
				return err
			}
			block, err := conn.GetBlock(ctx, nil)
			if err != nil {
				return fmt.Errorf("failed to fetch latest block: %w", err)
			}

			res := pingResult{
				ID:          h.ID.String(),
				ChainID:     chainID,
				BlockNumber: block.Number,
				Latency:     time.Since(start),
				State:       conn.State().String(),
			}
			if a.logger.IsJSON() {
				return a.logger.JSON(res)
			}
			a.logger.Success("%s is reachable", res.ID)
			a.logger.Info("  chain id:     %d", res.ChainID)
			a.logger.Info("  latest block: %d", res.BlockNumber)
			a.logger.Info("  latency:      %s", res.Latency.Round(time.Millisecond))
			return nil
		},
	}

	cmd.Flags().DurationVar(&timeout, "timeout", 30*time.Second, "Overall timeout for the check")
	return cmd
}
