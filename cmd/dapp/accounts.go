package main

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/spf13/cobra"

	"github.com/altuslabsxyz/dapp-builder/internal/accounts"
	"github.com/altuslabsxyz/dapp-builder/internal/backends/keystore"
	"github.com/altuslabsxyz/dapp-builder/internal/output"
	"github.com/altuslabsxyz/dapp-builder/pkg/chain"
)

func newAccountsCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "accounts",
		Short: "Manage signing accounts",
		Long: `Manage the accounts available for signing.

Accounts come from every registered account backend: the built-in test
accounts derived from the test mnemonic, the encrypted keystore under
<home>/keystore and any account plugins.

Keystore passphrases are read from DAPP_KEYSTORE_PASSPHRASE when set,
otherwise they are prompted for.`,
	}

	cmd.AddCommand(
		newAccountsListCmd(a),
		newAccountsNewCmd(a),
		newAccountsImportCmd(a),
		newAccountsSignMessageCmd(a),
	)
	return cmd
}

func newAccountsListCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:     "list",
		Short:   "List accounts from every backend",
		Aliases: []string{"ls"},
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := a.Container()
			if err != nil {
				return err
			}

			var list []accounts.Account
			for acct := range c.Accounts().Accounts(cmd.Context()) {
				list = append(list, acct)
			}

			if a.logger.IsJSON() {
				return a.logger.JSON(list)
			}
			if len(list) == 0 {
				a.logger.Info("No accounts. Create one with: dapp accounts new")
				return nil
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ADDRESS\tBACKEND")
			for _, acct := range list {
				fmt.Fprintf(w, "%s\t%s\n", acct.Address.Hex(), acct.Backend)
			}
			return w.Flush()
		},
	}
}

func newAccountsNewCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "new",
		Short: "Create a keystore account",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := a.Container()
			if err != nil {
				return err
			}
			pass, err := newPassphrase()
			if err != nil {
				return err
			}
			addr, err := c.Keystore().NewAccount(pass)
			if err != nil {
				return err
			}
			return a.printAccount(addr, "Created account")
		},
	}
}

func newAccountsImportCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "import [key-file]",
		Short: "Import a hex private key into the keystore",
		Long: `Import a hex-encoded private key into the keystore.

The key is read from key-file, or prompted for when no file is given.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := a.Container()
			if err != nil {
				return err
			}

			var key string
			if len(args) == 1 {
				data, err := os.ReadFile(args[0])
				if err != nil {
					return fmt.Errorf("failed to read key file: %w", err)
				}
				key = strings.TrimSpace(string(data))
			} else {
				key, err = output.PassphrasePrompt("Private key", false)
				if err != nil {
					return err
				}
			}

			pass, err := newPassphrase()
			if err != nil {
				return err
			}
			addr, err := c.Keystore().Import(key, pass)
			if err != nil {
				return err
			}
			return a.printAccount(addr, "Imported account")
		},
	}
}

func newAccountsSignMessageCmd(a *app) *cobra.Command {
	var (
		from     string
		hexInput bool
	)

	cmd := &cobra.Command{
		Use:   "sign-message <message>",
		Short: "Sign a message with the personal-message prefix",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			addr, err := parseAddress("from", from)
			if err != nil {
				return err
			}
			msg := []byte(args[0])
			if hexInput {
				if msg, err = hexutil.Decode(args[0]); err != nil {
					return fmt.Errorf("invalid hex message: %w", err)
				}
			}

			c, err := a.Container()
			if err != nil {
				return err
			}
			signer, err := c.Accounts().Signer(cmd.Context(), addr)
			if err != nil {
				return err
			}
			sig, err := c.Accounts().SignMessage(cmd.Context(), signer, msg)
			if err != nil {
				return err
			}

			if a.logger.IsJSON() {
				return a.logger.JSON(map[string]string{
					"address":   addr.Hex(),
					"signature": hexutil.Encode(sig),
				})
			}
			fmt.Fprintln(cmd.OutOrStdout(), hexutil.Encode(sig))
			return nil
		},
	}

	cmd.Flags().StringVar(&from, "from", "", "Signing account address")
	cmd.Flags().BoolVar(&hexInput, "hex", false, "Treat the message as 0x-prefixed hex bytes")
	_ = cmd.MarkFlagRequired("from")
	return cmd
}

func (a *app) printAccount(addr chain.Address, label string) error {
	if a.logger.IsJSON() {
		return a.logger.JSON(accounts.Account{Address: addr, Backend: keystore.ProviderName})
	}
	a.logger.Success("%s %s", label, addr.Hex())
	return nil
}

// newPassphrase reads the passphrase for a new key, asking twice when
// prompting.
func newPassphrase() (string, error) {
	if pass, ok := os.LookupEnv(envPassphrase); ok {
		return pass, nil
	}
	return output.PassphrasePrompt("Passphrase", true)
}

func parseAddress(flag, s string) (chain.Address, error) {
	if !chain.IsHexAddress(s) {
		return chain.Address{}, fmt.Errorf("--%s: %q is not an address", flag, s)
	}
	return chain.HexToAddress(s), nil
}
