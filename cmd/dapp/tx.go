package main

import (
	"fmt"
	"math/big"
	"os"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/spf13/cobra"

	"github.com/altuslabsxyz/dapp-builder/internal/accounts"
	"github.com/altuslabsxyz/dapp-builder/internal/di"
	"github.com/altuslabsxyz/dapp-builder/internal/networks"
	"github.com/altuslabsxyz/dapp-builder/internal/output"
	"github.com/altuslabsxyz/dapp-builder/internal/txmanager"
	"github.com/altuslabsxyz/dapp-builder/pkg/chain"
)

func newTxCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tx",
		Short: "Send transactions and wait for receipts",
		Long: `Send transactions and wait for receipts.

Nonces are assigned per sender, gas is estimated and fees are taken from
the network unless given explicitly. A transaction that would revert is
reported with its decoded reason instead of being sent.`,
	}

	cmd.AddCommand(
		newTxSendCmd(a),
		newTxDeployCmd(a),
		newTxWaitCmd(a),
	)
	return cmd
}

// txFlags are the request flags shared by send and deploy.
type txFlags struct {
	network     string
	from        string
	value       string
	gas         uint64
	gasPrice    string
	maxFee      string
	priorityFee string
	nonce       uint64
	wait        bool
	timeout     time.Duration
}

func (f *txFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&f.network, "network", "n", "", "Network identifier (default: default_network)")
	cmd.Flags().StringVar(&f.from, "from", "", "Sending account address (prompted for when omitted on a terminal)")
	cmd.Flags().StringVar(&f.value, "value", "", "Value in wei (decimal or 0x hex)")
	cmd.Flags().Uint64Var(&f.gas, "gas", 0, "Gas limit (default: estimated)")
	cmd.Flags().StringVar(&f.gasPrice, "gas-price", "", "Legacy gas price in wei")
	cmd.Flags().StringVar(&f.maxFee, "max-fee", "", "EIP-1559 max fee per gas in wei")
	cmd.Flags().StringVar(&f.priorityFee, "priority-fee", "", "EIP-1559 max priority fee per gas in wei")
	cmd.Flags().Uint64Var(&f.nonce, "nonce", 0, "Explicit nonce (default: next pending nonce)")
	cmd.Flags().BoolVar(&f.wait, "wait", false, "Wait for the receipt")
	cmd.Flags().DurationVar(&f.timeout, "timeout", txmanager.DefaultConfirmTimeout, "How long --wait waits for the receipt")
	cmd.MarkFlagsMutuallyExclusive("gas-price", "max-fee")
	cmd.MarkFlagsMutuallyExclusive("gas-price", "priority-fee")
}

func (f *txFlags) request(cmd *cobra.Command) (txmanager.Request, error) {
	var (
		req txmanager.Request
		err error
	)
	if req.Value, err = parseWei("value", f.value); err != nil {
		return req, err
	}
	if req.GasPrice, err = parseWei("gas-price", f.gasPrice); err != nil {
		return req, err
	}
	if req.GasFeeCap, err = parseWei("max-fee", f.maxFee); err != nil {
		return req, err
	}
	if req.GasTipCap, err = parseWei("priority-fee", f.priorityFee); err != nil {
		return req, err
	}
	req.Gas = f.gas
	if cmd.Flags().Changed("nonce") {
		nonce := f.nonce
		req.Nonce = &nonce
	}
	return req, nil
}

func parseWei(flag, s string) (*big.Int, error) {
	if s == "" {
		return nil, nil
	}
	v, ok := new(big.Int).SetString(s, 0)
	if !ok || v.Sign() < 0 {
		return nil, fmt.Errorf("--%s: %q is not a non-negative integer", flag, s)
	}
	return v, nil
}

// session is a resolved network with its transaction manager.
type session struct {
	c      *di.Container
	handle *networks.Handle
	tm     *txmanager.Manager
}

func (s *session) signer(cmd *cobra.Command, from chain.Address) (*accounts.Signer, error) {
	return s.c.Accounts().Signer(cmd.Context(), from)
}

// sender parses --from, or lets the user pick an account when it is omitted
// on an interactive terminal.
func (a *app) sender(cmd *cobra.Command, from string) (chain.Address, error) {
	if from != "" {
		return parseAddress("from", from)
	}
	if !output.IsInteractive() || a.logger.IsJSON() {
		return chain.Address{}, fmt.Errorf("--from is required")
	}
	c, err := a.Container()
	if err != nil {
		return chain.Address{}, err
	}
	var (
		list  []accounts.Account
		items []output.SelectItem
	)
	for acct := range c.Accounts().Accounts(cmd.Context()) {
		list = append(list, acct)
		items = append(items, output.SelectItem{Name: acct.Address.Hex(), Description: acct.Backend})
	}
	i, err := output.SelectPrompt("Select sending account", items)
	if err != nil {
		return chain.Address{}, err
	}
	return list[i].Address, nil
}

func (a *app) session(network string) (*session, error) {
	c, err := a.Container()
	if err != nil {
		return nil, err
	}
	h, err := c.Networks().Resolve(network)
	if err != nil {
		return nil, err
	}
	tm, err := c.TxManager(h)
	if err != nil {
		return nil, err
	}
	return &session{c: c, handle: h, tm: tm}, nil
}

func newTxSendCmd(a *app) *cobra.Command {
	var (
		f    txFlags
		to   string
		data string
	)

	cmd := &cobra.Command{
		Use:   "send",
		Short: "Sign and send a transaction",
		Long: `Sign and send a transaction.

Examples:
  # Transfer 1 ether on the built-in simulated chain
  dapp tx send --from 0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266 \
    --to 0x70997970C51812dc3A010C7d01b50e0d17dc79C8 --value 1000000000000000000 --wait

  # Call a contract function with pre-encoded calldata
  dapp tx send -n ethereum/sepolia --from 0x... --to 0x... --data 0xa9059cbb...`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			from, err := a.sender(cmd, f.from)
			if err != nil {
				return err
			}
			req, err := f.request(cmd)
			if err != nil {
				return err
			}
			if to != "" {
				addr, err := parseAddress("to", to)
				if err != nil {
					return err
				}
				req.To = &addr
			}
			if data != "" {
				if req.Data, err = hexutil.Decode(data); err != nil {
					return fmt.Errorf("--data: %w", err)
				}
			}
			if req.To == nil && len(req.Data) == 0 {
				return fmt.Errorf("either --to or --data is required")
			}

			s, err := a.session(f.network)
			if err != nil {
				return err
			}
			signer, err := s.signer(cmd, from)
			if err != nil {
				return err
			}
			sub, err := s.tm.Send(cmd.Context(), signer, req)
			if err != nil {
				return err
			}
			return a.reportSubmitted(cmd, s, sub, f.wait, f.timeout)
		},
	}

	f.register(cmd)
	cmd.Flags().StringVar(&to, "to", "", "Recipient address (omit to create a contract from --data)")
	cmd.Flags().StringVar(&data, "data", "", "0x-prefixed calldata")
	return cmd
}

func newTxDeployCmd(a *app) *cobra.Command {
	var (
		f        txFlags
		contract string
		compiler string
	)

	cmd := &cobra.Command{
		Use:   "deploy <artifact>",
		Short: "Deploy a compiled contract",
		Long: `Compile the artifact if needed and deploy one of its contracts. Only
contracts whose constructor takes no arguments can be deployed from the
command line.

Examples:
  dapp tx deploy out/Counter.sol/Counter.json --from 0x... --wait`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			from, err := a.sender(cmd, f.from)
			if err != nil {
				return err
			}
			req, err := f.request(cmd)
			if err != nil {
				return err
			}

			c, err := a.Container()
			if err != nil {
				return err
			}
			reg, err := c.Contracts()
			if err != nil {
				return err
			}
			content, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("failed to read %s: %w", args[0], err)
			}
			types, err := reg.Compile(cmd.Context(), compiler, args[0], content)
			if err != nil {
				return err
			}
			ct, err := pickContract(types, contract)
			if err != nil {
				return err
			}

			s, err := a.session(f.network)
			if err != nil {
				return err
			}
			signer, err := s.signer(cmd, from)
			if err != nil {
				return err
			}
			sub, err := s.tm.Deploy(cmd.Context(), signer, ct, req)
			if err != nil {
				return err
			}
			a.logger.Debug("Deploying %s from %s", ct.Name, args[0])
			return a.reportSubmitted(cmd, s, sub, f.wait, f.timeout)
		},
	}

	f.register(cmd)
	cmd.Flags().StringVar(&contract, "contract", "", "Contract to deploy when the artifact defines several")
	cmd.Flags().StringVar(&compiler, "compiler", "", "Compiler to use instead of choosing by file extension")
	return cmd
}

func pickContract(types []*chain.ContractType, name string) (*chain.ContractType, error) {
	if name == "" {
		if len(types) == 1 {
			return types[0], nil
		}
		names := make([]string, 0, len(types))
		for _, ct := range types {
			names = append(names, ct.Name)
		}
		return nil, fmt.Errorf("artifact defines %d contracts %v; choose one with --contract", len(types), names)
	}
	for _, ct := range types {
		if ct.Name == name {
			return ct, nil
		}
	}
	return nil, fmt.Errorf("artifact does not define contract %q", name)
}

type submittedOutput struct {
	Network string         `json:"network"`
	Hash    chain.Hash     `json:"hash"`
	From    chain.Address  `json:"from"`
	Nonce   uint64         `json:"nonce"`
	Receipt *chain.Receipt `json:"receipt,omitempty"`
}

func (a *app) reportSubmitted(cmd *cobra.Command, s *session, sub *txmanager.Submitted, wait bool, timeout time.Duration) error {
	out := submittedOutput{
		Network: s.handle.ID.String(),
		Hash:    sub.Hash,
		From:    sub.From,
		Nonce:   sub.Nonce,
	}
	a.logger.Success("Submitted %s (nonce %d)", sub.Hash.Hex(), sub.Nonce)

	if wait {
		receipt, err := s.tm.Confirm(cmd.Context(), sub.Hash, timeout)
		if err != nil {
			return err
		}
		out.Receipt = receipt
		if !a.logger.IsJSON() {
			a.printReceipt(receipt)
		}
	}
	if a.logger.IsJSON() {
		return a.logger.JSON(out)
	}
	return nil
}

func newTxWaitCmd(a *app) *cobra.Command {
	var (
		network string
		timeout time.Duration
	)

	cmd := &cobra.Command{
		Use:   "wait <hash>",
		Short: "Wait for a transaction receipt",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := hexutil.Decode(args[0])
			if err != nil || len(raw) != len(chain.Hash{}) {
				return fmt.Errorf("%q is not a transaction hash", args[0])
			}
			s, err := a.session(network)
			if err != nil {
				return err
			}
			receipt, err := s.tm.Confirm(cmd.Context(), common.BytesToHash(raw), timeout)
			if err != nil {
				return err
			}
			if a.logger.IsJSON() {
				return a.logger.JSON(receipt)
			}
			a.printReceipt(receipt)
			return nil
		},
	}

	cmd.Flags().StringVarP(&network, "network", "n", "", "Network identifier (default: default_network)")
	cmd.Flags().DurationVar(&timeout, "timeout", txmanager.DefaultConfirmTimeout, "How long to wait")
	return cmd
}

func (a *app) printReceipt(r *chain.Receipt) {
	switch r.Status {
	case chain.StatusSuccess:
		a.logger.Success("Included in block %d", r.BlockNumber)
	default:
		reason := r.RevertReason
		if reason == "" {
			reason = "no reason given"
		}
		a.logger.Warn("Reverted in block %d: %s", r.BlockNumber, reason)
	}
	a.logger.Info("  gas used: %d", r.GasUsed)
	if r.ContractAddress != nil {
		a.logger.Info("  contract: %s", r.ContractAddress.Hex())
	}
	if len(r.Logs) > 0 {
		a.logger.Info("  logs:     %d", len(r.Logs))
	}
}
