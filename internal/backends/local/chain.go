// Package local implements the "mock" network provider: an in-process
// simulated chain with programmable reverts and fault injection.
//
// The chain validates nonces, chain ids and balances the way a node would,
// mines every accepted transaction into its own block by default, and never
// applies the same transaction twice.
package local

import (
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/crypto"

	"github.com/altuslabsxyz/dapp-builder/pkg/chain"
	"github.com/altuslabsxyz/dapp-builder/pkg/plugin"
)

// ProviderName is the network plugin name of the simulated chain.
const ProviderName = "mock"

// Gas schedule used by EstimateGas and receipts.
const (
	TxGas            = 21000
	TxCreateGas      = 53000
	TxDataZeroGas    = 4
	TxDataNonZeroGas = 16
	BlockGasLimit    = 30_000_000
)

// ErrInjected is returned by operations failed through FailNext.
var ErrInjected = errors.New("mock: connection reset by peer")

// Chain is the simulated chain state. It is safe for concurrent use.
type Chain struct {
	mu sync.Mutex

	chainID  uint64
	gasPrice *big.Int
	clock    func() time.Time

	balances map[chain.Address]*big.Int
	nonces   map[chain.Address]uint64
	code     map[chain.Address][]byte
	results  map[chain.Address][]byte
	reverts  map[chain.Address][]byte

	blocks   []*chain.Block
	pending  []*chain.SignedTransaction
	receipts map[chain.Hash]*chain.Receipt
	seen     map[chain.Hash]struct{}
	applied  map[chain.Hash]int

	autoMine           bool
	omitRevertData     bool
	failNext           int
	dropNextSubmission bool
}

// Option configures a Chain.
type Option func(*Chain)

// WithChainID sets the chain id. The default is 1337.
func WithChainID(id uint64) Option {
	return func(c *Chain) {
		c.chainID = id
	}
}

// WithGasPrice sets the price returned by SuggestGasPrice.
func WithGasPrice(price *big.Int) Option {
	return func(c *Chain) {
		c.gasPrice = new(big.Int).Set(price)
	}
}

// WithFunds credits amount to every address.
func WithFunds(amount *big.Int, addrs ...chain.Address) Option {
	return func(c *Chain) {
		for _, a := range addrs {
			c.balances[a] = new(big.Int).Set(amount)
		}
	}
}

// WithoutRevertDataInReceipts makes receipts of reverted transactions carry
// no revert data, like most real nodes.
func WithoutRevertDataInReceipts() Option {
	return func(c *Chain) {
		c.omitRevertData = true
	}
}

// WithClock sets the block timestamp source.
func WithClock(clock func() time.Time) Option {
	return func(c *Chain) {
		c.clock = clock
	}
}

// NewChain creates a chain holding only the genesis block.
func NewChain(opts ...Option) *Chain {
	c := &Chain{
		chainID:  1337,
		gasPrice: big.NewInt(1_000_000_000),
		clock:    time.Now,
		balances: make(map[chain.Address]*big.Int),
		nonces:   make(map[chain.Address]uint64),
		code:     make(map[chain.Address][]byte),
		results:  make(map[chain.Address][]byte),
		reverts:  make(map[chain.Address][]byte),
		receipts: make(map[chain.Hash]*chain.Receipt),
		seen:     make(map[chain.Hash]struct{}),
		applied:  make(map[chain.Hash]int),
		autoMine: true,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.blocks = []*chain.Block{{
		Number:    0,
		Hash:      crypto.Keccak256Hash([]byte("genesis"), new(big.Int).SetUint64(c.chainID).Bytes()),
		Timestamp: c.clock(),
		GasLimit:  BlockGasLimit,
		BaseFee:   big.NewInt(0),
	}}
	return c
}

// =============================================================================
// Test knobs
// =============================================================================

// SetChainID changes the chain id reported from now on.
func (c *Chain) SetChainID(id uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.chainID = id
}

// Fund sets the balance of addr.
func (c *Chain) Fund(addr chain.Address, amount *big.Int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.balances[addr] = new(big.Int).Set(amount)
}

// SetRevert makes every call and transaction to addr revert with reason.
// An empty reason clears it.
func (c *Chain) SetRevert(addr chain.Address, reason string) {
	if reason == "" {
		c.SetRevertData(addr, nil)
		return
	}
	c.SetRevertData(addr, chain.EncodeRevert(reason))
}

// SetRevertData makes addr revert with raw revert data, e.g. a custom error.
func (c *Chain) SetRevertData(addr chain.Address, data []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if data == nil {
		delete(c.reverts, addr)
		return
	}
	c.reverts[addr] = append([]byte(nil), data...)
}

// SetCallResult sets the bytes returned by calls to addr.
func (c *Chain) SetCallResult(addr chain.Address, result []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.results[addr] = append([]byte(nil), result...)
}

// FailNext makes the next n backend operations fail with ErrInjected.
func (c *Chain) FailNext(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failNext = n
}

// DropNextSubmission makes the next accepted transaction report a transport
// error to the sender even though the chain applied it.
func (c *Chain) DropNextSubmission() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.dropNextSubmission = true
}

// SetAutoMine turns per-transaction mining on or off. With it off,
// transactions stay pending until Mine.
func (c *Chain) SetAutoMine(on bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.autoMine = on
}

// Mine seals every pending transaction into one block.
func (c *Chain) Mine() *chain.Block {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mineLocked()
}

// Applied reports how many times the transaction hash changed chain state.
func (c *Chain) Applied(hash chain.Hash) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.applied[hash]
}

// Code returns the code deployed at addr.
func (c *Chain) Code(addr chain.Address) []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]byte(nil), c.code[addr]...)
}

// =============================================================================
// Node behaviour
// =============================================================================

// injectLocked consumes one injected failure.
func (c *Chain) injectLocked() error {
	if c.failNext > 0 {
		c.failNext--
		return ErrInjected
	}
	return nil
}

func (c *Chain) balanceLocked(addr chain.Address) *big.Int {
	if b, ok := c.balances[addr]; ok {
		return b
	}
	return new(big.Int)
}

func (c *Chain) call(msg chain.CallMsg) ([]byte, error) {
	if msg.To == nil {
		return nil, nil
	}
	if data, ok := c.reverts[*msg.To]; ok {
		return nil, revertError(data)
	}
	return append([]byte(nil), c.results[*msg.To]...), nil
}

func revertError(data []byte) *plugin.RevertError {
	reason, _ := chain.DecodeStandardRevert(data)
	return &plugin.RevertError{Reason: reason, Data: append([]byte(nil), data...)}
}

// IntrinsicGas is the gas charged for a transaction with the given payload.
func IntrinsicGas(data []byte, create bool) uint64 {
	gas := uint64(TxGas)
	if create {
		gas = TxCreateGas
	}
	for _, b := range data {
		if b == 0 {
			gas += TxDataZeroGas
		} else {
			gas += TxDataNonZeroGas
		}
	}
	return gas
}

func rejected(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", plugin.ErrRejected, fmt.Sprintf(format, args...))
}

// submit validates and applies raw. The returned error wraps
// plugin.ErrRejected when the transaction was not accepted.
func (c *Chain) submit(raw []byte) (chain.Hash, error) {
	stx, err := chain.DecodeSignedTransaction(raw)
	if err != nil {
		return chain.Hash{}, rejected("%v", err)
	}
	tx := stx.Transaction()
	hash := stx.Hash()

	if _, dup := c.seen[hash]; dup {
		return hash, rejected("already known")
	}
	if tx.ChainID == nil || tx.ChainID.Uint64() != c.chainID {
		return hash, rejected("invalid chain id %v, chain is %d", tx.ChainID, c.chainID)
	}
	if next := c.nonces[tx.From]; tx.Nonce != next {
		if tx.Nonce < next {
			return hash, rejected("nonce too low: next nonce %d, tx nonce %d", next, tx.Nonce)
		}
		return hash, rejected("nonce too high: next nonce %d, tx nonce %d", next, tx.Nonce)
	}
	intrinsic := IntrinsicGas(tx.Data, tx.IsCreate())
	if tx.Gas < intrinsic {
		return hash, rejected("intrinsic gas too low: have %d, want %d", tx.Gas, intrinsic)
	}

	cost := new(big.Int).Mul(new(big.Int).SetUint64(tx.Gas), effectivePrice(tx))
	if tx.Value != nil {
		cost.Add(cost, tx.Value)
	}
	if c.balanceLocked(tx.From).Cmp(cost) < 0 {
		return hash, rejected("insufficient funds for gas * price + value")
	}

	c.seen[hash] = struct{}{}
	c.nonces[tx.From]++
	c.pending = append(c.pending, stx)
	if c.autoMine {
		c.mineLocked()
	}

	if c.dropNextSubmission {
		c.dropNextSubmission = false
		return hash, errors.New("mock: connection lost while waiting for response")
	}
	return hash, nil
}

func effectivePrice(tx *chain.Transaction) *big.Int {
	switch {
	case tx.GasFeeCap != nil:
		return tx.GasFeeCap
	case tx.GasPrice != nil:
		return tx.GasPrice
	default:
		return new(big.Int)
	}
}

// mineLocked executes the pending transactions and appends a block.
func (c *Chain) mineLocked() *chain.Block {
	parent := c.blocks[len(c.blocks)-1]
	number := parent.Number + 1

	block := &chain.Block{
		Number:     number,
		ParentHash: parent.Hash,
		Timestamp:  c.clock(),
		GasLimit:   BlockGasLimit,
		BaseFee:    big.NewInt(0),
	}

	var hashes [][]byte
	for _, stx := range c.pending {
		hashes = append(hashes, stx.Hash().Bytes())
	}
	block.Hash = crypto.Keccak256Hash(append([][]byte{parent.Hash.Bytes(), new(big.Int).SetUint64(number).Bytes()}, hashes...)...)

	for _, stx := range c.pending {
		receipt := c.executeLocked(stx)
		receipt.BlockNumber = number
		receipt.BlockHash = block.Hash
		c.receipts[stx.Hash()] = receipt
		block.GasUsed += receipt.GasUsed
		block.Transactions = append(block.Transactions, stx.Hash())
	}
	c.pending = nil
	c.blocks = append(c.blocks, block)
	return block
}

// executeLocked applies one transaction. Reverted transactions pay for gas
// but transfer nothing.
func (c *Chain) executeLocked(stx *chain.SignedTransaction) *chain.Receipt {
	tx := stx.Transaction()
	gasUsed := IntrinsicGas(tx.Data, tx.IsCreate())

	fee := new(big.Int).Mul(new(big.Int).SetUint64(gasUsed), effectivePrice(tx))
	c.balances[tx.From] = new(big.Int).Sub(c.balanceLocked(tx.From), fee)
	c.applied[stx.Hash()]++

	receipt := &chain.Receipt{
		TxHash:  stx.Hash(),
		Status:  chain.StatusSuccess,
		GasUsed: gasUsed,
	}

	if tx.To != nil {
		if data, ok := c.reverts[*tx.To]; ok {
			receipt.Status = chain.StatusReverted
			if !c.omitRevertData {
				receipt.RevertData = append([]byte(nil), data...)
				receipt.RevertReason, _ = chain.DecodeStandardRevert(data)
			}
			return receipt
		}
	}

	value := tx.Value
	if value == nil {
		value = new(big.Int)
	}
	c.balances[tx.From] = new(big.Int).Sub(c.balanceLocked(tx.From), value)

	to := tx.To
	if to == nil {
		addr := crypto.CreateAddress(tx.From, tx.Nonce)
		c.code[addr] = append([]byte(nil), tx.Data...)
		receipt.ContractAddress = &addr
		to = &addr
	}
	c.balances[*to] = new(big.Int).Add(c.balanceLocked(*to), value)
	return receipt
}
