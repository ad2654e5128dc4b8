package local

import (
	"context"
	"errors"
	"math/big"
	"sync/atomic"

	"github.com/altuslabsxyz/dapp-builder/pkg/chain"
	"github.com/altuslabsxyz/dapp-builder/pkg/plugin"
)

// ErrClosed is returned by a backend after Close.
var ErrClosed = errors.New("mock: backend closed")

// Network serves one shared Chain to every connection.
type Network struct {
	chain *Chain
}

var _ plugin.NetworkProvider = (*Network)(nil)

// NewNetwork creates the provider. A nil chain gets a fresh default chain.
func NewNetwork(c *Chain) *Network {
	if c == nil {
		c = NewChain()
	}
	return &Network{chain: c}
}

func (n *Network) Name() string      { return ProviderName }
func (n *Network) Kind() plugin.Kind { return plugin.KindNetwork }

// Chain returns the simulated chain behind the provider.
func (n *Network) Chain() *Chain { return n.chain }

// Open returns a backend bound to the chain. The endpoint is ignored.
func (n *Network) Open(ctx context.Context, _ plugin.Endpoint) (plugin.Backend, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	n.chain.mu.Lock()
	defer n.chain.mu.Unlock()
	if err := n.chain.injectLocked(); err != nil {
		return nil, err
	}
	return &backend{chain: n.chain}, nil
}

type backend struct {
	chain  *Chain
	closed atomic.Bool
}

// lock takes the chain lock after checking the backend is usable. On
// success the caller must unlock.
func (b *backend) lock(ctx context.Context) error {
	if b.closed.Load() {
		return ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	b.chain.mu.Lock()
	if err := b.chain.injectLocked(); err != nil {
		b.chain.mu.Unlock()
		return err
	}
	return nil
}

func (b *backend) ChainID(ctx context.Context) (uint64, error) {
	if err := b.lock(ctx); err != nil {
		return 0, err
	}
	defer b.chain.mu.Unlock()
	return b.chain.chainID, nil
}

func (b *backend) BalanceAt(ctx context.Context, addr chain.Address, _ *big.Int) (*big.Int, error) {
	if err := b.lock(ctx); err != nil {
		return nil, err
	}
	defer b.chain.mu.Unlock()
	return new(big.Int).Set(b.chain.balanceLocked(addr)), nil
}

func (b *backend) PendingNonceAt(ctx context.Context, addr chain.Address) (uint64, error) {
	if err := b.lock(ctx); err != nil {
		return 0, err
	}
	defer b.chain.mu.Unlock()
	return b.chain.nonces[addr], nil
}

func (b *backend) Call(ctx context.Context, msg chain.CallMsg, _ *big.Int) ([]byte, error) {
	if err := b.lock(ctx); err != nil {
		return nil, err
	}
	defer b.chain.mu.Unlock()
	return b.chain.call(msg)
}

func (b *backend) EstimateGas(ctx context.Context, msg chain.CallMsg) (uint64, error) {
	if err := b.lock(ctx); err != nil {
		return 0, err
	}
	defer b.chain.mu.Unlock()
	if _, err := b.chain.call(msg); err != nil {
		return 0, err
	}
	return IntrinsicGas(msg.Data, msg.To == nil), nil
}

func (b *backend) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	if err := b.lock(ctx); err != nil {
		return nil, err
	}
	defer b.chain.mu.Unlock()
	return new(big.Int).Set(b.chain.gasPrice), nil
}

func (b *backend) SendRawTransaction(ctx context.Context, raw []byte) (chain.Hash, error) {
	if err := b.lock(ctx); err != nil {
		return chain.Hash{}, err
	}
	defer b.chain.mu.Unlock()
	return b.chain.submit(raw)
}

func (b *backend) Receipt(ctx context.Context, hash chain.Hash) (*chain.Receipt, error) {
	if err := b.lock(ctx); err != nil {
		return nil, err
	}
	defer b.chain.mu.Unlock()
	r, ok := b.chain.receipts[hash]
	if !ok {
		return nil, plugin.ErrNotFound
	}
	cp := *r
	return &cp, nil
}

func (b *backend) HasTransaction(ctx context.Context, hash chain.Hash) (bool, error) {
	if err := b.lock(ctx); err != nil {
		return false, err
	}
	defer b.chain.mu.Unlock()
	if _, ok := b.chain.receipts[hash]; ok {
		return true, nil
	}
	for _, stx := range b.chain.pending {
		if stx.Hash() == hash {
			return true, nil
		}
	}
	return false, nil
}

func (b *backend) BlockByNumber(ctx context.Context, number *big.Int) (*chain.Block, error) {
	if err := b.lock(ctx); err != nil {
		return nil, err
	}
	defer b.chain.mu.Unlock()

	blocks := b.chain.blocks
	if number == nil {
		cp := *blocks[len(blocks)-1]
		return &cp, nil
	}
	if !number.IsUint64() || number.Uint64() >= uint64(len(blocks)) {
		return nil, plugin.ErrNotFound
	}
	cp := *blocks[number.Uint64()]
	return &cp, nil
}

func (b *backend) Close() error {
	b.closed.Store(true)
	return nil
}
