package registry

import (
	"context"
	"fmt"
	"math/big"

	"github.com/altuslabsxyz/dapp-builder/pkg/chain"
	"github.com/altuslabsxyz/dapp-builder/pkg/plugin"
)

type ident struct {
	name string
	kind plugin.Kind
}

// guard runs fn and converts a panic into a *ProviderFaultError.
func guard[T any](id ident, op string, fn func() (T, error)) (result T, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			var zero T
			result = zero
			err = &ProviderFaultError{Plugin: id.name, Kind: id.kind, Op: op, Panic: rec}
		}
	}()
	return fn()
}

func wrap(id ident, p plugin.Provider) (plugin.Provider, error) {
	switch id.kind {
	case plugin.KindNetwork:
		np, ok := p.(plugin.NetworkProvider)
		if !ok {
			return nil, contractViolation(id, "NetworkProvider")
		}
		return &guardedNetwork{id: id, inner: np}, nil
	case plugin.KindCompiler:
		c, ok := p.(plugin.Compiler)
		if !ok {
			return nil, contractViolation(id, "Compiler")
		}
		return &guardedCompiler{id: id, inner: c}, nil
	case plugin.KindAccounts:
		a, ok := p.(plugin.AccountBackend)
		if !ok {
			return nil, contractViolation(id, "AccountBackend")
		}
		return &guardedAccounts{id: id, inner: a}, nil
	}
	return nil, contractViolation(id, "a known kind")
}

func contractViolation(id ident, want string) error {
	return &ProviderFaultError{
		Plugin: id.name,
		Kind:   id.kind,
		Op:     "register",
		Err:    fmt.Errorf("does not implement %s", want),
	}
}

// Unwrap returns the provider as originally registered.
func Unwrap(p plugin.Provider) plugin.Provider {
	switch g := p.(type) {
	case *guardedNetwork:
		return g.inner
	case *guardedCompiler:
		return g.inner
	case *guardedAccounts:
		return g.inner
	}
	return p
}

// =============================================================================
// Network providers and their backends
// =============================================================================

type guardedNetwork struct {
	id    ident
	inner plugin.NetworkProvider
}

func (g *guardedNetwork) Name() string      { return g.id.name }
func (g *guardedNetwork) Kind() plugin.Kind { return g.id.kind }

func (g *guardedNetwork) Open(ctx context.Context, endpoint plugin.Endpoint) (plugin.Backend, error) {
	b, err := guard(g.id, "open", func() (plugin.Backend, error) {
		return g.inner.Open(ctx, endpoint)
	})
	if err != nil {
		return nil, err
	}
	if b == nil {
		return nil, &ProviderFaultError{Plugin: g.id.name, Kind: g.id.kind, Op: "open", Err: fmt.Errorf("returned nil backend")}
	}
	return &guardedBackend{id: g.id, inner: b}, nil
}

type guardedBackend struct {
	id    ident
	inner plugin.Backend
}

func (g *guardedBackend) ChainID(ctx context.Context) (uint64, error) {
	return guard(g.id, "chain_id", func() (uint64, error) {
		return g.inner.ChainID(ctx)
	})
}

func (g *guardedBackend) BalanceAt(ctx context.Context, addr chain.Address, block *big.Int) (*big.Int, error) {
	return guard(g.id, "get_balance", func() (*big.Int, error) {
		return g.inner.BalanceAt(ctx, addr, block)
	})
}

func (g *guardedBackend) PendingNonceAt(ctx context.Context, addr chain.Address) (uint64, error) {
	return guard(g.id, "get_nonce", func() (uint64, error) {
		return g.inner.PendingNonceAt(ctx, addr)
	})
}

func (g *guardedBackend) Call(ctx context.Context, msg chain.CallMsg, block *big.Int) ([]byte, error) {
	return guard(g.id, "call", func() ([]byte, error) {
		return g.inner.Call(ctx, msg, block)
	})
}

func (g *guardedBackend) EstimateGas(ctx context.Context, msg chain.CallMsg) (uint64, error) {
	return guard(g.id, "estimate_gas", func() (uint64, error) {
		return g.inner.EstimateGas(ctx, msg)
	})
}

func (g *guardedBackend) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	return guard(g.id, "gas_price", func() (*big.Int, error) {
		return g.inner.SuggestGasPrice(ctx)
	})
}

func (g *guardedBackend) SendRawTransaction(ctx context.Context, raw []byte) (chain.Hash, error) {
	return guard(g.id, "send_raw_transaction", func() (chain.Hash, error) {
		return g.inner.SendRawTransaction(ctx, raw)
	})
}

func (g *guardedBackend) Receipt(ctx context.Context, hash chain.Hash) (*chain.Receipt, error) {
	return guard(g.id, "get_receipt", func() (*chain.Receipt, error) {
		return g.inner.Receipt(ctx, hash)
	})
}

func (g *guardedBackend) HasTransaction(ctx context.Context, hash chain.Hash) (bool, error) {
	return guard(g.id, "get_transaction", func() (bool, error) {
		return g.inner.HasTransaction(ctx, hash)
	})
}

func (g *guardedBackend) BlockByNumber(ctx context.Context, number *big.Int) (*chain.Block, error) {
	return guard(g.id, "get_block", func() (*chain.Block, error) {
		return g.inner.BlockByNumber(ctx, number)
	})
}

func (g *guardedBackend) Close() error {
	_, err := guard(g.id, "close", func() (struct{}, error) {
		return struct{}{}, g.inner.Close()
	})
	return err
}

// =============================================================================
// Compilers
// =============================================================================

type guardedCompiler struct {
	id    ident
	inner plugin.Compiler
}

func (g *guardedCompiler) Name() string      { return g.id.name }
func (g *guardedCompiler) Kind() plugin.Kind { return g.id.kind }

func (g *guardedCompiler) Extensions() []string {
	exts, err := guard(g.id, "extensions", func() ([]string, error) {
		return g.inner.Extensions(), nil
	})
	if err != nil {
		return nil
	}
	return exts
}

func (g *guardedCompiler) Compile(ctx context.Context, path string, content []byte) ([]*chain.ContractType, error) {
	return guard(g.id, "compile", func() ([]*chain.ContractType, error) {
		return g.inner.Compile(ctx, path, content)
	})
}

// =============================================================================
// Account backends
// =============================================================================

type guardedAccounts struct {
	id    ident
	inner plugin.AccountBackend
}

func (g *guardedAccounts) Name() string      { return g.id.name }
func (g *guardedAccounts) Kind() plugin.Kind { return g.id.kind }

func (g *guardedAccounts) Accounts(ctx context.Context) ([]chain.Address, error) {
	return guard(g.id, "accounts", func() ([]chain.Address, error) {
		return g.inner.Accounts(ctx)
	})
}

func (g *guardedAccounts) SignTransaction(ctx context.Context, addr chain.Address, tx *chain.Transaction) ([]byte, error) {
	return guard(g.id, "sign_transaction", func() ([]byte, error) {
		return g.inner.SignTransaction(ctx, addr, tx)
	})
}

func (g *guardedAccounts) SignMessage(ctx context.Context, addr chain.Address, msg []byte) ([]byte, error) {
	return guard(g.id, "sign_message", func() ([]byte, error) {
		return g.inner.SignMessage(ctx, addr, msg)
	})
}
