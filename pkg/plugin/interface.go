// Package plugin defines the capability contracts that network, compiler and
// account-backend providers implement, plus the helpers for serving those
// providers from an out-of-process plugin binary.
//
// A provider implements Provider and exactly one of the kind interfaces:
//
//	type MyCompiler struct{}
//
//	func (MyCompiler) Name() string      { return "vyper" }
//	func (MyCompiler) Kind() plugin.Kind { return plugin.KindCompiler }
//	// Extensions and Compile ...
package plugin

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/altuslabsxyz/dapp-builder/pkg/chain"
)

// Kind identifies a capability category.
type Kind string

const (
	KindNetwork  Kind = "network"
	KindCompiler Kind = "compiler"
	KindAccounts Kind = "accounts"
)

// Kinds lists every capability kind in display order.
var Kinds = []Kind{KindNetwork, KindCompiler, KindAccounts}

func (k Kind) String() string { return string(k) }

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	switch k {
	case KindNetwork, KindCompiler, KindAccounts:
		return true
	}
	return false
}

// Sentinel errors backends use to classify failures.
var (
	// ErrNotFound means the requested object (receipt, block) does not exist
	// yet. It is never retried.
	ErrNotFound = errors.New("not found")

	// ErrRejected means the node definitely refused a submitted transaction,
	// so it was not broadcast.
	ErrRejected = errors.New("transaction rejected")

	// ErrUnknownAccount means the backend does not manage the address.
	ErrUnknownAccount = errors.New("unknown account")
)

// RevertError is returned by Call and EstimateGas when execution reverts.
type RevertError struct {
	Reason string
	Data   []byte
}

func (e *RevertError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("execution reverted: %s", e.Reason)
	}
	return "execution reverted"
}

// Provider is the common part of every capability provider.
type Provider interface {
	// Name is unique within the provider's kind.
	Name() string
	Kind() Kind
}

// Endpoint is the per-provider network configuration handed to Open.
type Endpoint struct {
	URI     string
	ChainID uint64
	Params  map[string]string
}

// NetworkProvider opens connections to a chain.
type NetworkProvider interface {
	Provider
	Open(ctx context.Context, endpoint Endpoint) (Backend, error)
}

// Backend is an open connection to a node. Implementations do not retry;
// retries and state tracking belong to the caller.
type Backend interface {
	ChainID(ctx context.Context) (uint64, error)
	BalanceAt(ctx context.Context, addr chain.Address, block *big.Int) (*big.Int, error)
	// PendingNonceAt returns the next nonce, including pending transactions.
	PendingNonceAt(ctx context.Context, addr chain.Address) (uint64, error)
	Call(ctx context.Context, msg chain.CallMsg, block *big.Int) ([]byte, error)
	EstimateGas(ctx context.Context, msg chain.CallMsg) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	// SendRawTransaction broadcasts raw. Errors wrapping ErrRejected mean the
	// transaction was definitely not accepted; any other error is ambiguous.
	SendRawTransaction(ctx context.Context, raw []byte) (chain.Hash, error)
	// Receipt returns ErrNotFound while the transaction is pending.
	Receipt(ctx context.Context, hash chain.Hash) (*chain.Receipt, error)
	// HasTransaction reports whether the node knows hash, pending or mined.
	HasTransaction(ctx context.Context, hash chain.Hash) (bool, error)
	// BlockByNumber returns the latest block when number is nil.
	BlockByNumber(ctx context.Context, number *big.Int) (*chain.Block, error)
	Close() error
}

// Compiler turns source files into contract types.
type Compiler interface {
	Provider
	// Extensions lists the file extensions handled, with leading dot.
	Extensions() []string
	Compile(ctx context.Context, path string, content []byte) ([]*chain.ContractType, error)
}

// AccountBackend lists accounts and signs with them. Key material never
// leaves the backend; only signatures are returned.
type AccountBackend interface {
	Provider
	Accounts(ctx context.Context) ([]chain.Address, error)
	// SignTransaction returns a 65-byte [R || S || V] signature over
	// tx.SigningHash(), with V in {0, 1}.
	SignTransaction(ctx context.Context, addr chain.Address, tx *chain.Transaction) ([]byte, error)
	// SignMessage returns a signature over chain.MessageHash(msg).
	SignMessage(ctx context.Context, addr chain.Address, msg []byte) ([]byte, error)
}
