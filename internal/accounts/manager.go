// Package accounts enumerates accounts across every registered account
// backend and routes signing requests to the backend that owns the key.
package accounts

import (
	"context"
	"errors"
	"fmt"
	"iter"

	"github.com/hashicorp/go-hclog"

	"github.com/altuslabsxyz/dapp-builder/internal/registry"
	"github.com/altuslabsxyz/dapp-builder/pkg/chain"
	"github.com/altuslabsxyz/dapp-builder/pkg/plugin"
)

// ErrSignerNotFound is matched by *SignerNotFoundError.
var ErrSignerNotFound = errors.New("signer not found")

// SignerNotFoundError is returned when no backend manages an address.
type SignerNotFoundError struct {
	Address chain.Address
}

func (e *SignerNotFoundError) Error() string {
	return fmt.Sprintf("no account backend manages %s", e.Address.Hex())
}

func (e *SignerNotFoundError) Is(target error) bool {
	return target == ErrSignerNotFound
}

// Account is an address together with the backend that lists it.
type Account struct {
	Address chain.Address `json:"address"`
	Backend string        `json:"backend"`
}

// Signer can sign on behalf of one account.
type Signer struct {
	Account
	backend plugin.AccountBackend
}

// BackendSource supplies account backends in registration order.
type BackendSource interface {
	AccountBackends() []plugin.AccountBackend
}

// Manager is the account manager. It keeps no account state: every
// enumeration asks the backends again.
type Manager struct {
	source BackendSource
	logger hclog.Logger
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the logger used to report failing backends.
func WithLogger(logger hclog.Logger) Option {
	return func(m *Manager) {
		m.logger = logger
	}
}

// New creates a manager over the backends of source.
func New(source BackendSource, opts ...Option) *Manager {
	m := &Manager{
		source: source,
		logger: hclog.NewNullLogger(),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = m.logger.Named("accounts")
	return m
}

// Accounts yields every account, deduplicated by address. When two backends
// list the same address the first registered backend wins. A backend that
// fails is logged and skipped. Backends are queried as the sequence is
// consumed, so stopping early skips the remaining backends.
func (m *Manager) Accounts(ctx context.Context) iter.Seq[Account] {
	return func(yield func(Account) bool) {
		seen := make(map[chain.Address]struct{})
		for _, b := range m.source.AccountBackends() {
			addrs, err := b.Accounts(ctx)
			if err != nil {
				m.logger.Warn("skipping account backend", "backend", b.Name(), "error", err)
				continue
			}
			for _, addr := range addrs {
				if _, dup := seen[addr]; dup {
					continue
				}
				seen[addr] = struct{}{}
				if !yield(Account{Address: addr, Backend: b.Name()}) {
					return
				}
			}
		}
	}
}

// Signer returns a signer for addr.
func (m *Manager) Signer(ctx context.Context, addr chain.Address) (*Signer, error) {
	for _, b := range m.source.AccountBackends() {
		addrs, err := b.Accounts(ctx)
		if err != nil {
			m.logger.Warn("skipping account backend", "backend", b.Name(), "error", err)
			continue
		}
		for _, a := range addrs {
			if a == addr {
				return &Signer{Account: Account{Address: addr, Backend: b.Name()}, backend: b}, nil
			}
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return nil, &SignerNotFoundError{Address: addr}
}

// SignTransaction signs tx with s. tx.From is set to the signer's address.
// A signature that does not recover to the signer is reported as a fault of
// the backend.
func (m *Manager) SignTransaction(ctx context.Context, s *Signer, tx *chain.Transaction) (*chain.SignedTransaction, error) {
	if tx.ChainID == nil {
		return nil, chain.ErrMissingChainID
	}
	unsigned := tx.Copy()
	unsigned.From = s.Address

	sig, err := s.backend.SignTransaction(ctx, s.Address, unsigned.Copy())
	if err != nil {
		return nil, fmt.Errorf("failed to sign transaction with %s: %w", s.Backend, err)
	}

	signed, err := chain.NewSignedTransaction(unsigned, sig)
	if err != nil {
		return nil, &registry.ProviderFaultError{
			Plugin: s.Backend,
			Kind:   plugin.KindAccounts,
			Op:     "sign_transaction",
			Err:    err,
		}
	}
	return signed, nil
}

// SignMessage signs msg as an EIP-191 personal message.
func (m *Manager) SignMessage(ctx context.Context, s *Signer, msg []byte) ([]byte, error) {
	sig, err := s.backend.SignMessage(ctx, s.Address, msg)
	if err != nil {
		return nil, fmt.Errorf("failed to sign message with %s: %w", s.Backend, err)
	}
	if !chain.VerifyMessage(s.Address, msg, sig) {
		return nil, &registry.ProviderFaultError{
			Plugin: s.Backend,
			Kind:   plugin.KindAccounts,
			Op:     "sign_message",
			Err:    fmt.Errorf("signature does not recover to %s", s.Address.Hex()),
		}
	}
	return sig, nil
}

// VerifyMessage reports whether sig is addr's signature of msg.
func VerifyMessage(addr chain.Address, msg, sig []byte) bool {
	return chain.VerifyMessage(addr, msg, sig)
}
