// Package mnemonic implements the "test" account backend: a fixed number of
// accounts derived from a BIP-39 mnemonic along m/44'/60'/0'/0/i.
package mnemonic

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/tyler-smith/go-bip39"

	"github.com/altuslabsxyz/dapp-builder/pkg/chain"
	"github.com/altuslabsxyz/dapp-builder/pkg/plugin"
)

// ProviderName is the account backend name.
const ProviderName = "test"

// ErrInvalidMnemonic is returned for a mnemonic that fails the BIP-39 checksum.
var ErrInvalidMnemonic = errors.New("invalid mnemonic")

// Ethereum's BIP-44 coin type.
const coinType = 60

type Backend struct {
	addrs []chain.Address
	keys  map[chain.Address]*ecdsa.PrivateKey
}

var _ plugin.AccountBackend = (*Backend)(nil)

// Option configures the backend.
type Option func(*settings)

type settings struct {
	passphrase string
}

// WithPassphrase sets the optional BIP-39 passphrase ("25th word").
func WithPassphrase(p string) Option {
	return func(s *settings) { s.passphrase = p }
}

// New derives count accounts from mnemonic.
func New(mnemonic string, count int, opts ...Option) (*Backend, error) {
	var s settings
	for _, opt := range opts {
		opt(&s)
	}
	if !bip39.IsMnemonicValid(mnemonic) {
		return nil, ErrInvalidMnemonic
	}
	if count <= 0 {
		return nil, fmt.Errorf("account count must be positive, got %d", count)
	}

	seed := bip39.NewSeed(mnemonic, s.passphrase)
	master, err := hdkeychain.NewMaster(seed, &chaincfg.MainNetParams)
	if err != nil {
		return nil, fmt.Errorf("failed to create master key: %w", err)
	}
	// m/44'/60'/0'/0
	parent, err := derivePath(master,
		hdkeychain.HardenedKeyStart+44,
		hdkeychain.HardenedKeyStart+coinType,
		hdkeychain.HardenedKeyStart+0,
		0,
	)
	if err != nil {
		return nil, err
	}

	b := &Backend{keys: make(map[chain.Address]*ecdsa.PrivateKey, count)}
	for i := 0; i < count; i++ {
		key, err := deriveKey(parent, uint32(i))
		if err != nil {
			return nil, fmt.Errorf("failed to derive account %d: %w", i, err)
		}
		addr := crypto.PubkeyToAddress(key.PublicKey)
		b.addrs = append(b.addrs, addr)
		b.keys[addr] = key
	}
	return b, nil
}

func derivePath(key *hdkeychain.ExtendedKey, path ...uint32) (*hdkeychain.ExtendedKey, error) {
	for _, index := range path {
		child, err := key.Derive(index)
		if err != nil {
			return nil, fmt.Errorf("failed to derive index %d: %w", index, err)
		}
		key = child
	}
	return key, nil
}

func deriveKey(parent *hdkeychain.ExtendedKey, index uint32) (*ecdsa.PrivateKey, error) {
	child, err := parent.Derive(index)
	if err != nil {
		return nil, err
	}
	priv, err := child.ECPrivKey()
	if err != nil {
		return nil, err
	}
	// Re-parse through go-ethereum so the key carries its curve.
	return crypto.ToECDSA(priv.Serialize())
}

func (b *Backend) Name() string      { return ProviderName }
func (b *Backend) Kind() plugin.Kind { return plugin.KindAccounts }

// Accounts returns the derived addresses in derivation order.
func (b *Backend) Accounts(ctx context.Context) ([]chain.Address, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return append([]chain.Address(nil), b.addrs...), nil
}

func (b *Backend) SignTransaction(_ context.Context, addr chain.Address, tx *chain.Transaction) ([]byte, error) {
	key, ok := b.keys[addr]
	if !ok {
		return nil, fmt.Errorf("%w: %s", plugin.ErrUnknownAccount, addr.Hex())
	}
	hash, err := tx.SigningHash()
	if err != nil {
		return nil, err
	}
	return crypto.Sign(hash.Bytes(), key)
}

func (b *Backend) SignMessage(_ context.Context, addr chain.Address, msg []byte) ([]byte, error) {
	key, ok := b.keys[addr]
	if !ok {
		return nil, fmt.Errorf("%w: %s", plugin.ErrUnknownAccount, addr.Hex())
	}
	return crypto.Sign(chain.MessageHash(msg), key)
}
