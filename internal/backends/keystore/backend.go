// Package keystore implements the "keystore" account backend on top of
// go-ethereum's encrypted key directory (Web3 Secret Storage files).
package keystore

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/accounts"
	gethkeystore "github.com/ethereum/go-ethereum/accounts/keystore"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/hashicorp/go-hclog"

	"github.com/altuslabsxyz/dapp-builder/pkg/chain"
	"github.com/altuslabsxyz/dapp-builder/pkg/plugin"
)

// ProviderName is the account backend name.
const ProviderName = "keystore"

// ErrLocked is returned when signing with a locked account and no
// passphrase source is configured.
var ErrLocked = errors.New("account locked")

// PassphraseFunc supplies the passphrase for addr, typically by prompting.
type PassphraseFunc func(addr chain.Address) (string, error)

// Backend signs with keys stored in one keystore directory.
type Backend struct {
	ks         *gethkeystore.KeyStore
	passphrase PassphraseFunc
	logger     hclog.Logger
}

var _ plugin.AccountBackend = (*Backend)(nil)

type Option func(*options)

type options struct {
	scryptN, scryptP int
	passphrase       PassphraseFunc
	logger           hclog.Logger
}

// WithLightScrypt uses the cheap scrypt parameters for new keys. Meant for
// tests and throwaway development keys.
func WithLightScrypt() Option {
	return func(o *options) {
		o.scryptN, o.scryptP = gethkeystore.LightScryptN, gethkeystore.LightScryptP
	}
}

// WithPassphraseFunc sets where passphrases for locked accounts come from.
func WithPassphraseFunc(fn PassphraseFunc) Option {
	return func(o *options) { o.passphrase = fn }
}

func WithLogger(logger hclog.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// New opens (or creates) the key directory dir.
func New(dir string, opts ...Option) *Backend {
	o := options{
		scryptN: gethkeystore.StandardScryptN,
		scryptP: gethkeystore.StandardScryptP,
		logger:  hclog.NewNullLogger(),
	}
	for _, opt := range opts {
		opt(&o)
	}
	return &Backend{
		ks:         gethkeystore.NewKeyStore(dir, o.scryptN, o.scryptP),
		passphrase: o.passphrase,
		logger:     o.logger.Named("keystore"),
	}
}

func (b *Backend) Name() string      { return ProviderName }
func (b *Backend) Kind() plugin.Kind { return plugin.KindAccounts }

// Accounts lists the key files currently in the directory.
func (b *Backend) Accounts(ctx context.Context) ([]chain.Address, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	accts := b.ks.Accounts()
	addrs := make([]chain.Address, len(accts))
	for i, a := range accts {
		addrs[i] = a.Address
	}
	return addrs, nil
}

// NewAccount generates a key and stores it encrypted with passphrase.
func (b *Backend) NewAccount(passphrase string) (chain.Address, error) {
	acct, err := b.ks.NewAccount(passphrase)
	if err != nil {
		return chain.Address{}, fmt.Errorf("failed to create account: %w", err)
	}
	b.logger.Info("created account", "address", acct.Address.Hex(), "file", acct.URL.Path)
	return acct.Address, nil
}

// Import stores a hex-encoded secp256k1 private key.
func (b *Backend) Import(hexKey, passphrase string) (chain.Address, error) {
	key, err := crypto.HexToECDSA(trimHexPrefix(hexKey))
	if err != nil {
		return chain.Address{}, fmt.Errorf("invalid private key: %w", err)
	}
	acct, err := b.ks.ImportECDSA(key, passphrase)
	if err != nil {
		return chain.Address{}, fmt.Errorf("failed to import key: %w", err)
	}
	b.logger.Info("imported account", "address", acct.Address.Hex())
	return acct.Address, nil
}

// Unlock decrypts the key for addr and keeps it in memory until Lock.
func (b *Backend) Unlock(addr chain.Address, passphrase string) error {
	acct, err := b.find(addr)
	if err != nil {
		return err
	}
	if err := b.ks.Unlock(acct, passphrase); err != nil {
		return fmt.Errorf("failed to unlock %s: %w", addr.Hex(), err)
	}
	return nil
}

// Lock drops the decrypted key for addr.
func (b *Backend) Lock(addr chain.Address) error {
	return b.ks.Lock(addr)
}

func (b *Backend) SignTransaction(_ context.Context, addr chain.Address, tx *chain.Transaction) ([]byte, error) {
	hash, err := tx.SigningHash()
	if err != nil {
		return nil, err
	}
	return b.signHash(addr, hash.Bytes())
}

func (b *Backend) SignMessage(_ context.Context, addr chain.Address, msg []byte) ([]byte, error) {
	return b.signHash(addr, chain.MessageHash(msg))
}

// signHash signs with an unlocked key, falling back to the passphrase
// source for a one-off decryption.
func (b *Backend) signHash(addr chain.Address, hash []byte) ([]byte, error) {
	acct, err := b.find(addr)
	if err != nil {
		return nil, err
	}
	sig, err := b.ks.SignHash(acct, hash)
	if err == nil {
		return sig, nil
	}
	if !errors.Is(err, gethkeystore.ErrLocked) {
		return nil, err
	}
	if b.passphrase == nil {
		return nil, fmt.Errorf("%w: %s", ErrLocked, addr.Hex())
	}
	pass, err := b.passphrase(addr)
	if err != nil {
		return nil, err
	}
	return b.ks.SignHashWithPassphrase(acct, pass, hash)
}

func (b *Backend) find(addr chain.Address) (accounts.Account, error) {
	acct, err := b.ks.Find(accounts.Account{Address: addr})
	if err != nil {
		return accounts.Account{}, fmt.Errorf("%w: %s", plugin.ErrUnknownAccount, addr.Hex())
	}
	return acct, nil
}

func trimHexPrefix(s string) string {
	if len(s) >= 2 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X') {
		return s[2:]
	}
	return s
}
