package accounts

import (
	"context"
	"crypto/ecdsa"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/altuslabsxyz/dapp-builder/internal/registry"
	"github.com/altuslabsxyz/dapp-builder/pkg/chain"
	"github.com/altuslabsxyz/dapp-builder/pkg/plugin"
)

type keyBackend struct {
	name    string
	keys    []*ecdsa.PrivateKey
	queries int
	// wrongKey signs transactions with a key the backend does not list.
	wrongKey *ecdsa.PrivateKey
}

func (k *keyBackend) Name() string      { return k.name }
func (k *keyBackend) Kind() plugin.Kind { return plugin.KindAccounts }

func (k *keyBackend) Accounts(context.Context) ([]chain.Address, error) {
	k.queries++
	addrs := make([]chain.Address, len(k.keys))
	for i, key := range k.keys {
		addrs[i] = crypto.PubkeyToAddress(key.PublicKey)
	}
	return addrs, nil
}

func (k *keyBackend) key(addr chain.Address) (*ecdsa.PrivateKey, error) {
	for _, key := range k.keys {
		if crypto.PubkeyToAddress(key.PublicKey) == addr {
			return key, nil
		}
	}
	return nil, plugin.ErrUnknownAccount
}

func (k *keyBackend) SignTransaction(_ context.Context, addr chain.Address, tx *chain.Transaction) ([]byte, error) {
	key, err := k.key(addr)
	if err != nil {
		return nil, err
	}
	if k.wrongKey != nil {
		key = k.wrongKey
	}
	hash, err := tx.SigningHash()
	if err != nil {
		return nil, err
	}
	return crypto.Sign(hash.Bytes(), key)
}

func (k *keyBackend) SignMessage(_ context.Context, addr chain.Address, msg []byte) ([]byte, error) {
	key, err := k.key(addr)
	if err != nil {
		return nil, err
	}
	return crypto.Sign(chain.MessageHash(msg), key)
}

type brokenBackend struct{}

func (brokenBackend) Name() string      { return "broken" }
func (brokenBackend) Kind() plugin.Kind { return plugin.KindAccounts }

func (brokenBackend) Accounts(context.Context) ([]chain.Address, error) {
	panic("device unplugged")
}

func (brokenBackend) SignTransaction(context.Context, chain.Address, *chain.Transaction) ([]byte, error) {
	return nil, plugin.ErrUnknownAccount
}

func (brokenBackend) SignMessage(context.Context, chain.Address, []byte) ([]byte, error) {
	return nil, plugin.ErrUnknownAccount
}

func mustKey(t *testing.T) *ecdsa.PrivateKey {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	return key
}

func collect(t *testing.T, m *Manager) []Account {
	t.Helper()
	var out []Account
	for acct := range m.Accounts(context.Background()) {
		out = append(out, acct)
	}
	return out
}

func TestManager_AccountsDeduplicated(t *testing.T) {
	shared := mustKey(t)
	own := mustKey(t)

	reg := registry.New()
	require.NoError(t, reg.Register(&keyBackend{name: "first", keys: []*ecdsa.PrivateKey{shared}}))
	require.NoError(t, reg.Register(brokenBackend{}))
	require.NoError(t, reg.Register(&keyBackend{name: "second", keys: []*ecdsa.PrivateKey{shared, own}}))
	reg.Freeze()

	m := New(reg)
	got := collect(t, m)
	require.Len(t, got, 2)
	assert.Equal(t, crypto.PubkeyToAddress(shared.PublicKey), got[0].Address)
	assert.Equal(t, "first", got[0].Backend)
	assert.Equal(t, crypto.PubkeyToAddress(own.PublicKey), got[1].Address)
	assert.Equal(t, "second", got[1].Backend)
}

func TestManager_AccountsRequeried(t *testing.T) {
	backend := &keyBackend{name: "test", keys: []*ecdsa.PrivateKey{mustKey(t)}}
	reg := registry.New()
	require.NoError(t, reg.Register(backend))

	m := New(reg)
	collect(t, m)
	collect(t, m)
	assert.Equal(t, 2, backend.queries)

	backend.keys = append(backend.keys, mustKey(t))
	assert.Len(t, collect(t, m), 2)
}

func TestManager_AccountsStopEarly(t *testing.T) {
	first := &keyBackend{name: "first", keys: []*ecdsa.PrivateKey{mustKey(t)}}
	second := &keyBackend{name: "second", keys: []*ecdsa.PrivateKey{mustKey(t)}}
	reg := registry.New()
	require.NoError(t, reg.Register(first))
	require.NoError(t, reg.Register(second))

	for range New(reg).Accounts(context.Background()) {
		break
	}
	assert.Equal(t, 1, first.queries)
	assert.Equal(t, 0, second.queries)
}

func TestManager_EveryAccountSigns(t *testing.T) {
	reg := registry.New()
	require.NoError(t, reg.Register(&keyBackend{name: "a", keys: []*ecdsa.PrivateKey{mustKey(t), mustKey(t)}}))
	require.NoError(t, reg.Register(&keyBackend{name: "b", keys: []*ecdsa.PrivateKey{mustKey(t)}}))
	m := New(reg)
	ctx := context.Background()

	for acct := range m.Accounts(ctx) {
		s, err := m.Signer(ctx, acct.Address)
		require.NoError(t, err)
		assert.Equal(t, acct, s.Account)

		msg := []byte("hello " + acct.Address.Hex())
		sig, err := m.SignMessage(ctx, s, msg)
		require.NoError(t, err)
		assert.True(t, VerifyMessage(acct.Address, msg, sig))

		to := chain.HexToAddress("0x00000000000000000000000000000000000000aa")
		signed, err := m.SignTransaction(ctx, s, &chain.Transaction{
			To:       &to,
			Value:    big.NewInt(1),
			Gas:      21000,
			GasPrice: big.NewInt(1),
			ChainID:  big.NewInt(1337),
		})
		require.NoError(t, err)
		assert.Equal(t, acct.Address, signed.From())

		decoded, err := chain.DecodeSignedTransaction(signed.Raw())
		require.NoError(t, err)
		assert.Equal(t, acct.Address, decoded.From())
	}
}

func TestManager_SignerNotFound(t *testing.T) {
	reg := registry.New()
	require.NoError(t, reg.Register(&keyBackend{name: "a", keys: []*ecdsa.PrivateKey{mustKey(t)}}))

	addr := crypto.PubkeyToAddress(mustKey(t).PublicKey)
	_, err := New(reg).Signer(context.Background(), addr)
	var notFound *SignerNotFoundError
	require.ErrorAs(t, err, &notFound)
	assert.Equal(t, addr, notFound.Address)
	assert.ErrorIs(t, err, ErrSignerNotFound)
}

func TestManager_BadSignatureIsProviderFault(t *testing.T) {
	key := mustKey(t)
	reg := registry.New()
	require.NoError(t, reg.Register(&keyBackend{name: "liar", keys: []*ecdsa.PrivateKey{key}, wrongKey: mustKey(t)}))
	m := New(reg)
	ctx := context.Background()

	s, err := m.Signer(ctx, crypto.PubkeyToAddress(key.PublicKey))
	require.NoError(t, err)

	_, err = m.SignTransaction(ctx, s, &chain.Transaction{Gas: 21000, GasPrice: big.NewInt(1), ChainID: big.NewInt(1)})
	var fault *registry.ProviderFaultError
	require.ErrorAs(t, err, &fault)
	assert.Equal(t, "liar", fault.Plugin)
	assert.Equal(t, "sign_transaction", fault.Op)

	var mismatch *chain.SenderMismatchError
	assert.ErrorAs(t, err, &mismatch)
}

func TestManager_SignTransactionRequiresChainID(t *testing.T) {
	key := mustKey(t)
	reg := registry.New()
	require.NoError(t, reg.Register(&keyBackend{name: "a", keys: []*ecdsa.PrivateKey{key}}))
	m := New(reg)

	s, err := m.Signer(context.Background(), crypto.PubkeyToAddress(key.PublicKey))
	require.NoError(t, err)
	_, err = m.SignTransaction(context.Background(), s, &chain.Transaction{Gas: 21000})
	assert.ErrorIs(t, err, chain.ErrMissingChainID)
}
