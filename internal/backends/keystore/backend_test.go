package keystore

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/altuslabsxyz/dapp-builder/pkg/chain"
	"github.com/altuslabsxyz/dapp-builder/pkg/plugin"
)

// Hardhat's first development key.
const devKey = "0xac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"

func TestImportAndSign(t *testing.T) {
	b := New(t.TempDir(), WithLightScrypt())
	ctx := context.Background()

	addr, err := b.Import(devKey, "secret")
	require.NoError(t, err)
	assert.Equal(t, chain.HexToAddress("0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266"), addr)

	addrs, err := b.Accounts(ctx)
	require.NoError(t, err)
	assert.Equal(t, []chain.Address{addr}, addrs)

	_, err = b.SignMessage(ctx, addr, []byte("hi"))
	assert.ErrorIs(t, err, ErrLocked)

	require.Error(t, b.Unlock(addr, "wrong"))
	require.NoError(t, b.Unlock(addr, "secret"))

	sig, err := b.SignMessage(ctx, addr, []byte("hi"))
	require.NoError(t, err)
	assert.True(t, chain.VerifyMessage(addr, []byte("hi"), sig))

	to := chain.HexToAddress("0x00000000000000000000000000000000000000b0")
	tx := &chain.Transaction{From: addr, To: &to, Gas: 21000, GasPrice: big.NewInt(1), ChainID: big.NewInt(1337)}
	sig, err = b.SignTransaction(ctx, addr, tx)
	require.NoError(t, err)
	stx, err := chain.NewSignedTransaction(tx, sig)
	require.NoError(t, err)
	assert.Equal(t, addr, stx.From())

	require.NoError(t, b.Lock(addr))
	_, err = b.SignMessage(ctx, addr, []byte("hi"))
	assert.ErrorIs(t, err, ErrLocked)
}

func TestPassphraseFunc(t *testing.T) {
	var asked int
	b := New(t.TempDir(), WithLightScrypt(), WithPassphraseFunc(func(chain.Address) (string, error) {
		asked++
		return "secret", nil
	}))
	addr, err := b.NewAccount("secret")
	require.NoError(t, err)

	sig, err := b.SignMessage(context.Background(), addr, []byte("hi"))
	require.NoError(t, err)
	assert.True(t, chain.VerifyMessage(addr, []byte("hi"), sig))
	assert.Equal(t, 1, asked)

	aborted := errors.New("aborted")
	b.passphrase = func(chain.Address) (string, error) { return "", aborted }
	_, err = b.SignMessage(context.Background(), addr, []byte("hi"))
	assert.ErrorIs(t, err, aborted)
}

func TestUnknownAccountAndBadKey(t *testing.T) {
	b := New(t.TempDir(), WithLightScrypt())

	other, err := crypto.GenerateKey()
	require.NoError(t, err)
	_, err = b.SignMessage(context.Background(), crypto.PubkeyToAddress(other.PublicKey), []byte("x"))
	assert.ErrorIs(t, err, plugin.ErrUnknownAccount)

	_, err = b.Import("0xnothex", "p")
	assert.Error(t, err)
}
