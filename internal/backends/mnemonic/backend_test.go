package mnemonic

import (
	"context"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/altuslabsxyz/dapp-builder/pkg/chain"
	"github.com/altuslabsxyz/dapp-builder/pkg/plugin"
)

const devMnemonic = "test test test test test test test test test test test junk"

func TestNew_WellKnownAddresses(t *testing.T) {
	b, err := New(devMnemonic, 3)
	require.NoError(t, err)

	addrs, err := b.Accounts(context.Background())
	require.NoError(t, err)
	require.Len(t, addrs, 3)
	assert.Equal(t, chain.HexToAddress("0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266"), addrs[0])
	assert.Equal(t, chain.HexToAddress("0x70997970C51812dc3A010C7d01b50e0d17dc79C8"), addrs[1])
	assert.Equal(t, chain.HexToAddress("0x3C44CdDdB6a900fa2b585dd299e03d12FA4293BC"), addrs[2])
}

func TestNew_Invalid(t *testing.T) {
	tests := []struct {
		name     string
		mnemonic string
		count    int
	}{
		{name: "bad checksum", mnemonic: "abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon", count: 1},
		{name: "unknown word", mnemonic: "test test test test test test test test test test test junkk", count: 1},
		{name: "empty", mnemonic: "", count: 1},
		{name: "zero accounts", mnemonic: devMnemonic, count: 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.mnemonic, tt.count)
			assert.Error(t, err)
		})
	}
}

func TestNew_PassphraseChangesAccounts(t *testing.T) {
	plain, err := New(devMnemonic, 1)
	require.NoError(t, err)
	salted, err := New(devMnemonic, 1, WithPassphrase("hunter2"))
	require.NoError(t, err)
	assert.NotEqual(t, plain.addrs[0], salted.addrs[0])
}

func TestSigning(t *testing.T) {
	b, err := New(devMnemonic, 2)
	require.NoError(t, err)
	ctx := context.Background()

	for _, addr := range b.addrs {
		sig, err := b.SignMessage(ctx, addr, []byte("hello"))
		require.NoError(t, err)
		assert.True(t, chain.VerifyMessage(addr, []byte("hello"), sig))

		to := chain.HexToAddress("0x00000000000000000000000000000000000000b0")
		tx := &chain.Transaction{From: addr, To: &to, Gas: 21000, GasPrice: big.NewInt(1), ChainID: big.NewInt(1337)}
		sig, err = b.SignTransaction(ctx, addr, tx)
		require.NoError(t, err)
		stx, err := chain.NewSignedTransaction(tx, sig)
		require.NoError(t, err)
		assert.Equal(t, addr, stx.From())

		hash, err := tx.SigningHash()
		require.NoError(t, err)
		pub, err := crypto.SigToPub(hash.Bytes(), sig)
		require.NoError(t, err)
		assert.Equal(t, addr, crypto.PubkeyToAddress(*pub))
	}

	_, err = b.SignMessage(ctx, chain.HexToAddress("0x01"), []byte("x"))
	assert.ErrorIs(t, err, plugin.ErrUnknownAccount)
}
