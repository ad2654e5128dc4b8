package txmanager

import (
	"context"
	"math/big"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/altuslabsxyz/dapp-builder/internal/accounts"
	"github.com/altuslabsxyz/dapp-builder/internal/backends/local"
	"github.com/altuslabsxyz/dapp-builder/internal/backends/mnemonic"
	"github.com/altuslabsxyz/dapp-builder/internal/contracts"
	"github.com/altuslabsxyz/dapp-builder/internal/provider"
	"github.com/altuslabsxyz/dapp-builder/internal/registry"
	"github.com/altuslabsxyz/dapp-builder/pkg/chain"
	"github.com/altuslabsxyz/dapp-builder/pkg/plugin"
)

const devMnemonic = "test test test test test test test test test test test junk"

var (
	ether = new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)
	bob   = chain.HexToAddress("0x00000000000000000000000000000000000000b0")
	vault = chain.HexToAddress("0x00000000000000000000000000000000000000c0")
)

const vaultABI = `[
	{"type":"constructor","stateMutability":"nonpayable","inputs":[{"name":"limit","type":"uint256"}]},
	{"type":"function","name":"withdraw","stateMutability":"nonpayable","inputs":[{"name":"amount","type":"uint256"}],"outputs":[]},
	{"type":"error","name":"InsufficientBalance","inputs":[{"name":"available","type":"uint256"},{"name":"required","type":"uint256"}]}
]`

type env struct {
	chain     *local.Chain
	conn      *provider.Connection
	contracts *contracts.Registry
	signer    *accounts.Signer
	tm        *Manager
}

func newEnv(t *testing.T, chainOpts ...local.Option) *env {
	t.Helper()
	ctx := context.Background()

	keys, err := mnemonic.New(devMnemonic, 1)
	require.NoError(t, err)
	addrs, err := keys.Accounts(ctx)
	require.NoError(t, err)

	reg := registry.New()
	require.NoError(t, reg.Register(keys))
	reg.Freeze()
	accts := accounts.New(reg)
	signer, err := accts.Signer(ctx, addrs[0])
	require.NoError(t, err)

	c := local.NewChain(append([]local.Option{local.WithFunds(ether, addrs[0])}, chainOpts...)...)
	conn := provider.New("testnet/local/mock", local.NewNetwork(c), plugin.Endpoint{}, provider.Options{
		InitialBackoff: time.Millisecond,
		MaxBackoff:     5 * time.Millisecond,
	})
	t.Cleanup(func() { conn.Disconnect() })

	cr, err := contracts.New(nil)
	require.NoError(t, err)

	tm := New(conn, accts,
		WithRevertDecoder(cr),
		WithPolling(time.Millisecond, 10*time.Millisecond),
	)
	return &env{chain: c, conn: conn, contracts: cr, signer: signer, tm: tm}
}

func (e *env) vaultType(t *testing.T) *chain.ContractType {
	t.Helper()
	ct, err := e.contracts.GetOrBuild(context.Background(), "vault", func(context.Context) (*chain.ContractType, error) {
		return chain.ParseABI("Vault", "vault", []byte(vaultABI), []byte{0x60, 0x80, 0x60, 0x40})
	})
	require.NoError(t, err)
	return ct
}

func TestSend_TransferConfirmed(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	sub, err := e.tm.Send(ctx, e.signer, Request{To: &bob, Value: big.NewInt(1000)})
	require.NoError(t, err)
	assert.Equal(t, e.signer.Address, sub.From)
	assert.Equal(t, uint64(0), sub.Nonce)
	assert.Equal(t, uint64(local.TxGas), sub.Transaction.Gas)

	receipt, err := e.tm.Confirm(ctx, sub.Hash, time.Second)
	require.NoError(t, err)
	assert.Equal(t, chain.StatusSuccess, receipt.Status)

	bal, err := e.conn.GetBalance(ctx, bob, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(1000), bal.Int64())
}

func TestSend_ConcurrentSendsGetDistinctNonces(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	const n = 8
	nonces := make([]int, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			sub, err := e.tm.Send(ctx, e.signer, Request{To: &bob, Value: big.NewInt(1)})
			if assert.NoError(t, err) {
				nonces[i] = int(sub.Nonce)
			}
		}(i)
	}
	wg.Wait()

	sort.Ints(nonces)
	for i, nonce := range nonces {
		assert.Equal(t, i, nonce)
	}
}

func TestBuild_Fees(t *testing.T) {
	e := newEnv(t)
	gwei := big.NewInt(1_000_000_000)

	tests := []struct {
		name   string
		req    Request
		price  *big.Int
		feeCap *big.Int
		tipCap *big.Int
	}{
		{name: "suggested", req: Request{}, price: gwei},
		{name: "explicit price", req: Request{GasPrice: big.NewInt(5)}, price: big.NewInt(5)},
		{name: "fee cap only", req: Request{GasFeeCap: big.NewInt(9)}, feeCap: big.NewInt(9), tipCap: big.NewInt(0)},
		{name: "tip only", req: Request{GasTipCap: big.NewInt(2)}, feeCap: new(big.Int).Add(gwei, big.NewInt(2)), tipCap: big.NewInt(2)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.req.To = &bob
			tx, err := e.tm.Build(context.Background(), e.signer.Address, tt.req)
			require.NoError(t, err)
			assert.Equal(t, tt.price, tx.GasPrice)
			assert.Equal(t, tt.feeCap, tx.GasFeeCap)
			assert.Equal(t, tt.tipCap, tx.GasTipCap)
			assert.Equal(t, int64(1337), tx.ChainID.Int64())
		})
	}
}

func TestBuild_EstimationRevert(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	e.chain.SetRevert(vault, "insufficient balance")
	_, err := e.tm.Build(ctx, e.signer.Address, Request{To: &vault})
	var estErr *EstimationError
	require.ErrorAs(t, err, &estErr)
	assert.Equal(t, "insufficient balance", estErr.Reason)
	assert.ErrorIs(t, err, ErrEstimation)

	// Custom errors decode once their contract type is known.
	ct := e.vaultType(t)
	abiDef, err := ct.ABI()
	require.NoError(t, err)
	custom := abiDef.Errors["InsufficientBalance"]
	args, err := custom.Inputs.Pack(big.NewInt(5), big.NewInt(10))
	require.NoError(t, err)
	e.chain.SetRevertData(vault, append(custom.ID[:4:4], args...))

	_, err = e.tm.Build(ctx, e.signer.Address, Request{To: &vault})
	require.ErrorAs(t, err, &estErr)
	assert.Equal(t, "InsufficientBalance(5, 10)", estErr.Reason)
}

func TestConfirm_RevertedReceipt(t *testing.T) {
	tests := []struct {
		name string
		opts []local.Option
	}{
		{name: "revert data in receipt"},
		{name: "reason replayed", opts: []local.Option{local.WithoutRevertDataInReceipts()}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newEnv(t, tt.opts...)
			ctx := context.Background()
			e.chain.SetRevert(vault, "insufficient balance")

			// An explicit gas limit skips the estimation that would catch the revert.
			sub, err := e.tm.Send(ctx, e.signer, Request{To: &vault, Gas: 50_000})
			require.NoError(t, err)

			receipt, err := e.tm.Confirm(ctx, sub.Hash, time.Second)
			require.NoError(t, err)
			assert.Equal(t, chain.StatusReverted, receipt.Status)
			assert.Equal(t, "insufficient balance", receipt.RevertReason)
			assert.NotEmpty(t, receipt.RevertData)
		})
	}
}

func TestSubmit_AmbiguousAppliedIsNeverResubmitted(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	tx, err := e.tm.Build(ctx, e.signer.Address, Request{To: &bob, Value: big.NewInt(1)})
	require.NoError(t, err)
	stx, err := e.tm.Sign(ctx, e.signer, tx)
	require.NoError(t, err)

	e.chain.DropNextSubmission()
	_, err = e.tm.Submit(ctx, stx)
	var subErr *provider.SubmissionError
	require.ErrorAs(t, err, &subErr)
	assert.True(t, subErr.Ambiguous)

	_, err = e.tm.Submit(ctx, stx)
	assert.ErrorIs(t, err, ErrUnverifiedSubmission)

	sub, known, err := e.tm.Recheck(ctx, stx.Hash())
	require.NoError(t, err)
	require.True(t, known)
	assert.Equal(t, stx.Hash(), sub.Hash)

	again, err := e.tm.Submit(ctx, stx)
	require.NoError(t, err)
	assert.Same(t, sub, again)
	assert.Equal(t, 1, e.chain.Applied(stx.Hash()))
}

func TestSubmit_AmbiguousLostCanBeSubmittedAfterRecheck(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	tx, err := e.tm.Build(ctx, e.signer.Address, Request{To: &bob, Value: big.NewInt(1)})
	require.NoError(t, err)
	stx, err := e.tm.Sign(ctx, e.signer, tx)
	require.NoError(t, err)

	require.NoError(t, e.conn.Connect(ctx))
	e.chain.FailNext(1)
	_, err = e.tm.Submit(ctx, stx)
	require.ErrorIs(t, err, provider.ErrSubmission)
	assert.Zero(t, e.chain.Applied(stx.Hash()))

	_, known, err := e.tm.Recheck(ctx, stx.Hash())
	require.NoError(t, err)
	assert.False(t, known)

	sub, err := e.tm.Submit(ctx, stx)
	require.NoError(t, err)
	assert.Equal(t, stx.Hash(), sub.Hash)
	assert.Equal(t, 1, e.chain.Applied(stx.Hash()))
}

func TestRecheck_PendingTransactionIsKnown(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	e.chain.SetAutoMine(false)

	tx, err := e.tm.Build(ctx, e.signer.Address, Request{To: &bob, Value: big.NewInt(1)})
	require.NoError(t, err)
	stx, err := e.tm.Sign(ctx, e.signer, tx)
	require.NoError(t, err)

	e.chain.DropNextSubmission()
	_, err = e.tm.Submit(ctx, stx)
	require.ErrorIs(t, err, provider.ErrSubmission)

	sub, known, err := e.tm.Recheck(ctx, stx.Hash())
	require.NoError(t, err)
	require.True(t, known)
	assert.Equal(t, stx.Hash(), sub.Hash)

	e.chain.Mine()
	receipt, err := e.tm.Confirm(ctx, sub.Hash, time.Second)
	require.NoError(t, err)
	assert.Equal(t, chain.StatusSuccess, receipt.Status)
}

func TestRecheck_NonceTakenByOtherTransaction(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	tx, err := e.tm.Build(ctx, e.signer.Address, Request{To: &bob, Value: big.NewInt(1)})
	require.NoError(t, err)
	orig, err := e.tm.Sign(ctx, e.signer, tx)
	require.NoError(t, err)

	require.NoError(t, e.conn.Connect(ctx))
	e.chain.FailNext(1)
	_, err = e.tm.Submit(ctx, orig)
	require.ErrorIs(t, err, provider.ErrSubmission)

	other, err := e.tm.Send(ctx, e.signer, Request{To: &bob, Value: big.NewInt(2)})
	require.NoError(t, err)
	require.Equal(t, orig.Nonce(), other.Nonce)
	require.NotEqual(t, orig.Hash(), other.Hash)
	_, err = e.tm.Confirm(ctx, other.Hash, time.Second)
	require.NoError(t, err)

	sub, known, err := e.tm.Recheck(ctx, orig.Hash())
	assert.Nil(t, sub)
	assert.False(t, known)
	var replaced *ReplacedError
	require.ErrorAs(t, err, &replaced)
	assert.Equal(t, orig.Nonce(), replaced.Nonce)
	assert.ErrorIs(t, err, ErrReplaced)

	// The record is gone and the node refuses the stale nonce.
	_, err = e.tm.Submit(ctx, orig)
	assert.ErrorIs(t, err, plugin.ErrRejected)
	assert.Zero(t, e.chain.Applied(orig.Hash()))
}

func TestSubmit_Idempotent(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	tx, err := e.tm.Build(ctx, e.signer.Address, Request{To: &bob})
	require.NoError(t, err)
	stx, err := e.tm.Sign(ctx, e.signer, tx)
	require.NoError(t, err)

	first, err := e.tm.Submit(ctx, stx)
	require.NoError(t, err)
	second, err := e.tm.Submit(ctx, stx)
	require.NoError(t, err)
	assert.Same(t, first, second)
	assert.Equal(t, 1, e.chain.Applied(stx.Hash()))
}

func TestSubmit_RejectedIsNotRemembered(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	nonce := uint64(5)
	tx, err := e.tm.Build(ctx, e.signer.Address, Request{To: &bob, Nonce: &nonce})
	require.NoError(t, err)
	stx, err := e.tm.Sign(ctx, e.signer, tx)
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		_, err = e.tm.Submit(ctx, stx)
		var subErr *provider.SubmissionError
		require.ErrorAs(t, err, &subErr)
		assert.False(t, subErr.Ambiguous)
		assert.ErrorIs(t, err, plugin.ErrRejected)
	}

	_, _, err = e.tm.Recheck(ctx, stx.Hash())
	assert.Error(t, err)
}

func TestConfirm_PendingTimeout(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	e.chain.SetAutoMine(false)

	sub, err := e.tm.Send(ctx, e.signer, Request{To: &bob})
	require.NoError(t, err)

	_, err = e.tm.Confirm(ctx, sub.Hash, 30*time.Millisecond)
	var timeout *PendingTimeoutError
	require.ErrorAs(t, err, &timeout)
	assert.Equal(t, sub.Hash, timeout.Hash)

	e.chain.Mine()
	receipt, err := e.tm.Confirm(ctx, sub.Hash, time.Second)
	require.NoError(t, err)
	assert.Equal(t, chain.StatusSuccess, receipt.Status)
}

func TestConfirm_CallerCancellation(t *testing.T) {
	e := newEnv(t)
	e.chain.SetAutoMine(false)

	sub, err := e.tm.Send(context.Background(), e.signer, Request{To: &bob})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = e.tm.Confirm(ctx, sub.Hash, time.Second)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestDeploy(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	ct := e.vaultType(t)

	sub, err := e.tm.Deploy(ctx, e.signer, ct, Request{}, big.NewInt(7))
	require.NoError(t, err)
	assert.Nil(t, sub.Transaction.To)

	receipt, err := e.tm.Confirm(ctx, sub.Hash, time.Second)
	require.NoError(t, err)
	require.NotNil(t, receipt.ContractAddress)

	code := e.chain.Code(*receipt.ContractAddress)
	assert.Equal(t, []byte(ct.Bytecode), code[:len(ct.Bytecode)])
	assert.Equal(t, int64(7), new(big.Int).SetBytes(code[len(ct.Bytecode):]).Int64())

	_, err = e.tm.Deploy(ctx, e.signer, ct, Request{To: &bob}, big.NewInt(7))
	assert.Error(t, err)
	_, err = e.tm.Deploy(ctx, e.signer, ct, Request{})
	assert.Error(t, err, "missing constructor argument")
}
