// Package txmanager composes, signs, submits and confirms transactions.
//
// Submissions are never retried automatically. When a broadcast fails
// ambiguously the transaction is remembered as unverified and every later
// Submit of it is refused until Recheck has asked the network about it.
package txmanager

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/hashicorp/go-hclog"

	"github.com/altuslabsxyz/dapp-builder/internal/accounts"
	"github.com/altuslabsxyz/dapp-builder/internal/provider"
	"github.com/altuslabsxyz/dapp-builder/pkg/chain"
	"github.com/altuslabsxyz/dapp-builder/pkg/plugin"
)

// Connection is the part of a provider connection the manager uses.
// *provider.Connection implements it.
type Connection interface {
	ChainID(ctx context.Context) (uint64, error)
	GetNonce(ctx context.Context, addr chain.Address) (uint64, error)
	Call(ctx context.Context, msg chain.CallMsg, block *big.Int) ([]byte, error)
	EstimateGas(ctx context.Context, msg chain.CallMsg) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	SendRawTransaction(ctx context.Context, raw []byte) (chain.Hash, error)
	GetReceipt(ctx context.Context, hash chain.Hash) (*chain.Receipt, error)
	HasTransaction(ctx context.Context, hash chain.Hash) (bool, error)
}

// TransactionSigner signs on behalf of a signer. *accounts.Manager
// implements it.
type TransactionSigner interface {
	SignTransaction(ctx context.Context, s *accounts.Signer, tx *chain.Transaction) (*chain.SignedTransaction, error)
}

// RevertDecoder turns revert data into a readable reason.
// *contracts.Registry implements it.
type RevertDecoder interface {
	DecodeRevert(data []byte) (string, bool)
}

var _ Connection = (*provider.Connection)(nil)

// Defaults for receipt polling.
const (
	DefaultPollInterval    = 250 * time.Millisecond
	DefaultMaxPollInterval = 5 * time.Second
	DefaultConfirmTimeout  = 2 * time.Minute
)

// Request describes a transaction to build. Zero values are filled in:
// Nonce from the pending nonce, Gas by estimation and fees from the
// connection's suggested gas price.
type Request struct {
	To        *chain.Address
	Value     *big.Int
	Data      []byte
	Gas       uint64
	GasPrice  *big.Int
	GasFeeCap *big.Int
	GasTipCap *big.Int
	Nonce     *uint64
}

// Submitted is a transaction the network accepted.
type Submitted struct {
	Hash        chain.Hash
	From        chain.Address
	Nonce       uint64
	Transaction *chain.Transaction
	SubmittedAt time.Time
}

type submissionState int

const (
	stateInFlight submissionState = iota
	stateUnverified
	stateAccepted
)

type submission struct {
	state     submissionState
	signed    *chain.SignedTransaction
	submitted *Submitted
}

// Manager drives transactions over one connection.
type Manager struct {
	conn    Connection
	signer  TransactionSigner
	decoder RevertDecoder
	logger  hclog.Logger
	clock   func() time.Time

	pollInterval    time.Duration
	maxPollInterval time.Duration
	confirmTimeout  time.Duration

	mu          sync.Mutex
	submissions map[chain.Hash]*submission
	senders     map[chain.Address]*sync.Mutex
	nextNonce   map[chain.Address]uint64
}

type Option func(*Manager)

func WithLogger(logger hclog.Logger) Option {
	return func(m *Manager) { m.logger = logger }
}

// WithRevertDecoder decodes revert data beyond the standard Error and
// Panic encodings, e.g. custom errors of known contract types.
func WithRevertDecoder(d RevertDecoder) Option {
	return func(m *Manager) { m.decoder = d }
}

// WithPolling sets the first and the largest interval between receipt
// polls.
func WithPolling(initial, max time.Duration) Option {
	return func(m *Manager) {
		m.pollInterval = initial
		m.maxPollInterval = max
	}
}

// WithConfirmTimeout sets the wait used when Confirm is given no timeout.
func WithConfirmTimeout(d time.Duration) Option {
	return func(m *Manager) { m.confirmTimeout = d }
}

// New creates a manager sending over conn and signing with signer.
func New(conn Connection, signer TransactionSigner, opts ...Option) *Manager {
	m := &Manager{
		conn:            conn,
		signer:          signer,
		logger:          hclog.NewNullLogger(),
		clock:           time.Now,
		pollInterval:    DefaultPollInterval,
		maxPollInterval: DefaultMaxPollInterval,
		confirmTimeout:  DefaultConfirmTimeout,
		submissions:     make(map[chain.Hash]*submission),
		senders:         make(map[chain.Address]*sync.Mutex),
		nextNonce:       make(map[chain.Address]uint64),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = m.logger.Named("txmanager")
	if m.maxPollInterval < m.pollInterval {
		m.maxPollInterval = m.pollInterval
	}
	return m
}

// =============================================================================
// Build and sign
// =============================================================================

// Build fills in req for sender from. A reverting estimation is returned as
// *EstimationError.
func (m *Manager) Build(ctx context.Context, from chain.Address, req Request) (*chain.Transaction, error) {
	chainID, err := m.conn.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get chain id: %w", err)
	}

	tx := &chain.Transaction{
		From:      from,
		To:        copyAddress(req.To),
		Value:     copyBig(req.Value),
		Data:      append([]byte(nil), req.Data...),
		Gas:       req.Gas,
		GasPrice:  copyBig(req.GasPrice),
		GasFeeCap: copyBig(req.GasFeeCap),
		GasTipCap: copyBig(req.GasTipCap),
		ChainID:   new(big.Int).SetUint64(chainID),
	}

	if req.Nonce != nil {
		tx.Nonce = *req.Nonce
	} else {
		nonce, err := m.conn.GetNonce(ctx, from)
		if err != nil {
			return nil, fmt.Errorf("failed to get nonce for %s: %w", from.Hex(), err)
		}
		m.mu.Lock()
		if local, ok := m.nextNonce[from]; ok && local > nonce {
			nonce = local
		}
		m.mu.Unlock()
		tx.Nonce = nonce
	}

	if err := m.fillFees(ctx, tx); err != nil {
		return nil, err
	}

	if tx.Gas == 0 {
		gas, err := m.conn.EstimateGas(ctx, tx.CallMsg())
		if err != nil {
			var revert *plugin.RevertError
			if errors.As(err, &revert) {
				return nil, &EstimationError{Reason: m.revertReason(revert), Data: revert.Data}
			}
			return nil, fmt.Errorf("failed to estimate gas: %w", err)
		}
		tx.Gas = gas
	}
	return tx, nil
}

// fillFees applies the suggested gas price when the request leaves fees
// open. A tip without a cap gets a cap of suggested price plus tip.
func (m *Manager) fillFees(ctx context.Context, tx *chain.Transaction) error {
	if tx.GasPrice != nil || (tx.GasFeeCap != nil && tx.GasTipCap != nil) {
		return nil
	}
	if tx.GasFeeCap != nil {
		tx.GasTipCap = new(big.Int)
		return nil
	}

	price, err := m.conn.SuggestGasPrice(ctx)
	if err != nil {
		return fmt.Errorf("failed to get gas price: %w", err)
	}
	if tx.GasTipCap != nil {
		tx.GasFeeCap = new(big.Int).Add(price, tx.GasTipCap)
		return nil
	}
	tx.GasPrice = price
	return nil
}

// Sign signs tx with s.
func (m *Manager) Sign(ctx context.Context, s *accounts.Signer, tx *chain.Transaction) (*chain.SignedTransaction, error) {
	return m.signer.SignTransaction(ctx, s, tx)
}

// =============================================================================
// Submit and recheck
// =============================================================================

// Submit broadcasts stx once. Submitting a transaction the network already
// accepted returns the original result without sending it again.
func (m *Manager) Submit(ctx context.Context, stx *chain.SignedTransaction) (*Submitted, error) {
	hash := stx.Hash()

	m.mu.Lock()
	if rec, ok := m.submissions[hash]; ok {
		m.mu.Unlock()
		if rec.state == stateAccepted {
			return rec.submitted, nil
		}
		return nil, &UnverifiedSubmissionError{Hash: hash}
	}
	m.submissions[hash] = &submission{state: stateInFlight, signed: stx}
	m.mu.Unlock()

	_, err := m.conn.SendRawTransaction(ctx, stx.Raw())

	m.mu.Lock()
	defer m.mu.Unlock()
	if err != nil {
		var subErr *provider.SubmissionError
		if errors.As(err, &subErr) && !subErr.Ambiguous {
			delete(m.submissions, hash)
			return nil, err
		}
		m.submissions[hash].state = stateUnverified
		m.logger.Warn("submission outcome unknown", "hash", hash, "nonce", stx.Nonce(), "error", err)
		return nil, err
	}
	return m.acceptLocked(stx), nil
}

func (m *Manager) acceptLocked(stx *chain.SignedTransaction) *Submitted {
	sub := &Submitted{
		Hash:        stx.Hash(),
		From:        stx.From(),
		Nonce:       stx.Nonce(),
		Transaction: stx.Transaction(),
		SubmittedAt: m.clock(),
	}
	rec, ok := m.submissions[sub.Hash]
	if !ok {
		rec = &submission{signed: stx}
		m.submissions[sub.Hash] = rec
	}
	rec.state = stateAccepted
	rec.submitted = sub
	if next := sub.Nonce + 1; next > m.nextNonce[sub.From] {
		m.nextNonce[sub.From] = next
	}
	m.logger.Debug("transaction accepted", "hash", sub.Hash, "from", sub.From, "nonce", sub.Nonce)
	return sub
}

// Recheck asks the network about an unverified submission by its hash. It
// reports true when the node has the transaction, pending or mined; a later
// Submit then returns the recorded result. On false the record is cleared
// and the transaction may be submitted again. When the node has never seen
// the hash but the sender's nonce has moved past it, another transaction
// took the nonce: the record is cleared and a *ReplacedError is returned.
func (m *Manager) Recheck(ctx context.Context, hash chain.Hash) (*Submitted, bool, error) {
	m.mu.Lock()
	rec, ok := m.submissions[hash]
	m.mu.Unlock()
	if !ok {
		return nil, false, fmt.Errorf("no submission recorded for %s", hash.Hex())
	}
	if rec.state == stateAccepted {
		return rec.submitted, true, nil
	}
	if rec.state == stateInFlight {
		return nil, false, &UnverifiedSubmissionError{Hash: hash}
	}

	known := true
	_, err := m.conn.GetReceipt(ctx, hash)
	switch {
	case errors.Is(err, plugin.ErrNotFound):
		known, err = m.conn.HasTransaction(ctx, hash)
		if err != nil {
			return nil, false, fmt.Errorf("failed to look up %s: %w", hash.Hex(), err)
		}
	case err != nil:
		return nil, false, fmt.Errorf("failed to look up %s: %w", hash.Hex(), err)
	}

	var replaced error
	if !known {
		nonce, err := m.conn.GetNonce(ctx, rec.signed.From())
		if err != nil {
			return nil, false, fmt.Errorf("failed to get nonce: %w", err)
		}
		if nonce > rec.signed.Nonce() {
			replaced = &ReplacedError{Hash: hash, From: rec.signed.From(), Nonce: rec.signed.Nonce()}
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if !known {
		delete(m.submissions, hash)
		if replaced != nil {
			m.logger.Warn("submission replaced", "hash", hash, "nonce", rec.signed.Nonce())
			return nil, false, replaced
		}
		m.logger.Info("submission not found on network", "hash", hash)
		return nil, false, nil
	}
	return m.acceptLocked(rec.signed), true, nil
}

// =============================================================================
// Send and deploy
// =============================================================================

func (m *Manager) senderLock(addr chain.Address) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.senders[addr]
	if !ok {
		l = &sync.Mutex{}
		m.senders[addr] = l
	}
	return l
}

// Send builds, signs and submits req from s. Sends from one sender are
// serialized from nonce assignment through submission.
func (m *Manager) Send(ctx context.Context, s *accounts.Signer, req Request) (*Submitted, error) {
	lock := m.senderLock(s.Address)
	lock.Lock()
	defer lock.Unlock()

	tx, err := m.Build(ctx, s.Address, req)
	if err != nil {
		return nil, err
	}
	stx, err := m.Sign(ctx, s, tx)
	if err != nil {
		return nil, err
	}
	return m.Submit(ctx, stx)
}

// Deploy sends a contract creation for ct with constructor args. req.To
// must be nil.
func (m *Manager) Deploy(ctx context.Context, s *accounts.Signer, ct *chain.ContractType, req Request, args ...interface{}) (*Submitted, error) {
	if req.To != nil {
		return nil, errors.New("deploy request must not set a recipient")
	}
	if len(ct.Bytecode) == 0 {
		return nil, fmt.Errorf("contract %s has no bytecode", ct.Name)
	}
	parsed, err := ct.ABI()
	if err != nil {
		return nil, err
	}
	packed, err := parsed.Pack("", args...)
	if err != nil {
		return nil, fmt.Errorf("failed to pack constructor arguments for %s: %w", ct.Name, err)
	}
	req.Data = append(append([]byte(nil), ct.Bytecode...), packed...)
	return m.Send(ctx, s, req)
}

// =============================================================================
// Confirm
// =============================================================================

// Confirm waits for the receipt of hash, polling with growing intervals.
// A zero timeout uses the configured default. A reverted transaction is a
// successful result with Status reverted and RevertReason filled in when it
// can be decoded.
func (m *Manager) Confirm(ctx context.Context, hash chain.Hash, timeout time.Duration) (*chain.Receipt, error) {
	if timeout <= 0 {
		timeout = m.confirmTimeout
	}
	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = m.pollInterval
	b.MaxInterval = m.maxPollInterval
	b.MaxElapsedTime = 0

	receipt, err := backoff.RetryWithData(func() (*chain.Receipt, error) {
		r, err := m.conn.GetReceipt(waitCtx, hash)
		if errors.Is(err, plugin.ErrNotFound) {
			return nil, err
		}
		if err != nil {
			return nil, backoff.Permanent(err)
		}
		return r, nil
	}, backoff.WithContext(b, waitCtx))
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		if waitCtx.Err() != nil {
			return nil, &PendingTimeoutError{Hash: hash, Waited: timeout}
		}
		return nil, err
	}

	if receipt.Status == chain.StatusReverted && receipt.RevertReason == "" {
		m.explainRevert(ctx, receipt)
	}
	return receipt, nil
}

// explainRevert fills in RevertReason, replaying the transaction as a call
// when the receipt carries no revert data.
func (m *Manager) explainRevert(ctx context.Context, receipt *chain.Receipt) {
	if len(receipt.RevertData) > 0 {
		receipt.RevertReason = m.revertReason(&plugin.RevertError{Data: receipt.RevertData})
		return
	}

	m.mu.Lock()
	rec, ok := m.submissions[receipt.TxHash]
	m.mu.Unlock()
	if !ok || rec.signed == nil {
		return
	}

	var block *big.Int
	if receipt.BlockNumber > 0 {
		block = new(big.Int).SetUint64(receipt.BlockNumber - 1)
	}
	_, err := m.conn.Call(ctx, rec.signed.Transaction().CallMsg(), block)
	var revert *plugin.RevertError
	if !errors.As(err, &revert) {
		m.logger.Debug("replay did not revert", "hash", receipt.TxHash, "error", err)
		return
	}
	receipt.RevertData = revert.Data
	receipt.RevertReason = m.revertReason(revert)
}

func (m *Manager) revertReason(revert *plugin.RevertError) string {
	if m.decoder != nil && len(revert.Data) > 0 {
		if reason, ok := m.decoder.DecodeRevert(revert.Data); ok {
			return reason
		}
	}
	if revert.Reason != "" {
		return revert.Reason
	}
	if reason, ok := chain.DecodeStandardRevert(revert.Data); ok {
		return reason
	}
	return ""
}

func copyBig(v *big.Int) *big.Int {
	if v == nil {
		return nil
	}
	return new(big.Int).Set(v)
}

func copyAddress(a *chain.Address) *chain.Address {
	if a == nil {
		return nil
	}
	cp := *a
	return &cp
}
