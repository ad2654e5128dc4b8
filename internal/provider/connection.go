// Package provider manages the live connection between the framework and a
// node reached through a network provider plugin.
//
// A Connection starts disconnected and connects lazily on its first
// operation. Queries are retried with exponential backoff; transaction
// submission is attempted exactly once.
package provider

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/hashicorp/go-hclog"
	"golang.org/x/time/rate"

	"github.com/altuslabsxyz/dapp-builder/internal/config"
	"github.com/altuslabsxyz/dapp-builder/internal/metrics"
	"github.com/altuslabsxyz/dapp-builder/internal/registry"
	"github.com/altuslabsxyz/dapp-builder/pkg/chain"
	"github.com/altuslabsxyz/dapp-builder/pkg/plugin"
)

// State is the lifecycle state of a Connection.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Options tune connection behaviour.
type Options struct {
	ConnectTimeout time.Duration
	// MaxAttempts bounds the attempts per query, including the first.
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration

	// RequestsPerSecond enables client-side rate limiting when positive.
	RequestsPerSecond float64
	Burst             int

	Logger  hclog.Logger
	Metrics *metrics.Metrics
}

// DefaultOptions returns the options used when none are given.
func DefaultOptions() Options {
	return Options{
		ConnectTimeout: config.DefaultConnectTimeout,
		MaxAttempts:    config.DefaultMaxAttempts,
		InitialBackoff: 200 * time.Millisecond,
		MaxBackoff:     5 * time.Second,
	}
}

func (o *Options) normalize() {
	def := DefaultOptions()
	if o.ConnectTimeout <= 0 {
		o.ConnectTimeout = def.ConnectTimeout
	}
	if o.MaxAttempts < 1 {
		o.MaxAttempts = def.MaxAttempts
	}
	if o.InitialBackoff <= 0 {
		o.InitialBackoff = def.InitialBackoff
	}
	if o.MaxBackoff < o.InitialBackoff {
		o.MaxBackoff = def.MaxBackoff
		if o.MaxBackoff < o.InitialBackoff {
			o.MaxBackoff = o.InitialBackoff
		}
	}
	if o.Logger == nil {
		o.Logger = hclog.NewNullLogger()
	}
}

// Stats are cumulative counters for one connection.
type Stats struct {
	Connects  uint64
	Retries   uint64
	Failures  uint64
	LastError string
}

// Status is a point-in-time snapshot of a connection.
type Status struct {
	Network string
	State   State
	ChainID uint64
	Stats   Stats
}

// Connection is a shared, lazily established link to one node. It is safe
// for concurrent use.
type Connection struct {
	id       string
	network  plugin.NetworkProvider
	endpoint plugin.Endpoint
	opts     Options
	limiter  *rate.Limiter
	logger   hclog.Logger

	mu          sync.Mutex
	state       State
	backend     plugin.Backend
	chainID     uint64
	haveChainID bool
	fatal       error
	connecting  chan struct{}
	generation  uint64
	stats       Stats
}

// New creates a disconnected Connection. id is the fully resolved network
// identifier and is used in errors, logs and metrics.
func New(id string, network plugin.NetworkProvider, endpoint plugin.Endpoint, opts Options) *Connection {
	opts.normalize()

	c := &Connection{
		id:       id,
		network:  network,
		endpoint: endpoint,
		opts:     opts,
		logger:   opts.Logger.Named("provider").With("network", id),
	}
	if opts.RequestsPerSecond > 0 {
		burst := opts.Burst
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), burst)
	}
	c.opts.Metrics.State(id, int(StateDisconnected))
	return c
}

// ID returns the resolved network identifier.
func (c *Connection) ID() string { return c.id }

// State returns the current state.
func (c *Connection) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Status returns a snapshot of state, chain id and counters.
func (c *Connection) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Status{Network: c.id, State: c.state, ChainID: c.chainID, Stats: c.stats}
}

// Connect establishes the connection if it is not already up. A connection
// torn down by a chain identity mismatch refuses to reconnect until
// Disconnect is called.
func (c *Connection) Connect(ctx context.Context) error {
	_, err := c.acquire(ctx)
	return err
}

// Disconnect closes the backend and resets the connection, including the
// recorded chain id. It is safe to call in any state.
func (c *Connection) Disconnect() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.generation++
	var err error
	if c.backend != nil {
		err = c.backend.Close()
		c.backend = nil
	}
	c.haveChainID = false
	c.chainID = 0
	c.fatal = nil
	c.setStateLocked(StateDisconnected)
	return err
}

// acquire returns the live backend, connecting first when needed. Concurrent
// callers share a single in-flight connect attempt.
func (c *Connection) acquire(ctx context.Context) (plugin.Backend, error) {
	for {
		c.mu.Lock()
		switch c.state {
		case StateConnected:
			b := c.backend
			c.mu.Unlock()
			return b, nil
		case StateConnecting:
			wait := c.connecting
			c.mu.Unlock()
			select {
			case <-wait:
				continue
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
		if c.fatal != nil {
			err := c.fatal
			c.mu.Unlock()
			return nil, err
		}

		done := make(chan struct{})
		c.connecting = done
		gen := c.generation
		c.setStateLocked(StateConnecting)
		c.mu.Unlock()

		b, id, err := c.dial(ctx)

		c.mu.Lock()
		if err == nil && gen != c.generation {
			b.Close()
			err = ErrDisconnected
		}
		if err == nil {
			err = c.checkChainIDLocked(id)
			if err != nil {
				b.Close()
			}
		}
		if err != nil {
			c.stats.Failures++
			c.stats.LastError = err.Error()
			if gen == c.generation {
				c.setStateLocked(StateFailed)
			}
		} else {
			c.backend = b
			c.chainID = id
			c.haveChainID = true
			c.stats.Connects++
			c.setStateLocked(StateConnected)
		}
		c.connecting = nil
		close(done)
		c.mu.Unlock()

		if err != nil {
			c.logger.Warn("connect failed", "error", err)
			return nil, err
		}
		c.logger.Debug("connected", "chain_id", id)
		return b, nil
	}
}

// dial opens a backend and reads its chain id within the connect timeout.
func (c *Connection) dial(ctx context.Context) (plugin.Backend, uint64, error) {
	dctx, cancel := context.WithTimeout(ctx, c.opts.ConnectTimeout)
	defer cancel()

	b, err := c.network.Open(dctx, c.endpoint)
	if err != nil {
		return nil, 0, c.connectivity(ctx, "connect", err)
	}
	id, err := b.ChainID(dctx)
	if err != nil {
		b.Close()
		return nil, 0, c.connectivity(ctx, "connect", err)
	}
	return b, id, nil
}

// checkChainIDLocked compares id against the configured chain id and the one
// recorded when the connection was first established. A mismatch is fatal.
func (c *Connection) checkChainIDLocked(id uint64) error {
	expected, known := c.chainID, c.haveChainID
	if !known && c.endpoint.ChainID != 0 {
		expected, known = c.endpoint.ChainID, true
	}
	if known && id != expected {
		err := &ChainIdentityMismatchError{Network: c.id, Expected: expected, Actual: id}
		c.fatal = err
		return err
	}
	return nil
}

// teardownLocked closes the backend and moves to failed.
func (c *Connection) teardownLocked(cause error) {
	if c.backend != nil {
		c.backend.Close()
		c.backend = nil
	}
	c.stats.Failures++
	c.stats.LastError = cause.Error()
	c.setStateLocked(StateFailed)
}

func (c *Connection) setStateLocked(s State) {
	c.state = s
	c.opts.Metrics.State(c.id, int(s))
}

// connectivity wraps err as a retryable ConnectivityError unless it is a
// caller cancellation or a plugin fault.
func (c *Connection) connectivity(ctx context.Context, op string, err error) error {
	if ctx.Err() != nil || errors.Is(err, registry.ErrProviderFault) {
		return err
	}
	return &ConnectivityError{Network: c.id, Op: op, Err: err}
}

func (c *Connection) waitLimiter(ctx context.Context) error {
	if c.limiter == nil {
		return nil
	}
	return c.limiter.Wait(ctx)
}

func (c *Connection) newBackoff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.opts.InitialBackoff
	b.MaxInterval = c.opts.MaxBackoff
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

// isRetryable reports whether a query error may succeed on another attempt.
func isRetryable(err error) bool {
	var ce *ConnectivityError
	return errors.As(err, &ce)
}

// query runs fn against the backend, retrying connectivity failures with
// exponential backoff. Exhausted retries mark the connection failed and
// return a *ProviderUnavailableError.
func query[T any](ctx context.Context, c *Connection, op string, fn func(context.Context, plugin.Backend) (T, error)) (T, error) {
	var zero T
	attempts := 0

	operation := func() (T, error) {
		attempts++
		b, err := c.acquire(ctx)
		if err != nil {
			if isRetryable(err) {
				return zero, err
			}
			return zero, backoff.Permanent(err)
		}
		if err := c.waitLimiter(ctx); err != nil {
			return zero, backoff.Permanent(err)
		}

		v, err := fn(ctx, b)
		if err == nil {
			return v, nil
		}
		if isPermanent(err) || ctx.Err() != nil {
			return zero, backoff.Permanent(err)
		}
		return zero, c.connectivity(ctx, op, err)
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(c.newBackoff(), uint64(c.opts.MaxAttempts-1)), ctx)
	notify := func(err error, wait time.Duration) {
		c.mu.Lock()
		c.stats.Retries++
		c.mu.Unlock()
		c.opts.Metrics.Retry(c.id, op)
		c.logger.Debug("retrying", "op", op, "attempt", attempts, "wait", wait, "error", err)
	}

	v, err := backoff.RetryNotifyWithData(operation, policy, notify)
	if err == nil {
		c.opts.Metrics.Request(c.id, op, metrics.OutcomeOK)
		return v, nil
	}

	if isRetryable(err) && ctx.Err() == nil {
		c.mu.Lock()
		if c.state == StateConnected {
			c.teardownLocked(err)
		}
		c.mu.Unlock()
		c.opts.Metrics.Request(c.id, op, metrics.OutcomeUnavailable)
		c.logger.Warn("provider unavailable", "op", op, "attempts", attempts, "error", err)
		return zero, &ProviderUnavailableError{Network: c.id, Op: op, Attempts: attempts, Err: err}
	}

	c.opts.Metrics.Request(c.id, op, metrics.OutcomeError)
	return zero, err
}

// isPermanent reports errors that describe the request rather than the
// transport: missing objects, reverts, identity mismatches and plugin faults.
func isPermanent(err error) bool {
	var revert *plugin.RevertError
	return errors.Is(err, plugin.ErrNotFound) ||
		errors.As(err, &revert) ||
		errors.Is(err, ErrChainMismatch) ||
		errors.Is(err, registry.ErrProviderFault) ||
		errors.Is(err, config.ErrConfiguration)
}

// ChainID queries the chain id from the node and verifies it against the
// id recorded at connect time.
func (c *Connection) ChainID(ctx context.Context) (uint64, error) {
	return query(ctx, c, "chain_id", func(ctx context.Context, b plugin.Backend) (uint64, error) {
		id, err := b.ChainID(ctx)
		if err != nil {
			return 0, err
		}

		c.mu.Lock()
		defer c.mu.Unlock()
		if c.backend != b {
			// Reconnected meanwhile; the new backend was verified on connect.
			return id, nil
		}
		if err := c.checkChainIDLocked(id); err != nil {
			c.teardownLocked(err)
			c.logger.Error("chain identity changed", "expected", c.chainID, "actual", id)
			return 0, err
		}
		return id, nil
	})
}

// GetBalance returns the balance of addr at block (latest when nil).
func (c *Connection) GetBalance(ctx context.Context, addr chain.Address, block *big.Int) (*big.Int, error) {
	return query(ctx, c, "get_balance", func(ctx context.Context, b plugin.Backend) (*big.Int, error) {
		return b.BalanceAt(ctx, addr, block)
	})
}

// GetNonce returns the next nonce for addr, counting pending transactions.
func (c *Connection) GetNonce(ctx context.Context, addr chain.Address) (uint64, error) {
	return query(ctx, c, "get_nonce", func(ctx context.Context, b plugin.Backend) (uint64, error) {
		return b.PendingNonceAt(ctx, addr)
	})
}

// Call executes a read-only call. A revert is returned as *plugin.RevertError.
func (c *Connection) Call(ctx context.Context, msg chain.CallMsg, block *big.Int) ([]byte, error) {
	return query(ctx, c, "call", func(ctx context.Context, b plugin.Backend) ([]byte, error) {
		return b.Call(ctx, msg, block)
	})
}

// EstimateGas estimates the gas msg needs.
func (c *Connection) EstimateGas(ctx context.Context, msg chain.CallMsg) (uint64, error) {
	return query(ctx, c, "estimate_gas", func(ctx context.Context, b plugin.Backend) (uint64, error) {
		return b.EstimateGas(ctx, msg)
	})
}

// SuggestGasPrice returns the node's suggested legacy gas price.
func (c *Connection) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	return query(ctx, c, "gas_price", func(ctx context.Context, b plugin.Backend) (*big.Int, error) {
		return b.SuggestGasPrice(ctx)
	})
}

// GetReceipt returns the receipt for hash, or an error matching
// plugin.ErrNotFound while the transaction is pending.
func (c *Connection) GetReceipt(ctx context.Context, hash chain.Hash) (*chain.Receipt, error) {
	return query(ctx, c, "get_receipt", func(ctx context.Context, b plugin.Backend) (*chain.Receipt, error) {
		return b.Receipt(ctx, hash)
	})
}

// HasTransaction reports whether the node knows hash, pending or mined.
func (c *Connection) HasTransaction(ctx context.Context, hash chain.Hash) (bool, error) {
	return query(ctx, c, "get_transaction", func(ctx context.Context, b plugin.Backend) (bool, error) {
		return b.HasTransaction(ctx, hash)
	})
}

// GetBlock returns the block at number, or the latest block when nil.
func (c *Connection) GetBlock(ctx context.Context, number *big.Int) (*chain.Block, error) {
	return query(ctx, c, "get_block", func(ctx context.Context, b plugin.Backend) (*chain.Block, error) {
		return b.BlockByNumber(ctx, number)
	})
}

// SendRawTransaction broadcasts raw exactly once. Failures are returned as
// *SubmissionError; Ambiguous is false only when the transaction was
// certainly not accepted.
func (c *Connection) SendRawTransaction(ctx context.Context, raw []byte) (chain.Hash, error) {
	hash := crypto.Keccak256Hash(raw)

	b, err := c.acquire(ctx)
	if err != nil {
		c.opts.Metrics.Request(c.id, "send_raw_transaction", metrics.OutcomeError)
		return hash, &SubmissionError{Network: c.id, Hash: hash, Err: err}
	}
	if err := c.waitLimiter(ctx); err != nil {
		c.opts.Metrics.Request(c.id, "send_raw_transaction", metrics.OutcomeError)
		return hash, &SubmissionError{Network: c.id, Hash: hash, Err: err}
	}

	got, err := b.SendRawTransaction(ctx, raw)
	if err != nil {
		ambiguous := !errors.Is(err, plugin.ErrRejected)
		c.opts.Metrics.Request(c.id, "send_raw_transaction", metrics.OutcomeError)
		c.logger.Warn("submission failed", "hash", hash, "ambiguous", ambiguous, "error", err)
		return hash, &SubmissionError{Network: c.id, Hash: hash, Ambiguous: ambiguous, Err: err}
	}
	if got != hash {
		c.logger.Warn("node reported a different transaction hash", "expected", hash, "reported", got)
	}

	c.opts.Metrics.Request(c.id, "send_raw_transaction", metrics.OutcomeOK)
	return hash, nil
}
