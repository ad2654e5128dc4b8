package provider

import (
	"errors"
	"fmt"

	"github.com/altuslabsxyz/dapp-builder/pkg/chain"
)

// Sentinel errors for simple checks.
var (
	ErrProviderUnavailable = errors.New("provider unavailable")
	ErrChainMismatch       = errors.New("chain identity mismatch")
	ErrSubmission          = errors.New("transaction submission failed")
	ErrDisconnected        = errors.New("connection was closed")
)

// ConnectivityError is a single failed attempt to reach the node. Queries
// retry these.
type ConnectivityError struct {
	Network string
	Op      string
	Err     error
}

func (e *ConnectivityError) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Network, e.Op, e.Err)
}

func (e *ConnectivityError) Unwrap() error {
	return e.Err
}

// ProviderUnavailableError is returned once retries are exhausted. The
// connection is left in the failed state.
type ProviderUnavailableError struct {
	Network  string
	Op       string
	Attempts int
	Err      error
}

func (e *ProviderUnavailableError) Error() string {
	return fmt.Sprintf("provider %s unavailable: %s failed after %d attempt(s): %v", e.Network, e.Op, e.Attempts, e.Err)
}

func (e *ProviderUnavailableError) Unwrap() error {
	return e.Err
}

func (e *ProviderUnavailableError) Is(target error) bool {
	return target == ErrProviderUnavailable
}

// ChainIdentityMismatchError means the endpoint now reports a different
// chain than the one the connection was established with, or than the one
// configured. The connection is torn down and is not re-established until
// Disconnect and Connect are called explicitly.
type ChainIdentityMismatchError struct {
	Network  string
	Expected uint64
	Actual   uint64
}

func (e *ChainIdentityMismatchError) Error() string {
	return fmt.Sprintf("%s: chain id changed from %d to %d", e.Network, e.Expected, e.Actual)
}

func (e *ChainIdentityMismatchError) Is(target error) bool {
	return target == ErrChainMismatch
}

// SubmissionError reports a failed broadcast. Ambiguous means the node may
// have received the transaction; the caller must check by Hash before
// submitting again.
type SubmissionError struct {
	Network   string
	Hash      chain.Hash
	Ambiguous bool
	Err       error
}

func (e *SubmissionError) Error() string {
	state := "not submitted"
	if e.Ambiguous {
		state = "submission state unknown"
	}
	return fmt.Sprintf("%s: transaction %s %s: %v", e.Network, e.Hash.Hex(), state, e.Err)
}

func (e *SubmissionError) Unwrap() error {
	return e.Err
}

func (e *SubmissionError) Is(target error) bool {
	return target == ErrSubmission
}
