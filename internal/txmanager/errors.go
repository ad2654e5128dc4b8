package txmanager

import (
	"errors"
	"fmt"
	"time"

	"github.com/altuslabsxyz/dapp-builder/pkg/chain"
)

var (
	// ErrEstimation matches *EstimationError.
	ErrEstimation = errors.New("gas estimation reverted")

	// ErrUnverifiedSubmission matches *UnverifiedSubmissionError.
	ErrUnverifiedSubmission = errors.New("unverified submission")

	// ErrReplaced matches *ReplacedError.
	ErrReplaced = errors.New("transaction replaced")

	// ErrPendingTimeout matches *PendingTimeoutError.
	ErrPendingTimeout = errors.New("transaction still pending")
)

// EstimationError means the transaction would revert. It is an expected
// outcome: Reason is the decoded revert reason, if any.
type EstimationError struct {
	Reason string
	Data   []byte
}

func (e *EstimationError) Error() string {
	if e.Reason == "" {
		return ErrEstimation.Error()
	}
	return fmt.Sprintf("%s: %s", ErrEstimation, e.Reason)
}

func (e *EstimationError) Is(target error) bool {
	return target == ErrEstimation
}

// UnverifiedSubmissionError refuses to send a transaction whose previous
// submission ended ambiguously. Recheck must be called first.
type UnverifiedSubmissionError struct {
	Hash chain.Hash
}

func (e *UnverifiedSubmissionError) Error() string {
	return fmt.Sprintf("transaction %s may already be submitted; recheck it before submitting again", e.Hash.Hex())
}

func (e *UnverifiedSubmissionError) Is(target error) bool {
	return target == ErrUnverifiedSubmission
}

// PendingTimeoutError means no receipt appeared within the wait.
type PendingTimeoutError struct {
	Hash   chain.Hash
	Waited time.Duration
}

func (e *PendingTimeoutError) Error() string {
	return fmt.Sprintf("transaction %s still pending after %s", e.Hash.Hex(), e.Waited)
}

func (e *PendingTimeoutError) Is(target error) bool {
	return target == ErrPendingTimeout
}

// ReplacedError means an unverified transaction never reached the network
// and a different transaction has since used its nonce.
type ReplacedError struct {
	Hash  chain.Hash
	From  chain.Address
	Nonce uint64
}

func (e *ReplacedError) Error() string {
	return fmt.Sprintf("transaction %s was never applied; nonce %d of %s was used by another transaction",
		e.Hash.Hex(), e.Nonce, e.From.Hex())
}

func (e *ReplacedError) Is(target error) bool {
	return target == ErrReplaced
}
