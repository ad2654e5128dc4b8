// Package chain defines the data model shared by the framework core and its
// plugins: addresses, transactions, receipts, blocks and contract types.
package chain

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Address is a 20-byte account address.
type Address = common.Address

// Hash is a 32-byte keccak256 digest.
type Hash = common.Hash

// HexToAddress parses a hex string into an Address.
func HexToAddress(s string) Address {
	return common.HexToAddress(s)
}

// IsHexAddress reports whether s is a valid hex-encoded address.
func IsHexAddress(s string) bool {
	return common.IsHexAddress(s)
}

// ReceiptStatus is the outcome of an included (or dropped) transaction.
type ReceiptStatus int

const (
	StatusSuccess ReceiptStatus = iota
	StatusReverted
	StatusDropped
)

func (s ReceiptStatus) String() string {
	switch s {
	case StatusSuccess:
		return "success"
	case StatusReverted:
		return "reverted"
	case StatusDropped:
		return "dropped"
	default:
		return "unknown"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s ReceiptStatus) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Log is an event emitted during transaction execution.
type Log struct {
	Address Address `json:"address"`
	Topics  []Hash  `json:"topics"`
	Data    []byte  `json:"data"`
	Index   uint    `json:"index"`
}

// Receipt is the final record of a transaction. A reverted transaction still
// produces a receipt; RevertReason carries the decoded reason when known.
type Receipt struct {
	TxHash          Hash          `json:"tx_hash"`
	Status          ReceiptStatus `json:"status"`
	BlockNumber     uint64        `json:"block_number"`
	BlockHash       Hash          `json:"block_hash"`
	GasUsed         uint64        `json:"gas_used"`
	Logs            []Log         `json:"logs,omitempty"`
	ContractAddress *Address      `json:"contract_address,omitempty"`
	RevertData      []byte        `json:"revert_data,omitempty"`
	RevertReason    string        `json:"revert_reason,omitempty"`
}

// Succeeded reports whether the transaction executed without reverting.
func (r *Receipt) Succeeded() bool {
	return r != nil && r.Status == StatusSuccess
}

// Block is a block header plus the hashes of its transactions.
type Block struct {
	Number       uint64    `json:"number"`
	Hash         Hash      `json:"hash"`
	ParentHash   Hash      `json:"parent_hash"`
	Timestamp    time.Time `json:"timestamp"`
	GasLimit     uint64    `json:"gas_limit"`
	GasUsed      uint64    `json:"gas_used"`
	BaseFee      *big.Int  `json:"base_fee,omitempty"`
	Transactions []Hash    `json:"transactions,omitempty"`
}

// CallMsg describes a read-only call or a gas estimation request.
type CallMsg struct {
	From     Address
	To       *Address
	Value    *big.Int
	Data     []byte
	Gas      uint64
	GasPrice *big.Int
}
