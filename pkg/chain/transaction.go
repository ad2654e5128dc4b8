package chain

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
)

// SignatureLength is the length of an [R || S || V] signature as produced by
// account backends. V is 0 or 1.
const SignatureLength = crypto.SignatureLength

// ErrMissingChainID is returned when signing a transaction without a chain id.
var ErrMissingChainID = errors.New("transaction has no chain id")

// SenderMismatchError is returned when a signature does not recover to the
// transaction's declared sender.
type SenderMismatchError struct {
	Claimed   Address
	Recovered Address
}

func (e *SenderMismatchError) Error() string {
	return fmt.Sprintf("signature recovers to %s, expected %s", e.Recovered.Hex(), e.Claimed.Hex())
}

// Transaction is an unsigned transaction. Fee fields are either GasPrice
// (legacy) or GasFeeCap/GasTipCap (EIP-1559); GasFeeCap takes precedence.
type Transaction struct {
	From      Address  `json:"from"`
	To        *Address `json:"to,omitempty"`
	Value     *big.Int `json:"value,omitempty"`
	Data      []byte   `json:"data,omitempty"`
	Gas       uint64   `json:"gas"`
	GasPrice  *big.Int `json:"gas_price,omitempty"`
	GasFeeCap *big.Int `json:"gas_fee_cap,omitempty"`
	GasTipCap *big.Int `json:"gas_tip_cap,omitempty"`
	Nonce     uint64   `json:"nonce"`
	ChainID   *big.Int `json:"chain_id"`
}

// IsDynamicFee reports whether the transaction uses EIP-1559 fee fields.
func (t *Transaction) IsDynamicFee() bool {
	return t.GasFeeCap != nil
}

// IsCreate reports whether the transaction deploys a contract.
func (t *Transaction) IsCreate() bool {
	return t.To == nil
}

// Copy returns a deep copy of the transaction.
func (t *Transaction) Copy() *Transaction {
	cp := *t
	if t.To != nil {
		to := *t.To
		cp.To = &to
	}
	cp.Value = copyBig(t.Value)
	cp.GasPrice = copyBig(t.GasPrice)
	cp.GasFeeCap = copyBig(t.GasFeeCap)
	cp.GasTipCap = copyBig(t.GasTipCap)
	cp.ChainID = copyBig(t.ChainID)
	cp.Data = common.CopyBytes(t.Data)
	return &cp
}

// SigningHash returns the digest an account backend must sign.
func (t *Transaction) SigningHash() (Hash, error) {
	if t.ChainID == nil {
		return Hash{}, ErrMissingChainID
	}
	signer := types.LatestSignerForChainID(t.ChainID)
	return signer.Hash(t.geth()), nil
}

// CallMsg converts the transaction into a call message for gas estimation or
// call replay.
func (t *Transaction) CallMsg() CallMsg {
	return CallMsg{
		From:     t.From,
		To:       t.To,
		Value:    t.Value,
		Data:     t.Data,
		Gas:      t.Gas,
		GasPrice: t.GasPrice,
	}
}

func (t *Transaction) geth() *types.Transaction {
	value := t.Value
	if value == nil {
		value = new(big.Int)
	}
	if t.IsDynamicFee() {
		tip := t.GasTipCap
		if tip == nil {
			tip = new(big.Int)
		}
		return types.NewTx(&types.DynamicFeeTx{
			ChainID:   t.ChainID,
			Nonce:     t.Nonce,
			GasTipCap: tip,
			GasFeeCap: t.GasFeeCap,
			Gas:       t.Gas,
			To:        t.To,
			Value:     value,
			Data:      t.Data,
		})
	}
	price := t.GasPrice
	if price == nil {
		price = new(big.Int)
	}
	return types.NewTx(&types.LegacyTx{
		Nonce:    t.Nonce,
		GasPrice: price,
		Gas:      t.Gas,
		To:       t.To,
		Value:    value,
		Data:     t.Data,
	})
}

// SignedTransaction is a transaction plus its signature. It is immutable:
// every accessor returns a copy.
type SignedTransaction struct {
	tx   Transaction
	raw  []byte
	hash Hash
	sig  []byte
}

// NewSignedTransaction attaches sig to tx. The signature must recover to
// tx.From.
func NewSignedTransaction(tx *Transaction, sig []byte) (*SignedTransaction, error) {
	if tx.ChainID == nil {
		return nil, ErrMissingChainID
	}
	if len(sig) != SignatureLength {
		return nil, fmt.Errorf("invalid signature length %d", len(sig))
	}

	signer := types.LatestSignerForChainID(tx.ChainID)
	signed, err := tx.geth().WithSignature(signer, sig)
	if err != nil {
		return nil, fmt.Errorf("failed to apply signature: %w", err)
	}

	sender, err := types.Sender(signer, signed)
	if err != nil {
		return nil, fmt.Errorf("failed to recover sender: %w", err)
	}
	if sender != tx.From {
		return nil, &SenderMismatchError{Claimed: tx.From, Recovered: sender}
	}

	raw, err := signed.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("failed to encode transaction: %w", err)
	}

	return &SignedTransaction{
		tx:   *tx.Copy(),
		raw:  raw,
		hash: signed.Hash(),
		sig:  common.CopyBytes(sig),
	}, nil
}

// DecodeSignedTransaction parses raw wire bytes and recovers the sender.
func DecodeSignedTransaction(raw []byte) (*SignedTransaction, error) {
	inner := new(types.Transaction)
	if err := inner.UnmarshalBinary(raw); err != nil {
		return nil, fmt.Errorf("failed to decode transaction: %w", err)
	}

	signer := types.LatestSignerForChainID(inner.ChainId())
	sender, err := types.Sender(signer, inner)
	if err != nil {
		return nil, fmt.Errorf("failed to recover sender: %w", err)
	}

	tx := Transaction{
		From:    sender,
		To:      inner.To(),
		Value:   inner.Value(),
		Data:    inner.Data(),
		Gas:     inner.Gas(),
		Nonce:   inner.Nonce(),
		ChainID: inner.ChainId(),
	}
	if inner.Type() == types.LegacyTxType {
		tx.GasPrice = inner.GasPrice()
	} else {
		tx.GasFeeCap = inner.GasFeeCap()
		tx.GasTipCap = inner.GasTipCap()
	}

	v, r, s := inner.RawSignatureValues()
	sig := make([]byte, SignatureLength)
	r.FillBytes(sig[0:32])
	s.FillBytes(sig[32:64])
	sig[64] = recoveryID(inner, v)

	return &SignedTransaction{
		tx:   tx,
		raw:  common.CopyBytes(raw),
		hash: inner.Hash(),
		sig:  sig,
	}, nil
}

func recoveryID(tx *types.Transaction, v *big.Int) byte {
	switch {
	case tx.Type() != types.LegacyTxType:
		return byte(v.Uint64())
	case tx.Protected():
		// EIP-155: v = chainID*2 + 35 + recid
		id := new(big.Int).Sub(v, new(big.Int).Mul(tx.ChainId(), big.NewInt(2)))
		return byte(id.Uint64() - 35)
	default:
		return byte(v.Uint64() - 27)
	}
}

// Hash returns the transaction hash.
func (s *SignedTransaction) Hash() Hash { return s.hash }

// From returns the recovered sender.
func (s *SignedTransaction) From() Address { return s.tx.From }

// Nonce returns the transaction nonce.
func (s *SignedTransaction) Nonce() uint64 { return s.tx.Nonce }

// ChainID returns the chain id the transaction was signed for.
func (s *SignedTransaction) ChainID() *big.Int { return copyBig(s.tx.ChainID) }

// Transaction returns a copy of the unsigned transaction.
func (s *SignedTransaction) Transaction() *Transaction { return s.tx.Copy() }

// Raw returns a copy of the encoded wire bytes.
func (s *SignedTransaction) Raw() []byte { return common.CopyBytes(s.raw) }

// Signature returns a copy of the [R || S || V] signature.
func (s *SignedTransaction) Signature() []byte { return common.CopyBytes(s.sig) }

// MessageHash returns the EIP-191 personal message digest of msg.
func MessageHash(msg []byte) []byte {
	return accounts.TextHash(msg)
}

// VerifyMessage reports whether sig is a signature of msg by addr. Both
// 0/1 and 27/28 recovery ids are accepted.
func VerifyMessage(addr Address, msg, sig []byte) bool {
	if len(sig) != SignatureLength {
		return false
	}
	normalized := common.CopyBytes(sig)
	if normalized[64] >= 27 {
		normalized[64] -= 27
	}
	pub, err := crypto.SigToPub(MessageHash(msg), normalized)
	if err != nil {
		return false
	}
	return crypto.PubkeyToAddress(*pub) == addr
}

func copyBig(v *big.Int) *big.Int {
	if v == nil {
		return nil
	}
	return new(big.Int).Set(v)
}
