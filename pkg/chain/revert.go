package chain

import (
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/crypto"
)

var revertSelector = crypto.Keccak256([]byte("Error(string)"))[:4]

// EncodeRevert encodes reason the way Solidity's require/revert does,
// as Error(string) call data.
func EncodeRevert(reason string) []byte {
	stringType, _ := abi.NewType("string", "", nil)
	packed, err := abi.Arguments{{Type: stringType}}.Pack(reason)
	if err != nil {
		return nil
	}
	out := make([]byte, 0, len(revertSelector)+len(packed))
	out = append(out, revertSelector...)
	return append(out, packed...)
}

// DecodeStandardRevert decodes Error(string) and Panic(uint256) revert data.
func DecodeStandardRevert(data []byte) (string, bool) {
	reason, err := abi.UnpackRevert(data)
	if err != nil {
		return "", false
	}
	return reason, true
}
