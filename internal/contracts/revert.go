package contracts

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/altuslabsxyz/dapp-builder/pkg/chain"
)

// DecodeRevert turns revert data into a human readable reason. It knows
// Error(string), Panic(uint256) and the custom errors of every contract type
// this registry has loaded. ok is false when the data is not recognised.
func (r *Registry) DecodeRevert(data []byte) (reason string, ok bool) {
	if len(data) == 0 {
		return "", false
	}
	if reason, ok := chain.DecodeStandardRevert(data); ok {
		return reason, true
	}
	if len(data) < 4 {
		return "", false
	}

	var sel [4]byte
	copy(sel[:], data[:4])

	r.mu.RLock()
	ct := r.known[sel]
	r.mu.RUnlock()
	if ct == nil {
		return "", false
	}

	decl, _ := ct.ErrorBySelector(sel)
	return decodeCustomError(ct, decl, data), true
}

// decodeCustomError renders Name(arg, ...) or just Name when the arguments
// cannot be unpacked.
func decodeCustomError(ct *chain.ContractType, decl chain.CustomError, data []byte) string {
	parsed, err := ct.ABI()
	if err != nil {
		return decl.Name
	}
	for _, abiErr := range parsed.Errors {
		if !bytes.Equal(abiErr.ID[:4], data[:4]) {
			continue
		}
		values, err := abiErr.Unpack(data)
		if err != nil {
			return decl.Name
		}
		args, _ := values.([]interface{})
		parts := make([]string, len(args))
		for i, a := range args {
			parts[i] = formatArg(a)
		}
		return fmt.Sprintf("%s(%s)", decl.Name, strings.Join(parts, ", "))
	}
	return decl.Name
}

func formatArg(v interface{}) string {
	switch a := v.(type) {
	case []byte:
		return hexutil.Encode(a)
	case chain.Address:
		return a.Hex()
	case string:
		return fmt.Sprintf("%q", a)
	default:
		return fmt.Sprint(a)
	}
}
