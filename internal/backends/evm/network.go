// Package evm implements the "node" network provider, which talks to any
// Ethereum JSON-RPC endpoint through go-ethereum's ethclient.
package evm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"

	"github.com/altuslabsxyz/dapp-builder/pkg/chain"
	"github.com/altuslabsxyz/dapp-builder/pkg/plugin"
)

// ProviderName is the network plugin name of the JSON-RPC provider.
const ProviderName = "node"

// Network dials JSON-RPC endpoints.
type Network struct{}

var _ plugin.NetworkProvider = (*Network)(nil)

// NewNetwork creates the provider.
func NewNetwork() *Network {
	return &Network{}
}

func (n *Network) Name() string      { return ProviderName }
func (n *Network) Kind() plugin.Kind { return plugin.KindNetwork }

// Open dials endpoint.URI (http, https, ws, wss or an IPC path).
func (n *Network) Open(ctx context.Context, endpoint plugin.Endpoint) (plugin.Backend, error) {
	if endpoint.URI == "" {
		return nil, fmt.Errorf("node provider needs a uri")
	}
	rc, err := rpc.DialContext(ctx, endpoint.URI)
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", endpoint.URI, err)
	}
	return &backend{rpc: rc, client: ethclient.NewClient(rc)}, nil
}

type backend struct {
	rpc    *rpc.Client
	client *ethclient.Client
}

func (b *backend) ChainID(ctx context.Context) (uint64, error) {
	id, err := b.client.ChainID(ctx)
	if err != nil {
		return 0, err
	}
	if !id.IsUint64() {
		return 0, fmt.Errorf("chain id %s out of range", id)
	}
	return id.Uint64(), nil
}

func (b *backend) BalanceAt(ctx context.Context, addr chain.Address, block *big.Int) (*big.Int, error) {
	return b.client.BalanceAt(ctx, addr, block)
}

func (b *backend) PendingNonceAt(ctx context.Context, addr chain.Address) (uint64, error) {
	return b.client.PendingNonceAt(ctx, addr)
}

func (b *backend) Call(ctx context.Context, msg chain.CallMsg, block *big.Int) ([]byte, error) {
	out, err := b.client.CallContract(ctx, toCallMsg(msg), block)
	if err != nil {
		return nil, classifyExecution(err)
	}
	return out, nil
}

func (b *backend) EstimateGas(ctx context.Context, msg chain.CallMsg) (uint64, error) {
	gas, err := b.client.EstimateGas(ctx, toCallMsg(msg))
	if err != nil {
		return 0, classifyExecution(err)
	}
	return gas, nil
}

func (b *backend) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	return b.client.SuggestGasPrice(ctx)
}

// SendRawTransaction broadcasts raw. A JSON-RPC error response means the
// node refused the transaction; anything else leaves its fate unknown.
func (b *backend) SendRawTransaction(ctx context.Context, raw []byte) (chain.Hash, error) {
	var hash common.Hash
	err := b.rpc.CallContext(ctx, &hash, "eth_sendRawTransaction", hexutil.Bytes(raw))
	if err != nil {
		var rpcErr rpc.Error
		if errors.As(err, &rpcErr) {
			return chain.Hash{}, fmt.Errorf("%w: %v", plugin.ErrRejected, err)
		}
		return chain.Hash{}, err
	}
	return hash, nil
}

func (b *backend) Receipt(ctx context.Context, hash chain.Hash) (*chain.Receipt, error) {
	r, err := b.client.TransactionReceipt(ctx, hash)
	if errors.Is(err, ethereum.NotFound) {
		return nil, plugin.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return fromReceipt(r), nil
}

// HasTransaction asks eth_getTransactionByHash, which answers null for
// transactions the node has never seen.
func (b *backend) HasTransaction(ctx context.Context, hash chain.Hash) (bool, error) {
	var raw json.RawMessage
	if err := b.rpc.CallContext(ctx, &raw, "eth_getTransactionByHash", hash); err != nil {
		return false, err
	}
	return len(raw) > 0 && string(raw) != "null", nil
}

// rpcBlock is the subset of eth_getBlockByNumber used here. Requesting
// transaction hashes only keeps the payload small.
type rpcBlock struct {
	Number       *hexutil.Big   `json:"number"`
	Hash         common.Hash    `json:"hash"`
	ParentHash   common.Hash    `json:"parentHash"`
	Timestamp    hexutil.Uint64 `json:"timestamp"`
	GasLimit     hexutil.Uint64 `json:"gasLimit"`
	GasUsed      hexutil.Uint64 `json:"gasUsed"`
	BaseFee      *hexutil.Big   `json:"baseFeePerGas"`
	Transactions []common.Hash  `json:"transactions"`
}

func (b *backend) BlockByNumber(ctx context.Context, number *big.Int) (*chain.Block, error) {
	tag := "latest"
	if number != nil {
		tag = hexutil.EncodeBig(number)
	}

	var raw *rpcBlock
	if err := b.rpc.CallContext(ctx, &raw, "eth_getBlockByNumber", tag, false); err != nil {
		return nil, err
	}
	if raw == nil || raw.Number == nil {
		return nil, plugin.ErrNotFound
	}

	block := &chain.Block{
		Number:       raw.Number.ToInt().Uint64(),
		Hash:         raw.Hash,
		ParentHash:   raw.ParentHash,
		Timestamp:    time.Unix(int64(raw.Timestamp), 0).UTC(),
		GasLimit:     uint64(raw.GasLimit),
		GasUsed:      uint64(raw.GasUsed),
		Transactions: raw.Transactions,
	}
	if raw.BaseFee != nil {
		block.BaseFee = raw.BaseFee.ToInt()
	}
	return block, nil
}

func (b *backend) Close() error {
	b.client.Close()
	return nil
}

func toCallMsg(msg chain.CallMsg) ethereum.CallMsg {
	return ethereum.CallMsg{
		From:     msg.From,
		To:       msg.To,
		Gas:      msg.Gas,
		GasPrice: msg.GasPrice,
		Value:    msg.Value,
		Data:     msg.Data,
	}
}

// classifyExecution turns a JSON-RPC execution revert into a
// *plugin.RevertError carrying the revert data.
func classifyExecution(err error) error {
	var dataErr rpc.DataError
	if !errors.As(err, &dataErr) {
		return err
	}
	hexData, ok := dataErr.ErrorData().(string)
	if !ok {
		return err
	}
	data, decodeErr := hexutil.Decode(hexData)
	if decodeErr != nil {
		return err
	}
	reason, _ := chain.DecodeStandardRevert(data)
	return &plugin.RevertError{Reason: reason, Data: data}
}

func fromReceipt(r *types.Receipt) *chain.Receipt {
	out := &chain.Receipt{
		TxHash:    r.TxHash,
		BlockHash: r.BlockHash,
		GasUsed:   r.GasUsed,
		Status:    chain.StatusReverted,
	}
	if r.BlockNumber != nil {
		out.BlockNumber = r.BlockNumber.Uint64()
	}
	if r.Status == types.ReceiptStatusSuccessful {
		out.Status = chain.StatusSuccess
	}
	if r.ContractAddress != (common.Address{}) {
		addr := r.ContractAddress
		out.ContractAddress = &addr
	}
	for _, l := range r.Logs {
		out.Logs = append(out.Logs, chain.Log{
			Address: l.Address,
			Topics:  l.Topics,
			Data:    l.Data,
			Index:   uint(l.Index),
		})
	}
	return out
}
