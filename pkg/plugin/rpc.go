package plugin

import (
	"context"
	"errors"
	"net/rpc"

	goplugin "github.com/hashicorp/go-plugin"

	"github.com/altuslabsxyz/dapp-builder/pkg/chain"
)

// Names under which capabilities are dispensed over the plugin connection.
const (
	manifestPluginName = "manifest"
	compilerPluginName = string(KindCompiler)
	accountsPluginName = string(KindAccounts)
)

// Manifest describes what a plugin binary serves.
type Manifest struct {
	Version string
	// Names maps each served kind to the provider name registered for it.
	Names map[Kind]string
}

// Kinds returns the served kinds in canonical order.
func (m Manifest) Kinds() []Kind {
	var kinds []Kind
	for _, k := range Kinds {
		if _, ok := m.Names[k]; ok {
			kinds = append(kinds, k)
		}
	}
	return kinds
}

// =============================================================================
// Manifest
// =============================================================================

// ManifestPlugin serves the plugin Manifest.
type ManifestPlugin struct {
	Manifest Manifest
}

func (p *ManifestPlugin) Server(*goplugin.MuxBroker) (interface{}, error) {
	return &ManifestRPCServer{Manifest: p.Manifest}, nil
}

func (p *ManifestPlugin) Client(_ *goplugin.MuxBroker, c *rpc.Client) (interface{}, error) {
	return &ManifestRPCClient{client: c}, nil
}

// ManifestRPCServer is the plugin-side manifest endpoint.
type ManifestRPCServer struct {
	Manifest Manifest
}

func (s *ManifestRPCServer) Get(_ interface{}, resp *Manifest) error {
	*resp = s.Manifest
	return nil
}

// ManifestRPCClient fetches the manifest from a plugin.
type ManifestRPCClient struct {
	client *rpc.Client
}

func (c *ManifestRPCClient) Get() (Manifest, error) {
	var m Manifest
	err := c.client.Call("Plugin.Get", new(interface{}), &m)
	return m, err
}

// =============================================================================
// Compiler
// =============================================================================

// CompilerPlugin carries a Compiler over net/rpc.
type CompilerPlugin struct {
	Impl Compiler
}

func (p *CompilerPlugin) Server(*goplugin.MuxBroker) (interface{}, error) {
	return &CompilerRPCServer{Impl: p.Impl}, nil
}

func (p *CompilerPlugin) Client(_ *goplugin.MuxBroker, c *rpc.Client) (interface{}, error) {
	return &CompilerRPCClient{client: c}, nil
}

// CompileArgs is the request for CompilerRPCServer.Compile.
type CompileArgs struct {
	Path    string
	Content []byte
}

// CompilerRPCServer is the plugin-side compiler endpoint.
type CompilerRPCServer struct {
	Impl Compiler
}

func (s *CompilerRPCServer) Extensions(_ interface{}, resp *[]string) error {
	*resp = s.Impl.Extensions()
	return nil
}

func (s *CompilerRPCServer) Compile(args CompileArgs, resp *[]*chain.ContractType) error {
	types, err := s.Impl.Compile(context.Background(), args.Path, args.Content)
	if err != nil {
		return err
	}
	*resp = types
	return nil
}

// CompilerRPCClient is the host-side Compiler backed by a plugin process.
// Contexts are checked before each call but not propagated to the plugin.
type CompilerRPCClient struct {
	client *rpc.Client
	name   string
}

var _ Compiler = (*CompilerRPCClient)(nil)

func (c *CompilerRPCClient) Name() string { return c.name }
func (c *CompilerRPCClient) Kind() Kind   { return KindCompiler }

func (c *CompilerRPCClient) Extensions() []string {
	var exts []string
	if err := c.client.Call("Plugin.Extensions", new(interface{}), &exts); err != nil {
		return nil
	}
	return exts
}

func (c *CompilerRPCClient) Compile(ctx context.Context, path string, content []byte) ([]*chain.ContractType, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var types []*chain.ContractType
	err := c.client.Call("Plugin.Compile", CompileArgs{Path: path, Content: content}, &types)
	return types, err
}

// =============================================================================
// Account backend
// =============================================================================

// AccountsPlugin carries an AccountBackend over net/rpc.
type AccountsPlugin struct {
	Impl AccountBackend
}

func (p *AccountsPlugin) Server(*goplugin.MuxBroker) (interface{}, error) {
	return &AccountsRPCServer{Impl: p.Impl}, nil
}

func (p *AccountsPlugin) Client(_ *goplugin.MuxBroker, c *rpc.Client) (interface{}, error) {
	return &AccountsRPCClient{client: c}, nil
}

// SignTxArgs is the request for AccountsRPCServer.SignTransaction.
type SignTxArgs struct {
	Address chain.Address
	Tx      chain.Transaction
}

// SignMsgArgs is the request for AccountsRPCServer.SignMessage.
type SignMsgArgs struct {
	Address chain.Address
	Message []byte
}

// SignResponse carries a signature. UnknownAccount preserves ErrUnknownAccount
// across the process boundary.
type SignResponse struct {
	Signature      []byte
	UnknownAccount bool
}

// AccountsRPCServer is the plugin-side account backend endpoint.
type AccountsRPCServer struct {
	Impl AccountBackend
}

func (s *AccountsRPCServer) Accounts(_ interface{}, resp *[]chain.Address) error {
	addrs, err := s.Impl.Accounts(context.Background())
	if err != nil {
		return err
	}
	*resp = addrs
	return nil
}

func (s *AccountsRPCServer) SignTransaction(args SignTxArgs, resp *SignResponse) error {
	sig, err := s.Impl.SignTransaction(context.Background(), args.Address, &args.Tx)
	return fillSignResponse(resp, sig, err)
}

func (s *AccountsRPCServer) SignMessage(args SignMsgArgs, resp *SignResponse) error {
	sig, err := s.Impl.SignMessage(context.Background(), args.Address, args.Message)
	return fillSignResponse(resp, sig, err)
}

func fillSignResponse(resp *SignResponse, sig []byte, err error) error {
	if errors.Is(err, ErrUnknownAccount) {
		resp.UnknownAccount = true
		return nil
	}
	if err != nil {
		return err
	}
	resp.Signature = sig
	return nil
}

// AccountsRPCClient is the host-side AccountBackend backed by a plugin
// process.
type AccountsRPCClient struct {
	client *rpc.Client
	name   string
}

var _ AccountBackend = (*AccountsRPCClient)(nil)

func (c *AccountsRPCClient) Name() string { return c.name }
func (c *AccountsRPCClient) Kind() Kind   { return KindAccounts }

func (c *AccountsRPCClient) Accounts(ctx context.Context) ([]chain.Address, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var addrs []chain.Address
	err := c.client.Call("Plugin.Accounts", new(interface{}), &addrs)
	return addrs, err
}

func (c *AccountsRPCClient) SignTransaction(ctx context.Context, addr chain.Address, tx *chain.Transaction) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var resp SignResponse
	if err := c.client.Call("Plugin.SignTransaction", SignTxArgs{Address: addr, Tx: *tx}, &resp); err != nil {
		return nil, err
	}
	return signResult(resp)
}

func (c *AccountsRPCClient) SignMessage(ctx context.Context, addr chain.Address, msg []byte) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var resp SignResponse
	if err := c.client.Call("Plugin.SignMessage", SignMsgArgs{Address: addr, Message: msg}, &resp); err != nil {
		return nil, err
	}
	return signResult(resp)
}

func signResult(resp SignResponse) ([]byte, error) {
	if resp.UnknownAccount {
		return nil, ErrUnknownAccount
	}
	return resp.Signature, nil
}
