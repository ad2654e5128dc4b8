package plugin

import (
	"fmt"

	goplugin "github.com/hashicorp/go-plugin"
)

// Handshake is the handshake configuration shared by the host and plugin
// binaries.
var Handshake = goplugin.HandshakeConfig{
	ProtocolVersion:  1,
	MagicCookieKey:   "DAPP_BUILDER_PLUGIN",
	MagicCookieValue: "capability_provider_v1",
}

// Serve runs a plugin binary serving the given compiler and/or account
// backend providers. It blocks and should be called from main().
//
//	func main() {
//	    plugin.Serve("1.0.0", &MyAccounts{})
//	}
//
// Network providers cannot be served out of process: their backends hold
// live connections that do not survive a process boundary.
func Serve(version string, providers ...Provider) {
	set, err := PluginSet(version, providers...)
	if err != nil {
		panic(err)
	}
	goplugin.Serve(&goplugin.ServeConfig{
		HandshakeConfig: Handshake,
		Plugins:         set,
	})
}

// PluginSet builds the go-plugin set served for providers.
func PluginSet(version string, providers ...Provider) (goplugin.PluginSet, error) {
	manifest := Manifest{Version: version, Names: make(map[Kind]string)}
	set := goplugin.PluginSet{}

	for _, p := range providers {
		if _, dup := manifest.Names[p.Kind()]; dup {
			return nil, fmt.Errorf("plugin serves more than one %s provider", p.Kind())
		}
		compiler, isCompiler := p.(Compiler)
		accounts, isAccounts := p.(AccountBackend)
		switch {
		case p.Kind() == KindCompiler && isCompiler:
			set[compilerPluginName] = &CompilerPlugin{Impl: compiler}
		case p.Kind() == KindAccounts && isAccounts:
			set[accountsPluginName] = &AccountsPlugin{Impl: accounts}
		default:
			return nil, fmt.Errorf("provider %q of kind %s cannot be served out of process", p.Name(), p.Kind())
		}
		manifest.Names[p.Kind()] = p.Name()
	}
	if len(manifest.Names) == 0 {
		return nil, fmt.Errorf("no providers to serve")
	}

	set[manifestPluginName] = &ManifestPlugin{Manifest: manifest}
	return set, nil
}

// clientPluginSet is the set the host uses to dispense from any plugin.
func clientPluginSet() goplugin.PluginSet {
	return goplugin.PluginSet{
		manifestPluginName: &ManifestPlugin{},
		compilerPluginName: &CompilerPlugin{},
		accountsPluginName: &AccountsPlugin{},
	}
}
