package networks

import (
	"fmt"
	"strings"

	"github.com/altuslabsxyz/dapp-builder/internal/config"
)

// ErrConfiguration is matched by every error in this package. It is the same
// sentinel as config.ErrConfiguration.
var ErrConfiguration = config.ErrConfiguration

// InvalidNetworkIdentifierError is returned for text that is not
// ecosystem/network or ecosystem/network/provider.
type InvalidNetworkIdentifierError struct {
	Input  string
	Reason string
}

func (e *InvalidNetworkIdentifierError) Error() string {
	return fmt.Sprintf("invalid network identifier %q: %s", e.Input, e.Reason)
}

func (e *InvalidNetworkIdentifierError) Is(target error) bool {
	return target == ErrConfiguration
}

// EcosystemNotFoundError names an ecosystem with no configuration.
type EcosystemNotFoundError struct {
	Ecosystem string
	Available []string
}

func (e *EcosystemNotFoundError) Error() string {
	return fmt.Sprintf("ecosystem %q is not configured%s", e.Ecosystem, available(e.Available))
}

func (e *EcosystemNotFoundError) Is(target error) bool {
	return target == ErrConfiguration
}

// NetworkNotFoundError names a network missing from a configured ecosystem.
type NetworkNotFoundError struct {
	Ecosystem string
	Network   string
	Available []string
}

func (e *NetworkNotFoundError) Error() string {
	return fmt.Sprintf("network %q is not configured in ecosystem %q%s", e.Network, e.Ecosystem, available(e.Available))
}

func (e *NetworkNotFoundError) Is(target error) bool {
	return target == ErrConfiguration
}

// ProviderNotFoundError is returned when the provider is not configured for
// the network, or is configured but no network plugin of that name is
// registered.
type ProviderNotFoundError struct {
	ID        Identifier
	Plugin    string // set when the configured plugin is missing
	Available []string
}

func (e *ProviderNotFoundError) Error() string {
	if e.Plugin != "" {
		return fmt.Sprintf("provider %q of %s needs network plugin %q, which is not installed", e.ID.Provider, e.ID.NetworkPath(), e.Plugin)
	}
	return fmt.Sprintf("provider %q is not configured for %s%s", e.ID.Provider, e.ID.NetworkPath(), available(e.Available))
}

func (e *ProviderNotFoundError) Is(target error) bool {
	return target == ErrConfiguration
}

// NoDefaultProviderError is returned for a two-segment identifier whose
// network has several providers and none marked default.
type NoDefaultProviderError struct {
	Ecosystem string
	Network   string
	Providers []string
}

func (e *NoDefaultProviderError) Error() string {
	return fmt.Sprintf("%s/%s has no default provider; choose one of: %s",
		e.Ecosystem, e.Network, strings.Join(e.Providers, ", "))
}

func (e *NoDefaultProviderError) Is(target error) bool {
	return target == ErrConfiguration
}

func available(names []string) string {
	if len(names) == 0 {
		return ""
	}
	return " (available: " + strings.Join(names, ", ") + ")"
}
