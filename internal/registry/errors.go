package registry

import (
	"errors"
	"fmt"
	"strings"

	"github.com/altuslabsxyz/dapp-builder/pkg/plugin"
)

// Sentinel errors for simple checks.
var (
	ErrDuplicateCapability = errors.New("capability already registered")
	ErrUnknownCapability   = errors.New("unknown capability")
	ErrProviderFault       = errors.New("provider fault")
	ErrRegistryFrozen      = errors.New("registry is frozen")
)

// DuplicateCapabilityError is returned when a provider with the same kind and
// name is registered twice.
type DuplicateCapabilityError struct {
	Kind plugin.Kind
	Name string
}

func (e *DuplicateCapabilityError) Error() string {
	return fmt.Sprintf("%s provider %q is already registered", e.Kind, e.Name)
}

func (e *DuplicateCapabilityError) Is(target error) bool {
	return target == ErrDuplicateCapability
}

// UnknownCapabilityError is returned when resolving a name that was never
// registered.
type UnknownCapabilityError struct {
	Kind      plugin.Kind
	Name      string
	Available []string
}

func (e *UnknownCapabilityError) Error() string {
	if len(e.Available) == 0 {
		return fmt.Sprintf("unknown %s provider %q (none registered)", e.Kind, e.Name)
	}
	return fmt.Sprintf("unknown %s provider %q (available: %s)", e.Kind, e.Name, strings.Join(e.Available, ", "))
}

func (e *UnknownCapabilityError) Is(target error) bool {
	return target == ErrUnknownCapability
}

// ProviderFaultError reports a provider that panicked or violated its
// contract. It always names the plugin responsible.
type ProviderFaultError struct {
	Plugin string
	Kind   plugin.Kind
	Op     string
	Panic  interface{}
	Err    error
}

func (e *ProviderFaultError) Error() string {
	var cause string
	switch {
	case e.Panic != nil:
		cause = fmt.Sprintf("panic: %v", e.Panic)
	case e.Err != nil:
		cause = e.Err.Error()
	default:
		cause = "contract violation"
	}
	return fmt.Sprintf("%s provider %q faulted in %s: %s", e.Kind, e.Plugin, e.Op, cause)
}

func (e *ProviderFaultError) Unwrap() error {
	return e.Err
}

func (e *ProviderFaultError) Is(target error) bool {
	return target == ErrProviderFault
}
