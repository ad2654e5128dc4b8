package chain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
)

// Param is an ABI argument. Tuple types carry their Components.
type Param struct {
	Name         string  `json:"name"`
	Type         string  `json:"type"`
	InternalType string  `json:"internalType,omitempty"`
	Components   []Param `json:"components,omitempty"`
	Indexed      bool    `json:"indexed,omitempty"`
}

// Function is a callable contract entry point.
type Function struct {
	Name       string  `json:"name"`
	Inputs     []Param `json:"inputs"`
	Outputs    []Param `json:"outputs,omitempty"`
	Mutability string  `json:"stateMutability,omitempty"`
}

// Signature returns the canonical signature, e.g. "transfer(address,uint256)".
func (f Function) Signature() string {
	return signature(f.Name, f.Inputs)
}

// Selector returns the 4-byte function selector.
func (f Function) Selector() [4]byte {
	return selector(f.Signature())
}

// ReadOnly reports whether calling the function cannot modify state.
func (f Function) ReadOnly() bool {
	return f.Mutability == "view" || f.Mutability == "pure"
}

// Event is a log signature emitted by a contract.
type Event struct {
	Name      string  `json:"name"`
	Inputs    []Param `json:"inputs"`
	Anonymous bool    `json:"anonymous,omitempty"`
}

// Signature returns the canonical event signature.
func (e Event) Signature() string {
	return signature(e.Name, e.Inputs)
}

// Topic returns the event's topic0 hash.
func (e Event) Topic() Hash {
	return crypto.Keccak256Hash([]byte(e.Signature()))
}

// CustomError is a Solidity custom error declaration.
type CustomError struct {
	Name   string  `json:"name"`
	Inputs []Param `json:"inputs"`
}

// Signature returns the canonical error signature.
func (e CustomError) Signature() string {
	return signature(e.Name, e.Inputs)
}

// Selector returns the 4-byte error selector.
func (e CustomError) Selector() [4]byte {
	return selector(e.Signature())
}

// ContractType is the compiled interface and bytecode of one contract. It is
// keyed by SourceID, the content hash of the source it was built from, and is
// never mutated after construction.
type ContractType struct {
	Name        string        `json:"name"`
	SourceID    string        `json:"source_id"`
	SourcePath  string        `json:"source_path,omitempty"`
	Constructor *Function     `json:"constructor,omitempty"`
	Functions   []Function    `json:"functions"`
	Events      []Event       `json:"events"`
	Errors      []CustomError `json:"errors,omitempty"`
	Bytecode    hexutil.Bytes `json:"bytecode,omitempty"`
}

// SourceHash returns the source identity hash of content.
func SourceHash(content []byte) string {
	return crypto.Keccak256Hash(content).Hex()
}

// Function looks up a function by name. Overloads resolve to the first
// declaration.
func (c *ContractType) Function(name string) (Function, bool) {
	for _, fn := range c.Functions {
		if fn.Name == name {
			return fn, true
		}
	}
	return Function{}, false
}

// ErrorBySelector finds the custom error matching the 4-byte selector.
func (c *ContractType) ErrorBySelector(sel [4]byte) (CustomError, bool) {
	for _, e := range c.Errors {
		if e.Selector() == sel {
			return e, true
		}
	}
	return CustomError{}, false
}

// Fingerprint returns a digest of the contract's structure. Two contract
// types built from the same source must have equal fingerprints.
func (c *ContractType) Fingerprint() Hash {
	data, err := json.Marshal(c)
	if err != nil {
		return Hash{}
	}
	return crypto.Keccak256Hash(data)
}

// ABI returns the go-ethereum ABI for packing and unpacking calls.
func (c *ContractType) ABI() (abi.ABI, error) {
	return abi.JSON(bytes.NewReader(c.ABIJSON()))
}

// ABIJSON renders the contract interface as a standard JSON ABI.
func (c *ContractType) ABIJSON() []byte {
	entries := make([]abiEntry, 0, len(c.Functions)+len(c.Events)+len(c.Errors)+1)
	if c.Constructor != nil {
		entries = append(entries, abiEntry{
			Type:            "constructor",
			Inputs:          nonNil(c.Constructor.Inputs),
			StateMutability: c.Constructor.Mutability,
		})
	}
	for _, fn := range c.Functions {
		entries = append(entries, abiEntry{
			Type:            "function",
			Name:            fn.Name,
			Inputs:          nonNil(fn.Inputs),
			Outputs:         nonNil(fn.Outputs),
			StateMutability: fn.Mutability,
		})
	}
	for _, ev := range c.Events {
		entries = append(entries, abiEntry{
			Type:      "event",
			Name:      ev.Name,
			Inputs:    nonNil(ev.Inputs),
			Anonymous: ev.Anonymous,
		})
	}
	for _, e := range c.Errors {
		entries = append(entries, abiEntry{Type: "error", Name: e.Name, Inputs: nonNil(e.Inputs)})
	}
	data, _ := json.Marshal(entries)
	return data
}

type abiEntry struct {
	Type            string  `json:"type"`
	Name            string  `json:"name,omitempty"`
	Inputs          []Param `json:"inputs"`
	Outputs         []Param `json:"outputs,omitempty"`
	StateMutability string  `json:"stateMutability,omitempty"`
	Anonymous       bool    `json:"anonymous,omitempty"`
}

// ParseABI builds a ContractType from a standard JSON ABI. Declaration order
// is preserved. The ABI is validated with go-ethereum's parser.
func ParseABI(name, sourceID string, abiJSON []byte, bytecode []byte) (*ContractType, error) {
	if _, err := abi.JSON(bytes.NewReader(abiJSON)); err != nil {
		return nil, fmt.Errorf("invalid abi for %s: %w", name, err)
	}

	var entries []abiEntry
	if err := json.Unmarshal(abiJSON, &entries); err != nil {
		return nil, fmt.Errorf("invalid abi for %s: %w", name, err)
	}

	ct := &ContractType{
		Name:      name,
		SourceID:  sourceID,
		Functions: []Function{},
		Events:    []Event{},
		Bytecode:  bytecode,
	}
	for _, e := range entries {
		switch e.Type {
		case "function", "":
			ct.Functions = append(ct.Functions, Function{
				Name:       e.Name,
				Inputs:     nonNil(e.Inputs),
				Outputs:    e.Outputs,
				Mutability: e.StateMutability,
			})
		case "constructor":
			ct.Constructor = &Function{Inputs: nonNil(e.Inputs), Mutability: e.StateMutability}
		case "event":
			ct.Events = append(ct.Events, Event{Name: e.Name, Inputs: nonNil(e.Inputs), Anonymous: e.Anonymous})
		case "error":
			ct.Errors = append(ct.Errors, CustomError{Name: e.Name, Inputs: nonNil(e.Inputs)})
		case "fallback", "receive":
		default:
			return nil, fmt.Errorf("invalid abi entry type %q in %s", e.Type, name)
		}
	}
	return ct, nil
}

func signature(name string, inputs []Param) string {
	types := make([]string, len(inputs))
	for i, p := range inputs {
		types[i] = canonicalType(p)
	}
	return fmt.Sprintf("%s(%s)", name, strings.Join(types, ","))
}

func canonicalType(p Param) string {
	if !strings.HasPrefix(p.Type, "tuple") {
		return p.Type
	}
	parts := make([]string, len(p.Components))
	for i, c := range p.Components {
		parts[i] = canonicalType(c)
	}
	return "(" + strings.Join(parts, ",") + ")" + strings.TrimPrefix(p.Type, "tuple")
}

func selector(sig string) [4]byte {
	var id [4]byte
	copy(id[:], crypto.Keccak256([]byte(sig))[:4])
	return id
}

func nonNil(p []Param) []Param {
	if p == nil {
		return []Param{}
	}
	return p
}
