package networks

import (
	"strings"
)

// Identifier addresses a network and, optionally, the provider serving it.
// An empty Provider means the network's default provider.
type Identifier struct {
	Ecosystem string
	Network   string
	Provider  string
}

// Parse reads "ecosystem/network" or "ecosystem/network/provider". Space
// around each segment is ignored.
func Parse(s string) (Identifier, error) {
	segments := strings.Split(strings.TrimSpace(s), "/")
	if len(segments) < 2 || len(segments) > 3 {
		return Identifier{}, &InvalidNetworkIdentifierError{
			Input:  s,
			Reason: "expected ecosystem/network or ecosystem/network/provider",
		}
	}
	for i, seg := range segments {
		seg = strings.TrimSpace(seg)
		segments[i] = seg
		if seg == "" {
			return Identifier{}, &InvalidNetworkIdentifierError{Input: s, Reason: "empty segment"}
		}
	}

	id := Identifier{Ecosystem: segments[0], Network: segments[1]}
	if len(segments) == 3 {
		id.Provider = segments[2]
	}
	return id, nil
}

// String returns the identifier in its text form.
func (id Identifier) String() string {
	if id.Provider == "" {
		return id.NetworkPath()
	}
	return id.NetworkPath() + "/" + id.Provider
}

// NetworkPath returns "ecosystem/network".
func (id Identifier) NetworkPath() string {
	return id.Ecosystem + "/" + id.Network
}

// Resolved reports whether the provider segment is set.
func (id Identifier) Resolved() bool {
	return id.Provider != ""
}

// MarshalText implements encoding.TextMarshaler.
func (id Identifier) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (id *Identifier) UnmarshalText(text []byte) error {
	parsed, err := Parse(string(text))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}
