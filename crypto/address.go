package crypto

import (
	"fmt"

	"github.com/btcsuite/btcutil/bech32"
)

// AddressPrefix defines the human-readable prefix used when rendering entity
// addresses.
type AddressPrefix string

// EntityPrefix is the prefix shared by all agent and provider addresses.
const EntityPrefix AddressPrefix = "x4r"

// Address represents a 20-byte entity address with a human-readable prefix.
// Agents, providers and verifiers all share the same address space; the escrow
// engine itself operates on the raw 20-byte form.
type Address struct {
	prefix AddressPrefix
	bytes  [20]byte
}

// NewAddress wraps the raw 20-byte address under the supplied prefix.
func NewAddress(prefix AddressPrefix, b [20]byte) Address {
	return Address{prefix: prefix, bytes: b}
}

// MustParseAddress decodes a bech32 entity address and panics on failure. It
// is intended for static fixtures and tests.
func MustParseAddress(encoded string) Address {
	addr, err := DecodeAddress(encoded)
	if err != nil {
		panic(err)
	}
	return addr
}

// String renders the address in bech32 form.
func (a Address) String() string {
	conv, err := bech32.ConvertBits(a.bytes[:], 8, 5, true)
	if err != nil {
		panic(err)
	}
	encoded, err := bech32.Encode(string(a.prefix), conv)
	if err != nil {
		panic(err)
	}
	return encoded
}

// Bytes returns the raw 20-byte form consumed by the engines.
func (a Address) Bytes() [20]byte {
	return a.bytes
}

// Prefix returns the human-readable prefix associated with the address.
func (a Address) Prefix() AddressPrefix {
	return a.prefix
}

// DecodeAddress parses a bech32 string into an Address.
func DecodeAddress(addrStr string) (Address, error) {
	prefix, decoded, err := bech32.Decode(addrStr)
	if err != nil {
		return Address{}, fmt.Errorf("invalid bech32 string: %w", err)
	}
	conv, err := bech32.ConvertBits(decoded, 5, 8, false)
	if err != nil {
		return Address{}, fmt.Errorf("error converting bits: %w", err)
	}
	if len(conv) != 20 {
		return Address{}, fmt.Errorf("address must be 20 bytes long, got %d", len(conv))
	}
	var raw [20]byte
	copy(raw[:], conv)
	return Address{prefix: AddressPrefix(prefix), bytes: raw}, nil
}
