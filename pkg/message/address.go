package message

import (
	"github.com/btcsuite/btcutil/bech32"
)

// AddressKind is the variant tag of Address (spec.md §6).
type AddressKind uint8

const (
	AddressWOTS    AddressKind = 0 // legacy ternary signature scheme, treated as opaque
	AddressEd25519 AddressKind = 1
)

// Ed25519AddressLength is the key length carried by an Ed25519 address.
const Ed25519AddressLength = 32

// Address is a variant-tagged output owner. The ternary signature scheme
// (WOTS) is treated as opaque per spec.md §1: we store and compare its bytes
// without interpreting them.
type Address struct {
	Kind AddressKind
	Key  []byte
}

// Bytes returns the canonical `u8 kind | body` encoding.
func (a Address) Bytes() []byte {
	b := make([]byte, 1+len(a.Key))
	b[0] = byte(a.Kind)
	copy(b[1:], a.Key)
	return b
}

// AddressFromBytes parses the canonical encoding produced by Bytes.
func AddressFromBytes(b []byte) (Address, error) {
	if len(b) < 1 {
		return Address{}, ErrTruncated
	}
	kind := AddressKind(b[0])
	switch kind {
	case AddressEd25519:
		if len(b)-1 != Ed25519AddressLength {
			return Address{}, ErrMalformedBody
		}
	case AddressWOTS:
		// opaque length, copied verbatim
	default:
		return Address{}, ErrMalformedBody
	}
	key := make([]byte, len(b)-1)
	copy(key, b[1:])
	return Address{Kind: kind, Key: key}, nil
}

// Bech32 encodes the address in text form with the given human-readable
// prefix (spec.md §6).
func (a Address) Bech32(hrp string) (string, error) {
	data, err := bech32.ConvertBits(a.Bytes(), 8, 5, true)
	if err != nil {
		return "", err
	}
	return bech32.Encode(hrp, data)
}

// AddressFromBech32 decodes the text form produced by Bech32.
func AddressFromBech32(hrp, s string) (Address, error) {
	gotHRP, data, err := bech32.Decode(s)
	if err != nil {
		return Address{}, err
	}
	if gotHRP != hrp {
		return Address{}, ErrMalformedBody
	}
	raw, err := bech32.ConvertBits(data, 5, 8, false)
	if err != nil {
		return Address{}, err
	}
	return AddressFromBytes(raw)
}
