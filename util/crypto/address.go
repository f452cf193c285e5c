package crypto

import (
	"errors"
	"fmt"

	"filippo.io/edwards25519"
	"github.com/mr-tron/base58"
	"github.com/zeebo/blake3"
)

const AddressSize = 32

var ErrInvalidAddress = errors.New("invalid address")

// Address identifies any resource: an account, a token holding, a program or a derived record location.
// Account addresses are ed25519 public keys, derived record locations are guaranteed to be off the curve.
type Address [AddressSize]byte

// ParseAddress decodes a base58 address
func ParseAddress(s string) (a Address, err error) {
	raw, err := base58.Decode(s)
	if err != nil {
		return a, fmt.Errorf("%w: %w", ErrInvalidAddress, err)
	}
	return AddressFromBytes(raw)
}

// MustParseAddress is like ParseAddress but panics on error
func MustParseAddress(s string) Address {
	a, err := ParseAddress(s)
	if err != nil {
		panic(err)
	}
	return a
}

func AddressFromBytes(b []byte) (a Address, err error) {
	if len(b) != AddressSize {
		return a, fmt.Errorf("%w: expected %d bytes, got %d", ErrInvalidAddress, AddressSize, len(b))
	}
	copy(a[:], b)
	return a, nil
}

// NamedAddress returns a stable address for a well-known name, e.g. a built-in program id
func NamedAddress(name string) Address {
	return blake3.Sum256([]byte(name))
}

func (a Address) Bytes() []byte {
	return a[:]
}

func (a Address) IsZero() bool {
	return a == Address{}
}

// IsOnCurve reports whether the address is a valid ed25519 point, i.e. whether a private key may exist for it
func (a Address) IsOnCurve() bool {
	_, err := new(edwards25519.Point).SetBytes(a[:])
	return err == nil
}

func (a Address) String() string {
	return base58.Encode(a[:])
}

func (a Address) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

func (a *Address) UnmarshalText(text []byte) (err error) {
	*a, err = ParseAddress(string(text))
	return
}
