package guard

import (
	"errors"
	"fmt"

	"github.com/zeebo/blake3"

	"github.com/anyproto/any-guard/util/crypto"
)

const (
	MaxSeedLength = 32
	MaxSeeds      = 16
)

var derivedMarker = []byte("ProgramDerivedAddress")

var (
	ErrSeedLimit    = errors.New("seed limit exceeded")
	ErrOnCurve      = errors.New("derived location falls on the curve")
	ErrNoViableBump = errors.New("unable to find a viable bump seed")
)

// CreateLocation hashes seeds, bump and programId into a record location.
// Locations that land on the ed25519 curve are rejected, so no private key can ever sign for a record.
func CreateLocation(seeds [][]byte, bump uint8, programId crypto.Address) (loc crypto.Address, err error) {
	if err = checkSeeds(seeds); err != nil {
		return
	}
	return createLocation(seeds, bump, programId)
}

// FindLocation returns the location for the highest bump producing an off-curve address, the canonical bump
func FindLocation(seeds [][]byte, programId crypto.Address) (loc crypto.Address, bump uint8, err error) {
	if err = checkSeeds(seeds); err != nil {
		return
	}
	for b := 255; b >= 0; b-- {
		if loc, err = createLocation(seeds, uint8(b), programId); err == nil {
			return loc, uint8(b), nil
		}
	}
	return crypto.Address{}, 0, ErrNoViableBump
}

func checkSeeds(seeds [][]byte) error {
	// one slot is taken by the bump
	if len(seeds) >= MaxSeeds {
		return fmt.Errorf("%w: %d seeds", ErrSeedLimit, len(seeds))
	}
	for _, seed := range seeds {
		if len(seed) > MaxSeedLength {
			return fmt.Errorf("%w: seed of %d bytes", ErrSeedLimit, len(seed))
		}
	}
	return nil
}

func createLocation(seeds [][]byte, bump uint8, programId crypto.Address) (loc crypto.Address, err error) {
	h := blake3.New()
	for _, seed := range seeds {
		_, _ = h.Write(seed)
	}
	_, _ = h.Write([]byte{bump})
	_, _ = h.Write(programId[:])
	_, _ = h.Write(derivedMarker)
	copy(loc[:], h.Sum(nil))
	if loc.IsOnCurve() {
		return crypto.Address{}, ErrOnCurve
	}
	return loc, nil
}
