package guard

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anyproto/any-guard/util/crypto"
)

var (
	testProgram   = crypto.NamedAddress("test/guard")
	testTarget    = crypto.NamedAddress("target")
	testInitiator = crypto.NamedAddress("initiator")
)

func TestFindLocation(t *testing.T) {
	t.Run("deterministic", func(t *testing.T) {
		seeds := Seeds(VariantNative, testTarget, testInitiator)
		loc1, bump1, err := FindLocation(seeds, testProgram)
		require.NoError(t, err)
		loc2, bump2, err := FindLocation(seeds, testProgram)
		require.NoError(t, err)
		assert.Equal(t, loc1, loc2)
		assert.Equal(t, bump1, bump2)
		assert.False(t, loc1.IsOnCurve())
	})
	t.Run("matches create with canonical bump", func(t *testing.T) {
		seeds := Seeds(VariantToken, testTarget, testInitiator)
		loc, bump, err := FindLocation(seeds, testProgram)
		require.NoError(t, err)
		created, err := CreateLocation(seeds, bump, testProgram)
		require.NoError(t, err)
		assert.Equal(t, loc, created)
	})
	t.Run("distinct triples", func(t *testing.T) {
		other := crypto.NamedAddress("other")
		locs := make(map[crypto.Address]struct{})
		for _, v := range Variants {
			for _, pair := range [][2]crypto.Address{
				{testTarget, testInitiator},
				{testInitiator, testTarget},
				{testTarget, other},
				{other, testInitiator},
			} {
				loc, _, err := FindLocation(Seeds(v, pair[0], pair[1]), testProgram)
				require.NoError(t, err)
				locs[loc] = struct{}{}
			}
		}
		assert.Len(t, locs, len(Variants)*4)
	})
	t.Run("program scoped", func(t *testing.T) {
		seeds := Seeds(VariantNative, testTarget, testInitiator)
		loc1, _, err := FindLocation(seeds, testProgram)
		require.NoError(t, err)
		loc2, _, err := FindLocation(seeds, crypto.NamedAddress("another/program"))
		require.NoError(t, err)
		assert.NotEqual(t, loc1, loc2)
	})
	t.Run("other bump gives other location", func(t *testing.T) {
		seeds := Seeds(VariantNative, testTarget, testInitiator)
		loc, bump, err := FindLocation(seeds, testProgram)
		require.NoError(t, err)
		for b := int(bump) - 1; b >= 0; b-- {
			other, err := CreateLocation(seeds, uint8(b), testProgram)
			if err != nil {
				require.ErrorIs(t, err, ErrOnCurve)
				continue
			}
			assert.NotEqual(t, loc, other)
			return
		}
	})
	t.Run("seed limits", func(t *testing.T) {
		_, _, err := FindLocation([][]byte{bytes.Repeat([]byte{1}, MaxSeedLength+1)}, testProgram)
		assert.ErrorIs(t, err, ErrSeedLimit)
		_, err = CreateLocation(make([][]byte, MaxSeeds), 1, testProgram)
		assert.ErrorIs(t, err, ErrSeedLimit)
	})
}
