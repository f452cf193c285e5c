package guard

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anyproto/any-guard/util/crypto"
)

func TestRecord_Marshal(t *testing.T) {
	mint := crypto.NamedAddress("mint")
	holding := crypto.NamedAddress("holding")
	records := []Record{
		NativeRecord{PreBalance: 100, BumpSeed: 254},
		CombinedRecord{PreNative: Some(7), Token: TokenSnapshot{Mint: mint, Holding: holding, PreBalance: 42}, BumpSeed: 253},
		CombinedRecord{PreNative: None(), Token: TokenSnapshot{Mint: mint, Holding: holding, PreBalance: 42}, BumpSeed: 255},
		TokenRecord{Token: TokenSnapshot{Mint: mint, Holding: holding, PreBalance: 1}, BumpSeed: 250},
	}
	for _, rec := range records {
		data := rec.Marshal()
		assert.Len(t, data, rec.Variant().RecordSize(), rec.Variant().String())
		decoded, err := UnmarshalRecord(data)
		require.NoError(t, err)
		assert.Equal(t, rec, decoded)
	}
}

func TestRecord_Unmarshal(t *testing.T) {
	t.Run("unknown discriminator", func(t *testing.T) {
		_, err := UnmarshalRecord(make([]byte, NativeRecordSize))
		assert.ErrorIs(t, err, ErrInvalidRecord)
	})
	t.Run("short", func(t *testing.T) {
		data := NativeRecord{PreBalance: 1, BumpSeed: 2}.Marshal()
		_, err := UnmarshalRecord(data[:len(data)-1])
		assert.ErrorIs(t, err, ErrInvalidRecord)
		_, err = UnmarshalRecord(data[:3])
		assert.ErrorIs(t, err, ErrInvalidRecord)
	})
	t.Run("trailing bytes", func(t *testing.T) {
		data := append(TokenRecord{BumpSeed: 1}.Marshal(), 0)
		_, err := UnmarshalRecord(data)
		assert.ErrorIs(t, err, ErrInvalidRecord)
	})
	t.Run("empty native with value", func(t *testing.T) {
		data := CombinedRecord{PreNative: Some(5)}.Marshal()
		data[8] = 0
		_, err := UnmarshalRecord(data)
		assert.ErrorIs(t, err, ErrInvalidRecord)
	})
}

func TestRecord_TokenSnapshotLayout(t *testing.T) {
	snapshot := TokenSnapshot{Mint: crypto.NamedAddress("mint"), Holding: crypto.NamedAddress("holding"), PreBalance: 3}
	data := TokenRecord{Token: snapshot, BumpSeed: 9}.Marshal()
	assert.Equal(t, snapshot.Mint.Bytes(), data[8:40])
	assert.Equal(t, snapshot.Holding.Bytes(), data[40:72])
	assert.Equal(t, byte(9), data[len(data)-1])
}

func TestVariant(t *testing.T) {
	for _, v := range Variants {
		parsed, err := ParseVariant(v.String())
		require.NoError(t, err)
		assert.Equal(t, v, parsed)
	}
	_, err := ParseVariant("nft")
	assert.Error(t, err)
	assert.False(t, VariantNative.TracksToken())
	assert.True(t, VariantCombined.TracksToken())
	assert.True(t, VariantToken.TracksToken())
	assert.Equal(t, 17, VariantNative.RecordSize())
	assert.Equal(t, 90, VariantCombined.RecordSize())
	assert.Equal(t, 81, VariantToken.RecordSize())
}

func TestErrors(t *testing.T) {
	err := &BalanceChangeError{Kind: BalanceNative, Pre: 100, Post: 80}
	assert.ErrorIs(t, err, ErrNegativeBalanceChange)
	assert.Equal(t, "negative balance change: pre native balance: 100, post native balance: 80", err.Error())
	assert.ErrorIs(t, &TokenTypeMismatchError{Recorded: "a", Presented: "b"}, ErrTokenTypeMismatch)
}
