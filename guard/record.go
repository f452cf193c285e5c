package guard

import (
	"fmt"

	"github.com/anyproto/any-guard/instruction"
	"github.com/anyproto/any-guard/util/crypto"
)

// Variant selects which balances a guard snapshots
type Variant uint8

const (
	// VariantNative guards the native balance of the target
	VariantNative Variant = iota + 1
	// VariantCombined guards a token holding of the target and, optionally, its native balance
	VariantCombined
	// VariantToken guards a token holding of the target only
	VariantToken
)

var Variants = []Variant{VariantNative, VariantCombined, VariantToken}

func (v Variant) String() string {
	switch v {
	case VariantNative:
		return "native"
	case VariantCombined:
		return "combined"
	case VariantToken:
		return "token"
	default:
		return fmt.Sprintf("variant(%d)", uint8(v))
	}
}

func ParseVariant(s string) (Variant, error) {
	for _, v := range Variants {
		if v.String() == s {
			return v, nil
		}
	}
	return 0, fmt.Errorf("unknown guard variant %q", s)
}

// OptionalBalance is a balance that may be absent
type OptionalBalance struct {
	value uint64
	ok    bool
}

func Some(v uint64) OptionalBalance {
	return OptionalBalance{value: v, ok: true}
}

func None() OptionalBalance {
	return OptionalBalance{}
}

func (o OptionalBalance) Get() (uint64, bool) {
	return o.value, o.ok
}

func (o OptionalBalance) String() string {
	if !o.ok {
		return "none"
	}
	return fmt.Sprint(o.value)
}

// TokenSnapshot is the token class, the holding it was read from and its balance observed at snapshot time
type TokenSnapshot struct {
	Mint crypto.Address
	// Holding pins verification to the holding that was snapshotted
	Holding    crypto.Address
	PreBalance uint64
}

const tokenSnapshotSize = crypto.AddressSize*2 + 8

func (t TokenSnapshot) encode(enc *instruction.Encoder) *instruction.Encoder {
	return enc.Address(t.Mint).Address(t.Holding).U64(t.PreBalance)
}

func decodeTokenSnapshot(dec *instruction.Decoder) TokenSnapshot {
	return TokenSnapshot{Mint: dec.Address(), Holding: dec.Address(), PreBalance: dec.U64()}
}

var (
	nativeRecordDiscriminator   = instruction.NewDiscriminator("account", "GuardedState")
	combinedRecordDiscriminator = instruction.NewDiscriminator("account", "GuardedCombinedState")
	tokenRecordDiscriminator    = instruction.NewDiscriminator("account", "GuardedTokenState")
)

// Record sizes including the 8-byte discriminator
const (
	NativeRecordSize   = instruction.DiscriminatorSize + 8 + 1
	CombinedRecordSize = instruction.DiscriminatorSize + 1 + 8 + tokenSnapshotSize + 1
	TokenRecordSize    = instruction.DiscriminatorSize + tokenSnapshotSize + 1
)

// Record is the persisted guard snapshot, one of NativeRecord, CombinedRecord or TokenRecord
type Record interface {
	Variant() Variant
	// NativeSnapshot returns the recorded native balance, if any
	NativeSnapshot() OptionalBalance
	// TokenSnapshot returns the recorded token snapshot, if the record tracks a token
	TokenSnapshot() (TokenSnapshot, bool)
	// Bump is the capability tag the record location was derived with
	Bump() uint8
	Marshal() []byte
}

type NativeRecord struct {
	PreBalance uint64
	BumpSeed   uint8
}

func (r NativeRecord) Variant() Variant                     { return VariantNative }
func (r NativeRecord) NativeSnapshot() OptionalBalance      { return Some(r.PreBalance) }
func (r NativeRecord) TokenSnapshot() (TokenSnapshot, bool) { return TokenSnapshot{}, false }
func (r NativeRecord) Bump() uint8                          { return r.BumpSeed }

func (r NativeRecord) Marshal() []byte {
	return instruction.NewEncoder(nativeRecordDiscriminator).U64(r.PreBalance).U8(r.BumpSeed).Bytes()
}

type CombinedRecord struct {
	PreNative OptionalBalance
	Token     TokenSnapshot
	BumpSeed  uint8
}

func (r CombinedRecord) Variant() Variant                     { return VariantCombined }
func (r CombinedRecord) NativeSnapshot() OptionalBalance      { return r.PreNative }
func (r CombinedRecord) TokenSnapshot() (TokenSnapshot, bool) { return r.Token, true }
func (r CombinedRecord) Bump() uint8                          { return r.BumpSeed }

func (r CombinedRecord) Marshal() []byte {
	native, ok := r.PreNative.Get()
	enc := instruction.NewEncoder(combinedRecordDiscriminator).Bool(ok).U64(native)
	return r.Token.encode(enc).U8(r.BumpSeed).Bytes()
}

type TokenRecord struct {
	Token    TokenSnapshot
	BumpSeed uint8
}

func (r TokenRecord) Variant() Variant                     { return VariantToken }
func (r TokenRecord) NativeSnapshot() OptionalBalance      { return None() }
func (r TokenRecord) TokenSnapshot() (TokenSnapshot, bool) { return r.Token, true }
func (r TokenRecord) Bump() uint8                          { return r.BumpSeed }

func (r TokenRecord) Marshal() []byte {
	return r.Token.encode(instruction.NewEncoder(tokenRecordDiscriminator)).U8(r.BumpSeed).Bytes()
}

// UnmarshalRecord decodes raw record bytes, the discriminator selects the variant
func UnmarshalRecord(data []byte) (Record, error) {
	d, args, err := instruction.Instruction{Data: data}.Split()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidRecord, err)
	}
	dec := instruction.NewDecoder(args)
	var rec Record
	switch d {
	case nativeRecordDiscriminator:
		rec = NativeRecord{PreBalance: dec.U64(), BumpSeed: dec.U8()}
	case combinedRecordDiscriminator:
		var r CombinedRecord
		if ok, native := dec.Bool(), dec.U64(); ok {
			r.PreNative = Some(native)
		} else if native != 0 {
			return nil, fmt.Errorf("%w: empty native snapshot carries a value", ErrInvalidRecord)
		}
		r.Token = decodeTokenSnapshot(dec)
		r.BumpSeed = dec.U8()
		rec = r
	case tokenRecordDiscriminator:
		rec = TokenRecord{
			Token:    decodeTokenSnapshot(dec),
			BumpSeed: dec.U8(),
		}
	default:
		return nil, fmt.Errorf("%w: unknown discriminator %x", ErrInvalidRecord, d)
	}
	if err = dec.Finish(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidRecord, err)
	}
	return rec, nil
}

// RecordSize returns the fixed size of records of the variant
func (v Variant) RecordSize() int {
	switch v {
	case VariantNative:
		return NativeRecordSize
	case VariantCombined:
		return CombinedRecordSize
	case VariantToken:
		return TokenRecordSize
	default:
		return 0
	}
}
