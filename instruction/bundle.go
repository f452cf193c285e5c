package instruction

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"maps"
	"slices"

	"github.com/zeebo/blake3"

	"github.com/anyproto/any-guard/util/crypto"
)

// Bundle is an ordered list of instructions applied all-or-nothing, authorized by the signatures of its signer accounts
type Bundle struct {
	Instructions []Instruction
	// Nonce distinguishes otherwise identical bundles
	Nonce      uint64
	Signatures map[crypto.Address][]byte
}

func NewBundle(nonce uint64, ixs ...Instruction) *Bundle {
	return &Bundle{
		Instructions: ixs,
		Nonce:        nonce,
		Signatures:   make(map[crypto.Address][]byte),
	}
}

// Message returns the hash every signer signs
func (b *Bundle) Message() []byte {
	h := blake3.New()
	var buf [8]byte
	writeU64 := func(v uint64) {
		binary.LittleEndian.PutUint64(buf[:], v)
		_, _ = h.Write(buf[:])
	}
	writeU64(b.Nonce)
	writeU64(uint64(len(b.Instructions)))
	for _, ix := range b.Instructions {
		_, _ = h.Write(ix.ProgramId[:])
		writeU64(uint64(len(ix.Accounts)))
		for _, meta := range ix.Accounts {
			_, _ = h.Write(meta.Address[:])
			var flags byte
			if meta.IsSigner {
				flags |= 1
			}
			if meta.IsWritable {
				flags |= 2
			}
			_, _ = h.Write([]byte{flags})
		}
		writeU64(uint64(len(ix.Data)))
		_, _ = h.Write(ix.Data)
	}
	return h.Sum(nil)
}

// Signers returns distinct signer accounts in order of first appearance
func (b *Bundle) Signers() (signers []crypto.Address) {
	seen := make(map[crypto.Address]struct{})
	for _, ix := range b.Instructions {
		for _, meta := range ix.Accounts {
			if !meta.IsSigner {
				continue
			}
			if _, ok := seen[meta.Address]; ok {
				continue
			}
			seen[meta.Address] = struct{}{}
			signers = append(signers, meta.Address)
		}
	}
	return
}

// Sign adds signatures of the given keys, keys not required by the bundle are ignored
func (b *Bundle) Sign(keys ...crypto.PrivKey) {
	if b.Signatures == nil {
		b.Signatures = make(map[crypto.Address][]byte)
	}
	msg := b.Message()
	required := make(map[crypto.Address]struct{})
	for _, s := range b.Signers() {
		required[s] = struct{}{}
	}
	for _, key := range keys {
		addr := key.Address()
		if _, ok := required[addr]; !ok {
			continue
		}
		b.Signatures[addr] = key.Sign(msg)
	}
}

// VerifySignatures checks that every signer account has signed the current message
func (b *Bundle) VerifySignatures() error {
	msg := b.Message()
	for _, signer := range b.Signers() {
		sig, ok := b.Signatures[signer]
		if !ok {
			return fmt.Errorf("%w: %s", ErrMissingSignature, signer)
		}
		if !signer.Verify(msg, sig) {
			return fmt.Errorf("%w: %s", ErrInvalidSignature, signer)
		}
	}
	return nil
}

var bundleDiscriminator = NewDiscriminator("wire", "Bundle")

// Marshal encodes the bundle for transport, signatures are written in address order
func (b *Bundle) Marshal() []byte {
	enc := NewEncoder(bundleDiscriminator).U64(b.Nonce).U64(uint64(len(b.Instructions)))
	for _, ix := range b.Instructions {
		enc.Address(ix.ProgramId).U64(uint64(len(ix.Accounts)))
		for _, meta := range ix.Accounts {
			enc.Address(meta.Address).Bool(meta.IsSigner).Bool(meta.IsWritable)
		}
		enc.Blob(ix.Data)
	}
	signers := slices.SortedFunc(maps.Keys(b.Signatures), func(x, y crypto.Address) int {
		return bytes.Compare(x[:], y[:])
	})
	enc.U64(uint64(len(signers)))
	for _, signer := range signers {
		enc.Address(signer).Blob(b.Signatures[signer])
	}
	return enc.Bytes()
}

func UnmarshalBundle(data []byte) (*Bundle, error) {
	d, args, err := Instruction{Data: data}.Split()
	if err != nil {
		return nil, err
	}
	if d != bundleDiscriminator {
		return nil, fmt.Errorf("%w: unexpected bundle discriminator %x", ErrInvalidData, d)
	}
	dec := NewDecoder(args)
	b := NewBundle(dec.U64())
	for i, n := 0, dec.Count(); i < n; i++ {
		ix := Instruction{ProgramId: dec.Address()}
		for j, accounts := 0, dec.Count(); j < accounts; j++ {
			ix.Accounts = append(ix.Accounts, AccountMeta{Address: dec.Address(), IsSigner: dec.Bool(), IsWritable: dec.Bool()})
		}
		ix.Data = dec.Blob()
		b.Instructions = append(b.Instructions, ix)
	}
	for i, n := 0, dec.Count(); i < n; i++ {
		signer := dec.Address()
		b.Signatures[signer] = dec.Blob()
	}
	if err = dec.Finish(); err != nil {
		return nil, err
	}
	return b, nil
}
