package instruction

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/zeebo/blake3"

	"github.com/anyproto/any-guard/util/crypto"
	"github.com/anyproto/any-guard/util/rpcerr"
)

const DiscriminatorSize = 8

var (
	errGroup = rpcerr.ErrGroup(5000)

	ErrInvalidData        = errGroup.Register(errors.New("invalid instruction data"), 1)
	ErrNotEnoughAccounts  = errGroup.Register(errors.New("not enough accounts"), 2)
	ErrUnknownInstruction = errGroup.Register(errors.New("unknown instruction"), 3)
	ErrMissingSignature   = errGroup.Register(errors.New("missing required signature"), 4)
	ErrInvalidSignature   = errGroup.Register(errors.New("invalid signature"), 5)
	ErrAccountNotWritable = errGroup.Register(errors.New("account is not writable"), 6)
)

// Discriminator is the 8-byte prefix selecting an instruction handler or a record type
type Discriminator [DiscriminatorSize]byte

// NewDiscriminator hashes "namespace:name", e.g. "global:pre_guard" or "account:GuardedState"
func NewDiscriminator(namespace, name string) (d Discriminator) {
	h := blake3.Sum256([]byte(namespace + ":" + name))
	copy(d[:], h[:DiscriminatorSize])
	return
}

func GlobalDiscriminator(name string) Discriminator {
	return NewDiscriminator("global", name)
}

type AccountMeta struct {
	Address    crypto.Address
	IsSigner   bool
	IsWritable bool
}

func Writable(addr crypto.Address, signer bool) AccountMeta {
	return AccountMeta{Address: addr, IsSigner: signer, IsWritable: true}
}

func ReadOnly(addr crypto.Address, signer bool) AccountMeta {
	return AccountMeta{Address: addr, IsSigner: signer}
}

// Instruction is a single call to a program inside a bundle
type Instruction struct {
	ProgramId crypto.Address
	Accounts  []AccountMeta
	Data      []byte
}

// Split returns the discriminator and the remaining argument bytes
func (ix Instruction) Split() (d Discriminator, args []byte, err error) {
	if len(ix.Data) < DiscriminatorSize {
		return d, nil, fmt.Errorf("%w: data is shorter than discriminator", ErrInvalidData)
	}
	copy(d[:], ix.Data[:DiscriminatorSize])
	return d, ix.Data[DiscriminatorSize:], nil
}

// Account returns the i-th account meta
func (ix Instruction) Account(i int) (AccountMeta, error) {
	if i >= len(ix.Accounts) {
		return AccountMeta{}, fmt.Errorf("%w: want at least %d, got %d", ErrNotEnoughAccounts, i+1, len(ix.Accounts))
	}
	return ix.Accounts[i], nil
}

// Signer is like Account but also requires the account to be a signer
func (ix Instruction) Signer(i int) (AccountMeta, error) {
	meta, err := ix.Account(i)
	if err != nil {
		return meta, err
	}
	if !meta.IsSigner {
		return meta, fmt.Errorf("%w: account %d (%s)", ErrMissingSignature, i, meta.Address)
	}
	return meta, nil
}

// Mutable is like Account but also requires the account to be writable
func (ix Instruction) Mutable(i int) (AccountMeta, error) {
	meta, err := ix.Account(i)
	if err != nil {
		return meta, err
	}
	if !meta.IsWritable {
		return meta, fmt.Errorf("%w: account %d (%s)", ErrAccountNotWritable, i, meta.Address)
	}
	return meta, nil
}

// Encoder writes little-endian fixed-size instruction arguments after a discriminator
type Encoder struct {
	buf []byte
}

func NewEncoder(d Discriminator) *Encoder {
	e := &Encoder{buf: make([]byte, 0, 64)}
	e.buf = append(e.buf, d[:]...)
	return e
}

func (e *Encoder) U8(v uint8) *Encoder {
	e.buf = append(e.buf, v)
	return e
}

func (e *Encoder) Bool(v bool) *Encoder {
	if v {
		return e.U8(1)
	}
	return e.U8(0)
}

func (e *Encoder) U64(v uint64) *Encoder {
	e.buf = binary.LittleEndian.AppendUint64(e.buf, v)
	return e
}

func (e *Encoder) Address(a crypto.Address) *Encoder {
	e.buf = append(e.buf, a[:]...)
	return e
}

// Blob writes a length-prefixed byte string
func (e *Encoder) Blob(b []byte) *Encoder {
	e.U64(uint64(len(b)))
	e.buf = append(e.buf, b...)
	return e
}

func (e *Encoder) Bytes() []byte {
	return e.buf
}

// Decoder reads arguments written by Encoder, the first failure sticks and is reported by Finish
type Decoder struct {
	data []byte
	err  error
}

func NewDecoder(args []byte) *Decoder {
	return &Decoder{data: args}
}

func (d *Decoder) take(n int) []byte {
	if d.err != nil {
		return make([]byte, n)
	}
	if len(d.data) < n {
		d.err = fmt.Errorf("%w: unexpected end of data", ErrInvalidData)
		return make([]byte, n)
	}
	b := d.data[:n]
	d.data = d.data[n:]
	return b
}

func (d *Decoder) U8() uint8 {
	return d.take(1)[0]
}

func (d *Decoder) Bool() bool {
	switch v := d.U8(); v {
	case 0:
		return false
	case 1:
		return true
	default:
		if d.err == nil {
			d.err = fmt.Errorf("%w: invalid bool value %d", ErrInvalidData, v)
		}
		return false
	}
}

func (d *Decoder) U64() uint64 {
	return binary.LittleEndian.Uint64(d.take(8))
}

func (d *Decoder) Address() (a crypto.Address) {
	copy(a[:], d.take(crypto.AddressSize))
	return
}

// Count reads a length written by Encoder, lengths beyond the remaining data are rejected
func (d *Decoder) Count() int {
	n := d.U64()
	if d.err == nil && n > uint64(len(d.data)) {
		d.err = fmt.Errorf("%w: length %d exceeds remaining %d bytes", ErrInvalidData, n, len(d.data))
	}
	if d.err != nil {
		return 0
	}
	return int(n)
}

func (d *Decoder) Blob() []byte {
	n := d.Count()
	if n == 0 {
		return nil
	}
	return bytes.Clone(d.take(n))
}

// Finish returns the first decoding error or ErrInvalidData if bytes are left unread
func (d *Decoder) Finish() error {
	if d.err != nil {
		return d.err
	}
	if len(d.data) != 0 {
		return fmt.Errorf("%w: %d trailing bytes", ErrInvalidData, len(d.data))
	}
	return nil
}
