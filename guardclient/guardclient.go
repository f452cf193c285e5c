// Package guardclient builds guard instructions for bundles.
package guardclient

import (
	"github.com/anyproto/any-guard/guard"
	"github.com/anyproto/any-guard/instruction"
	"github.com/anyproto/any-guard/util/crypto"
)

// Client builds instructions for a guard program deployed at ProgramId
type Client struct {
	ProgramId crypto.Address
}

func New(programId crypto.Address) Client {
	return Client{ProgramId: programId}
}

// Params identify a guarded resource
type Params struct {
	Target    crypto.Address
	Initiator crypto.Address
	// Holding and Mint are required by token variants
	Holding crypto.Address
	Mint    crypto.Address
	// GuardNative enables the native balance check of the combined variant
	GuardNative bool
}

// FindRecordLocation returns the canonical record location and bump
func (c Client) FindRecordLocation(v guard.Variant, target, initiator crypto.Address) (crypto.Address, uint8, error) {
	return guard.FindLocation(guard.Seeds(v, target, initiator), c.ProgramId)
}

// PreGuardIx builds the snapshot instruction for the canonical record
func (c Client) PreGuardIx(v guard.Variant, p Params) (instruction.Instruction, error) {
	record, bump, err := c.FindRecordLocation(v, p.Target, p.Initiator)
	if err != nil {
		return instruction.Instruction{}, err
	}
	return c.PreGuardIxWithBump(v, p, record, bump), nil
}

// PreGuardIxWithBump builds the snapshot instruction for an explicit record location and capability tag
func (c Client) PreGuardIxWithBump(v guard.Variant, p Params, record crypto.Address, bump uint8) instruction.Instruction {
	enc := instruction.NewEncoder(guard.InstructionDiscriminator(v, guard.OpSnapshot)).U8(bump)
	if v == guard.VariantCombined {
		enc.Bool(p.GuardNative)
	}
	if v.TracksToken() {
		enc.Address(p.Mint)
	}
	return instruction.Instruction{
		ProgramId: c.ProgramId,
		Accounts:  guardedAccounts(v, p, record),
		Data:      enc.Bytes(),
	}
}

// PostGuardIx builds the verification instruction for the canonical record
func (c Client) PostGuardIx(v guard.Variant, p Params) (instruction.Instruction, error) {
	record, _, err := c.FindRecordLocation(v, p.Target, p.Initiator)
	if err != nil {
		return instruction.Instruction{}, err
	}
	return c.PostGuardIxForRecord(v, p, record), nil
}

// PostGuardIxForRecord builds the verification instruction for an explicit record location
func (c Client) PostGuardIxForRecord(v guard.Variant, p Params, record crypto.Address) instruction.Instruction {
	enc := instruction.NewEncoder(guard.InstructionDiscriminator(v, guard.OpVerify))
	if v.TracksToken() {
		enc.Address(p.Mint)
	}
	return instruction.Instruction{
		ProgramId: c.ProgramId,
		Accounts:  guardedAccounts(v, p, record),
		Data:      enc.Bytes(),
	}
}

// CloseIx builds the cleanup instruction, authority signs and may be any party, the deposit always goes to initiator
func (c Client) CloseIx(v guard.Variant, target, initiator, authority crypto.Address) (instruction.Instruction, error) {
	record, _, err := c.FindRecordLocation(v, target, initiator)
	if err != nil {
		return instruction.Instruction{}, err
	}
	accounts := make([]instruction.AccountMeta, 4)
	accounts[guard.AccountTarget] = instruction.ReadOnly(target, false)
	accounts[guard.AccountRecord] = instruction.Writable(record, false)
	accounts[guard.AccountInitiator] = instruction.Writable(initiator, false)
	accounts[guard.AccountAuthority] = instruction.ReadOnly(authority, true)
	return instruction.Instruction{
		ProgramId: c.ProgramId,
		Accounts:  accounts,
		Data:      instruction.NewEncoder(guard.InstructionDiscriminator(v, guard.OpClose)).Bytes(),
	}, nil
}

// Wrap surrounds body with a snapshot and a verification of the same record
func (c Client) Wrap(v guard.Variant, p Params, body ...instruction.Instruction) ([]instruction.Instruction, error) {
	pre, err := c.PreGuardIx(v, p)
	if err != nil {
		return nil, err
	}
	post, err := c.PostGuardIx(v, p)
	if err != nil {
		return nil, err
	}
	ixs := make([]instruction.Instruction, 0, len(body)+2)
	ixs = append(ixs, pre)
	ixs = append(ixs, body...)
	return append(ixs, post), nil
}

func guardedAccounts(v guard.Variant, p Params, record crypto.Address) []instruction.AccountMeta {
	n := 3
	if v.TracksToken() {
		n = 4
	}
	accounts := make([]instruction.AccountMeta, n)
	accounts[guard.AccountTarget] = instruction.ReadOnly(p.Target, false)
	accounts[guard.AccountRecord] = instruction.Writable(record, false)
	accounts[guard.AccountInitiator] = instruction.Writable(p.Initiator, true)
	if v.TracksToken() {
		accounts[guard.AccountHolding] = instruction.ReadOnly(p.Holding, false)
	}
	return accounts
}
