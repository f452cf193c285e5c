package ledger

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/anyproto/any-guard/instruction"
	"github.com/anyproto/any-guard/util/crypto"
)

var (
	transferDiscriminator      = instruction.GlobalDiscriminator("transfer")
	tokenTransferDiscriminator = instruction.GlobalDiscriminator("token_transfer")
)

// TransferIx moves native balance, from must sign
func TransferIx(from, to crypto.Address, amount uint64) instruction.Instruction {
	return instruction.Instruction{
		ProgramId: ProgramId,
		Accounts: []instruction.AccountMeta{
			instruction.Writable(from, true),
			instruction.Writable(to, false),
		},
		Data: instruction.NewEncoder(transferDiscriminator).U64(amount).Bytes(),
	}
}

// TokenTransferIx moves tokens between two holdings of the same mint, the owner of the source holding must sign
func TokenTransferIx(from, to, owner crypto.Address, amount uint64) instruction.Instruction {
	return instruction.Instruction{
		ProgramId: ProgramId,
		Accounts: []instruction.AccountMeta{
			instruction.Writable(from, false),
			instruction.Writable(to, false),
			instruction.ReadOnly(owner, true),
		},
		Data: instruction.NewEncoder(tokenTransferDiscriminator).U64(amount).Bytes(),
	}
}

func (l *ledger) Process(ctx context.Context, ix instruction.Instruction) error {
	d, args, err := ix.Split()
	if err != nil {
		return err
	}
	dec := instruction.NewDecoder(args)
	amount := dec.U64()
	if err = dec.Finish(); err != nil {
		return err
	}
	switch d {
	case transferDiscriminator:
		return l.processTransfer(ctx, ix, amount)
	case tokenTransferDiscriminator:
		return l.processTokenTransfer(ctx, ix, amount)
	default:
		return fmt.Errorf("%w: ledger %x", instruction.ErrUnknownInstruction, d)
	}
}

func (l *ledger) processTransfer(ctx context.Context, ix instruction.Instruction, amount uint64) error {
	from, err := ix.Signer(0)
	if err != nil {
		return err
	}
	if _, err = ix.Mutable(0); err != nil {
		return err
	}
	to, err := ix.Mutable(1)
	if err != nil {
		return err
	}
	log.DebugCtx(ctx, "transfer",
		zap.String("from", from.Address.String()),
		zap.String("to", to.Address.String()),
		zap.Uint64("amount", amount))
	return l.Transfer(ctx, from.Address, to.Address, amount)
}

func (l *ledger) processTokenTransfer(ctx context.Context, ix instruction.Instruction, amount uint64) error {
	from, err := ix.Mutable(0)
	if err != nil {
		return err
	}
	to, err := ix.Mutable(1)
	if err != nil {
		return err
	}
	owner, err := ix.Signer(2)
	if err != nil {
		return err
	}
	src, err := l.TokenHolding(ctx, from.Address)
	if err != nil {
		return err
	}
	if src.Owner != owner.Address {
		return fmt.Errorf("%w: %s is owned by %s", ErrNotHoldingOwner, src.Id, src.Owner)
	}
	log.DebugCtx(ctx, "token transfer",
		zap.String("from", from.Address.String()),
		zap.String("to", to.Address.String()),
		zap.Uint64("amount", amount))
	return l.TransferToken(ctx, from.Address, to.Address, amount)
}
