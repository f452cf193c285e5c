package guard

import (
	"fmt"

	"github.com/anyproto/any-guard/instruction"
)

// Op is a guard entry point
type Op uint8

const (
	OpSnapshot Op = iota + 1
	OpVerify
	OpClose
)

func (op Op) String() string {
	switch op {
	case OpSnapshot:
		return "snapshot"
	case OpVerify:
		return "verify"
	case OpClose:
		return "close"
	default:
		return fmt.Sprintf("op(%d)", uint8(op))
	}
}

var instructionNames = map[Variant]map[Op]string{
	VariantNative: {
		OpSnapshot: "pre_guard",
		OpVerify:   "post_guard",
		OpClose:    "close_guarded_state",
	},
	VariantCombined: {
		OpSnapshot: "pre_guard_combined",
		OpVerify:   "post_guard_combined",
		OpClose:    "close_guarded_combined_state",
	},
	VariantToken: {
		OpSnapshot: "pre_guard_token",
		OpVerify:   "post_guard_token",
		OpClose:    "close_guarded_token_state",
	},
}

// Account positions of guard instructions.
// Snapshot and verify take target, record, initiator (signer) and, for token variants, the token holding.
// Close takes target, record, initiator and any signing authority cranking the close.
const (
	AccountTarget    = 0
	AccountRecord    = 1
	AccountInitiator = 2
	AccountHolding   = 3
	AccountAuthority = 3
)

// InstructionName returns the instruction name of the variant's entry point
func InstructionName(v Variant, op Op) string {
	return instructionNames[v][op]
}

// InstructionDiscriminator returns the data prefix selecting the variant's entry point
func InstructionDiscriminator(v Variant, op Op) instruction.Discriminator {
	return instruction.GlobalDiscriminator(InstructionName(v, op))
}

// TracksToken reports whether the variant snapshots a token holding
func (v Variant) TracksToken() bool {
	return specs[v].token
}

type handler struct {
	variant Variant
	op      Op
}

func buildHandlers() map[instruction.Discriminator]handler {
	handlers := make(map[instruction.Discriminator]handler)
	for _, v := range Variants {
		for _, op := range []Op{OpSnapshot, OpVerify, OpClose} {
			handlers[InstructionDiscriminator(v, op)] = handler{variant: v, op: op}
		}
	}
	return handlers
}
