package guard

import (
	"errors"
	"fmt"

	"github.com/anyproto/any-guard/util/rpcerr"
)

var (
	errGroup = rpcerr.ErrGroup(6000)

	// state errors
	ErrRecordNotFound     = errGroup.Register(errors.New("guard record not found"), 1)
	ErrCapabilityMismatch = errGroup.Register(errors.New("capability tag mismatch"), 2)
	ErrInvalidRecord      = errGroup.Register(errors.New("invalid guard record"), 3)
	// precondition errors
	ErrOwnershipPrecondition = errGroup.Register(errors.New("token holding ownership precondition failed"), 4)
	// invariant violations
	ErrTokenTypeMismatch     = errGroup.Register(errors.New("token type mismatch"), 5)
	ErrNegativeBalanceChange = errGroup.Register(errors.New("negative balance change"), 69)
)

type BalanceKind string

const (
	BalanceNative BalanceKind = "native"
	BalanceToken  BalanceKind = "token"
)

// BalanceChangeError reports a protected balance that decreased during a bundle
type BalanceChangeError struct {
	Kind BalanceKind
	Pre  uint64
	Post uint64
}

func (e *BalanceChangeError) Error() string {
	return fmt.Sprintf("negative balance change: pre %s balance: %d, post %s balance: %d", e.Kind, e.Pre, e.Kind, e.Post)
}

func (e *BalanceChangeError) Unwrap() error {
	return ErrNegativeBalanceChange
}

// TokenTypeMismatchError reports a token class presented at verification that differs from the snapshotted one
type TokenTypeMismatchError struct {
	Recorded  string
	Presented string
}

func (e *TokenTypeMismatchError) Error() string {
	return fmt.Sprintf("token type mismatch: recorded %s, presented %s", e.Recorded, e.Presented)
}

func (e *TokenTypeMismatchError) Unwrap() error {
	return ErrTokenTypeMismatch
}
