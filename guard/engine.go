//go:generate mockgen -destination mock_guard/mock_guard.go github.com/anyproto/any-guard/guard BalanceReader
package guard

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/anyproto/any-guard/ledger"
	"github.com/anyproto/any-guard/metric"
	"github.com/anyproto/any-guard/recordstore"
	"github.com/anyproto/any-guard/util/crypto"
)

// BalanceReader gives point-in-time balances of the surrounding bundle step
type BalanceReader interface {
	NativeBalance(ctx context.Context, id crypto.Address) (uint64, error)
	TokenHolding(ctx context.Context, id crypto.Address) (ledger.Holding, error)
}

// Accounts identify the guarded resource, the initiator and the record
type Accounts struct {
	// Target is the resource whose balances are guarded
	Target crypto.Address
	// Initiator pays the record deposit and receives it back
	Initiator crypto.Address
	// Record is the record location, the canonical location is derived when empty
	Record crypto.Address
	// Holding is the token holding of Target, used by token variants only
	Holding crypto.Address
}

type SnapshotArgs struct {
	// Bump is the capability tag to record, it must be the canonical bump of the record location
	Bump uint8
	// GuardNative enables the native balance check of the combined variant
	GuardNative bool
	// Mint is the token type tracked by token variants
	Mint crypto.Address
}

// Guard implements the snapshot, verification and cleanup protocol for one variant
type Guard interface {
	Variant() Variant
	// Locate derives the canonical record location and bump for a target and initiator
	Locate(target, initiator crypto.Address) (loc crypto.Address, bump uint8, err error)
	// Snapshot records current balances into a fresh or reused record
	Snapshot(ctx context.Context, acc Accounts, args SnapshotArgs) error
	// Verify fails if a guarded balance decreased since Snapshot, otherwise destroys the record.
	// mint is the token type presented for re-checking and is ignored by the native variant.
	Verify(ctx context.Context, acc Accounts, mint crypto.Address) error
	// Close destroys the record unconditionally refunding the deposit to the initiator
	Close(ctx context.Context, acc Accounts) error
	// Inspect loads and decodes the record of target and initiator
	Inspect(ctx context.Context, target, initiator crypto.Address) (Record, error)
}

type nativeMode int

const (
	nativeAlways nativeMode = iota
	nativeOptional
	nativeNever
)

type variantSpec struct {
	variant Variant
	seed    []byte
	native  nativeMode
	token   bool
	build   func(native OptionalBalance, token TokenSnapshot, bump uint8) Record
}

var specs = map[Variant]variantSpec{
	VariantNative: {
		variant: VariantNative,
		seed:    []byte("GUARDED_STATE"),
		native:  nativeAlways,
		build: func(native OptionalBalance, _ TokenSnapshot, bump uint8) Record {
			pre, _ := native.Get()
			return NativeRecord{PreBalance: pre, BumpSeed: bump}
		},
	},
	VariantCombined: {
		variant: VariantCombined,
		seed:    []byte("GUARDED_COMBINED_STATE"),
		native:  nativeOptional,
		token:   true,
		build: func(native OptionalBalance, token TokenSnapshot, bump uint8) Record {
			return CombinedRecord{PreNative: native, Token: token, BumpSeed: bump}
		},
	},
	VariantToken: {
		variant: VariantToken,
		seed:    []byte("GUARDED_TOKEN_STATE"),
		native:  nativeNever,
		token:   true,
		build: func(_ OptionalBalance, token TokenSnapshot, bump uint8) Record {
			return TokenRecord{Token: token, BumpSeed: bump}
		},
	},
}

// Seeds returns the identifying seeds of a record before the bump
func Seeds(variant Variant, target, initiator crypto.Address) [][]byte {
	return [][]byte{specs[variant].seed, target.Bytes(), initiator.Bytes()}
}

type engine struct {
	spec      variantSpec
	programId crypto.Address
	balances  BalanceReader
	records   recordstore.RecordStore
	metrics   *guardMetrics
}

func newEngine(variant Variant, programId crypto.Address, balances BalanceReader, records recordstore.RecordStore, metrics *guardMetrics) *engine {
	return &engine{
		spec:      specs[variant],
		programId: programId,
		balances:  balances,
		records:   records,
		metrics:   metrics,
	}
}

func (e *engine) Variant() Variant {
	return e.spec.variant
}

func (e *engine) Locate(target, initiator crypto.Address) (crypto.Address, uint8, error) {
	return FindLocation(Seeds(e.spec.variant, target, initiator), e.programId)
}

func (e *engine) Snapshot(ctx context.Context, acc Accounts, args SnapshotArgs) (err error) {
	defer func() { e.metrics.observe(e.spec.variant, OpSnapshot, err) }()
	loc, bump, err := e.Locate(acc.Target, acc.Initiator)
	if err != nil {
		return err
	}
	if args.Bump != bump {
		return fmt.Errorf("%w: presented bump %d, canonical %d", ErrCapabilityMismatch, args.Bump, bump)
	}
	if !acc.Record.IsZero() && acc.Record != loc {
		return fmt.Errorf("%w: record %s is not derived from target and initiator", ErrCapabilityMismatch, acc.Record)
	}

	var token TokenSnapshot
	if e.spec.token {
		holding, err := e.ownedHolding(ctx, acc, args.Mint)
		if err != nil {
			return err
		}
		token = TokenSnapshot{Mint: holding.Mint, Holding: holding.Id, PreBalance: holding.Amount}
	}

	_, created, err := e.records.AllocateOrReuse(ctx, loc, e.programId, e.spec.variant.RecordSize(), acc.Initiator)
	if err != nil {
		return fmt.Errorf("allocate guard record: %w", err)
	}
	if created {
		// a freshly allocated record is still zero-filled, give the deposit back if it never gets a snapshot
		defer func() {
			if err == nil {
				return
			}
			if _, dErr := e.records.Destroy(ctx, loc, e.programId, acc.Initiator); dErr != nil {
				log.WarnCtx(ctx, "can't release unfinished guard record", metric.Record(loc), zap.Error(dErr))
			}
		}()
	}

	native := None()
	if e.spec.native == nativeAlways || (e.spec.native == nativeOptional && args.GuardNative) {
		balance, err := e.balances.NativeBalance(ctx, acc.Target)
		if err != nil {
			return err
		}
		native = Some(balance)
	}

	rec := e.spec.build(native, token, bump)
	if err = e.records.Store(ctx, loc, e.programId, rec.Marshal()); err != nil {
		return err
	}
	log.InfoCtx(ctx, "guard snapshot",
		metric.Variant(e.spec.variant),
		metric.Target(acc.Target),
		metric.Initiator(acc.Initiator),
		metric.Record(loc),
		zap.Stringer("native", native),
		zap.Uint64("token", token.PreBalance))
	return nil
}

func (e *engine) Verify(ctx context.Context, acc Accounts, mint crypto.Address) (err error) {
	defer func() { e.metrics.observe(e.spec.variant, OpVerify, err) }()
	loc, rec, err := e.load(ctx, acc)
	if err != nil {
		return err
	}

	if pre, ok := rec.NativeSnapshot().Get(); ok {
		post, err := e.balances.NativeBalance(ctx, acc.Target)
		if err != nil {
			return err
		}
		if post < pre {
			return e.violation(ctx, acc, &BalanceChangeError{Kind: BalanceNative, Pre: pre, Post: post})
		}
	}

	if snapshot, ok := rec.TokenSnapshot(); ok {
		if mint != snapshot.Mint {
			return e.violation(ctx, acc, &TokenTypeMismatchError{Recorded: snapshot.Mint.String(), Presented: mint.String()})
		}
		if acc.Holding != snapshot.Holding {
			return e.violation(ctx, acc, fmt.Errorf("%w: holding %s was not snapshotted, record tracks %s", ErrOwnershipPrecondition, acc.Holding, snapshot.Holding))
		}
		holding, err := e.ownedHolding(ctx, acc, mint)
		if err != nil {
			return err
		}
		if holding.Amount < snapshot.PreBalance {
			return e.violation(ctx, acc, &BalanceChangeError{Kind: BalanceToken, Pre: snapshot.PreBalance, Post: holding.Amount})
		}
	}

	refund, err := e.records.Destroy(ctx, loc, e.programId, acc.Initiator)
	if err != nil {
		return err
	}
	log.InfoCtx(ctx, "guard verified",
		metric.Variant(e.spec.variant),
		metric.Target(acc.Target),
		metric.Record(loc),
		zap.Uint64("refund", refund))
	return nil
}

// Close does not decode the record so that records with damaged or unfinished payloads can still be reclaimed.
// The location must be the canonical one of target and initiator.
func (e *engine) Close(ctx context.Context, acc Accounts) (err error) {
	defer func() { e.metrics.observe(e.spec.variant, OpClose, err) }()
	loc, _, err := e.Locate(acc.Target, acc.Initiator)
	if err != nil {
		return err
	}
	if !acc.Record.IsZero() && acc.Record != loc {
		return fmt.Errorf("%w: record %s is not derived from target and initiator", ErrCapabilityMismatch, acc.Record)
	}
	raw, err := e.records.Load(ctx, loc)
	if err != nil {
		if errors.Is(err, recordstore.ErrNotFound) {
			err = fmt.Errorf("%w: %s", ErrRecordNotFound, loc)
		}
		return err
	}
	if raw.Owner != e.programId {
		return fmt.Errorf("%w: record %s is owned by %s", ErrCapabilityMismatch, loc, raw.Owner)
	}
	refund, err := e.records.Destroy(ctx, loc, e.programId, acc.Initiator)
	if err != nil {
		return err
	}
	log.InfoCtx(ctx, "guard record closed",
		metric.Variant(e.spec.variant),
		metric.Target(acc.Target),
		metric.Initiator(acc.Initiator),
		metric.Record(loc),
		zap.Uint64("refund", refund))
	return nil
}

func (e *engine) Inspect(ctx context.Context, target, initiator crypto.Address) (Record, error) {
	_, rec, err := e.load(ctx, Accounts{Target: target, Initiator: initiator})
	return rec, err
}

// load finds the record and checks it was derived from the presented target and initiator with its recorded bump
func (e *engine) load(ctx context.Context, acc Accounts) (loc crypto.Address, rec Record, err error) {
	loc = acc.Record
	if loc.IsZero() {
		if loc, _, err = e.Locate(acc.Target, acc.Initiator); err != nil {
			return
		}
	}
	raw, err := e.records.Load(ctx, loc)
	if err != nil {
		if errors.Is(err, recordstore.ErrNotFound) {
			err = fmt.Errorf("%w: %s", ErrRecordNotFound, loc)
		}
		return
	}
	if raw.Owner != e.programId {
		err = fmt.Errorf("%w: record %s is owned by %s", ErrCapabilityMismatch, loc, raw.Owner)
		return
	}
	if rec, err = UnmarshalRecord(raw.Data); err != nil {
		return
	}
	if rec.Variant() != e.spec.variant {
		err = fmt.Errorf("%w: %s record at %s", ErrInvalidRecord, rec.Variant(), loc)
		return
	}
	derived, err := CreateLocation(Seeds(e.spec.variant, acc.Target, acc.Initiator), rec.Bump(), e.programId)
	if err != nil || derived != loc {
		err = fmt.Errorf("%w: record %s is not derived from target, initiator and bump %d", ErrCapabilityMismatch, loc, rec.Bump())
		return
	}
	return loc, rec, nil
}

// ownedHolding reads the token holding and confirms it belongs to the target and tracks mint
func (e *engine) ownedHolding(ctx context.Context, acc Accounts, mint crypto.Address) (ledger.Holding, error) {
	holding, err := e.balances.TokenHolding(ctx, acc.Holding)
	if err != nil {
		if errors.Is(err, ledger.ErrHoldingNotFound) {
			return ledger.Holding{}, fmt.Errorf("%w: %w", ErrOwnershipPrecondition, err)
		}
		return ledger.Holding{}, err
	}
	if holding.Owner != acc.Target {
		return ledger.Holding{}, fmt.Errorf("%w: holding %s is owned by %s, not %s", ErrOwnershipPrecondition, holding.Id, holding.Owner, acc.Target)
	}
	if holding.Mint != mint {
		return ledger.Holding{}, fmt.Errorf("%w: holding %s tracks %s, not %s", ErrOwnershipPrecondition, holding.Id, holding.Mint, mint)
	}
	return holding, nil
}

func (e *engine) violation(ctx context.Context, acc Accounts, err error) error {
	log.WarnCtx(ctx, "guard violation",
		metric.Variant(e.spec.variant),
		metric.Target(acc.Target),
		metric.Initiator(acc.Initiator),
		zap.Error(err))
	return err
}
