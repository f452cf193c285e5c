package bundle

import (
	"context"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anyproto/any-guard/app"
	"github.com/anyproto/any-guard/guard"
	"github.com/anyproto/any-guard/guardclient"
	"github.com/anyproto/any-guard/instruction"
	"github.com/anyproto/any-guard/ledger"
	"github.com/anyproto/any-guard/metric"
	"github.com/anyproto/any-guard/recordstore"
	"github.com/anyproto/any-guard/testutil/storetest"
	"github.com/anyproto/any-guard/util/crypto"
)

var ctx = context.Background()

const initiatorFunds = 1_000_000

var (
	sink      = crypto.NamedAddress("sink")
	mint      = crypto.NamedAddress("mint")
	otherMint = crypto.NamedAddress("other-mint")
	holding   = crypto.NamedAddress("target-holding")
	sinkHold  = crypto.NamedAddress("sink-holding")
)

func TestExecutor_NativeGuard(t *testing.T) {
	t.Run("drain is rolled back", func(t *testing.T) {
		fx := newFixture(t)
		defer fx.finish(t)
		ixs, err := fx.client.Wrap(guard.VariantNative, fx.params(), ledger.TransferIx(fx.target, sink, 20))
		require.NoError(t, err)

		_, err = fx.execute(ixs...)
		require.ErrorIs(t, err, guard.ErrNegativeBalanceChange)
		var ixErr *InstructionError
		require.True(t, errors.As(err, &ixErr))
		assert.Equal(t, 2, ixErr.Index)
		var bcErr *guard.BalanceChangeError
		require.True(t, errors.As(err, &bcErr))
		assert.Equal(t, uint64(100), bcErr.Pre)
		assert.Equal(t, uint64(80), bcErr.Post)

		fx.assertNative(t, fx.target, 100)
		fx.assertNative(t, sink, 0)
		fx.assertNative(t, fx.initiator, initiatorFunds)
		_, err = fx.guard.Native().Inspect(ctx, fx.target, fx.initiator)
		assert.ErrorIs(t, err, guard.ErrRecordNotFound)
		assert.Equal(t, Stats{Rejected: 1}, fx.Stats())
	})
	t.Run("deposit is applied", func(t *testing.T) {
		fx := newFixture(t)
		defer fx.finish(t)
		ixs, err := fx.client.Wrap(guard.VariantNative, fx.params(), ledger.TransferIx(fx.initiator, fx.target, 5))
		require.NoError(t, err)

		_, err = fx.execute(ixs...)
		require.NoError(t, err)
		fx.assertNative(t, fx.target, 105)
		fx.assertNative(t, fx.initiator, initiatorFunds-5)
		_, err = fx.guard.Native().Inspect(ctx, fx.target, fx.initiator)
		assert.ErrorIs(t, err, guard.ErrRecordNotFound)
		assert.Equal(t, Stats{Applied: 1}, fx.Stats())
	})
	t.Run("verify without snapshot", func(t *testing.T) {
		fx := newFixture(t)
		defer fx.finish(t)
		post, err := fx.client.PostGuardIx(guard.VariantNative, fx.params())
		require.NoError(t, err)
		_, err = fx.execute(post)
		assert.ErrorIs(t, err, guard.ErrRecordNotFound)
	})
}

func TestExecutor_TokenGuard(t *testing.T) {
	t.Run("combined skips native", func(t *testing.T) {
		fx := newFixture(t)
		defer fx.finish(t)
		p := fx.params()
		p.GuardNative = false
		ixs, err := fx.client.Wrap(guard.VariantCombined, p, ledger.TransferIx(fx.target, sink, 100))
		require.NoError(t, err)
		_, err = fx.execute(ixs...)
		require.NoError(t, err)
		fx.assertNative(t, fx.target, 0)
	})
	t.Run("combined guards native", func(t *testing.T) {
		fx := newFixture(t)
		defer fx.finish(t)
		p := fx.params()
		p.GuardNative = true
		ixs, err := fx.client.Wrap(guard.VariantCombined, p, ledger.TransferIx(fx.target, sink, 1))
		require.NoError(t, err)
		_, err = fx.execute(ixs...)
		assert.ErrorIs(t, err, guard.ErrNegativeBalanceChange)
		fx.assertNative(t, fx.target, 100)
	})
	t.Run("token drain", func(t *testing.T) {
		fx := newFixture(t)
		defer fx.finish(t)
		ixs, err := fx.client.Wrap(guard.VariantToken, fx.params(), ledger.TokenTransferIx(holding, sinkHold, fx.target, 1))
		require.NoError(t, err)
		_, err = fx.execute(ixs...)
		var bcErr *guard.BalanceChangeError
		require.True(t, errors.As(err, &bcErr))
		assert.Equal(t, guard.BalanceToken, bcErr.Kind)
		h, err := fx.ledger.TokenHolding(ctx, holding)
		require.NoError(t, err)
		assert.Equal(t, uint64(10), h.Amount)
	})
	t.Run("token substitution", func(t *testing.T) {
		fx := newFixture(t)
		defer fx.finish(t)
		pre, err := fx.client.PreGuardIx(guard.VariantToken, fx.params())
		require.NoError(t, err)
		p := fx.params()
		p.Mint = otherMint
		post, err := fx.client.PostGuardIx(guard.VariantToken, p)
		require.NoError(t, err)
		_, err = fx.execute(pre, post)
		assert.ErrorIs(t, err, guard.ErrTokenTypeMismatch)
	})
	t.Run("foreign holding", func(t *testing.T) {
		fx := newFixture(t)
		defer fx.finish(t)
		p := fx.params()
		p.Holding = sinkHold
		ixs, err := fx.client.Wrap(guard.VariantToken, p)
		require.NoError(t, err)
		_, err = fx.execute(ixs...)
		var ixErr *InstructionError
		require.True(t, errors.As(err, &ixErr))
		assert.Equal(t, 0, ixErr.Index)
		assert.ErrorIs(t, err, guard.ErrOwnershipPrecondition)
	})
}

func TestExecutor_Close(t *testing.T) {
	fx := newFixture(t)
	defer fx.finish(t)
	pre, err := fx.client.PreGuardIx(guard.VariantNative, fx.params())
	require.NoError(t, err)
	_, err = fx.execute(pre)
	require.NoError(t, err)
	deposit := fx.records.Deposit(guard.NativeRecordSize)
	fx.assertNative(t, fx.initiator, initiatorFunds-deposit)

	cranker, err := crypto.GenerateRandomKey()
	require.NoError(t, err)
	closeIx, err := fx.client.CloseIx(guard.VariantNative, fx.target, fx.initiator, cranker.Address())
	require.NoError(t, err)
	b := instruction.NewBundle(1, closeIx)
	b.Sign(cranker)
	_, err = fx.Execute(ctx, b)
	require.NoError(t, err)

	fx.assertNative(t, fx.initiator, initiatorFunds)
	fx.assertNative(t, cranker.Address(), 0)

	b = instruction.NewBundle(2, closeIx)
	b.Sign(cranker)
	_, err = fx.Execute(ctx, b)
	assert.ErrorIs(t, err, guard.ErrRecordNotFound)
}

func TestExecutor_Validation(t *testing.T) {
	fx := newFixture(t, &testConf{maxInstructions: 2})
	defer fx.finish(t)

	t.Run("empty", func(t *testing.T) {
		_, err := fx.execute()
		assert.ErrorIs(t, err, ErrEmptyBundle)
	})
	t.Run("too many", func(t *testing.T) {
		ix := ledger.TransferIx(fx.initiator, fx.target, 1)
		_, err := fx.execute(ix, ix, ix)
		assert.ErrorIs(t, err, ErrTooManyInstructions)
	})
	t.Run("missing signature", func(t *testing.T) {
		_, err := fx.Execute(ctx, instruction.NewBundle(0, ledger.TransferIx(fx.target, sink, 1)))
		assert.ErrorIs(t, err, instruction.ErrMissingSignature)
		fx.assertNative(t, fx.target, 100)
	})
	t.Run("unknown program", func(t *testing.T) {
		ix := ledger.TransferIx(fx.initiator, fx.target, 1)
		ix.ProgramId = crypto.NamedAddress("nowhere")
		_, err := fx.execute(ledger.TransferIx(fx.initiator, fx.target, 1), ix)
		assert.ErrorIs(t, err, ErrUnknownProgram)
		fx.assertNative(t, fx.target, 100)
	})
}

func TestExecutor_Metrics(t *testing.T) {
	fx := newFixture(t, metric.New())
	defer fx.finish(t)
	_, err := fx.execute(ledger.TransferIx(fx.initiator, fx.target, 1))
	require.NoError(t, err)
	_, err = fx.execute(ledger.TransferIx(fx.target, sink, 1000))
	require.ErrorIs(t, err, ledger.ErrInsufficientFunds)
	assert.Equal(t, 2, testutil.CollectAndCount(fx.Executor.(*executor).duration))
}

type testConf struct {
	maxInstructions int
}

func (c *testConf) Init(a *app.App) error { return nil }
func (c *testConf) Name() string          { return "config" }
func (c *testConf) GetBundle() Config     { return Config{MaxInstructions: c.maxInstructions} }

type fixture struct {
	Executor
	a         *app.App
	ledger    ledger.Ledger
	records   recordstore.RecordStore
	guard     guard.Service
	client    guardclient.Client
	target    crypto.Address
	initiator crypto.Address
	keys      []crypto.PrivKey
	nonce     uint64
}

func newFixture(t *testing.T, extra ...app.Component) *fixture {
	targetKey, err := crypto.GenerateRandomKey()
	require.NoError(t, err)
	initiatorKey, err := crypto.GenerateRandomKey()
	require.NoError(t, err)
	fx := &fixture{
		Executor:  New(),
		a:         new(app.App),
		ledger:    ledger.New(),
		records:   recordstore.New(),
		guard:     guard.New(),
		target:    targetKey.Address(),
		initiator: initiatorKey.Address(),
		keys:      []crypto.PrivKey{targetKey, initiatorKey},
	}
	for _, c := range extra {
		fx.a.Register(c)
	}
	fx.a.Register(storetest.NewStorage(t)).
		Register(fx.ledger).
		Register(fx.records).
		Register(fx.guard).
		Register(fx.Executor)
	require.NoError(t, fx.a.Start(ctx))
	fx.client = guardclient.New(fx.guard.ProgramId())

	require.NoError(t, fx.ledger.Credit(ctx, fx.initiator, initiatorFunds))
	require.NoError(t, fx.ledger.Credit(ctx, fx.target, 100))
	require.NoError(t, fx.ledger.CreateHolding(ctx, ledger.Holding{Id: holding, Owner: fx.target, Mint: mint, Amount: 10}))
	require.NoError(t, fx.ledger.CreateHolding(ctx, ledger.Holding{Id: sinkHold, Owner: sink, Mint: mint}))
	return fx
}

func (fx *fixture) params() guardclient.Params {
	return guardclient.Params{
		Target:    fx.target,
		Initiator: fx.initiator,
		Holding:   holding,
		Mint:      mint,
	}
}

func (fx *fixture) execute(ixs ...instruction.Instruction) (string, error) {
	fx.nonce++
	b := instruction.NewBundle(fx.nonce, ixs...)
	b.Sign(fx.keys...)
	return fx.Execute(ctx, b)
}

func (fx *fixture) assertNative(t *testing.T, id crypto.Address, expected uint64) {
	balance, err := fx.ledger.NativeBalance(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, expected, balance)
}

func (fx *fixture) finish(t *testing.T) {
	require.NoError(t, fx.a.Close(ctx))
}
