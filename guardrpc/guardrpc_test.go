package guardrpc

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anyproto/any-guard/app"
	"github.com/anyproto/any-guard/bundle"
	"github.com/anyproto/any-guard/crank"
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

var sink = crypto.NamedAddress("sink")

func TestServer_ExecuteBundle(t *testing.T) {
	fx := newFixture(t, "127.0.0.1:0")
	defer fx.finish(t)

	t.Run("drain is rejected", func(t *testing.T) {
		ixs, err := fx.client.Wrap(guard.VariantNative, fx.params(), ledger.TransferIx(fx.target, sink, 20))
		require.NoError(t, err)
		_, err = fx.rpc.ExecuteBundle(ctx, fx.bundle(ixs...))
		assert.ErrorIs(t, err, guard.ErrNegativeBalanceChange)
		fx.assertNative(t, fx.target, 100)
		fx.assertNative(t, fx.initiator, initiatorFunds)
	})
	t.Run("deposit is applied", func(t *testing.T) {
		ixs, err := fx.client.Wrap(guard.VariantNative, fx.params(), ledger.TransferIx(fx.initiator, fx.target, 5))
		require.NoError(t, err)
		id, err := fx.rpc.ExecuteBundle(ctx, fx.bundle(ixs...))
		require.NoError(t, err)
		assert.NotEmpty(t, id)
		fx.assertNative(t, fx.target, 105)
	})
	t.Run("unsigned", func(t *testing.T) {
		_, err := fx.rpc.ExecuteBundle(ctx, instruction.NewBundle(0, ledger.TransferIx(fx.target, sink, 1)))
		assert.ErrorIs(t, err, instruction.ErrMissingSignature)
	})
	assert.Equal(t, bundle.Stats{Applied: 1, Rejected: 2}, fx.executor.Stats())
}

func TestServer_EnqueueClose(t *testing.T) {
	fx := newFixture(t, "127.0.0.1:0")
	defer fx.finish(t)
	pre, err := fx.client.PreGuardIx(guard.VariantNative, fx.params())
	require.NoError(t, err)
	_, err = fx.rpc.ExecuteBundle(ctx, fx.bundle(pre))
	require.NoError(t, err)
	fx.assertNative(t, fx.initiator, initiatorFunds-fx.records.Deposit(guard.NativeRecordSize))

	pending, err := fx.rpc.Pending(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, pending)

	t.Run("invalid", func(t *testing.T) {
		assert.ErrorIs(t, fx.rpc.EnqueueClose(ctx), ErrInvalidRequest)
		err := fx.rpc.EnqueueClose(ctx, crank.Request{Variant: guard.Variant(9), Target: fx.target, Initiator: fx.initiator})
		assert.ErrorIs(t, err, ErrInvalidRequest)
	})

	require.NoError(t, fx.rpc.EnqueueClose(ctx, crank.Request{Variant: guard.VariantNative, Target: fx.target, Initiator: fx.initiator}))
	require.Eventually(t, func() bool {
		pending, err := fx.rpc.Pending(ctx)
		return err == nil && pending == 0
	}, time.Second*5, time.Millisecond*10)
	fx.assertNative(t, fx.initiator, initiatorFunds)
}

func TestServer_Metrics(t *testing.T) {
	m := metric.New()
	fx := newFixture(t, "127.0.0.1:0", m)
	defer fx.finish(t)
	_, err := fx.rpc.Pending(ctx)
	require.NoError(t, err)
	assert.ErrorIs(t, fx.rpc.EnqueueClose(ctx), ErrInvalidRequest)

	families, err := m.Registry().Gather()
	require.NoError(t, err)
	var names []string
	for _, f := range families {
		names = append(names, f.GetName())
	}
	assert.Contains(t, names, "drpc_server_duration_seconds")
	assert.Contains(t, names, "drpc_server_errors_total")
}

func TestServer_Disabled(t *testing.T) {
	fx := newFixture(t, "")
	defer fx.finish(t)
	assert.Empty(t, fx.server.Addr())
	assert.Nil(t, fx.rpc)
}

func TestMessages(t *testing.T) {
	req := &CloseRequest{Requests: []crank.Request{
		{Variant: guard.VariantToken, Target: crypto.NamedAddress("t"), Initiator: crypto.NamedAddress("i")},
	}}
	data, err := req.Marshal()
	require.NoError(t, err)
	var decoded CloseRequest
	require.NoError(t, decoded.Unmarshal(data))
	assert.Equal(t, *req, decoded)

	assert.ErrorIs(t, new(PendingResponse).Unmarshal(data), instruction.ErrInvalidData)
	_, err = new(ExecuteRequest).Marshal()
	assert.ErrorIs(t, err, instruction.ErrInvalidData)
}

type testConf struct {
	listenAddr string
}

func (c *testConf) Init(a *app.App) error { return nil }
func (c *testConf) Name() string          { return "config" }
func (c *testConf) GetRpc() Config        { return Config{ListenAddr: c.listenAddr} }

type fixture struct {
	a         *app.App
	server    Server
	executor  bundle.Executor
	ledger    ledger.Ledger
	records   recordstore.RecordStore
	client    guardclient.Client
	rpc       *Client
	target    crypto.Address
	initiator crypto.Address
	keys      []crypto.PrivKey
	nonce     uint64
}

func newFixture(t *testing.T, listenAddr string, extra ...app.Component) *fixture {
	targetKey, err := crypto.GenerateRandomKey()
	require.NoError(t, err)
	initiatorKey, err := crypto.GenerateRandomKey()
	require.NoError(t, err)
	fx := &fixture{
		a:         new(app.App),
		server:    New(),
		executor:  bundle.New(),
		ledger:    ledger.New(),
		records:   recordstore.New(),
		target:    targetKey.Address(),
		initiator: initiatorKey.Address(),
		keys:      []crypto.PrivKey{targetKey, initiatorKey},
	}
	g := guard.New()
	fx.a.Register(&testConf{listenAddr: listenAddr})
	for _, c := range extra {
		fx.a.Register(c)
	}
	fx.a.Register(storetest.NewStorage(t)).
		Register(fx.ledger).
		Register(fx.records).
		Register(g).
		Register(fx.executor).
		Register(crank.New()).
		Register(fx.server)
	require.NoError(t, fx.a.Start(ctx))
	fx.client = guardclient.New(g.ProgramId())

	require.NoError(t, fx.ledger.Credit(ctx, fx.initiator, initiatorFunds))
	require.NoError(t, fx.ledger.Credit(ctx, fx.target, 100))
	if listenAddr != "" {
		fx.rpc, err = Dial(ctx, fx.server.Addr())
		require.NoError(t, err)
	}
	return fx
}

func (fx *fixture) params() guardclient.Params {
	return guardclient.Params{Target: fx.target, Initiator: fx.initiator}
}

func (fx *fixture) bundle(ixs ...instruction.Instruction) *instruction.Bundle {
	fx.nonce++
	b := instruction.NewBundle(fx.nonce, ixs...)
	b.Sign(fx.keys...)
	return b
}

func (fx *fixture) assertNative(t *testing.T, id crypto.Address, expected uint64) {
	balance, err := fx.ledger.NativeBalance(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, expected, balance)
}

func (fx *fixture) finish(t *testing.T) {
	if fx.rpc != nil {
		require.NoError(t, fx.rpc.Close())
	}
	require.NoError(t, fx.a.Close(ctx))
}
