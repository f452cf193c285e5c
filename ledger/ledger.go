package ledger

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math/bits"

	anystore "github.com/anyproto/any-store"
	"github.com/anyproto/any-store/anyenc"
	"go.uber.org/zap"

	"github.com/anyproto/any-guard/app"
	"github.com/anyproto/any-guard/app/logger"
	"github.com/anyproto/any-guard/instruction"
	"github.com/anyproto/any-guard/storage"
	"github.com/anyproto/any-guard/util/crypto"
	"github.com/anyproto/any-guard/util/rpcerr"
)

const CName = "guard.ledger"

var log = logger.NewNamed(CName)

var (
	errGroup = rpcerr.ErrGroup(7000)

	ErrInsufficientFunds = errGroup.Register(errors.New("insufficient funds"), 1)
	ErrHoldingNotFound   = errGroup.Register(errors.New("token holding not found"), 2)
	ErrHoldingExists     = errGroup.Register(errors.New("token holding already exists"), 3)
	ErrMintMismatch      = errGroup.Register(errors.New("token holdings have different mints"), 4)
	ErrOverflow          = errGroup.Register(errors.New("balance overflow"), 5)
	ErrNotHoldingOwner   = errGroup.Register(errors.New("signer does not own the token holding"), 6)
)

var ProgramId = crypto.NamedAddress("any-guard/ledger")

const (
	accountsCollection = "accounts"
	holdingsCollection = "holdings"

	idKey     = "id"
	amountKey = "a"
	ownerKey  = "o"
	mintKey   = "m"
)

var arenaPool = &anyenc.ArenaPool{}

// Holding is a balance of a single token class owned by an account
type Holding struct {
	Id     crypto.Address
	Owner  crypto.Address
	Mint   crypto.Address
	Amount uint64
}

// Ledger keeps native balances and token holdings. Every method joins the write transaction carried by ctx, if any.
type Ledger interface {
	// NativeBalance returns the native balance, unknown accounts have zero balance
	NativeBalance(ctx context.Context, id crypto.Address) (uint64, error)
	// TokenHolding returns ErrHoldingNotFound for unknown holdings
	TokenHolding(ctx context.Context, id crypto.Address) (Holding, error)
	Credit(ctx context.Context, id crypto.Address, amount uint64) error
	Debit(ctx context.Context, id crypto.Address, amount uint64) error
	Transfer(ctx context.Context, from, to crypto.Address, amount uint64) error
	CreateHolding(ctx context.Context, h Holding) error
	TransferToken(ctx context.Context, from, to crypto.Address, amount uint64) error

	ProgramId() crypto.Address
	Process(ctx context.Context, ix instruction.Instruction) error
	app.ComponentRunnable
}

func New() Ledger {
	return &ledger{}
}

type ledger struct {
	store    storage.Storage
	accounts anystore.Collection
	holdings anystore.Collection
}

func (l *ledger) Init(a *app.App) (err error) {
	l.store = a.MustComponent(storage.CName).(storage.Storage)
	return nil
}

func (l *ledger) Name() (name string) {
	return CName
}

func (l *ledger) Run(ctx context.Context) (err error) {
	db := l.store.DB()
	if l.accounts, err = db.Collection(ctx, accountsCollection); err != nil {
		return err
	}
	if l.holdings, err = db.Collection(ctx, holdingsCollection); err != nil {
		return err
	}
	return nil
}

func (l *ledger) Close(ctx context.Context) (err error) {
	return nil
}

func (l *ledger) ProgramId() crypto.Address {
	return ProgramId
}

func (l *ledger) NativeBalance(ctx context.Context, id crypto.Address) (uint64, error) {
	doc, err := l.accounts.FindId(ctx, id.String())
	if err != nil {
		if errors.Is(err, anystore.ErrDocNotFound) {
			return 0, nil
		}
		return 0, err
	}
	return decodeAmount(doc.Value().GetBytes(amountKey)), nil
}

func (l *ledger) TokenHolding(ctx context.Context, id crypto.Address) (Holding, error) {
	doc, err := l.holdings.FindId(ctx, id.String())
	if err != nil {
		if errors.Is(err, anystore.ErrDocNotFound) {
			return Holding{}, fmt.Errorf("%w: %s", ErrHoldingNotFound, id)
		}
		return Holding{}, err
	}
	return holdingFromValue(doc.Value())
}

func (l *ledger) Credit(ctx context.Context, id crypto.Address, amount uint64) error {
	balance, err := l.NativeBalance(ctx, id)
	if err != nil {
		return err
	}
	sum, carry := bits.Add64(balance, amount, 0)
	if carry != 0 {
		return fmt.Errorf("%w: credit %d to %s", ErrOverflow, amount, id)
	}
	return l.setNative(ctx, id, sum)
}

func (l *ledger) Debit(ctx context.Context, id crypto.Address, amount uint64) error {
	balance, err := l.NativeBalance(ctx, id)
	if err != nil {
		return err
	}
	if balance < amount {
		return fmt.Errorf("%w: %s has %d, need %d", ErrInsufficientFunds, id, balance, amount)
	}
	return l.setNative(ctx, id, balance-amount)
}

func (l *ledger) Transfer(ctx context.Context, from, to crypto.Address, amount uint64) error {
	if err := l.Debit(ctx, from, amount); err != nil {
		return err
	}
	return l.Credit(ctx, to, amount)
}

func (l *ledger) CreateHolding(ctx context.Context, h Holding) error {
	arena := arenaPool.Get()
	defer arenaPool.Put(arena)
	err := l.holdings.Insert(ctx, holdingValue(arena, h))
	if errors.Is(err, anystore.ErrDocExists) {
		return fmt.Errorf("%w: %s", ErrHoldingExists, h.Id)
	}
	return err
}

func (l *ledger) TransferToken(ctx context.Context, from, to crypto.Address, amount uint64) error {
	src, err := l.TokenHolding(ctx, from)
	if err != nil {
		return err
	}
	dst, err := l.TokenHolding(ctx, to)
	if err != nil {
		return err
	}
	if src.Mint != dst.Mint {
		return fmt.Errorf("%w: %s != %s", ErrMintMismatch, src.Mint, dst.Mint)
	}
	if src.Amount < amount {
		return fmt.Errorf("%w: holding %s has %d, need %d", ErrInsufficientFunds, from, src.Amount, amount)
	}
	if from == to {
		return nil
	}
	sum, carry := bits.Add64(dst.Amount, amount, 0)
	if carry != 0 {
		return fmt.Errorf("%w: credit %d to holding %s", ErrOverflow, amount, to)
	}
	src.Amount -= amount
	dst.Amount = sum
	if err = l.putHolding(ctx, src); err != nil {
		return err
	}
	return l.putHolding(ctx, dst)
}

func (l *ledger) setNative(ctx context.Context, id crypto.Address, amount uint64) error {
	arena := arenaPool.Get()
	defer arenaPool.Put(arena)
	doc := arena.NewObject()
	doc.Set(idKey, arena.NewString(id.String()))
	doc.Set(amountKey, arena.NewBinary(encodeAmount(amount)))
	if err := l.accounts.UpsertOne(ctx, doc); err != nil {
		return err
	}
	log.Debug("native balance set", zap.String("account", id.String()), zap.Uint64("amount", amount))
	return nil
}

func (l *ledger) putHolding(ctx context.Context, h Holding) error {
	arena := arenaPool.Get()
	defer arenaPool.Put(arena)
	return l.holdings.UpsertOne(ctx, holdingValue(arena, h))
}

func holdingValue(arena *anyenc.Arena, h Holding) *anyenc.Value {
	doc := arena.NewObject()
	doc.Set(idKey, arena.NewString(h.Id.String()))
	doc.Set(ownerKey, arena.NewBinary(h.Owner.Bytes()))
	doc.Set(mintKey, arena.NewBinary(h.Mint.Bytes()))
	doc.Set(amountKey, arena.NewBinary(encodeAmount(h.Amount)))
	return doc
}

func holdingFromValue(v *anyenc.Value) (h Holding, err error) {
	if h.Id, err = crypto.ParseAddress(v.GetString(idKey)); err != nil {
		return
	}
	if h.Owner, err = crypto.AddressFromBytes(v.GetBytes(ownerKey)); err != nil {
		return
	}
	if h.Mint, err = crypto.AddressFromBytes(v.GetBytes(mintKey)); err != nil {
		return
	}
	h.Amount = decodeAmount(v.GetBytes(amountKey))
	return
}

func encodeAmount(amount uint64) []byte {
	return binary.BigEndian.AppendUint64(nil, amount)
}

func decodeAmount(b []byte) uint64 {
	if len(b) != 8 {
		return 0
	}
	return binary.BigEndian.Uint64(b)
}
