package recordstore

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"

	anystore "github.com/anyproto/any-store"
	"github.com/anyproto/any-store/anyenc"
	"go.uber.org/zap"

	"github.com/anyproto/any-guard/app"
	"github.com/anyproto/any-guard/app/logger"
	"github.com/anyproto/any-guard/ledger"
	"github.com/anyproto/any-guard/storage"
	"github.com/anyproto/any-guard/util/crypto"
	"github.com/anyproto/any-guard/util/rpcerr"
)

const CName = "guard.recordstore"

var log = logger.NewNamed(CName)

var (
	errGroup = rpcerr.ErrGroup(8000)

	ErrNotFound     = errGroup.Register(errors.New("record not found"), 1)
	ErrNotOwner     = errGroup.Register(errors.New("record is owned by another program"), 2)
	ErrSizeMismatch = errGroup.Register(errors.New("record size mismatch"), 3)
)

const (
	recordsCollection = "records"

	idKey      = "id"
	ownerKey   = "o"
	dataKey    = "d"
	depositKey = "p"
)

const (
	defaultRentPerByte = 10
	defaultOverhead    = 128
)

var arenaPool = &anyenc.ArenaPool{}

type Config struct {
	// RentPerByte is the deposit charged per stored byte
	RentPerByte uint64 `yaml:"rentPerByte"`
	// Overhead is added to every record size when computing the deposit
	Overhead uint64 `yaml:"overhead"`
}

type configGetter interface {
	GetRecordStore() Config
}

// Record is a fixed-size slot owned by a program
type Record struct {
	Location crypto.Address
	Owner    crypto.Address
	Data     []byte
	Deposit  uint64
}

// RecordStore allocates, mutates and destroys fixed-size records. Every method joins the write transaction carried by ctx, if any.
type RecordStore interface {
	// AllocateOrReuse creates a zeroed record charging its deposit to payer,
	// an existing record at loc is returned as is with created=false
	AllocateOrReuse(ctx context.Context, loc, owner crypto.Address, size int, payer crypto.Address) (rec Record, created bool, err error)
	// Load returns ErrNotFound when there is no record at loc
	Load(ctx context.Context, loc crypto.Address) (Record, error)
	// Store overwrites the payload, the size must stay the same
	Store(ctx context.Context, loc, owner crypto.Address, data []byte) error
	// Destroy removes the record and refunds its deposit to beneficiary
	Destroy(ctx context.Context, loc, owner, beneficiary crypto.Address) (refund uint64, err error)
	// List iterates over records owned by owner until fn returns false
	List(ctx context.Context, owner crypto.Address, fn func(rec Record) (bool, error)) error
	// Deposit returns the deposit charged for a record of the given size
	Deposit(size int) uint64
	app.ComponentRunnable
}

func New() RecordStore {
	return &recordStore{}
}

type recordStore struct {
	conf    Config
	store   storage.Storage
	ledger  ledger.Ledger
	records anystore.Collection
}

func (r *recordStore) Init(a *app.App) (err error) {
	if cg, ok := a.Component("config").(configGetter); ok {
		r.conf = cg.GetRecordStore()
	}
	if r.conf.RentPerByte == 0 {
		r.conf.RentPerByte = defaultRentPerByte
	}
	if r.conf.Overhead == 0 {
		r.conf.Overhead = defaultOverhead
	}
	r.store = a.MustComponent(storage.CName).(storage.Storage)
	r.ledger = a.MustComponent(ledger.CName).(ledger.Ledger)
	return nil
}

func (r *recordStore) Name() (name string) {
	return CName
}

func (r *recordStore) Run(ctx context.Context) (err error) {
	r.records, err = r.store.DB().Collection(ctx, recordsCollection)
	return
}

func (r *recordStore) Close(ctx context.Context) (err error) {
	return nil
}

func (r *recordStore) Deposit(size int) uint64 {
	return (r.conf.Overhead + uint64(size)) * r.conf.RentPerByte
}

func (r *recordStore) AllocateOrReuse(ctx context.Context, loc, owner crypto.Address, size int, payer crypto.Address) (rec Record, created bool, err error) {
	rec, err = r.Load(ctx, loc)
	if err == nil {
		if rec.Owner != owner {
			return Record{}, false, fmt.Errorf("%w: %s", ErrNotOwner, loc)
		}
		if len(rec.Data) != size {
			return Record{}, false, fmt.Errorf("%w: %s has %d bytes, want %d", ErrSizeMismatch, loc, len(rec.Data), size)
		}
		return rec, false, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return Record{}, false, err
	}
	rec = Record{
		Location: loc,
		Owner:    owner,
		Data:     make([]byte, size),
		Deposit:  r.Deposit(size),
	}
	if err = r.ledger.Debit(ctx, payer, rec.Deposit); err != nil {
		return Record{}, false, fmt.Errorf("charge record deposit: %w", err)
	}
	if err = r.put(ctx, rec); err != nil {
		return Record{}, false, err
	}
	log.DebugCtx(ctx, "record allocated",
		zap.String("location", loc.String()),
		zap.String("payer", payer.String()),
		zap.Uint64("deposit", rec.Deposit))
	return rec, true, nil
}

func (r *recordStore) Load(ctx context.Context, loc crypto.Address) (Record, error) {
	doc, err := r.records.FindId(ctx, loc.String())
	if err != nil {
		if errors.Is(err, anystore.ErrDocNotFound) {
			return Record{}, fmt.Errorf("%w: %s", ErrNotFound, loc)
		}
		return Record{}, err
	}
	return recordFromValue(loc, doc.Value())
}

func (r *recordStore) Store(ctx context.Context, loc, owner crypto.Address, data []byte) error {
	rec, err := r.loadOwned(ctx, loc, owner)
	if err != nil {
		return err
	}
	if len(rec.Data) != len(data) {
		return fmt.Errorf("%w: %s has %d bytes, got %d", ErrSizeMismatch, loc, len(rec.Data), len(data))
	}
	rec.Data = data
	return r.put(ctx, rec)
}

func (r *recordStore) Destroy(ctx context.Context, loc, owner, beneficiary crypto.Address) (refund uint64, err error) {
	rec, err := r.loadOwned(ctx, loc, owner)
	if err != nil {
		return 0, err
	}
	if err = r.records.DeleteId(ctx, loc.String()); err != nil {
		return 0, err
	}
	if err = r.ledger.Credit(ctx, beneficiary, rec.Deposit); err != nil {
		return 0, fmt.Errorf("refund record deposit: %w", err)
	}
	log.DebugCtx(ctx, "record destroyed",
		zap.String("location", loc.String()),
		zap.String("beneficiary", beneficiary.String()),
		zap.Uint64("refund", rec.Deposit))
	return rec.Deposit, nil
}

func (r *recordStore) List(ctx context.Context, owner crypto.Address, fn func(rec Record) (bool, error)) (err error) {
	iter, err := r.records.Find(nil).Iter(ctx)
	if err != nil {
		return
	}
	defer func() {
		_ = iter.Close()
	}()
	var doc anystore.Doc
	for iter.Next() {
		if doc, err = iter.Doc(); err != nil {
			return
		}
		loc, err := crypto.ParseAddress(doc.Value().GetString(idKey))
		if err != nil {
			return err
		}
		rec, err := recordFromValue(loc, doc.Value())
		if err != nil {
			return err
		}
		if rec.Owner != owner {
			continue
		}
		next, err := fn(rec)
		if err != nil {
			return err
		}
		if !next {
			break
		}
	}
	return nil
}

func (r *recordStore) loadOwned(ctx context.Context, loc, owner crypto.Address) (Record, error) {
	rec, err := r.Load(ctx, loc)
	if err != nil {
		return Record{}, err
	}
	if rec.Owner != owner {
		return Record{}, fmt.Errorf("%w: %s", ErrNotOwner, loc)
	}
	return rec, nil
}

func (r *recordStore) put(ctx context.Context, rec Record) error {
	arena := arenaPool.Get()
	defer arenaPool.Put(arena)
	doc := arena.NewObject()
	doc.Set(idKey, arena.NewString(rec.Location.String()))
	doc.Set(ownerKey, arena.NewBinary(rec.Owner.Bytes()))
	doc.Set(dataKey, arena.NewBinary(rec.Data))
	doc.Set(depositKey, arena.NewBinary(binary.BigEndian.AppendUint64(nil, rec.Deposit)))
	return r.records.UpsertOne(ctx, doc)
}

func recordFromValue(loc crypto.Address, v *anyenc.Value) (rec Record, err error) {
	rec.Location = loc
	if rec.Owner, err = crypto.AddressFromBytes(v.GetBytes(ownerKey)); err != nil {
		return
	}
	data := v.GetBytes(dataKey)
	rec.Data = make([]byte, len(data))
	copy(rec.Data, data)
	if deposit := v.GetBytes(depositKey); len(deposit) == 8 {
		rec.Deposit = binary.BigEndian.Uint64(deposit)
	}
	return
}
