package bundle

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/atomic"
	"go.uber.org/zap"

	"github.com/anyproto/any-guard/app"
	"github.com/anyproto/any-guard/app/logger"
	"github.com/anyproto/any-guard/instruction"
	"github.com/anyproto/any-guard/metric"
	"github.com/anyproto/any-guard/storage"
	"github.com/anyproto/any-guard/util/crypto"
	"github.com/anyproto/any-guard/util/rpcerr"
)

const CName = "guard.bundle"

var log = logger.NewNamed(CName)

const defaultMaxInstructions = 64

var (
	errGroup = rpcerr.ErrGroup(9000)

	ErrEmptyBundle         = errGroup.Register(errors.New("bundle has no instructions"), 1)
	ErrTooManyInstructions = errGroup.Register(errors.New("too many instructions in bundle"), 2)
	ErrUnknownProgram      = errGroup.Register(errors.New("unknown program"), 3)
)

type Config struct {
	MaxInstructions int `yaml:"maxInstructions"`
}

type configGetter interface {
	GetBundle() Config
}

// Program handles instructions addressed to its program id
type Program interface {
	ProgramId() crypto.Address
	Process(ctx context.Context, ix instruction.Instruction) error
}

// InstructionError is returned when an instruction of a bundle fails, the bundle is rolled back
type InstructionError struct {
	Index int
	Err   error
}

func (e *InstructionError) Error() string {
	return fmt.Sprintf("instruction %d: %v", e.Index, e.Err)
}

func (e *InstructionError) Unwrap() error {
	return e.Err
}

type Stats struct {
	Applied  uint64
	Rejected uint64
}

// Executor applies bundles atomically: either every instruction succeeds or nothing is persisted
type Executor interface {
	// Execute verifies signatures and runs the bundle in a single write transaction
	Execute(ctx context.Context, b *instruction.Bundle) (id string, err error)
	Stats() Stats
	app.Component
}

func New() Executor {
	return &executor{}
}

type executor struct {
	conf     Config
	store    storage.Storage
	programs map[crypto.Address]Program
	duration *prometheus.SummaryVec
	applied  atomic.Uint64
	rejected atomic.Uint64
}

func (e *executor) Init(a *app.App) (err error) {
	if cg, ok := a.Component("config").(configGetter); ok {
		e.conf = cg.GetBundle()
	}
	if e.conf.MaxInstructions <= 0 {
		e.conf.MaxInstructions = defaultMaxInstructions
	}
	e.store = a.MustComponent(storage.CName).(storage.Storage)
	e.programs = make(map[crypto.Address]Program)
	a.IterateComponents(func(c app.Component) {
		if p, ok := c.(Program); ok {
			e.programs[p.ProgramId()] = p
		}
	})
	if m, ok := a.Component(metric.CName).(metric.Metric); ok {
		e.duration = prometheus.NewSummaryVec(prometheus.SummaryOpts{
			Namespace:  "anyguard",
			Subsystem:  "bundle",
			Name:       "duration_seconds",
			Help:       "bundle execution time",
			Objectives: map[float64]float64{0.5: 0.05, 0.9: 0.01, 0.99: 0.001},
		}, []string{"result"})
		if err = m.Registry().Register(e.duration); err != nil {
			return err
		}
	}
	return nil
}

func (e *executor) Name() (name string) {
	return CName
}

func (e *executor) Stats() Stats {
	return Stats{Applied: e.applied.Load(), Rejected: e.rejected.Load()}
}

func (e *executor) Execute(ctx context.Context, b *instruction.Bundle) (id string, err error) {
	id = uuid.NewString()
	start := time.Now()
	ctx = logger.CtxWithFields(ctx, metric.BundleId(id))
	defer func() {
		dur := time.Since(start)
		result := "applied"
		if err != nil {
			result = "rejected"
			e.rejected.Inc()
			log.WarnCtx(ctx, "bundle rejected", metric.TotalDur(dur), zap.Error(err))
		} else {
			e.applied.Inc()
			log.DebugCtx(ctx, "bundle applied", metric.TotalDur(dur), zap.Int("instructions", len(b.Instructions)))
		}
		if e.duration != nil {
			e.duration.WithLabelValues(result).Observe(dur.Seconds())
		}
	}()

	switch {
	case len(b.Instructions) == 0:
		return id, ErrEmptyBundle
	case len(b.Instructions) > e.conf.MaxInstructions:
		return id, fmt.Errorf("%w: %d > %d", ErrTooManyInstructions, len(b.Instructions), e.conf.MaxInstructions)
	}
	if err = b.VerifySignatures(); err != nil {
		return id, err
	}

	tx, err := e.store.DB().WriteTx(ctx)
	if err != nil {
		return id, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		} else {
			err = tx.Commit()
		}
	}()
	txCtx := tx.Context()
	for i, ix := range b.Instructions {
		p, ok := e.programs[ix.ProgramId]
		if !ok {
			return id, &InstructionError{Index: i, Err: fmt.Errorf("%w: %s", ErrUnknownProgram, ix.ProgramId)}
		}
		if err = p.Process(txCtx, ix); err != nil {
			return id, &InstructionError{Index: i, Err: err}
		}
	}
	return id, nil
}
