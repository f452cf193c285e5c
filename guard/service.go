package guard

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/anyproto/any-guard/app"
	"github.com/anyproto/any-guard/app/logger"
	"github.com/anyproto/any-guard/instruction"
	"github.com/anyproto/any-guard/ledger"
	"github.com/anyproto/any-guard/metric"
	"github.com/anyproto/any-guard/recordstore"
	"github.com/anyproto/any-guard/util/crypto"
)

const CName = "guard"

var log = logger.NewNamed(CName)

// DefaultProgramId is used when the config does not set one
var DefaultProgramId = crypto.NamedAddress("any-guard/guard")

type Config struct {
	ProgramId string `yaml:"programId"`
}

type configGetter interface {
	GetGuard() Config
}

// Service exposes the three guard variants directly and as a program processing bundle instructions
type Service interface {
	ProgramId() crypto.Address
	Guard(v Variant) Guard
	Native() Guard
	Combined() Guard
	Token() Guard
	// Process executes a guard instruction
	Process(ctx context.Context, ix instruction.Instruction) error
	app.Component
}

func New() Service {
	return &service{}
}

type service struct {
	programId crypto.Address
	guards    map[Variant]Guard
	handlers  map[instruction.Discriminator]handler
}

func (s *service) Init(a *app.App) (err error) {
	s.programId = DefaultProgramId
	if cg, ok := a.Component("config").(configGetter); ok {
		if id := cg.GetGuard().ProgramId; id != "" {
			if s.programId, err = crypto.ParseAddress(id); err != nil {
				return fmt.Errorf("guard program id: %w", err)
			}
		}
	}
	balances := a.MustComponent(ledger.CName).(BalanceReader)
	records := a.MustComponent(recordstore.CName).(recordstore.RecordStore)
	var metrics *guardMetrics
	if m, ok := a.Component(metric.CName).(metric.Metric); ok {
		if metrics, err = newGuardMetrics(m.Registry()); err != nil {
			return err
		}
	}
	s.guards = make(map[Variant]Guard, len(Variants))
	for _, v := range Variants {
		s.guards[v] = newEngine(v, s.programId, balances, records, metrics)
	}
	s.handlers = buildHandlers()
	log.Info("guard program initialized", zap.String("programId", s.programId.String()))
	return nil
}

func (s *service) Name() (name string) {
	return CName
}

func (s *service) ProgramId() crypto.Address {
	return s.programId
}

func (s *service) Guard(v Variant) Guard {
	return s.guards[v]
}

func (s *service) Native() Guard {
	return s.guards[VariantNative]
}

func (s *service) Combined() Guard {
	return s.guards[VariantCombined]
}

func (s *service) Token() Guard {
	return s.guards[VariantToken]
}

func (s *service) Process(ctx context.Context, ix instruction.Instruction) error {
	d, args, err := ix.Split()
	if err != nil {
		return err
	}
	h, ok := s.handlers[d]
	if !ok {
		return fmt.Errorf("%w: guard %x", instruction.ErrUnknownInstruction, d)
	}
	g := s.guards[h.variant]
	dec := instruction.NewDecoder(args)
	switch h.op {
	case OpSnapshot:
		acc, err := guardedAccounts(ix, h.variant)
		if err != nil {
			return err
		}
		sa := SnapshotArgs{Bump: dec.U8()}
		if h.variant == VariantCombined {
			sa.GuardNative = dec.Bool()
		}
		if h.variant.TracksToken() {
			sa.Mint = dec.Address()
		}
		if err = dec.Finish(); err != nil {
			return err
		}
		return g.Snapshot(ctx, acc, sa)
	case OpVerify:
		acc, err := guardedAccounts(ix, h.variant)
		if err != nil {
			return err
		}
		var mint crypto.Address
		if h.variant.TracksToken() {
			mint = dec.Address()
		}
		if err = dec.Finish(); err != nil {
			return err
		}
		return g.Verify(ctx, acc, mint)
	default:
		acc, err := closeAccounts(ix)
		if err != nil {
			return err
		}
		if err = dec.Finish(); err != nil {
			return err
		}
		return g.Close(ctx, acc)
	}
}

func guardedAccounts(ix instruction.Instruction, v Variant) (acc Accounts, err error) {
	target, err := ix.Account(AccountTarget)
	if err != nil {
		return
	}
	record, err := ix.Mutable(AccountRecord)
	if err != nil {
		return
	}
	if _, err = ix.Mutable(AccountInitiator); err != nil {
		return
	}
	initiator, err := ix.Signer(AccountInitiator)
	if err != nil {
		return
	}
	acc = Accounts{Target: target.Address, Record: record.Address, Initiator: initiator.Address}
	if v.TracksToken() {
		holding, err := ix.Account(AccountHolding)
		if err != nil {
			return Accounts{}, err
		}
		acc.Holding = holding.Address
	}
	return acc, nil
}

func closeAccounts(ix instruction.Instruction) (acc Accounts, err error) {
	target, err := ix.Account(AccountTarget)
	if err != nil {
		return
	}
	record, err := ix.Mutable(AccountRecord)
	if err != nil {
		return
	}
	initiator, err := ix.Mutable(AccountInitiator)
	if err != nil {
		return
	}
	if _, err = ix.Signer(AccountAuthority); err != nil {
		return
	}
	return Accounts{Target: target.Address, Record: record.Address, Initiator: initiator.Address}, nil
}
