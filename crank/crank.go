// Package crank closes dangling guard records left by bundles that never reached verification.
// Closing is unconditional and the deposit always goes back to the initiator, so the crank signs only as an authority.
package crank

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/cheggaaa/mb/v3"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/atomic"
	"go.uber.org/zap"

	"github.com/anyproto/any-guard/app"
	"github.com/anyproto/any-guard/app/logger"
	"github.com/anyproto/any-guard/bundle"
	"github.com/anyproto/any-guard/guard"
	"github.com/anyproto/any-guard/guardclient"
	"github.com/anyproto/any-guard/instruction"
	"github.com/anyproto/any-guard/metric"
	"github.com/anyproto/any-guard/recordstore"
	"github.com/anyproto/any-guard/util/crypto"
	"github.com/anyproto/any-guard/util/periodicsync"
)

const CName = "guard.crank"

var log = logger.NewNamed(CName)

const (
	defaultBatchSize = 16
	defaultQueueSize = 1024
	defaultSweep     = 60
)

type Config struct {
	// Key is the base58 encoded authority key, a random one is generated when empty
	Key       string `yaml:"key"`
	BatchSize int    `yaml:"batchSize"`
	QueueSize int    `yaml:"queueSize"`

	// SweepPeriod is the interval in seconds between counts of live records
	SweepPeriod int `yaml:"sweepPeriod"`
}

type configGetter interface {
	GetCrank() Config
}

// Request identifies a record to close
type Request struct {
	Variant   guard.Variant
	Target    crypto.Address
	Initiator crypto.Address
}

type Stats struct {
	Closed uint64
	Failed uint64
}

type Crank interface {
	// Enqueue schedules records for closing, it blocks while the queue is full
	Enqueue(ctx context.Context, reqs ...Request) error
	// Pending counts live guard records
	Pending(ctx context.Context) (int, error)
	// LastPending returns the live record count observed by the latest sweep
	LastPending() int64
	// Authority is the address signing close instructions
	Authority() crypto.Address
	Stats() Stats
	app.ComponentRunnable
}

func New() Crank {
	return &crank{}
}

type crank struct {
	conf     Config
	key      crypto.PrivKey
	client   guardclient.Client
	executor bundle.Executor
	records  recordstore.RecordStore
	queue    *mb.MB[Request]
	nonce    atomic.Uint64
	closed   atomic.Uint64
	failed   atomic.Uint64
	pending  atomic.Int64
	gauge    prometheus.Gauge
	sweep    periodicsync.PeriodicSync

	loopCtx    context.Context
	loopCancel context.CancelFunc
	loopDone   chan struct{}
}

func (c *crank) Init(a *app.App) (err error) {
	if cg, ok := a.Component("config").(configGetter); ok {
		c.conf = cg.GetCrank()
	}
	if c.conf.BatchSize <= 0 {
		c.conf.BatchSize = defaultBatchSize
	}
	if c.conf.QueueSize <= 0 {
		c.conf.QueueSize = defaultQueueSize
	}
	if c.conf.SweepPeriod <= 0 {
		c.conf.SweepPeriod = defaultSweep
	}
	if c.conf.Key != "" {
		if c.key, err = crypto.DecodePrivKey(c.conf.Key); err != nil {
			return fmt.Errorf("crank key: %w", err)
		}
	} else if c.key, err = crypto.GenerateRandomKey(); err != nil {
		return err
	}
	c.client = guardclient.New(a.MustComponent(guard.CName).(guard.Service).ProgramId())
	c.executor = a.MustComponent(bundle.CName).(bundle.Executor)
	c.records = a.MustComponent(recordstore.CName).(recordstore.RecordStore)
	c.queue = mb.New[Request](c.conf.QueueSize)
	c.loopDone = make(chan struct{})
	c.sweep = periodicsync.NewPeriodicSync(c.conf.SweepPeriod, time.Minute, c.countPending, log)
	if m, ok := a.Component(metric.CName).(metric.Metric); ok {
		c.gauge = prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "anyguard",
			Subsystem: "crank",
			Name:      "pending_records",
			Help:      "live guard records",
		})
		if err = m.Registry().Register(c.gauge); err != nil {
			return err
		}
	}
	return nil
}

func (c *crank) Name() (name string) {
	return CName
}

func (c *crank) Run(ctx context.Context) (err error) {
	log.Info("crank started", zap.String("authority", c.key.Address().String()))
	c.loopCtx, c.loopCancel = context.WithCancel(context.Background())
	go c.loop()
	c.sweep.Run()
	return nil
}

func (c *crank) Authority() crypto.Address {
	return c.key.Address()
}

func (c *crank) Stats() Stats {
	return Stats{Closed: c.closed.Load(), Failed: c.failed.Load()}
}

func (c *crank) Enqueue(ctx context.Context, reqs ...Request) error {
	return c.queue.Add(ctx, reqs...)
}

func (c *crank) Pending(ctx context.Context) (n int, err error) {
	err = c.records.List(ctx, c.client.ProgramId, func(rec recordstore.Record) (bool, error) {
		n++
		return true, nil
	})
	return
}

func (c *crank) LastPending() int64 {
	return c.pending.Load()
}

func (c *crank) countPending(ctx context.Context) error {
	n, err := c.Pending(ctx)
	if err != nil {
		return err
	}
	c.pending.Store(int64(n))
	if c.gauge != nil {
		c.gauge.Set(float64(n))
	}
	log.DebugCtx(ctx, "guard records counted", zap.Int("pending", n))
	return nil
}

func (c *crank) loop() {
	defer close(c.loopDone)
	cond := c.queue.NewCond().WithMax(c.conf.BatchSize)
	for {
		reqs, err := cond.Wait(c.loopCtx)
		if err != nil {
			log.Debug("crank loop finished", zap.Error(err))
			return
		}
		c.closeBatch(c.loopCtx, reqs)
	}
}

// closeBatch closes requests in one bundle, a failing instruction is dropped and the rest is retried
func (c *crank) closeBatch(ctx context.Context, reqs []Request) {
	ixs := make([]instruction.Instruction, 0, len(reqs))
	for i := 0; i < len(reqs); {
		ix, err := c.client.CloseIx(reqs[i].Variant, reqs[i].Target, reqs[i].Initiator, c.key.Address())
		if err != nil {
			c.reject(ctx, reqs[i], err)
			reqs = slices.Delete(reqs, i, i+1)
			continue
		}
		ixs = append(ixs, ix)
		i++
	}
	for len(ixs) > 0 {
		b := instruction.NewBundle(c.nonce.Inc(), ixs...)
		b.Sign(c.key)
		id, err := c.executor.Execute(ctx, b)
		if err == nil {
			c.closed.Add(uint64(len(ixs)))
			log.DebugCtx(ctx, "records closed", metric.BundleId(id), zap.Int("count", len(ixs)))
			c.sweep.Kick()
			return
		}
		var ixErr *bundle.InstructionError
		if !errors.As(err, &ixErr) {
			c.failed.Add(uint64(len(ixs)))
			log.ErrorCtx(ctx, "close bundle failed", metric.BundleId(id), zap.Int("count", len(ixs)), zap.Error(err))
			return
		}
		c.reject(ctx, reqs[ixErr.Index], ixErr.Err)
		reqs = slices.Delete(reqs, ixErr.Index, ixErr.Index+1)
		ixs = slices.Delete(ixs, ixErr.Index, ixErr.Index+1)
	}
}

func (c *crank) reject(ctx context.Context, req Request, err error) {
	c.failed.Inc()
	log.WarnCtx(ctx, "can't close record",
		metric.Variant(req.Variant),
		metric.Target(req.Target),
		metric.Initiator(req.Initiator),
		zap.Error(err))
}

func (c *crank) Close(ctx context.Context) (err error) {
	if c.sweep != nil {
		c.sweep.Close()
	}
	if c.loopCancel != nil {
		c.loopCancel()
		<-c.loopDone
	}
	if c.queue != nil {
		return c.queue.Close()
	}
	return nil
}
