// Package periodicsync runs a function in the background at a fixed period or on demand
package periodicsync

import (
	"context"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/anyproto/any-guard/app/logger"
)

type PeriodicSync interface {
	Run()
	// Kick schedules an extra call as soon as possible, kicks during a running call are merged
	Kick()
	Close()
}

type SyncerFunc func(ctx context.Context) error

func NewPeriodicSync(periodSeconds int, timeout time.Duration, caller SyncerFunc, l logger.CtxLogger) PeriodicSync {
	return NewPeriodicSyncDuration(time.Duration(periodSeconds)*time.Second, timeout, caller, l)
}

func NewPeriodicSyncDuration(periodicLoopInterval, timeout time.Duration, caller SyncerFunc, l logger.CtxLogger) PeriodicSync {
	ctx, cancel := context.WithCancel(context.Background())
	ctx = logger.CtxWithFields(ctx, zap.String("rootOp", "periodicCall"))
	return &periodicCall{
		caller:     caller,
		log:        l,
		loopCtx:    ctx,
		loopCancel: cancel,
		loopDone:   make(chan struct{}),
		kick:       make(chan struct{}, 1),
		period:     periodicLoopInterval,
		timeout:    timeout,
		newTicker:  newTimeTicker,
	}
}

type ticker interface {
	C() <-chan time.Time
	Stop()
}

type timeTicker struct {
	*time.Ticker
}

func (t timeTicker) C() <-chan time.Time {
	return t.Ticker.C
}

func newTimeTicker(d time.Duration) ticker {
	return timeTicker{time.NewTicker(d)}
}

type periodicCall struct {
	log        logger.CtxLogger
	caller     SyncerFunc
	loopCtx    context.Context
	loopCancel context.CancelFunc
	loopDone   chan struct{}
	kick       chan struct{}
	period     time.Duration
	timeout    time.Duration
	isRunning  atomic.Bool
	newTicker  func(d time.Duration) ticker
}

func (p *periodicCall) Run() {
	p.isRunning.Store(true)
	go p.loop()
}

func (p *periodicCall) Kick() {
	select {
	case p.kick <- struct{}{}:
	default:
	}
}

func (p *periodicCall) loop() {
	defer close(p.loopDone)
	doCall := func() {
		ctx := p.loopCtx
		if p.timeout != 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(p.loopCtx, p.timeout)
			defer cancel()
		}
		if err := p.caller(ctx); err != nil {
			p.log.WarnCtx(ctx, "periodic call error", zap.Error(err))
		}
	}
	doCall()
	var tick <-chan time.Time
	if p.period > 0 {
		t := p.newTicker(p.period)
		defer t.Stop()
		tick = t.C()
	}
	for {
		select {
		case <-p.loopCtx.Done():
			return
		case <-tick:
			doCall()
		case <-p.kick:
			doCall()
		}
	}
}

func (p *periodicCall) Close() {
	if !p.isRunning.Load() {
		return
	}
	p.loopCancel()
	<-p.loopDone
}
