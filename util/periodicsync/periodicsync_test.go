package periodicsync

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/anyproto/any-guard/app/logger"
)

var l = logger.NewNamed("periodic")

func TestPeriodicSync(t *testing.T) {
	t.Run("first call on run", func(t *testing.T) {
		var times atomic.Int32
		calls := make(chan struct{}, 10)
		pSync := NewPeriodicSyncDuration(time.Minute, 0, func(ctx context.Context) error {
			times.Add(1)
			calls <- struct{}{}
			return nil
		}, l)
		pSync.Run()
		waitForCall(t, calls)
		pSync.Close()
		require.Equal(t, int32(1), times.Load())
	})
	t.Run("ticks and kicks", func(t *testing.T) {
		var times atomic.Int32
		calls := make(chan struct{}, 10)
		pSync := NewPeriodicSyncDuration(time.Minute, time.Second, func(ctx context.Context) error {
			times.Add(1)
			calls <- struct{}{}
			return errors.New("logged and ignored")
		}, l).(*periodicCall)
		tickerCh := make(chan *fakeTicker, 1)
		pSync.newTicker = func(d time.Duration) ticker {
			ft := newFakeTicker()
			tickerCh <- ft
			return ft
		}
		pSync.Run()
		waitForCall(t, calls)
		ft := <-tickerCh
		ft.Tick()
		waitForCall(t, calls)
		pSync.Kick()
		waitForCall(t, calls)
		require.Equal(t, int32(3), times.Load())
		pSync.Close()
		require.True(t, ft.Stopped())
	})
	t.Run("zero period runs on kicks only", func(t *testing.T) {
		calls := make(chan struct{}, 10)
		pSync := NewPeriodicSync(0, 0, func(ctx context.Context) error {
			calls <- struct{}{}
			return nil
		}, l)
		pSync.Run()
		waitForCall(t, calls)
		pSync.Kick()
		waitForCall(t, calls)
		pSync.Close()
	})
	t.Run("close not running", func(t *testing.T) {
		pSync := NewPeriodicSync(0, 0, func(ctx context.Context) error {
			return nil
		}, l)
		pSync.Close()
	})
}

func waitForCall(t *testing.T, ch <-chan struct{}) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for periodic call")
	}
}

type fakeTicker struct {
	ch      chan time.Time
	stopped atomic.Bool
}

func newFakeTicker() *fakeTicker {
	return &fakeTicker{ch: make(chan time.Time)}
}

func (f *fakeTicker) C() <-chan time.Time {
	return f.ch
}

func (f *fakeTicker) Stop() {
	f.stopped.Store(true)
}

func (f *fakeTicker) Tick() {
	f.ch <- time.Now()
}

func (f *fakeTicker) Stopped() bool {
	return f.stopped.Load()
}
