package wear

import (
	"context"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/dgnsrekt/sunshine-watchsync/internal/channel"
	"github.com/dgnsrekt/sunshine-watchsync/internal/worker"
)

// EngineConfig tunes the watch-side loop.
type EngineConfig struct {
	TickInterval   time.Duration
	SyncRequestGap time.Duration
	IconRequired   bool

	// Render is called on the tick goroutine whenever the face was invalidated.
	Render func(Snapshot)
}

// Engine owns the watch face state and drives it from the render tick and
// the channel's data events.
type Engine struct {
	ch         channel.Channel
	state      *State
	throttle   Throttle
	dispatcher *Dispatcher
	reconciler *Reconciler
	interval   time.Duration
	render     func(Snapshot)
	dirty      atomic.Bool
	now        func() time.Time
	logger     *zap.Logger
}

// NewEngine wires a State, Throttle, Dispatcher and Reconciler around ch.
func NewEngine(ch channel.Channel, pool *worker.Pool, cfg EngineConfig, logger *zap.Logger) *Engine {
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = time.Second
	}

	e := &Engine{
		ch:       ch,
		state:    NewState(),
		throttle: NewThrottle(cfg.SyncRequestGap, cfg.IconRequired),
		interval: cfg.TickInterval,
		render:   cfg.Render,
		now:      time.Now,
		logger:   logger,
	}
	e.dispatcher = NewDispatcher(ch, e.state, pool, logger.Named("dispatcher"))
	e.reconciler = NewReconciler(ch, e.state, pool, e, logger.Named("reconciler"))
	return e
}

// State exposes the render state.
func (e *Engine) State() *State { return e.state }

func (e *Engine) Throttle() Throttle { return e.throttle }

func (e *Engine) Reconciler() *Reconciler { return e.reconciler }

// Invalidate marks the face dirty; the next tick renders it.
func (e *Engine) Invalidate() {
	e.dirty.Store(true)
}

// Dirty reports whether a redraw is pending.
func (e *Engine) Dirty() bool {
	return e.dirty.Load()
}

// Run consumes data events and ticks until ctx is cancelled.
func (e *Engine) Run(ctx context.Context) {
	go e.reconciler.Run(ctx, e.ch.DataEvents())

	// Align first tick to the interval boundary, like a clock face would.
	now := e.now()
	next := now.Truncate(e.interval).Add(e.interval)
	select {
	case <-ctx.Done():
		return
	case <-time.After(next.Sub(now)):
	}

	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	e.logger.Info("watch engine started",
		zap.Duration("tick", e.interval),
		zap.Duration("syncRequestGap", e.throttle.Gap),
		zap.Bool("iconRequired", e.throttle.IconRequired),
	)

	e.Tick(e.now())
	for {
		select {
		case <-ctx.Done():
			e.logger.Info("watch engine stopping")
			return
		case t := <-ticker.C:
			e.Tick(t)
		}
	}
}

// Tick runs one render cycle at now: redraw if dirty, then request data if
// the throttle allows. It reports whether a sync request was dispatched.
func (e *Engine) Tick(now time.Time) bool {
	if e.dirty.Swap(false) && e.render != nil {
		e.render(e.state.Snapshot())
	}

	if _, ok := e.dispatcher.TryDispatch(e.throttle, now); ok {
		e.logger.Debug("sync request triggered", zap.Time("at", now))
		return true
	}
	return false
}
