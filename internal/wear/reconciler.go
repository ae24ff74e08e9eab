package wear

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/dgnsrekt/sunshine-watchsync/internal/channel"
	"github.com/dgnsrekt/sunshine-watchsync/internal/sync"
	"github.com/dgnsrekt/sunshine-watchsync/internal/worker"
)

// Invalidator marks the watch face for redraw.
type Invalidator interface {
	Invalidate()
}

// InvalidatorFunc adapts a function to Invalidator.
type InvalidatorFunc func()

func (f InvalidatorFunc) Invalidate() { f() }

// Reconciler turns data item changes into watch face state.
type Reconciler struct {
	ch     channel.Channel
	state  *State
	pool   *worker.Pool
	view   Invalidator
	logger *zap.Logger
}

// NewReconciler returns a Reconciler writing into state. A nil view is
// replaced by a no-op.
func NewReconciler(ch channel.Channel, state *State, pool *worker.Pool, view Invalidator, logger *zap.Logger) *Reconciler {
	if view == nil {
		view = InvalidatorFunc(func() {})
	}
	return &Reconciler{
		ch:     ch,
		state:  state,
		pool:   pool,
		view:   view,
		logger: logger,
	}
}

// Run handles events in delivery order until ctx is done or events is closed.
func (r *Reconciler) Run(ctx context.Context, events <-chan channel.DataEvent) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			r.Handle(ev)
		}
	}
}

// Handle applies one event. When the event carries an icon the returned
// channel reports the outcome of the background load; otherwise it is nil.
// A newer event never cancels an older icon load; whichever finishes last wins.
func (r *Reconciler) Handle(ev channel.DataEvent) <-chan error {
	if ev.Type != channel.EventChanged || ev.Item.Path != sync.WatchFaceDataPath {
		return nil
	}

	data, err := sync.DecodeWeatherData(ev.Item)
	if err != nil {
		r.logger.Warn("ignoring malformed watch face data", zap.Error(err))
		return nil
	}

	r.state.SetTemperatures(data.HighTemp, data.LowTemp)
	r.logger.Debug("weather data received",
		zap.String("high", data.HighTemp),
		zap.String("low", data.LowTemp),
		zap.Bool("icon", data.Icon != nil),
	)

	var done chan error
	if data.Icon != nil {
		done = make(chan error, 1)
		asset := *data.Icon
		ok := r.pool.Submit(func(ctx context.Context) {
			defer func() {
				if p := recover(); p != nil {
					err := fmt.Errorf("icon %s: %w: %v", asset.Digest, ErrTaskPanicked, p)
					r.logger.Error("weather icon not loaded", zap.Error(err))
					done <- err
				}
			}()
			done <- r.loadIcon(ctx, asset)
		})
		if !ok {
			err := fmt.Errorf("icon %s: worker pool rejected load", asset.Digest)
			r.logger.Warn("weather icon not loaded", zap.Error(err))
			done <- err
		}
	}

	r.view.Invalidate()
	return done
}

func (r *Reconciler) loadIcon(ctx context.Context, asset channel.Asset) error {
	raw, err := r.ch.ResolveAsset(ctx, asset)
	if err != nil {
		r.logger.Warn("failed to resolve weather icon",
			zap.String("asset", asset.Digest),
			zap.Error(err),
		)
		return err
	}

	img, err := decodeIcon(raw)
	if err != nil {
		r.logger.Warn("failed to decode weather icon",
			zap.String("asset", asset.Digest),
			zap.Error(err),
		)
		return err
	}

	r.state.SetIcons(img, grayscale(img))
	r.view.Invalidate()
	return nil
}
