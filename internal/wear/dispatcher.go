package wear

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/dgnsrekt/sunshine-watchsync/internal/channel"
	"github.com/dgnsrekt/sunshine-watchsync/internal/sync"
	"github.com/dgnsrekt/sunshine-watchsync/internal/worker"
)

var (
	ErrDispatchRejected = errors.New("sync request dispatch rejected by worker pool")
	ErrTaskPanicked     = errors.New("background task panicked")
)

// DispatchResult summarizes one fan-out of sync request messages.
type DispatchResult struct {
	Sent   []channel.PeerID
	Failed map[channel.PeerID]error
	Err    error // set when peers could not be listed or the task never ran
}

// Dispatcher sends a sync request to every connected peer on a background worker.
type Dispatcher struct {
	ch     channel.Channel
	state  *State
	pool   *worker.Pool
	logger *zap.Logger
}

// NewDispatcher returns a Dispatcher that records requests in state and
// sends them on pool.
func NewDispatcher(ch channel.Channel, state *State, pool *worker.Pool, logger *zap.Logger) *Dispatcher {
	return &Dispatcher{
		ch:     ch,
		state:  state,
		pool:   pool,
		logger: logger,
	}
}

// Dispatch records now as the last request time and then fans out in the
// background. The returned channel receives exactly one result.
func (d *Dispatcher) Dispatch(now time.Time) <-chan DispatchResult {
	d.state.MarkRequested(now)
	return d.submit()
}

// TryDispatch dispatches only if throttle allows it at now. The request slot
// is claimed atomically, so ticks racing inside one window dispatch once.
func (d *Dispatcher) TryDispatch(throttle Throttle, now time.Time) (<-chan DispatchResult, bool) {
	if !throttle.ShouldRequestSync(d.state.Snapshot(), now, d.ch.IsConnected()) {
		return nil, false
	}
	if !d.state.ClaimRequest(now, throttle.Gap) {
		return nil, false
	}
	return d.submit(), true
}

func (d *Dispatcher) submit() <-chan DispatchResult {
	resultCh := make(chan DispatchResult, 1)

	ok := d.pool.Submit(func(ctx context.Context) {
		defer func() {
			if r := recover(); r != nil {
				err := fmt.Errorf("%w: %v", ErrTaskPanicked, r)
				d.logger.Error("sync request task failed", zap.Error(err))
				resultCh <- DispatchResult{Err: err}
			}
		}()
		resultCh <- d.send(ctx)
	})
	if !ok {
		d.logger.Warn("sync request not dispatched", zap.Error(ErrDispatchRejected))
		resultCh <- DispatchResult{Err: ErrDispatchRejected}
	}
	return resultCh
}

func (d *Dispatcher) send(ctx context.Context) DispatchResult {
	result := DispatchResult{Failed: make(map[channel.PeerID]error)}

	peers, err := d.ch.ConnectedPeers(ctx)
	if err != nil {
		d.logger.Warn("failed to list connected peers", zap.Error(err))
		result.Err = err
		return result
	}

	seen := make(map[channel.PeerID]struct{}, len(peers))
	for _, peer := range peers {
		if _, dup := seen[peer]; dup {
			continue
		}
		seen[peer] = struct{}{}

		if err := d.ch.SendMessage(ctx, peer, sync.RequestDataSyncPath, nil); err != nil {
			d.logger.Warn("failed to send sync request",
				zap.String("peer", string(peer)),
				zap.Error(err),
			)
			result.Failed[peer] = err
			continue
		}

		d.logger.Debug("sync request sent", zap.String("peer", string(peer)))
		result.Sent = append(result.Sent, peer)
	}

	d.logger.Info("sync request dispatched",
		zap.Int("sent", len(result.Sent)),
		zap.Int("failed", len(result.Failed)),
	)
	return result
}
