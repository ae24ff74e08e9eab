package phone

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/dgnsrekt/sunshine-watchsync/internal/weather"
)

// Trigger requests an out-of-schedule sync.
type Trigger interface {
	SyncImmediately()
}

// Syncer refreshes the forecast on an interval and on demand, then hands it
// to the Publisher.
type Syncer struct {
	provider  weather.Provider
	publisher *Publisher
	interval  time.Duration
	immediate chan struct{}
	logger    *zap.Logger
}

var _ Trigger = (*Syncer)(nil)

// NewSyncer creates a Syncer. A non-positive interval disables periodic refresh.
func NewSyncer(provider weather.Provider, publisher *Publisher, interval time.Duration, logger *zap.Logger) *Syncer {
	return &Syncer{
		provider:  provider,
		publisher: publisher,
		interval:  interval,
		immediate: make(chan struct{}, 1),
		logger:    logger,
	}
}

// SyncImmediately schedules a sync. Calls made while one is already pending
// coalesce into it.
func (s *Syncer) SyncImmediately() {
	select {
	case s.immediate <- struct{}{}:
	default:
	}
}

// Run syncs once at start, then on every tick or trigger until ctx is done.
func (s *Syncer) Run(ctx context.Context) {
	var tick <-chan time.Time
	if s.interval > 0 {
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		tick = ticker.C
	}

	s.logger.Info("weather syncer started", zap.Duration("interval", s.interval))
	s.syncLogged(ctx, "startup")

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("weather syncer stopping")
			return
		case <-tick:
			s.syncLogged(ctx, "interval")
		case <-s.immediate:
			s.syncLogged(ctx, "request")
		}
	}
}

// SyncOnce fetches today's forecast and publishes it.
func (s *Syncer) SyncOnce(ctx context.Context) (bool, error) {
	f, err := s.provider.Today(ctx)
	if err != nil {
		return false, fmt.Errorf("fetching forecast: %w", err)
	}
	return s.publisher.Publish(ctx, *f)
}

func (s *Syncer) syncLogged(ctx context.Context, reason string) {
	published, err := s.SyncOnce(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		s.logger.Error("weather sync failed", zap.String("reason", reason), zap.Error(err))
		return
	}
	s.logger.Debug("weather sync complete", zap.String("reason", reason), zap.Bool("published", published))
}
