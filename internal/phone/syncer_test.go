package phone

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/dgnsrekt/sunshine-watchsync/internal/weather"
)

type failingProvider struct{}

func (failingProvider) Today(context.Context) (*weather.Forecast, error) {
	return nil, weather.ErrNotFound
}

func TestSyncOnce(t *testing.T) {
	phone, watch := connectedPair(t)
	p := NewPublisher(phone, NewMemoryMarkerStore(), &GeneratedIcons{}, weather.UnitsImperial, zap.NewNop())
	s := NewSyncer(&weather.StaticProvider{Forecast: sunny}, p, 0, zap.NewNop())

	published, err := s.SyncOnce(context.Background())
	if err != nil || !published {
		t.Fatalf("expected publish, got %v, %v", published, err)
	}
	nextEvent(t, watch)
}

func TestSyncOnce_ProviderError(t *testing.T) {
	phone, _ := connectedPair(t)
	p := NewPublisher(phone, NewMemoryMarkerStore(), &GeneratedIcons{}, weather.UnitsMetric, zap.NewNop())
	s := NewSyncer(failingProvider{}, p, 0, zap.NewNop())

	if _, err := s.SyncOnce(context.Background()); !errors.Is(err, weather.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestSyncImmediately_Coalesces(t *testing.T) {
	s := NewSyncer(nil, nil, 0, zap.NewNop())

	s.SyncImmediately()
	s.SyncImmediately()
	s.SyncImmediately()

	if len(s.immediate) != 1 {
		t.Errorf("expected one pending trigger, got %d", len(s.immediate))
	}
}

func TestSyncerRun_ResendsOnRequest(t *testing.T) {
	phone, watch := connectedPair(t)
	store := NewMemoryMarkerStore()
	p := NewPublisher(phone, store, &GeneratedIcons{}, weather.UnitsImperial, zap.NewNop())
	s := NewSyncer(&weather.StaticProvider{Forecast: sunny}, p, time.Hour, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)

	// Startup sync.
	nextEvent(t, watch)

	// Unchanged values with a live marker: nothing new.
	s.SyncImmediately()
	assertNoEvent(t, watch)

	_ = store.Clear(ctx)
	s.SyncImmediately()
	nextEvent(t, watch)
}
