package phone_test

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/dgnsrekt/sunshine-watchsync/internal/channel"
	"github.com/dgnsrekt/sunshine-watchsync/internal/phone"
	"github.com/dgnsrekt/sunshine-watchsync/internal/wear"
	"github.com/dgnsrekt/sunshine-watchsync/internal/weather"
	"github.com/dgnsrekt/sunshine-watchsync/internal/worker"
)

func TestSyncRequestRoundTrip(t *testing.T) {
	logger, _ := zap.NewDevelopment()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	net := channel.NewNetwork(logger)
	phoneEP, watchEP := net.Endpoint("phone"), net.Endpoint("watch")
	if err := phoneEP.Connect(ctx); err != nil {
		t.Fatal(err)
	}
	if err := watchEP.Connect(ctx); err != nil {
		t.Fatal(err)
	}

	// The phone believes it already sent today's values, so only a sync
	// request from the watch gets them published.
	forecast := weather.Forecast{High: 24.2, Low: 13.4, WeatherID: 801}
	store := phone.NewMemoryMarkerStore()
	_ = store.Save(ctx, phone.Marker{HighTemp: "24°", LowTemp: "13°", WeatherID: 801})

	publisher := phone.NewPublisher(phoneEP, store, &phone.GeneratedIcons{}, weather.UnitsMetric, logger)
	syncer := phone.NewSyncer(&weather.StaticProvider{Forecast: forecast}, publisher, 0, logger)
	service := phone.NewService(phoneEP, phone.NewHandler(store, syncer, logger), logger)
	go syncer.Run(ctx)
	go service.Run(ctx)

	pool := worker.NewPool(ctx, "watch", 2, 8, logger)
	defer pool.Stop()
	engine := wear.NewEngine(watchEP, pool, wear.EngineConfig{IconRequired: true}, logger)
	go engine.Reconciler().Run(ctx, watchEP.DataEvents())

	now := time.Date(2026, 10, 19, 9, 0, 0, 0, time.UTC)
	if !engine.Tick(now) {
		t.Fatal("empty face should request data")
	}

	deadline := time.Now().Add(3 * time.Second)
	for {
		snap := engine.State().Snapshot()
		if snap.HighTemp != "" && snap.Icon != nil {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("watch never received weather, state %+v", snap)
		}
		time.Sleep(10 * time.Millisecond)
	}

	snap := engine.State().Snapshot()
	if snap.HighTemp != "24°" || snap.LowTemp != "13°" {
		t.Errorf("unexpected temperatures %q/%q", snap.HighTemp, snap.LowTemp)
	}
	if snap.GrayIcon == nil {
		t.Error("expected gray icon")
	}

	later := now.Add(5 * time.Minute)
	if engine.Throttle().ShouldRequestSync(snap, later, watchEP.IsConnected()) {
		t.Error("populated face must not request again")
	}
	if engine.Tick(later) {
		t.Error("tick must not dispatch once data arrived")
	}
}
