package wear

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/dgnsrekt/sunshine-watchsync/internal/channel"
	"github.com/dgnsrekt/sunshine-watchsync/internal/sync"
)

func TestEngineTick_RequestsOncePerWindow(t *testing.T) {
	ch := newFakeChannel("p1")
	e := NewEngine(ch, newTestPool(t), EngineConfig{}, zap.NewNop())

	if !e.Tick(t0) {
		t.Fatal("expected first tick to dispatch")
	}
	for i := 1; i <= 60; i++ {
		if e.Tick(t0.Add(time.Duration(i) * time.Second)) {
			t.Fatalf("tick %ds after request must not dispatch", i)
		}
	}
	if !e.Tick(t0.Add(61 * time.Second)) {
		t.Error("expected a retry once the window elapsed")
	}
}

func TestEngineTick_RendersOnlyWhenDirty(t *testing.T) {
	var renders []Snapshot
	ch := newFakeChannel()
	e := NewEngine(ch, newTestPool(t), EngineConfig{
		Render: func(s Snapshot) { renders = append(renders, s) },
	}, zap.NewNop())

	e.Tick(t0)
	if len(renders) != 0 {
		t.Fatalf("clean face must not render, got %d", len(renders))
	}

	e.Reconciler().Handle(changed(sync.WatchFaceDataPath, map[string]any{
		sync.HighTempKey: "19°",
		sync.LowTempKey:  "9°",
	}))
	if !e.Dirty() {
		t.Fatal("expected face dirty after data arrived")
	}

	e.Tick(t0.Add(time.Second))
	if len(renders) != 1 || renders[0].HighTemp != "19°" {
		t.Fatalf("expected one render with new data, got %+v", renders)
	}
	if e.Dirty() {
		t.Error("render must clear the dirty flag")
	}

	e.Tick(t0.Add(2 * time.Second))
	if len(renders) != 1 {
		t.Errorf("expected no further renders, got %d", len(renders))
	}
}

func TestEngineTick_StopsRequestingOnceDataArrives(t *testing.T) {
	ch := newFakeChannel("p1")
	asset, _ := ch.CreateAsset(testIcon(t))
	e := NewEngine(ch, newTestPool(t), EngineConfig{SyncRequestGap: time.Minute, IconRequired: true}, zap.NewNop())

	err := awaitErr(t, e.Reconciler().Handle(changed(sync.WatchFaceDataPath, map[string]any{
		sync.HighTempKey:    "19°",
		sync.LowTempKey:     "9°",
		sync.WeatherIconKey: asset,
	})))
	if err != nil {
		t.Fatalf("icon load failed: %v", err)
	}

	for i := 0; i < 5; i++ {
		if e.Tick(t0.Add(time.Duration(i) * 2 * time.Minute)) {
			t.Fatal("populated face must not request data")
		}
	}
}

func TestEngineTick_RetriesAfterFailedIconLoad(t *testing.T) {
	ch := newFakeChannel("p1")
	ch.resolveErr = errors.New("transfer aborted")
	e := NewEngine(ch, newTestPool(t), EngineConfig{IconRequired: true}, zap.NewNop())

	if !e.Tick(t0) {
		t.Fatal("expected first tick to dispatch")
	}
	err := awaitErr(t, e.Reconciler().Handle(changed(sync.WatchFaceDataPath, map[string]any{
		sync.HighTempKey:    "19°",
		sync.LowTempKey:     "9°",
		sync.WeatherIconKey: channel.Asset{Digest: "lost"},
	})))
	if err == nil {
		t.Fatal("expected icon load error")
	}

	if e.Tick(t0.Add(30 * time.Second)) {
		t.Fatal("must not dispatch inside the window")
	}
	if !e.Tick(t0.Add(61 * time.Second)) {
		t.Fatal("face without an icon must ask again once the window elapsed")
	}

	ch.mu.Lock()
	ch.resolveErr = nil
	ch.mu.Unlock()
	asset, _ := ch.CreateAsset(testIcon(t))
	err = awaitErr(t, e.Reconciler().Handle(changed(sync.WatchFaceDataPath, map[string]any{
		sync.HighTempKey:    "19°",
		sync.LowTempKey:     "9°",
		sync.WeatherIconKey: asset,
	})))
	if err != nil {
		t.Fatalf("icon load failed: %v", err)
	}
	if e.Tick(t0.Add(3 * time.Minute)) {
		t.Error("complete face must not request data")
	}
}

func TestEngineRun_ConsumesChannelEvents(t *testing.T) {
	ch := newFakeChannel()
	ch.Disconnect()
	e := NewEngine(ch, newTestPool(t), EngineConfig{TickInterval: 10 * time.Millisecond}, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		e.Run(ctx)
		close(done)
	}()

	ch.events <- channel.DataEvent{
		Type: channel.EventChanged,
		Item: channel.DataItem{
			Path:   sync.WatchFaceDataPath,
			Fields: map[string]any{sync.HighTempKey: "30°", sync.LowTempKey: "21°"},
		},
	}

	deadline := time.Now().Add(2 * time.Second)
	for e.State().Snapshot().HighTemp != "30°" {
		if time.Now().After(deadline) {
			t.Fatal("engine did not apply the data event")
		}
		time.Sleep(5 * time.Millisecond)
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("engine did not stop")
	}
}
