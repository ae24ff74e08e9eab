package wear

import (
	"context"
	"errors"
	"image"
	"image/color"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/dgnsrekt/sunshine-watchsync/internal/channel"
	"github.com/dgnsrekt/sunshine-watchsync/internal/sync"
)

type countingView struct {
	n atomic.Int32
}

func (v *countingView) Invalidate() { v.n.Add(1) }

func newTestReconciler(t *testing.T, ch *fakeChannel) (*Reconciler, *State, *countingView) {
	t.Helper()
	logger, _ := zap.NewDevelopment()
	state := NewState()
	view := &countingView{}
	return NewReconciler(ch, state, newTestPool(t), view, logger), state, view
}

func awaitErr(t *testing.T, done <-chan error) error {
	t.Helper()
	if done == nil {
		t.Fatal("expected an icon load to be scheduled")
	}
	select {
	case err := <-done:
		return err
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for icon load")
		return nil
	}
}

func changed(path string, fields map[string]any) channel.DataEvent {
	return channel.DataEvent{
		Type: channel.EventChanged,
		Item: channel.DataItem{Path: path, Fields: fields},
	}
}

func TestReconciler_IgnoresOtherPaths(t *testing.T) {
	r, state, view := newTestReconciler(t, newFakeChannel())

	done := r.Handle(changed("/other-path", map[string]any{
		sync.HighTempKey: "30°",
		sync.LowTempKey:  "20°",
	}))

	if done != nil {
		t.Error("no icon load expected")
	}
	if snap := state.Snapshot(); snap.HighTemp != "" || snap.LowTemp != "" {
		t.Errorf("state must be untouched, got %+v", snap)
	}
	if view.n.Load() != 0 {
		t.Error("no invalidation expected")
	}
}

func TestReconciler_IgnoresDeletes(t *testing.T) {
	r, state, view := newTestReconciler(t, newFakeChannel())

	r.Handle(channel.DataEvent{
		Type: channel.EventDeleted,
		Item: channel.DataItem{Path: sync.WatchFaceDataPath},
	})

	if snap := state.Snapshot(); snap.HighTemp != "" {
		t.Errorf("state must be untouched, got %+v", snap)
	}
	if view.n.Load() != 0 {
		t.Error("no invalidation expected")
	}
}

func TestReconciler_IgnoresMalformedItem(t *testing.T) {
	r, state, _ := newTestReconciler(t, newFakeChannel())
	state.SetTemperatures("21°", "12°")

	r.Handle(changed(sync.WatchFaceDataPath, map[string]any{
		sync.HighTempKey: 21,
	}))

	if snap := state.Snapshot(); snap.HighTemp != "21°" {
		t.Errorf("malformed item must not overwrite state, got %q", snap.HighTemp)
	}
}

func TestReconciler_AppliesTemperaturesWithoutIcon(t *testing.T) {
	r, state, view := newTestReconciler(t, newFakeChannel())

	done := r.Handle(changed(sync.WatchFaceDataPath, map[string]any{
		sync.HighTempKey: "25°",
		sync.LowTempKey:  "16°",
	}))

	if done != nil {
		t.Error("no icon load expected without an icon field")
	}
	snap := state.Snapshot()
	if snap.HighTemp != "25°" || snap.LowTemp != "16°" {
		t.Errorf("unexpected temperatures %q/%q", snap.HighTemp, snap.LowTemp)
	}
	if view.n.Load() != 1 {
		t.Errorf("expected one invalidation, got %d", view.n.Load())
	}
}

func TestReconciler_LoadsIconAndGrayVariant(t *testing.T) {
	ch := newFakeChannel()
	asset, _ := ch.CreateAsset(testIcon(t))
	r, state, view := newTestReconciler(t, ch)

	err := awaitErr(t, r.Handle(changed(sync.WatchFaceDataPath, map[string]any{
		sync.HighTempKey:    "25°",
		sync.LowTempKey:     "16°",
		sync.WeatherIconKey: asset,
	})))
	if err != nil {
		t.Fatalf("icon load failed: %v", err)
	}

	snap := state.Snapshot()
	if snap.Icon == nil || snap.GrayIcon == nil {
		t.Fatal("expected both icons set")
	}
	if snap.Icon.Bounds() != snap.GrayIcon.Bounds() {
		t.Errorf("gray icon bounds %v differ from %v", snap.GrayIcon.Bounds(), snap.Icon.Bounds())
	}
	assertGray(t, snap.GrayIcon)

	// Once for the temperatures, once after the icon decoded.
	if view.n.Load() != 2 {
		t.Errorf("expected two invalidations, got %d", view.n.Load())
	}
}

func TestReconciler_AssetFailureKeepsPreviousIcon(t *testing.T) {
	ch := newFakeChannel()
	ch.resolveErr = errors.New("transfer aborted")
	r, state, _ := newTestReconciler(t, ch)

	prev := image.NewNRGBA(image.Rect(0, 0, 1, 1))
	prevGray := image.NewNRGBA(image.Rect(0, 0, 1, 1))
	state.SetIcons(prev, prevGray)

	err := awaitErr(t, r.Handle(changed(sync.WatchFaceDataPath, map[string]any{
		sync.HighTempKey:    "25°",
		sync.LowTempKey:     "16°",
		sync.WeatherIconKey: channel.Asset{Digest: "missing"},
	})))
	if err == nil {
		t.Fatal("expected icon load error")
	}

	snap := state.Snapshot()
	if snap.HighTemp != "25°" || snap.LowTemp != "16°" {
		t.Errorf("temperatures must still apply, got %q/%q", snap.HighTemp, snap.LowTemp)
	}
	if snap.Icon != image.Image(prev) || snap.GrayIcon != image.Image(prevGray) {
		t.Error("previous icons must be kept on failure")
	}
}

func TestReconciler_UndecodableIconKeepsPreviousIcon(t *testing.T) {
	ch := newFakeChannel()
	asset, _ := ch.CreateAsset([]byte("not an image"))
	r, state, _ := newTestReconciler(t, ch)

	err := awaitErr(t, r.Handle(changed(sync.WatchFaceDataPath, map[string]any{
		sync.WeatherIconKey: asset,
	})))
	if err == nil {
		t.Fatal("expected decode error")
	}
	if snap := state.Snapshot(); snap.Icon != nil {
		t.Error("icon must stay unset")
	}
}

func TestReconciler_RunAppliesEventsInOrder(t *testing.T) {
	ch := newFakeChannel()
	r, state, view := newTestReconciler(t, ch)

	events := make(chan channel.DataEvent, 2)
	events <- changed(sync.WatchFaceDataPath, map[string]any{sync.HighTempKey: "20°", sync.LowTempKey: "10°"})
	events <- changed(sync.WatchFaceDataPath, map[string]any{sync.HighTempKey: "22°", sync.LowTempKey: "11°"})
	close(events)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	r.Run(ctx, events)

	snap := state.Snapshot()
	if snap.HighTemp != "22°" || snap.LowTemp != "11°" {
		t.Errorf("expected last event to win, got %q/%q", snap.HighTemp, snap.LowTemp)
	}
	if view.n.Load() != 2 {
		t.Errorf("expected two invalidations, got %d", view.n.Load())
	}
}

func assertGray(t *testing.T, img image.Image) {
	t.Helper()
	b := img.Bounds()
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			c := color.NRGBAModel.Convert(img.At(x, y)).(color.NRGBA)
			if c.R != c.G || c.G != c.B {
				t.Fatalf("pixel (%d,%d) not gray: %v", x, y, c)
			}
		}
	}
}

func TestReconciler_PanickingIconLoadStillReports(t *testing.T) {
	ch := newFakeChannel()
	asset, _ := ch.CreateAsset(testIcon(t))
	ch.panicMsg = "decoder blew up"
	r, state, _ := newTestReconciler(t, ch)

	err := awaitErr(t, r.Handle(changed(sync.WatchFaceDataPath, map[string]any{
		sync.HighTempKey:    "25°",
		sync.LowTempKey:     "16°",
		sync.WeatherIconKey: asset,
	})))
	if !errors.Is(err, ErrTaskPanicked) {
		t.Errorf("expected ErrTaskPanicked, got %v", err)
	}
	if snap := state.Snapshot(); snap.Icon != nil || snap.HighTemp != "25°" {
		t.Errorf("unexpected state after failed load: %+v", snap)
	}
}
