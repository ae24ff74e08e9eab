package wear

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	gosync "sync"
	"testing"

	"github.com/dgnsrekt/sunshine-watchsync/internal/channel"
)

type sentMessage struct {
	peer channel.PeerID
	path string
}

// fakeChannel is a scriptable channel.Channel for watch-side tests.
type fakeChannel struct {
	mu         gosync.Mutex
	connected  bool
	peers      []channel.PeerID
	peersErr   error
	peersGate  chan struct{} // when set, ConnectedPeers blocks until closed
	sendErrs   map[channel.PeerID]error
	sent       []sentMessage
	assets     map[string][]byte
	resolveErr error
	panicMsg   string // when set, ConnectedPeers and ResolveAsset panic
	events     chan channel.DataEvent
}

var _ channel.Channel = (*fakeChannel)(nil)

func newFakeChannel(peers ...channel.PeerID) *fakeChannel {
	return &fakeChannel{
		connected: true,
		peers:     peers,
		sendErrs:  make(map[channel.PeerID]error),
		assets:    make(map[string][]byte),
		events:    make(chan channel.DataEvent, 16),
	}
}

func (f *fakeChannel) Connect(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connected = true
	return nil
}

func (f *fakeChannel) Disconnect() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connected = false
	return nil
}

func (f *fakeChannel) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeChannel) ConnectedPeers(ctx context.Context) ([]channel.PeerID, error) {
	f.mu.Lock()
	gate := f.peersGate
	f.mu.Unlock()
	if gate != nil {
		<-gate
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.panicMsg != "" {
		panic(f.panicMsg)
	}
	if f.peersErr != nil {
		return nil, f.peersErr
	}
	return append([]channel.PeerID(nil), f.peers...), nil
}

func (f *fakeChannel) SendMessage(ctx context.Context, peer channel.PeerID, path string, payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.sendErrs[peer]; err != nil {
		return &channel.SendError{Peer: peer, Err: err}
	}
	f.sent = append(f.sent, sentMessage{peer: peer, path: path})
	return nil
}

func (f *fakeChannel) PublishDataItem(ctx context.Context, path string, fields map[string]any) error {
	return nil
}

func (f *fakeChannel) DataEvents() <-chan channel.DataEvent { return f.events }

func (f *fakeChannel) Messages() <-chan channel.MessageEvent { return nil }

func (f *fakeChannel) CreateAsset(data []byte) (channel.Asset, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	asset := channel.DigestOf(data)
	f.assets[asset.Digest] = data
	return asset, nil
}

func (f *fakeChannel) ResolveAsset(ctx context.Context, asset channel.Asset) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.panicMsg != "" {
		panic(f.panicMsg)
	}
	if f.resolveErr != nil {
		return nil, f.resolveErr
	}
	data, ok := f.assets[asset.Digest]
	if !ok {
		return nil, channel.ErrAssetNotFound
	}
	return data, nil
}

func (f *fakeChannel) sentTo() map[channel.PeerID]int {
	f.mu.Lock()
	defer f.mu.Unlock()
	counts := make(map[channel.PeerID]int)
	for _, m := range f.sent {
		counts[m.peer]++
	}
	return counts
}

// testIcon encodes a small two-color PNG.
func testIcon(t *testing.T) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, 4, 4))
	for y := 0; y < 4; y++ {
		for x := 0; x < 4; x++ {
			c := color.NRGBA{R: 250, G: 180, B: 20, A: 255}
			if x < 2 {
				c = color.NRGBA{R: 20, G: 90, B: 240, A: 128}
			}
			img.SetNRGBA(x, y, c)
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encoding test icon: %v", err)
	}
	return buf.Bytes()
}
