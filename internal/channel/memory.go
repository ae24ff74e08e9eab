package channel

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
)

const endpointBufferSize = 64

// Network is an in-process channel fabric. Every endpoint joined to the same
// network sees every other connected endpoint as a peer.
type Network struct {
	mu        sync.RWMutex
	endpoints map[PeerID]*Endpoint
	items     map[PeerID]map[string]map[string]any // owner -> path -> fields
	assets    map[string][]byte
	logger    *zap.Logger
}

// NewNetwork creates an empty in-process network.
func NewNetwork(logger *zap.Logger) *Network {
	return &Network{
		endpoints: make(map[PeerID]*Endpoint),
		items:     make(map[PeerID]map[string]map[string]any),
		assets:    make(map[string][]byte),
		logger:    logger,
	}
}

// Endpoint returns the endpoint named id, creating it on first use.
// New endpoints start disconnected.
func (n *Network) Endpoint(id PeerID) *Endpoint {
	n.mu.Lock()
	defer n.mu.Unlock()

	if ep, ok := n.endpoints[id]; ok {
		return ep
	}
	ep := &Endpoint{
		id:      id,
		network: n,
		dataCh:  make(chan DataEvent, endpointBufferSize),
		msgCh:   make(chan MessageEvent, endpointBufferSize),
		logger:  n.logger.With(zap.String("endpoint", string(id))),
	}
	n.endpoints[id] = ep
	return ep
}

// Endpoint is one device's view of a Network.
type Endpoint struct {
	id        PeerID
	network   *Network
	connected atomic.Bool
	dataCh    chan DataEvent
	msgCh     chan MessageEvent
	logger    *zap.Logger
}

// Compile-time interface verification
var _ Channel = (*Endpoint)(nil)

// ID returns the endpoint's own peer id.
func (e *Endpoint) ID() PeerID {
	return e.id
}

// Connect joins the network and replays the current data items owned by
// other connected endpoints.
func (e *Endpoint) Connect(_ context.Context) error {
	if e.connected.Swap(true) {
		return nil
	}
	e.logger.Debug("endpoint connected")

	n := e.network
	n.mu.RLock()
	var snapshot []DataItem
	for owner, paths := range n.items {
		if owner == e.id {
			continue
		}
		if other, ok := n.endpoints[owner]; !ok || !other.IsConnected() {
			continue
		}
		for path, fields := range paths {
			snapshot = append(snapshot, DataItem{Path: path, Fields: CloneFields(fields)})
		}
	}
	n.mu.RUnlock()

	sort.Slice(snapshot, func(i, j int) bool { return snapshot[i].Path < snapshot[j].Path })
	for _, item := range snapshot {
		e.deliverData(DataEvent{Type: EventChanged, Item: item})
	}
	return nil
}

// Disconnect leaves the network. Published items stay stored.
func (e *Endpoint) Disconnect() error {
	if e.connected.Swap(false) {
		e.logger.Debug("endpoint disconnected")
	}
	return nil
}

// IsConnected reports whether the endpoint is joined to the network.
func (e *Endpoint) IsConnected() bool {
	return e.connected.Load()
}

// ConnectedPeers lists the other connected endpoints, ordered by id.
func (e *Endpoint) ConnectedPeers(_ context.Context) ([]PeerID, error) {
	if !e.IsConnected() {
		return nil, ErrNotConnected
	}
	peers := e.network.connectedExcept(e.id)
	ids := make([]PeerID, 0, len(peers))
	for _, p := range peers {
		ids = append(ids, p.id)
	}
	return ids, nil
}

// SendMessage queues a message in peer's inbox. It never waits: a full inbox
// fails the send with ErrPeerBusy.
func (e *Endpoint) SendMessage(ctx context.Context, peer PeerID, path string, payload []byte) error {
	if !e.IsConnected() {
		return ErrNotConnected
	}

	e.network.mu.RLock()
	target, ok := e.network.endpoints[peer]
	e.network.mu.RUnlock()
	if !ok || !target.IsConnected() {
		return &SendError{Peer: peer, Err: ErrPeerUnknown}
	}

	msg := MessageEvent{From: e.id, Path: path, Payload: append([]byte(nil), payload...)}
	if err := ctx.Err(); err != nil {
		return &SendError{Peer: peer, Err: err}
	}
	select {
	case target.msgCh <- msg:
		return nil
	default:
		e.logger.Warn("peer inbox full, dropping message",
			zap.String("peer", string(peer)),
			zap.String("path", path),
		)
		return &SendError{Peer: peer, Err: ErrPeerBusy}
	}
}

// PublishDataItem stores fields at path, replacing the previous item, and
// notifies connected peers. Peers whose event buffer is full miss the event
// but still receive the item on their next Connect.
func (e *Endpoint) PublishDataItem(_ context.Context, path string, fields map[string]any) error {
	if !e.IsConnected() {
		return ErrNotConnected
	}

	n := e.network
	n.mu.Lock()
	if n.items[e.id] == nil {
		n.items[e.id] = make(map[string]map[string]any)
	}
	n.items[e.id][path] = CloneFields(fields)
	n.mu.Unlock()

	for _, peer := range n.connectedExcept(e.id) {
		peer.deliverData(DataEvent{
			Type: EventChanged,
			Item: DataItem{Path: path, Fields: CloneFields(fields)},
		})
	}
	return nil
}

// DeleteDataItem removes the item at path and notifies peers with a deleted event.
func (e *Endpoint) DeleteDataItem(_ context.Context, path string) error {
	if !e.IsConnected() {
		return ErrNotConnected
	}

	n := e.network
	n.mu.Lock()
	delete(n.items[e.id], path)
	n.mu.Unlock()

	for _, peer := range n.connectedExcept(e.id) {
		peer.deliverData(DataEvent{Type: EventDeleted, Item: DataItem{Path: path}})
	}
	return nil
}

// DataEvents delivers item changes published by other endpoints.
func (e *Endpoint) DataEvents() <-chan DataEvent {
	return e.dataCh
}

// Messages delivers messages sent to this endpoint.
func (e *Endpoint) Messages() <-chan MessageEvent {
	return e.msgCh
}

// CreateAsset stores data on the network under its digest.
func (e *Endpoint) CreateAsset(data []byte) (Asset, error) {
	if len(data) == 0 {
		return Asset{}, fmt.Errorf("creating asset: %w", ErrInvalidPayload)
	}
	asset := DigestOf(data)

	e.network.mu.Lock()
	e.network.assets[asset.Digest] = append([]byte(nil), data...)
	e.network.mu.Unlock()
	return asset, nil
}

// ResolveAsset returns a copy of the asset's bytes.
func (e *Endpoint) ResolveAsset(_ context.Context, asset Asset) ([]byte, error) {
	if !e.IsConnected() {
		return nil, ErrNotConnected
	}

	e.network.mu.RLock()
	data, ok := e.network.assets[asset.Digest]
	e.network.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("resolving %s: %w", asset.Digest, ErrAssetNotFound)
	}
	return append([]byte(nil), data...), nil
}

func (e *Endpoint) deliverData(ev DataEvent) {
	select {
	case e.dataCh <- ev:
	default:
		e.logger.Warn("data inbox full, dropping event", zap.String("path", ev.Item.Path))
	}
}

// connectedExcept returns connected endpoints other than self, ordered by id.
func (n *Network) connectedExcept(self PeerID) []*Endpoint {
	n.mu.RLock()
	defer n.mu.RUnlock()

	out := make([]*Endpoint, 0, len(n.endpoints))
	for id, ep := range n.endpoints {
		if id != self && ep.IsConnected() {
			out = append(out, ep)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].id < out[j].id })
	return out
}
