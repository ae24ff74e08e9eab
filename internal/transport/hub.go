package transport

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/dgnsrekt/sunshine-watchsync/internal/channel"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Time allowed for a new connection to say hello.
	helloWait = 10 * time.Second

	// Maximum frame size allowed from peer.
	maxMessageSize = 512 * 1024

	// Send buffer size per connection.
	sendBufferSize = 64

	eventBufferSize = 64
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// HubConfig configures the phone-side hub.
type HubConfig struct {
	NodeID       channel.PeerID
	InboundRate  float64 // frames per second per connection
	InboundBurst int
}

// Hub accepts watch connections and implements channel.Channel for the phone.
// Data items are kept per path and replayed to every watch that connects.
type Hub struct {
	nodeID channel.PeerID
	codec  *Codec
	limit  rate.Limit
	burst  int

	conns      map[channel.PeerID]*hubConn
	items      map[string]map[string]any
	assets     map[string][]byte
	register   chan *hubConn
	unregister chan *hubConn
	done       chan struct{}
	mu         sync.RWMutex

	connected atomic.Bool
	dataCh    chan channel.DataEvent
	msgCh     chan channel.MessageEvent
	logger    *zap.Logger
}

var _ channel.Channel = (*Hub)(nil)

// hubConn is one watch connection.
type hubConn struct {
	hub     *Hub
	conn    *websocket.Conn
	send    chan []byte
	connID  string
	node    channel.PeerID
	limiter *rate.Limiter
	logger  *zap.Logger
}

// NewHub creates a hub. Run must be started before watches connect.
func NewHub(cfg HubConfig, codec *Codec, logger *zap.Logger) *Hub {
	if cfg.InboundRate <= 0 {
		cfg.InboundRate = 20
	}
	if cfg.InboundBurst < 1 {
		cfg.InboundBurst = 40
	}
	return &Hub{
		nodeID:     cfg.NodeID,
		codec:      codec,
		limit:      rate.Limit(cfg.InboundRate),
		burst:      cfg.InboundBurst,
		conns:      make(map[channel.PeerID]*hubConn),
		items:      make(map[string]map[string]any),
		assets:     make(map[string][]byte),
		register:   make(chan *hubConn),
		unregister: make(chan *hubConn),
		done:       make(chan struct{}),
		dataCh:     make(chan channel.DataEvent, eventBufferSize),
		msgCh:      make(chan channel.MessageEvent, eventBufferSize),
		logger:     logger,
	}
}

// Run processes connection lifecycle events until ctx is cancelled.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			h.logger.Info("hub shutting down")
			h.shutdown()
			return

		case c := <-h.register:
			h.mu.Lock()
			if old, ok := h.conns[c.node]; ok {
				// A reconnecting watch replaces its stale connection.
				close(old.send)
			}
			h.conns[c.node] = c
			h.replayLocked(c)
			h.mu.Unlock()
			h.logger.Info("watch connected",
				zap.String("node", string(c.node)),
				zap.String("connID", c.connID),
			)

		case c := <-h.unregister:
			h.mu.Lock()
			if cur, ok := h.conns[c.node]; ok && cur == c {
				delete(h.conns, c.node)
				close(c.send)
			}
			h.mu.Unlock()
			h.logger.Info("watch disconnected",
				zap.String("node", string(c.node)),
				zap.String("connID", c.connID),
			)
		}
	}
}

func (h *Hub) shutdown() {
	close(h.done)

	h.mu.Lock()
	defer h.mu.Unlock()

	for node, c := range h.conns {
		close(c.send)
		delete(h.conns, node)
	}
}

// replayLocked queues every stored item to c, ordered by path. Callers hold h.mu.
func (h *Hub) replayLocked(c *hubConn) {
	paths := make([]string, 0, len(h.items))
	for p := range h.items {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	for _, p := range paths {
		frame, err := h.codec.Encode(Frame{Kind: KindData, Path: p, Fields: h.items[p]})
		if err != nil {
			h.logger.Error("encoding replay frame", zap.String("path", p), zap.Error(err))
			continue
		}
		select {
		case c.send <- frame:
		default:
			h.logger.Warn("replay dropped, send buffer full", zap.String("node", string(c.node)))
			return
		}
	}
}

// ServeWS upgrades the request and waits for the watch's hello frame.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("websocket upgrade failed", zap.Error(err))
		return
	}

	connID := uuid.New().String()
	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(helloWait))

	_, raw, err := conn.ReadMessage()
	if err != nil {
		h.logger.Debug("no hello from client", zap.String("connID", connID), zap.Error(err))
		_ = conn.Close()
		return
	}
	hello, err := h.codec.Decode(raw)
	if err != nil || hello.Kind != KindHello || hello.Node == "" {
		h.logger.Warn("invalid hello frame", zap.String("connID", connID), zap.Error(err))
		_ = conn.Close()
		return
	}

	reply, err := h.codec.Encode(Frame{Kind: KindHello, Node: string(h.nodeID)})
	if err != nil {
		h.logger.Error("encoding hello", zap.Error(err))
		_ = conn.Close()
		return
	}
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteMessage(websocket.BinaryMessage, reply); err != nil {
		_ = conn.Close()
		return
	}

	c := &hubConn{
		hub:     h,
		conn:    conn,
		send:    make(chan []byte, sendBufferSize),
		connID:  connID,
		node:    channel.PeerID(hello.Node),
		limiter: rate.NewLimiter(h.limit, h.burst),
		logger:  h.logger.With(zap.String("node", hello.Node), zap.String("connID", connID)),
	}

	select {
	case h.register <- c:
	case <-h.done:
		_ = conn.Close()
		return
	}

	go c.writePump()
	go c.readPump()
}

func (c *hubConn) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		_ = c.conn.Close()
	}()

	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Debug("websocket read error", zap.Error(err))
			}
			return
		}
		if !c.limiter.Allow() {
			c.logger.Warn("inbound frame rate exceeded, dropping frame")
			continue
		}
		c.handleFrame(raw)
	}
}

func (c *hubConn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case frame, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.BinaryMessage, frame); err != nil {
				c.logger.Debug("websocket write error", zap.Error(err))
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *hubConn) handleFrame(raw []byte) {
	f, err := c.hub.codec.Decode(raw)
	if err != nil {
		c.logger.Debug("failed to decode frame", zap.Error(err))
		return
	}

	switch f.Kind {
	case KindMessage:
		c.hub.emitMessage(channel.MessageEvent{From: c.node, Path: f.Path, Payload: f.Payload})
	case KindData:
		c.hub.emitData(channel.DataEvent{Type: channel.EventChanged, Item: channel.DataItem{Path: f.Path, Fields: f.Fields}})
	case KindDelete:
		c.hub.emitData(channel.DataEvent{Type: channel.EventDeleted, Item: channel.DataItem{Path: f.Path}})
	default:
		c.logger.Debug("unexpected frame", zap.String("kind", f.Kind))
	}
}

func (h *Hub) emitMessage(msg channel.MessageEvent) {
	select {
	case h.msgCh <- msg:
	default:
		h.logger.Warn("message inbox full, dropping", zap.String("path", msg.Path))
	}
}

func (h *Hub) emitData(ev channel.DataEvent) {
	select {
	case h.dataCh <- ev:
	default:
		h.logger.Warn("data inbox full, dropping", zap.String("path", ev.Item.Path))
	}
}

// Connect opens the hub for publishing. Watches may connect at any time.
func (h *Hub) Connect(context.Context) error {
	h.connected.Store(true)
	return nil
}

// Disconnect stops publishing. Connected watches stay attached.
func (h *Hub) Disconnect() error {
	h.connected.Store(false)
	return nil
}

func (h *Hub) IsConnected() bool {
	return h.connected.Load()
}

// ConnectedPeers lists connected watches by node id.
func (h *Hub) ConnectedPeers(context.Context) ([]channel.PeerID, error) {
	if !h.IsConnected() {
		return nil, channel.ErrNotConnected
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	peers := make([]channel.PeerID, 0, len(h.conns))
	for node := range h.conns {
		peers = append(peers, node)
	}
	sort.Slice(peers, func(i, j int) bool { return peers[i] < peers[j] })
	return peers, nil
}

// SendMessage queues a message frame for one watch without waiting.
func (h *Hub) SendMessage(ctx context.Context, peer channel.PeerID, path string, payload []byte) error {
	if !h.IsConnected() {
		return channel.ErrNotConnected
	}

	frame, err := h.codec.Encode(Frame{Kind: KindMessage, Node: string(h.nodeID), Path: path, Payload: payload})
	if err != nil {
		return &channel.SendError{Peer: peer, Err: err}
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	c, ok := h.conns[peer]
	if !ok {
		return &channel.SendError{Peer: peer, Err: channel.ErrPeerUnknown}
	}
	select {
	case c.send <- frame:
		return nil
	case <-ctx.Done():
		return &channel.SendError{Peer: peer, Err: ctx.Err()}
	default:
		return &channel.SendError{Peer: peer, Err: channel.ErrPeerBusy}
	}
}

// PublishDataItem stores the item and pushes it to every connected watch.
func (h *Hub) PublishDataItem(ctx context.Context, path string, fields map[string]any) error {
	if !h.IsConnected() {
		return channel.ErrNotConnected
	}

	frame, err := h.codec.Encode(Frame{Kind: KindData, Path: path, Fields: fields})
	if err != nil {
		return err
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	h.items[path] = channel.CloneFields(fields)
	for node, c := range h.conns {
		select {
		case c.send <- frame:
		default:
			h.logger.Warn("send buffer full, watch will get the item on reconnect",
				zap.String("node", string(node)),
				zap.String("path", path),
			)
		}
	}
	return nil
}

func (h *Hub) DataEvents() <-chan channel.DataEvent {
	return h.dataCh
}

func (h *Hub) Messages() <-chan channel.MessageEvent {
	return h.msgCh
}

// CreateAsset stores data for download under /assets/{digest}.
func (h *Hub) CreateAsset(data []byte) (channel.Asset, error) {
	if len(data) == 0 {
		return channel.Asset{}, fmt.Errorf("creating asset: %w", channel.ErrInvalidPayload)
	}
	asset := channel.DigestOf(data)

	h.mu.Lock()
	h.assets[asset.Digest] = append([]byte(nil), data...)
	h.mu.Unlock()
	return asset, nil
}

func (h *Hub) ResolveAsset(_ context.Context, asset channel.Asset) ([]byte, error) {
	h.mu.RLock()
	data, ok := h.assets[asset.Digest]
	h.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("resolving %s: %w", asset.Digest, channel.ErrAssetNotFound)
	}
	return append([]byte(nil), data...), nil
}

// PeerCount returns the number of connected watches.
func (h *Hub) PeerCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}
