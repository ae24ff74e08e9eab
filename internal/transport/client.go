package transport

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/net/http2"

	"github.com/dgnsrekt/sunshine-watchsync/internal/channel"
)

const (
	maxReconnectDelay = time.Minute
	maxAssetSize      = 4 << 20
)

// ClientConfig configures the watch-side connection to the phone hub.
type ClientConfig struct {
	NodeID         channel.PeerID
	URL            string // ws://host:port/ws
	AssetURL       string // http://host:port/assets
	H2C            bool   // fetch http:// assets over HTTP/2 cleartext
	ReconnectDelay time.Duration
	AssetTimeout   time.Duration
}

// Client implements channel.Channel for the watch. Its only peer is the hub.
type Client struct {
	cfg        ClientConfig
	codec      *Codec
	httpClient *http.Client
	dialer     *websocket.Dialer

	mu     sync.Mutex
	conn   *websocket.Conn
	send   chan []byte
	closed chan struct{} // closed when the current connection's read pump exits
	hubID  channel.PeerID

	connected atomic.Bool
	assets    sync.Map // digest -> []byte, assets created locally
	dataCh    chan channel.DataEvent
	msgCh     chan channel.MessageEvent
	logger    *zap.Logger
}

var _ channel.Channel = (*Client)(nil)

// NewClient creates a disconnected client. Call Connect or Maintain to dial.
func NewClient(cfg ClientConfig, codec *Codec, logger *zap.Logger) *Client {
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = 5 * time.Second
	}
	if cfg.AssetTimeout <= 0 {
		cfg.AssetTimeout = 30 * time.Second
	}

	return &Client{
		cfg:        cfg,
		codec:      codec,
		httpClient: newAssetHTTPClient(cfg.AssetURL, cfg.H2C, cfg.AssetTimeout),
		dialer:     &websocket.Dialer{HandshakeTimeout: writeWait},
		dataCh:     make(chan channel.DataEvent, eventBufferSize),
		msgCh:      make(chan channel.MessageEvent, eventBufferSize),
		logger:     logger,
	}
}

// newAssetHTTPClient uses prior-knowledge h2c only for cleartext asset URLs.
// https URLs keep the default transport, which negotiates HTTP/2 over TLS.
func newAssetHTTPClient(assetURL string, h2c bool, timeout time.Duration) *http.Client {
	if !h2c || !isCleartext(assetURL) {
		return &http.Client{Timeout: timeout}
	}
	transport := &http2.Transport{
		AllowHTTP: true,
		DialTLSContext: func(ctx context.Context, network, addr string, _ *tls.Config) (net.Conn, error) {
			var d net.Dialer
			return d.DialContext(ctx, network, addr)
		},
	}
	return &http.Client{Transport: transport, Timeout: timeout}
}

func isCleartext(rawURL string) bool {
	u, err := url.Parse(rawURL)
	return err == nil && strings.EqualFold(u.Scheme, "http")
}

// Connect dials the hub and exchanges hello frames.
func (c *Client) Connect(ctx context.Context) error {
	if c.connected.Load() {
		return nil
	}

	conn, _, err := c.dialer.DialContext(ctx, c.cfg.URL, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", c.cfg.URL, err)
	}

	hubID, err := c.handshake(conn)
	if err != nil {
		_ = conn.Close()
		return err
	}

	c.mu.Lock()
	c.conn = conn
	c.send = make(chan []byte, sendBufferSize)
	c.closed = make(chan struct{})
	c.hubID = hubID
	send, closed := c.send, c.closed
	c.connected.Store(true)
	c.mu.Unlock()

	go c.writePump(conn, send)
	go c.readPump(conn, closed)

	c.logger.Info("connected to phone", zap.String("hub", string(hubID)), zap.String("url", c.cfg.URL))
	return nil
}

func (c *Client) handshake(conn *websocket.Conn) (channel.PeerID, error) {
	hello, err := c.codec.Encode(Frame{Kind: KindHello, Node: string(c.cfg.NodeID)})
	if err != nil {
		return "", err
	}
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteMessage(websocket.BinaryMessage, hello); err != nil {
		return "", fmt.Errorf("send hello: %w", err)
	}

	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(helloWait))
	_, raw, err := conn.ReadMessage()
	if err != nil {
		return "", fmt.Errorf("read hello: %w", err)
	}
	reply, err := c.codec.Decode(raw)
	if err != nil {
		return "", fmt.Errorf("decode hello: %w", err)
	}
	if reply.Kind != KindHello || reply.Node == "" {
		return "", fmt.Errorf("expected hello, got %q: %w", reply.Kind, channel.ErrInvalidPayload)
	}
	return channel.PeerID(reply.Node), nil
}

// Disconnect closes the current connection. Maintain will not redial after
// its context is done.
func (c *Client) Disconnect() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.disconnectLocked()
	return nil
}

func (c *Client) disconnectLocked() {
	if c.connected.Swap(false) {
		close(c.send)
	}
}

// IsConnected reports whether the hub connection is up.
func (c *Client) IsConnected() bool {
	return c.connected.Load()
}

// Maintain keeps the connection up until ctx is done, redialing with capped
// exponential backoff.
func (c *Client) Maintain(ctx context.Context) {
	delay := c.cfg.ReconnectDelay
	for {
		if err := c.Connect(ctx); err != nil {
			c.logger.Warn("connect failed", zap.Duration("retryIn", delay), zap.Error(err))
			select {
			case <-ctx.Done():
				return
			case <-time.After(delay):
			}
			delay = min(delay*2, maxReconnectDelay)
			continue
		}
		delay = c.cfg.ReconnectDelay

		c.mu.Lock()
		closed := c.closed
		c.mu.Unlock()

		select {
		case <-ctx.Done():
			_ = c.Disconnect()
			return
		case <-closed:
			c.logger.Info("connection to phone lost")
		}
	}
}

func (c *Client) readPump(conn *websocket.Conn, closed chan struct{}) {
	defer func() {
		c.mu.Lock()
		if c.conn == conn {
			c.disconnectLocked()
		}
		c.mu.Unlock()
		_ = conn.Close()
		close(closed)
	}()

	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	// The hub pings too; answering resets our own read deadline.
	conn.SetPingHandler(func(data string) error {
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		return conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(writeWait))
	})

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Debug("websocket read error", zap.Error(err))
			}
			return
		}
		c.handleFrame(raw)
	}
}

func (c *Client) writePump(conn *websocket.Conn, send chan []byte) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = conn.Close()
	}()

	for {
		select {
		case frame, ok := <-send:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := conn.WriteMessage(websocket.BinaryMessage, frame); err != nil {
				c.logger.Debug("websocket write error", zap.Error(err))
				return
			}

		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) handleFrame(raw []byte) {
	f, err := c.codec.Decode(raw)
	if err != nil {
		c.logger.Debug("failed to decode frame", zap.Error(err))
		return
	}

	switch f.Kind {
	case KindData:
		c.dataCh <- channel.DataEvent{Type: channel.EventChanged, Item: channel.DataItem{Path: f.Path, Fields: f.Fields}}
	case KindDelete:
		c.dataCh <- channel.DataEvent{Type: channel.EventDeleted, Item: channel.DataItem{Path: f.Path}}
	case KindMessage:
		select {
		case c.msgCh <- channel.MessageEvent{From: channel.PeerID(f.Node), Path: f.Path, Payload: f.Payload}:
		default:
			c.logger.Warn("message inbox full, dropping", zap.String("path", f.Path))
		}
	default:
		c.logger.Debug("unexpected frame", zap.String("kind", f.Kind))
	}
}

// ConnectedPeers returns the hub while connected.
func (c *Client) ConnectedPeers(context.Context) ([]channel.PeerID, error) {
	if !c.IsConnected() {
		return nil, channel.ErrNotConnected
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return []channel.PeerID{c.hubID}, nil
}

// SendMessage queues a message frame for the hub, the client's only peer.
func (c *Client) SendMessage(ctx context.Context, peer channel.PeerID, path string, payload []byte) error {
	frame, err := c.codec.Encode(Frame{Kind: KindMessage, Node: string(c.cfg.NodeID), Path: path, Payload: payload})
	if err != nil {
		return &channel.SendError{Peer: peer, Err: err}
	}
	return c.enqueue(ctx, peer, frame)
}

// PublishDataItem sends the item to the hub, which surfaces it on its own
// data events.
func (c *Client) PublishDataItem(ctx context.Context, path string, fields map[string]any) error {
	frame, err := c.codec.Encode(Frame{Kind: KindData, Path: path, Fields: fields})
	if err != nil {
		return err
	}
	c.mu.Lock()
	hub := c.hubID
	c.mu.Unlock()
	if err := c.enqueue(ctx, hub, frame); err != nil {
		var sendErr *channel.SendError
		if errors.As(err, &sendErr) {
			return sendErr.Err
		}
		return err
	}
	return nil
}

func (c *Client) enqueue(ctx context.Context, peer channel.PeerID, frame []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.connected.Load() {
		return channel.ErrNotConnected
	}
	if peer != c.hubID {
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

func (c *Client) DataEvents() <-chan channel.DataEvent {
	return c.dataCh
}

func (c *Client) Messages() <-chan channel.MessageEvent {
	return c.msgCh
}

// CreateAsset keeps data locally; the hub cannot fetch watch assets.
func (c *Client) CreateAsset(data []byte) (channel.Asset, error) {
	if len(data) == 0 {
		return channel.Asset{}, fmt.Errorf("creating asset: %w", channel.ErrInvalidPayload)
	}
	asset := channel.DigestOf(data)
	c.assets.Store(asset.Digest, append([]byte(nil), data...))
	return asset, nil
}

// ResolveAsset downloads the asset from the hub and checks its digest.
func (c *Client) ResolveAsset(ctx context.Context, asset channel.Asset) ([]byte, error) {
	if data, ok := c.assets.Load(asset.Digest); ok {
		return append([]byte(nil), data.([]byte)...), nil
	}
	if !c.IsConnected() {
		return nil, channel.ErrNotConnected
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.AssetURL+"/"+asset.Digest, nil)
	if err != nil {
		return nil, fmt.Errorf("creating asset request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching asset %s: %w", asset.Digest, err)
	}
	defer func() { _ = resp.Body.Close() }()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return nil, fmt.Errorf("resolving %s: %w", asset.Digest, channel.ErrAssetNotFound)
	default:
		return nil, fmt.Errorf("fetching asset %s: unexpected status %d", asset.Digest, resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxAssetSize+1))
	if err != nil {
		return nil, fmt.Errorf("reading asset %s: %w", asset.Digest, err)
	}
	if len(data) > maxAssetSize {
		return nil, fmt.Errorf("asset %s exceeds %d bytes: %w", asset.Digest, maxAssetSize, channel.ErrInvalidPayload)
	}
	if channel.DigestOf(data) != asset {
		return nil, fmt.Errorf("asset %s digest mismatch: %w", asset.Digest, channel.ErrInvalidPayload)
	}
	return data, nil
}
