// Package channel defines the device-to-device channel used by the phone and the watch.
//
// A Channel carries two kinds of traffic between named peers: fire-and-forget
// point-to-point messages, and last-write-wins data items that one side publishes
// and the other side observes as change events.
package channel

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
)

// PeerID identifies a connected counterpart device.
type PeerID string

// EventType distinguishes data item changes from deletions.
type EventType int

const (
	EventChanged EventType = iota + 1
	EventDeleted
)

func (t EventType) String() string {
	switch t {
	case EventChanged:
		return "changed"
	case EventDeleted:
		return "deleted"
	default:
		return "unknown"
	}
}

// Asset references a binary blob attached to a data item field.
// Assets are content addressed; the digest is the hex SHA-256 of the blob.
type Asset struct {
	Digest string
}

// DigestOf returns the asset reference for data.
func DigestOf(data []byte) Asset {
	sum := sha256.Sum256(data)
	return Asset{Digest: hex.EncodeToString(sum[:])}
}

// DataItem is a keyed set of fields published at a path.
// Field values are strings, float64, int64, bool or Asset.
type DataItem struct {
	Path   string
	Fields map[string]any
}

// DataEvent is delivered to subscribers whenever a data item changes.
// It always carries the full field snapshot.
type DataEvent struct {
	Type EventType
	Item DataItem
}

// MessageEvent is an inbound point-to-point message.
type MessageEvent struct {
	From    PeerID
	Path    string
	Payload []byte
}

// Channel is the transport shared by both device roles.
//
// Calls are at-most-once; the channel never retries on its own. Sends and
// publishes never wait on a slow peer: a full peer buffer drops the event or
// fails the send with ErrPeerBusy.
type Channel interface {
	Connect(ctx context.Context) error
	Disconnect() error
	IsConnected() bool

	// ConnectedPeers lists currently reachable peers. The list may contain
	// duplicates; callers that fan out must deduplicate.
	ConnectedPeers(ctx context.Context) ([]PeerID, error)

	SendMessage(ctx context.Context, peer PeerID, path string, payload []byte) error

	// PublishDataItem replaces the item at path.
	PublishDataItem(ctx context.Context, path string, fields map[string]any) error

	DataEvents() <-chan DataEvent
	Messages() <-chan MessageEvent

	CreateAsset(data []byte) (Asset, error)
	ResolveAsset(ctx context.Context, asset Asset) ([]byte, error)
}

// CloneFields returns a shallow copy of fields so snapshots never alias publisher maps.
func CloneFields(fields map[string]any) map[string]any {
	out := make(map[string]any, len(fields))
	for k, v := range fields {
		out[k] = v
	}
	return out
}
