package channel

import (
	"errors"
	"fmt"
)

var (
	ErrNotConnected   = errors.New("channel not connected")
	ErrPeerUnknown    = errors.New("peer not connected")
	ErrPeerBusy       = errors.New("peer inbox full")
	ErrAssetNotFound  = errors.New("asset not found")
	ErrChannelClosed  = errors.New("channel closed")
	ErrInvalidPayload = errors.New("invalid payload")
)

// SendError reports a failed send to a single peer.
type SendError struct {
	Peer PeerID
	Err  error
}

func (e *SendError) Error() string {
	return fmt.Sprintf("send to %s: %v", e.Peer, e.Err)
}

func (e *SendError) Unwrap() error {
	return e.Err
}
