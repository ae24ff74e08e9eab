// Package transport carries the channel abstraction over WebSocket: the phone
// runs a Hub that watches dial with a Client.
package transport

import (
	"encoding/base64"
	"fmt"

	"github.com/klauspost/compress/zstd"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/dgnsrekt/sunshine-watchsync/internal/channel"
)

// Frame kinds.
const (
	KindHello   = "hello"
	KindMessage = "message"
	KindData    = "data"
	KindDelete  = "delete"
)

const assetRefKey = "$asset"

// Frame is one WebSocket message between hub and client.
type Frame struct {
	Kind    string
	Node    string // sender node id on hello and message frames
	Path    string
	Payload []byte
	Fields  map[string]any
}

// Codec serializes frames as zstd-compressed protobuf Structs.
type Codec struct {
	enc *zstd.Encoder
	dec *zstd.Decoder
}

// NewCodec allocates the zstd encoder and decoder shared by all frames.
func NewCodec() (*Codec, error) {
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("create zstd encoder: %w", err)
	}
	dec, err := zstd.NewReader(nil, zstd.WithDecoderMaxMemory(maxMessageSize*8))
	if err != nil {
		_ = enc.Close()
		return nil, fmt.Errorf("create zstd decoder: %w", err)
	}
	return &Codec{enc: enc, dec: dec}, nil
}

// Close releases the encoder and decoder.
func (c *Codec) Close() {
	_ = c.enc.Close()
	c.dec.Close()
}

// Encode marshals f as a protobuf Struct and compresses it.
func (c *Codec) Encode(f Frame) ([]byte, error) {
	m := map[string]any{"kind": f.Kind}
	if f.Node != "" {
		m["node"] = f.Node
	}
	if f.Path != "" {
		m["path"] = f.Path
	}
	if len(f.Payload) > 0 {
		m["payload"] = base64.StdEncoding.EncodeToString(f.Payload)
	}
	if f.Fields != nil {
		m["fields"] = encodeFields(f.Fields)
	}

	s, err := structpb.NewStruct(m)
	if err != nil {
		return nil, fmt.Errorf("build %s frame: %w", f.Kind, err)
	}
	raw, err := proto.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("marshal %s frame: %w", f.Kind, err)
	}
	return c.enc.EncodeAll(raw, nil), nil
}

// Decode reverses Encode.
func (c *Codec) Decode(data []byte) (Frame, error) {
	raw, err := c.dec.DecodeAll(data, nil)
	if err != nil {
		return Frame{}, fmt.Errorf("decompress frame: %w", err)
	}

	var s structpb.Struct
	if err := proto.Unmarshal(raw, &s); err != nil {
		return Frame{}, fmt.Errorf("unmarshal frame: %w", err)
	}

	fields := s.GetFields()
	f := Frame{
		Kind: fields["kind"].GetStringValue(),
		Node: fields["node"].GetStringValue(),
		Path: fields["path"].GetStringValue(),
	}
	switch f.Kind {
	case KindHello, KindMessage, KindData, KindDelete:
	default:
		return Frame{}, fmt.Errorf("frame kind %q: %w", f.Kind, channel.ErrInvalidPayload)
	}

	if p := fields["payload"].GetStringValue(); p != "" {
		if f.Payload, err = base64.StdEncoding.DecodeString(p); err != nil {
			return Frame{}, fmt.Errorf("frame payload: %w", err)
		}
	}
	if st := fields["fields"].GetStructValue(); st != nil {
		f.Fields = decodeFields(st.AsMap())
	}
	return f, nil
}

func encodeFields(fields map[string]any) map[string]any {
	out := make(map[string]any, len(fields))
	for k, v := range fields {
		switch a := v.(type) {
		case channel.Asset:
			out[k] = map[string]any{assetRefKey: a.Digest}
		case *channel.Asset:
			if a != nil {
				out[k] = map[string]any{assetRefKey: a.Digest}
			}
		default:
			out[k] = v
		}
	}
	return out
}

func decodeFields(fields map[string]any) map[string]any {
	for k, v := range fields {
		ref, ok := v.(map[string]any)
		if !ok || len(ref) != 1 {
			continue
		}
		if digest, ok := ref[assetRefKey].(string); ok {
			fields[k] = channel.Asset{Digest: digest}
		}
	}
	return fields
}
