// Package phone implements the producer side: it answers sync requests from
// the watch and publishes today's weather as a data item.
package phone

import (
	"context"
	gosync "sync"
)

// Marker is the last weather the phone published to the watch face.
type Marker struct {
	HighTemp  string
	LowTemp   string
	WeatherID int
}

// ClearedMarker never equals a real forecast, so the next publish always goes out.
var ClearedMarker = Marker{HighTemp: "", LowTemp: "", WeatherID: -1}

// MarkerStore persists the Marker. Clear must reset all three fields atomically.
type MarkerStore interface {
	Load(ctx context.Context) (Marker, error)
	Save(ctx context.Context, m Marker) error
	Clear(ctx context.Context) error
}

// MemoryMarkerStore keeps the marker in process memory.
type MemoryMarkerStore struct {
	mu     gosync.Mutex
	marker Marker
}

var _ MarkerStore = (*MemoryMarkerStore)(nil)

// NewMemoryMarkerStore returns a store holding ClearedMarker.
func NewMemoryMarkerStore() *MemoryMarkerStore {
	return &MemoryMarkerStore{marker: ClearedMarker}
}

func (s *MemoryMarkerStore) Load(context.Context) (Marker, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.marker, nil
}

func (s *MemoryMarkerStore) Save(_ context.Context, m Marker) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.marker = m
	return nil
}

func (s *MemoryMarkerStore) Clear(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.marker = ClearedMarker
	return nil
}
