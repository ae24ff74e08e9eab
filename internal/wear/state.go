// Package wear implements the watch side of the weather sync: the request
// throttle, the sync-request dispatcher, the data reconciler and the tick engine.
package wear

import (
	"image"
	"sync"
	"time"
)

// State holds everything the watch face needs to render weather.
//
// Weather fields are written only by the Reconciler and the request timestamp
// only by the Dispatcher; each group has its own lock so a render never sees a
// torn update.
type State struct {
	weatherMu sync.RWMutex
	highTemp  string
	lowTemp   string
	icon      image.Image
	grayIcon  image.Image

	requestMu   sync.Mutex
	lastRequest time.Time
}

// Snapshot is a point-in-time copy of State.
type Snapshot struct {
	HighTemp    string
	LowTemp     string
	Icon        image.Image
	GrayIcon    image.Image
	LastRequest time.Time // zero when no request was ever made
}

// NewState returns an empty State.
func NewState() *State {
	return &State{}
}

// Snapshot copies the current state.
func (s *State) Snapshot() Snapshot {
	s.weatherMu.RLock()
	snap := Snapshot{
		HighTemp: s.highTemp,
		LowTemp:  s.lowTemp,
		Icon:     s.icon,
		GrayIcon: s.grayIcon,
	}
	s.weatherMu.RUnlock()

	snap.LastRequest = s.LastRequest()
	return snap
}

// SetTemperatures replaces both temperature strings.
func (s *State) SetTemperatures(high, low string) {
	s.weatherMu.Lock()
	defer s.weatherMu.Unlock()
	s.highTemp = high
	s.lowTemp = low
}

// SetIcons stores the color icon and its grayscale variant together.
func (s *State) SetIcons(icon, gray image.Image) {
	s.weatherMu.Lock()
	defer s.weatherMu.Unlock()
	s.icon = icon
	s.grayIcon = gray
}

// LastRequest returns when a sync request was last dispatched.
func (s *State) LastRequest() time.Time {
	s.requestMu.Lock()
	defer s.requestMu.Unlock()
	return s.lastRequest
}

// MarkRequested records a sync request at now unconditionally.
func (s *State) MarkRequested(now time.Time) {
	s.requestMu.Lock()
	defer s.requestMu.Unlock()
	s.lastRequest = now
}

// ClaimRequest records a request at now only if the previous one is older
// than gap. Concurrent callers inside the same window get exactly one true.
func (s *State) ClaimRequest(now time.Time, gap time.Duration) bool {
	s.requestMu.Lock()
	defer s.requestMu.Unlock()

	if !windowElapsed(s.lastRequest, now, gap) {
		return false
	}
	s.lastRequest = now
	return true
}
