package wear

import "time"

// DefaultSyncRequestGap bounds request storms from a once-per-second render tick.
const DefaultSyncRequestGap = 60 * time.Second

// Throttle decides whether the watch should ask the phone for data.
type Throttle struct {
	Gap time.Duration

	// IconRequired is false on displays that never draw the icon; a loaded
	// icon then does not count as render-critical data.
	IconRequired bool
}

// NewThrottle returns a Throttle; a non-positive gap falls back to
// DefaultSyncRequestGap.
func NewThrottle(gap time.Duration, iconRequired bool) Throttle {
	if gap <= 0 {
		gap = DefaultSyncRequestGap
	}
	return Throttle{Gap: gap, IconRequired: iconRequired}
}

// MissingData reports whether any render-critical field is still empty.
// Either icon variant satisfies the icon requirement.
func (t Throttle) MissingData(s Snapshot) bool {
	return s.HighTemp == "" ||
		s.LowTemp == "" ||
		(t.IconRequired && s.Icon == nil && s.GrayIcon == nil)
}

// ShouldRequestSync is true when data is missing, the channel is up and the
// previous request is more than Gap old.
func (t Throttle) ShouldRequestSync(s Snapshot, now time.Time, connected bool) bool {
	if !connected {
		return false
	}
	if !t.MissingData(s) {
		return false
	}
	return windowElapsed(s.LastRequest, now, t.Gap)
}

func windowElapsed(last, now time.Time, gap time.Duration) bool {
	if last.IsZero() {
		return true
	}
	return now.Sub(last) > gap
}
