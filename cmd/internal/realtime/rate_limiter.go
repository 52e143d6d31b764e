package realtime

import "time"

// frameLimiter caps inbound frames per connection over a sliding window.
//
// It remembers the arrival time of the last limit frames in a ring. A frame is
// admitted when the oldest remembered arrival has left the window. Only the
// connection's read loop touches it, so it carries no lock.
type frameLimiter struct {
	ring   []time.Time
	next   int
	window time.Duration
}

func newFrameLimiter(limit int, window time.Duration) *frameLimiter {
	if limit <= 0 {
		limit = rateLimitEvents
	}
	if window <= 0 {
		window = rateLimitWindow
	}
	return &frameLimiter{ring: make([]time.Time, limit), window: window}
}

// Allow reports whether a frame arriving at now is admitted, and records it if so.
func (l *frameLimiter) Allow(now time.Time) bool {
	oldest := l.ring[l.next]
	if !oldest.IsZero() && now.Sub(oldest) < l.window {
		return false
	}
	l.ring[l.next] = now
	l.next = (l.next + 1) % len(l.ring)
	return true
}
