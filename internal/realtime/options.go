package realtime

import "time"

const (
	DefaultHeartbeatInterval = 30 * time.Second
	DefaultMaxMissed         = 3
	DefaultSendBuffer        = 256
)

// Option configures a Hub.
type Option func(*Hub)

// WithHeartbeatInterval sets the expected client heartbeat cadence. The
// janitor runs on the same interval.
func WithHeartbeatInterval(d time.Duration) Option {
	return func(h *Hub) {
		h.config.heartbeatInterval = d
	}
}

// WithMaxMissedHeartbeats sets how many intervals may pass without a frame
// before a connection is evicted. Zero disables eviction.
func WithMaxMissedHeartbeats(n int) Option {
	return func(h *Hub) {
		h.config.maxMissed = n
	}
}

// WithSendBuffer sets the per-connection outbound queue size. A connection
// whose queue is full is dropped.
func WithSendBuffer(size int) Option {
	return func(h *Hub) {
		h.config.sendBuffer = size
	}
}

// WithClock replaces time.Now, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(h *Hub) {
		h.now = now
	}
}
