package realtime

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/instantchat/backend/internal/domain"
)

// State of a connection on the bus.
type State int

const (
	StateConnected State = iota
	StateAuthenticated
	StateDisconnected
)

func (s State) String() string {
	switch s {
	case StateConnected:
		return "connected"
	case StateAuthenticated:
		return "authenticated"
	case StateDisconnected:
		return "disconnected"
	}
	return "unknown"
}

// Connection is one client socket's session. An empty subscription set
// means the connection receives every event type.
type Connection struct {
	id   uuid.UUID
	send chan []byte
	done chan struct{}

	mu            sync.RWMutex
	state         State
	userID        string
	subs          map[string]struct{}
	lastHeartbeat time.Time
	closeOnce     sync.Once
}

func NewConnection(buffer int, now time.Time) *Connection {
	return &Connection{
		id:            uuid.New(),
		send:          make(chan []byte, buffer),
		done:          make(chan struct{}),
		state:         StateConnected,
		subs:          make(map[string]struct{}),
		lastHeartbeat: now,
	}
}

func (c *Connection) ID() uuid.UUID {
	return c.id
}

func (c *Connection) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

func (c *Connection) UserID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.userID
}

func (c *Connection) authenticate(userID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateDisconnected {
		return
	}
	c.state = StateAuthenticated
	c.userID = userID
}

func (c *Connection) subscribe(topics []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, t := range topics {
		if t = domain.CanonicalTopic(t); t != "" {
			c.subs[t] = struct{}{}
		}
	}
}

func (c *Connection) unsubscribe(topics []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, t := range topics {
		delete(c.subs, domain.CanonicalTopic(t))
	}
}

// Subscriptions returns the current set sorted.
func (c *Connection) Subscriptions() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, 0, len(c.subs))
	for t := range c.subs {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// wants reports whether an authenticated connection should get eventType.
func (c *Connection) wants(eventType domain.EventType) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.state != StateAuthenticated {
		return false
	}
	if len(c.subs) == 0 {
		return true
	}
	_, ok := c.subs[string(eventType)]
	return ok
}

func (c *Connection) touch(t time.Time) {
	c.mu.Lock()
	c.lastHeartbeat = t
	c.mu.Unlock()
}

func (c *Connection) LastHeartbeat() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastHeartbeat
}

// enqueue never blocks; false means the buffer is full or the connection
// is gone.
func (c *Connection) enqueue(frame []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- frame:
		return true
	default:
		return false
	}
}

// Outbound yields frames in the order they were queued.
func (c *Connection) Outbound() <-chan []byte {
	return c.send
}

// Done is closed once the connection is shut down.
func (c *Connection) Done() <-chan struct{} {
	return c.done
}

func (c *Connection) close() {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.state = StateDisconnected
		c.mu.Unlock()
		close(c.done)
	})
}
