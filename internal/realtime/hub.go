// Package realtime implements the server side of the notification bus:
// authenticated websocket sessions with per-connection event type
// subscriptions.
package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/instantchat/backend/internal/domain"
)

var errUserMismatch = errors.New("token does not belong to user")

// TokenVerifier resolves a bearer token to a user id.
type TokenVerifier interface {
	VerifyToken(token string) (string, error)
}

type hubConfig struct {
	heartbeatInterval time.Duration
	maxMissed         int
	sendBuffer        int
}

type Hub struct {
	mu    sync.RWMutex
	conns map[uuid.UUID]*Connection

	// pubMu serializes Publish so every connection sees events in the
	// same order they were published.
	pubMu sync.Mutex

	verifier TokenVerifier
	logger   *zap.Logger
	config   hubConfig
	now      func() time.Time
}

func NewHub(verifier TokenVerifier, logger *zap.Logger, opts ...Option) *Hub {
	h := &Hub{
		conns:    make(map[uuid.UUID]*Connection),
		verifier: verifier,
		logger:   logger,
		config: hubConfig{
			heartbeatInterval: DefaultHeartbeatInterval,
			maxMissed:         DefaultMaxMissed,
			sendBuffer:        DefaultSendBuffer,
		},
		now: time.Now,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Connect creates and registers a new unauthenticated connection.
func (h *Hub) Connect() *Connection {
	c := NewConnection(h.config.sendBuffer, h.now())
	h.mu.Lock()
	h.conns[c.ID()] = c
	h.mu.Unlock()
	h.logger.Debug("connection registered", zap.String("conn_id", c.ID().String()))
	return c
}

// Disconnect removes the connection and discards its subscriptions.
func (h *Hub) Disconnect(c *Connection) {
	h.mu.Lock()
	_, ok := h.conns[c.ID()]
	delete(h.conns, c.ID())
	h.mu.Unlock()

	c.close()
	if ok {
		h.logger.Debug("connection unregistered",
			zap.String("conn_id", c.ID().String()),
			zap.String("user_id", c.UserID()),
		)
	}
}

// HandleFrame processes one inbound frame from c. Every frame counts as
// proof of liveness.
func (h *Hub) HandleFrame(c *Connection, frame []byte) {
	c.touch(h.now())

	msg, err := Decode(frame)
	if err != nil {
		h.send(c, EventError, ErrorPayload{Error: "malformed message"})
		return
	}

	switch msg.Event {
	case EventAuthenticate:
		var p AuthenticatePayload
		if err := json.Unmarshal(msg.Data, &p); err != nil {
			h.send(c, EventAuthFailed, ErrorPayload{Error: "malformed authenticate payload"})
			return
		}
		h.authenticate(c, p)

	case EventSubscribe, EventUnsubscribe:
		if c.State() != StateAuthenticated {
			h.send(c, EventError, ErrorPayload{Error: "not authenticated"})
			return
		}
		var p SubscriptionPayload
		if err := json.Unmarshal(msg.Data, &p); err != nil {
			h.send(c, EventError, ErrorPayload{Error: "malformed subscription payload"})
			return
		}
		if msg.Event == EventSubscribe {
			c.subscribe(p.EventTypes)
		} else {
			c.unsubscribe(p.EventTypes)
		}
		h.send(c, EventSubscriptionConfirmed, SubscriptionPayload{EventTypes: c.Subscriptions()})

	case EventHeartbeat:
		h.send(c, EventHeartbeatResponse, HeartbeatPayload{Timestamp: h.now().UnixMilli()})

	default:
		h.send(c, EventError, ErrorPayload{Error: "unknown event " + msg.Event})
	}
}

// authenticate never closes the connection on failure; the client may
// retry with another token.
func (h *Hub) authenticate(c *Connection, p AuthenticatePayload) {
	userID, err := h.verifier.VerifyToken(p.Token)
	if err == nil && p.UserID != "" && p.UserID != userID {
		err = errUserMismatch
	}
	if err != nil {
		h.logger.Info("websocket authentication failed",
			zap.String("conn_id", c.ID().String()),
			zap.Error(err),
		)
		h.send(c, EventAuthFailed, ErrorPayload{Error: err.Error()})
		return
	}

	c.authenticate(userID)
	h.send(c, EventAuthSuccess, AuthSuccessPayload{User: AuthUser{ID: userID}})
}

// Publish queues n for every authenticated connection subscribed to its
// event type and returns how many connections it reached. Connections
// that cannot keep up are dropped.
func (h *Hub) Publish(n *domain.Notification) int {
	event := EventWebhookEvent
	if n.EventType == domain.EventFlowExecution {
		event = EventNotification
	}
	frame, err := Encode(event, n)
	if err != nil {
		h.logger.Error("failed to encode notification", zap.String("id", n.ID), zap.Error(err))
		return 0
	}

	h.pubMu.Lock()
	defer h.pubMu.Unlock()

	var delivered int
	var slow []*Connection
	for _, c := range h.snapshot() {
		if !c.wants(n.EventType) {
			continue
		}
		if c.enqueue(frame) {
			delivered++
		} else {
			slow = append(slow, c)
		}
	}

	for _, c := range slow {
		h.logger.Warn("dropping slow connection",
			zap.String("conn_id", c.ID().String()),
			zap.String("user_id", c.UserID()),
		)
		h.Disconnect(c)
	}
	return delivered
}

// Run evicts connections that stopped sending frames until ctx is done,
// then disconnects everyone.
func (h *Hub) Run(ctx context.Context) error {
	ticker := time.NewTicker(h.config.heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			for _, c := range h.snapshot() {
				h.Disconnect(c)
			}
			return nil
		case <-ticker.C:
			h.EvictIdle()
		}
	}
}

// EvictIdle disconnects connections silent for longer than the allowed
// number of heartbeat intervals and returns how many were removed.
func (h *Hub) EvictIdle() int {
	if h.config.maxMissed <= 0 {
		return 0
	}
	cutoff := h.now().Add(-time.Duration(h.config.maxMissed) * h.config.heartbeatInterval)

	var evicted int
	for _, c := range h.snapshot() {
		if c.LastHeartbeat().Before(cutoff) {
			h.logger.Info("evicting idle connection",
				zap.String("conn_id", c.ID().String()),
				zap.Time("last_heartbeat", c.LastHeartbeat()),
			)
			h.Disconnect(c)
			evicted++
		}
	}
	return evicted
}

// Stats describes the live connections.
type Stats struct {
	Connections   int `json:"connections"`
	Authenticated int `json:"authenticated"`
}

func (h *Hub) Stats() Stats {
	var s Stats
	for _, c := range h.snapshot() {
		s.Connections++
		if c.State() == StateAuthenticated {
			s.Authenticated++
		}
	}
	return s
}

func (h *Hub) snapshot() []*Connection {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]*Connection, 0, len(h.conns))
	for _, c := range h.conns {
		out = append(out, c)
	}
	return out
}

func (h *Hub) send(c *Connection, event string, data any) {
	frame, err := Encode(event, data)
	if err != nil {
		h.logger.Error("failed to encode frame", zap.String("event", event), zap.Error(err))
		return
	}
	if !c.enqueue(frame) {
		h.logger.Debug("frame dropped", zap.String("conn_id", c.ID().String()), zap.String("event", event))
	}
}
