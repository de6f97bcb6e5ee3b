// Package client keeps a single logical connection to the realtime bus
// alive: it authenticates, restores subscriptions, emits heartbeats and
// reconnects with bounded exponential backoff.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/instantchat/backend/internal/domain"
	"github.com/instantchat/backend/internal/realtime"
)

// ErrTerminal is reported once reconnect attempts are exhausted.
var ErrTerminal = errors.New("realtime: reconnect attempts exhausted")

// State of the supervisor.
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateConnected
	StateBackoff
	StateTerminal
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateBackoff:
		return "backoff"
	case StateTerminal:
		return "terminal"
	}
	return "unknown"
}

type Config struct {
	UserID            string
	ClientID          string
	ConnectTimeout    time.Duration
	HeartbeatInterval time.Duration
	BaseDelay         time.Duration
	MaxAttempts       int
}

func DefaultConfig() Config {
	return Config{
		ConnectTimeout:    10 * time.Second,
		HeartbeatInterval: 30 * time.Second,
		BaseDelay:         time.Second,
		MaxAttempts:       5,
	}
}

// Option configures a Supervisor.
type Option func(*Supervisor)

func WithLogger(logger *zap.Logger) Option {
	return func(s *Supervisor) { s.logger = logger }
}

func WithScheduler(sched Scheduler) Option {
	return func(s *Supervisor) { s.sched = sched }
}

// WithNotificationHandler receives every delivered notification.
func WithNotificationHandler(fn func(*domain.Notification)) Option {
	return func(s *Supervisor) { s.onNotification = fn }
}

// WithStateHandler observes state transitions. It is never called with
// the supervisor lock held.
func WithStateHandler(fn func(State)) Option {
	return func(s *Supervisor) { s.onState = fn }
}

// WithAuthHandler observes authentication results.
func WithAuthHandler(fn func(ok bool, reason string)) Option {
	return func(s *Supervisor) { s.onAuth = fn }
}

// Supervisor owns the connection lifecycle. At most one reconnect timer is
// pending at a time; every dial, timer and read loop is tagged with the
// generation that started it and ignored once the generation moves on.
type Supervisor struct {
	cfg    Config
	dialer Dialer
	token  func() string
	sched  Scheduler
	logger *zap.Logger

	onNotification func(*domain.Notification)
	onState        func(State)
	onAuth         func(bool, string)

	mu            sync.Mutex
	state         State
	attempt       int
	gen           uint64
	timer         Timer
	conn          Conn
	stopHeartbeat chan struct{}
	authed        bool
	subs          map[string]struct{}
	lastErr       error
	pending       []State
}

func NewSupervisor(dialer Dialer, token func() string, cfg Config, opts ...Option) *Supervisor {
	def := DefaultConfig()
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = def.ConnectTimeout
	}
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = def.HeartbeatInterval
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = def.BaseDelay
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}

	s := &Supervisor{
		cfg:    cfg,
		dialer: dialer,
		token:  token,
		sched:  realScheduler{},
		logger: zap.NewNop(),
		state:  StateIdle,
		subs:   make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Connect starts a connection attempt. It is a no-op while connected or
// while an attempt is in flight. A pending backoff is cut short, and a
// terminal supervisor starts over with a fresh attempt budget.
func (s *Supervisor) Connect() {
	s.mu.Lock()
	defer s.unlock()

	switch s.state {
	case StateConnecting, StateConnected:
		return
	case StateBackoff:
		s.stopTimerLocked()
	case StateIdle, StateTerminal:
		s.attempt = 0
	}
	s.dialLocked()
}

// Disconnect tears the connection down and suppresses any pending or
// future reconnect until Connect is called again.
func (s *Supervisor) Disconnect() {
	s.mu.Lock()
	s.attempt = s.cfg.MaxAttempts
	s.gen++
	s.stopTimerLocked()
	conn := s.dropConnLocked()
	s.setStateLocked(StateIdle)
	s.unlock()

	if conn != nil {
		conn.Close()
	}
}

// Subscribe remembers the topics and sends them now if authenticated.
// Remembered topics are re-sent after every successful authentication.
func (s *Supervisor) Subscribe(topics ...string) {
	s.mu.Lock()
	for _, t := range topics {
		s.subs[t] = struct{}{}
	}
	conn := s.authedConnLocked()
	s.unlock()

	if conn != nil {
		s.write(conn, realtime.EventSubscribe, realtime.SubscriptionPayload{EventTypes: topics})
	}
}

func (s *Supervisor) Unsubscribe(topics ...string) {
	s.mu.Lock()
	for _, t := range topics {
		delete(s.subs, t)
	}
	conn := s.authedConnLocked()
	s.unlock()

	if conn != nil {
		s.write(conn, realtime.EventUnsubscribe, realtime.SubscriptionPayload{EventTypes: topics})
	}
}

func (s *Supervisor) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Attempt is the number of consecutive failed attempts so far.
func (s *Supervisor) Attempt() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attempt
}

// Err returns ErrTerminal once retries are exhausted, otherwise the last
// transport error seen.
func (s *Supervisor) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateTerminal {
		return ErrTerminal
	}
	return s.lastErr
}

func (s *Supervisor) Subscriptions() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.subscriptionsLocked()
}

// Run connects and blocks until ctx is done, then disconnects.
func (s *Supervisor) Run(ctx context.Context) {
	s.Connect()
	<-ctx.Done()
	s.Disconnect()
}

func (s *Supervisor) dialLocked() {
	s.gen++
	gen := s.gen
	s.setStateLocked(StateConnecting)
	go s.dial(gen)
}

func (s *Supervisor) dial(gen uint64) {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.ConnectTimeout)
	defer cancel()

	conn, err := s.dialer.Dial(ctx)

	s.mu.Lock()
	if gen != s.gen || s.state != StateConnecting {
		s.unlock()
		if conn != nil {
			conn.Close()
		}
		return
	}
	if err != nil {
		s.lastErr = err
		s.logger.Warn("realtime connect failed", zap.Int("attempt", s.attempt+1), zap.Error(err))
		s.scheduleReconnectLocked()
		s.unlock()
		return
	}

	s.attempt = 0
	s.conn = conn
	s.authed = false
	stop := make(chan struct{})
	s.stopHeartbeat = stop
	s.setStateLocked(StateConnected)
	s.unlock()

	s.logger.Info("realtime connected")
	s.write(conn, realtime.EventAuthenticate, realtime.AuthenticatePayload{
		Token:     s.token(),
		UserID:    s.cfg.UserID,
		Timestamp: time.Now().UnixMilli(),
	})
	go s.heartbeat(conn, stop)
	s.readLoop(gen, conn)
}

// scheduleReconnectLocked waits BaseDelay*2^(attempt-1) before the next
// dial, or goes terminal when the budget is spent.
func (s *Supervisor) scheduleReconnectLocked() {
	s.attempt++
	if s.attempt > s.cfg.MaxAttempts {
		s.logger.Error("realtime giving up", zap.Int("attempts", s.attempt-1), zap.Error(s.lastErr))
		s.setStateLocked(StateTerminal)
		return
	}

	delay := s.cfg.BaseDelay * time.Duration(1<<(s.attempt-1))
	gen := s.gen
	s.stopTimerLocked()
	s.setStateLocked(StateBackoff)
	s.timer = s.sched.AfterFunc(delay, func() { s.backoffElapsed(gen) })
	s.logger.Info("realtime reconnect scheduled", zap.Int("attempt", s.attempt), zap.Duration("delay", delay))
}

func (s *Supervisor) backoffElapsed(gen uint64) {
	s.mu.Lock()
	defer s.unlock()
	if gen != s.gen || s.state != StateBackoff {
		return
	}
	s.timer = nil
	s.dialLocked()
}

func (s *Supervisor) readLoop(gen uint64, conn Conn) {
	for {
		frame, err := conn.ReadMessage()
		if err != nil {
			s.connectionLost(gen, conn, err)
			return
		}
		s.dispatch(gen, conn, frame)
	}
}

// connectionLost reconnects at once when the server closed the socket
// deliberately and backs off for any other transport failure.
func (s *Supervisor) connectionLost(gen uint64, conn Conn, err error) {
	s.mu.Lock()
	if gen != s.gen {
		s.unlock()
		return
	}
	s.dropConnLocked()
	s.lastErr = err
	if errors.Is(err, ErrServerClosed) {
		s.logger.Info("realtime closed by server, reconnecting", zap.Error(err))
		s.dialLocked()
	} else {
		s.logger.Warn("realtime connection lost", zap.Error(err))
		s.scheduleReconnectLocked()
	}
	s.unlock()

	conn.Close()
}

func (s *Supervisor) dispatch(gen uint64, conn Conn, frame []byte) {
	msg, err := realtime.Decode(frame)
	if err != nil {
		s.logger.Warn("realtime dropped malformed frame", zap.Error(err))
		return
	}

	switch msg.Event {
	case realtime.EventAuthSuccess:
		s.mu.Lock()
		var topics []string
		if gen == s.gen {
			s.authed = true
			topics = s.subscriptionsLocked()
		}
		s.unlock()
		if len(topics) > 0 {
			s.write(conn, realtime.EventSubscribe, realtime.SubscriptionPayload{EventTypes: topics})
		}
		if s.onAuth != nil {
			s.onAuth(true, "")
		}

	case realtime.EventAuthFailed:
		var p realtime.ErrorPayload
		json.Unmarshal(msg.Data, &p)
		s.logger.Warn("realtime authentication failed", zap.String("reason", p.Error))
		if s.onAuth != nil {
			s.onAuth(false, p.Error)
		}

	case realtime.EventSubscriptionConfirmed:
		var p realtime.SubscriptionPayload
		json.Unmarshal(msg.Data, &p)
		s.logger.Debug("realtime subscriptions confirmed", zap.Strings("event_types", p.EventTypes))

	case realtime.EventWebhookEvent, realtime.EventNotification:
		var n domain.Notification
		if err := json.Unmarshal(msg.Data, &n); err != nil {
			s.logger.Warn("realtime dropped malformed notification", zap.Error(err))
			return
		}
		if s.onNotification != nil {
			s.onNotification(&n)
		}

	case realtime.EventHeartbeatResponse:
		s.logger.Debug("realtime heartbeat acknowledged")

	case realtime.EventError:
		var p realtime.ErrorPayload
		json.Unmarshal(msg.Data, &p)
		s.logger.Warn("realtime server error", zap.String("error", p.Error))
	}
}

func (s *Supervisor) heartbeat(conn Conn, stop <-chan struct{}) {
	ticker := time.NewTicker(s.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case t := <-ticker.C:
			s.write(conn, realtime.EventHeartbeat, realtime.HeartbeatPayload{
				Timestamp: t.UnixMilli(),
				ClientID:  s.cfg.ClientID,
			})
		}
	}
}

func (s *Supervisor) write(conn Conn, event string, data any) {
	frame, err := realtime.Encode(event, data)
	if err != nil {
		s.logger.Error("realtime encode failed", zap.String("event", event), zap.Error(err))
		return
	}
	if err := conn.WriteMessage(frame); err != nil {
		s.logger.Debug("realtime write failed", zap.String("event", event), zap.Error(err))
	}
}

func (s *Supervisor) authedConnLocked() Conn {
	if s.state != StateConnected || !s.authed {
		return nil
	}
	return s.conn
}

// dropConnLocked detaches the current connection and stops its heartbeat.
// The caller closes the returned conn outside the lock.
func (s *Supervisor) dropConnLocked() Conn {
	if s.stopHeartbeat != nil {
		close(s.stopHeartbeat)
		s.stopHeartbeat = nil
	}
	conn := s.conn
	s.conn = nil
	s.authed = false
	return conn
}

func (s *Supervisor) stopTimerLocked() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

func (s *Supervisor) subscriptionsLocked() []string {
	out := make([]string, 0, len(s.subs))
	for t := range s.subs {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

func (s *Supervisor) setStateLocked(st State) {
	if s.state == st {
		return
	}
	s.state = st
	s.pending = append(s.pending, st)
}

// unlock releases the lock and then reports queued state transitions.
func (s *Supervisor) unlock() {
	pending := s.pending
	s.pending = nil
	s.mu.Unlock()

	if s.onState == nil {
		return
	}
	for _, st := range pending {
		s.onState(st)
	}
}
