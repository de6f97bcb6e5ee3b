package domain

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/instantchat/backend/internal/idgen"
)

// Publisher fans a notification out to realtime subscribers and returns
// the number of connections it was queued for.
type Publisher interface {
	Publish(n *Notification) int
}

// PushSender delivers a best-effort mobile push for a notification.
type PushSender interface {
	SendToTopic(ctx context.Context, topic, title, body string, data map[string]string) error
}

// Deduper reports whether an id was already processed recently.
type Deduper interface {
	SeenBefore(id string) bool
}

// IngestResult describes what happened to one raw event.
type IngestResult struct {
	Notification *Notification
	Duplicate    bool
	Persisted    bool
	Delivered    int
}

type NotificationService struct {
	repo       NotificationRepository
	normalizer *Normalizer
	bus        Publisher
	push       PushSender
	dedup      Deduper
	logger     *zap.Logger
	now        func() time.Time
}

// ServiceOption customizes a NotificationService.
type ServiceOption func(*NotificationService)

func WithPushSender(push PushSender) ServiceOption {
	return func(s *NotificationService) { s.push = push }
}

func WithDeduper(d Deduper) ServiceOption {
	return func(s *NotificationService) { s.dedup = d }
}

func WithNormalizer(n *Normalizer) ServiceOption {
	return func(s *NotificationService) { s.normalizer = n }
}

func NewNotificationService(repo NotificationRepository, bus Publisher, logger *zap.Logger, opts ...ServiceOption) *NotificationService {
	s := &NotificationService{
		repo:       repo,
		normalizer: NewNormalizer(),
		bus:        bus,
		logger:     logger,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Ingest normalizes a raw event, persists it and broadcasts it. Persistence
// failures are logged and never block the broadcast.
func (s *NotificationService) Ingest(ctx context.Context, ev RawEvent) IngestResult {
	n := s.normalizer.Normalize(ev)
	if n.EventType == EventWebhookError {
		s.logger.Warn("unclassifiable webhook payload retained",
			zap.String("id", n.ID),
			zap.String("kind", ev.Kind.String()),
		)
	}
	return s.Deliver(ctx, n)
}

// Deliver persists and broadcasts an already normalized notification.
func (s *NotificationService) Deliver(ctx context.Context, n *Notification) IngestResult {
	res := IngestResult{Notification: n}

	if s.dedup != nil && s.dedup.SeenBefore(n.ID) {
		s.logger.Debug("duplicate event suppressed", zap.String("id", n.ID))
		res.Duplicate = true
		return res
	}

	created, err := s.repo.UpsertNotification(ctx, n)
	if err != nil {
		s.logger.Error("failed to persist notification",
			zap.String("id", n.ID),
			zap.String("event_type", string(n.EventType)),
			zap.Error(err),
		)
	} else if !created {
		s.logger.Debug("replayed event already stored", zap.String("id", n.ID))
		res.Duplicate = true
		return res
	} else {
		res.Persisted = true
	}

	if s.bus != nil {
		res.Delivered = s.bus.Publish(n)
	}

	if s.push != nil && n.AccountID != "" && n.EventType != EventWebhookError {
		data := map[string]string{
			"id":        n.ID,
			"eventType": string(n.EventType),
			"senderId":  n.SenderID,
		}
		title := fmt.Sprintf("New %s", strings.ReplaceAll(string(n.EventType), "_", " "))
		body := n.Content.Text
		topic := "account_" + n.AccountID
		go func() {
			if err := s.push.SendToTopic(context.Background(), topic, title, body, data); err != nil {
				s.logger.Warn("push delivery failed", zap.String("topic", topic), zap.Error(err))
			}
		}()
	}

	return res
}

// SimulateParams describes a synthetic notification for testing the
// pipeline end to end.
type SimulateParams struct {
	EventType EventType
	Text      string
	SenderID  string
	Username  string
	AccountID string
}

// Simulate synthesizes a notification with a generated id and delivers it.
func (s *NotificationService) Simulate(ctx context.Context, p SimulateParams) (*Notification, error) {
	now := s.now().UTC()
	id, err := idgen.GenerateAt(now)
	if err != nil {
		return nil, err
	}
	if p.EventType == "" {
		p.EventType = EventMessage
	}
	if p.SenderID == "" {
		p.SenderID = "simulated_user"
	}
	if p.Username == "" {
		p.Username = p.SenderID
	}
	if p.Text == "" {
		p.Text = noContentText
	}

	n := &Notification{
		ID:         id,
		EventType:  p.EventType,
		SenderID:   p.SenderID,
		UserInfo:   UserInfo{Username: p.Username},
		Content:    Content{Text: p.Text},
		Timestamp:  now.Format(time.RFC3339Nano),
		AccountID:  p.AccountID,
		Status:     StatusNew,
		ReceivedAt: now,
	}
	s.Deliver(ctx, n)
	return n, nil
}

func (s *NotificationService) ListNotifications(ctx context.Context, filter NotificationFilter) ([]*Notification, int64, error) {
	if filter.Limit <= 0 {
		filter.Limit = 50
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}
	items, err := s.repo.ListNotifications(ctx, filter)
	if err != nil {
		return nil, 0, err
	}
	unread, err := s.repo.CountUnread(ctx, filter.AccountID)
	if err != nil {
		return nil, 0, err
	}
	return items, unread, nil
}

func (s *NotificationService) MarkRead(ctx context.Context, id string) error {
	return s.repo.MarkNotificationRead(ctx, id)
}

func (s *NotificationService) MarkAllRead(ctx context.Context, accountID string) (int64, error) {
	return s.repo.MarkAllNotificationsRead(ctx, accountID)
}

func (s *NotificationService) Stats(ctx context.Context) (*NotificationStats, error) {
	return s.repo.NotificationStats(ctx)
}

// PurgeOlderThan removes notifications received before now-retention.
func (s *NotificationService) PurgeOlderThan(ctx context.Context, retention time.Duration) (int64, error) {
	return s.repo.DeleteNotificationsBefore(ctx, s.now().Add(-retention))
}
