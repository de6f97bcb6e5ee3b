package domain

import (
	"context"
	"errors"
	"strings"
	"time"
)

var ErrNotificationNotFound = errors.New("notification not found")

// EventType is the normalized kind of an inbound event.
type EventType string

const (
	EventMessage       EventType = "message"
	EventComment       EventType = "comment"
	EventMention       EventType = "mention"
	EventLiveComment   EventType = "live_comment"
	EventReaction      EventType = "reaction"
	EventPostback      EventType = "postback"
	EventReferral      EventType = "referral"
	EventSeen          EventType = "seen"
	EventWebhookError  EventType = "webhook_error"
	EventFlowExecution EventType = "flow_execution"
)

// EventTypes lists every known event type in display order.
var EventTypes = []EventType{
	EventMessage,
	EventComment,
	EventMention,
	EventLiveComment,
	EventReaction,
	EventPostback,
	EventReferral,
	EventSeen,
	EventWebhookError,
	EventFlowExecution,
}

// eventTypeAliases maps the platform's field names (mostly plurals) onto
// normalized event types.
var eventTypeAliases = map[string]EventType{
	"messages":      EventMessage,
	"messaging":     EventMessage,
	"comments":      EventComment,
	"mentions":      EventMention,
	"live_comments": EventLiveComment,
	"reactions":     EventReaction,
	"postbacks":     EventPostback,
	"referrals":     EventReferral,
	"read":          EventSeen,
	"reads":         EventSeen,
}

// ParseEventType resolves a name or alias into a known event type.
func ParseEventType(s string) (EventType, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	for _, t := range EventTypes {
		if string(t) == s {
			return t, true
		}
	}
	t, ok := eventTypeAliases[s]
	return t, ok
}

// CanonicalTopic maps a subscription topic to the event type it selects.
// Unknown topics are returned verbatim.
func CanonicalTopic(s string) string {
	if t, ok := ParseEventType(s); ok {
		return string(t)
	}
	return strings.TrimSpace(s)
}

func (t EventType) Valid() bool {
	for _, known := range EventTypes {
		if t == known {
			return true
		}
	}
	return false
}

// Status tracks a notification through its lifecycle.
type Status string

const (
	StatusNew       Status = "new"
	StatusRead      Status = "read"
	StatusProcessed Status = "processed"
	StatusFailed    Status = "failed"
)

func (s Status) Valid() bool {
	switch s {
	case StatusNew, StatusRead, StatusProcessed, StatusFailed:
		return true
	}
	return false
}

type UserInfo struct {
	Username string `json:"username,omitempty" bson:"username,omitempty"`
}

type Content struct {
	Text string `json:"text" bson:"text"`
}

// Notification is the normalized, client-facing form of one upstream event.
type Notification struct {
	ID         string    `json:"id" bson:"_id"`
	EventType  EventType `json:"eventType" bson:"event_type"`
	SenderID   string    `json:"senderId" bson:"sender_id"`
	UserInfo   UserInfo  `json:"userInfo" bson:"user_info"`
	Content    Content   `json:"content" bson:"content"`
	Timestamp  string    `json:"timestamp" bson:"timestamp"`
	AccountID  string    `json:"accountId,omitempty" bson:"account_id,omitempty"`
	Status     Status    `json:"status" bson:"status"`
	IsRead     bool      `json:"isRead" bson:"is_read"`
	Payload    any       `json:"payload,omitempty" bson:"payload,omitempty"`
	ReceivedAt time.Time `json:"receivedAt" bson:"received_at"`
}

// Clone returns a shallow copy. Payload is shared; it is never mutated
// after normalization.
func (n *Notification) Clone() *Notification {
	c := *n
	return &c
}

// MarkRead flips the read flag and advances a new notification to read.
func (n *Notification) MarkRead() {
	n.IsRead = true
	if n.Status == StatusNew {
		n.Status = StatusRead
	}
}

// FilterAll is the sentinel that disables an event type or status filter.
const FilterAll = "all"

// NotificationFilter selects notifications for display. The event type,
// status and search predicates are ANDed together.
type NotificationFilter struct {
	EventType string
	Status    string
	Search    string
	AccountID string
	Limit     int
	Offset    int
}

// Matches reports whether n passes every predicate of the filter.
func (f NotificationFilter) Matches(n *Notification) bool {
	if f.EventType != "" && f.EventType != FilterAll && CanonicalTopic(f.EventType) != string(n.EventType) {
		return false
	}
	if f.Status != "" && f.Status != FilterAll && f.Status != string(n.Status) {
		return false
	}
	if f.AccountID != "" && f.AccountID != n.AccountID {
		return false
	}
	if f.Search == "" {
		return true
	}
	q := strings.ToLower(f.Search)
	for _, field := range []string{n.UserInfo.Username, n.SenderID, n.Content.Text, string(n.EventType)} {
		if strings.Contains(strings.ToLower(field), q) {
			return true
		}
	}
	return false
}

// NotificationStats summarizes the stored notifications.
type NotificationStats struct {
	Total       int64               `json:"total"`
	Unread      int64               `json:"unread"`
	ByEventType map[EventType]int64 `json:"byEventType"`
	ByStatus    map[Status]int64    `json:"byStatus"`
}

type NotificationRepository interface {
	// UpsertNotification stores n unless a notification with the same id
	// exists. created is false for replays.
	UpsertNotification(ctx context.Context, n *Notification) (created bool, err error)
	ListNotifications(ctx context.Context, filter NotificationFilter) ([]*Notification, error)
	CountUnread(ctx context.Context, accountID string) (int64, error)
	MarkNotificationRead(ctx context.Context, id string) error
	MarkAllNotificationsRead(ctx context.Context, accountID string) (int64, error)
	NotificationStats(ctx context.Context) (*NotificationStats, error)
	DeleteNotificationsBefore(ctx context.Context, before time.Time) (int64, error)
	Ping(ctx context.Context) error
}
