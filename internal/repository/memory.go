package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/instantchat/backend/internal/domain"
)

// MemoryRepository implements domain.NotificationRepository in process.
// It backs development runs and tests.
type MemoryRepository struct {
	mu    sync.RWMutex
	items map[string]*domain.Notification
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{items: make(map[string]*domain.Notification)}
}

func (r *MemoryRepository) UpsertNotification(_ context.Context, n *domain.Notification) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.items[n.ID]; ok {
		return false, nil
	}
	r.items[n.ID] = n.Clone()
	return true, nil
}

// ListNotifications returns matches newest first by receipt time.
func (r *MemoryRepository) ListNotifications(_ context.Context, filter domain.NotificationFilter) ([]*domain.Notification, error) {
	r.mu.RLock()
	matched := make([]*domain.Notification, 0, len(r.items))
	for _, n := range r.items {
		if filter.Matches(n) {
			matched = append(matched, n.Clone())
		}
	}
	r.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool {
		if matched[i].ReceivedAt.Equal(matched[j].ReceivedAt) {
			return matched[i].ID > matched[j].ID
		}
		return matched[i].ReceivedAt.After(matched[j].ReceivedAt)
	})

	if filter.Offset >= len(matched) {
		return []*domain.Notification{}, nil
	}
	matched = matched[filter.Offset:]
	if filter.Limit > 0 && len(matched) > filter.Limit {
		matched = matched[:filter.Limit]
	}
	return matched, nil
}

func (r *MemoryRepository) CountUnread(_ context.Context, accountID string) (int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var c int64
	for _, n := range r.items {
		if !n.IsRead && (accountID == "" || n.AccountID == accountID) {
			c++
		}
	}
	return c, nil
}

func (r *MemoryRepository) MarkNotificationRead(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	n, ok := r.items[id]
	if !ok {
		return domain.ErrNotificationNotFound
	}
	n.MarkRead()
	return nil
}

func (r *MemoryRepository) MarkAllNotificationsRead(_ context.Context, accountID string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var changed int64
	for _, n := range r.items {
		if n.IsRead || (accountID != "" && n.AccountID != accountID) {
			continue
		}
		n.MarkRead()
		changed++
	}
	return changed, nil
}

func (r *MemoryRepository) NotificationStats(_ context.Context) (*domain.NotificationStats, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	stats := newStats()
	for _, n := range r.items {
		stats.Total++
		if !n.IsRead {
			stats.Unread++
		}
		stats.ByEventType[n.EventType]++
		stats.ByStatus[n.Status]++
	}
	return stats, nil
}

func (r *MemoryRepository) DeleteNotificationsBefore(_ context.Context, before time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var deleted int64
	for id, n := range r.items {
		if n.ReceivedAt.Before(before) {
			delete(r.items, id)
			deleted++
		}
	}
	return deleted, nil
}

func (r *MemoryRepository) Ping(context.Context) error { return nil }

func newStats() *domain.NotificationStats {
	return &domain.NotificationStats{
		ByEventType: make(map[domain.EventType]int64),
		ByStatus:    make(map[domain.Status]int64),
	}
}
