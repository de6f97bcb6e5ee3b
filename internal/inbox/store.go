// Package inbox holds the client-side notification cache. All mutation
// goes through Store methods so the capacity and unread invariants stay
// in one place.
package inbox

import (
	"sync"

	"github.com/instantchat/backend/internal/domain"
)

// DefaultCapacity is the number of notifications kept before the oldest
// is evicted.
const DefaultCapacity = 100

// Store keeps notifications newest first. It is safe for concurrent use.
type Store struct {
	mu       sync.RWMutex
	items    []*domain.Notification
	capacity int
	filter   domain.NotificationFilter
}

func NewStore(capacity int) *Store {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Store{
		items:    make([]*domain.Notification, 0, capacity),
		capacity: capacity,
	}
}

// Add prepends n and evicts the oldest entry past capacity. A notification
// whose id is already cached is ignored; Add reports whether it was stored.
func (s *Store) Add(n *domain.Notification) bool {
	if n == nil {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.items {
		if existing.ID == n.ID {
			return false
		}
	}

	s.items = append(s.items, nil)
	copy(s.items[1:], s.items)
	s.items[0] = n.Clone()
	if len(s.items) > s.capacity {
		s.items[len(s.items)-1] = nil
		s.items = s.items[:s.capacity]
	}
	return true
}

// MarkAsRead flags one notification read. Unknown ids return false.
func (s *Store) MarkAsRead(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, n := range s.items {
		if n.ID == id {
			n.MarkRead()
			return true
		}
	}
	return false
}

// MarkAllAsRead flags everything read and returns how many changed.
func (s *Store) MarkAllAsRead() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	var changed int
	for _, n := range s.items {
		if !n.IsRead {
			changed++
		}
		n.MarkRead()
	}
	return changed
}

func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items = s.items[:0]
}

func (s *Store) UnreadCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var c int
	for _, n := range s.items {
		if !n.IsRead {
			c++
		}
	}
	return c
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.items)
}

// Notifications returns copies of every cached notification, newest first.
func (s *Store) Notifications() []*domain.Notification {
	return s.Query(domain.NotificationFilter{})
}

// SetFilter replaces the active display filter.
func (s *Store) SetFilter(f domain.NotificationFilter) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.filter = f
}

func (s *Store) Filter() domain.NotificationFilter {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.filter
}

// Filtered applies the active filter.
func (s *Store) Filtered() []*domain.Notification {
	return s.Query(s.Filter())
}

// Query returns copies of the notifications matching f, newest first.
// Limit and offset page through the matches when set.
func (s *Store) Query(f domain.NotificationFilter) []*domain.Notification {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*domain.Notification, 0, len(s.items))
	skipped := 0
	for _, n := range s.items {
		if !f.Matches(n) {
			continue
		}
		if skipped < f.Offset {
			skipped++
			continue
		}
		out = append(out, n.Clone())
		if f.Limit > 0 && len(out) == f.Limit {
			break
		}
	}
	return out
}
