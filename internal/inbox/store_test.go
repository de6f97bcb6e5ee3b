package inbox

import (
	"fmt"
	"testing"

	"github.com/instantchat/backend/internal/domain"
)

func note(id string, et domain.EventType) *domain.Notification {
	return &domain.Notification{ID: id, EventType: et, Status: domain.StatusNew, Content: domain.Content{Text: "text " + id}}
}

func TestStore_CapacityEvictsOldest(t *testing.T) {
	s := NewStore(DefaultCapacity)
	for i := 0; i < 101; i++ {
		s.Add(note(fmt.Sprintf("n%d", i), domain.EventMessage))
	}

	if s.Len() != 100 {
		t.Fatalf("Len() = %d, want 100", s.Len())
	}
	items := s.Notifications()
	if items[0].ID != "n100" {
		t.Errorf("newest = %q, want n100", items[0].ID)
	}
	if items[99].ID != "n1" {
		t.Errorf("oldest = %q, want n1", items[99].ID)
	}
	for _, n := range items {
		if n.ID == "n0" {
			t.Fatal("first inserted notification was not evicted")
		}
	}
	if s.UnreadCount() != 100 {
		t.Errorf("UnreadCount() = %d, want 100", s.UnreadCount())
	}
}

func TestStore_DuplicateIgnored(t *testing.T) {
	s := NewStore(10)
	if !s.Add(note("a", domain.EventMessage)) {
		t.Fatal("first Add returned false")
	}
	if s.Add(note("a", domain.EventComment)) {
		t.Error("duplicate Add returned true")
	}
	if s.Len() != 1 {
		t.Errorf("Len() = %d, want 1", s.Len())
	}
}

func TestStore_MarkAsRead(t *testing.T) {
	s := NewStore(10)
	s.Add(note("a", domain.EventMessage))
	s.Add(note("b", domain.EventMessage))

	if !s.MarkAsRead("a") {
		t.Fatal("MarkAsRead(a) = false")
	}
	if s.MarkAsRead("zzz") {
		t.Error("MarkAsRead(unknown) = true")
	}
	if s.UnreadCount() != 1 {
		t.Errorf("UnreadCount() = %d, want 1", s.UnreadCount())
	}
	for _, n := range s.Notifications() {
		if n.ID == "a" && (!n.IsRead || n.Status != domain.StatusRead) {
			t.Errorf("a = %+v, want read", n)
		}
	}
}

func TestStore_MarkAllAsRead(t *testing.T) {
	s := NewStore(10)
	for i := 0; i < 5; i++ {
		s.Add(note(fmt.Sprintf("n%d", i), domain.EventMessage))
	}
	s.MarkAsRead("n2")

	if changed := s.MarkAllAsRead(); changed != 4 {
		t.Errorf("MarkAllAsRead() = %d, want 4", changed)
	}
	if s.UnreadCount() != 0 {
		t.Errorf("UnreadCount() = %d, want 0", s.UnreadCount())
	}
	for _, n := range s.Notifications() {
		if !n.IsRead {
			t.Errorf("%s still unread", n.ID)
		}
	}
}

func TestStore_ReturnsCopies(t *testing.T) {
	s := NewStore(10)
	s.Add(note("a", domain.EventMessage))
	s.Notifications()[0].IsRead = true
	if s.UnreadCount() != 1 {
		t.Error("external mutation leaked into the store")
	}
}

func TestStore_Filtered(t *testing.T) {
	s := NewStore(10)
	s.Add(note("m1", domain.EventMessage))
	s.Add(note("c1", domain.EventComment))
	s.Add(note("c2", domain.EventComment))
	s.MarkAsRead("c2")

	s.SetFilter(domain.NotificationFilter{EventType: "comments", Status: "new"})
	got := s.Filtered()
	if len(got) != 1 || got[0].ID != "c1" {
		t.Errorf("Filtered() = %v, want [c1]", ids(got))
	}

	s.SetFilter(domain.NotificationFilter{EventType: domain.FilterAll, Status: domain.FilterAll, Search: "M1"})
	got = s.Filtered()
	if len(got) != 1 || got[0].ID != "m1" {
		t.Errorf("Filtered() = %v, want [m1]", ids(got))
	}

	page := s.Query(domain.NotificationFilter{Limit: 1, Offset: 1})
	if len(page) != 1 || page[0].ID != "c1" {
		t.Errorf("Query(page) = %v, want [c1]", ids(page))
	}
}

func TestStore_Clear(t *testing.T) {
	s := NewStore(10)
	s.Add(note("a", domain.EventMessage))
	s.Clear()
	if s.Len() != 0 || s.UnreadCount() != 0 {
		t.Errorf("after Clear: Len=%d Unread=%d", s.Len(), s.UnreadCount())
	}
}

func ids(ns []*domain.Notification) []string {
	out := make([]string, len(ns))
	for i, n := range ns {
		out[i] = n.ID
	}
	return out
}
