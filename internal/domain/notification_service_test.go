package domain

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
)

type fakeRepo struct {
	mu        sync.Mutex
	items     map[string]*Notification
	upsertErr error
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{items: make(map[string]*Notification)}
}

func (r *fakeRepo) UpsertNotification(_ context.Context, n *Notification) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.upsertErr != nil {
		return false, r.upsertErr
	}
	if _, ok := r.items[n.ID]; ok {
		return false, nil
	}
	r.items[n.ID] = n.Clone()
	return true, nil
}

func (r *fakeRepo) ListNotifications(_ context.Context, f NotificationFilter) ([]*Notification, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*Notification
	for _, n := range r.items {
		if f.Matches(n) {
			out = append(out, n.Clone())
		}
	}
	return out, nil
}

func (r *fakeRepo) CountUnread(_ context.Context, _ string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var c int64
	for _, n := range r.items {
		if !n.IsRead {
			c++
		}
	}
	return c, nil
}

func (r *fakeRepo) MarkNotificationRead(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	n, ok := r.items[id]
	if !ok {
		return ErrNotificationNotFound
	}
	n.MarkRead()
	return nil
}

func (r *fakeRepo) MarkAllNotificationsRead(_ context.Context, _ string) (int64, error) {
	return 0, nil
}

func (r *fakeRepo) NotificationStats(_ context.Context) (*NotificationStats, error) {
	return &NotificationStats{}, nil
}

func (r *fakeRepo) DeleteNotificationsBefore(_ context.Context, _ time.Time) (int64, error) {
	return 0, nil
}

func (r *fakeRepo) Ping(_ context.Context) error { return nil }

func (r *fakeRepo) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.items)
}

type fakeBus struct {
	mu        sync.Mutex
	published []*Notification
}

func (b *fakeBus) Publish(n *Notification) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.published = append(b.published, n)
	return 1
}

func (b *fakeBus) count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.published)
}

type setDeduper map[string]bool

func (d setDeduper) SeenBefore(id string) bool {
	seen := d[id]
	d[id] = true
	return seen
}

func messageEvent(body string) RawEvent {
	return RawEvent{Kind: RawMessage, AccountID: "acc_1", Body: json.RawMessage(body)}
}

func TestIngest_PersistsAndBroadcasts(t *testing.T) {
	repo := newFakeRepo()
	bus := &fakeBus{}
	svc := NewNotificationService(repo, bus, zap.NewNop())

	res := svc.Ingest(context.Background(), messageEvent(`{"sender":{"id":"u1"},"message":{"text":"hi"}}`))
	if !res.Persisted {
		t.Error("Persisted = false, want true")
	}
	if res.Delivered != 1 {
		t.Errorf("Delivered = %d, want 1", res.Delivered)
	}
	if repo.count() != 1 || bus.count() != 1 {
		t.Errorf("stored=%d published=%d, want 1/1", repo.count(), bus.count())
	}
}

func TestIngest_ReplayStoresOnce(t *testing.T) {
	repo := newFakeRepo()
	bus := &fakeBus{}
	svc := NewNotificationService(repo, bus, zap.NewNop())

	ev := messageEvent(`{"sender":{"id":"u1"},"message":{"text":"hi"}}`)
	first := svc.Ingest(context.Background(), ev)
	second := svc.Ingest(context.Background(), ev)

	if first.Notification.ID != second.Notification.ID {
		t.Fatalf("ids differ across replay: %q vs %q", first.Notification.ID, second.Notification.ID)
	}
	if !second.Duplicate {
		t.Error("second ingest not flagged duplicate")
	}
	if repo.count() != 1 {
		t.Errorf("stored = %d, want 1", repo.count())
	}
	if bus.count() != 1 {
		t.Errorf("published = %d, want 1", bus.count())
	}
}

func TestIngest_DeduperShortCircuits(t *testing.T) {
	repo := newFakeRepo()
	bus := &fakeBus{}
	svc := NewNotificationService(repo, bus, zap.NewNop(), WithDeduper(setDeduper{}))

	ev := messageEvent(`{"message":{"mid":"m1","text":"a"}}`)
	svc.Ingest(context.Background(), ev)
	res := svc.Ingest(context.Background(), ev)
	if !res.Duplicate || res.Persisted {
		t.Errorf("replay result = %+v, want duplicate without persistence", res)
	}
	if bus.count() != 1 {
		t.Errorf("published = %d, want 1", bus.count())
	}
}

func TestIngest_PersistenceFailureStillBroadcasts(t *testing.T) {
	repo := newFakeRepo()
	repo.upsertErr = errors.New("db down")
	bus := &fakeBus{}
	svc := NewNotificationService(repo, bus, zap.NewNop())

	res := svc.Ingest(context.Background(), messageEvent(`{"message":{"text":"x"}}`))
	if res.Persisted {
		t.Error("Persisted = true, want false")
	}
	if bus.count() != 1 {
		t.Errorf("published = %d, want 1", bus.count())
	}
}

func TestSimulate_GeneratesID(t *testing.T) {
	repo := newFakeRepo()
	bus := &fakeBus{}
	svc := NewNotificationService(repo, bus, zap.NewNop())

	n, err := svc.Simulate(context.Background(), SimulateParams{EventType: EventComment, Text: "test"})
	if err != nil {
		t.Fatalf("Simulate() error: %v", err)
	}
	if n.ID == "" || n.EventType != EventComment || n.Status != StatusNew {
		t.Errorf("unexpected notification %+v", n)
	}
	if bus.count() != 1 {
		t.Errorf("published = %d, want 1", bus.count())
	}
}

func TestListNotifications_ReturnsUnread(t *testing.T) {
	repo := newFakeRepo()
	svc := NewNotificationService(repo, nil, zap.NewNop())
	ctx := context.Background()

	svc.Ingest(ctx, messageEvent(`{"message":{"mid":"a","text":"one"}}`))
	svc.Ingest(ctx, messageEvent(`{"message":{"mid":"b","text":"two"}}`))
	if err := svc.MarkRead(ctx, "a"); err != nil {
		t.Fatalf("MarkRead() error: %v", err)
	}

	items, unread, err := svc.ListNotifications(ctx, NotificationFilter{})
	if err != nil {
		t.Fatalf("ListNotifications() error: %v", err)
	}
	if len(items) != 2 {
		t.Errorf("len(items) = %d, want 2", len(items))
	}
	if unread != 1 {
		t.Errorf("unread = %d, want 1", unread)
	}

	if err := svc.MarkRead(ctx, "missing"); !errors.Is(err, ErrNotificationNotFound) {
		t.Errorf("MarkRead(missing) error = %v, want ErrNotificationNotFound", err)
	}
}
