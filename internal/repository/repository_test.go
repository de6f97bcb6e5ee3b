package repository

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/instantchat/backend/internal/domain"
)

func seed(t *testing.T, repo domain.NotificationRepository, base time.Time) {
	t.Helper()
	items := []*domain.Notification{
		{ID: "m1", EventType: domain.EventMessage, SenderID: "alice", UserInfo: domain.UserInfo{Username: "alice"}, Content: domain.Content{Text: "hello"}, AccountID: "acct1", Status: domain.StatusNew, ReceivedAt: base},
		{ID: "c1", EventType: domain.EventComment, SenderID: "bob", UserInfo: domain.UserInfo{Username: "bob"}, Content: domain.Content{Text: "nice post"}, AccountID: "acct1", Status: domain.StatusNew, ReceivedAt: base.Add(time.Minute)},
		{ID: "e1", EventType: domain.EventWebhookError, Content: domain.Content{Text: "No content available"}, AccountID: "acct2", Status: domain.StatusFailed, ReceivedAt: base.Add(2 * time.Minute)},
	}
	for _, n := range items {
		created, err := repo.UpsertNotification(context.Background(), n)
		if err != nil || !created {
			t.Fatalf("UpsertNotification(%s) = %v, %v", n.ID, created, err)
		}
	}
}

func TestMemoryRepository_UpsertIsIdempotent(t *testing.T) {
	repo := NewMemoryRepository()
	n := &domain.Notification{ID: "x", EventType: domain.EventMessage, Status: domain.StatusNew, Content: domain.Content{Text: "first"}}

	created, err := repo.UpsertNotification(context.Background(), n)
	if err != nil || !created {
		t.Fatalf("first upsert = %v, %v", created, err)
	}
	replay := n.Clone()
	replay.Content.Text = "second"
	created, err = repo.UpsertNotification(context.Background(), replay)
	if err != nil || created {
		t.Fatalf("replay upsert = %v, %v; want false, nil", created, err)
	}

	items, _ := repo.ListNotifications(context.Background(), domain.NotificationFilter{})
	if len(items) != 1 || items[0].Content.Text != "first" {
		t.Errorf("stored = %+v, want original only", items)
	}
}

func TestMemoryRepository_ListFilters(t *testing.T) {
	repo := NewMemoryRepository()
	seed(t, repo, time.Now())
	ctx := context.Background()

	all, _ := repo.ListNotifications(ctx, domain.NotificationFilter{})
	if got := idsOf(all); got != "e1,c1,m1" {
		t.Errorf("order = %s, want newest first", got)
	}

	comments, _ := repo.ListNotifications(ctx, domain.NotificationFilter{EventType: "comments"})
	if got := idsOf(comments); got != "c1" {
		t.Errorf("comments = %s", got)
	}

	search, _ := repo.ListNotifications(ctx, domain.NotificationFilter{Search: "ALICE", Status: "new"})
	if got := idsOf(search); got != "m1" {
		t.Errorf("search = %s", got)
	}

	page, _ := repo.ListNotifications(ctx, domain.NotificationFilter{Limit: 1, Offset: 1})
	if got := idsOf(page); got != "c1" {
		t.Errorf("page = %s", got)
	}

	past, _ := repo.ListNotifications(ctx, domain.NotificationFilter{Offset: 10})
	if len(past) != 0 {
		t.Errorf("offset past end = %d items", len(past))
	}
}

func TestMemoryRepository_ReadState(t *testing.T) {
	repo := NewMemoryRepository()
	seed(t, repo, time.Now())
	ctx := context.Background()

	if err := repo.MarkNotificationRead(ctx, "nope"); !errors.Is(err, domain.ErrNotificationNotFound) {
		t.Errorf("MarkNotificationRead(unknown) = %v", err)
	}
	if err := repo.MarkNotificationRead(ctx, "m1"); err != nil {
		t.Fatal(err)
	}
	if n, _ := repo.CountUnread(ctx, "acct1"); n != 1 {
		t.Errorf("CountUnread(acct1) = %d, want 1", n)
	}

	changed, _ := repo.MarkAllNotificationsRead(ctx, "")
	if changed != 2 {
		t.Errorf("MarkAllNotificationsRead = %d, want 2", changed)
	}

	stats, _ := repo.NotificationStats(ctx)
	if stats.Total != 3 || stats.Unread != 0 {
		t.Errorf("stats = %+v", stats)
	}
	if stats.ByStatus[domain.StatusRead] != 2 || stats.ByStatus[domain.StatusFailed] != 1 {
		t.Errorf("ByStatus = %v", stats.ByStatus)
	}
	if stats.ByEventType[domain.EventComment] != 1 {
		t.Errorf("ByEventType = %v", stats.ByEventType)
	}
}

func TestMemoryRepository_DeleteBefore(t *testing.T) {
	repo := NewMemoryRepository()
	base := time.Now()
	seed(t, repo, base)

	deleted, _ := repo.DeleteNotificationsBefore(context.Background(), base.Add(90*time.Second))
	if deleted != 2 {
		t.Errorf("deleted = %d, want 2", deleted)
	}
	left, _ := repo.ListNotifications(context.Background(), domain.NotificationFilter{})
	if idsOf(left) != "e1" {
		t.Errorf("left = %s", idsOf(left))
	}
}

func TestBuildWhere(t *testing.T) {
	where, args := buildWhere(domain.NotificationFilter{})
	if where != "" || len(args) != 0 {
		t.Errorf("empty filter = %q %v", where, args)
	}

	where, args = buildWhere(domain.NotificationFilter{EventType: "mentions", Status: "all", AccountID: "a", Search: "50%_off"})
	want := " WHERE event_type = $1 AND account_id = $2 AND (username ILIKE $3 OR sender_id ILIKE $3 OR content ILIKE $3 OR event_type ILIKE $3)"
	if where != want {
		t.Errorf("where =\n%q\nwant\n%q", where, want)
	}
	if len(args) != 3 || args[0] != "mention" || args[2] != `%50\%\_off%` {
		t.Errorf("args = %v", args)
	}
}

type flakyRepo struct {
	*MemoryRepository
	fail  atomic.Bool
	calls atomic.Int32
}

func (f *flakyRepo) UpsertNotification(ctx context.Context, n *domain.Notification) (bool, error) {
	f.calls.Add(1)
	if f.fail.Load() {
		return false, errors.New("connection refused")
	}
	return f.MemoryRepository.UpsertNotification(ctx, n)
}

func TestBreakerRepository_OpensAfterFailures(t *testing.T) {
	inner := &flakyRepo{MemoryRepository: NewMemoryRepository()}
	inner.fail.Store(true)
	repo := NewBreakerRepository(inner, BreakerSettings{ConsecutiveFailures: 2, OpenTimeout: time.Hour, Interval: time.Hour}, zap.NewNop())

	n := &domain.Notification{ID: "x"}
	for i := 0; i < 2; i++ {
		if _, err := repo.UpsertNotification(context.Background(), n); err == nil || errors.Is(err, ErrStoreUnavailable) {
			t.Fatalf("call %d error = %v, want store error", i, err)
		}
	}
	if _, err := repo.UpsertNotification(context.Background(), n); !errors.Is(err, ErrStoreUnavailable) {
		t.Fatalf("open breaker error = %v, want ErrStoreUnavailable", err)
	}
	if inner.calls.Load() != 2 {
		t.Errorf("inner calls = %d, want 2", inner.calls.Load())
	}
	if repo.State() != "open" {
		t.Errorf("State() = %q, want open", repo.State())
	}
}

func TestBreakerRepository_NotFoundIsNotAFailure(t *testing.T) {
	repo := NewBreakerRepository(NewMemoryRepository(), BreakerSettings{ConsecutiveFailures: 1, OpenTimeout: time.Hour}, zap.NewNop())
	for i := 0; i < 3; i++ {
		if err := repo.MarkNotificationRead(context.Background(), "missing"); !errors.Is(err, domain.ErrNotificationNotFound) {
			t.Fatalf("MarkNotificationRead = %v", err)
		}
	}
	created, err := repo.UpsertNotification(context.Background(), &domain.Notification{ID: "y"})
	if err != nil || !created {
		t.Errorf("UpsertNotification = %v, %v", created, err)
	}
}

type countingPurger struct{ calls atomic.Int32 }

func (p *countingPurger) PurgeOlderThan(context.Context, time.Duration) (int64, error) {
	p.calls.Add(1)
	return 1, nil
}

func TestRunCleanupWorker(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	p := &countingPurger{}
	done := make(chan error, 1)
	go func() { done <- RunCleanupWorker(ctx, p, 5*time.Millisecond, time.Hour, zap.NewNop()) }()

	deadline := time.After(2 * time.Second)
	for p.calls.Load() < 2 {
		select {
		case <-deadline:
			t.Fatal("cleanup worker never ran")
		case <-time.After(5 * time.Millisecond):
		}
	}
	cancel()
	if err := <-done; err != nil {
		t.Errorf("RunCleanupWorker() = %v", err)
	}
}

func idsOf(ns []*domain.Notification) string {
	ids := make([]string, len(ns))
	for i, n := range ns {
		ids[i] = n.ID
	}
	return strings.Join(ids, ",")
}
