package repository

import (
	"context"
	"errors"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/instantchat/backend/internal/domain"
)

// ErrStoreUnavailable is returned while the breaker is open.
var ErrStoreUnavailable = errors.New("notification store unavailable")

// BreakerSettings tunes BreakerRepository.
type BreakerSettings struct {
	// ConsecutiveFailures opens the breaker.
	ConsecutiveFailures uint32
	// OpenTimeout is how long the breaker stays open before probing.
	OpenTimeout time.Duration
	// Interval clears the closed-state counts.
	Interval time.Duration
}

func DefaultBreakerSettings() BreakerSettings {
	return BreakerSettings{
		ConsecutiveFailures: 5,
		OpenTimeout:         30 * time.Second,
		Interval:            time.Minute,
	}
}

// BreakerRepository fails fast when the wrapped store keeps erroring, so
// webhook ingestion is not held up by a dead database.
type BreakerRepository struct {
	next domain.NotificationRepository
	cb   *gobreaker.CircuitBreaker
}

func NewBreakerRepository(next domain.NotificationRepository, settings BreakerSettings, logger *zap.Logger) *BreakerRepository {
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "notification-store",
		MaxRequests: 1,
		Interval:    settings.Interval,
		Timeout:     settings.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= settings.ConsecutiveFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
		IsSuccessful: func(err error) bool {
			return err == nil ||
				errors.Is(err, domain.ErrNotificationNotFound) ||
				errors.Is(err, context.Canceled)
		},
	})
	return &BreakerRepository{next: next, cb: cb}
}

// State reports the breaker state for health output.
func (r *BreakerRepository) State() string {
	return r.cb.State().String()
}

func (r *BreakerRepository) UpsertNotification(ctx context.Context, n *domain.Notification) (bool, error) {
	v, err := r.execute(func() (interface{}, error) {
		return r.next.UpsertNotification(ctx, n)
	})
	if err != nil {
		return false, err
	}
	return v.(bool), nil
}

func (r *BreakerRepository) ListNotifications(ctx context.Context, filter domain.NotificationFilter) ([]*domain.Notification, error) {
	v, err := r.execute(func() (interface{}, error) {
		return r.next.ListNotifications(ctx, filter)
	})
	if err != nil {
		return nil, err
	}
	return v.([]*domain.Notification), nil
}

func (r *BreakerRepository) CountUnread(ctx context.Context, accountID string) (int64, error) {
	v, err := r.execute(func() (interface{}, error) {
		return r.next.CountUnread(ctx, accountID)
	})
	if err != nil {
		return 0, err
	}
	return v.(int64), nil
}

func (r *BreakerRepository) MarkNotificationRead(ctx context.Context, id string) error {
	_, err := r.execute(func() (interface{}, error) {
		return nil, r.next.MarkNotificationRead(ctx, id)
	})
	return err
}

func (r *BreakerRepository) MarkAllNotificationsRead(ctx context.Context, accountID string) (int64, error) {
	v, err := r.execute(func() (interface{}, error) {
		return r.next.MarkAllNotificationsRead(ctx, accountID)
	})
	if err != nil {
		return 0, err
	}
	return v.(int64), nil
}

func (r *BreakerRepository) NotificationStats(ctx context.Context) (*domain.NotificationStats, error) {
	v, err := r.execute(func() (interface{}, error) {
		return r.next.NotificationStats(ctx)
	})
	if err != nil {
		return nil, err
	}
	return v.(*domain.NotificationStats), nil
}

func (r *BreakerRepository) DeleteNotificationsBefore(ctx context.Context, before time.Time) (int64, error) {
	v, err := r.execute(func() (interface{}, error) {
		return r.next.DeleteNotificationsBefore(ctx, before)
	})
	if err != nil {
		return 0, err
	}
	return v.(int64), nil
}

// Ping bypasses the breaker so readiness reflects the store itself.
func (r *BreakerRepository) Ping(ctx context.Context) error {
	return r.next.Ping(ctx)
}

func (r *BreakerRepository) execute(fn func() (interface{}, error)) (interface{}, error) {
	v, err := r.cb.Execute(fn)
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, ErrStoreUnavailable
	}
	return v, err
}
