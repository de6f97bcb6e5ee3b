package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/instantchat/backend/internal/domain"
)

const notificationColumns = `id, event_type, sender_id, username, content, timestamp, account_id, status, is_read, payload, received_at`

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS notifications (
		id          TEXT PRIMARY KEY,
		event_type  TEXT NOT NULL,
		sender_id   TEXT NOT NULL DEFAULT '',
		username    TEXT NOT NULL DEFAULT '',
		content     TEXT NOT NULL DEFAULT '',
		timestamp   TEXT NOT NULL DEFAULT '',
		account_id  TEXT NOT NULL DEFAULT '',
		status      TEXT NOT NULL DEFAULT 'new',
		is_read     BOOLEAN NOT NULL DEFAULT FALSE,
		payload     JSONB,
		received_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_notifications_received_at ON notifications (received_at DESC)`,
	`CREATE INDEX IF NOT EXISTS idx_notifications_account_unread ON notifications (account_id, is_read)`,
	`CREATE INDEX IF NOT EXISTS idx_notifications_event_type ON notifications (event_type)`,
}

// PostgresRepository implements domain.NotificationRepository using PostgreSQL
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository creates a new PostgreSQL repository
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// EnsureSchema creates the notifications table and its indexes
func (r *PostgresRepository) EnsureSchema(ctx context.Context) error {
	for _, stmt := range schemaStatements {
		if _, err := r.db.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

// UpsertNotification inserts n; an existing id is left untouched
func (r *PostgresRepository) UpsertNotification(ctx context.Context, n *domain.Notification) (bool, error) {
	payload, err := encodePayload(n.Payload)
	if err != nil {
		return false, err
	}

	query := `
		INSERT INTO notifications (` + notificationColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id) DO NOTHING
	`
	tag, err := r.db.Exec(ctx, query,
		n.ID,
		string(n.EventType),
		n.SenderID,
		n.UserInfo.Username,
		n.Content.Text,
		n.Timestamp,
		n.AccountID,
		string(n.Status),
		n.IsRead,
		payload,
		n.ReceivedAt,
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// ListNotifications returns matching notifications newest first
func (r *PostgresRepository) ListNotifications(ctx context.Context, filter domain.NotificationFilter) ([]*domain.Notification, error) {
	where, args := buildWhere(filter)
	query := `SELECT ` + notificationColumns + ` FROM notifications` + where +
		fmt.Sprintf(` ORDER BY received_at DESC, id DESC LIMIT $%d OFFSET $%d`, len(args)+1, len(args)+2)

	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	args = append(args, limit, filter.Offset)

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	notifications := []*domain.Notification{}
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, err
		}
		notifications = append(notifications, n)
	}
	return notifications, rows.Err()
}

// CountUnread counts unread notifications, optionally for one account
func (r *PostgresRepository) CountUnread(ctx context.Context, accountID string) (int64, error) {
	query := `SELECT COUNT(*) FROM notifications WHERE is_read = FALSE AND ($1::text = '' OR account_id = $1)`
	var count int64
	err := r.db.QueryRow(ctx, query, accountID).Scan(&count)
	return count, err
}

// MarkNotificationRead marks one notification as read
func (r *PostgresRepository) MarkNotificationRead(ctx context.Context, id string) error {
	query := `
		UPDATE notifications
		SET is_read = TRUE, status = CASE WHEN status = 'new' THEN 'read' ELSE status END
		WHERE id = $1
	`
	tag, err := r.db.Exec(ctx, query, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotificationNotFound
	}
	return nil
}

// MarkAllNotificationsRead marks every unread notification as read
func (r *PostgresRepository) MarkAllNotificationsRead(ctx context.Context, accountID string) (int64, error) {
	query := `
		UPDATE notifications
		SET is_read = TRUE, status = CASE WHEN status = 'new' THEN 'read' ELSE status END
		WHERE is_read = FALSE AND ($1::text = '' OR account_id = $1)
	`
	tag, err := r.db.Exec(ctx, query, accountID)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// NotificationStats aggregates counts by event type and status
func (r *PostgresRepository) NotificationStats(ctx context.Context) (*domain.NotificationStats, error) {
	query := `
		SELECT event_type, status, is_read, COUNT(*)
		FROM notifications
		GROUP BY event_type, status, is_read
	`
	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	stats := newStats()
	for rows.Next() {
		var (
			eventType, status string
			isRead            bool
			count             int64
		)
		if err := rows.Scan(&eventType, &status, &isRead, &count); err != nil {
			return nil, err
		}
		stats.Total += count
		if !isRead {
			stats.Unread += count
		}
		stats.ByEventType[domain.EventType(eventType)] += count
		stats.ByStatus[domain.Status(status)] += count
	}
	return stats, rows.Err()
}

// DeleteNotificationsBefore removes notifications received before the cutoff
func (r *PostgresRepository) DeleteNotificationsBefore(ctx context.Context, before time.Time) (int64, error) {
	tag, err := r.db.Exec(ctx, `DELETE FROM notifications WHERE received_at < $1`, before)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (r *PostgresRepository) Ping(ctx context.Context) error {
	return r.db.Ping(ctx)
}

// buildWhere renders the filter as a WHERE clause with positional args
func buildWhere(filter domain.NotificationFilter) (string, []any) {
	var (
		conds []string
		args  []any
	)
	add := func(cond string, arg any) {
		args = append(args, arg)
		conds = append(conds, strings.ReplaceAll(cond, "?", fmt.Sprintf("$%d", len(args))))
	}

	if filter.EventType != "" && filter.EventType != domain.FilterAll {
		add("event_type = ?", domain.CanonicalTopic(filter.EventType))
	}
	if filter.Status != "" && filter.Status != domain.FilterAll {
		add("status = ?", filter.Status)
	}
	if filter.AccountID != "" {
		add("account_id = ?", filter.AccountID)
	}
	if filter.Search != "" {
		add(`(username ILIKE ? OR sender_id ILIKE ? OR content ILIKE ? OR event_type ILIKE ?)`,
			"%"+escapeLike(filter.Search)+"%")
	}

	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

func encodePayload(p any) ([]byte, error) {
	if p == nil {
		return nil, nil
	}
	b, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}
	return b, nil
}

// Helper functions for scanning rows

func scanNotification(row pgx.Row) (*domain.Notification, error) {
	var (
		n         domain.Notification
		eventType string
		status    string
		payload   []byte
	)
	err := row.Scan(
		&n.ID,
		&eventType,
		&n.SenderID,
		&n.UserInfo.Username,
		&n.Content.Text,
		&n.Timestamp,
		&n.AccountID,
		&status,
		&n.IsRead,
		&payload,
		&n.ReceivedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotificationNotFound
		}
		return nil, err
	}
	n.EventType = domain.EventType(eventType)
	n.Status = domain.Status(status)
	if len(payload) > 0 {
		var v any
		if err := json.Unmarshal(payload, &v); err == nil {
			n.Payload = v
		}
	}
	return &n, nil
}
