package api

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/instantchat/backend/internal/domain"
	"github.com/instantchat/backend/pkg/response"
	"github.com/instantchat/backend/pkg/validator"
)

// NotificationReader is the read/ack side of domain.NotificationService.
type NotificationReader interface {
	ListNotifications(ctx context.Context, filter domain.NotificationFilter) ([]*domain.Notification, int64, error)
	MarkRead(ctx context.Context, id string) error
	MarkAllRead(ctx context.Context, accountID string) (int64, error)
}

type NotificationHandler struct {
	service NotificationReader
	logger  *zap.Logger
}

func NewNotificationHandler(service NotificationReader, logger *zap.Logger) *NotificationHandler {
	return &NotificationHandler{
		service: service,
		logger:  logger,
	}
}

type NotificationListResponse struct {
	Notifications []*domain.Notification `json:"notifications"`
	UnreadCount   int64                  `json:"unreadCount"`
	Limit         int                    `json:"limit"`
	Offset        int                    `json:"offset"`
}

func (h *NotificationHandler) GetNotifications(w http.ResponseWriter, r *http.Request) {
	filter, errs := validator.ParseNotificationFilter(r.URL.Query())
	if errs.HasErrors() {
		response.BadRequest(w, errs.Error())
		return
	}

	notifs, unread, err := h.service.ListNotifications(r.Context(), filter)
	if err != nil {
		h.logger.Error("failed to get notifications", zap.Error(err))
		response.InternalError(w, "failed to fetch notifications")
		return
	}

	response.OK(w, NotificationListResponse{
		Notifications: notifs,
		UnreadCount:   unread,
		Limit:         filter.Limit,
		Offset:        filter.Offset,
	})
}

func (h *NotificationHandler) MarkRead(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(chi.URLParam(r, "id"))
	if id == "" {
		response.BadRequest(w, "invalid notification id")
		return
	}

	if err := h.service.MarkRead(r.Context(), id); err != nil {
		if errors.Is(err, domain.ErrNotificationNotFound) {
			response.NotFound(w, "notification not found")
			return
		}
		h.logger.Error("failed to mark notification read", zap.String("id", id), zap.Error(err))
		response.InternalError(w, "failed to update notification")
		return
	}

	response.OK(w, map[string]string{"status": "success"})
}

func (h *NotificationHandler) MarkAllRead(w http.ResponseWriter, r *http.Request) {
	accountID := strings.TrimSpace(r.URL.Query().Get("accountId"))
	updated, err := h.service.MarkAllRead(r.Context(), accountID)
	if err != nil {
		h.logger.Error("failed to mark notifications read", zap.Error(err))
		response.InternalError(w, "failed to update notifications")
		return
	}

	response.OK(w, map[string]int64{"updated": updated})
}
