package api

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/instantchat/backend/internal/domain"
	"github.com/instantchat/backend/internal/middleware"
	"github.com/instantchat/backend/internal/realtime"
	"github.com/instantchat/backend/internal/storage"
	"github.com/instantchat/backend/internal/webhook"
	"github.com/instantchat/backend/pkg/response"
)

const maxWebhookBody = 1 << 20

// Ingester is the part of domain.NotificationService the webhook path uses.
type Ingester interface {
	Ingest(ctx context.Context, ev domain.RawEvent) domain.IngestResult
	Simulate(ctx context.Context, p domain.SimulateParams) (*domain.Notification, error)
	Stats(ctx context.Context) (*domain.NotificationStats, error)
}

// ConnectionStats reports live realtime connections.
type ConnectionStats interface {
	Stats() realtime.Stats
}

type WebhookHandler struct {
	service     Ingester
	verifier    *webhook.Verifier
	verifyToken string
	archive     storage.PayloadArchive
	conns       ConnectionStats
	logger      *zap.Logger
	now         func() time.Time
}

func NewWebhookHandler(
	service Ingester,
	verifier *webhook.Verifier,
	verifyToken string,
	archive storage.PayloadArchive,
	conns ConnectionStats,
	logger *zap.Logger,
) *WebhookHandler {
	if archive == nil {
		archive = storage.NoopArchive{}
	}
	return &WebhookHandler{
		service:     service,
		verifier:    verifier,
		verifyToken: verifyToken,
		archive:     archive,
		conns:       conns,
		logger:      logger,
		now:         time.Now,
	}
}

// Verify answers the platform's subscription handshake.
func (h *WebhookHandler) Verify(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	mode := q.Get("hub.mode")
	token := q.Get("hub.verify_token")
	challenge := q.Get("hub.challenge")

	if mode != "subscribe" || h.verifyToken == "" ||
		subtle.ConstantTimeCompare([]byte(token), []byte(h.verifyToken)) != 1 {
		h.logger.Warn("webhook verification rejected", zap.String("mode", mode))
		response.Forbidden(w, "verification failed")
		return
	}

	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	io.WriteString(w, challenge)
}

// Receive authenticates a delivery, then normalizes, stores and broadcasts
// every event it carries.
func (h *WebhookHandler) Receive(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			response.PayloadTooLarge(w, "webhook body too large")
			return
		}
		response.BadRequest(w, "failed to read body")
		return
	}

	if err := h.verifier.Verify(body, r.Header.Get(webhook.SignatureHeader)); err != nil {
		if errors.Is(err, webhook.ErrMissingSecret) {
			h.logger.Error("webhook secret not configured; rejecting delivery")
		} else {
			h.logger.Warn("webhook signature rejected", zap.Error(err), zap.String("ip", r.RemoteAddr))
		}
		response.Unauthorized(w, "invalid signature")
		return
	}

	h.archivePayload(r.Context(), middleware.RequestID(r), body)

	hint := domain.ParseRawEventKind(r.URL.Query().Get("type"))
	events := webhook.ParseEnvelope(body, hint)

	var stored, duplicates, delivered int
	for _, ev := range events {
		res := h.service.Ingest(r.Context(), ev)
		switch {
		case res.Duplicate:
			duplicates++
		case res.Persisted:
			stored++
		}
		delivered += res.Delivered
	}

	h.logger.Info("webhook processed",
		zap.Int("events", len(events)),
		zap.Int("stored", stored),
		zap.Int("duplicates", duplicates),
		zap.Int("delivered", delivered),
	)
	response.OK(w, nil)
}

func (h *WebhookHandler) archivePayload(ctx context.Context, id string, body []byte) {
	key := storage.ArchiveKey(h.now(), id)
	location, err := h.archive.Store(ctx, key, body)
	if err != nil {
		h.logger.Warn("failed to archive webhook payload", zap.String("key", key), zap.Error(err))
		return
	}
	if location != "" {
		h.logger.Debug("webhook payload archived", zap.String("location", location))
	}
}

// StatsResponse is returned by GET /webhooks/stats.
type StatsResponse struct {
	*domain.NotificationStats
	Connections   int `json:"connections"`
	Authenticated int `json:"authenticated"`
}

func (h *WebhookHandler) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.service.Stats(r.Context())
	if err != nil {
		h.logger.Error("failed to load notification stats", zap.Error(err))
		response.InternalError(w, "failed to load stats")
		return
	}
	resp := StatsResponse{NotificationStats: stats}
	if h.conns != nil {
		live := h.conns.Stats()
		resp.Connections = live.Connections
		resp.Authenticated = live.Authenticated
	}
	response.OK(w, resp)
}

type SimulateRequest struct {
	EventType string `json:"eventType"`
	Text      string `json:"text"`
	SenderID  string `json:"senderId"`
	Username  string `json:"username"`
	AccountID string `json:"accountId"`
}

// Simulate synthesizes a notification and pushes it through the pipeline.
func (h *WebhookHandler) Simulate(w http.ResponseWriter, r *http.Request) {
	var req SimulateRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxWebhookBody)).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		response.BadRequest(w, "invalid request body")
		return
	}

	eventType := domain.EventMessage
	if req.EventType != "" {
		t, ok := domain.ParseEventType(req.EventType)
		if !ok {
			response.BadRequest(w, "unknown event type")
			return
		}
		eventType = t
	}

	n, err := h.service.Simulate(r.Context(), domain.SimulateParams{
		EventType: eventType,
		Text:      strings.TrimSpace(req.Text),
		SenderID:  strings.TrimSpace(req.SenderID),
		Username:  strings.TrimSpace(req.Username),
		AccountID: strings.TrimSpace(req.AccountID),
	})
	if err != nil {
		h.logger.Error("failed to simulate notification", zap.Error(err))
		response.InternalError(w, "failed to simulate notification")
		return
	}
	response.Created(w, n)
}

// Archived returns a stored raw payload by archive key.
func (h *WebhookHandler) Archived(w http.ResponseWriter, r *http.Request) {
	key := strings.TrimPrefix(r.URL.Query().Get("key"), "/")
	body, err := h.archive.Load(r.Context(), key)
	switch {
	case errors.Is(err, storage.ErrInvalidKey):
		response.BadRequest(w, "invalid archive key")
		return
	case errors.Is(err, storage.ErrArchiveNotFound), errors.Is(err, storage.ErrArchiveDisabled):
		response.NotFound(w, "payload not found")
		return
	case err != nil:
		h.logger.Error("failed to load archived payload", zap.String("key", key), zap.Error(err))
		response.InternalError(w, "failed to load payload")
		return
	}

	if json.Valid(body) {
		response.OK(w, json.RawMessage(body))
		return
	}
	response.OK(w, string(body))
}
