package api

import (
	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/instantchat/backend/internal/auth"
	"github.com/instantchat/backend/internal/middleware"
)

// RouterConfig holds the settings that shape the route table
type RouterConfig struct {
	AllowedOrigins []string
	WebSocketPath  string
	// DevTokens mounts POST /api/v1/auth/token
	DevTokens bool
}

// Router holds all handlers and creates the chi router
type Router struct {
	authHandler         *AuthHandler
	webhookHandler      *WebhookHandler
	notificationHandler *NotificationHandler
	websocketHandler    *WebSocketHandler
	healthHandler       *HealthHandler
	jwtManager          *auth.JWTManager
	config              RouterConfig
	logger              *zap.Logger
}

// NewRouter creates a new router
func NewRouter(
	authHandler *AuthHandler,
	webhookHandler *WebhookHandler,
	notificationHandler *NotificationHandler,
	websocketHandler *WebSocketHandler,
	healthHandler *HealthHandler,
	jwtManager *auth.JWTManager,
	config RouterConfig,
	logger *zap.Logger,
) *Router {
	if config.WebSocketPath == "" {
		config.WebSocketPath = "/socket"
	}
	return &Router{
		authHandler:         authHandler,
		webhookHandler:      webhookHandler,
		notificationHandler: notificationHandler,
		websocketHandler:    websocketHandler,
		healthHandler:       healthHandler,
		jwtManager:          jwtManager,
		config:              config,
		logger:              logger,
	}
}

// Setup configures and returns the chi router
func (rt *Router) Setup() *chi.Mux {
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RecoveryMiddleware(rt.logger))
	r.Use(middleware.LoggingMiddleware(rt.logger))
	r.Use(middleware.CORSMiddleware(rt.config.AllowedOrigins))

	// Health endpoints (no auth required)
	r.Route("/health", func(r chi.Router) {
		r.Get("/", rt.healthHandler.Health)
		r.Get("/ready", rt.healthHandler.Ready)
		r.Get("/live", rt.healthHandler.Live)
	})

	// Platform webhook ingress, authenticated by signature
	for _, path := range []string{"/webhook", "/webhooks"} {
		r.Get(path, rt.webhookHandler.Verify)
		r.Post(path, rt.webhookHandler.Receive)
	}

	// Realtime bus, authenticated in-band
	r.Get(rt.config.WebSocketPath, rt.websocketHandler.Serve)

	// API v1
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(chimiddleware.Compress(5))

		if rt.config.DevTokens {
			r.Post("/auth/token", rt.authHandler.IssueToken)
		}

		// Protected routes
		r.Group(func(r chi.Router) {
			r.Use(middleware.AuthMiddleware(rt.jwtManager))

			r.Get("/me", rt.authHandler.Me)

			r.Route("/notifications", func(r chi.Router) {
				r.Get("/", rt.notificationHandler.GetNotifications)
				r.Post("/read-all", rt.notificationHandler.MarkAllRead)
				r.Patch("/{id}/read", rt.notificationHandler.MarkRead)
			})

			r.Route("/webhooks", func(r chi.Router) {
				r.Get("/stats", rt.webhookHandler.Stats)
				r.Post("/simulate", rt.webhookHandler.Simulate)
				r.Get("/archive", rt.webhookHandler.Archived)
			})
		})
	})

	return r
}
