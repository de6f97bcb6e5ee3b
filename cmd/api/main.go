package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/instantchat/backend/internal/api"
	"github.com/instantchat/backend/internal/auth"
	"github.com/instantchat/backend/internal/config"
	"github.com/instantchat/backend/internal/domain"
	"github.com/instantchat/backend/internal/fcm"
	"github.com/instantchat/backend/internal/realtime"
	"github.com/instantchat/backend/internal/repository"
	"github.com/instantchat/backend/internal/storage"
	"github.com/instantchat/backend/internal/webhook"
)

func main() {
	// Initialize logger
	logger, err := initLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("Failed to load config", zap.Error(err))
	}

	logger.Info("Starting InstantChat API",
		zap.String("env", cfg.Server.Env),
		zap.String("port", cfg.Server.Port),
		zap.String("store", cfg.Store.Driver),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Initialize storage
	store, closeStore, err := initStore(ctx, cfg.Store, logger)
	if err != nil {
		logger.Fatal("Failed to initialize notification store", zap.Error(err))
	}
	defer closeStore()
	repo := repository.NewBreakerRepository(store, repository.DefaultBreakerSettings(), logger)

	archive, err := initArchive(ctx, cfg.Archive)
	if err != nil {
		logger.Fatal("Failed to initialize payload archive", zap.Error(err))
	}

	if cfg.Webhook.AppSecret == "" {
		logger.Warn("INSTAGRAM_APP_SECRET is not set - every webhook delivery will be rejected")
	}

	// Initialize dependencies
	jwtManager := auth.NewJWTManager(cfg.JWT.Secret, cfg.JWT.AccessExpiry)
	hub := realtime.NewHub(jwtManager, logger,
		realtime.WithHeartbeatInterval(cfg.Realtime.HeartbeatInterval),
		realtime.WithMaxMissedHeartbeats(cfg.Realtime.MaxMissedHeartbeats),
		realtime.WithSendBuffer(cfg.Realtime.SendBuffer),
	)

	serviceOpts := []domain.ServiceOption{
		domain.WithDeduper(webhook.NewDeduper(cfg.Webhook.DedupSize)),
	}
	if cfg.Push.CredentialsFile != "" {
		fcmClient, err := fcm.NewClient(ctx, logger, cfg.Push.CredentialsFile)
		if err != nil {
			logger.Warn("Failed to initialize Firebase client - push notifications will be disabled", zap.Error(err))
		} else {
			logger.Info("Firebase client initialized")
			serviceOpts = append(serviceOpts, domain.WithPushSender(fcmClient))
		}
	}
	notificationService := domain.NewNotificationService(repo, hub, logger, serviceOpts...)

	// Initialize handlers
	authHandler := api.NewAuthHandler(jwtManager, logger)
	webhookHandler := api.NewWebhookHandler(
		notificationService,
		webhook.NewVerifier(cfg.Webhook.AppSecret),
		cfg.Webhook.VerifyToken,
		archive,
		hub,
		logger,
	)
	notificationHandler := api.NewNotificationHandler(notificationService, logger)
	websocketHandler := api.NewWebSocketHandler(hub, cfg.Server.AllowedOrigins, logger)
	healthHandler := api.NewHealthHandler(repo)

	// Initialize router
	router := api.NewRouter(authHandler, webhookHandler, notificationHandler, websocketHandler, healthHandler, jwtManager,
		api.RouterConfig{
			AllowedOrigins: cfg.Server.AllowedOrigins,
			WebSocketPath:  cfg.Realtime.Path,
			DevTokens:      !cfg.IsProduction(),
		},
		logger,
	)

	// Create server
	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router.Setup(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("Server listening", zap.String("addr", srv.Addr), zap.String("ws_path", cfg.Realtime.Path))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		return hub.Run(gctx)
	})

	g.Go(func() error {
		return repository.RunCleanupWorker(gctx, notificationService, cfg.Store.CleanupInterval, cfg.Store.Retention, logger)
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down server...")

		// Graceful shutdown with timeout
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Error("Server stopped with error", zap.Error(err))
		return
	}
	logger.Info("Server stopped")
}

func initLogger() (*zap.Logger, error) {
	env := os.Getenv("ENV")
	if env == "production" {
		return zap.NewProduction()
	}
	return zap.NewDevelopment()
}

func initStore(ctx context.Context, cfg config.StoreConfig, logger *zap.Logger) (domain.NotificationRepository, func(), error) {
	switch cfg.Driver {
	case "mongo":
		repo, err := repository.ConnectMongo(ctx, cfg.MongoURI, cfg.MongoDatabase, cfg.MongoTimeout)
		if err != nil {
			return nil, nil, err
		}
		if err := repo.EnsureIndexes(ctx); err != nil {
			logger.Warn("Failed to create MongoDB indexes", zap.Error(err))
		}
		logger.Info("Connected to MongoDB", zap.String("database", cfg.MongoDatabase))
		return repo, func() {
			closeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			_ = repo.Close(closeCtx)
		}, nil

	case "postgres":
		db, err := initDatabase(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		repo := repository.NewPostgresRepository(db)
		if err := repo.EnsureSchema(ctx); err != nil {
			db.Close()
			return nil, nil, err
		}
		logger.Info("Connected to database")
		return repo, db.Close, nil

	default:
		logger.Warn("Using in-memory notification store - data is lost on restart")
		return repository.NewMemoryRepository(), func() {}, nil
	}
}

func initArchive(ctx context.Context, cfg config.ArchiveConfig) (storage.PayloadArchive, error) {
	switch cfg.Type {
	case "local":
		return storage.NewLocalArchive(cfg.Dir)
	case "s3":
		return storage.NewS3Archive(ctx, cfg)
	default:
		return storage.NoopArchive{}, nil
	}
}

func initDatabase(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	config, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database URL: %w", err)
	}

	// Connection pool settings
	config.MaxConns = 25
	config.MinConns = 5
	config.MaxConnLifetime = 1 * time.Hour
	config.MaxConnIdleTime = 30 * time.Minute
	config.HealthCheckPeriod = 1 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	// Test connection
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return pool, nil
}
