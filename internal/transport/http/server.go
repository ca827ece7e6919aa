package http

import (
	"context"
	"errors"
	"fmt"
	stdhttp "net/http"
	"time"

	"go.uber.org/zap"

	"handyhub_push/internal/config"
	"handyhub_push/internal/database"
	"handyhub_push/internal/handler"
	"handyhub_push/internal/queue"
	"handyhub_push/internal/redis"
	"handyhub_push/internal/repository"
	"handyhub_push/internal/service"
	authmw "handyhub_push/internal/transport/http/middleware"
)

// Run starts the reference backend and blocks until ctx is cancelled.
func Run(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	if cfg.Server.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required")
	}

	// 1. Repositories: Postgres when configured, in-memory otherwise
	var (
		notifRepo repository.NotificationRepository
		tokenRepo repository.DeviceTokenRepository
	)
	if cfg.Database.Enabled() {
		db, err := database.Connect(cfg.Database, logger)
		if err != nil {
			return err
		}
		defer db.Close()
		if err := database.EnsureSchema(ctx, db); err != nil {
			return err
		}
		notifRepo = repository.NewNotificationRepository(db)
		tokenRepo = repository.NewDeviceTokenRepository(db)
	} else {
		logger.Warn("No database configured, using in-memory repositories")
		notifRepo = repository.NewMemoryNotificationRepository()
		tokenRepo = repository.NewMemoryDeviceTokenRepository()
	}

	// 2. Push bridge publisher (optional)
	var publisher service.EventPublisher
	if cfg.Redis.URL != "" {
		rdb, err := redis.Connect(ctx, cfg.Redis.URL)
		if err != nil {
			return err
		}
		defer rdb.Close()
		publisher = queue.NewPublisher(rdb.Client, logger)
	} else {
		logger.Warn("No REDIS_URL, created notifications will not be pushed")
	}

	// 3. Handlers and router
	delivery := service.NewDeliveryService(notifRepo, tokenRepo, publisher, logger)
	router := NewRouter(RouterConfig{
		NotificationHandler: handler.NewNotificationHandler(delivery, logger),
		JWTSecret:           cfg.Server.JWTSecret,
		RateLimiter:         authmw.NewRateLimiter(cfg.Server.RateLimitRPS, cfg.Server.RateBurst),
		Logger:              logger,
	})

	srv := &stdhttp.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Starting server", zap.String("addr", srv.Addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, stdhttp.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	logger.Info("Shutting down server")
	return srv.Shutdown(shutdownCtx)
}
