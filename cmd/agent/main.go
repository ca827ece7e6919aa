package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"handyhub_push/internal/backend"
	"handyhub_push/internal/cache"
	"handyhub_push/internal/config"
	"handyhub_push/internal/logger"
	"handyhub_push/internal/model"
	"handyhub_push/internal/platform"
	"handyhub_push/internal/queue"
	"handyhub_push/internal/redis"
	"handyhub_push/internal/repository"
	"handyhub_push/internal/service"
	"handyhub_push/internal/worker"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	lg, err := logger.New(logger.Config{Level: cfg.Log.Level, Encoding: cfg.Log.Encoding})
	if err != nil {
		log.Fatalf("Failed to build logger: %v", err)
	}
	defer lg.Sync()
	lg = lg.Named("agent")

	if err := run(cfg, lg); err != nil {
		lg.Fatal("Agent failed", zap.Error(err))
	}
}

func run(cfg *config.Config, lg *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	ownerID := cfg.Owner.OwnerID
	role := model.OwnerRole(cfg.Owner.OwnerRole)
	devicePlatform := model.Platform(cfg.Owner.Platform)
	if ownerID == "" {
		return fmt.Errorf("OWNER_ID is required")
	}
	if !model.ValidPlatform(devicePlatform) {
		return fmt.Errorf("invalid DEVICE_PLATFORM %q", cfg.Owner.Platform)
	}

	// 1. Backend client
	accessToken := cfg.API.AccessToken
	if accessToken == "" && cfg.Server.JWTSecret != "" {
		minted, err := service.NewTokenIssuer(cfg.Server.JWTSecret, 0).Issue(ownerID)
		if err != nil {
			return err
		}
		accessToken = minted
		lg.Info("Minted development access token", zap.String("owner_id", ownerID))
	}
	api := backend.NewClient(&http.Client{Timeout: cfg.API.Timeout}, cfg.API.BaseURL, accessToken, lg)

	// 2. Redis (optional): token persistence, event bridge, diagnostics
	rdb := connectRedis(ctx, cfg, lg)
	if rdb != nil {
		defer rdb.Close()
	}

	var store repository.TokenStore
	if rdb != nil {
		store = repository.NewRedisTokenStore(rdb.Client, ownerID+":"+string(devicePlatform))
	} else {
		store = repository.NewMemoryTokenStore()
	}

	// 3. Core: cache, reconciler, registration, inbox
	retry := func(attempts int) service.RetryPolicy {
		return service.RetryPolicy{
			MaxAttempts:     attempts,
			InitialInterval: cfg.Retry.InitialInterval,
			MaxInterval:     cfg.Retry.MaxInterval,
		}
	}

	notifCache := cache.NewNotificationCache(lg)
	reconciler := service.NewReadStateReconciler(api, notifCache, retry(cfg.Retry.ReconcileMaxAttempts), lg)
	notifCache.SetIntentSink(reconciler)

	host := platform.NewStaticHost(devicePlatform, cfg.Owner.PushToken, true)
	registration := service.NewRegistrationService(host, store, api, retry(cfg.Retry.RegistrationMaxAttempts), lg)
	if rdb != nil {
		registration.SetDiagnosticsSink(queue.NewPublisher(rdb.Client, lg))
	}

	navigator := service.NavigatorFunc(func(ctx context.Context, target model.NavigationTarget) {
		lg.Info("Navigate", zap.String("screen", target.Screen), zap.Any("params", target.Params))
	})
	notifications := service.NewNotificationService(notifCache, reconciler, api, navigator, cfg.API.SyncLimit, lg)

	go func() {
		for f := range reconciler.Failures() {
			lg.Warn("Read state not saved, retry available",
				zap.String("intent_key", f.Intent.Key()),
				zap.Int64s("reverted", f.Reverted),
				zap.Error(f.Err),
			)
		}
	}()

	// 4. Register and sync. Neither failure stops the agent.
	if token, err := registration.Register(ctx, ownerID, role); err != nil {
		lg.Warn("Registration incomplete", zap.Error(err))
	} else {
		lg.Info("Registered", zap.String("sync_status", string(token.SyncStatus)))
	}
	if _, err := notifications.Sync(ctx); err != nil {
		lg.Warn("Initial sync failed", zap.Error(err))
	}
	for _, g := range notifications.GroupByDay(time.Local) {
		lg.Info("Inbox day", zap.String("day", g.Day.Format(time.DateOnly)), zap.Int("records", len(g.Records)))
	}
	lg.Info("Inbox ready", zap.Int("unread", notifications.UnreadCount()))

	// 5. Delivery listener on the Redis event bridge
	var listener *worker.DeliveryListener
	if rdb != nil {
		streamCfg := worker.DefaultStreamSourceConfig()
		streamCfg.Stream = queue.OwnerStream(ownerID)
		source := worker.NewStreamSource(queue.NewConsumer(rdb.Client, lg), streamCfg, lg)
		h := worker.NewHandler(notifications, lg)
		h.SetTokenRefresher(registration)
		h.SetOwner(ownerID)
		listener = worker.NewDeliveryListener(source, h, lg)
		if err := listener.Start(ctx); err != nil {
			return err
		}
	} else {
		lg.Warn("No REDIS_URL, platform events will not be received")
	}

	<-ctx.Done()
	lg.Info("Shutting down")

	if listener != nil {
		if err := listener.Stop(); err != nil {
			lg.Warn("Listener stop", zap.Error(err))
		}
	}

	if cfg.Owner.UnregisterOnExit {
		unregCtx, cancel := context.WithTimeout(context.Background(), cfg.API.Timeout)
		if err := registration.Unregister(unregCtx); err != nil {
			lg.Warn("Unregister at exit failed", zap.Error(err))
		}
		cancel()
	}

	// In-flight reconciliation runs to completion; wait a bounded time for it.
	done := make(chan struct{})
	go func() {
		reconciler.Wait()
		registration.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(30 * time.Second):
		lg.Warn("Pending reconciliation still running at exit")
	}
	return nil
}

func connectRedis(ctx context.Context, cfg *config.Config, lg *zap.Logger) *redis.Client {
	if cfg.Redis.URL == "" {
		return nil
	}
	rdb, err := redis.Connect(ctx, cfg.Redis.URL)
	if err != nil {
		lg.Warn("Redis unavailable, running without event bridge", zap.Error(err))
		return nil
	}
	return rdb
}
