package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"handyhub_push/internal/cache"
	"handyhub_push/internal/metrics"
	"handyhub_push/internal/model"
)

// NotificationLister fetches the server's notification list.
type NotificationLister interface {
	ListNotifications(ctx context.Context, limit int) ([]model.NotificationRecord, error)
}

// Navigator dispatches a resolved destination to the UI layer.
type Navigator interface {
	Navigate(ctx context.Context, target model.NavigationTarget)
}

// NavigatorFunc adapts a function to Navigator.
type NavigatorFunc func(ctx context.Context, target model.NavigationTarget)

func (f NavigatorFunc) Navigate(ctx context.Context, target model.NavigationTarget) {
	f(ctx, target)
}

// NotificationService is the inbox: it feeds the cache from deliveries and
// full syncs, and turns taps into mark-read plus navigation.
type NotificationService struct {
	cache      *cache.NotificationCache
	reconciler *ReadStateReconciler
	api        NotificationLister
	navigator  Navigator // Can be nil, taps then only mark read
	syncLimit  int
	logger     *zap.Logger
}

func NewNotificationService(
	cache *cache.NotificationCache,
	reconciler *ReadStateReconciler,
	api NotificationLister,
	navigator Navigator,
	syncLimit int,
	logger *zap.Logger,
) *NotificationService {
	if syncLimit <= 0 {
		syncLimit = 20
	}
	if syncLimit > 50 {
		syncLimit = 50
	}
	return &NotificationService{
		cache:      cache,
		reconciler: reconciler,
		api:        api,
		navigator:  navigator,
		syncLimit:  syncLimit,
		logger:     logger.Named("notification_service"),
	}
}

// Sync fetches the latest notifications and ingests them. Server read flags
// are adopted only for records without a pending intent. Returns how many
// records were new.
func (s *NotificationService) Sync(ctx context.Context) (int, error) {
	records, err := s.api.ListNotifications(ctx, s.syncLimit)
	if err != nil {
		return 0, fmt.Errorf("sync notifications: %w", err)
	}

	added := 0
	for _, rec := range records {
		isNew, err := s.cache.Ingest(rec)
		if err != nil {
			s.logger.Warn("Skipping invalid server record", zap.Int64("notification_id", rec.ID), zap.Error(err))
			continue
		}
		if isNew {
			added++
		}
	}
	s.reconciler.ObserveServerState(records)

	s.logger.Info("Notification sync OK",
		zap.Int("fetched", len(records)),
		zap.Int("new", added),
		zap.Int("unread", s.cache.UnreadCount()),
	)
	return added, nil
}

// Received ingests a delivered push payload. Duplicate deliveries are no-ops.
func (s *NotificationService) Received(payload map[string]any, at time.Time) (bool, error) {
	rec, err := model.RecordFromPayload(payload)
	if err != nil {
		return false, err
	}
	return s.cache.IngestReceived(rec, at)
}

// Tapped handles a tap on a delivered notification. A record missing from
// the cache (cold start from a notification) is ingested from the payload
// first, so the mark-read intent always follows ingestion. A cached record
// is left as is: tap payloads are often trimmed.
func (s *NotificationService) Tapped(ctx context.Context, payload map[string]any, at time.Time) (model.NavigationTarget, bool, error) {
	rec, err := model.RecordFromPayload(payload)
	if err != nil {
		metrics.RoutesTotal.WithLabelValues("none").Inc()
		return model.NavigationTarget{}, false, err
	}
	if _, cached := s.cache.Get(rec.ID); !cached {
		if _, err := s.cache.IngestReceived(rec, at); err != nil {
			return model.NavigationTarget{}, false, err
		}
	}
	return s.Open(ctx, rec.ID)
}

// Open marks the record read and then dispatches navigation. MarkRead always
// happens first so an interrupted navigation never leaves the record unread.
func (s *NotificationService) Open(ctx context.Context, id int64) (model.NavigationTarget, bool, error) {
	rec, ok := s.cache.Get(id)
	if !ok {
		return model.NavigationTarget{}, false, fmt.Errorf("open notification %d: %w", id, model.ErrRecordNotFound)
	}
	if err := s.cache.MarkRead(id); err != nil {
		return model.NavigationTarget{}, false, err
	}

	target, ok := Route(rec)
	if !ok {
		metrics.RoutesTotal.WithLabelValues("none").Inc()
		s.logger.Info("Notification has no destination",
			zap.Int64("notification_id", id),
			zap.String("type", string(rec.Type)),
		)
		return model.NavigationTarget{}, false, nil
	}

	metrics.RoutesTotal.WithLabelValues(target.Screen).Inc()
	if s.navigator != nil {
		s.navigator.Navigate(ctx, target)
	}
	return target, true, nil
}

// MarkAllRead marks every cached record read with a single bulk intent.
func (s *NotificationService) MarkAllRead() int {
	return s.cache.MarkAllRead()
}

// Snapshot returns the cached records, newest first.
func (s *NotificationService) Snapshot() []model.NotificationRecord {
	return s.cache.Snapshot()
}

// UnreadCount returns the badge count.
func (s *NotificationService) UnreadCount() int {
	return s.cache.UnreadCount()
}

// GroupByDay returns the cached records grouped by calendar day in loc,
// newest day first.
func (s *NotificationService) GroupByDay(loc *time.Location) []model.DayGroup {
	return s.cache.GroupByDay(loc)
}
