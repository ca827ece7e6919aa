package worker

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"handyhub_push/internal/metrics"
	"handyhub_push/internal/model"
)

// NotificationHandler abstracts the inbox so the worker does not depend on
// the service package directly.
type NotificationHandler interface {
	Received(payload map[string]any, at time.Time) (bool, error)
	Tapped(ctx context.Context, payload map[string]any, at time.Time) (model.NavigationTarget, bool, error)
}

// TokenRefresher re-registers a token reissued by the platform.
type TokenRefresher interface {
	Refresh(ctx context.Context, newValue string) (*model.DeviceToken, error)
}

// Handler processes platform events.
type Handler struct {
	notifications NotificationHandler
	tokens        TokenRefresher // Can be nil if registration is not wired
	ownerID       string         // Empty accepts events for any owner
	logger        *zap.Logger
}

// NewHandler creates a new event handler.
func NewHandler(notifications NotificationHandler, logger *zap.Logger) *Handler {
	return &Handler{
		notifications: notifications,
		logger:        logger.Named("event_handler"),
	}
}

// SetTokenRefresher sets the token refresher (optional, for token_refreshed events).
func (h *Handler) SetTokenRefresher(t TokenRefresher) {
	h.tokens = t
}

// SetOwner makes the handler drop events addressed to another owner.
func (h *Handler) SetOwner(ownerID string) {
	h.ownerID = ownerID
}

// HandleEvent routes an event to the appropriate handler based on kind.
func (h *Handler) HandleEvent(ctx context.Context, event model.PlatformEvent) error {
	startTime := time.Now()
	if event.At.IsZero() {
		event.At = startTime
	}
	if h.ownerID != "" && event.OwnerID != "" && event.OwnerID != h.ownerID {
		metrics.PlatformEventsTotal.WithLabelValues("foreign").Inc()
		h.logger.Warn("Dropping event for another owner",
			zap.String("kind", string(event.Kind)),
			zap.String("event_owner", event.OwnerID),
		)
		return nil
	}
	metrics.PlatformEventsTotal.WithLabelValues(string(event.Kind)).Inc()

	var err error
	switch event.Kind {
	case model.PlatformEventReceived:
		err = h.handleReceived(event)
	case model.PlatformEventTapped:
		err = h.handleTapped(ctx, event)
	case model.PlatformEventTokenRefreshed:
		err = h.handleTokenRefreshed(ctx, event)
	default:
		return fmt.Errorf("unknown event kind: %s", event.Kind)
	}

	if err != nil {
		h.logger.Warn("HandleEvent FAILED",
			zap.String("kind", string(event.Kind)),
			zap.Duration("duration", time.Since(startTime)),
			zap.Error(err),
		)
		return err
	}

	h.logger.Debug("HandleEvent OK",
		zap.String("kind", string(event.Kind)),
		zap.Duration("duration", time.Since(startTime)),
	)
	return nil
}

// handleReceived ingests a delivered notification. Redelivery is a no-op.
func (h *Handler) handleReceived(event model.PlatformEvent) error {
	isNew, err := h.notifications.Received(event.Payload, event.At)
	if err != nil {
		return fmt.Errorf("ingest received notification: %w", err)
	}
	if !isNew {
		h.logger.Debug("Duplicate delivery ignored")
	}
	return nil
}

// handleTapped marks the notification read and navigates. A payload the
// router cannot resolve just doesn't navigate.
func (h *Handler) handleTapped(ctx context.Context, event model.PlatformEvent) error {
	target, ok, err := h.notifications.Tapped(ctx, event.Payload, event.At)
	if err != nil {
		return fmt.Errorf("handle tap: %w", err)
	}
	if ok {
		h.logger.Info("Tap routed", zap.String("screen", target.Screen), zap.Any("params", target.Params))
	}
	return nil
}

func (h *Handler) handleTokenRefreshed(ctx context.Context, event model.PlatformEvent) error {
	if h.tokens == nil {
		h.logger.Warn("Token refreshed but no refresher set, skipping")
		return nil
	}
	token, err := h.tokens.Refresh(ctx, event.Token)
	if err != nil && token == nil {
		return fmt.Errorf("refresh token: %w", err)
	}
	if err != nil {
		// Stored unsynced; registration retries in the background.
		h.logger.Warn("Refreshed token not yet synced", zap.Error(err))
	}
	return nil
}
