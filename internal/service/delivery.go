package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"handyhub_push/internal/model"
	"handyhub_push/internal/queue"
	"handyhub_push/internal/repository"
)

// Backend-side errors mapped to HTTP statuses by the handlers.
var (
	ErrInvalidRequest = errors.New("invalid request")
	ErrForbidden      = errors.New("forbidden")
)

// Notification list limits
const (
	DefaultListLimit = 20
	MaxListLimit     = 50
)

// EventPublisher puts platform events on the device bridge stream.
type EventPublisher interface {
	Publish(ctx context.Context, stream string, event model.PlatformEvent) (string, error)
}

// DeliveryService is the reference backend's business logic: token
// registry, notification inbox and push fan-out to the device bridge.
type DeliveryService struct {
	notifRepo repository.NotificationRepository
	tokenRepo repository.DeviceTokenRepository
	publisher EventPublisher // Can be nil if push not configured
	logger    *zap.Logger
}

func NewDeliveryService(
	notifRepo repository.NotificationRepository,
	tokenRepo repository.DeviceTokenRepository,
	publisher EventPublisher,
	logger *zap.Logger,
) *DeliveryService {
	return &DeliveryService{
		notifRepo: notifRepo,
		tokenRepo: tokenRepo,
		publisher: publisher,
		logger:    logger.Named("delivery_service"),
	}
}

// RegisterDeviceToken makes req the authoritative token for the owner on
// that platform. Callers may only register tokens for themselves.
func (s *DeliveryService) RegisterDeviceToken(ctx context.Context, callerID string, req model.RegisterTokenRequest) error {
	req.Token = strings.TrimSpace(req.Token)
	req.OwnerID = strings.TrimSpace(req.OwnerID)

	switch {
	case req.Token == "":
		return fmt.Errorf("%w: token is required", ErrInvalidRequest)
	case req.OwnerID == "":
		return fmt.Errorf("%w: ownerId is required", ErrInvalidRequest)
	case !model.ValidOwnerRole(req.OwnerRole):
		return fmt.Errorf("%w: ownerRole must be customer or provider", ErrInvalidRequest)
	case !model.ValidPlatform(req.Platform):
		return fmt.Errorf("%w: platform must be ios or android", ErrInvalidRequest)
	}
	if req.OwnerID != callerID {
		return fmt.Errorf("%w: cannot register a token for another owner", ErrForbidden)
	}

	err := s.tokenRepo.Upsert(ctx, model.DeviceToken{
		Value:     req.Token,
		Platform:  req.Platform,
		OwnerID:   req.OwnerID,
		OwnerRole: req.OwnerRole,
	})
	if err != nil {
		return err
	}
	s.logger.Info("Device token registered",
		zap.String("owner_id", req.OwnerID),
		zap.String("platform", string(req.Platform)),
	)
	return nil
}

// UnregisterDeviceToken removes one of the caller's device tokens, so the
// device stops receiving pushes. model.ErrRecordNotFound if the caller has
// no such token.
func (s *DeliveryService) UnregisterDeviceToken(ctx context.Context, callerID, token string) error {
	token = strings.TrimSpace(token)
	if token == "" {
		return fmt.Errorf("%w: token is required", ErrInvalidRequest)
	}

	tokens, err := s.tokenRepo.GetByOwner(ctx, callerID)
	if err != nil {
		return err
	}
	owned := false
	for _, t := range tokens {
		if t.Value == token {
			owned = true
			break
		}
	}
	if !owned {
		return fmt.Errorf("unregister device token: %w", model.ErrRecordNotFound)
	}

	if err := s.tokenRepo.Delete(ctx, token); err != nil {
		return err
	}
	s.logger.Info("Device token unregistered", zap.String("owner_id", callerID))
	return nil
}

// ListNotifications returns the owner's notifications, newest first.
// limit is clamped to [1, MaxListLimit]; zero means DefaultListLimit.
func (s *DeliveryService) ListNotifications(ctx context.Context, ownerID string, limit int) ([]model.NotificationRecord, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	if limit > MaxListLimit {
		limit = MaxListLimit
	}
	return s.notifRepo.List(ctx, ownerID, limit)
}

// MarkAsRead marks one notification read. Idempotent.
func (s *DeliveryService) MarkAsRead(ctx context.Context, ownerID string, id int64) error {
	if id <= 0 {
		return fmt.Errorf("%w: invalid notification id", ErrInvalidRequest)
	}
	return s.notifRepo.MarkAsRead(ctx, ownerID, id)
}

// MarkAllAsRead marks all of the owner's notifications read. Idempotent.
func (s *DeliveryService) MarkAllAsRead(ctx context.Context, ownerID string) error {
	return s.notifRepo.MarkAllAsRead(ctx, ownerID)
}

// CreateNotification stores a notification and pushes it to the owner's
// device. Push failures are logged and never fail the request.
func (s *DeliveryService) CreateNotification(ctx context.Context, callerID string, req model.CreateNotificationRequest) (*model.NotificationRecord, error) {
	ownerID := strings.TrimSpace(req.OwnerID)
	if ownerID == "" {
		ownerID = callerID
	}
	if req.Type == "" {
		return nil, fmt.Errorf("%w: type is required", ErrInvalidRequest)
	}
	if !model.ValidNotificationType(req.Type) {
		s.logger.Warn("Creating notification of unknown type", zap.String("type", string(req.Type)))
	}

	record := &model.NotificationRecord{
		OwnerID: ownerID,
		Type:    req.Type,
		Title:   req.Title,
		Body:    req.Body,
		Payload: req.Payload,
	}
	if record.Payload == nil {
		record.Payload = map[string]any{}
	}
	if err := s.notifRepo.Create(ctx, record); err != nil {
		return nil, err
	}

	s.logger.Info("Notification created",
		zap.Int64("notification_id", record.ID),
		zap.String("owner_id", ownerID),
		zap.String("type", string(record.Type)),
	)

	if s.publisher != nil {
		s.sendPush(ctx, *record)
	}
	return record, nil
}

// sendPush delivers the record to the device bridge if the owner has a
// registered device.
func (s *DeliveryService) sendPush(ctx context.Context, record model.NotificationRecord) {
	tokens, err := s.tokenRepo.GetByOwner(ctx, record.OwnerID)
	if err != nil {
		s.logger.Warn("Failed to get device tokens", zap.String("owner_id", record.OwnerID), zap.Error(err))
		return
	}
	if len(tokens) == 0 {
		s.logger.Debug("Owner has no registered devices", zap.String("owner_id", record.OwnerID))
		return
	}

	event := model.PlatformEvent{
		Kind:    model.PlatformEventReceived,
		OwnerID: record.OwnerID,
		Payload: record.PushPayload(),
		At:      time.Now().UTC(),
	}
	msgID, err := s.publisher.Publish(ctx, queue.OwnerStream(record.OwnerID), event)
	if err != nil {
		s.logger.Warn("Push delivery FAILED", zap.Int64("notification_id", record.ID), zap.Error(err))
		return
	}
	s.logger.Debug("Push delivered to bridge",
		zap.Int64("notification_id", record.ID),
		zap.Int("devices", len(tokens)),
		zap.String("msg_id", msgID),
	)
}
