package repository

import (
	"context"

	"handyhub_push/internal/model"
)

// TokenStore persists the device's single current push token.
type TokenStore interface {
	// Load returns the stored token, or nil if none was saved yet
	Load(ctx context.Context) (*model.DeviceToken, error)
	// Save replaces the stored token
	Save(ctx context.Context, token *model.DeviceToken) error
	// Clear forgets the stored token (e.g., on logout)
	Clear(ctx context.Context) error
}

type NotificationRepository interface {
	// Create inserts a new notification and sets its ID and CreatedAt
	Create(ctx context.Context, record *model.NotificationRecord) error
	// List returns the owner's notifications, newest first
	List(ctx context.Context, ownerID string, limit int) ([]model.NotificationRecord, error)
	// MarkAsRead marks one notification as read; model.ErrRecordNotFound if the owner has no such id
	MarkAsRead(ctx context.Context, ownerID string, id int64) error
	// MarkAllAsRead marks all of the owner's notifications as read
	MarkAllAsRead(ctx context.Context, ownerID string) error
}

type DeviceTokenRepository interface {
	// Upsert stores the token as the authoritative one for (owner, platform)
	Upsert(ctx context.Context, token model.DeviceToken) error
	// GetByOwner returns all device tokens for an owner
	GetByOwner(ctx context.Context, ownerID string) ([]model.DeviceToken, error)
	// Delete removes a device token
	Delete(ctx context.Context, token string) error
}
