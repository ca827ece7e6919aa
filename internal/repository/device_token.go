package repository

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"handyhub_push/internal/model"
)

type deviceTokenRepository struct {
	db *sqlx.DB
}

func NewDeviceTokenRepository(db *sqlx.DB) DeviceTokenRepository {
	return &deviceTokenRepository{db: db}
}

// Upsert makes token the authoritative synced token for (owner_id, platform).
// A token value that moves to a different owner (device changed hands) is
// released from its previous owner first.
func (r *deviceTokenRepository) Upsert(ctx context.Context, token model.DeviceToken) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin upsert device token: %w", err)
	}
	defer tx.Rollback()

	release := `DELETE FROM device_tokens WHERE token = $1 AND (owner_id <> $2 OR platform <> $3)`
	if _, err := tx.ExecContext(ctx, release, token.Value, token.OwnerID, token.Platform); err != nil {
		return fmt.Errorf("release device token: %w", err)
	}

	query := `
		INSERT INTO device_tokens (owner_id, owner_role, platform, token, sync_status, updated_at)
		VALUES ($1, $2, $3, $4, 'synced', NOW())
		ON CONFLICT (owner_id, platform) DO UPDATE SET
			owner_role = EXCLUDED.owner_role,
			token = EXCLUDED.token,
			sync_status = 'synced',
			updated_at = NOW()
	`
	if _, err := tx.ExecContext(ctx, query, token.OwnerID, token.OwnerRole, token.Platform, token.Value); err != nil {
		return fmt.Errorf("upsert device token: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit device token: %w", err)
	}
	return nil
}

// GetByOwner returns all device tokens for an owner.
func (r *deviceTokenRepository) GetByOwner(ctx context.Context, ownerID string) ([]model.DeviceToken, error) {
	query := `
		SELECT owner_id, owner_role, platform, token, sync_status, updated_at
		FROM device_tokens
		WHERE owner_id = $1
		ORDER BY updated_at DESC
	`
	var tokens []model.DeviceToken
	if err := r.db.SelectContext(ctx, &tokens, query, ownerID); err != nil {
		return nil, fmt.Errorf("get device tokens: %w", err)
	}
	return tokens, nil
}

// Delete removes a device token.
func (r *deviceTokenRepository) Delete(ctx context.Context, token string) error {
	query := `DELETE FROM device_tokens WHERE token = $1`
	if _, err := r.db.ExecContext(ctx, query, token); err != nil {
		return fmt.Errorf("delete device token: %w", err)
	}
	return nil
}
