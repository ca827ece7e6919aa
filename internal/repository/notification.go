package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/jmoiron/sqlx/types"

	"handyhub_push/internal/model"
)

type notificationRepository struct {
	db *sqlx.DB
}

func NewNotificationRepository(db *sqlx.DB) NotificationRepository {
	return &notificationRepository{db: db}
}

type notificationRow struct {
	ID        int64          `db:"id"`
	OwnerID   string         `db:"owner_id"`
	Type      string         `db:"type"`
	Title     string         `db:"title"`
	Body      string         `db:"body"`
	Payload   types.JSONText `db:"payload"`
	IsRead    bool           `db:"is_read"`
	CreatedAt time.Time      `db:"created_at"`
}

func (row notificationRow) toModel() (model.NotificationRecord, error) {
	rec := model.NotificationRecord{
		ID:        row.ID,
		OwnerID:   row.OwnerID,
		Type:      model.NotificationType(row.Type),
		Title:     row.Title,
		Body:      row.Body,
		Read:      row.IsRead,
		CreatedAt: row.CreatedAt,
		Payload:   map[string]any{},
	}
	if len(row.Payload) > 0 {
		if err := json.Unmarshal(row.Payload, &rec.Payload); err != nil {
			return rec, fmt.Errorf("decode payload of notification %d: %w", row.ID, err)
		}
	}
	return rec, nil
}

// Create inserts a new notification.
func (r *notificationRepository) Create(ctx context.Context, record *model.NotificationRecord) error {
	payload, err := json.Marshal(record.Payload)
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}

	query := `
		INSERT INTO notifications (owner_id, type, title, body, payload)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at
	`
	row := r.db.QueryRowxContext(ctx, query, record.OwnerID, record.Type, record.Title, record.Body, types.JSONText(payload))
	if err := row.Scan(&record.ID, &record.CreatedAt); err != nil {
		return fmt.Errorf("insert notification: %w", err)
	}
	return nil
}

// List returns the owner's notifications, newest first.
func (r *notificationRepository) List(ctx context.Context, ownerID string, limit int) ([]model.NotificationRecord, error) {
	query := `
		SELECT id, owner_id, type, title, body, payload, is_read, created_at
		FROM notifications
		WHERE owner_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2
	`
	var rows []notificationRow
	if err := r.db.SelectContext(ctx, &rows, query, ownerID, limit); err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}

	records := make([]model.NotificationRecord, 0, len(rows))
	for _, row := range rows {
		rec, err := row.toModel()
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, nil
}

// MarkAsRead marks one notification as read. Marking an already-read
// notification succeeds; an unknown id returns model.ErrRecordNotFound.
func (r *notificationRepository) MarkAsRead(ctx context.Context, ownerID string, id int64) error {
	query := `
		UPDATE notifications
		SET is_read = true
		WHERE owner_id = $1 AND id = $2
	`
	res, err := r.db.ExecContext(ctx, query, ownerID, id)
	if err != nil {
		return fmt.Errorf("mark notification as read: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("mark notification as read: %w", err)
	}
	if n == 0 {
		return model.ErrRecordNotFound
	}
	return nil
}

// MarkAllAsRead marks all notifications for an owner as read.
func (r *notificationRepository) MarkAllAsRead(ctx context.Context, ownerID string) error {
	query := `
		UPDATE notifications
		SET is_read = true
		WHERE owner_id = $1 AND is_read = false
	`
	if _, err := r.db.ExecContext(ctx, query, ownerID); err != nil {
		return fmt.Errorf("mark all notifications as read: %w", err)
	}
	return nil
}
