package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"handyhub_push/internal/model"
)

// In-memory repositories back the reference backend when no database is
// configured, and the HTTP tests.

type memoryNotificationRepository struct {
	mu     sync.Mutex
	nextID int64
	byID   map[int64]*model.NotificationRecord
}

func NewMemoryNotificationRepository() NotificationRepository {
	return &memoryNotificationRepository{byID: make(map[int64]*model.NotificationRecord)}
}

func (r *memoryNotificationRepository) Create(ctx context.Context, record *model.NotificationRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.nextID++
	record.ID = r.nextID
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now().UTC()
	}
	cp := record.Clone()
	r.byID[cp.ID] = &cp
	return nil
}

func (r *memoryNotificationRepository) List(ctx context.Context, ownerID string, limit int) ([]model.NotificationRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]model.NotificationRecord, 0)
	for _, rec := range r.byID {
		if rec.OwnerID == ownerID {
			out = append(out, rec.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *memoryNotificationRepository) MarkAsRead(ctx context.Context, ownerID string, id int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.byID[id]
	if !ok || rec.OwnerID != ownerID {
		return model.ErrRecordNotFound
	}
	rec.Read = true
	return nil
}

func (r *memoryNotificationRepository) MarkAllAsRead(ctx context.Context, ownerID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, rec := range r.byID {
		if rec.OwnerID == ownerID {
			rec.Read = true
		}
	}
	return nil
}

type memoryDeviceTokenRepository struct {
	mu     sync.Mutex
	tokens map[string]model.DeviceToken // keyed by owner_id + "/" + platform
}

func NewMemoryDeviceTokenRepository() DeviceTokenRepository {
	return &memoryDeviceTokenRepository{tokens: make(map[string]model.DeviceToken)}
}

func (r *memoryDeviceTokenRepository) Upsert(ctx context.Context, token model.DeviceToken) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := token.OwnerID + "/" + string(token.Platform)
	for k, t := range r.tokens {
		if t.Value == token.Value && k != key {
			delete(r.tokens, k)
		}
	}
	token.SyncStatus = model.SyncStatusSynced
	token.UpdatedAt = time.Now().UTC()
	r.tokens[key] = token
	return nil
}

func (r *memoryDeviceTokenRepository) GetByOwner(ctx context.Context, ownerID string) ([]model.DeviceToken, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []model.DeviceToken
	for _, t := range r.tokens {
		if t.OwnerID == ownerID {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	return out, nil
}

func (r *memoryDeviceTokenRepository) Delete(ctx context.Context, token string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for k, t := range r.tokens {
		if t.Value == token {
			delete(r.tokens, k)
		}
	}
	return nil
}
