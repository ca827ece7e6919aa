package repository

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"handyhub_push/internal/model"
)

// TokenStorePrefix is the Redis key prefix for device token hashes.
const TokenStorePrefix = "push:device-token:"

type memoryTokenStore struct {
	mu    sync.RWMutex
	token *model.DeviceToken
}

// NewMemoryTokenStore returns a TokenStore that lives for the process.
func NewMemoryTokenStore() TokenStore {
	return &memoryTokenStore{}
}

func (s *memoryTokenStore) Load(ctx context.Context) (*model.DeviceToken, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.token == nil {
		return nil, nil
	}
	cp := *s.token
	return &cp, nil
}

func (s *memoryTokenStore) Save(ctx context.Context, token *model.DeviceToken) error {
	if token == nil {
		return fmt.Errorf("save device token: nil token")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *token
	s.token = &cp
	return nil
}

func (s *memoryTokenStore) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = nil
	return nil
}

// redisTokenStore keeps the device token in a Redis hash keyed by device id.
type redisTokenStore struct {
	client *redis.Client
	key    string
}

// NewRedisTokenStore returns a TokenStore backed by a Redis hash.
// deviceID scopes the key so several agents can share one Redis.
func NewRedisTokenStore(client *redis.Client, deviceID string) TokenStore {
	return &redisTokenStore{client: client, key: TokenStorePrefix + deviceID}
}

func (s *redisTokenStore) Load(ctx context.Context) (*model.DeviceToken, error) {
	values, err := s.client.HGetAll(ctx, s.key).Result()
	if err != nil {
		return nil, fmt.Errorf("load device token: %w", err)
	}
	if len(values) == 0 {
		return nil, nil
	}

	token := &model.DeviceToken{
		Value:      values["token"],
		Platform:   model.Platform(values["platform"]),
		OwnerID:    values["owner_id"],
		OwnerRole:  model.OwnerRole(values["owner_role"]),
		SyncStatus: model.SyncStatus(values["sync_status"]),
	}
	if raw := values["updated_at"]; raw != "" {
		if ts, err := time.Parse(time.RFC3339Nano, raw); err == nil {
			token.UpdatedAt = ts
		}
	}
	return token, nil
}

// Save replaces the stored token atomically (DEL + HSET in one transaction).
func (s *redisTokenStore) Save(ctx context.Context, token *model.DeviceToken) error {
	if token == nil {
		return fmt.Errorf("save device token: nil token")
	}

	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, s.key)
		pipe.HSet(ctx, s.key, map[string]interface{}{
			"token":       token.Value,
			"platform":    string(token.Platform),
			"owner_id":    token.OwnerID,
			"owner_role":  string(token.OwnerRole),
			"sync_status": string(token.SyncStatus),
			"updated_at":  token.UpdatedAt.UTC().Format(time.RFC3339Nano),
		})
		return nil
	})
	if err != nil {
		return fmt.Errorf("save device token: %w", err)
	}
	return nil
}

func (s *redisTokenStore) Clear(ctx context.Context) error {
	if err := s.client.Del(ctx, s.key).Err(); err != nil {
		return fmt.Errorf("clear device token: %w", err)
	}
	return nil
}
