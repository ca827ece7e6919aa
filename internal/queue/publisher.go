package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"handyhub_push/internal/model"
)

// diagnosticsMaxLen caps the diagnostics stream (approximate trim).
const diagnosticsMaxLen = 10000

// Publisher defines the interface for publishing platform events to a stream.
type Publisher interface {
	// Publish adds an event to the specified stream.
	// Returns the message ID assigned by Redis.
	Publish(ctx context.Context, stream string, event model.PlatformEvent) (messageID string, err error)
}

// RedisPublisher implements Publisher using Redis Streams. It also serves as
// the registration diagnostics sink.
type RedisPublisher struct {
	client *redis.Client
	logger *zap.Logger
}

// NewPublisher creates a new Publisher backed by Redis Streams.
func NewPublisher(client *redis.Client, logger *zap.Logger) *RedisPublisher {
	return &RedisPublisher{client: client, logger: logger.Named("publisher")}
}

// Publish adds an event to the stream using XADD.
// Uses "*" for auto-generated message ID (timestamp-sequence).
func (p *RedisPublisher) Publish(ctx context.Context, stream string, event model.PlatformEvent) (string, error) {
	if event.At.IsZero() {
		event.At = time.Now().UTC()
	}
	values, err := PlatformEventToMap(event)
	if err != nil {
		p.logger.Error("Publish FAILED", zap.String("stream", stream), zap.String("kind", string(event.Kind)), zap.Error(err))
		return "", fmt.Errorf("serialize event: %w", err)
	}
	return p.xadd(ctx, &redis.XAddArgs{Stream: stream, Values: values}, string(event.Kind))
}

// PublishTokenRegistered appends a diagnostics event to StreamDiagnostics.
func (p *RedisPublisher) PublishTokenRegistered(ctx context.Context, event model.TokenRegistered) error {
	values, err := TokenRegisteredToMap(event)
	if err != nil {
		return fmt.Errorf("serialize diagnostics event: %w", err)
	}
	_, err = p.xadd(ctx, &redis.XAddArgs{
		Stream: StreamDiagnostics,
		MaxLen: diagnosticsMaxLen,
		Approx: true,
		Values: values,
	}, KindTokenRegistered)
	return err
}

func (p *RedisPublisher) xadd(ctx context.Context, args *redis.XAddArgs, kind string) (string, error) {
	startTime := time.Now()

	messageID, err := p.client.XAdd(ctx, args).Result()
	if err != nil {
		p.logger.Error("Publish FAILED", zap.String("stream", args.Stream), zap.String("kind", kind), zap.Error(err))
		return "", fmt.Errorf("xadd to stream: %w", err)
	}

	p.logger.Debug("Publish OK",
		zap.String("stream", args.Stream),
		zap.String("kind", kind),
		zap.String("msg_id", messageID),
		zap.Duration("duration", time.Since(startTime)),
	)
	return messageID, nil
}
