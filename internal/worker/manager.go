package worker

import (
	"context"
	"errors"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"

	"handyhub_push/internal/platform"
	"handyhub_push/internal/queue"
)

const (
	// DefaultBatchSize is the number of messages to read per batch
	DefaultBatchSize = 10

	// DefaultBlockTimeout is how long to block waiting for new messages
	DefaultBlockTimeout = 5 * time.Second
)

// StreamSourceConfig holds configuration for a StreamSource.
type StreamSourceConfig struct {
	Stream       string
	Group        string
	ConsumerName string        // Defaults to "agent-<hostname>"
	BatchSize    int64         // Messages per read
	BlockTimeout time.Duration // Block time for XREADGROUP
}

// DefaultStreamSourceConfig returns sensible defaults.
func DefaultStreamSourceConfig() StreamSourceConfig {
	return StreamSourceConfig{
		Stream:       queue.StreamPushEvents,
		Group:        queue.ConsumerGroupPushAgents,
		BatchSize:    DefaultBatchSize,
		BlockTimeout: DefaultBlockTimeout,
	}
}

// StreamSource is a platform.EventSource fed by the host bridge through a
// Redis stream. Each subscription runs one consumer loop.
type StreamSource struct {
	consumer queue.Consumer
	cfg      StreamSourceConfig
	logger   *zap.Logger
}

// NewStreamSource creates a StreamSource.
func NewStreamSource(consumer queue.Consumer, cfg StreamSourceConfig, logger *zap.Logger) *StreamSource {
	def := DefaultStreamSourceConfig()
	if cfg.Stream == "" {
		cfg.Stream = def.Stream
	}
	if cfg.Group == "" {
		cfg.Group = def.Group
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = def.BatchSize
	}
	if cfg.BlockTimeout <= 0 {
		cfg.BlockTimeout = def.BlockTimeout
	}
	if cfg.ConsumerName == "" {
		host, err := os.Hostname()
		if err != nil || host == "" {
			host = "local"
		}
		cfg.ConsumerName = "agent-" + host
	}

	return &StreamSource{
		consumer: consumer,
		cfg:      cfg,
		logger:   logger.Named("stream_source"),
	}
}

type streamSubscription struct {
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

// Close stops the consumer loop and waits for it, including any callback
// in progress.
func (s *streamSubscription) Close() error {
	s.once.Do(s.cancel)
	<-s.done
	return nil
}

// Subscribe ensures the consumer group exists and starts the consumer loop.
func (s *StreamSource) Subscribe(ctx context.Context, handler platform.EventHandler) (platform.Subscription, error) {
	if err := s.consumer.EnsureGroup(ctx, s.cfg.Stream, s.cfg.Group); err != nil {
		return nil, err
	}

	loopCtx, cancel := context.WithCancel(ctx)
	sub := &streamSubscription{cancel: cancel, done: make(chan struct{})}

	s.logger.Info("Consumer loop starting",
		zap.String("stream", s.cfg.Stream),
		zap.String("group", s.cfg.Group),
		zap.String("consumer", s.cfg.ConsumerName),
	)
	go s.run(loopCtx, handler, sub.done)
	return sub, nil
}

// run is the consumer loop.
func (s *StreamSource) run(ctx context.Context, handler platform.EventHandler, done chan struct{}) {
	defer close(done)

	// First, replay messages from a previous run that were never acked
	s.processPending(ctx, handler)

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Consumer loop stopped", zap.String("consumer", s.cfg.ConsumerName))
			return
		default:
			s.processMessages(ctx, handler)
		}
	}
}

// processPending handles messages that were delivered but not acknowledged.
func (s *StreamSource) processPending(ctx context.Context, handler platform.EventHandler) {
	pr, ok := s.consumer.(queue.PendingReader)
	if !ok {
		return
	}

	backlog, err := s.consumer.Pending(ctx, s.cfg.Stream, s.cfg.Group)
	switch {
	case err != nil:
		s.logger.Warn("Error counting pending", zap.Error(err))
	case backlog == 0:
		return
	default:
		s.logger.Info("Group has unacknowledged messages", zap.Int64("pending", backlog))
	}

	for ctx.Err() == nil {
		messages, err := pr.ReadPending(ctx, s.cfg.Stream, s.cfg.Group, s.cfg.ConsumerName, s.cfg.BatchSize)
		if err != nil {
			s.logger.Warn("Error reading pending", zap.Error(err))
			return
		}
		if len(messages) == 0 {
			return
		}

		s.logger.Info("Replaying pending messages", zap.Int("count", len(messages)))
		s.handleMessages(ctx, handler, messages)
	}
}

// processMessages reads and handles a batch of messages.
func (s *StreamSource) processMessages(ctx context.Context, handler platform.EventHandler) {
	messages, err := s.consumer.Read(ctx, s.cfg.Stream, s.cfg.Group, s.cfg.ConsumerName, s.cfg.BatchSize, s.cfg.BlockTimeout)
	if err != nil {
		if ctx.Err() != nil || errors.Is(err, context.Canceled) {
			return
		}
		s.logger.Warn("Error reading stream", zap.Error(err))
		// Back off on error
		select {
		case <-ctx.Done():
		case <-time.After(time.Second):
		}
		return
	}

	if len(messages) == 0 {
		return // Timeout, no messages
	}
	s.handleMessages(ctx, handler, messages)
}

// handleMessages delivers a batch and acknowledges each message.
func (s *StreamSource) handleMessages(ctx context.Context, handler platform.EventHandler, messages []queue.Message) {
	for _, msg := range messages {
		if ctx.Err() != nil {
			// Left pending; replayed on the next subscription
			return
		}

		handler(ctx, msg.Event)

		// Still ACK handler failures: at-least-once delivery is tolerated,
		// endless redelivery of a poisoned event is not.
		if err := s.consumer.Ack(context.WithoutCancel(ctx), s.cfg.Stream, s.cfg.Group, msg.ID); err != nil {
			s.logger.Warn("ACK error", zap.String("msg_id", msg.ID), zap.Error(err))
		}
	}
}
