package worker

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"

	"handyhub_push/internal/model"
	"handyhub_push/internal/platform"
)

// ErrListenerActive is returned by Start on a listener that is already running.
var ErrListenerActive = errors.New("delivery listener already started")

// DeliveryListener subscribes to platform notification events and feeds
// them to the Handler. It is a scoped resource: Start acquires the
// subscription, Stop releases it and waits for in-flight callbacks. Events
// arriving after Stop are dropped.
type DeliveryListener struct {
	source  platform.EventSource
	handler *Handler
	logger  *zap.Logger

	mu       sync.RWMutex
	sub      platform.Subscription
	active   bool
	inflight sync.WaitGroup
}

// NewDeliveryListener creates a stopped listener.
func NewDeliveryListener(source platform.EventSource, handler *Handler, logger *zap.Logger) *DeliveryListener {
	return &DeliveryListener{
		source:  source,
		handler: handler,
		logger:  logger.Named("delivery_listener"),
	}
}

// Start subscribes to the event source.
func (l *DeliveryListener) Start(ctx context.Context) error {
	l.mu.Lock()
	if l.active {
		l.mu.Unlock()
		return ErrListenerActive
	}
	// Set before Subscribe: a source may deliver synchronously.
	l.active = true
	l.mu.Unlock()

	sub, err := l.source.Subscribe(ctx, l.dispatch)

	l.mu.Lock()
	if err != nil {
		l.active = false
		l.mu.Unlock()
		return err
	}
	if !l.active {
		// Stopped while subscribing
		l.mu.Unlock()
		return sub.Close()
	}
	l.sub = sub
	l.mu.Unlock()

	l.logger.Info("Delivery listener started")
	return nil
}

// Stop closes the subscription and waits for callbacks in progress.
// Stopping a stopped listener is a no-op.
func (l *DeliveryListener) Stop() error {
	l.mu.Lock()
	if !l.active {
		l.mu.Unlock()
		return nil
	}
	l.active = false
	sub := l.sub
	l.sub = nil
	l.mu.Unlock()

	var err error
	if sub != nil {
		err = sub.Close()
	}
	l.inflight.Wait()
	l.logger.Info("Delivery listener stopped")
	return err
}

// Active reports whether the listener is subscribed.
func (l *DeliveryListener) Active() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.active
}

func (l *DeliveryListener) dispatch(ctx context.Context, event model.PlatformEvent) {
	l.mu.RLock()
	if !l.active {
		l.mu.RUnlock()
		l.logger.Debug("Dropping event after teardown", zap.String("kind", string(event.Kind)))
		return
	}
	l.inflight.Add(1)
	l.mu.RUnlock()
	defer l.inflight.Done()

	// Errors are already logged by the handler; a bad event never stops delivery.
	_ = l.handler.HandleEvent(ctx, event)
}
